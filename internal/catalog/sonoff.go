package catalog

// Sonoff relay commands and statuses.
const (
	SonoffOn     = "on"
	SonoffOff    = "off"
	SonoffToggle = "toggle"
)

// Sonoff returns the "sonoff" relay type: on and off set the status,
// toggle flips it.
func Sonoff() DeviceType {
	return NewEnumerated("sonoff",
		[]string{SonoffOn, SonoffOff, SonoffToggle},
		[]string{SonoffOn, SonoffOff},
		sonoffTransform,
	)
}

func sonoffTransform(command, status string) (string, bool) {
	switch command {
	case SonoffOn, SonoffOff:
		return command, true
	case SonoffToggle:
		if status == SonoffOff {
			return SonoffOn, true
		}
		return SonoffOff, true
	}
	return "", false
}
