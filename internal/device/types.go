package device

// SuperuserType is the profile type of the control plane's own broker
// identity. It never appears in the capability catalog.
const SuperuserType = "master"

// Profile is the registry record of one device.
type Profile struct {
	// Username is the broker identity and the primary key.
	Username string `db:"username"`

	// DisplayName is the unique name operators use.
	DisplayName string `db:"displayname"`

	// Type names the device's entry in the capability catalog.
	Type string `db:"type"`

	Connected bool   `db:"connected"`
	Status    string `db:"status"`
}

// IsSuperuser reports whether the profile belongs to the control plane itself.
func (p Profile) IsSuperuser() bool {
	return p.Type == SuperuserType
}

// Credential is the salted hash a device authenticates to the broker with.
// The secret itself is never stored.
type Credential struct {
	Username string `db:"username"`
	Hash     string `db:"hash"`
	Salt     string `db:"salt"`
}
