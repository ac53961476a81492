package catalog

// TransformFunc computes the status a command leaves a device in.
// It is only called with commands the type has already accepted.
type TransformFunc func(command, status string) (string, bool)

// Enumerated is a device type defined by fixed command and status sets.
type Enumerated struct {
	name      string
	commands  map[string]struct{}
	statuses  map[string]struct{}
	transform TransformFunc
}

// NewEnumerated creates a fixed-set device type. A nil transform means
// commands never change the stored status.
func NewEnumerated(name string, commands, statuses []string, transform TransformFunc) *Enumerated {
	return &Enumerated{
		name:      name,
		commands:  toSet(commands),
		statuses:  toSet(statuses),
		transform: transform,
	}
}

// Name returns the type name.
func (e *Enumerated) Name() string { return e.name }

// IsValidCommand accepts any command in the set, whatever the status.
func (e *Enumerated) IsValidCommand(command, _ string) bool {
	_, ok := e.commands[command]
	return ok
}

// IsValidStatus accepts any status in the set.
func (e *Enumerated) IsValidStatus(status string) bool {
	_, ok := e.statuses[status]
	return ok
}

// Transform applies the type's transform to a valid command.
func (e *Enumerated) Transform(command, status string) (string, bool) {
	if e.transform == nil || !e.IsValidCommand(command, status) {
		return "", false
	}
	return e.transform(command, status)
}

// TransformTable builds a TransformFunc from a fixed command to status map.
func TransformTable(table map[string]string) TransformFunc {
	return func(command, _ string) (string, bool) {
		next, ok := table[command]
		return next, ok
	}
}

// Predicate is a device type defined entirely by functions, for types whose
// commands carry arguments (e.g. "dimmer 126") or depend on the status.
type Predicate struct {
	TypeName string
	Command  func(command, status string) bool
	Status   func(status string) bool
	Next     TransformFunc
}

// Name returns the type name.
func (p *Predicate) Name() string { return p.TypeName }

// IsValidCommand delegates to the Command function; nil accepts nothing.
func (p *Predicate) IsValidCommand(command, status string) bool {
	return p.Command != nil && p.Command(command, status)
}

// IsValidStatus delegates to the Status function; nil accepts nothing.
func (p *Predicate) IsValidStatus(status string) bool {
	return p.Status != nil && p.Status(status)
}

// Transform delegates to the Next function; nil never changes status.
func (p *Predicate) Transform(command, status string) (string, bool) {
	if p.Next == nil || !p.IsValidCommand(command, status) {
		return "", false
	}
	return p.Next(command, status)
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}
