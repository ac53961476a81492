package catalog

import (
	"sort"
)

// DeviceType is the capability contract for one kind of device.
type DeviceType interface {
	// Name is the key stored in the profile's type column.
	Name() string

	// IsValidCommand reports whether command may be sent to a device of
	// this type whose current status is status.
	IsValidCommand(command, status string) bool

	// IsValidStatus reports whether status is well-formed for this type.
	IsValidStatus(status string) bool

	// Transform returns the status a valid command leaves the device in.
	// ok is false when the command does not change the stored status; the
	// device may still report a new status on its own later.
	Transform(command, status string) (next string, ok bool)
}

// Catalog is an immutable set of device types keyed by name.
type Catalog struct {
	types map[string]DeviceType
}

// New builds a catalog from the given types. A later type with the same
// name replaces an earlier one.
func New(types ...DeviceType) *Catalog {
	c := &Catalog{types: make(map[string]DeviceType, len(types))}
	for _, t := range types {
		c.types[t.Name()] = t
	}
	return c
}

// Default returns the catalog of types the firmware in the field supports.
func Default() *Catalog {
	return New(Sonoff())
}

// Lookup returns the type registered under name.
func (c *Catalog) Lookup(name string) (DeviceType, bool) {
	t, ok := c.types[name]
	return t, ok
}

// Has reports whether name is a known device type.
func (c *Catalog) Has(name string) bool {
	_, ok := c.types[name]
	return ok
}

// IsValidCommand reports whether command is legal for a device of type
// typeName in status. Unknown types accept nothing.
func (c *Catalog) IsValidCommand(typeName, command, status string) bool {
	t, ok := c.types[typeName]
	if !ok {
		return false
	}
	return t.IsValidCommand(command, status)
}

// IsValidStatus reports whether status is well-formed for typeName.
// Unknown types accept nothing.
func (c *Catalog) IsValidStatus(typeName, status string) bool {
	t, ok := c.types[typeName]
	if !ok {
		return false
	}
	return t.IsValidStatus(status)
}

// Transform returns the status command leaves a typeName device in.
// Unknown types never change status.
func (c *Catalog) Transform(typeName, command, status string) (string, bool) {
	t, ok := c.types[typeName]
	if !ok {
		return "", false
	}
	return t.Transform(command, status)
}

// Types returns the registered type names in sorted order.
func (c *Catalog) Types() []string {
	names := make([]string, 0, len(c.types))
	for name := range c.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
