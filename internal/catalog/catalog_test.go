package catalog

import (
	"reflect"
	"strconv"
	"strings"
	"testing"
)

func TestSonoff_IsValidCommand(t *testing.T) {
	c := Default()

	tests := []struct {
		command string
		status  string
		want    bool
	}{
		{"on", "off", true},
		{"off", "on", true},
		{"toggle", "on", true},
		{"toggle", "off", true},
		{"on", "on", true},
		{"dim", "on", false},
		{"", "on", false},
		{"ON", "off", false},
	}

	for _, tt := range tests {
		t.Run(tt.command+"/"+tt.status, func(t *testing.T) {
			if got := c.IsValidCommand("sonoff", tt.command, tt.status); got != tt.want {
				t.Errorf("IsValidCommand(sonoff, %q, %q) = %v, want %v", tt.command, tt.status, got, tt.want)
			}
		})
	}
}

func TestSonoff_IsValidStatus(t *testing.T) {
	c := Default()

	for status, want := range map[string]bool{"on": true, "off": true, "toggle": false, "": false} {
		if got := c.IsValidStatus("sonoff", status); got != want {
			t.Errorf("IsValidStatus(sonoff, %q) = %v, want %v", status, got, want)
		}
	}
}

func TestSonoff_Transform(t *testing.T) {
	c := Default()

	tests := []struct {
		command string
		status  string
		want    string
		wantOK  bool
	}{
		{"on", "off", "on", true},
		{"off", "on", "off", true},
		{"on", "on", "on", true},
		{"toggle", "off", "on", true},
		{"toggle", "on", "off", true},
		{"dim", "on", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.command+"/"+tt.status, func(t *testing.T) {
			got, ok := c.Transform("sonoff", tt.command, tt.status)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Transform(sonoff, %q, %q) = (%q, %v), want (%q, %v)",
					tt.command, tt.status, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestTransform_IsPure(t *testing.T) {
	c := Default()

	for i := 0; i < 5; i++ {
		first, firstOK := c.Transform("sonoff", "toggle", "off")
		second, secondOK := c.Transform("sonoff", "toggle", "off")
		if first != second || firstOK != secondOK {
			t.Fatalf("Transform() not deterministic: (%q,%v) vs (%q,%v)", first, firstOK, second, secondOK)
		}
	}
}

func TestUnknownType(t *testing.T) {
	c := Default()

	for _, typeName := range []string{"master", "dimmer", ""} {
		t.Run(typeName, func(t *testing.T) {
			if c.IsValidCommand(typeName, "on", "off") {
				t.Error("IsValidCommand() = true for unknown type")
			}
			if c.IsValidStatus(typeName, "on") {
				t.Error("IsValidStatus() = true for unknown type")
			}
			if next, ok := c.Transform(typeName, "on", "off"); ok {
				t.Errorf("Transform() = (%q, true) for unknown type", next)
			}
			if c.Has(typeName) {
				t.Error("Has() = true for unknown type")
			}
		})
	}
}

func TestPredicateType(t *testing.T) {
	// A dimmer accepts "dimmer <0-255>" and stores the level as its status.
	level := func(s string) (int, bool) {
		n, err := strconv.Atoi(s)
		return n, err == nil && n >= 0 && n <= 255
	}
	dimmer := &Predicate{
		TypeName: "dimmer",
		Command: func(command, _ string) bool {
			arg, found := strings.CutPrefix(command, "dimmer ")
			if !found {
				return false
			}
			_, ok := level(arg)
			return ok
		},
		Status: func(status string) bool {
			_, ok := level(status)
			return ok
		},
		Next: func(command, _ string) (string, bool) {
			return strings.TrimPrefix(command, "dimmer "), true
		},
	}
	c := New(Sonoff(), dimmer)

	if !c.IsValidCommand("dimmer", "dimmer 126", "0") {
		t.Error("IsValidCommand(dimmer 126) = false, want true")
	}
	if c.IsValidCommand("dimmer", "dimmer 300", "0") {
		t.Error("IsValidCommand(dimmer 300) = true, want false")
	}
	if got, ok := c.Transform("dimmer", "dimmer 126", "0"); !ok || got != "126" {
		t.Errorf("Transform(dimmer 126) = (%q, %v), want (126, true)", got, ok)
	}
	// Invalid commands never produce a status.
	if _, ok := c.Transform("dimmer", "on", "0"); ok {
		t.Error("Transform(on) on dimmer reported a change")
	}
	if !c.IsValidStatus("dimmer", "255") || c.IsValidStatus("dimmer", "high") {
		t.Error("IsValidStatus() mismatch for dimmer")
	}
}

func TestPredicate_NilFuncs(t *testing.T) {
	p := &Predicate{TypeName: "inert"}

	if p.IsValidCommand("x", "") || p.IsValidStatus("") {
		t.Error("nil predicate funcs should reject everything")
	}
	if _, ok := p.Transform("x", ""); ok {
		t.Error("nil Next should report no change")
	}
}

func TestEnumerated_NoTransform(t *testing.T) {
	sensor := NewEnumerated("sensor", []string{"read"}, []string{"idle"}, nil)

	if !sensor.IsValidCommand("read", "idle") {
		t.Error("IsValidCommand(read) = false, want true")
	}
	if _, ok := sensor.Transform("read", "idle"); ok {
		t.Error("Transform() reported a change without a transform")
	}
}

func TestTransformTable(t *testing.T) {
	fan := NewEnumerated("fan",
		[]string{"low", "high", "stop", "spin"},
		[]string{"low", "high", "stopped"},
		TransformTable(map[string]string{"low": "low", "high": "high", "stop": "stopped"}),
	)

	if got, ok := fan.Transform("stop", "high"); !ok || got != "stopped" {
		t.Errorf("Transform(stop) = (%q, %v), want (stopped, true)", got, ok)
	}
	// Valid command missing from the table leaves the status alone.
	if _, ok := fan.Transform("spin", "low"); ok {
		t.Error("Transform(spin) reported a change")
	}
}

func TestCatalog_Types(t *testing.T) {
	c := New(NewEnumerated("zeta", nil, nil, nil), Sonoff(), NewEnumerated("alpha", nil, nil, nil))

	want := []string{"alpha", "sonoff", "zeta"}
	if got := c.Types(); !reflect.DeepEqual(got, want) {
		t.Errorf("Types() = %v, want %v", got, want)
	}

	if _, ok := c.Lookup("sonoff"); !ok {
		t.Error("Lookup(sonoff) not found")
	}
}
