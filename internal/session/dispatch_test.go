package session

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/nerrad567/devcontrol/internal/device"
	"github.com/nerrad567/devcontrol/internal/schedule"
)

func TestExecuteCommand_StatusStoredBeforePublish(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addDevice(t, "u1", "lamp", "off", true)

	var statusAtPublish string
	h.bus.onPublish = func(topic, _ string) {
		statusAtPublish = h.profile(t, "u1").Status
	}

	if err := h.coord.ExecuteCommand(ctx, h.reg, "lamp", "on"); err != nil {
		t.Fatalf("ExecuteCommand() error = %v", err)
	}

	if statusAtPublish != "on" {
		t.Errorf("status at publish = %q, want on", statusAtPublish)
	}
	if len(h.bus.sent) != 1 || h.bus.sent[0] != (published{"u1/control", "on", 1}) {
		t.Errorf("sent = %+v, want on at QoS 1 on u1/control", h.bus.sent)
	}
	if !slices.Equal(h.rec.commands, []string{"u1:on"}) {
		t.Errorf("commands = %v", h.rec.commands)
	}
}

func TestExecuteCommand_Toggle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addDevice(t, "u1", "lamp", "on", true)

	for _, want := range []string{"off", "on"} {
		if err := h.coord.ExecuteCommand(ctx, h.reg, "lamp", "toggle"); err != nil {
			t.Fatalf("ExecuteCommand() error = %v", err)
		}
		if got := h.profile(t, "u1").Status; got != want {
			t.Errorf("Status = %q, want %q", got, want)
		}
	}
}

func TestExecuteCommand_Rejected(t *testing.T) {
	tests := []struct {
		name        string
		displayName string
		command     string
		wantErr     error
	}{
		{"unknown device", "garage", "on", device.ErrDeviceNotFound},
		{"invalid command", "lamp", "dim 50", ErrInvalidCommand},
		{"superuser", "devmaster", "on", ErrInvalidCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.addSuperuser(t)
			h.addDevice(t, "u1", "lamp", "off", true)

			err := h.coord.ExecuteCommand(context.Background(), h.reg, tt.displayName, tt.command)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ExecuteCommand() error = %v, want %v", err, tt.wantErr)
			}
			if len(h.bus.sent) != 0 {
				t.Errorf("sent = %+v, want nothing", h.bus.sent)
			}
			if got := h.profile(t, "u1").Status; got != "off" {
				t.Errorf("Status = %q, want off", got)
			}
		})
	}
}

func TestExecuteCommand_PublishFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addDevice(t, "u1", "lamp", "off", true)
	h.bus.publishErr = errBroker

	// Inside a transaction the stored status goes back with the failure.
	err := h.reg.InTx(ctx, func(reg device.Registry) error {
		return h.coord.ExecuteCommand(ctx, reg, "lamp", "on")
	})
	if !errors.Is(err, errBroker) {
		t.Fatalf("ExecuteCommand() error = %v, want errBroker", err)
	}
	if got := h.profile(t, "u1").Status; got != "off" {
		t.Errorf("Status = %q after failed publish, want off", got)
	}
}

func TestRename(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addSuperuser(t)
	h.addDevice(t, "u1", "lamp", "off", true)
	h.addDevice(t, "u2", "heater", "off", true)

	if err := h.coord.Rename(ctx, h.reg, "lamp", "desk lamp"); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if got := h.profile(t, "u1").DisplayName; got != "desk lamp" {
		t.Errorf("DisplayName = %q, want desk lamp", got)
	}

	if err := h.coord.Rename(ctx, h.reg, "desk lamp", "heater"); !errors.Is(err, device.ErrDisplayNameTaken) {
		t.Errorf("Rename() to used name error = %v, want ErrDisplayNameTaken", err)
	}
	if err := h.coord.Rename(ctx, h.reg, "devmaster", "boss"); !errors.Is(err, ErrSuperuser) {
		t.Errorf("Rename(superuser) error = %v, want ErrSuperuser", err)
	}
	if err := h.coord.Rename(ctx, h.reg, "desk lamp", "two\nlines"); !errors.Is(err, device.ErrInvalidName) {
		t.Errorf("Rename() to invalid name error = %v, want ErrInvalidName", err)
	}
	if err := h.coord.Rename(ctx, h.reg, "nothing", "x"); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("Rename(unknown) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addSuperuser(t)
	h.addDevice(t, "u1", "lamp", "off", true)

	if err := h.coord.Delete(ctx, h.reg, "lamp"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if ok, _ := h.reg.Exists(ctx, "u1"); ok {
		t.Error("profile still exists after Delete()")
	}
	if len(h.kicker.calls) != 1 || h.kicker.calls[0] != (kickCall{"u1", "psk-secret"}) {
		t.Errorf("kicks = %+v, want u1 kicked with the PSK", h.kicker.calls)
	}

	if err := h.coord.Delete(ctx, h.reg, "devmaster"); !errors.Is(err, ErrSuperuser) {
		t.Errorf("Delete(superuser) error = %v, want ErrSuperuser", err)
	}
	if err := h.coord.Delete(ctx, h.reg, "lamp"); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("second Delete() error = %v, want ErrDeviceNotFound", err)
	}
	if len(h.kicker.calls) != 1 {
		t.Errorf("kicks = %d after refused deletes, want 1", len(h.kicker.calls))
	}
}

func TestQueries(t *testing.T) {
	tests := []struct {
		name  string
		call  func(*Coordinator, context.Context, device.Registry, string) error
		topic string
		want  published
	}{
		{"ping", (*Coordinator).Ping, "u1/lobby", published{"u1/lobby", "ping", 0}},
		{"askstatus", (*Coordinator).AskStatus, "u1/admin", published{"u1/admin", "askstatus", 0}},
		{"askschedule", (*Coordinator).AskSchedule, "u1/admin", published{"u1/admin", "asksschedule", 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.addDevice(t, "u1", "lamp", "off", true)

			if err := tt.call(h.coord, context.Background(), h.reg, "lamp"); err != nil {
				t.Fatalf("%s error = %v", tt.name, err)
			}
			if len(h.bus.sent) != 1 || h.bus.sent[0] != tt.want {
				t.Errorf("sent = %+v, want %+v", h.bus.sent, tt.want)
			}

			if err := tt.call(h.coord, context.Background(), h.reg, "nothing"); !errors.Is(err, device.ErrDeviceNotFound) {
				t.Errorf("%s(unknown) error = %v, want ErrDeviceNotFound", tt.name, err)
			}
		})
	}
}

func TestDeviceListAndInfo(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addSuperuser(t)
	h.addDevice(t, "u2", "porch", "on", false)
	h.addDevice(t, "u1", "kitchen", "off", true)

	devices, err := h.coord.DeviceList(ctx, h.reg)
	if err != nil {
		t.Fatalf("DeviceList() error = %v", err)
	}
	var names []string
	for _, d := range devices {
		names = append(names, d.DisplayName)
	}
	if !slices.Equal(names, []string{"kitchen", "porch"}) {
		t.Errorf("DeviceList() = %v, want [kitchen porch]", names)
	}

	info, err := h.coord.Info(ctx, h.reg, "porch")
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if info.Type != "sonoff" || info.Connected || info.Status != "on" {
		t.Errorf("Info() = %+v", info)
	}

	ev, _ := schedule.NewRecurrent("on", false, schedule.EveryDay, 7, 0)
	if err := h.coord.Schedule(ctx, h.reg, "porch", ev); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	events, err := h.coord.ScheduleOf(ctx, h.reg, "porch")
	if err != nil {
		t.Fatalf("ScheduleOf() error = %v", err)
	}
	if !slices.Equal(events, []schedule.Event{ev}) {
		t.Errorf("ScheduleOf() = %v, want [%v]", events, ev)
	}
}
