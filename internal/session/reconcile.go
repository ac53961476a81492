package session

import (
	"context"
	"fmt"

	"github.com/alessio/shellescape"

	"github.com/nerrad567/devcontrol/internal/device"
	"github.com/nerrad567/devcontrol/internal/infrastructure/mqtt"
	"github.com/nerrad567/devcontrol/internal/schedule"
)

// Schedule adds ev to a device's schedule: the add-marked event goes to the
// device, then the event is stored. Storing an event twice keeps one row.
func (c *Coordinator) Schedule(ctx context.Context, reg device.Registry, displayName string, ev schedule.Event) error {
	profile, err := c.resolve(ctx, reg, displayName)
	if err != nil {
		return err
	}
	return c.scheduleEvent(ctx, reg, profile, ev)
}

// Unschedule removes ev from a device's schedule, on the device and in the
// registry.
func (c *Coordinator) Unschedule(ctx context.Context, reg device.Registry, displayName string, ev schedule.Event) error {
	profile, err := c.resolve(ctx, reg, displayName)
	if err != nil {
		return err
	}
	return c.unscheduleEvent(ctx, reg, profile, ev)
}

// ClearSchedule empties a device's schedule on both sides.
func (c *Coordinator) ClearSchedule(ctx context.Context, reg device.Registry, displayName string) error {
	profile, err := c.resolve(ctx, reg, displayName)
	if err != nil {
		return err
	}
	if err := c.publish(c.topics.Control(profile.Username), mqtt.PayloadClear, mqtt.QoSAtLeastOnce); err != nil {
		return err
	}
	return reg.ClearEvents(ctx, profile.Username)
}

func (c *Coordinator) scheduleEvent(ctx context.Context, reg device.Registry, profile *device.Profile, ev schedule.Event) error {
	if profile.IsSuperuser() {
		return fmt.Errorf("scheduling on %s: %w", shellescape.Quote(profile.DisplayName), ErrSuperuser)
	}
	if err := c.checkEvent(profile, ev); err != nil {
		return err
	}
	if err := c.publish(c.topics.Control(profile.Username), ev.Marked(schedule.OpAdd), mqtt.QoSAtLeastOnce); err != nil {
		return err
	}
	added, err := reg.AddEvent(ctx, profile.Username, ev)
	if err != nil {
		return err
	}
	if !added {
		c.logger.Info("event already scheduled", "username", profile.Username, "event", ev.String())
	}
	return nil
}

func (c *Coordinator) unscheduleEvent(ctx context.Context, reg device.Registry, profile *device.Profile, ev schedule.Event) error {
	if err := c.checkEvent(profile, ev); err != nil {
		return err
	}
	if err := c.publish(c.topics.Control(profile.Username), ev.Marked(schedule.OpRemove), mqtt.QoSAtLeastOnce); err != nil {
		return err
	}
	return reg.RemoveEvent(ctx, profile.Username, ev)
}

// checkEvent validates ev and its command against the device's type and
// current status.
func (c *Coordinator) checkEvent(profile *device.Profile, ev schedule.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if !c.catalog.IsValidCommand(profile.Type, ev.Command, profile.Status) {
		return fmt.Errorf("%w: %s for type %s and status %s", ErrInvalidCommand,
			shellescape.Quote(ev.Command), profile.Type, shellescape.Quote(profile.Status))
	}
	return nil
}

// Reconcile brings a device's onboard schedule in line with the registry,
// which is authoritative. descriptor is the device's schedule report
// without the "schedule\n" prefix.
//
// Events only on the device are removed first, then events only in the
// registry are added, so the device never holds more than its capacity
// while corrections are in flight. An event that fails revalidation is
// logged and skipped. Events compare by value: the command text must match
// exactly.
//
// Returns:
//   - error: nil on success, or:
//   - device.ErrDeviceNotFound if username has no profile
//   - ErrUnreadableSchedule if descriptor does not parse
//   - ErrCapacityExceeded if the registry holds more events than the
//     device can store (nothing is changed)
func (c *Coordinator) Reconcile(ctx context.Context, reg device.Registry, username, descriptor string) error {
	profile, err := reg.Profile(ctx, username)
	if err != nil {
		return err
	}

	reported, ok := schedule.ParseDescriptor(descriptor)
	if !ok {
		return fmt.Errorf("%w from %s", ErrUnreadableSchedule, shellescape.Quote(profile.DisplayName))
	}

	stored, err := reg.Events(ctx, username)
	if err != nil {
		return err
	}
	if len(stored) > reported.Capacity {
		return fmt.Errorf("%w: cannot fix %s, %d stored events but room for %d", ErrCapacityExceeded,
			shellescape.Quote(profile.DisplayName), len(stored), reported.Capacity)
	}

	extra, missing := diffEvents(stored, reported.Events)

	for _, ev := range extra {
		if err := c.unscheduleEvent(ctx, reg, profile, ev); err != nil {
			c.logger.Warn("cannot remove event from device", "display_name", profile.DisplayName, "event", ev.String(), "error", err)
		}
	}
	for _, ev := range missing {
		if err := c.scheduleEvent(ctx, reg, profile, ev); err != nil {
			c.logger.Warn("cannot add event to device", "display_name", profile.DisplayName, "event", ev.String(), "error", err)
		}
	}

	if len(extra)+len(missing) > 0 {
		c.logger.Info("schedule reconciled", "display_name", profile.DisplayName,
			"removed", len(extra), "added", len(missing))
	}
	return nil
}

// diffEvents returns the events reported but not stored (extra) and stored
// but not reported (missing), each once, in input order.
func diffEvents(stored, reported []schedule.Event) (extra, missing []schedule.Event) {
	inStore := toSet(stored)
	onDevice := toSet(reported)

	seen := make(map[schedule.Event]struct{})
	for _, ev := range reported {
		if _, ok := inStore[ev]; ok {
			continue
		}
		if _, dup := seen[ev]; dup {
			continue
		}
		seen[ev] = struct{}{}
		extra = append(extra, ev)
	}
	for _, ev := range stored {
		if _, ok := onDevice[ev]; ok {
			continue
		}
		if _, dup := seen[ev]; dup {
			continue
		}
		seen[ev] = struct{}{}
		missing = append(missing, ev)
	}
	return extra, missing
}

func toSet(events []schedule.Event) map[schedule.Event]struct{} {
	set := make(map[schedule.Event]struct{}, len(events))
	for _, ev := range events {
		set[ev] = struct{}{}
	}
	return set
}
