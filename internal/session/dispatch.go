package session

import (
	"context"
	"fmt"

	"github.com/alessio/shellescape"

	"github.com/nerrad567/devcontrol/internal/device"
	"github.com/nerrad567/devcontrol/internal/infrastructure/mqtt"
	"github.com/nerrad567/devcontrol/internal/schedule"
)

// ExecuteCommand sends command to the device named displayName.
//
// The command must be valid for the device's type and current status. When
// the catalog derives a new status from it, the status is stored before the
// command is published, so a status query made meanwhile sees the intended
// state.
//
// Returns:
//   - error: nil on success, or:
//   - device.ErrDeviceNotFound if no device has that display name
//   - ErrInvalidCommand if the catalog rejects the command
//   - a publish error (the caller's transaction rolls the status back)
func (c *Coordinator) ExecuteCommand(ctx context.Context, reg device.Registry, displayName, command string) error {
	profile, err := c.resolve(ctx, reg, displayName)
	if err != nil {
		return err
	}

	if !c.catalog.IsValidCommand(profile.Type, command, profile.Status) {
		c.activity.RecordCommand(profile.Username, profile.Type, command, false)
		return fmt.Errorf("%w: %s for type %s and status %s", ErrInvalidCommand,
			shellescape.Quote(command), profile.Type, shellescape.Quote(profile.Status))
	}

	if next, changed := c.catalog.Transform(profile.Type, command, profile.Status); changed {
		if err := reg.SetStatus(ctx, profile.Username, next); err != nil {
			return err
		}
		c.activity.RecordStatus(profile.Username, profile.Type, next)
	}

	if err := c.publish(c.topics.Control(profile.Username), command, mqtt.QoSAtLeastOnce); err != nil {
		return err
	}
	c.activity.RecordCommand(profile.Username, profile.Type, command, true)
	return nil
}

// Rename changes a device's display name.
func (c *Coordinator) Rename(ctx context.Context, reg device.Registry, displayName, newDisplayName string) error {
	profile, err := c.resolve(ctx, reg, displayName)
	if err != nil {
		return err
	}
	if profile.IsSuperuser() {
		return fmt.Errorf("renaming %s: %w", shellescape.Quote(displayName), ErrSuperuser)
	}
	if err := device.ValidateName(newDisplayName); err != nil {
		return err
	}
	return reg.Rename(ctx, profile.Username, newDisplayName)
}

// Delete removes a device with its credential and schedule, then kicks its
// session using the broker's pre-shared key.
func (c *Coordinator) Delete(ctx context.Context, reg device.Registry, displayName string) error {
	profile, err := c.resolve(ctx, reg, displayName)
	if err != nil {
		return err
	}
	if profile.IsSuperuser() {
		return fmt.Errorf("deleting %s: %w", shellescape.Quote(displayName), ErrSuperuser)
	}
	if err := reg.Delete(ctx, profile.Username); err != nil {
		return err
	}

	c.logger.Info("device deleted", "username", profile.Username, "display_name", displayName)
	c.kick(ctx, profile.Username, c.kickPSK)
	return nil
}

// Sync pushes the local time to a device to correct clock drift.
func (c *Coordinator) Sync(ctx context.Context, reg device.Registry, displayName string) error {
	profile, err := c.resolve(ctx, reg, displayName)
	if err != nil {
		return err
	}
	return c.sync(profile.Username)
}

// Ping asks a device to announce itself on its lobby.
func (c *Coordinator) Ping(ctx context.Context, reg device.Registry, displayName string) error {
	return c.sendTo(ctx, reg, displayName, mqtt.ChannelLobby, mqtt.PayloadPing, mqtt.QoSAtMostOnce)
}

// AskStatus asks a device to report its status.
func (c *Coordinator) AskStatus(ctx context.Context, reg device.Registry, displayName string) error {
	return c.sendTo(ctx, reg, displayName, mqtt.ChannelAdmin, mqtt.PayloadAskStatus, mqtt.QoSAtMostOnce)
}

// AskSchedule asks a device to report its schedule. The answer triggers
// reconciliation.
func (c *Coordinator) AskSchedule(ctx context.Context, reg device.Registry, displayName string) error {
	return c.sendTo(ctx, reg, displayName, mqtt.ChannelAdmin, mqtt.PayloadAskSchedule, mqtt.QoSAtMostOnce)
}

func (c *Coordinator) sendTo(ctx context.Context, reg device.Registry, displayName, channel, payload string, qos byte) error {
	profile, err := c.resolve(ctx, reg, displayName)
	if err != nil {
		return err
	}
	return c.publish(profile.Username+"/"+channel, payload, qos)
}

// DeviceList returns every device with its connection state, ordered by
// display name.
func (c *Coordinator) DeviceList(ctx context.Context, reg device.Registry) ([]device.Profile, error) {
	return reg.Devices(ctx)
}

// Info returns the profile of one device.
func (c *Coordinator) Info(ctx context.Context, reg device.Registry, displayName string) (*device.Profile, error) {
	return c.resolve(ctx, reg, displayName)
}

// ScheduleOf returns the stored schedule of one device.
func (c *Coordinator) ScheduleOf(ctx context.Context, reg device.Registry, displayName string) ([]schedule.Event, error) {
	profile, err := c.resolve(ctx, reg, displayName)
	if err != nil {
		return nil, err
	}
	return reg.Events(ctx, profile.Username)
}
