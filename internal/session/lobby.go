package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/alessio/shellescape"

	"github.com/nerrad567/devcontrol/internal/auth"
	"github.com/nerrad567/devcontrol/internal/device"
	"github.com/nerrad567/devcontrol/internal/infrastructure/mqtt"
)

// HandleConnect starts a broker session: it subscribes to every topic,
// marks all devices disconnected and pings each one so live devices answer
// with a presence message.
func (c *Coordinator) HandleConnect(ctx context.Context, reg device.Registry) error {
	if err := c.bus.Forward(c.topics.All(), mqtt.QoSAtMostOnce); err != nil {
		return fmt.Errorf("subscribing to all topics: %w", err)
	}

	usernames, err := reg.DisconnectAll(ctx)
	if err != nil {
		return fmt.Errorf("resetting connection state: %w", err)
	}

	for _, username := range usernames {
		if err := c.publish(c.topics.Lobby(username), mqtt.PayloadPing, mqtt.QoSAtMostOnce); err != nil {
			c.logger.Warn("ping failed", "username", username, "error", err)
		}
	}

	c.logger.Info("broker session started", "devices", len(usernames))
	return nil
}

// HandleMessage routes one inbound bus message. Traffic that does not fit a
// device channel, or is not valid UTF-8, is logged and dropped.
func (c *Coordinator) HandleMessage(ctx context.Context, reg device.Registry, topic string, payload []byte) error {
	username, channel, ok := mqtt.ParseTopic(topic)
	if !ok {
		c.logger.Debug("ignoring message on foreign topic", "topic", topic)
		return nil
	}
	if !utf8.Valid(payload) {
		c.logger.Warn("dropping payload that is not UTF-8", "topic", topic, "bytes", len(payload))
		return nil
	}
	data := string(payload)

	switch channel {
	case mqtt.ChannelLobby:
		return c.handleLobby(ctx, reg, username, data)
	case mqtt.ChannelAdmin:
		return c.handleAdmin(ctx, reg, username, data)
	default:
		// Includes the echo of our own control traffic.
		c.logger.Debug("ignoring message", "topic", topic)
		return nil
	}
}

func (c *Coordinator) handleLobby(ctx context.Context, reg device.Registry, username, data string) error {
	profile, err := reg.Profile(ctx, username)
	if errors.Is(err, device.ErrDeviceNotFound) {
		c.handleGuestLobby(username, data)
		return nil
	}
	if err != nil {
		return err
	}

	switch data {
	case mqtt.PayloadHello, mqtt.PayloadHere:
		if err := reg.SetConnected(ctx, username, true); err != nil {
			return err
		}
		c.activity.RecordPresence(username, profile.Type, true)
		c.notice("connected: %s", shellescape.Quote(profile.DisplayName))

		if data == mqtt.PayloadHello {
			return c.sync(username)
		}
	case mqtt.PayloadDisconnected, mqtt.PayloadAbruptlyDisconnected:
		if err := reg.SetConnected(ctx, username, false); err != nil {
			return err
		}
		c.activity.RecordPresence(username, profile.Type, false)
		c.notice("disconnected: %s", shellescape.Quote(profile.DisplayName))
	default:
		c.logger.Debug("ignoring lobby message", "username", username, "payload", data)
	}
	return nil
}

func (c *Coordinator) handleGuestLobby(username, data string) {
	switch data {
	case mqtt.PayloadCredentialsPlease:
		if !c.IsGuest(username) {
			c.logger.Info("guest waiting for provisioning", "username", username)
		}
		c.guests[username] = struct{}{}
	case mqtt.PayloadDisconnected, mqtt.PayloadAbruptlyDisconnected:
		delete(c.guests, username)
	default:
		c.logger.Debug("ignoring lobby message from unknown identity", "username", username, "payload", data)
	}
}

func (c *Coordinator) handleAdmin(ctx context.Context, reg device.Registry, username, data string) error {
	profile, err := reg.Profile(ctx, username)
	if errors.Is(err, device.ErrDeviceNotFound) {
		c.logger.Debug("ignoring admin message from unknown identity", "username", username)
		return nil
	}
	if err != nil {
		return err
	}

	switch {
	case strings.HasPrefix(data, mqtt.PayloadStatusPrefix):
		status := strings.TrimPrefix(data, mqtt.PayloadStatusPrefix)
		if err := reg.SetStatus(ctx, username, status); err != nil {
			return err
		}
		c.activity.RecordStatus(username, profile.Type, status)
	case strings.HasPrefix(data, mqtt.PayloadSchedulePrefix):
		return c.Reconcile(ctx, reg, username, strings.TrimPrefix(data, mqtt.PayloadSchedulePrefix))
	default:
		c.logger.Debug("ignoring admin message", "username", username, "payload", data)
	}
	return nil
}

// Provision turns the guest into a device. It stores a profile and a fresh
// credential. Once the registry commits, it hands the credential to the
// device on its lobby and kicks any session still open under the guest
// identity; the broker authenticates against the committed row, so neither
// may happen earlier. displayName defaults to the guest's username.
func (c *Coordinator) Provision(ctx context.Context, reg device.Registry, guest, displayName, deviceType, status string) error {
	if !c.IsGuest(guest) {
		return fmt.Errorf("%w: %s", ErrNotGuest, shellescape.Quote(guest))
	}
	if !c.catalog.Has(deviceType) {
		return fmt.Errorf("%w: %s", ErrUnknownType, deviceType)
	}
	if !c.catalog.IsValidStatus(deviceType, status) {
		return fmt.Errorf("%w: %s for %s", ErrInvalidStatus, shellescape.Quote(status), deviceType)
	}
	if displayName == "" {
		displayName = guest
	}

	secret, err := auth.GenerateSecret()
	if err != nil {
		return err
	}
	hash, salt, err := c.hasher.Hash(secret)
	if err != nil {
		return fmt.Errorf("hashing credential: %w", err)
	}

	profile := device.Profile{
		Username:    guest,
		DisplayName: displayName,
		Type:        deviceType,
		Connected:   true,
		Status:      status,
	}
	cred := device.Credential{Username: guest, Hash: hash, Salt: salt}
	if err := reg.Create(ctx, profile, cred); err != nil {
		return fmt.Errorf("provisioning %s: %w", shellescape.Quote(guest), err)
	}

	reg.AfterCommit(func() {
		delete(c.guests, guest)
		c.activity.RecordPresence(guest, deviceType, true)

		payload := "auth\n" + guest + "\n" + secret
		if err := c.publish(c.topics.Lobby(guest), payload, mqtt.QoSAtLeastOnce); err != nil {
			c.logger.Error("credential delivery failed; delete and re-add the device",
				"username", guest, "error", err)
			return
		}
		c.logger.Info("device provisioned", "username", guest, "display_name", displayName, "type", deviceType)
		c.kick(ctx, guest, secret)
	})
	return nil
}
