package mqtt

import (
	"context"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/devcontrol/internal/infrastructure/config"
)

// kickQuiesce is how long a kick connection waits for its publish to drain.
const kickQuiesce = 250 // milliseconds

// Kicker evicts a device's broker session by connecting under the device's
// own credentials and announcing a disconnect on its lobby.
type Kicker struct {
	cfg       config.MQTTConfig
	newClient func(*pahomqtt.ClientOptions) pahomqtt.Client
}

// NewKicker creates a Kicker for the broker described by cfg. cfg.Auth is
// ignored; every kick brings its own credentials.
func NewKicker(cfg config.MQTTConfig) *Kicker {
	return &Kicker{cfg: cfg, newClient: pahomqtt.NewClient}
}

// Kick connects as username/password with a fresh random client ID,
// publishes "disconnected" on username's lobby (QoS 1) and disconnects.
//
// Parameters:
//   - ctx: Bounds the whole exchange
//   - username: Identity whose session is evicted
//   - password: That identity's secret, or the broker pre-shared key
//
// Returns:
//   - error: ErrConnectionFailed, ErrPublishFailed or ErrTimeout
func (k *Kicker) Kick(ctx context.Context, username, password string) error {
	cfg := k.cfg
	cfg.Auth = config.MQTTAuthConfig{Username: username, Password: password}
	cfg.Broker.ClientID = "kick-" + uuid.NewString()

	opts, err := buildClientOptions(cfg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	client := k.newClient(opts)
	if err := waitToken(ctx, client.Connect(), defaultConnectTimeout); err != nil {
		return fmt.Errorf("%w: kick %s: %w", ErrConnectionFailed, username, err)
	}
	defer client.Disconnect(kickQuiesce)

	token := client.Publish(Topics{}.Lobby(username), QoSAtLeastOnce, false, PayloadDisconnected)
	if err := waitToken(ctx, token, defaultPublishTimeout); err != nil {
		return fmt.Errorf("%w: kick %s: %w", ErrPublishFailed, username, err)
	}
	return nil
}

// waitToken waits for token to complete, for ctx to end or for timeout to
// pass, whichever comes first.
func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTimeout
	}
}
