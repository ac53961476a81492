package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nerrad567/devcontrol/internal/device"
)

// EnsureSuperuser makes sure the control plane's own broker identity exists
// and accepts password.
//
// The profile is created (type device.SuperuserType, connected, empty status)
// only if missing. The credential is rewritten only when the stored one does
// not verify, so restarts with an unchanged password leave the auth table
// alone.
//
// Returns true if the credential was (re)written.
func EnsureSuperuser(ctx context.Context, reg device.Registry, username, displayName, password string, hasher Hasher, logger *slog.Logger) (bool, error) {
	exists, err := reg.Exists(ctx, username)
	if err != nil {
		return false, fmt.Errorf("checking superuser profile: %w", err)
	}

	if !exists {
		hash, salt, err := hasher.Hash(password) //nolint:govet // shadow: err re-declared in nested scope
		if err != nil {
			return false, fmt.Errorf("hashing superuser password: %w", err)
		}
		profile := device.Profile{
			Username:    username,
			DisplayName: displayName,
			Type:        device.SuperuserType,
			Connected:   true,
		}
		if err := reg.Create(ctx, profile, device.Credential{Hash: hash, Salt: salt}); err != nil {
			return false, fmt.Errorf("creating superuser profile: %w", err)
		}
		logger.Info("superuser created", "username", username)
		return true, nil
	}

	stored, err := reg.Credential(ctx, username)
	switch {
	case errors.Is(err, device.ErrCredentialNotFound):
	case err != nil:
		return false, fmt.Errorf("reading superuser credential: %w", err)
	default:
		ok, verr := hasher.Verify(password, stored.Hash, stored.Salt)
		if verr != nil {
			logger.Warn("stored superuser hash unreadable, replacing", "error", verr)
		}
		if ok {
			return false, nil
		}
	}

	hash, salt, err := hasher.Hash(password)
	if err != nil {
		return false, fmt.Errorf("hashing superuser password: %w", err)
	}
	if err := reg.SetCredential(ctx, device.Credential{Username: username, Hash: hash, Salt: salt}); err != nil {
		return false, fmt.Errorf("storing superuser credential: %w", err)
	}
	logger.Info("superuser credential updated", "username", username)
	return true, nil
}
