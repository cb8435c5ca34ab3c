package secrets

import (
	"context"
	"errors"

	"daa-assistant/backend/pkg/logger"
)

// Manager provides access to secrets from various sources
type Manager interface {
	GetSecret(ctx context.Context, key string) (string, error)
	GetSecretWithDefault(ctx context.Context, key, defaultValue string) string
}

var (
	ErrSecretNotFound = errors.New("secret not found")
	ErrNoVaultToken   = errors.New("no vault token provided")
	ErrNoVaultAddress = errors.New("no vault address provided")
)

// Overlay replaces each target with the manager's value for its key when
// one exists. Targets without a stored secret keep their current value.
// It returns the keys that were overlaid.
func Overlay(ctx context.Context, m Manager, log *logger.Logger, targets map[string]*string) []string {
	var applied []string
	for key, target := range targets {
		value, err := m.GetSecret(ctx, key)
		switch {
		case err == nil && value != "":
			*target = value
			applied = append(applied, key)
		case err != nil && !errors.Is(err, ErrSecretNotFound):
			log.Warn("secret lookup failed, keeping configured value", "key", key, "error", err.Error())
		}
	}
	return applied
}
