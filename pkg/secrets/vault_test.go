package secrets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"daa-assistant/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledManagerReadsEnvironment(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	m, err := NewVaultManager(VaultConfig{}, logger.Nop())
	require.NoError(t, err)
	assert.False(t, m.Enabled())

	value, err := m.GetSecret(context.Background(), "openai-api.key")
	require.NoError(t, err)
	assert.Equal(t, "sk-env", value)

	_, err = m.GetSecret(context.Background(), "missing_key")
	assert.ErrorIs(t, err, ErrSecretNotFound)
	assert.Equal(t, "fallback", m.GetSecretWithDefault(context.Background(), "missing_key", "fallback"))
}

func TestEnabledManagerRequiresAddressAndToken(t *testing.T) {
	_, err := NewVaultManager(VaultConfig{Enabled: true, Token: "t"}, logger.Nop())
	assert.ErrorIs(t, err, ErrNoVaultAddress)

	_, err = NewVaultManager(VaultConfig{Enabled: true, Address: "http://127.0.0.1:8200"}, logger.Nop())
	assert.ErrorIs(t, err, ErrNoVaultToken)
}

func TestVaultManagerReadsKVv2(t *testing.T) {
	var gotPath, gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotToken = r.URL.Path, r.Header.Get("X-Vault-Token")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"data": map[string]any{"google_api_key": "vault-key"},
				"metadata": map[string]any{
					"created_time":    "2024-03-01T10:00:00Z",
					"custom_metadata": nil,
					"deletion_time":   "",
					"destroyed":       false,
					"version":         1,
				},
			},
		})
	}))
	defer srv.Close()

	t.Setenv("ANTHROPIC_API_KEY", "env-anthropic")
	m, err := NewVaultManager(VaultConfig{Enabled: true, Address: srv.URL, Token: "root", SecretsPath: "daa"}, logger.Nop())
	require.NoError(t, err)
	defer m.Close()

	value, err := m.GetSecret(context.Background(), "google_api_key")
	require.NoError(t, err)
	assert.Equal(t, "vault-key", value)
	assert.Equal(t, "/v1/secret/data/daa", gotPath)
	assert.Equal(t, "root", gotToken)

	value, err = m.GetSecret(context.Background(), "anthropic_api_key")
	require.NoError(t, err)
	assert.Equal(t, "env-anthropic", value)
}

func TestOverlay(t *testing.T) {
	t.Setenv("HA_TOKEN", "from-secrets")
	t.Setenv("OPENAI_API_KEY", "")
	m, err := NewVaultManager(VaultConfig{}, logger.Nop())
	require.NoError(t, err)

	haToken, openAI := "", "configured"
	applied := Overlay(context.Background(), m, logger.Nop(), map[string]*string{
		"ha_token":       &haToken,
		"openai_api_key": &openAI,
	})

	assert.Equal(t, []string{"ha_token"}, applied)
	assert.Equal(t, "from-secrets", haToken)
	assert.Equal(t, "configured", openAI)
}
