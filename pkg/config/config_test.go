package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvinwang/gpt-prover/pkg/config"
	"github.com/kvinwang/gpt-prover/pkg/crypto"
	"github.com/kvinwang/gpt-prover/pkg/policy"
)

var envKeys = []string{
	"PROVER_ADDR", "LOG_LEVEL", "DATA_DIR", "PROVER_STORE", "DATABASE_URL",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "PROVER_DEPLOYMENT", "PROVER_CODE_HASH",
	"PROVER_ENGINE", "PROVER_ENGINE_MODULE", "PROVER_ENGINE_VERSION", "PROVER_ENGINE_CONSTRAINT",
	"PROVER_ENGINE_MEMORY_MB", "PROVER_EXEC_TIMEOUT", "PROVER_FETCH_TIMEOUT",
	"PROVER_BLOCK_INTERVAL", "PROVER_RATE_RPS", "PROVER_RATE_BURST",
	"OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT",
}

// The service must boot with safe defaults and no environment at all.
func TestLoad_Defaults(t *testing.T) {
	for _, k := range envKeys {
		t.Setenv(k, "")
	}

	cfg := config.Load()

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, "sqlite", cfg.Store)
	assert.Equal(t, "jsvm", cfg.Engine)
	assert.Equal(t, 10*time.Second, cfg.ExecTimeout)
	assert.Equal(t, 6*time.Second, cfg.BlockInterval)
	assert.False(t, cfg.OTelEnabled)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PROVER_ADDR", "127.0.0.1:9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("PROVER_STORE", "redis")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("PROVER_ENGINE", "wasi")
	t.Setenv("PROVER_ENGINE_CONSTRAINT", ">= 1.2")
	t.Setenv("PROVER_EXEC_TIMEOUT", "250ms")
	t.Setenv("PROVER_RATE_RPS", "2.5")
	t.Setenv("OTEL_ENABLED", "true")

	cfg := config.Load()

	assert.Equal(t, "127.0.0.1:9090", cfg.Addr)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, "redis", cfg.Store)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, "wasi", cfg.Engine)
	assert.Equal(t, ">= 1.2", cfg.EngineConstraint)
	assert.Equal(t, 250*time.Millisecond, cfg.ExecTimeout)
	assert.InDelta(t, 2.5, cfg.RateRPS, 1e-9)
	assert.True(t, cfg.OTelEnabled)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("REDIS_DB", "three")
	t.Setenv("PROVER_EXEC_TIMEOUT", "-1s")
	t.Setenv("PROVER_RATE_BURST", "")

	cfg := config.Load()

	assert.Equal(t, 0, cfg.RedisDB)
	assert.Equal(t, 10*time.Second, cfg.ExecTimeout)
	assert.Equal(t, 40, cfg.RateBurst)
}

func TestParseDeployment(t *testing.T) {
	owner := crypto.AccountID{0x01, 0x02}
	code := crypto.HashString("console")

	doc := []byte(`
owner: "` + owner.Hex() + `"
policy:
  kind: whitelist
  secret: "api-key"
  allowed_code_hashes:
    - "` + code.Hex() + `"
api_url: "https://api.openai.com/v1/chat/completions"
api_key: "sk-deploy"
`)
	d, err := config.ParseDeployment(doc)
	require.NoError(t, err)
	assert.Equal(t, owner, d.Owner)
	assert.Equal(t, policy.Whitelist{Secret: "api-key", AllowedCodeHashes: []crypto.Hash{code}}, d.Policy)
	assert.Equal(t, "https://api.openai.com/v1/chat/completions", d.APIURL)
	assert.Equal(t, "sk-deploy", d.APIKey)
}

func TestParseDeployment_Defaults(t *testing.T) {
	d, err := config.ParseDeployment([]byte("{}"))
	require.NoError(t, err)
	assert.True(t, d.Owner.IsZero())
	assert.Equal(t, policy.Public{}, d.Policy)
}

func TestParseDeployment_Rejects(t *testing.T) {
	_, err := config.ParseDeployment([]byte(`owner: "0x12"`))
	assert.Error(t, err)

	_, err = config.ParseDeployment([]byte("policy:\n  kind: root\n"))
	assert.ErrorIs(t, err, policy.ErrBadConfig)
}

func TestLoadDeployment_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deployment.yaml")
	require.NoError(t, os.WriteFile(path, []byte("policy:\n  kind: per_code_secret\n"), 0o600))

	d, err := config.LoadDeployment(path)
	require.NoError(t, err)
	assert.Equal(t, policy.PerCodeSecret{Secrets: map[crypto.Hash]string{}}, d.Policy)

	_, err = config.LoadDeployment(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
