package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGatewayDefaults(t *testing.T) {
	cfg, err := LoadGateway()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8001/v1/chat/completions", cfg.VLLMServerURL)
	assert.Equal(t, "http://localhost:8002/v1/chat/completions", cfg.SafetyServiceURL)
	assert.Equal(t, "llama-guard", cfg.SafetyModel)
	assert.Equal(t, 5, cfg.BufferSize)
	assert.Equal(t, 500*time.Millisecond, cfg.FlushInterval)
	assert.Equal(t, "mysecretapikey", cfg.APIKey)
	assert.Equal(t, 2*time.Second, cfg.VerdictCacheTTL)
}

func TestLoadGatewayEnvOverride(t *testing.T) {
	t.Setenv("BUFFER_SIZE", "100")
	t.Setenv("FLUSH_INTERVAL", "0.2")
	t.Setenv("API_KEY", "topsecret")
	t.Setenv("VLLM_API_KEY", "vllm-key")

	cfg, err := LoadGateway()
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.BufferSize)
	assert.Equal(t, 200*time.Millisecond, cfg.FlushInterval)
	assert.Equal(t, "topsecret", cfg.APIKey)
	assert.Equal(t, "vllm-key", cfg.VLLMAPIKey)
}

func TestLoadGatewayRejectsNonPositiveBufferSize(t *testing.T) {
	t.Setenv("BUFFER_SIZE", "0")

	_, err := LoadGateway()
	assert.Error(t, err)
}

func TestLoadGuardrailDefaults(t *testing.T) {
	cfg, err := LoadGuardrail()
	require.NoError(t, err)

	assert.Equal(t, "meta-llama/LlamaGuard", cfg.ModelName)
	assert.Equal(t, 50*time.Millisecond, cfg.BatchInterval)
}

func TestLoadGuardrailEnvOverride(t *testing.T) {
	t.Setenv("GUARDRAIL_MODEL_NAME", "custom-guard")
	t.Setenv("BATCH_INTERVAL", "0.1")

	cfg, err := LoadGuardrail()
	require.NoError(t, err)

	assert.Equal(t, "custom-guard", cfg.ModelName)
	assert.Equal(t, 100*time.Millisecond, cfg.BatchInterval)
}
