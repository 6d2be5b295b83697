// Package config loads and validates configuration for the gateway and
// guardrail services from environment variables, with an optional YAML
// file layered underneath for settings that rarely change between
// environments.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// GatewayConfig holds everything the gateway service needs at startup.
// Field names and defaults mirror spec §6's environment variable table.
type GatewayConfig struct {
	Port int

	VLLMServerURL string
	VLLMAPIKey    string

	SafetyServiceURL string
	SafetyModel      string
	SafetyAPIKey     string

	BufferSize    int
	FlushInterval time.Duration

	APIKey string

	// RedisURL, when set, backs the gateway's verdict cache with Redis
	// instead of an in-process map. Empty disables the distributed cache.
	RedisURL        string
	VerdictCacheTTL time.Duration
}

// GuardrailConfig holds everything the guardrail service needs at startup.
type GuardrailConfig struct {
	Port int

	ModelName     string
	BatchInterval time.Duration
}

// gatewayDefaults mirrors the "Default" column of spec §6 for the gateway.
// flush_interval and verdict_cache_ttl are expressed in seconds here
// because env vars arrive as plain strings; durationFromSeconds converts
// after unmarshaling.
var gatewayDefaults = map[string]any{
	"port":                8080,
	"vllm_server_url":     "http://localhost:8001/v1/chat/completions",
	"vllm_api_key":        "",
	"safety_service_url":  "http://localhost:8002/v1/chat/completions",
	"safety_model":        "llama-guard",
	"safety_api_key":      "",
	"buffer_size":         5,
	"flush_interval":      0.5,
	"api_key":             "mysecretapikey",
	"redis_url":           "",
	"verdict_cache_ttl":   2.0,
}

var guardrailDefaults = map[string]any{
	"port":                 8081,
	"guardrail_model_name": "meta-llama/LlamaGuard",
	"batch_interval":       0.05,
}

// LoadGateway builds a GatewayConfig by layering, in order: built-in
// defaults, an optional YAML file named by GATEWAY_CONFIG_FILE, then
// process environment variables (which always win). This is the same
// three-layer shape the teacher's config.Load used, generalized so a
// plain "export BUFFER_SIZE=10" works without any file at all.
func LoadGateway() (*GatewayConfig, error) {
	k, err := load(gatewayDefaults, "GATEWAY_CONFIG_FILE")
	if err != nil {
		return nil, err
	}

	cfg := &GatewayConfig{
		Port:             k.Int("port"),
		VLLMServerURL:    k.String("vllm_server_url"),
		VLLMAPIKey:       k.String("vllm_api_key"),
		SafetyServiceURL: k.String("safety_service_url"),
		SafetyModel:      k.String("safety_model"),
		SafetyAPIKey:     k.String("safety_api_key"),
		BufferSize:       k.Int("buffer_size"),
		FlushInterval:    durationFromSeconds(k.Float64("flush_interval")),
		APIKey:           k.String("api_key"),
		RedisURL:         k.String("redis_url"),
		VerdictCacheTTL:  durationFromSeconds(k.Float64("verdict_cache_ttl")),
	}

	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("buffer_size must be positive, got %d", cfg.BufferSize)
	}

	return cfg, nil
}

// LoadGuardrail builds a GuardrailConfig the same way LoadGateway does.
func LoadGuardrail() (*GuardrailConfig, error) {
	k, err := load(guardrailDefaults, "GUARDRAIL_CONFIG_FILE")
	if err != nil {
		return nil, err
	}

	cfg := &GuardrailConfig{
		Port:          k.Int("port"),
		ModelName:     k.String("guardrail_model_name"),
		BatchInterval: durationFromSeconds(k.Float64("batch_interval")),
	}

	return cfg, nil
}

// load wires up the three koanf layers shared by both services.
func load(defaults map[string]any, fileEnvVar string) (*koanf.Koanf, error) {
	// Load .env into the process environment, same as the teacher — this
	// is a no-op (and ignored) when no .env file is present.
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path := os.Getenv(fileEnvVar); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// Every key in our two config structs is a bare uppercase env var name
	// (BUFFER_SIZE, SAFETY_MODEL, ...) per spec §6, not a prefixed/nested
	// one, so the transform just lowercases the name.
	if err := k.Load(env.ProviderWithValue("", ".", func(s, v string) (string, any) {
		return strings.ToLower(s), v
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	return k, nil
}

func durationFromSeconds(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
