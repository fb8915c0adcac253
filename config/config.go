// Package config loads the gateway's process configuration from the
// environment. It follows the env-with-default style used throughout the
// corpus (cmd/registry's envOr/envIntOr/envDurationOr helpers): every setting
// has a documented default so the gateway runs out of the box, and every name
// can be overridden without a config file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Endpoint configures a single LLM endpoint (Planner/Guide or Coordinator).
type Endpoint struct {
	URL      string
	ModelID  string
	APIKey   string
	Provider string
}

// BreakerTunables configures the breaker.Options shared by the LLM and tool
// circuit breaker registries.
type BreakerTunables struct {
	FailureThreshold int
	SuccessThreshold int
	WindowSeconds    int
	RecoveryTimeout  int
}

// Config is the fully resolved process configuration for the gateway.
type Config struct {
	Guide       Endpoint
	Coordinator Endpoint

	TokenBudget  int
	ModelTimeout time.Duration
	MaxCycles    int

	MemoryRoot      string
	TranscriptsDir  string
	SharedStateDir  string
	PromptsDir      string

	ContextWindowSize        int
	ContextKeepRecent        int
	ContextCompressionEnable bool

	MemoryRecallEnable bool
	MemoryRecallK      int
	ProfileMemoryMax   int

	Breaker BreakerTunables
}

// Load reads Config from the process environment, applying the defaults
// documented alongside each field. It returns an error only when a required
// endpoint is entirely unconfigured (no URL and no model ID): a gateway with
// no LLM endpoint to call cannot serve any turn.
func Load() (Config, error) {
	cfg := Config{
		Guide: Endpoint{
			URL:      envOr("GUIDE_URL", ""),
			ModelID:  envOr("GUIDE_MODEL_ID", ""),
			APIKey:   os.Getenv("GUIDE_API_KEY"),
			Provider: envOr("GUIDE_PROVIDER", "openai"),
		},
		Coordinator: Endpoint{
			URL:      envOr("COORDINATOR_URL", ""),
			ModelID:  envOr("COORDINATOR_MODEL_ID", ""),
			APIKey:   os.Getenv("COORDINATOR_API_KEY"),
			Provider: envOr("COORDINATOR_PROVIDER", ""),
		},

		TokenBudget:  envIntOr("TOKEN_BUDGET", 8000),
		ModelTimeout: envDurationOr("MODEL_TIMEOUT", 60*time.Second),
		MaxCycles:    envIntOr("MAX_CYCLES", 6),

		MemoryRoot:     envOr("MEMORY_ROOT", "./data/memory"),
		TranscriptsDir: envOr("TRANSCRIPTS_DIR", "./data/transcripts"),
		SharedStateDir: envOr("SHARED_STATE_DIR", "./data/shared_state"),
		PromptsDir:     envOr("PROMPTS_DIR", "./prompts"),

		ContextWindowSize:        envIntOr("CONTEXT_WINDOW_SIZE", 32000),
		ContextKeepRecent:        envIntOr("CONTEXT_KEEP_RECENT", 6),
		ContextCompressionEnable: envBoolOr("CONTEXT_COMPRESSION_ENABLE", true),

		MemoryRecallEnable: envBoolOr("MEMORY_RECALL_ENABLE", true),
		MemoryRecallK:      envIntOr("MEMORY_RECALL_K", 5),
		ProfileMemoryMax:   envIntOr("PROFILE_MEMORY_MAX", 50),

		Breaker: BreakerTunables{
			FailureThreshold: envIntOr("BREAKER_FAILURE_THRESHOLD", 3),
			SuccessThreshold: envIntOr("BREAKER_SUCCESS_THRESHOLD", 2),
			WindowSeconds:    envIntOr("BREAKER_WINDOW_SECONDS", 300),
			RecoveryTimeout:  envIntOr("BREAKER_RECOVERY_TIMEOUT", 60),
		},
	}

	if cfg.Guide.URL == "" && cfg.Guide.ModelID == "" {
		return Config{}, fmt.Errorf("config: GUIDE_URL or GUIDE_MODEL_ID must be set")
	}
	if cfg.Coordinator.URL == "" && cfg.Coordinator.ModelID == "" {
		cfg.Coordinator = cfg.Guide
	}
	if cfg.Coordinator.Provider == "" {
		cfg.Coordinator.Provider = cfg.Guide.Provider
	}
	return cfg, nil
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOr(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envBoolOr(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDurationOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
