package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"GUIDE_URL", "GUIDE_MODEL_ID", "GUIDE_API_KEY",
		"COORDINATOR_URL", "COORDINATOR_MODEL_ID", "COORDINATOR_API_KEY",
		"TOKEN_BUDGET", "MODEL_TIMEOUT", "MAX_CYCLES",
		"MEMORY_ROOT", "TRANSCRIPTS_DIR", "SHARED_STATE_DIR", "PROMPTS_DIR",
		"CONTEXT_WINDOW_SIZE", "CONTEXT_KEEP_RECENT", "CONTEXT_COMPRESSION_ENABLE",
		"MEMORY_RECALL_ENABLE", "MEMORY_RECALL_K", "PROFILE_MEMORY_MAX",
		"BREAKER_FAILURE_THRESHOLD", "BREAKER_SUCCESS_THRESHOLD",
		"BREAKER_WINDOW_SECONDS", "BREAKER_RECOVERY_TIMEOUT",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadRequiresGuideEndpoint(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("GUIDE_MODEL_ID", "gpt-4o-mini")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.TokenBudget)
	assert.Equal(t, 6, cfg.MaxCycles)
	assert.Equal(t, "./data/memory", cfg.MemoryRoot)
	assert.True(t, cfg.ContextCompressionEnable)
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
}

func TestLoadDefaultsCoordinatorToGuideWhenUnset(t *testing.T) {
	clearEnv(t)
	t.Setenv("GUIDE_URL", "https://guide.example.com")
	t.Setenv("GUIDE_MODEL_ID", "gpt-4o-mini")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, cfg.Guide, cfg.Coordinator)
}

func TestLoadHonorsOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("GUIDE_MODEL_ID", "gpt-4o-mini")
	t.Setenv("TOKEN_BUDGET", "4000")
	t.Setenv("MODEL_TIMEOUT", "15s")
	t.Setenv("CONTEXT_COMPRESSION_ENABLE", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.TokenBudget)
	assert.Equal(t, "15s", cfg.ModelTimeout.String())
	assert.False(t, cfg.ContextCompressionEnable)
}

func TestLoadIgnoresUnparseableOverridesAndFallsBackToDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("GUIDE_MODEL_ID", "gpt-4o-mini")
	t.Setenv("MAX_CYCLES", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.MaxCycles)
}
