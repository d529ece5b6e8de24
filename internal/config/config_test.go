package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg := Load()

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Empty(t, cfg.AIAPIURL)
	assert.False(t, cfg.UseMemoryBackend)
	assert.Equal(t, 5*time.Second, cfg.ScheduleFetchTimeout)
	assert.Equal(t, "1000", cfg.MinEligibleAmount.String())
	assert.Equal(t, "last-installment", cfg.RemainderPolicy)
	assert.Equal(t, 6, cfg.DefaultTenureMonths)
	assert.Equal(t, "14", cfg.DefaultInterestRate.String())
}

func TestLoad_FromEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("CORS_ORIGINS", "https://app.example.com, https://admin.example.com")
	t.Setenv("MIN_ELIGIBLE_AMOUNT", "2500.50")
	t.Setenv("SCHEDULE_FETCH_TIMEOUT", "750ms")
	t.Setenv("AFFORDABILITY_RPS", "0.5")
	t.Setenv("USE_MEMORY_BACKEND", "true")

	cfg := Load()

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.CORSOrigins)
	assert.Equal(t, "2500.5", cfg.MinEligibleAmount.String())
	assert.Equal(t, 750*time.Millisecond, cfg.ScheduleFetchTimeout)
	assert.Equal(t, 0.5, cfg.AffordabilityRPS)
	assert.True(t, cfg.UseMemoryBackend)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("PORT", "eighty")
	t.Setenv("HTTP_TIMEOUT", "soon")
	t.Setenv("EMI_DEFAULT_INTEREST_RATE", "fourteen")

	cfg := Load()

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, "14", cfg.DefaultInterestRate.String())
}

func TestLoad_DotEnvDoesNotOverrideEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("LOG_LEVEL=debug\nBANK_API_URL=http://bank.internal:9000\n"), 0o600))
	t.Setenv("LOG_LEVEL", "warn")
	// Registered for restore, then unset so the .env value applies.
	t.Setenv("BANK_API_URL", "")
	os.Unsetenv("BANK_API_URL")

	cfg := Load()

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "http://bank.internal:9000", cfg.BankAPIURL)
}

// chdir moves into dir for the test so Load does not pick up a real .env.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
