package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir stands in for testing.T.Chdir, which requires Go 1.24.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 10, cfg.Admin.PageSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Admin.Debounce())
	assert.Equal(t, 30*time.Second, cfg.Tracker.Interval())
	assert.Equal(t, time.Second, cfg.Audit.Timeout())
}

func TestLoadReadsEnvironment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("API_TOKEN", "tok-env")
	t.Setenv("ADMIN_PAGE_SIZE", "25")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "tok-env", cfg.API.Token)
	assert.Equal(t, 25, cfg.Admin.PageSize)
}
