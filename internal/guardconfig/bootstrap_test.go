package guardconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBootstrap_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadBootstrap(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "random", cfg.ProtectionPattern())
	assert.Equal(t, StrategyGreedy, cfg.ChargeStrategy())
	assert.Equal(t, defaultRecentLockSeconds, cfg.RecentLockSeconds())
}

func TestLoadBootstrap_AppliesValuesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bootstrap.toml")
	const body = `
version = 1

[pattern]
name = "spiral"

[colors]
prefer = true
preferred_ids = [1, 2, 3]
exclude = true
excluded_ids = [9]
threshold = 12
comparison_method = "lab"

[batch]
pixels_per_batch = 5
spend_all_pixels_on_start = true
min_charges_to_wait = 3
max_retries = 4

[lockout]
recent_lock_seconds = 120

[strategy]
charge = "balanced"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadBootstrap(path)
	require.NoError(t, err)

	assert.Equal(t, "spiral", cfg.ProtectionPattern())

	preferEnabled, preferredIDs := cfg.PreferredColors()
	assert.True(t, preferEnabled)
	assert.Equal(t, map[int]struct{}{1: {}, 2: {}, 3: {}}, preferredIDs)

	excludeEnabled, excludedIDs := cfg.ExcludedColors()
	assert.True(t, excludeEnabled)
	assert.Equal(t, map[int]struct{}{9: {}}, excludedIDs)

	threshold, method := cfg.ColorThresholdAndMethod()
	assert.Equal(t, 12, threshold)
	assert.Equal(t, ColorLAB, method)

	assert.Equal(t, 5, cfg.PixelsPerBatch())
	assert.True(t, cfg.SpendAllPixelsOnStart())
	assert.Equal(t, 3, cfg.MinChargesToWait())
	assert.Equal(t, 4, cfg.MaxRetries())
	assert.Equal(t, 120, cfg.RecentLockSeconds())
	assert.Equal(t, StrategyBalanced, cfg.ChargeStrategy())
}

func TestLoadBootstrap_UnsupportedVersionErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bootstrap.toml")
	require.NoError(t, os.WriteFile(path, []byte("version = 2\n"), 0o644))

	_, err := LoadBootstrap(path)
	assert.Error(t, err)
}

func TestLoadBootstrap_MalformedFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bootstrap.toml")
	require.NoError(t, os.WriteFile(path, []byte("not = [valid toml"), 0o644))

	_, err := LoadBootstrap(path)
	assert.Error(t, err)
}
