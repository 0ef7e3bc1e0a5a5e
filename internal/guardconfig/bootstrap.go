package guardconfig

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// BootstrapVersion is the current supported bootstrap file schema version.
const BootstrapVersion = 1

// bootstrapFile is the on-disk shape of a guard config bootstrap file: a
// versioned TOML document supplying defaults for a freshly constructed
// Config, applied once at process start before any session mutates it via
// the typed setters.
type bootstrapFile struct {
	Version int `toml:"version"`

	Pattern struct {
		Name string `toml:"name"`
	} `toml:"pattern"`

	Colors struct {
		Prefer           bool   `toml:"prefer"`
		PreferredIDs     []int  `toml:"preferred_ids"`
		Exclude          bool   `toml:"exclude"`
		ExcludedIDs      []int  `toml:"excluded_ids"`
		Threshold        int    `toml:"threshold"`
		ComparisonMethod string `toml:"comparison_method"`
	} `toml:"colors"`

	Batch struct {
		PixelsPerBatch        int  `toml:"pixels_per_batch"`
		SpendAllPixelsOnStart bool `toml:"spend_all_pixels_on_start"`
		MinChargesToWait      int  `toml:"min_charges_to_wait"`
		MaxRetries            int  `toml:"max_retries"`
	} `toml:"batch"`

	Lockout struct {
		RecentLockSeconds int `toml:"recent_lock_seconds"`
	} `toml:"lockout"`

	Strategy struct {
		Charge string `toml:"charge"`
	} `toml:"strategy"`
}

// LoadBootstrap reads a TOML bootstrap file at path and returns a Config
// seeded with its values layered over the package defaults. A missing file
// is not an error: it returns New() unchanged, mirroring rig.LoadManifest's
// "absent manifest" behavior.
func LoadBootstrap(path string) (*Config, error) {
	cfg := New()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading guard config bootstrap: %w", err)
	}

	var file bootstrapFile
	if _, err := toml.Decode(string(data), &file); err != nil {
		return nil, fmt.Errorf("parsing guard config bootstrap: %w", err)
	}
	if file.Version != 0 && file.Version != BootstrapVersion {
		return nil, fmt.Errorf("unsupported guard config bootstrap version %d (expected %d)", file.Version, BootstrapVersion)
	}

	applyBootstrap(cfg, file)
	return cfg, nil
}

func applyBootstrap(cfg *Config, file bootstrapFile) {
	if file.Pattern.Name != "" {
		cfg.SetProtectionPattern(file.Pattern.Name)
	}
	if file.Colors.Prefer || len(file.Colors.PreferredIDs) > 0 {
		cfg.SetPreferredColors(file.Colors.Prefer, file.Colors.PreferredIDs)
	}
	if file.Colors.Exclude || len(file.Colors.ExcludedIDs) > 0 {
		cfg.SetExcludedColors(file.Colors.Exclude, file.Colors.ExcludedIDs)
	}
	if file.Colors.Threshold != 0 || file.Colors.ComparisonMethod != "" {
		method := ColorComparisonMethod(file.Colors.ComparisonMethod)
		if method == "" {
			method = ColorRGB
		}
		cfg.SetColorThresholdAndMethod(file.Colors.Threshold, method)
	}
	if file.Batch.PixelsPerBatch != 0 {
		cfg.SetPixelsPerBatch(file.Batch.PixelsPerBatch)
	}
	if file.Batch.SpendAllPixelsOnStart {
		cfg.SetSpendAllPixelsOnStart(true)
	}
	if file.Batch.MinChargesToWait != 0 {
		cfg.SetMinChargesToWait(file.Batch.MinChargesToWait)
	}
	if file.Batch.MaxRetries != 0 {
		cfg.SetMaxRetries(file.Batch.MaxRetries)
	}
	if file.Lockout.RecentLockSeconds != 0 {
		cfg.SetRecentLockSeconds(file.Lockout.RecentLockSeconds)
	}
	if file.Strategy.Charge != "" {
		cfg.SetChargeStrategy(ChargeStrategy(file.Strategy.Charge))
	}
}
