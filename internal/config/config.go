// Package config provides configuration loading and validation for the CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cloudcurio/arbfinder/internal/store"
)

// Config is the run configuration, loadable from a JSON file. All
// fields are optional; missing values fall back to defaults, and CLI
// flags override file values after merging.
type Config struct {
	// Matching and evaluation
	ThresholdPct         float64                       `json:"threshold_pct,omitempty"`         // Minimum discount % to qualify
	SimThreshold         int                           `json:"sim_threshold,omitempty"`         // Fuzzy comp-key match threshold (0-100)
	ConditionMultipliers map[store.Condition]float64   `json:"condition_multipliers,omitempty"` // Condition -> comp price factor
	DecayHalfLifeHours   float64                       `json:"decay_half_life_hours,omitempty"` // >0 enables time-decay comp weighting
	PlatformFeePct       float64                       `json:"platform_fee_pct,omitempty"`      // Selling fee as a fraction of price
	ShippingEstimate     float64                       `json:"shipping_estimate,omitempty"`     // Flat shipping cost per item

	// Crawling
	PerSourceRateLimit   float64 `json:"per_source_rate_limit,omitempty"`  // Seconds between requests per host
	GlobalConcurrencyCap int     `json:"global_concurrency_cap,omitempty"` // Max in-flight fetches across sources
	MaxRetries           int     `json:"max_retries,omitempty"`            // Fetch + job retry ceiling
	LiveLimit            int     `json:"live_limit,omitempty"`             // Max live listings per source
	CompLimit            int     `json:"comp_limit,omitempty"`             // Max sold comps to collect
	Providers            string  `json:"providers,omitempty"`              // Comma list of live sources
	ManualImportPath     string  `json:"manual_import_path,omitempty"`     // CSV/JSON file for the manual source

	// Storage and credentials
	DatabaseURL string `json:"database_url,omitempty"` // postgres:// URL or sqlite file path
	APIKey      string `json:"api_key,omitempty"`      // Gemini API key for enrichment agents

	// Behavior
	UseBrowser bool `json:"use_browser,omitempty"` // Headless-browser fallback for SPA marketplaces
	Verbose    bool `json:"verbose,omitempty"`
}

// Defaults returns the standard configuration, matching the evaluator
// and scheduler package defaults.
func Defaults() Config {
	return Config{
		ThresholdPct: 20.0,
		SimThreshold: 86,
		ConditionMultipliers: map[store.Condition]float64{
			store.ConditionNew:       1.0,
			store.ConditionExcellent: 0.9,
			store.ConditionGood:      0.8,
			store.ConditionFair:      0.65,
			store.ConditionPoor:      0.45,
		},
		PlatformFeePct:       0.13,
		ShippingEstimate:     12.0,
		PerSourceRateLimit:   1.0,
		GlobalConcurrencyCap: 6,
		MaxRetries:           3,
		LiveLimit:            60,
		CompLimit:            120,
	}
}

// LoadConfig loads configuration from a JSON file.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// Validate checks value ranges. Required fields are enforced by CLI
// flag validation after merging.
func (c *Config) Validate() error {
	if c.ThresholdPct < 0 || c.ThresholdPct > 100 {
		return fmt.Errorf("config error: 'threshold_pct' must be between 0 and 100")
	}
	if c.SimThreshold < 0 || c.SimThreshold > 100 {
		return fmt.Errorf("config error: 'sim_threshold' must be between 0 and 100")
	}
	for cond, m := range c.ConditionMultipliers {
		if m <= 0 || m > 2 {
			return fmt.Errorf("config error: multiplier for condition %q out of range", cond)
		}
	}
	if c.DecayHalfLifeHours < 0 {
		return fmt.Errorf("config error: 'decay_half_life_hours' must be non-negative")
	}
	if c.PlatformFeePct < 0 || c.PlatformFeePct >= 1 {
		return fmt.Errorf("config error: 'platform_fee_pct' must be a fraction below 1")
	}
	if c.PerSourceRateLimit < 0 {
		return fmt.Errorf("config error: 'per_source_rate_limit' must be non-negative")
	}
	if c.GlobalConcurrencyCap < 0 {
		return fmt.Errorf("config error: 'global_concurrency_cap' must be non-negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config error: 'max_retries' must be non-negative")
	}
	if c.ManualImportPath != "" {
		if _, err := os.Stat(c.ManualImportPath); os.IsNotExist(err) {
			return fmt.Errorf("config error: manual import file not found: %s", c.ManualImportPath)
		}
	}
	return nil
}

// MergeWithDefaults returns a new Config with zero-valued fields filled
// from defaults. CLI flags always win for booleans.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	if result.ThresholdPct == 0 {
		result.ThresholdPct = defaults.ThresholdPct
	}
	if result.SimThreshold == 0 {
		result.SimThreshold = defaults.SimThreshold
	}
	if len(result.ConditionMultipliers) == 0 {
		result.ConditionMultipliers = defaults.ConditionMultipliers
	}
	if result.DecayHalfLifeHours == 0 {
		result.DecayHalfLifeHours = defaults.DecayHalfLifeHours
	}
	if result.PlatformFeePct == 0 {
		result.PlatformFeePct = defaults.PlatformFeePct
	}
	if result.ShippingEstimate == 0 {
		result.ShippingEstimate = defaults.ShippingEstimate
	}
	if result.PerSourceRateLimit == 0 {
		result.PerSourceRateLimit = defaults.PerSourceRateLimit
	}
	if result.GlobalConcurrencyCap == 0 {
		result.GlobalConcurrencyCap = defaults.GlobalConcurrencyCap
	}
	if result.MaxRetries == 0 {
		result.MaxRetries = defaults.MaxRetries
	}
	if result.LiveLimit == 0 {
		result.LiveLimit = defaults.LiveLimit
	}
	if result.CompLimit == 0 {
		result.CompLimit = defaults.CompLimit
	}
	if result.Providers == "" {
		result.Providers = defaults.Providers
	}
	if result.ManualImportPath == "" {
		result.ManualImportPath = defaults.ManualImportPath
	}
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.APIKey == "" {
		result.APIKey = defaults.APIKey
	}

	return result
}

// DecayHalfLife converts the configured hours to a duration; zero means
// decay weighting is off.
func (c *Config) DecayHalfLife() time.Duration {
	return time.Duration(c.DecayHalfLifeHours * float64(time.Hour))
}
