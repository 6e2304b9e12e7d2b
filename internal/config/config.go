// Package config loads the trainer configuration: the region table
// mapping each drawable region to its CT volume, ground-truth label
// set and time limit, plus storage paths. Configuration is resolved
// once at region start and passed into the session; nothing reads it
// ad hoc mid-session.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrRegionNotFound indicates a session referenced a region ID with no
// configuration entry.
var ErrRegionNotFound = errors.New("region not found")

// DefaultTimeLimit applies to regions that do not set their own.
const DefaultTimeLimit = 10 * time.Minute

// Region is one drawable region: a CT volume paired with a
// ground-truth label set and a drawing time limit.
type Region struct {
	// CT is the path of the CT volume (.nii.gz).
	CT string `json:"ct"`

	// GTLabel is the path of the ground-truth label volume; its
	// label-definition JSON sits next to it.
	GTLabel string `json:"gt_label"`

	// TimeLimitSec bounds the drawing session. Zero selects the
	// default.
	TimeLimitSec int `json:"time_limit_sec,omitempty"`
}

// TimeLimit returns the region's drawing duration.
func (r Region) TimeLimit() time.Duration {
	if r.TimeLimitSec <= 0 {
		return DefaultTimeLimit
	}
	return time.Duration(r.TimeLimitSec) * time.Second
}

// Config is the root configuration document.
type Config struct {
	// RecordsDir receives per-session record files and the score log.
	RecordsDir string `json:"records_dir,omitempty"`

	// DatabasePath is the SQLite score store. Defaults to a file under
	// RecordsDir.
	DatabasePath string `json:"database_path,omitempty"`

	// Year tags the tabular score log, matching the cohort the
	// leaderboard collator groups by.
	Year int `json:"year,omitempty"`

	Regions map[string]Region `json:"regions"`
}

// Region resolves a region ID.
func (c *Config) Region(id string) (Region, error) {
	r, ok := c.Regions[id]
	if !ok {
		return Region{}, fmt.Errorf("%w: %q", ErrRegionNotFound, id)
	}
	return r, nil
}

// Validate checks the configuration invariants.
func (c *Config) Validate() error {
	if len(c.Regions) == 0 {
		return errors.New("config defines no regions")
	}
	for id, r := range c.Regions {
		if r.CT == "" {
			return fmt.Errorf("region %q: missing ct path", id)
		}
		if r.GTLabel == "" {
			return fmt.Errorf("region %q: missing gt_label path", id)
		}
		if r.TimeLimitSec < 0 {
			return fmt.Errorf("region %q: negative time limit", id)
		}
	}
	return nil
}

// applyDefaults fills unset fields after a successful parse.
func (c *Config) applyDefaults() {
	if c.RecordsDir == "" {
		c.RecordsDir = "records"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = filepath.Join(c.RecordsDir, "scores.db")
	}
	if c.Year == 0 {
		c.Year = fiscalYear(time.Now())
	}
}

// fiscalYear is April-based: March 2026 belongs to cohort 2025.
func fiscalYear(t time.Time) int {
	if t.Month() >= time.April {
		return t.Year()
	}
	return t.Year() - 1
}

// Load reads and validates a configuration file. The file must be
// JSON and under 1MB; anything larger is a sign the wrong file was
// pointed at.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.applyDefaults()

	// Region paths are relative to the config file, so a records tree
	// can be moved wholesale.
	base := filepath.Dir(cleanPath)
	for id, r := range cfg.Regions {
		if !filepath.IsAbs(r.CT) {
			r.CT = filepath.Join(base, r.CT)
		}
		if !filepath.IsAbs(r.GTLabel) {
			r.GTLabel = filepath.Join(base, r.GTLabel)
		}
		cfg.Regions[id] = r
	}
	if !filepath.IsAbs(cfg.RecordsDir) {
		cfg.RecordsDir = filepath.Join(base, cfg.RecordsDir)
	}
	if !filepath.IsAbs(cfg.DatabasePath) {
		cfg.DatabasePath = filepath.Join(base, cfg.DatabasePath)
	}

	return &cfg, nil
}
