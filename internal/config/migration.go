package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"keycore/internal/host"
	"keycore/internal/keymap"
)

// MigrationResult contains the result of a configuration migration.
type MigrationResult struct {
	FromVersion int
	ToVersion   int
	Backup      string
	Changes     []string
	Warnings    []string
}

// MigrateConfig migrates a configuration from an older version to the
// current version. When configPath is set the old file is backed up and
// the migrated config written in its place.
func MigrateConfig(cfg *Config, configPath string) (*MigrationResult, error) {
	if cfg.Version >= Version {
		return nil, nil
	}

	result := &MigrationResult{
		FromVersion: cfg.Version,
		ToVersion:   Version,
	}

	if configPath != "" {
		backup, err := backupConfig(configPath)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("could not create backup: %v", err))
		} else {
			result.Backup = backup
		}
	}

	for cfg.Version < Version {
		changes, warnings, err := applyMigration(cfg)
		if err != nil {
			return result, fmt.Errorf("migration from v%d to v%d failed: %w", cfg.Version, cfg.Version+1, err)
		}
		result.Changes = append(result.Changes, changes...)
		result.Warnings = append(result.Warnings, warnings...)
	}

	if configPath != "" {
		if err := SaveConfig(cfg, configPath); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("could not save migrated config: %v", err))
		}
	}
	return result, nil
}

func applyMigration(cfg *Config) (changes []string, warnings []string, err error) {
	switch cfg.Version {
	case 1:
		changes, warnings = migrateV1ToV2(cfg)
	default:
		return nil, nil, fmt.Errorf("unknown version %d", cfg.Version)
	}
	cfg.Version++
	return changes, warnings, nil
}

// migrateV1ToV2 fills the timings that version 1 files did not have.
// Version 1 had no combo or layer-tap terms.
func migrateV1ToV2(cfg *Config) (changes []string, warnings []string) {
	if cfg.Timing.ComboTermMs == 0 {
		cfg.Timing.ComboTermMs = keymap.DefaultComboTerm
		changes = append(changes, fmt.Sprintf("timing.combo_term_ms set to %d", keymap.DefaultComboTerm))
	}
	if cfg.Timing.LayerTapTermMs == 0 {
		cfg.Timing.LayerTapTermMs = host.DefaultLayerTapTerm
		changes = append(changes, fmt.Sprintf("timing.layer_tap_term_ms set to %d", host.DefaultLayerTapTerm))
	}
	if cfg.Timing.TickIntervalMs == 0 {
		cfg.Timing.TickIntervalMs = 1
		changes = append(changes, "timing.tick_interval_ms set to 1")
	}
	if cfg.Keymap.CombosEnabled && len(cfg.Keymap.Combos) == 0 {
		warnings = append(warnings, "keymap.combos empty, using built-in combos")
	}
	return changes, warnings
}

func backupConfig(configPath string) (string, error) {
	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read config: %w", err)
	}

	backupPath := configPath + ".backup-" + time.Now().Format("20060102-150405")
	if err := os.WriteFile(backupPath, data, 0o600); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	return backupPath, nil
}

// SaveConfig saves the configuration to a file. The format follows the
// extension and defaults to TOML.
func SaveConfig(cfg *Config, path string) error {
	cfg.mu.RLock()
	data, err := Encode(cfg, FormatFromExt(filepath.Ext(path)))
	cfg.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	// Write then rename so watchers never see a partial file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Encode renders cfg in the given format. An empty format means TOML.
func Encode(cfg *Config, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case FormatYAML:
		return yaml.Marshal(cfg)
	default:
		var buf bytes.Buffer
		buf.WriteString("# keycore configuration\n\n")
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
}
