package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keycore/internal/keycode"
	"keycore/internal/layer"
	"keycore/internal/rgb"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config does not validate: %v", err)
	}

	cs, err := cfg.ControllerSettings()
	if err != nil {
		t.Fatalf("ControllerSettings: %v", err)
	}
	if cs.HoldThreshold != 175 || cs.TappingTerm != 200 || cs.AutoMouseTimeout != 650 {
		t.Errorf("unexpected timings %+v", cs)
	}
	if cs.StartupMode != rgb.ModeCycleLeftRight {
		t.Errorf("unexpected startup mode %v", cs.StartupMode)
	}
	if cs.Indicators.LayerColors[layer.Symbols] != rgb.Blue {
		t.Errorf("symbols colour not carried: %v", cs.Indicators.LayerColors)
	}

	hs, err := cfg.HostSettings()
	if err != nil {
		t.Fatalf("HostSettings: %v", err)
	}
	if hs.Combos != nil {
		t.Errorf("expected nil combos (built-in table), got %v", hs.Combos)
	}
	if hs.TickInterval != time.Millisecond {
		t.Errorf("unexpected tick interval %v", hs.TickInterval)
	}
}

func TestConfigPath(t *testing.T) {
	path := ConfigPath()
	if !strings.HasSuffix(path, "config.toml") {
		t.Errorf("expected path ending with config.toml, got %s", path)
	}
	if !strings.Contains(path, "keycore") {
		t.Errorf("config path should contain keycore: %s", path)
	}
}

func TestDataDirOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("KEYCORE_DATA_DIR", dir)
	if DataDir() != dir {
		t.Errorf("expected %s, got %s", dir, DataDir())
	}
	if got := DefaultConfig().Trace.Path; got != filepath.Join(dir, "traces.db") {
		t.Errorf("trace path not under data dir: %s", got)
	}
}

func TestLoadNonexistent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, Version, cfg.Version)
	assert.Equal(t, 175, cfg.Timing.HoldThresholdMs)
}

func TestLoadPartialTOML(t *testing.T) {
	path := writeFile(t, "config.toml", `
version = 2

[timing]
hold_threshold_ms = 220

[indicators.layer_colors]
mouse = "#102030"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 220, cfg.Timing.HoldThresholdMs)
	assert.Equal(t, 200, cfg.Timing.TappingTermMs)

	cs, err := cfg.ControllerSettings()
	require.NoError(t, err)
	assert.Equal(t, uint32(220), cs.HoldThreshold)
	assert.Equal(t, rgb.Color{R: 0x10, G: 0x20, B: 0x30}, cs.Indicators.LayerColors[layer.Mouse])
	assert.Equal(t, rgb.Blue, cs.Indicators.LayerColors[layer.Symbols])
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "config.toml", "version = 2\n[timing]\nhold_ms = 100\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchema), "got %v", err)
}

func TestLoadInvalidTOML(t *testing.T) {
	path := writeFile(t, "config.toml", "[timing\nhold_threshold_ms = ")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMigratesVersionOne(t *testing.T) {
	path := writeFile(t, "config.toml", "[timing]\ncombo_term_ms = 0\nlayer_tap_term_ms = 0\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Version, cfg.Version)
	assert.Equal(t, 15, cfg.Timing.ComboTermMs)
	assert.Equal(t, 200, cfg.Timing.LayerTapTermMs)

	backups, err := filepath.Glob(path + ".backup-*")
	require.NoError(t, err)
	assert.Len(t, backups, 1)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "version = 2")
}

func TestSaveAndLoadFormats(t *testing.T) {
	for _, ext := range SupportedConfigFormats() {
		t.Run(ext, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Timing.TappingTermMs = 180
			cfg.Indicators.LayerColors["one-hand"] = "#00ff00"
			cfg.Keymap.Combos = []ComboConfig{{Name: "esc", Keys: []string{"KC_J", "KC_K"}, Output: "KC_ESC"}}

			path := filepath.Join(t.TempDir(), "config."+ext)
			require.NoError(t, SaveConfig(cfg, path))

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, cfg.Timing, loaded.Timing)
			assert.Equal(t, cfg.Indicators.LayerColors, loaded.Indicators.LayerColors)
			assert.Equal(t, cfg.Keymap.Combos, loaded.Keymap.Combos)
			assert.Equal(t, cfg.Controller.StartupHSV, loaded.Controller.StartupHSV)
		})
	}
}

func TestParseAutoDetect(t *testing.T) {
	cfg, err := Parse([]byte(`{"version": 2, "timing": {"tapping_term_ms": 150}}`), "")
	require.NoError(t, err)
	assert.Equal(t, 150, cfg.Timing.TappingTermMs)

	cfg, err = Parse([]byte("version = 2\n[controller]\nturbo_cpi = 4000\n"), "")
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Controller.TurboCPI)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timing.TickIntervalMs = 0
	cfg.Controller.StartupMode = "SPARKLE"
	cfg.Indicators.NumberLEDs = []int{1, 2, 3}
	cfg.Indicators.LayerColors["nav"] = "#000000"
	cfg.IPC.Permissions = "777"
	cfg.Keymap.Combos = []ComboConfig{{Name: "x", Keys: []string{"KC_A"}, Output: "KC_NOPE"}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	fields := make(map[string]bool)
	for _, e := range verrs {
		fields[e.Field] = true
	}
	for _, want := range []string{
		"timing.tick_interval_ms",
		"controller.startup_mode",
		"indicators.number_leds",
		"indicators.layer_colors.nav",
		"ipc.permissions",
		"keymap.combos[0].keys",
		"keymap.combos[0]",
	} {
		assert.True(t, fields[want], "missing error for %s in %v", want, verrs)
	}
}

func TestValidateKeymapPathIsWarning(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Keymap.Path = filepath.Join(t.TempDir(), "missing.keymap")

	assert.NoError(t, cfg.Validate())
	warnings := ValidateAll(cfg)
	require.Len(t, warnings, 1)
	assert.Equal(t, "keymap.path", warnings[0].Field)
}

func TestHostSettingsCombos(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Keymap.CombosEnabled = false
	hs, err := cfg.HostSettings()
	require.NoError(t, err)
	assert.NotNil(t, hs.Combos)
	assert.Empty(t, hs.Combos)

	cfg.Keymap.CombosEnabled = true
	cfg.Keymap.Combos = []ComboConfig{{Name: "undo", Keys: []string{"KC_Z", "KC_X"}, Output: "C(KC_Z)"}}
	hs, err = cfg.HostSettings()
	require.NoError(t, err)
	require.Len(t, hs.Combos, 1)
	assert.Equal(t, []keycode.Code{keycode.Z, keycode.X}, hs.Combos[0].Keys)
	assert.Equal(t, keycode.Ctrled(keycode.Z), hs.Combos[0].Output)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("KEYCORE_LOG_LEVEL", "debug")
	t.Setenv("KEYCORE_TRACE_PATH", "/tmp/keycore-test.db")
	t.Setenv("KEYCORE_NOTIFY", "true")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Trace.Enabled)
	assert.Equal(t, "/tmp/keycore-test.db", cfg.Trace.Path)
	assert.True(t, cfg.Notify.Enabled)
}

func TestClone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Keymap.Combos = []ComboConfig{{Name: "a", Keys: []string{"KC_A", "KC_B"}, Output: "KC_C"}}
	clone := cfg.Clone()

	clone.Controller.StartupHSV[0] = 99
	clone.Indicators.LayerColors["base"] = "#ffffff"
	clone.Keymap.Combos[0].Keys[0] = "KC_Q"

	assert.Equal(t, 0, cfg.Controller.StartupHSV[0])
	assert.NotContains(t, cfg.Indicators.LayerColors, "base")
	assert.Equal(t, "KC_A", cfg.Keymap.Combos[0].Keys[0])
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.IPC.SocketPath = filepath.Join(dir, "run", "keycored.sock")
	cfg.Trace.Enabled = true
	cfg.Trace.Path = filepath.Join(dir, "data", "traces.db")

	require.NoError(t, cfg.EnsureDirectories())
	for _, sub := range []string{"run", "data"} {
		info, err := os.Stat(filepath.Join(dir, sub))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestStartupRGB(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Controller.StartupHSV = []int{10, 20, 30}
	snap := cfg.StartupRGB()
	assert.Equal(t, rgb.ModeCycleLeftRight, snap.Mode)
	assert.Equal(t, rgb.HSV{H: 10, S: 20, V: 30}, snap.HSV)
}

func TestLoadKeymap(t *testing.T) {
	cfg := DefaultConfig()
	km, err := cfg.LoadKeymap()
	require.NoError(t, err)
	assert.NotNil(t, km)

	cfg.Keymap.Path = filepath.Join(t.TempDir(), "missing.keymap")
	_, err = cfg.LoadKeymap()
	assert.Error(t, err)
}

func TestLoaderWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, SaveConfig(DefaultConfig(), path))

	loader := NewLoader(path)
	loader.debounce = 50 * time.Millisecond
	_, err := loader.Load()
	require.NoError(t, err)

	changed := make(chan *Config, 4)
	loader.OnChange(func(c *Config) { changed <- c })
	require.NoError(t, loader.Watch())
	defer loader.Close()

	cfg := DefaultConfig()
	cfg.Timing.HoldThresholdMs = 250
	require.NoError(t, SaveConfig(cfg, path))

	select {
	case c := <-changed:
		assert.Equal(t, 250, c.Timing.HoldThresholdMs)
		assert.Equal(t, 250, loader.Config().Timing.HoldThresholdMs)
	case err := <-loader.Errors():
		t.Fatalf("reload error: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after write")
	}

	require.NoError(t, os.WriteFile(path, []byte("version = 2\n[timing]\ntick_interval_ms = 500\n"), 0o600))
	select {
	case err := <-loader.Errors():
		assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
	case <-changed:
		t.Fatal("invalid config was applied")
	case <-time.After(3 * time.Second):
		t.Fatal("no error after invalid write")
	}
	assert.Equal(t, 250, loader.Config().Timing.HoldThresholdMs)
}
