// Package config handles configuration loading, validation and hot reload
// for the keycore daemon and tools.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"keycore/internal/controller"
	"keycore/internal/host"
	"keycore/internal/keycode"
	"keycore/internal/keymap"
	"keycore/internal/layer"
	"keycore/internal/logging"
	"keycore/internal/modes"
	"keycore/internal/rgb"
	"keycore/internal/showmode"
	"keycore/internal/tapdance"
	"keycore/internal/taphold"
)

// Version is the current configuration schema version.
const Version = 2

// Config holds the complete configuration.
type Config struct {
	// Version is the configuration schema version for migrations.
	Version int `toml:"version" json:"version" yaml:"version"`

	Timing     TimingConfig     `toml:"timing" json:"timing" yaml:"timing"`
	Controller ControllerConfig `toml:"controller" json:"controller" yaml:"controller"`
	Indicators IndicatorsConfig `toml:"indicators" json:"indicators" yaml:"indicators"`
	Keymap     KeymapConfig     `toml:"keymap" json:"keymap" yaml:"keymap"`
	Input      InputConfig      `toml:"input" json:"input" yaml:"input"`
	Logging    LoggingConfig    `toml:"logging" json:"logging" yaml:"logging"`
	Trace      TraceConfig      `toml:"trace" json:"trace" yaml:"trace"`
	IPC        IPCConfig        `toml:"ipc" json:"ipc" yaml:"ipc"`
	Metrics    MetricsConfig    `toml:"metrics" json:"metrics" yaml:"metrics"`
	Notify     NotifyConfig     `toml:"notify" json:"notify" yaml:"notify"`

	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// TimingConfig holds every timing threshold, in milliseconds.
type TimingConfig struct {
	// HoldThresholdMs is how long a tap/hold key must be held to fire its
	// hold action.
	HoldThresholdMs int `toml:"hold_threshold_ms" json:"hold_threshold_ms" yaml:"hold_threshold_ms"`

	// TappingTermMs closes a tap-dance sequence and decides tap vs hold.
	TappingTermMs int `toml:"tapping_term_ms" json:"tapping_term_ms" yaml:"tapping_term_ms"`

	// AutoMouseTimeoutMs is how long the mouse layer stays up after the
	// pointer stops.
	AutoMouseTimeoutMs int `toml:"auto_mouse_timeout_ms" json:"auto_mouse_timeout_ms" yaml:"auto_mouse_timeout_ms"`

	// ShowModePhaseMs is the length of each on and off phase of a digit flash.
	ShowModePhaseMs int `toml:"show_mode_phase_ms" json:"show_mode_phase_ms" yaml:"show_mode_phase_ms"`

	// RGBCycleMs is the auto-cycle interval.
	RGBCycleMs int `toml:"rgb_cycle_ms" json:"rgb_cycle_ms" yaml:"rgb_cycle_ms"`

	// ComboTermMs is the window for combo keys.
	ComboTermMs int `toml:"combo_term_ms" json:"combo_term_ms" yaml:"combo_term_ms"`

	// LayerTapTermMs is the hold time for LT() keys.
	LayerTapTermMs int `toml:"layer_tap_term_ms" json:"layer_tap_term_ms" yaml:"layer_tap_term_ms"`

	// TickIntervalMs is the controller tick cadence.
	TickIntervalMs int `toml:"tick_interval_ms" json:"tick_interval_ms" yaml:"tick_interval_ms"`
}

// ControllerConfig holds the non-timing controller settings.
type ControllerConfig struct {
	// ExitTriggersTurbo makes KC_EXIT also switch the pointer to turbo speed.
	ExitTriggersTurbo bool `toml:"exit_triggers_turbo" json:"exit_triggers_turbo" yaml:"exit_triggers_turbo"`

	// TurboCPI is the pointer CPI while turbo is held.
	TurboCPI int `toml:"turbo_cpi" json:"turbo_cpi" yaml:"turbo_cpi"`

	// DefaultCPI is the pointer CPI otherwise.
	DefaultCPI int `toml:"default_cpi" json:"default_cpi" yaml:"default_cpi"`

	// StartupMode is the RGB effect applied at start, by name.
	StartupMode string `toml:"startup_mode" json:"startup_mode" yaml:"startup_mode"`

	// StartupAutoCycle starts with RGB auto-cycling on.
	StartupAutoCycle bool `toml:"startup_auto_cycle" json:"startup_auto_cycle" yaml:"startup_auto_cycle"`

	// StartupHSV is the initial hue, saturation and value of the matrix.
	StartupHSV []int `toml:"startup_hsv" json:"startup_hsv" yaml:"startup_hsv"`
}

// IndicatorsConfig describes the LEDs used for layer and mode indication.
type IndicatorsConfig struct {
	ThumbLEDs  []int `toml:"thumb_leds" json:"thumb_leds" yaml:"thumb_leds"`
	NumberLEDs []int `toml:"number_leds" json:"number_leds" yaml:"number_leds"`

	// LayerColors maps layer names to "#rrggbb" colours.
	LayerColors map[string]string `toml:"layer_colors" json:"layer_colors" yaml:"layer_colors"`

	LockedColor string `toml:"locked_color" json:"locked_color" yaml:"locked_color"`
	FlashColor  string `toml:"flash_color" json:"flash_color" yaml:"flash_color"`
	LightColor  string `toml:"light_color" json:"light_color" yaml:"light_color"`
}

// KeymapConfig selects the keymap and combos.
type KeymapConfig struct {
	// Path is a LAYOUT(...) source file. Empty selects the built-in keymap.
	Path string `toml:"path" json:"path" yaml:"path"`

	// CombosEnabled turns combo detection on.
	CombosEnabled bool `toml:"combos_enabled" json:"combos_enabled" yaml:"combos_enabled"`

	// Combos replaces the built-in combo table when non-empty.
	Combos []ComboConfig `toml:"combos" json:"combos" yaml:"combos"`
}

// ComboConfig is one combo in keycode expression form.
type ComboConfig struct {
	Name   string   `toml:"name" json:"name" yaml:"name"`
	Keys   []string `toml:"keys" json:"keys" yaml:"keys"`
	Output string   `toml:"output" json:"output" yaml:"output"`
}

// InputConfig selects the evdev input and uinput output devices.
type InputConfig struct {
	// Device is a device path or a name substring. Empty picks the first
	// keyboard.
	Device string `toml:"device" json:"device" yaml:"device"`

	// Pointer is an optional pointer device whose motion is relayed.
	Pointer string `toml:"pointer" json:"pointer" yaml:"pointer"`

	// Grab takes the devices exclusively.
	Grab bool `toml:"grab" json:"grab" yaml:"grab"`

	// UinputName is the name of the virtual output device.
	UinputName string `toml:"uinput_name" json:"uinput_name" yaml:"uinput_name"`

	// MouseRepeatMs is the repeat interval of held mouse movement keys.
	MouseRepeatMs int `toml:"mouse_repeat_ms" json:"mouse_repeat_ms" yaml:"mouse_repeat_ms"`

	// HotplugWatch relists devices when /dev/input changes.
	HotplugWatch bool `toml:"hotplug_watch" json:"hotplug_watch" yaml:"hotplug_watch"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stdout", "stderr", "file" or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file when Output includes a file.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	MaxSizeMB  int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
}

// TraceConfig controls session recording.
type TraceConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Path is the SQLite database file.
	Path string `toml:"path" json:"path" yaml:"path"`

	BatchSize int `toml:"batch_size" json:"batch_size" yaml:"batch_size"`
	FlushMs   int `toml:"flush_ms" json:"flush_ms" yaml:"flush_ms"`
}

// IPCConfig holds the control socket configuration.
type IPCConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`

	// Permissions is the socket mode (e.g., "0600").
	Permissions string `toml:"permissions" json:"permissions" yaml:"permissions"`

	MaxConnections int `toml:"max_connections" json:"max_connections" yaml:"max_connections"`
	TimeoutSec     int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`
}

// MetricsConfig controls the metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Listen  string `toml:"listen" json:"listen" yaml:"listen"`
	Path    string `toml:"path" json:"path" yaml:"path"`
}

// NotifyConfig controls desktop notifications.
type NotifyConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	AppName string `toml:"app_name" json:"app_name" yaml:"app_name"`

	// TimeoutMs is how long a notification stays up. Zero uses the server
	// default.
	TimeoutMs int `toml:"timeout_ms" json:"timeout_ms" yaml:"timeout_ms"`

	// CoalesceMs merges changes closer together than this into one
	// notification.
	CoalesceMs int `toml:"coalesce_ms" json:"coalesce_ms" yaml:"coalesce_ms"`
}

// DefaultConfig returns a configuration with the stock settings.
func DefaultConfig() *Config {
	dir := DataDir()
	ind := controller.DefaultIndicators()

	colors := make(map[string]string, len(ind.LayerColors))
	for id, c := range ind.LayerColors {
		colors[id.Name()] = c.String()
	}

	return &Config{
		Version: Version,
		Timing: TimingConfig{
			HoldThresholdMs:    taphold.DefaultThreshold,
			TappingTermMs:      tapdance.DefaultTerm,
			AutoMouseTimeoutMs: modes.DefaultAutoMouseTimeout,
			ShowModePhaseMs:    showmode.DefaultPhase,
			RGBCycleMs:         modes.DefaultCycleInterval,
			ComboTermMs:        keymap.DefaultComboTerm,
			LayerTapTermMs:     host.DefaultLayerTapTerm,
			TickIntervalMs:     1,
		},
		Controller: ControllerConfig{
			ExitTriggersTurbo: true,
			TurboCPI:          3000,
			DefaultCPI:        1000,
			StartupMode:       rgb.ModeCycleLeftRight.String(),
			StartupAutoCycle:  true,
			StartupHSV:        []int{0, 255, 255},
		},
		Indicators: IndicatorsConfig{
			ThumbLEDs:   append([]int(nil), ind.ThumbLEDs...),
			NumberLEDs:  append([]int(nil), ind.NumberLEDs[:]...),
			LayerColors: colors,
			LockedColor: ind.LockedColor.String(),
			FlashColor:  ind.FlashColor.String(),
			LightColor:  ind.LightColor.String(),
		},
		Keymap: KeymapConfig{
			CombosEnabled: true,
		},
		Input: InputConfig{
			Grab:          true,
			UinputName:    "keycore virtual keyboard",
			MouseRepeatMs: 16,
			HotplugWatch:  true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   logging.DefaultLogPath(),
			MaxSizeMB:  20,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
		Trace: TraceConfig{
			Enabled:   false,
			Path:      filepath.Join(dir, "traces.db"),
			BatchSize: 256,
			FlushMs:   250,
		},
		IPC: IPCConfig{
			Enabled:        true,
			SocketPath:     DefaultSocketPath(),
			Permissions:    "0600",
			MaxConnections: 8,
			TimeoutSec:     30,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9477",
			Path:    "/metrics",
		},
		Notify: NotifyConfig{
			Enabled:    false,
			AppName:    "keycore",
			TimeoutMs:  1500,
			CoalesceMs: 250,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories of the configured files.
func (c *Config) EnsureDirectories() error {
	dirs := []string{filepath.Dir(c.IPC.SocketPath)}
	if c.Trace.Enabled {
		dirs = append(dirs, filepath.Dir(c.Trace.Path))
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ApplyEnvOverrides applies KEYCORE_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("KEYCORE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("KEYCORE_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("KEYCORE_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("KEYCORE_SOCKET_PATH"); v != "" {
		c.IPC.SocketPath = v
	}
	if v := os.Getenv("KEYCORE_DEVICE"); v != "" {
		c.Input.Device = v
	}
	if v := os.Getenv("KEYCORE_TRACE_PATH"); v != "" {
		c.Trace.Path = v
		c.Trace.Enabled = true
	}
	if v := os.Getenv("KEYCORE_METRICS_LISTEN"); v != "" {
		c.Metrics.Listen = v
		c.Metrics.Enabled = true
	}
	if v := os.Getenv("KEYCORE_NOTIFY"); v != "" {
		if on, err := strconv.ParseBool(v); err == nil {
			c.Notify.Enabled = on
		}
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := &Config{
		Version:    c.Version,
		Timing:     c.Timing,
		Controller: c.Controller,
		Indicators: c.Indicators,
		Keymap:     c.Keymap,
		Input:      c.Input,
		Logging:    c.Logging,
		Trace:      c.Trace,
		IPC:        c.IPC,
		Metrics:    c.Metrics,
		Notify:     c.Notify,
	}
	clone.Controller.StartupHSV = append([]int(nil), c.Controller.StartupHSV...)
	clone.Indicators.ThumbLEDs = append([]int(nil), c.Indicators.ThumbLEDs...)
	clone.Indicators.NumberLEDs = append([]int(nil), c.Indicators.NumberLEDs...)
	clone.Indicators.LayerColors = make(map[string]string, len(c.Indicators.LayerColors))
	for k, v := range c.Indicators.LayerColors {
		clone.Indicators.LayerColors[k] = v
	}
	clone.Keymap.Combos = make([]ComboConfig, len(c.Keymap.Combos))
	for i, cc := range c.Keymap.Combos {
		cc.Keys = append([]string(nil), cc.Keys...)
		clone.Keymap.Combos[i] = cc
	}
	return clone
}

// ControllerSettings converts the configuration to controller settings.
func (c *Config) ControllerSettings() (controller.Config, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	mode, err := rgb.ParseMode(c.Controller.StartupMode)
	if err != nil {
		return controller.Config{}, err
	}
	ind, err := c.Indicators.settings()
	if err != nil {
		return controller.Config{}, err
	}
	return controller.Config{
		HoldThreshold:     uint32(c.Timing.HoldThresholdMs),
		TappingTerm:       uint32(c.Timing.TappingTermMs),
		AutoMouseTimeout:  uint32(c.Timing.AutoMouseTimeoutMs),
		ShowModePhase:     uint32(c.Timing.ShowModePhaseMs),
		CycleInterval:     uint32(c.Timing.RGBCycleMs),
		ExitTriggersTurbo: c.Controller.ExitTriggersTurbo,
		TurboCPI:          uint16(c.Controller.TurboCPI),
		StartupMode:       mode,
		StartupAutoCycle:  c.Controller.StartupAutoCycle,
		Indicators:        ind,
	}, nil
}

// StartupRGB returns the RGB state the matrix starts in.
func (c *Config) StartupRGB() rgb.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	mode, _ := rgb.ParseMode(c.Controller.StartupMode)
	var hsv rgb.HSV
	if v := c.Controller.StartupHSV; len(v) == 3 {
		hsv = rgb.HSV{H: uint8(v[0]), S: uint8(v[1]), V: uint8(v[2])}
	}
	return rgb.Snapshot{Mode: mode, HSV: hsv}
}

func (ic IndicatorsConfig) settings() (controller.Indicators, error) {
	ind := controller.Indicators{
		ThumbLEDs:   append([]int(nil), ic.ThumbLEDs...),
		LayerColors: make(map[layer.ID]rgb.Color, len(ic.LayerColors)),
	}
	if len(ic.NumberLEDs) != len(ind.NumberLEDs) {
		return ind, fmt.Errorf("indicators: need %d number LEDs, got %d", len(ind.NumberLEDs), len(ic.NumberLEDs))
	}
	copy(ind.NumberLEDs[:], ic.NumberLEDs)

	for name, hex := range ic.LayerColors {
		id, err := layer.ParseName(name)
		if err != nil {
			return ind, err
		}
		col, err := rgb.ParseColor(hex)
		if err != nil {
			return ind, err
		}
		ind.LayerColors[id] = col
	}

	var err error
	for _, f := range []struct {
		dst *rgb.Color
		src string
	}{
		{&ind.LockedColor, ic.LockedColor},
		{&ind.FlashColor, ic.FlashColor},
		{&ind.LightColor, ic.LightColor},
	} {
		if *f.dst, err = rgb.ParseColor(f.src); err != nil {
			return ind, err
		}
	}
	return ind, nil
}

// HostSettings converts the configuration to host loop settings.
func (c *Config) HostSettings() (host.Config, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hc := host.Config{
		TickInterval: time.Duration(c.Timing.TickIntervalMs) * time.Millisecond,
		LayerTapTerm: uint32(c.Timing.LayerTapTermMs),
		ComboTerm:    uint32(c.Timing.ComboTermMs),
	}
	if !c.Keymap.CombosEnabled {
		hc.Combos = []keymap.Combo{}
		return hc, nil
	}
	for _, cc := range c.Keymap.Combos {
		combo, err := cc.combo()
		if err != nil {
			return hc, err
		}
		hc.Combos = append(hc.Combos, combo)
	}
	return hc, nil
}

func (cc ComboConfig) combo() (keymap.Combo, error) {
	combo := keymap.Combo{Name: cc.Name}
	for _, k := range cc.Keys {
		kc, err := keycode.Parse(k)
		if err != nil {
			return combo, fmt.Errorf("combo %s: %w", cc.Name, err)
		}
		combo.Keys = append(combo.Keys, kc)
	}
	out, err := keycode.Parse(cc.Output)
	if err != nil {
		return combo, fmt.Errorf("combo %s: %w", cc.Name, err)
	}
	combo.Output = out
	return combo, nil
}

// LoggingSettings converts the logging section.
func (c *Config) LoggingSettings(component string) (*logging.Config, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(c.Logging.Format)
	if err != nil {
		return nil, err
	}
	return &logging.Config{
		Level:      level,
		Format:     format,
		Output:     c.Logging.Output,
		FilePath:   c.Logging.FilePath,
		MaxSize:    int64(c.Logging.MaxSizeMB),
		MaxBackups: c.Logging.MaxBackups,
		MaxAge:     c.Logging.MaxAgeDays,
		Compress:   true,
		Component:  component,
	}, nil
}
