package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"

	"keycore/internal/keycode"
	"keycore/internal/layer"
	"keycore/internal/rgb"
)

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// IsWarning returns true if this is a non-fatal validation issue.
func (e *ValidationError) IsWarning() bool {
	// The keymap file may be created after the config.
	return e.Field == "keymap.path"
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Is makes errors.Is(err, ErrInvalidConfig) hold for any ValidationErrors.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig
}

// Warnings returns only warning-level validation errors.
func (e ValidationErrors) Warnings() ValidationErrors {
	var warnings ValidationErrors
	for _, err := range e {
		if err.IsWarning() {
			warnings = append(warnings, err)
		}
	}
	return warnings
}

// Errors returns only error-level validation errors.
func (e ValidationErrors) Errors() ValidationErrors {
	var errs ValidationErrors
	for _, err := range e {
		if !err.IsWarning() {
			errs = append(errs, err)
		}
	}
	return errs
}

// HasErrors returns true if there are any non-warning errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e.Errors()) > 0
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max any) ValidationError {
	return ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}

// ValidateConfig performs comprehensive validation of the configuration.
// Warnings alone do not fail validation.
func ValidateConfig(c *Config) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateTiming(&c.Timing)...)
	errs = append(errs, validateController(&c.Controller)...)
	errs = append(errs, validateIndicators(&c.Indicators)...)
	errs = append(errs, validateKeymap(&c.Keymap)...)
	errs = append(errs, validateInput(&c.Input)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateTrace(&c.Trace)...)
	errs = append(errs, validateIPC(&c.IPC)...)
	errs = append(errs, validateMetrics(&c.Metrics)...)
	errs = append(errs, validateNotify(&c.Notify)...)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// ValidateAll is ValidateConfig but also returns warnings.
func ValidateAll(c *Config) ValidationErrors {
	err := ValidateConfig(c)
	var errs ValidationErrors
	if errors.As(err, &errs) {
		return errs
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return validateKeymap(&c.Keymap).Warnings()
}

func validateTiming(t *TimingConfig) ValidationErrors {
	var errs ValidationErrors

	ranges := []struct {
		field    string
		value    int
		min, max int
	}{
		{"timing.hold_threshold_ms", t.HoldThresholdMs, 1, 5000},
		{"timing.tapping_term_ms", t.TappingTermMs, 1, 5000},
		{"timing.auto_mouse_timeout_ms", t.AutoMouseTimeoutMs, 1, 60000},
		{"timing.show_mode_phase_ms", t.ShowModePhaseMs, 1, 10000},
		{"timing.rgb_cycle_ms", t.RGBCycleMs, 100, 3600000},
		{"timing.combo_term_ms", t.ComboTermMs, 1, 1000},
		{"timing.layer_tap_term_ms", t.LayerTapTermMs, 1, 5000},
		{"timing.tick_interval_ms", t.TickIntervalMs, 1, 50},
	}
	for _, r := range ranges {
		if r.value < r.min || r.value > r.max {
			errs = append(errs, RangeError(r.field, r.min, r.max))
		}
	}
	return errs
}

func validateController(c *ControllerConfig) ValidationErrors {
	var errs ValidationErrors

	if c.TurboCPI < 100 || c.TurboCPI > 16000 {
		errs = append(errs, RangeError("controller.turbo_cpi", 100, 16000))
	}
	if c.DefaultCPI < 100 || c.DefaultCPI > 16000 {
		errs = append(errs, RangeError("controller.default_cpi", 100, 16000))
	}
	if _, err := rgb.ParseMode(c.StartupMode); err != nil {
		errs = append(errs, ValidationError{
			Field:   "controller.startup_mode",
			Message: err.Error(),
		})
	}
	if len(c.StartupHSV) != 3 {
		errs = append(errs, ValidationError{
			Field:   "controller.startup_hsv",
			Message: fmt.Sprintf("need 3 components, got %d", len(c.StartupHSV)),
		})
	} else {
		for i, v := range c.StartupHSV {
			if v < 0 || v > 255 {
				errs = append(errs, RangeError(fmt.Sprintf("controller.startup_hsv[%d]", i), 0, 255))
			}
		}
	}
	return errs
}

func validateIndicators(ind *IndicatorsConfig) ValidationErrors {
	var errs ValidationErrors

	checkLED := func(field string, leds []int) {
		for i, led := range leds {
			if led < 0 || led >= rgb.LEDCount {
				errs = append(errs, RangeError(fmt.Sprintf("%s[%d]", field, i), 0, rgb.LEDCount-1))
			}
		}
	}
	checkLED("indicators.thumb_leds", ind.ThumbLEDs)
	checkLED("indicators.number_leds", ind.NumberLEDs)

	if len(ind.NumberLEDs) != 10 {
		errs = append(errs, ValidationError{
			Field:   "indicators.number_leds",
			Message: fmt.Sprintf("need one LED per digit (10), got %d", len(ind.NumberLEDs)),
		})
	}

	for name, hex := range ind.LayerColors {
		if _, err := layer.ParseName(name); err != nil {
			errs = append(errs, ValidationError{
				Field:   "indicators.layer_colors." + name,
				Message: err.Error(),
			})
			continue
		}
		if _, err := rgb.ParseColor(hex); err != nil {
			errs = append(errs, ValidationError{
				Field:   "indicators.layer_colors." + name,
				Message: err.Error(),
			})
		}
	}

	for field, hex := range map[string]string{
		"indicators.locked_color": ind.LockedColor,
		"indicators.flash_color":  ind.FlashColor,
		"indicators.light_color":  ind.LightColor,
	} {
		if _, err := rgb.ParseColor(hex); err != nil {
			errs = append(errs, ValidationError{Field: field, Message: err.Error()})
		}
	}
	return errs
}

func validateKeymap(k *KeymapConfig) ValidationErrors {
	var errs ValidationErrors

	if k.Path != "" {
		if _, err := os.Stat(expandPath(k.Path)); err != nil {
			errs = append(errs, ValidationError{
				Field:   "keymap.path",
				Message: fmt.Sprintf("keymap file not readable: %v", err),
			})
		}
	}

	names := make(map[string]bool, len(k.Combos))
	for i, cc := range k.Combos {
		field := fmt.Sprintf("keymap.combos[%d]", i)
		if cc.Name == "" {
			errs = append(errs, ValidationError{Field: field + ".name", Message: "required field is missing"})
		} else if names[cc.Name] {
			errs = append(errs, ValidationError{Field: field + ".name", Message: "duplicate combo name " + cc.Name})
		}
		names[cc.Name] = true

		if len(cc.Keys) < 2 {
			errs = append(errs, ValidationError{Field: field + ".keys", Message: "a combo needs at least 2 keys"})
		}
		for _, key := range append(append([]string(nil), cc.Keys...), cc.Output) {
			if _, err := keycode.Parse(key); err != nil {
				errs = append(errs, ValidationError{Field: field, Message: err.Error()})
			}
		}
	}
	return errs
}

func validateInput(in *InputConfig) ValidationErrors {
	var errs ValidationErrors

	if in.UinputName == "" {
		errs = append(errs, ValidationError{
			Field:   "input.uinput_name",
			Message: "required field is missing",
		})
	}
	if in.MouseRepeatMs < 1 || in.MouseRepeatMs > 1000 {
		errs = append(errs, RangeError("input.mouse_repeat_ms", 1, 1000))
	}
	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "file path is required when output includes a file",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}
	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}
	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "max age cannot be negative",
		})
	}
	return errs
}

func validateTrace(t *TraceConfig) ValidationErrors {
	var errs ValidationErrors

	if !t.Enabled {
		return errs
	}
	if t.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "trace.path",
			Message: "database path is required when tracing is enabled",
		})
	}
	if t.BatchSize < 1 {
		errs = append(errs, ValidationError{Field: "trace.batch_size", Message: "batch size must be at least 1"})
	}
	if t.FlushMs < 1 {
		errs = append(errs, ValidationError{Field: "trace.flush_ms", Message: "flush interval must be at least 1 ms"})
	}
	return errs
}

var permissionsPattern = regexp.MustCompile(`^0[0-7]{3}$`)

func validateIPC(i *IPCConfig) ValidationErrors {
	var errs ValidationErrors

	if !i.Enabled {
		return errs
	}

	if i.SocketPath == "" {
		errs = append(errs, ValidationError{
			Field:   "ipc.socket_path",
			Message: "socket path is required when IPC is enabled",
		})
	}
	if i.Permissions != "" && !permissionsPattern.MatchString(i.Permissions) {
		errs = append(errs, ValidationError{
			Field:   "ipc.permissions",
			Message: fmt.Sprintf("invalid permissions format: %s (expected octal like 0600)", i.Permissions),
		})
	}
	if i.MaxConnections < 1 {
		errs = append(errs, ValidationError{
			Field:   "ipc.max_connections",
			Message: "max connections must be at least 1",
		})
	}
	if i.TimeoutSec < 1 {
		errs = append(errs, ValidationError{
			Field:   "ipc.timeout_sec",
			Message: "timeout must be at least 1 second",
		})
	}
	return errs
}

func validateMetrics(m *MetricsConfig) ValidationErrors {
	var errs ValidationErrors

	if !m.Enabled {
		return errs
	}
	if _, _, err := net.SplitHostPort(m.Listen); err != nil {
		errs = append(errs, ValidationError{
			Field:   "metrics.listen",
			Message: fmt.Sprintf("invalid listen address %q: %v", m.Listen, err),
		})
	}
	if !strings.HasPrefix(m.Path, "/") {
		errs = append(errs, ValidationError{
			Field:   "metrics.path",
			Message: "path must start with /",
		})
	}
	return errs
}

func validateNotify(n *NotifyConfig) ValidationErrors {
	var errs ValidationErrors

	if n.TimeoutMs < 0 {
		errs = append(errs, ValidationError{Field: "notify.timeout_ms", Message: "timeout cannot be negative"})
	}
	if n.CoalesceMs < 0 {
		errs = append(errs, ValidationError{Field: "notify.coalesce_ms", Message: "coalesce window cannot be negative"})
	}
	if n.Enabled && n.AppName == "" {
		errs = append(errs, ValidationError{Field: "notify.app_name", Message: "required field is missing"})
	}
	return errs
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home + path[1:]
	}
	return path
}
