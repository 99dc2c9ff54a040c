package metrics

import (
	"time"

	"keycore/internal/controller"
	"keycore/internal/keycode"
	"keycore/internal/layer"
	"keycore/internal/timer"
)

// KeycoreMetrics holds the daemon's metrics. It observes the host loop and
// receives controller events; both run on the loop goroutine, and every
// metric is safe to read from others.
type KeycoreMetrics struct {
	registry *Registry
	start    time.Time

	// Counters
	KeyPresses    *Counter
	KeyReleases   *Counter
	PassThrough   *Counter
	Commands      *Counter
	Taps          *Counter
	Holds         *Counter
	LayerChanges  *Counter
	RGBChanges    *Counter
	Ticks         *Counter
	BusyTicks     *Counter
	Resets        *Counter
	PointerMotion *Counter

	// Gauges
	ActiveLayers  *Gauge
	HighestLayer  *Gauge
	UptimeSeconds *Gauge

	// Histograms
	KeyHoldTime *Histogram

	pressedAt map[keycode.Code]timer.Time
}

// NewKeycoreMetrics creates and registers all keycored metrics.
func NewKeycoreMetrics(registry *Registry) *KeycoreMetrics {
	if registry == nil {
		registry = NewRegistry("keycore", "")
	}

	return &KeycoreMetrics{
		registry: registry,
		start:    time.Now(),

		KeyPresses: registry.RegisterCounter(
			"key_events_total", "Key transitions fed to the controller",
			Labels{"state": "press"},
		),
		KeyReleases: registry.RegisterCounter(
			"key_events_total", "Key transitions fed to the controller",
			Labels{"state": "release"},
		),
		PassThrough: registry.RegisterCounter(
			"pass_through_total", "Key transitions left to default handling",
			nil,
		),
		Commands: registry.RegisterCounter(
			"commands_total", "Output commands emitted",
			nil,
		),
		Taps: registry.RegisterCounter(
			"taps_total", "Tap/hold keys resolved as taps",
			nil,
		),
		Holds: registry.RegisterCounter(
			"holds_total", "Tap/hold keys resolved as holds",
			nil,
		),
		LayerChanges: registry.RegisterCounter(
			"layer_changes_total", "Layer state transitions",
			nil,
		),
		RGBChanges: registry.RegisterCounter(
			"rgb_mode_changes_total", "RGB effect changes",
			nil,
		),
		Ticks: registry.RegisterCounter(
			"ticks_total", "Controller ticks",
			nil,
		),
		BusyTicks: registry.RegisterCounter(
			"busy_ticks_total", "Ticks that emitted commands or refreshed indicators",
			nil,
		),
		Resets: registry.RegisterCounter(
			"resets_total", "Controller resets",
			nil,
		),
		PointerMotion: registry.RegisterCounter(
			"pointer_motion_total", "Ticks that carried pointer motion",
			nil,
		),

		ActiveLayers: registry.RegisterGauge(
			"active_layers", "Bitmask of active layers",
			nil,
		),
		HighestLayer: registry.RegisterGauge(
			"highest_layer", "Highest active layer id",
			nil,
		),
		UptimeSeconds: registry.RegisterGauge(
			"uptime_seconds", "Seconds since the metrics were created",
			nil,
		),

		KeyHoldTime: registry.RegisterHistogram(
			"key_hold_seconds", "Time between press and release of a key",
			nil, HoldBuckets,
		),

		pressedAt: make(map[keycode.Code]timer.Time),
	}
}

// Registry returns the registry the metrics live in.
func (m *KeycoreMetrics) Registry() *Registry {
	return m.registry
}

// Dance returns the counter for one tap-dance outcome.
func (m *KeycoreMetrics) Dance(outcome string) *Counter {
	return m.registry.RegisterCounter(
		"dance_outcomes_total", "Tap-dance sequences by outcome",
		Labels{"outcome": outcome},
	)
}

// Mode returns the counter for changes of one mode.
func (m *KeycoreMetrics) Mode(name string, on bool) *Counter {
	state := "off"
	if on {
		state = "on"
	}
	return m.registry.RegisterCounter(
		"mode_changes_total", "Mode transitions by mode and new state",
		Labels{"mode": name, "state": state},
	)
}

func (m *KeycoreMetrics) result(r controller.Result) {
	m.Commands.Add(uint64(len(r.Commands)))
}

// ObserveInit implements host.Observer.
func (m *KeycoreMetrics) ObserveInit(now timer.Time, r controller.Result) {
	m.result(r)
}

// ObserveReset implements host.Observer.
func (m *KeycoreMetrics) ObserveReset(now timer.Time, r controller.Result) {
	m.Resets.Inc()
	clear(m.pressedAt)
	m.result(r)
}

// ObserveKey implements host.Observer.
func (m *KeycoreMetrics) ObserveKey(kc keycode.Code, pressed bool, now timer.Time, r controller.Result) {
	if pressed {
		m.KeyPresses.Inc()
		m.pressedAt[kc] = now
	} else {
		m.KeyReleases.Inc()
		if at, ok := m.pressedAt[kc]; ok {
			delete(m.pressedAt, kc)
			m.KeyHoldTime.Observe(float64(timer.Elapsed(now, at)) / 1000)
		}
	}
	if r.PassThrough {
		m.PassThrough.Inc()
	}
	m.result(r)
}

// ObserveLayer implements host.Observer.
func (m *KeycoreMetrics) ObserveLayer(id layer.ID, on bool, now timer.Time, r controller.Result) {
	m.result(r)
}

// ObserveInterrupt implements host.Observer.
func (m *KeycoreMetrics) ObserveInterrupt(now timer.Time, r controller.Result) {
	m.result(r)
}

// ObserveTick implements host.Observer.
func (m *KeycoreMetrics) ObserveTick(now timer.Time, dx, dy int, r controller.Result) {
	m.Ticks.Inc()
	if len(r.Commands) > 0 || r.Refresh {
		m.BusyTicks.Inc()
	}
	if dx != 0 || dy != 0 {
		m.PointerMotion.Inc()
	}
	m.result(r)
}

// HandleEvent counts a controller event. Register it with
// Controller.OnEvent.
func (m *KeycoreMetrics) HandleEvent(ev controller.Event) {
	switch ev.Kind {
	case controller.EventTap:
		m.Taps.Inc()
	case controller.EventHold:
		m.Holds.Inc()
	case controller.EventDance:
		m.Dance(ev.Detail).Inc()
	case controller.EventLayer:
		m.LayerChanges.Inc()
		m.ActiveLayers.Set(int64(ev.To))
		m.HighestLayer.Set(int64(ev.To.Highest()))
	case controller.EventMode:
		m.Mode(ev.Detail, ev.On).Inc()
	case controller.EventRGB:
		m.RGBChanges.Inc()
	}
}

// UpdateUptime updates the uptime metric.
func (m *KeycoreMetrics) UpdateUptime() {
	m.UptimeSeconds.Set(int64(time.Since(m.start).Seconds()))
}

// Snapshot returns a snapshot of the headline metrics.
func (m *KeycoreMetrics) Snapshot() map[string]any {
	m.UpdateUptime()
	return map[string]any{
		"key_presses":      m.KeyPresses.Value(),
		"key_releases":     m.KeyReleases.Value(),
		"commands":         m.Commands.Value(),
		"taps":             m.Taps.Value(),
		"holds":            m.Holds.Value(),
		"layer_changes":    m.LayerChanges.Value(),
		"ticks":            m.Ticks.Value(),
		"resets":           m.Resets.Value(),
		"active_layers":    m.ActiveLayers.Value(),
		"highest_layer":    m.HighestLayer.Value(),
		"uptime_seconds":   m.UptimeSeconds.Value(),
		"key_hold_avg_sec": m.KeyHoldTime.Mean(),
	}
}
