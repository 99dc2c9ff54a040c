package metrics

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keycore/internal/controller"
	"keycore/internal/keycode"
	"keycore/internal/layer"
	"keycore/internal/rgb"
	"keycore/internal/timer"
)

func TestHistogramBuckets(t *testing.T) {
	h := NewHistogram("hold", "help", nil, []float64{0.1, 0.2})
	h.Observe(0.05)
	h.Observe(0.1)
	h.Observe(0.15)
	h.Observe(3)

	assert.Equal(t, uint64(4), h.Count())
	assert.InDelta(t, 3.3, h.Sum(), 1e-9)
	assert.Equal(t, []uint64{2, 3, 4}, h.cumulative())
}

func TestRegistryLabels(t *testing.T) {
	r := NewRegistry("keycore", "")
	a := r.RegisterCounter("events_total", "Events", Labels{"kind": "a"})
	b := r.RegisterCounter("events_total", "Events", Labels{"kind": "b"})
	require.NotSame(t, a, b)
	assert.Same(t, a, r.RegisterCounter("events_total", "Events", Labels{"kind": "a"}))

	a.Add(2)
	b.Inc()
	assert.Equal(t, uint64(2), r.GetCounter("events_total", Labels{"kind": "a"}).Value())

	var buf bytes.Buffer
	require.NoError(t, r.WritePrometheus(&buf))
	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "# TYPE keycore_events_total counter"))
	assert.Contains(t, out, `keycore_events_total{kind="a"} 2`)
	assert.Contains(t, out, `keycore_events_total{kind="b"} 1`)

	r.Reset()
	assert.Equal(t, uint64(0), a.Value())
}

func TestLabelEscaping(t *testing.T) {
	l := Labels{"v": "a\"b\\c"}
	assert.Equal(t, `{v="a\"b\\c"}`, l.String())
	assert.Equal(t, `{v="a\"b\\c",le="+Inf"}`, l.with("le", "+Inf"))
}

func TestHistogramExposition(t *testing.T) {
	r := NewRegistry("", "")
	h := r.RegisterHistogram("hold_seconds", "Hold", nil, []float64{0.2})
	h.Observe(0.1)
	h.Observe(0.5)

	var buf bytes.Buffer
	require.NoError(t, r.WritePrometheus(&buf))
	out := buf.String()
	assert.Contains(t, out, `hold_seconds_bucket{le="0.2"} 1`)
	assert.Contains(t, out, `hold_seconds_bucket{le="+Inf"} 2`)
	assert.Contains(t, out, "hold_seconds_count 2")
}

func TestKeycoreMetricsFollowController(t *testing.T) {
	m := NewKeycoreMetrics(nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := controller.New(controller.DefaultConfig(), rgb.NewMatrix(rgb.ModeSolidColor, rgb.HSV{S: 255, V: 128}), logger)
	c.OnEvent(m.HandleEvent)

	now := timer.Time(1000)
	m.ObserveInit(now, c.Init(now))

	key := func(kc keycode.Code, pressed bool) {
		m.ObserveKey(kc, pressed, now, c.HandleKeyEvent(kc, pressed, now))
	}
	wait := func(ms int) {
		for i := 0; i < ms; i++ {
			now++
			m.ObserveTick(now, 0, 0, c.Tick(now, 0, 0))
		}
	}

	// A quick tap.
	key(keycode.X_TG2, true)
	wait(50)
	key(keycode.X_TG2, false)
	wait(10)

	// A hold that toggles the function layer.
	key(keycode.X_TG2, true)
	wait(200)
	key(keycode.X_TG2, false)

	assert.Equal(t, uint64(2), m.KeyPresses.Value())
	assert.Equal(t, uint64(2), m.KeyReleases.Value())
	assert.Equal(t, uint64(1), m.Taps.Value())
	assert.Equal(t, uint64(1), m.Holds.Value())
	assert.Equal(t, uint64(260), m.Ticks.Value())
	assert.GreaterOrEqual(t, m.LayerChanges.Value(), uint64(1))
	assert.Equal(t, int64(layer.Function), m.HighestLayer.Value())
	assert.Equal(t, uint64(2), m.KeyHoldTime.Count())
	assert.InDelta(t, 0.25, m.KeyHoldTime.Sum(), 1e-9)

	m.ObserveReset(now, c.Reset(now))
	assert.Equal(t, uint64(1), m.Resets.Value())
	assert.Equal(t, int64(layer.Base), m.HighestLayer.Value())
}

func TestKeycoreMetricsModeAndDance(t *testing.T) {
	m := NewKeycoreMetrics(NewRegistry("kc", ""))
	m.HandleEvent(controller.Event{Kind: controller.EventDance, Detail: "double_tap"})
	m.HandleEvent(controller.Event{Kind: controller.EventDance, Detail: "double_tap"})
	m.HandleEvent(controller.Event{Kind: controller.EventMode, Detail: "flashlight", On: true})

	assert.Equal(t, uint64(2), m.Dance("double_tap").Value())
	assert.Equal(t, uint64(0), m.Dance("single_tap").Value())
	assert.Equal(t, uint64(1), m.Mode("flashlight", true).Value())

	snap := m.Snapshot()
	assert.Contains(t, snap, "uptime_seconds")
	assert.Contains(t, m.Registry().Snapshot(), `kc_dance_outcomes_total{outcome="double_tap"}`)
}

func TestServer(t *testing.T) {
	r := NewRegistry("keycore", "")
	r.RegisterCounter("ticks_total", "Ticks", nil).Add(7)

	srv, err := Listen("127.0.0.1:0", "/metrics", r, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	srv.Handle("/livez", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "alive")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	url := "http://" + srv.Addr().String() + "/metrics"
	resp, err := http.Get(url)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "keycore_ticks_total 7")

	req, _ := http.NewRequest(http.MethodGet, url, nil)
	req.Header.Set("Accept", "application/json")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	var snap map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	resp.Body.Close()
	assert.Equal(t, float64(7), snap["keycore_ticks_total"])

	resp, err = http.Get("http://" + srv.Addr().String() + "/livez")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "alive", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
