package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keycore/internal/controller"
	"keycore/internal/ipc"
	"keycore/internal/keycode"
	"keycore/internal/keymap"
	"keycore/internal/layer"
	"keycore/internal/rgb"
	"keycore/internal/timer"
	"keycore/internal/trace"
)

type testApp struct {
	*app
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	return &testApp{
		app:    &app{out: out, errOut: errOut, noColor: true},
		stdout: out,
		stderr: errOut,
	}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUnknownCommand(t *testing.T) {
	a := newTestApp(t)
	assert.Equal(t, 2, a.run([]string{"frobnicate"}))
	assert.Contains(t, a.stderr.String(), "Unknown command: frobnicate")

	a = newTestApp(t)
	assert.Equal(t, 0, a.run([]string{"version"}))
	assert.Contains(t, a.stdout.String(), "keyctl")
}

func TestKeycodeCommand(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"KC_A", "KC_A = 0x0004 (basic key)"},
		{"kc_trns", "KC_TRNS = 0x0001 (transparent)"},
		{"MO(3)", "MO(3) = "},
		{"LT(3, KC_SLSH)", "layer mouse when held, KC_SLSH when tapped"},
		{"TG(2)", "toggles layer function"},
		{"S(KC_EQL)", "modified key"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			a := newTestApp(t)
			require.NoError(t, a.cmdKeycode([]string{tt.expr}))
			assert.Contains(t, a.stdout.String(), tt.want)
		})
	}
}

func TestKeycodeSuggestions(t *testing.T) {
	a := newTestApp(t)
	err := a.cmdKeycode([]string{"KC_ENTR"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KC_ENT")
}

func TestKeycodeJSON(t *testing.T) {
	a := newTestApp(t)
	a.json = true
	require.NoError(t, a.cmdKeycode([]string{"KC_B"}))

	var out map[string]any
	require.NoError(t, json.Unmarshal(a.stdout.Bytes(), &out))
	assert.Equal(t, "KC_B", out["name"])
	assert.Equal(t, float64(keycode.B), out["value"])
}

func TestLayoutCommand(t *testing.T) {
	a := newTestApp(t)
	require.NoError(t, a.cmdLayout([]string{"-layers", "base,mouse"}))

	out := a.stdout.String()
	assert.Contains(t, out, "Layer 0 (base)")
	assert.Contains(t, out, "Layer 3 (mouse)")
	assert.NotContains(t, out, "(symbols)")

	a = newTestApp(t)
	assert.Error(t, a.cmdLayout([]string{"-layers", "nope"}))
}

func writeLayout(t *testing.T, keys []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keymap.c")
	src := "[0] = LAYOUT(" + strings.Join(keys, ", ") + ")\n"
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))
	return path
}

func allKeys(name string) []string {
	keys := make([]string, keymap.KeyCount)
	for i := range keys {
		keys[i] = name
	}
	return keys
}

func TestParseCommand(t *testing.T) {
	path := writeLayout(t, allKeys("KC_A"))

	a := newTestApp(t)
	require.NoError(t, a.cmdParse([]string{path}))
	out := a.stdout.String()
	assert.Contains(t, out, "base")
	assert.Contains(t, out, "OK")

	a = newTestApp(t)
	require.NoError(t, a.cmdLayout([]string{"-file", path, "-layers", "0"}))
	assert.Contains(t, a.stdout.String(), "Layer 0 (base)")
}

func TestParseCommandReportsBadKeys(t *testing.T) {
	keys := allKeys("KC_A")
	keys[7] = "KC_ENTR"
	path := writeLayout(t, keys)

	a := newTestApp(t)
	err := a.cmdParse([]string{path})
	require.Error(t, err)

	msg := a.stderr.String()
	assert.Contains(t, msg, "KC_ENTR")
	assert.Contains(t, msg, "did you mean: KC_ENT")
}

func TestValidateConfigCommand(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.toml")
	require.NoError(t, os.WriteFile(good, []byte("version = 2\n"), 0o600))
	a := newTestApp(t)
	require.NoError(t, a.cmdValidateConfig([]string{good}))
	assert.Contains(t, a.stdout.String(), "OK")

	old := filepath.Join(dir, "old.toml")
	require.NoError(t, os.WriteFile(old, []byte("[timing]\nhold_threshold_ms = 200\n"), 0o600))
	a = newTestApp(t)
	require.NoError(t, a.cmdValidateConfig([]string{old}))
	assert.Contains(t, a.stdout.String(), "will be migrated")

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("version = 2\n[controller]\nstartup_mode = \"disco\"\n"), 0o600))
	a = newTestApp(t)
	err := a.cmdValidateConfig([]string{bad})
	require.Error(t, err)
	assert.Contains(t, a.stdout.String(), "controller.startup_mode")
}

var startRGB = rgb.Snapshot{Mode: rgb.ModeSolidColor, HSV: rgb.HSV{H: 10, S: 200, V: 90}}

// recordTrace records a short session: one tap of the dance key.
func recordTrace(t *testing.T) (string, trace.Session) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.db")
	store, err := trace.OpenStore(path)
	require.NoError(t, err)
	defer store.Close()

	cfg := controller.DefaultConfig()
	sess, err := store.CreateSession(cfg, startRGB, "keyctl test")
	require.NoError(t, err)

	rec := trace.NewRecorder(store, sess, trace.WithRecorderLogger(discard()), trace.WithBatch(4, time.Millisecond))
	ctrl := controller.New(cfg, rgb.NewMatrix(startRGB.Mode, startRGB.HSV), discard())

	now := timer.Time(1000)
	rec.ObserveInit(now, ctrl.Init(now))
	rec.ObserveKey(keycode.PLUS_COLON, true, now, ctrl.HandleKeyEvent(keycode.PLUS_COLON, true, now))
	now += 5
	rec.ObserveKey(keycode.PLUS_COLON, false, now, ctrl.HandleKeyEvent(keycode.PLUS_COLON, false, now))
	for i := 0; i < 300; i++ {
		now++
		rec.ObserveTick(now, 0, 0, ctrl.Tick(now, 0, 0))
	}
	require.NoError(t, rec.Close())
	return path, sess
}

func TestSessionsCommand(t *testing.T) {
	path, sess := recordTrace(t)

	a := newTestApp(t)
	require.NoError(t, a.cmdSessions([]string{path}))
	out := a.stdout.String()
	assert.Contains(t, out, "STARTED")
	assert.Contains(t, out, sess.ID.String())
	assert.Contains(t, out, "keyctl test")

	a = newTestApp(t)
	a.json = true
	require.NoError(t, a.cmdSessions([]string{path}))
	var sessions []map[string]any
	require.NoError(t, json.Unmarshal(a.stdout.Bytes(), &sessions))
	assert.Len(t, sessions, 1)
}

func TestReplayCommand(t *testing.T) {
	path, sess := recordTrace(t)

	a := newTestApp(t)
	require.NoError(t, a.cmdReplay([]string{path}))
	assert.Contains(t, a.stdout.String(), "Replay matches the recording")

	a = newTestApp(t)
	require.NoError(t, a.cmdReplay([]string{"-session", sess.ID.String(), path}))
	assert.Contains(t, a.stdout.String(), sess.ID.String())

	a = newTestApp(t)
	assert.Error(t, a.cmdReplay([]string{"-session", "not-a-uuid", path}))
}

type fakeBackend struct {
	mu     sync.Mutex
	status controller.Status
	resets int
}

func (b *fakeBackend) Status(ctx context.Context) (controller.Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status, nil
}

func (b *fakeBackend) Reset(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resets++
	b.status.Layers = 0
	b.status.Highest = layer.Base
	return nil
}

func (b *fakeBackend) Indicators(ctx context.Context) (rgb.RenderDecision, error) {
	return rgb.RenderDecision{FullOverride: true, Fill: rgb.Color{R: 255, G: 255, B: 255}}, nil
}

func startDaemon(t *testing.T, backend ipc.Backend) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "kc")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	h := &ipc.DaemonHandler{
		Backend:   backend,
		Reload:    func(context.Context) error { return nil },
		Metrics:   func() map[string]any { return map[string]any{"taps": 3, "holds": 1} },
		Version:   "1.2.3",
		StartedAt: time.Now(),
	}
	cfg := ipc.DefaultServerConfig(filepath.Join(dir, "keycored.sock"))
	cfg.Version = "1.2.3"
	cfg.Logger = discard()
	srv := ipc.NewServer(cfg, h)
	h.Server = srv
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })
	return cfg.SocketPath
}

func TestIPCCommands(t *testing.T) {
	backend := &fakeBackend{status: controller.Status{
		Layers:  layer.Of(layer.Base, layer.Mouse),
		Highest: layer.Mouse,
		RGBMode: rgb.ModeSolidColor,
	}}
	socket := startDaemon(t, backend)

	run := func(args ...string) (*testApp, int) {
		a := newTestApp(t)
		return a, a.run(append([]string{"-socket", socket}, args...))
	}

	a, code := run("ping")
	require.Equal(t, 0, code, a.stderr.String())
	assert.Contains(t, a.stdout.String(), "keycored 1.2.3 RUNNING")

	a, code = run("status")
	require.Equal(t, 0, code, a.stderr.String())
	out := a.stdout.String()
	assert.Contains(t, out, "LAYERS")
	assert.Contains(t, out, "mouse")

	a, code = run("indicators")
	require.Equal(t, 0, code, a.stderr.String())
	assert.Contains(t, a.stdout.String(), "All LEDs")

	a, code = run("-json", "metrics")
	require.Equal(t, 0, code, a.stderr.String())
	assert.Contains(t, a.stdout.String(), `"taps": 3`)

	a, code = run("reload")
	require.Equal(t, 0, code, a.stderr.String())
	assert.Contains(t, a.stdout.String(), "Configuration reloaded")

	a, code = run("reset")
	require.Equal(t, 0, code, a.stderr.String())
	assert.Contains(t, a.stdout.String(), "highest layer base")
	backend.mu.Lock()
	assert.Equal(t, 1, backend.resets)
	backend.mu.Unlock()
}

func TestDaemonNotRunning(t *testing.T) {
	a := newTestApp(t)
	code := a.run([]string{"-socket", filepath.Join(t.TempDir(), "none.sock"), "status"})
	assert.Equal(t, 1, code)
	assert.Contains(t, a.stderr.String(), "cannot connect to keycored")
}
