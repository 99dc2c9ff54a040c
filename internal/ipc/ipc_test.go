package ipc

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keycore/internal/controller"
	"keycore/internal/host"
	"keycore/internal/keycode"
	"keycore/internal/layer"
	"keycore/internal/rgb"
)

func TestMessageFraming(t *testing.T) {
	var buf bytes.Buffer
	msg := NewMessage(MsgStatusRequest, 42, []byte(`{"a":1}`))
	require.NoError(t, msg.Write(&buf))
	assert.Equal(t, HeaderSize+7, buf.Len())

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgStatusRequest, got.Header.Type)
	assert.Equal(t, uint32(42), got.Header.RequestID)
	assert.Equal(t, []byte(`{"a":1}`), got.Payload)
}

func TestReadMessageRejectsBadFrames(t *testing.T) {
	frame := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(frame[0:4], 0xdeadbeef)
	_, err := ReadMessage(bytes.NewReader(frame))
	assert.ErrorContains(t, err, "invalid magic")

	h := Header{Magic: ProtocolMagic, Version: ProtocolVersion, Type: MsgEvent, Length: MaxPayload + 1}
	h.encode(frame)
	_, err = ReadMessage(bytes.NewReader(frame))
	assert.ErrorContains(t, err, "too large")

	h.Length = 10
	h.encode(frame)
	_, err = ReadMessage(bytes.NewReader(append(frame, 'x')))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestEventTypeNames(t *testing.T) {
	for _, et := range AllEvents {
		got, err := ParseEventType(et.String())
		require.NoError(t, err)
		assert.Equal(t, et, got)
	}
	_, err := ParseEventType("keystroke")
	assert.Error(t, err)
}

func TestEventFromController(t *testing.T) {
	ev := EventFromController(controller.Event{
		Kind: controller.EventLayer,
		Time: 1234,
		From: layer.Of(layer.Base),
		To:   layer.Of(layer.Base, layer.Mouse),
	})
	assert.Equal(t, EventLayerChange, ev.Type)
	assert.Equal(t, uint32(1234), ev.Time)
	assert.Equal(t, []string{"base", "mouse"}, ev.Layers)

	ev = EventFromController(controller.Event{Kind: controller.EventTap, Key: keycode.Z})
	assert.Equal(t, EventTap, ev.Type)
	assert.NotEmpty(t, ev.Key)
}

func TestCleanupSocketRefusesRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-socket")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	assert.Error(t, CleanupSocket(path))
	assert.FileExists(t, path)

	assert.NoError(t, CleanupSocket(filepath.Join(t.TempDir(), "missing")))
}

type fakeBackend struct {
	mu     sync.Mutex
	status controller.Status
	resets int
	err    error
}

func (b *fakeBackend) Status(ctx context.Context) (controller.Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status, b.err
}

func (b *fakeBackend) Reset(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.resets++
	b.status.Layers = 0
	b.status.Highest = layer.Base
	return nil
}

func (b *fakeBackend) Indicators(ctx context.Context) (rgb.RenderDecision, error) {
	return rgb.RenderDecision{Overrides: []rgb.PixelColor{{Index: 3, Color: rgb.Color{R: 255}}}}, b.err
}

func startServer(t *testing.T, backend Backend, reload func(context.Context) error) (*Server, *DaemonHandler) {
	t.Helper()
	dir, err := os.MkdirTemp("", "kc")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	h := &DaemonHandler{
		Backend:   backend,
		Reload:    reload,
		Version:   "test",
		StartedAt: time.Now(),
	}
	cfg := DefaultServerConfig(filepath.Join(dir, "keycored.sock"))
	cfg.Version = "test"
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(cfg, h)
	h.Server = srv
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })
	return srv, h
}

func dial(t *testing.T, srv *Server) *IPCClient {
	t.Helper()
	c := NewClient(DefaultClientConfig(srv.SocketPath()))
	require.NoError(t, c.Connect())
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientServerRequests(t *testing.T) {
	backend := &fakeBackend{status: controller.Status{
		Layers:  layer.Of(layer.Base, layer.Function),
		Highest: layer.Function,
		RGBMode: rgb.ModeSolidColor,
	}}
	srv, _ := startServer(t, backend, nil)
	c := dial(t, srv)

	assert.NotEmpty(t, c.ClientID())
	assert.Equal(t, "test", c.ServerVersion())
	require.NoError(t, c.Ping())
	assert.Equal(t, 1, srv.ClientCount())

	st, err := c.Status()
	require.NoError(t, err)
	assert.Equal(t, "function", st.Highest)
	assert.Equal(t, []string{"base", "function"}, st.Layers)
	assert.Equal(t, layer.Function, st.Status.Highest)
	assert.Equal(t, 1, st.Clients)

	reset, err := c.Reset()
	require.NoError(t, err)
	assert.True(t, reset.Success)
	assert.Equal(t, layer.Base, reset.Status.Highest)
	assert.Equal(t, 1, backend.resets)

	d, err := c.Indicators()
	require.NoError(t, err)
	require.Len(t, d.Overrides, 1)
	assert.Equal(t, 3, d.Overrides[0].Index)

	_, err = c.Metrics()
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, ErrUnsupported, remote.Code)

	err = c.ReloadConfig()
	require.ErrorAs(t, err, &remote)
}

func TestBackendNotRunning(t *testing.T) {
	srv, _ := startServer(t, &fakeBackend{err: host.ErrNotRunning}, nil)
	c := dial(t, srv)

	_, err := c.Status()
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, ErrNotRunning, remote.Code)
}

func TestReloadConfig(t *testing.T) {
	fail := errors.New("keymap.combos[0]: unknown keycode")
	var calls int
	srv, _ := startServer(t, &fakeBackend{}, func(ctx context.Context) error {
		calls++
		if calls > 1 {
			return fail
		}
		return nil
	})
	c := dial(t, srv)
	require.NoError(t, c.Subscribe(EventConfigReloaded))

	require.NoError(t, c.ReloadConfig())
	select {
	case ev := <-c.Events():
		assert.Equal(t, EventConfigReloaded, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no reload event")
	}

	err := c.ReloadConfig()
	assert.ErrorContains(t, err, "unknown keycode")
}

func TestRelayFiltersSubscriptions(t *testing.T) {
	srv, _ := startServer(t, &fakeBackend{}, nil)
	layers := dial(t, srv)
	taps := dial(t, srv)
	require.NoError(t, layers.Subscribe(EventLayerChange))
	require.NoError(t, taps.Subscribe(EventTap))

	events := make(chan controller.Event, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Relay(ctx, events)

	events <- controller.Event{Kind: controller.EventTap, Key: keycode.ESC}
	events <- controller.Event{Kind: controller.EventLayer, To: layer.Of(layer.Mouse)}

	select {
	case ev := <-layers.Events():
		assert.Equal(t, EventLayerChange, ev.Type)
		assert.Equal(t, []string{"mouse"}, ev.Layers)
	case <-time.After(2 * time.Second):
		t.Fatal("no layer event")
	}
	select {
	case ev := <-taps.Events():
		assert.Equal(t, EventTap, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no tap event")
	}

	require.NoError(t, taps.Unsubscribe())
	events <- controller.Event{Kind: controller.EventTap, Key: keycode.Z}
	select {
	case ev := <-taps.Events():
		t.Fatalf("unexpected event after unsubscribe: %v", ev.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStartRefusesLiveSocket(t *testing.T) {
	srv, _ := startServer(t, &fakeBackend{}, nil)
	second := NewServer(DefaultServerConfig(srv.SocketPath()), nil)
	assert.ErrorIs(t, second.Start(), ErrSocketInUse)
}

func TestClientWithoutDaemon(t *testing.T) {
	c := NewClient(DefaultClientConfig(filepath.Join(t.TempDir(), "none.sock")))
	assert.ErrorIs(t, c.Connect(), ErrDaemonNotRunning)
	_, err := c.Status()
	assert.ErrorIs(t, err, ErrNotConnected)
}
