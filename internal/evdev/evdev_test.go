package evdev

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keycore/internal/keycode"
	"keycore/internal/keymap"
)

const sampleDevices = `I: Bus=0011 Vendor=0001 Product=0001 Version=ab41
N: Name="AT Translated Set 2 keyboard"
P: Phys=isa0060/serio0/input0
S: Sysfs=/devices/platform/i8042/serio0/input/input3
H: Handlers=sysrq kbd leds event3
B: EV=120013
B: KEY=402000000 3803078f800d001 feffffdfffefffff fffffffffffffffe

I: Bus=0003 Vendor=046d Product=c077 Version=0111
N: Name="Logitech USB Optical Mouse"
P: Phys=usb-0000:00:14.0-1/input0
H: Handlers=mouse0 event5
B: EV=17
B: KEY=70000 0 0 0 0
B: REL=903
`

func decodeAll(t *testing.T, b []byte) []Event {
	t.Helper()
	var out []Event
	require.NoError(t, ReadEvents(bytes.NewReader(b), func(ev Event) { out = append(out, ev) }))
	return out
}

func keyEv(code uint16, v int32) Event { return Event{Type: EvKey, Code: code, Value: v} }

var syn = Event{Type: EvSyn, Code: SynReport}

func TestEventWireForm(t *testing.T) {
	ev := Event{Sec: 12, Usec: 345, Type: EvRel, Code: RelY, Value: -3}
	b := ev.Encode(nil)
	require.Len(t, b, EventSize)

	got, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, ev, got)

	_, err = Decode(b[:10])
	assert.ErrorIs(t, err, ErrShortEvent)
}

func TestReadEventsAcrossShortReads(t *testing.T) {
	var b []byte
	for i := 0; i < 3; i++ {
		b = keyEv(30, KeyDown).Encode(b)
	}
	var n int
	require.NoError(t, ReadEvents(iotest.OneByteReader(bytes.NewReader(b)), func(Event) { n++ }))
	assert.Equal(t, 3, n)

	err := ReadEvents(iotest.ErrReader(io.ErrUnexpectedEOF), func(Event) {})
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestKeyTables(t *testing.T) {
	key, ok := LinuxKey(keycode.A)
	require.True(t, ok)
	assert.Equal(t, uint16(30), key)

	kc, ok := Usage(KeyLeftShift)
	require.True(t, ok)
	assert.Equal(t, keycode.LSFT, kc)

	_, ok = LinuxKey(keycode.RAINBOW)
	assert.False(t, ok)

	for _, kc := range []keycode.Code{keycode.SLSH, keycode.P0, keycode.PEQL, keycode.F12, keycode.UP} {
		key, ok := LinuxKey(kc)
		require.True(t, ok, kc.String())
		back, ok := Usage(key)
		require.True(t, ok)
		assert.Equal(t, kc, back)
	}
}

func TestDefaultPositions(t *testing.T) {
	p := DefaultPositions()
	assert.Len(t, p, keymap.KeyCount)

	pos, ok := p.Lookup(30) // KEY_A
	require.True(t, ok)
	assert.Equal(t, keymap.Pos(25), pos)

	pos, ok = p.Lookup(KeyBackspace)
	require.True(t, ok)
	assert.Equal(t, keymap.Pos(54), pos)

	_, ok = p.Lookup(59) // KEY_F1
	assert.False(t, ok)
}

func TestParseDevices(t *testing.T) {
	devices, err := ParseDevices(strings.NewReader(sampleDevices))
	require.NoError(t, err)
	require.Len(t, devices, 2)

	assert.Equal(t, "AT Translated Set 2 keyboard", devices[0].Name)
	assert.Equal(t, "/dev/input/event3", devices[0].Path)
	assert.True(t, devices[0].Keyboard)
	assert.False(t, devices[0].Pointer)

	assert.True(t, devices[1].Pointer)
	assert.False(t, devices[1].Keyboard)

	d, ok := FindDevice(devices, "")
	require.True(t, ok)
	assert.Equal(t, "/dev/input/event3", d.Path)

	d, ok = FindDevice(devices, "logitech")
	require.True(t, ok)
	assert.Equal(t, "/dev/input/event5", d.Path)

	_, ok = FindDevice(devices, "nothing")
	assert.False(t, ok)
}

func newTestWriter(opts ...WriterOption) (*Writer, *bytes.Buffer) {
	var buf bytes.Buffer
	opts = append(opts, WithWriterLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return NewWriter(&buf, opts...), &buf
}

func TestWriterModifiedKey(t *testing.T) {
	w, buf := newTestWriter()

	w.Register(keycode.Ctrled(keycode.C))
	w.Unregister(keycode.Ctrled(keycode.C))

	assert.Equal(t, []Event{
		keyEv(KeyLeftCtrl, KeyDown), keyEv(46, KeyDown), syn,
		keyEv(46, KeyUp), keyEv(KeyLeftCtrl, KeyUp), syn,
	}, decodeAll(t, buf.Bytes()))
}

func TestWriterTap(t *testing.T) {
	w, buf := newTestWriter()
	w.Tap(keycode.Shifted(keycode.EQL))
	assert.Equal(t, []Event{
		keyEv(KeyLeftShift, KeyDown), keyEv(13, KeyDown),
		keyEv(13, KeyUp), keyEv(KeyLeftShift, KeyUp), syn,
	}, decodeAll(t, buf.Bytes()))
}

func TestWriterUnknownKeyWritesNothing(t *testing.T) {
	w, buf := newTestWriter()
	w.Tap(keycode.RAINBOW)
	assert.Zero(t, buf.Len())
}

func TestWriterMouseKeys(t *testing.T) {
	w, buf := newTestWriter()

	w.Tap(keycode.MS_WHLD)
	w.Register(keycode.MS_BTN1)
	w.Tap(keycode.MS_ACL2)
	w.Register(keycode.MS_RGHT)
	w.Repeat()
	w.Unregister(keycode.MS_RGHT)
	w.Repeat()

	assert.Equal(t, []Event{
		{Type: EvRel, Code: RelWheel, Value: -1}, syn,
		keyEv(BtnLeft, KeyDown), syn,
		{Type: EvRel, Code: RelX, Value: 32}, syn,
		{Type: EvRel, Code: RelX, Value: 32}, syn,
	}, decodeAll(t, buf.Bytes()))
}

func TestWriterRelayScalesByCPI(t *testing.T) {
	w, buf := newTestWriter(WithDefaultCPI(1000))

	w.Relay(2, -1)
	w.SetCPI(3000)
	w.Relay(2, -1)
	w.ResetCPI()
	w.SetCPI(500)
	w.Relay(1, 0)
	w.Relay(1, 0)

	assert.Equal(t, []Event{
		{Type: EvRel, Code: RelX, Value: 2}, {Type: EvRel, Code: RelY, Value: -1}, syn,
		{Type: EvRel, Code: RelX, Value: 6}, {Type: EvRel, Code: RelY, Value: -3}, syn,
		{Type: EvRel, Code: RelX, Value: 1}, syn,
	}, decodeAll(t, buf.Bytes()))
}

func TestWriterScroll(t *testing.T) {
	w, buf := newTestWriter()
	w.Scroll(-1, 0)
	w.Scroll(0, 0)

	assert.Equal(t, []Event{
		{Type: EvRel, Code: RelWheel, Value: -1}, syn,
	}, decodeAll(t, buf.Bytes()))
}
