package keymap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keycore/internal/keycode"
	"keycore/internal/timer"
)

func press(pos Pos, kc keycode.Code, at uint32) KeyEvent {
	return KeyEvent{Pos: pos, Code: kc, Pressed: true, Time: timer.Time(at)}
}

func release(pos Pos, kc keycode.Code, at uint32) KeyEvent {
	return KeyEvent{Pos: pos, Code: kc, Time: timer.Time(at)}
}

func TestComboFires(t *testing.T) {
	m := NewComboMatcher(DefaultCombos(), 0)

	assert.Empty(t, m.Feed(press(25, keycode.A, 100)))
	assert.True(t, m.Pending())

	out := m.Feed(press(26, keycode.S, 110))
	require.Len(t, out, 1)
	assert.Equal(t, keycode.Ctrled(keycode.C), out[0].Code)
	assert.True(t, out[0].Pressed)
	assert.Equal(t, Pos(25), out[0].Pos)
	assert.False(t, m.Pending())

	// The first member release ends the combo, the second is swallowed.
	out = m.Feed(release(26, keycode.S, 150))
	require.Len(t, out, 1)
	assert.Equal(t, keycode.Ctrled(keycode.C), out[0].Code)
	assert.False(t, out[0].Pressed)
	assert.Empty(t, m.Feed(release(25, keycode.A, 160)))

	// Unrelated releases pass through afterwards.
	out = m.Feed(release(25, keycode.A, 170))
	assert.Equal(t, []KeyEvent{release(25, keycode.A, 170)}, out)
}

func TestComboLoneKeyFlushesAfterTerm(t *testing.T) {
	m := NewComboMatcher(DefaultCombos(), 0)

	assert.Empty(t, m.Feed(press(25, keycode.A, 100)))
	assert.Empty(t, m.Tick(timer.Time(114)))

	out := m.Tick(timer.Time(115))
	assert.Equal(t, []KeyEvent{press(25, keycode.A, 100)}, out)
	assert.False(t, m.Pending())
}

func TestComboNonMemberFlushes(t *testing.T) {
	m := NewComboMatcher(DefaultCombos(), 0)

	m.Feed(press(25, keycode.A, 100))
	out := m.Feed(press(14, keycode.W, 105))
	assert.Equal(t, []KeyEvent{press(25, keycode.A, 100), press(14, keycode.W, 105)}, out)
}

func TestComboImpossiblePairFlushes(t *testing.T) {
	m := NewComboMatcher(DefaultCombos(), 0)

	// J and A are both combo keys but share no combo.
	m.Feed(press(25, keycode.A, 100))
	out := m.Feed(press(31, keycode.J, 104))
	assert.Equal(t, []KeyEvent{press(25, keycode.A, 100), press(31, keycode.J, 104)}, out)
}

func TestComboReleaseInsideWindow(t *testing.T) {
	m := NewComboMatcher(DefaultCombos(), 0)

	m.Feed(press(25, keycode.A, 100))
	out := m.Feed(release(25, keycode.A, 105))
	assert.Equal(t, []KeyEvent{press(25, keycode.A, 100), release(25, keycode.A, 105)}, out)
}

func TestComboReset(t *testing.T) {
	m := NewComboMatcher(DefaultCombos(), 0)
	m.Feed(press(27, keycode.D, 100))
	m.Reset()
	assert.False(t, m.Pending())
	assert.Empty(t, m.Tick(timer.Time(500)))
}
