package tapdance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleTap(t *testing.T) {
	r := New(0)
	r.Press(0)
	assert.Empty(t, r.Release(50))
	assert.Empty(t, r.Tick(199))

	ev := r.Tick(200)
	require.Len(t, ev, 2)
	assert.Equal(t, Event{Phase: Finished, Outcome: SingleTap}, ev[0])
	assert.Equal(t, Event{Phase: Reset, Outcome: SingleTap}, ev[1])
	assert.False(t, r.State().Active())
}

func TestSingleHoldResetsOnRelease(t *testing.T) {
	r := New(200)
	r.Press(0)

	ev := r.Tick(200)
	require.Len(t, ev, 1)
	assert.Equal(t, Event{Phase: Finished, Outcome: SingleHold}, ev[0])

	assert.Empty(t, r.Tick(1000), "finished dance must not fire twice")

	ev = r.Release(1500)
	require.Len(t, ev, 1)
	assert.Equal(t, Event{Phase: Reset, Outcome: SingleHold}, ev[0])
}

func TestDoubleTapIgnoresHoldDuration(t *testing.T) {
	cases := []struct {
		name          string
		secondRelease bool
	}{
		{"released", true},
		{"held", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := New(200)
			r.Press(0)
			r.Release(150)
			r.Press(190)
			if tc.secondRelease {
				r.Release(195)
			}
			assert.Empty(t, r.Tick(389))
			ev := r.Tick(390)
			require.NotEmpty(t, ev)
			assert.Equal(t, DoubleTap, ev[0].Outcome)
		})
	}
}

func TestInterruptWhileHeldIsHold(t *testing.T) {
	r := New(200)
	r.Press(0)
	ev := r.Interrupt(40)
	require.Len(t, ev, 1)
	assert.Equal(t, SingleHold, ev[0].Outcome)
	assert.True(t, r.State().Interrupted)
}

func TestInterruptAfterReleaseIsHold(t *testing.T) {
	r := New(200)
	r.Press(0)
	r.Release(30)
	ev := r.Interrupt(60)
	require.Len(t, ev, 2)
	assert.Equal(t, SingleHold, ev[0].Outcome)
	assert.Equal(t, Reset, ev[1].Phase)
	assert.False(t, r.State().Active())
}

func TestInterruptWithoutDance(t *testing.T) {
	r := New(200)
	assert.Empty(t, r.Interrupt(10))
	assert.Empty(t, r.Release(10))
	assert.Empty(t, r.Tick(1000))
}

func TestTripleTapUnresolved(t *testing.T) {
	r := New(200)
	for i := 0; i < 3; i++ {
		r.Press(0)
		r.Release(0)
	}
	ev := r.Tick(200)
	require.Len(t, ev, 2)
	assert.Equal(t, Unresolved, ev[0].Outcome)
}

func TestResolve(t *testing.T) {
	assert.Equal(t, Unresolved, Resolve(State{}))
	assert.Equal(t, SingleTap, Resolve(State{Count: 1}))
	assert.Equal(t, SingleHold, Resolve(State{Count: 1, Pressed: true}))
	assert.Equal(t, SingleHold, Resolve(State{Count: 1, Interrupted: true}))
	assert.Equal(t, DoubleTap, Resolve(State{Count: 2, Interrupted: true}))
	assert.Equal(t, DoubleTap, Resolve(State{Count: 2, Pressed: true}))
	assert.Equal(t, "double_tap", DoubleTap.String())
}
