package lockout

import (
	"testing"
	"time"

	"github.com/andrewboldi/canvasguard/internal/canvas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet_Mark_LocksUntilTTLExpires(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	clock := &fakeClock{t: now}
	s := newWithClock(clock.Now)

	s.Mark([]canvas.Coord{{X: 10, Y: 20}}, 60*time.Second)
	require.True(t, s.IsLocked(10, 20))

	clock.t = now.Add(59 * time.Second)
	assert.True(t, s.IsLocked(10, 20))

	clock.t = now.Add(61 * time.Second)
	assert.False(t, s.IsLocked(10, 20))
}

func TestSet_Mark_Overwrites(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	clock := &fakeClock{t: now}
	s := newWithClock(clock.Now)

	s.Mark([]canvas.Coord{{X: 1, Y: 1}}, 10*time.Second)
	clock.t = now.Add(9 * time.Second)
	s.Mark([]canvas.Coord{{X: 1, Y: 1}}, 10*time.Second)

	clock.t = now.Add(15 * time.Second)
	assert.True(t, s.IsLocked(1, 1), "second Mark should extend the TTL from its own call time")
}

func TestSet_Age_RemovesExpiredEntries(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	clock := &fakeClock{t: now}
	s := newWithClock(clock.Now)

	s.Mark([]canvas.Coord{{X: 1, Y: 1}, {X: 2, Y: 2}}, 5*time.Second)
	clock.t = now.Add(10 * time.Second)

	s.Age()
	assert.Equal(t, 0, s.Len())
}

func TestSet_IsLocked_UnknownCoordIsFalse(t *testing.T) {
	s := New()
	assert.False(t, s.IsLocked(99, 99))
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }
