package pattern

import (
	"math/rand"
	"testing"

	"github.com/andrewboldi/canvasguard/internal/canvas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePool() []canvas.Change {
	return []canvas.Change{
		{X: 0, Y: 0, Type: canvas.ChangeMissing, ExpectedColor: 1},
		{X: 2, Y: 0, Type: canvas.ChangeMissing, ExpectedColor: 1},
		{X: 0, Y: 2, Type: canvas.ChangeMissing, ExpectedColor: 1},
		{X: 2, Y: 2, Type: canvas.ChangeMissing, ExpectedColor: 1},
		{X: 1, Y: 1, Type: canvas.ChangeMissing, ExpectedColor: 1},
	}
}

func multiset(cs []canvas.Change) map[canvas.Coord]int {
	m := make(map[canvas.Coord]int)
	for _, c := range cs {
		m[canvas.Coord{X: c.X, Y: c.Y}]++
	}
	return m
}

func TestSelect_Random_IsAPermutation(t *testing.T) {
	pool := samplePool()
	rng := rand.New(rand.NewSource(42))
	out := Select(Random, pool, len(pool), rng)
	assert.Equal(t, multiset(pool), multiset(out))
}

func TestSelect_LineUp_RowsAscendingXWithinRow(t *testing.T) {
	pool := []canvas.Change{
		{X: 2, Y: 1}, {X: 0, Y: 1},
		{X: 1, Y: 0}, {X: 0, Y: 0},
	}
	out := Select(LineUp, pool, len(pool), nil)
	require.Len(t, out, 4)
	assert.Equal(t, []canvas.Coord{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 1}, {X: 2, Y: 1}}, toCoords(out))
}

func TestSelect_LineDown_ReversesLineUpOnSingleColumn(t *testing.T) {
	pool := []canvas.Change{{X: 0, Y: 0}, {X: 0, Y: 1}, {X: 0, Y: 2}}
	up := Select(LineUp, pool, len(pool), nil)
	down := Select(LineDown, pool, len(pool), nil)
	assert.Equal(t, toCoords(up), reverseCoords(toCoords(down)))
}

func TestSelect_Center_StartsAtCentroidEndsAtCorner(t *testing.T) {
	pool := samplePool()
	out := Select(Center, pool, len(pool), nil)
	require.Len(t, out, 5)
	assert.Equal(t, 1, out[0].X)
	assert.Equal(t, 1, out[0].Y)

	last := out[len(out)-1]
	isCorner := (last.X == 0 || last.X == 2) && (last.Y == 0 || last.Y == 2)
	assert.True(t, isCorner, "expected a corner point last, got %+v", last)
}

func TestSelect_UnknownPattern_FallsBackToRandomPermutation(t *testing.T) {
	pool := samplePool()
	rng := rand.New(rand.NewSource(7))
	out := Select("not-a-real-pattern", pool, len(pool), rng)
	assert.Equal(t, multiset(pool), multiset(out))
}

func TestSelect_ClampsCountToPoolSize(t *testing.T) {
	pool := samplePool()
	out := Select(Random, pool, 9999, rand.New(rand.NewSource(1)))
	assert.Len(t, out, len(pool))
}

func TestSelect_EmptyPool_ReturnsEmpty(t *testing.T) {
	out := Select(Random, nil, 5, nil)
	assert.Empty(t, out)
}

func TestSelect_AllPatterns_NeverPanicAndPreserveMultiset(t *testing.T) {
	names := []string{
		Random, LineUp, LineDown, LineLeft, LineRight, Zigzag, Snake,
		Diagonal, DiagonalSweep, Center, Borders, Corners, Spiral,
		SpiralClockwise, SpiralCounterClockwise, Cluster, Wave, Sweep,
		Priority, Proximity, Quadrant, Scattered, BiasedRandom, AnchorPoints,
	}
	pool := samplePool()
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(99))
			out := Select(name, pool, len(pool), rng)
			assert.Equal(t, multiset(pool), multiset(out))
		})
	}
}

func toCoords(cs []canvas.Change) []canvas.Coord {
	out := make([]canvas.Coord, len(cs))
	for i, c := range cs {
		out[i] = canvas.Coord{X: c.X, Y: c.Y}
	}
	return out
}

func reverseCoords(cs []canvas.Coord) []canvas.Coord {
	out := make([]canvas.Coord, len(cs))
	for i, c := range cs {
		out[len(cs)-1-i] = c
	}
	return out
}
