package pattern

import (
	"math"

	"github.com/andrewboldi/canvasguard/internal/canvas"
)

// bbox is the axis-aligned bounding box of a change pool.
type bbox struct {
	minX, minY, maxX, maxY int
}

func boundingBox(pool []canvas.Change) bbox {
	if len(pool) == 0 {
		return bbox{}
	}
	b := bbox{minX: pool[0].X, minY: pool[0].Y, maxX: pool[0].X, maxY: pool[0].Y}
	for _, c := range pool[1:] {
		if c.X < b.minX {
			b.minX = c.X
		}
		if c.X > b.maxX {
			b.maxX = c.X
		}
		if c.Y < b.minY {
			b.minY = c.Y
		}
		if c.Y > b.maxY {
			b.maxY = c.Y
		}
	}
	return b
}

func (b bbox) center() (float64, float64) {
	return float64(b.minX+b.maxX) / 2, float64(b.minY+b.maxY) / 2
}

func (b bbox) corners() [4][2]float64 {
	return [4][2]float64{
		{float64(b.minX), float64(b.minY)},
		{float64(b.maxX), float64(b.minY)},
		{float64(b.minX), float64(b.maxY)},
		{float64(b.maxX), float64(b.maxY)},
	}
}

// edgeDistance is min(x-minX, maxX-x, y-minY, maxY-y) — distance to the
// nearest bbox edge, used by the "borders" pattern.
func (b bbox) edgeDistance(x, y int) float64 {
	d := []float64{
		float64(x - b.minX),
		float64(b.maxX - x),
		float64(y - b.minY),
		float64(b.maxY - y),
	}
	m := d[0]
	for _, v := range d[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func euclid(x1, y1, x2, y2 float64) float64 {
	dx := x1 - x2
	dy := y1 - y2
	return math.Sqrt(dx*dx + dy*dy)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
