// Package pattern implements the pattern selector (C3): 24 deterministic
// or randomised geometric orderings over a change set. Given a pattern
// name, a pool of changes, and a count n, Select returns the first n
// elements of the named ordering. Unknown names, and any panic raised
// while computing an ordering, fall back to "random". Inputs are never
// mutated.
package pattern

import (
	"math"
	"math/rand"
	"sort"

	"github.com/andrewboldi/canvasguard/internal/canvas"
)

const (
	Random                  = "random"
	LineUp                  = "lineUp"
	LineDown                = "lineDown"
	LineLeft                = "lineLeft"
	LineRight               = "lineRight"
	Zigzag                  = "zigzag"
	Snake                   = "snake"
	Diagonal                = "diagonal"
	DiagonalSweep           = "diagonalSweep"
	Center                  = "center"
	Borders                 = "borders"
	Corners                 = "corners"
	Spiral                  = "spiral"
	SpiralClockwise         = "spiralClockwise"
	SpiralCounterClockwise  = "spiralCounterClockwise"
	Cluster                 = "cluster"
	Wave                    = "wave"
	Sweep                   = "sweep"
	Priority                = "priority"
	Proximity               = "proximity"
	Quadrant                = "quadrant"
	Scattered               = "scattered"
	BiasedRandom            = "biasedRandom"
	AnchorPoints            = "anchorPoints"
)

// Select returns the first n elements of the ordering produced by the
// named strategy over pool. n is clamped to len(pool). rng supplies
// randomness for strategies that use it; a nil rng uses the package's
// default, non-deterministic source.
func Select(name string, pool []canvas.Change, n int, rng *rand.Rand) []canvas.Change {
	if n > len(pool) {
		n = len(pool)
	}
	if n <= 0 || len(pool) == 0 {
		return []canvas.Change{}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	ordered := orderWithFallback(name, pool, rng)
	if n > len(ordered) {
		n = len(ordered)
	}
	return ordered[:n]
}

// orderWithFallback computes the full ordering for name, recovering to
// "random" if the strategy panics on a malformed pool.
func orderWithFallback(name string, pool []canvas.Change, rng *rand.Rand) (out []canvas.Change) {
	defer func() {
		if recover() != nil {
			out = shuffled(pool, rng)
		}
	}()
	return order(name, pool, rng)
}

func order(name string, pool []canvas.Change, rng *rand.Rand) []canvas.Change {
	switch name {
	case LineUp:
		return lineSweep(pool, true, false)
	case LineDown:
		return lineSweep(pool, false, false)
	case LineLeft:
		return columnSweep(pool, true)
	case LineRight:
		return columnSweep(pool, false)
	case Zigzag, Snake:
		return lineSweep(pool, true, true)
	case Diagonal:
		return diagonal(pool)
	case DiagonalSweep:
		return diagonalSweep(pool)
	case Center:
		return centerOrdered(pool)
	case Borders:
		return bordersOrdered(pool)
	case Corners:
		return cornersOrdered(pool)
	case Spiral, SpiralClockwise:
		return spiralOrdered(pool, false)
	case SpiralCounterClockwise:
		return spiralOrdered(pool, true)
	case Cluster:
		return clusterOrdered(pool, rng)
	case Wave:
		return waveOrdered(pool)
	case Sweep:
		return sweepOrdered(pool)
	case Priority:
		return priorityOrdered(pool, rng)
	case Proximity:
		return proximityOrdered(pool, rng)
	case Quadrant:
		return quadrantOrdered(pool)
	case Scattered:
		return scatteredOrdered(pool, rng)
	case BiasedRandom:
		return biasedRandomOrdered(pool, rng)
	case AnchorPoints:
		return anchorPointsOrdered(pool)
	case Random:
		return shuffled(pool, rng)
	default:
		return shuffled(pool, rng)
	}
}

func clone(pool []canvas.Change) []canvas.Change {
	out := make([]canvas.Change, len(pool))
	copy(out, pool)
	return out
}

func shuffled(pool []canvas.Change, rng *rand.Rand) []canvas.Change {
	out := clone(pool)
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// lineSweep groups by y and sweeps rows top-to-bottom (up=true) or
// bottom-to-top (up=false); within a row, x ascending. When alternate is
// true, row direction flips by row index parity (zigzag/snake).
func lineSweep(pool []canvas.Change, up, alternate bool) []canvas.Change {
	rows := groupBy(pool, func(c canvas.Change) int { return c.Y })
	ys := sortedKeys(rows, up)

	out := make([]canvas.Change, 0, len(pool))
	for i, y := range ys {
		row := clone(rows[y])
		sort.SliceStable(row, func(a, b int) bool { return row[a].X < row[b].X })
		if alternate && i%2 == 1 {
			reverse(row)
		}
		out = append(out, row...)
	}
	return out
}

// columnSweep groups by x and sweeps columns left-to-right (left=true)
// or right-to-left (left=false); within a column, y ascending.
func columnSweep(pool []canvas.Change, left bool) []canvas.Change {
	cols := groupBy(pool, func(c canvas.Change) int { return c.X })
	xs := sortedKeys(cols, left)

	out := make([]canvas.Change, 0, len(pool))
	for _, x := range xs {
		col := clone(cols[x])
		sort.SliceStable(col, func(a, b int) bool { return col[a].Y < col[b].Y })
		out = append(out, col...)
	}
	return out
}

func groupBy(pool []canvas.Change, key func(canvas.Change) int) map[int][]canvas.Change {
	groups := make(map[int][]canvas.Change)
	for _, c := range pool {
		k := key(c)
		groups[k] = append(groups[k], c)
	}
	return groups
}

func sortedKeys(groups map[int][]canvas.Change, ascending bool) []int {
	keys := make([]int, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	if ascending {
		sort.Ints(keys)
	} else {
		sort.Sort(sort.Reverse(sort.IntSlice(keys)))
	}
	return keys
}

func reverse(s []canvas.Change) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func diagonal(pool []canvas.Change) []canvas.Change {
	out := clone(pool)
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := out[i].X+out[i].Y, out[j].X+out[j].Y
		if si != sj {
			return si < sj
		}
		return out[i].X < out[j].X
	})
	return out
}

func diagonalSweep(pool []canvas.Change) []canvas.Change {
	diagonals := groupBy(pool, func(c canvas.Change) int { return c.X + c.Y })
	ss := sortedKeys(diagonals, true)

	out := make([]canvas.Change, 0, len(pool))
	for _, s := range ss {
		d := clone(diagonals[s])
		sort.SliceStable(d, func(a, b int) bool { return d[a].X < d[b].X })
		out = append(out, d...)
	}
	return out
}

func centerOrdered(pool []canvas.Change) []canvas.Change {
	b := boundingBox(pool)
	cx, cy := b.center()
	out := clone(pool)
	sort.SliceStable(out, func(i, j int) bool {
		di := euclid(float64(out[i].X), float64(out[i].Y), cx, cy)
		dj := euclid(float64(out[j].X), float64(out[j].Y), cx, cy)
		return di < dj
	})
	return out
}

func bordersOrdered(pool []canvas.Change) []canvas.Change {
	b := boundingBox(pool)
	out := clone(pool)
	sort.SliceStable(out, func(i, j int) bool {
		return b.edgeDistance(out[i].X, out[i].Y) < b.edgeDistance(out[j].X, out[j].Y)
	})
	return out
}

func cornersOrdered(pool []canvas.Change) []canvas.Change {
	b := boundingBox(pool)
	corners := b.corners()
	dist := func(c canvas.Change) float64 {
		best := math.Inf(1)
		for _, corner := range corners {
			d := euclid(float64(c.X), float64(c.Y), corner[0], corner[1])
			if d < best {
				best = d
			}
		}
		return best
	}
	out := clone(pool)
	sort.SliceStable(out, func(i, j int) bool { return dist(out[i]) < dist(out[j]) })
	return out
}

func spiralOrdered(pool []canvas.Change, ccw bool) []canvas.Change {
	b := boundingBox(pool)
	cx, cy := b.center()
	type polar struct {
		c     canvas.Change
		r     float64
		theta float64
	}
	points := make([]polar, len(pool))
	for i, c := range pool {
		dx, dy := float64(c.X)-cx, float64(c.Y)-cy
		r := round3(math.Hypot(dx, dy))
		theta := math.Atan2(dy, dx)
		if ccw {
			theta = -theta
		}
		points[i] = polar{c: c, r: r, theta: theta}
	}
	sort.SliceStable(points, func(i, j int) bool {
		if points[i].r != points[j].r {
			return points[i].r < points[j].r
		}
		return points[i].theta < points[j].theta
	})
	out := make([]canvas.Change, len(points))
	for i, p := range points {
		out[i] = p.c
	}
	return out
}

func clusterOrdered(pool []canvas.Change, rng *rand.Rand) []canvas.Change {
	seed := pool[rng.Intn(len(pool))]
	out := clone(pool)
	sort.SliceStable(out, func(i, j int) bool {
		di := euclid(float64(out[i].X), float64(out[i].Y), float64(seed.X), float64(seed.Y))
		dj := euclid(float64(out[j].X), float64(out[j].Y), float64(seed.X), float64(seed.Y))
		return di < dj
	})
	return out
}

func waveOrdered(pool []canvas.Change) []canvas.Change {
	b := boundingBox(pool)
	span := float64(b.maxX - b.minX)
	score := func(c canvas.Change) float64 {
		nx := 0.0
		if span > 0 {
			nx = float64(c.X-b.minX) / span
		}
		wave := 10 * math.Sin(2*math.Pi*nx)
		return math.Abs(float64(c.Y) - wave)
	}
	out := clone(pool)
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := score(out[i]), score(out[j])
		if si != sj {
			return si < sj
		}
		return out[i].X < out[j].X
	})
	return out
}

func sweepOrdered(pool []canvas.Change) []canvas.Change {
	const bucketSize = 8
	type bucketKey struct{ bx, by int }
	buckets := make(map[bucketKey][]canvas.Change)
	for _, c := range pool {
		k := bucketKey{bx: floorDiv(c.X, bucketSize), by: floorDiv(c.Y, bucketSize)}
		buckets[k] = append(buckets[k], c)
	}
	keys := make([]bucketKey, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].by != keys[j].by {
			return keys[i].by < keys[j].by
		}
		return keys[i].bx < keys[j].bx
	})
	out := make([]canvas.Change, 0, len(pool))
	for _, k := range keys {
		out = append(out, buckets[k]...)
	}
	return out
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func priorityOrdered(pool []canvas.Change, rng *rand.Rand) []canvas.Change {
	b := boundingBox(pool)
	cx, cy := b.center()
	type scored struct {
		c     canvas.Change
		score float64
	}
	scoredPool := make([]scored, len(pool))
	for i, c := range pool {
		centerDist := euclid(float64(c.X), float64(c.Y), cx, cy)
		edgeDist := b.edgeDistance(c.X, c.Y)
		scoredPool[i] = scored{c: c, score: 0.4*centerDist - 0.3*edgeDist + rng.Float64()*0.3}
	}
	sort.SliceStable(scoredPool, func(i, j int) bool { return scoredPool[i].score < scoredPool[j].score })
	out := make([]canvas.Change, len(scoredPool))
	for i, s := range scoredPool {
		out[i] = s.c
	}
	return out
}

func proximityOrdered(pool []canvas.Change, rng *rand.Rand) []canvas.Change {
	remaining := clone(pool)
	start := rng.Intn(len(remaining))
	out := make([]canvas.Change, 0, len(remaining))
	current := remaining[start]
	out = append(out, current)
	remaining = append(remaining[:start], remaining[start+1:]...)

	for len(remaining) > 0 {
		bestIdx := 0
		bestDist := euclid(float64(current.X), float64(current.Y), float64(remaining[0].X), float64(remaining[0].Y))
		for i := 1; i < len(remaining); i++ {
			d := euclid(float64(current.X), float64(current.Y), float64(remaining[i].X), float64(remaining[i].Y))
			if d < bestDist {
				bestDist = d
				bestIdx = i
			}
		}
		current = remaining[bestIdx]
		out = append(out, current)
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return out
}

func quadrantOrdered(pool []canvas.Change) []canvas.Change {
	b := boundingBox(pool)
	cx, cy := b.center()
	var quads [4][]canvas.Change
	for _, c := range pool {
		left := float64(c.X) <= cx
		top := float64(c.Y) <= cy
		switch {
		case top && left:
			quads[0] = append(quads[0], c)
		case top && !left:
			quads[1] = append(quads[1], c)
		case !top && left:
			quads[2] = append(quads[2], c)
		default:
			quads[3] = append(quads[3], c)
		}
	}
	out := make([]canvas.Change, 0, len(pool))
	for i := 0; ; i++ {
		added := false
		for q := 0; q < 4; q++ {
			if i < len(quads[q]) {
				out = append(out, quads[q][i])
				added = true
			}
		}
		if !added {
			break
		}
	}
	return out
}

func scatteredOrdered(pool []canvas.Change, rng *rand.Rand) []canvas.Change {
	remaining := clone(pool)
	start := rng.Intn(len(remaining))
	out := make([]canvas.Change, 0, len(remaining))
	out = append(out, remaining[start])
	remaining = append(remaining[:start], remaining[start+1:]...)

	for len(remaining) > 0 {
		bestIdx := -1
		bestMinDist := -1.0
		for i, cand := range remaining {
			minDist := math.Inf(1)
			for _, chosen := range out {
				d := euclid(float64(cand.X), float64(cand.Y), float64(chosen.X), float64(chosen.Y))
				if d < minDist {
					minDist = d
				}
			}
			if minDist > bestMinDist {
				bestMinDist = minDist
				bestIdx = i
			}
		}
		out = append(out, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return out
}

func biasedRandomOrdered(pool []canvas.Change, rng *rand.Rand) []canvas.Change {
	b := boundingBox(pool)
	type weighted struct {
		c float64
		w canvas.Change
	}
	weights := make([]weighted, len(pool))
	for i, c := range pool {
		edgeDist := b.edgeDistance(c.X, c.Y)
		weights[i] = weighted{c: 1/(edgeDist+1) + rng.Float64()*0.5, w: c}
	}
	sort.SliceStable(weights, func(i, j int) bool { return weights[i].c > weights[j].c })
	out := make([]canvas.Change, len(weights))
	for i, w := range weights {
		out[i] = w.w
	}
	return out
}

func anchorPointsOrdered(pool []canvas.Change) []canvas.Change {
	b := boundingBox(pool)
	cx, cy := b.center()
	type anchor struct {
		x, y     float64
		priority int
	}
	anchors := []anchor{
		{float64(b.minX), float64(b.minY), 1},
		{float64(b.maxX), float64(b.minY), 1},
		{float64(b.minX), float64(b.maxY), 1},
		{float64(b.maxX), float64(b.maxY), 1},
		{cx, cy, 2},
		{cx, float64(b.minY), 3},
		{cx, float64(b.maxY), 3},
		{float64(b.minX), cy, 3},
		{float64(b.maxX), cy, 3},
	}
	type scored struct {
		c        canvas.Change
		priority int
		dist     float64
	}
	scoredPool := make([]scored, len(pool))
	for i, c := range pool {
		bestPriority := 0
		bestDist := math.Inf(1)
		for _, a := range anchors {
			d := euclid(float64(c.X), float64(c.Y), a.x, a.y)
			if d < bestDist {
				bestDist = d
				bestPriority = a.priority
			}
		}
		scoredPool[i] = scored{c: c, priority: bestPriority, dist: bestDist}
	}
	sort.SliceStable(scoredPool, func(i, j int) bool {
		if scoredPool[i].priority != scoredPool[j].priority {
			return scoredPool[i].priority < scoredPool[j].priority
		}
		return scoredPool[i].dist < scoredPool[j].dist
	})
	out := make([]canvas.Change, len(scoredPool))
	for i, s := range scoredPool {
		out[i] = s.c
	}
	return out
}
