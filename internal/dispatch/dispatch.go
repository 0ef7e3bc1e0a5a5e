// Package dispatch implements the dispatch pipeline (C6): groups a
// worker's quota-sized, pattern-ordered change slice into tile payloads,
// registers each with the batch tracker, sends it, and paces consecutive
// tiles to the same worker with a uniform random delay. This is the only
// admission control against upstream rate limits, modeled on a "record
// and wait out" cooldown idiom generalised from a single process-wide
// cooldown to a per-tile delay.
package dispatch

import (
	"context"
	"math/rand"
	"time"

	"github.com/andrewboldi/canvasguard/internal/canvas"
	"github.com/andrewboldi/canvasguard/internal/wire"
)

// tileSize is the tile edge length used to group coordinates for
// dispatch.
const tileSize = 1000

const (
	minPaceSeconds = 5.0
	maxPaceSeconds = 10.0
)

// Sender is the narrow registry capability dispatch needs.
type Sender interface {
	SendToSlave(id string, msgType string, msg any) error
}

// Assigner is the narrow batch-tracker capability dispatch needs.
type Assigner interface {
	Assign(requestID, slaveID string, tileX, tileY int, coords []canvas.Coord, colors []int, attempt int)
}

// Item is one change already resolved to a coordinate and color, ready
// for tile grouping.
type Item struct {
	Coord canvas.Coord
	Color int
}

// Sleeper abstracts the inter-tile pacing wait for tests.
type Sleeper func(ctx context.Context, d time.Duration)

// RealSleep blocks for d or until ctx is cancelled.
func RealSleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// tileKey identifies one tile within a worker's dispatch.
type tileKey struct{ tx, ty int }

// ToTiles groups items by tile coordinate (tx, ty) = (x div TILE, y div
// TILE), preserving the input order within each tile and the order tiles
// are first encountered. No cross-tile ordering guarantee is required —
// map iteration order would be acceptable, but a stable encounter order
// keeps dispatch reproducible for tests.
func ToTiles(items []Item) []wire.PaintBatchPayload {
	order := make([]tileKey, 0)
	byTile := make(map[tileKey]*wire.PaintBatchPayload)

	for _, it := range items {
		k := tileKey{tx: floorDiv(it.Coord.X, tileSize), ty: floorDiv(it.Coord.Y, tileSize)}
		p, exists := byTile[k]
		if !exists {
			fresh := wire.NewPaintBatch(k.tx, k.ty, nil, nil, "")
			p = &fresh
			byTile[k] = p
			order = append(order, k)
		}
		p.Coords = append(p.Coords, it.Coord)
		p.Colors = append(p.Colors, it.Color)
		p.BatchSize = len(p.Coords)
	}

	out := make([]wire.PaintBatchPayload, 0, len(order))
	for _, k := range order {
		out = append(out, *byTile[k])
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

// Dispatch sends items to one worker as tile-grouped paintBatch
// messages, registering each with tracker under requestID before
// sending, and pacing consecutive tiles with a uniform random delay in
// [5, 10] seconds. The first tile is sent immediately. Returns the
// number of tiles successfully sent; a send error aborts the remaining
// tiles for this worker (the registry has already evicted the
// connection).
func Dispatch(ctx context.Context, sender Sender, tracker Assigner, rng *rand.Rand, requestID, slaveID string, items []Item, sleep Sleeper) (int, error) {
	if sleep == nil {
		sleep = RealSleep
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	tiles := ToTiles(items)
	sent := 0
	for i, tile := range tiles {
		if i > 0 {
			if ctx.Err() != nil {
				return sent, ctx.Err()
			}
			delay := time.Duration((minPaceSeconds+rng.Float64()*(maxPaceSeconds-minPaceSeconds))*1000) * time.Millisecond
			sleep(ctx, delay)
			if ctx.Err() != nil {
				return sent, ctx.Err()
			}
		}

		tile.RequestID = requestID
		tracker.Assign(requestID, slaveID, tile.TileX, tile.TileY, tile.Coords, tile.Colors, 0)

		if err := sender.SendToSlave(slaveID, wire.TypePaintBatch, tile); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}
