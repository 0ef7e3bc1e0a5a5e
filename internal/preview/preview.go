// Package preview implements the favorite freshness handshake (C5): ask
// the favorite to re-check, then poll its telemetry bag for a newer
// preview timestamp within a bounded budget.
package preview

import (
	"context"
	"time"

	"github.com/andrewboldi/canvasguard/internal/canvas"
	"github.com/andrewboldi/canvasguard/internal/wire"
)

const (
	pollInterval = 250 * time.Millisecond
	maxPolls     = 20 // 20 * 250ms = 5s total budget
)

// Sender is the narrow registry capability the handshake needs: sending
// a command to one worker by id.
type Sender interface {
	SendToSlave(id string, msgType string, msg any) error
}

// TelemetryLookup is the narrow registry capability for reading a
// worker's telemetry bag.
type TelemetryLookup interface {
	Worker(id string) (*canvas.Worker, bool)
}

// Sleeper abstracts the wall-clock wait between polls so tests can run
// the handshake without the real 5s budget.
type Sleeper func(ctx context.Context, d time.Duration)

// RealSleep blocks for d or until ctx is cancelled, whichever comes
// first.
func RealSleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// Check runs the freshness handshake against favoriteID and returns
// whatever preview is in its telemetry bag afterward — a fresher one if
// the favorite responded within budget, or the prior one if it did not.
// A stale response is tolerated, not an error.
func Check(ctx context.Context, sender Sender, lookup TelemetryLookup, favoriteID string, sleep Sleeper) canvas.Preview {
	if sleep == nil {
		sleep = RealSleep
	}

	w, ok := lookup.Worker(favoriteID)
	if !ok {
		return canvas.Preview{}
	}
	oldTS := w.Telemetry.LastPreviewTimestamp()

	_ = sender.SendToSlave(favoriteID, wire.TypeGuardControl, wire.GuardControlPayload{
		Type:   wire.TypeGuardControl,
		Action: wire.GuardControlCheck,
	})

	for i := 0; i < maxPolls; i++ {
		if ctx.Err() != nil {
			break
		}
		sleep(ctx, pollInterval)
		if ctx.Err() != nil {
			break
		}
		w, ok = lookup.Worker(favoriteID)
		if !ok {
			return canvas.Preview{}
		}
		if w.Telemetry.LastPreviewTimestamp() > oldTS {
			break
		}
	}

	w, ok = lookup.Worker(favoriteID)
	if !ok {
		return canvas.Preview{}
	}
	return w.Telemetry.PreviewData()
}
