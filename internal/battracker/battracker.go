// Package battracker implements the batch tracker (C2): a per-request
// map of dispatched sub-batches with attempt counters and pending counts.
// All operations are serialised under a single mutex — there is no lock
// hierarchy above this package.
package battracker

import (
	"fmt"
	"sync"

	"github.com/andrewboldi/canvasguard/internal/canvas"
)

// Status is the lifecycle state of one assignment.
type Status string

const (
	StatusPending Status = "pending"
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
)

// AssignmentKey identifies one batch within a request.
type AssignmentKey struct {
	SlaveID  string
	BatchKey string
}

// Assignment is one dispatched paintBatch payload tracked by the
// tracker.
type Assignment struct {
	SlaveID  string
	TileX    int
	TileY    int
	Coords   []canvas.Coord
	Colors   []int
	Attempts int
	Status   Status
}

// BatchKey computes "tileX,tileY:firstX,firstY" (or "...:empty" for an
// empty batch) from the payload shape.
func BatchKey(tileX, tileY int, coords []canvas.Coord) string {
	if len(coords) == 0 {
		return fmt.Sprintf("%d,%d:empty", tileX, tileY)
	}
	return fmt.Sprintf("%d,%d:%d,%d", tileX, tileY, coords[0].X, coords[0].Y)
}

type bucket struct {
	assignments map[AssignmentKey]*Assignment
	pending     int
}

// Tracker is the process-wide batch tracker, keyed by request id.
type Tracker struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{buckets: make(map[string]*bucket)}
}

// Create initialises an empty bucket for requestID.
func (t *Tracker) Create(requestID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buckets[requestID] = &bucket{assignments: make(map[AssignmentKey]*Assignment)}
}

// Assign inserts or overwrites an assignment with status pending, and
// recomputes the bucket's pending count.
func (t *Tracker) Assign(requestID, slaveID string, tileX, tileY int, coords []canvas.Coord, colors []int, attempt int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.bucketLocked(requestID)
	key := AssignmentKey{SlaveID: slaveID, BatchKey: BatchKey(tileX, tileY, coords)}
	b.assignments[key] = &Assignment{
		SlaveID:  slaveID,
		TileX:    tileX,
		TileY:    tileY,
		Coords:   coords,
		Colors:   colors,
		Attempts: attempt,
		Status:   StatusPending,
	}
	t.recomputePendingLocked(b)
}

// Mark flips the assignment matching (slaveID, tileX, tileY, coords) to
// ok or failed, and recomputes the bucket's pending count.
func (t *Tracker) Mark(requestID, slaveID string, tileX, tileY int, coords []canvas.Coord, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, exists := t.buckets[requestID]
	if !exists {
		return
	}
	key := AssignmentKey{SlaveID: slaveID, BatchKey: BatchKey(tileX, tileY, coords)}
	a, exists := b.assignments[key]
	if !exists {
		return
	}
	if ok {
		a.Status = StatusOK
	} else {
		a.Status = StatusFailed
	}
	t.recomputePendingLocked(b)
}

// FailedAssignments returns a snapshot of all assignments currently in
// state failed.
func (t *Tracker) FailedAssignments(requestID string) []Assignment {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, exists := t.buckets[requestID]
	if !exists {
		return nil
	}
	out := make([]Assignment, 0)
	for _, a := range b.assignments {
		if a.Status == StatusFailed {
			out = append(out, *a)
		}
	}
	return out
}

// IncAttempts increments the attempt counter of the assignment keyed by
// (slaveID, batchKey), resets its status to pending, and returns the new
// attempt count. Returns (0, false) if the assignment does not exist.
func (t *Tracker) IncAttempts(requestID, slaveID, batchKey string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, exists := t.buckets[requestID]
	if !exists {
		return 0, false
	}
	key := AssignmentKey{SlaveID: slaveID, BatchKey: batchKey}
	a, exists := b.assignments[key]
	if !exists {
		return 0, false
	}
	a.Attempts++
	a.Status = StatusPending
	t.recomputePendingLocked(b)
	return a.Attempts, true
}

// GetPending returns the number of assignments currently in state
// pending for requestID.
func (t *Tracker) GetPending(requestID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, exists := t.buckets[requestID]
	if !exists {
		return 0
	}
	return b.pending
}

// CleanupAbandoned deletes assignments whose status is failed and
// attempts exceeds maxRetries, returning the count removed.
func (t *Tracker) CleanupAbandoned(requestID string, maxRetries int) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, exists := t.buckets[requestID]
	if !exists {
		return 0
	}
	removed := 0
	for key, a := range b.assignments {
		if a.Status == StatusFailed && a.Attempts > maxRetries {
			delete(b.assignments, key)
			removed++
		}
	}
	t.recomputePendingLocked(b)
	return removed
}

func (t *Tracker) bucketLocked(requestID string) *bucket {
	b, exists := t.buckets[requestID]
	if !exists {
		b = &bucket{assignments: make(map[AssignmentKey]*Assignment)}
		t.buckets[requestID] = b
	}
	return b
}

func (t *Tracker) recomputePendingLocked(b *bucket) {
	pending := 0
	for _, a := range b.assignments {
		if a.Status == StatusPending {
			pending++
		}
	}
	b.pending = pending
}
