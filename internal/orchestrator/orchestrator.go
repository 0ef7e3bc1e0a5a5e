// Package orchestrator implements the session orchestrator (C7): the
// long-running per-session loop that composes the preview handshake
// (preview), the pattern selector (pattern), the distribution planner
// (planner), and the dispatch pipeline (dispatch), consuming the batch
// tracker (battracker) for retries and the lockout set (lockout) to
// avoid redispatching freshly repaired coordinates.
//
// Modeled on a cooperative, single-goroutine-per-session loop with a
// top-of-iteration cancellation checkpoint and an outer recover-and-sleep
// wrapper so that one session's malformed data never kills its loop.
package orchestrator

import (
	"context"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/andrewboldi/canvasguard/internal/battracker"
	"github.com/andrewboldi/canvasguard/internal/canvas"
	"github.com/andrewboldi/canvasguard/internal/dispatch"
	"github.com/andrewboldi/canvasguard/internal/guardconfig"
	"github.com/andrewboldi/canvasguard/internal/lockout"
	"github.com/andrewboldi/canvasguard/internal/pattern"
	"github.com/andrewboldi/canvasguard/internal/planner"
	"github.com/andrewboldi/canvasguard/internal/preview"
	"github.com/andrewboldi/canvasguard/internal/wire"
)

// SessionStatus is the lifecycle status of a session (mirrors the
// persisted store column of the same name).
type SessionStatus string

const (
	StatusCreated SessionStatus = "created"
	StatusRunning SessionStatus = "running"
	StatusPaused  SessionStatus = "paused"
	StatusStopped SessionStatus = "stopped"
)

// Session is the in-memory record the orchestrator drives one loop for.
type Session struct {
	ID        string
	ProjectID string
	SlaveIDs  []string
	Strategy  guardconfig.ChargeStrategy
	Status    SessionStatus
}

// Project is the (mode, config) subset of the persisted project record
// Start needs to seed a newly started session's workers.
type Project struct {
	Mode   string
	Config map[string]any
}

const (
	retryDeadline    = 90 * time.Second
	oneBatchDeadline = 45 * time.Second
	retryPollEvery   = 300 * time.Millisecond

	sleepNoValidSlaves  = 3 * time.Second
	sleepNoChanges      = 5 * time.Second
	sleepNoCredits      = 30 * time.Second
	sleepAwaitCredits   = 10 * time.Second
	sleepNoPick         = 5 * time.Second
	sleepBetweenRounds  = 1 * time.Second
	sleepAfterIterError = 2 * time.Second
)

// Registry is the subset of the connection registry the orchestrator
// depends on.
type Registry interface {
	preview.Sender
	preview.TelemetryLookup
	dispatch.Sender
	Favorite() (*canvas.Worker, bool)
	ConnectedWorkerIDs() []string
	BroadcastToUI(msgType string, msg any)
}

// Store is the subset of the persistence layer the orchestrator needs to
// read sessions and push lifecycle status back.
type Store interface {
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	SetSessionStatus(ctx context.Context, sessionID string, status SessionStatus) error
	GetProject(ctx context.Context, projectID string) (*Project, error)
}

// Sleeper abstracts the loop's own timed waits (the back-offs, the pause
// between rounds, and the retry poll) so tests can run it without the
// real wall-clock budgets. The preview handshake's polling and the
// dispatch pipeline's pacing between tiles wait in real time, and the
// retry deadline is measured on the wall clock.
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

// Orchestrator drives the main loop for every running session.
type Orchestrator struct {
	registry Registry
	store    Store
	config   *guardconfig.Config
	tracker  *battracker.Tracker
	lockout  *lockout.Set

	sleep Sleeper
	rng   *rand.Rand

	logger *slog.Logger

	runningMu sync.Mutex
	running   map[string]chan struct{}
}

// New returns an Orchestrator wired to its collaborators. sleep and rng
// may be nil to use real time and a non-deterministic source.
func New(registry Registry, store Store, config *guardconfig.Config, tracker *battracker.Tracker, lockoutSet *lockout.Set, sleep Sleeper, rng *rand.Rand, logger *slog.Logger) *Orchestrator {
	if sleep == nil {
		sleep = RealSleep
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		registry: registry,
		store:    store,
		config:   config,
		tracker:  tracker,
		lockout:  lockoutSet,
		sleep:    sleep,
		rng:      rng,
		logger:   logger,
		running:  make(map[string]chan struct{}),
	}
}

// Start validates the session, flags it running, persists the status,
// and launches a background loop. The loop exits when Stop is called or
// the context is cancelled.
func (o *Orchestrator) Start(ctx context.Context, sessionID string) error {
	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	project, err := o.store.GetProject(ctx, sess.ProjectID)
	if err != nil {
		return err
	}

	for _, id := range sess.SlaveIDs {
		if w, ok := o.registry.Worker(id); ok {
			_ = o.registry.SendToSlave(w.ID, wire.TypeSetMode, wire.SetModePayload{Type: wire.TypeSetMode, Mode: project.Mode})
			_ = o.registry.SendToSlave(w.ID, wire.TypeLoadProject, wire.LoadProjectPayload{Type: wire.TypeLoadProject, Config: project.Config})
		}
	}

	if err := o.store.SetSessionStatus(ctx, sessionID, StatusRunning); err != nil {
		return err
	}

	done := make(chan struct{})
	o.runningMu.Lock()
	o.running[sessionID] = done
	o.runningMu.Unlock()

	go o.loop(ctx, sess, done)
	return nil
}

// Pause flips the session's persisted status and broadcasts a pause
// control message; the background loop keeps running but the UI and
// workers are informed.
func (o *Orchestrator) Pause(ctx context.Context, sessionID string) error {
	if err := o.store.SetSessionStatus(ctx, sessionID, StatusPaused); err != nil {
		return err
	}
	control := wire.ControlPayload{Type: wire.TypeControl, Action: wire.ControlPause}
	if sess, err := o.store.GetSession(ctx, sessionID); err == nil && sess != nil {
		for _, id := range sess.SlaveIDs {
			_ = o.registry.SendToSlave(id, wire.TypeControl, control)
		}
	}
	o.registry.BroadcastToUI(wire.TypeControl, control)
	return nil
}

// Stop flips the session's persisted status, broadcasts a stop control
// message, and signals the background loop to exit at its next
// checkpoint.
func (o *Orchestrator) Stop(ctx context.Context, sessionID string) error {
	if err := o.store.SetSessionStatus(ctx, sessionID, StatusStopped); err != nil {
		return err
	}
	o.registry.BroadcastToUI(wire.TypeControl, wire.ControlPayload{Type: wire.TypeControl, Action: wire.ControlStop})

	o.runningMu.Lock()
	if done, ok := o.running[sessionID]; ok {
		close(done)
		delete(o.running, sessionID)
	}
	o.runningMu.Unlock()
	return nil
}

// isRunning reports whether sessionID's loop has not been stopped.
func (o *Orchestrator) isRunning(sessionID string) bool {
	o.runningMu.Lock()
	defer o.runningMu.Unlock()
	_, ok := o.running[sessionID]
	return ok
}

func (o *Orchestrator) loop(ctx context.Context, sess *Session, done chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		default:
		}

		if !o.isRunning(sess.ID) {
			return
		}

		if err := o.runIterationSafely(ctx, sess, retryDeadline); err != nil {
			o.logger.Error("session iteration failed", "session_id", sess.ID, "error", err)
			o.sleep(ctx, sleepAfterIterError)
		}
	}
}

// runIterationSafely wraps RunIteration with panic recovery: the loop
// never dies on data errors.
func (o *Orchestrator) runIterationSafely(ctx context.Context, sess *Session, deadline time.Duration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("session iteration panicked", "session_id", sess.ID, "panic", r)
			o.sleep(ctx, sleepAfterIterError)
		}
	}()
	_, err = o.RunIteration(ctx, sess, deadline)
	return err
}

// RunIteration performs exactly one iteration of the loop body and
// returns the per-worker plan it computed (nil if the iteration bailed
// out early on one of the wait conditions below, without dispatching
// anything). It is exposed directly so OneBatch can reuse it
// synchronously with a shorter retry deadline.
func (o *Orchestrator) RunIteration(ctx context.Context, sess *Session, retryBudget time.Duration) (map[string]int, error) {
	connected := make(map[string]struct{})
	for _, id := range o.registry.ConnectedWorkerIDs() {
		connected[id] = struct{}{}
	}
	validSlaves := make([]string, 0, len(sess.SlaveIDs))
	for _, id := range sess.SlaveIDs {
		if _, ok := connected[id]; ok {
			validSlaves = append(validSlaves, id)
		}
	}
	if len(validSlaves) == 0 {
		o.sleep(ctx, sleepNoValidSlaves)
		return nil, nil
	}

	favorite, ok := o.registry.Favorite()
	if !ok {
		o.sleep(ctx, sleepNoValidSlaves)
		return nil, nil
	}
	prev := preview.Check(ctx, o.registry, o.registry, favorite.ID, nil)
	o.lockout.Age()

	changes := canvas.FilterRepairable(prev.Changes)
	excludeEnabled, excludedIDs := o.config.ExcludedColors()
	if excludeEnabled {
		changes = canvas.ExcludeColors(changes, excludedIDs)
	}
	_, preferredIDs := o.config.PreferredColors()
	changes = canvas.SortPreferred(changes, preferredIDs)

	credits := make(map[string]int, len(validSlaves))
	total := 0
	for _, id := range validSlaves {
		w, ok := o.registry.Worker(id)
		if !ok {
			continue
		}
		c := w.Telemetry.RemainingCharges()
		if c < 0 {
			c = 0
		}
		credits[id] = c
		total += c
	}

	if len(changes) == 0 {
		o.sleep(ctx, sleepNoChanges)
		return nil, nil
	}
	if total <= 0 {
		o.sleep(ctx, sleepNoCredits)
		return nil, nil
	}

	pixelsPerBatch := o.config.PixelsPerBatch()
	spendAll := o.config.SpendAllPixelsOnStart()
	var desired int
	if spendAll {
		desired = total
	} else {
		if total < pixelsPerBatch {
			o.sleep(ctx, sleepAwaitCredits)
			return nil, nil
		}
		desired = min(total, pixelsPerBatch)
	}

	plan := planner.Plan(planner.Strategy(sess.Strategy), credits, desired)

	eligible := make([]canvas.Change, 0, len(changes))
	for _, c := range changes {
		if !o.lockout.IsLocked(c.X, c.Y) {
			eligible = append(eligible, c)
		}
	}
	planTotal := 0
	for _, v := range plan {
		planTotal += v
	}
	pick := min(len(eligible), planTotal)
	if pick <= 0 {
		o.sleep(ctx, sleepNoPick)
		return nil, nil
	}

	patternName := o.config.ProtectionPattern()
	selected := pattern.Select(patternName, eligible, pick, o.rng)

	queues := buildQueues(selected, plan, validSlaves)

	requestID := uuid.NewString()
	o.tracker.Create(requestID)

	for _, slaveID := range validSlaves {
		items := queues[slaveID]
		if len(items) == 0 {
			continue
		}
		// o.rng is shared across the whole session loop and is not safe
		// for concurrent use; each worker's dispatch goroutine gets its
		// own source seeded sequentially, here, before any goroutine runs.
		workerRng := rand.New(rand.NewSource(o.rng.Int63()))
		go func(slaveID string, items []dispatch.Item, workerRng *rand.Rand) {
			_, _ = dispatch.Dispatch(ctx, o.registry, o.tracker, workerRng, requestID, slaveID, items, nil)
		}(slaveID, items, workerRng)
	}

	o.retryUntilResolved(ctx, requestID, credits, validSlaves, retryBudget)

	o.sleep(ctx, sleepBetweenRounds)
	return plan, nil
}

// OneBatch performs exactly one iteration synchronously with a 45s retry
// deadline and returns the plan it computed, without launching a
// background loop — the non-looping sibling used by interactive UIs.
func (o *Orchestrator) OneBatch(ctx context.Context, sessionID string) (map[string]int, error) {
	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return o.RunIteration(ctx, sess, oneBatchDeadline)
}

// retryUntilResolved polls the batch tracker every 300ms until no
// assignment is pending or retryBudget elapses; failed assignments are
// reassigned to a candidate slave and resent, or abandoned past
// maxRetries.
func (o *Orchestrator) retryUntilResolved(ctx context.Context, requestID string, credits map[string]int, validSlaves []string, retryBudget time.Duration) {
	deadlineCh := time.After(retryBudget)
	maxRetries := o.config.MaxRetries()

	for {
		if o.tracker.GetPending(requestID) == 0 {
			return
		}

		select {
		case <-deadlineCh:
			o.tracker.CleanupAbandoned(requestID, maxRetries)
			return
		case <-ctx.Done():
			return
		default:
		}

		o.sleep(ctx, retryPollEvery)

		for _, a := range o.tracker.FailedAssignments(requestID) {
			candidate := chooseCandidate(a.SlaveID, validSlaves, credits)
			attempts, exists := o.tracker.IncAttempts(requestID, a.SlaveID, battracker.BatchKey(a.TileX, a.TileY, a.Coords))
			if !exists {
				continue
			}
			if attempts > maxRetries {
				// IncAttempts has put the entry back to pending; mark it
				// failed again so CleanupAbandoned removes it.
				o.tracker.Mark(requestID, a.SlaveID, a.TileX, a.TileY, a.Coords, false)
				o.tracker.CleanupAbandoned(requestID, maxRetries)
				o.logger.Warn("abandoning batch after max retries", "request_id", requestID, "slave_id", a.SlaveID, "attempts", attempts)
				continue
			}
			payload := wire.NewPaintBatch(a.TileX, a.TileY, a.Coords, a.Colors, requestID)
			_ = o.registry.SendToSlave(candidate, wire.TypePaintBatch, payload)
		}
	}
}

// chooseCandidate prefers a slave other than the failed one with
// remaining credits, falling back to any other valid slave, falling
// back to the original slave if it is the only one connected.
func chooseCandidate(failed string, validSlaves []string, credits map[string]int) string {
	for _, s := range validSlaves {
		if s != failed && credits[s] > 0 {
			return s
		}
	}
	for _, s := range validSlaves {
		if s != failed {
			return s
		}
	}
	return failed
}

// buildQueues builds a slot list by visiting the sorted slave ids
// round-robin, one slot per id per pass, until each id holds plan[id]
// slots or every selected change has a slot, then hands selected out
// over those slots in order. Each worker receives at most plan[id] items,
// in pattern order; when fewer changes are selected than the plan totals,
// the shortfall falls on the ids with the largest quotas.
func buildQueues(selected []canvas.Change, plan map[string]int, validSlaves []string) map[string][]dispatch.Item {
	slots := make([]string, 0, len(selected))
	ids := make([]string, len(validSlaves))
	copy(ids, validSlaves)
	sort.Strings(ids)

	remaining := make(map[string]int, len(ids))
	for _, id := range ids {
		remaining[id] = plan[id]
	}

	for len(slots) < len(selected) {
		grantedThisPass := false
		for _, id := range ids {
			if len(slots) >= len(selected) {
				break
			}
			if remaining[id] > 0 {
				slots = append(slots, id)
				remaining[id]--
				grantedThisPass = true
			}
		}
		if !grantedThisPass {
			break
		}
	}

	queues := make(map[string][]dispatch.Item, len(ids))
	for i, c := range selected {
		if i >= len(slots) {
			break
		}
		id := slots[i]
		queues[id] = append(queues[id], dispatch.Item{Coord: canvas.Coord{X: c.X, Y: c.Y}, Color: c.ExpectedColor})
	}
	return queues
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// HandlePaintResult closes the feedback loop with the dispatch pipeline:
// it marks the assignment ok/failed in the batch tracker and, on
// success, locks out the painted coordinates so the next round does not
// immediately redispatch them.
func (o *Orchestrator) HandlePaintResult(result wire.PaintResultPayload, slaveID string) {
	o.tracker.Mark(result.RequestID, slaveID, result.TileX, result.TileY, result.Coords, result.OK)
	if result.OK {
		ttl := time.Duration(o.config.RecentLockSeconds()) * time.Second
		o.lockout.Mark(result.Coords, ttl)
	}
}
