package orchestrator

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/andrewboldi/canvasguard/internal/battracker"
	"github.com/andrewboldi/canvasguard/internal/canvas"
	"github.com/andrewboldi/canvasguard/internal/guardconfig"
	"github.com/andrewboldi/canvasguard/internal/lockout"
	"github.com/andrewboldi/canvasguard/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	mu         sync.Mutex
	workers    map[string]*canvas.Worker
	favoriteID string
	sent       []string
	lastMsgs   map[string]any
	broadcasts []string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{workers: make(map[string]*canvas.Worker), lastMsgs: make(map[string]any)}
}

func (r *fakeRegistry) addWorker(id string, charges int, preview canvas.Preview) {
	w := canvas.NewWorker(id, 1000)
	w.Telemetry.SetRemainingCharges(charges)
	w.Telemetry.SetPreview(preview, 1)
	r.mu.Lock()
	r.workers[id] = w
	if r.favoriteID == "" {
		r.favoriteID = id
		w.IsFavorite = true
	}
	r.mu.Unlock()
}

func (r *fakeRegistry) SendToSlave(id string, msgType string, msg any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, id+":"+msgType)
	r.lastMsgs[id+":"+msgType] = msg
	return nil
}

func (r *fakeRegistry) Worker(id string) (*canvas.Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	return w, ok
}

func (r *fakeRegistry) Favorite() (*canvas.Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[r.favoriteID]
	return w, ok
}

func (r *fakeRegistry) ConnectedWorkerIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.workers))
	for id := range r.workers {
		ids = append(ids, id)
	}
	return ids
}

func (r *fakeRegistry) BroadcastToUI(msgType string, msg any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts = append(r.broadcasts, msgType)
}

type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	statuses map[string]SessionStatus
	projects map[string]*Project
}

func newFakeStore(sess *Session) *fakeStore {
	return &fakeStore{
		sessions: map[string]*Session{sess.ID: sess},
		statuses: make(map[string]SessionStatus),
		projects: map[string]*Project{
			sess.ProjectID: {Mode: "guard", Config: map[string]any{"width": 100}},
		},
	}
}

func (s *fakeStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[sessionID], nil
}

func (s *fakeStore) SetSessionStatus(ctx context.Context, sessionID string, status SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[sessionID] = status
	return nil
}

func (s *fakeStore) GetProject(ctx context.Context, projectID string) (*Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projects[projectID], nil
}

func noWait(ctx context.Context, d time.Duration) {}

func TestRunIteration_NoValidSlaves_SleepsAndReturnsNilPlan(t *testing.T) {
	reg := newFakeRegistry()
	store := newFakeStore(&Session{ID: "s1", SlaveIDs: []string{"a"}, Strategy: guardconfig.StrategyGreedy})
	o := New(reg, store, guardconfig.New(), battracker.New(), lockout.New(), noWait, rand.New(rand.NewSource(1)), nil)

	plan, err := o.RunIteration(context.Background(), &Session{ID: "s1", SlaveIDs: []string{"a"}, Strategy: guardconfig.StrategyGreedy}, time.Second)
	require.NoError(t, err)
	assert.Nil(t, plan)
}

func TestRunIteration_NoChanges_SleepsAndReturnsNilPlan(t *testing.T) {
	reg := newFakeRegistry()
	reg.addWorker("a", 10, canvas.Preview{})
	store := newFakeStore(&Session{ID: "s1"})
	o := New(reg, store, guardconfig.New(), battracker.New(), lockout.New(), noWait, rand.New(rand.NewSource(1)), nil)

	sess := &Session{ID: "s1", SlaveIDs: []string{"a"}, Strategy: guardconfig.StrategyGreedy}
	plan, err := o.RunIteration(context.Background(), sess, time.Second)
	require.NoError(t, err)
	assert.Nil(t, plan)
}

func TestRunIteration_DispatchesAndProducesPlan(t *testing.T) {
	reg := newFakeRegistry()
	changes := []canvas.Change{
		{X: 1, Y: 1, Type: canvas.ChangeMissing, ExpectedColor: 2},
		{X: 2, Y: 2, Type: canvas.ChangeMissing, ExpectedColor: 2},
	}
	reg.addWorker("a", 5, canvas.Preview{Changes: changes})
	store := newFakeStore(&Session{ID: "s1"})
	cfg := guardconfig.New()
	cfg.SetPixelsPerBatch(1)
	cfg.SetSpendAllPixelsOnStart(true)
	o := New(reg, store, cfg, battracker.New(), lockout.New(), noWait, rand.New(rand.NewSource(1)), nil)

	sess := &Session{ID: "s1", SlaveIDs: []string{"a"}, Strategy: guardconfig.StrategyGreedy}
	plan, err := o.RunIteration(context.Background(), sess, 200*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, 5, plan["a"], "plan carries the full credit-bound quota, not just the count actually eligible to dispatch")
}

func TestHandlePaintResult_OKLocksOutCoords(t *testing.T) {
	reg := newFakeRegistry()
	store := newFakeStore(&Session{ID: "s1"})
	ls := lockout.New()
	cfg := guardconfig.New()
	tracker := battracker.New()
	tracker.Create("req-1")
	tracker.Assign("req-1", "a", 0, 0, []canvas.Coord{{X: 1, Y: 1}}, []int{2}, 0)

	o := New(reg, store, cfg, tracker, ls, noWait, rand.New(rand.NewSource(1)), nil)

	o.HandlePaintResult(wire.PaintResultPayload{
		Type:      wire.TypePaintResult,
		RequestID: "req-1",
		TileX:     0,
		TileY:     0,
		Coords:    []canvas.Coord{{X: 1, Y: 1}},
		OK:        true,
	}, "a")

	assert.True(t, ls.IsLocked(1, 1))
	assert.Equal(t, 0, tracker.GetPending("req-1"))
}

func TestStart_SendsRealSetModeAndLoadProjectPayloads(t *testing.T) {
	reg := newFakeRegistry()
	reg.addWorker("a", 5, canvas.Preview{})
	sess := &Session{ID: "s1", ProjectID: "proj-1", SlaveIDs: []string{"a"}, Strategy: guardconfig.StrategyGreedy}
	store := newFakeStore(sess)
	store.projects["proj-1"] = &Project{Mode: "guard", Config: map[string]any{"width": 100}}

	o := New(reg, store, guardconfig.New(), battracker.New(), lockout.New(), noWait, rand.New(rand.NewSource(1)), nil)
	require.NoError(t, o.Start(context.Background(), "s1"))
	defer o.Stop(context.Background(), "s1")

	assert.Contains(t, reg.sent, "a:"+wire.TypeSetMode)
	assert.Contains(t, reg.sent, "a:"+wire.TypeLoadProject)
	assert.Equal(t, StatusRunning, store.statuses["s1"])

	setMode, ok := reg.lastMsgs["a:"+wire.TypeSetMode].(wire.SetModePayload)
	require.True(t, ok, "setMode payload has the wrong type")
	assert.Equal(t, "guard", setMode.Mode, "setMode must carry the session's actual project mode, not an empty envelope")

	loadProject, ok := reg.lastMsgs["a:"+wire.TypeLoadProject].(wire.LoadProjectPayload)
	require.True(t, ok, "loadProject payload has the wrong type")
	assert.Equal(t, 100, loadProject.Config["width"], "loadProject must carry the session's actual project config, not an empty envelope")
}
