package store

import (
	"context"

	"github.com/andrewboldi/canvasguard/internal/registry"
)

// UILister adapts Store to registry.ProjectSessionLister, translating
// the richer persistence records into the registry's lean UI view.
type UILister struct {
	store *Store
}

// NewUILister wraps s for use as a registry.ProjectSessionLister.
func NewUILister(s *Store) *UILister {
	return &UILister{store: s}
}

func (u *UILister) ListProjects(ctx context.Context) ([]registry.UIProject, error) {
	projects, err := u.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]registry.UIProject, len(projects))
	for i, p := range projects {
		out[i] = registry.UIProject{ID: p.ID, Name: p.Name, Mode: string(p.Mode), Config: p.Config}
	}
	return out, nil
}

func (u *UILister) ListSessions(ctx context.Context) ([]registry.UISession, error) {
	sessions, err := u.store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]registry.UISession, len(sessions))
	for i, s := range sessions {
		out[i] = registry.UISession{
			ID:        s.ID,
			ProjectID: s.ProjectID,
			SlaveIDs:  s.SlaveIDs,
			Strategy:  string(s.Strategy),
			Status:    string(s.Status),
		}
	}
	return out, nil
}
