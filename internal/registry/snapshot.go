package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/andrewboldi/canvasguard/internal/canvas"
)

// UIProject is the lean (id, name, mode, config) view exposed in a UI
// snapshot, independent of any persistence package's richer record.
type UIProject struct {
	ID     string
	Name   string
	Mode   string
	Config map[string]any
}

// UISession is the lean session view exposed in a UI snapshot.
type UISession struct {
	ID        string
	ProjectID string
	SlaveIDs  []string
	Strategy  string
	Status    string
}

// ProjectSessionLister is the persistence capability a UI snapshot needs:
// every project and session row, for the UI's initial listing.
type ProjectSessionLister interface {
	ListProjects(ctx context.Context) ([]UIProject, error)
	ListSessions(ctx context.Context) ([]UISession, error)
}

// GuardDataReader exposes the last uploaded guard data payload, the
// third-tier fallback source for available colors.
type GuardDataReader interface {
	Get() (json.RawMessage, bool)
}

// SlaveView is one connected worker's entry in a UI snapshot.
type SlaveView struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	IsFavorite  bool   `json:"is_favorite"`
	ConnectedAt int64  `json:"connected_at"`
	LastSeenAt  int64  `json:"last_seen"`
}

// UISnapshot is the {type:"initial_state"} payload pushed to a UI
// connection immediately on connect.
type UISnapshot struct {
	Type            string      `json:"type"`
	Slaves          []SlaveView `json:"slaves"`
	Projects        []UIProject `json:"projects"`
	Sessions        []UISession `json:"sessions"`
	SelectedSlaves  []string    `json:"selected_slaves"`
	AvailableColors []int       `json:"available_colors"`
}

// BuildUISnapshot assembles the initial_state payload: the connected
// worker set, every stored project/session, and the available-colors
// hydration chain — the favorite's reported preview palette, falling
// back to any connected worker's preview palette, falling back to the
// colors recorded on the last uploaded guard data.
func (r *Registry) BuildUISnapshot(ctx context.Context, lister ProjectSessionLister, guardData GuardDataReader) (UISnapshot, error) {
	r.mu.Lock()
	slaves := make([]SlaveView, 0, len(r.workers))
	for _, w := range r.workers {
		slaves = append(slaves, SlaveView{
			ID:          w.ID,
			Status:      string(w.Status),
			IsFavorite:  w.IsFavorite,
			ConnectedAt: w.ConnectedAt,
			LastSeenAt:  w.LastSeenAt,
		})
	}
	favoriteID := r.favoriteID
	r.mu.Unlock()

	projects, err := lister.ListProjects(ctx)
	if err != nil {
		return UISnapshot{}, fmt.Errorf("listing projects for UI snapshot: %w", err)
	}
	sessions, err := lister.ListSessions(ctx)
	if err != nil {
		return UISnapshot{}, fmt.Errorf("listing sessions for UI snapshot: %w", err)
	}

	return UISnapshot{
		Type:            "initial_state",
		Slaves:          slaves,
		Projects:        projects,
		Sessions:        sessions,
		SelectedSlaves:  []string{},
		AvailableColors: r.hydrateAvailableColors(favoriteID, guardData),
	}, nil
}

// hydrateAvailableColors implements the three-tier fallback: the
// favorite's preview palette, then any connected worker's preview
// palette, then the last uploaded guard data's own color list.
func (r *Registry) hydrateAvailableColors(favoriteID string, guardData GuardDataReader) []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if favoriteID != "" {
		if fav, ok := r.workers[favoriteID]; ok {
			if colors := previewColors(fav); len(colors) > 0 {
				return colors
			}
		}
	}
	for _, w := range r.workers {
		if colors := previewColors(w); len(colors) > 0 {
			return colors
		}
	}
	if guardData == nil {
		return nil
	}
	raw, ok := guardData.Get()
	if !ok {
		return nil
	}
	var body struct {
		Colors []int `json:"colors"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil
	}
	return body.Colors
}

func previewColors(w *canvas.Worker) []int {
	preview := w.Telemetry.PreviewData()
	if preview.Palette == nil {
		return nil
	}
	return preview.Palette.AvailableColorIDs
}
