package router

import (
	"fmt"

	"beohub/config"
)

// SourceState is the lifecycle state of a playback source.
type SourceState int

const (
	StateGone SourceState = iota
	StateAvailable
	StatePlaying
	StatePaused
)

// ParseSourceState decodes the wire representation once at the HTTP
// boundary.
func ParseSourceState(s string) (SourceState, error) {
	switch s {
	case "gone":
		return StateGone, nil
	case "available":
		return StateAvailable, nil
	case "playing":
		return StatePlaying, nil
	case "paused":
		return StatePaused, nil
	default:
		return StateGone, fmt.Errorf("unknown source state %q", s)
	}
}

func (s SourceState) String() string {
	switch s {
	case StateAvailable:
		return "available"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "gone"
	}
}

// Active reports whether the state counts as active (exclusive recipient
// of handled remote actions).
func (s SourceState) Active() bool {
	return s == StatePlaying || s == StatePaused
}

// Source is one registered playback-source service.
type Source struct {
	ID          string
	Name        string
	CommandURL  string
	Handles     map[string]bool
	InsertAfter string
	State       SourceState
}

// Handled reports whether the source declared the action.
func (s *Source) Handled(action string) bool {
	return s.Handles[action]
}

// Registry tracks every source's lifecycle state plus the single active
// source. Invariant: at most one source is playing or paused, and it is
// always the active one. The registry is not goroutine-safe; the router
// serializes all mutation behind its own lock.
type Registry struct {
	sources  map[string]*Source
	order    []string
	activeID string
}

// NewRegistry creates a registry pre-populated from static configuration.
// Pre-registered sources start gone until their service reports in.
func NewRegistry(preregistered []config.SourceConfig) *Registry {
	r := &Registry{sources: make(map[string]*Source)}
	for _, sc := range preregistered {
		r.insert(&Source{
			ID:          sc.ID,
			Name:        sc.Name,
			CommandURL:  sc.CommandURL,
			Handles:     handleSet(sc.Handles),
			InsertAfter: sc.After,
			State:       StateGone,
		})
	}
	return r
}

func (r *Registry) insert(s *Source) {
	r.sources[s.ID] = s
	r.order = append(r.order, s.ID)
}

// Get returns the source with the given id, or nil.
func (r *Registry) Get(id string) *Source {
	return r.sources[id]
}

// Ensure returns the source with the given id, creating it (state gone)
// on first registration from an unknown service.
func (r *Registry) Ensure(id string) *Source {
	if s, ok := r.sources[id]; ok {
		return s
	}
	s := &Source{ID: id, Name: id, Handles: map[string]bool{}, State: StateGone}
	r.insert(s)
	return s
}

// Active returns the active source, or nil when none is playing or
// paused.
func (r *Registry) Active() *Source {
	if r.activeID == "" {
		return nil
	}
	return r.sources[r.activeID]
}

// ActiveID returns the active source id, or "".
func (r *Registry) ActiveID() string {
	return r.activeID
}

// SetActive makes id the single active source, demoting any previously
// active source to available.
func (r *Registry) SetActive(id string) {
	if r.activeID != "" && r.activeID != id {
		if prev := r.sources[r.activeID]; prev != nil && prev.State.Active() {
			prev.State = StateAvailable
		}
	}
	r.activeID = id
}

// ClearActive drops the active source.
func (r *Registry) ClearActive() {
	r.activeID = ""
}

// All returns the sources in registration order.
func (r *Registry) All() []*Source {
	out := make([]*Source, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sources[id])
	}
	return out
}

func handleSet(actions []string) map[string]bool {
	set := make(map[string]bool, len(actions))
	for _, a := range actions {
		set[a] = true
	}
	return set
}
