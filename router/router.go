package router

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"beohub/config"
	"beohub/logger"
	"beohub/relay"
	"beohub/volume"

	"github.com/google/uuid"
)

// Broadcaster pushes UI notifications. Satisfied by *relay.Client.
type Broadcaster interface {
	Broadcast(btype string, data map[string]any)
}

// eventKind classifies an action once at the HTTP boundary so routing
// dispatches on a tag instead of comparing strings along the way.
type eventKind int

const (
	kindOther eventKind = iota
	kindVolumeUp
	kindVolumeDown
	kindDigit
)

// Event is one decoded remote/button event.
type Event struct {
	Action string
	Kind   eventKind
	Digit  int
	Raw    map[string]any
}

// ClassifyEvent decodes a raw event payload into an Event.
func ClassifyEvent(raw map[string]any) Event {
	action, _ := raw["action"].(string)
	ev := Event{Action: action, Raw: raw}

	switch action {
	case "volup":
		ev.Kind = kindVolumeUp
		return ev
	case "voldown":
		ev.Kind = kindVolumeDown
		return ev
	}

	if d, ok := raw["digit"].(float64); ok && d >= 0 && d <= 9 {
		ev.Kind = kindDigit
		ev.Digit = int(d)
		return ev
	}
	if len(action) == 1 && action[0] >= '0' && action[0] <= '9' {
		ev.Kind = kindDigit
		ev.Digit = int(action[0] - '0')
	}
	return ev
}

// SourceUpdate is one decoded source lifecycle update.
type SourceUpdate struct {
	ID         string
	State      SourceState
	Name       string
	CommandURL string
	Handles    []string
	After      string
	Navigate   bool
}

// Router is the single ingress for all remote/button events. It decides
// which active source or local action handles each one and drives volume
// through the configured adapter.
type Router struct {
	cfg     config.RouterConfig
	adapter volume.Adapter
	relay   Broadcaster
	client  *http.Client
	logger  *slog.Logger

	instanceID string

	// mu serializes every registry and volume mutation: the router's
	// state is single-writer even though net/http serves concurrently.
	mu     sync.Mutex
	reg    *Registry
	volume int
	view   string
}

// New creates an event router from configuration.
func New(cfg config.RouterConfig, adapter volume.Adapter, broadcaster Broadcaster) *Router {
	return &Router{
		cfg:        cfg,
		adapter:    adapter,
		relay:      broadcaster,
		client:     &http.Client{Timeout: time.Second},
		logger:     logger.WithComponent("router"),
		instanceID: uuid.NewString(),
		reg:        NewRegistry(cfg.Sources),
		volume:     cfg.DefaultVolume,
	}
}

// HandleEvent routes one event. The decision order is total and
// deterministic: active-source action, digit to a digits-capable active
// source, direct source button, volume step, then the automation
// fallback.
func (rt *Router) HandleEvent(ev Event) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	active := rt.reg.Active()

	if active != nil && active.Handled(ev.Action) {
		rt.forward(active.ID, active.CommandURL, ev.Raw)
		return
	}

	if ev.Kind == kindDigit && active != nil && active.Handled("digits") {
		rt.forward(active.ID, active.CommandURL, ev.Raw)
		return
	}

	if src := rt.reg.Get(ev.Action); src != nil && src.State != StateGone && src.CommandURL != "" {
		rt.forward(src.ID, src.CommandURL, ev.Raw)
		return
	}

	switch ev.Kind {
	case kindVolumeUp:
		rt.stepVolume(rt.cfg.VolumeStep)
		return
	case kindVolumeDown:
		rt.stepVolume(-rt.cfg.VolumeStep)
		return
	}

	rt.forwardFallback(ev.Raw)
}

// UpdateSource applies one lifecycle update and emits the matching
// broadcasts.
func (rt *Router) UpdateSource(u SourceUpdate) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	src := rt.reg.Ensure(u.ID)
	if u.Name != "" {
		src.Name = u.Name
	}
	if u.CommandURL != "" {
		src.CommandURL = u.CommandURL
	}
	if len(u.Handles) > 0 {
		src.Handles = handleSet(u.Handles)
	}
	if u.After != "" {
		src.InsertAfter = u.After
	}

	prev := src.State
	src.State = u.State
	wasActive := rt.reg.ActiveID() == u.ID

	if prev == StateGone && u.State != StateGone {
		rt.relay.Broadcast(relay.TypeMenuAdd, map[string]any{"id": src.ID, "title": src.Name})
	}

	switch {
	case u.State.Active():
		if !wasActive {
			rt.reg.SetActive(u.ID)
			rt.relay.Broadcast(relay.TypeSourceChanged, map[string]any{
				"source": src.ID,
				"name":   src.Name,
			})
		}
		rt.powerOnOutput()
	case u.State == StateAvailable:
		if wasActive {
			rt.reg.ClearActive()
			rt.relay.Broadcast(relay.TypeSourceChanged, map[string]any{"source": nil})
		}
	case u.State == StateGone:
		if wasActive {
			rt.reg.ClearActive()
		}
		if prev != StateGone {
			rt.relay.Broadcast(relay.TypeMenuRemove, map[string]any{"id": src.ID})
		}
	}

	if u.Navigate {
		rt.relay.Broadcast(relay.TypeNavigate, map[string]any{"source": src.ID})
	}

	rt.logger.Info("Source updated",
		slog.String("id", src.ID),
		slog.String("state", src.State.String()),
		slog.String("active", rt.reg.ActiveID()))
}

// MenuItem is one display entry of the dynamic menu.
type MenuItem struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Menu builds the dynamic menu: the static display entries with every
// non-gone source inserted after its configured anchor, or immediately
// before the tail entry when the anchor is missing.
func (rt *Router) Menu() ([]MenuItem, string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	items := make([]MenuItem, 0, len(rt.cfg.Menu)+4)
	for _, e := range rt.cfg.Menu {
		items = append(items, MenuItem{ID: e.ID, Title: e.Title})
	}

	for _, src := range rt.reg.All() {
		if src.State == StateGone {
			continue
		}
		item := MenuItem{ID: src.ID, Title: src.Name}
		if idx := indexOf(items, src.InsertAfter); idx >= 0 {
			items = insertAt(items, idx+1, item)
		} else if tail := indexOf(items, rt.cfg.MenuTail); tail >= 0 {
			items = insertAt(items, tail, item)
		} else {
			items = append(items, item)
		}
	}

	return items, rt.reg.ActiveID()
}

// SetVolume applies an explicit volume request from the router API.
func (rt *Router) SetVolume(pct int) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.volume = clampPct(pct)
	rt.adapter.SetVolume(rt.volume)
	return rt.volume
}

// ReportVolume records a device-originated volume report without calling
// back into the adapter.
func (rt *Router) ReportVolume(pct int) {
	rt.mu.Lock()
	rt.volume = clampPct(pct)
	rt.mu.Unlock()
}

// SetView records the current UI view and notifies the relay.
func (rt *Router) SetView(view string) {
	rt.mu.Lock()
	rt.view = view
	rt.mu.Unlock()
	rt.relay.Broadcast(relay.TypeView, map[string]any{"view": view})
}

// Status reports the router's state for the UI and diagnostics.
func (rt *Router) Status() map[string]any {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	sources := make(map[string]string, len(rt.reg.sources))
	for _, src := range rt.reg.All() {
		sources[src.ID] = src.State.String()
	}

	var active any
	if id := rt.reg.ActiveID(); id != "" {
		active = id
	}

	return map[string]any{
		"ok":            true,
		"instance":      rt.instanceID,
		"active_source": active,
		"volume":        rt.volume,
		"view":          rt.view,
		"sources":       sources,
		"output_on":     rt.adapter.IsOn(),
	}
}

// stepVolume adjusts the tracked volume and pushes it to the adapter,
// skipping the hardware call entirely when the output is off.
func (rt *Router) stepVolume(delta int) {
	rt.volume = clampPct(rt.volume + delta)
	if !rt.adapter.IsOn() {
		rt.logger.Debug("Output off, volume tracked only", slog.Int("volume", rt.volume))
		return
	}
	rt.adapter.SetVolume(rt.volume)
}

func (rt *Router) powerOnOutput() {
	if rt.adapter.IsOn() {
		return
	}
	if err := rt.adapter.PowerOn(); err != nil {
		rt.logger.Warn("Failed to power on output", slog.Any("error", err))
	}
}

func (rt *Router) forward(id, url string, raw map[string]any) {
	if err := rt.post(url, raw); err != nil {
		rt.logger.Warn("Source unreachable, dropping event",
			slog.String("source", id),
			slog.Any("error", err))
	}
}

func (rt *Router) forwardFallback(raw map[string]any) {
	if rt.cfg.FallbackURL == "" {
		rt.logger.Debug("No fallback configured, dropping event", slog.Any("event", raw))
		return
	}
	if err := rt.post(rt.cfg.FallbackURL, raw); err != nil {
		rt.logger.Warn("Automation fallback unreachable, dropping event", slog.Any("error", err))
	}
}

func (rt *Router) post(url string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := rt.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func indexOf(items []MenuItem, id string) int {
	if id == "" {
		return -1
	}
	for i, item := range items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

func insertAt(items []MenuItem, idx int, item MenuItem) []MenuItem {
	items = append(items, MenuItem{})
	copy(items[idx+1:], items[idx:])
	items[idx] = item
	return items
}

func clampPct(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
