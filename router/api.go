package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Run serves the router HTTP API until the context is canceled. Failure
// to bind the listener is fatal.
func (rt *Router) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", rt.cfg.Port),
		Handler: rt.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		rt.logger.Info("Router API listening", slog.Int("port", rt.cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("router API listener failed: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Routes builds the router HTTP API.
func (rt *Router) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/router/event", rt.handleEvent)
	mux.HandleFunc("/router/source", rt.handleSource)
	mux.HandleFunc("/router/menu", rt.handleMenu)
	mux.HandleFunc("/router/volume", rt.handleVolume)
	mux.HandleFunc("/router/volume/report", rt.handleVolumeReport)
	mux.HandleFunc("/router/view", rt.handleView)
	mux.HandleFunc("/router/status", rt.handleStatus)
	return mux
}

func (rt *Router) handleEvent(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if !readJSON(w, r, &raw) {
		return
	}

	ev := ClassifyEvent(raw)
	rt.HandleEvent(ev)
	writeJSON(w, map[string]any{"ok": true})
}

func (rt *Router) handleSource(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID         string   `json:"id"`
		State      string   `json:"state"`
		Name       string   `json:"name"`
		CommandURL string   `json:"command_url"`
		Handles    []string `json:"handles"`
		After      string   `json:"after"`
		Navigate   bool     `json:"navigate"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "missing source id")
		return
	}
	state, err := ParseSourceState(req.State)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rt.UpdateSource(SourceUpdate{
		ID:         req.ID,
		State:      state,
		Name:       req.Name,
		CommandURL: req.CommandURL,
		Handles:    req.Handles,
		After:      req.After,
		Navigate:   req.Navigate,
	})
	writeJSON(w, map[string]any{"ok": true})
}

func (rt *Router) handleMenu(w http.ResponseWriter, r *http.Request) {
	items, activeID := rt.Menu()

	var active any
	if activeID != "" {
		active = activeID
	}
	writeJSON(w, map[string]any{
		"items":         items,
		"active_source": active,
	})
}

func (rt *Router) handleVolume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Volume int `json:"volume"`
	}
	if !readJSON(w, r, &req) {
		return
	}

	applied := rt.SetVolume(req.Volume)
	writeJSON(w, map[string]any{"ok": true, "volume": applied})
}

func (rt *Router) handleVolumeReport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Volume int `json:"volume"`
	}
	if !readJSON(w, r, &req) {
		return
	}

	rt.ReportVolume(req.Volume)
	writeJSON(w, map[string]any{"ok": true})
}

func (rt *Router) handleView(w http.ResponseWriter, r *http.Request) {
	var req struct {
		View string `json:"view"`
	}
	if !readJSON(w, r, &req) {
		return
	}

	rt.SetView(req.View)
	writeJSON(w, map[string]any{"ok": true})
}

func (rt *Router) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, rt.Status())
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "expected POST")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":    false,
		"error": message,
	})
}
