package protocol

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// routes builds the local mixer HTTP API. Every handler delegates to the
// mixer state machine and returns the resulting state.
func (e *Engine) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mixer/volume", e.handleVolume)
	mux.HandleFunc("/mixer/power", e.handlePower)
	mux.HandleFunc("/mixer/mute", e.handleMute)
	mux.HandleFunc("/mixer/status", e.handleStatus)
	return mux
}

func (e *Engine) handleVolume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Volume int `json:"volume"`
	}
	if !readJSON(w, r, &req) {
		return
	}

	if err := e.mixer.SetVolume(req.Volume); err != nil {
		e.logger.Error("Failed to set volume", slog.Any("error", err))
		writeError(w, http.StatusBadGateway, "volume command failed")
		return
	}

	state := e.mixer.State()
	writeJSON(w, map[string]any{
		"ok":               true,
		"volume":           state.Volume,
		"volume_confirmed": state.VolumeConfirmed,
	})
}

func (e *Engine) handlePower(w http.ResponseWriter, r *http.Request) {
	var req struct {
		On     bool `json:"on"`
		Volume *int `json:"volume"`
	}
	if !readJSON(w, r, &req) {
		return
	}

	var err error
	if req.On {
		volume := e.cfg.DefaultVolume
		if req.Volume != nil {
			volume = *req.Volume
		}
		err = e.mixer.PowerOn(volume)
	} else {
		err = e.mixer.PowerOff()
	}
	if err != nil {
		e.logger.Error("Failed to switch power", slog.Bool("on", req.On), slog.Any("error", err))
		writeError(w, http.StatusBadGateway, "power command failed")
		return
	}

	writeJSON(w, map[string]any{
		"ok":          true,
		"speakers_on": e.mixer.State().Powered,
	})
}

func (e *Engine) handleMute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Muted bool `json:"muted"`
	}
	if !readJSON(w, r, &req) {
		return
	}

	if err := e.mixer.SetMuted(req.Muted); err != nil {
		e.logger.Error("Failed to switch mute", slog.Any("error", err))
		writeError(w, http.StatusBadGateway, "mute command failed")
		return
	}

	writeJSON(w, map[string]any{
		"ok":    true,
		"muted": e.mixer.State().Muted,
	})
}

func (e *Engine) handleStatus(w http.ResponseWriter, r *http.Request) {
	state := e.mixer.State()
	writeJSON(w, map[string]any{
		"ok":          true,
		"device_name": e.cfg.DeviceName,
		"instance":    e.instanceID,
		"max_volume":  e.cfg.MaxVolume,
		"state":       state,
		"connected":   state.Connected,
	})
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
