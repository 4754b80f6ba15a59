package protocol

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestAPI(t *testing.T) (*Engine, *frameRecorder, *httptest.Server) {
	t.Helper()

	e := NewEngine(testEngineConfig())
	rec := &frameRecorder{}
	e.mixer = NewMixer(e.cfg.MaxVolume, rec.write)
	e.mixer.sleep = func(time.Duration) {}

	srv := httptest.NewServer(e.routes())
	t.Cleanup(srv.Close)
	return e, rec, srv
}

func postJSON(t *testing.T, url, body string) (int, map[string]any) {
	t.Helper()

	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("bad response body from %s: %v", url, err)
	}
	return resp.StatusCode, decoded
}

func TestMixerVolumeEndpoint(t *testing.T) {
	_, rec, srv := newTestAPI(t)

	status, resp := postJSON(t, srv.URL+"/mixer/volume", `{"volume": 12}`)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if resp["ok"] != true {
		t.Errorf("ok = %v", resp["ok"])
	}
	if resp["volume"] != float64(12) {
		t.Errorf("volume = %v, want 12", resp["volume"])
	}
	if got := countSteps(rec.frames, cmdStepUp); got != 12 {
		t.Errorf("step commands = %d, want 12", got)
	}
}

func TestMixerPowerEndpoint(t *testing.T) {
	e, rec, srv := newTestAPI(t)

	status, resp := postJSON(t, srv.URL+"/mixer/power", `{"on": true}`)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if resp["speakers_on"] != true {
		t.Errorf("speakers_on = %v, want true", resp["speakers_on"])
	}
	// Default volume applies when the request carries none.
	if got := e.mixer.State().Volume; got != e.cfg.DefaultVolume {
		t.Errorf("volume = %d, want default %d", got, e.cfg.DefaultVolume)
	}
	if rec.frames[0][3] != cmdPowerOn {
		t.Errorf("first frame is not the power-on byte: %#v", rec.frames[0])
	}

	status, resp = postJSON(t, srv.URL+"/mixer/power", `{"on": false}`)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if resp["speakers_on"] != false {
		t.Errorf("speakers_on = %v, want false", resp["speakers_on"])
	}
}

func TestMixerMuteEndpoint(t *testing.T) {
	e, _, srv := newTestAPI(t)

	status, resp := postJSON(t, srv.URL+"/mixer/mute", `{"muted": true}`)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if resp["muted"] != true {
		t.Errorf("muted = %v, want true", resp["muted"])
	}
	if !e.mixer.State().Muted {
		t.Error("mixer state not muted")
	}
}

func TestMixerStatusEndpoint(t *testing.T) {
	e, _, srv := newTestAPI(t)
	e.mixer.ApplyFeedback(&MixerFeedback{Volume: 33, Bass: 2})

	resp, err := http.Get(srv.URL + "/mixer/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	defer resp.Body.Close()

	var decoded struct {
		OK        bool   `json:"ok"`
		Connected bool   `json:"connected"`
		Device    string `json:"device_name"`
		State     State  `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("bad status body: %v", err)
	}
	if !decoded.OK {
		t.Error("ok = false")
	}
	if decoded.Device != "Test Amplifier" {
		t.Errorf("device_name = %q", decoded.Device)
	}
	if decoded.State.Volume != 33 || decoded.State.VolumeConfirmed != 33 {
		t.Errorf("state volume = %d/%d, want 33/33", decoded.State.Volume, decoded.State.VolumeConfirmed)
	}
}

func TestMixerBadJSON(t *testing.T) {
	_, _, srv := newTestAPI(t)

	status, resp := postJSON(t, srv.URL+"/mixer/volume", `{"volume": `)
	if status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", status)
	}
	if resp["ok"] != false {
		t.Errorf("ok = %v, want false", resp["ok"])
	}
	if _, hasError := resp["error"]; !hasError {
		t.Error("error body missing")
	}
}
