package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestAPI(t *testing.T) (*Router, *fakeAdapter, *httptest.Server) {
	t.Helper()
	rt, adapter, _ := newTestRouter(t)
	srv := httptest.NewServer(rt.Routes())
	t.Cleanup(srv.Close)
	return rt, adapter, srv
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

func TestSourceLifecycleOverHTTP(t *testing.T) {
	_, _, srv := newTestAPI(t)
	src := newSourceServer(t)

	status, _ := postJSON(t, srv.URL+"/router/source",
		`{"id":"cd","state":"available","name":"CD","command_url":"`+src.srv.URL+`","handles":["go","digits"],"after":"music"}`)
	if status != http.StatusOK {
		t.Fatalf("register status = %d, want 200", status)
	}

	status, _ = postJSON(t, srv.URL+"/router/source", `{"id":"cd","state":"playing"}`)
	if status != http.StatusOK {
		t.Fatalf("activate status = %d, want 200", status)
	}

	resp, err := http.Get(srv.URL + "/router/menu")
	if err != nil {
		t.Fatalf("GET menu: %v", err)
	}
	defer resp.Body.Close()

	var menu struct {
		Items []MenuItem `json:"items"`
		Active any       `json:"active_source"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&menu); err != nil {
		t.Fatalf("bad menu body: %v", err)
	}
	if menu.Active != "cd" {
		t.Errorf("active_source = %v, want cd", menu.Active)
	}

	found := false
	for i, item := range menu.Items {
		if item.ID == "cd" {
			found = true
			if i == 0 || menu.Items[i-1].ID != "music" {
				t.Errorf("cd not positioned after music: %v", menu.Items)
			}
		}
	}
	if !found {
		t.Errorf("cd missing from menu: %v", menu.Items)
	}

	// The registered source receives its handled event end-to-end.
	status, _ = postJSON(t, srv.URL+"/router/event", `{"action":"go"}`)
	if status != http.StatusOK {
		t.Fatalf("event status = %d, want 200", status)
	}
	if got := src.events(); len(got) != 1 || got[0]["action"] != "go" {
		t.Errorf("source did not receive event: %v", got)
	}
}

func TestSourceEndpointRejectsBadState(t *testing.T) {
	_, _, srv := newTestAPI(t)

	status, resp := postJSON(t, srv.URL+"/router/source", `{"id":"cd","state":"warp"}`)
	if status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", status)
	}
	if resp["ok"] != false {
		t.Errorf("ok = %v, want false", resp["ok"])
	}
}

func TestSourceEndpointRequiresID(t *testing.T) {
	_, _, srv := newTestAPI(t)

	status, _ := postJSON(t, srv.URL+"/router/source", `{"state":"available"}`)
	if status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", status)
	}
}

func TestVolumeEndpoints(t *testing.T) {
	_, adapter, srv := newTestAPI(t)

	status, resp := postJSON(t, srv.URL+"/router/volume", `{"volume": 62}`)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if resp["volume"] != float64(62) {
		t.Errorf("volume = %v, want 62", resp["volume"])
	}
	if calls := adapter.setCalls(); len(calls) != 1 || calls[0] != 62 {
		t.Errorf("adapter calls = %v, want [62]", calls)
	}

	// Device-originated report: tracked only, no adapter call.
	status, _ = postJSON(t, srv.URL+"/router/volume/report", `{"volume": 40}`)
	if status != http.StatusOK {
		t.Fatalf("report status = %d, want 200", status)
	}
	if calls := adapter.setCalls(); len(calls) != 1 {
		t.Errorf("adapter called on report: %v", calls)
	}
}

func TestEventEndpointBadJSON(t *testing.T) {
	_, _, srv := newTestAPI(t)

	status, resp := postJSON(t, srv.URL+"/router/event", `{"action"`)
	if status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", status)
	}
	if _, hasError := resp["error"]; !hasError {
		t.Error("error body missing")
	}
}

func TestStatusEndpoint(t *testing.T) {
	rt, _, srv := newTestAPI(t)
	rt.SetView("player")

	resp, err := http.Get(srv.URL + "/router/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("bad status body: %v", err)
	}
	if decoded["ok"] != true {
		t.Errorf("ok = %v", decoded["ok"])
	}
	if decoded["view"] != "player" {
		t.Errorf("view = %v, want player", decoded["view"])
	}
	if decoded["active_source"] != nil {
		t.Errorf("active_source = %v, want null", decoded["active_source"])
	}
}
