package volume

import (
	"sync"
	"testing"
	"time"

	"beohub/config"
)

func TestDebounceCoalescesRapidCalls(t *testing.T) {
	var mu sync.Mutex
	var applied []int

	d := newDebounced(30*time.Millisecond, "test", func(pct int) error {
		mu.Lock()
		applied = append(applied, pct)
		mu.Unlock()
		return nil
	})

	// A burst of knob turns within the window.
	for _, pct := range []int{10, 20, 30, 40, 50} {
		d.SetVolume(pct)
		time.Sleep(2 * time.Millisecond)
	}

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(applied) != 1 {
		t.Fatalf("applied %d times, want 1: %v", len(applied), applied)
	}
	if applied[0] != 50 {
		t.Errorf("applied %d, want the last value 50", applied[0])
	}
}

func TestDebounceFlushesEachSettledValue(t *testing.T) {
	var mu sync.Mutex
	var applied []int

	d := newDebounced(10*time.Millisecond, "test", func(pct int) error {
		mu.Lock()
		applied = append(applied, pct)
		mu.Unlock()
		return nil
	})

	d.SetVolume(25)
	time.Sleep(50 * time.Millisecond)
	d.SetVolume(75)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(applied) != 2 {
		t.Fatalf("applied %d times, want 2: %v", len(applied), applied)
	}
	if applied[0] != 25 || applied[1] != 75 {
		t.Errorf("applied = %v, want [25 75]", applied)
	}
}

func TestDebounceClampsPercentage(t *testing.T) {
	var mu sync.Mutex
	var applied []int

	d := newDebounced(5*time.Millisecond, "test", func(pct int) error {
		mu.Lock()
		applied = append(applied, pct)
		mu.Unlock()
		return nil
	})

	d.SetVolume(150)
	time.Sleep(30 * time.Millisecond)
	d.SetVolume(-10)
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(applied) != 2 || applied[0] != 100 || applied[1] != 0 {
		t.Errorf("applied = %v, want [100 0]", applied)
	}
}

func TestNewAdapterBackendSelection(t *testing.T) {
	tests := []struct {
		backend string
		wantErr bool
	}{
		{backend: "powerlink"},
		{backend: "snapcast"},
		{backend: "software"},
		{backend: "alsa", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			_, err := New(config.AdapterConfig{
				Backend:   tt.backend,
				Host:      "127.0.0.1",
				Port:      1,
				MaxVolume: 70,
				Debounce:  50 * time.Millisecond,
			}, 30)
			if (err != nil) != tt.wantErr {
				t.Errorf("New(%q) error = %v, wantErr %v", tt.backend, err, tt.wantErr)
			}
		})
	}
}
