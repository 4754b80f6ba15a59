package volume

import (
	"math"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/speaker"
)

// Software adjusts a local playback chain's volume stage. It is meant for
// hosts that play through the speaker package themselves: they insert
// Stage() into their streamer chain and the router drives its gain. The
// output is always-on.
type Software struct {
	*debounced
	mu    sync.Mutex
	stage *effects.Volume
	pct   int
}

// NewSoftware creates the soft-volume backend around the given volume
// stage. A nil stage gets a silent placeholder so the backend is usable
// before the host attaches a real stream.
func NewSoftware(stage *effects.Volume, window time.Duration) *Software {
	if stage == nil {
		stage = &effects.Volume{Streamer: beep.Silence(-1), Base: 2}
	}
	if stage.Base == 0 {
		stage.Base = 2
	}
	s := &Software{stage: stage, pct: 100}
	s.debounced = newDebounced(window, "software", s.applyVolume)
	return s
}

// Stage returns the volume stage for the host to chain into its playback.
func (s *Software) Stage() *effects.Volume {
	return s.stage
}

func (s *Software) applyVolume(pct int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	speaker.Lock()
	if pct == 0 {
		s.stage.Silent = true
	} else {
		s.stage.Silent = false
		// Perceptual mapping: 100% is unity gain, each halving of the
		// percentage halves the amplitude.
		s.stage.Volume = math.Log2(float64(pct) / 100)
	}
	speaker.Unlock()

	s.pct = pct
	return nil
}

// GetVolume returns the last applied percentage.
func (s *Software) GetVolume() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pct, nil
}

func (s *Software) PowerOn() error  { return nil }
func (s *Software) PowerOff() error { return nil }
func (s *Software) IsOn() bool      { return true }

func (s *Software) SetBalance(balance int) error { return ErrUnsupported }
func (s *Software) GetBalance() (int, error)     { return 0, ErrUnsupported }
