// Package volume provides the pluggable output backends the router drives
// volume through. Backends implement only applyVolume; debouncing is
// shared, so rapid knob turns coalesce into a single call carrying the
// most recent value.
package volume

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"beohub/config"
	"beohub/logger"
)

// ErrUnsupported is returned for operations a backend does not implement,
// e.g. balance on backends without a balance stage.
var ErrUnsupported = errors.New("volume: operation not supported by backend")

// Adapter is a volume output backend. SetVolume is debounced: rapid calls
// within the backend's window coalesce and only the last value is sent.
type Adapter interface {
	SetVolume(pct int)
	GetVolume() (int, error)
	PowerOn() error
	PowerOff() error
	IsOn() bool
	SetBalance(balance int) error
	GetBalance() (int, error)
}

// New creates the configured backend. Exactly one adapter instance is
// active per router process.
func New(cfg config.AdapterConfig, defaultVolume int) (Adapter, error) {
	switch cfg.Backend {
	case "powerlink":
		return NewPowerLink(cfg, defaultVolume), nil
	case "snapcast":
		return NewSnapcast(cfg), nil
	case "software":
		return NewSoftware(nil, cfg.Debounce), nil
	default:
		return nil, fmt.Errorf("volume: unknown backend %q", cfg.Backend)
	}
}

// debounced is the shared debounce base. A newer SetVolume cancels and
// replaces the pending timer; only the most recent value is ever flushed.
type debounced struct {
	mu      sync.Mutex
	timer   *time.Timer
	pending int
	window  time.Duration
	apply   func(pct int) error
	logger  *slog.Logger
}

func newDebounced(window time.Duration, backend string, apply func(int) error) *debounced {
	if window <= 0 {
		window = 100 * time.Millisecond
	}
	return &debounced{
		window: window,
		apply:  apply,
		logger: logger.WithComponent("volume-" + backend),
	}
}

// SetVolume schedules pct to be applied once the debounce window elapses
// without a newer call.
func (d *debounced) SetVolume(pct int) {
	pct = clampPct(pct)

	d.mu.Lock()
	d.pending = pct
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
	d.mu.Unlock()
}

func (d *debounced) flush() {
	d.mu.Lock()
	pct := d.pending
	d.timer = nil
	d.mu.Unlock()

	if err := d.apply(pct); err != nil {
		d.logger.Warn("Failed to apply volume", slog.Int("volume", pct), slog.Any("error", err))
	}
}

// Flush applies any pending value immediately. Used on shutdown.
func (d *debounced) Flush() {
	d.mu.Lock()
	timer := d.timer
	d.timer = nil
	d.mu.Unlock()

	if timer != nil && timer.Stop() {
		d.flush()
	}
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
