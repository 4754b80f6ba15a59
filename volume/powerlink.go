package volume

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"beohub/config"

	"github.com/grandcat/zeroconf"
)

// mdnsService mirrors the service type the protocol engine registers its
// mixer API under.
const mdnsService = "_powerlink-mixer._tcp"

// PowerLink drives volume through the protocol engine's mixer HTTP API.
// It is the bridge between router-side debouncing and device-side
// stepping: the router coalesces knob turns here, the engine translates
// the resulting target into hardware-safe step commands.
type PowerLink struct {
	*debounced
	resolveMu     sync.Mutex
	baseURL       string
	maxVolume     int
	defaultVolume int
	client        *http.Client
}

// NewPowerLink creates the mixer-API backend. With an empty host the
// mixer service is discovered over zeroconf on first use.
func NewPowerLink(cfg config.AdapterConfig, defaultVolume int) *PowerLink {
	p := &PowerLink{
		maxVolume:     cfg.MaxVolume,
		defaultVolume: defaultVolume,
		client:        &http.Client{Timeout: 3 * time.Second},
	}
	if cfg.Host != "" {
		p.baseURL = fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	}
	p.debounced = newDebounced(cfg.Debounce, "powerlink", p.applyVolume)
	return p
}

func (p *PowerLink) applyVolume(pct int) error {
	return p.post("/mixer/volume", map[string]any{
		"volume": p.toDevice(pct),
	}, nil)
}

// GetVolume reads the device volume and scales it back to a percentage.
func (p *PowerLink) GetVolume() (int, error) {
	status, err := p.status()
	if err != nil {
		return 0, err
	}
	return p.fromDevice(status.State.Volume), nil
}

// PowerOn powers the amplifier on at the configured default volume.
func (p *PowerLink) PowerOn() error {
	return p.post("/mixer/power", map[string]any{
		"on":     true,
		"volume": p.toDevice(p.defaultVolume),
	}, nil)
}

// PowerOff powers the amplifier off.
func (p *PowerLink) PowerOff() error {
	return p.post("/mixer/power", map[string]any{"on": false}, nil)
}

// IsOn reports whether the amplifier is powered and attached.
func (p *PowerLink) IsOn() bool {
	status, err := p.status()
	if err != nil {
		return false
	}
	return status.State.Powered && status.Connected
}

func (p *PowerLink) SetBalance(balance int) error {
	return ErrUnsupported
}

func (p *PowerLink) GetBalance() (int, error) {
	status, err := p.status()
	if err != nil {
		return 0, err
	}
	return status.State.Balance, nil
}

type mixerStatus struct {
	Connected bool `json:"connected"`
	State     struct {
		Powered bool `json:"powered"`
		Muted   bool `json:"muted"`
		Volume  int  `json:"volume"`
		Balance int  `json:"balance"`
	} `json:"state"`
}

func (p *PowerLink) status() (*mixerStatus, error) {
	base, err := p.resolve()
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Get(base + "/mixer/status")
	if err != nil {
		return nil, fmt.Errorf("mixer status failed: %w", err)
	}
	defer resp.Body.Close()

	var status mixerStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("bad mixer status response: %w", err)
	}
	return &status, nil
}

func (p *PowerLink) post(path string, body map[string]any, dst any) error {
	base, err := p.resolve()
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := p.client.Post(base+path, "application/json", bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("mixer request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("mixer request %s returned status %d", path, resp.StatusCode)
	}
	if dst != nil {
		return json.NewDecoder(resp.Body).Decode(dst)
	}
	return nil
}

// resolve returns the mixer API base URL, discovering it over zeroconf
// when no host was configured.
func (p *PowerLink) resolve() (string, error) {
	p.resolveMu.Lock()
	defer p.resolveMu.Unlock()

	if p.baseURL != "" {
		return p.baseURL, nil
	}

	host, port, err := discoverMixer(context.Background())
	if err != nil {
		return "", err
	}
	p.baseURL = fmt.Sprintf("http://%s:%d", host, port)
	p.logger.Info("Discovered mixer service",
		slog.String("host", host),
		slog.Int("port", port))
	return p.baseURL, nil
}

func discoverMixer(ctx context.Context) (string, int, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to initialize resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, mdnsService, "local.", entries); err != nil {
		return "", 0, fmt.Errorf("failed to browse for mixer service: %w", err)
	}

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return "", 0, errors.New("no mixer service found")
			}
			if entry != nil && len(entry.AddrIPv4) > 0 {
				return entry.AddrIPv4[0].String(), entry.Port, nil
			}
		case <-ctx.Done():
			return "", 0, errors.New("no mixer service found")
		}
	}
}

// toDevice scales a 0..100 percentage into device volume units.
func (p *PowerLink) toDevice(pct int) int {
	return clampPct(pct) * p.maxVolume / 100
}

// fromDevice scales device volume units back into a percentage.
func (p *PowerLink) fromDevice(device int) int {
	if p.maxVolume == 0 {
		return 0
	}
	return clampPct(device * 100 / p.maxVolume)
}
