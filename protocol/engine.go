package protocol

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
	"beohub/logger"
	"beohub/relay"

	"github.com/google/gousb"
	"github.com/google/uuid"
	"github.com/grandcat/zeroconf"
	"golang.org/x/sync/errgroup"
)

// Reconnect backoff parameters.
const (
	reconnectInitial    = 2 * time.Second
	reconnectMultiplier = 1.5
	reconnectMax        = 30 * time.Second
)

const senderIdle = 25 * time.Millisecond

// MDNSService is the zeroconf service type the engine's mixer API is
// registered under.
const MDNSService = "_powerlink-mixer._tcp"

// usbConn is one open session with the amplifier controller.
type usbConn struct {
	ctx   *gousb.Context
	dev   *gousb.Device
	intf  *gousb.Interface
	done  func()
	inEP  *gousb.InEndpoint
	outEP *gousb.OutEndpoint
}

func (c *usbConn) close() {
	if c.done != nil {
		c.done()
	}
	if c.dev != nil {
		c.dev.Close()
	}
	if c.ctx != nil {
		c.ctx.Close()
	}
}

// Engine owns the USB handle exclusively and bridges the amplifier bus to
// the event router. A dedicated goroutine performs blocking reads; the
// sender loop drains the intake queue towards the router; both meet only
// in the queue and the mixer state.
type Engine struct {
	cfg    config.EngineConfig
	mixer  *Mixer
	queue  *Queue
	relay  *relay.Client
	client *http.Client
	logger *slog.Logger

	instanceID string

	mu   sync.Mutex
	conn *usbConn
}

// NewEngine creates a protocol engine from configuration. The USB device
// is not opened until Run.
func NewEngine(cfg config.EngineConfig) *Engine {
	e := &Engine{
		cfg:        cfg,
		queue:      NewQueue(cfg.Queue.Capacity, cfg.Queue.Expiry, cfg.Queue.PriorityInterval),
		relay:      relay.New(cfg.RelayURL),
		client:     &http.Client{Timeout: 3 * time.Second},
		logger:     logger.WithComponent("engine"),
		instanceID: uuid.NewString(),
	}
	e.mixer = NewMixer(cfg.MaxVolume, e.writeFrame)
	return e
}

// Run opens the device and drives the read loop, the sender loop and the
// mixer HTTP API until the context is canceled. Failure to open the
// device or bind the listener is fatal; everything later is recovered
// in place.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.open(); err != nil {
		return fmt.Errorf("failed to open amplifier device: %w", err)
	}
	defer e.closeConn()

	if err := e.initDevice(); err != nil {
		return fmt.Errorf("failed to initialize amplifier device: %w", err)
	}

	if e.cfg.Announce {
		server, err := zeroconf.Register(e.cfg.DeviceName, MDNSService, "local.",
			e.cfg.MixerPort, []string{"name=" + e.cfg.DeviceName}, nil)
		if err != nil {
			e.logger.Warn("Failed to announce mixer service", slog.Any("error", err))
		} else {
			defer server.Shutdown()
		}
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", e.cfg.MixerPort),
		Handler: e.routes(),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.readLoop(ctx) })
	g.Go(func() error { return e.senderLoop(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		e.logger.Info("Mixer API listening", slog.Int("port", e.cfg.MixerPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("mixer API listener failed: %w", err)
		}
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Mixer exposes the mixer state machine, e.g. to the HTTP handlers.
func (e *Engine) Mixer() *Mixer {
	return e.mixer
}

func (e *Engine) open() error {
	vid, pid, err := e.cfg.USBIDs()
	if err != nil {
		return err
	}

	usbCtx := gousb.NewContext()
	dev, err := usbCtx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		usbCtx.Close()
		return fmt.Errorf("failed to open USB device: %w", err)
	}
	if dev == nil {
		usbCtx.Close()
		return fmt.Errorf("device %04x:%04x not found", vid, pid)
	}
	if err := dev.SetAutoDetach(true); err != nil {
		e.logger.Debug("SetAutoDetach failed", slog.Any("error", err))
	}

	intf, done, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		usbCtx.Close()
		return fmt.Errorf("failed to claim interface: %w", err)
	}

	conn := &usbConn{ctx: usbCtx, dev: dev, intf: intf, done: done}
	for _, desc := range intf.Setting.Endpoints {
		if desc.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if desc.Direction == gousb.EndpointDirectionIn && conn.inEP == nil {
			conn.inEP, err = intf.InEndpoint(desc.Number)
		} else if desc.Direction == gousb.EndpointDirectionOut && conn.outEP == nil {
			conn.outEP, err = intf.OutEndpoint(desc.Number)
		}
		if err != nil {
			conn.close()
			return fmt.Errorf("failed to open endpoint %d: %w", desc.Number, err)
		}
	}
	if conn.inEP == nil || conn.outEP == nil {
		conn.close()
		return errors.New("device exposes no bulk in/out endpoint pair")
	}

	e.mu.Lock()
	e.conn = conn
	e.mu.Unlock()

	e.logger.Info("Amplifier device opened",
		slog.String("vendor", fmt.Sprintf("%04x", vid)),
		slog.String("product", fmt.Sprintf("%04x", pid)))
	return nil
}

func (e *Engine) closeConn() {
	e.mu.Lock()
	conn := e.conn
	e.conn = nil
	e.mu.Unlock()

	if conn != nil {
		conn.close()
	}
	e.mixer.SetConnected(false)
}

// initDevice runs the init handshake and applies the accept-all address
// filter. Required after every (re)open before the device will report
// feedback.
func (e *Engine) initDevice() error {
	if err := e.writeFrame(Encode([]byte{opInit})); err != nil {
		return err
	}
	if err := e.writeFrame(Encode([]byte{0x80, 0x01, 0x00})); err != nil {
		return err
	}
	if err := e.writeFrame(Encode([]byte{opAddrFilter, 0xFF})); err != nil {
		return err
	}
	e.mixer.SetConnected(true)
	return nil
}

// writeFrame is the mixer's frame writer. One frame per bulk write,
// never pipelined.
func (e *Engine) writeFrame(frame []byte) error {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()

	if conn == nil {
		return errors.New("device not connected")
	}
	if _, err := conn.outEP.Write(frame); err != nil {
		return fmt.Errorf("bulk write failed: %w", err)
	}
	return nil
}

// readLoop performs blocking bulk reads on a dedicated goroutine. Feedback
// updates the mixer directly (lossless); remote keycodes go through the
// lossy intake queue.
func (e *Engine) readLoop(ctx context.Context) error {
	buf := make([]byte, 64)
	var pending []byte // tail of a frame straddling a read boundary
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		e.mu.Lock()
		conn := e.conn
		e.mu.Unlock()
		if conn == nil {
			pending = nil
			if err := e.reconnect(ctx); err != nil {
				return err
			}
			continue
		}

		readCtx, cancel := context.WithTimeout(ctx, e.cfg.ReadTimeout)
		n, err := conn.inEP.ReadContext(readCtx, buf)
		cancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				continue // quiet bus, expected
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, gousb.ErrorNoDevice) || errors.Is(err, gousb.ErrorIO) {
				e.logger.Warn("Amplifier device removed", slog.Any("error", err))
				e.closeConn()
				continue
			}
			e.logger.Error("USB read failed", slog.Any("error", err))
			time.Sleep(100 * time.Millisecond)
			continue
		}

		chunk := buf[:n]
		if len(pending) > 0 {
			chunk = append(pending, chunk...)
		}
		payloads, rest := ExtractPayloads(chunk)
		pending = append([]byte(nil), rest...)
		for _, payload := range payloads {
			e.handlePayload(payload)
		}
	}
}

func (e *Engine) handlePayload(payload []byte) {
	msg := Decode(payload)
	if msg == nil {
		return
	}
	switch {
	case msg.Feedback != nil:
		e.mixer.ApplyFeedback(msg.Feedback)
	case msg.Remote != nil:
		e.logger.Debug("Remote event",
			slog.String("key", msg.Remote.Key),
			slog.String("link", msg.Remote.Link),
			slog.String("device", msg.Remote.DeviceType))
		e.queue.Add(&Entry{
			Payload: map[string]any{
				"action": msg.Remote.Key,
				"key":    msg.Remote.Key,
				"link":   msg.Remote.Link,
				"device": msg.Remote.DeviceType,
				"origin": "remote",
			},
			CommandKey: msg.Remote.Key,
		})
	default:
		e.logger.Debug("Unhandled message type", slog.String("type", fmt.Sprintf("0x%02X", msg.Type)))
	}
}

// reconnect reopens the device with exponential backoff. The wait is
// interruptible on shutdown.
func (e *Engine) reconnect(ctx context.Context) error {
	delay := reconnectInitial
	for {
		e.logger.Info("Reconnecting to amplifier device", slog.Duration("in", delay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		if err := e.open(); err != nil {
			e.logger.Warn("Reconnect attempt failed", slog.Any("error", err))
			delay = nextBackoff(delay)
			continue
		}
		if err := e.initDevice(); err != nil {
			e.logger.Warn("Device init failed after reconnect", slog.Any("error", err))
			e.closeConn()
			delay = nextBackoff(delay)
			continue
		}

		e.logger.Info("Amplifier device reconnected")
		return nil
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d = time.Duration(float64(d) * reconnectMultiplier)
	if d > reconnectMax {
		return reconnectMax
	}
	return d
}

// senderLoop drains the intake queue and forwards each entry to the
// router's event endpoint. Failures are logged and dropped: freshness
// matters more than delivery.
func (e *Engine) senderLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		entry := e.queue.Get()
		if entry == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(senderIdle):
			}
			continue
		}
		e.forward(entry)
	}
}

func (e *Engine) forward(entry *Entry) {
	payload := make(map[string]any, len(entry.Payload)+2)
	for k, v := range entry.Payload {
		payload[k] = v
	}
	payload["count"] = entry.Count
	payload["priority"] = entry.Priority

	body, err := json.Marshal(payload)
	if err != nil {
		e.logger.Error("Failed to encode event", slog.Any("error", err))
		return
	}

	resp, err := e.client.Post(e.cfg.RouterURL+"/router/event", "application/json", bytes.NewReader(body))
	if err != nil {
		e.logger.Warn("Router unreachable, dropping event",
			slog.String("action", fmt.Sprint(payload["action"])),
			slog.Any("error", err))
	} else {
		resp.Body.Close()
	}

	// Visual feedback for the UI, fire-and-forget.
	go e.relay.Pulse(fmt.Sprint(payload["action"]))
}
