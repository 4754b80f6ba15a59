package relay

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"beohub/logger"

	"github.com/google/uuid"
)

// Broadcast types understood by the UI relay.
const (
	TypeMenuAdd       = "menu_add"
	TypeMenuRemove    = "menu_remove"
	TypeSourceChanged = "source_changed"
	TypeNavigate      = "navigate"
	TypeView          = "view"
	TypePulse         = "pulse"
)

// Client pushes broadcast notifications to the UI relay webhook. Pushes
// are fire-and-forget: freshness matters more than delivery, so failures
// are logged and dropped, never retried.
type Client struct {
	url    string
	origin string
	client *http.Client
	logger *slog.Logger
}

// New creates a relay client for the given webhook URL. An empty URL
// yields a client that silently discards broadcasts.
func New(url string) *Client {
	return &Client{
		url:    url,
		origin: uuid.NewString(),
		client: &http.Client{Timeout: 2 * time.Second},
		logger: logger.WithComponent("relay"),
	}
}

// Broadcast sends one notification to the relay webhook.
func (c *Client) Broadcast(btype string, data map[string]any) {
	if c.url == "" {
		return
	}

	body, err := json.Marshal(map[string]any{
		"command": "broadcast",
		"params": map[string]any{
			"type":   btype,
			"data":   data,
			"origin": c.origin,
		},
	})
	if err != nil {
		c.logger.Warn("Failed to encode broadcast", slog.Any("error", err))
		return
	}

	resp, err := c.client.Post(c.url, "application/json", bytes.NewReader(body))
	if err != nil {
		c.logger.Warn("Relay unreachable, dropping broadcast",
			slog.String("type", btype),
			slog.Any("error", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		c.logger.Warn("Relay rejected broadcast",
			slog.String("type", btype),
			slog.Int("status", resp.StatusCode))
		return
	}

	c.logger.Debug("Broadcast sent", slog.String("type", btype))
}

// Pulse sends a short-lived visual feedback notification, e.g. when a
// remote key is forwarded.
func (c *Client) Pulse(kind string) {
	c.Broadcast(TypePulse, map[string]any{"kind": kind})
}

// Origin returns this client's per-process origin id, useful for relays
// that want to suppress echoes.
func (c *Client) Origin() string {
	return c.origin
}
