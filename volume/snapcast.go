package volume

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"beohub/config"
)

// Snapcast drives the volume of one Snapcast client through the server's
// JSON-RPC control port. Snapcast clients are always-on, so the power
// operations are no-ops.
type Snapcast struct {
	*debounced
	addr     string
	clientID string

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	nextID int
}

type snapcastRequest struct {
	ID      int            `json:"id"`
	JSONRpc string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

type snapcastResponse struct {
	ID      int            `json:"id"`
	JSONRpc string         `json:"jsonrpc"`
	Result  map[string]any `json:"result,omitempty"`
	Error   *snapcastError `json:"error,omitempty"`
}

type snapcastError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *snapcastError) Error() string {
	return fmt.Sprintf("snapcast error %d: %s", e.Code, e.Message)
}

// NewSnapcast creates the Snapcast vendor backend.
func NewSnapcast(cfg config.AdapterConfig) *Snapcast {
	port := cfg.Port
	if port == 0 {
		port = 1705
	}
	s := &Snapcast{
		addr:     fmt.Sprintf("%s:%d", cfg.Host, port),
		clientID: cfg.ClientID,
		nextID:   1,
	}
	s.debounced = newDebounced(cfg.Debounce, "snapcast", s.applyVolume)
	return s
}

func (s *Snapcast) applyVolume(pct int) error {
	_, err := s.request("Client.SetVolume", map[string]any{
		"id": s.clientID,
		"volume": map[string]any{
			"percent": pct,
			"muted":   false,
		},
	})
	return err
}

// GetVolume reads the client's current volume percentage.
func (s *Snapcast) GetVolume() (int, error) {
	result, err := s.request("Client.GetStatus", map[string]any{"id": s.clientID})
	if err != nil {
		return 0, err
	}
	client, ok := result["client"].(map[string]any)
	if !ok {
		return 0, fmt.Errorf("unexpected Client.GetStatus response")
	}
	cfg, _ := client["config"].(map[string]any)
	vol, _ := cfg["volume"].(map[string]any)
	pct, ok := vol["percent"].(float64)
	if !ok {
		return 0, fmt.Errorf("no volume in Client.GetStatus response")
	}
	return int(pct), nil
}

func (s *Snapcast) PowerOn() error  { return nil }
func (s *Snapcast) PowerOff() error { return nil }
func (s *Snapcast) IsOn() bool      { return true }

func (s *Snapcast) SetBalance(balance int) error { return ErrUnsupported }
func (s *Snapcast) GetBalance() (int, error)     { return 0, ErrUnsupported }

// request sends one JSON-RPC request and reads its newline-delimited
// response, reconnecting lazily when the control connection is gone.
func (s *Snapcast) request(method string, params map[string]any) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		conn, err := net.DialTimeout("tcp", s.addr, 3*time.Second)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to snapcast server: %w", err)
		}
		s.conn = conn
		s.reader = bufio.NewReader(conn)
	}

	req := snapcastRequest{
		ID:      s.nextID,
		JSONRpc: "2.0",
		Method:  method,
		Params:  params,
	}
	s.nextID++

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	body = append(body, '\n')

	if err := s.conn.SetDeadline(time.Now().Add(3 * time.Second)); err != nil {
		s.dropConn()
		return nil, err
	}
	if _, err := s.conn.Write(body); err != nil {
		s.dropConn()
		return nil, fmt.Errorf("snapcast write failed: %w", err)
	}

	// Notifications may interleave with the response; skip until our id.
	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			s.dropConn()
			return nil, fmt.Errorf("snapcast read failed: %w", err)
		}
		var resp snapcastResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}
		if resp.ID != req.ID {
			continue
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	}
}

func (s *Snapcast) dropConn() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
		s.reader = nil
	}
}
