package protocol

import (
	"bytes"
	"testing"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		op   []byte
		want []byte
	}{
		{
			name: "power byte",
			op:   []byte{0xEA, 0x01},
			want: []byte{0x60, 0x02, 0xEA, 0x01, 0x61},
		},
		{
			name: "empty payload",
			op:   nil,
			want: []byte{0x60, 0x00, 0x61},
		},
		{
			name: "init handshake",
			op:   []byte{0x80, 0x01, 0x00},
			want: []byte{0x60, 0x03, 0x80, 0x01, 0x00, 0x61},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Encode(tt.op)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Encode(%#v) = %#v, want %#v", tt.op, got, tt.want)
			}
		})
	}
}

func TestDecodeFeedback(t *testing.T) {
	tests := []struct {
		name         string
		payload      []byte
		wantVolume   int
		wantLoudness bool
		wantBalance  int
	}{
		{
			name:       "plain volume",
			payload:    []byte{0x03, 0x23, 0x02, 0x01, 0x00},
			wantVolume: 0x23,
		},
		{
			name:         "loudness bit set",
			payload:      []byte{0x03, 0xA3, 0x00, 0x00, 0x00},
			wantVolume:   0x23,
			wantLoudness: true,
		},
		{
			name:        "negative balance",
			payload:     []byte{0x1D, 0x10, 0x00, 0x00, 0xFE},
			wantVolume:  0x10,
			wantBalance: -2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := Decode(tt.payload)
			if msg == nil || msg.Feedback == nil {
				t.Fatalf("Decode(%#v) did not yield feedback", tt.payload)
			}
			fb := msg.Feedback
			if fb.Volume != tt.wantVolume {
				t.Errorf("volume = %d, want %d", fb.Volume, tt.wantVolume)
			}
			if fb.Loudness != tt.wantLoudness {
				t.Errorf("loudness = %v, want %v", fb.Loudness, tt.wantLoudness)
			}
			if fb.Balance != tt.wantBalance {
				t.Errorf("balance = %d, want %d", fb.Balance, tt.wantBalance)
			}
		})
	}
}

func TestDecodeRemote(t *testing.T) {
	tests := []struct {
		name       string
		payload    []byte
		wantLink   string
		wantDevice string
		wantKey    string
	}{
		{
			name:       "volume up from main",
			payload:    []byte{0x02, 0x00, 0x00, 0x60},
			wantLink:   "main",
			wantDevice: "audio",
			wantKey:    "volup",
		},
		{
			name:       "digit from link room",
			payload:    []byte{0x02, 0x01, 0x00, 0x03},
			wantLink:   "link1",
			wantDevice: "audio",
			wantKey:    "3",
		},
		{
			name:       "unknown codes map to placeholders",
			payload:    []byte{0x02, 0x7F, 0x42, 0xEE},
			wantLink:   "unknown:0x7F",
			wantDevice: "unknown:0x42",
			wantKey:    "unknown:0xEE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := Decode(tt.payload)
			if msg == nil || msg.Remote == nil {
				t.Fatalf("Decode(%#v) did not yield a remote event", tt.payload)
			}
			ev := msg.Remote
			if ev.Link != tt.wantLink {
				t.Errorf("link = %q, want %q", ev.Link, tt.wantLink)
			}
			if ev.DeviceType != tt.wantDevice {
				t.Errorf("device = %q, want %q", ev.DeviceType, tt.wantDevice)
			}
			if ev.Key != tt.wantKey {
				t.Errorf("key = %q, want %q", ev.Key, tt.wantKey)
			}
		})
	}
}

func TestDecodeTooShort(t *testing.T) {
	if msg := Decode(nil); msg != nil {
		t.Errorf("Decode(nil) = %v, want nil", msg)
	}
	if msg := Decode([]byte{}); msg != nil {
		t.Errorf("Decode(empty) = %v, want nil", msg)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	msg := Decode([]byte{0x77, 0x01})
	if msg == nil {
		t.Fatal("Decode returned nil for unknown type")
	}
	if msg.Feedback != nil || msg.Remote != nil {
		t.Errorf("unknown type decoded a payload: %+v", msg)
	}
	if msg.Type != 0x77 {
		t.Errorf("type = 0x%02X, want 0x77", msg.Type)
	}
}

func TestExtractPayloads(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		want [][]byte
		rest []byte
	}{
		{
			name: "single frame",
			buf:  []byte{0x60, 0x02, 0x03, 0x23, 0x61},
			want: [][]byte{{0x03, 0x23}},
		},
		{
			name: "two frames back to back",
			buf: []byte{
				0x60, 0x01, 0xAA, 0x61,
				0x60, 0x02, 0x02, 0x60, 0x61,
			},
			want: [][]byte{{0xAA}, {0x02, 0x60}},
		},
		{
			name: "garbage between frames",
			buf:  []byte{0xFF, 0x13, 0x60, 0x01, 0xAA, 0x61, 0x00},
			want: [][]byte{{0xAA}},
		},
		{
			name: "truncated frame carried as rest",
			buf:  []byte{0x60, 0x05, 0x01, 0x02},
			want: nil,
			rest: []byte{0x60, 0x05, 0x01, 0x02},
		},
		{
			name: "frame then truncated frame",
			buf:  []byte{0x60, 0x01, 0xAA, 0x61, 0x60, 0x02, 0x03},
			want: [][]byte{{0xAA}},
			rest: []byte{0x60, 0x02, 0x03},
		},
		{
			name: "lone start byte carried as rest",
			buf:  []byte{0xBB, 0x60},
			want: nil,
			rest: []byte{0x60},
		},
		{
			name: "payload containing the start byte",
			buf:  []byte{0x60, 0x02, 0x60, 0x01, 0x61},
			want: [][]byte{{0x60, 0x01}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, rest := ExtractPayloads(tt.buf)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d payloads, want %d: %#v", len(got), len(tt.want), got)
			}
			for i := range got {
				if !bytes.Equal(got[i], tt.want[i]) {
					t.Errorf("payload %d = %#v, want %#v", i, got[i], tt.want[i])
				}
			}
			if !bytes.Equal(rest, tt.rest) {
				t.Errorf("rest = %#v, want %#v", rest, tt.rest)
			}
		})
	}
}

func TestExtractPayloadsStraddledFrame(t *testing.T) {
	frame := Encode([]byte{0x03, 0x23, 0x00, 0x01, 0x02})

	got, rest := ExtractPayloads(frame[:3])
	if len(got) != 0 {
		t.Fatalf("partial read yielded %d payloads, want 0", len(got))
	}

	got, rest = ExtractPayloads(append(rest, frame[3:]...))
	if len(got) != 1 {
		t.Fatalf("got %d payloads after completing the frame, want 1", len(got))
	}
	if !bytes.Equal(got[0], []byte{0x03, 0x23, 0x00, 0x01, 0x02}) {
		t.Errorf("payload = %#v", got[0])
	}
	if rest != nil {
		t.Errorf("rest = %#v, want nil", rest)
	}
}
