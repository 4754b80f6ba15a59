package protocol

import "fmt"

// Frame envelope bytes. The amplifier controller speaks a framed byte
// protocol over USB bulk: START, LEN, payload, END. There is no checksum;
// integrity relies on the USB transport.
const (
	frameStart = 0x60
	frameEnd   = 0x61
)

// Outbound opcodes, reverse-engineered. The device gives no error signal
// for a bad sequence, only undefined behavior, so ordering is enforced by
// the mixer state machine rather than detected here.
const (
	opPowerMute  = 0xEA
	opRoutingPri = 0xE7
	opRoutingSec = 0xE5
	opParams     = 0xE3
	opVolumeStep = 0xEB
	opActivate   = 0xE4
	opInit       = 0xF1
	opAddrFilter = 0xF6
)

// Inbound message type bytes
const (
	typeRemoteKey  = 0x02
	typeFeedback   = 0x03
	typeFeedbackEx = 0x1D
)

// MixerFeedback is an unsolicited report of the device's mixer parameters.
type MixerFeedback struct {
	Volume   int
	Loudness bool
	Bass     int
	Treble   int
	Balance  int
}

// RemoteEvent is a decoded remote-control keycode.
type RemoteEvent struct {
	Link       string
	DeviceType string
	Key        string
}

// Message is a decoded inbound frame payload. Exactly one of Feedback and
// Remote is set for known type bytes; both are nil for unknown ones.
type Message struct {
	Type     byte
	Feedback *MixerFeedback
	Remote   *RemoteEvent
}

// Encode wraps an opcode sequence in the frame envelope.
func Encode(op []byte) []byte {
	frame := make([]byte, 0, len(op)+3)
	frame = append(frame, frameStart, byte(len(op)))
	frame = append(frame, op...)
	return append(frame, frameEnd)
}

// ExtractPayloads walks a raw bulk-IN buffer and returns the payloads of
// all well-formed frames in it, skipping any garbage between frames. A
// frame cut off by the end of the buffer is returned as rest so the
// caller can prepend it to the next read; the length byte bounds rest at
// one frame.
func ExtractPayloads(buf []byte) (payloads [][]byte, rest []byte) {
	for i := 0; i < len(buf); {
		if buf[i] != frameStart {
			i++
			continue
		}
		if i+1 >= len(buf) {
			return payloads, buf[i:]
		}
		length := int(buf[i+1])
		end := i + 2 + length
		if end >= len(buf) {
			return payloads, buf[i:]
		}
		if buf[end] != frameEnd {
			i++
			continue
		}
		payloads = append(payloads, buf[i+2:end])
		i = end + 1
	}
	return payloads, nil
}

// Decode parses a frame payload. It returns nil when the payload is too
// short to contain a type byte. Unknown type bytes yield a Message with
// only Type set so callers can log and move on.
func Decode(payload []byte) *Message {
	if len(payload) == 0 {
		return nil
	}
	msg := &Message{Type: payload[0]}
	switch payload[0] {
	case typeFeedback, typeFeedbackEx:
		msg.Feedback = decodeFeedback(payload)
	case typeRemoteKey:
		msg.Remote = decodeRemote(payload)
	}
	return msg
}

func decodeFeedback(payload []byte) *MixerFeedback {
	fb := &MixerFeedback{}
	if len(payload) > 1 {
		fb.Volume = int(payload[1] & 0x7F)
		fb.Loudness = payload[1]&0x80 != 0
	}
	if len(payload) > 2 {
		fb.Bass = int(int8(payload[2]))
	}
	if len(payload) > 3 {
		fb.Treble = int(int8(payload[3]))
	}
	if len(payload) > 4 {
		fb.Balance = int(int8(payload[4]))
	}
	return fb
}

func decodeRemote(payload []byte) *RemoteEvent {
	ev := &RemoteEvent{
		Link:       "unknown:0x00",
		DeviceType: "unknown:0x00",
		Key:        "unknown:0x00",
	}
	if len(payload) > 1 {
		ev.Link = lookup(linkNames, payload[1])
	}
	if len(payload) > 2 {
		ev.DeviceType = lookup(deviceTypeNames, payload[2])
	}
	if len(payload) > 3 {
		ev.Key = lookup(keyNames, payload[3])
	}
	return ev
}

func lookup(table map[byte]string, b byte) string {
	if name, ok := table[b]; ok {
		return name
	}
	return fmt.Sprintf("unknown:0x%02X", b)
}

// linkNames maps the link id byte to the room the keypress came from.
var linkNames = map[byte]string{
	0x00: "main",
	0x01: "link1",
	0x02: "link2",
	0x03: "link3",
}

// deviceTypeNames maps the remote's device-type byte.
var deviceTypeNames = map[byte]string{
	0x00: "audio",
	0x01: "video",
	0x05: "light",
}

// keyNames maps keycode bytes to action names. Digits decode to their
// bare digit so the router can treat them as digit events.
var keyNames = map[byte]string{
	0x00: "0",
	0x01: "1",
	0x02: "2",
	0x03: "3",
	0x04: "4",
	0x05: "5",
	0x06: "6",
	0x07: "7",
	0x08: "8",
	0x09: "9",
	0x0C: "standby",
	0x0D: "mute",
	0x1E: "up",
	0x1F: "down",
	0x32: "left",
	0x34: "right",
	0x35: "go",
	0x36: "stop",
	0x3F: "exit",
	0x58: "menu",
	0x5C: "next",
	0x5D: "prev",
	0x60: "volup",
	0x64: "voldown",
	0x81: "radio",
	0x91: "tape",
	0x92: "cd",
	0x93: "phono",
	0xD4: "yellow",
	0xD5: "green",
	0xD8: "blue",
	0xD9: "red",
}
