package protocol

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"beohub/logger"
)

// Power/mute argument bytes for opPowerMute.
const (
	cmdPowerOn  = 0x01 // leaves the mute stage controllable afterwards
	cmdPowerOff = 0x02
	cmdMute     = 0x03
	cmdUnmute   = 0x04
)

// Volume step argument bytes for opVolumeStep.
const (
	cmdStepUp   = 0x01
	cmdStepDown = 0xFF
)

// Hardware-imposed delays. Violating the power/mute ordering or stepping
// faster than this is known to crash the device.
const (
	powerSettleDelay = 50 * time.Millisecond
	volumeStepDelay  = 20 * time.Millisecond
)

// Routing is one of the four supported output combinations. All false
// means audio off.
type Routing struct {
	Local      bool `json:"local"`
	FromBus    bool `json:"from_bus"`
	Distribute bool `json:"distribute"`
}

// State is the tracked mixer state of the amplifier controller. Volume is
// the locally tracked target; VolumeConfirmed is the last value the
// hardware echoed back. Feedback overwrites both: the hardware is
// authoritative once it speaks.
type State struct {
	Powered         bool    `json:"powered"`
	Muted           bool    `json:"muted"`
	Routing         Routing `json:"routing"`
	Volume          int     `json:"volume"`
	VolumeConfirmed int     `json:"volume_confirmed"`
	Bass            int     `json:"bass"`
	Treble          int     `json:"treble"`
	Balance         int     `json:"balance"`
	Loudness        bool    `json:"loudness"`
	Connected       bool    `json:"connected"`
}

// Mixer sequences mixer commands under the hardware ordering constraints
// and reconciles tracked state against device feedback. It is the only
// component that mutates State.
type Mixer struct {
	mu        sync.Mutex
	state     State
	maxVolume int
	write     func([]byte) error
	sleep     func(time.Duration)
	logger    *slog.Logger
}

// NewMixer creates a mixer writing frames through the given function.
func NewMixer(maxVolume int, write func([]byte) error) *Mixer {
	return &Mixer{
		maxVolume: maxVolume,
		write:     write,
		sleep:     time.Sleep,
		logger:    logger.WithComponent("mixer"),
	}
}

// State returns a copy of the tracked mixer state.
func (m *Mixer) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetConnected flags whether the USB device is currently attached.
func (m *Mixer) SetConnected(connected bool) {
	m.mu.Lock()
	m.state.Connected = connected
	m.mu.Unlock()
}

// PowerOn runs the mandatory power-on sequence: power byte first, settle,
// then explicit unmute. Absolute parameters are only reliable immediately
// after this sequence, so the initial volume is applied here with a single
// absolute write instead of stepping.
func (m *Mixer) PowerOn(volume int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	volume = m.clamp(volume)

	if err := m.send(opPowerMute, cmdPowerOn); err != nil {
		return err
	}
	m.sleep(powerSettleDelay)
	if err := m.send(opPowerMute, cmdUnmute); err != nil {
		return err
	}
	if err := m.send(opParams,
		byte(volume),
		byte(int8(m.state.Bass)),
		byte(int8(m.state.Treble)),
		byte(int8(m.state.Balance)),
		boolByte(m.state.Loudness),
	); err != nil {
		return err
	}

	m.state.Powered = true
	m.state.Muted = false
	m.state.Volume = volume

	return m.setRouting(Routing{Local: true})
}

// PowerOff runs the mandatory power-off sequence: mute first, settle, then
// the power-off byte. Powering off unmuted crashes the device.
func (m *Mixer) PowerOff() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.send(opPowerMute, cmdMute); err != nil {
		return err
	}
	m.state.Muted = true
	m.sleep(powerSettleDelay)
	if err := m.send(opPowerMute, cmdPowerOff); err != nil {
		return err
	}
	m.state.Powered = false
	return nil
}

// SetMuted toggles the mute stage.
func (m *Mixer) SetMuted(muted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cmd := byte(cmdUnmute)
	if muted {
		cmd = cmdMute
	}
	if err := m.send(opPowerMute, cmd); err != nil {
		return err
	}
	m.state.Muted = muted
	return nil
}

// SetVolume drives the tracked volume towards target using relative step
// commands. The device does not support atomic absolute-volume writes once
// running, so the difference is emitted as single steps with a settle
// delay between them.
func (m *Mixer) SetVolume(target int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	target = m.clamp(target)
	diff := target - m.state.Volume
	if diff == 0 {
		return nil
	}

	cmd := byte(cmdStepUp)
	if diff < 0 {
		cmd = cmdStepDown
		diff = -diff
	}
	for i := 0; i < diff; i++ {
		if i > 0 {
			m.sleep(volumeStepDelay)
		}
		if err := m.send(opVolumeStep, cmd); err != nil {
			return err
		}
	}
	m.state.Volume = target
	return nil
}

// SetRouting selects one of the four output combinations.
func (m *Mixer) SetRouting(r Routing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setRouting(r)
}

func (m *Mixer) setRouting(r Routing) error {
	var pri byte
	if r.Local {
		pri |= 0x01
	}
	if r.FromBus {
		pri |= 0x02
	}
	if err := m.send(opRoutingPri, pri); err != nil {
		return err
	}
	if err := m.send(opRoutingSec, boolByte(r.Distribute)); err != nil {
		return err
	}
	m.state.Routing = r
	return nil
}

// ActivateSource tells the amplifier which bus source to present.
func (m *Mixer) ActivateSource(source byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.send(opActivate, source)
}

// ApplyFeedback reconciles tracked state with a device report. Feedback
// wins over locally issued commands: a manual knob turn must not be undone
// by stale tracked state.
func (m *Mixer) ApplyFeedback(fb *MixerFeedback) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Volume = fb.Volume
	m.state.VolumeConfirmed = fb.Volume
	m.state.Bass = fb.Bass
	m.state.Treble = fb.Treble
	m.state.Balance = fb.Balance
	m.state.Loudness = fb.Loudness

	m.logger.Debug("Applied mixer feedback",
		slog.Int("volume", fb.Volume),
		slog.Int("bass", fb.Bass),
		slog.Int("treble", fb.Treble),
		slog.Int("balance", fb.Balance))
}

func (m *Mixer) send(op ...byte) error {
	if err := m.write(Encode(op)); err != nil {
		return fmt.Errorf("failed to write frame 0x%02X: %w", op[0], err)
	}
	return nil
}

func (m *Mixer) clamp(volume int) int {
	if volume < 0 {
		return 0
	}
	if volume > m.maxVolume {
		return m.maxVolume
	}
	return volume
}

func boolByte(b bool) byte {
	if b {
		return 0x01
	}
	return 0x00
}
