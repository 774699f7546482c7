package device

import (
	"fmt"

	"github.com/eiannone/keyboard"
)

// Terminal drives one terminal sub-device's RX/TX register pair against a
// real attached terminal, the way the teacher's LC-3 TRAP_GETC/TRAP_OUT
// handlers use github.com/eiannone/keyboard for single-key reads and
// fmt.Printf for output. It is a CLI-harness concern, not something the
// nucleus package itself depends on: the nucleus only ever touches the
// Registers it was handed.
type Terminal struct {
	regs *Registers
	dev  int
}

// NewTerminal wires a Terminal to device `dev` on the terminal line.
func NewTerminal(regs *Registers, dev int) *Terminal {
	return &Terminal{regs: regs, dev: dev}
}

// completionCode values distinct from StatusReady/StatusBusy, matching the
// original nucleus's convention that anything outside {READY, BUSY} in the
// status low byte is a completion or error code.
const (
	completionRecv     = 2
	completionTransmit = 2
)

// PollKey blocks for a single keystroke from the attached terminal and
// latches it into the RX status register, returning the character read.
// Ctrl-C is reported as an error so the caller can unwind cleanly instead
// of the process dying mid-raw-mode.
func (t *Terminal) PollKey() (byte, error) {
	ch, key, err := keyboard.GetSingleKey()
	if err != nil {
		return 0, err
	}
	if key == keyboard.KeyCtrlC {
		return 0, fmt.Errorf("terminal: interrupted")
	}
	status := completionRecv | (uint32(ch) << 8)
	t.regs.Write(ILTerminal, t.dev, FieldRecvStatus, status)
	return byte(ch), nil
}

// Transmit writes ch to the host terminal and latches a completion status,
// mirroring TRAP_OUT's fmt.Printf("%c", ...) in the teacher's LC-3 loop.
func (t *Terminal) Transmit(ch byte) {
	fmt.Printf("%c", ch)
	t.regs.Write(ILTerminal, t.dev, FieldTransmStatus, completionTransmit)
}
