package nucleus

import "nucleus/internal/device"

// Pool sizes and timing constants the nucleus exposes with exactly the
// meaning §6 specifies.
const (
	MaxProc   = 20
	TimeSlice = 5   // quantum in ms; the PLT is loaded with TimeSlice*timeScale ticks
	PSecond   = 100 // interval-timer reload: 100ms, in the milliseconds LoadIntervalTimer takes

	// TotSems is the size of devSems: 32 device semaphores (lines 3..6,
	// 8 devices each) + 8 terminal TX + 8 terminal RX + 1 pseudo-clock
	// slot. Terminal TX folds into the (line-3)*8+dev scheme, so this is
	// 5 lines * 8 devices + 1 extra bank for terminal RX + 1.
	TotSems = 49

	PseudoClockSem = 48
)

// noIndex is the arena-index sentinel meaning "no PCB"/"no semaphore
// descriptor"/"no queue node" — the Go analogue of a null list pointer in
// the §9 arena-index-handle design.
const noIndex int32 = -1

// devSemBase returns the device-semaphore index for a non-terminal line's
// (line, dev) pair, or for a terminal's RX base before the +8 TX/RX split
// is applied. index = (line-3)*8 + dev.
func devSemBase(line, dev int) int {
	return (line-device.ILDisk)*device.DevicesPerLine + dev
}

// termTxSem and termRxSem are the terminal's two independent sub-device
// semaphore banks: TX at (7-3)*8+dev == 32+dev, RX 8 slots further on.
func termTxSem(dev int) int { return devSemBase(device.ILTerminal, dev) }
func termRxSem(dev int) int { return devSemBase(device.ILTerminal, dev) + device.DevicesPerLine }

// Syscall service codes (§4.7). All ten are negative, kernel-mode-only.
const (
	SysCreateProcess    = -1
	SysTerminateProcess = -2
	SysPasseren         = -3
	SysVerhogen         = -4
	SysDoIO             = -5
	SysGetCPUTime       = -6
	SysWaitClock        = -7
	SysGetSupportPtr    = -8
	SysGetProcessID     = -9
	SysYield            = -10
)

// Process priorities. Only a default is named by the spec; any ordering
// users choose among these works since the queue is priority-ordered.
const (
	PrioLow  = 0
	PrioHigh = 1
)
