package nucleus

import (
	"nucleus/internal/bios"
	"nucleus/internal/device"
)

// InterruptHandler implements §4.8's three-tier priority scheme: PLT first,
// then the interval timer, then device lines 3..7 scanned low-to-high, with
// terminal transmit arbitrated ahead of terminal receive on the same
// device. Only one source is serviced per call, mirroring the original's
// one-cause-at-a-time interrupt dispatch — a second pending source is
// simply picked up on the handler's next entry.
func (k *Kernel) InterruptHandler() {
	m := k.machine
	switch {
	case m.PLTPending():
		k.handlePLT()
	case m.IntervalPending():
		k.handleIntervalTimer()
	default:
		if k.handleDeviceInterrupts() {
			return
		}
		// Spurious: same epilogue as a serviced interrupt — resume the
		// current process, or schedule if there is none.
		k.resumeOrSchedule()
	}
}

// handlePLT is priority 1: the current process's quantum expired.
func (k *Kernel) handlePLT() {
	m := k.machine
	m.AckPLT()
	m.SetTimer(uint32(TimeSlice) * uint32(k.timeScale))

	if k.currentProcess == noIndex {
		k.Scheduler()
		return
	}
	k.updateCPUTime()
	p := k.pcbs.at(k.currentProcess)
	bios.CopyState(&p.state, m.DataPage())
	k.pcbs.insertPriority(&k.readyQueue, k.currentProcess)
	k.currentProcess = noIndex
	k.Scheduler()
}

// handleIntervalTimer is priority 2: the pseudo-clock tick. Every process
// waiting on the pseudo-clock semaphore is released in one pass and the
// semaphore is reset to zero, per §4.4's pseudo-clock description — V is
// not called once per waiter, since the tick itself is the only signal, not
// a resource count.
func (k *Kernel) handleIntervalTimer() {
	m := k.machine
	m.AckInterval()
	m.LoadIntervalTimer(PSecond)

	sem := &k.devSems[PseudoClockSem]
	for {
		idx := k.asl.removeBlocked(k.pcbs, sem)
		if idx == noIndex {
			break
		}
		p := k.pcbs.at(idx)
		p.state.Regs.SetA0(0)
		k.pcbs.insertPriority(&k.readyQueue, idx)
		k.softBlockCount--
	}
	*sem = 0

	k.resumeOrSchedule()
}

// handleDeviceInterrupts is priority 3: scans interrupt lines 3..7 in
// ascending order, and within a line picks the lowest-numbered pending
// device — the Go analogue of the original's CP0 Cause bit scan. Returns
// false if nothing was pending (spurious entry).
func (k *Kernel) handleDeviceInterrupts() bool {
	m := k.machine
	for line := device.ILDisk; line <= device.ILTerminal; line++ {
		bitmap := m.DeviceBitmap(line)
		if bitmap == 0 {
			continue
		}
		for dev := 0; dev < device.DevicesPerLine; dev++ {
			if bitmap&(1<<uint(dev)) == 0 {
				continue
			}
			k.serviceDevice(line, dev)
			return true
		}
	}
	return false
}

// serviceDevice acknowledges one completed device operation and wakes its
// waiter. Terminal devices carry two independent sub-devices sharing one
// interrupt-pending bit; transmit is checked first, matching §4.8's stated
// TX-before-RX arbitration order.
func (k *Kernel) serviceDevice(line, dev int) {
	m := k.machine
	regs := m.Devices()

	if line == device.ILTerminal {
		txStatus := regs.Read(line, dev, device.FieldTransmStatus)
		if isCompletion(txStatus) {
			regs.Write(line, dev, device.FieldTransmCommand, device.CmdAck)
			k.wakeDeviceSem(termTxSem(dev), txStatus)
		} else {
			rxStatus := regs.Read(line, dev, device.FieldRecvStatus)
			regs.Write(line, dev, device.FieldRecvCommand, device.CmdAck)
			k.wakeDeviceSem(termRxSem(dev), rxStatus)
		}
		m.AckDevice(line, dev)
		k.resumeOrSchedule()
		return
	}

	status := regs.Read(line, dev, device.FieldStatus)
	regs.Write(line, dev, device.FieldCommand, device.CmdAck)
	k.wakeDeviceSem(devSemBase(line, dev), status)
	m.AckDevice(line, dev)
	k.resumeOrSchedule()
}

// isCompletion reports whether a terminal sub-device status is a completion
// or error code rather than one of the two non-terminal states READY/BUSY,
// per §4.8's TX-before-RX arbitration rule.
func isCompletion(status uint32) bool {
	low := status & 0xFF
	return low != device.StatusReady && low != device.StatusBusy
}

// wakeDeviceSem performs the device semaphore's V and, if the new value is
// <= 0, wakes its first waiter with its a0 register set to the
// snapshotted completion status, per §4.8's semaphore-operation step.
func (k *Kernel) wakeDeviceSem(semIdx int, status uint32) {
	sem := &k.devSems[semIdx]
	*sem++
	if *sem > 0 {
		return
	}
	idx := k.asl.removeBlocked(k.pcbs, sem)
	if idx == noIndex {
		return
	}
	p := k.pcbs.at(idx)
	p.state.Regs.SetA0(status)
	k.pcbs.insertPriority(&k.readyQueue, idx)
	k.softBlockCount--
}

// resumeOrSchedule implements the interrupt handler's epilogue: if a
// process was interrupted mid-quantum, its saved state is still current in
// the data page and it simply resumes; otherwise the scheduler picks
// whatever is now ready.
func (k *Kernel) resumeOrSchedule() {
	if k.currentProcess != noIndex {
		return
	}
	k.Scheduler()
}
