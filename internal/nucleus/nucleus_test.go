package nucleus

import (
	"testing"

	"nucleus/internal/bios"
	"nucleus/internal/device"
	"nucleus/internal/support"
)

// newTestKernel boots a kernel with a single root test process dispatched
// as currentProcess, the way a real boot would leave it just before the
// root's first instruction runs.
func newTestKernel(t *testing.T, rootPriority int) (*Kernel, *bios.Machine) {
	t.Helper()
	regs := &device.Registers{}
	m := bios.NewMachine(regs)
	k := NewKernel(m, 1)

	if _, err := k.Bootstrap(0, 0, rootPriority, 0x400, 0x1000); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	k.Scheduler()
	if k.currentProcess == noIndex {
		t.Fatal("Scheduler did not dispatch the root process")
	}
	return k, m
}

func syscallTrap(m *bios.Machine, code int32) *bios.State {
	saved := m.DataPage()
	saved.Regs.SetA0(uint32(code))
	saved.Status = bios.StatusKernelMode | bios.StatusIntEnable
	saved.Cause = bios.SetExcCode(0, bios.ExcSyscallLo)
	return saved
}

// Scenario 1: boot-and-halt.
func TestBootAndHalt(t *testing.T) {
	k, m := newTestKernel(t, PrioHigh)

	saved := syscallTrap(m, SysTerminateProcess)
	saved.Regs[bios.RegA1] = 0
	k.ExceptionHandler()

	if k.processCount != 0 {
		t.Errorf("processCount = %d, want 0", k.processCount)
	}
	if !m.Halted() {
		t.Error("machine should have HALTed")
	}
}

// Scenario 2: P/V handoff. A (prio 5) blocks on S; B (prio 3, running)
// V's S; A must be dispatched next over B, and S ends at 0.
func TestPasserenVerhogenHandoff(t *testing.T) {
	k, m := newTestKernel(t, PrioLow)

	a := k.pcbs.alloc()
	pa := k.pcbs.at(a)
	pa.priority = 5
	pa.state.Status = bios.StatusKernelMode | bios.StatusIntEnable
	k.processCount++

	var sem int32 = -1
	if !k.asl.insertBlocked(k.pcbs, &sem, a) {
		t.Fatal("insertBlocked failed")
	}

	b := k.pcbs.alloc()
	pb := k.pcbs.at(b)
	pb.priority = 3
	k.processCount++
	k.currentProcess = b

	saved := syscallTrap(m, SysVerhogen)
	saved.SemAddr = &sem
	k.ExceptionHandler()

	if sem != 0 {
		t.Errorf("sem = %d, want 0", sem)
	}
	if pa.semAdd != nil {
		t.Error("A should be unblocked")
	}
	if k.readyQueue.head != a {
		t.Errorf("ready queue head = %d, want A (%d)", k.readyQueue.head, a)
	}
	if k.currentProcess != b {
		t.Error("V is non-blocking: B must still be currentProcess")
	}

	// Scheduling from here must pick A over B, since A (5) > B (3) once B
	// re-enters the ready queue.
	k.pcbs.insertPriority(&k.readyQueue, b)
	k.currentProcess = noIndex
	k.Scheduler()
	if k.currentProcess != a {
		t.Errorf("currentProcess = %d, want A (%d)", k.currentProcess, a)
	}
}

// Scenario 3: DOIO round-trip to printer line 6, device 2.
func TestDoIORoundTrip(t *testing.T) {
	k, m := newTestKernel(t, PrioHigh)
	self := k.currentProcess

	cmdAddr := device.CommandAddr(device.ILPrinter, 2)
	saved := syscallTrap(m, SysDoIO)
	saved.Regs[bios.RegA1] = cmdAddr
	saved.Regs[bios.RegA2] = 0x01 // arbitrary PRINTCHR-style command
	k.ExceptionHandler()

	wantSemIdx := devSemBase(device.ILPrinter, 2)
	if wantSemIdx != 26 {
		t.Fatalf("test setup error: wantSemIdx = %d, want 26", wantSemIdx)
	}
	if k.devSems[wantSemIdx] != -1 {
		t.Errorf("devSems[26] = %d, want -1", k.devSems[wantSemIdx])
	}
	if k.softBlockCount != 1 {
		t.Errorf("softBlockCount = %d, want 1", k.softBlockCount)
	}
	if k.currentProcess != noIndex {
		t.Error("process should have blocked")
	}

	// Printer completes: status snapshot 5 (a completion code),
	// fire the line-6 device-2 interrupt.
	const completionStatus = 5
	m.Devices().Write(device.ILPrinter, 2, device.FieldStatus, completionStatus)
	m.FireDevice(device.ILPrinter, 2)
	m.DataPage().Cause = 0x80000000
	k.ExceptionHandler()

	if k.devSems[wantSemIdx] != 0 {
		t.Errorf("devSems[26] = %d, want 0", k.devSems[wantSemIdx])
	}
	if k.softBlockCount != 0 {
		t.Errorf("softBlockCount = %d, want 0", k.softBlockCount)
	}
	if k.readyQueue.empty() && k.currentProcess == noIndex {
		t.Fatal("process should be ready or dispatched after completion")
	}
	p := k.pcbs.at(self)
	if p.state.Regs.A0() != completionStatus {
		t.Errorf("woken process a0 = %d, want %d", p.state.Regs.A0(), completionStatus)
	}
}

// Scenario 4: pseudo-clock burst. Three processes WaitClock; one interval
// tick releases all three with a0 == 0.
func TestPseudoClockBurst(t *testing.T) {
	k, m := newTestKernel(t, PrioHigh)

	var waiters []int32
	for i := 0; i < 3; i++ {
		idx := k.pcbs.alloc()
		p := k.pcbs.at(idx)
		p.priority = 1
		k.processCount++
		sem := &k.devSems[PseudoClockSem]
		*sem--
		if !k.asl.insertBlocked(k.pcbs, sem, idx) {
			t.Fatal("insertBlocked failed")
		}
		k.incSoftBlockCount()
		waiters = append(waiters, idx)
	}

	if k.devSems[PseudoClockSem] != -3 {
		t.Fatalf("devSems[48] = %d, want -3", k.devSems[PseudoClockSem])
	}
	if k.softBlockCount != 3 {
		t.Fatalf("softBlockCount = %d, want 3", k.softBlockCount)
	}

	m.FireInterval()
	saved := m.DataPage()
	saved.Cause = bios.SetExcCode(0x80000000, 0)
	k.ExceptionHandler()

	if k.devSems[PseudoClockSem] != 0 {
		t.Errorf("devSems[48] = %d, want 0", k.devSems[PseudoClockSem])
	}
	if k.softBlockCount != 0 {
		t.Errorf("softBlockCount = %d, want 0", k.softBlockCount)
	}
	for _, idx := range waiters {
		p := k.pcbs.at(idx)
		if p.semAdd != nil {
			t.Errorf("waiter %d still blocked", idx)
		}
		if p.state.Regs.A0() != 0 {
			t.Errorf("waiter %d a0 = %d, want 0", idx, p.state.Regs.A0())
		}
	}
}

// Scenario 5: subtree termination. R (current) has child C1 (ready), C1
// has child G1 (blocked on a terminal RX semaphore). TERMINATEPROCESS(R)
// must tear down all three.
func TestSubtreeTermination(t *testing.T) {
	k, m := newTestKernel(t, PrioHigh)
	root := k.currentProcess

	c1 := k.pcbs.alloc()
	k.pcbs.at(c1).priority = 1
	k.pcbs.insertChild(root, c1)
	k.pcbs.insertPriority(&k.readyQueue, c1)
	k.processCount++

	g1 := k.pcbs.alloc()
	k.pcbs.insertChild(c1, g1)
	k.processCount++
	sem := &k.devSems[termRxSem(0)]
	*sem--
	if !k.asl.insertBlocked(k.pcbs, sem, g1) {
		t.Fatal("insertBlocked failed")
	}
	k.incSoftBlockCount()

	startCount := k.processCount
	startSoftBlock := k.softBlockCount

	saved := syscallTrap(m, SysTerminateProcess)
	saved.Regs[bios.RegA1] = 0
	k.ExceptionHandler()

	if k.processCount != startCount-3 {
		t.Errorf("processCount dropped by %d, want 3", startCount-k.processCount)
	}
	if k.softBlockCount != startSoftBlock-1 {
		t.Errorf("softBlockCount dropped by %d, want 1", startSoftBlock-k.softBlockCount)
	}
	if !m.Halted() {
		t.Error("machine should HALT once the whole tree is gone")
	}
	for _, idx := range []int32{root, c1, g1} {
		if k.pcbs.at(idx).inUse {
			t.Errorf("pcb %d should be returned to the free pool", idx)
		}
	}
}

// Scenario 6: pass-up on page fault. Kernel bookkeeping is untouched; the
// trap state lands in the Support Structure.
func TestPassUpOnPageFault(t *testing.T) {
	k, m := newTestKernel(t, PrioHigh)
	self := k.currentProcess
	p := k.pcbs.at(self)
	sup := support.New(3)
	p.support = sup

	wantReadyHead := k.readyQueue.head
	wantProcessCount := k.processCount

	saved := m.DataPage()
	saved.Cause = bios.SetExcCode(0, bios.ExcTLBLo)
	saved.PC = 0x2000
	k.ExceptionHandler()

	if sup.ExceptState[support.PageFaultExcept].PC != 0x2000 {
		t.Errorf("exceptState[PGFAULT].PC = %#x, want 0x2000", sup.ExceptState[support.PageFaultExcept].PC)
	}
	if k.processCount != wantProcessCount {
		t.Errorf("processCount changed: %d -> %d", wantProcessCount, k.processCount)
	}
	if k.readyQueue.head != wantReadyHead {
		t.Error("ready queue should be untouched by pass-up")
	}
	if !p.inUse {
		t.Error("process with a support structure must not be terminated on pass-up")
	}
}

// Die path: a TLB exception with no Support Structure terminates the
// process instead of passing up.
func TestPassUpOrDieTerminatesWithoutSupport(t *testing.T) {
	k, m := newTestKernel(t, PrioHigh)
	self := k.currentProcess

	saved := m.DataPage()
	saved.Cause = bios.SetExcCode(0, bios.ExcTLBHi)
	k.ExceptionHandler()

	if k.pcbs.at(self).inUse {
		t.Error("process without a support structure should have been terminated")
	}
	if !m.Halted() {
		t.Error("machine should HALT once the sole process dies")
	}
}

// CreateProcess/Verhogen/GetCPUTime etc. never touch the scheduler: the
// caller must remain currentProcess after a non-blocking syscall.
func TestCreateProcessIsNonBlocking(t *testing.T) {
	k, m := newTestKernel(t, PrioHigh)
	parent := k.currentProcess
	startCount := k.processCount

	saved := syscallTrap(m, SysCreateProcess)
	saved.Regs[bios.RegA2] = uint32(PrioLow)
	k.ExceptionHandler()

	if k.currentProcess != parent {
		t.Error("CreateProcess must not invoke the scheduler")
	}
	if k.processCount != startCount+1 {
		t.Errorf("processCount = %d, want %d", k.processCount, startCount+1)
	}
	childPID := saved.Regs.A0()
	if childPID == 0 {
		t.Error("expected a non-zero child pid in a0")
	}
}

// Terminal TX completes (status neither READY nor BUSY) while its RX line
// is idle at READY: the handler must service TX, not RX, and must not
// confuse the two semaphores.
func TestTerminalInterruptServicesTXOverIdleRX(t *testing.T) {
	k, m := newTestKernel(t, PrioHigh)
	self := k.currentProcess

	const dev = 1
	cmdAddr := device.TerminalTransmitCommandAddr(dev)
	saved := syscallTrap(m, SysDoIO)
	saved.Regs[bios.RegA1] = cmdAddr
	saved.Regs[bios.RegA2] = 0x02
	k.ExceptionHandler()

	txSemIdx := termTxSem(dev)
	if k.devSems[txSemIdx] != -1 {
		t.Fatalf("devSems[%d] = %d, want -1", txSemIdx, k.devSems[txSemIdx])
	}

	const completionStatus = 5 // neither StatusReady(1) nor StatusBusy(3)
	m.Devices().Write(device.ILTerminal, dev, device.FieldRecvStatus, device.StatusReady)
	m.Devices().Write(device.ILTerminal, dev, device.FieldTransmStatus, completionStatus)
	m.FireDevice(device.ILTerminal, dev)
	m.DataPage().Cause = 0x80000000
	k.ExceptionHandler()

	if k.devSems[txSemIdx] != 0 {
		t.Errorf("devSems[%d] (tx) = %d, want 0", txSemIdx, k.devSems[txSemIdx])
	}
	rxSemIdx := termRxSem(dev)
	if k.devSems[rxSemIdx] != 0 {
		t.Errorf("devSems[%d] (rx) should be untouched, got %d", rxSemIdx, k.devSems[rxSemIdx])
	}
	p := k.pcbs.at(self)
	if p.state.Regs.A0() != completionStatus {
		t.Errorf("woken process a0 = %d, want %d", p.state.Regs.A0(), completionStatus)
	}
}

func TestCreateProcessExhaustion(t *testing.T) {
	k, m := newTestKernel(t, PrioHigh)
	for len(k.pcbs.free) > 0 {
		k.pcbs.alloc()
	}

	saved := syscallTrap(m, SysCreateProcess)
	k.ExceptionHandler()

	if int32(saved.Regs.A0()) != -1 {
		t.Errorf("a0 = %d, want -1", int32(saved.Regs.A0()))
	}
}
