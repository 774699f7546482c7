package nucleus

import (
	"nucleus/internal/bios"
	"nucleus/internal/device"
	"nucleus/internal/support"
)

// ExceptionHandler is the single entry point re-entered after the BIOS
// saves trap state to its data page (§4.6). It classifies the cause word
// and routes to the interrupt handler, the syscall handler, or
// pass-up-or-die.
func (k *Kernel) ExceptionHandler() {
	saved := k.machine.DataPage()
	cause := saved.Cause
	excCode := bios.ExcCode(cause)
	k.trace("exception cause=%#x excCode=%d currentProcess=%d", cause, excCode, k.currentProcess)

	switch {
	case bios.IsInterrupt(cause):
		k.InterruptHandler()
	case excCode == bios.ExcSyscallLo || excCode == bios.ExcSyscallHi:
		k.syscallHandler(saved)
	case excCode >= bios.ExcTLBLo && excCode <= bios.ExcTLBHi:
		k.passUpOrDie(support.PageFaultExcept)
	default:
		k.passUpOrDie(support.GeneralExcept)
	}
}

// syscallHandler implements §4.7's two gating rules and the NSYS1..NSYS10
// dispatch table.
func (k *Kernel) syscallHandler(saved *bios.State) {
	sysCode := int32(saved.Regs.A0())
	k.trace("syscall sysCode=%d currentProcess=%d", sysCode, k.currentProcess)

	if saved.Status&bios.StatusKernelMode == 0 && sysCode < 0 {
		saved.Cause = bios.SetExcCode(saved.Cause, bios.ExcPrivInstr)
		k.passUpOrDie(support.GeneralExcept)
		return
	}
	if sysCode >= 1 {
		k.passUpOrDie(support.GeneralExcept)
		return
	}

	switch sysCode {
	case SysCreateProcess:
		k.sysCreateProcess(saved)
	case SysTerminateProcess:
		k.sysTerminateProcess(saved)
	case SysPasseren:
		k.sysPasseren(saved)
	case SysVerhogen:
		k.sysVerhogen(saved)
	case SysDoIO:
		k.sysDoIO(saved)
	case SysGetCPUTime:
		k.sysGetCPUTime(saved)
	case SysWaitClock:
		k.sysWaitClock(saved)
	case SysGetSupportPtr:
		k.sysGetSupportPtr(saved)
	case SysGetProcessID:
		k.sysGetProcessID(saved)
	case SysYield:
		k.sysYield(saved)
	default:
		k.passUpOrDie(support.GeneralExcept)
	}
}

// sysCreateProcess is NSYS1. Non-blocking: the caller resumes directly
// from the data page either way, so it never touches the scheduler —
// only the saved state's a0 and PC change.
func (k *Kernel) sysCreateProcess(saved *bios.State) {
	idx := k.pcbs.alloc()
	if idx == noIndex {
		saved.Regs.SetA0(^uint32(0)) // -1 as a two's-complement word
		saved.PC += bios.WordLen
		return
	}

	child := k.pcbs.at(idx)
	if saved.NewProcState != nil {
		bios.CopyState(&child.state, saved.NewProcState)
	}
	child.priority = int(int32(saved.Regs.A2()))
	if saved.NewProcSupport != nil {
		child.support, _ = saved.NewProcSupport.(*support.Struct)
	}

	k.pcbs.insertPriority(&k.readyQueue, idx)
	k.pcbs.insertChild(k.currentProcess, idx)
	k.incProcessCount()

	saved.Regs.SetA0(uint32(child.pid))
	saved.PC += bios.WordLen
}

// sysTerminateProcess is NSYS2: target = a1, or self if 0. A non-zero
// target is looked up by pid with findByPID.
func (k *Kernel) sysTerminateProcess(saved *bios.State) {
	targetPID := int32(saved.Regs.A1())
	k.updateCPUTime()

	var target int32 = noIndex
	if targetPID == 0 {
		target = k.currentProcess
	} else {
		target = k.findByPID(targetPID)
	}

	if target != noIndex {
		k.terminateProcess(target)
	}
	k.Scheduler()
}

// findByPID scans the live PCB slots for the given pid. Pids are unique,
// so this finds the process wherever it sits: on the ready queue, on any
// semaphore's blocked queue, or as currentProcess.
func (k *Kernel) findByPID(pid int32) int32 {
	for i := range k.pcbs.slots {
		if k.pcbs.slots[i].inUse && k.pcbs.slots[i].pid == pid {
			return int32(i)
		}
	}
	return noIndex
}

// sysPasseren is NSYS3. Only the blocking branch reaches the scheduler;
// the non-blocking branch resumes directly from the data page.
func (k *Kernel) sysPasseren(saved *bios.State) {
	semAddr := saved.SemAddr
	*semAddr--
	saved.PC += bios.WordLen

	if *semAddr < 0 {
		k.updateCPUTime()
		cur := k.pcbs.at(k.currentProcess)
		bios.CopyState(&cur.state, saved)
		if !k.asl.insertBlocked(k.pcbs, semAddr, k.currentProcess) {
			k.machine.Panic("nucleus: ASL pool exhausted")
		}
		k.currentProcess = noIndex
		k.Scheduler()
	}
}

// sysVerhogen is NSYS4. Non-blocking: always resumes currentProcess
// directly, even when it wakes another process onto the ready queue.
func (k *Kernel) sysVerhogen(saved *bios.State) {
	semAddr := saved.SemAddr
	*semAddr++
	if *semAddr <= 0 {
		if woken := k.asl.removeBlocked(k.pcbs, semAddr); woken != noIndex {
			k.pcbs.insertPriority(&k.readyQueue, woken)
		}
	}
	saved.PC += bios.WordLen
}

// sysDoIO is NSYS5. a1 is the address of a device's command field, a2 the
// command word.
func (k *Kernel) sysDoIO(saved *bios.State) {
	cmdAddr := saved.Regs.A1()
	cmdWord := saved.Regs.A2()
	line, dev, field := device.Decode(cmdAddr)

	var semIdx int
	if line == device.ILTerminal && field == device.FieldTransmCommand {
		semIdx = termTxSem(dev)
	} else if line == device.ILTerminal {
		semIdx = termRxSem(dev)
	} else {
		semIdx = devSemBase(line, dev)
	}

	saved.PC += bios.WordLen
	k.updateCPUTime()
	cur := k.pcbs.at(k.currentProcess)
	bios.CopyState(&cur.state, saved)

	k.devSems[semIdx]--
	if !k.asl.insertBlocked(k.pcbs, &k.devSems[semIdx], k.currentProcess) {
		k.machine.Panic("nucleus: ASL pool exhausted")
	}
	k.incSoftBlockCount()
	k.currentProcess = noIndex

	k.machine.Devices().WriteAt(cmdAddr, cmdWord)
	k.Scheduler()
}

// sysGetCPUTime is NSYS6. Non-blocking.
func (k *Kernel) sysGetCPUTime(saved *bios.State) {
	cur := k.pcbs.at(k.currentProcess)
	now := k.machine.ReadTOD()
	saved.Regs.SetA0(uint32(cur.time + (now - k.startTOD)))
	saved.PC += bios.WordLen
}

// sysWaitClock is NSYS7: always blocks, synchronized by the 100ms
// interval-timer tick.
func (k *Kernel) sysWaitClock(saved *bios.State) {
	saved.PC += bios.WordLen
	k.updateCPUTime()
	cur := k.pcbs.at(k.currentProcess)
	bios.CopyState(&cur.state, saved)

	sem := &k.devSems[PseudoClockSem]
	*sem--
	if !k.asl.insertBlocked(k.pcbs, sem, k.currentProcess) {
		k.machine.Panic("nucleus: ASL pool exhausted")
	}
	k.incSoftBlockCount()
	k.currentProcess = noIndex
	k.Scheduler()
}

// sysGetSupportPtr is NSYS8. Non-blocking.
func (k *Kernel) sysGetSupportPtr(saved *bios.State) {
	cur := k.pcbs.at(k.currentProcess)
	saved.ResultSupport = cur.support
	saved.PC += bios.WordLen
}

// sysGetProcessID is NSYS9. Non-blocking.
func (k *Kernel) sysGetProcessID(saved *bios.State) {
	cur := k.pcbs.at(k.currentProcess)
	if saved.Regs.A1() == 0 {
		saved.Regs.SetA0(uint32(cur.pid))
	} else if cur.parent == noIndex {
		saved.Regs.SetA0(0)
	} else {
		saved.Regs.SetA0(uint32(k.pcbs.at(cur.parent).pid))
	}
	saved.PC += bios.WordLen
}

// sysYield is NSYS10.
func (k *Kernel) sysYield(saved *bios.State) {
	saved.PC += bios.WordLen
	k.updateCPUTime()
	cur := k.pcbs.at(k.currentProcess)
	bios.CopyState(&cur.state, saved)
	k.pcbs.insertPriority(&k.readyQueue, k.currentProcess)
	k.currentProcess = noIndex
	k.Scheduler()
}

// passUpOrDie implements §4.9.
func (k *Kernel) passUpOrDie(exceptionType int) {
	cur := k.pcbs.at(k.currentProcess)
	if cur.support == nil {
		k.trace("passUpOrDie: no support structure, terminating pid=%d", cur.pid)
		k.updateCPUTime()
		k.terminateProcess(k.currentProcess)
		k.Scheduler()
		return
	}

	sup := cur.support
	bios.CopyState(&sup.ExceptState[exceptionType], k.machine.DataPage())
	ctx := &sup.ExceptContext[exceptionType]
	k.trace("passUpOrDie: passing up to support pid=%d type=%d", cur.pid, exceptionType)
	k.machine.SetStatus(ctx.Status)
	// Load-context transfers control to the Level-4 handler at ctx.PC
	// with stack ctx.StackPtr; the nucleus's job ends here.
	_ = ctx.StackPtr
	_ = ctx.PC
}

// terminateProcess recursively tears down target and its entire subtree
// (§4.10). Implemented iteratively with an explicit worklist rather than
// true recursion, per §9's note that the original's recursive
// removeChild/terminateProcess loop can stack-overflow on pathological
// trees.
func (k *Kernel) terminateProcess(target int32) {
	if target == noIndex {
		return
	}

	stack := []int32{target}
	var order []int32
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		order = append(order, n)
		c := k.pcbs.at(n).childHead
		for c != noIndex {
			stack = append(stack, c)
			c = k.pcbs.at(c).sibNext
		}
	}

	// order lists each node before its descendants (a valid preorder);
	// walking it back to front guarantees every child is fully torn
	// down before its parent, matching §4.10 step 1.
	for i := len(order) - 1; i >= 0; i-- {
		k.terminateOne(order[i])
	}
}

func (k *Kernel) terminateOne(idx int32) {
	p := k.pcbs.at(idx)
	switch {
	case idx == k.currentProcess:
		k.currentProcess = noIndex
	case p.semAdd != nil:
		wasDeviceSem := k.isDeviceSem(p.semAdd)
		k.asl.outBlocked(k.pcbs, idx)
		if wasDeviceSem {
			k.softBlockCount--
		}
	default:
		k.pcbs.removeIdentity(&k.readyQueue, idx)
	}
	k.pcbs.outChild(idx)
	k.pcbs.free_(idx)
	k.processCount--
}
