// Package nucleus implements the core of a small educational OS kernel:
// the PCB/ASL/process-tree data layer, the scheduler, and the
// exception/interrupt/syscall dispatcher, for a µRISC-V-like machine whose
// BIOS and device contracts are modeled by nucleus/internal/bios and
// nucleus/internal/device.
package nucleus

import (
	"fmt"
	"log"

	"nucleus/internal/bios"
	"nucleus/internal/utils"
)

// Kernel gathers the six global variables §3 names into one explicit,
// passed-by-reference context rather than file-scope singletons, per the
// §9 design note — this is what makes the dispatcher, scheduler, and
// syscall handler all independently testable.
type Kernel struct {
	pcbs *pcbPool
	asl  *asl

	processCount   int32
	softBlockCount int32
	readyQueue     procQueue
	currentProcess int32 // noIndex when none

	devSems  [TotSems]int32
	startTOD uint64

	machine   *bios.Machine
	timeScale uint64

	// Trace mirrors the original nucleus's debug_hex/debug_print calls
	// laced through exceptionHandler/interruptHandler: off by default so
	// ordinary tests stay quiet.
	Trace bool
}

// NewKernel constructs a kernel bound to the given BIOS/device
// collaborator, with all pools empty and all counters zeroed —
// initPcbs()/initASL() folded into construction instead of a separate
// init step, since Go gives us no equivalent of a freestanding BSS clear
// to rely on instead.
func NewKernel(machine *bios.Machine, timeScale uint64) *Kernel {
	return &Kernel{
		pcbs:           newPCBPool(),
		asl:            newASL(),
		readyQueue:     emptyProcQueue(),
		currentProcess: noIndex,
		machine:        machine,
		timeScale:      timeScale,
	}
}

// Bootstrap performs the nucleus's one-shot initialization (phase2/
// initial.c): populates the pass-up vector, loads the interval timer,
// and instantiates the root test process with the given priority and
// initial PC/SP, inserting it into the ready queue. It does not invoke
// the scheduler — the caller does that once bootstrap returns, matching
// the spec's framing of Scheduler as always the final, non-returning
// step of any handler path.
func (k *Kernel) Bootstrap(tlbRefillPC, exceptionPC uint32, rootPriority int, rootPC, rootSP uint32) (pid int32, err error) {
	vec := k.machine.PassUpVector()
	vec.TLBRefillPC, vec.TLBRefillSP = tlbRefillPC, 0
	vec.ExceptionPC, vec.ExceptionSP = exceptionPC, 0

	k.machine.LoadIntervalTimer(PSecond)

	idx := k.pcbs.alloc()
	if idx == noIndex {
		return 0, fmt.Errorf("nucleus: bootstrap: PCB pool exhausted")
	}
	p := k.pcbs.at(idx)
	p.state.Status = bios.StatusKernelMode | bios.StatusIntEnable
	p.state.PC = rootPC
	p.state.SP = rootSP
	p.priority = rootPriority

	k.pcbs.insertPriority(&k.readyQueue, idx)
	k.processCount++
	k.trace("bootstrap: root pid=%d prio=%d", p.pid, rootPriority)
	return p.pid, nil
}

// isDeviceSem reports whether addr is one of the 49 slots of devSems —
// the Go analogue of the original's pointer-range check used by the
// termination subroutine (§4.10 step 3) to decide whether a blocked
// process counts against softBlockCount.
func (k *Kernel) isDeviceSem(addr *int32) bool {
	for i := range k.devSems {
		if &k.devSems[i] == addr {
			return true
		}
	}
	return false
}

// updateCPUTime charges the elapsed time since startTOD to currentProcess
// and re-stamps startTOD, mirroring exceptions.c's updateCPUTime. A no-op
// when no process is current.
func (k *Kernel) updateCPUTime() {
	if k.currentProcess == noIndex {
		return
	}
	now := k.machine.ReadTOD()
	p := k.pcbs.at(k.currentProcess)
	p.time += now - k.startTOD
	k.startTOD = now
}

// incProcessCount and incSoftBlockCount bump the two live counters §8
// treats as quantified invariants, overflow-checked the way the teacher's
// generic utils.CheckAdditionOverflow guards arithmetic elsewhere — a
// wraparound here would silently corrupt the scheduler's HALT/WAIT/PANIC
// decision, so it is promoted to a PANIC instead.
func (k *Kernel) incProcessCount() {
	sum := k.processCount + 1
	if utils.CheckAdditionOverflow(k.processCount, int32(1), sum) {
		k.machine.Panic("nucleus: processCount overflow")
	}
	k.processCount = sum
}

func (k *Kernel) incSoftBlockCount() {
	sum := k.softBlockCount + 1
	if utils.CheckAdditionOverflow(k.softBlockCount, int32(1), sum) {
		k.machine.Panic("nucleus: softBlockCount overflow")
	}
	k.softBlockCount = sum
}

func (k *Kernel) trace(format string, args ...interface{}) {
	if k.Trace {
		log.Printf("[nucleus] "+format, args...)
	}
}
