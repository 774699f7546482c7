package nucleus

import "nucleus/internal/bios"

// Scheduler implements §4.5. It is non-returning in all four cases in the
// sense that matters here: once it dispatches, enters the wait state, or
// halts/panics, the caller must treat kernel state as committed and stop
// touching it. Go can't literally refuse to return from a function, so
// the contract is enforced by convention — every call site treats
// Scheduler() as the last statement on its path, exactly as the spec's
// "every handler path ends in either a state-load-to-process or a
// scheduler call" describes.
func (k *Kernel) Scheduler() {
	if !k.readyQueue.empty() {
		idx := k.pcbs.removeHead(&k.readyQueue)
		k.currentProcess = idx
		k.startTOD = k.machine.ReadTOD()
		k.machine.SetTimer(uint32(TimeSlice) * uint32(k.timeScale))

		p := k.pcbs.at(idx)
		bios.CopyState(k.machine.DataPage(), &p.state)
		k.trace("dispatch pid=%d prio=%d", p.pid, p.priority)
		return
	}

	if k.processCount == 0 {
		k.trace("HALT: processCount==0")
		k.machine.Halt()
		return
	}

	if k.softBlockCount > 0 {
		k.currentProcess = noIndex
		// Sets the global interrupt-enable bit. The Machine has no
		// separate PLT enable bit, so the PLT is not masked here; a PLT
		// that arrives with no current process only reloads the timer and
		// re-enters the scheduler (see handlePLT).
		k.machine.SetStatus(k.machine.Status() | bios.StatusIntEnable)
		k.trace("WAIT: softBlockCount=%d", k.softBlockCount)
		return
	}

	k.machine.Panic("nucleus: deadlock — live processes, none ready, none soft-blocked")
}
