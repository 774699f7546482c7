package nucleus

// semd is one Active Semaphore List descriptor: a key (the semaphore's
// address — identity is the address itself, not the value it points at)
// bound to a FIFO queue of blocked PCBs.
type semd struct {
	inUse bool
	key   *int32
	q     procQueue
}

// asl is the Active Semaphore List: a fixed pool of MaxProc descriptors,
// grounded on phase1/asl.c's semd_table/semdFree_h/semd_h. The original
// locates a descriptor for a key with a linear scan over the active list;
// here a map does the same lookup in O(1) — a safe, spec-neutral
// modernization in the spirit of §9's arena-index-handle note (no
// invariant here depends on lookup being O(n), it's an artifact of the
// original's intrusive list).
type asl struct {
	semds [MaxProc]semd
	free  []int32
	byKey map[*int32]int32
}

func newASL() *asl {
	a := &asl{byKey: make(map[*int32]int32, MaxProc)}
	a.free = make([]int32, 0, MaxProc)
	for i := MaxProc - 1; i >= 0; i-- {
		a.semds[i].q = emptyProcQueue()
		a.free = append(a.free, int32(i))
	}
	return a
}

// insertBlocked appends idx to addr's waiter queue, drawing a fresh
// descriptor from the free pool if addr has no active one. Returns false
// only when no descriptor is available (an ASL pool exhaustion — the pool
// is sized to MaxProc so this indicates a real invariant violation, per
// §7).
func (a *asl) insertBlocked(pool *pcbPool, addr *int32, idx int32) bool {
	p := pool.at(idx)
	if sidx, ok := a.byKey[addr]; ok {
		s := &a.semds[sidx]
		pool.appendTail(&s.q, idx)
		p.semAdd = addr
		return true
	}
	n := len(a.free)
	if n == 0 {
		return false
	}
	sidx := a.free[n-1]
	a.free = a.free[:n-1]
	s := &a.semds[sidx]
	s.inUse = true
	s.key = addr
	s.q = emptyProcQueue()
	pool.appendTail(&s.q, idx)
	p.semAdd = addr
	a.byKey[addr] = sidx
	return true
}

// removeBlocked pops addr's head waiter, clearing its semAdd. If the
// queue empties the descriptor is released back to the free pool.
func (a *asl) removeBlocked(pool *pcbPool, addr *int32) int32 {
	sidx, ok := a.byKey[addr]
	if !ok {
		return noIndex
	}
	s := &a.semds[sidx]
	idx := pool.removeHead(&s.q)
	if idx == noIndex {
		return noIndex
	}
	pool.at(idx).semAdd = nil
	if s.q.empty() {
		a.release(sidx)
	}
	return idx
}

// outBlocked removes idx from whichever semaphore queue it's on, via its
// own semAdd. Returns false if idx isn't blocked.
func (a *asl) outBlocked(pool *pcbPool, idx int32) bool {
	p := pool.at(idx)
	if p.semAdd == nil {
		return false
	}
	sidx, ok := a.byKey[p.semAdd]
	if !ok {
		return false
	}
	s := &a.semds[sidx]
	pool.unlink(&s.q, idx)
	p.semAdd = nil
	if s.q.empty() {
		a.release(sidx)
	}
	return true
}

// headBlocked peeks at addr's first waiter without removing it.
func (a *asl) headBlocked(pool *pcbPool, addr *int32) int32 {
	sidx, ok := a.byKey[addr]
	if !ok {
		return noIndex
	}
	return pool.headProcQ(&a.semds[sidx].q)
}

func (a *asl) release(sidx int32) {
	s := &a.semds[sidx]
	delete(a.byKey, s.key)
	s.inUse = false
	s.key = nil
	a.free = append(a.free, sidx)
}
