package nucleus

import (
	"nucleus/internal/bios"
	"nucleus/internal/support"
)

// pcb is a process control block. Arena-indexed: a pcb is identified by
// its slot in Kernel.pcbs, never by a Go pointer, so every queue is just a
// pair of int32 indices (§9: arena-index handles instead of intrusive
// linked lists). Two independent link pairs live on the struct — qPrev/
// qNext for ready/blocked-queue membership, sibPrev/sibNext for the
// parent's children list — and the two must never be confused.
type pcb struct {
	inUse bool
	pid   int32

	state    bios.State
	time     uint64
	priority int
	support  *support.Struct

	semAdd *int32 // non-nil iff blocked on some semaphore's queue

	parent    int32
	childHead int32
	childTail int32
	sibPrev   int32
	sibNext   int32

	qPrev int32
	qNext int32
}

// pcbPool is the fixed-size PCB arena plus its free list and the
// monotonic PID counter, grounded on phase1/pcb.c's pcbFree_h/next_pid.
type pcbPool struct {
	slots   [MaxProc]pcb
	free    []int32 // stack of free slot indices
	nextPID int32
}

func newPCBPool() *pcbPool {
	p := &pcbPool{nextPID: 1}
	p.free = make([]int32, 0, MaxProc)
	for i := MaxProc - 1; i >= 0; i-- {
		p.free = append(p.free, int32(i))
	}
	return p
}

// alloc removes a slot from the free list, assigns the next monotonic
// PID, and zeroes every field a fresh process needs. Returns noIndex when
// the pool is exhausted.
func (p *pcbPool) alloc() int32 {
	n := len(p.free)
	if n == 0 {
		return noIndex
	}
	idx := p.free[n-1]
	p.free = p.free[:n-1]

	s := &p.slots[idx]
	*s = pcb{
		inUse:     true,
		pid:       p.nextPID,
		parent:    noIndex,
		childHead: noIndex,
		childTail: noIndex,
		sibPrev:   noIndex,
		sibNext:   noIndex,
		qPrev:     noIndex,
		qNext:     noIndex,
	}
	p.nextPID++
	return idx
}

// free_ returns a slot to the pool. The caller guarantees the PCB is
// already detached from the ready queue, any semaphore queue, and its
// parent's children list.
func (p *pcbPool) free_(idx int32) {
	p.slots[idx].inUse = false
	p.free = append(p.free, idx)
}

func (p *pcbPool) at(idx int32) *pcb {
	if idx == noIndex {
		return nil
	}
	return &p.slots[idx]
}

// procQueue is a priority-ordered doubly linked list of PCB indices,
// usable as the ready queue or as a semaphore's FIFO waiter queue (for the
// latter, priority insertion is never used — see asl.go's plain append).
type procQueue struct {
	head, tail int32
}

func emptyProcQueue() procQueue { return procQueue{head: noIndex, tail: noIndex} }

func (q *procQueue) empty() bool { return q.head == noIndex }

// insertPriority walks from the head and splices p immediately before the
// first node whose priority is lower, or appends to the tail — strictly
// decreasing priority order, FIFO within a band.
func (pool *pcbPool) insertPriority(q *procQueue, idx int32) {
	p := pool.at(idx)
	cur := q.head
	for cur != noIndex {
		c := pool.at(cur)
		if p.priority > c.priority {
			pool.spliceBefore(q, cur, idx)
			return
		}
		cur = c.qNext
	}
	pool.appendTail(q, idx)
}

// appendTail appends idx unconditionally — used both by insertPriority's
// fallback and by plain FIFO queues (semaphore waiter lists).
func (pool *pcbPool) appendTail(q *procQueue, idx int32) {
	p := pool.at(idx)
	p.qPrev, p.qNext = q.tail, noIndex
	if q.tail == noIndex {
		q.head = idx
	} else {
		pool.at(q.tail).qNext = idx
	}
	q.tail = idx
}

func (pool *pcbPool) spliceBefore(q *procQueue, before, idx int32) {
	b := pool.at(before)
	p := pool.at(idx)
	p.qPrev, p.qNext = b.qPrev, before
	if b.qPrev == noIndex {
		q.head = idx
	} else {
		pool.at(b.qPrev).qNext = idx
	}
	b.qPrev = idx
}

func (pool *pcbPool) headProcQ(q *procQueue) int32 { return q.head }

// removeHead removes and returns the queue's head, resetting its own
// links to noIndex (the index-based analogue of resetting a removed
// intrusive node to a self-loop).
func (pool *pcbPool) removeHead(q *procQueue) int32 {
	idx := q.head
	if idx == noIndex {
		return noIndex
	}
	pool.unlink(q, idx)
	return idx
}

// unlink splices idx out of q given its current qPrev/qNext, without
// scanning — the caller already knows idx is a member.
func (pool *pcbPool) unlink(q *procQueue, idx int32) {
	p := pool.at(idx)
	if p.qPrev == noIndex {
		q.head = p.qNext
	} else {
		pool.at(p.qPrev).qNext = p.qNext
	}
	if p.qNext == noIndex {
		q.tail = p.qPrev
	} else {
		pool.at(p.qNext).qPrev = p.qPrev
	}
	p.qPrev, p.qNext = noIndex, noIndex
}

// removeIdentity scans q for idx and unlinks it, returning false if idx
// isn't a member.
func (pool *pcbPool) removeIdentity(q *procQueue, idx int32) bool {
	cur := q.head
	for cur != noIndex {
		if cur == idx {
			pool.unlink(q, idx)
			return true
		}
		cur = pool.at(cur).qNext
	}
	return false
}

// --- process tree -----------------------------------------------------

// insertChild appends p as the youngest child of prnt, linked via the
// sibling chain; prnt's general qPrev/qNext link is untouched, preserving
// the invariant that sibling links and ready/blocked links never mix.
func (pool *pcbPool) insertChild(prnt, idx int32) {
	c := pool.at(idx)
	c.parent = prnt
	c.sibPrev, c.sibNext = noIndex, noIndex
	par := pool.at(prnt)
	if par.childTail == noIndex {
		par.childHead = idx
	} else {
		pool.at(par.childTail).sibNext = idx
	}
	c.sibPrev = par.childTail
	par.childTail = idx
}

func (pool *pcbPool) emptyChild(idx int32) bool {
	return pool.at(idx).childHead == noIndex
}

// removeFirstChild detaches and returns p's first child, or noIndex if it
// has none.
func (pool *pcbPool) removeFirstChild(idx int32) int32 {
	par := pool.at(idx)
	child := par.childHead
	if child == noIndex {
		return noIndex
	}
	pool.outChild(child)
	return child
}

// outChild detaches idx from its parent's children list and clears its
// parent pointer. No-op (returns false) if idx is already a root.
func (pool *pcbPool) outChild(idx int32) bool {
	c := pool.at(idx)
	if c.parent == noIndex {
		return false
	}
	par := pool.at(c.parent)
	if c.sibPrev == noIndex {
		par.childHead = c.sibNext
	} else {
		pool.at(c.sibPrev).sibNext = c.sibNext
	}
	if c.sibNext == noIndex {
		par.childTail = c.sibPrev
	} else {
		pool.at(c.sibNext).sibPrev = c.sibPrev
	}
	c.sibPrev, c.sibNext, c.parent = noIndex, noIndex, noIndex
	return true
}
