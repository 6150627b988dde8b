// Package lockmgr implements the multigranularity lock manager from
// spec §4.6: S/X/IS/IX compatibility, strict 2PL phase tracking, and
// a cycle-detecting wait-for graph. Structurally grounded on the
// teacher's manager.LockManager (lock table + wait graph + condition
// variable) and on the semantics of original_source/lstore/lock.py.
package lockmgr

import (
	"sync"

	"github.com/araiyan/lstore/internal/errs"
)

// Mode is one of the four multigranularity lock modes.
type Mode int

const (
	S Mode = iota
	X
	IS
	IX
)

// Phase tracks strict 2PL: once a transaction releases any lock it
// moves to Shrinking and may never acquire again.
type Phase int

const (
	Growing Phase = iota
	Shrinking
)

// entry is the per-resource lock state.
type entry struct {
	holdersS map[int64]struct{}
	holdersX map[int64]struct{}
	isCount  int
	ixCount  int
}

func newEntry() *entry {
	return &entry{holdersS: make(map[int64]struct{}), holdersX: make(map[int64]struct{})}
}

func (e *entry) empty() bool {
	return len(e.holdersS) == 0 && len(e.holdersX) == 0 && e.isCount == 0 && e.ixCount == 0
}

// compatible reports whether requested can be granted given the
// current holders of a resource, per the compatibility matrix in
// spec §4.6.
func (e *entry) compatible(requester int64, requested Mode) bool {
	switch requested {
	case X:
		return len(e.holdersX) == 0 && len(e.holdersS) == 0 && e.isCount == 0 && e.ixCount == 0
	case S:
		return len(e.holdersX) == 0 && e.ixCount == 0
	case IS:
		return len(e.holdersX) == 0
	case IX:
		return len(e.holdersX) == 0 && len(e.holdersS) == 0
	}
	return false
}

// blockingHolders returns the transaction ids currently blocking a
// request, used to populate wait-for edges. IS/IX holders are tracked
// only as counts, so they are never among the returned ids.
func (e *entry) blockingHolders(requested Mode) []int64 {
	var out []int64
	switch requested {
	case X, IX:
		for t := range e.holdersS {
			out = append(out, t)
		}
		for t := range e.holdersX {
			out = append(out, t)
		}
	case S, IS:
		for t := range e.holdersX {
			out = append(out, t)
		}
	}
	return out
}

// heldLock is one (resource, mode) grant recorded against a
// transaction so ReleaseAll can undo intention-count grants, which
// the lock table itself only tracks anonymously as a counter.
type heldLock struct {
	resource string
	mode     Mode
}

// LockManager guards a set of resources keyed by an opaque string id
// (the caller encodes table/record granularity into the id, e.g.
// spec §4.8's "(primary_key, key_column)" scheme).
type LockManager struct {
	cond  *sync.Cond
	mu    sync.Mutex
	table map[string]*entry
	phase map[int64]Phase
	held  map[int64][]heldLock
	graph *waitForGraph
}

// New creates an empty lock manager.
func New() *LockManager {
	lm := &LockManager{
		table: make(map[string]*entry),
		phase: make(map[int64]Phase),
		held:  make(map[int64][]heldLock),
		graph: newWaitForGraph(),
	}
	lm.cond = sync.NewCond(&lm.mu)
	return lm
}

func (lm *LockManager) phaseOf(tid int64) Phase {
	if p, ok := lm.phase[tid]; ok {
		return p
	}
	return Growing
}

// Acquire blocks until mode can be granted on resource for tid, or
// fails with PhaseViolation (2PL already shrinking) or Deadlock (the
// wait would close a cycle in the wait-for graph).
func (lm *LockManager) Acquire(tid int64, resource string, mode Mode) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.phaseOf(tid) == Shrinking {
		return errs.ErrPhaseViolation
	}

	e, ok := lm.table[resource]
	if !ok {
		e = newEntry()
		lm.table[resource] = e
	}

	// Already holding this or a stronger mode on the resource.
	if lm.alreadyHoldsLocked(tid, e, mode) {
		return nil
	}

	for !e.compatible(tid, mode) {
		for _, holder := range e.blockingHolders(mode) {
			if holder == tid {
				continue
			}
			if !lm.graph.addEdge(tid, holder) {
				lm.releaseAllLocked(tid)
				lm.cond.Broadcast()
				return errs.ErrDeadlock
			}
		}
		lm.cond.Wait()

		if lm.phaseOf(tid) == Shrinking {
			return errs.ErrPhaseViolation
		}
		// A release may have deleted the entry while this request
		// slept; check and grant against the one now in the table.
		if cur, ok := lm.table[resource]; ok {
			e = cur
		} else {
			e = newEntry()
			lm.table[resource] = e
		}
	}

	lm.grantLocked(tid, e, mode)
	lm.held[tid] = append(lm.held[tid], heldLock{resource: resource, mode: mode})
	lm.graph.removeTransaction(tid)
	lm.cond.Broadcast()
	return nil
}

func (lm *LockManager) alreadyHoldsLocked(tid int64, e *entry, mode Mode) bool {
	switch mode {
	case S:
		_, s := e.holdersS[tid]
		_, x := e.holdersX[tid]
		return s || x
	case X:
		_, x := e.holdersX[tid]
		return x
	case IS, IX:
		return false // intention locks are reference-counted, always re-acquired
	}
	return false
}

func (lm *LockManager) grantLocked(tid int64, e *entry, mode Mode) {
	switch mode {
	case S:
		e.holdersS[tid] = struct{}{}
	case X:
		e.holdersX[tid] = struct{}{}
	case IS:
		e.isCount++
	case IX:
		e.ixCount++
	}
}

// Upgrade attempts one of the supported transitions: IS->S, IX->X,
// IS->IX, S->X (spec §4.6).
func (lm *LockManager) Upgrade(tid int64, resource string, from, to Mode) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.phaseOf(tid) == Shrinking {
		return errs.ErrPhaseViolation
	}

	e, ok := lm.table[resource]
	if !ok {
		return errs.ErrNotFound
	}

	conflictsFor := func() []int64 {
		switch {
		case from == IX && to == X:
			var out []int64
			for t := range e.holdersS {
				out = append(out, t)
			}
			for t := range e.holdersX {
				if t != tid {
					out = append(out, t)
				}
			}
			return out
		case from == IS && to == S:
			var out []int64
			for t := range e.holdersX {
				out = append(out, t)
			}
			return out
		case from == IS && to == IX:
			var out []int64
			for t := range e.holdersX {
				out = append(out, t)
			}
			if e.isCount > 1 {
				// Another IS holder we cannot identify individually;
				// treated as a self-wait that never resolves unless it
				// drains, matched by re-checking the loop condition.
			}
			return out
		case from == S && to == X:
			var out []int64
			for t := range e.holdersX {
				if t != tid {
					out = append(out, t)
				}
			}
			for t := range e.holdersS {
				if t != tid {
					out = append(out, t)
				}
			}
			return out
		}
		return nil
	}

	ready := func() bool {
		switch {
		case from == IX && to == X:
			return len(e.holdersS) == 0 && lenExcluding(e.holdersX, tid) == 0 && e.isCount == 0
		case from == IS && to == S:
			return len(e.holdersX) == 0
		case from == IS && to == IX:
			return len(e.holdersX) == 0 && e.isCount <= 1
		case from == S && to == X:
			return lenExcluding(e.holdersX, tid) == 0 && lenExcluding(e.holdersS, tid) == 0
		default:
			return false
		}
	}

	for !ready() {
		for _, holder := range conflictsFor() {
			if !lm.graph.addEdge(tid, holder) {
				lm.releaseAllLocked(tid)
				lm.cond.Broadcast()
				return errs.ErrDeadlock
			}
		}
		lm.cond.Wait()
		if lm.phaseOf(tid) == Shrinking {
			return errs.ErrPhaseViolation
		}
	}

	switch {
	case from == IX && to == X:
		e.ixCount--
		e.holdersX[tid] = struct{}{}
	case from == IS && to == S:
		e.isCount--
		e.holdersS[tid] = struct{}{}
	case from == IS && to == IX:
		e.isCount--
		e.ixCount++
	case from == S && to == X:
		delete(e.holdersS, tid)
		e.holdersX[tid] = struct{}{}
	}
	lm.replaceHeldLocked(tid, resource, from, to)

	lm.graph.removeTransaction(tid)
	lm.cond.Broadcast()
	return nil
}

// replaceHeldLocked updates tid's held-lock ledger entry for resource
// from the old mode to the new one after a successful Upgrade, so a
// later ReleaseAll releases the mode actually outstanding.
func (lm *LockManager) replaceHeldLocked(tid int64, resource string, from, to Mode) {
	locks := lm.held[tid]
	for i := len(locks) - 1; i >= 0; i-- {
		if locks[i].resource == resource && locks[i].mode == from {
			locks[i].mode = to
			return
		}
	}
	lm.held[tid] = append(locks, heldLock{resource: resource, mode: to})
}

func lenExcluding(m map[int64]struct{}, tid int64) int {
	n := len(m)
	if _, ok := m[tid]; ok {
		n--
	}
	return n
}

// Release drops one lock mode held by tid on resource, deletes the
// resource entry once empty, and moves tid to the shrinking phase.
func (lm *LockManager) Release(tid int64, resource string, mode Mode) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.releaseLocked(tid, resource, mode)
	lm.forgetHeldLocked(tid, resource, mode)
	lm.phase[tid] = Shrinking
	lm.graph.removeTransaction(tid)
	lm.cond.Broadcast()
}

// forgetHeldLocked removes one (resource, mode) entry from tid's
// held-lock ledger after an explicit Release, so a later ReleaseAll
// does not double-release it.
func (lm *LockManager) forgetHeldLocked(tid int64, resource string, mode Mode) {
	locks := lm.held[tid]
	for i, hl := range locks {
		if hl.resource == resource && hl.mode == mode {
			lm.held[tid] = append(locks[:i], locks[i+1:]...)
			return
		}
	}
}

func (lm *LockManager) releaseLocked(tid int64, resource string, mode Mode) {
	e, ok := lm.table[resource]
	if !ok {
		return
	}
	switch mode {
	case S:
		delete(e.holdersS, tid)
	case X:
		delete(e.holdersX, tid)
	case IS:
		if e.isCount > 0 {
			e.isCount--
		}
	case IX:
		if e.ixCount > 0 {
			e.ixCount--
		}
	}
	if e.empty() {
		delete(lm.table, resource)
	}
}

// ReleaseAll releases every lock tid holds across all resources and
// transitions it to Shrinking; used by commit, abort, and deadlock
// victim handling.
func (lm *LockManager) ReleaseAll(tid int64) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.releaseAllLocked(tid)
	lm.cond.Broadcast()
}

// releaseAllLocked walks tid's held-lock ledger and releases exactly
// the (resource, mode) pairs it actually holds, including IS/IX
// intention counts -- the lock table entries themselves only track
// intention locks as anonymous counters, so the ledger is the only
// place that knows which transaction owns which count.
func (lm *LockManager) releaseAllLocked(tid int64) {
	for _, hl := range lm.held[tid] {
		lm.releaseLocked(tid, hl.resource, hl.mode)
	}
	delete(lm.held, tid)
	lm.phase[tid] = Shrinking
	lm.graph.removeTransaction(tid)
}
