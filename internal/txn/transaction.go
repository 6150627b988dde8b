// Package txn implements the transaction layer from spec §4.8: a
// transaction as a queued list of operations plus a private undo log,
// locked at DB/table/record granularity via lockmgr before any
// operation runs, and unwound by the undo log on abort.
package txn

import (
	"fmt"
	"sync/atomic"

	"github.com/araiyan/lstore/internal/errs"
	"github.com/araiyan/lstore/internal/lockmgr"
	"github.com/araiyan/lstore/internal/query"
)

// Kind names one of the operation types a transaction can queue.
type Kind int

const (
	KindInsert Kind = iota
	KindUpdate
	KindDelete
	KindSelect
	KindSum
)

var nextID int64

// NextID hands out a process-wide unique transaction id.
func NextID() int64 {
	return atomic.AddInt64(&nextID, 1)
}

// step is one queued operation: which query surface it runs against
// and the arguments needed both to run it and to compute its lock
// resource identifier during the pre-scan.
type step struct {
	kind      Kind
	tableName string
	q         *query.Query

	// insert
	insertCols []int32

	// update / delete / select: primary-key or search value.
	pk         int32
	searchCol  int
	newValues  []int32
	has        []bool
	projection []bool

	// sum
	lo, hi int32
	col    int

	// results, filled in by execStep.
	rows    [][]int32
	sum     int64
	matched bool
}

// recordResource names the record- or range-granularity resource this
// step locks, per spec §4.8's "(primary_key, key_column)" /
// "(search_value, search_col)" / "(new_key, key_column)" scheme.
func (s *step) recordResource(db string) string {
	switch s.kind {
	case KindInsert:
		return fmt.Sprintf("%s/%s/rec:%d:%d", db, s.tableName, s.insertCols[s.q.KeyColumn()], s.q.KeyColumn())
	case KindUpdate, KindDelete:
		return fmt.Sprintf("%s/%s/rec:%d:%d", db, s.tableName, s.pk, s.q.KeyColumn())
	case KindSelect:
		return fmt.Sprintf("%s/%s/rec:%d:%d", db, s.tableName, s.pk, s.searchCol)
	case KindSum:
		return fmt.Sprintf("%s/%s/range:%d:%d:%d", db, s.tableName, s.lo, s.hi, s.col)
	}
	return ""
}

func (s *step) isWrite() bool {
	return s.kind == KindInsert || s.kind == KindUpdate || s.kind == KindDelete
}

// undoEntry is one reversible effect recorded after a step commits
// successfully, in the order it happened; abort walks this in reverse.
type undoEntry struct {
	kind Kind
	q    *query.Query
	pk   int32
	// prevColumns is the full user-column row as it stood *before* the
	// step ran. For KindDelete it is what must be re-inserted; for
	// KindUpdate it is what must be restored.
	prevColumns []int32
}

// Transaction batches operations against one or more tables, resolved
// to a single Run() that either commits every operation or leaves no
// visible trace of any of them (spec §4.8).
type Transaction struct {
	id    int64
	db    string
	lm    *lockmgr.LockManager
	dbDir string // "" disables undo-log persistence, used by unit tests

	steps []step
	undo  []undoEntry
}

// New creates a transaction scoped to dbName, locking through lm. dbDir
// is the database's root directory used to persist this transaction's
// undo log segment; pass "" to skip persistence.
func New(id int64, dbName string, lm *lockmgr.LockManager, dbDir string) *Transaction {
	return &Transaction{id: id, db: dbName, lm: lm, dbDir: dbDir}
}

// AddInsert queues an insert of cols (user columns only) against tbl.
func (tx *Transaction) AddInsert(tableName string, q *query.Query, cols []int32) {
	tx.steps = append(tx.steps, step{kind: KindInsert, tableName: tableName, q: q, insertCols: cols})
}

// AddUpdate queues an update of pk's columns marked in has to newValues.
func (tx *Transaction) AddUpdate(tableName string, q *query.Query, pk int32, newValues []int32, has []bool) {
	tx.steps = append(tx.steps, step{kind: KindUpdate, tableName: tableName, q: q, pk: pk, newValues: newValues, has: has})
}

// AddDelete queues a delete of pk.
func (tx *Transaction) AddDelete(tableName string, q *query.Query, pk int32) {
	tx.steps = append(tx.steps, step{kind: KindDelete, tableName: tableName, q: q, pk: pk})
}

// AddSelect queues a read of searchValue in searchCol, projected by projection.
func (tx *Transaction) AddSelect(tableName string, q *query.Query, searchValue int32, searchCol int, projection []bool) int {
	tx.steps = append(tx.steps, step{kind: KindSelect, tableName: tableName, q: q, pk: searchValue, searchCol: searchCol, projection: projection})
	return len(tx.steps) - 1
}

// AddSum queues an aggregate sum of col over primary keys in [lo, hi].
func (tx *Transaction) AddSum(tableName string, q *query.Query, lo, hi int32, col int) int {
	tx.steps = append(tx.steps, step{kind: KindSum, tableName: tableName, q: q, lo: lo, hi: hi, col: col})
	return len(tx.steps) - 1
}

// SelectResult returns the rows a queued select at stepIndex produced
// after Run(). Valid only after a committed Run().
func (tx *Transaction) SelectResult(stepIndex int) [][]int32 {
	return tx.steps[stepIndex].rows
}

// SumResult returns the sum and found-flag a queued sum at stepIndex
// produced after Run(). Valid only after a committed Run().
func (tx *Transaction) SumResult(stepIndex int) (int64, bool) {
	return tx.steps[stepIndex].sum, tx.steps[stepIndex].matched
}

// errStepFailed marks a business-level failure (duplicate key, missing
// row) distinct from an infrastructure error -- both abort the whole
// transaction, but only the latter is worth logging as unexpected.
var errStepFailed = fmt.Errorf("operation failed its business-level check")

// Run pre-scans every queued step to compute the strongest lock mode
// each resource needs, acquires DB -> table -> record/range locks in
// that order, then executes every step in sequence. Any lock failure
// or business-level step failure aborts the whole transaction via its
// undo log and releases every lock; Run reports whether the
// transaction committed (spec §4.8).
func (tx *Transaction) Run() bool {
	dbMode, tableModes, recordModes := tx.planLocks()

	if err := tx.lm.Acquire(tx.id, dbResource(tx.db), dbMode); err != nil {
		tx.lm.ReleaseAll(tx.id)
		return false
	}
	for _, tm := range tableModes {
		if err := tx.lm.Acquire(tx.id, tableResource(tx.db, tm.name), tm.mode); err != nil {
			tx.lm.ReleaseAll(tx.id)
			return false
		}
	}
	for _, rm := range recordModes {
		if err := tx.lm.Acquire(tx.id, rm.resource, rm.mode); err != nil {
			tx.lm.ReleaseAll(tx.id)
			return false
		}
	}

	for i := range tx.steps {
		if err := tx.execStep(&tx.steps[i]); err != nil {
			tx.abort()
			return false
		}
	}

	tx.commit()
	return true
}

// namedMode is one (name, mode) pair kept in first-seen order so lock
// acquisition order matches queued step order -- this is what gives
// two transactions touching the same resources in opposite orders a
// genuine, reproducible AB-BA deadlock instead of a random one.
type namedMode struct {
	name, resource string
	mode           lockmgr.Mode
}

// planLocks computes, per resource, the strongest mode any queued step
// needs (spec §4.8: "pre-scans its queries to compute, per resource,
// the strongest mode it will need"), preserving the order resources
// were first touched. DB/table resources only ever see IS/IX; record
// resources see S/X; range resources (sums) only ever see S since no
// queued operation writes a whole range at once.
func (tx *Transaction) planLocks() (lockmgr.Mode, []namedMode, []namedMode) {
	dbMode := lockmgr.IS
	var tableModes []namedMode
	tableIdx := make(map[string]int)
	var recordModes []namedMode
	recordIdx := make(map[string]int)

	for i := range tx.steps {
		s := &tx.steps[i]
		write := s.isWrite()

		if write {
			dbMode = lockmgr.IX
		}

		if idx, ok := tableIdx[s.tableName]; ok {
			if write {
				tableModes[idx].mode = lockmgr.IX
			}
		} else {
			mode := lockmgr.IS
			if write {
				mode = lockmgr.IX
			}
			tableIdx[s.tableName] = len(tableModes)
			tableModes = append(tableModes, namedMode{name: s.tableName, mode: mode})
		}

		want := lockmgr.S
		if write {
			want = lockmgr.X
		}
		resource := s.recordResource(tx.db)
		if idx, ok := recordIdx[resource]; ok {
			if want == lockmgr.X {
				recordModes[idx].mode = lockmgr.X
			}
		} else {
			recordIdx[resource] = len(recordModes)
			recordModes = append(recordModes, namedMode{resource: resource, mode: want})
		}
	}
	return dbMode, tableModes, recordModes
}

func dbResource(db string) string { return "db:" + db }

func tableResource(db, table string) string { return "db:" + db + "/table:" + table }

// execStep runs one queued operation, records an undo entry for any
// state it changed, and stores its result for Select/Sum steps.
func (tx *Transaction) execStep(s *step) error {
	switch s.kind {
	case KindInsert:
		_, ok, err := s.q.Insert(s.insertCols)
		if err != nil {
			return errs.Trace(err)
		}
		if !ok {
			return errStepFailed
		}
		tx.undo = append(tx.undo, undoEntry{kind: KindInsert, q: s.q, pk: s.insertCols[s.q.KeyColumn()]})

	case KindUpdate:
		prev, err := tx.snapshotRow(s.q, s.pk)
		if err != nil {
			return errs.Trace(err)
		}
		if prev == nil {
			return errStepFailed
		}
		ok, err := s.q.Update(s.pk, s.newValues, s.has)
		if err != nil {
			return errs.Trace(err)
		}
		if !ok {
			return errStepFailed
		}
		tx.undo = append(tx.undo, undoEntry{kind: KindUpdate, q: s.q, pk: s.pk, prevColumns: prev})

	case KindDelete:
		prev, err := tx.snapshotRow(s.q, s.pk)
		if err != nil {
			return errs.Trace(err)
		}
		if prev == nil {
			return errStepFailed
		}
		ok, err := s.q.Delete(s.pk)
		if err != nil {
			return errs.Trace(err)
		}
		if !ok {
			return errStepFailed
		}
		tx.undo = append(tx.undo, undoEntry{kind: KindDelete, q: s.q, pk: s.pk, prevColumns: prev})

	case KindSelect:
		rows, err := s.q.Select(s.pk, s.searchCol, s.projection)
		if err != nil {
			return errs.Trace(err)
		}
		s.rows = rows
		s.matched = len(rows) > 0

	case KindSum:
		sum, ok, err := s.q.Sum(s.lo, s.hi, s.col)
		if err != nil {
			return errs.Trace(err)
		}
		s.sum = sum
		s.matched = ok
	}
	return nil
}

// snapshotRow reads every user column of pk's current record, used to
// capture the pre-image an update/delete's undo entry needs. A nil,
// nil result means pk does not exist.
func (tx *Transaction) snapshotRow(q *query.Query, pk int32) ([]int32, error) {
	proj := make([]bool, q.NumUserColumns())
	for i := range proj {
		proj[i] = true
	}
	rows, err := q.Select(pk, q.KeyColumn(), proj)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// commit releases every lock tx holds and persists the (now
// unreachable) undo log for durability bookkeeping only.
func (tx *Transaction) commit() {
	tx.lm.ReleaseAll(tx.id)
	tx.persistLog(true)
}

// abort walks the undo log in reverse, inverting each recorded effect,
// then releases every lock tx holds (spec §4.8).
func (tx *Transaction) abort() {
	tx.undoAll()
	tx.lm.ReleaseAll(tx.id)
	tx.persistLog(false)
}

func (tx *Transaction) undoAll() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		e := tx.undo[i]
		switch e.kind {
		case KindInsert:
			// Re-delete the row this transaction inserted. No other
			// transaction can have touched it: this transaction holds
			// an exclusive record lock on it for its entire lifetime.
			e.q.Delete(e.pk)
		case KindDelete:
			// Re-insert the deleted row's column values. The row may
			// land at a different physical RID than before the delete
			// (spec §4.5's delete worker reclaims RIDs asynchronously),
			// which is invisible to every key-based query in this
			// engine.
			e.q.Insert(e.prevColumns)
		case KindUpdate:
			has := make([]bool, len(e.prevColumns))
			for i := range has {
				has[i] = true
			}
			e.q.Update(e.pk, e.prevColumns, has)
		}
	}
}
