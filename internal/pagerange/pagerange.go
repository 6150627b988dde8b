// Package pagerange implements the page-range update chain from
// spec §4.3: base record placement, tail append, the logical
// directory, and the reuse queue for freed logical RIDs.
package pagerange

import (
	"sync"

	"github.com/araiyan/lstore/config"
	"github.com/araiyan/lstore/internal/bufferpool"
)

// PageRange owns the base+tail pages for one contiguous RID range.
type PageRange struct {
	index int
	cfg   config.Config
	pool  *bufferpool.BufferPool

	totalColumns int // H + U

	mu            sync.Mutex
	tailPageIndex []int // per-column current tail page, starts at PagesPerRange
	tps           int64 // tail page sequence

	dirMu           sync.Mutex
	logicalDir      map[int64][]int64 // logical_rid -> physical slot per user column
	nextLogicalRID  int64
	freeLogicalRIDs []int64
}

// New creates a page range at the given index (rid / MaxRecordsPerRange).
func New(index int, numUserColumns int, cfg config.Config, pool *bufferpool.BufferPool) *PageRange {
	total := numUserColumns + config.NumHiddenColumns
	tailStart := make([]int, total)
	for i := range tailStart {
		tailStart[i] = cfg.PagesPerRange
	}
	return &PageRange{
		index:          index,
		cfg:            cfg,
		pool:           pool,
		totalColumns:   total,
		tailPageIndex:  tailStart,
		logicalDir:     make(map[int64][]int64),
		nextLogicalRID: int64(cfg.MaxRecordsPerRange()),
	}
}

// Index returns this range's position in the table's range list.
func (pr *PageRange) Index() int { return pr.index }

// TPS returns the tail page sequence counter.
func (pr *PageRange) TPS() int64 {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.tps
}

func (pr *PageRange) bumpTPS() int64 {
	pr.mu.Lock()
	pr.tps++
	v := pr.tps
	pr.mu.Unlock()
	return v
}

// baseLocation returns (page_in_range, slot) for a base RID local to
// this range (rid already reduced mod MaxRecordsPerRange).
func (pr *PageRange) baseLocation(localRID int64) (int, int) {
	rpp := int64(pr.cfg.RecordsPerPage())
	return int(localRID / rpp), int(localRID % rpp)
}

// WriteBase stamps INDIRECTION = localRID (self-loop: no updates) and
// writes every column through the buffer pool (spec §4.3).
func (pr *PageRange) WriteBase(localRID int64, columns []int32) error {
	pageInRange, slot := pr.baseLocation(localRID)
	columns[config.Indirection] = int32(localRID)

	for col, v := range columns {
		if err := pr.pool.WriteSlot(pr.index, col, pageInRange, slot, v); err != nil {
			return err
		}
	}
	pr.bumpTPS()
	return nil
}

// CopyBase reads every column of a base record, used by the merge
// worker to snapshot before consolidating.
func (pr *PageRange) CopyBase(localRID int64) ([]int32, error) {
	pageInRange, slot := pr.baseLocation(localRID)
	out := make([]int32, pr.totalColumns)
	for col := range out {
		v, err := pr.pool.ReadSlot(pr.index, col, pageInRange, slot)
		if err != nil {
			return nil, err
		}
		out[col] = v
	}
	return out, nil
}

// AssignLogicalRID returns a logical RID to use for a new tail
// record, reusing a freed one if the range has any.
func (pr *PageRange) AssignLogicalRID() int64 {
	pr.dirMu.Lock()
	defer pr.dirMu.Unlock()

	if n := len(pr.freeLogicalRIDs); n > 0 {
		rid := pr.freeLogicalRIDs[n-1]
		pr.freeLogicalRIDs = pr.freeLogicalRIDs[:n-1]
		return rid
	}
	rid := pr.nextLogicalRID
	pr.nextLogicalRID++
	return rid
}

// FreeLogicalRID returns a logical RID to the reuse queue once its
// tail record has been reclaimed by the delete worker.
func (pr *PageRange) FreeLogicalRID(rid int64) {
	pr.dirMu.Lock()
	pr.freeLogicalRIDs = append(pr.freeLogicalRIDs, rid)
	delete(pr.logicalDir, rid)
	pr.dirMu.Unlock()
}

// WriteTail appends a tail record. columns has length totalColumns;
// a nil entry means "not updated in this tail" and is not written
// (spec §4.3) -- represented here with the hasValue mask.
func (pr *PageRange) WriteTail(logicalRID int64, columns []int32, hasValue []bool) error {
	numUser := pr.totalColumns - config.NumHiddenColumns
	slots := make([]int64, numUser)
	for i := range slots {
		slots[i] = -1
	}

	for col := 0; col < pr.totalColumns; col++ {
		if !hasValue[col] {
			continue
		}

		pr.mu.Lock()
		tailPage := pr.tailPageIndex[col]
		has, err := pr.pool.HasCapacity(pr.index, col, tailPage)
		if err != nil {
			pr.mu.Unlock()
			return err
		}
		if !has {
			tailPage++
			pr.tailPageIndex[col] = tailPage
		}
		pr.mu.Unlock()

		slot, err := pr.pool.AppendSlot(pr.index, col, tailPage, columns[col])
		if err != nil {
			return err
		}

		if col >= config.NumHiddenColumns {
			rpp := pr.cfg.RecordsPerPage()
			slots[col-config.NumHiddenColumns] = int64(tailPage*rpp + slot)
		}
	}

	pr.dirMu.Lock()
	pr.logicalDir[logicalRID] = slots
	pr.dirMu.Unlock()

	pr.bumpTPS()
	return nil
}

// GetColumnLocation resolves (page_in_range, slot) for a logical RID
// and column. Hidden columns live at implicit positions; user columns
// go through the logical directory.
func (pr *PageRange) GetColumnLocation(logicalRID int64, column int) (int, int, bool) {
	rpp := int64(pr.cfg.RecordsPerPage())
	if column < config.NumHiddenColumns {
		return int(logicalRID / rpp), int(logicalRID % rpp), true
	}

	pr.dirMu.Lock()
	slots, ok := pr.logicalDir[logicalRID]
	pr.dirMu.Unlock()
	if !ok {
		return 0, 0, false
	}
	physical := slots[column-config.NumHiddenColumns]
	if physical < 0 {
		return 0, 0, false
	}
	return int(physical / rpp), int(physical % rpp), true
}

// ReadTailColumn reads one column of a logical (tail) record.
func (pr *PageRange) ReadTailColumn(logicalRID int64, column int) (int32, bool, error) {
	pageInRange, slot, ok := pr.GetColumnLocation(logicalRID, column)
	if !ok {
		return 0, false, nil
	}
	v, err := pr.pool.ReadSlot(pr.index, column, pageInRange, slot)
	return v, true, err
}

// FindLastLogicalRID follows INDIRECTION from start until it loops
// back to a base RID, returning the last logical RID seen (spec §4.3).
func (pr *PageRange) FindLastLogicalRID(start int64) (int64, error) {
	maxBase := int64(pr.cfg.MaxRecordsPerRange())
	last := start
	current := start

	for current >= maxBase {
		last = current
		next, ok, err := pr.ReadTailColumn(current, config.Indirection)
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		current = int64(next)
	}
	return last, nil
}

// MaxBase returns the number of base-addressable local RIDs in this
// range (PAGES_PER_RANGE * RECORDS_PER_PAGE); any INDIRECTION value
// at or above it names a tail (logical) record rather than a base one.
func (pr *PageRange) MaxBase() int64 {
	return int64(pr.cfg.MaxRecordsPerRange())
}

// CollectTailChain walks INDIRECTION starting at start, returning
// every logical RID visited until it reaches a base address. Used by
// the delete worker to return a deleted record's tail records to the
// logical-RID reuse queue (spec §4.5).
func (pr *PageRange) CollectTailChain(start int64) ([]int64, error) {
	maxBase := pr.MaxBase()
	var out []int64
	current := start
	for current >= maxBase {
		out = append(out, current)
		next, ok, err := pr.ReadTailColumn(current, config.Indirection)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		current = int64(next)
	}
	return out, nil
}

// OverwriteBase rewrites every column of a base record in place
// without touching INDIRECTION (the merge worker supplies the current
// pointer value itself; unlike WriteBase this never re-stamps the
// self-loop).
func (pr *PageRange) OverwriteBase(localRID int64, columns []int32) error {
	pageInRange, slot := pr.baseLocation(localRID)
	for col, v := range columns {
		if err := pr.pool.WriteSlot(pr.index, col, pageInRange, slot, v); err != nil {
			return err
		}
	}
	return nil
}

// InvalidateBase marks a base slot as deleted by writing the deletion
// sentinel into its RID hidden column, leaving INDIRECTION untouched
// so any tail chain walk in flight still terminates correctly.
func (pr *PageRange) InvalidateBase(localRID int64) error {
	pageInRange, slot := pr.baseLocation(localRID)
	return pr.pool.WriteSlot(pr.index, config.RID, pageInRange, slot, config.DeletionFlag)
}
