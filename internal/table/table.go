// Package table implements the Table component from spec §4.5: base
// RID allocation, lazy page-range creation, base insert and tail
// apply, and the merge/delete background workers a table owns for its
// whole lifetime.
package table

import (
	"sync"

	"github.com/araiyan/lstore/config"
	"github.com/araiyan/lstore/internal/bufferpool"
	"github.com/araiyan/lstore/internal/index"
	"github.com/araiyan/lstore/internal/pagerange"
	"github.com/araiyan/lstore/logger"
)

// State is the persisted slice of a Table's allocator/range state, so
// a catalog can reconstruct it across open/close (spec §8 round-trip
// property).
type State struct {
	NextRID      int64
	FreeBaseRIDs []int64
	NumRanges    int
}

// Table owns one buffer pool, the primary+secondary index set, and
// the background merge/delete workers for a single table's data.
type Table struct {
	name       string
	numColumns int
	key        int
	cfg        config.Config
	dir        string

	pool *bufferpool.BufferPool
	idx  *index.Index

	mu           sync.Mutex
	ranges       []*pagerange.PageRange
	nextRID      int64
	freeBaseRIDs []int64

	mergeCh  chan mergeRequest
	deleteCh chan int64
	closeCh  chan struct{}
	wg       sync.WaitGroup
}

// New creates an empty table rooted at dir.
func New(name string, numColumns, key int, dir string, cfg config.Config) *Table {
	return Open(name, numColumns, key, dir, cfg, State{})
}

// Open reconstructs a table from persisted catalog state (used when a
// Database loads tables.json).
func Open(name string, numColumns, key int, dir string, cfg config.Config, state State) *Table {
	capacity := cfg.MaxFramesPerColumn * (numColumns + config.NumHiddenColumns)
	pool := bufferpool.New(dir, cfg.PageSize, capacity)

	t := &Table{
		name:         name,
		numColumns:   numColumns,
		key:          key,
		cfg:          cfg,
		dir:          dir,
		pool:         pool,
		idx:          index.New(numColumns+config.NumHiddenColumns, config.NumHiddenColumns+key),
		nextRID:      state.NextRID,
		freeBaseRIDs: append([]int64{}, state.FreeBaseRIDs...),
		mergeCh:      make(chan mergeRequest, 256),
		deleteCh:     make(chan int64, 256),
		closeCh:      make(chan struct{}),
	}
	for i := 0; i < state.NumRanges; i++ {
		t.ranges = append(t.ranges, pagerange.New(i, numColumns, cfg, pool))
	}

	// The index is not part of State: rebuild it from the base records,
	// skipping slots the delete worker has invalidated.
	for rid := int64(0); rid < t.nextRID; rid++ {
		prg, local := t.RangeFor(rid)
		base, err := prg.CopyBase(local)
		if err != nil {
			logger.Errorf("table %s: reading base rid %d while rebuilding index: %v", name, rid, err)
			continue
		}
		if base[config.RID] == config.DeletionFlag {
			continue
		}
		t.idx.InsertAll(base, rid)
	}

	t.wg.Add(2)
	go t.mergeWorker()
	go t.deleteWorker()
	return t
}

func (t *Table) Name() string                 { return t.name }
func (t *Table) NumColumns() int              { return t.numColumns }
func (t *Table) TotalColumns() int            { return t.numColumns + config.NumHiddenColumns }
func (t *Table) Key() int                     { return config.NumHiddenColumns + t.key }
func (t *Table) Config() config.Config        { return t.cfg }
func (t *Table) Index() *index.Index          { return t.idx }
func (t *Table) Pool() *bufferpool.BufferPool { return t.pool }

// State snapshots the allocator/range bookkeeping a catalog needs to
// reconstruct this table after close/open.
func (t *Table) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return State{
		NextRID:      t.nextRID,
		FreeBaseRIDs: append([]int64{}, t.freeBaseRIDs...),
		NumRanges:    len(t.ranges),
	}
}

func (t *Table) rangeIndexAndLocal(rid int64) (int, int64) {
	max := int64(t.cfg.MaxRecordsPerRange())
	return int(rid / max), rid % max
}

// allocateRID returns the free-base-RID queue's top entry if non-empty,
// else the monotonic next_rid (spec §4.5).
func (t *Table) allocateRID() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := len(t.freeBaseRIDs); n > 0 {
		rid := t.freeBaseRIDs[n-1]
		t.freeBaseRIDs = t.freeBaseRIDs[:n-1]
		return rid
	}
	rid := t.nextRID
	t.nextRID++
	return rid
}

// rangeFor lazily creates any page ranges up to and including idx.
func (t *Table) rangeFor(idx int) *pagerange.PageRange {
	t.mu.Lock()
	defer t.mu.Unlock()
	for len(t.ranges) <= idx {
		t.ranges = append(t.ranges, pagerange.New(len(t.ranges), t.numColumns, t.cfg, t.pool))
	}
	return t.ranges[idx]
}

// allocatedInRange reports how many base RIDs have been handed out in
// page range idx as of now, used to bound a merge request's sweep.
func (t *Table) allocatedInRange(idx int) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	max := int64(t.cfg.MaxRecordsPerRange())
	start := int64(idx) * max
	if t.nextRID <= start {
		return 0
	}
	n := t.nextRID - start
	if n > max {
		n = max
	}
	return n
}

// RangeFor resolves the page range and range-local address for a
// global base RID (spec §4.5 locate_base).
func (t *Table) RangeFor(rid int64) (*pagerange.PageRange, int64) {
	idx, local := t.rangeIndexAndLocal(rid)
	return t.rangeFor(idx), local
}

// Insert allocates a base RID, lazily creates its page range, and
// writes the full hidden+user column array as a base record. cols'
// INDIRECTION slot is overwritten with the self-loop value by
// PageRange.WriteBase; the caller need not set it.
func (t *Table) Insert(cols []int32) (int64, error) {
	rid := t.allocateRID()
	idx, local := t.rangeIndexAndLocal(rid)
	prg := t.rangeFor(idx)

	cols[config.RID] = int32(rid)
	if err := prg.WriteBase(local, cols); err != nil {
		return 0, err
	}
	return rid, nil
}

// ApplyTail stamps TIMESTAMP from the page range's current TPS,
// writes the tail record, and enqueues a merge request when that write
// leaves TPS at a multiple of MERGE_TRIGGER * RECORDS_PER_PAGE (spec
// §4.5). Base inserts also advance TPS but never enqueue a merge.
func (t *Table) ApplyTail(prg *pagerange.PageRange, logicalRID int64, cols []int32, has []bool) error {
	cols[config.Timestamp] = int32(prg.TPS())
	has[config.Timestamp] = true

	if err := prg.WriteTail(logicalRID, cols, has); err != nil {
		return err
	}

	trigger := int64(t.cfg.MergeTrigger) * int64(t.cfg.RecordsPerPage())
	if trigger > 0 && prg.TPS()%trigger == 0 {
		t.enqueueMerge(prg)
	}
	return nil
}

func (t *Table) enqueueMerge(prg *pagerange.PageRange) {
	req := mergeRequest{prg: prg, upTo: t.allocatedInRange(prg.Index())}
	select {
	case t.mergeCh <- req:
	case <-t.closeCh:
	}
}

// EnqueueDelete hands a base RID to the delete worker, which moves it
// to the free-base-RID queue and returns its tail chain's logical
// RIDs to the page range's reuse queue (spec §4.5).
func (t *Table) EnqueueDelete(rid int64) {
	select {
	case t.deleteCh <- rid:
	case <-t.closeCh:
	}
}

func (t *Table) mergeWorker() {
	defer t.wg.Done()
	for {
		select {
		case req, ok := <-t.mergeCh:
			if !ok {
				return
			}
			if err := runMerge(req, t.numColumns); err != nil {
				logger.Errorf("table %s: merge failed for range %d: %v", t.name, req.prg.Index(), err)
				if !req.retried {
					req.retried = true
					select {
					case t.mergeCh <- req:
					default:
					}
				}
			} else {
				logger.Infof("table %s: merged range %d (%d base records)", t.name, req.prg.Index(), req.upTo)
			}
		case <-t.closeCh:
			return
		}
	}
}

func (t *Table) deleteWorker() {
	defer t.wg.Done()
	for {
		select {
		case rid, ok := <-t.deleteCh:
			if !ok {
				return
			}
			if err := t.processDelete(rid); err != nil {
				logger.Errorf("table %s: delete worker failed for rid %d: %v", t.name, rid, err)
			}
		case <-t.closeCh:
			return
		}
	}
}

func (t *Table) processDelete(rid int64) error {
	prg, local := t.RangeFor(rid)

	base, err := prg.CopyBase(local)
	if err != nil {
		return err
	}

	chain, err := prg.CollectTailChain(int64(base[config.Indirection]))
	if err != nil {
		return err
	}
	for _, logicalRID := range chain {
		prg.FreeLogicalRID(logicalRID)
	}

	if err := prg.InvalidateBase(local); err != nil {
		return err
	}

	t.mu.Lock()
	t.freeBaseRIDs = append(t.freeBaseRIDs, rid)
	t.mu.Unlock()
	return nil
}

// Close stops the background workers and flushes every dirty frame.
func (t *Table) Close() error {
	close(t.closeCh)
	t.wg.Wait()
	return t.pool.FlushAll()
}
