package table

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/araiyan/lstore/config"
)

func testConfig() config.Config {
	return config.Config{PageSize: 4, PagesPerRange: 2, MaxFramesPerColumn: 16, MergeTrigger: 2}
}

func baseCols(total int, values ...int32) []int32 {
	cols := make([]int32, total)
	cols[config.UpdateTimestamp] = config.NoneValue
	for i, v := range values {
		cols[config.NumHiddenColumns+i] = v
	}
	return cols
}

func TestInsertWritesBaseAndIndex(t *testing.T) {
	tbl := New("grades", 3, 0, t.TempDir(), testConfig())
	defer tbl.Close()

	cols := baseCols(tbl.TotalColumns(), 1, 10, 20)
	rid, err := tbl.Insert(cols)
	require.NoError(t, err)
	require.NoError(t, tbl.Index().InsertAll(cols, rid))

	prg, local := tbl.RangeFor(rid)
	base, err := prg.CopyBase(local)
	require.NoError(t, err)
	require.Equal(t, int32(1), base[config.NumHiddenColumns])
	require.Equal(t, int32(local), base[config.Indirection])

	rids, ok := tbl.Index().Locate(tbl.Key(), 1)
	require.True(t, ok)
	require.Equal(t, []int64{rid}, rids)
}

func TestInsertAcrossPageRangeBoundary(t *testing.T) {
	cfg := testConfig()
	tbl := New("grades", 3, 0, t.TempDir(), cfg)
	defer tbl.Close()

	max := cfg.MaxRecordsPerRange()
	var lastRID int64
	for i := 0; i < max+1; i++ {
		cols := baseCols(tbl.TotalColumns(), int32(i))
		rid, err := tbl.Insert(cols)
		require.NoError(t, err)
		lastRID = rid
	}
	require.Equal(t, int64(max), lastRID)

	prg, local := tbl.RangeFor(lastRID)
	require.Equal(t, 1, prg.Index())
	require.Equal(t, int64(0), local)
}

func TestApplyTailTriggersMergeAtThreshold(t *testing.T) {
	cfg := testConfig() // MergeTrigger=2, PageSize=4 -> trigger every 8 TPS ticks
	tbl := New("grades", 3, 0, t.TempDir(), cfg)
	defer tbl.Close()

	cols := baseCols(tbl.TotalColumns(), 1, 10, 20)
	rid, err := tbl.Insert(cols)
	require.NoError(t, err)
	prg, _ := tbl.RangeFor(rid)

	trigger := int64(cfg.MergeTrigger) * int64(cfg.RecordsPerPage())
	for i := int64(0); i < trigger; i++ {
		logicalRID := prg.AssignLogicalRID()
		tail := make([]int32, tbl.TotalColumns())
		has := make([]bool, tbl.TotalColumns())
		tail[config.Indirection] = int32(rid % int64(cfg.MaxRecordsPerRange()))
		tail[config.RID] = int32(logicalRID)
		tail[config.SchemaEncoding] = 1
		has[config.Indirection] = true
		has[config.RID] = true
		has[config.SchemaEncoding] = true
		require.NoError(t, tbl.ApplyTail(prg, logicalRID, tail, has))
	}

	// Merge runs asynchronously; give the worker a moment, then check
	// the base record was consolidated (UPDATE_TIMESTAMP no longer
	// the NONE_VALUE sentinel).
	require.Eventually(t, func() bool {
		base, err := prg.CopyBase(rid % int64(cfg.MaxRecordsPerRange()))
		require.NoError(t, err)
		return base[config.UpdateTimestamp] != config.NoneValue
	}, time.Second, 5*time.Millisecond)
}

func TestDeleteWorkerFreesBaseAndLogicalRIDs(t *testing.T) {
	tbl := New("grades", 3, 0, t.TempDir(), testConfig())
	defer tbl.Close()

	cols := baseCols(tbl.TotalColumns(), 1, 10, 20)
	rid, err := tbl.Insert(cols)
	require.NoError(t, err)
	prg, local := tbl.RangeFor(rid)

	logicalRID := prg.AssignLogicalRID()
	tail := make([]int32, tbl.TotalColumns())
	has := make([]bool, tbl.TotalColumns())
	tail[config.Indirection] = int32(local)
	tail[config.RID] = int32(logicalRID)
	has[config.Indirection] = true
	has[config.RID] = true
	require.NoError(t, tbl.ApplyTail(prg, logicalRID, tail, has))
	require.NoError(t, prg.OverwriteBase(local, func() []int32 {
		b, _ := prg.CopyBase(local)
		b[config.Indirection] = int32(logicalRID)
		return b
	}()))

	tbl.EnqueueDelete(rid)

	require.Eventually(t, func() bool {
		base, err := prg.CopyBase(local)
		require.NoError(t, err)
		return base[config.RID] == config.DeletionFlag
	}, time.Second, 5*time.Millisecond)

	reused := tbl.allocateRID()
	require.Equal(t, rid, reused)

	// The tail record's logical RID was returned to the reuse queue.
	require.Equal(t, logicalRID, prg.AssignLogicalRID())
}
