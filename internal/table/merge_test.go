package table

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/araiyan/lstore/config"
	"github.com/araiyan/lstore/internal/bufferpool"
	"github.com/araiyan/lstore/internal/pagerange"
)

func newTestRange(t *testing.T) (*pagerange.PageRange, config.Config) {
	cfg := config.Config{PageSize: 4, PagesPerRange: 2, MaxFramesPerColumn: 16, MergeTrigger: 4}
	pool := bufferpool.New(t.TempDir(), cfg.PageSize, cfg.MaxFramesPerColumn*(3+config.NumHiddenColumns))
	return pagerange.New(0, 3, cfg, pool), cfg
}

func TestMergeOneConsolidatesNewestTailValues(t *testing.T) {
	pr, _ := newTestRange(t)
	total := 3 + config.NumHiddenColumns

	base := make([]int32, total)
	base[config.Indirection] = 0 // self-loop
	base[config.RID] = 0
	base[config.Timestamp] = 0
	base[config.UpdateTimestamp] = config.NoneValue
	base[config.SchemaEncoding] = 0
	base[config.NumHiddenColumns+0] = 1
	base[config.NumHiddenColumns+1] = 10
	base[config.NumHiddenColumns+2] = 20
	require.NoError(t, pr.WriteBase(0, append([]int32{}, base...)))

	// Older tail: updates column 1 to 99 at timestamp 1.
	older := pr.AssignLogicalRID()
	olderCols := make([]int32, total)
	olderHas := make([]bool, total)
	olderCols[config.Indirection] = 0
	olderCols[config.RID] = int32(older)
	olderCols[config.Timestamp] = 1
	olderCols[config.SchemaEncoding] = 1 << 1
	olderCols[config.NumHiddenColumns+1] = 99
	for _, c := range []int{config.Indirection, config.RID, config.Timestamp, config.SchemaEncoding, config.NumHiddenColumns + 1} {
		olderHas[c] = true
	}
	require.NoError(t, pr.WriteTail(older, olderCols, olderHas))

	// Newer tail: chains from older, updates column 1 again to 55 at
	// timestamp 2 -- the value the merge must keep.
	newer := pr.AssignLogicalRID()
	newerCols := make([]int32, total)
	newerHas := make([]bool, total)
	newerCols[config.Indirection] = int32(older)
	newerCols[config.RID] = int32(newer)
	newerCols[config.Timestamp] = 2
	newerCols[config.SchemaEncoding] = 1 << 1
	newerCols[config.NumHiddenColumns+1] = 55
	for _, c := range []int{config.Indirection, config.RID, config.Timestamp, config.SchemaEncoding, config.NumHiddenColumns + 1} {
		newerHas[c] = true
	}
	require.NoError(t, pr.WriteTail(newer, newerCols, newerHas))

	// Update the base's INDIRECTION and SCHEMA_ENCODING the way
	// query.update would, pointing at the newest tail.
	withSchema, err := pr.CopyBase(0)
	require.NoError(t, err)
	withSchema[config.Indirection] = int32(newer)
	withSchema[config.SchemaEncoding] = 1 << 1
	require.NoError(t, pr.OverwriteBase(0, withSchema))

	require.NoError(t, mergeOne(pr, 0, total))

	merged, err := pr.CopyBase(0)
	require.NoError(t, err)
	require.Equal(t, int32(55), merged[config.NumHiddenColumns+1])
	require.Equal(t, int32(20), merged[config.NumHiddenColumns+2]) // untouched column survives
	require.NotEqual(t, config.NoneValue, merged[config.UpdateTimestamp])
	require.Equal(t, int32(newer), merged[config.Indirection]) // merge never rewrites INDIRECTION
}

func TestMergeOneIsIdempotentWhenSchemaIsZero(t *testing.T) {
	pr, _ := newTestRange(t)
	total := 3 + config.NumHiddenColumns

	base := make([]int32, total)
	base[config.Indirection] = 0
	base[config.UpdateTimestamp] = config.NoneValue
	base[config.NumHiddenColumns] = 7
	require.NoError(t, pr.WriteBase(0, append([]int32{}, base...)))

	require.NoError(t, mergeOne(pr, 0, total))

	merged, err := pr.CopyBase(0)
	require.NoError(t, err)
	require.Equal(t, int32(7), merged[config.NumHiddenColumns])
	require.NotEqual(t, config.NoneValue, merged[config.UpdateTimestamp])

	// Running merge again is a no-op on the user columns: schema is
	// still 0 so nothing is resolved from the tail chain.
	require.NoError(t, mergeOne(pr, 0, total))
	again, err := pr.CopyBase(0)
	require.NoError(t, err)
	require.Equal(t, int32(7), again[config.NumHiddenColumns])
	require.NotEqual(t, config.NoneValue, again[config.UpdateTimestamp])
}
