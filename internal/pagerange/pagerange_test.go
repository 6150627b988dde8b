package pagerange

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/araiyan/lstore/config"
	"github.com/araiyan/lstore/internal/bufferpool"
)

func testConfig() config.Config {
	return config.Config{PageSize: 4, PagesPerRange: 2, MaxFramesPerColumn: 8, MergeTrigger: 4}
}

func newRange(t *testing.T) (*PageRange, config.Config) {
	cfg := testConfig()
	pool := bufferpool.New(t.TempDir(), cfg.PageSize, cfg.MaxFramesPerColumn*(3+config.NumHiddenColumns))
	pr := New(0, 3, cfg, pool)
	return pr, cfg
}

func hiddenPlusUser(hidden []int32, user []int32) []int32 {
	out := append([]int32{}, hidden...)
	return append(out, user...)
}

func TestWriteBaseSelfLoopIndirection(t *testing.T) {
	pr, _ := newRange(t)

	cols := hiddenPlusUser([]int32{0, 0, 1, config.NoneValue, 0}, []int32{10, 20, 30})
	require.NoError(t, pr.WriteBase(0, cols))

	base, err := pr.CopyBase(0)
	require.NoError(t, err)
	require.Equal(t, int32(0), base[config.Indirection])
	require.Equal(t, int32(10), base[config.NumHiddenColumns+0])
}

func TestWriteTailAndLocate(t *testing.T) {
	pr, cfg := newRange(t)

	base := hiddenPlusUser([]int32{0, 0, 1, config.NoneValue, 0}, []int32{10, 20, 30})
	require.NoError(t, pr.WriteBase(0, base))

	logicalRID := pr.AssignLogicalRID()
	require.Equal(t, int64(cfg.MaxRecordsPerRange()), logicalRID)

	tail := make([]int32, 3+config.NumHiddenColumns)
	has := make([]bool, len(tail))
	tail[config.Indirection] = 0
	tail[config.RID] = int32(logicalRID)
	tail[config.Timestamp] = 2
	tail[config.SchemaEncoding] = 1 << 1 // column 1 updated
	tail[config.NumHiddenColumns+1] = 99
	for _, c := range []int{config.Indirection, config.RID, config.Timestamp, config.SchemaEncoding, config.NumHiddenColumns + 1} {
		has[c] = true
	}

	require.NoError(t, pr.WriteTail(logicalRID, tail, has))

	v, ok, err := pr.ReadTailColumn(logicalRID, config.NumHiddenColumns+1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int32(99), v)

	last, err := pr.FindLastLogicalRID(logicalRID)
	require.NoError(t, err)
	require.Equal(t, logicalRID, last)
}

func TestFreeAndReuseLogicalRID(t *testing.T) {
	pr, _ := newRange(t)

	r1 := pr.AssignLogicalRID()
	pr.FreeLogicalRID(r1)
	r2 := pr.AssignLogicalRID()
	require.Equal(t, r1, r2)
}
