package bufferpool

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/araiyan/lstore/internal/errs"
)

func TestWriteReadRoundTrip(t *testing.T) {
	bp := New(t.TempDir(), 8, 16)

	slot, err := bp.AppendSlot(0, 0, 0, 7)
	require.NoError(t, err)
	require.Equal(t, 0, slot)

	v, err := bp.ReadSlot(0, 0, 0, slot)
	require.NoError(t, err)
	require.Equal(t, int32(7), v)
}

func TestFlushAllPersistsAcrossPools(t *testing.T) {
	dir := t.TempDir()
	bp := New(dir, 8, 16)

	_, err := bp.AppendSlot(1, 2, 0, 123)
	require.NoError(t, err)
	require.NoError(t, bp.FlushAll())

	bp2 := New(dir, 8, 16)
	v, err := bp2.ReadSlot(1, 2, 0, 0)
	require.NoError(t, err)
	require.Equal(t, int32(123), v)
}

func TestNoFrameAvailableWhenAllPinned(t *testing.T) {
	bp := New(t.TempDir(), 4, 2)

	f1, err := bp.GetOrLoad(0, 0, 0)
	require.NoError(t, err)
	f2, err := bp.GetOrLoad(0, 0, 1)
	require.NoError(t, err)

	_, err = bp.GetOrLoad(0, 0, 2)
	require.ErrorIs(t, err, errs.ErrNoFrameAvailable)

	bp.Unpin(f1)
	bp.Unpin(f2)
}

func TestUnpinMakesFrameEvictable(t *testing.T) {
	bp := New(t.TempDir(), 4, 1)

	f1, err := bp.GetOrLoad(0, 0, 0)
	require.NoError(t, err)
	bp.Unpin(f1)

	// Capacity is 1: loading a second page must evict the first.
	_, err = bp.GetOrLoad(0, 0, 1)
	require.NoError(t, err)
}

func TestStatsTracksHitsAndMisses(t *testing.T) {
	bp := New(t.TempDir(), 4, 16)

	f, err := bp.GetOrLoad(0, 0, 0)
	require.NoError(t, err)
	bp.Unpin(f)

	f, err = bp.GetOrLoad(0, 0, 0)
	require.NoError(t, err)
	bp.Unpin(f)

	stats := bp.Stats()
	require.Equal(t, 1, stats.ResidentPages)
	require.Greater(t, stats.HitRatio, 0.0)
}
