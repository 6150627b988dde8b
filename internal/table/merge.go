package table

import (
	"time"

	"github.com/araiyan/lstore/config"
	"github.com/araiyan/lstore/internal/pagerange"
)

// mergeRequest names a page range and how many base RIDs existed in
// it when the request was enqueued (spec §4.9: "iterates every base
// RID in range"). retried marks a request that already failed once,
// so a merge failure is re-enqueued at most once (spec §7).
type mergeRequest struct {
	prg     *pagerange.PageRange
	upTo    int64
	retried bool
}

// runMerge consolidates every base record in req.prg's already-
// allocated range, per spec §4.9.
func runMerge(req mergeRequest, numUserColumns int) error {
	total := numUserColumns + config.NumHiddenColumns
	for local := int64(0); local < req.upTo; local++ {
		if err := mergeOne(req.prg, local, total); err != nil {
			return err
		}
	}
	return nil
}

// mergeOne consolidates one base record: it snapshots the base
// columns, walks the tail chain collecting the newest value for each
// column still marked dirty in the base SCHEMA_ENCODING, and
// overwrites the base columns in place.
func mergeOne(pr *pagerange.PageRange, local int64, total int) error {
	base, err := pr.CopyBase(local)
	if err != nil {
		return err
	}

	baseUpdateTS := base[config.UpdateTimestamp]
	if baseUpdateTS == config.NoneValue {
		if err := snapshotBaseToTail(pr, base, total); err != nil {
			return err
		}
		baseUpdateTS = 0
	}

	resolved := make(map[int]int32)
	remaining := base[config.SchemaEncoding]
	maxBase := pr.MaxBase()
	current := int64(base[config.Indirection])

	for remaining != 0 && current >= maxBase {
		ts, ok, err := pr.ReadTailColumn(current, config.Timestamp)
		if err != nil {
			return err
		}
		if !ok || ts <= baseUpdateTS {
			break
		}

		tailSchema, ok, err := pr.ReadTailColumn(current, config.SchemaEncoding)
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		for bit := 0; bit < total-config.NumHiddenColumns; bit++ {
			mask := int32(1) << uint(bit)
			if remaining&mask == 0 || tailSchema&mask == 0 {
				continue
			}
			v, ok, err := pr.ReadTailColumn(current, config.NumHiddenColumns+bit)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			resolved[bit] = v
			remaining &^= mask
		}

		next, ok, err := pr.ReadTailColumn(current, config.Indirection)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		current = int64(next)
	}

	for bit, v := range resolved {
		base[config.NumHiddenColumns+bit] = v
	}
	base[config.UpdateTimestamp] = int32(time.Now().Unix())
	return pr.OverwriteBase(local, base)
}

// snapshotBaseToTail appends a copy of the current base record to the
// tail region the first time a base record is merged, so a crash
// between this step and the final base overwrite leaves the merge
// idempotent on restart (spec §4.9 step 2).
func snapshotBaseToTail(pr *pagerange.PageRange, base []int32, total int) error {
	logicalRID := pr.AssignLogicalRID()
	snap := append([]int32{}, base...)
	snap[config.RID] = int32(logicalRID)

	has := make([]bool, total)
	for i := range has {
		has[i] = true
	}
	return pr.WriteTail(logicalRID, snap, has)
}
