// Package index implements the primary and optional secondary
// indices from spec §4.4: ordered maps from a column value to the set
// of RIDs holding that value.
//
// No ordered-map/B-tree third-party library appears anywhere in the
// retrieved corpus (see DESIGN.md), so each column index is a small
// in-package sorted-slice-backed ordered map rather than an imported
// B-tree: the corpus gives no third-party grounding for this concern,
// so it is implemented on the standard library as spec §9's "Index"
// design note allows ("indices are usually B-Trees, but other data
// structures can be used as well").
package index

import (
	"sort"
	"sync"

	"github.com/araiyan/lstore/internal/errs"
)

// columnIndex is an ordered map value(int32) -> set<rid>.
type columnIndex struct {
	mu     sync.RWMutex
	keys   []int32           // sorted
	values map[int32]map[int64]struct{}
}

func newColumnIndex() *columnIndex {
	return &columnIndex{values: make(map[int32]map[int64]struct{})}
}

func (ci *columnIndex) insert(value int32, rid int64) {
	ci.mu.Lock()
	defer ci.mu.Unlock()

	set, ok := ci.values[value]
	if !ok {
		set = make(map[int64]struct{})
		ci.values[value] = set
		i := sort.Search(len(ci.keys), func(i int) bool { return ci.keys[i] >= value })
		ci.keys = append(ci.keys, 0)
		copy(ci.keys[i+1:], ci.keys[i:])
		ci.keys[i] = value
	}
	set[rid] = struct{}{}
}

func (ci *columnIndex) remove(value int32, rid int64) {
	ci.mu.Lock()
	defer ci.mu.Unlock()

	set, ok := ci.values[value]
	if !ok {
		return
	}
	delete(set, rid)
	if len(set) == 0 {
		delete(ci.values, value)
		i := sort.Search(len(ci.keys), func(i int) bool { return ci.keys[i] >= value })
		if i < len(ci.keys) && ci.keys[i] == value {
			ci.keys = append(ci.keys[:i], ci.keys[i+1:]...)
		}
	}
}

func (ci *columnIndex) locate(value int32) []int64 {
	ci.mu.RLock()
	defer ci.mu.RUnlock()

	set, ok := ci.values[value]
	if !ok || len(set) == 0 {
		return nil
	}
	out := make([]int64, 0, len(set))
	for rid := range set {
		out = append(out, rid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (ci *columnIndex) all() []int64 {
	ci.mu.RLock()
	defer ci.mu.RUnlock()

	var out []int64
	for _, k := range ci.keys {
		for rid := range ci.values[k] {
			out = append(out, rid)
		}
	}
	return out
}

func (ci *columnIndex) locateRange(lo, hi int32) []int64 {
	ci.mu.RLock()
	defer ci.mu.RUnlock()

	start := sort.Search(len(ci.keys), func(i int) bool { return ci.keys[i] >= lo })
	var out []int64
	for i := start; i < len(ci.keys) && ci.keys[i] <= hi; i++ {
		for rid := range ci.values[ci.keys[i]] {
			out = append(out, rid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Index holds one columnIndex per indexed column of a table.
type Index struct {
	mu      sync.RWMutex
	columns []*columnIndex // nil entry = not indexed
	key     int
}

// New creates an index with the primary-key column indexed by default
// (spec §3: "the primary-key column is always indexed").
func New(numColumns, key int) *Index {
	idx := &Index{columns: make([]*columnIndex, numColumns), key: key}
	idx.columns[key] = newColumnIndex()
	return idx
}

// Locate resolves open question (a) from spec §9: a lookup on the
// primary-key column always walks the primary index directly, never
// a secondary copy, because spec §3 names the primary index as the
// sole ground truth for record existence.
func (idx *Index) Locate(column int, value int32) ([]int64, bool) {
	idx.mu.RLock()
	ci := idx.columns[column]
	idx.mu.RUnlock()
	if ci == nil {
		return nil, false
	}
	rids := ci.locate(value)
	return rids, len(rids) > 0
}

// LocateRange returns every RID whose value in column is within [lo, hi].
func (idx *Index) LocateRange(column int, lo, hi int32) []int64 {
	idx.mu.RLock()
	ci := idx.columns[column]
	idx.mu.RUnlock()
	if ci == nil {
		return nil
	}
	return ci.locateRange(lo, hi)
}

// AllRIDs returns every RID currently indexed under column, used by
// CreateIndex to enumerate live base RIDs via the primary index.
func (idx *Index) AllRIDs(column int) []int64 {
	idx.mu.RLock()
	ci := idx.columns[column]
	idx.mu.RUnlock()
	if ci == nil {
		return nil
	}
	return ci.all()
}

// InsertAll inserts rid into every existing index, rejecting a
// duplicate primary key.
func (idx *Index) InsertAll(columns []int32, rid int64) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if rids := idx.columns[idx.key].locate(columns[idx.key]); len(rids) > 0 {
		return errs.ErrDuplicateKey
	}

	for col, ci := range idx.columns {
		if ci != nil {
			ci.insert(columns[col], rid)
		}
	}
	return nil
}

// UpdateAll relocates the primary-key entry if it changed, and for
// every other indexed column whose value differs, moves the
// (value -> rid) entry (spec §4.4).
func (idx *Index) UpdateAll(rid int64, prev, next []int32) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	for col, ci := range idx.columns {
		if ci == nil || prev[col] == next[col] {
			continue
		}
		ci.remove(prev[col], rid)
		ci.insert(next[col], rid)
	}
	return nil
}

// DeleteAll removes rid's entry from every indexed column.
func (idx *Index) DeleteAll(rid int64, values []int32) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	for col, ci := range idx.columns {
		if ci != nil {
			ci.remove(values[col], rid)
		}
	}
}

// CreateIndex builds a new secondary index by scanning every live
// base RID via scan, resolving each one's current value for column
// through resolve (the tail-chain walk in §4.7).
func (idx *Index) CreateIndex(column int, scan func() []int64, resolve func(rid int64, column int) (int32, error)) error {
	idx.mu.Lock()
	if column < 0 || column >= len(idx.columns) {
		idx.mu.Unlock()
		return errs.ErrInvalidProjection
	}
	if idx.columns[column] != nil {
		idx.mu.Unlock()
		return errs.ErrDuplicateKey
	}
	ci := newColumnIndex()
	idx.columns[column] = ci
	idx.mu.Unlock()

	for _, rid := range scan() {
		value, err := resolve(rid, column)
		if err != nil {
			return err
		}
		ci.insert(value, rid)
	}
	return nil
}

// DropIndex clears and releases a secondary index. The primary-key
// column can never be dropped.
func (idx *Index) DropIndex(column int) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if column == idx.key {
		return errs.ErrInvalidProjection
	}
	if column < 0 || column >= len(idx.columns) || idx.columns[column] == nil {
		return errs.ErrNotFound
	}
	idx.columns[column] = nil
	return nil
}
