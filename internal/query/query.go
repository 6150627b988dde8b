// Package query implements the L-Store query engine from spec §4.7:
// insert, version-aware select/sum, update, delete, and increment,
// all expressed over a Table's page ranges and index.
package query

import (
	"github.com/araiyan/lstore/config"
	"github.com/araiyan/lstore/internal/errs"
	"github.com/araiyan/lstore/internal/pagerange"
	"github.com/araiyan/lstore/internal/table"
)

// Query is a thin operation surface over one table. User-facing
// column indices (search columns, projections, update vectors) are
// always 0-based over the table's user columns; hidden columns never
// appear in a Query caller's arguments.
type Query struct {
	tbl *table.Table
}

// New wraps a table for query operations.
func New(tbl *table.Table) *Query {
	return &Query{tbl: tbl}
}

func (q *Query) userKey() int { return q.tbl.Key() - config.NumHiddenColumns }

// KeyColumn returns the user-relative primary-key column index, the
// same value Insert/Update/Select callers use to name it.
func (q *Query) KeyColumn() int { return q.userKey() }

// NumUserColumns returns the table's user column count (hidden columns
// excluded), used by callers that need to build a full-width projection.
func (q *Query) NumUserColumns() int { return q.tbl.NumColumns() }

// Insert rejects a duplicate primary key (returns false, nil error),
// else allocates a RID, stamps the hidden columns, and indexes the
// new record (spec §4.7). The returned RID is needed by the
// transaction layer's undo log.
func (q *Query) Insert(cols []int32) (int64, bool, error) {
	if len(cols) != q.tbl.NumColumns() {
		return 0, false, errs.ErrInvalidProjection
	}

	keyCol := q.tbl.Key()
	keyValue := cols[q.userKey()]
	if _, ok := q.tbl.Index().Locate(keyCol, keyValue); ok {
		return 0, false, nil
	}

	full := make([]int32, q.tbl.TotalColumns())
	full[config.UpdateTimestamp] = config.NoneValue
	copy(full[config.NumHiddenColumns:], cols)

	rid, err := q.tbl.Insert(full)
	if err != nil {
		return 0, false, err
	}
	full[config.RID] = int32(rid)

	if err := q.tbl.Index().InsertAll(full, rid); err != nil {
		return 0, false, err
	}
	return rid, true, nil
}

// resolveColumn implements the per-column tail-walk from spec §4.7
// step 5: the newest (version=0) or k-th-back (version=-k) tail value
// for col, falling back to the base value when the chain never
// qualifies.
func (q *Query) resolveColumn(prg *pagerange.PageRange, local int64, base []int32, col int, version int) (int32, error) {
	absCol := config.NumHiddenColumns + col

	if int64(base[config.Indirection]) == local {
		return base[absCol], nil
	}
	if base[config.SchemaEncoding]&(1<<uint(col)) == 0 {
		return base[absCol], nil
	}

	baseTS := base[config.Timestamp]
	maxBase := prg.MaxBase()
	current := int64(base[config.Indirection])
	skip := -version

	for current >= maxBase {
		tailSchema, ok, err := prg.ReadTailColumn(current, config.SchemaEncoding)
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		tailTS, ok, err := prg.ReadTailColumn(current, config.Timestamp)
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}

		if tailSchema&(1<<uint(col)) != 0 && tailTS >= baseTS {
			if skip == 0 {
				v, ok, err := prg.ReadTailColumn(current, absCol)
				if err != nil {
					return 0, err
				}
				if ok {
					return v, nil
				}
				break
			}
			skip--
		}

		next, ok, err := prg.ReadTailColumn(current, config.Indirection)
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		current = int64(next)
	}
	return base[absCol], nil
}

func (q *Query) resolveRow(rid int64, projection []bool, version int) ([]int32, error) {
	prg, local := q.tbl.RangeFor(rid)
	base, err := prg.CopyBase(local)
	if err != nil {
		return nil, err
	}

	out := make([]int32, q.tbl.NumColumns())
	for i := range out {
		if !projection[i] {
			continue
		}
		if i == q.userKey() {
			out[i] = base[q.tbl.Key()]
			continue
		}
		v, err := q.resolveColumn(prg, local, base, i, version)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// SelectVersion looks up searchValue in searchCol's index and returns
// the projected columns of every matching record as of version (spec
// §4.7). A nil, nil result means no match.
func (q *Query) SelectVersion(searchValue int32, searchCol int, projection []bool, version int) ([][]int32, error) {
	if len(projection) != q.tbl.NumColumns() {
		return nil, errs.ErrInvalidProjection
	}

	rids, ok := q.tbl.Index().Locate(config.NumHiddenColumns+searchCol, searchValue)
	if !ok {
		return nil, nil
	}

	out := make([][]int32, 0, len(rids))
	for _, rid := range rids {
		row, err := q.resolveRow(rid, projection, version)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

// Select is SelectVersion with version=0 (the newest value).
func (q *Query) Select(searchValue int32, searchCol int, projection []bool) ([][]int32, error) {
	return q.SelectVersion(searchValue, searchCol, projection, 0)
}

// SumVersion sums column col over every record whose primary key is
// in [lo, hi], at the given version. The bool return is false when the
// range is empty (spec §4.7).
func (q *Query) SumVersion(lo, hi int32, col int, version int) (int64, bool, error) {
	rids := q.tbl.Index().LocateRange(q.tbl.Key(), lo, hi)
	if len(rids) == 0 {
		return 0, false, nil
	}

	var total int64
	for _, rid := range rids {
		prg, local := q.tbl.RangeFor(rid)
		base, err := prg.CopyBase(local)
		if err != nil {
			return 0, false, err
		}
		v, err := q.resolveColumn(prg, local, base, col, version)
		if err != nil {
			return 0, false, err
		}
		total += int64(v)
	}
	return total, true, nil
}

// Sum is SumVersion with version=0.
func (q *Query) Sum(lo, hi int32, col int) (int64, bool, error) {
	return q.SumVersion(lo, hi, col, 0)
}

// Update builds and appends a tail record for every column marked in
// has, relocates the primary-key index entry if the key changed, and
// ORs the new schema bits into the base record's SCHEMA_ENCODING
// (spec §4.7). Returns false (no error) if pk does not exist or the
// new key is already taken.
func (q *Query) Update(pk int32, newValues []int32, has []bool) (bool, error) {
	n := q.tbl.NumColumns()
	if len(newValues) != n || len(has) != n {
		return false, errs.ErrInvalidProjection
	}

	rids, ok := q.tbl.Index().Locate(q.tbl.Key(), pk)
	if !ok || len(rids) == 0 {
		return false, nil
	}
	rid := rids[0]

	prg, local := q.tbl.RangeFor(rid)
	base, err := prg.CopyBase(local)
	if err != nil {
		return false, err
	}

	uk := q.userKey()
	if has[uk] && newValues[uk] != base[q.tbl.Key()] {
		if _, exists := q.tbl.Index().Locate(q.tbl.Key(), newValues[uk]); exists {
			return false, nil
		}
	}

	total := q.tbl.TotalColumns()
	tailCols := make([]int32, total)
	tailHas := make([]bool, total)
	prevValues := make([]int32, n)
	var newSchema int32

	for i := 0; i < n; i++ {
		v, err := q.resolveColumn(prg, local, base, i, 0)
		if err != nil {
			return false, err
		}
		prevValues[i] = v
		if has[i] {
			absCol := config.NumHiddenColumns + i
			tailCols[absCol] = newValues[i]
			tailHas[absCol] = true
			newSchema |= 1 << uint(i)
		}
	}

	tailCols[config.Indirection] = base[config.Indirection]
	tailHas[config.Indirection] = true
	tailCols[config.SchemaEncoding] = newSchema
	tailHas[config.SchemaEncoding] = true

	logicalRID := prg.AssignLogicalRID()
	tailCols[config.RID] = int32(logicalRID)
	tailHas[config.RID] = true

	if err := q.tbl.ApplyTail(prg, logicalRID, tailCols, tailHas); err != nil {
		return false, err
	}

	newBase := append([]int32{}, base...)
	newBase[config.Indirection] = int32(logicalRID)
	newBase[config.SchemaEncoding] = base[config.SchemaEncoding] | newSchema
	if err := prg.OverwriteBase(local, newBase); err != nil {
		return false, err
	}

	nextValues := append([]int32{}, prevValues...)
	for i := 0; i < n; i++ {
		if has[i] {
			nextValues[i] = newValues[i]
		}
	}

	fullPrev := append([]int32{}, base...)
	fullNext := append([]int32{}, base...)
	copy(fullPrev[config.NumHiddenColumns:], prevValues)
	copy(fullNext[config.NumHiddenColumns:], nextValues)
	if err := q.tbl.Index().UpdateAll(rid, fullPrev, fullNext); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes pk from every index and enqueues its base RID for
// the delete worker; the base slot and its tail chain are reclaimed
// asynchronously (spec §4.7).
func (q *Query) Delete(pk int32) (bool, error) {
	rids, ok := q.tbl.Index().Locate(q.tbl.Key(), pk)
	if !ok || len(rids) == 0 {
		return false, nil
	}
	rid := rids[0]

	prg, local := q.tbl.RangeFor(rid)
	base, err := prg.CopyBase(local)
	if err != nil {
		return false, err
	}

	// Indices hold each column's current value, which may live in the
	// tail chain rather than in the base record.
	current := append([]int32{}, base...)
	for i := 0; i < q.tbl.NumColumns(); i++ {
		v, err := q.resolveColumn(prg, local, base, i, 0)
		if err != nil {
			return false, err
		}
		current[config.NumHiddenColumns+i] = v
	}
	q.tbl.Index().DeleteAll(rid, current)
	q.tbl.EnqueueDelete(rid)
	return true, nil
}

// Increment reads col's current value and writes value+1 via Update.
func (q *Query) Increment(pk int32, col int) (bool, error) {
	n := q.tbl.NumColumns()
	proj := make([]bool, n)
	proj[col] = true

	rows, err := q.Select(pk, q.userKey(), proj)
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, nil
	}

	newValues := make([]int32, n)
	has := make([]bool, n)
	newValues[col] = rows[0][col] + 1
	has[col] = true
	return q.Update(pk, newValues, has)
}

// CreateIndex builds a secondary index on col by scanning every live
// base RID through the primary index and resolving col's current
// value for each (spec §4.4).
func (q *Query) CreateIndex(col int) error {
	scan := func() []int64 {
		return q.tbl.Index().AllRIDs(q.tbl.Key())
	}
	resolve := func(rid int64, absCol int) (int32, error) {
		prg, local := q.tbl.RangeFor(rid)
		base, err := prg.CopyBase(local)
		if err != nil {
			return 0, err
		}
		return q.resolveColumn(prg, local, base, absCol-config.NumHiddenColumns, 0)
	}
	return q.tbl.Index().CreateIndex(config.NumHiddenColumns+col, scan, resolve)
}

// DropIndex releases a secondary index.
func (q *Query) DropIndex(col int) error {
	return q.tbl.Index().DropIndex(config.NumHiddenColumns + col)
}
