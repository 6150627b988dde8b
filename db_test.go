package lstore

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/araiyan/lstore/config"
)

func smallConfig() config.Config {
	return config.Config{PageSize: 16, PagesPerRange: 4, MaxFramesPerColumn: 64, MergeTrigger: 4}
}

func allTrue(n int) []bool {
	p := make([]bool, n)
	for i := range p {
		p[i] = true
	}
	return p
}

func TestCreateTableInsertSelectThenRoundTripThroughClose(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir, smallConfig())
	require.NoError(t, err)

	q, err := db.CreateTable("grades", 5, 0)
	require.NoError(t, err)

	_, ok, err := q.Insert([]int32{1, 10, 20, 30, 40})
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, db.Close())

	db2, err := Open(dir, smallConfig())
	require.NoError(t, err)
	defer db2.Close()

	q2, ok := db2.GetTable("grades")
	require.True(t, ok)

	rows, err := q2.Select(1, 0, allTrue(5))
	require.NoError(t, err)
	require.Equal(t, [][]int32{{1, 10, 20, 30, 40}}, rows)
}

func TestDropTableRemovesItFromCatalog(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, smallConfig())
	require.NoError(t, err)

	_, err = db.CreateTable("grades", 5, 0)
	require.NoError(t, err)
	require.NoError(t, db.DropTable("grades"))
	require.NoError(t, db.Close())

	db2, err := Open(dir, smallConfig())
	require.NoError(t, err)
	defer db2.Close()

	_, ok := db2.GetTable("grades")
	require.False(t, ok)
}

func TestCreateTableRejectsDuplicateName(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, smallConfig())
	require.NoError(t, err)
	defer db.Close()

	_, err = db.CreateTable("grades", 5, 0)
	require.NoError(t, err)
	_, err = db.CreateTable("grades", 3, 0)
	require.Error(t, err)
}

// Scenario 6 from spec §8: a larger insert/update workload exercises
// the merge worker at least once and every record matches an
// in-memory oracle afterward.
func TestLargeWorkloadMatchesOracleAfterMerges(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, config.Config{PageSize: 64, PagesPerRange: 8, MaxFramesPerColumn: 128, MergeTrigger: 2})
	require.NoError(t, err)
	defer db.Close()

	q, err := db.CreateTable("grades", 3, 0)
	require.NoError(t, err)

	const numRows = 1000
	const numUpdates = 4000

	oracle := make(map[int32][3]int32)
	for i := int32(0); i < numRows; i++ {
		row := [3]int32{i, i * 10, i * 100}
		_, ok, err := q.Insert([]int32{row[0], row[1], row[2]})
		require.NoError(t, err)
		require.True(t, ok)
		oracle[i] = row
	}

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < numUpdates; i++ {
		pk := int32(rng.Intn(numRows))
		col := 1 + rng.Intn(2)
		newVal := int32(rng.Intn(1_000_000))

		has := make([]bool, 3)
		newValues := make([]int32, 3)
		has[col] = true
		newValues[col] = newVal

		ok, err := q.Update(pk, newValues, has)
		require.NoError(t, err)
		require.True(t, ok)

		row := oracle[pk]
		row[col] = newVal
		oracle[pk] = row
	}

	for pk, want := range oracle {
		rows, err := q.Select(pk, 0, allTrue(3))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		require.Equal(t, []int32{want[0], want[1], want[2]}, rows[0])
	}
}
