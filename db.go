// Package lstore is the root of the storage/transaction engine: it
// wires the table, lock manager, query, and transaction layers behind
// a small Database facade and persists the table catalog as JSON
// (spec §6), the engine's one external-collaborator concern.
package lstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/araiyan/lstore/config"
	"github.com/araiyan/lstore/internal/errs"
	"github.com/araiyan/lstore/internal/lockmgr"
	"github.com/araiyan/lstore/internal/query"
	"github.com/araiyan/lstore/internal/table"
	"github.com/araiyan/lstore/internal/txn"
	"github.com/araiyan/lstore/logger"
)

// catalogEntry is one table's persisted identity plus its allocator
// state, the minimum a restart needs to reconstruct a table exactly.
type catalogEntry struct {
	Name       string      `json:"name"`
	NumColumns int         `json:"num_columns"`
	Key        int         `json:"key"`
	State      table.State `json:"state"`
}

type catalog struct {
	Tables []catalogEntry `json:"tables"`
}

// Database owns a directory of tables, their shared lock manager, and
// the JSON catalog (tables.json) that survives across Open/Close
// (spec §8's round-trip testable property).
type Database struct {
	mu      sync.Mutex
	dir     string
	cfg     config.Config
	tables  map[string]*table.Table
	queries map[string]*query.Query
	lm      *lockmgr.LockManager
}

// Open creates or reattaches to a database rooted at dir, loading any
// existing tables.json catalog and reopening each table it names.
func Open(dir string, cfg config.Config) (*Database, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating database directory %s", dir)
	}

	db := &Database{
		dir:     dir,
		cfg:     cfg,
		tables:  make(map[string]*table.Table),
		queries: make(map[string]*query.Query),
		lm:      lockmgr.New(),
	}
	if err := db.loadCatalog(); err != nil {
		return nil, err
	}
	return db, nil
}

func (db *Database) catalogPath() string { return filepath.Join(db.dir, "tables.json") }

func (db *Database) loadCatalog() error {
	raw, err := os.ReadFile(db.catalogPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "reading catalog %s", db.catalogPath())
	}

	var cat catalog
	if err := json.Unmarshal(raw, &cat); err != nil {
		return errors.Wrap(errs.ErrCorruption, err.Error())
	}

	for _, e := range cat.Tables {
		tdir := filepath.Join(db.dir, e.Name)
		tbl := table.Open(e.Name, e.NumColumns, e.Key, tdir, db.cfg, e.State)
		db.tables[e.Name] = tbl
		db.queries[e.Name] = query.New(tbl)
	}
	logger.Infof("database %s: loaded %d table(s) from catalog", db.dir, len(cat.Tables))
	return nil
}

// saveCatalogLocked writes tables.json atomically (write to a temp
// file, then rename) so a crash mid-write never leaves a truncated
// catalog behind. Caller must hold db.mu.
func (db *Database) saveCatalogLocked() error {
	cat := catalog{}
	for name, tbl := range db.tables {
		cat.Tables = append(cat.Tables, catalogEntry{
			Name:       name,
			NumColumns: tbl.NumColumns(),
			Key:        tbl.Key() - config.NumHiddenColumns,
			State:      tbl.State(),
		})
	}
	sort.Slice(cat.Tables, func(i, j int) bool { return cat.Tables[i].Name < cat.Tables[j].Name })

	raw, err := json.MarshalIndent(cat, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling catalog")
	}

	tmp := db.catalogPath() + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return errors.Wrapf(err, "writing catalog %s", tmp)
	}
	if err := os.Rename(tmp, db.catalogPath()); err != nil {
		return errors.Wrapf(err, "renaming catalog into place")
	}
	return nil
}

// CreateTable creates a new table with numColumns user columns and
// primary key column key (0-based, user-relative), persisting the
// updated catalog before returning its query surface.
func (db *Database) CreateTable(name string, numColumns, key int) (*query.Query, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.tables[name]; exists {
		return nil, errs.ErrDuplicateKey
	}

	tdir := filepath.Join(db.dir, name)
	tbl := table.New(name, numColumns, key, tdir, db.cfg)
	q := query.New(tbl)
	db.tables[name] = tbl
	db.queries[name] = q

	if err := db.saveCatalogLocked(); err != nil {
		tbl.Close()
		delete(db.tables, name)
		delete(db.queries, name)
		return nil, err
	}
	logger.Infof("database %s: created table %s (%d columns, key=%d)", db.dir, name, numColumns, key)
	return q, nil
}

// DropTable closes and removes a table, persisting the updated catalog.
func (db *Database) DropTable(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tbl, ok := db.tables[name]
	if !ok {
		return errs.ErrNotFound
	}
	if err := tbl.Close(); err != nil {
		return err
	}
	delete(db.tables, name)
	delete(db.queries, name)
	if err := db.saveCatalogLocked(); err != nil {
		return err
	}
	logger.Infof("database %s: dropped table %s", db.dir, name)
	return nil
}

// GetTable returns name's query surface, or false if it doesn't exist.
func (db *Database) GetTable(name string) (*query.Query, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	q, ok := db.queries[name]
	return q, ok
}

// NewTransaction creates a transaction scoped to this database, sharing
// its lock manager and persisting its undo log segment under dir.
func (db *Database) NewTransaction() *txn.Transaction {
	return txn.New(txn.NextID(), db.dir, db.lm, db.dir)
}

// Close flushes and stops every table's background workers, then
// writes a final catalog snapshot.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var firstErr error
	for _, tbl := range db.tables {
		if err := tbl.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := db.saveCatalogLocked(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
