package txn

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"

	"github.com/araiyan/lstore/logger"
)

// logRecord is the on-disk shape of one undoEntry, independent of the
// in-memory *query.Query pointer it was bound to.
type logRecord struct {
	Kind        Kind    `json:"kind"`
	PK          int32   `json:"pk"`
	PrevColumns []int32 `json:"prev_columns,omitempty"`
}

// logSegment is the full undo log persisted for one transaction.
type logSegment struct {
	ID        int64       `json:"id"`
	Committed bool        `json:"committed"`
	Records   []logRecord `json:"records"`
}

// persistLog writes tx's undo log, lz4-compressed, to
// <dbDir>/txlog/txn_<id>.log. It is written once, at commit or abort,
// and nothing in the engine reads it back. A write failure only logs:
// the log is a forensic record, not required for this transaction's
// own commit/abort to have already taken effect in memory.
func (tx *Transaction) persistLog(committed bool) {
	if tx.dbDir == "" {
		return
	}

	seg := logSegment{ID: tx.id, Committed: committed, Records: make([]logRecord, len(tx.undo))}
	for i, e := range tx.undo {
		seg.Records[i] = logRecord{Kind: e.kind, PK: e.pk, PrevColumns: e.prevColumns}
	}

	raw, err := json.Marshal(seg)
	if err != nil {
		logger.Errorf("txn %d: marshaling undo log: %v", tx.id, err)
		return
	}

	compressed, err := compressLZ4(raw)
	if err != nil {
		logger.Errorf("txn %d: compressing undo log: %v", tx.id, err)
		return
	}

	dir := filepath.Join(tx.dbDir, "txlog")
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Errorf("txn %d: creating txlog directory: %v", tx.id, err)
		return
	}

	path := filepath.Join(dir, fmt.Sprintf("txn_%d.log", tx.id))
	if err := os.WriteFile(path, compressed, 0644); err != nil {
		logger.Errorf("txn %d: writing undo log %s: %v", tx.id, path, err)
	}
}

func compressLZ4(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
