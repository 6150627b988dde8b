package bufferpool

import (
	"sync"

	"github.com/araiyan/lstore/internal/page"
)

// frameKey identifies one page uniquely within a table.
type frameKey struct {
	pageRange int
	column    int
	pageInRng int
}

// Frame is a buffer-pool cell holding at most one page (spec §3).
// Pin counts are guarded by their own lock so they can be updated
// while the page bytes are being read by a concurrent reader.
type Frame struct {
	key  frameKey
	path string

	mu   sync.RWMutex // guards page + dirty
	page *page.Page
	dirty bool

	pinMu    sync.Mutex
	pinCount int
}

// pin records one more pin on the frame.
func (f *Frame) pin() {
	f.pinMu.Lock()
	f.pinCount++
	f.pinMu.Unlock()
}

// Unpin decrements the pin count.
func (f *Frame) Unpin() {
	f.pinMu.Lock()
	if f.pinCount > 0 {
		f.pinCount--
	}
	f.pinMu.Unlock()
}

// PinCount returns the current pin count.
func (f *Frame) PinCount() int {
	f.pinMu.Lock()
	defer f.pinMu.Unlock()
	return f.pinCount
}

// Page returns the resident page. Callers must hold a pin. The
// returned pointer is unsynchronized past the call: prefer Read/
// HasCapacity, which hold the frame's lock for the full operation.
func (f *Frame) Page() *page.Page {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.page
}

// Read reads slot under the frame's read lock, held for the full
// operation so a concurrent WriteAt/Append can't race the bounds
// check and slice access.
func (f *Frame) Read(slot int) (int32, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.page.Read(slot)
}

// HasCapacity reports whether the page has room for another Append,
// under the frame's read lock.
func (f *Frame) HasCapacity() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.page.HasCapacity()
}

// MarkDirty flags the frame as needing writeback before eviction.
func (f *Frame) MarkDirty() {
	f.mu.Lock()
	f.dirty = true
	f.mu.Unlock()
}

// Dirty reports whether the frame has unflushed writes.
func (f *Frame) Dirty() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dirty
}
