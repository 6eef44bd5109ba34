package inflightlog

import (
	"sync"

	"github.com/clonos-sigmod21/clonos/internal/buffer"
)

// Iterator is a finite, forward-only, non-restartable cursor over the
// buffers retained in a Log at the moment the iterator was created. It
// never observes buffers appended to the log after its creation.
type Iterator struct {
	mu      sync.Mutex
	buffers []*buffer.Buffer
	pos     int
	closed  bool
}

// HasNext reports whether Next would return another buffer.
func (it *Iterator) HasNext() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return !it.closed && it.pos < len(it.buffers)
}

// Next returns the next buffer in the snapshot and advances the cursor. It
// returns (nil, false) once exhausted or closed.
func (it *Iterator) Next() (*buffer.Buffer, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.closed || it.pos >= len(it.buffers) {
		return nil, false
	}
	b := it.buffers[it.pos]
	it.pos++
	return b, true
}

// PeekNext returns the next buffer without advancing the cursor.
func (it *Iterator) PeekNext() (*buffer.Buffer, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.closed || it.pos >= len(it.buffers) {
		return nil, false
	}
	return it.buffers[it.pos], true
}

// NumberRemaining reports how many buffers Next would still return.
func (it *Iterator) NumberRemaining() int {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.closed {
		return 0
	}
	return len(it.buffers) - it.pos
}

// Close releases the iterator's own reference share of every buffer it
// still holds, including ones not yet consumed, and makes all further
// method calls return empty. Safe to call more than once.
func (it *Iterator) Close() {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.closeLocked()
}

func (it *Iterator) closeLocked() {
	if it.closed {
		return
	}
	it.closed = true
	for _, b := range it.buffers[it.pos:] {
		b.Release()
	}
	it.buffers = nil
}
