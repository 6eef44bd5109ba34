// Package buffer implements the refcounted memory segment that flows from
// an operator's output collector, through a PipelinedSubpartition and its
// InFlightLog, to a downstream input channel. No ecosystem library in the
// reference pack offers a refcounted byte-buffer type suited to this
// producer/consumer/replay-iterator sharing pattern, so it is built directly
// on sync/atomic, matching how the teacher builds its own small
// concurrency primitives (pkg/util/runner, internal/stopchannel) on the
// standard library rather than reaching for a dependency.
package buffer

import (
	"sync/atomic"
)

// Buffer is a refcounted memory segment. It is produced once by an operator
// and handed to exactly one subpartition, which becomes responsible for
// releasing it (or forwarding a share of the reference count to the
// in-flight log and to replay iterators).
type Buffer struct {
	data     []byte
	isEvent  bool
	refCount atomic.Int32
	onZero   func(*Buffer)
}

// New wraps data as a payload buffer with one initial reference. onZero, if
// non-nil, is invoked exactly once when the reference count reaches zero.
func New(data []byte, onZero func(*Buffer)) *Buffer {
	b := &Buffer{data: data, onZero: onZero}
	b.refCount.Store(1)
	return b
}

// NewEvent wraps data as a control event rather than a payload buffer.
func NewEvent(data []byte, onZero func(*Buffer)) *Buffer {
	b := New(data, onZero)
	b.isEvent = true
	return b
}

// ReadableBytes is the number of payload bytes currently in the buffer.
func (b *Buffer) ReadableBytes() int {
	return len(b.data)
}

// Data exposes the underlying bytes. Callers must not mutate them after a
// buffer has been handed to a subpartition.
func (b *Buffer) Data() []byte {
	return b.data
}

// IsBuffer reports whether this is a data payload, as opposed to a control
// event.
func (b *Buffer) IsBuffer() bool {
	return !b.isEvent
}

// IsEvent reports whether this buffer carries a control event rather than a
// data payload.
func (b *Buffer) IsEvent() bool {
	return b.isEvent
}

// Retain adds one reference share, to be matched by a later Release. Used
// when a buffer is simultaneously owned by the in-flight log and a replay
// iterator, or forwarded to more than one collaborator.
func (b *Buffer) Retain() *Buffer {
	b.refCount.Add(1)
	return b
}

// Release drops one reference share. When the count reaches zero, onZero is
// invoked exactly once, recycling the underlying memory. It is a fatal
// logic error to Release a buffer more times than it holds references; that
// case is reported so callers can turn it into an assertion failure per the
// error-handling policy on invariant violations.
func (b *Buffer) Release() (freed bool, overRelease bool) {
	n := b.refCount.Add(-1)
	switch {
	case n > 0:
		return false, false
	case n == 0:
		if b.onZero != nil {
			b.onZero(b)
		}
		return true, false
	default:
		return false, true
	}
}

// RefCount reports the current share count, for tests and assertions.
func (b *Buffer) RefCount() int32 {
	return b.refCount.Load()
}

// Snapshot copies out the byte range [start, start+n) as an independent,
// single-reference Buffer sharing the isEvent flag. Used by a subpartition
// to build the dispatched buffer from a possibly-still-growing
// BufferConsumer without racing the writer.
func (b *Buffer) Snapshot(start, n int, onZero func(*Buffer)) *Buffer {
	if start > len(b.data) {
		start = len(b.data)
	}
	end := start + n
	if end > len(b.data) {
		end = len(b.data)
	}
	cp := make([]byte, end-start)
	copy(cp, b.data[start:end])
	out := New(cp, onZero)
	out.isEvent = b.isEvent
	return out
}
