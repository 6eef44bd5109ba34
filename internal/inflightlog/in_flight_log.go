// Package inflightlog implements the per-subpartition ordered log of
// emitted buffers that have not yet been acknowledged by the downstream
// peer's checkpoint completion, and the replay iterator recovery reads it
// through.
package inflightlog

import (
	"sync"

	"go.uber.org/zap"

	"github.com/clonos-sigmod21/clonos/internal/buffer"
	"github.com/clonos-sigmod21/clonos/pkg/types"
)

type epochEntry struct {
	epoch   types.EpochID
	buffers []*buffer.Buffer
}

// Log is the InFlightLog for one output subpartition: an ordered sequence
// of (EpochID, Buffer) pairs, retained until the downstream peer
// acknowledges consumption or the log is closed.
type Log struct {
	mu     sync.Mutex
	epochs []epochEntry

	active *Iterator
	closed bool

	logger *zap.Logger
}

// Option configures a Log at construction time.
type Option func(*Log)

func WithLogger(logger *zap.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

func New(opts ...Option) *Log {
	l := &Log{}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	l.logger = l.logger.Named("in-flight-log")
	return l
}

// Log appends buf, dispatched as part of epoch, to the end of the log. It
// retains a share of buf's reference count for as long as buf's epoch
// remains unacknowledged. isLastOfConsumer is accepted for symmetry with
// the source's log(buffer, isLastOfConsumer) signature; the in-flight log
// itself does not special-case it, since acknowledgement is driven by
// downstream buffer counts rather than consumer boundaries.
func (l *Log) Log(epoch types.EpochID, buf *buffer.Buffer, isLastOfConsumer bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		l.logger.Warn("append to closed in-flight log ignored", zap.Stringer("epoch", epoch))
		return
	}
	buf.Retain()
	if n := len(l.epochs); n > 0 && l.epochs[n-1].epoch == epoch {
		l.epochs[n-1].buffers = append(l.epochs[n-1].buffers, buf)
		return
	}
	l.epochs = append(l.epochs, epochEntry{epoch: epoch, buffers: []*buffer.Buffer{buf}})
}

// Size returns the total number of buffers retained across all epochs.
func (l *Log) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.epochs {
		n += len(e.buffers)
	}
	return n
}

// OldestEpoch reports the oldest epoch still retained, and whether the log
// is non-empty.
func (l *Log) OldestEpoch() (types.EpochID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.epochs) == 0 {
		return types.InvalidEpochID, false
	}
	return l.epochs[0].epoch, true
}

// NotifyDownstreamCheckpointComplete drops the first n buffers of the
// oldest unacknowledged epoch, releasing one reference share each. If that
// epoch becomes empty, the acknowledgement watermark advances past it. n is
// bounded by the size of the oldest epoch's tail: the downstream peer never
// reports having consumed more buffers than that epoch actually holds.
func (l *Log) NotifyDownstreamCheckpointComplete(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.epochs) == 0 || n <= 0 {
		return
	}
	oldest := &l.epochs[0]
	if n > len(oldest.buffers) {
		n = len(oldest.buffers)
	}
	for i := 0; i < n; i++ {
		oldest.buffers[i].Release()
	}
	oldest.buffers = oldest.buffers[n:]
	if len(oldest.buffers) == 0 {
		l.epochs = l.epochs[1:]
		l.logger.Info("in-flight log epoch fully acknowledged", zap.Stringer("epoch", oldest.epoch))
	}
}

// GetInFlightIterator installs and returns a fresh replay iterator over
// every buffer currently retained, oldest first. Any previously active
// iterator is closed first, releasing its reference shares, per the
// invariant that a log admits at most one active replay iterator. Returns
// (nil, false) if the log is empty or closed.
func (l *Log) GetInFlightIterator() (*Iterator, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active != nil {
		l.active.closeLocked()
		l.active = nil
	}
	if l.closed {
		return nil, false
	}
	var snapshot []*buffer.Buffer
	for _, e := range l.epochs {
		for _, b := range e.buffers {
			snapshot = append(snapshot, b.Retain())
		}
	}
	if len(snapshot) == 0 {
		return nil, false
	}
	it := &Iterator{buffers: snapshot}
	l.active = it
	return it, true
}

// Close releases every retained buffer and closes the active iterator, if
// any. Per the open question in spec.md section 9, callers that are
// releasing resources after an I/O error during recovery should NOT call
// Close on the in-flight log: the log stays alive so a hot standby can take
// over the replay. Close is for the terminal, non-hot-standby teardown
// path.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	if l.active != nil {
		l.active.closeLocked()
		l.active = nil
	}
	for _, e := range l.epochs {
		for _, b := range e.buffers {
			b.Release()
		}
	}
	l.epochs = nil
}
