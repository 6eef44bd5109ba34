package causallog

import (
	"sync"

	"go.uber.org/zap"

	"github.com/clonos-sigmod21/clonos/internal/causal/determinant"
	"github.com/clonos-sigmod21/clonos/pkg/types"
)

type segment struct {
	epoch types.EpochID
	data  []byte
}

// VertexCausalLog is the append-only, epoch-indexed determinant buffer for
// one CausalLogID. Segments are append-only; a segment becomes eligible for
// truncation once the checkpoint that opened it has been acknowledged.
type VertexCausalLog struct {
	mu       sync.Mutex
	id       CausalLogID
	enc      determinant.Encoder
	segments []segment
	closed   bool
	logger   *zap.Logger
}

func New(id CausalLogID, logger *zap.Logger) *VertexCausalLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VertexCausalLog{
		id:     id,
		logger: logger.Named("causallog").With(zap.String("causal_log_id", id.String())),
	}
}

func (l *VertexCausalLog) ID() CausalLogID {
	return l.id
}

// Append records det as having been decided during the processing of a
// record in epoch. Determinants within an epoch must be appended in
// record-processing order; this method does not itself enforce ordering
// across goroutines — callers append under the task thread's discipline.
func (l *VertexCausalLog) Append(epoch types.EpochID, det determinant.Determinant) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		l.logger.Warn("append to closed causal log ignored", zap.Stringer("epoch", epoch))
		return
	}
	buf := l.enc.Append(nil, det)
	l.appendBytesLocked(epoch, buf)
}

// AppendBytes merges a raw, already-encoded segment into the log, used when
// restoring or extending a log from a replicated snapshot.
func (l *VertexCausalLog) AppendBytes(epoch types.EpochID, raw []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || len(raw) == 0 {
		return
	}
	l.appendBytesLocked(epoch, raw)
}

func (l *VertexCausalLog) appendBytesLocked(epoch types.EpochID, raw []byte) {
	if n := len(l.segments); n > 0 && l.segments[n-1].epoch == epoch {
		l.segments[n-1].data = append(l.segments[n-1].data, raw...)
		return
	}
	seg := segment{epoch: epoch, data: append([]byte(nil), raw...)}
	l.segments = append(l.segments, seg)
}

// Bytes concatenates every retained segment, in epoch order. This is the
// payload a DeterminantResponseEvent carries for this CausalLogID.
func (l *VertexCausalLog) Bytes() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bytesLocked()
}

func (l *VertexCausalLog) bytesLocked() []byte {
	var total int
	for _, s := range l.segments {
		total += len(s.data)
	}
	out := make([]byte, 0, total)
	for _, s := range l.segments {
		out = append(out, s.data...)
	}
	return out
}

// ReadableBytes reports the total retained byte count, used by the merge
// protocol to decide which upstream peer's response is the longer prefix.
func (l *VertexCausalLog) ReadableBytes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, s := range l.segments {
		n += len(s.data)
	}
	return n
}

// TruncateThrough drops every segment whose epoch is <= checkpointID,
// authorized by EpochTracker.NotifyCheckpointComplete. Segments strictly
// newer than checkpointID are retained.
func (l *VertexCausalLog) TruncateThrough(checkpointID types.CheckpointID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := 0
	for ; i < len(l.segments); i++ {
		if l.segments[i].epoch > checkpointID {
			break
		}
	}
	if i == 0 {
		return
	}
	l.segments = append(l.segments[:0], l.segments[i:]...)
}

// OnCheckpointComplete implements epoch.CheckpointListener: a VertexCausalLog
// subscribes to its task's EpochTracker so that its segments are truncated
// as soon as the checkpoint that opened their epoch, or any later one, is
// acknowledged.
func (l *VertexCausalLog) OnCheckpointComplete(checkpointID types.CheckpointID) {
	l.TruncateThrough(checkpointID)
}

func (l *VertexCausalLog) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.segments = nil
}
