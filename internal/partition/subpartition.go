package partition

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/clonos-sigmod21/clonos/internal/buffer"
	"github.com/clonos-sigmod21/clonos/internal/inflightlog"
	"github.com/clonos-sigmod21/clonos/pkg/types"
)

// Subpartition implements PipelinedSubpartition: the output-queue state
// machine of one subpartition of a result partition. All access to buffers,
// flushRequested, inFlightLog and activeReplay is serialized by mu.
type Subpartition struct {
	partitionID types.PartitionID
	index       types.SubpartitionIndex

	epochSource EpochSource
	inFlightLog *inflightlog.Log
	propagator  FailConsumerPropagator

	mu   sync.Mutex
	cond *sync.Cond

	buffers        []*buffer.BufferConsumer
	backlog        int
	flushRequested bool
	isFinished     bool
	isReleased     bool

	downstreamFailed        bool
	recoveringInFlightState bool
	activeReplay            *inflightlog.Iterator

	readView ReadView

	logger *zap.Logger
}

// Option configures a Subpartition at construction time.
type Option func(*Subpartition)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Subpartition) { s.logger = logger }
}

func WithFailConsumerPropagator(p FailConsumerPropagator) Option {
	return func(s *Subpartition) { s.propagator = p }
}

func New(partitionID types.PartitionID, index types.SubpartitionIndex, epochSource EpochSource, inFlightLog *inflightlog.Log, opts ...Option) *Subpartition {
	s := &Subpartition{
		partitionID: partitionID,
		index:       index,
		epochSource: epochSource,
		inFlightLog: inFlightLog,
	}
	s.cond = sync.NewCond(&s.mu)
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.Named("pipelined-subpartition").With(
		zap.Stringer("partition", partitionID), zap.Stringer("subpartition", index))
	return s
}

// VertexID is a placeholder. Per spec.md section 9's open question, the
// source this core is modeled on always returns 0 here; the rationale for
// wiring actual vertex identity through the partition's parent was never
// implemented upstream, so this preserves that placeholder rather than
// inventing plumbing that does not exist in the original.
func (s *Subpartition) VertexID() types.VertexID {
	return types.InvalidVertexID
}

// SetReadView installs the consumer-visible handle. Subsequent state
// transitions notify it outside the lock.
func (s *Subpartition) SetReadView(view ReadView) {
	s.mu.Lock()
	s.readView = view
	s.mu.Unlock()
}

func (s *Subpartition) countFinishedLocked() int {
	n := 0
	for _, c := range s.buffers {
		if c.IsFinished() {
			n++
		}
	}
	return n
}

func (s *Subpartition) shouldNotifyDataAvailableLocked() bool {
	return s.readView != nil && !s.flushRequested && s.countFinishedLocked() == 1
}

// Add enqueues consumer. finish marks that the subpartition itself will
// receive no further buffers after this one (a distinct, subpartition-level
// concept from consumer.IsFinished, which marks that this particular
// buffer is done being written to). Returns false if the subpartition is
// already finished or released, in which case consumer is closed instead of
// queued.
func (s *Subpartition) Add(consumer *buffer.BufferConsumer, finish bool) bool {
	s.mu.Lock()
	if s.isFinished || s.isReleased {
		s.mu.Unlock()
		consumer.Close()
		return false
	}

	s.buffers = append(s.buffers, consumer)
	s.backlog++

	notify := s.shouldNotifyDataAvailableLocked() || finish
	s.isFinished = s.isFinished || finish

	recovering := s.recoveringInFlightState
	if recovering {
		s.cond.Broadcast()
	} else if s.downstreamFailed || s.activeReplay != nil {
		s.drainFinishedHeadToLogLocked()
	}
	normal := !recovering && !s.downstreamFailed && s.activeReplay == nil
	view := s.readView
	s.mu.Unlock()

	if normal && notify && view != nil {
		view.NotifyDataAvailable()
	}
	return true
}

// drainFinishedHeadToLogLocked pushes every finished buffer currently at the
// head of the queue straight into the in-flight log without dispatching it
// downstream, used while downstream has failed or a replay is active.
func (s *Subpartition) drainFinishedHeadToLogLocked() {
	for len(s.buffers) > 0 && s.buffers[0].IsFinished() {
		c := s.buffers[0]
		s.buffers = s.buffers[1:]
		s.backlog--

		built := c.Build(nil)
		s.inFlightLog.Log(s.epochSource.CurrentEpoch(), built, true)
		c.Close()
	}
}

// GetNextBuffer implements View. It rejects with (nil, nil) while
// downstream has failed or the subpartition's own in-flight state is still
// being restored, matching the source's contract of returning null rather
// than an error for those two cases.
func (s *Subpartition) GetNextBuffer() (*buffer.BufferAndBacklog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.downstreamFailed || s.recoveringInFlightState {
		return nil, nil
	}

	if s.activeReplay != nil {
		b, ok := s.activeReplay.Next()
		if ok {
			more := s.activeReplay.HasNext() || s.isAvailableUnsafeLocked()
			result := &buffer.BufferAndBacklog{
				Buffer:        b,
				MoreAvailable: more,
				Backlog:       s.backlog,
				NextIsEvent:   s.nextIsEventUnsafeLocked(),
			}
			if !s.activeReplay.HasNext() {
				s.logger.Info("replay iterator exhausted")
				s.activeReplay = nil
			}
			return result, nil
		}
		s.logger.Info("replay iterator exhausted")
		s.activeReplay = nil
		// fall through to dispatch from queued consumers, which may have
		// been appended while replay was active.
	}

	for {
		if len(s.buffers) == 0 {
			return nil, nil
		}
		head := s.buffers[0]
		finished := head.IsFinished()
		if !finished && len(s.buffers) != 1 {
			panic(fmt.Sprintf("pipelinedsubpartition %s/%s: unfinished consumer not at tail", s.partitionID, s.index))
		}

		built := head.Build(nil)
		if finished {
			s.buffers = s.buffers[1:]
			s.backlog--
			head.Close()
		}

		if built.ReadableBytes() > 0 {
			s.inFlightLog.Log(s.epochSource.CurrentEpoch(), built, finished)
			result := &buffer.BufferAndBacklog{
				Buffer:        built,
				MoreAvailable: s.isAvailableUnsafeLocked(),
				Backlog:       s.backlog,
				NextIsEvent:   s.nextIsEventUnsafeLocked(),
			}
			return result, nil
		}

		built.Release()
		if !finished {
			return nil, nil
		}
		// finished, empty buffer (e.g. a bare end-of-stream marker):
		// loop to the next queued consumer.
	}
}

func (s *Subpartition) isAvailableUnsafeLocked() bool {
	if len(s.buffers) == 0 {
		return false
	}
	return len(s.buffers) > 1 || s.buffers[0].ReadableBytes() > 0
}

func (s *Subpartition) nextIsEventUnsafeLocked() bool {
	if len(s.buffers) == 0 {
		return false
	}
	return s.buffers[0].IsEvent()
}

// Flush marks the queue as explicitly flushed, which allows
// shouldNotifyDataAvailableLocked to fire again for buffers already queued.
// It notifies the read view unless the subpartition's own in-flight state is
// being restored.
func (s *Subpartition) Flush() {
	s.mu.Lock()
	nonEmpty := len(s.buffers) > 0 || s.activeReplay != nil
	if nonEmpty {
		s.flushRequested = true
	}
	notify := nonEmpty && !s.recoveringInFlightState
	view := s.readView
	s.mu.Unlock()

	if notify && view != nil {
		view.NotifyDataAvailable()
	}
}

// ReleaseAllResources implements View. Idempotent: closes and clears every
// queued consumer, closes any active replay iterator, and transfers the
// read-view handle out, notifying it outside the lock.
func (s *Subpartition) ReleaseAllResources() error {
	s.mu.Lock()
	if s.isReleased {
		s.mu.Unlock()
		return nil
	}
	s.isReleased = true

	var err error
	for _, c := range s.buffers {
		if _, over := c.Close(); over {
			err = multierr.Append(err, fmt.Errorf("pipelinedsubpartition: buffer over-released"))
		}
	}
	s.buffers = nil
	s.backlog = 0

	if s.activeReplay != nil {
		s.activeReplay.Close()
		s.activeReplay = nil
	}

	view := s.readView
	s.readView = nil
	s.mu.Unlock()

	if view != nil {
		view.NotifyReleased()
	}
	return err
}

// IsReleased reports whether ReleaseAllResources has run.
func (s *Subpartition) IsReleased() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isReleased
}

// SendFailConsumerTrigger marks the subpartition's downstream peer as
// failed: future polls return nothing, finished head buffers drain straight
// into the in-flight log, and the fail signal is propagated upstream of the
// downstream peer via the FailConsumerPropagator. This transition is
// terminal; it is never retried.
func (s *Subpartition) SendFailConsumerTrigger(cause error) {
	s.mu.Lock()
	s.downstreamFailed = true
	s.drainFinishedHeadToLogLocked()
	s.mu.Unlock()

	s.logger.Warn("downstream failed", zap.Error(cause))
	if s.propagator != nil {
		s.propagator.PropagateFailConsumer(s.index, cause)
	}
}

// RequestReplay installs a fresh replay iterator from the in-flight log
// (closing any prior one, via Log.GetInFlightIterator's own invariant) and
// clears downstreamFailed, moving the subpartition into the Replaying
// state. If the in-flight log is currently empty, the subpartition simply
// has no active replay and behaves like Normal.
func (s *Subpartition) RequestReplay() {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.inFlightLog.GetInFlightIterator()
	if ok {
		s.activeReplay = it
	} else {
		s.activeReplay = nil
	}
	s.downstreamFailed = false
	s.logger.Info("replay requested", zap.Bool("has_backlog", ok))
}

// SetRecoveringInFlightState marks whether this subpartition's own output
// state is still being restored. While true, GetNextBuffer returns nothing
// and Add signals waiters on the condition variable instead of the read
// view.
func (s *Subpartition) SetRecoveringInFlightState(recovering bool) {
	s.mu.Lock()
	s.recoveringInFlightState = recovering
	if !recovering {
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}

// IsRecoveringSubpartitionInFlightState reports whether this subpartition's
// own output state is still being restored, per the RunningState FSM's
// check before answering an InFlightLogRequestEvent immediately.
func (s *Subpartition) IsRecoveringSubpartitionInFlightState() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recoveringInFlightState
}

// Backlog reports the current queue depth.
func (s *Subpartition) Backlog() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backlog
}

func (s *Subpartition) PartitionID() types.PartitionID {
	return s.partitionID
}

func (s *Subpartition) Index() types.SubpartitionIndex {
	return s.index
}
