// Package epoch segments a task's execution into checkpoint-bounded epochs
// and assigns each record a monotonic, epoch-relative index.
package epoch

import (
	"go.uber.org/zap"

	"github.com/clonos-sigmod21/clonos/pkg/types"
)

// EpochStartListener is notified, synchronously and in subscription order,
// whenever a new epoch starts.
type EpochStartListener interface {
	OnEpochStart(epoch types.EpochID)
}

// CheckpointListener is notified when the owning task's checkpoint
// coordinator confirms a checkpoint is complete.
type CheckpointListener interface {
	OnCheckpointComplete(checkpointID types.CheckpointID)
}

// RecordCountTargetNotifiee is armed by SetRecordCountTarget and fired once,
// from IncRecordCount, when RecordCount reaches the target. The
// RecoveryManager uses this to detect that determinant replay has reproduced
// every record the failed attempt produced before it failed.
type RecordCountTargetNotifiee interface {
	NotifyRecordCountTargetReached()
}

// Tracker implements EpochTracker. Per spec.md section 5, it performs no
// internal locking: every method must be called while the caller holds the
// task-level checkpoint lock, except CurrentEpoch, which is safe to call
// from any thread (it is "fail-safe": it may race with StartNewEpoch and
// simply return whichever epoch was last started).
type Tracker struct {
	currentEpoch types.AtomicEpochID

	recordCount       uint32
	targetArmed       bool
	recordCountTarget uint32

	epochListeners      []EpochStartListener
	checkpointListeners []CheckpointListener
	recoveryNotifiee    RecordCountTargetNotifiee

	logger *zap.Logger
}

// Option configures a Tracker at construction time.
type Option func(*Tracker)

func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

func WithInitialEpoch(epoch types.EpochID) Option {
	return func(t *Tracker) { t.currentEpoch.Store(epoch) }
}

func New(opts ...Option) *Tracker {
	t := &Tracker{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	t.logger = t.logger.Named("epoch-tracker")
	return t
}

// CurrentEpoch returns the last epoch StartNewEpoch was called with. Safe to
// call without holding the checkpoint lock.
func (t *Tracker) CurrentEpoch() types.EpochID {
	return t.currentEpoch.Load()
}

// RecordCount returns the number of records processed so far in the current
// epoch. Callers must be the task thread.
func (t *Tracker) RecordCount() uint32 {
	return t.recordCount
}

// IncRecordCount is called after each input record is processed, under the
// task's checkpoint lock. It fires the armed record-count-target
// notification exactly once per arming.
func (t *Tracker) IncRecordCount() {
	t.recordCount++
	if t.targetArmed && t.recordCount == t.recordCountTarget {
		t.targetArmed = false
		if t.recoveryNotifiee != nil {
			t.recoveryNotifiee.NotifyRecordCountTargetReached()
		}
	}
}

// StartNewEpoch closes the previous epoch, resets the record count, and
// notifies every EpochStartListener synchronously, in subscription order.
func (t *Tracker) StartNewEpoch(epochID types.EpochID) {
	t.currentEpoch.Store(epochID)
	t.recordCount = 0
	t.logger.Info("starting new epoch", zap.Stringer("epoch", epochID))
	for _, l := range t.epochListeners {
		l.OnEpochStart(epochID)
	}
}

// SetRecordCountTarget arms a one-shot notification: when RecordCount
// reaches target, RecordCountTargetNotifiee.NotifyRecordCountTargetReached
// fires. Used during determinant replay to detect the replay boundary.
func (t *Tracker) SetRecordCountTarget(target uint32) {
	t.recordCountTarget = target
	t.targetArmed = true
}

// SetRecoveryManager installs the recipient of record-count-target
// notifications.
func (t *Tracker) SetRecoveryManager(n RecordCountTargetNotifiee) {
	t.recoveryNotifiee = n
}

// SubscribeToEpochStartEvents registers l to be called on every future
// StartNewEpoch.
func (t *Tracker) SubscribeToEpochStartEvents(l EpochStartListener) {
	t.epochListeners = append(t.epochListeners, l)
}

// SubscribeToCheckpointCompleteEvents registers l to be called on every
// future NotifyCheckpointComplete.
func (t *Tracker) SubscribeToCheckpointCompleteEvents(l CheckpointListener) {
	t.checkpointListeners = append(t.checkpointListeners, l)
}

// NotifyCheckpointComplete forwards to every CheckpointListener subscriber,
// such as a VertexCausalLog, which truncates its segments of epochs <=
// checkpointID. An inflightlog.Log is not a CheckpointListener: it is not
// truncated by this call, only by its own NotifyDownstreamCheckpointComplete.
func (t *Tracker) NotifyCheckpointComplete(checkpointID types.CheckpointID) {
	t.logger.Info("checkpoint complete", zap.Stringer("checkpoint", checkpointID))
	for _, l := range t.checkpointListeners {
		l.OnCheckpointComplete(checkpointID)
	}
}
