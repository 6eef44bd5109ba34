// Package partition implements the PipelinedSubpartition output-queue state
// machine: normal dispatch, in-flight logging, downstream-failure draining,
// and replay.
package partition

import (
	"github.com/clonos-sigmod21/clonos/internal/buffer"
	"github.com/clonos-sigmod21/clonos/pkg/types"
)

// ReadView is the consumer-visible handle a subpartition notifies. It is
// supplied by the consumer side (LocalInputChannel/RemoteInputChannel) when
// it requests a subpartition, and is called by the subpartition, never the
// other way around.
type ReadView interface {
	// NotifyDataAvailable is called outside the subpartition's lock,
	// whenever new data becomes pollable.
	NotifyDataAvailable()
	// NotifyReleased is called once, outside the lock, when the
	// subpartition transfers ownership of this handle during Release.
	NotifyReleased()
}

// View is what the consumer side reads a subpartition through. *Subpartition
// implements it.
type View interface {
	GetNextBuffer() (*buffer.BufferAndBacklog, error)
	ReleaseAllResources() error
}

// ResultPartitionManager is the out-of-scope collaborator (external
// interface, section 6) that owns the arena of live result partitions. It
// returns ErrPartitionNotFound (wrapped transient) when the requested
// subpartition has not been registered yet.
type ResultPartitionManager interface {
	CreateSubpartitionView(partitionID types.PartitionID, index types.SubpartitionIndex, listener ReadView) (View, error)
}

// FailConsumerPropagator lets a subpartition ask its owning partition to
// propagate a fail-consumer signal upstream of the failed downstream peer.
type FailConsumerPropagator interface {
	PropagateFailConsumer(index types.SubpartitionIndex, cause error)
}

// EpochSource is the read-only slice of EpochTracker a subpartition needs to
// tag buffers with the epoch they were dispatched in.
type EpochSource interface {
	CurrentEpoch() types.EpochID
}
