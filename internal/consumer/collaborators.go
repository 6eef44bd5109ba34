// Package consumer implements the consumer side of a subpartition: the
// input channel that requests a view, polls it for buffers, and — while a
// recovery is replaying an upstream peer — deduplicates the already-seen
// prefix of the replayed sequence.
package consumer

import (
	"github.com/clonos-sigmod21/clonos/internal/partition"
	"github.com/clonos-sigmod21/clonos/pkg/types"
)

// PartitionManager resolves a (partitionID, subpartitionIndex) into a
// pollable View, registering listener as its ReadView. It is the consumer
// side's handle onto partition.ResultPartitionManager.
type PartitionManager = partition.ResultPartitionManager

// TaskEvent is the minimal envelope input channels exchange with their
// producer out of band from data buffers: determinant requests/responses
// and in-flight log requests all travel as TaskEvents.
type TaskEvent interface {
	// EventName identifies the event for logging; wire encoding lives in
	// the protocol package.
	EventName() string
}

// TaskEventDispatcher publishes a TaskEvent to the producer side of
// partitionID. It returns false if no producer is currently registered for
// that partition, mirroring the upstream contract of "could not be found".
type TaskEventDispatcher interface {
	Publish(partitionID types.PartitionID, event TaskEvent) bool
}

// ConnectionManager is the out-of-scope collaborator a RemoteInputChannel
// would use to open a network connection to a remote producer. Wire
// transport is out of scope; RemoteInputChannel here models channel-identity
// bookkeeping and dedup/backoff state only, and calls through this
// interface for the one thing it cannot do locally: establishing the
// connection.
type ConnectionManager interface {
	RequestRemoteSubpartition(partitionID types.PartitionID, index types.SubpartitionIndex, listener partition.ReadView) error
}
