// Package types defines the small value types shared across the causal
// recovery core: epoch and vertex identifiers, subpartition coordinates, and
// the atomic variants safe to read from the network I/O thread while the
// task thread keeps writing.
package types

import (
	"fmt"
	"math"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// EpochID is monotonic and equal to the checkpoint ID that opened the epoch.
type EpochID uint64

const (
	InvalidEpochID = EpochID(0)
	MinEpochID     = EpochID(1)
	MaxEpochID     = EpochID(math.MaxUint64)
)

func (e EpochID) Invalid() bool {
	return e == InvalidEpochID
}

func (e EpochID) String() string {
	return strconv.FormatUint(uint64(e), 10)
}

// AtomicEpochID lets the network I/O thread read the current epoch without
// taking the task-level checkpoint lock EpochTracker otherwise requires.
type AtomicEpochID struct {
	v atomic.Uint64
}

func (a *AtomicEpochID) Load() EpochID { return EpochID(a.v.Load()) }
func (a *AtomicEpochID) Store(e EpochID) { a.v.Store(uint64(e)) }
func (a *AtomicEpochID) CompareAndSwap(old, new EpochID) bool {
	return a.v.CompareAndSwap(uint64(old), uint64(new))
}

// CheckpointID is an alias: a checkpoint's ID is the EpochID it opens.
type CheckpointID = EpochID

// RecordIndex is a record's position within its epoch; it restarts at 0 at
// every epoch boundary.
type RecordIndex uint32

// VertexID identifies a job vertex (operator) in the execution graph. It is
// carried as an unsigned 16-bit integer on the wire.
type VertexID uint16

const InvalidVertexID = VertexID(0)

func (v VertexID) String() string {
	return strconv.FormatUint(uint64(v), 10)
}

// SubtaskIndex is the parallel instance index of a job vertex.
type SubtaskIndex uint16

// ChannelIndex identifies one input channel of a subtask.
type ChannelIndex uint8

// PartitionID identifies a result partition; it is a 16-byte UUID on the
// wire, matching IntermediateResultPartitionID in the upstream runtime.
type PartitionID uuid.UUID

var NilPartitionID PartitionID

func NewPartitionID() PartitionID {
	return PartitionID(uuid.New())
}

func (p PartitionID) String() string {
	return uuid.UUID(p).String()
}

func (p PartitionID) Bytes() [16]byte {
	return p
}

// SubpartitionIndex identifies one output subpartition of a result
// partition.
type SubpartitionIndex uint16

func (s SubpartitionIndex) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

// CorrelationID tags a DeterminantRequestEvent/DeterminantResponseEvent pair
// so fragmented responses from multiple upstream peers can be merged.
type CorrelationID int64

// SubpartitionKey is the arena key for the (PartitionID, SubpartitionIndex)
// table shared by PipelinedSubpartitions and the RecoveryManager.
type SubpartitionKey struct {
	PartitionID       PartitionID
	SubpartitionIndex SubpartitionIndex
}

func (k SubpartitionKey) String() string {
	return fmt.Sprintf("%s/%s", k.PartitionID, k.SubpartitionIndex)
}
