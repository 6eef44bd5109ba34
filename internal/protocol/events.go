// Package protocol implements the task events a recovery exchanges with
// upstream peers on the same transport as data buffers: determinant
// requests and responses, and in-flight log replay requests.
package protocol

import (
	"github.com/clonos-sigmod21/clonos/pkg/types"
)

// DeterminantRequestEvent is broadcast upstream when a task begins
// recovery, asking every upstream peer for the determinants it logged for
// the failed vertex.
type DeterminantRequestEvent struct {
	FailedVertex          types.VertexID
	UpstreamCorrelationID types.CorrelationID
}

func (DeterminantRequestEvent) EventName() string { return "DeterminantRequestEvent" }

// InFlightLogRequestEvent asks the producer of one subpartition to replay
// its in-flight log, having already delivered numBuffersRemoved buffers
// from the previous incarnation of the connection.
type InFlightLogRequestEvent struct {
	PartitionID       types.PartitionID
	SubpartitionIndex types.SubpartitionIndex
	NumBuffersRemoved uint32
}

func (InFlightLogRequestEvent) EventName() string { return "InFlightLogRequestEvent" }
