package recovery

import (
	"github.com/clonos-sigmod21/clonos/internal/protocol"
)

// ReplayableSubpartition is the slice of PipelinedSubpartition the recovery
// manager drives directly: it starts a replay once the subpartition's own
// in-flight state has finished restoring, and otherwise must wait.
type ReplayableSubpartition interface {
	RequestReplay()
	IsRecoveringSubpartitionInFlightState() bool
}

// DeduplicatingChannel is the slice of an input channel the recovery
// manager arms before letting it rejoin normal operation.
type DeduplicatingChannel interface {
	SetNumberBuffersDeduplicate(n int)
	SetDeduplicating()
}

// UpstreamBroadcaster fans a DeterminantRequestEvent out to every upstream
// peer of the task under recovery.
type UpstreamBroadcaster interface {
	BroadcastDeterminantRequest(e protocol.DeterminantRequestEvent) error
}

// DeterminantReplayer applies a merged DeterminantResponseEvent's payload
// back into the operator's deterministic replay path (input selection,
// timer firing, RNG draws), reporting how many records that replay produced
// so the manager knows when the target has been reached.
type DeterminantReplayer interface {
	ReplayDeterminants(resp protocol.DeterminantResponseEvent) (recordsProduced int, err error)
}

// PeerReachability reports whether every sibling peer this task depends on
// for recovery is currently connected, gating the WaitingConnections state.
type PeerReachability interface {
	AllChannelsReady() bool
}
