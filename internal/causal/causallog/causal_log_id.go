// Package causallog implements the per-vertex, per-channel determinant
// stream: CausalLogID identifies one such stream, and VertexCausalLog is its
// append-only, epoch-indexed storage.
package causallog

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/clonos-sigmod21/clonos/pkg/types"
	"github.com/clonos-sigmod21/clonos/pkg/verrors"
)

// EncodedLen is the fixed width of a CausalLogID on the wire: 16 (vertex) +
// 2 (subtask) + 1 (channel) + 16 (partition) bytes.
const EncodedLen = 16 + 2 + 1 + 16

// CausalLogID identifies a single per-vertex, per-channel determinant
// stream. It is comparable and totally ordered, so it can be used directly
// as a map key and sorted for deterministic iteration (e.g. when building a
// DeterminantResponseEvent).
type CausalLogID struct {
	JobVertexID  uuid.UUID
	SubtaskIndex types.SubtaskIndex
	ChannelIndex types.ChannelIndex
	PartitionID  types.PartitionID
}

func (id CausalLogID) String() string {
	return fmt.Sprintf("CausalLogID{vertex=%s, subtask=%d, channel=%d, partition=%s}",
		id.JobVertexID, id.SubtaskIndex, id.ChannelIndex, id.PartitionID)
}

// Compare imposes the total order spec.md requires: vertex, then subtask,
// then channel, then partition, each compared byte/value-wise.
func (id CausalLogID) Compare(other CausalLogID) int {
	if c := bytes.Compare(id.JobVertexID[:], other.JobVertexID[:]); c != 0 {
		return c
	}
	if id.SubtaskIndex != other.SubtaskIndex {
		if id.SubtaskIndex < other.SubtaskIndex {
			return -1
		}
		return 1
	}
	if id.ChannelIndex != other.ChannelIndex {
		if id.ChannelIndex < other.ChannelIndex {
			return -1
		}
		return 1
	}
	a, b := uuid.UUID(id.PartitionID), uuid.UUID(other.PartitionID)
	return bytes.Compare(a[:], b[:])
}

func (id CausalLogID) Less(other CausalLogID) bool {
	return id.Compare(other) < 0
}

// Encode appends id's fixed-width serialization to dst.
func (id CausalLogID) Encode(dst []byte) []byte {
	dst = append(dst, id.JobVertexID[:]...)
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(id.SubtaskIndex))
	dst = append(dst, b[:]...)
	dst = append(dst, byte(id.ChannelIndex))
	partition := uuid.UUID(id.PartitionID)
	dst = append(dst, partition[:]...)
	return dst
}

// DecodeCausalLogID reads a fixed-width CausalLogID from the head of src.
func DecodeCausalLogID(src []byte) (id CausalLogID, rest []byte, err error) {
	if len(src) < EncodedLen {
		return CausalLogID{}, nil, fmt.Errorf("causallog: truncated CausalLogID: %w", verrors.ErrProtocolViolation)
	}
	copy(id.JobVertexID[:], src[0:16])
	id.SubtaskIndex = types.SubtaskIndex(binary.BigEndian.Uint16(src[16:18]))
	id.ChannelIndex = types.ChannelIndex(src[18])
	var partition uuid.UUID
	copy(partition[:], src[19:35])
	id.PartitionID = types.PartitionID(partition)
	return id, src[EncodedLen:], nil
}
