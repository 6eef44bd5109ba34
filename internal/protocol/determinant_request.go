package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/clonos-sigmod21/clonos/pkg/types"
	"github.com/clonos-sigmod21/clonos/pkg/verrors"
)

// Encode appends the wire representation of e to dst.
func (e DeterminantRequestEvent) Encode(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint16(dst, uint16(e.FailedVertex))
	dst = binary.BigEndian.AppendUint64(dst, uint64(e.UpstreamCorrelationID))
	return dst
}

// DecodeDeterminantRequestEvent parses the wire representation Encode
// produces, returning the event and the remaining unconsumed bytes.
func DecodeDeterminantRequestEvent(src []byte) (DeterminantRequestEvent, []byte, error) {
	if len(src) < 2+8 {
		return DeterminantRequestEvent{}, nil, fmt.Errorf("%w: determinant request truncated", verrors.ErrProtocolViolation)
	}
	e := DeterminantRequestEvent{
		FailedVertex:          types.VertexID(binary.BigEndian.Uint16(src[0:2])),
		UpstreamCorrelationID: types.CorrelationID(binary.BigEndian.Uint64(src[2:10])),
	}
	return e, src[10:], nil
}

// Encode appends the wire representation of e to dst.
func (e InFlightLogRequestEvent) Encode(dst []byte) []byte {
	partition := e.PartitionID.Bytes()
	dst = append(dst, partition[:]...)
	dst = binary.BigEndian.AppendUint16(dst, uint16(e.SubpartitionIndex))
	dst = binary.BigEndian.AppendUint32(dst, e.NumBuffersRemoved)
	return dst
}

// DecodeInFlightLogRequestEvent parses the wire representation Encode
// produces, returning the event and the remaining unconsumed bytes.
func DecodeInFlightLogRequestEvent(src []byte) (InFlightLogRequestEvent, []byte, error) {
	if len(src) < 16+2+4 {
		return InFlightLogRequestEvent{}, nil, fmt.Errorf("%w: in-flight log request truncated", verrors.ErrProtocolViolation)
	}
	var partitionBytes [16]byte
	copy(partitionBytes[:], src[0:16])
	e := InFlightLogRequestEvent{
		PartitionID:       types.PartitionID(partitionBytes),
		SubpartitionIndex: types.SubpartitionIndex(binary.BigEndian.Uint16(src[16:18])),
		NumBuffersRemoved: binary.BigEndian.Uint32(src[18:22]),
	}
	return e, src[22:], nil
}
