package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/clonos-sigmod21/clonos/internal/causal/causallog"
	"github.com/clonos-sigmod21/clonos/pkg/types"
	"github.com/clonos-sigmod21/clonos/pkg/verrors"
)

// Delta is one upstream vertex causal log's contribution to a
// DeterminantResponseEvent: the identity of the stream and its raw,
// already-determinant-encoded payload bytes.
type Delta struct {
	ID      causallog.CausalLogID
	Payload []byte
}

// DeterminantResponseEvent answers a DeterminantRequestEvent. Found reports
// whether the responding peer had logged anything at all for the requested
// vertex; when false, Deltas is empty and CorrelationID still identifies
// the request being answered.
type DeterminantResponseEvent struct {
	Found         bool
	VertexID      types.VertexID
	CorrelationID types.CorrelationID
	Deltas        []Delta
}

func (DeterminantResponseEvent) EventName() string { return "DeterminantResponseEvent" }

// Encode appends the wire representation of e to dst.
func (e DeterminantResponseEvent) Encode(dst []byte) []byte {
	var found byte
	if e.Found {
		found = 1
	}
	dst = append(dst, found)
	dst = binary.BigEndian.AppendUint16(dst, uint16(e.VertexID))
	dst = binary.BigEndian.AppendUint64(dst, uint64(e.CorrelationID))
	if len(e.Deltas) > 255 {
		panic(fmt.Sprintf("protocol: %d deltas exceeds the u8 wire count", len(e.Deltas)))
	}
	dst = append(dst, byte(len(e.Deltas)))
	for _, d := range e.Deltas {
		dst = d.ID.Encode(dst)
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(d.Payload)))
		dst = append(dst, d.Payload...)
	}
	return dst
}

// DecodeDeterminantResponseEvent parses the wire representation Encode
// produces, returning the event and the remaining unconsumed bytes.
func DecodeDeterminantResponseEvent(src []byte) (DeterminantResponseEvent, []byte, error) {
	if len(src) < 1+2+8+1 {
		return DeterminantResponseEvent{}, nil, fmt.Errorf("%w: determinant response header truncated", verrors.ErrProtocolViolation)
	}
	e := DeterminantResponseEvent{
		Found:         src[0] != 0,
		VertexID:      types.VertexID(binary.BigEndian.Uint16(src[1:3])),
		CorrelationID: types.CorrelationID(binary.BigEndian.Uint64(src[3:11])),
	}
	numDeltas := int(src[11])
	rest := src[12:]
	e.Deltas = make([]Delta, 0, numDeltas)
	for i := 0; i < numDeltas; i++ {
		id, tail, err := causallog.DecodeCausalLogID(rest)
		if err != nil {
			return DeterminantResponseEvent{}, nil, err
		}
		if len(tail) < 4 {
			return DeterminantResponseEvent{}, nil, fmt.Errorf("%w: determinant response delta length truncated", verrors.ErrProtocolViolation)
		}
		payloadLen := int(binary.BigEndian.Uint32(tail[:4]))
		tail = tail[4:]
		if payloadLen < 0 || len(tail) < payloadLen {
			return DeterminantResponseEvent{}, nil, fmt.Errorf("%w: determinant response payload truncated", verrors.ErrProtocolViolation)
		}
		payload := make([]byte, payloadLen)
		copy(payload, tail[:payloadLen])
		e.Deltas = append(e.Deltas, Delta{ID: id, Payload: payload})
		rest = tail[payloadLen:]
	}
	return e, rest, nil
}

// MergeDeterminantResponses folds b into a per the causal-log merge rule:
// the result is found if either side is found, and for any CausalLogID
// present in both, the larger (by payload byte count) delta wins on the
// invariant that one upstream's log is a prefix of the other's.
func MergeDeterminantResponses(a, b DeterminantResponseEvent) DeterminantResponseEvent {
	out := DeterminantResponseEvent{
		Found:         a.Found || b.Found,
		VertexID:      a.VertexID,
		CorrelationID: a.CorrelationID,
	}
	if !out.Found {
		return out
	}
	byID := make(map[causallog.CausalLogID]Delta, len(a.Deltas)+len(b.Deltas))
	for _, d := range a.Deltas {
		byID[d.ID] = d
	}
	for _, d := range b.Deltas {
		existing, ok := byID[d.ID]
		if !ok || len(d.Payload) > len(existing.Payload) {
			byID[d.ID] = d
		}
	}
	out.Deltas = make([]Delta, 0, len(byID))
	for _, d := range byID {
		out.Deltas = append(out.Deltas, d)
	}
	return out
}
