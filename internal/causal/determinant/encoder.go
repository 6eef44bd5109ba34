package determinant

import (
	"encoding/binary"
	"fmt"

	"github.com/clonos-sigmod21/clonos/pkg/types"
	"github.com/clonos-sigmod21/clonos/pkg/verrors"
)

// Encoder appends and parses the binary framing of Determinant values within
// a VertexCausalLog segment. Frames are concatenated with no separators;
// Kind alone determines how many bytes a frame's payload occupies.
type Encoder struct{}

// Append writes d's binary framing to the end of dst and returns the
// extended slice.
func (Encoder) Append(dst []byte, d Determinant) []byte {
	dst = append(dst, byte(d.Kind))
	switch d.Kind {
	case KindOrder:
		dst = append(dst, byte(d.ChannelIndex))
	case KindTimer:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(d.TimerID))
		dst = append(dst, b[:]...)
	case KindRNG:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], d.RNGValue)
		dst = append(dst, b[:]...)
	case KindSerializable:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(len(d.Blob)))
		dst = append(dst, b[:]...)
		dst = append(dst, d.Blob...)
	default:
		panic(fmt.Sprintf("determinant: unknown kind %d", d.Kind))
	}
	return dst
}

// Parse reads one Determinant frame from the head of src, returning it along
// with the remaining, unconsumed bytes.
func (Encoder) Parse(src []byte) (d Determinant, rest []byte, err error) {
	if len(src) < 1 {
		return Determinant{}, nil, fmt.Errorf("determinant: empty frame: %w", verrors.ErrProtocolViolation)
	}
	kind := Kind(src[0])
	src = src[1:]
	switch kind {
	case KindOrder:
		if len(src) < 1 {
			return Determinant{}, nil, fmt.Errorf("determinant: truncated order frame: %w", verrors.ErrProtocolViolation)
		}
		return Determinant{Kind: KindOrder, ChannelIndex: types.ChannelIndex(src[0])}, src[1:], nil
	case KindTimer:
		if len(src) < 8 {
			return Determinant{}, nil, fmt.Errorf("determinant: truncated timer frame: %w", verrors.ErrProtocolViolation)
		}
		v := int64(binary.BigEndian.Uint64(src[:8]))
		return Determinant{Kind: KindTimer, TimerID: v}, src[8:], nil
	case KindRNG:
		if len(src) < 8 {
			return Determinant{}, nil, fmt.Errorf("determinant: truncated rng frame: %w", verrors.ErrProtocolViolation)
		}
		v := binary.BigEndian.Uint64(src[:8])
		return Determinant{Kind: KindRNG, RNGValue: v}, src[8:], nil
	case KindSerializable:
		if len(src) < 4 {
			return Determinant{}, nil, fmt.Errorf("determinant: truncated serializable header: %w", verrors.ErrProtocolViolation)
		}
		n := binary.BigEndian.Uint32(src[:4])
		src = src[4:]
		if uint32(len(src)) < n {
			return Determinant{}, nil, fmt.Errorf("determinant: truncated serializable payload: %w", verrors.ErrProtocolViolation)
		}
		var blob []byte
		if n > 0 {
			blob = make([]byte, n)
			copy(blob, src[:n])
		}
		return Determinant{Kind: KindSerializable, Blob: blob}, src[n:], nil
	default:
		return Determinant{}, nil, fmt.Errorf("determinant: unknown kind %d: %w", kind, verrors.ErrProtocolViolation)
	}
}

// ParseAll decodes every Determinant frame in src, in order.
func (e Encoder) ParseAll(src []byte) ([]Determinant, error) {
	var out []Determinant
	for len(src) > 0 {
		d, rest, err := e.Parse(src)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
		src = rest
	}
	return out, nil
}
