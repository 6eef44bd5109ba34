// Package determinant defines the nondeterministic choices a VertexCausalLog
// records during normal execution and replays during recovery: which input
// channel a record was read from, which timer fired, which RNG value was
// drawn, and opaque operator-serialized choices.
package determinant

import (
	"fmt"

	"github.com/clonos-sigmod21/clonos/pkg/types"
)

// Kind tags the variant of a Determinant on the wire: one byte, written
// before the type-specific payload.
type Kind byte

const (
	KindOrder Kind = iota + 1
	KindTimer
	KindRNG
	KindSerializable
)

func (k Kind) String() string {
	switch k {
	case KindOrder:
		return "order"
	case KindTimer:
		return "timer"
	case KindRNG:
		return "rng"
	case KindSerializable:
		return "serializable"
	default:
		return fmt.Sprintf("determinant.Kind(%d)", byte(k))
	}
}

// Determinant is a tagged variant over the four nondeterministic choices an
// operator can make while processing a record. Only the field matching Kind
// is meaningful.
type Determinant struct {
	Kind         Kind
	ChannelIndex types.ChannelIndex // KindOrder
	TimerID      int64              // KindTimer
	RNGValue     uint64             // KindRNG
	Blob         []byte             // KindSerializable
}

func Order(ch types.ChannelIndex) Determinant {
	return Determinant{Kind: KindOrder, ChannelIndex: ch}
}

func Timer(id int64) Determinant {
	return Determinant{Kind: KindTimer, TimerID: id}
}

func RNG(v uint64) Determinant {
	return Determinant{Kind: KindRNG, RNGValue: v}
}

func Serializable(blob []byte) Determinant {
	return Determinant{Kind: KindSerializable, Blob: blob}
}

func (d Determinant) String() string {
	switch d.Kind {
	case KindOrder:
		return fmt.Sprintf("Order(channel=%d)", d.ChannelIndex)
	case KindTimer:
		return fmt.Sprintf("Timer(id=%d)", d.TimerID)
	case KindRNG:
		return fmt.Sprintf("RNG(value=%d)", d.RNGValue)
	case KindSerializable:
		return fmt.Sprintf("Serializable(%dB)", len(d.Blob))
	default:
		return "Determinant(invalid)"
	}
}
