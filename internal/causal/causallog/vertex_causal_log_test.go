package causallog

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clonos-sigmod21/clonos/internal/causal/determinant"
	"github.com/clonos-sigmod21/clonos/pkg/types"
)

func testID() CausalLogID {
	return CausalLogID{
		JobVertexID:  uuid.New(),
		SubtaskIndex: 1,
		ChannelIndex: 2,
		PartitionID:  types.NewPartitionID(),
	}
}

func TestVertexCausalLogAppendAndTruncate(t *testing.T) {
	id := testID()
	l := New(id, nil)

	l.Append(1, determinant.Order(0))
	l.Append(1, determinant.Timer(5))
	l.Append(2, determinant.RNG(9))

	require.Equal(t, 2, len(l.segments))
	assert.Positive(t, l.ReadableBytes())

	l.TruncateThrough(1)
	require.Equal(t, 1, len(l.segments))
	assert.Equal(t, types.EpochID(2), l.segments[0].epoch)

	enc := determinant.Encoder{}
	dets, err := enc.ParseAll(l.Bytes())
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, determinant.KindRNG, dets[0].Kind)
}

func TestVertexCausalLogAppendAfterCloseIsNoop(t *testing.T) {
	l := New(testID(), nil)
	l.Close()
	l.Append(1, determinant.Order(0))
	assert.Empty(t, l.Bytes())
}

func TestCausalLogIDEncodeDecodeRoundTrip(t *testing.T) {
	id := testID()
	buf := id.Encode(nil)
	got, rest, err := DecodeCausalLogID(buf)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, id, got)
}

func TestCausalLogIDTotalOrder(t *testing.T) {
	a := testID()
	b := a
	b.ChannelIndex++
	if a.Compare(b) < 0 {
		assert.True(t, a.Less(b))
		assert.False(t, b.Less(a))
	} else {
		assert.True(t, b.Less(a))
	}
	assert.Equal(t, 0, a.Compare(a))
}
