package consumer

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clonos-sigmod21/clonos/internal/buffer"
	"github.com/clonos-sigmod21/clonos/internal/partition"
	"github.com/clonos-sigmod21/clonos/pkg/types"
	"github.com/clonos-sigmod21/clonos/pkg/verrors"
)

type fakeConnectionManager struct {
	attempts int32
	failN    int32
}

func (m *fakeConnectionManager) RequestRemoteSubpartition(types.PartitionID, types.SubpartitionIndex, partition.ReadView) error {
	n := atomic.AddInt32(&m.attempts, 1)
	if n <= m.failN {
		return verrors.WrapTransient(verrors.ErrPartitionNotFound)
	}
	return nil
}

func TestRemoteInputChannelRequestAndDeliver(t *testing.T) {
	cm := &fakeConnectionManager{}
	c := NewRemoteInputChannel(0, types.NewPartitionID(), 0, cm, noopDispatcher{}, 0, 0, nil)

	require.NoError(t, c.RequestSubpartition(context.Background()))
	require.NoError(t, c.RequestSubpartition(context.Background()))
	assert.EqualValues(t, 1, cm.attempts)

	c.OnBufferReceived(&buffer.BufferAndBacklog{Buffer: buffer.New([]byte("x"), nil)})

	bl, err := c.GetNextBuffer()
	require.NoError(t, err)
	require.NotNil(t, bl)
	assert.Equal(t, "x", string(bl.Buffer.Data()))
	assert.Equal(t, 1, c.GetResetNumberBuffersRemoved())
}

func TestRemoteInputChannelGetNextBufferEmpty(t *testing.T) {
	c := NewRemoteInputChannel(0, types.NewPartitionID(), 0, &fakeConnectionManager{}, noopDispatcher{}, 0, 0, nil)

	bl, err := c.GetNextBuffer()
	require.NoError(t, err)
	assert.Nil(t, bl)
}

func TestRemoteInputChannelDeduplication(t *testing.T) {
	c := NewRemoteInputChannel(0, types.NewPartitionID(), 0, &fakeConnectionManager{}, noopDispatcher{}, 0, 0, nil)
	c.SetNumberBuffersDeduplicate(2)
	c.SetDeduplicating()

	for _, s := range []string{"b1", "b2", "b3", "b4"} {
		c.OnBufferReceived(&buffer.BufferAndBacklog{Buffer: buffer.New([]byte(s), nil)})
	}

	var delivered []string
	for i := 0; i < 4; i++ {
		bl, err := c.GetNextBuffer()
		require.NoError(t, err)
		if bl == nil {
			break
		}
		delivered = append(delivered, string(bl.Buffer.Data()))
	}
	assert.Equal(t, []string{"b3", "b4"}, delivered)
}

func TestRemoteInputChannelReleaseDrainsInbox(t *testing.T) {
	c := NewRemoteInputChannel(0, types.NewPartitionID(), 0, &fakeConnectionManager{}, noopDispatcher{}, 0, 0, nil)
	c.OnBufferReceived(&buffer.BufferAndBacklog{Buffer: buffer.New([]byte("x"), nil)})

	require.NoError(t, c.ReleaseAllResources())
	require.NoError(t, c.ReleaseAllResources())
	assert.True(t, c.IsReleased())

	bl, err := c.GetNextBuffer()
	require.NoError(t, err)
	assert.Nil(t, bl)
}

func TestRemoteInputChannelSendTaskEventBeforeRequestRejected(t *testing.T) {
	c := NewRemoteInputChannel(0, types.NewPartitionID(), 0, &fakeConnectionManager{}, noopDispatcher{}, 0, 0, nil)

	err := c.SendTaskEvent(nil, false)
	assert.Error(t, err)
}
