package recovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clonos-sigmod21/clonos/internal/protocol"
	"github.com/clonos-sigmod21/clonos/pkg/types"
	"github.com/clonos-sigmod21/clonos/pkg/verrors"
)

type fakeBroadcaster struct {
	sent []protocol.DeterminantRequestEvent
}

func (b *fakeBroadcaster) BroadcastDeterminantRequest(e protocol.DeterminantRequestEvent) error {
	b.sent = append(b.sent, e)
	return nil
}

type fakeReplayer struct {
	produced int
	lastResp protocol.DeterminantResponseEvent
}

func (r *fakeReplayer) ReplayDeterminants(resp protocol.DeterminantResponseEvent) (int, error) {
	r.lastResp = resp
	return r.produced, nil
}

type alwaysReady struct{}

func (alwaysReady) AllChannelsReady() bool { return true }

type fakeSubpartition struct {
	replayRequested bool
	recovering      bool
}

func (s *fakeSubpartition) RequestReplay() { s.replayRequested = true }
func (s *fakeSubpartition) IsRecoveringSubpartitionInFlightState() bool {
	return s.recovering
}

type fakeChannel struct {
	target        int
	deduplicating bool
}

func (c *fakeChannel) SetNumberBuffersDeduplicate(n int) { c.target = n }
func (c *fakeChannel) SetDeduplicating()                 { c.deduplicating = true }

func TestManagerFullLifecycleReachesRunning(t *testing.T) {
	broadcaster := &fakeBroadcaster{}
	replayer := &fakeReplayer{produced: 3}
	m := New(types.VertexID(1), broadcaster, replayer, alwaysReady{})

	require.NoError(t, m.NotifyStartRecovery())
	assert.Equal(t, WaitingDeterminants, m.State())
	require.Len(t, broadcaster.sent, 1)

	resp := protocol.DeterminantResponseEvent{Found: true, VertexID: 1, CorrelationID: broadcaster.sent[0].UpstreamCorrelationID}
	require.NoError(t, m.NotifyDeterminantResponse(resp, true))

	assert.Equal(t, Running, m.State())
	assert.Equal(t, resp.Found, replayer.lastResp.Found)
}

func TestManagerFlushesUnansweredRequestsOnRunning(t *testing.T) {
	broadcaster := &fakeBroadcaster{}
	replayer := &fakeReplayer{produced: 0}
	m := New(types.VertexID(1), broadcaster, replayer, alwaysReady{})

	key := types.SubpartitionKey{PartitionID: types.NewPartitionID(), SubpartitionIndex: 2}
	sub := &fakeSubpartition{}
	m.RegisterSubpartition(key, sub)

	require.NoError(t, m.NotifyStartRecovery())

	m.NotifyInFlightLogRequest(protocol.InFlightLogRequestEvent{
		PartitionID:       key.PartitionID,
		SubpartitionIndex: key.SubpartitionIndex,
	})
	assert.False(t, sub.replayRequested)

	require.NoError(t, m.NotifyDeterminantResponse(protocol.DeterminantResponseEvent{Found: false}, true))
	assert.Equal(t, Running, m.State())
	assert.True(t, sub.replayRequested)
}

func TestManagerNewInputChannelDoesNotDeduplicateBeforeRunning(t *testing.T) {
	m := New(types.VertexID(1), &fakeBroadcaster{}, &fakeReplayer{}, alwaysReady{})
	key := types.SubpartitionKey{PartitionID: types.NewPartitionID(), SubpartitionIndex: 0}
	ch := &fakeChannel{}

	m.NotifyNewInputChannel(key, ch, 4)
	assert.Equal(t, 4, ch.target)
	assert.False(t, ch.deduplicating)

	require.NoError(t, m.NotifyStartRecovery())
	require.NoError(t, m.NotifyDeterminantResponse(protocol.DeterminantResponseEvent{Found: false}, true))
	assert.True(t, ch.deduplicating)
}

func TestManagerCloseRejectsFurtherRecovery(t *testing.T) {
	m := New(types.VertexID(1), &fakeBroadcaster{}, &fakeReplayer{}, alwaysReady{})
	m.Close()
	m.Close() // idempotent
	assert.True(t, m.Stopped())
	m.Wait()
	assert.ErrorIs(t, m.NotifyStartRecovery(), verrors.ErrClosed)
}

func TestManagerInFlightLogRequestWhileSubpartitionRecoveringIsStashed(t *testing.T) {
	m := New(types.VertexID(1), &fakeBroadcaster{}, &fakeReplayer{}, alwaysReady{})
	key := types.SubpartitionKey{PartitionID: types.NewPartitionID(), SubpartitionIndex: 0}
	sub := &fakeSubpartition{recovering: true}
	m.RegisterSubpartition(key, sub)

	m.NotifyInFlightLogRequest(protocol.InFlightLogRequestEvent{
		PartitionID:       key.PartitionID,
		SubpartitionIndex: key.SubpartitionIndex,
	})
	assert.False(t, sub.replayRequested)
}
