package recovery

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clonos-sigmod21/clonos/internal/protocol"
	"github.com/clonos-sigmod21/clonos/pkg/types"
)

type fakePeer struct {
	id      types.PartitionID
	calls   *int32
	failure error
}

func (p *fakePeer) PartitionID() types.PartitionID { return p.id }
func (p *fakePeer) SendDeterminantRequest(ctx context.Context, e protocol.DeterminantRequestEvent) error {
	atomic.AddInt32(p.calls, 1)
	return p.failure
}

func TestFanOutBroadcasterReachesEveryPeer(t *testing.T) {
	var calls int32
	b := NewFanOutBroadcaster(
		&fakePeer{id: types.NewPartitionID(), calls: &calls},
		&fakePeer{id: types.NewPartitionID(), calls: &calls},
		&fakePeer{id: types.NewPartitionID(), calls: &calls},
	)
	err := b.BroadcastDeterminantRequest(protocol.DeterminantRequestEvent{FailedVertex: 1})
	assert.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestFanOutBroadcasterPropagatesError(t *testing.T) {
	var calls int32
	boom := errors.New("boom")
	b := NewFanOutBroadcaster(
		&fakePeer{id: types.NewPartitionID(), calls: &calls},
		&fakePeer{id: types.NewPartitionID(), calls: &calls, failure: boom},
	)
	err := b.BroadcastDeterminantRequest(protocol.DeterminantRequestEvent{FailedVertex: 1})
	assert.ErrorIs(t, err, boom)
}
