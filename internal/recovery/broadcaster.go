package recovery

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/clonos-sigmod21/clonos/internal/protocol"
	"github.com/clonos-sigmod21/clonos/pkg/types"
)

// Peer is one upstream task this task's recovery depends on: something it
// can publish a DeterminantRequestEvent to.
type Peer interface {
	PartitionID() types.PartitionID
	SendDeterminantRequest(ctx context.Context, e protocol.DeterminantRequestEvent) error
}

// FanOutBroadcaster implements UpstreamBroadcaster by publishing to every
// registered peer concurrently and failing fast if any one of them errors,
// the same fan-out-then-wait shape the rest of the pack uses for
// cluster-wide RPCs.
type FanOutBroadcaster struct {
	peers []Peer
}

func NewFanOutBroadcaster(peers ...Peer) *FanOutBroadcaster {
	return &FanOutBroadcaster{peers: peers}
}

func (b *FanOutBroadcaster) BroadcastDeterminantRequest(e protocol.DeterminantRequestEvent) error {
	g, ctx := errgroup.WithContext(context.Background())
	for _, peer := range b.peers {
		peer := peer
		g.Go(func() error {
			return peer.SendDeterminantRequest(ctx, e)
		})
	}
	return g.Wait()
}
