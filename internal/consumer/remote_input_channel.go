package consumer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clonos-sigmod21/clonos/internal/buffer"
	"github.com/clonos-sigmod21/clonos/internal/stopchannel"
	"github.com/clonos-sigmod21/clonos/pkg/types"
	"github.com/clonos-sigmod21/clonos/pkg/util/runner"
	"github.com/clonos-sigmod21/clonos/pkg/verrors"
)

// RemoteInputChannel is the network-backed counterpart to LocalInputChannel.
// Wire transport is out of scope for this core: OnBufferReceived is the
// seam a network deserialization thread would call into after decoding a
// frame off the wire, and RequestSubpartition delegates connection setup to
// a ConnectionManager rather than opening a socket itself. Everything else
// — backoff, dedup, buffer accounting, release — mirrors LocalInputChannel.
type RemoteInputChannel struct {
	channelIndex types.ChannelIndex
	partitionID  types.PartitionID
	subIndex     types.SubpartitionIndex

	connectionManager   ConnectionManager
	taskEventDispatcher TaskEventDispatcher

	requestLock sync.Mutex
	requested   bool
	isReleased  bool

	backoff backoff
	runner  *runner.Runner
	stopped *stopchannel.StopChannel

	dedup dedupState

	numBuffersRemoved int
	inbox             chan *buffer.BufferAndBacklog

	logger *zap.Logger
}

func NewRemoteInputChannel(
	channelIndex types.ChannelIndex,
	partitionID types.PartitionID,
	subIndex types.SubpartitionIndex,
	cm ConnectionManager,
	dispatcher TaskEventDispatcher,
	initialBackoffMillis, maxBackoffMillis int,
	logger *zap.Logger,
) *RemoteInputChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RemoteInputChannel{
		channelIndex:        channelIndex,
		partitionID:         partitionID,
		subIndex:            subIndex,
		connectionManager:   cm,
		taskEventDispatcher: dispatcher,
		backoff:             newBackoff(initialBackoffMillis, maxBackoffMillis),
		runner:              runner.New("remote-input-channel-retrigger", logger),
		stopped:             stopchannel.New(),
		inbox:               make(chan *buffer.BufferAndBacklog, 128),
		logger: logger.Named("remote-input-channel").With(
			zap.Uint8("channel", uint8(channelIndex)),
			zap.Stringer("partition", partitionID),
			zap.Stringer("subpartition", subIndex)),
	}
}

func (c *RemoteInputChannel) String() string {
	return fmt.Sprintf("RemoteInputChannel %d [%s/%s]", c.channelIndex, c.partitionID, c.subIndex)
}

// RequestSubpartition asks the connection manager to open a remote
// connection, retrying with the same backoff policy as the local channel.
func (c *RemoteInputChannel) RequestSubpartition(ctx context.Context) error {
	c.requestLock.Lock()
	if c.isReleased {
		c.requestLock.Unlock()
		return verrors.ErrReleased
	}
	if c.requested {
		c.requestLock.Unlock()
		return nil
	}
	c.requestLock.Unlock()

	err := c.connectionManager.RequestRemoteSubpartition(c.partitionID, c.subIndex, c)
	if err == nil {
		c.requestLock.Lock()
		c.requested = true
		c.requestLock.Unlock()
		return nil
	}

	if !verrors.IsTransient(err) {
		return err
	}
	delayMillis, retry := c.backoff.increase()
	if !retry {
		c.logger.Warn("remote subpartition request exhausted backoff", zap.Error(err))
		return err
	}
	c.runner.Run(func(taskCtx context.Context) {
		timer := time.NewTimer(time.Duration(delayMillis) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-timer.C:
			c.RequestSubpartition(ctx)
		case <-taskCtx.Done():
		case <-c.stopped.StopC():
		}
	})
	return nil
}

// NotifyDataAvailable implements partition.ReadView on the sender's local
// mirror of this channel's view; the remote peer forwards buffers over the
// wire, which arrive here via OnBufferReceived instead.
func (c *RemoteInputChannel) NotifyDataAvailable() {}

// NotifyReleased implements partition.ReadView.
func (c *RemoteInputChannel) NotifyReleased() {}

// OnBufferReceived is called by the network decode path once a buffer frame
// has been deserialized off the wire. Deduplication is applied here, before
// the buffer is ever queued for delivery.
func (c *RemoteInputChannel) OnBufferReceived(bl *buffer.BufferAndBacklog) {
	c.requestLock.Lock()
	drop := c.dedup.shouldDrop()
	c.requestLock.Unlock()
	if drop {
		bl.Buffer.Release()
		return
	}
	c.requestLock.Lock()
	c.numBuffersRemoved++
	c.requestLock.Unlock()
	c.inbox <- bl
}

// GetNextBuffer returns the next buffer already delivered off the wire, or
// (nil, nil) if none is queued yet.
func (c *RemoteInputChannel) GetNextBuffer() (*buffer.BufferAndBacklog, error) {
	select {
	case bl := <-c.inbox:
		return bl, nil
	default:
		return nil, nil
	}
}

func (c *RemoteInputChannel) SendTaskEvent(event TaskEvent, allowBeforeRequest bool) error {
	c.requestLock.Lock()
	requested := c.requested
	c.requestLock.Unlock()
	if !requested && !allowBeforeRequest {
		return fmt.Errorf("%s: tried to send task event before requesting subpartition", c)
	}
	if !c.taskEventDispatcher.Publish(c.partitionID, event) {
		return fmt.Errorf("%s: producer for event %s could not be found", c, event.EventName())
	}
	return nil
}

func (c *RemoteInputChannel) SetNumberBuffersDeduplicate(n int) {
	c.requestLock.Lock()
	defer c.requestLock.Unlock()
	c.dedup.setTarget(n)
}

func (c *RemoteInputChannel) SetDeduplicating() {
	c.requestLock.Lock()
	defer c.requestLock.Unlock()
	c.dedup.activate()
}

func (c *RemoteInputChannel) GetResetNumberBuffersRemoved() int {
	c.requestLock.Lock()
	defer c.requestLock.Unlock()
	n := c.numBuffersRemoved
	c.numBuffersRemoved = 0
	return n
}

func (c *RemoteInputChannel) IsReleased() bool {
	c.requestLock.Lock()
	defer c.requestLock.Unlock()
	return c.isReleased
}

func (c *RemoteInputChannel) ReleaseAllResources() error {
	c.requestLock.Lock()
	if c.isReleased {
		c.requestLock.Unlock()
		return nil
	}
	c.isReleased = true
	c.requestLock.Unlock()

	c.stopped.Stop()
	c.runner.Stop()

drain:
	for {
		select {
		case bl := <-c.inbox:
			bl.Buffer.Release()
		default:
			break drain
		}
	}
	return nil
}

// ToNewRemote releases this channel and returns a fresh RemoteInputChannel
// at the same channel index bound to newPartitionID, matching
// toNewRemoteInputChannel's channel-identity reincarnation. Exclusive
// credit segment reassignment is the input gate's responsibility, not the
// channel's, and is out of scope here.
func (c *RemoteInputChannel) ToNewRemote(newPartitionID types.PartitionID, subIndex types.SubpartitionIndex) (*RemoteInputChannel, error) {
	if err := c.ReleaseAllResources(); err != nil {
		return nil, err
	}
	return NewRemoteInputChannel(c.channelIndex, newPartitionID, subIndex, c.connectionManager, c.taskEventDispatcher, c.backoff.initial, c.backoff.max, c.logger), nil
}
