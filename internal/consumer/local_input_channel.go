package consumer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clonos-sigmod21/clonos/internal/buffer"
	"github.com/clonos-sigmod21/clonos/internal/partition"
	"github.com/clonos-sigmod21/clonos/internal/stopchannel"
	"github.com/clonos-sigmod21/clonos/pkg/types"
	"github.com/clonos-sigmod21/clonos/pkg/util/runner"
	"github.com/clonos-sigmod21/clonos/pkg/verrors"
)

// LocalInputChannel requests a subpartition from a ResultPartitionManager
// living in the same process. It owns the lazy, retried establishment of
// its subpartition view and the deduplication state a recovery attaches
// while replaying.
type LocalInputChannel struct {
	channelIndex types.ChannelIndex
	partitionID  types.PartitionID
	subIndex     types.SubpartitionIndex

	partitionManager    PartitionManager
	taskEventDispatcher TaskEventDispatcher

	requestLock sync.Mutex
	cond        *sync.Cond
	view        partition.View
	isReleased  bool
	lastErr     error

	backoff  backoff
	runner   *runner.Runner
	stopped  *stopchannel.StopChannel

	dedup dedupState

	numBytesIn     int64
	numBuffersIn   int64
	numBuffersRemoved int

	notifyC chan struct{}

	logger *zap.Logger
}

// NewLocalInputChannel constructs a channel bound to one subpartition of
// one result partition. initialBackoffMillis == 0 disables retry.
func NewLocalInputChannel(
	channelIndex types.ChannelIndex,
	partitionID types.PartitionID,
	subIndex types.SubpartitionIndex,
	pm PartitionManager,
	dispatcher TaskEventDispatcher,
	initialBackoffMillis, maxBackoffMillis int,
	logger *zap.Logger,
) *LocalInputChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &LocalInputChannel{
		channelIndex:        channelIndex,
		partitionID:         partitionID,
		subIndex:            subIndex,
		partitionManager:    pm,
		taskEventDispatcher: dispatcher,
		backoff:             newBackoff(initialBackoffMillis, maxBackoffMillis),
		runner:              runner.New("local-input-channel-retrigger", logger),
		stopped:             stopchannel.New(),
		notifyC:             make(chan struct{}, 1),
		logger: logger.Named("local-input-channel").With(
			zap.Uint8("channel", uint8(channelIndex)),
			zap.Stringer("partition", partitionID),
			zap.Stringer("subpartition", subIndex)),
	}
	c.cond = sync.NewCond(&c.requestLock)
	return c
}

func (c *LocalInputChannel) String() string {
	return fmt.Sprintf("LocalInputChannel %d [%s/%s]", c.channelIndex, c.partitionID, c.subIndex)
}

// NotifyDataAvailable implements partition.ReadView.
func (c *LocalInputChannel) NotifyDataAvailable() {
	select {
	case c.notifyC <- struct{}{}:
	default:
	}
}

// NotifyReleased implements partition.ReadView.
func (c *LocalInputChannel) NotifyReleased() {}

// RequestSubpartition establishes the subpartition view, retrying with
// exponential backoff on ErrPartitionNotFound up to max_backoff. Once
// backoff is exhausted the error surfaces to the caller.
func (c *LocalInputChannel) RequestSubpartition(ctx context.Context) error {
	c.requestLock.Lock()
	if c.isReleased {
		c.requestLock.Unlock()
		return verrors.ErrReleased
	}
	if c.view != nil {
		c.requestLock.Unlock()
		return nil
	}

	view, err := c.partitionManager.CreateSubpartitionView(c.partitionID, c.subIndex, c)
	if err == nil {
		c.view = view
		released := c.isReleased
		c.requestLock.Unlock()
		c.cond.Broadcast()
		if released {
			view.ReleaseAllResources()
			c.requestLock.Lock()
			c.view = nil
			c.requestLock.Unlock()
		}
		return nil
	}
	c.requestLock.Unlock()

	if !verrors.IsTransient(err) {
		return err
	}
	delayMillis, retry := c.backoff.increase()
	if !retry {
		c.logger.Warn("subpartition request exhausted backoff", zap.Error(err))
		return err
	}
	c.logger.Debug("retriggering subpartition request", zap.Int("delay_ms", delayMillis))
	c.scheduleRetrigger(ctx, time.Duration(delayMillis)*time.Millisecond)
	return nil
}

func (c *LocalInputChannel) scheduleRetrigger(ctx context.Context, delay time.Duration) {
	c.runner.Run(func(taskCtx context.Context) {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
			if err := c.RequestSubpartition(ctx); err != nil {
				c.requestLock.Lock()
				c.lastErr = err
				c.requestLock.Unlock()
			}
		case <-taskCtx.Done():
		case <-c.stopped.StopC():
		}
	})
}

// checkAndWaitForView blocks until the asynchronous subpartition request
// completes or the channel is released.
func (c *LocalInputChannel) checkAndWaitForView() (partition.View, error) {
	c.requestLock.Lock()
	defer c.requestLock.Unlock()
	for c.view == nil && !c.isReleased {
		c.cond.Wait()
	}
	if c.isReleased {
		return nil, verrors.ErrReleased
	}
	return c.view, nil
}

// GetNextBuffer polls the subpartition view, applying deduplication while
// armed. Returns (nil, nil) when nothing is currently available.
func (c *LocalInputChannel) GetNextBuffer() (*buffer.BufferAndBacklog, error) {
	c.requestLock.Lock()
	err := c.lastErr
	view := c.view
	c.requestLock.Unlock()
	if err != nil {
		return nil, err
	}

	if view == nil {
		c.requestLock.Lock()
		released := c.isReleased
		c.requestLock.Unlock()
		if released {
			return nil, nil
		}
		view, err = c.checkAndWaitForView()
		if err != nil {
			return nil, err
		}
	}

	for {
		next, err := view.GetNextBuffer()
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, nil
		}

		c.requestLock.Lock()
		drop := c.dedup.shouldDrop()
		c.requestLock.Unlock()
		if drop {
			next.Buffer.Release()
			if !next.MoreAvailable {
				return nil, nil
			}
			continue
		}

		c.numBytesIn += int64(next.Buffer.ReadableBytes())
		c.numBuffersIn++
		c.requestLock.Lock()
		c.numBuffersRemoved++
		c.requestLock.Unlock()
		return next, nil
	}
}

// SendTaskEvent publishes event to the producer side. An InFlightLogRequest
// may be sent before the view exists (the producer routes it by
// partitionID directly); every other event requires the view to already be
// established.
func (c *LocalInputChannel) SendTaskEvent(event TaskEvent, allowBeforeRequest bool) error {
	c.requestLock.Lock()
	hasView := c.view != nil
	c.requestLock.Unlock()
	if !hasView && !allowBeforeRequest {
		return fmt.Errorf("%s: tried to send task event before requesting subpartition", c)
	}
	if !c.taskEventDispatcher.Publish(c.partitionID, event) {
		return fmt.Errorf("%s: producer for event %s could not be found", c, event.EventName())
	}
	return nil
}

// SetNumberBuffersDeduplicate arms the target count for the next replay.
func (c *LocalInputChannel) SetNumberBuffersDeduplicate(n int) {
	c.requestLock.Lock()
	defer c.requestLock.Unlock()
	c.dedup.setTarget(n)
}

// SetDeduplicating flips the channel into deduplicating mode using the
// previously-set target.
func (c *LocalInputChannel) SetDeduplicating() {
	c.requestLock.Lock()
	defer c.requestLock.Unlock()
	c.dedup.activate()
}

// GetResetNumberBuffersRemoved returns and zeroes the delivered-buffer
// counter, used by the recovery manager to bound its truncation request to
// the upstream in-flight log.
func (c *LocalInputChannel) GetResetNumberBuffersRemoved() int {
	c.requestLock.Lock()
	defer c.requestLock.Unlock()
	n := c.numBuffersRemoved
	c.numBuffersRemoved = 0
	return n
}

// IsReleased reports whether ReleaseAllResources has run.
func (c *LocalInputChannel) IsReleased() bool {
	c.requestLock.Lock()
	defer c.requestLock.Unlock()
	return c.isReleased
}

// ReleaseAllResources is idempotent: it stops any pending retrigger timer
// and releases the subpartition view, if one was ever established.
func (c *LocalInputChannel) ReleaseAllResources() error {
	c.requestLock.Lock()
	if c.isReleased {
		c.requestLock.Unlock()
		return nil
	}
	c.isReleased = true
	view := c.view
	c.view = nil
	c.requestLock.Unlock()
	c.cond.Broadcast()

	c.stopped.Stop()
	c.runner.Stop()

	if view != nil {
		return view.ReleaseAllResources()
	}
	return nil
}

// ToNewLocal releases this channel and returns a fresh LocalInputChannel at
// the same channel index bound to newPartitionID, matching
// toNewLocalInputChannel's channel-identity reincarnation.
func (c *LocalInputChannel) ToNewLocal(newPartitionID types.PartitionID, subIndex types.SubpartitionIndex) (*LocalInputChannel, error) {
	if err := c.ReleaseAllResources(); err != nil {
		return nil, err
	}
	return NewLocalInputChannel(c.channelIndex, newPartitionID, subIndex, c.partitionManager, c.taskEventDispatcher, c.backoff.initial, c.backoff.max, c.logger), nil
}
