package buffer

// BufferConsumer is a write-view onto a Buffer. IsFinished signals that the
// writer will append no more data. A PipelinedSubpartition may hold at most
// one unfinished BufferConsumer, and it must be the tail of its queue.
type BufferConsumer struct {
	buf       *Buffer
	finished  bool
	readerPos int
}

// NewConsumer wraps buf as a write-view. finished should be true when the
// writer has already produced everything it will produce (e.g. a
// single-shot control event).
func NewConsumer(buf *Buffer, finished bool) *BufferConsumer {
	return &BufferConsumer{buf: buf, finished: finished}
}

func (c *BufferConsumer) IsFinished() bool {
	return c.finished
}

// Finish marks the consumer finished. Idempotent.
func (c *BufferConsumer) Finish() {
	c.finished = true
}

// IsEvent reports whether the underlying buffer carries a control event.
func (c *BufferConsumer) IsEvent() bool {
	return c.buf.IsEvent()
}

// ReadableBytes reports how many bytes have been written since the last
// Build and are available to build next, which may grow between calls if
// the consumer is not yet finished.
func (c *BufferConsumer) ReadableBytes() int {
	return c.buf.ReadableBytes() - c.readerPos
}

// Build snapshots only the bytes written since the last Build call as an
// independently refcounted Buffer, suitable for dispatch to a downstream
// channel and for logging into the in-flight log, and advances the reader
// position past them. Calling Build again before the writer appends
// anything new yields an empty buffer rather than re-snapshotting already
// dispatched bytes.
func (c *BufferConsumer) Build(onZero func(*Buffer)) *Buffer {
	n := c.ReadableBytes()
	out := c.buf.Snapshot(c.readerPos, n, onZero)
	c.readerPos += n
	return out
}

// Close releases the writer's own reference to the underlying buffer. Safe
// to call once the consumer has been fully built and dequeued, or when the
// subpartition is closing without ever having dispatched it.
func (c *BufferConsumer) Close() (freed bool, overReleased bool) {
	return c.buf.Release()
}

// BufferAndBacklog is the tuple PipelinedSubpartition.PollBuffer returns:
// the dispatched buffer, whether more data is queued behind it, the current
// backlog size, and whether the next queued item is a control event.
type BufferAndBacklog struct {
	Buffer        *Buffer
	MoreAvailable bool
	Backlog       int
	NextIsEvent   bool
}
