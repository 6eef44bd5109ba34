package consumer

import (
	"github.com/clonos-sigmod21/clonos/internal/buffer"
)

// Channel is the surface the recovery manager and the input gate poll: both
// LocalInputChannel and RemoteInputChannel satisfy it.
type Channel interface {
	GetNextBuffer() (*buffer.BufferAndBacklog, error)
	SendTaskEvent(event TaskEvent, allowBeforeRequest bool) error
	ReleaseAllResources() error
	IsReleased() bool

	SetNumberBuffersDeduplicate(n int)
	SetDeduplicating()
	GetResetNumberBuffersRemoved() int
}

var (
	_ Channel = (*LocalInputChannel)(nil)
	_ Channel = (*RemoteInputChannel)(nil)
)
