package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferRetainRelease(t *testing.T) {
	freedCount := 0
	b := New([]byte("hello"), func(*Buffer) { freedCount++ })
	b.Retain()
	assert.EqualValues(t, 2, b.RefCount())

	freed, over := b.Release()
	assert.False(t, freed)
	assert.False(t, over)
	assert.Equal(t, 0, freedCount)

	freed, over = b.Release()
	assert.True(t, freed)
	assert.False(t, over)
	assert.Equal(t, 1, freedCount)
}

func TestBufferOverRelease(t *testing.T) {
	b := New([]byte("x"), nil)
	b.Release()
	_, over := b.Release()
	assert.True(t, over)
}

func TestBufferConsumerBuildSnapshotIsIndependent(t *testing.T) {
	underlying := New([]byte("abc"), nil)
	c := NewConsumer(underlying, false)
	snap := c.Build(nil)
	assert.Equal(t, 3, snap.ReadableBytes())
	assert.False(t, c.IsFinished())
	c.Finish()
	assert.True(t, c.IsFinished())
}

func TestBufferIsEvent(t *testing.T) {
	b := NewEvent([]byte("evt"), nil)
	assert.True(t, b.IsEvent())
	assert.False(t, b.IsBuffer())
}
