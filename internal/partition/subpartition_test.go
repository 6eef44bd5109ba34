package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clonos-sigmod21/clonos/internal/buffer"
	"github.com/clonos-sigmod21/clonos/internal/inflightlog"
	"github.com/clonos-sigmod21/clonos/pkg/types"
)

type fakeEpochSource struct {
	epoch types.EpochID
}

func (f *fakeEpochSource) CurrentEpoch() types.EpochID { return f.epoch }

type fakeReadView struct {
	notifyCount  int
	releaseCount int
}

func (v *fakeReadView) NotifyDataAvailable() { v.notifyCount++ }
func (v *fakeReadView) NotifyReleased()      { v.releaseCount++ }

func newTestSubpartition() (*Subpartition, *fakeEpochSource, *fakeReadView) {
	epochs := &fakeEpochSource{epoch: 1}
	log := inflightlog.New()
	view := &fakeReadView{}
	s := New(types.NewPartitionID(), 0, epochs, log)
	s.SetReadView(view)
	return s, epochs, view
}

func consumerWith(data string, finished bool) *buffer.BufferConsumer {
	return buffer.NewConsumer(buffer.New([]byte(data), nil), finished)
}

// S1: single epoch, no failure.
func TestSubpartitionSingleEpochNoFailure(t *testing.T) {
	s, _, _ := newTestSubpartition()

	for i := 0; i < 3; i++ {
		s.Add(consumerWith("record", true), false)
	}

	var dispatched []*buffer.BufferAndBacklog
	for i := 0; i < 3; i++ {
		bl, err := s.GetNextBuffer()
		require.NoError(t, err)
		require.NotNil(t, bl)
		dispatched = append(dispatched, bl)
	}
	assert.Equal(t, 3, s.inFlightLog.Size())

	s.inFlightLog.NotifyDownstreamCheckpointComplete(3)
	assert.Equal(t, 0, s.inFlightLog.Size())
}

// S2: downstream fail + replay.
func TestSubpartitionDownstreamFailAndReplay(t *testing.T) {
	s, _, _ := newTestSubpartition()

	s.Add(consumerWith("b1", true), false)
	s.Add(consumerWith("b2", true), false)

	b1, err := s.GetNextBuffer()
	require.NoError(t, err)
	b2, err := s.GetNextBuffer()
	require.NoError(t, err)
	assert.Equal(t, "b1", string(b1.Buffer.Data()))
	assert.Equal(t, "b2", string(b2.Buffer.Data()))

	s.SendFailConsumerTrigger(assert.AnError)

	// While downstream has failed, GetNextBuffer returns nothing.
	bl, err := s.GetNextBuffer()
	require.NoError(t, err)
	assert.Nil(t, bl)

	s.Add(consumerWith("b3", true), false)
	s.Add(consumerWith("b4", true), false)

	// b3 and b4 must have drained straight into the log, not been dispatched.
	assert.Equal(t, 4, s.inFlightLog.Size())

	s.RequestReplay()

	var replayed []string
	for i := 0; i < 4; i++ {
		bl, err := s.GetNextBuffer()
		require.NoError(t, err)
		require.NotNil(t, bl)
		replayed = append(replayed, string(bl.Buffer.Data()))
	}
	assert.Equal(t, []string{"b1", "b2", "b3", "b4"}, replayed)

	// New appends after replay dispatch normally again.
	s.Add(consumerWith("b5", true), false)
	bl, err = s.GetNextBuffer()
	require.NoError(t, err)
	require.NotNil(t, bl)
	assert.Equal(t, "b5", string(bl.Buffer.Data()))
}

// S6: flush/notify semantics.
func TestSubpartitionFlushNotifySemantics(t *testing.T) {
	s, _, view := newTestSubpartition()

	c1 := consumerWith("partial", false)
	s.Add(c1, false)
	assert.Equal(t, 0, view.notifyCount)

	c1.Finish()
	c2 := consumerWith("more", false)
	s.Add(c2, false)
	assert.Equal(t, 1, view.notifyCount)

	c2.Finish()
	// Drain fully.
	_, err := s.GetNextBuffer()
	require.NoError(t, err)
	_, err = s.GetNextBuffer()
	require.NoError(t, err)

	bl, err := s.GetNextBuffer()
	require.NoError(t, err)
	assert.Nil(t, bl)
	assert.Equal(t, 1, view.notifyCount)

	s.Flush()
	// Flush on an empty queue does not notify.
	assert.Equal(t, 1, view.notifyCount)

	s.Add(consumerWith("fresh", true), false)
	assert.Equal(t, 2, view.notifyCount)
}

// An unfinished tail consumer must not be re-dispatched on a subsequent
// poll unless the writer has appended new bytes: Build only snapshots what
// was written since the previous Build call.
func TestSubpartitionUnfinishedHeadNotRedispatchedWithoutNewData(t *testing.T) {
	s, _, _ := newTestSubpartition()

	c := consumerWith("partial", false)
	s.Add(c, false)

	bl, err := s.GetNextBuffer()
	require.NoError(t, err)
	require.NotNil(t, bl)
	assert.Equal(t, "partial", string(bl.Buffer.Data()))

	// Polling again before the writer appends anything new must yield
	// nothing, not a re-dispatch of the same bytes.
	bl, err = s.GetNextBuffer()
	require.NoError(t, err)
	assert.Nil(t, bl)
	assert.Equal(t, 1, s.inFlightLog.Size())
}

func TestSubpartitionReleaseIdempotent(t *testing.T) {
	s, _, view := newTestSubpartition()
	s.Add(consumerWith("x", true), false)

	require.NoError(t, s.ReleaseAllResources())
	assert.True(t, s.IsReleased())
	assert.Equal(t, 1, view.releaseCount)

	require.NoError(t, s.ReleaseAllResources())
	assert.Equal(t, 1, view.releaseCount)
}

func TestSubpartitionAddAfterReleaseIsRejected(t *testing.T) {
	s, _, _ := newTestSubpartition()
	require.NoError(t, s.ReleaseAllResources())
	accepted := s.Add(consumerWith("late", true), false)
	assert.False(t, accepted)
}

func TestSubpartitionRecoveringInFlightStateBlocksPoll(t *testing.T) {
	s, _, _ := newTestSubpartition()
	s.SetRecoveringInFlightState(true)
	s.Add(consumerWith("x", true), false)

	bl, err := s.GetNextBuffer()
	require.NoError(t, err)
	assert.Nil(t, bl)

	s.SetRecoveringInFlightState(false)
	bl, err = s.GetNextBuffer()
	require.NoError(t, err)
	require.NotNil(t, bl)
}
