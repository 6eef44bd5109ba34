package epoch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clonos-sigmod21/clonos/pkg/types"
)

type recordingEpochListener struct {
	seen []types.EpochID
}

func (l *recordingEpochListener) OnEpochStart(epoch types.EpochID) {
	l.seen = append(l.seen, epoch)
}

type recordingCheckpointListener struct {
	seen []types.CheckpointID
}

func (l *recordingCheckpointListener) OnCheckpointComplete(id types.CheckpointID) {
	l.seen = append(l.seen, id)
}

type countingNotifiee struct {
	fired int
}

func (n *countingNotifiee) NotifyRecordCountTargetReached() {
	n.fired++
}

func TestTrackerStartNewEpochResetsRecordCount(t *testing.T) {
	tr := New()
	tr.StartNewEpoch(1)
	tr.IncRecordCount()
	tr.IncRecordCount()
	assert.EqualValues(t, 2, tr.RecordCount())

	tr.StartNewEpoch(2)
	assert.EqualValues(t, 0, tr.RecordCount())
	assert.Equal(t, types.EpochID(2), tr.CurrentEpoch())
}

func TestTrackerNotifiesListenersInOrder(t *testing.T) {
	tr := New()
	var order []int
	l1 := &orderListener{id: 1, order: &order}
	l2 := &orderListener{id: 2, order: &order}
	tr.SubscribeToEpochStartEvents(l1)
	tr.SubscribeToEpochStartEvents(l2)
	tr.StartNewEpoch(5)
	assert.Equal(t, []int{1, 2}, order)
}

type orderListener struct {
	id    int
	order *[]int
}

func (l *orderListener) OnEpochStart(types.EpochID) {
	*l.order = append(*l.order, l.id)
}

func TestTrackerCheckpointComplete(t *testing.T) {
	tr := New()
	cl := &recordingCheckpointListener{}
	tr.SubscribeToCheckpointCompleteEvents(cl)
	tr.NotifyCheckpointComplete(3)
	assert.Equal(t, []types.CheckpointID{3}, cl.seen)
}

func TestTrackerRecordCountTarget(t *testing.T) {
	tr := New()
	n := &countingNotifiee{}
	tr.SetRecoveryManager(n)
	tr.SetRecordCountTarget(3)
	tr.IncRecordCount()
	tr.IncRecordCount()
	assert.Equal(t, 0, n.fired)
	tr.IncRecordCount()
	assert.Equal(t, 1, n.fired)
	// Firing is one-shot: further increments don't refire.
	tr.IncRecordCount()
	assert.Equal(t, 1, n.fired)
}
