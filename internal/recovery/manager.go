package recovery

import (
	"fmt"
	"sync"

	"github.com/puzpuzpuz/xsync/v2"
	"go.uber.org/zap"

	"github.com/clonos-sigmod21/clonos/internal/protocol"
	"github.com/clonos-sigmod21/clonos/pkg/types"
	"github.com/clonos-sigmod21/clonos/pkg/util/runner/stopwaiter"
	"github.com/clonos-sigmod21/clonos/pkg/verrors"
)

// subpartitionEntry pairs the two collaborators the manager needs per
// tracked subpartition: the producer-side replay trigger and, once one has
// been attached, the consumer-side dedup target.
type subpartitionEntry struct {
	subpartition ReplayableSubpartition
	channel      DeduplicatingChannel
}

// Manager is the RecoveryManager FSM: it collects determinants from
// upstream peers after a task failure, replays them deterministically into
// the operator, and once caught up, releases every subpartition still
// waiting on a replay request.
type Manager struct {
	taskVertexID types.VertexID

	broadcaster UpstreamBroadcaster
	replayer    DeterminantReplayer
	reachable   PeerReachability

	mu    sync.Mutex
	state State

	correlationID          types.CorrelationID
	nextCorrelationID      types.CorrelationID
	incompleteRestorations map[types.EpochID]struct{}
	responses              []protocol.DeterminantResponseEvent
	recordCountTarget      int
	recordCount            int

	// subpartitions and unanswered use a reader-biased mutex, the same
	// primitive the sibling stack reaches for to guard a plain map behind a
	// read-mostly workload (see pkg/varlog/x/mlsa.Manager): most calls here
	// are reads keyed by (partitionID, subpartitionIndex) from the network
	// I/O thread, and writes only happen on channel attach/detach.
	subMu         *xsync.RBMutex
	subpartitions map[types.SubpartitionKey]*subpartitionEntry
	unanswered    map[types.SubpartitionKey]protocol.InFlightLogRequestEvent

	sw *stopwaiter.StopWaiter

	logger *zap.Logger
}

// Option configures a Manager at construction time.
type Option func(*Manager)

func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func New(taskVertexID types.VertexID, broadcaster UpstreamBroadcaster, replayer DeterminantReplayer, reachable PeerReachability, opts ...Option) *Manager {
	m := &Manager{
		taskVertexID:           taskVertexID,
		broadcaster:            broadcaster,
		replayer:               replayer,
		reachable:              reachable,
		state:                  Standby,
		incompleteRestorations: make(map[types.EpochID]struct{}),
		subMu:                  xsync.NewRBMutex(),
		subpartitions:          make(map[types.SubpartitionKey]*subpartitionEntry),
		unanswered:             make(map[types.SubpartitionKey]protocol.InFlightLogRequestEvent),
		sw:                     stopwaiter.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	m.logger = m.logger.Named("recovery-manager").With(zap.Stringer("vertex", taskVertexID))
	return m
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Close stops the manager permanently: the owning task is tearing down, not
// cycling back into another recovery. Safe to call more than once.
func (m *Manager) Close() {
	m.sw.Stop()
}

// Stopped reports whether Close has run.
func (m *Manager) Stopped() bool {
	return m.sw.Stopped()
}

// Wait blocks until Close has run.
func (m *Manager) Wait() {
	m.sw.Wait()
}

// RegisterSubpartition makes the manager aware of a producer-side
// subpartition it may need to replay, and its currently attached channel,
// if any. Called once per subpartition when the owning task starts.
func (m *Manager) RegisterSubpartition(key types.SubpartitionKey, sub ReplayableSubpartition) {
	t := m.subMu.RLock()
	_, exists := m.subpartitions[key]
	m.subMu.RUnlock(t)
	if exists {
		return
	}
	m.subMu.Lock()
	m.subpartitions[key] = &subpartitionEntry{subpartition: sub}
	m.subMu.Unlock()
}

// NotifyStartRecovery transitions Standby to WaitingConnections. It is a
// no-op if recovery is already underway, matching the terminate-in-Running
// lifecycle that may cycle back on cascaded failures.
func (m *Manager) NotifyStartRecovery() error {
	if m.sw.Stopped() {
		return verrors.ErrClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Standby && m.state != Running {
		return nil
	}
	m.state = WaitingConnections
	m.responses = nil
	m.recordCount = 0
	m.recordCountTarget = 0
	m.nextCorrelationID++
	m.correlationID = m.nextCorrelationID
	m.logger.Info("recovery started", zap.Stringer("state", m.state))
	return m.tryAdvanceToWaitingDeterminantsLocked()
}

// NotifyNewInputChannel records dedupe target for ic and marks it, per the
// invariant that this must not let the channel drop into normal operation
// while recovery is still in progress. It is applied immediately if the
// manager is already Running.
func (m *Manager) NotifyNewInputChannel(key types.SubpartitionKey, ic DeduplicatingChannel, numDedupe int) {
	m.subMu.Lock()
	entry, ok := m.subpartitions[key]
	if !ok {
		entry = &subpartitionEntry{}
		m.subpartitions[key] = entry
	}
	entry.channel = ic
	m.subMu.Unlock()

	ic.SetNumberBuffersDeduplicate(numDedupe)

	m.mu.Lock()
	running := m.state == Running
	m.mu.Unlock()
	if running {
		ic.SetDeduplicating()
	}
	// While not Running, SetDeduplicating is deferred until
	// NotifyRecordCountTargetReached enters Running, so the
	// channel does not start dropping buffers before a replay is actually
	// requested.
}

// NotifyNewOutputChannel registers a freshly (re)created producer-side
// subpartition, e.g. after to_new_local/to_new_remote reincarnation.
func (m *Manager) NotifyNewOutputChannel(key types.SubpartitionKey, sub ReplayableSubpartition) {
	m.RegisterSubpartition(key, sub)
}

func (m *Manager) tryAdvanceToWaitingDeterminantsLocked() error {
	if m.state != WaitingConnections {
		return nil
	}
	if m.reachable != nil && !m.reachable.AllChannelsReady() {
		return nil
	}
	m.state = WaitingDeterminants
	m.logger.Info("all channels ready, broadcasting determinant request")
	req := protocol.DeterminantRequestEvent{
		FailedVertex:          m.taskVertexID,
		UpstreamCorrelationID: m.correlationID,
	}
	if m.broadcaster == nil {
		return nil
	}
	return m.broadcaster.BroadcastDeterminantRequest(req)
}

// NotifyAllChannelsReady drives the WaitingConnections -> WaitingDeterminants
// transition once the caller's own reachability check outside the manager
// (e.g. an input gate finishing its channel setup) has passed.
func (m *Manager) NotifyAllChannelsReady() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tryAdvanceToWaitingDeterminantsLocked()
}

// NotifyDeterminantResponse merges resp into the accumulated response set.
// Once every upstream peer this task depends on has answered — signaled by
// the caller passing complete=true on the final expected response — the
// manager replays the merged determinants and transitions to
// ReplayingDeterminants, then immediately to Running unless a target set by
// SetRecordCountTarget is larger than the number of records the replay
// produced.
func (m *Manager) NotifyDeterminantResponse(resp protocol.DeterminantResponseEvent, complete bool) error {
	m.mu.Lock()
	if m.state != WaitingDeterminants {
		m.mu.Unlock()
		return fmt.Errorf("%w: determinant response received in state %s", verrors.ErrInvalidState, m.state)
	}
	m.responses = append(m.responses, resp)
	if !complete {
		m.mu.Unlock()
		return nil
	}

	merged := m.responses[0]
	for _, r := range m.responses[1:] {
		merged = protocol.MergeDeterminantResponses(merged, r)
	}
	m.state = ReplayingDeterminants
	m.logger.Info("determinant collection complete, replaying", zap.Bool("found", merged.Found))
	m.mu.Unlock()

	if m.replayer == nil {
		return m.NotifyRecordCountTargetReached(0)
	}
	produced, err := m.replayer.ReplayDeterminants(merged)
	if err != nil {
		return err
	}
	return m.NotifyRecordCountTargetReached(produced)
}

// SetRecordCountTarget records how many records the epoch tracker's
// notifiee expects replay to reach before recovery can complete. It exists
// as a separate hook from NotifyDeterminantResponse so a caller wiring an
// EpochTracker's RecordCountTargetNotifiee can drive it directly.
func (m *Manager) SetRecordCountTarget(target int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordCountTarget = target
}

// NotifyRecordCountTargetReached transitions ReplayingDeterminants to
// Running once enough records have replayed, flushing every unanswered
// in-flight log request by requesting a replay on its subpartition, and
// arming every attached channel's deduplication.
func (m *Manager) NotifyRecordCountTargetReached(recordsProduced int) error {
	m.mu.Lock()
	if m.state != ReplayingDeterminants {
		m.mu.Unlock()
		return nil
	}
	m.recordCount += recordsProduced
	if m.recordCountTarget > 0 && m.recordCount < m.recordCountTarget {
		m.mu.Unlock()
		return nil
	}
	m.state = Running
	m.mu.Unlock()

	m.logger.Info("record count target reached, entering Running")

	m.subMu.Lock()
	unanswered := m.unanswered
	m.unanswered = make(map[types.SubpartitionKey]protocol.InFlightLogRequestEvent)
	entries := make([]*subpartitionEntry, 0, len(m.subpartitions))
	for _, e := range m.subpartitions {
		entries = append(entries, e)
	}
	m.subMu.Unlock()

	for key := range unanswered {
		t := m.subMu.RLock()
		entry, ok := m.subpartitions[key]
		m.subMu.RUnlock(t)
		if ok && entry.subpartition != nil {
			entry.subpartition.RequestReplay()
		}
	}
	for _, e := range entries {
		if e.channel != nil {
			e.channel.SetDeduplicating()
		}
	}
	return nil
}

// NotifyInFlightLogRequest routes an in-flight log request. While a recovery
// is underway (WaitingConnections through ReplayingDeterminants), every
// request is stashed as unanswered and answered on entering Running. In
// Standby or Running, if the target subpartition is still restoring its own
// in-flight state, the request is stashed as unanswered; otherwise the
// subpartition is told to replay immediately.
func (m *Manager) NotifyInFlightLogRequest(e protocol.InFlightLogRequestEvent) {
	key := types.SubpartitionKey{PartitionID: e.PartitionID, SubpartitionIndex: e.SubpartitionIndex}

	m.mu.Lock()
	if m.state != Standby && m.state != Running {
		m.subMu.Lock()
		m.unanswered[key] = e
		m.subMu.Unlock()
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	t := m.subMu.RLock()
	entry, ok := m.subpartitions[key]
	m.subMu.RUnlock(t)

	if !ok || entry.subpartition == nil {
		m.subMu.Lock()
		m.unanswered[key] = e
		m.subMu.Unlock()
		return
	}

	if entry.subpartition.IsRecoveringSubpartitionInFlightState() {
		m.subMu.Lock()
		m.unanswered[key] = e
		m.subMu.Unlock()
		return
	}
	entry.subpartition.RequestReplay()
}

// NotifyStateRestorationStart records that ckptID's state restoration has
// begun and is not yet complete.
func (m *Manager) NotifyStateRestorationStart(ckptID types.CheckpointID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incompleteRestorations[ckptID] = struct{}{}
}

// NotifyStateRestorationComplete clears ckptID from the incomplete set.
func (m *Manager) NotifyStateRestorationComplete(ckptID types.CheckpointID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.incompleteRestorations, ckptID)
}

// HasIncompleteStateRestorations reports whether any tracked checkpoint's
// state restoration has not yet completed.
func (m *Manager) HasIncompleteStateRestorations() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.incompleteRestorations) > 0
}
