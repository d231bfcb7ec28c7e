package paxos

import (
	"log"
	"time"
)

// CatchUpManager takes snapshots when the log outgrows
// the configured thresholds, and drives the query/response protocol a
// lagging replica uses to fill holes below a known-decided id, or below
// the log entirely by installing a peer's snapshot.
type CatchUpManager struct {
	cfg     Config
	log     *Log
	storage Storage
	service Service
	network Network
	learner *Learner
	logger  *log.Logger
	post    func(func())
	policy  SnapshotPolicy

	resendTimeout time.Duration
	queryGen      int
}

func NewCatchUpManager(cfg Config, l *Log, storage Storage, service Service, network Network, learner *Learner, logger *log.Logger, post func(func())) *CatchUpManager {
	m := &CatchUpManager{
		cfg:           cfg,
		log:           l,
		storage:       storage,
		service:       service,
		network:       network,
		learner:       learner,
		logger:        logger,
		post:          post,
		policy:        NewSnapshotPolicy(cfg),
		resendTimeout: cfg.CatchUpMinResendTimeout,
	}
	network.AddMessageListener(MsgCatchUpQuery, func(msg Message, sender int) {
		post(func() { m.onQuery(msg.(CatchUpQuery), sender) })
	})
	network.AddMessageListener(MsgCatchUpResponse, func(msg Message, sender int) {
		post(func() { m.onResponse(msg.(CatchUpResponse), sender) })
	})
	network.AddMessageListener(MsgCatchUpSnapshot, func(msg Message, sender int) {
		post(func() { m.onSnapshot(msg.(CatchUpSnapshot), sender) })
	})
	return m
}

// Start schedules the periodic gap check, which fires regardless of
// suspected gaps and doubles as the retry driver for an
// outstanding query.
func (m *CatchUpManager) Start() {
	m.scheduleCheck(m.cfg.PeriodicCatchUpTimeout)
}

func (m *CatchUpManager) scheduleCheck(after time.Duration) {
	time.AfterFunc(after, func() { m.post(func() { m.periodicCheck() }) })
}

func (m *CatchUpManager) periodicCheck() {
	m.checkSnapshot()
	m.checkGaps()
	m.scheduleCheck(m.cfg.PeriodicCatchUpTimeout)
}

// checkSnapshot asks the Service for a checkpoint once the log has grown
// past the ask threshold, and installs it the moment it is produced.
// ShouldForce is a stronger version of the same condition; the core makes
// no distinction beyond eventually asking, since blocking new appends
// outright is not worth the added coupling for a cooperative dispatcher
// that will service the request on its very next task anyway.
func (m *CatchUpManager) checkSnapshot() {
	current := m.storage.LoadSnapshot()
	size := m.log.sizeBytes()
	if !m.policy.ShouldAsk(size, current) {
		return
	}
	executedUpTo := m.learner.NextToExecute() - 1
	if executedUpTo < m.log.GetFirstID() {
		return
	}
	inst := m.log.GetInstance(executedUpTo)
	if inst == nil || inst.State != Decided {
		return
	}

	snap := &Snapshot{
		LastIncludedInstanceID: executedUpTo,
		LastIncludedView:       inst.View,
		ServiceBytes:           m.service.MakeSnapshot(),
	}
	if err := m.storage.SaveSnapshot(snap); err != nil {
		storageFailure(err)
	}
	m.log.TruncateBelow(executedUpTo + 1)
	m.storage.ForgetBelow(executedUpTo + 1)
}

// checkGaps looks for a hole: an id that is not Decided but below which —
// strictly, above which in id order — a higher id in the log is already
// Decided, meaning this replica is missing something its peers moved past.
func (m *CatchUpManager) checkGaps() {
	highestDecided := int32(-1)
	for id := m.log.GetFirstID(); id < m.log.GetNextID(); id++ {
		if m.log.GetState(id) == Decided {
			highestDecided = id
		}
	}
	if highestDecided < 0 {
		return
	}

	var missing []int32
	for id := m.log.GetFirstID(); id < highestDecided; id++ {
		if m.log.GetState(id) != Decided {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return
	}
	m.sendQuery(missing)
}

func (m *CatchUpManager) sendQuery(missing []int32) {
	m.queryGen++
	gen := m.queryGen
	m.logger.Printf("catchup: querying peers for %d missing instance(s): %v", len(missing), missing)
	query := CatchUpQuery{FirstUncommitted: m.log.GetFirstID(), Missing: missing}
	for dest := 0; dest < m.cfg.N; dest++ {
		if dest != m.cfg.LocalID {
			m.network.SendTo(dest, query)
		}
	}
	m.scheduleResend(gen, missing)
}

// scheduleResend implements the self-adjusting backoff: starting at
// CatchUpMinResendTimeout and doubling on every unanswered retry, capped
// at PeriodicCatchUpTimeout.
func (m *CatchUpManager) scheduleResend(gen int, missing []int32) {
	timeout := m.resendTimeout
	time.AfterFunc(timeout, func() {
		m.post(func() {
			if gen != m.queryGen {
				return
			}
			stillMissing := m.filterStillMissing(missing)
			if len(stillMissing) == 0 {
				return
			}
			m.resendTimeout *= 2
			if m.resendTimeout > m.cfg.PeriodicCatchUpTimeout {
				m.resendTimeout = m.cfg.PeriodicCatchUpTimeout
			}
			m.sendQuery(stillMissing)
		})
	})
}

func (m *CatchUpManager) filterStillMissing(ids []int32) []int32 {
	var out []int32
	for _, id := range ids {
		if id < m.log.GetFirstID() || m.log.GetState(id) != Decided {
			out = append(out, id)
		}
	}
	return out
}

// onQuery answers a peer's CatchUpQuery. Any requested id below our own
// log's first id predates what we still hold; a single snapshot reply
// covers that case (and implicitly everything above it the peer asked
// for that is also below our firstID).
func (m *CatchUpManager) onQuery(msg CatchUpQuery, sender int) {
	for _, id := range msg.Missing {
		if id < m.log.GetFirstID() {
			snap := m.storage.LoadSnapshot()
			if snap == nil {
				continue
			}
			m.network.SendTo(sender, CatchUpSnapshot{
				LastIncludedInstanceID: snap.LastIncludedInstanceID,
				LastIncludedView:       snap.LastIncludedView,
				ServiceBytes:           snap.ServiceBytes,
				ClientReplyCache:       snap.ClientReplyCache,
			})
			return
		}
	}

	var have []*ConsensusInstance
	for _, id := range msg.Missing {
		if m.log.GetState(id) == Decided {
			if inst := m.log.GetInstance(id); inst != nil {
				have = append(have, inst.clone())
			}
		}
	}
	if len(have) > 0 {
		m.network.SendTo(sender, CatchUpResponse{Instances: have})
	}
}

func (m *CatchUpManager) onResponse(msg CatchUpResponse, sender int) {
	for _, inst := range msg.Instances {
		m.learner.AdoptFromPrepareOK(inst)
	}
	m.resendTimeout = m.cfg.CatchUpMinResendTimeout
}

func (m *CatchUpManager) onSnapshot(msg CatchUpSnapshot, sender int) {
	current := m.storage.LoadSnapshot()
	if current != nil && current.LastIncludedInstanceID >= msg.LastIncludedInstanceID {
		return
	}
	m.logger.Printf("catchup: installing snapshot from %d covering up to instance %d at view %d", sender, msg.LastIncludedInstanceID, msg.LastIncludedView)
	snap := &Snapshot{
		LastIncludedInstanceID: msg.LastIncludedInstanceID,
		LastIncludedView:       msg.LastIncludedView,
		ServiceBytes:           msg.ServiceBytes,
		ClientReplyCache:       msg.ClientReplyCache,
	}
	if err := m.storage.SaveSnapshot(snap); err != nil {
		storageFailure(err)
	}
	if err := m.storage.SetView(msg.LastIncludedView); err != nil {
		storageFailure(err)
	}
	m.service.UpdateToSnapshot(msg.ServiceBytes)
	m.log.TruncateBelow(msg.LastIncludedInstanceID + 1)
	m.storage.ForgetBelow(msg.LastIncludedInstanceID + 1)
	m.learner.SkipTo(msg.LastIncludedInstanceID + 1)
	m.resendTimeout = m.cfg.CatchUpMinResendTimeout
}
