package paxos

import (
	"encoding/binary"
	"log"
)

// ProposerState is the Proposer's phase.
type ProposerState int

const (
	Inactive ProposerState = iota
	Preparing
	Prepared
)

func (s ProposerState) String() string {
	switch s {
	case Inactive:
		return "INACTIVE"
	case Preparing:
		return "PREPARING"
	case Prepared:
		return "PREPARED"
	default:
		return "INVALID"
	}
}

// Proposer drives view changes and the batching Propose pipeline.
// It owns no state of its own about instance values — that lives in Log —
// only the phase, the pending client-request queue, and the in-flight
// retransmission handles for Prepare and each outstanding Propose.
type Proposer struct {
	cfg           Config
	log           *Log
	storage       Storage
	network       Network
	retransmitter *Retransmitter
	fd            *FailureDetector
	learner       *Learner
	logger        *log.Logger

	state       ProposerState
	preparedSet map[int]bool
	prepareHdl  *Handle
	proposeHdl  map[int32]*Handle

	pending    []Request
	pendingSet map[RequestID]bool

	lastRetransmitted int32
}

func NewProposer(cfg Config, l *Log, storage Storage, network Network, retransmitter *Retransmitter, fd *FailureDetector, learner *Learner, logger *log.Logger, post func(func())) *Proposer {
	p := &Proposer{
		cfg:           cfg,
		log:           l,
		storage:       storage,
		network:       network,
		retransmitter: retransmitter,
		fd:            fd,
		learner:       learner,
		logger:        logger,
		proposeHdl:    make(map[int32]*Handle),
		pendingSet:    make(map[RequestID]bool),
	}
	network.AddMessageListener(MsgPrepareOK, func(msg Message, sender int) {
		post(func() { p.onPrepareOK(msg.(PrepareOK), sender) })
	})
	learner.SetProposer(p)
	return p
}

func (p *Proposer) currentView() int32 {
	v, err := p.storage.LoadView()
	if err != nil {
		storageFailure(err)
	}
	return v
}

func (p *Proposer) allReplicas() []int {
	ids := make([]int, p.cfg.N)
	for i := range ids {
		ids[i] = i
	}
	return ids
}

func (p *Proposer) otherReplicas() []int {
	ids := make([]int, 0, p.cfg.N-1)
	for i := 0; i < p.cfg.N; i++ {
		if i != p.cfg.LocalID {
			ids = append(ids, i)
		}
	}
	return ids
}

// OnNewLeaderElected implements LeaderOracleListener: it drives the
// INACTIVE/PREPARING/PREPARED machine from the oracle's view transitions.
func (p *Proposer) OnNewLeaderElected(view int32, leader int) {
	if leader == p.cfg.LocalID {
		p.prepareNextView(view)
	} else {
		p.stopProposer()
	}
}

// prepareNextView begins a view change for the view the oracle just
// elected this replica to lead.
func (p *Proposer) prepareNextView(view int32) {
	if p.state != Inactive {
		p.stopProposer()
	}
	p.preparedSet = make(map[int]bool)
	p.state = Preparing
	p.logger.Printf("proposer: preparing view %d", view)

	if err := p.storage.SetView(view); err != nil {
		storageFailure(err)
	}
	p.fd.NotifyHigherView(view)

	p.prepareHdl = p.retransmitter.StartTransmitting(
		Prepare{ViewNum: view, FirstUncommitted: p.log.GetFirstID()},
		p.allReplicas(),
	)
}

func (p *Proposer) onPrepareOK(msg PrepareOK, sender int) {
	if p.state != Preparing && p.state != Prepared {
		return
	}
	if msg.ViewNum != p.currentView() {
		return
	}
	if p.state == Prepared {
		return
	}

	for _, e := range msg.Prepared {
		p.learner.AdoptFromPrepareOK(e)
	}

	p.preparedSet[sender] = true
	p.prepareHdl.StopDestination(sender)

	if len(p.preparedSet) > p.cfg.N/2 {
		p.enterPrepared()
	}
}

// enterPrepared moves the proposer from PREPARING to PREPARED and into
// actively proposing: every id in the committed window is brought to a value under
// the new view before any pending client request is proposed, so the new
// leader cannot silently drop a value a predecessor may have already
// locked in.
func (p *Proposer) enterPrepared() {
	p.state = Prepared
	p.logger.Printf("proposer: entering prepared for view %d", p.currentView())
	p.prepareHdl.Stop()
	p.prepareHdl = nil

	for id := p.log.GetFirstID(); id < p.log.GetNextID(); id++ {
		switch p.log.GetState(id) {
		case Decided:
			continue
		case Known:
			p.continueProposal(p.log.GetInstance(id))
		case Unknown:
			p.fillWithNoOperation(id)
		}
	}
	p.lastRetransmitted = p.log.GetNextID()
	p.sendNextProposal()
}

// continueProposal re-owns an orphaned KNOWN entry under the current view
// and resumes driving it to acceptance.
func (p *Proposer) continueProposal(inst *ConsensusInstance) {
	inst.SetValue(p.currentView(), inst.Value)
	p.startProposeRetransmit(inst)
}

// fillWithNoOperation locks the well-known NoOp value into an UNKNOWN
// entry inherited at a view change, so the log has no permanent holes.
func (p *Proposer) fillWithNoOperation(id int32) {
	inst := p.log.getOrCreate(id)
	inst.SetValue(p.currentView(), NoOpValue)
	p.startProposeRetransmit(inst)
}

func (p *Proposer) startProposeRetransmit(inst *ConsensusInstance) {
	p.proposeHdl[inst.ID] = p.retransmitter.StartTransmitting(
		Propose{ViewNum: inst.View, Instance: inst.clone()},
		p.otherReplicas(),
	)
	p.learner.RecordAccept(inst.ID, inst.View, p.cfg.LocalID)
}

// Propose queues a client request for batching into a future Propose.
// Refused while INACTIVE; a request already pending is
// dropped rather than queued twice.
func (p *Proposer) Propose(req Request) error {
	if p.state == Inactive {
		return ErrInactive
	}
	if p.pendingSet[req.ID] {
		return nil
	}
	p.pendingSet[req.ID] = true
	p.pending = append(p.pending, req)
	p.sendNextProposal()
	return nil
}

// sendNextProposal batches as many pending requests as fit and starts a
// new Propose, or — when there is nothing to send or the window is
// full — falls back to nudging gaps along.
func (p *Proposer) sendNextProposal() {
	if p.state == Preparing {
		return
	}
	if len(p.pending) == 0 || !p.withinWindow(p.log.GetNextID()) {
		p.retransmitGaps()
		return
	}

	first := p.pending[0]
	batchCap := p.cfg.BatchSize
	if want := 4 + first.ByteSize(); want > batchCap {
		batchCap = want
	}

	buf := make([]byte, 4, batchCap)
	count := 0
	i := 0
	for i < len(p.pending) {
		req := p.pending[i]
		if count > 0 && len(buf)+req.ByteSize() > batchCap {
			break
		}
		buf = req.WriteTo(buf)
		count++
		i++
	}
	binary.BigEndian.PutUint32(buf[0:4], uint32(count))

	for _, r := range p.pending[:i] {
		delete(p.pendingSet, r.ID)
	}
	p.pending = p.pending[i:]

	inst := p.log.Append(p.currentView(), buf)
	p.startProposeRetransmit(inst)
}

func (p *Proposer) withinWindow(nextID int32) bool {
	firstUncommitted := p.learner.NextToExecute()
	if first := p.log.GetFirstID(); first > firstUncommitted {
		firstUncommitted = first
	}
	return nextID < firstUncommitted+int32(p.cfg.WindowSize)
}

// retransmitGaps forces an immediate resend for every undecided id between
// lastRetransmitted and the current end of the log.
func (p *Proposer) retransmitGaps() {
	lo := p.lastRetransmitted
	if lo < p.log.GetFirstID() {
		lo = p.log.GetFirstID()
	}
	hi := p.log.GetNextID()
	for id := lo; id < hi; id++ {
		if p.log.GetState(id) == Decided {
			continue
		}
		if h, ok := p.proposeHdl[id]; ok {
			h.ForceRetransmit()
		}
	}
	p.lastRetransmitted = hi
}

// stopPropose cancels Propose retransmission for id entirely, called once
// the Learner decides it.
func (p *Proposer) stopPropose(id int32) {
	if h, ok := p.proposeHdl[id]; ok {
		h.Stop()
		delete(p.proposeHdl, id)
	}
}

// stopProposeDestination cancels Propose retransmission to a single
// destination for id, called as soon as that destination's Accept is
// observed, to save bandwidth ahead of full decision.
func (p *Proposer) stopProposeDestination(id int32, dest int) {
	if h, ok := p.proposeHdl[id]; ok {
		h.StopDestination(dest)
	}
}

// ballotFinished is called by the Learner after every Decide to refill the
// now-advanced window with more pending requests.
func (p *Proposer) ballotFinished() {
	p.sendNextProposal()
}

// stopProposer is called on leader loss: every in-flight retransmission is
// cancelled and pending requests are dropped, since a new leader will
// re-drive any KNOWN entry itself.
func (p *Proposer) stopProposer() {
	if p.state != Inactive {
		p.logger.Printf("proposer: stepping down from view %d", p.currentView())
	}
	p.state = Inactive
	p.pending = nil
	p.pendingSet = make(map[RequestID]bool)
	if p.prepareHdl != nil {
		p.prepareHdl.Stop()
		p.prepareHdl = nil
	}
	for id, h := range p.proposeHdl {
		h.Stop()
		delete(p.proposeHdl, id)
	}
}
