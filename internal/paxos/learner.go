package paxos

import (
	"bytes"
	"log"
)

// Learner counts Accepts and declares instances Decided. It delivers
// decided values to the Service strictly in ascending instance-id order,
// buffering any decision that arrives ahead of a still-undecided prefix
// until that prefix becomes contiguous.
type Learner struct {
	cfg     Config
	log     *Log
	storage Storage
	service Service
	network Network
	fd      *FailureDetector
	logger  *log.Logger

	proposer *Proposer // stopPropose/ballotFinished hooks; wired after construction
	post     func(func())

	nextToExecute int32
}

func NewLearner(cfg Config, l *Log, storage Storage, service Service, network Network, fd *FailureDetector, logger *log.Logger, post func(func())) *Learner {
	ln := &Learner{cfg: cfg, log: l, storage: storage, service: service, network: network, fd: fd, logger: logger, post: post}
	network.AddMessageListener(MsgAccept, func(msg Message, sender int) {
		post(func() { ln.onAccept(msg.(Accept), sender) })
	})
	return ln
}

// SetProposer wires the Proposer this Learner notifies on Decide and
// Accept; it is set once, after both are constructed, to break the
// otherwise-circular initialization order.
func (l *Learner) SetProposer(p *Proposer) { l.proposer = p }

// NextToExecute returns the lowest instance id not yet delivered to the
// Service, i.e. the contiguous Decided prefix boundary.
func (l *Learner) NextToExecute() int32 { return l.nextToExecute }

// SkipTo advances the execution boundary past a range the Service just
// adopted wholesale via UpdateToSnapshot, so deliverContiguous does not
// try to replay instances the snapshot already accounts for.
func (l *Learner) SkipTo(id int32) {
	if id > l.nextToExecute {
		l.nextToExecute = id
	}
}

// ReplayDecided delivers every already-Decided instance starting from the
// log's current first id to the Service; called once at startup after the
// log has been rebuilt from durable storage, since a freshly constructed
// Learner otherwise only delivers what it sees decided live.
func (l *Learner) ReplayDecided() {
	l.deliverContiguous()
}

func (l *Learner) onAccept(msg Accept, sender int) {
	l.fd.NotifyHigherView(msg.ViewNum)
	l.RecordAccept(msg.InstanceID, msg.ViewNum, sender)
}

// RecordAccept is the single entry point for crediting an acceptance,
// whether it arrived over the network or was generated locally by the
// Proposer issuing its own Propose (count a local Accept implicitly
// when the local replica itself issued Propose").
func (l *Learner) RecordAccept(id int32, view int32, sender int) {
	if id < l.log.GetFirstID() {
		return
	}
	inst := l.log.getOrCreate(id)
	if inst.State == Decided {
		return
	}
	if view < inst.View {
		return
	}

	count := inst.recordAccept(view, sender)

	if l.proposer != nil {
		l.proposer.stopProposeDestination(id, sender)
	}

	if count > l.cfg.N/2 && inst.Value != nil {
		l.decide(inst)
	}
}

// AdoptFromPrepareOK reconciles one entry of a PrepareOK's prepared[] list
// into the local log via PrepareOK handling: a locally Decided
// entry is left untouched; a remotely Decided entry is authoritative and
// adopted outright; a remotely Known entry is adopted only if its view is
// strictly newer than the local one.
func (l *Learner) AdoptFromPrepareOK(remote *ConsensusInstance) {
	if remote.ID < l.log.GetFirstID() {
		return
	}
	local := l.log.getOrCreate(remote.ID)
	if local.State == Decided {
		if remote.State == Decided && !bytes.Equal(local.Value, remote.Value) {
			protocolViolation(errDifferingDecisions(remote.ID))
		}
		return
	}
	switch remote.State {
	case Decided:
		local.View = remote.View
		local.Value = remote.Value
		l.decide(local)
	case Known:
		if remote.View > local.View {
			local.SetValue(remote.View, remote.Value)
		}
	}
}

func (l *Learner) decide(inst *ConsensusInstance) {
	inst.markDecided()
	if err := l.storage.MarkDecided(inst.ID, inst.View, inst.Value); err != nil {
		storageFailure(err)
	}
	l.logger.Printf("learner: instance %d decided at view %d", inst.ID, inst.View)
	if l.proposer != nil {
		l.proposer.stopPropose(inst.ID)
	}
	l.deliverContiguous()
	if l.proposer != nil {
		l.proposer.ballotFinished()
	}
}

// deliverContiguous executes every Decided instance starting at
// nextToExecute for as long as the prefix stays contiguous.
func (l *Learner) deliverContiguous() {
	if l.nextToExecute < l.log.GetFirstID() {
		l.nextToExecute = l.log.GetFirstID()
	}
	for {
		id := l.nextToExecute
		if id >= l.log.GetNextID() {
			return
		}
		inst := l.log.GetInstance(id)
		if inst == nil || inst.State != Decided {
			return
		}
		requests, err := DecodeBatch(inst.Value)
		if err != nil {
			protocolViolation(err)
		}
		for _, req := range requests {
			l.service.Execute(id, req)
		}
		l.service.InstanceExecuted(id)
		l.nextToExecute++
	}
}
