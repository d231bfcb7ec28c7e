package paxos

import "log"

// Acceptor handles Prepare/Propose on behalf of this replica. It is
// stateless across instances: all state it touches lives in Log and
// StableStorage, so the struct only carries the collaborators it needs to
// read/write them and to reply.
type Acceptor struct {
	cfg     Config
	log     *Log
	storage Storage
	network Network
	fd      *FailureDetector
	logger  *log.Logger
	post    func(func())
}

func NewAcceptor(cfg Config, l *Log, storage Storage, network Network, fd *FailureDetector, logger *log.Logger, post func(func())) *Acceptor {
	a := &Acceptor{cfg: cfg, log: l, storage: storage, network: network, fd: fd, logger: logger, post: post}
	network.AddMessageListener(MsgPrepare, func(msg Message, sender int) {
		post(func() { a.onPrepare(msg.(Prepare), sender) })
	})
	network.AddMessageListener(MsgPropose, func(msg Message, sender int) {
		post(func() { a.onPropose(msg.(Propose), sender) })
	})
	return a
}

func (a *Acceptor) currentView() int32 {
	v, err := a.storage.LoadView()
	if err != nil {
		storageFailure(err)
	}
	return v
}

func (a *Acceptor) onPrepare(msg Prepare, sender int) {
	view := a.currentView()
	if msg.ViewNum < view {
		return
	}
	if msg.ViewNum > view {
		if err := a.storage.SetView(msg.ViewNum); err != nil {
			storageFailure(err)
		}
		view = msg.ViewNum
		a.logger.Printf("acceptor: advancing view to %d via Prepare from %d", view, sender)
		a.fd.NotifyHigherView(view)
	} else {
		a.fd.NotifyHigherView(view)
	}

	var prepared []*ConsensusInstance
	for id := msg.FirstUncommitted; id < a.log.GetNextID(); id++ {
		inst := a.log.GetInstance(id)
		if inst == nil {
			continue
		}
		if inst.State == Known || inst.State == Decided {
			prepared = append(prepared, inst.clone())
		}
	}
	a.network.SendTo(sender, PrepareOK{ViewNum: view, Prepared: prepared})
}

func (a *Acceptor) onPropose(msg Propose, sender int) {
	view := a.currentView()
	v := msg.Instance.View
	id := msg.Instance.ID

	if v < view {
		return
	}
	if v > view {
		if err := a.storage.SetView(v); err != nil {
			storageFailure(err)
		}
		view = v
	}
	a.fd.NotifyHigherView(view)

	if id < a.log.GetFirstID() {
		return
	}
	inst := a.log.getOrCreate(id)
	inst.SetValue(v, msg.Instance.Value)
	if inst.State != Decided {
		// The proposer sends no Accept of its own; its Propose stands for it.
		inst.recordAccept(v, sender)
	}

	// Every replica's Learner counts this Accept, so the Accept goes to
	// the whole group (this replica included), not only to the proposer.
	for dest := 0; dest < a.cfg.N; dest++ {
		a.network.SendTo(dest, Accept{ViewNum: v, InstanceID: id})
	}
}
