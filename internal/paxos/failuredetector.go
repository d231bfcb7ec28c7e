package paxos

import (
	"errors"
	"log"
	"time"
)

// LeaderOracleListener is notified whenever the oracle's view advances.
type LeaderOracleListener interface {
	OnNewLeaderElected(view int32, leader int)
}

// FailureDetector is the ping-based leader oracle: the current
// leader of a view is always view % N, the leader periodically
// broadcasts Alive, and every other replica suspects it and advances to
// the next view it would lead after SuspectLeaderTimeout without an Alive or
// any higher-view message.
type FailureDetector struct {
	cfg     Config
	storage Storage
	network Network
	logger  *log.Logger
	post    func(func())
	listener LeaderOracleListener

	view        int32
	sendTimer   *time.Timer
	suspectGen  int
	suspectTmr  *time.Timer
	started     bool
}

func NewFailureDetector(cfg Config, storage Storage, network Network, logger *log.Logger, post func(func())) *FailureDetector {
	fd := &FailureDetector{cfg: cfg, storage: storage, network: network, logger: logger, post: post, view: -1}
	network.AddMessageListener(MsgAlive, func(msg Message, sender int) {
		post(func() { fd.onAlive(msg.(Alive), sender) })
	})
	return fd
}

func (fd *FailureDetector) RegisterListener(l LeaderOracleListener) {
	fd.listener = l
}

// Start seeds the view from durable storage and initiates oracle
// operation from there: a replica that crashed mid-view-7 and restarts
// must never re-announce view 0, since a peer that already moved past 7
// would have no reason to accept a Prepare/Alive from a view it has long
// since superseded.
func (fd *FailureDetector) Start() {
	if fd.started {
		protocolViolation(errors.New("failure detector already started"))
	}
	fd.started = true
	view, err := fd.storage.LoadView()
	if err != nil {
		storageFailure(err)
	}
	fd.advanceView(view)
}

func (fd *FailureDetector) View() int32   { return fd.view }
func (fd *FailureDetector) Leader() int   { return int(fd.view) % fd.cfg.N }
func (fd *FailureDetector) IsLeader() bool { return fd.Leader() == fd.cfg.LocalID }

func (fd *FailureDetector) advanceView(newView int32) {
	if fd.sendTimer != nil {
		fd.sendTimer.Stop()
		fd.sendTimer = nil
	}
	fd.view = newView
	fd.logger.Printf("failuredetector: advancing to view %d leader %d", newView, fd.Leader())

	if fd.IsLeader() {
		fd.startSendTask()
	}
	fd.resetSuspectTimer()

	if fd.listener != nil {
		fd.listener.OnNewLeaderElected(fd.view, fd.Leader())
	}
}

func (fd *FailureDetector) startSendTask() {
	var send func()
	send = func() {
		fd.network.SendToAll(Alive{ViewNum: fd.view, SentTimeMs: 0})
		fd.sendTimer = time.AfterFunc(fd.cfg.SendTimeout, func() { fd.post(func() { send() }) })
	}
	send()
}

func (fd *FailureDetector) resetSuspectTimer() {
	if fd.suspectTmr != nil {
		fd.suspectTmr.Stop()
	}
	fd.suspectGen++
	gen := fd.suspectGen
	fd.suspectTmr = time.AfterFunc(fd.cfg.SuspectLeaderTimeout, func() {
		fd.post(func() { fd.onSuspectTimeout(gen) })
	})
}

func (fd *FailureDetector) onSuspectTimeout(gen int) {
	if gen != fd.suspectGen {
		return
	}
	if fd.IsLeader() {
		return
	}
	fd.logger.Printf("failuredetector: suspecting leader of view %d", fd.view)
	fd.advanceView(nextLeaderView(fd.view, fd.cfg.N, fd.cfg.LocalID))
}

func (fd *FailureDetector) onAlive(msg Alive, sender int) {
	if msg.ViewNum > fd.view {
		fd.advanceView(msg.ViewNum)
	} else if msg.ViewNum == fd.view {
		fd.resetSuspectTimer()
	}
}

// NotifyHigherView lets other components (e.g. the Proposer or Acceptor,
// on seeing a message carrying a view higher than anything Alive has
// announced yet) push the oracle forward without waiting for an Alive.
func (fd *FailureDetector) NotifyHigherView(view int32) {
	if view > fd.view {
		fd.advanceView(view)
	} else if view == fd.view {
		fd.resetSuspectTimer()
	}
}
