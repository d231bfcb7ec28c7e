package paxos

import (
	"log"
	"os"
)

// Engine is the Dispatcher: the single logical executor that owns
// every piece of mutable core state. Every other component reaches the
// network, storage, or the log only from inside a task drained off
// Engine's queue; nothing outside this file ever calls a component method
// directly from a foreign goroutine.
type Engine struct {
	cfg     Config
	logger  *log.Logger
	storage Storage
	network Network
	service Service

	Log           *Log
	Retransmitter *Retransmitter
	FailureDet    *FailureDetector
	Acceptor      *Acceptor
	Learner       *Learner
	Proposer      *Proposer
	CatchUp       *CatchUpManager

	tasks chan func()
	done  chan struct{}
}

// NewEngine builds a replica's Dispatcher and every component it owns,
// recovering the in-memory Log from storage's durable records before
// wiring any network listener, so a restart never exposes in-protocol
// behavior on a state that has not yet caught up with what was already
// durable before the crash.
func NewEngine(cfg Config, storage Storage, network Network, service Service, logger *log.Logger) *Engine {
	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		storage: storage,
		network: network,
		service: service,
		tasks:   make(chan func(), 65536),
		done:    make(chan struct{}),
	}

	e.Log = NewLog()
	if snap := storage.LoadSnapshot(); snap != nil {
		e.Log.Bootstrap(snap.LastIncludedInstanceID)
		service.UpdateToSnapshot(snap.ServiceBytes)
	}
	for _, id := range storage.DecidedIDs() {
		if view, value, ok := storage.LoadDecided(id); ok {
			e.Log.RestoreDecided(id, view, value)
		}
	}

	e.Retransmitter = NewRetransmitter(network, cfg.RetransmitTimeout, e.Post)
	e.FailureDet = NewFailureDetector(cfg, storage, network, logger, e.Post)
	e.Acceptor = NewAcceptor(cfg, e.Log, storage, network, e.FailureDet, logger, e.Post)
	e.Learner = NewLearner(cfg, e.Log, storage, service, network, e.FailureDet, logger, e.Post)
	e.Proposer = NewProposer(cfg, e.Log, storage, network, e.Retransmitter, e.FailureDet, e.Learner, logger, e.Post)
	e.FailureDet.RegisterListener(e.Proposer)
	e.CatchUp = NewCatchUpManager(cfg, e.Log, storage, service, network, e.Learner, logger, e.Post)

	if snap := storage.LoadSnapshot(); snap != nil {
		e.Learner.SkipTo(snap.LastIncludedInstanceID + 1)
	}

	return e
}

// Start begins the dispatcher loop and every periodic subsystem
// (heartbeats/suspicion, catch-up checks). Must be called exactly once.
func (e *Engine) Start() {
	go e.run()
	e.Post(func() {
		e.Learner.ReplayDecided()
		e.FailureDet.Start()
		e.CatchUp.Start()
	})
}

// Stop halts the dispatcher loop. Outstanding retransmission and timer
// goroutines that fire after Stop will still attempt Post, which becomes
// a no-op send to a closed done channel guard rather than a panic. Calling
// Stop on an already stopped Engine does nothing.
func (e *Engine) Stop() {
	select {
	case <-e.done:
	default:
		close(e.done)
	}
}

// Post enqueues fn to run on the dispatcher thread. It is the only
// sanctioned way for a foreign goroutine (network delivery, a timer
// firing) to touch core state, and it never refuses: only the
// client-facing admission path in ProposeFromClient applies
// BusyThreshold — in-protocol messages are never dropped for overload.
func (e *Engine) Post(fn func()) {
	select {
	case e.tasks <- fn:
	case <-e.done:
	}
}

// ProposeFromClient is the client-facing entry point.
// It applies the Busy admission check before ever touching the queue, so
// an overloaded replica never even tries to take on more work.
func (e *Engine) ProposeFromClient(req Request) error {
	if len(e.tasks) >= e.cfg.BusyThreshold {
		return ErrBusy
	}
	done := make(chan error, 1)
	e.Post(func() { done <- e.Proposer.Propose(req) })
	select {
	case err := <-done:
		return err
	case <-e.done:
		return ErrBusy
	}
}

// InstanceStatus reports the lifecycle state of instance id. Safe to call
// from any goroutine: it posts the lookup onto the dispatcher and blocks
// for the answer, the same way ProposeFromClient reaches into the core.
func (e *Engine) InstanceStatus(id int32) (State, error) {
	type result struct {
		state State
		err   error
	}
	done := make(chan result, 1)
	e.Post(func() {
		state, err := e.Log.StatusOf(id)
		done <- result{state, err}
	})
	select {
	case r := <-done:
		return r.state, r.err
	case <-e.done:
		return Unknown, ErrBusy
	}
}

func (e *Engine) run() {
	for {
		select {
		case task := <-e.tasks:
			e.runTask(task)
		case <-e.done:
			return
		}
	}
}

// runTask executes one task with crash semantics: a FatalError panic
// (ProtocolViolation or StorageFailure) is logged with its structured
// kind and the process exits; any other panic indicates a bug this
// package did not anticipate, and is just as fatal — an uncaught error
// inside a dispatcher task is fatal to the replica.
func (e *Engine) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			if fe, ok := r.(*FatalError); ok {
				e.logger.Printf("fatal: %s: %v", fe.Kind, fe.Err)
			} else {
				e.logger.Printf("fatal: unrecovered panic: %v", r)
			}
			os.Exit(1)
		}
	}()
	task()
}
