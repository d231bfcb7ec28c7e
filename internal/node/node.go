// Package node wires one replica's Dispatcher and its collaborators into
// a single lifecycle object exposing Start/Stop/Propose, built on top of
// the paxos.Engine dispatcher.
package node

import (
	"log"

	"github.com/arjunmenon/paxosrsm/internal/paxos"
)

// Replica is one participant in the group: it owns no protocol logic
// itself, only the Engine that does, plus the identity and lifecycle
// bookkeeping a deployment needs around it.
type Replica struct {
	id     int
	engine *paxos.Engine
}

// NewReplica constructs a replica's Dispatcher and every component it
// owns (Acceptor, Learner, Proposer, FailureDetector, Retransmitter,
// CatchUpManager), recovering from storage before anything is started.
func NewReplica(cfg paxos.Config, storage paxos.Storage, network paxos.Network, service paxos.Service, logger *log.Logger) *Replica {
	return &Replica{
		id:     cfg.LocalID,
		engine: paxos.NewEngine(cfg, storage, network, service, logger),
	}
}

// Start begins the dispatcher loop, leader election heartbeats/suspicion,
// and the periodic snapshot/catch-up check. Non-blocking.
func (r *Replica) Start() {
	r.engine.Start()
}

// Stop halts the dispatcher loop.
func (r *Replica) Stop() {
	r.engine.Stop()
}

// Propose submits a client request for batching into a future Propose,
// refused with paxos.ErrBusy if the dispatcher's task queue is already
// saturated.
func (r *Replica) Propose(req paxos.Request) error {
	return r.engine.ProposeFromClient(req)
}

// ID returns this replica's index in [0, N).
func (r *Replica) ID() int {
	return r.id
}

// View reports the replica's currently elected view, as seen by its
// FailureDetector. Safe to call only after Start.
func (r *Replica) View() int32 {
	return r.engine.FailureDet.View()
}

// InstanceStatus reports the lifecycle state of instance id: an error of
// paxos.ErrUnknownInstance means id has never been proposed, and
// paxos.ErrTruncated means id was decided but is now known only through a
// snapshot.
func (r *Replica) InstanceStatus(id int32) (paxos.State, error) {
	return r.engine.InstanceStatus(id)
}
