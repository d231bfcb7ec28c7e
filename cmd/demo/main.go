// Command demo brings up a small in-process group of replicas over the
// in-memory transport and storage, proposes a handful of client requests,
// kills the elected leader to force a view change, and prints what every
// replica's service ended up executing — a sanity check that the whole
// pipeline (batching, retransmission, leader election, catch-up) agrees.
package main

import (
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arjunmenon/paxosrsm/internal/node"
	"github.com/arjunmenon/paxosrsm/internal/paxos"
	"github.com/arjunmenon/paxosrsm/internal/storage"
	"github.com/arjunmenon/paxosrsm/internal/transport"
)

// kvService is the demonstration Service adapter: it
// appends every applied command's payload to a log and can checkpoint or
// restore that log wholesale, exercising MakeSnapshot/UpdateToSnapshot.
type kvService struct {
	mu      sync.Mutex
	applied []string
}

func (s *kvService) Execute(instanceID int32, req paxos.Request) []byte {
	if req.ID.ClientID == paxos.NoOpClientID {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = append(s.applied, string(req.Payload))
	return []byte("ok")
}

func (s *kvService) MakeSnapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return []byte(strings.Join(s.applied, "\n"))
}

func (s *kvService) UpdateToSnapshot(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(b) == 0 {
		s.applied = nil
		return
	}
	s.applied = strings.Split(string(b), "\n")
}

func (s *kvService) InstanceExecuted(instanceID int32) {}

func (s *kvService) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.applied...)
}

func newClientID() int64 {
	u := uuid.New()
	return int64(binary.BigEndian.Uint64(u[:8]))
}

func main() {
	const n = 3
	network := transport.NewMemoryNetwork()

	replicas := make([]*node.Replica, n)
	services := make([]*kvService, n)
	for i := 0; i < n; i++ {
		cfg := paxos.DefaultConfig(n, i)
		cfg.RetransmitTimeout = 100 * time.Millisecond
		cfg.SendTimeout = 100 * time.Millisecond
		cfg.SuspectLeaderTimeout = 300 * time.Millisecond
		cfg.PeriodicCatchUpTimeout = 300 * time.Millisecond

		mem := storage.NewMemoryStorage()
		svc := &kvService{}
		logger := log.New(os.Stdout, fmt.Sprintf("[replica %d] ", i), log.LstdFlags|log.Lmicroseconds)
		t := network.AddNode(i)

		services[i] = svc
		replicas[i] = node.NewReplica(cfg, mem, t, svc, logger)
	}
	for _, r := range replicas {
		r.Start()
	}

	time.Sleep(500 * time.Millisecond)

	clientID := newClientID()
	propose := func(seq int64, payload string) {
		req := paxos.Request{ID: paxos.RequestID{ClientID: clientID, SequenceNo: seq}, Payload: []byte(payload)}
		for _, r := range replicas {
			if err := r.Propose(req); err == nil {
				return
			}
		}
	}

	for i := 0; i < 5; i++ {
		propose(int64(i), fmt.Sprintf("cmd-%d", i))
	}
	time.Sleep(700 * time.Millisecond)

	fmt.Println("--- before view change ---")
	for i, svc := range services {
		fmt.Printf("replica %d applied: %v\n", i, svc.snapshot())
	}

	// Kill whichever replica is leader of the current view to force a
	// view change, then keep proposing through the survivors.
	leader := replicas[int(replicas[0].View())%n]
	leader.Stop()

	for i := 5; i < 10; i++ {
		propose(int64(i), fmt.Sprintf("cmd-%d", i))
	}
	time.Sleep(900 * time.Millisecond)

	fmt.Println("--- after view change ---")
	for i, svc := range services {
		fmt.Printf("replica %d applied: %v\n", i, svc.snapshot())
	}
}
