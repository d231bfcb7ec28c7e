package node_test

import (
	"fmt"
	"io"
	"log"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/arjunmenon/paxosrsm/internal/node"
	"github.com/arjunmenon/paxosrsm/internal/paxos"
	"github.com/arjunmenon/paxosrsm/internal/storage"
	"github.com/arjunmenon/paxosrsm/internal/transport"
)

// recordingService is a trivial deterministic state machine: it appends
// every executed request's payload to a log, in execution order, so tests
// can assert on what each replica actually applied.
type recordingService struct {
	mu       sync.Mutex
	executed []string
}

func (s *recordingService) Execute(instanceID int32, req paxos.Request) []byte {
	if req.ID.ClientID == paxos.NoOpClientID {
		return nil
	}
	s.mu.Lock()
	s.executed = append(s.executed, string(req.Payload))
	s.mu.Unlock()
	return req.Payload
}

func (s *recordingService) MakeSnapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []byte{}
	for i, e := range s.executed {
		if i > 0 {
			out = append(out, '\n')
		}
		out = append(out, e...)
	}
	return out
}

func (s *recordingService) UpdateToSnapshot(snapshotBytes []byte) {}

func (s *recordingService) InstanceExecuted(instanceID int32) {}

func (s *recordingService) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.executed...)
}

func testConfig(n, localID int) paxos.Config {
	cfg := paxos.DefaultConfig(n, localID)
	cfg.WindowSize = 8
	cfg.RetransmitTimeout = 20 * time.Millisecond
	cfg.SendTimeout = 30 * time.Millisecond
	cfg.SuspectLeaderTimeout = 120 * time.Millisecond
	cfg.CatchUpMinResendTimeout = 20 * time.Millisecond
	cfg.PeriodicCatchUpTimeout = 200 * time.Millisecond
	return cfg
}

func newGroup(t *testing.T, n int) ([]*node.Replica, []*recordingService) {
	replicas, services, _ := newGroupWithStorage(t, n)
	return replicas, services
}

func newGroupWithStorage(t *testing.T, n int) ([]*node.Replica, []*recordingService, []*storage.MemoryStorage) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	net := transport.NewMemoryNetwork()
	replicas := make([]*node.Replica, n)
	services := make([]*recordingService, n)
	stores := make([]*storage.MemoryStorage, n)
	for i := 0; i < n; i++ {
		services[i] = &recordingService{}
		stores[i] = storage.NewMemoryStorage()
		tr := net.AddNode(i)
		replicas[i] = node.NewReplica(testConfig(n, i), stores[i], tr, services[i], logger)
	}
	for _, r := range replicas {
		r.Start()
	}
	t.Cleanup(func() {
		for _, r := range replicas {
			r.Stop()
		}
	})
	return replicas, services, stores
}

// proposeSomewhere retries Propose against every replica until one of them
// is currently the leader and accepts it; only the elected leader's
// Proposer is ever in a non-INACTIVE state.
func proposeSomewhere(t *testing.T, replicas []*node.Replica, req paxos.Request, deadline time.Time) {
	t.Helper()
	for time.Now().Before(deadline) {
		for _, r := range replicas {
			if err := r.Propose(req); err == nil {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no replica accepted proposal %+v before the deadline", req.ID)
}

func waitForAgreement(t *testing.T, services []*recordingService, want int, deadline time.Time) {
	t.Helper()
	for time.Now().Before(deadline) {
		ready := true
		for _, s := range services {
			if len(s.snapshot()) < want {
				ready = false
				break
			}
		}
		if ready {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	got := make([]int, len(services))
	for i, s := range services {
		got[i] = len(s.snapshot())
	}
	t.Fatalf("replicas did not all execute %d requests before the deadline, got lengths %v", want, got)
}

func TestThreeReplicaHappyPathAgreesOnOrder(t *testing.T) {
	const n = 3
	replicas, services := newGroup(t, n)

	var reqs []paxos.Request
	for i := 0; i < 5; i++ {
		reqs = append(reqs, paxos.Request{
			ID:      paxos.RequestID{ClientID: 1, SequenceNo: int64(i)},
			Payload: []byte(fmt.Sprintf("cmd-%d", i)),
		})
	}
	deadline := time.Now().Add(3 * time.Second)
	for _, r := range reqs {
		proposeSomewhere(t, replicas, r, deadline)
	}

	waitForAgreement(t, services, len(reqs), time.Now().Add(3*time.Second))

	first := services[0].snapshot()
	if len(first) != len(reqs) {
		t.Fatalf("replica 0 executed %d requests, want %d", len(first), len(reqs))
	}
	for i, s := range services[1:] {
		got := s.snapshot()
		if len(got) != len(first) {
			t.Fatalf("replica %d executed %d requests, replica 0 executed %d", i+1, len(got), len(first))
		}
		for j := range first {
			if got[j] != first[j] {
				t.Fatalf("replica %d disagrees with replica 0 at index %d: %q vs %q", i+1, j, got[j], first[j])
			}
		}
	}
}

func TestGroupSurvivesLeaderFailure(t *testing.T) {
	const n = 3
	replicas, services := newGroup(t, n)

	first := paxos.Request{ID: paxos.RequestID{ClientID: 2, SequenceNo: 0}, Payload: []byte("before")}
	deadline := time.Now().Add(3 * time.Second)
	proposeSomewhere(t, replicas, first, deadline)
	waitForAgreement(t, services, 1, time.Now().Add(3*time.Second))

	// Find the current leader by elimination: the only replica whose
	// Propose succeeds.
	leader := -1
	probe := paxos.Request{ID: paxos.RequestID{ClientID: 3, SequenceNo: 0}, Payload: []byte("probe")}
	for i, r := range replicas {
		if err := r.Propose(probe); err == nil {
			leader = i
			break
		}
	}
	if leader == -1 {
		t.Fatalf("could not identify the current leader")
	}
	replicas[leader].Stop()

	survivors := make([]*node.Replica, 0, n-1)
	survivorServices := make([]*recordingService, 0, n-1)
	for i, r := range replicas {
		if i == leader {
			continue
		}
		survivors = append(survivors, r)
		survivorServices = append(survivorServices, services[i])
	}

	second := paxos.Request{ID: paxos.RequestID{ClientID: 2, SequenceNo: 1}, Payload: []byte("after")}
	deadline = time.Now().Add(5 * time.Second)
	proposeSomewhere(t, survivors, second, deadline)

	waitForAgreement(t, survivorServices, 2, time.Now().Add(3*time.Second))
	// When "probe" was decided, two executed requests do not yet mean that
	// "after" has run, so also wait for every survivor to execute it.
	afterDeadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(afterDeadline) {
		executedEverywhere := true
		for _, s := range survivorServices {
			if !slices.Contains(s.snapshot(), "after") {
				executedEverywhere = false
			}
		}
		if executedEverywhere {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The probe proposal raced the leader's Stop() and may or may not have
	// been decided before it died, so only "before" being first and
	// "after" appearing somewhere are guaranteed — but every surviving
	// replica must agree on exactly the same sequence.
	firstSnap := survivorServices[0].snapshot()
	if len(firstSnap) < 2 || firstSnap[0] != "before" {
		t.Fatalf("survivor 0 executed %v, want \"before\" first", firstSnap)
	}
	foundAfter := false
	for _, v := range firstSnap {
		if v == "after" {
			foundAfter = true
		}
	}
	if !foundAfter {
		t.Fatalf("survivor 0 executed %v, which never includes \"after\"", firstSnap)
	}
	for i, s := range survivorServices[1:] {
		got := s.snapshot()
		if len(got) != len(firstSnap) {
			t.Fatalf("survivor %d executed %d requests, survivor 0 executed %d", i+1, len(got), len(firstSnap))
		}
		for j := range firstSnap {
			if got[j] != firstSnap[j] {
				t.Fatalf("survivor %d disagrees with survivor 0 at index %d: %q vs %q", i+1, j, got[j], firstSnap[j])
			}
		}
	}
}

// TestRestartNeverRegressesView is the crash-recovery guarantee: a
// replica reconstructed over a storage.MemoryStorage that already
// durably recorded a view from before a crash must resume at least as
// far along as that view, never falling back to view 0. A replica id 0
// is used because 0 is also the leader of view 0, the case a hardcoded
// advanceView(0) on Start would paper over most easily.
func TestRestartNeverRegressesView(t *testing.T) {
	const n = 3
	store := storage.NewMemoryStorage()
	if err := store.SetView(7); err != nil {
		t.Fatalf("SetView(7): %v", err)
	}

	net := transport.NewMemoryNetwork()
	tr := net.AddNode(0)
	logger := log.New(io.Discard, "", 0)
	r := node.NewReplica(testConfig(n, 0), store, tr, &recordingService{}, logger)
	r.Start()
	defer r.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && r.View() < 7 {
		time.Sleep(10 * time.Millisecond)
	}
	if r.View() < 7 {
		t.Fatalf("restarted replica's view regressed: got %d, want >= 7", r.View())
	}
}
