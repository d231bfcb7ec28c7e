package paxos

import (
	"io"
	"log"
	"testing"
)

func newLearnerForTest() (*Learner, *Log, *fakeStorage) {
	cfg := DefaultConfig(3, 0)
	l := NewLog()
	storage := newFakeStorage()
	service := &fakeService{}
	network := &fakeNetwork{}
	logger := log.New(io.Discard, "", 0)
	fd := NewFailureDetector(cfg, storage, network, logger, syncPost)
	learner := NewLearner(cfg, l, storage, service, network, fd, logger, syncPost)
	return learner, l, storage
}

func batchValue(payload string) []byte {
	return EncodeBatch([]Request{{ID: RequestID{ClientID: 1, SequenceNo: 1}, Payload: []byte(payload)}})
}

func TestRecordAcceptDecidesAtQuorum(t *testing.T) {
	learner, l, storage := newLearnerForTest()
	l.Append(0, batchValue("v"))

	learner.RecordAccept(0, 0, 0)
	if l.GetState(0) != Known {
		t.Fatalf("one accept should not reach quorum for N=3")
	}
	learner.RecordAccept(0, 0, 1)
	if l.GetState(0) != Decided {
		t.Fatalf("two accepts should reach quorum for N=3")
	}
	if _, _, ok := storage.LoadDecided(0); !ok {
		t.Fatalf("decide should durably record the decision")
	}
}

func TestAdoptFromPrepareOKAdoptsRemoteDecided(t *testing.T) {
	learner, l, _ := newLearnerForTest()
	l.getOrCreate(0)

	learner.AdoptFromPrepareOK(&ConsensusInstance{ID: 0, View: 3, Value: batchValue("v"), State: Decided})

	if l.GetState(0) != Decided {
		t.Fatalf("local instance should adopt the remote Decided state")
	}
}

func TestAdoptFromPrepareOKIgnoresOlderKnown(t *testing.T) {
	learner, l, _ := newLearnerForTest()
	local := l.getOrCreate(0)
	local.SetValue(5, []byte("local"))

	learner.AdoptFromPrepareOK(&ConsensusInstance{ID: 0, View: 2, Value: []byte("stale"), State: Known})

	if local.View != 5 {
		t.Fatalf("an older-view Known remote must not overwrite a newer local value")
	}
}

func TestAdoptFromPrepareOKMatchingDecidedIsNoop(t *testing.T) {
	learner, l, _ := newLearnerForTest()
	local := l.getOrCreate(0)
	local.SetValue(1, []byte("v"))
	local.markDecided()

	learner.AdoptFromPrepareOK(&ConsensusInstance{ID: 0, View: 1, Value: []byte("v"), State: Decided})

	if l.GetState(0) != Decided {
		t.Fatalf("instance should remain Decided")
	}
}

func TestAdoptFromPrepareOKConflictingDecidedIsFatal(t *testing.T) {
	learner, l, _ := newLearnerForTest()
	local := l.getOrCreate(0)
	local.SetValue(1, []byte("local"))
	local.markDecided()

	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected a panic when two decided values for the same id differ")
		}
		if fe, ok := r.(*FatalError); !ok || fe.Kind != "protocol-violation" {
			t.Fatalf("expected a protocol-violation FatalError, got %#v", r)
		}
	}()
	learner.AdoptFromPrepareOK(&ConsensusInstance{ID: 0, View: 1, Value: []byte("different"), State: Decided})
}
