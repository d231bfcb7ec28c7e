package paxos

import (
	"bytes"
	"testing"
)

func TestSetValueLocksInHighestView(t *testing.T) {
	ci := NewConsensusInstance(1)
	ci.SetValue(2, []byte("a"))
	if ci.View != 2 || !bytes.Equal(ci.Value, []byte("a")) || ci.State != Known {
		t.Fatalf("got view=%d value=%q state=%s", ci.View, ci.Value, ci.State)
	}

	// A lower view never overwrites what a higher view already locked in.
	ci.SetValue(1, []byte("b"))
	if ci.View != 2 || !bytes.Equal(ci.Value, []byte("a")) {
		t.Fatalf("lower view overwrote: view=%d value=%q", ci.View, ci.Value)
	}

	// A strictly higher view always overwrites, even with a different value.
	ci.SetValue(3, []byte("c"))
	if ci.View != 3 || !bytes.Equal(ci.Value, []byte("c")) {
		t.Fatalf("higher view did not overwrite: view=%d value=%q", ci.View, ci.Value)
	}
}

func TestSetValueSameViewSameValueIsNoop(t *testing.T) {
	ci := NewConsensusInstance(1)
	ci.SetValue(5, []byte("x"))
	ci.SetValue(5, []byte("x"))
	if ci.View != 5 || !bytes.Equal(ci.Value, []byte("x")) {
		t.Fatalf("idempotent same-view same-value call changed state: view=%d value=%q", ci.View, ci.Value)
	}
}

func TestSetValueSameViewConflictingValuePanics(t *testing.T) {
	ci := NewConsensusInstance(1)
	ci.SetValue(5, []byte("x"))

	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected a panic for a conflicting value at the same view")
		}
		fe, ok := r.(*FatalError)
		if !ok || fe.Kind != "protocol-violation" {
			t.Fatalf("expected a protocol-violation FatalError, got %#v", r)
		}
	}()
	ci.SetValue(5, []byte("y"))
}

func TestSetValueOnDecidedSameValueIsNoop(t *testing.T) {
	ci := NewConsensusInstance(1)
	ci.SetValue(1, []byte("x"))
	ci.markDecided()

	ci.SetValue(1, []byte("x"))
	if ci.State != Decided || !bytes.Equal(ci.Value, []byte("x")) {
		t.Fatalf("decided instance mutated by a no-op SetValue: state=%s value=%q", ci.State, ci.Value)
	}
}

func TestSetValueOnDecidedDifferentValuePanics(t *testing.T) {
	ci := NewConsensusInstance(1)
	ci.SetValue(1, []byte("x"))
	ci.markDecided()

	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected a panic when a Decided instance's value would change")
		}
		fe, ok := r.(*FatalError)
		if !ok || fe.Kind != "protocol-violation" {
			t.Fatalf("expected a protocol-violation FatalError, got %#v", r)
		}
	}()
	ci.SetValue(2, []byte("y"))
}

func TestRecordAcceptCountsDistinctSenders(t *testing.T) {
	ci := NewConsensusInstance(1)
	if n := ci.recordAccept(0, 0); n != 1 {
		t.Fatalf("first accept: got count %d, want 1", n)
	}
	if n := ci.recordAccept(0, 0); n != 1 {
		t.Fatalf("duplicate accept from the same sender: got count %d, want 1", n)
	}
	if n := ci.recordAccept(0, 1); n != 2 {
		t.Fatalf("second distinct sender: got count %d, want 2", n)
	}
}

func TestRecordAcceptFromStaleViewIsDropped(t *testing.T) {
	ci := NewConsensusInstance(1)
	ci.recordAccept(3, 0)
	if n := ci.recordAccept(2, 1); n != 1 {
		t.Fatalf("stale-view accept should not be counted: got %d, want 1", n)
	}
}

func TestRecordAcceptFromNewerViewResetsSet(t *testing.T) {
	ci := NewConsensusInstance(1)
	ci.recordAccept(1, 0)
	ci.recordAccept(1, 1)
	if n := ci.recordAccept(2, 2); n != 1 {
		t.Fatalf("newer-view accept should reset the acceptor set: got %d, want 1", n)
	}
	if ci.View != 2 {
		t.Fatalf("recordAccept at a newer view should adopt it: got %d, want 2", ci.View)
	}
}

func TestMarkDecidedReleasesAccepts(t *testing.T) {
	ci := NewConsensusInstance(1)
	ci.SetValue(1, []byte("x"))
	ci.recordAccept(1, 0)
	ci.recordAccept(1, 1)
	ci.markDecided()
	if ci.Accepts != nil {
		t.Fatalf("Accepts should be released once decided, got %v", ci.Accepts)
	}
	if ci.State != Decided {
		t.Fatalf("expected state Decided, got %s", ci.State)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	ci := NewConsensusInstance(1)
	ci.SetValue(1, []byte("x"))
	clone := ci.clone()
	clone.Value[0] = 'y'
	if ci.Value[0] != 'x' {
		t.Fatalf("mutating the clone's value leaked back into the original")
	}
}
