package paxos

import "bytes"

// State is the lifecycle stage of a ConsensusInstance. The ordinal values
// are part of the wire format (the ConsensusInstance record's "state"
// field) and must not be renumbered.
type State int32

const (
	// Unknown means no Propose or Accept has ever touched this id; value
	// is absent.
	Unknown State = 0
	// Known means a value is locked in for the instance's current view
	// but fewer than a quorum of Accepts have been observed.
	Known State = 1
	// Decided is terminal: the value is immutable and safe to execute.
	Decided State = 2
)

func (s State) String() string {
	switch s {
	case Unknown:
		return "UNKNOWN"
	case Known:
		return "KNOWN"
	case Decided:
		return "DECIDED"
	default:
		return "INVALID"
	}
}

// ConsensusInstance is one slot in the replicated log. Accepts is dropped
// the moment the instance becomes Decided; Learner.RecordAccept credits no
// further acceptors to a Decided instance, and SetValue refuses to change
// a Decided value.
type ConsensusInstance struct {
	ID    int32
	View  int32 // -1 if no view has ever touched this instance
	Value []byte
	State State

	// Accepts is the set of replica ids (as a set over [0, N)) that
	// have sent an Accept for (ID, View). It is transient: never
	// persisted, and released on Decided.
	Accepts map[int]bool
}

// NewConsensusInstance returns an empty, Unknown instance for id.
func NewConsensusInstance(id int32) *ConsensusInstance {
	return &ConsensusInstance{ID: id, View: -1, State: Unknown}
}

// SetValue applies the Paxos "accept highest-view value" rule: a view
// below the current one is a no-op; a view equal to the current one only
// succeeds if there is no value yet or the value is byte-identical; a
// view above the current one always overwrites. Calling SetValue on a
// Decided instance with a different value is a protocol violation and
// crashes the replica — no two decisions for the same id may differ.
func (ci *ConsensusInstance) SetValue(view int32, value []byte) {
	if view < ci.View {
		return
	}

	if ci.State == Decided {
		if !bytes.Equal(ci.Value, value) {
			protocolViolation(errDecidedValueChanged(ci.ID))
		}
		return
	}

	if ci.State == Unknown {
		ci.State = Known
	}

	if view == ci.View {
		if ci.Value != nil && !bytes.Equal(ci.Value, value) {
			protocolViolation(errConflictingValue(ci.ID, view))
		}
	}

	ci.View = view
	ci.Value = value
}

// markDecided transitions the instance to Decided and releases Accepts;
// a no-op if already Decided, since SetValue already guarantees the value
// cannot have changed by the time this is called.
func (ci *ConsensusInstance) markDecided() {
	if ci.State == Decided {
		return
	}
	ci.State = Decided
	ci.Accepts = nil
}

// recordAccept records that sender accepted (ID, view); accepts from a
// stale view are dropped and accepts from a newer view reset the set.
// Returns the number of distinct acceptors now recorded for the current
// view.
func (ci *ConsensusInstance) recordAccept(view int32, sender int) int {
	if view < ci.View {
		return len(ci.Accepts)
	}
	if view > ci.View {
		ci.Accepts = make(map[int]bool)
		ci.View = view
	}
	if ci.Accepts == nil {
		ci.Accepts = make(map[int]bool)
	}
	ci.Accepts[sender] = true
	return len(ci.Accepts)
}

// clone returns a defensive, independent copy suitable for placing on the
// wire or handing to another goroutine.
func (ci *ConsensusInstance) clone() *ConsensusInstance {
	out := &ConsensusInstance{ID: ci.ID, View: ci.View, State: ci.State}
	if ci.Value != nil {
		out.Value = append([]byte(nil), ci.Value...)
	}
	return out
}
