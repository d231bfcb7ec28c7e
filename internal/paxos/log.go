package paxos

// Log is the ordered, id-indexed sequence of consensus instances. Ids form
// a dense prefix [firstID, nextID); entries below the snapshot watermark
// are discarded once a snapshot covers them. Log is not safe for concurrent use — like
// every other piece of core state, it is only ever touched from inside the
// dispatcher.
type Log struct {
	firstID   int32 // lowest id still physically present
	nextID    int32 // next id that Append will assign
	instances map[int32]*ConsensusInstance
}

// NewLog returns an empty log starting at id 0.
func NewLog() *Log {
	return &Log{instances: make(map[int32]*ConsensusInstance)}
}

// GetInstance returns the instance for id, or nil if id has never existed
// in this log (either never created, or truncated by a snapshot).
func (l *Log) GetInstance(id int32) *ConsensusInstance {
	return l.instances[id]
}

// GetState reports the state of id, treating ids below firstID as Decided
// (their decision survives only as part of the snapshot)
// and ids that have never existed as Unknown.
func (l *Log) GetState(id int32) State {
	if id < l.firstID {
		return Decided
	}
	if ci := l.instances[id]; ci != nil {
		return ci.State
	}
	return Unknown
}

// StatusOf reports id's lifecycle state for a caller outside the
// dispatcher that can actually recover from either failure mode:
// ErrTruncated means id's decision survives only inside a snapshot, its
// per-instance record having already been discarded; ErrUnknownInstance
// means id has never been created at all. Internal callers that already
// know which of these cases applies use GetState/GetInstance directly
// instead.
func (l *Log) StatusOf(id int32) (State, error) {
	if id < l.firstID {
		return Decided, ErrTruncated
	}
	if id >= l.nextID {
		return Unknown, ErrUnknownInstance
	}
	if ci := l.instances[id]; ci != nil {
		return ci.State, nil
	}
	return Unknown, nil
}

// GetNextID returns the id the next Append call will assign.
func (l *Log) GetNextID() int32 { return l.nextID }

// GetFirstID returns the lowest id physically present in the log.
func (l *Log) GetFirstID() int32 { return l.firstID }

// Append creates a new Known instance at id = GetNextID(), sets its view
// and value, and returns it. Used by the Proposer when it originates a
// new proposal.
func (l *Log) Append(view int32, value []byte) *ConsensusInstance {
	ci := NewConsensusInstance(l.nextID)
	ci.State = Known
	ci.View = view
	ci.Value = value
	l.instances[ci.ID] = ci
	l.nextID++
	return ci
}

// getOrCreate returns the instance for id, allocating an empty Unknown
// entry (and any Unknown gap entries below it) if it does not yet exist.
// This is how the Acceptor and Learner react to messages about ids they
// have not seen a Propose for yet.
func (l *Log) getOrCreate(id int32) *ConsensusInstance {
	if id < l.firstID {
		// Below the snapshot watermark: already decided and discarded.
		// Callers must check GetState first; returning a fresh Unknown
		// entry here would let a stale message resurrect a truncated
		// slot, so this is a programmer error in the caller.
		protocolViolation(errTruncatedAccess(id))
	}
	for gap := l.nextID; gap < id; gap++ {
		if _, ok := l.instances[gap]; !ok {
			l.instances[gap] = NewConsensusInstance(gap)
		}
	}
	if id >= l.nextID {
		l.nextID = id + 1
	}
	ci := l.instances[id]
	if ci == nil {
		ci = NewConsensusInstance(id)
		l.instances[id] = ci
	}
	return ci
}

// Bootstrap advances firstID (and nextID, if it would otherwise fall
// behind) past a snapshot's last included id, used once at startup before
// any decided records are restored into an otherwise-empty log.
func (l *Log) Bootstrap(snapshotLastIncludedID int32) {
	first := snapshotLastIncludedID + 1
	if first > l.firstID {
		l.firstID = first
	}
	if l.nextID < l.firstID {
		l.nextID = l.firstID
	}
}

// RestoreDecided installs a durable decided record directly into the log
// at startup, bypassing the SetValue/recordAccept machinery that exists
// for live consensus — the durability contract already established that
// this id is Decided, so there is nothing left to negotiate.
func (l *Log) RestoreDecided(id, view int32, value []byte) {
	if id < l.firstID {
		return
	}
	ci := NewConsensusInstance(id)
	ci.View = view
	ci.Value = value
	ci.State = Decided
	l.instances[id] = ci
	if id+1 > l.nextID {
		l.nextID = id + 1
	}
}

// TruncateBelow discards every instance with id < id, used after a
// snapshot up to lastIncludedInstanceID+1 has been durably installed. It
// is the caller's responsibility to have already applied the snapshot to
// the service before calling this.
func (l *Log) TruncateBelow(id int32) {
	if id <= l.firstID {
		return
	}
	for i := l.firstID; i < id && i < l.nextID; i++ {
		delete(l.instances, i)
	}
	l.firstID = id
	if l.nextID < l.firstID {
		l.nextID = l.firstID
	}
}

// sizeBytes is an approximation of the log's on-disk footprint since the
// last snapshot, used by the snapshot policy.
func (l *Log) sizeBytes() int {
	total := 0
	for _, ci := range l.instances {
		total += len(ci.Value) + 16
	}
	return total
}
