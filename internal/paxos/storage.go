package paxos

// Storage is the durable half of a replica's state: current view,
// last snapshot, decided instance records. Every method that persists
// something only returns once the fact is recoverable across a crash —
// a Decide must never be acknowledged to the learner before
// its durable record exists. The reference implementation lives in
// internal/storage; this interface is what the core depends on, so that
// package can depend on paxos without a cycle.
type Storage interface {
	// LoadView returns the highest view ever durably observed, or 0 if
	// none has been recorded yet.
	LoadView() (int32, error)
	// SetView durably records view. The crash contract requires that
	// after restart, LoadView returns a value >= any view previously
	// passed to SetView.
	SetView(view int32) error

	// MarkDecided durably records that instance id was decided at view
	// with value.
	MarkDecided(id int32, view int32, value []byte) error
	// LoadDecided returns the durable record for a previously-decided
	// id, or ok=false if id was never recorded.
	LoadDecided(id int32) (view int32, value []byte, ok bool)
	// DecidedIDs returns every id with a durable decided record, used
	// during recovery to rebuild the in-memory log.
	DecidedIDs() []int32
	// ForgetBelow discards durable decided records for ids < id.
	ForgetBelow(id int32)

	// SaveSnapshot durably installs snap as the current snapshot.
	SaveSnapshot(snap *Snapshot) error
	// LoadSnapshot returns the current snapshot, or nil if none exists.
	LoadSnapshot() *Snapshot
}
