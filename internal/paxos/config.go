package paxos

import "time"

// Config is the immutable set of tunables a replica is constructed with.
// It is built once, typically by DefaultConfig() overridden in place, and
// handed to NewEngine; nothing in this package reads package-level mutable
// configuration.
type Config struct {
	// N is the number of replicas in the group. Leader(view) = view % N.
	N int
	// LocalID is this replica's index in [0, N).
	LocalID int

	// WindowSize bounds the number of simultaneously in-flight proposal
	// ids: a new append is allowed only while log.NextID() is within
	// [firstUncommitted, firstUncommitted+WindowSize).
	WindowSize int
	// MaxUDPPacketSize bounds the size of a single network datagram the
	// core should assume it can fit a message into.
	MaxUDPPacketSize int
	// BatchSize is the minimum size of value a new batch buffer is
	// started with; it defaults to MaxUDPPacketSize.
	BatchSize int
	// BusyThreshold is the depth at which the dispatcher's task queue
	// starts refusing new client proposals with a Busy reply.
	BusyThreshold int

	// RetransmitTimeout is the period on which the Retransmitter resends
	// an unacknowledged message to a destination still in its set.
	RetransmitTimeout time.Duration
	// SendTimeout is how often the leader emits an Alive heartbeat.
	SendTimeout time.Duration
	// SuspectLeaderTimeout is how long a follower waits, without seeing
	// an Alive or any in-protocol message from Leader(view), before
	// suspecting the leader and advancing its view.
	SuspectLeaderTimeout time.Duration

	// SnapshotMinLogSize is the minimum on-log byte size, excluding the
	// bytes covered by the last snapshot, before the service is asked
	// for a new snapshot.
	SnapshotMinLogSize int
	// SnapshotAskRatio scales the last snapshot's size into a second
	// threshold: max(SnapshotMinLogSize, SnapshotAskRatio*lastSnapshotBytes).
	SnapshotAskRatio float64
	// SnapshotForceRatio is the multiple of the last snapshot's size
	// above which taking a new snapshot is no longer optional.
	SnapshotForceRatio float64
	// FirstSnapshotSizeEstimate stands in for lastSnapshotBytes before
	// the first-ever snapshot exists.
	FirstSnapshotSizeEstimate int

	// CatchUpMinResendTimeout is the starting backoff for an unanswered
	// CatchUpQuery.
	CatchUpMinResendTimeout time.Duration
	// PeriodicCatchUpTimeout bounds the catch-up backoff and is also the
	// period a replica re-checks for gaps regardless of suspicion.
	PeriodicCatchUpTimeout time.Duration
}

// DefaultConfig returns the default configuration for a group
// of n replicas in which this process is replica localID. Callers override
// individual fields before passing the result to NewEngine.
func DefaultConfig(n, localID int) Config {
	return Config{
		N:       n,
		LocalID: localID,

		WindowSize:       1,
		MaxUDPPacketSize: 1472,
		BatchSize:        1472,
		BusyThreshold:    10240,

		RetransmitTimeout:    1000 * time.Millisecond,
		SendTimeout:          1000 * time.Millisecond,
		SuspectLeaderTimeout: 2000 * time.Millisecond,

		SnapshotMinLogSize:        20 * 1024 * 1024,
		SnapshotAskRatio:          1.0,
		SnapshotForceRatio:        2.0,
		FirstSnapshotSizeEstimate: 1024,

		CatchUpMinResendTimeout: 50 * time.Millisecond,
		PeriodicCatchUpTimeout:  2000 * time.Millisecond,
	}
}

// LeaderOf returns the replica id that is the leader for the given view.
func (c Config) LeaderOf(view int32) int {
	return int(view) % c.N
}

// Quorum is the number of replicas, out of N, that form a majority.
func (c Config) Quorum() int {
	return c.N/2 + 1
}

// nextLeaderView returns the smallest view strictly greater than from for
// which localID is the leader (view % N == localID).
func nextLeaderView(from int32, N, localID int) int32 {
	newView := from + 1
	for int(newView)%N != localID {
		newView++
	}
	return newView
}
