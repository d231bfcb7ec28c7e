package paxos

import (
	"bytes"
	"testing"
)

func roundTrip(t *testing.T, m Message) {
	t.Helper()
	encoded, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode(%T): %v", m, err)
	}
	if got, want := len(encoded), ByteSize(m); got != want {
		t.Fatalf("ByteSize(%T) = %d, len(Encode) = %d", m, want, got)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	// Several message types carry slices or pointers, so interface
	// equality (==) isn't safe to use here; re-encoding and comparing
	// bytes is exactly as strong a check for a round trip.
	reencoded, err := Encode(decoded)
	if err != nil {
		t.Fatalf("Encode(decoded): %v", err)
	}
	if !bytes.Equal(encoded, reencoded) {
		t.Fatalf("round trip mismatch for %T:\n got %v\nwant %v", m, reencoded, encoded)
	}
}

func TestCodecRoundTripPrepare(t *testing.T) {
	roundTrip(t, Prepare{ViewNum: 3, SentTimeMs: 1000, FirstUncommitted: 7})
}

func TestCodecRoundTripPrepareOK(t *testing.T) {
	roundTrip(t, PrepareOK{ViewNum: 3, SentTimeMs: 1000, Prepared: []*ConsensusInstance{
		{ID: 1, View: 2, State: Known, Value: []byte("x")},
		{ID: 2, View: 2, State: Decided, Value: nil},
	}})
}

func TestCodecRoundTripPropose(t *testing.T) {
	roundTrip(t, Propose{ViewNum: 5, SentTimeMs: 42, Instance: &ConsensusInstance{
		ID: 9, View: 5, State: Known, Value: []byte("hello"),
	}})
}

func TestCodecRoundTripAccept(t *testing.T) {
	roundTrip(t, Accept{ViewNum: 1, SentTimeMs: 2, InstanceID: 9})
}

func TestCodecRoundTripAlive(t *testing.T) {
	roundTrip(t, Alive{ViewNum: 12, SentTimeMs: 99})
}

func TestCodecRoundTripCatchUpQuery(t *testing.T) {
	roundTrip(t, CatchUpQuery{ViewNum: 0, SentTimeMs: 0, FirstUncommitted: 3, Missing: []int32{3, 4, 5}})
}

func TestCodecRoundTripCatchUpResponse(t *testing.T) {
	roundTrip(t, CatchUpResponse{ViewNum: 0, Instances: []*ConsensusInstance{
		{ID: 3, View: 1, State: Decided, Value: []byte("v3")},
	}})
}

func TestCodecRoundTripCatchUpSnapshot(t *testing.T) {
	roundTrip(t, CatchUpSnapshot{
		ViewNum:                2,
		LastIncludedInstanceID: 10,
		LastIncludedView:       1,
		ServiceBytes:           []byte("snapshot-bytes"),
		ClientReplyCache:       nil,
	})
}

func TestCodecRoundTripAbsentValue(t *testing.T) {
	roundTrip(t, Propose{Instance: &ConsensusInstance{ID: 0, View: -1, State: Unknown, Value: nil}})
}

func TestDecodeUnknownType(t *testing.T) {
	if _, err := Decode([]byte{0xff, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}); err == nil {
		t.Fatalf("Decode of an unknown type tag should fail")
	}
}
