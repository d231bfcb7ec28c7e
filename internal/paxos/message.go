package paxos

// MessageType is the wire type tag of the message header; the numeric
// values are part of the wire format and must match the codec table.
type MessageType byte

const (
	MsgPrepare         MessageType = 1
	MsgPrepareOK       MessageType = 2
	MsgPropose         MessageType = 3
	MsgAccept          MessageType = 4
	MsgAlive           MessageType = 5
	MsgCatchUpQuery    MessageType = 6
	MsgCatchUpResponse MessageType = 7
	MsgCatchUpSnapshot MessageType = 8
)

// Message is satisfied by every protocol message. View and SentTime are
// carried by every message in its common header; SentTime is a
// monotonic millisecond timestamp used only for RTT estimation, never for
// protocol correctness.
type Message interface {
	Kind() MessageType
	GetView() int32
	GetSentTime() int64
}

// Prepare is the phase-1 view-change message: "I want to lead view View;
// tell me about everything you know from FirstUncommitted onward."
type Prepare struct {
	ViewNum          int32
	SentTimeMs       int64
	FirstUncommitted int32
}

func (m Prepare) Kind() MessageType   { return MsgPrepare }
func (m Prepare) GetView() int32      { return m.ViewNum }
func (m Prepare) GetSentTime() int64  { return m.SentTimeMs }

// PrepareOK is the phase-1 response: every instance from the requested
// FirstUncommitted onward whose state is Known or Decided.
type PrepareOK struct {
	ViewNum    int32
	SentTimeMs int64
	Prepared   []*ConsensusInstance
}

func (m PrepareOK) Kind() MessageType  { return MsgPrepareOK }
func (m PrepareOK) GetView() int32     { return m.ViewNum }
func (m PrepareOK) GetSentTime() int64 { return m.SentTimeMs }

// Propose is the phase-2 commit message for a single instance.
type Propose struct {
	ViewNum    int32
	SentTimeMs int64
	Instance   *ConsensusInstance
}

func (m Propose) Kind() MessageType  { return MsgPropose }
func (m Propose) GetView() int32     { return m.ViewNum }
func (m Propose) GetSentTime() int64 { return m.SentTimeMs }

// Accept is the phase-2 response: "I accepted InstanceID at this view."
type Accept struct {
	ViewNum    int32
	SentTimeMs int64
	InstanceID int32
}

func (m Accept) Kind() MessageType  { return MsgAccept }
func (m Accept) GetView() int32     { return m.ViewNum }
func (m Accept) GetSentTime() int64 { return m.SentTimeMs }

// Alive is the leader's heartbeat.
type Alive struct {
	ViewNum    int32
	SentTimeMs int64
}

func (m Alive) Kind() MessageType  { return MsgAlive }
func (m Alive) GetView() int32     { return m.ViewNum }
func (m Alive) GetSentTime() int64 { return m.SentTimeMs }

// CatchUpQuery is sent by a lagging replica listing the instance ids it is
// missing below some contiguous prefix.
type CatchUpQuery struct {
	ViewNum          int32
	SentTimeMs       int64
	FirstUncommitted int32
	Missing          []int32
}

func (m CatchUpQuery) Kind() MessageType  { return MsgCatchUpQuery }
func (m CatchUpQuery) GetView() int32     { return m.ViewNum }
func (m CatchUpQuery) GetSentTime() int64 { return m.SentTimeMs }

// CatchUpResponse answers a CatchUpQuery with the Decided instances the
// responder has for the requested ids.
type CatchUpResponse struct {
	ViewNum    int32
	SentTimeMs int64
	Instances  []*ConsensusInstance
}

func (m CatchUpResponse) Kind() MessageType  { return MsgCatchUpResponse }
func (m CatchUpResponse) GetView() int32     { return m.ViewNum }
func (m CatchUpResponse) GetSentTime() int64 { return m.SentTimeMs }

// CatchUpSnapshot answers a CatchUpQuery whose gap predates the
// responder's log with a full service snapshot.
type CatchUpSnapshot struct {
	ViewNum                int32
	SentTimeMs             int64
	LastIncludedInstanceID int32
	LastIncludedView       int32
	ServiceBytes           []byte
	ClientReplyCache       []byte
}

func (m CatchUpSnapshot) Kind() MessageType  { return MsgCatchUpSnapshot }
func (m CatchUpSnapshot) GetView() int32     { return m.ViewNum }
func (m CatchUpSnapshot) GetSentTime() int64 { return m.SentTimeMs }
