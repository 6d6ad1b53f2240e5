package wire

// Command-specific values (low 24 bits of Frame.Command). Not exhaustive —
// only the ones the core routes on are enumerated; connection
// and task dispatch add their own internal event types that never cross
// the wire.
const (
	CmdHello        uint32 = iota + 1 // server's handshake hello
	CmdHandshakeAck                   // client's handshake reply
	CmdAttributeMap                   // length-prefixed attribute map, post-handshake
	CmdTaskOutput                     // TASK_OUTPUT
	CmdDisconnect                     // DISCONNECT(status)
	CmdThrottlePause
	CmdThrottleResume
	CmdTaskAcking
	CmdGoodbye
	CmdChangeOwnership
	CmdKeepalive    // empty-body ping, doubling idle-timer cadence per send
	CmdAnnounceTerm // Server-class: peer announces a terminal it owns, so the receiver can register a Proxy handle
	CmdRevokeTerm   // Server-class: peer withdraws a previously announced terminal
)

// DisconnectReason enumerates the statuses carried by a DISCONNECT frame
// or a task's terminal status.
type DisconnectReason uint32

const (
	ReasonNormal DisconnectReason = iota
	ReasonProtocolMismatch
	ReasonDuplicateConn
	ReasonReject
	ReasonLostConn
	ReasonIdleTimeout
	ReasonServerShutdown
)

// TaskStatus is the status field carried in a TASK_OUTPUT frame header.
type TaskStatus uint32

const (
	TaskRunning TaskStatus = iota
	TaskFinished
	TaskError
	TaskCanceled
)
