package protocol

// ProtocolVersion is announced in the server greeting.
const ProtocolVersion = 1

// JoinRequestKind is the only greeting request the server sends.
const JoinRequestKind = "join"

// Join results.
const (
	ResultOK = "ok"
	ResultNo = "no"
)

// Join response reasons.
const (
	ReasonWelcomeNew    = "Welcome new user"
	ReasonWelcomeBack   = "Welcome back"
	ReasonUsernameTaken = "Username already taken"
)

// Greeting is the first frame a server writes on a new connection.
type Greeting struct {
	Request string `json:"request"`
	Version int    `json:"version"`
}

// NewGreeting returns the greeting for the current protocol version.
func NewGreeting() Greeting {
	return Greeting{Request: JoinRequestKind, Version: ProtocolVersion}
}

// JoinRequest is the client's answer to the greeting.
type JoinRequest struct {
	Username string `json:"username"`
}

// JoinResponse tells the client whether it may enter the chat.
type JoinResponse struct {
	Result string `json:"result"`
	Reason string `json:"reason"`
}

// OK reports whether the join was accepted.
func (r JoinResponse) OK() bool {
	return r.Result == ResultOK
}
