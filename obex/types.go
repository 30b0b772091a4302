package obex

// State is the state of a push Session.
type State int

const (
	Ready State = iota
	Connecting
	Disconnecting
	Streaming
	Closed
)

func (s State) String() string {
	switch s {
	case Ready:
		return "Ready"
	case Connecting:
		return "Connecting"
	case Disconnecting:
		return "Disconnecting"
	case Streaming:
		return "Streaming"
	case Closed:
		return "Closed"
	default:
		return "Invalid"
	}
}

// Error classifies why a request or a session failed.
type Error int

const (
	NoError Error = iota
	// ConnectionError means the transport was severed.
	ConnectionError
	// Aborted means the transfer was cancelled by either side.
	Aborted
	// UnknownError covers sink failures and unrecognised transport errors.
	UnknownError
)

func (e Error) String() string {
	switch e {
	case NoError:
		return "NoError"
	case ConnectionError:
		return "ConnectionError"
	case Aborted:
		return "Aborted"
	default:
		return "UnknownError"
	}
}

// Request is the kind of a peer request.
type Request int

const (
	RequestConnect Request = iota
	RequestDisconnect
	RequestPut
	RequestGet
)

func (r Request) String() string {
	switch r {
	case RequestConnect:
		return "Connect"
	case RequestDisconnect:
		return "Disconnect"
	case RequestPut:
		return "Put"
	case RequestGet:
		return "Get"
	default:
		return "Invalid"
	}
}

// Header holds the request headers a push session looks at.
type Header struct {
	Name        string
	Type        string
	Length      uint32
	Description string
}
