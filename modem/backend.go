package modem

import "time"

// Backend translates engine operations into one module family's command
// vocabulary. Commands are returned without the "AT" prefix and line ending;
// the command channel adds both.
type Backend interface {
	// Name identifies the module family in logs.
	Name() string
	// Vocabulary returns the literal terminators and sentinels of the dialect.
	Vocabulary() Vocabulary
	// InitCommands are issued in order after the attention check. Each must
	// be answered with the OK terminator.
	InitCommands() []string
	// OpenCommands returns the commands that open connection id. All but the
	// last are preparatory; the answer to the last decides the outcome.
	OpenCommands(id int, opts OpenOptions, keepAlive time.Duration, sslBufferSize int) []string
	CloseCommand(id int) string
	SendCommand(id, n int) string
	StatusCommand() string
}

// Vocabulary holds the byte-exact strings the matcher looks for.
type Vocabulary struct {
	// Default terminators, ranked 1, 2 and 3 when no candidates are given.
	OK       string
	Error    string
	CMEError string

	// AlreadyConnected is the third outcome of an open command.
	AlreadyConnected string

	// SendPrompt is awaited after a send announcement; SendOK and SendFail
	// answer the raw payload.
	SendPrompt string
	SendOK     string
	SendFail   string

	// StatusHeader precedes the aggregate status code, one of StatusCodes.
	// Each live connection is then reported on a line starting with
	// ConnStatusPrefix followed by its id and a comma.
	StatusHeader     string
	StatusCodes      []string
	ConnStatusPrefix string

	// DataSentinel introduces "<id>,<len>:<payload>". ClosedSentinel ends a
	// "<id>,CLOSED" line.
	DataSentinel   string
	ClosedSentinel string
}

func (v Vocabulary) defaults() []string {
	return []string{v.OK, v.Error, v.CMEError}
}

// OpenOptions describes one outgoing connection.
type OpenOptions struct {
	Host   string
	Port   int
	Secure bool
	// Timeout bounds the wait for the open outcome. Zero means DefaultOpenTimeout.
	Timeout time.Duration
}

// RegStatus is the aggregate link state reported by the module.
type RegStatus int

const (
	RegOKIP    RegStatus = 2 // joined an access point and obtained an address
	RegOKTCP   RegStatus = 3 // at least one connection is open
	RegOKNoTCP RegStatus = 4 // connections were open and are now all closed
	RegDenied  RegStatus = 5 // not joined to an access point
	RegUnknown RegStatus = 6
)

func (s RegStatus) String() string {
	switch s {
	case RegOKIP:
		return "ip"
	case RegOKTCP:
		return "tcp"
	case RegOKNoTCP:
		return "no-tcp"
	case RegDenied:
		return "denied"
	default:
		return "unknown"
	}
}
