package modem

import "errors"

var (
	// ErrNoStream is returned when a Modem is constructed without either a
	// Stream or a Dialer.
	//
	// This indicates a configuration error. The engine needs a byte stream
	// to talk to the module.
	ErrNoStream = errors.New("no stream or dialer configured")

	// ErrNoBackend is returned when a Modem is constructed without a Backend.
	ErrNoBackend = errors.New("no backend configured")

	// ErrNilTransport is returned when the Dialer reported success but
	// produced no Transport.
	ErrNilTransport = errors.New("dialer returned no transport")

	// ErrNotResponding is returned by Init when the module never answers
	// the attention command before the init timeout.
	ErrNotResponding = errors.New("modem not responding")

	// ErrCommandFailed is returned when a command that must succeed was
	// answered with anything other than its success terminator.
	ErrCommandFailed = errors.New("command failed")

	// ErrAlreadyClosed is returned when an operation is attempted on a Modem
	// that has been closed.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrTransport wraps every failure reported by the underlying Stream.
	//
	// It is the only irrecoverable error class: the session cannot be
	// trusted after the stream itself failed.
	ErrTransport = errors.New("transport failure")

	// ErrInvalidID is returned when a caller addresses a connection id
	// outside the table.
	ErrInvalidID = errors.New("invalid connection id")

	// ErrTooManyCandidates is returned when more than MaxCandidates
	// terminators are passed to WaitResponse.
	ErrTooManyCandidates = errors.New("too many terminator candidates")

	// ErrAlreadyConnected is returned by Open when the module reports that
	// the requested id is already in use.
	//
	// The underlying link may still be up; callers decide whether to Close
	// and retry.
	ErrAlreadyConnected = errors.New("connection already established")

	// ErrSendFailed is returned by Client.Write when the module did not
	// accept the payload.
	ErrSendFailed = errors.New("send not accepted")
)
