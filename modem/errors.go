package modem

import "errors"

var (
	// ErrNoDialer is returned when a Session is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNoHandler is returned when a Session is constructed without a
	// message handler. A session without a consumer for decoded messages
	// would silently drop everything it receives.
	ErrNoHandler = errors.New("no message handler configured")

	// ErrConnectionExhausted is returned when the connect retry budget has
	// been used up without establishing a usable line. The caller must not
	// assume the transport is open.
	ErrConnectionExhausted = errors.New("connection attempts exhausted")

	// ErrDeviceRead is reported by the read loop after the consecutive
	// read-error threshold is reached. It marks the line as unusable and
	// triggers a reconnect instead of an infinite retry loop that would
	// mask a dead device.
	ErrDeviceRead = errors.New("device read failure")

	// ErrWriteFailed is returned when a command could not be written to the
	// transport, including when the transport is not open.
	ErrWriteFailed = errors.New("command write failed")

	// ErrSubmissionTimeout is returned when no submission acknowledgement
	// arrives within the acknowledgement window. Timeout is failure, not
	// "unknown": the message must be considered not sent.
	ErrSubmissionTimeout = errors.New("submission not acknowledged in time")

	// ErrEmptyDestination is returned by Send when the destination number
	// is blank. This fails fast, before any network round-trip.
	ErrEmptyDestination = errors.New("empty destination number")

	// ErrAlreadyClosed is returned when an operation is attempted on a
	// Session that has been closed.
	ErrAlreadyClosed = errors.New("session already closed")

	// ErrAlreadyRunning is returned when Run is called on a Session whose
	// loops are already running. Exactly one Run per session.
	ErrAlreadyRunning = errors.New("session already running")

	// ErrNotConnected is returned when an operation requires an open
	// transport and none is available.
	ErrNotConnected = errors.New("session not connected")
)
