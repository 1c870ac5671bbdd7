package events

const (
	// KindSessionConfigured identifies an applied configuration change.
	KindSessionConfigured Kind = "session.configured"
	// KindSessionClosed identifies session client shutdown.
	KindSessionClosed Kind = "session.closed"
	// KindProtocolError identifies a contained protocol failure.
	KindProtocolError Kind = "error.protocol"
)

// SessionConfigured marks an applied configuration change. Transmitted is
// true when the change was also sent to the remote service.
type SessionConfigured struct {
	Base
	Transmitted bool
}

// NewSessionConfigured creates a session configured event.
func NewSessionConfigured(transmitted bool) SessionConfigured {
	return SessionConfigured{Base: NewBase(KindSessionConfigured), Transmitted: transmitted}
}

// SessionClosed marks session client shutdown.
type SessionClosed struct {
	Base
	Reason string
}

// NewSessionClosed creates a session closed event.
func NewSessionClosed(reason string) SessionClosed {
	return SessionClosed{Base: NewBase(KindSessionClosed), Reason: reason}
}

// ProtocolError reports a contained protocol failure: an unknown item id, a
// stale delta, a malformed payload, or an unknown correlation id. The
// offending input was discarded and the session remains usable.
type ProtocolError struct {
	Base
	Source string
	Err    error
}

// NewProtocolError creates a protocol error event.
func NewProtocolError(source string, err error) ProtocolError {
	return ProtocolError{Base: NewBase(KindProtocolError), Source: source, Err: err}
}
