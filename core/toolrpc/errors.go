package toolrpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrCallTimeout reports that a call deadline elapsed before the provider
	// responded. The in-flight request is not retried; retry is a caller
	// decision.
	ErrCallTimeout = errors.New("tool call timed out")

	// ErrClientClosed reports that the client stopped while calls were
	// outstanding, or that a call was submitted after shutdown.
	ErrClientClosed = errors.New("tool client closed")
)

// StartupError reports that a provider never reached the ready state.
type StartupError struct {
	ClientID string
	Err      error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("tool client %q failed to start: %v", e.ClientID, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// RPCError is the JSON-RPC error object returned by a provider in place of
// a result.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
