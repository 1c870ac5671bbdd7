package realtime

import "fmt"

// UnknownItemError reports a delta or transition referencing an item id the
// conversation has never seen. It signals a desync with the remote stream;
// the offending event is ignored and the session continues.
type UnknownItemError struct {
	ID string
}

func (e *UnknownItemError) Error() string {
	return fmt.Sprintf("unknown conversation item %q", e.ID)
}

// StaleItemError reports a delta against an item that has already been
// completed. The delta is ignored and the session continues.
type StaleItemError struct {
	ID string
}

func (e *StaleItemError) Error() string {
	return fmt.Sprintf("conversation item %q is already completed", e.ID)
}
