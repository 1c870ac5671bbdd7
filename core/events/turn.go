package events

const (
	// KindTurnStarted identifies a speech start boundary.
	KindTurnStarted Kind = "turn.started"
	// KindTurnStopped identifies a speech stop boundary.
	KindTurnStopped Kind = "turn.stopped"
)

// TurnStarted marks the start of a speech turn for an item.
type TurnStarted struct {
	Base
	ItemID string
}

// NewTurnStarted creates a turn started event.
func NewTurnStarted(itemID string) TurnStarted {
	return TurnStarted{Base: NewBase(KindTurnStarted), ItemID: itemID}
}

// TurnStopped marks the end of a speech turn. SampleOffset is where the
// item's accumulated audio was clipped.
type TurnStopped struct {
	Base
	ItemID       string
	SampleOffset int
}

// NewTurnStopped creates a turn stopped event.
func NewTurnStopped(itemID string, sampleOffset int) TurnStopped {
	return TurnStopped{Base: NewBase(KindTurnStopped), ItemID: itemID, SampleOffset: sampleOffset}
}
