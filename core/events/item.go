package events

import "time"

const (
	// KindItemCreated identifies a conversation item entering the collection.
	KindItemCreated Kind = "item.created"
	// KindItemUpdated identifies a delta applied to an in-progress item.
	KindItemUpdated Kind = "item.updated"
	// KindItemCompleted identifies an item reaching terminal content.
	KindItemCompleted Kind = "item.completed"
	// KindItemTruncated identifies an item whose audio was clipped.
	KindItemTruncated Kind = "item.truncated"
	// KindItemDeleted identifies an item removed from the collection.
	KindItemDeleted Kind = "item.deleted"
)

// Delta is the incremental fragment carried by an ItemUpdated event. Only
// the field matching the fragment type is populated.
type Delta struct {
	Text       string
	Transcript string
	Audio      []int16
	Arguments  string
	ToolResult string
}

// ItemCreated marks a conversation item entering the collection.
type ItemCreated struct {
	Base
	ItemID string
	Role   string
}

// NewItemCreated creates an item created event.
func NewItemCreated(itemID, role string) ItemCreated {
	return ItemCreated{Base: NewBase(KindItemCreated), ItemID: itemID, Role: role}
}

// ItemUpdated marks a delta applied to an item.
type ItemUpdated struct {
	Base
	ItemID string
	Delta  Delta
}

// NewItemUpdated creates an item updated event.
func NewItemUpdated(itemID string, delta Delta) ItemUpdated {
	return ItemUpdated{Base: NewBase(KindItemUpdated), ItemID: itemID, Delta: delta}
}

// ItemCompleted marks an item transition to completed.
type ItemCompleted struct {
	Base
	ItemID string
}

// NewItemCompleted creates an item completed event.
func NewItemCompleted(itemID string) ItemCompleted {
	return ItemCompleted{Base: NewBase(KindItemCompleted), ItemID: itemID}
}

// ItemTruncated marks an item whose buffered audio was clipped at
// SampleOffset, with the retained duration after clipping.
type ItemTruncated struct {
	Base
	ItemID       string
	SampleOffset int
	AudioLeft    time.Duration
}

// NewItemTruncated creates an item truncated event.
func NewItemTruncated(itemID string, sampleOffset int, audioLeft time.Duration) ItemTruncated {
	return ItemTruncated{Base: NewBase(KindItemTruncated), ItemID: itemID, SampleOffset: sampleOffset, AudioLeft: audioLeft}
}

// ItemDeleted marks an item removed from the collection.
type ItemDeleted struct {
	Base
	ItemID string
}

// NewItemDeleted creates an item deleted event.
func NewItemDeleted(itemID string) ItemDeleted {
	return ItemDeleted{Base: NewBase(KindItemDeleted), ItemID: itemID}
}
