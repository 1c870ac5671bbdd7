package realtime

import (
	"errors"
	"testing"
	"time"

	"github.com/parley-ai/parley-core/core/audio"
	"github.com/parley-ai/parley-core/core/eventbus"
	"github.com/parley-ai/parley-core/core/events"
)

func newTestConversation() (*Conversation, *eventbus.Bus) {
	bus := eventbus.New()
	return NewConversation(bus, audio.GetDefaultEncodingInfo()), bus
}

func recordKinds(bus *eventbus.Bus, kinds ...events.Kind) *[]events.Event {
	recorded := &[]events.Event{}
	for _, kind := range kinds {
		bus.On(kind, func(event events.Event) error {
			*recorded = append(*recorded, event)
			return nil
		})
	}
	return recorded
}

func TestItemLifecycle(t *testing.T) {
	conversation, _ := newTestConversation()

	if err := conversation.ApplyItemCreated("A", RoleUser); err != nil {
		t.Fatalf("expected creation to succeed, got %v", err)
	}
	if err := conversation.ApplyDelta("A", events.Delta{Text: "hi"}); err != nil {
		t.Fatalf("expected delta to apply, got %v", err)
	}
	if err := conversation.ApplyCompleted("A"); err != nil {
		t.Fatalf("expected completion to succeed, got %v", err)
	}

	items := conversation.Items()
	if len(items) != 1 {
		t.Fatalf("expected exactly one item, got %d", len(items))
	}
	item := items[0]
	if item.ID != "A" || item.Status != ItemCompleted {
		t.Fatalf("expected completed item A, got %+v", item)
	}
	if item.Formatted.Text != "hi" {
		t.Fatalf("expected text %q, got %q", "hi", item.Formatted.Text)
	}
}

func TestDeltaOnUnknownItemLeavesCollectionUnchanged(t *testing.T) {
	conversation, bus := newTestConversation()
	protocolErrors := recordKinds(bus, events.KindProtocolError)

	err := conversation.ApplyDelta("Z", events.Delta{Text: "x"})

	var unknownErr *UnknownItemError
	if !errors.As(err, &unknownErr) || unknownErr.ID != "Z" {
		t.Fatalf("expected an unknown item error for Z, got %v", err)
	}
	if items := conversation.Items(); len(items) != 0 {
		t.Fatalf("expected the collection to stay empty, got %d items", len(items))
	}
	if len(*protocolErrors) != 1 {
		t.Fatalf("expected one protocol error event, got %d", len(*protocolErrors))
	}
}

func TestStaleDeltaIsIgnored(t *testing.T) {
	conversation, _ := newTestConversation()

	conversation.ApplyItemCreated("A", RoleAssistant)
	conversation.ApplyDelta("A", events.Delta{Text: "done"})
	conversation.ApplyCompleted("A")

	err := conversation.ApplyDelta("A", events.Delta{Text: " more"})

	var staleErr *StaleItemError
	if !errors.As(err, &staleErr) {
		t.Fatalf("expected a stale item error, got %v", err)
	}
	item, _ := conversation.Item("A")
	if item.Formatted.Text != "done" {
		t.Fatalf("expected text to stay %q, got %q", "done", item.Formatted.Text)
	}
}

func TestDuplicateCreationIsRejected(t *testing.T) {
	conversation, bus := newTestConversation()
	protocolErrors := recordKinds(bus, events.KindProtocolError)

	conversation.ApplyItemCreated("A", RoleUser)
	if err := conversation.ApplyItemCreated("A", RoleAssistant); err == nil {
		t.Fatalf("expected duplicate creation to fail")
	}

	item, _ := conversation.Item("A")
	if item.Role != RoleUser {
		t.Fatalf("expected the original item to survive, got role %q", item.Role)
	}
	if len(*protocolErrors) != 1 {
		t.Fatalf("expected one protocol error event, got %d", len(*protocolErrors))
	}
}

func TestAudioAccumulationAndTruncation(t *testing.T) {
	conversation, bus := newTestConversation()
	truncations := recordKinds(bus, events.KindItemTruncated)
	encoding := audio.GetDefaultEncodingInfo()

	conversation.ApplyItemCreated("A", RoleAssistant)
	chunk := make([]int16, 100)
	conversation.ApplyDelta("A", events.Delta{Audio: chunk})
	conversation.ApplyDelta("A", events.Delta{Audio: chunk})

	item, _ := conversation.Item("A")
	if len(item.Formatted.Audio) != 200 {
		t.Fatalf("expected 200 accumulated samples, got %d", len(item.Formatted.Audio))
	}
	if item.AudioDuration != audio.Duration(200, encoding) {
		t.Fatalf("expected duration for 200 samples, got %s", item.AudioDuration)
	}

	if err := conversation.ApplyTruncated("A", 150); err != nil {
		t.Fatalf("expected truncation to succeed, got %v", err)
	}

	item, _ = conversation.Item("A")
	if len(item.Formatted.Audio) != 150 {
		t.Fatalf("expected 150 samples after truncation, got %d", len(item.Formatted.Audio))
	}
	if item.Status != ItemTruncated {
		t.Fatalf("expected status %q, got %q", ItemTruncated, item.Status)
	}
	if item.AudioDuration != audio.Duration(150, encoding) {
		t.Fatalf("expected duration adjusted to 150 samples, got %s", item.AudioDuration)
	}
	if len(*truncations) != 1 {
		t.Fatalf("expected one truncation event, got %d", len(*truncations))
	}
	truncated := (*truncations)[0].(events.ItemTruncated)
	if truncated.SampleOffset != 150 || truncated.AudioLeft != audio.Duration(150, encoding) {
		t.Fatalf("unexpected truncation event: %+v", truncated)
	}
}

func TestTruncationBeyondBufferedAudioClamps(t *testing.T) {
	conversation, _ := newTestConversation()

	conversation.ApplyItemCreated("A", RoleAssistant)
	conversation.ApplyDelta("A", events.Delta{Audio: make([]int16, 50)})

	if err := conversation.ApplyTruncated("A", 500); err != nil {
		t.Fatalf("expected an over-long offset to clamp, got %v", err)
	}

	item, _ := conversation.Item("A")
	if len(item.Formatted.Audio) != 50 {
		t.Fatalf("expected the buffer to be untouched, got %d samples", len(item.Formatted.Audio))
	}
	if item.Status == ItemTruncated {
		t.Fatalf("expected status to be unchanged when nothing was discarded")
	}
}

func TestSpeechStopBeforeCreationIsQueued(t *testing.T) {
	conversation, _ := newTestConversation()

	if err := conversation.ApplySpeechStopped("A", 20); err != nil {
		t.Fatalf("expected an early speech stop to queue, got %v", err)
	}
	if err := conversation.ApplyItemCreated("A", RoleUser); err != nil {
		t.Fatalf("expected creation to succeed, got %v", err)
	}

	// The queued stop applied at creation time; a second stop must not be
	// pending.
	conversation.ApplyDelta("A", events.Delta{Audio: make([]int16, 100)})
	item, _ := conversation.Item("A")
	if len(item.Formatted.Audio) != 100 {
		t.Fatalf("expected later audio to accumulate normally, got %d samples", len(item.Formatted.Audio))
	}
}

func TestQueuedInputAudioAttachesToSpokenItem(t *testing.T) {
	conversation, _ := newTestConversation()
	encoding := audio.GetDefaultEncodingInfo()

	conversation.QueueInputAudio(make([]int16, 200))
	conversation.ApplySpeechStarted("U1", 0)
	if err := conversation.ApplySpeechStopped("U1", 100); err != nil {
		t.Fatalf("expected the stop to queue the spoken span, got %v", err)
	}
	if err := conversation.ApplyItemCreated("U1", RoleUser); err != nil {
		t.Fatalf("expected creation to succeed, got %v", err)
	}

	item, _ := conversation.Item("U1")
	if len(item.Formatted.Audio) != 100 {
		t.Fatalf("expected the 100-sample spoken span on the item, got %d samples", len(item.Formatted.Audio))
	}
	if item.AudioDuration != audio.Duration(100, encoding) {
		t.Fatalf("expected the duration of 100 samples, got %s", item.AudioDuration)
	}
}

func TestSpokenSpanHonorsStartOffset(t *testing.T) {
	conversation, _ := newTestConversation()

	conversation.QueueInputAudio(make([]int16, 100))
	conversation.ApplySpeechStarted("U1", 60)
	conversation.QueueInputAudio(make([]int16, 100))
	conversation.ApplyItemCreated("U1", RoleUser)
	if err := conversation.ApplySpeechStopped("U1", 160); err != nil {
		t.Fatalf("expected the stop to apply, got %v", err)
	}

	item, _ := conversation.Item("U1")
	if len(item.Formatted.Audio) != 100 {
		t.Fatalf("expected the [60, 160) span, got %d samples", len(item.Formatted.Audio))
	}
}

func TestSpokenSpanClampsToBufferedInput(t *testing.T) {
	conversation, _ := newTestConversation()

	conversation.QueueInputAudio(make([]int16, 80))
	conversation.ApplySpeechStarted("U1", 0)
	conversation.ApplySpeechStopped("U1", 500)
	conversation.ApplyItemCreated("U1", RoleUser)

	item, _ := conversation.Item("U1")
	if len(item.Formatted.Audio) != 80 {
		t.Fatalf("expected the span clamped to the buffered input, got %d samples", len(item.Formatted.Audio))
	}
}

func TestToolResultDeltaReachesSubscribers(t *testing.T) {
	conversation, bus := newTestConversation()
	updates := recordKinds(bus, events.KindItemUpdated)

	conversation.ApplyItemCreated("A", RoleAssistant)
	conversation.ApplyToolCall("A", "call-1", "search")
	if err := conversation.AppendToolResult("call-1", "sunny"); err != nil {
		t.Fatalf("expected the result to attach, got %v", err)
	}

	if len(*updates) == 0 {
		t.Fatalf("expected an item updated event for the tool result")
	}
	last := (*updates)[len(*updates)-1].(events.ItemUpdated)
	if last.ItemID != "A" || last.Delta.ToolResult != "sunny" {
		t.Fatalf("expected the result content in the delta, got %+v", last)
	}
}

func TestClearResetsConversation(t *testing.T) {
	conversation, _ := newTestConversation()

	conversation.ApplyItemCreated("A", RoleAssistant)
	conversation.ApplyToolCall("A", "call-1", "search")
	conversation.QueueInputAudio(make([]int16, 100))
	conversation.ApplySpeechStarted("U1", 0)
	conversation.ApplySpeechStopped("U1", 50)

	conversation.Clear()

	if items := conversation.Items(); len(items) != 0 {
		t.Fatalf("expected an empty collection, got %d items", len(items))
	}
	if current := conversation.CurrentTurnItem(); current != nil {
		t.Fatalf("expected no active turn after clear, got %+v", current)
	}
	if err := conversation.AppendToolResult("call-1", "late"); err == nil {
		t.Fatalf("expected call correlations to be dropped")
	}

	// Queued speech spans are gone too: the item arrives clean.
	conversation.ApplyItemCreated("U1", RoleUser)
	item, _ := conversation.Item("U1")
	if len(item.Formatted.Audio) != 0 {
		t.Fatalf("expected no leftover audio after clear, got %d samples", len(item.Formatted.Audio))
	}
}

func TestCurrentTurnItemTracksSpeechBoundaries(t *testing.T) {
	conversation, bus := newTestConversation()
	turns := recordKinds(bus, events.KindTurnStarted, events.KindTurnStopped)

	conversation.ApplyItemCreated("A", RoleUser)
	conversation.ApplySpeechStarted("A", 0)

	current := conversation.CurrentTurnItem()
	if current == nil || current.ID != "A" {
		t.Fatalf("expected item A to own the active turn, got %+v", current)
	}

	conversation.ApplySpeechStopped("A", 0)
	if current := conversation.CurrentTurnItem(); current != nil {
		t.Fatalf("expected no active turn after the stop, got %+v", current)
	}
	if len(*turns) != 2 {
		t.Fatalf("expected a start and a stop event, got %d", len(*turns))
	}
}

func TestDeletionCleansToolCallCorrelation(t *testing.T) {
	conversation, bus := newTestConversation()
	protocolErrors := recordKinds(bus, events.KindProtocolError)

	conversation.ApplyItemCreated("A", RoleAssistant)
	conversation.ApplyToolCall("A", "call-1", "search")

	if err := conversation.ApplyDeleted("A"); err != nil {
		t.Fatalf("expected deletion to succeed, got %v", err)
	}
	if items := conversation.Items(); len(items) != 0 {
		t.Fatalf("expected an empty collection, got %d items", len(items))
	}

	if err := conversation.AppendToolResult("call-1", "too late"); err == nil {
		t.Fatalf("expected a result for a deleted item to be dropped")
	}
	if len(*protocolErrors) != 1 {
		t.Fatalf("expected one protocol error event, got %d", len(*protocolErrors))
	}
}

func TestToolResultLandsOnTheIssuingItem(t *testing.T) {
	conversation, _ := newTestConversation()

	conversation.ApplyItemCreated("A", RoleAssistant)
	conversation.ApplyToolCall("A", "call-1", "search")
	conversation.ApplyDelta("A", events.Delta{Arguments: `{"query":`})
	conversation.ApplyDelta("A", events.Delta{Arguments: `"weather"}`})

	if err := conversation.AppendToolResult("call-1", "sunny"); err != nil {
		t.Fatalf("expected the result to attach, got %v", err)
	}

	item, _ := conversation.Item("A")
	if item.Formatted.ToolCall == nil || item.Formatted.ToolCall.Arguments != `{"query":"weather"}` {
		t.Fatalf("expected assembled arguments, got %+v", item.Formatted.ToolCall)
	}
	last := item.Content[len(item.Content)-1]
	if last.Kind != PartToolResult || last.ToolResult != "sunny" {
		t.Fatalf("expected a trailing tool result part, got %+v", last)
	}
}

func TestSnapshotsDoNotAliasEngineState(t *testing.T) {
	conversation, _ := newTestConversation()

	conversation.ApplyItemCreated("A", RoleAssistant)
	conversation.ApplyDelta("A", events.Delta{Audio: []int16{1, 2, 3}})

	item, _ := conversation.Item("A")
	item.Formatted.Audio[0] = 99
	item.Content[0].Audio[1] = 99

	fresh, _ := conversation.Item("A")
	if fresh.Formatted.Audio[0] != 1 || fresh.Content[0].Audio[1] != 2 {
		t.Fatalf("expected engine state to be isolated from snapshot mutation, got %v", fresh.Formatted.Audio)
	}
}

func TestTimestampsAreSetOnEmittedEvents(t *testing.T) {
	conversation, bus := newTestConversation()
	created := recordKinds(bus, events.KindItemCreated)

	before := time.Now()
	conversation.ApplyItemCreated("A", RoleUser)

	if len(*created) != 1 {
		t.Fatalf("expected one created event, got %d", len(*created))
	}
	if (*created)[0].Timestamp().Before(before) {
		t.Fatalf("expected the event timestamp to be set")
	}
}
