package realtime

import (
	"fmt"
	"sync"

	"github.com/parley-ai/parley-core/core/audio"
	"github.com/parley-ai/parley-core/core/eventbus"
	"github.com/parley-ai/parley-core/core/events"
)

// Conversation owns the ordered collection of conversation items and applies
// the incremental transitions arriving from the remote stream. It assumes,
// as a precondition, that the upstream transport delivers deltas for a given
// item in order; it makes no attempt to reorder them.
//
// All mutations happen under a single write lock so concurrent readers never
// observe a partially applied transition. Every transition emits a matching
// event on the bus.
type Conversation struct {
	mu sync.RWMutex

	bus      *eventbus.Bus
	encoding audio.EncodingInfo

	order []string
	items map[string]*Item

	// callOwners maps tool call ids to the item carrying the call, so a
	// resolved tool result lands on the right item and deletion can clean
	// the correlation up.
	callOwners map[string]string

	// inputAudio accumulates appended microphone samples; a speech stop
	// slices the spoken span out of it for the user item.
	inputAudio []int16

	// queuedSpeech holds speech boundaries (and the sliced input audio)
	// for items that have not been created yet; they are applied when the
	// item arrives.
	queuedSpeech map[string]*queuedSpeech

	currentTurnID string
}

type queuedSpeech struct {
	startOffset int
	endOffset   int
	stopped     bool
	audio       []int16
}

// NewConversation creates an empty conversation reporting on bus, with
// audio durations derived from encoding.
func NewConversation(bus *eventbus.Bus, encoding audio.EncodingInfo) *Conversation {
	return &Conversation{
		bus:          bus,
		encoding:     encoding,
		items:        map[string]*Item{},
		callOwners:   map[string]string{},
		queuedSpeech: map[string]*queuedSpeech{},
	}
}

// QueueInputAudio accumulates appended microphone samples so the spoken
// span can be attached to the user item once its speech turn ends.
func (c *Conversation) QueueInputAudio(samples []int16) {
	if len(samples) == 0 {
		return
	}
	c.mu.Lock()
	c.inputAudio = audio.MergeInt16(c.inputAudio, samples)
	c.mu.Unlock()
}

// ApplyItemCreated adds a new in-progress item. A duplicate id is a protocol
// desync: the event is reported and ignored, the existing item is untouched.
func (c *Conversation) ApplyItemCreated(id string, role Role) error {
	c.mu.Lock()

	if _, exists := c.items[id]; exists {
		c.mu.Unlock()
		err := fmt.Errorf("duplicate conversation item %q", id)
		c.bus.Emit(events.NewProtocolError("conversation", err))
		return err
	}

	item := &Item{ID: id, Role: role, Status: ItemInProgress}
	c.items[id] = item
	c.order = append(c.order, id)

	// A queued span whose turn is still open stays queued; the stop will
	// attach it.
	queued, hasQueued := c.queuedSpeech[id]
	applyQueued := hasQueued && queued.stopped
	if applyQueued {
		delete(c.queuedSpeech, id)
		if len(queued.audio) > 0 {
			item.appendAudio(queued.audio)
			item.AudioDuration = item.audioDuration(c.encoding)
		}
	}
	c.mu.Unlock()

	c.bus.Emit(events.NewItemCreated(id, string(role)))

	if applyQueued {
		return c.ApplyTruncated(id, len(queued.audio))
	}
	return nil
}

// ApplyDelta merges an incremental fragment into an item. An unknown id is a
// protocol desync reported on the bus; a delta against a completed item is
// logged and ignored. In both cases the collection is left unchanged and the
// typed error is returned for callers that care.
func (c *Conversation) ApplyDelta(id string, delta events.Delta) error {
	c.mu.Lock()

	item, exists := c.items[id]
	if !exists {
		c.mu.Unlock()
		err := &UnknownItemError{ID: id}
		c.bus.Emit(events.NewProtocolError("conversation", err))
		return err
	}
	if item.Status == ItemCompleted {
		c.mu.Unlock()
		logger.Warn("ignoring delta for completed item", "item", id)
		return &StaleItemError{ID: id}
	}

	if delta.Text != "" {
		item.appendText(delta.Text)
	}
	if delta.Transcript != "" {
		item.appendTranscript(delta.Transcript)
	}
	if len(delta.Audio) > 0 {
		item.appendAudio(delta.Audio)
		item.AudioDuration = item.audioDuration(c.encoding)
	}
	if delta.Arguments != "" {
		item.appendArguments(delta.Arguments)
	}
	c.mu.Unlock()

	c.bus.Emit(events.NewItemUpdated(id, delta))
	return nil
}

// ApplyToolCall attaches a tool call fragment to an item and registers the
// call id so the eventual result can be routed back.
func (c *Conversation) ApplyToolCall(id, callID, name string) error {
	c.mu.Lock()

	item, exists := c.items[id]
	if !exists {
		c.mu.Unlock()
		err := &UnknownItemError{ID: id}
		c.bus.Emit(events.NewProtocolError("conversation", err))
		return err
	}

	call := &ToolCallPart{CallID: callID, Name: name}
	item.Content = append(item.Content, ContentPart{Kind: PartToolCall, ToolCall: call})
	item.Formatted.ToolCall = call
	c.callOwners[callID] = id
	c.mu.Unlock()
	return nil
}

// AppendToolResult attaches a resolved tool result to the item that issued
// the call. Results whose call correlation is gone, typically because the
// item was deleted mid-flight, are dropped with a protocol error event.
func (c *Conversation) AppendToolResult(callID, content string) error {
	c.mu.Lock()

	itemID, exists := c.callOwners[callID]
	if !exists {
		c.mu.Unlock()
		err := fmt.Errorf("tool result for unknown call %q dropped", callID)
		c.bus.Emit(events.NewProtocolError("conversation", err))
		return err
	}
	delete(c.callOwners, callID)

	item := c.items[itemID]
	item.Content = append(item.Content, ContentPart{Kind: PartToolResult, ToolResult: content})
	c.mu.Unlock()

	c.bus.Emit(events.NewItemUpdated(itemID, events.Delta{ToolResult: content}))
	return nil
}

// ApplySpeechStarted marks the beginning of a speech turn on an item.
// sampleOffset is where the turn begins inside the accumulated input audio.
func (c *Conversation) ApplySpeechStarted(id string, sampleOffset int) {
	c.mu.Lock()
	c.currentTurnID = id
	if sampleOffset < 0 {
		sampleOffset = 0
	}
	c.queuedSpeech[id] = &queuedSpeech{startOffset: sampleOffset}
	c.mu.Unlock()

	c.bus.Emit(events.NewTurnStarted(id))
}

// ApplySpeechStopped marks the end of a speech turn, slices the spoken span
// out of the accumulated input audio, and attaches it to the item. When the
// item has not been created yet the span stays queued and is applied on
// creation.
func (c *Conversation) ApplySpeechStopped(id string, sampleOffset int) error {
	c.mu.Lock()
	if c.currentTurnID == id {
		c.currentTurnID = ""
	}
	if sampleOffset < 0 {
		sampleOffset = 0
	}

	queued, hasQueued := c.queuedSpeech[id]
	if !hasQueued {
		queued = &queuedSpeech{}
		c.queuedSpeech[id] = queued
	}
	queued.endOffset = sampleOffset
	queued.stopped = true
	queued.audio = c.inputAudioSpan(queued.startOffset, queued.endOffset)

	item, exists := c.items[id]
	if !exists {
		c.mu.Unlock()
		c.bus.Emit(events.NewTurnStopped(id, sampleOffset))
		return nil
	}

	delete(c.queuedSpeech, id)
	if len(queued.audio) > 0 {
		item.appendAudio(queued.audio)
		item.AudioDuration = item.audioDuration(c.encoding)
	}
	c.mu.Unlock()

	c.bus.Emit(events.NewTurnStopped(id, sampleOffset))
	return c.ApplyTruncated(id, sampleOffset)
}

// inputAudioSpan copies the [start, end) slice of the accumulated input
// audio, clamping both bounds. Callers must hold c.mu.
func (c *Conversation) inputAudioSpan(start, end int) []int16 {
	if end > len(c.inputAudio) {
		end = len(c.inputAudio)
	}
	if start > end {
		start = end
	}
	if start == end {
		return nil
	}
	return audio.MergeInt16(nil, c.inputAudio[start:end])
}

// ApplyTruncated clips an item's audio accumulator at sampleOffset and
// retroactively adjusts its duration. An offset beyond the buffered audio is
// clamped to the buffered length rather than treated as an error.
func (c *Conversation) ApplyTruncated(id string, sampleOffset int) error {
	c.mu.Lock()

	item, exists := c.items[id]
	if !exists {
		c.mu.Unlock()
		err := &UnknownItemError{ID: id}
		c.bus.Emit(events.NewProtocolError("conversation", err))
		return err
	}

	if sampleOffset < 0 {
		sampleOffset = 0
	}
	discarded := item.truncateAudio(sampleOffset)
	if discarded {
		item.Status = ItemTruncated
	}
	item.AudioDuration = item.audioDuration(c.encoding)
	audioLeft := item.AudioDuration
	c.mu.Unlock()

	c.bus.Emit(events.NewItemTruncated(id, sampleOffset, audioLeft))
	return nil
}

// ApplyCompleted transitions an item to completed. Completing an already
// completed item is a no-op.
func (c *Conversation) ApplyCompleted(id string) error {
	c.mu.Lock()

	item, exists := c.items[id]
	if !exists {
		c.mu.Unlock()
		err := &UnknownItemError{ID: id}
		c.bus.Emit(events.NewProtocolError("conversation", err))
		return err
	}
	if item.Status == ItemCompleted {
		c.mu.Unlock()
		return nil
	}
	item.Status = ItemCompleted
	if c.currentTurnID == id {
		c.currentTurnID = ""
	}
	c.mu.Unlock()

	c.bus.Emit(events.NewItemCompleted(id))
	return nil
}

// ApplyDeleted removes an item and any tool call correlations pointing at
// it. Results for those calls that arrive later hit the dropped-result path.
func (c *Conversation) ApplyDeleted(id string) error {
	c.mu.Lock()

	if _, exists := c.items[id]; !exists {
		c.mu.Unlock()
		err := &UnknownItemError{ID: id}
		c.bus.Emit(events.NewProtocolError("conversation", err))
		return err
	}

	delete(c.items, id)
	for i, orderedID := range c.order {
		if orderedID == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	for callID, owner := range c.callOwners {
		if owner == id {
			delete(c.callOwners, callID)
		}
	}
	if c.currentTurnID == id {
		c.currentTurnID = ""
	}
	c.mu.Unlock()

	c.bus.Emit(events.NewItemDeleted(id))
	return nil
}

// Clear drops every item along with the queued speech spans, buffered input
// audio, and tool call correlations, returning the conversation to its
// freshly constructed state.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order = nil
	c.items = map[string]*Item{}
	c.callOwners = map[string]string{}
	c.queuedSpeech = map[string]*queuedSpeech{}
	c.inputAudio = nil
	c.currentTurnID = ""
}

// Item returns a snapshot of one item.
func (c *Conversation) Item(id string) (Item, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, exists := c.items[id]
	if !exists {
		return Item{}, false
	}
	return item.clone(), true
}

// Items returns snapshots of every item in insertion order.
func (c *Conversation) Items() []Item {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshots := make([]Item, 0, len(c.order))
	for _, id := range c.order {
		snapshots = append(snapshots, c.items[id].clone())
	}
	return snapshots
}

// CurrentTurnItem returns a snapshot of the item owning the active speech
// turn, or nil when no turn is active.
func (c *Conversation) CurrentTurnItem() *Item {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.currentTurnID == "" {
		return nil
	}
	item, exists := c.items[c.currentTurnID]
	if !exists {
		return nil
	}
	snapshot := item.clone()
	return &snapshot
}

func (item *Item) appendText(text string) {
	for i := len(item.Content) - 1; i >= 0; i-- {
		if item.Content[i].Kind == PartText {
			item.Content[i].Text += text
			item.Formatted.Text += text
			return
		}
	}
	item.Content = append(item.Content, ContentPart{Kind: PartText, Text: text})
	item.Formatted.Text += text
}

func (item *Item) appendTranscript(transcript string) {
	for i := len(item.Content) - 1; i >= 0; i-- {
		if item.Content[i].Kind == PartAudio {
			item.Content[i].Transcript += transcript
			item.Formatted.Transcript += transcript
			return
		}
	}
	item.Content = append(item.Content, ContentPart{Kind: PartAudio, Transcript: transcript})
	item.Formatted.Transcript += transcript
}

func (item *Item) appendAudio(samples []int16) {
	item.Formatted.Audio = audio.MergeInt16(item.Formatted.Audio, samples)
	for i := len(item.Content) - 1; i >= 0; i-- {
		if item.Content[i].Kind == PartAudio {
			item.Content[i].Audio = audio.MergeInt16(item.Content[i].Audio, samples)
			return
		}
	}
	item.Content = append(item.Content, ContentPart{Kind: PartAudio, Audio: audio.MergeInt16(nil, samples)})
}

func (item *Item) appendArguments(fragment string) {
	for i := len(item.Content) - 1; i >= 0; i-- {
		if item.Content[i].Kind == PartToolCall {
			item.Content[i].ToolCall.Arguments += fragment
			return
		}
	}
	call := &ToolCallPart{Arguments: fragment}
	item.Content = append(item.Content, ContentPart{Kind: PartToolCall, ToolCall: call})
	item.Formatted.ToolCall = call
}

// truncateAudio clips the accumulator at sampleOffset, reporting whether any
// samples were actually discarded. Offsets past the buffered length clamp.
func (item *Item) truncateAudio(sampleOffset int) bool {
	discarded := false
	if sampleOffset < len(item.Formatted.Audio) {
		item.Formatted.Audio = item.Formatted.Audio[:sampleOffset]
		discarded = true
	}
	for i := range item.Content {
		if item.Content[i].Kind != PartAudio {
			continue
		}
		if sampleOffset < len(item.Content[i].Audio) {
			item.Content[i].Audio = item.Content[i].Audio[:sampleOffset]
			discarded = true
		}
	}
	return discarded
}
