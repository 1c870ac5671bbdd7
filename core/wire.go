package realtime

import "github.com/google/uuid"

// Outbound event shapes for the remote conversational channel. The remote
// protocol is JSON events discriminated by a "type" field; every client
// event carries a unique event id.

func newEventID() string {
	return "evt_" + uuid.NewString()
}

type sessionUpdateEvent struct {
	EventID string         `json:"event_id"`
	Type    string         `json:"type"`
	Session map[string]any `json:"session"`
}

type itemCreateEvent struct {
	EventID string   `json:"event_id"`
	Type    string   `json:"type"`
	Item    wireItem `json:"item"`
}

type wireItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []wireContent `json:"content,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
}

type wireContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type audioAppendEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Audio   string `json:"audio"`
}

type responseCreateEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
}

type responseCancelEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
}

type itemDeleteEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	ItemID  string `json:"item_id"`
}

const (
	eventSessionUpdate  = "session.update"
	eventItemCreate     = "conversation.item.create"
	eventItemDelete     = "conversation.item.delete"
	eventAudioAppend    = "input_audio_buffer.append"
	eventResponseCreate = "response.create"
	eventResponseCancel = "response.cancel"
)
