package realtime

import (
	"time"

	"github.com/parley-ai/parley-core/core/audio"
)

// Role identifies the author of a conversation item.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ItemStatus tracks an item through its lifecycle.
type ItemStatus string

const (
	ItemInProgress ItemStatus = "in_progress"
	ItemCompleted  ItemStatus = "completed"
	ItemTruncated  ItemStatus = "truncated"
)

// PartKind tags a content fragment within an item.
type PartKind string

const (
	PartText       PartKind = "text"
	PartAudio      PartKind = "audio"
	PartToolCall   PartKind = "tool_call"
	PartToolResult PartKind = "tool_result"
)

// ContentPart is one typed fragment of an item's content. Only the fields
// relevant to its kind are populated.
type ContentPart struct {
	Kind PartKind

	Text       string
	Transcript string
	Audio      []int16
	ToolCall   *ToolCallPart
	ToolResult string
}

// ToolCallPart carries a model-requested tool invocation assembled from
// argument deltas.
type ToolCallPart struct {
	CallID    string
	Name      string
	Arguments string
}

// Formatted is a convenience view over an item's parts, accumulated as
// deltas arrive so consumers do not have to walk the part sequence.
type Formatted struct {
	Text       string
	Transcript string
	Audio      []int16
	ToolCall   *ToolCallPart
}

// Item is one entry in the ordered conversation. Values handed out by the
// conversation are snapshots; mutating them does not affect engine state.
type Item struct {
	ID      string
	Role    Role
	Status  ItemStatus
	Content []ContentPart
	Formatted

	AudioDuration time.Duration
}

func (item *Item) clone() Item {
	snapshot := *item
	snapshot.Content = make([]ContentPart, len(item.Content))
	for i, part := range item.Content {
		snapshot.Content[i] = part.clone()
	}
	if item.Formatted.Audio != nil {
		snapshot.Formatted.Audio = make([]int16, len(item.Formatted.Audio))
		copy(snapshot.Formatted.Audio, item.Formatted.Audio)
	}
	if item.Formatted.ToolCall != nil {
		call := *item.Formatted.ToolCall
		snapshot.Formatted.ToolCall = &call
	}
	return snapshot
}

func (part ContentPart) clone() ContentPart {
	if part.Audio != nil {
		samples := make([]int16, len(part.Audio))
		copy(samples, part.Audio)
		part.Audio = samples
	}
	if part.ToolCall != nil {
		call := *part.ToolCall
		part.ToolCall = &call
	}
	return part
}

func (item *Item) audioDuration(encoding audio.EncodingInfo) time.Duration {
	return audio.Duration(len(item.Formatted.Audio), encoding)
}
