package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/codes"

	"github.com/parley-ai/parley-core/core/audio"
	"github.com/parley-ai/parley-core/core/eventbus"
	"github.com/parley-ai/parley-core/core/events"
	"github.com/parley-ai/parley-core/core/toolrpc"
)

type localTool struct {
	def     ToolDefinition
	handler ToolHandler
}

// Client is the session facade. It composes the event bus, the conversation
// engine, and the tool service, owns the session configuration, and drives
// the remote channel. It holds no conversation state of its own.
type Client struct {
	bus          *eventbus.Bus
	conversation *Conversation
	tools        *ToolService

	channel  Channel
	encoding audio.EncodingInfo

	toolClients     []*toolrpc.Client
	localTools      []localTool
	toolCallTimeout time.Duration

	mu        sync.Mutex
	config    SessionConfig
	connected bool
	closed    bool

	readerDone chan struct{}
}

// NewClient assembles a session client. Connect must be called before any
// operation that talks to the remote service.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		config:   DefaultSessionConfig(),
		encoding: audio.GetDefaultEncodingInfo(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.bus == nil {
		c.bus = eventbus.New()
	}
	c.conversation = NewConversation(c.bus, c.encoding)

	serviceOpts := []ToolServiceOption{}
	if c.toolCallTimeout > 0 {
		serviceOpts = append(serviceOpts, WithCallTimeout(c.toolCallTimeout))
	}
	c.tools = NewToolService(c.bus, serviceOpts...)

	for _, tool := range c.localTools {
		if err := c.tools.RegisterLocalTool(tool.def, tool.handler); err != nil {
			logger.Warn("skipping local tool", "tool", tool.def.Name, "error", err)
		}
	}
	return c
}

// Bus returns the event bus consumers subscribe on.
func (c *Client) Bus() *eventbus.Bus { return c.bus }

// Conversation returns the engine owning the item collection.
func (c *Client) Conversation() *Conversation { return c.conversation }

// Tools returns the unified tool registry.
func (c *Client) Tools() *ToolService { return c.tools }

// Connect starts the attached tool providers, transmits the initial session
// configuration, and begins consuming the inbound stream. A tool provider
// that fails to start is skipped; its failure is observable on the bus and
// the session proceeds without its tools.
func (c *Client) Connect(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "connect session")
	defer span.End()

	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return fmt.Errorf("session already connected")
	}
	if c.channel == nil {
		c.mu.Unlock()
		return fmt.Errorf("no channel configured")
	}
	c.mu.Unlock()

	for _, toolClient := range c.toolClients {
		if err := toolClient.Start(ctx); err != nil {
			logger.Error("tool client failed to start", "client", toolClient.ID(), "error", err)
			continue
		}
		if err := c.tools.RegisterClient(ctx, toolClient); err != nil {
			logger.Error("tool client failed to register", "client", toolClient.ID(), "error", err)
		}
	}

	c.mu.Lock()
	c.connected = true
	c.closed = false
	c.readerDone = make(chan struct{})
	c.mu.Unlock()

	if err := c.transmitConfig(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		return fmt.Errorf("failed to transmit session config: %w", err)
	}

	go c.readLoop()
	return nil
}

// Close tears the session down. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed || !c.connected {
		c.closed = true
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	c.mu.Unlock()

	for _, toolClient := range c.toolClients {
		if err := toolClient.Stop(); err != nil {
			logger.Warn("failed to stop tool client", "client", toolClient.ID(), "error", err)
		}
	}

	err := c.channel.Close()
	c.bus.Emit(events.NewSessionClosed("closed by client"))
	if err != nil {
		return fmt.Errorf("failed to close channel: %w", err)
	}
	return nil
}

// Configure validates a partial update, merges it into the staged
// configuration, and re-transmits when connected.
func (c *Client) Configure(update SessionConfig) error {
	if err := update.Validate(); err != nil {
		return fmt.Errorf("invalid session config: %w", err)
	}

	c.mu.Lock()
	if err := c.config.merge(update); err != nil {
		c.mu.Unlock()
		return err
	}
	connected := c.connected
	c.mu.Unlock()

	if connected {
		return c.transmitConfig()
	}
	return nil
}

// UpdateSystemPrompt replaces the system prompt and re-transmits when
// connected.
func (c *Client) UpdateSystemPrompt(prompt string) error {
	c.mu.Lock()
	c.config.SystemPrompt = prompt
	connected := c.connected
	c.mu.Unlock()

	if connected {
		return c.transmitConfig()
	}
	return nil
}

// UpdateMaxResponseTokens replaces the response token cap and re-transmits
// when connected.
func (c *Client) UpdateMaxResponseTokens(limit int) error {
	if limit < 0 {
		return fmt.Errorf("max response tokens must not be negative, got %d", limit)
	}

	c.mu.Lock()
	c.config.MaxResponseTokens = limit
	connected := c.connected
	c.mu.Unlock()

	if connected {
		return c.transmitConfig()
	}
	return nil
}

// AddTool registers an in-process tool and notifies the remote service when
// connected. Adding a name that already exists is an error.
func (c *Client) AddTool(def ToolDefinition, handler ToolHandler) error {
	if err := c.tools.RegisterLocalTool(def, handler); err != nil {
		return err
	}

	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if connected {
		return c.transmitConfig()
	}
	return nil
}

// RemoveTool drops a tool from the enabled set and notifies the remote
// service when connected. Removing an unknown name is an error.
func (c *Client) RemoveTool(name string) error {
	if err := c.tools.RemoveTool(name); err != nil {
		return err
	}

	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if connected {
		return c.transmitConfig()
	}
	return nil
}

// SendText submits a user text message and asks the model to respond.
func (c *Client) SendText(text string) error {
	if err := c.send(itemCreateEvent{
		EventID: newEventID(),
		Type:    eventItemCreate,
		Item: wireItem{
			Type:    "message",
			Role:    string(RoleUser),
			Content: []wireContent{{Type: "input_text", Text: text}},
		},
	}); err != nil {
		return fmt.Errorf("failed to send user message: %w", err)
	}
	return c.CreateResponse()
}

// AppendInputAudio streams a chunk of microphone samples to the remote
// input buffer.
func (c *Client) AppendInputAudio(samples []int16) error {
	if len(samples) == 0 {
		return nil
	}
	if err := c.send(audioAppendEvent{EventID: newEventID(), Type: eventAudioAppend, Audio: audio.EncodeBase64(samples)}); err != nil {
		return fmt.Errorf("failed to append input audio: %w", err)
	}
	c.conversation.QueueInputAudio(samples)
	return nil
}

// CreateResponse asks the model to produce a response turn.
func (c *Client) CreateResponse() error {
	return c.send(responseCreateEvent{EventID: newEventID(), Type: eventResponseCreate})
}

// CancelResponse aborts the in-flight response turn, if any.
func (c *Client) CancelResponse() error {
	return c.send(responseCancelEvent{EventID: newEventID(), Type: eventResponseCancel})
}

// DeleteItem removes an item from the remote conversation. The local
// collection is updated when the deletion event echoes back.
func (c *Client) DeleteItem(id string) error {
	return c.send(itemDeleteEvent{EventID: newEventID(), Type: eventItemDelete, ItemID: id})
}

func (c *Client) transmitConfig() error {
	c.mu.Lock()
	payload := c.config.payload(c.tools.Descriptors())
	c.mu.Unlock()

	if err := c.send(sessionUpdateEvent{EventID: newEventID(), Type: eventSessionUpdate, Session: payload}); err != nil {
		return err
	}
	c.bus.Emit(events.NewSessionConfigured(true))
	return nil
}

func (c *Client) send(event any) error {
	c.mu.Lock()
	connected := c.connected
	channel := c.channel
	c.mu.Unlock()

	if !connected || channel == nil {
		return fmt.Errorf("session is not connected")
	}
	return channel.Send(event)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) readLoop() {
	defer close(c.readerDone)

	for {
		raw, err := c.channel.Receive()
		if err != nil {
			if c.isClosed() {
				return
			}
			logger.Error("channel receive failed", "error", err)
			c.mu.Lock()
			c.connected = false
			c.closed = true
			c.mu.Unlock()
			c.bus.Emit(events.NewSessionClosed(err.Error()))
			return
		}
		c.handleServerEvent(raw)
	}
}

// handleServerEvent normalizes one remote event onto a conversation engine
// transition. Errors from the engine are already reported on the bus, so
// they are only logged here.
func (c *Client) handleServerEvent(raw []byte) {
	eventType := gjson.GetBytes(raw, "type").String()

	switch eventType {
	case "session.created", "session.updated":
		logger.Debug("session acknowledged", "type", eventType)

	case "conversation.item.created":
		c.handleItemCreated(raw)

	case "response.text.delta":
		c.applyDelta(raw, events.Delta{Text: gjson.GetBytes(raw, "delta").String()})

	case "response.audio_transcript.delta":
		c.applyDelta(raw, events.Delta{Transcript: gjson.GetBytes(raw, "delta").String()})

	case "conversation.item.input_audio_transcription.completed":
		c.applyDelta(raw, events.Delta{Transcript: gjson.GetBytes(raw, "transcript").String()})

	case "response.audio.delta":
		samples, err := audio.DecodeBase64(gjson.GetBytes(raw, "delta").String())
		if err != nil {
			c.bus.Emit(events.NewProtocolError("channel", fmt.Errorf("bad audio delta: %w", err)))
			return
		}
		c.applyDelta(raw, events.Delta{Audio: samples})

	case "response.function_call_arguments.delta":
		c.applyDelta(raw, events.Delta{Arguments: gjson.GetBytes(raw, "delta").String()})

	case "response.function_call_arguments.done":
		callID := gjson.GetBytes(raw, "call_id").String()
		name := gjson.GetBytes(raw, "name").String()
		arguments := gjson.GetBytes(raw, "arguments").String()
		go c.resolveToolCall(callID, name, arguments)

	case "input_audio_buffer.speech_started":
		itemID := gjson.GetBytes(raw, "item_id").String()
		startMs := gjson.GetBytes(raw, "audio_start_ms").Int()
		offset := audio.SamplesForDuration(time.Duration(startMs)*time.Millisecond, c.encoding)
		c.conversation.ApplySpeechStarted(itemID, offset)

	case "input_audio_buffer.speech_stopped":
		itemID := gjson.GetBytes(raw, "item_id").String()
		endMs := gjson.GetBytes(raw, "audio_end_ms").Int()
		offset := audio.SamplesForDuration(time.Duration(endMs)*time.Millisecond, c.encoding)
		if err := c.conversation.ApplySpeechStopped(itemID, offset); err != nil {
			logger.Warn("speech stop not applied", "item", itemID, "error", err)
		}

	case "conversation.item.truncated":
		itemID := gjson.GetBytes(raw, "item_id").String()
		endMs := gjson.GetBytes(raw, "audio_end_ms").Int()
		offset := audio.SamplesForDuration(time.Duration(endMs)*time.Millisecond, c.encoding)
		if err := c.conversation.ApplyTruncated(itemID, offset); err != nil {
			logger.Warn("truncation not applied", "item", itemID, "error", err)
		}

	case "response.output_item.done":
		itemID := gjson.GetBytes(raw, "item.id").String()
		if err := c.conversation.ApplyCompleted(itemID); err != nil {
			logger.Warn("completion not applied", "item", itemID, "error", err)
		}

	case "conversation.item.deleted":
		itemID := gjson.GetBytes(raw, "item_id").String()
		if err := c.conversation.ApplyDeleted(itemID); err != nil {
			logger.Warn("deletion not applied", "item", itemID, "error", err)
		}

	case "error":
		message := gjson.GetBytes(raw, "error.message").String()
		c.bus.Emit(events.NewProtocolError("server", fmt.Errorf("remote error: %s", message)))

	default:
		logger.Debug("unhandled server event", "type", eventType)
	}
}

func (c *Client) handleItemCreated(raw []byte) {
	item := gjson.GetBytes(raw, "item")
	id := item.Get("id").String()

	switch item.Get("type").String() {
	case "function_call":
		if err := c.conversation.ApplyItemCreated(id, RoleAssistant); err != nil {
			return
		}
		if err := c.conversation.ApplyToolCall(id, item.Get("call_id").String(), item.Get("name").String()); err != nil {
			logger.Warn("tool call not attached", "item", id, "error", err)
		}

	default:
		role := Role(item.Get("role").String())
		if err := c.conversation.ApplyItemCreated(id, role); err != nil {
			return
		}
		for _, part := range item.Get("content").Array() {
			delta := events.Delta{
				Text:       part.Get("text").String(),
				Transcript: part.Get("transcript").String(),
			}
			if delta.Text == "" && delta.Transcript == "" {
				continue
			}
			if err := c.conversation.ApplyDelta(id, delta); err != nil {
				logger.Warn("initial content not applied", "item", id, "error", err)
			}
		}
	}
}

func (c *Client) applyDelta(raw []byte, delta events.Delta) {
	itemID := gjson.GetBytes(raw, "item_id").String()
	if err := c.conversation.ApplyDelta(itemID, delta); err != nil {
		logger.Warn("delta not applied", "item", itemID, "error", err)
	}
}

// resolveToolCall dispatches a completed tool call and feeds the result back
// into the conversation, both locally and to the remote service.
func (c *Client) resolveToolCall(callID, name, rawArguments string) {
	ctx := context.Background()

	var result ToolResult
	var args map[string]any
	if rawArguments != "" {
		if err := json.Unmarshal([]byte(rawArguments), &args); err != nil {
			// Undecodable arguments never reach the tool; the failure goes
			// back to the model as the call's result.
			argErr := fmt.Errorf("bad tool arguments for call %q: %w", callID, err)
			c.bus.Emit(events.NewProtocolError("channel", argErr))
			c.bus.Emit(events.NewToolCallFailed(callID, name, argErr.Error()))
			result = ToolResult{CallID: callID, Content: argErr.Error(), IsError: true}
		}
	}
	if !result.IsError {
		result = c.tools.Dispatch(ctx, callID, name, args)
	}

	if err := c.conversation.AppendToolResult(callID, result.Content); err != nil {
		// Item was deleted mid-flight; the result has nowhere to go.
		return
	}

	if err := c.send(itemCreateEvent{
		EventID: newEventID(),
		Type:    eventItemCreate,
		Item:    wireItem{Type: "function_call_output", CallID: callID, Output: result.Content},
	}); err != nil {
		logger.Error("failed to send tool output", "call", callID, "error", err)
		return
	}
	if err := c.CreateResponse(); err != nil {
		logger.Error("failed to request follow-up response", "call", callID, "error", err)
	}
}
