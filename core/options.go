package realtime

import (
	"time"

	"github.com/parley-ai/parley-core/core/audio"
	"github.com/parley-ai/parley-core/core/eventbus"
	"github.com/parley-ai/parley-core/core/toolrpc"
)

// Channel is the duplex message stream to the remote conversational
// service. Framing, reconnection, and TLS are the implementation's concern;
// the client only sends JSON-marshalable events and receives raw payloads.
type Channel interface {
	Send(event any) error
	Receive() ([]byte, error)
	Close() error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithChannel sets the remote conversational channel. Required before
// Connect.
func WithChannel(channel Channel) ClientOption {
	return func(c *Client) { c.channel = channel }
}

// WithBus shares an externally owned event bus.
func WithBus(bus *eventbus.Bus) ClientOption {
	return func(c *Client) { c.bus = bus }
}

// WithToolClient attaches an external tool provider. The client is started
// and registered during Connect.
func WithToolClient(client *toolrpc.Client) ClientOption {
	return func(c *Client) { c.toolClients = append(c.toolClients, client) }
}

// WithLocalTool registers an in-process tool.
func WithLocalTool(def ToolDefinition, handler ToolHandler) ClientOption {
	return func(c *Client) {
		c.localTools = append(c.localTools, localTool{def: def, handler: handler})
	}
}

// WithSessionConfig merges a partial configuration over the defaults.
func WithSessionConfig(config SessionConfig) ClientOption {
	return func(c *Client) {
		if err := c.config.merge(config); err != nil {
			logger.Warn("ignoring unmergeable session config", "error", err)
		}
	}
}

// WithSystemPrompt sets the session's system prompt.
func WithSystemPrompt(prompt string) ClientOption {
	return func(c *Client) { c.config.SystemPrompt = prompt }
}

// WithMaxResponseTokens caps the remote model's response length.
func WithMaxResponseTokens(limit int) ClientOption {
	return func(c *Client) { c.config.MaxResponseTokens = limit }
}

// WithVoice selects the remote voice.
func WithVoice(voice string) ClientOption {
	return func(c *Client) { c.config.Voice = voice }
}

// WithEncoding overrides the audio encoding used for duration accounting.
func WithEncoding(encoding audio.EncodingInfo) ClientOption {
	return func(c *Client) { c.encoding = encoding }
}

// WithToolCallTimeout bounds remote tool invocations.
func WithToolCallTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.toolCallTimeout = timeout }
}
