// Package openairt connects the session client to an OpenAI-realtime style
// API over a websocket. It implements the core's Channel interface and
// nothing more; reconnection and backoff are the caller's concern.
package openairt

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const defaultEndpoint = "wss://api.openai.com/v1/realtime"

// Config carries the connection parameters.
type Config struct {
	// Endpoint defaults to the public realtime endpoint.
	Endpoint string
	// APIKey defaults to the OPENAI_API_KEY environment variable.
	APIKey string
	Model  string
}

// Channel is a websocket-backed duplex message stream. Sends are serialized
// under a mutex; Receive is intended for a single reader.
type Channel struct {
	writeMu sync.Mutex
	conn    *websocket.Conn
}

// Dial opens the websocket and returns a ready channel.
func Dial(ctx context.Context, config Config) (*Channel, error) {
	ctx, span := tracer.Start(ctx, "dial realtime channel")
	defer span.End()

	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key not found")
	}

	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	channelURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if config.Model != "" {
		queryParams := channelURL.Query()
		queryParams.Set("model", config.Model)
		channelURL.RawQuery = queryParams.Encode()
	}
	span.SetAttributes(attribute.String("channel.endpoint", channelURL.String()))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, channelURL.String(), http.Header{
		"Authorization": {"Bearer " + apiKey},
		"OpenAI-Beta":   {"realtime=v1"},
	})
	if err != nil {
		err = fmt.Errorf("failed to open socket connection: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	return &Channel{conn: conn}, nil
}

// Send writes one JSON event.
func (c *Channel) Send(event any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.WriteJSON(event); err != nil {
		return fmt.Errorf("failed to write to realtime channel: %w", err)
	}
	return nil
}

// Receive blocks until the next inbound payload. A read error means the
// channel is no longer usable.
func (c *Channel) Receive() ([]byte, error) {
	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to read from realtime channel: %w", err)
		}
		if messageType != websocket.TextMessage {
			logger.Debug("ignoring non-text frame", "type", messageType)
			continue
		}
		return payload, nil
	}
}

// Close shuts the websocket down.
func (c *Channel) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")); err != nil {
		logger.Debug("close frame not delivered", "error", err)
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("failed to close realtime channel: %w", err)
	}
	return nil
}
