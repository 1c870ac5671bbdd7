// Package toolrpc manages a single external tool-provider process over
// line-delimited JSON-RPC 2.0, multiplexing concurrent calls on one duplex
// stream and matching responses strictly by correlation id.
package toolrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/mark3labs/mcp-go/mcp"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/parley-ai/parley-core/core/eventbus"
	"github.com/parley-ai/parley-core/core/events"
)

// State is the lifecycle state of a provider client.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateStopping State = "stopping"
	StateFailed   State = "failed"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultClientName       = "parley-core"
	defaultClientVersion    = "0.1.0"

	methodInitialized = "notifications/initialized"

	// Inbound frames can carry sizeable tool results.
	maxLineBytes = 4 << 20
)

type callOutcome struct {
	result json.RawMessage
	err    error
}

type pendingCall struct {
	method    string
	submitted time.Time
	done      chan callOutcome
}

func (p *pendingCall) resolve(outcome callOutcome) {
	select {
	case p.done <- outcome:
	default:
	}
}

// Client manages exactly one tool provider. The pending-call table has a
// single logical writer (the owner of the call plus the reader goroutine);
// correlation ids are monotonically assigned and never reused for the
// client's lifetime.
type Client struct {
	id        string
	transport Transport
	bus       *eventbus.Bus

	handshakeTimeout time.Duration
	clientInfo       mcp.Implementation

	writeMu sync.Mutex

	stateMu sync.Mutex
	state   State

	correlation atomic.Int64
	pending     cmap.ConcurrentMap[string, *pendingCall]

	toolsMu    sync.RWMutex
	tools      []mcp.Tool
	serverInfo mcp.Implementation
	protocol   string

	readerDone chan struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithBus attaches a shared event bus; without it the client keeps a private
// one.
func WithBus(bus *eventbus.Bus) Option {
	return func(c *Client) { c.bus = bus }
}

// WithHandshakeTimeout bounds the initialize/tools-list exchange during
// Start.
func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.handshakeTimeout = timeout }
}

// WithClientInfo overrides the implementation identity announced during the
// handshake.
func WithClientInfo(name, version string) Option {
	return func(c *Client) { c.clientInfo = mcp.Implementation{Name: name, Version: version} }
}

// NewClient wraps a provider transport. Start must be called before tools
// can be listed or invoked.
func NewClient(id string, transport Transport, opts ...Option) *Client {
	c := &Client{
		id:               id,
		transport:        transport,
		handshakeTimeout: defaultHandshakeTimeout,
		clientInfo:       mcp.Implementation{Name: defaultClientName, Version: defaultClientVersion},
		state:            StateStopped,
		pending:          cmap.New[*pendingCall](),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.bus == nil {
		c.bus = eventbus.New()
	}
	return c
}

// ID returns the client identifier used for registry namespacing.
func (c *Client) ID() string { return c.id }

// Bus returns the event bus the client reports on.
func (c *Client) Bus() *eventbus.Bus { return c.bus }

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Client) transition(from []State, to State) bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	for _, candidate := range from {
		if c.state == candidate {
			c.state = to
			return true
		}
	}
	return false
}

// Start performs the initialization handshake and the first tool listing.
// On success the client is ready; on failure it is failed and unusable.
func (c *Client) Start(ctx context.Context) error {
	if !c.transition([]State{StateStopped}, StateStarting) {
		return fmt.Errorf("cannot start tool client %q from state %q", c.id, c.State())
	}

	ctx, span := tracer.Start(ctx, "start tool client")
	defer span.End()
	span.SetAttributes(attribute.String("tool_client.id", c.id))

	c.readerDone = make(chan struct{})
	go c.readLoop()

	if err := c.handshake(ctx); err != nil {
		c.fail(err)
		startupErr := &StartupError{ClientID: c.id, Err: err}
		span.RecordError(startupErr)
		span.SetStatus(codes.Error, startupErr.Error())
		return startupErr
	}

	if !c.transition([]State{StateStarting}, StateReady) {
		err := &StartupError{ClientID: c.id, Err: fmt.Errorf("client entered state %q during handshake", c.State())}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	c.toolsMu.RLock()
	ready := events.NewToolClientReady(c.id, c.serverInfo.Name, c.protocol, len(c.tools))
	c.toolsMu.RUnlock()
	c.bus.Emit(ready)
	return nil
}

func (c *Client) handshake(ctx context.Context) error {
	initParams := mcp.InitializeParams{
		ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
		ClientInfo:      c.clientInfo,
		Capabilities:    mcp.ClientCapabilities{},
	}
	raw, err := c.Call(ctx, string(mcp.MethodInitialize), initParams, c.handshakeTimeout)
	if err != nil {
		return fmt.Errorf("initialize failed: %w", err)
	}

	var initResult mcp.InitializeResult
	if err := json.Unmarshal(raw, &initResult); err != nil {
		return fmt.Errorf("invalid initialize result: %w", err)
	}

	c.toolsMu.Lock()
	c.serverInfo = initResult.ServerInfo
	c.protocol = initResult.ProtocolVersion
	c.toolsMu.Unlock()

	if err := c.notify(methodInitialized, nil); err != nil {
		return fmt.Errorf("initialized notification failed: %w", err)
	}

	if _, err := c.listTools(ctx); err != nil {
		return fmt.Errorf("initial tool listing failed: %w", err)
	}
	return nil
}

// Call submits a JSON-RPC request and suspends the caller until the matching
// response arrives, timeout elapses, or ctx ends. Concurrent calls are fully
// interleaved; responses may arrive in any order.
func (c *Client) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	switch c.State() {
	case StateReady, StateStarting:
	default:
		return nil, fmt.Errorf("tool client %q in state %q: %w", c.id, c.State(), ErrClientClosed)
	}

	id := c.correlation.Add(1)
	key := strconv.FormatInt(id, 10)
	call := &pendingCall{method: method, submitted: time.Now(), done: make(chan callOutcome, 1)}
	c.pending.Set(key, call)

	if err := c.write(request{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: params}); err != nil {
		c.pending.Remove(key)
		return nil, fmt.Errorf("failed to write %q request: %w", method, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case outcome := <-call.done:
		if outcome.err != nil {
			return nil, outcome.err
		}
		return outcome.result, nil
	case <-timer.C:
		c.pending.Remove(key)
		return nil, fmt.Errorf("%q gave no response within %s: %w", method, timeout, ErrCallTimeout)
	case <-ctx.Done():
		c.pending.Remove(key)
		return nil, ctx.Err()
	}
}

// CallTool invokes a named tool on the provider.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any, timeout time.Duration) (*mcp.CallToolResult, error) {
	ctx, span := tracer.Start(ctx, "call provider tool")
	defer span.End()
	span.SetAttributes(
		attribute.String("tool_client.id", c.id),
		attribute.String("tool.name", name),
	)

	raw, err := c.Call(ctx, string(mcp.MethodToolsCall), mcp.CallToolParams{Name: name, Arguments: args}, timeout)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	result, err := mcp.ParseCallToolResult(&raw)
	if err != nil {
		err = fmt.Errorf("invalid tool result from %q: %w", name, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return result, nil
}

// Tools returns the most recently announced tool list.
func (c *Client) Tools() []mcp.Tool {
	c.toolsMu.RLock()
	defer c.toolsMu.RUnlock()
	tools := make([]mcp.Tool, len(c.tools))
	copy(tools, c.tools)
	return tools
}

// RefreshTools re-queries the provider's tool list. Safe while calls are in
// flight.
func (c *Client) RefreshTools(ctx context.Context) ([]mcp.Tool, error) {
	tools, err := c.listTools(ctx)
	if err != nil {
		return nil, err
	}
	c.bus.Emit(events.NewToolsRefreshed(c.id, len(tools)))
	return tools, nil
}

func (c *Client) listTools(ctx context.Context) ([]mcp.Tool, error) {
	raw, err := c.Call(ctx, string(mcp.MethodToolsList), struct{}{}, c.handshakeTimeout)
	if err != nil {
		return nil, err
	}

	var listed mcp.ListToolsResult
	if err := json.Unmarshal(raw, &listed); err != nil {
		return nil, fmt.Errorf("invalid tool listing: %w", err)
	}

	c.toolsMu.Lock()
	c.tools = listed.Tools
	c.toolsMu.Unlock()
	return listed.Tools, nil
}

// PendingCalls reports how many calls are awaiting a response.
func (c *Client) PendingCalls() int {
	return c.pending.Count()
}

// Stop terminates the provider connection, failing every outstanding call
// with ErrClientClosed. Idempotent.
func (c *Client) Stop() error {
	if !c.transition([]State{StateStarting, StateReady, StateFailed}, StateStopping) {
		return nil
	}

	err := c.transport.Close()
	c.failAllPending(ErrClientClosed)
	c.transition([]State{StateStopping}, StateStopped)
	c.bus.Emit(events.NewToolClientStopped(c.id))
	if err != nil {
		return fmt.Errorf("failed to close transport of %q: %w", c.id, err)
	}
	return nil
}

func (c *Client) fail(cause error) {
	if !c.transition([]State{StateStarting, StateReady}, StateFailed) {
		return
	}
	if err := c.transport.Close(); err != nil {
		logger.Warn("failed to close transport of failed client", "client", c.id, "error", err)
	}
	c.failAllPending(fmt.Errorf("%w: %v", ErrClientClosed, cause))
	c.bus.Emit(events.NewToolClientFailed(c.id, cause.Error()))
}

func (c *Client) failAllPending(err error) {
	for _, key := range c.pending.Keys() {
		if call, ok := c.pending.Pop(key); ok {
			call.resolve(callOutcome{err: err})
		}
	}
}

func (c *Client) notify(method string, params any) error {
	return c.write(notification{JSONRPC: jsonRPCVersion, Method: method, Params: params})
}

func (c *Client) write(message any) error {
	frame, err := sonic.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	frame = append(frame, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.transport.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// readLoop continuously parses inbound frames. A single malformed line or a
// response with an unknown correlation id is logged and discarded; only a
// transport-level read failure tears the client down.
func (c *Client) readLoop() {
	defer close(c.readerDone)

	scanner := bufio.NewScanner(c.transport)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		c.handleFrame(line)
	}

	switch c.State() {
	case StateStopping, StateStopped:
		return
	default:
		err := scanner.Err()
		if err == nil {
			err = fmt.Errorf("provider closed its output stream")
		}
		c.fail(err)
	}
}

func (c *Client) handleFrame(line []byte) {
	if !gjson.ValidBytes(line) {
		logger.Warn("discarding malformed frame", "client", c.id)
		c.bus.Emit(events.NewProtocolError("toolrpc", fmt.Errorf("malformed frame from %q", c.id)))
		return
	}

	id := gjson.GetBytes(line, "id")
	method := gjson.GetBytes(line, "method")

	if method.Exists() && !id.Exists() {
		params := json.RawMessage(gjson.GetBytes(line, "params").Raw)
		c.bus.Emit(events.NewNotificationReceived(c.id, method.String(), params))
		return
	}
	if method.Exists() {
		// Server-to-client requests are not supported; the provider gets no
		// answer and the frame is surfaced for diagnostics.
		logger.Warn("discarding unsupported server request", "client", c.id, "method", method.String())
		c.bus.Emit(events.NewProtocolError("toolrpc", fmt.Errorf("unsupported server request %q from %q", method.String(), c.id)))
		return
	}

	var resp response
	if err := sonic.Unmarshal(line, &resp); err != nil {
		logger.Warn("discarding undecodable response", "client", c.id, "error", err)
		c.bus.Emit(events.NewProtocolError("toolrpc", fmt.Errorf("undecodable response from %q: %w", c.id, err)))
		return
	}

	key := strconv.FormatInt(resp.ID, 10)
	call, ok := c.pending.Pop(key)
	if !ok {
		// Either a late response for a timed out call or a provider bug;
		// both are discardable.
		logger.Debug("discarding response with unknown correlation id", "client", c.id, "id", resp.ID)
		return
	}

	if resp.Error != nil {
		call.resolve(callOutcome{err: resp.Error})
		return
	}
	call.resolve(callOutcome{result: resp.Result})
}
