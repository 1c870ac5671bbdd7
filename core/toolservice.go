package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/parley-ai/parley-core/core/eventbus"
	"github.com/parley-ai/parley-core/core/events"
	"github.com/parley-ai/parley-core/core/toolrpc"
)

const defaultToolCallTimeout = 30 * time.Second

// ToolHandler executes a locally registered tool.
type ToolHandler func(ctx context.Context, args map[string]any) (string, error)

// ToolDefinition describes one callable tool in the unified registry. The
// input schema is kept as raw JSON so locally reflected schemas and remote
// provider schemas share one descriptor shape.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// NewToolDefinition builds a definition whose input schema is reflected from
// a parameters struct.
func NewToolDefinition(name, description string, parameters any) ToolDefinition {
	def := ToolDefinition{Name: name, Description: description}
	if parameters != nil {
		reflector := jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
		if raw, err := json.Marshal(reflector.Reflect(parameters)); err == nil {
			def.InputSchema = raw
		}
	}
	return def
}

// ToolResult is the uniform outcome of a dispatch. A failing tool produces
// an error-flagged result, never an aborted turn.
type ToolResult struct {
	CallID  string
	Content string
	IsError bool
}

type toolBinding struct {
	def        ToolDefinition
	clientID   string
	remoteName string
	client     *toolrpc.Client
	handler    ToolHandler
}

func (b *toolBinding) isLocal() bool { return b.client == nil }

// ToolService maintains the union of tools across every registered provider
// client plus in-process tools, and routes dispatches to the right owner.
// Tool names colliding across providers are re-namespaced as
// "clientID.toolName"; the first registrant keeps the bare name.
type ToolService struct {
	mu sync.RWMutex

	bus         *eventbus.Bus
	callTimeout time.Duration

	clients map[string]*toolrpc.Client
	tools   map[string]*toolBinding
	order   []string
}

// ToolServiceOption configures a ToolService.
type ToolServiceOption func(*ToolService)

// WithCallTimeout bounds every remote tool invocation.
func WithCallTimeout(timeout time.Duration) ToolServiceOption {
	return func(s *ToolService) { s.callTimeout = timeout }
}

// NewToolService creates an empty registry reporting on bus. Provider
// clients that fail or stop have their tools removed automatically.
func NewToolService(bus *eventbus.Bus, opts ...ToolServiceOption) *ToolService {
	s := &ToolService{
		bus:         bus,
		callTimeout: defaultToolCallTimeout,
		clients:     map[string]*toolrpc.Client{},
		tools:       map[string]*toolBinding{},
	}
	for _, opt := range opts {
		opt(s)
	}

	bus.On(events.KindToolClientFailed, func(event events.Event) error {
		if failed, ok := event.(events.ToolClientFailed); ok {
			s.removeClient(failed.ClientID)
		}
		return nil
	})
	bus.On(events.KindToolClientStopped, func(event events.Event) error {
		if stopped, ok := event.(events.ToolClientStopped); ok {
			s.removeClient(stopped.ClientID)
		}
		return nil
	})
	return s
}

// RegisterClient adds a started provider client and registers its announced
// tools.
func (s *ToolService) RegisterClient(ctx context.Context, client *toolrpc.Client) error {
	id := client.ID()

	s.mu.Lock()
	if _, exists := s.clients[id]; exists {
		s.mu.Unlock()
		return fmt.Errorf("tool client %q already registered", id)
	}
	s.clients[id] = client
	s.bindRemoteTools(id, client, client.Tools())
	s.mu.Unlock()
	return nil
}

// bindRemoteTools registers descriptors for one client's tools. Callers hold
// the write lock.
func (s *ToolService) bindRemoteTools(clientID string, client *toolrpc.Client, tools []mcp.Tool) {
	for _, tool := range tools {
		name := tool.Name
		if owner, taken := s.tools[name]; taken && owner.clientID != clientID {
			name = clientID + "." + tool.Name
			logger.Info("tool name collision, re-namespaced", "tool", tool.Name, "as", name)
		}

		schema, err := json.Marshal(tool.InputSchema)
		if err != nil {
			schema = nil
		}
		binding := &toolBinding{
			def:        ToolDefinition{Name: name, Description: tool.Description, InputSchema: schema},
			clientID:   clientID,
			remoteName: tool.Name,
			client:     client,
		}
		if _, replacing := s.tools[name]; !replacing {
			s.order = append(s.order, name)
		}
		s.tools[name] = binding
	}
}

// RegisterLocalTool adds an in-process tool. Re-registering an existing name
// is an error.
func (s *ToolService) RegisterLocalTool(def ToolDefinition, handler ToolHandler) error {
	if def.Name == "" {
		return fmt.Errorf("tool definition has no name")
	}
	if handler == nil {
		return fmt.Errorf("tool %q has no handler", def.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tools[def.Name]; exists {
		return fmt.Errorf("tool %q already registered", def.Name)
	}
	s.tools[def.Name] = &toolBinding{def: def, handler: handler}
	s.order = append(s.order, def.Name)
	return nil
}

// RemoveTool drops a tool from the registry. Removing an unknown name is an
// error.
func (s *ToolService) RemoveTool(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tools[name]; !exists {
		return fmt.Errorf("tool %q is not registered", name)
	}
	delete(s.tools, name)
	s.dropFromOrder(name)
	return nil
}

// Dispatch resolves the owning client or local handler for a tool and
// normalizes its outcome. Failures of any kind come back as an error-flagged
// result so a single misbehaving tool never aborts the conversation turn.
func (s *ToolService) Dispatch(ctx context.Context, callID, name string, args map[string]any) ToolResult {
	ctx, span := tracer.Start(ctx, "dispatch tool call")
	defer span.End()
	span.SetAttributes(
		attribute.String("tool.name", name),
		attribute.String("tool_call.id", callID),
	)

	arguments, _ := json.Marshal(args)
	s.bus.Emit(events.NewToolCallStarted(callID, name, string(arguments)))

	s.mu.RLock()
	binding, exists := s.tools[name]
	s.mu.RUnlock()

	if !exists {
		return s.failCall(span, callID, name, fmt.Errorf("tool not found: %s", name))
	}

	var (
		content string
		err     error
	)
	if binding.isLocal() {
		content, err = binding.handler(ctx, args)
	} else {
		content, err = s.callRemote(ctx, binding, args)
	}
	if err != nil {
		return s.failCall(span, callID, name, err)
	}

	s.bus.Emit(events.NewToolCallCompleted(callID, name, content))
	return ToolResult{CallID: callID, Content: content}
}

func (s *ToolService) callRemote(ctx context.Context, binding *toolBinding, args map[string]any) (string, error) {
	result, err := binding.client.CallTool(ctx, binding.remoteName, args, s.callTimeout)
	if err != nil {
		return "", fmt.Errorf("tool %q failed on client %q: %w", binding.remoteName, binding.clientID, err)
	}

	content := flattenContent(result.Content)
	if result.IsError {
		return "", fmt.Errorf("tool %q reported an error: %s", binding.remoteName, content)
	}
	return content, nil
}

func (s *ToolService) failCall(span trace.Span, callID, name string, err error) ToolResult {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.bus.Emit(events.NewToolCallFailed(callID, name, err.Error()))
	return ToolResult{CallID: callID, Content: err.Error(), IsError: true}
}

// RefreshTools re-queries one client's tool list and swaps its registry
// entries. Dispatches already in flight keep the binding they resolved.
func (s *ToolService) RefreshTools(ctx context.Context, clientID string) error {
	s.mu.RLock()
	client, exists := s.clients[clientID]
	s.mu.RUnlock()
	if !exists {
		return fmt.Errorf("tool client %q is not registered", clientID)
	}

	tools, err := client.RefreshTools(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh tools of %q: %w", clientID, err)
	}

	s.mu.Lock()
	s.dropClientBindings(clientID)
	s.bindRemoteTools(clientID, client, tools)
	s.mu.Unlock()
	return nil
}

// Descriptors returns the registered definitions in registration order.
func (s *ToolService) Descriptors() []ToolDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(s.order))
	for _, name := range s.order {
		if binding, exists := s.tools[name]; exists {
			defs = append(defs, binding.def)
		}
	}
	return defs
}

func (s *ToolService) removeClient(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[clientID]; !exists {
		return
	}
	delete(s.clients, clientID)
	s.dropClientBindings(clientID)
}

// dropClientBindings removes every binding owned by a client. Callers hold
// the write lock.
func (s *ToolService) dropClientBindings(clientID string) {
	for name, binding := range s.tools {
		if binding.clientID == clientID && !binding.isLocal() {
			delete(s.tools, name)
			s.dropFromOrder(name)
		}
	}
}

func (s *ToolService) dropFromOrder(name string) {
	for i, ordered := range s.order {
		if ordered == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

func flattenContent(blocks []mcp.Content) string {
	content := ""
	for _, block := range blocks {
		if text, ok := block.(mcp.TextContent); ok {
			if content != "" {
				content += "\n"
			}
			content += text.Text
		}
	}
	return content
}
