package realtime

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/parley-ai/parley-core/core/eventbus"
	"github.com/parley-ai/parley-core/core/events"
	"github.com/parley-ai/parley-core/core/toolrpc"
)

// fakeToolProvider answers the toolrpc handshake and serves tools/call with
// canned text results.
type fakeToolProvider struct {
	t     *testing.T
	tools string
}

func (p *fakeToolProvider) serve(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var frame struct {
			ID     *int64 `json:"id"`
			Method string `json:"method"`
			Params struct {
				Name      string         `json:"name"`
				Arguments map[string]any `json:"arguments"`
			} `json:"params"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
			p.t.Errorf("fake provider got undecodable frame: %v", err)
			return
		}

		var result string
		switch frame.Method {
		case "initialize":
			result = `{"protocolVersion":"2025-03-26","capabilities":{"tools":{}},"serverInfo":{"name":"fake","version":"1.0.0"}}`
		case "notifications/initialized":
			continue
		case "tools/list":
			result = p.tools
		case "tools/call":
			result = fmt.Sprintf(`{"content":[{"type":"text","text":"%s result"}],"isError":false}`, frame.Params.Name)
		default:
			continue
		}
		line := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%s}`+"\n", *frame.ID, result)
		if _, err := conn.Write([]byte(line)); err != nil {
			return
		}
	}
}

func startedToolClient(t *testing.T, bus *eventbus.Bus, id, tools string) *toolrpc.Client {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() { serverSide.Close() })
	t.Cleanup(func() { clientSide.Close() })

	provider := &fakeToolProvider{t: t, tools: tools}
	go provider.serve(serverSide)

	client := toolrpc.NewClient(id, clientSide, toolrpc.WithBus(bus), toolrpc.WithHandshakeTimeout(2*time.Second))
	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("expected the fake provider handshake to succeed, got %v", err)
	}
	t.Cleanup(func() { client.Stop() })
	return client
}

const searchOnly = `{"tools":[{"name":"search","description":"find things","inputSchema":{"type":"object"}}]}`

func TestLocalToolDispatch(t *testing.T) {
	bus := eventbus.New()
	service := NewToolService(bus)
	toolEvents := recordKinds(bus, events.KindToolCallStarted, events.KindToolCallCompleted)

	def := NewToolDefinition("echo", "repeats its input", struct {
		Message string `json:"message"`
	}{})
	err := service.RegisterLocalTool(def, func(ctx context.Context, args map[string]any) (string, error) {
		return fmt.Sprintf("echo: %v", args["message"]), nil
	})
	if err != nil {
		t.Fatalf("expected registration to succeed, got %v", err)
	}

	result := service.Dispatch(context.Background(), "call-1", "echo", map[string]any{"message": "hi"})
	if result.IsError {
		t.Fatalf("expected a successful dispatch, got %+v", result)
	}
	if result.Content != "echo: hi" {
		t.Fatalf("expected the handler output, got %q", result.Content)
	}
	if len(*toolEvents) != 2 {
		t.Fatalf("expected started and completed events, got %d", len(*toolEvents))
	}
}

func TestDispatchUnknownToolIsAnErrorResult(t *testing.T) {
	bus := eventbus.New()
	service := NewToolService(bus)
	failures := recordKinds(bus, events.KindToolCallFailed)

	result := service.Dispatch(context.Background(), "call-1", "missing", nil)
	if !result.IsError {
		t.Fatalf("expected an error result, got %+v", result)
	}
	if len(*failures) != 1 {
		t.Fatalf("expected one failure event, got %d", len(*failures))
	}
}

func TestLocalToolFailureIsNormalized(t *testing.T) {
	bus := eventbus.New()
	service := NewToolService(bus)

	def := ToolDefinition{Name: "broken"}
	service.RegisterLocalTool(def, func(ctx context.Context, args map[string]any) (string, error) {
		return "", fmt.Errorf("backend unavailable")
	})

	result := service.Dispatch(context.Background(), "call-1", "broken", nil)
	if !result.IsError {
		t.Fatalf("expected a normalized error result, got %+v", result)
	}
	if result.Content == "" {
		t.Fatalf("expected the error text to be surfaced")
	}
}

func TestDuplicateLocalToolIsRejected(t *testing.T) {
	service := NewToolService(eventbus.New())

	handler := func(ctx context.Context, args map[string]any) (string, error) { return "", nil }
	if err := service.RegisterLocalTool(ToolDefinition{Name: "echo"}, handler); err != nil {
		t.Fatalf("expected first registration to succeed, got %v", err)
	}
	if err := service.RegisterLocalTool(ToolDefinition{Name: "echo"}, handler); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestRemoteToolDispatch(t *testing.T) {
	bus := eventbus.New()
	service := NewToolService(bus)
	client := startedToolClient(t, bus, "alpha", searchOnly)

	if err := service.RegisterClient(context.Background(), client); err != nil {
		t.Fatalf("expected client registration to succeed, got %v", err)
	}

	result := service.Dispatch(context.Background(), "call-1", "search", map[string]any{"query": "weather"})
	if result.IsError {
		t.Fatalf("expected a successful remote dispatch, got %+v", result)
	}
	if result.Content != "search result" {
		t.Fatalf("expected the provider's text content, got %q", result.Content)
	}
}

func TestToolNameCollisionIsNamespaced(t *testing.T) {
	bus := eventbus.New()
	service := NewToolService(bus)

	first := startedToolClient(t, bus, "alpha", searchOnly)
	second := startedToolClient(t, bus, "beta", searchOnly)

	service.RegisterClient(context.Background(), first)
	service.RegisterClient(context.Background(), second)

	names := map[string]bool{}
	for _, def := range service.Descriptors() {
		names[def.Name] = true
	}
	if !names["search"] {
		t.Fatalf("expected the first registrant to keep the bare name, got %v", names)
	}
	if !names["beta.search"] {
		t.Fatalf("expected the collision to be namespaced by client id, got %v", names)
	}

	result := service.Dispatch(context.Background(), "call-1", "beta.search", nil)
	if result.IsError || result.Content != "search result" {
		t.Fatalf("expected the namespaced tool to dispatch by its remote name, got %+v", result)
	}
}

func TestStoppedClientToolsAreRemoved(t *testing.T) {
	bus := eventbus.New()
	service := NewToolService(bus)
	client := startedToolClient(t, bus, "alpha", searchOnly)

	service.RegisterClient(context.Background(), client)
	if len(service.Descriptors()) != 1 {
		t.Fatalf("expected one registered tool")
	}

	if err := client.Stop(); err != nil {
		t.Fatalf("expected stop to succeed, got %v", err)
	}
	if remaining := service.Descriptors(); len(remaining) != 0 {
		t.Fatalf("expected the stopped client's tools to be removed, got %v", remaining)
	}
}

func TestRefreshToolsSwapsRegistryEntries(t *testing.T) {
	bus := eventbus.New()
	service := NewToolService(bus)
	client := startedToolClient(t, bus, "alpha",
		`{"tools":[{"name":"search","inputSchema":{"type":"object"}},{"name":"fetch","inputSchema":{"type":"object"}}]}`)

	service.RegisterClient(context.Background(), client)
	if len(service.Descriptors()) != 2 {
		t.Fatalf("expected two tools before refresh, got %d", len(service.Descriptors()))
	}

	// The fake provider answers every tools/list with the same listing, so a
	// refresh must leave the registry intact rather than duplicating names.
	if err := service.RefreshTools(context.Background(), "alpha"); err != nil {
		t.Fatalf("expected refresh to succeed, got %v", err)
	}
	if len(service.Descriptors()) != 2 {
		t.Fatalf("expected two tools after refresh, got %d", len(service.Descriptors()))
	}
}

func TestRefreshUnknownClientFails(t *testing.T) {
	service := NewToolService(eventbus.New())
	if err := service.RefreshTools(context.Background(), "ghost"); err == nil {
		t.Fatalf("expected refreshing an unregistered client to fail")
	}
}
