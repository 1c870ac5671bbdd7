package openairt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// echoServer upgrades the connection, records the handshake request, and
// echoes every text frame back.
func echoServer(t *testing.T) (*httptest.Server, chan *http.Request) {
	t.Helper()
	requests := make(chan *http.Request, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests <- r.Clone(context.Background())
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(messageType, payload); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server, requests
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestDialSendsAuthAndModel(t *testing.T) {
	server, requests := echoServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	channel, err := Dial(ctx, Config{
		Endpoint: wsURL(server),
		APIKey:   "test-key",
		Model:    "gpt-realtime",
	})
	if err != nil {
		t.Fatalf("expected dial to succeed, got %v", err)
	}
	defer channel.Close()

	request := <-requests
	if got := request.Header.Get("Authorization"); got != "Bearer test-key" {
		t.Fatalf("expected a bearer token header, got %q", got)
	}
	if got := request.URL.Query().Get("model"); got != "gpt-realtime" {
		t.Fatalf("expected the model query parameter, got %q", got)
	}
}

func TestDialRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := Dial(ctx, Config{Endpoint: "ws://127.0.0.1:0"}); err == nil {
		t.Fatalf("expected dial without an api key to fail")
	}
}

func TestSendAndReceiveRoundTrip(t *testing.T) {
	server, _ := echoServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	channel, err := Dial(ctx, Config{Endpoint: wsURL(server), APIKey: "test-key"})
	if err != nil {
		t.Fatalf("expected dial to succeed, got %v", err)
	}
	defer channel.Close()

	event := struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{Type: "ping", Text: "hello"}
	if err := channel.Send(event); err != nil {
		t.Fatalf("expected send to succeed, got %v", err)
	}

	payload, err := channel.Receive()
	if err != nil {
		t.Fatalf("expected the echo to arrive, got %v", err)
	}
	if string(payload) != `{"type":"ping","text":"hello"}` {
		t.Fatalf("unexpected echoed payload: %s", payload)
	}
}

func TestReceiveFailsAfterServerClose(t *testing.T) {
	server, _ := echoServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	channel, err := Dial(ctx, Config{Endpoint: wsURL(server), APIKey: "test-key"})
	if err != nil {
		t.Fatalf("expected dial to succeed, got %v", err)
	}
	defer channel.Close()

	server.CloseClientConnections()

	if _, err := channel.Receive(); err == nil {
		t.Fatalf("expected receive to fail once the connection dropped")
	}
}
