package events

import "encoding/json"

const (
	// KindToolClientReady identifies a provider client finishing its handshake.
	KindToolClientReady Kind = "tool_client.ready"
	// KindToolClientStopped identifies an orderly provider client shutdown.
	KindToolClientStopped Kind = "tool_client.stopped"
	// KindToolClientFailed identifies a provider client becoming unusable.
	KindToolClientFailed Kind = "tool_client.failed"
	// KindToolsRefreshed identifies a provider re-announcing its tool list.
	KindToolsRefreshed Kind = "tool_client.tools_refreshed"
	// KindNotificationReceived identifies an inbound JSON-RPC notification.
	KindNotificationReceived Kind = "tool_client.notification"
)

// ToolClientReady marks a provider client entering the ready state.
type ToolClientReady struct {
	Base
	ClientID        string
	ServerName      string
	ProtocolVersion string
	ToolCount       int
}

// NewToolClientReady creates a tool client ready event.
func NewToolClientReady(clientID, serverName, protocolVersion string, toolCount int) ToolClientReady {
	return ToolClientReady{Base: NewBase(KindToolClientReady), ClientID: clientID, ServerName: serverName, ProtocolVersion: protocolVersion, ToolCount: toolCount}
}

// ToolClientStopped marks an orderly provider client shutdown.
type ToolClientStopped struct {
	Base
	ClientID string
}

// NewToolClientStopped creates a tool client stopped event.
func NewToolClientStopped(clientID string) ToolClientStopped {
	return ToolClientStopped{Base: NewBase(KindToolClientStopped), ClientID: clientID}
}

// ToolClientFailed marks a provider client becoming unusable. Other clients
// and the conversation continue.
type ToolClientFailed struct {
	Base
	ClientID string
	Error    string
}

// NewToolClientFailed creates a tool client failed event.
func NewToolClientFailed(clientID, err string) ToolClientFailed {
	return ToolClientFailed{Base: NewBase(KindToolClientFailed), ClientID: clientID, Error: err}
}

// ToolsRefreshed marks a provider re-announcing its tool list.
type ToolsRefreshed struct {
	Base
	ClientID  string
	ToolCount int
}

// NewToolsRefreshed creates a tools refreshed event.
func NewToolsRefreshed(clientID string, toolCount int) ToolsRefreshed {
	return ToolsRefreshed{Base: NewBase(KindToolsRefreshed), ClientID: clientID, ToolCount: toolCount}
}

// NotificationReceived carries an inbound JSON-RPC notification verbatim.
// Notifications never expect a response.
type NotificationReceived struct {
	Base
	ClientID string
	Method   string
	Params   json.RawMessage
}

// NewNotificationReceived creates a notification received event.
func NewNotificationReceived(clientID, method string, params json.RawMessage) NotificationReceived {
	return NotificationReceived{Base: NewBase(KindNotificationReceived), ClientID: clientID, Method: method, Params: params}
}
