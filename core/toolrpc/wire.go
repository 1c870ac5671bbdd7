package toolrpc

import "encoding/json"

const jsonRPCVersion = "2.0"

// request is an outbound JSON-RPC call expecting a response with the same
// correlation id.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// notification is an outbound JSON-RPC message that never expects a
// response.
type notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// response is an inbound JSON-RPC message carrying either a result or an
// error object for a previously issued request.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}
