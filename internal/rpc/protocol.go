// Package rpc implements the Request Envelope (C14): a line-delimited
// JSON-RPC 2.0 transport over a local stream or TCP loopback socket,
// dispatching to the search, glob, code-IO, and metadata components
// (§4.11).
package rpc

import "github.com/flashgrep/flashgrep/internal/ferrors"

// JSON-RPC 2.0 method names (§6 Method surface).
const (
	MethodBootstrapSkill = "bootstrap_skill"
	MethodQuery          = "query"
	MethodGlob           = "glob"
	MethodGetSlice       = "get_slice"
	MethodGetSymbol      = "get_symbol"
	MethodListFiles      = "list_files"
	MethodStats          = "stats"
	MethodReadCode       = "read_code"
	MethodWriteCode      = "write_code"
)

// Transport-level JSON-RPC 2.0 error codes, used only for malformed
// messages and unknown methods; domain failures ride inside Result as a
// structured error instead (§4.11).
const (
	TransportErrParse          = -32700
	TransportErrInvalidRequest = -32600
	TransportErrMethodNotFound = -32601
)

// Request is one line of a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      string `json:"id"`
}

// Response is one line of a JSON-RPC 2.0 response. Protocol-level
// failures (bad JSON, unknown method) use TransportError; domain
// failures embed a structured error in Result so the envelope's
// session-resilience rule holds uniformly (§4.11, §7).
type Response struct {
	JSONRPC       string          `json:"jsonrpc"`
	ID            string          `json:"id"`
	Result        any             `json:"result,omitempty"`
	TransportError *TransportError `json:"error,omitempty"`
}

// TransportError is a JSON-RPC 2.0 protocol-level error.
type TransportError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func success(id string, result any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}

func transportError(id string, code int, message string) Response {
	return Response{JSONRPC: "2.0", ID: id, TransportError: &TransportError{Code: code, Message: message}}
}

// domainError builds the {ok:false, error:<kind>, details:{...}} shape
// named in §4.11, carried as a successful envelope's Result.
func domainError(id string, err error) Response {
	return success(id, ferrors.ToWire(err))
}
