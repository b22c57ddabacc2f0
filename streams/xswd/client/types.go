package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	// JSONRPCVersion is sent on every request frame.
	JSONRPCVersion = "2.0"

	// DaemonNamespace prefixes methods that are forwarded to the daemon and need no user permission.
	DaemonNamespace = "DERO"
)

// Error codes returned by the XSWD server.
const (
	CodePermissionDenied       = -32043
	CodePermissionAlwaysDenied = -32044
	CodeMethodNotFound         = -32601
)

var (
	// ErrClosed is returned to every call still pending when the connection goes away.
	ErrClosed = errors.New("xswd: connection closed")
	// ErrNotConnected is returned when a request is issued without an open connection.
	ErrNotConnected = errors.New("xswd: not connected")
	// ErrAppRefused is returned by Connect when the wallet refuses the application.
	ErrAppRefused = errors.New("xswd: application refused by wallet")
	// ErrUnsupportedMethod is returned when the server does not know a daemon method.
	// The connection is torn down when this happens.
	ErrUnsupportedMethod = errors.New("xswd: daemon method not supported by server")
	// ErrEmptyResult is returned when decoding a response that carries neither result nor error.
	ErrEmptyResult = errors.New("xswd: empty result")
)

// ConnectionState is the lifecycle state of the XSWD connection.
type ConnectionState int

const (
	StateServerUnreachable ConnectionState = -1
	StateUnknown           ConnectionState = 0
	StateWaiting           ConnectionState = 1
	StateConnected         ConnectionState = 2
	StateRefused           ConnectionState = 3
)

func (s ConnectionState) String() string {
	switch s {
	case StateServerUnreachable:
		return "server_unreachable"
	case StateUnknown:
		return "unknown"
	case StateWaiting:
		return "waiting"
	case StateConnected:
		return "connected"
	case StateRefused:
		return "refused"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// active reports whether a connection attempt has been started.
func (s ConnectionState) active() bool {
	return s > StateUnknown
}

// Application is the authorization request sent once after the transport opens.
type Application struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

func (a Application) validate() error {
	if len(a.ID) != 64 {
		return errors.New("config: Application.ID must be 64 hex characters")
	}
	for _, r := range a.ID {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return errors.New("config: Application.ID must be hex encoded")
		}
	}
	if a.Name == "" {
		return errors.New("config: Application.Name is required")
	}
	return nil
}

// Request is an outbound JSON-RPC frame.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// RPCError is the error payload of a response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("xswd: rpc error %d: %s", e.Code, e.Message)
}

// IsPermissionRefusal reports whether code means the user did not grant the method.
func IsPermissionRefusal(code int) bool {
	switch code {
	case CodePermissionDenied, CodePermissionAlwaysDenied, CodeMethodNotFound:
		return true
	}
	return false
}

// IsDaemonMethod reports whether method belongs to the daemon namespace.
func IsDaemonMethod(method string) bool {
	return strings.HasPrefix(method, DaemonNamespace)
}

// Message is an inbound frame, decoded once and shared by every handler.
type Message struct {
	ID       json.RawMessage `json:"id,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    *RPCError       `json:"error,omitempty"`
	Accepted *bool           `json:"accepted,omitempty"`
	Text     string          `json:"message,omitempty"`

	requestID uint64
	hasID     bool
}

// RequestID returns the numeric correlation id of the frame, if it carries one.
func (m *Message) RequestID() (uint64, bool) {
	return m.requestID, m.hasID
}

func (m *Message) errorCode() (int, bool) {
	if m.Error == nil {
		return 0, false
	}
	return m.Error.Code, true
}

func decodeMessage(frame []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal frame: %w", err)
	}
	if len(msg.ID) > 0 {
		var id uint64
		// The handshake answer may carry a non numeric id; it simply matches no request.
		if err := json.Unmarshal(msg.ID, &id); err == nil {
			msg.requestID = id
			msg.hasID = true
		}
	}
	return &msg, nil
}

// Response is what a call resolves with: the remote result or the remote error, verbatim.
type Response struct {
	ID     uint64
	Method string
	Result json.RawMessage
	Error  *RPCError
}

// Decode unmarshals the result into v. A remote error is returned as *RPCError.
func (r *Response) Decode(v any) error {
	if r.Error != nil {
		return r.Error
	}
	if len(r.Result) == 0 || string(r.Result) == "null" {
		return fmt.Errorf("%w: %s (id %d)", ErrEmptyResult, r.Method, r.ID)
	}
	if err := json.Unmarshal(r.Result, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s result: %w", r.Method, err)
	}
	return nil
}

// PermissionEvent reports a change in the "awaiting user authorization" status of a request.
type PermissionEvent struct {
	ID      uint64
	Method  string
	Pending bool
}

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}
