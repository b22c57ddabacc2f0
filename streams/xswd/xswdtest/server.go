// Package xswdtest provides an in-process XSWD server for tests.
package xswdtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Handshake is the authorization request as seen by the server.
type Handshake struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

// Request is a JSON-RPC request as seen by the server.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// DecodeParams unmarshals the request params into v.
func (r Request) DecodeParams(v any) error {
	return json.Unmarshal(r.Params, v)
}

// Error is a JSON-RPC error payload.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Reply describes the answer to a request.
type Reply struct {
	Result any
	Error  *Error
	Delay  time.Duration
}

// Handler answers a request. Returning nil leaves the request unanswered.
type Handler func(req Request) *Reply

// Option configures a Server.
type Option func(*Server)

// WithRefusal makes the server refuse every application.
func WithRefusal() Option {
	return func(s *Server) { s.accept = false }
}

// WithoutHandshakeReply makes the server never answer the authorization request.
func WithoutHandshakeReply() Option {
	return func(s *Server) { s.silent = true }
}

type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

// Server is a websocket server speaking the XSWD handshake and JSON-RPC.
type Server struct {
	// URL is the ws:// address of the server.
	URL string

	srv      *httptest.Server
	upgrader websocket.Upgrader
	handler  Handler
	accept   bool
	silent   bool

	mu         sync.Mutex
	conns      []*conn
	requests   []Request
	handshakes []Handshake
}

// NewServer starts a server answering requests with h.
func NewServer(h Handler, opts ...Option) *Server {
	s := &Server{
		handler: h,
		accept:  true,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	s.URL = "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/xswd"
	return s
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &conn{ws: ws}
	s.mu.Lock()
	s.conns = append(s.conns, c)
	s.mu.Unlock()
	defer ws.Close()

	var hs Handshake
	if err := ws.ReadJSON(&hs); err != nil {
		return
	}
	s.mu.Lock()
	s.handshakes = append(s.handshakes, hs)
	s.mu.Unlock()

	if !s.silent {
		reply := map[string]any{"accepted": s.accept, "message": "User has authorized the application"}
		if !s.accept {
			reply["message"] = "User has rejected the application"
		}
		if err := c.write(reply); err != nil {
			return
		}
	}

	for {
		var req Request
		if err := ws.ReadJSON(&req); err != nil {
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()

		reply := s.handler(req)
		if reply == nil {
			continue
		}
		go func(id uint64, reply *Reply) {
			if reply.Delay > 0 {
				time.Sleep(reply.Delay)
			}
			_ = c.write(Frame(id, reply.Result, reply.Error))
		}(req.ID, reply)
	}
}

// Frame builds a response frame for id.
func Frame(id uint64, result any, rpcErr *Error) map[string]any {
	frame := map[string]any{"jsonrpc": "2.0", "id": id}
	if rpcErr != nil {
		frame["error"] = rpcErr
	} else {
		frame["result"] = result
	}
	return frame
}

// Push writes an arbitrary frame to every connected client.
func (s *Server) Push(frame any) {
	s.mu.Lock()
	conns := append([]*conn(nil), s.conns...)
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.write(frame)
	}
}

// Requests returns the requests received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// RequestsFor returns the requests received so far for method.
func (s *Server) RequestsFor(method string) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Method == method {
			out = append(out, r)
		}
	}
	return out
}

// Handshakes returns the authorization requests received so far.
func (s *Server) Handshakes() []Handshake {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Handshake(nil), s.handshakes...)
}

// DropConnections closes every client connection from the server side.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		c.mu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		_ = c.ws.Close()
	}
}

// Close drops every connection and stops the server.
func (s *Server) Close() {
	s.DropConnections()
	s.srv.Close()
}
