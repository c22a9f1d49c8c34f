// Package mcpbridge relays tool calls to a user's desktop client over a
// persistent WebSocket and matches each reply to the call that caused it.
package mcpbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Message types on the wire.
const (
	TypeHello      = "hello"
	TypeToolCall   = "tool_call"
	TypeToolResult = "tool_result"
	TypePing       = "ping"
	TypePong       = "pong"
)

// StatusReplaced closes a connection superseded by a newer one.
const StatusReplaced websocket.StatusCode = 4000

var (
	ErrNoClient   = errors.New("mcpbridge: no desktop client connected")
	ErrTimeout    = errors.New("mcpbridge: tool call timed out")
	ErrClientGone = errors.New("mcpbridge: desktop client disconnected")
)

// ToolError is a failure reported by the desktop client.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Message)
}

// Tool describes something the desktop client can execute.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Message is the single envelope used in both directions.
type Message struct {
	Type   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	Tool   string          `json:"tool,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Tools  []Tool          `json:"tools,omitempty"`
}

type reply struct {
	result json.RawMessage
	err    string
}

type client struct {
	userID      string
	conn        *websocket.Conn
	connectedAt time.Time

	mu      sync.Mutex
	tools   []Tool
	pending map[string]chan reply
	gone    bool

	closed    chan struct{}
	closeOnce sync.Once
}

// shutdown fails every pending call and closes the socket.
func (c *client) shutdown(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.gone = true
		c.pending = make(map[string]chan reply)
		c.mu.Unlock()
		close(c.closed)
		_ = c.conn.Close(code, reason)
	})
}

func (c *client) register(id string) (chan reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gone {
		return nil, ErrClientGone
	}
	ch := make(chan reply, 1)
	c.pending[id] = ch
	return ch, nil
}

func (c *client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// resolve hands a reply to its waiter exactly once.
func (c *client) resolve(id string, r reply) bool {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	ch <- r
	return true
}

// Options configure a Bridge.
type Options struct {
	CallTimeout    time.Duration
	WriteTimeout   time.Duration
	OriginPatterns []string
}

// Bridge tracks one desktop connection per user.
type Bridge struct {
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	clients map[string]*client
}

// New creates a bridge. Zero timeouts default to 60s for calls and 10s for writes.
func New(opts Options, logger *zap.Logger) *Bridge {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 60 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		opts:    opts,
		logger:  logger.Named("mcpbridge"),
		clients: make(map[string]*client),
	}
}

// Accept upgrades the request and serves the connection for userID until
// it closes. Any previous connection for the user is replaced.
func (b *Bridge) Accept(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: b.opts.OriginPatterns})
	if err != nil {
		return fmt.Errorf("accept websocket: %w", err)
	}
	conn.SetReadLimit(4 << 20)

	c := &client{
		userID:      userID,
		conn:        conn,
		connectedAt: time.Now(),
		pending:     make(map[string]chan reply),
		closed:      make(chan struct{}),
	}

	b.mu.Lock()
	previous := b.clients[userID]
	b.clients[userID] = c
	b.mu.Unlock()
	if previous != nil {
		b.logger.Info("replacing desktop connection", zap.String("user_id", userID))
		previous.shutdown(StatusReplaced, "replaced")
	}
	b.logger.Info("desktop client connected", zap.String("user_id", userID))

	b.readLoop(r.Context(), c)

	b.mu.Lock()
	if b.clients[userID] == c {
		delete(b.clients, userID)
	}
	b.mu.Unlock()
	c.shutdown(websocket.StatusNormalClosure, "closed")
	b.logger.Info("desktop client disconnected", zap.String("user_id", userID))
	return nil
}

func (b *Bridge) readLoop(ctx context.Context, c *client) {
	for {
		var msg Message
		if err := wsjson.Read(ctx, c.conn, &msg); err != nil {
			if websocket.CloseStatus(err) == -1 {
				select {
				case <-c.closed:
				default:
					b.logger.Debug("read failed", zap.String("user_id", c.userID), zap.Error(err))
				}
			}
			return
		}

		switch msg.Type {
		case TypeHello:
			c.mu.Lock()
			c.tools = msg.Tools
			c.mu.Unlock()
		case TypeToolResult:
			if !c.resolve(msg.ID, reply{result: msg.Result, err: msg.Error}) {
				b.logger.Warn("reply for unknown call", zap.String("user_id", c.userID), zap.String("call_id", msg.ID))
			}
		case TypePing:
			if err := b.write(ctx, c, Message{Type: TypePong}); err != nil {
				return
			}
		default:
			b.logger.Debug("ignoring message", zap.String("type", msg.Type))
		}
	}
}

func (b *Bridge) write(ctx context.Context, c *client, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, b.opts.WriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.conn, msg)
}

func (b *Bridge) client(userID string) *client {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clients[userID]
}

// Call runs tool on the user's desktop client and waits for its result.
func (b *Bridge) Call(ctx context.Context, userID, tool string, args any) (json.RawMessage, error) {
	c := b.client(userID)
	if c == nil {
		return nil, ErrNoClient
	}

	var rawArgs json.RawMessage
	if args != nil {
		encoded, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("marshal args: %w", err)
		}
		rawArgs = encoded
	}

	id := uuid.NewString()
	ch, err := c.register(id)
	if err != nil {
		return nil, err
	}
	defer c.forget(id)

	if err := b.write(ctx, c, Message{Type: TypeToolCall, ID: id, Tool: tool, Args: rawArgs}); err != nil {
		select {
		case <-c.closed:
			return nil, ErrClientGone
		default:
		}
		return nil, fmt.Errorf("send tool call: %w", err)
	}

	timer := time.NewTimer(b.opts.CallTimeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != "" {
			return nil, &ToolError{Tool: tool, Message: r.err}
		}
		return r.result, nil
	case <-c.closed:
		return nil, ErrClientGone
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrTimeout
	}
}

// Status describes a user's desktop connection.
type Status struct {
	Connected   bool      `json:"connected"`
	ConnectedAt time.Time `json:"connectedAt,omitempty"`
	Pending     int       `json:"pending"`
	Tools       []Tool    `json:"tools"`
}

// Status reports the user's connection state.
func (b *Bridge) Status(userID string) Status {
	c := b.client(userID)
	if c == nil {
		return Status{Tools: []Tool{}}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	tools := append([]Tool{}, c.tools...)
	return Status{Connected: true, ConnectedAt: c.connectedAt, Pending: len(c.pending), Tools: tools}
}

// Connected reports whether the user has a live desktop client.
func (b *Bridge) Connected(userID string) bool {
	return b.client(userID) != nil
}

// Close disconnects every client.
func (b *Bridge) Close() {
	b.mu.Lock()
	clients := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.clients = make(map[string]*client)
	b.mu.Unlock()

	for _, c := range clients {
		c.shutdown(websocket.StatusGoingAway, "server shutting down")
	}
}
