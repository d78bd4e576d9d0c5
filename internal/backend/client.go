package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"

	"github.com/google/uuid"

	"plutobridge/internal/protocol"
)

// Client speaks the bridge protocol over one WebSocket connection. Requests
// are correlated with responses by message id; notebook_diff events are
// surfaced on Updates. A Client survives the connection it wraps: after a
// drop, Connect dials again and Updates keeps its channel.
type Client struct {
	baseURL string
	dialer  Dialer
	logger  *slog.Logger

	mu      sync.Mutex
	sock    Socket
	cancel  context.CancelFunc
	pending map[string]chan protocol.Message

	updates chan protocol.UpdateMessage
}

func NewClient(baseURL string, dialer Dialer, logger *slog.Logger) *Client {
	if dialer == nil {
		dialer = RealDialer{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		baseURL: baseURL,
		dialer:  dialer,
		logger:  logger,
		pending: map[string]chan protocol.Message{},
		updates: make(chan protocol.UpdateMessage, 256),
	}
}

// wsEndpoint maps the configured HTTP base URL to the bridge WebSocket
// endpoint.
func wsEndpoint(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = "/ws"
	return u.String(), nil
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.sock != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	endpoint, err := wsEndpoint(c.baseURL)
	if err != nil {
		return err
	}
	sock, err := c.dialer.Dial(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.sock = sock
	c.cancel = cancel
	c.mu.Unlock()

	go c.readLoop(readCtx, sock)
	return nil
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sock != nil
}

func (c *Client) readLoop(ctx context.Context, sock Socket) {
	for {
		text, err := sock.ReadText(ctx)
		if err != nil {
			c.dropConn(sock, err)
			return
		}
		var msg protocol.Message
		if err := json.Unmarshal([]byte(text), &msg); err != nil {
			c.logger.Warn("undecodable server message", "err", err)
			continue
		}
		switch msg.Type {
		case protocol.TypeResponse:
			c.deliver(msg)
		case protocol.TypeEvent:
			if msg.Op != protocol.OpNotebookDiff {
				c.logger.Debug("ignoring server event", "op", msg.Op)
				continue
			}
			var update protocol.UpdateMessage
			if err := json.Unmarshal(msg.Payload, &update); err != nil {
				c.logger.Warn("undecodable notebook diff", "err", err)
				continue
			}
			select {
			case c.updates <- update:
			default:
				c.logger.Warn("update channel full, dropping batch",
					"session_id", update.SessionID)
			}
		default:
			c.logger.Debug("ignoring server message", "type", msg.Type)
		}
	}
}

func (c *Client) deliver(msg protocol.Message) {
	c.mu.Lock()
	ch := c.pending[msg.ID]
	delete(c.pending, msg.ID)
	c.mu.Unlock()
	if ch == nil {
		c.logger.Debug("response without a pending request", "id", msg.ID)
		return
	}
	ch <- msg
}

// dropConn tears down state for a dead connection and fails every caller
// still waiting on it.
func (c *Client) dropConn(sock Socket, err error) {
	c.mu.Lock()
	if c.sock != sock {
		c.mu.Unlock()
		return
	}
	c.sock = nil
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	orphaned := c.pending
	c.pending = map[string]chan protocol.Message{}
	c.mu.Unlock()

	_ = sock.Close()
	for id, ch := range orphaned {
		ch <- protocol.Message{
			ID:    id,
			Type:  protocol.TypeResponse,
			Error: &ErrPayloadLost,
		}
	}
	c.logger.Warn("server connection lost", "err", err)
}

// ErrPayloadLost is the synthetic error delivered to requests whose
// connection died before the response arrived.
var ErrPayloadLost = protocol.ErrPayload{Code: "connection_lost", Message: "connection to server lost"}

func (c *Client) request(ctx context.Context, op string, payload any) (json.RawMessage, error) {
	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()
	if sock == nil {
		return nil, fmt.Errorf("not connected")
	}

	id := uuid.NewString()
	ch := make(chan protocol.Message, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	msg := protocol.Message{ID: id, Type: protocol.TypeRequest, Op: op}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", op, err)
		}
		msg.Payload = raw
	}
	wire, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if err := sock.WriteText(ctx, string(wire)); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("send %s request: %w", op, err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case resp := <-ch:
		if resp.Error != nil {
			return nil, fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Payload, nil
	}
}

func (c *Client) CreateSession(ctx context.Context, path, text string) (string, error) {
	raw, err := c.request(ctx, protocol.OpCreateSession, protocol.CreateSessionRequest{Path: path, Text: text})
	if err != nil {
		return "", err
	}
	var resp protocol.CreateSessionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode create_session response: %w", err)
	}
	return resp.SessionID, nil
}

func (c *Client) UpdateCell(ctx context.Context, sessionID, cellID, code string, run bool) error {
	_, err := c.request(ctx, protocol.OpUpdateCell, protocol.UpdateCellRequest{
		SessionID: sessionID, CellID: cellID, Code: code, Run: run,
	})
	return err
}

func (c *Client) AddCell(ctx context.Context, sessionID, cellID string, index int, code string) error {
	_, err := c.request(ctx, protocol.OpAddCell, protocol.AddCellRequest{
		SessionID: sessionID, CellID: cellID, Index: index, Code: code,
	})
	return err
}

func (c *Client) DeleteCells(ctx context.Context, sessionID string, cellIDs []string) error {
	_, err := c.request(ctx, protocol.OpDeleteCells, protocol.DeleteCellsRequest{
		SessionID: sessionID, CellIDs: cellIDs,
	})
	return err
}

func (c *Client) Interrupt(ctx context.Context, sessionID string) error {
	_, err := c.request(ctx, protocol.OpInterrupt, protocol.SessionRequest{SessionID: sessionID})
	return err
}

func (c *Client) ShutdownSession(ctx context.Context, sessionID string) error {
	_, err := c.request(ctx, protocol.OpShutdownSession, protocol.SessionRequest{SessionID: sessionID})
	return err
}

func (c *Client) Updates() <-chan protocol.UpdateMessage {
	return c.updates
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.request(ctx, protocol.OpPing, nil)
	return err
}

func (c *Client) Close() error {
	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()
	if sock == nil {
		return nil
	}
	c.dropConn(sock, fmt.Errorf("closed by caller"))
	return nil
}
