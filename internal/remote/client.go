package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/roach88/fieldsync/internal/document"
)

// ClientOptions configures a Client.
type ClientOptions struct {
	// Timeout bounds each request, including the dial. Defaults to 10s.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Client is a Store speaking JSON-RPC over a websocket.
//
// The connection is dialled on first use and re-dialled after any transport
// error. Requests are serialized; the sync engine replays one item at a
// time anyway.
type Client struct {
	url     string
	timeout time.Duration
	logger  *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	seq  uint64
}

// NewClient creates a client for a ws:// or wss:// URL.
func NewClient(url string, opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		url:     url,
		timeout: opts.Timeout,
		logger:  opts.Logger.With("component", "remote", "url", url),
	}
}

// Create implements Store.
func (c *Client) Create(ctx context.Context, kind string, doc document.Document) (string, error) {
	res, err := c.call(ctx, MethodCreate, RPCParams{Kind: kind, Data: doc})
	if err != nil {
		return "", err
	}
	if res == nil || res.ID == "" {
		return "", NewTransient(MethodCreate, errors.New("response carried no id"))
	}
	return res.ID, nil
}

// Update implements Store.
func (c *Client) Update(ctx context.Context, kind, id string, patch document.Document) error {
	_, err := c.call(ctx, MethodUpdate, RPCParams{Kind: kind, ID: id, Data: patch})
	return err
}

// Delete implements Store.
func (c *Client) Delete(ctx context.Context, kind, id string) error {
	_, err := c.call(ctx, MethodDelete, RPCParams{Kind: kind, ID: id})
	return err
}

// Get implements Getter.
func (c *Client) Get(ctx context.Context, kind, id string) (document.Document, error) {
	res, err := c.call(ctx, MethodGet, RPCParams{Kind: kind, ID: id})
	if err != nil {
		return nil, err
	}
	if res == nil || res.Data == nil {
		return document.Document{}, nil
	}
	return res.Data, nil
}

// Close closes the connection if one is open.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close(websocket.StatusNormalClosure, "client closed")
	c.conn = nil
	return err
}

func (c *Client) call(ctx context.Context, method string, params RPCParams) (*RPCResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		conn, _, err := websocket.Dial(ctx, c.url, nil)
		if err != nil {
			return nil, NewTransient(method, fmt.Errorf("dial: %w", err))
		}
		conn.SetReadLimit(maxMessageBytes)
		c.conn = conn
		c.logger.Debug("connected")
	}

	c.seq++
	req := RPCRequest{ID: c.seq, Method: method, Params: params}
	if err := wsjson.Write(ctx, c.conn, req); err != nil {
		c.dropLocked(err)
		return nil, NewTransient(method, fmt.Errorf("write: %w", err))
	}

	for {
		var resp RPCResponse
		if err := wsjson.Read(ctx, c.conn, &resp); err != nil {
			c.dropLocked(err)
			return nil, NewTransient(method, fmt.Errorf("read: %w", err))
		}
		if resp.ID != req.ID {
			// Late answer to a request that already timed out.
			c.logger.Debug("discarding stale response", "id", resp.ID, "want", req.ID)
			continue
		}
		if resp.Error != nil {
			return nil, resp.Error.asError(method)
		}
		return resp.Result, nil
	}
}

// dropLocked discards a broken connection. Caller holds c.mu.
func (c *Client) dropLocked(cause error) {
	if c.conn == nil {
		return
	}
	c.logger.Debug("dropping connection", "error", cause)
	_ = c.conn.CloseNow()
	c.conn = nil
}
