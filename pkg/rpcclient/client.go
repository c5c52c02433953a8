// Package rpcclient is a minimal JSON-RPC 2.0 client over a WebSocket
// connection, supporting both synchronous request/response calls and
// server-pushed subscription notifications multiplexed on the same
// socket, the way EVM nodes expose eth_subscribe alongside ordinary calls.
package rpcclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Notification is one server-pushed subscription message (eth_subscription).
type Notification struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

type request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      uint64      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	// subscription push shape
	Method string `json:"method"`
	Params struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Client is a connected JSON-RPC 2.0 client over one WebSocket connection.
// It is safe for concurrent Call invocations; Notifications must be
// drained by a single reader or fanned out by the caller.
type Client struct {
	conn *websocket.Conn

	nextID  atomic.Uint64
	pending sync.Map // map[uint64]chan response

	Notifications chan Notification

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to url and starts the read pump.
func Dial(ctx context.Context, url string, handshakeTimeout time.Duration) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: dial %s: %w", url, err)
	}

	c := &Client{
		conn:          conn,
		Notifications: make(chan Notification, 256),
		closed:        make(chan struct{}),
	}
	go c.readPump()
	return c, nil
}

// Close terminates the connection and the read pump.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
		close(c.closed)
	})
	return err
}

// Done reports a channel that closes when the connection has been torn down.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

func (c *Client) readPump() {
	defer close(c.Notifications)
	for {
		var resp response
		if err := c.conn.ReadJSON(&resp); err != nil {
			_ = c.Close()
			return
		}

		if resp.Method == "eth_subscription" {
			select {
			case c.Notifications <- Notification{Subscription: resp.Params.Subscription, Result: resp.Params.Result}:
			default:
				// Drop the notification rather than block the read pump on a
				// slow consumer; the dropped head is lost and nothing
				// re-requests it.
			}
			continue
		}

		if ch, ok := c.pending.LoadAndDelete(resp.ID); ok {
			ch.(chan response) <- resp
			close(ch.(chan response))
		}
	}
}

// Call issues a synchronous JSON-RPC request and waits for its matching
// response, unmarshaling the result into out (which may be nil).
func (c *Client) Call(ctx context.Context, method string, params interface{}, out interface{}) error {
	id := c.nextID.Add(1)
	ch := make(chan response, 1)
	c.pending.Store(id, ch)
	defer c.pending.Delete(id)

	req := request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("rpcclient: write %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return fmt.Errorf("rpcclient: connection closed while waiting for %s", method)
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if out == nil {
			return nil
		}
		return json.Unmarshal(resp.Result, out)
	}
}

// Subscribe issues eth_subscribe for the given params and returns the
// subscription id notifications will arrive tagged with.
func (c *Client) Subscribe(ctx context.Context, params ...interface{}) (string, error) {
	var subID string
	if err := c.Call(ctx, "eth_subscribe", params, &subID); err != nil {
		return "", err
	}
	return subID, nil
}
