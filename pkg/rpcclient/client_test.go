package rpcclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startEchoServer answers eth_blockNumber with a fixed result and pushes
// one eth_subscription notification right after the subscribe call.
func startEchoServer(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()

		for {
			var req request
			if err := conn.ReadJSON(&req); err != nil {
				return
			}

			switch req.Method {
			case "eth_neverRespond":
				continue
			case "eth_subscribe":
				_ = conn.WriteJSON(response{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`"0xsub1"`)})
				_ = conn.WriteJSON(map[string]interface{}{
					"jsonrpc": "2.0",
					"method":  "eth_subscription",
					"params": map[string]interface{}{
						"subscription": "0xsub1",
						"result":       map[string]string{"number": "0x1"},
					},
				})
			default:
				_ = conn.WriteJSON(response{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`"0x2a"`)})
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClientCallRoundTrip(t *testing.T) {
	url := startEchoServer(t)
	client, err := Dial(context.Background(), url, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	var result string
	require.NoError(t, client.Call(context.Background(), "eth_blockNumber", nil, &result))
	assert.Equal(t, "0x2a", result)
}

func TestClientSubscribeReceivesNotification(t *testing.T) {
	url := startEchoServer(t)
	client, err := Dial(context.Background(), url, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	subID, err := client.Subscribe(context.Background(), "newHeads")
	require.NoError(t, err)
	assert.Equal(t, "0xsub1", subID)

	select {
	case notif := <-client.Notifications:
		assert.Equal(t, "0xsub1", notif.Subscription)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestClientCallContextCancelled(t *testing.T) {
	url := startEchoServer(t)
	client, err := Dial(context.Background(), url, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = client.Call(ctx, "eth_neverRespond", nil, nil)
	assert.Error(t, err)
}
