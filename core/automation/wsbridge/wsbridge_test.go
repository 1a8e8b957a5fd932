package wsbridge

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-relay/core/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBridgeServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	current := "about:blank"

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var req request
			if err := conn.ReadJSON(&req); err != nil {
				return
			}

			resp := response{ID: req.ID}
			switch req.Op {
			case "navigate":
				current = req.URL
				resp.URL = current
			case "state":
				resp.URL = current
			case "execute":
				if req.Action.Type == "explode" {
					resp.Error = "unsupported action"
					break
				}
				resp.URL = current
				resp.Screenshot = base64.StdEncoding.EncodeToString([]byte("png:" + req.Action.Type))
			}

			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
}

func TestClientRoundTrips(t *testing.T) {
	server := newBridgeServer(t)
	defer server.Close()

	client, err := Dial(context.Background(), "ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close()

	url, err := client.CurrentURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "about:blank", url)

	_, err = client.Navigate(context.Background(), "https://example.com")
	require.NoError(t, err)

	result, err := client.Execute(context.Background(), events.Action{Type: "click", Params: map[string]any{"x": 1, "y": 2}})
	require.NoError(t, err)
	assert.Equal(t, "png:click", string(result.Screenshot))
	assert.Equal(t, "https://example.com", result.URL)

	_, err = client.Execute(context.Background(), events.Action{Type: "explode"})
	assert.ErrorContains(t, err, "unsupported action")
}

func TestClosedClientRefusesRequests(t *testing.T) {
	server := newBridgeServer(t)
	defer server.Close()

	client, err := Dial(context.Background(), "ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = client.CurrentURL(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
