package realtime

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testRelayToken = "relay-token"

func startHub(t *testing.T) (*Hub, string, context.CancelFunc) {
	t.Helper()

	hub := NewHub(discardLogger(), testRelayToken)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http"), cancel
}

func TestHub_RelaysToWebSocketChannel(t *testing.T) {
	hub, url, _ := startHub(t)

	ch := NewWebSocketChannel(url, testRelayToken, discardLogger())
	t.Cleanup(func() { ch.Close() })

	require.NoError(t, ch.Connect(context.Background()))
	assert.True(t, ch.IsConnected())
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	got := make(chan string, 1)
	unsub, err := ch.Subscribe("mobile_money.callback", func(b []byte) { got <- string(b) })
	require.NoError(t, err)
	defer unsub()

	_, err = ch.Subscribe("other", func([]byte) { t.Error("unexpected event") })
	require.NoError(t, err)

	require.NoError(t, hub.Publish(context.Background(), "mobile_money.callback", []byte(`{"reference_id":"ref-1"}`)))

	select {
	case payload := <-got:
		assert.JSONEq(t, `{"reference_id":"ref-1"}`, payload)
	case <-time.After(2 * time.Second):
		t.Fatal("payload not relayed")
	}
}

func TestHub_PublishRejectsInvalidJSON(t *testing.T) {
	hub, _, _ := startHub(t)
	err := hub.Publish(context.Background(), "evt", []byte("{"))
	assert.Error(t, err)
}

func TestHub_RejectsUnauthenticatedClients(t *testing.T) {
	hub, url, _ := startHub(t)

	tests := []struct {
		name   string
		header http.Header
	}{
		{name: "no credentials", header: nil},
		{name: "wrong token", header: http.Header{"Authorization": {"Bearer guess"}}},
		{name: "token without scheme", header: http.Header{"Authorization": {testRelayToken}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			conn, resp, err := websocket.DefaultDialer.Dial(url, tc.header)
			if conn != nil {
				conn.Close()
			}
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}

	ch := NewWebSocketChannel(url, "guess", discardLogger())
	t.Cleanup(func() { ch.Close() })
	assert.Error(t, ch.Connect(context.Background()))
	assert.Zero(t, hub.ClientCount())
}

func TestHub_EmptyTokenAdmitsNobody(t *testing.T) {
	hub := NewHub(discardLogger(), "")
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), http.Header{"Authorization": {"Bearer "}})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHub_PublishWithoutClients(t *testing.T) {
	hub, _, _ := startHub(t)
	err := hub.Publish(context.Background(), "evt", []byte(`{}`))
	assert.ErrorIs(t, err, ErrNoSubscribers)
}

func TestHub_PublishAfterStop(t *testing.T) {
	hub, _, cancel := startHub(t)
	cancel()
	<-hub.done

	// fill the buffer so the only ready case is done
	for i := 0; i < cap(hub.broadcast); i++ {
		hub.broadcast <- []byte("{}")
	}
	err := hub.Publish(context.Background(), "evt", []byte(`{}`))
	assert.ErrorIs(t, err, ErrChannelClosed)
}

func TestWebSocketChannel_DropMarksDisconnected(t *testing.T) {
	_, url, cancel := startHub(t)

	ch := NewWebSocketChannel(url, testRelayToken, discardLogger())
	t.Cleanup(func() { ch.Close() })
	require.NoError(t, ch.Connect(context.Background()))

	cancel()

	require.Eventually(t, func() bool { return !ch.IsConnected() }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketChannel_ClosedRejectsUse(t *testing.T) {
	ch := NewWebSocketChannel("ws://127.0.0.1:1/none", testRelayToken, discardLogger())
	require.NoError(t, ch.Close())

	err := ch.Connect(context.Background())
	assert.ErrorIs(t, err, ErrChannelClosed)

	_, err = ch.Subscribe("evt", func([]byte) {})
	assert.ErrorIs(t, err, ErrChannelClosed)
}

func TestWebSocketChannel_ConnectFailure(t *testing.T) {
	ch := NewWebSocketChannel("ws://127.0.0.1:1/none", testRelayToken, discardLogger())
	t.Cleanup(func() { ch.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, ch.Connect(ctx))
	assert.False(t, ch.IsConnected())
}
