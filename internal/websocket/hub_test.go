package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestServer 以 query 参数 owner 作为账号
func newTestServer(t *testing.T, origins []string) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(origins, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	router := gin.New()
	router.GET("/ws", HandleWebSocket(hub, func(c *gin.Context) string { return c.Query("owner") }))
	srv := httptest.NewServer(router)

	t.Cleanup(func() {
		cancel()
		<-hub.done
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, owner string) *gorillaws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?owner=" + owner
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.ClientCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func readEvent(t *testing.T, conn *gorillaws.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestHub_PublishToOwner(t *testing.T) {
	hub, srv := newTestServer(t, nil)

	alice := dial(t, srv, "alice")
	bob := dial(t, srv, "bob")
	waitClients(t, hub, 2)

	hub.Publish("alice", "reply.received", map[string]string{"id": "r1"})

	ev := readEvent(t, alice)
	assert.Equal(t, "reply.received", ev.Type)
	assert.False(t, ev.Timestamp.IsZero())
	var data map[string]string
	require.NoError(t, json.Unmarshal(ev.Data, &data))
	assert.Equal(t, "r1", data["id"])

	// bob 不应收到 alice 的事件
	require.NoError(t, bob.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := bob.ReadMessage()
	assert.Error(t, err)
}

func TestHub_PingPong(t *testing.T) {
	hub, srv := newTestServer(t, nil)

	conn := dial(t, srv, "alice")
	waitClients(t, hub, 1)

	require.NoError(t, conn.WriteJSON(Event{Type: TypePing}))
	ev := readEvent(t, conn)
	assert.Equal(t, TypePong, ev.Type)
}

func TestHub_UnregisterOnClose(t *testing.T) {
	hub, srv := newTestServer(t, nil)

	conn := dial(t, srv, "alice")
	waitClients(t, hub, 1)

	require.NoError(t, conn.Close())
	waitClients(t, hub, 0)
}

func TestHub_RequiresOwner(t *testing.T) {
	_, srv := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHub_RejectsUnknownOrigin(t *testing.T) {
	_, srv := newTestServer(t, []string{"http://allowed.example"})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?owner=alice"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := gorillaws.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHub_PublishAfterStop(t *testing.T) {
	hub := NewHub(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	cancel()
	<-hub.done

	assert.NotPanics(t, func() {
		hub.Publish("alice", "message.created", map[string]string{"id": "m1"})
	})
	assert.Equal(t, 0, hub.ClientCount())
}
