package monitoring

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scrape 抓取一次 /metrics 输出
func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	srv := httptest.NewServer(m.HTTPHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics()

	m.RecordMessageCreated("sent")
	m.RecordMessageCreated("sent")
	m.RecordMessageCreated("scheduled")
	m.RecordReplyRecorded()
	m.RecordReplyDropped()
	m.RecordDispatch("failed")
	m.UpdateWebsocketClients(3)

	out := scrape(t, m)
	assert.Contains(t, out, `msgdash_messages_created_total{status="sent"} 2`)
	assert.Contains(t, out, `msgdash_messages_created_total{status="scheduled"} 1`)
	assert.Contains(t, out, "msgdash_replies_recorded_total 1")
	assert.Contains(t, out, "msgdash_replies_dropped_total 1")
	assert.Contains(t, out, `msgdash_messages_dispatched_total{result="failed"} 1`)
	assert.Contains(t, out, "msgdash_websocket_clients 3")
	assert.Contains(t, out, "go_goroutines")
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	// 每个实例独立注册，不会因重复注册 panic
	a := NewMetrics()
	b := NewMetrics()
	a.RecordMessageDeleted()

	assert.Contains(t, scrape(t, a), "msgdash_messages_deleted_total 1")
	assert.Contains(t, scrape(t, b), "msgdash_messages_deleted_total 0")
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordHTTPRequest("GET", "/", "200", time.Millisecond)
		m.RecordMessageCreated("sent")
		m.RecordReplyDropped()
		m.UpdateWebsocketClients(3)
	})
}
