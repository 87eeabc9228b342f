package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/navikt/zparty/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	rec := metrics.NewRecorder()

	rec.ObserveOperation("join_room", "ok", time.Now())
	rec.ObserveOperation("join_room", "ok", time.Now())
	rec.ObserveOperation("join_room", "conflict", time.Now())
	rec.ConnectionOpened()
	rec.ConnectionOpened()
	rec.ConnectionClosed()
	rec.SetRooms(3)
	rec.MemberReaped()

	count, err := testutil.GatherAndCount(rec.Registry(), "zparty_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series per operation/result pair")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	rec.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `zparty_operations_total{operation="join_room",result="ok"} 2`)
	assert.Contains(t, body, "zparty_websocket_connections 1")
	assert.Contains(t, body, "zparty_rooms 3")
	assert.Contains(t, body, "zparty_reaped_members_total 1")
}

func TestNilRecorderIsSafe(t *testing.T) {
	var rec *metrics.Recorder
	assert.NotPanics(t, func() {
		rec.ObserveOperation("create_room", "ok", time.Now())
		rec.ConnectionOpened()
		rec.ConnectionClosed()
		rec.SetRooms(1)
		rec.MemberReaped()
	})
}
