package monitor

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/planningpoker/broadcast"
	"github.com/wfunc/planningpoker/room"
)

func newTestMonitor() *Monitor {
	reg := prometheus.NewRegistry()
	return NewMonitorWithRegistry("planning_poker", reg, reg)
}

func TestMonitor_ObserveOperation(t *testing.T) {
	m := newTestMonitor()

	m.ObserveOperation("join", nil)
	m.ObserveOperation("join", nil)
	m.ObserveOperation("set_card", fmt.Errorf("x: %w", room.ErrNotAParticipant))
	m.ObserveOperation("reveal", room.ErrStaleWrite)
	m.ObserveRoomCreated()

	ops := m.Metrics().Operations
	assert.Equal(t, 2.0, testutil.ToFloat64(ops.WithLabelValues("join", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ops.WithLabelValues("set_card", "not_a_participant")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ops.WithLabelValues("reveal", "stale_write")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Metrics().StaleWrites))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Metrics().RoomsCreated))
}

func TestMonitor_OnlineSessions(t *testing.T) {
	m := newTestMonitor()
	m.IncOnlineSessions()
	m.IncOnlineSessions()
	m.DecOnlineSessions()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Metrics().OnlineSessions))
}

func TestMonitor_CountDeliveries(t *testing.T) {
	m := newTestMonitor()
	n := broadcast.NewLocalNotifier()
	ctx := context.Background()

	var got []broadcast.Change
	unsubscribe, err := m.CountDeliveries(n).Subscribe(ctx, "ABC12", "tab-b", func(c broadcast.Change) {
		got = append(got, c)
	})
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, n.Publish(ctx, broadcast.Change{RoomID: "ABC12", Origin: "tab-a"}))
	require.NoError(t, n.Publish(ctx, broadcast.Change{RoomID: "ABC12", Origin: "tab-b"}))

	assert.Len(t, got, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Metrics().Notifications))
}

func TestMonitor_Handler(t *testing.T) {
	m := newTestMonitor()
	m.ObserveRoomCreated()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "planning_poker_rooms_created_total 1"))

	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/vars", nil))
	assert.Contains(t, rec.Body.String(), "uptime")
}

func TestResult(t *testing.T) {
	assert.Equal(t, "ok", result(nil))
	assert.Equal(t, "not_found", result(room.ErrRoomNotFound))
	assert.Equal(t, "validation", result(room.ErrValidation))
	assert.Equal(t, "already_exists", result(room.ErrAlreadyExists))
	assert.Equal(t, "error", result(fmt.Errorf("disk on fire")))
}
