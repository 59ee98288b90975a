package alerts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"donation-alerts/types"
)

const (
	overlayOrigin = "https://overlay.example.com"
	adminOrigin   = "https://admin.example.com"
)

func newTestHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub([]string{overlayOrigin + "/"}, []string{adminOrigin}, time.Hour, zerolog.Nop())
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	header := http.Header{}
	header.Set("Origin", origin)
	return websocket.DefaultDialer.Dial(url, header)
}

func TestClassify(t *testing.T) {
	hub := NewHub([]string{"https://Overlay.example.com/"}, []string{adminOrigin}, 0, zerolog.Nop())

	tests := []struct {
		origin string
		role   Role
		ok     bool
	}{
		{"https://overlay.example.com", RoleOverlay, true},
		{"https://admin.example.com/", RoleAdmin, true},
		{"https://evil.example.com", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		role, ok := hub.Classify(tt.origin)
		assert.Equal(t, tt.role, role, tt.origin)
		assert.Equal(t, tt.ok, ok, tt.origin)
	}
}

func TestRejectsUnknownOrigin(t *testing.T) {
	_, url := newTestHub(t)

	_, resp, err := dial(t, url, "https://evil.example.com")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSecondOverlayIsRefused(t *testing.T) {
	hub, url := newTestHub(t)

	first, _, err := dial(t, url, overlayOrigin)
	require.NoError(t, err)
	defer first.Close()
	require.Eventually(t, func() bool { return hub.Counts()[RoleOverlay] == 1 }, time.Second, 5*time.Millisecond)

	second, _, err := dial(t, url, overlayOrigin)
	require.NoError(t, err)
	defer second.Close()

	var event types.Event
	require.NoError(t, second.ReadJSON(&event))
	assert.Equal(t, types.EventError, event.Type)
	assert.Equal(t, CodeOverlayAlreadyConnected, event.Code)

	_, _, err = second.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, CloseOverlayAlreadyConnected, closeErr.Code)
	assert.Equal(t, 1, hub.Counts()[RoleOverlay])
}

func TestOverlayCanReconnectAfterDisconnect(t *testing.T) {
	hub, url := newTestHub(t)

	first, _, err := dial(t, url, overlayOrigin)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Counts()[RoleOverlay] == 1 }, time.Second, 5*time.Millisecond)
	first.Close()
	require.Eventually(t, func() bool { return hub.Counts()[RoleOverlay] == 0 }, time.Second, 5*time.Millisecond)

	second, _, err := dial(t, url, overlayOrigin)
	require.NoError(t, err)
	defer second.Close()
	require.Eventually(t, func() bool { return hub.Counts()[RoleOverlay] == 1 }, time.Second, 5*time.Millisecond)
}

func TestBroadcastReachesAllClients(t *testing.T) {
	hub, url := newTestHub(t)

	overlay, _, err := dial(t, url, overlayOrigin)
	require.NoError(t, err)
	defer overlay.Close()
	admin, _, err := dial(t, url, adminOrigin)
	require.NoError(t, err)
	defer admin.Close()
	require.Eventually(t, func() bool {
		c := hub.Counts()
		return c[RoleOverlay] == 1 && c[RoleAdmin] == 1
	}, time.Second, 5*time.Millisecond)

	hub.Broadcast(types.NewEvent(types.EventQueueUpdated, types.QueueDonation, "").With("length", 3))

	for _, conn := range []*websocket.Conn{overlay, admin} {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		var event types.Event
		require.NoError(t, conn.ReadJSON(&event))
		assert.Equal(t, types.EventQueueUpdated, event.Type)
		assert.Equal(t, types.QueueDonation, event.Queue)
		assert.EqualValues(t, 3, event.Data["length"])
	}
}

func TestHeartbeatPrunesUnresponsiveClients(t *testing.T) {
	hub, url := newTestHub(t)

	// never reads, so never answers pings
	conn, _, err := dial(t, url, adminOrigin)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Counts()[RoleAdmin] == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, hub.heartbeat())
	assert.Equal(t, 1, hub.heartbeat())
	assert.Equal(t, 0, hub.Counts()[RoleAdmin])
}

func TestRunClosesClientsOnShutdown(t *testing.T) {
	hub, url := newTestHub(t)
	conn, _, err := dial(t, url, adminOrigin)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Counts()[RoleAdmin] == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	assert.Equal(t, 0, hub.Counts()[RoleAdmin])
}
