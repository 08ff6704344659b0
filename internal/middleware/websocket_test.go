package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"hwcast/internal/broadcast"
	"hwcast/internal/metrics"
	"hwcast/internal/models"
)

func newWSServer(t *testing.T) (*httptest.Server, *broadcast.Broadcaster[models.HardwareSnapshot]) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	feed := broadcast.New[models.HardwareSnapshot]()
	h := NewConnectionHandler(feed, nil, metrics.New(prometheus.NewRegistry()))
	r := gin.New()
	r.GET("/ws", h.HandleWebSocket())
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		feed.Close()
		srv.Close()
	})
	return srv, feed
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if kind != websocket.TextMessage {
		t.Fatalf("message type = %d, want text", kind)
	}
	return string(data)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConnectionHandlerStreamsSnapshots(t *testing.T) {
	srv, feed := newWSServer(t)
	conn := dial(t, srv)
	waitFor(t, func() bool { return feed.Subscribers() == 1 })

	_, _ = feed.Publish(models.HardwareSnapshot{CPUPercent: 25, MemPercent: 50, NetKiB: models.KiBFromBytes(2048)})
	if got := readText(t, conn); got != `{"cpu":25,"mem":50,"net":2.00}` {
		t.Fatalf("got %s", got)
	}

	_, _ = feed.Publish(models.HardwareSnapshot{CPUPercent: 1, MemPercent: 2, NetKiB: 0.5})
	if got := readText(t, conn); got != `{"cpu":1,"mem":2,"net":0.50}` {
		t.Fatalf("got %s", got)
	}
}

func TestNewConnectionReceivesLatestImmediately(t *testing.T) {
	srv, feed := newWSServer(t)
	_, _ = feed.Publish(models.HardwareSnapshot{CPUPercent: 10})
	_, _ = feed.Publish(models.HardwareSnapshot{CPUPercent: 20})

	conn := dial(t, srv)
	if got := readText(t, conn); got != `{"cpu":20,"mem":0,"net":0.00}` {
		t.Fatalf("got %s", got)
	}
}

func TestFeedCloseEndsEveryConnection(t *testing.T) {
	srv, feed := newWSServer(t)
	a, b := dial(t, srv), dial(t, srv)
	waitFor(t, func() bool { return feed.Subscribers() == 2 })

	feed.Close()
	for _, conn := range []*websocket.Conn{a, b} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err := conn.ReadMessage()
		if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
			t.Fatalf("expected going-away close, got %v", err)
		}
	}
	waitFor(t, func() bool { return feed.Subscribers() == 0 })
}

func TestPeerDisconnectReleasesSubscriber(t *testing.T) {
	srv, feed := newWSServer(t)
	stay := dial(t, srv)
	leave := dial(t, srv)
	waitFor(t, func() bool { return feed.Subscribers() == 2 })

	leave.Close()
	waitFor(t, func() bool { return feed.Subscribers() == 1 })

	_, _ = feed.Publish(models.HardwareSnapshot{MemPercent: 77})
	if got := readText(t, stay); got != `{"cpu":0,"mem":77,"net":0.00}` {
		t.Fatalf("remaining client got %s", got)
	}
}

func TestFailedHandshakeDoesNotAffectOthers(t *testing.T) {
	srv, feed := newWSServer(t)

	resp, err := http.Get(srv.URL + "/ws")
	if err != nil {
		t.Fatalf("plain GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("plain GET status = %d, want 400", resp.StatusCode)
	}

	conn := dial(t, srv)
	_, _ = feed.Publish(models.HardwareSnapshot{CPUPercent: 3})
	if got := readText(t, conn); got != `{"cpu":3,"mem":0,"net":0.00}` {
		t.Fatalf("got %s", got)
	}
}
