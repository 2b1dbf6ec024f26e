package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"spotarb/internal/bus"
	"spotarb/internal/models"
	"spotarb/pkg/utils"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(nil, utils.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, hub *Hub) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client was not registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) StreamMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg StreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return msg
}

func TestNewHub(t *testing.T) {
	hub := NewHub(nil, utils.NewNopLogger())

	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
	if hub.DroppedMessages() != 0 {
		t.Errorf("expected 0 dropped messages, got %d", hub.DroppedMessages())
	}
}

func TestHubStreamsEvents(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, hub)

	tests := []struct {
		name     string
		send     func()
		wantType string
	}{
		{"deal", func() { hub.ObserveDeal(models.Deal{ID: "d-1", TradingPair: "BTCUSDT", Timestamp: testNow}) }, MessageDeal},
		{"order", func() {
			hub.HandleEvent(models.OrderEvent{ID: 1, Exchange: "BINANCE", Type: models.OrderBuy, Timestamp: testNow})
		}, MessageOrder},
		{"transfer", func() { hub.HandleEvent(models.TransferEvent{ID: 2, Exchange: "BITFINEX", Timestamp: testNow}) }, MessageTransfer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.send()
			if msg := readMessage(t, conn); msg.Type != tt.wantType {
				t.Errorf("expected type %s, got %s", tt.wantType, msg.Type)
			}
		})
	}
}

func TestHubIgnoresTickers(t *testing.T) {
	hub := NewHub(nil, utils.NewNopLogger())
	hub.HandleEvent(models.TickerEvent{Exchange: "CEX", Symbol: "BTCUSDT", Timestamp: testNow})

	if len(hub.broadcast) != 0 {
		t.Error("tickers must not be broadcast")
	}
}

func TestHubAttachedToBus(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, hub)

	b := bus.New(bus.Config{Shards: 1, BufferSize: 8}, utils.NewNopLogger())
	defer b.Close()
	hub.Attach(b)

	b.Publish(models.OrderEvent{ID: 7, Exchange: "BINANCE", Timestamp: testNow})

	if msg := readMessage(t, conn); msg.Type != MessageOrder {
		t.Errorf("expected order message, got %s", msg.Type)
	}
}

func TestHubBroadcastNonBlocking(t *testing.T) {
	hub := NewHub(nil, utils.NewNopLogger())

	// Run не запущен: очередь заполняется и лишнее теряется
	for i := 0; i < broadcastBufferSize+10; i++ {
		hub.Broadcast(StreamMessage{Type: "test"})
	}

	if got := hub.DroppedMessages(); got != 10 {
		t.Errorf("expected 10 dropped messages, got %d", got)
	}
}

func TestHubStopClosesClients(t *testing.T) {
	hub := NewHub(nil, utils.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()
	conn := dial(t, srv, hub)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after cancel")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
		t.Errorf("expected close frame, got %v", err)
	}
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestHubRejectsOrigin(t *testing.T) {
	hub := NewHub(func(r *http.Request) bool { return false }, utils.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %v", resp)
	}
}

func BenchmarkHub_Broadcast(b *testing.B) {
	hub := NewHub(nil, utils.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	msg := StreamMessage{Type: MessageOrder, Data: models.OrderEvent{ID: 1, Exchange: "BINANCE", Timestamp: testNow}}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hub.Broadcast(msg)
	}
}
