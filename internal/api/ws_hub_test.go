package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/taxlot/cgt-engine/internal/compliance"
)

func TestWSHub_NotifyReachesClient(t *testing.T) {
	hub := NewWSHub()
	go hub.Run()
	defer hub.Stop()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Registration is asynchronous; wait until the hub sees the client.
	deadline := time.Now().Add(2 * time.Second)
	for {
		hub.mu.RLock()
		n := len(hub.clients)
		hub.mu.RUnlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Notify(compliance.Event{
		HoldingID:      "h1",
		Ticker:         "VOD",
		Disposals:      2,
		GainLoss:       decimal.RequireFromString("-150"),
		DisallowedLoss: decimal.RequireFromString("150"),
		ProcessedAt:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "holding_processed" || msg.HoldingID != "h1" || msg.Disposals != 2 {
		t.Errorf("unexpected message %+v", msg)
	}
	if msg.GainLoss != "-150" || msg.DisallowedLoss != "150" {
		t.Errorf("unexpected amounts %+v", msg)
	}
}
