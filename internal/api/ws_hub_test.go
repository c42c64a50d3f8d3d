package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/api"
	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/pricing"
	"github.com/pateln39/biodiesel-trader-pro-sub000/internal/store"
)

func TestWSHub_BroadcastsMTM(t *testing.T) {
	ms := store.NewMemoryStore()
	seedPrices(t, ms)
	resolver := pricing.NewResolver(ms, time.Second, nil)
	resolver.Now = func() time.Time { return date(2024, time.March, 15) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := api.NewWSHub()
	go hub.Run(ctx)

	r := chi.NewRouter()
	r.Route("/api/v1", api.NewService(resolver, nil, hub, nil).Routes)
	srv := httptest.NewServer(r)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Post(srv.URL+"/api/v1/mtm", "application/json",
		strings.NewReader(legJSON("sell", "standard", ucomePlus50, "")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg api.WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != "mtm_calculated" || msg.LegID != "leg-1" {
		t.Errorf("unexpected message %+v", msg)
	}
	if msg.Value != "-5000" || msg.Month != "Mar-24" {
		t.Errorf("unexpected mtm payload %+v", msg)
	}
	if msg.ID == "" {
		t.Error("expected an event id")
	}
}

func TestWSHub_ShutdownClosesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := api.NewWSHub()
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
	if hub.Clients() != 0 {
		t.Errorf("expected no clients after shutdown, got %d", hub.Clients())
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected the connection to be closed")
	}
}
