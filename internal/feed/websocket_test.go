package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jkristofgh/TradeAssist-sub001/internal/market"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebsocketSourceReceivesTicks(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var gotSubscribe []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		_, gotSubscribe, _ = conn.ReadMessage()

		price, volume := 4500.5, 120.0
		frame, _ := json.Marshal(market.RawTick{
			Symbol:    "ES",
			Timestamp: time.Now().UnixMilli(),
			Price:     &price,
			Volume:    &volume,
		})
		_ = conn.WriteMessage(websocket.TextMessage, frame)
		_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
	}))
	defer srv.Close()

	src := NewWebsocketSource(WebsocketOptions{
		URL:       wsURL(srv),
		Subscribe: json.RawMessage(`{"op":"subscribe","symbols":["ES"]}`),
	}, zerolog.Nop())

	var ticks []market.RawTick
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := src.Run(ctx, func(raw market.RawTick) {
		ticks = append(ticks, raw)
		if len(ticks) == 2 {
			cancel()
		}
	})
	if err != nil && err != context.Canceled {
		t.Fatalf("Run returned %v", err)
	}

	if string(gotSubscribe) != `{"op":"subscribe","symbols":["ES"]}` {
		t.Errorf("server received subscribe message %q", gotSubscribe)
	}
	if len(ticks) != 2 {
		t.Fatalf("handler saw %d payloads, want 2", len(ticks))
	}
	if ticks[0].Symbol != "ES" || ticks[0].Price == nil || *ticks[0].Price != 4500.5 {
		t.Errorf("first tick = %+v, want decoded ES tick", ticks[0])
	}
	// The undecodable frame arrives as an empty payload so the drop is
	// counted downstream.
	if ticks[1].Symbol != "" {
		t.Errorf("second tick = %+v, want empty placeholder", ticks[1])
	}
}

func TestWebsocketSourceDialFailure(t *testing.T) {
	src := NewWebsocketSource(WebsocketOptions{URL: "ws://127.0.0.1:1"}, zerolog.Nop())
	if err := src.Run(context.Background(), func(market.RawTick) {}); err == nil {
		t.Error("Run succeeded against an unreachable feed")
	}
}
