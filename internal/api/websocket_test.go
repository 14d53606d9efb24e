package api

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bondings/bondings/internal/ledger"
)

func readWS(t *testing.T, conn *websocket.Conn) WebSocketMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg WebSocketMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

func TestEventStream(t *testing.T) {
	e := newTestEnv(t, nil)
	ctx := context.Background()
	if err := e.server.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		e.server.Stop(stopCtx)
	}()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+e.server.Addr()+"/v1/events?bonding=hello", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// A pong proves the client is registered with the hub.
	if err := conn.WriteJSON(WebSocketMessage{Type: "ping"}); err != nil {
		t.Fatal(err)
	}
	if msg := readWS(t, conn); msg.Type != "pong" {
		t.Fatalf("got %q, want pong", msg.Type)
	}

	e.launch(e.alice, "other")
	e.launch(e.alice, "hello")

	msg := readWS(t, conn)
	if msg.Type != string(ledger.EventLaunched) || msg.Channel != "hello" {
		t.Errorf("got %s on %q, want launched on hello", msg.Type, msg.Channel)
	}

	if err := conn.WriteJSON(WebSocketMessage{
		Type: "subscribe",
		Data: channelRequest{Channels: []string{"other"}},
	}); err != nil {
		t.Fatal(err)
	}
	msg = readWS(t, conn)
	if msg.Type != "subscribed" {
		t.Fatalf("got %q, want subscribed", msg.Type)
	}
	raw, _ := json.Marshal(msg.Data)
	var chans channelRequest
	json.Unmarshal(raw, &chans)
	if len(chans.Channels) != 2 || chans.Channels[0] != "hello" || chans.Channels[1] != "other" {
		t.Errorf("channels = %v", chans.Channels)
	}

	if rec := e.do("POST", "/v1/bondings/other/buy", TradeRequest{Amount: 3}, &e.bob); rec.Code != 200 {
		t.Fatalf("buy: %d %s", rec.Code, rec.Body)
	}
	msg = readWS(t, conn)
	if msg.Type != string(ledger.EventBuy) || msg.Channel != "other" {
		t.Errorf("got %s on %q, want buy on other", msg.Type, msg.Channel)
	}
}

func TestHubDropsClosedClients(t *testing.T) {
	hub := NewWebSocketHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	c := newWebSocketClient(hub, nil, nil)
	hub.register <- c
	c.closeSend()
	hub.Broadcast("buy", nil)

	deadline := time.Now().Add(5 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("closed client was not removed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	<-done
}

func TestClientWants(t *testing.T) {
	c := newWebSocketClient(nil, nil, nil)
	if !c.wants("hello") {
		t.Error("client without subscriptions should receive everything")
	}
	c = newWebSocketClient(nil, nil, []string{"hello"})
	if !c.wants("hello") || c.wants("other") {
		t.Error("subscribed client should only receive its channels")
	}
	if !c.wants("") {
		t.Error("broadcasts without a channel reach everyone")
	}
}
