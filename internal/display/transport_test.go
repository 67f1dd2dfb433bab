package display

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func startTransport(t *testing.T) *Transport {
	t.Helper()
	tr := NewTransport(TransportConfig{ListenAddr: "127.0.0.1:0"})
	if err := tr.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func dialWS(t *testing.T, tr *Transport) *websocket.Conn {
	t.Helper()
	url := "ws://" + tr.Addr().String() + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (t *Transport) hasDisplay() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.display != nil
}

func (t *Transport) hasSender(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.senders[id]
	return ok
}

func TestDisplayReceivesCommands(t *testing.T) {
	tr := startTransport(t)
	conn := dialWS(t, tr)
	waitFor(t, "display registration", tr.hasDisplay)

	cmd := map[string]any{"type": "load", "url": "http://example.test/v.mp4", "requestId": 1}
	if err := tr.SendCommand(cmd); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}

	var got map[string]any
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read command: %v", err)
	}
	if got["type"] != "load" || got["url"] != "http://example.test/v.mp4" {
		t.Fatalf("unexpected command: %v", got)
	}
}

func TestSendCommandWithoutDisplayIsSilent(t *testing.T) {
	tr := startTransport(t)
	if err := tr.SendCommand(map[string]any{"type": "pause"}); err != nil {
		t.Fatalf("SendCommand with no display: %v", err)
	}
}

func TestSenderHelloReclassifies(t *testing.T) {
	tr := startTransport(t)

	senderMsgs := make(chan map[string]any, 1)
	tr.OnSenderMessage(func(senderID string, msg map[string]any) {
		msg["_sender"] = senderID
		senderMsgs <- msg
	})
	displayMsgs := make(chan map[string]any, 1)
	tr.OnDisplayMessage(func(msg map[string]any) { displayMsgs <- msg })

	conn := dialWS(t, tr)
	waitFor(t, "provisional display slot", tr.hasDisplay)

	if err := conn.WriteJSON(map[string]any{"type": "sender-hello", "sessionId": "s1"}); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	waitFor(t, "sender registration", func() bool { return tr.hasSender("s1") })
	if tr.hasDisplay() {
		t.Fatal("display slot still held after sender-hello")
	}

	if err := conn.WriteJSON(map[string]any{"type": "webrtc-offer", "sdp": "v=0"}); err != nil {
		t.Fatalf("write offer: %v", err)
	}
	select {
	case msg := <-senderMsgs:
		if msg["_sender"] != "s1" || msg["type"] != "webrtc-offer" {
			t.Fatalf("unexpected sender message: %v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sender callback not fired")
	}

	select {
	case msg := <-displayMsgs:
		t.Fatalf("sender traffic leaked to display callbacks: %v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDisplayMessageCallback(t *testing.T) {
	tr := startTransport(t)

	displayMsgs := make(chan map[string]any, 1)
	tr.OnDisplayMessage(func(msg map[string]any) { displayMsgs <- msg })

	conn := dialWS(t, tr)
	waitFor(t, "display registration", tr.hasDisplay)

	if err := conn.WriteJSON(map[string]any{"playerState": "PLAYING", "currentTime": 3.5}); err != nil {
		t.Fatalf("write status: %v", err)
	}
	select {
	case msg := <-displayMsgs:
		if msg["playerState"] != "PLAYING" {
			t.Fatalf("unexpected display message: %v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("display callback not fired")
	}
}

func TestLastDisplayWins(t *testing.T) {
	tr := startTransport(t)

	first := dialWS(t, tr)
	waitFor(t, "first display", tr.hasDisplay)

	second := dialWS(t, tr)

	// The displaced display gets a normal close.
	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("first display read = %v, want normal close", err)
	}

	// Wait until the displaced connection is gone from the client set, then
	// confirm commands route to the replacement only.
	waitFor(t, "first display removal", func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return len(tr.clients) == 1 && tr.display != nil
	})

	if err := tr.SendCommand(map[string]any{"type": "pause", "requestId": 2}); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	var got map[string]any
	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := second.ReadJSON(&got); err != nil {
		t.Fatalf("second display read: %v", err)
	}
	if got["type"] != "pause" {
		t.Fatalf("unexpected command: %v", got)
	}
}

func TestSenderHelloWithoutIDKeepsDisplay(t *testing.T) {
	tr := startTransport(t)

	displayMsgs := make(chan map[string]any, 1)
	tr.OnDisplayMessage(func(msg map[string]any) { displayMsgs <- msg })

	conn := dialWS(t, tr)
	waitFor(t, "display registration", tr.hasDisplay)

	if err := conn.WriteJSON(map[string]any{"type": "sender-hello"}); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	if err := conn.WriteJSON(map[string]any{"playerState": "IDLE"}); err != nil {
		t.Fatalf("write status: %v", err)
	}

	// The id-less hello is ignored: the connection stays in the display
	// slot and keeps feeding display callbacks.
	select {
	case msg := <-displayMsgs:
		if msg["playerState"] != "IDLE" {
			t.Fatalf("unexpected message: %v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("display callback not fired after id-less hello")
	}
	if !tr.hasDisplay() {
		t.Fatal("display slot lost to an id-less hello")
	}
	if tr.hasSender("") {
		t.Fatal("client registered under an empty sender id")
	}
}

func TestSweepTerminatesUnresponsiveClient(t *testing.T) {
	tr := startTransport(t)

	// Never read from the client, so pings go unanswered.
	dialWS(t, tr)
	waitFor(t, "display registration", tr.hasDisplay)

	tr.sweepOnce() // marks the client suspect and pings it
	tr.sweepOnce() // no pong arrived, the client is terminated

	waitFor(t, "client removal", func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return len(tr.clients) == 0 && tr.display == nil
	})
}

func TestSweepKeepsResponsiveClient(t *testing.T) {
	tr := startTransport(t)

	conn := dialWS(t, tr)
	waitFor(t, "display registration", tr.hasDisplay)

	// A read pump services the ping control frames; gorilla's default ping
	// handler answers with a pong.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	tr.sweepOnce()
	waitFor(t, "pong", func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		for c := range tr.clients {
			return c.alive
		}
		return false
	})
	tr.sweepOnce()

	if !tr.hasDisplay() {
		t.Fatal("responsive display terminated by the sweep")
	}
}

func TestMalformedJSONIgnored(t *testing.T) {
	tr := startTransport(t)

	displayMsgs := make(chan map[string]any, 1)
	tr.OnDisplayMessage(func(msg map[string]any) { displayMsgs <- msg })

	conn := dialWS(t, tr)
	waitFor(t, "display registration", tr.hasDisplay)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	if err := conn.WriteJSON(map[string]any{"playerState": "IDLE"}); err != nil {
		t.Fatalf("write status: %v", err)
	}

	select {
	case msg := <-displayMsgs:
		if msg["playerState"] != "IDLE" {
			t.Fatalf("unexpected message: %v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not survive malformed json")
	}
}
