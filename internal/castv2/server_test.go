package castv2

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/fauxcast/fauxcast/internal/certgen"
)

type castClient struct {
	conn *tls.Conn
	dec  *Decoder
}

func dialCast(t *testing.T, addr string) *castClient {
	t.Helper()
	conn, err := tls.Dial("tcp", addr, &tls.Config{InsecureSkipVerify: true})
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &castClient{conn: conn, dec: &Decoder{}}
}

func (c *castClient) request(t *testing.T, namespace, payload string) map[string]any {
	t.Helper()
	frame, err := EncodeFrame(&Message{
		ProtocolVersion: ProtocolVersionCastV2,
		SourceID:        "sender-0",
		DestinationID:   "receiver-0",
		Namespace:       namespace,
		PayloadType:     PayloadTypeString,
		PayloadUTF8:     payload,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_ = c.conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.conn.Write(frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	buf := make([]byte, 8192)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		msgs, err := c.dec.Feed(buf[:n])
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(msgs) > 0 {
			var reply map[string]any
			if err := json.Unmarshal([]byte(msgs[0].PayloadUTF8), &reply); err != nil {
				t.Fatalf("reply payload: %v", err)
			}
			return reply
		}
	}
}

func startTestServer(t *testing.T, hooks Hooks) *Server {
	t.Helper()
	var issuer certgen.Issuer
	keyPEM, certPEM, err := issuer.Material()
	if err != nil {
		t.Fatalf("issue material: %v", err)
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		t.Fatalf("load key pair: %v", err)
	}

	srv := NewServer(ServerConfig{ListenAddr: "127.0.0.1:0", Certificate: cert}, hooks)
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

func TestServerHandshakeAndPing(t *testing.T) {
	srv := startTestServer(t, Hooks{})
	client := dialCast(t, srv.Addr().String())

	reply := client.request(t, NamespaceConnection, `{"type":"CONNECT","requestId":1}`)
	if reply["type"] != "CONNECTED" {
		t.Fatalf("type = %v, want CONNECTED", reply["type"])
	}

	reply = client.request(t, NamespaceHeartbeat, `{"type":"PING"}`)
	if reply["type"] != "PONG" {
		t.Fatalf("type = %v, want PONG", reply["type"])
	}
}

func TestServerSessionIsolation(t *testing.T) {
	srv := startTestServer(t, Hooks{OnMediaCommand: func(string, map[string]any) {}})

	c1 := dialCast(t, srv.Addr().String())
	c2 := dialCast(t, srv.Addr().String())

	// Drive only the first connection's media state forward.
	reply := c1.request(t, NamespaceMedia, `{"type":"LOAD","requestId":1,"media":{"contentId":"a","contentType":"video/mp4"}}`)
	status := reply["status"].([]any)[0].(map[string]any)
	if status["playerState"] != PlayerStatePlaying {
		t.Fatalf("c1 playerState = %v, want PLAYING", status["playerState"])
	}

	reply = c2.request(t, NamespaceMedia, `{"type":"GET_STATUS","requestId":1}`)
	status = reply["status"].([]any)[0].(map[string]any)
	if status["playerState"] != PlayerStateIdle {
		t.Fatalf("c2 playerState = %v, want IDLE (state leaked between sessions)", status["playerState"])
	}
	if status["mediaSessionId"] != float64(1) {
		t.Fatalf("c2 mediaSessionId = %v, want 1", status["mediaSessionId"])
	}

	// Each connection gets its own receiver session id.
	r1 := c1.request(t, NamespaceReceiver, `{"type":"GET_STATUS","requestId":2}`)
	r2 := c2.request(t, NamespaceReceiver, `{"type":"GET_STATUS","requestId":2}`)
	id1 := r1["status"].(map[string]any)["applications"].([]any)[0].(map[string]any)["sessionId"]
	id2 := r2["status"].(map[string]any)["applications"].([]any)[0].(map[string]any)["sessionId"]
	if id1 == id2 {
		t.Fatalf("sessions share id %v", id1)
	}
}

type acceptResult struct {
	conn net.Conn
	err  error
}

// scriptedListener plays back a fixed Accept sequence, then reports closed.
type scriptedListener struct {
	mu      sync.Mutex
	results []acceptResult
}

func (l *scriptedListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.results) == 0 {
		return nil, net.ErrClosed
	}
	r := l.results[0]
	l.results = l.results[1:]
	return r.conn, r.err
}

func (l *scriptedListener) Close() error   { return nil }
func (l *scriptedListener) Addr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }

func TestAcceptLoopSurvivesTransientError(t *testing.T) {
	srv := NewServer(ServerConfig{}, Hooks{})

	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { _ = clientConn.Close() })

	ln := &scriptedListener{results: []acceptResult{
		{err: errors.New("accept tcp: too many open files")},
		{conn: serverConn},
	}}
	srv.wg.Add(1)
	go srv.acceptLoop(ln)

	// The connection accepted after the error is fully served.
	frame, err := EncodeFrame(&Message{
		SourceID:      "sender-0",
		DestinationID: "receiver-0",
		Namespace:     NamespaceHeartbeat,
		PayloadType:   PayloadTypeString,
		PayloadUTF8:   `{"type":"PING"}`,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_ = clientConn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := clientConn.Write(frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	dec := &Decoder{}
	buf := make([]byte, 4096)
	for {
		n, err := clientConn.Read(buf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		msgs, err := dec.Feed(buf[:n])
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(msgs) > 0 {
			var reply map[string]any
			if err := json.Unmarshal([]byte(msgs[0].PayloadUTF8), &reply); err != nil {
				t.Fatalf("reply payload: %v", err)
			}
			if reply["type"] != "PONG" {
				t.Fatalf("type = %v, want PONG", reply["type"])
			}
			return
		}
	}
}

func TestServerTracksDisconnects(t *testing.T) {
	disconnects := make(chan string, 2)
	srv := startTestServer(t, Hooks{
		OnDisconnect: func(sessionID string) { disconnects <- sessionID },
	})

	client := dialCast(t, srv.Addr().String())
	client.request(t, NamespaceConnection, `{"type":"CONNECT","requestId":1}`)
	if n := srv.SessionCount(); n != 1 {
		t.Fatalf("SessionCount = %d, want 1", n)
	}

	_ = client.conn.Close()
	select {
	case <-disconnects:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect hook not fired")
	}

	deadline := time.Now().Add(2 * time.Second)
	for srv.SessionCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("SessionCount = %d, want 0 after disconnect", srv.SessionCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
