// Package display runs the WebSocket side of the bridge: one display slot
// for the TV renderer plus any number of mirroring senders. Outbound
// commands are a single-writer broadcast to the display; sender traffic
// fans in through registered callbacks.
package display

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fauxcast/fauxcast/internal/logging"
	"github.com/fauxcast/fauxcast/internal/metrics"
)

var log = logging.L("display")

const (
	writeWait       = 10 * time.Second
	heartbeatPeriod = 30 * time.Second
	maxMessageSize  = 64 * 1024
)

// TransportConfig holds the WebSocket server configuration.
type TransportConfig struct {
	ListenAddr string
}

func (c *TransportConfig) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8010"
	}
}

// client is one accepted WebSocket connection. senderID is empty until the
// connection identifies itself with a sender-hello message.
type client struct {
	conn     *websocket.Conn
	writeMu  sync.Mutex
	alive    bool
	senderID string
}

func (c *client) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) closeNormal() {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	c.writeMu.Unlock()
	_ = c.conn.Close()
}

// Transport is the WebSocket server. The display slot and sender map are
// only ever mutated here, under a single lock; external packages interact
// through SendCommand and the On* registrations.
type Transport struct {
	cfg      TransportConfig
	upgrader websocket.Upgrader

	mu      sync.Mutex
	display *client
	senders map[string]*client
	clients map[*client]struct{}

	displayCbs []func(msg map[string]any)
	senderCbs  []func(senderID string, msg map[string]any)

	ln      net.Listener
	httpSrv *http.Server
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewTransport creates a new, unstarted Transport.
func NewTransport(cfg TransportConfig) *Transport {
	cfg.applyDefaults()
	return &Transport{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  maxMessageSize,
			WriteBufferSize: maxMessageSize,
			// Display and senders are LAN peers, not browsers with an origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		senders: make(map[string]*client),
		clients: make(map[*client]struct{}),
		done:    make(chan struct{}),
	}
}

// OnDisplayMessage registers a callback for every message from the display
// slot (player status, webrtc answers, display ICE candidates).
func (t *Transport) OnDisplayMessage(cb func(msg map[string]any)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.displayCbs = append(t.displayCbs, cb)
}

// OnSenderMessage registers a callback for messages from identified senders.
func (t *Transport) OnSenderMessage(cb func(senderID string, msg map[string]any)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.senderCbs = append(t.senderCbs, cb)
}

// Start binds the listener and begins serving upgrades and heartbeats.
func (t *Transport) Start() error {
	ln, err := net.Listen("tcp", t.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("display: listen %s: %w", t.cfg.ListenAddr, err)
	}
	t.ln = ln
	t.httpSrv = &http.Server{Handler: t}

	t.wg.Add(2)
	go func() {
		defer t.wg.Done()
		if err := t.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("serve error", logging.KeyError, err)
		}
	}()
	go t.heartbeatLoop()

	log.Info("display transport started", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound listener address (nil if not started).
func (t *Transport) Addr() net.Addr {
	if t.ln == nil {
		return nil
	}
	return t.ln.Addr()
}

// ServeHTTP upgrades the connection and provisionally assigns it to the
// display slot; a later sender-hello reclassifies it.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug("upgrade failed", logging.KeyRemote, r.RemoteAddr, logging.KeyError, err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	c := &client{conn: conn, alive: true}
	conn.SetPongHandler(func(string) error {
		t.mu.Lock()
		c.alive = true
		t.mu.Unlock()
		return nil
	})

	t.mu.Lock()
	prior := t.display
	t.display = c
	t.clients[c] = struct{}{}
	t.mu.Unlock()

	if prior != nil {
		prior.closeNormal()
	}

	log.Info("client connected", logging.KeyRemote, conn.RemoteAddr().String())
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.readLoop(c)
	}()
}

func (t *Transport) readLoop(c *client) {
	defer t.removeClient(c)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		t.handleMessage(c, raw)
	}
}

func (t *Transport) handleMessage(c *client, raw []byte) {
	var msg map[string]any
	if err := json.Unmarshal(raw, &msg); err != nil || msg == nil {
		log.Debug("malformed client json", logging.KeyError, err)
		return
	}

	msgType, _ := msg["type"].(string)
	if msgType == "sender-hello" {
		senderID, _ := msg["sessionId"].(string)
		if senderID == "" {
			log.Debug("sender-hello without session id ignored")
			return
		}
		t.mu.Lock()
		if t.display == c {
			t.display = nil
		}
		c.senderID = senderID
		t.senders[senderID] = c
		t.mu.Unlock()
		log.Info("client identified as sender", logging.KeySession, senderID)
		return
	}

	t.mu.Lock()
	senderID := c.senderID
	displayCbs := append([]func(map[string]any){}, t.displayCbs...)
	senderCbs := append([]func(string, map[string]any){}, t.senderCbs...)
	t.mu.Unlock()

	if senderID != "" {
		for _, cb := range senderCbs {
			cb(senderID, msg)
		}
		return
	}
	for _, cb := range displayCbs {
		cb(msg)
	}
}

// SendCommand serializes cmd and writes it to the display. When no display
// is connected the command is dropped silently: command loss is preferred
// over failing the sender-facing operation.
func (t *Transport) SendCommand(cmd map[string]any) error {
	cmdType, _ := cmd["type"].(string)

	t.mu.Lock()
	d := t.display
	t.mu.Unlock()
	if d == nil {
		metrics.IncDisplayCommand(cmdType, false)
		log.Debug("no display connected, dropping command", "type", cmdType)
		return nil
	}

	if err := d.writeJSON(cmd); err != nil {
		metrics.IncDisplayCommand(cmdType, false)
		log.Warn("display write failed", logging.KeyError, err)
		t.removeClient(d)
		return nil
	}
	metrics.IncDisplayCommand(cmdType, true)
	return nil
}

// heartbeatLoop runs one sweep per period.
func (t *Transport) heartbeatLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}
		t.sweepOnce()
	}
}

// sweepOnce terminates clients that never answered the previous ping and
// pings the rest. A client that misses one full period is considered gone.
func (t *Transport) sweepOnce() {
	t.mu.Lock()
	var stale, live []*client
	var staleIDs []string
	for c := range t.clients {
		if !c.alive {
			stale = append(stale, c)
			staleIDs = append(staleIDs, c.senderID)
			continue
		}
		c.alive = false
		live = append(live, c)
	}
	t.mu.Unlock()

	for i, c := range stale {
		log.Info("terminating unresponsive client", logging.KeySession, staleIDs[i])
		_ = c.conn.Close()
	}
	for _, c := range live {
		_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
	}
}

func (t *Transport) removeClient(c *client) {
	t.mu.Lock()
	if _, ok := t.clients[c]; !ok {
		t.mu.Unlock()
		return
	}
	delete(t.clients, c)
	if t.display == c {
		t.display = nil
	}
	if c.senderID != "" && t.senders[c.senderID] == c {
		delete(t.senders, c.senderID)
	}
	t.mu.Unlock()
	_ = c.conn.Close()
}

// Close stops the heartbeat, shuts the server down and closes every client.
func (t *Transport) Close() error {
	select {
	case <-t.done:
		return nil
	default:
		close(t.done)
	}

	if t.httpSrv != nil {
		_ = t.httpSrv.Close()
	}

	t.mu.Lock()
	clients := make([]*client, 0, len(t.clients))
	for c := range t.clients {
		clients = append(clients, c)
	}
	t.clients = make(map[*client]struct{})
	t.display = nil
	t.senders = make(map[string]*client)
	t.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.Close()
	}
	t.wg.Wait()
	log.Info("display transport stopped")
	return nil
}
