// Package bridge wires the Cast V2 listener, the display transport and the
// signaling relay into one running receiver instance.
package bridge

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/fauxcast/fauxcast/internal/castv2"
	"github.com/fauxcast/fauxcast/internal/certgen"
	"github.com/fauxcast/fauxcast/internal/config"
	"github.com/fauxcast/fauxcast/internal/display"
	"github.com/fauxcast/fauxcast/internal/logging"
	"github.com/fauxcast/fauxcast/internal/signaling"
)

var log = logging.L("bridge")

// Bridge owns the per-session callback maps that route display answers and
// candidates back onto the Cast connection that offered.
type Bridge struct {
	cfg    *config.Config
	issuer certgen.Issuer

	cast      *castv2.Server
	transport *display.Transport
	relay     *signaling.Relay

	mu sync.Mutex
	// answerCbs entries are one-shot: consumed on the first answer, so a
	// second answer for the same session is a map miss and a no-op.
	answerCbs map[string]func(sdp string) error
	// candidateCbs entries persist for the session's lifetime.
	candidateCbs map[string]func(candidate json.RawMessage) error
}

// New creates an unstarted bridge for cfg.
func New(cfg *config.Config) *Bridge {
	return &Bridge{
		cfg:          cfg,
		answerCbs:    make(map[string]func(string) error),
		candidateCbs: make(map[string]func(json.RawMessage) error),
	}
}

// Start issues the TLS material and brings up transport, relay and listener
// in dependency order. Bind and certificate failures are fatal.
func (b *Bridge) Start() error {
	keyPEM, certPEM, err := b.issuer.Material()
	if err != nil {
		return err
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return fmt.Errorf("bridge: load generated key pair: %w", err)
	}

	b.transport = display.NewTransport(display.TransportConfig{
		ListenAddr: fmt.Sprintf(":%d", b.cfg.DisplayPort),
	})
	b.relay = signaling.NewRelay(b.transport)

	b.transport.OnDisplayMessage(b.relay.HandleDisplayMessage)
	b.transport.OnDisplayMessage(logPlayerStatus)
	b.transport.OnSenderMessage(b.handleSenderMessage)

	b.relay.OnAnswerReady(b.deliverAnswer)
	b.relay.OnDisplayCandidate(b.deliverCandidate)

	b.cast = castv2.NewServer(castv2.ServerConfig{
		ListenAddr:  fmt.Sprintf(":%d", b.cfg.CastPort),
		Certificate: cert,
	}, castv2.Hooks{
		OnMediaCommand:  b.forwardMediaCommand,
		OnWebRTCOffer:   b.handleCastOffer,
		OnICECandidate:  b.handleCastCandidate,
		OnMirroringStop: b.handleMirroringStop,
		OnDisconnect:    b.handleCastDisconnect,
	})

	if err := b.transport.Start(); err != nil {
		return err
	}
	b.relay.Start()
	if err := b.cast.Start(); err != nil {
		_ = b.transport.Close()
		b.relay.Close()
		return err
	}

	log.Info("bridge started", "name", b.cfg.FriendlyName)
	return nil
}

// Stop tears the bridge down in reverse order.
func (b *Bridge) Stop() {
	if b.cast != nil {
		_ = b.cast.Stop()
	}
	if b.relay != nil {
		b.relay.Close()
	}
	if b.transport != nil {
		_ = b.transport.Close()
	}
	log.Info("bridge stopped")
}

// CastAddr returns the bound Cast listener address (nil before Start).
func (b *Bridge) CastAddr() net.Addr {
	if b.cast == nil {
		return nil
	}
	return b.cast.Addr()
}

// DisplayAddr returns the bound display transport address (nil before Start).
func (b *Bridge) DisplayAddr() net.Addr {
	if b.transport == nil {
		return nil
	}
	return b.transport.Addr()
}

func (b *Bridge) forwardMediaCommand(sessionID string, cmd map[string]any) {
	_ = b.transport.SendCommand(cmd)
}

func (b *Bridge) handleCastOffer(sessionID, sdp string, sendAnswer func(string) error, sendCandidate func(json.RawMessage) error) {
	b.mu.Lock()
	b.answerCbs[sessionID] = sendAnswer
	b.candidateCbs[sessionID] = sendCandidate
	b.mu.Unlock()

	b.relay.HandleOffer(sessionID, sdp, signaling.OriginCast)
}

func (b *Bridge) handleCastCandidate(sessionID string, candidate json.RawMessage) {
	b.relay.HandleSenderCandidate(sessionID, candidate)
}

func (b *Bridge) handleMirroringStop(sessionID string) {
	_ = b.transport.SendCommand(map[string]any{
		"type":      "mirror-stop",
		"sessionId": sessionID,
	})
	b.dropSession(sessionID)
}

func (b *Bridge) handleCastDisconnect(sessionID string) {
	b.dropSession(sessionID)
}

func (b *Bridge) dropSession(sessionID string) {
	b.relay.CloseSession(sessionID)
	b.mu.Lock()
	delete(b.answerCbs, sessionID)
	delete(b.candidateCbs, sessionID)
	b.mu.Unlock()
}

// deliverAnswer routes a display answer to the Cast connection that offered.
// The callback is one-shot.
func (b *Bridge) deliverAnswer(sessionID, sdp string) {
	b.mu.Lock()
	cb, ok := b.answerCbs[sessionID]
	if ok {
		delete(b.answerCbs, sessionID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	if err := cb(sdp); err != nil {
		log.Debug("answer delivery failed", logging.KeySession, sessionID, logging.KeyError, err)
	}
}

func (b *Bridge) deliverCandidate(sessionID string, candidate any) {
	b.mu.Lock()
	cb, ok := b.candidateCbs[sessionID]
	b.mu.Unlock()
	if !ok {
		return
	}
	raw, err := json.Marshal(candidate)
	if err != nil {
		return
	}
	if err := cb(raw); err != nil {
		log.Debug("candidate delivery failed", logging.KeySession, sessionID, logging.KeyError, err)
	}
}

// handleSenderMessage lets custom (non-Cast) senders drive signaling over
// the WebSocket transport directly.
func (b *Bridge) handleSenderMessage(senderID string, msg map[string]any) {
	msgType, _ := msg["type"].(string)
	sessionID, _ := msg["sessionId"].(string)
	if sessionID == "" {
		sessionID = senderID
	}

	switch msgType {
	case "webrtc-offer":
		sdp, _ := msg["sdp"].(string)
		if sdp == "" {
			return
		}
		b.relay.HandleOffer(sessionID, sdp, signaling.OriginCustom)
	case "ice-candidate":
		candidate, ok := msg["candidate"]
		if !ok || candidate == nil {
			return
		}
		b.relay.HandleSenderCandidate(sessionID, candidate)
	default:
		log.Debug("unhandled sender message", logging.KeySession, senderID, "type", msgType)
	}
}

// logPlayerStatus surfaces display playback state at debug level; the core
// otherwise ignores it.
func logPlayerStatus(msg map[string]any) {
	if state, ok := msg["playerState"].(string); ok {
		log.Debug("display status", "playerState", state,
			"currentTime", msg["currentTime"], "duration", msg["duration"])
	}
}
