// Package signaling brokers WebRTC offers, answers and ICE candidates
// between Cast senders (or custom WebSocket senders) and the display.
// Sessions are keyed by an opaque id; sender candidates are buffered until
// the display answers, because the display's PeerConnection cannot accept
// candidates before setRemoteDescription.
package signaling

import (
	"sync"
	"time"

	"github.com/pion/sdp/v3"

	"github.com/fauxcast/fauxcast/internal/logging"
	"github.com/fauxcast/fauxcast/internal/metrics"
)

var log = logging.L("signaling")

const (
	reapInterval = 15 * time.Second
	sessionTTL   = 60 * time.Second
)

// Origin tags which transport a session was created from.
type Origin string

const (
	OriginCast   Origin = "cast"
	OriginCustom Origin = "custom"
)

// CommandSender is the slice of the display transport the relay writes to.
type CommandSender interface {
	SendCommand(cmd map[string]any) error
}

type session struct {
	offer  string
	answer string
	// pending holds sender candidates in arrival order until the display
	// answers. flushing keeps late arrivals on the buffered path while the
	// drain in handleAnswer is mid-flight, so they cannot overtake it.
	pending      []any
	flushing     bool
	origin       Origin
	lastActivity time.Time
}

// Relay owns the signaling session map. All map and session mutation
// happens under one lock; callbacks and display writes run outside it.
type Relay struct {
	out CommandSender

	mu       sync.Mutex
	sessions map[string]*session

	answerCbs    []func(sessionID, sdp string)
	candidateCbs []func(sessionID string, candidate any)

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewRelay creates a relay writing display-bound messages to out.
func NewRelay(out CommandSender) *Relay {
	return &Relay{
		out:      out,
		sessions: make(map[string]*session),
		done:     make(chan struct{}),
	}
}

// Start launches the stale-session reaper.
func (r *Relay) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(reapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.done:
				return
			case <-ticker.C:
				r.reapOnce(time.Now())
			}
		}
	}()
}

// Close stops the reaper and drops all sessions with their buffers.
func (r *Relay) Close() {
	r.closeOnce.Do(func() { close(r.done) })
	r.wg.Wait()

	r.mu.Lock()
	r.sessions = make(map[string]*session)
	r.mu.Unlock()
	metrics.SetSignalingSessions(0)
}

// OnAnswerReady registers a callback fired after a display answer has been
// stored and the session's candidate buffer flushed.
func (r *Relay) OnAnswerReady(cb func(sessionID, sdp string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answerCbs = append(r.answerCbs, cb)
}

// OnDisplayCandidate registers a callback for display-side ICE candidates.
func (r *Relay) OnDisplayCandidate(cb func(sessionID string, candidate any)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.candidateCbs = append(r.candidateCbs, cb)
}

// SessionCount returns the number of live sessions.
func (r *Relay) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// HandleOffer creates or refreshes the session and forwards the offer to
// the display. Repeated offers for the same id overwrite the stored offer.
func (r *Relay) HandleOffer(sessionID, offerSDP string, origin Origin) {
	checkSDP(sessionID, "offer", offerSDP)

	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		sess = &session{}
		r.sessions[sessionID] = sess
	}
	sess.offer = offerSDP
	sess.origin = origin
	sess.lastActivity = time.Now()
	count := len(r.sessions)
	r.mu.Unlock()
	metrics.SetSignalingSessions(count)

	log.Info("offer received", logging.KeySession, sessionID, "origin", string(origin))
	_ = r.out.SendCommand(map[string]any{
		"type":      "webrtc-offer",
		"sessionId": sessionID,
		"sdp":       offerSDP,
	})
}

// HandleSenderCandidate forwards the candidate immediately once the display
// has answered; before that it is queued in arrival order. Candidates for
// unknown sessions are dropped silently.
func (r *Relay) HandleSenderCandidate(sessionID string, candidate any) {
	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		log.Debug("candidate for unknown session", logging.KeySession, sessionID)
		return
	}
	sess.lastActivity = time.Now()
	if sess.answer == "" || sess.flushing {
		sess.pending = append(sess.pending, candidate)
		r.mu.Unlock()
		metrics.IncBufferedCandidate()
		return
	}
	r.mu.Unlock()

	r.forwardCandidate(sessionID, candidate)
}

// HandleDisplayMessage consumes the display message stream, reacting to
// webrtc-answer and ice-candidate. Anything else is ignored here.
func (r *Relay) HandleDisplayMessage(msg map[string]any) {
	msgType, _ := msg["type"].(string)
	switch msgType {
	case "webrtc-answer":
		sessionID, _ := msg["sessionId"].(string)
		answerSDP, _ := msg["sdp"].(string)
		if sessionID == "" || answerSDP == "" {
			return
		}
		r.handleAnswer(sessionID, answerSDP)
	case "ice-candidate":
		sessionID, _ := msg["sessionId"].(string)
		candidate, ok := msg["candidate"]
		if sessionID == "" || !ok || candidate == nil {
			return
		}
		r.touch(sessionID)
		r.mu.Lock()
		cbs := append([]func(string, any){}, r.candidateCbs...)
		r.mu.Unlock()
		for _, cb := range cbs {
			cb(sessionID, candidate)
		}
	}
}

func (r *Relay) handleAnswer(sessionID, answerSDP string) {
	checkSDP(sessionID, "answer", answerSDP)

	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		log.Debug("answer for unknown session", logging.KeySession, sessionID)
		return
	}
	sess.answer = answerSDP
	sess.lastActivity = time.Now()
	sess.flushing = true
	buffered := len(sess.pending)
	cbs := append([]func(string, string){}, r.answerCbs...)

	// Drain until empty: candidates that arrive while a batch is being
	// forwarded land back in pending and go out in the next batch, keeping
	// per-session arrival order across the buffered and immediate paths.
	for len(sess.pending) > 0 {
		batch := sess.pending
		sess.pending = nil
		r.mu.Unlock()
		for _, candidate := range batch {
			r.forwardCandidate(sessionID, candidate)
		}
		r.mu.Lock()
	}
	sess.flushing = false
	r.mu.Unlock()

	log.Info("answer received", logging.KeySession, sessionID, "buffered", buffered)
	for _, cb := range cbs {
		cb(sessionID, answerSDP)
	}
}

// CloseSession removes the session; buffered candidates are dropped.
func (r *Relay) CloseSession(sessionID string) {
	r.mu.Lock()
	_, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	count := len(r.sessions)
	r.mu.Unlock()

	if ok {
		metrics.SetSignalingSessions(count)
		log.Info("session closed", logging.KeySession, sessionID)
	}
}

func (r *Relay) forwardCandidate(sessionID string, candidate any) {
	_ = r.out.SendCommand(map[string]any{
		"type":      "ice-candidate",
		"sessionId": sessionID,
		"candidate": candidate,
	})
}

func (r *Relay) touch(sessionID string) {
	r.mu.Lock()
	if sess, ok := r.sessions[sessionID]; ok {
		sess.lastActivity = time.Now()
	}
	r.mu.Unlock()
}

// reapOnce deletes sessions idle past the TTL.
func (r *Relay) reapOnce(now time.Time) {
	r.mu.Lock()
	var reaped []string
	for id, sess := range r.sessions {
		if now.Sub(sess.lastActivity) > sessionTTL {
			reaped = append(reaped, id)
			delete(r.sessions, id)
		}
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if len(reaped) > 0 {
		metrics.SetSignalingSessions(count)
		for _, id := range reaped {
			log.Info("reaped stale session", logging.KeySession, id)
		}
	}
}

// checkSDP parses the description for visibility only; the display owns
// the final verdict, so a malformed description is still forwarded.
func checkSDP(sessionID, kind, raw string) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		log.Debug("unparseable "+kind+" sdp", logging.KeySession, sessionID, logging.KeyError, err)
	}
}
