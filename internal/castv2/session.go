package castv2

import (
	"encoding/json"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/fauxcast/fauxcast/internal/logging"
	"github.com/fauxcast/fauxcast/internal/metrics"
)

var log = logging.L("castv2")

// Hooks are the outward-facing callbacks a session fires. All of them are
// optional; a nil hook means the event is dropped.
type Hooks struct {
	// OnMediaCommand receives the external command a media/receiver
	// operation produced ("load", "play", "pause", "seek", "stop",
	// "volume"), ready to forward to the display.
	OnMediaCommand func(sessionID string, cmd map[string]any)

	// OnWebRTCOffer receives a mirroring offer. sendAnswer and
	// sendCandidate write ANSWER / ICE_CANDIDATE frames back on the
	// originating connection; they capture only the write path and the
	// addressing of the OFFER, never the session itself.
	OnWebRTCOffer func(sessionID, sdp string, sendAnswer func(sdp string) error, sendCandidate func(candidate json.RawMessage) error)

	// OnICECandidate receives a sender-side ICE candidate.
	OnICECandidate func(sessionID string, candidate json.RawMessage)

	// OnMirroringStop fires when the sender ends a remoting session.
	OnMirroringStop func(sessionID string)

	// OnDisconnect fires exactly once when the connection goes away.
	OnDisconnect func(sessionID string)
}

// Session drives one accepted Cast V2 connection. It owns its media state
// outright: every mutation happens on the connection's read goroutine.
type Session struct {
	conn  net.Conn
	hooks Hooks

	sessionID   string
	transportID string

	writeMu sync.Mutex

	// Media state, created on accept and destroyed on disconnect.
	mediaSessionID int
	media          *MediaInfo
	currentTime    float64
	playerState    string
	volume         Volume
}

func newSession(conn net.Conn, hooks Hooks) *Session {
	id := uuid.NewString()
	return &Session{
		conn:           conn,
		hooks:          hooks,
		sessionID:      id,
		transportID:    "transport-" + id[:8],
		mediaSessionID: 1,
		playerState:    PlayerStateIdle,
		volume:         defaultVolume(),
	}
}

// ID returns the receiver session id minted at accept time.
func (s *Session) ID() string { return s.sessionID }

// run reads frames until the connection dies. Socket errors are expected
// (senders disconnect at will) and are not propagated.
func (s *Session) run() {
	defer func() {
		_ = s.conn.Close()
		if s.hooks.OnDisconnect != nil {
			s.hooks.OnDisconnect(s.sessionID)
		}
	}()

	dec := &Decoder{}
	buf := make([]byte, 4096)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			msgs, derr := dec.Feed(buf[:n])
			for _, m := range msgs {
				s.dispatch(m)
			}
			if derr != nil {
				log.Warn("oversized frame, destroying connection",
					logging.KeySession, s.sessionID, logging.KeyError, derr)
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) dispatch(m *Message) {
	if m.PayloadType != PayloadTypeString {
		return
	}
	metrics.IncCastMessage(m.Namespace)

	switch m.Namespace {
	case NamespaceConnection:
		s.handleConnection(m)
	case NamespaceHeartbeat:
		s.handleHeartbeat(m)
	case NamespaceReceiver:
		s.handleReceiver(m)
	case NamespaceMedia:
		s.handleMedia(m)
	case NamespaceWebRTC:
		s.handleWebRTC(m)
	case NamespaceRemoting:
		s.handleRemoting(m)
	default:
		log.Debug("unknown namespace", logging.KeySession, s.sessionID,
			logging.KeyNamespace, m.Namespace)
	}
}

// decodePayload parses the JSON payload into v. A malformed payload is
// treated as an empty object so dispatch continues into the default case.
func (s *Session) decodePayload(m *Message, v any) {
	if m.PayloadUTF8 == "" {
		return
	}
	if err := json.Unmarshal([]byte(m.PayloadUTF8), v); err != nil {
		log.Debug("malformed payload json", logging.KeySession, s.sessionID,
			logging.KeyNamespace, m.Namespace, logging.KeyError, err)
	}
}

// reply sends payload on the request's namespace with source and
// destination swapped.
func (s *Session) reply(req *Message, payload any) error {
	return s.writeJSON(req.Namespace, req.DestinationID, req.SourceID, payload)
}

func (s *Session) writeJSON(namespace, src, dst string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := EncodeFrame(&Message{
		ProtocolVersion: ProtocolVersionCastV2,
		SourceID:        src,
		DestinationID:   dst,
		Namespace:       namespace,
		PayloadType:     PayloadTypeString,
		PayloadUTF8:     string(body),
	})
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = s.conn.Write(frame)
	return err
}

func (s *Session) handleConnection(m *Message) {
	var req connectionRequest
	s.decodePayload(m, &req)

	switch req.Type {
	case "CONNECT":
		_ = s.reply(m, connectedReply{Type: "CONNECTED", RequestID: req.RequestID})
	case "CLOSE":
		// Let TCP tear down naturally; no reply.
	default:
		log.Debug("unknown connection type", logging.KeySession, s.sessionID, "type", req.Type)
	}
}

func (s *Session) handleHeartbeat(m *Message) {
	var req heartbeatRequest
	s.decodePayload(m, &req)

	if req.Type == "PING" {
		_ = s.reply(m, pongReply{Type: "PONG"})
	}
}

func (s *Session) receiverStatus() ReceiverStatus {
	return ReceiverStatus{
		Applications: []Application{{
			AppID:        defaultAppID,
			DisplayName:  "Default Media Receiver",
			IsIdleScreen: false,
			SessionID:    s.sessionID,
			StatusText:   "Ready To Cast",
			TransportID:  s.transportID,
			Namespaces: []NamespaceName{
				{Name: NamespaceMedia},
				{Name: NamespaceWebRTC},
				{Name: NamespaceRemoting},
				{Name: NamespaceDebug},
			},
		}},
		Volume: s.volume,
	}
}

func (s *Session) handleReceiver(m *Message) {
	var req receiverRequest
	s.decodePayload(m, &req)

	switch req.Type {
	case "GET_STATUS", "LAUNCH":
		_ = s.reply(m, receiverStatusReply{
			Type:      "RECEIVER_STATUS",
			RequestID: req.RequestID,
			Status:    s.receiverStatus(),
		})
	case "STOP":
		s.playerState = PlayerStateIdle
		s.media = nil
		_ = s.reply(m, receiverStatusReply{
			Type:      "RECEIVER_STATUS",
			RequestID: req.RequestID,
			Status:    s.receiverStatus(),
		})
		s.emitMediaCommand(map[string]any{"type": "stop", "requestId": req.RequestID})
	default:
		log.Debug("unknown receiver type", logging.KeySession, s.sessionID, "type", req.Type)
	}
}

func (s *Session) mediaStatus() []MediaStatus {
	return []MediaStatus{{
		MediaSessionID:         s.mediaSessionID,
		PlaybackRate:           1,
		PlayerState:            s.playerState,
		CurrentTime:            s.currentTime,
		SupportedMediaCommands: supportedMediaCommands,
		Volume:                 s.volume,
		Media:                  s.media,
	}}
}

func (s *Session) handleMedia(m *Message) {
	var req mediaRequest
	s.decodePayload(m, &req)

	var cmd map[string]any
	switch req.Type {
	case "GET_STATUS":
		// Status-only; no state change, no external command.
	case "LOAD":
		if req.Media != nil {
			s.media = &MediaInfo{
				ContentID:   req.Media.ContentID,
				ContentType: req.Media.ContentType,
				StreamType:  req.Media.StreamType,
			}
		}
		s.playerState = PlayerStatePlaying
		s.currentTime = 0
		if req.CurrentTime != nil {
			s.currentTime = *req.CurrentTime
		}
		s.mediaSessionID++
		cmd = map[string]any{"type": "load", "currentTime": s.currentTime, "requestId": req.RequestID}
		if s.media != nil {
			cmd["url"] = s.media.ContentID
			cmd["contentType"] = s.media.ContentType
		}
	case "PLAY":
		s.playerState = PlayerStatePlaying
		cmd = map[string]any{"type": "play", "requestId": req.RequestID}
	case "PAUSE":
		s.playerState = PlayerStatePaused
		cmd = map[string]any{"type": "pause", "requestId": req.RequestID}
	case "SEEK":
		s.currentTime = 0
		if req.CurrentTime != nil {
			s.currentTime = *req.CurrentTime
		}
		cmd = map[string]any{"type": "seek", "currentTime": s.currentTime, "requestId": req.RequestID}
	case "STOP":
		s.playerState = PlayerStateIdle
		s.media = nil
		cmd = map[string]any{"type": "stop", "requestId": req.RequestID}
	case "SET_VOLUME", "VOLUME":
		if req.Volume != nil {
			if req.Volume.Level != nil {
				s.volume.Level = *req.Volume.Level
			}
			if req.Volume.Muted != nil {
				s.volume.Muted = *req.Volume.Muted
			}
		}
		cmd = map[string]any{"type": "volume", "volume": s.volume.Level, "requestId": req.RequestID}
	default:
		log.Debug("unknown media type", logging.KeySession, s.sessionID, "type", req.Type)
		return
	}

	_ = s.reply(m, mediaStatusReply{
		Type:      "MEDIA_STATUS",
		RequestID: req.RequestID,
		Status:    s.mediaStatus(),
	})
	if cmd != nil {
		s.emitMediaCommand(cmd)
	}
}

func (s *Session) handleWebRTC(m *Message) {
	var req webrtcRequest
	s.decodePayload(m, &req)

	switch req.Type {
	case "OFFER":
		if s.hooks.OnWebRTCOffer == nil || req.Offer == nil {
			return
		}
		seqNum := req.SeqNum
		src, dst := m.DestinationID, m.SourceID
		sendAnswer := func(sdp string) error {
			return s.writeJSON(NamespaceWebRTC, src, dst, webrtcAnswerReply{
				Type:   "ANSWER",
				SeqNum: seqNum,
				Answer: sdpBody{SDP: sdp},
			})
		}
		sendCandidate := func(candidate json.RawMessage) error {
			return s.writeJSON(NamespaceWebRTC, src, dst, webrtcCandidateReply{
				Type:      "ICE_CANDIDATE",
				SeqNum:    seqNum,
				Candidate: candidate,
			})
		}
		s.hooks.OnWebRTCOffer(s.sessionID, req.Offer.SDP, sendAnswer, sendCandidate)
	case "ICE_CANDIDATE":
		if s.hooks.OnICECandidate != nil && len(req.Candidate) > 0 && string(req.Candidate) != "null" {
			s.hooks.OnICECandidate(s.sessionID, req.Candidate)
		}
	default:
		log.Debug("unknown webrtc type", logging.KeySession, s.sessionID, "type", req.Type)
	}
}

func (s *Session) handleRemoting(m *Message) {
	var req remotingRequest
	s.decodePayload(m, &req)

	switch req.Type {
	case "SETUP":
		_ = s.reply(m, remotingReply{Type: "SETUP_OK", RequestID: req.RequestID})
	case "START":
		_ = s.reply(m, remotingReply{Type: "START_OK", RequestID: req.RequestID})
	case "STOP":
		_ = s.reply(m, remotingReply{Type: "STOP_OK", RequestID: req.RequestID})
		if s.hooks.OnMirroringStop != nil {
			s.hooks.OnMirroringStop(s.sessionID)
		}
	default:
		log.Debug("unknown remoting type", logging.KeySession, s.sessionID, "type", req.Type)
	}
}

func (s *Session) emitMediaCommand(cmd map[string]any) {
	if s.hooks.OnMediaCommand != nil {
		s.hooks.OnMediaCommand(s.sessionID, cmd)
	}
}
