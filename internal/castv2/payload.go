package castv2

import "encoding/json"

// Namespace URN strings routed by the per-connection dispatcher.
const (
	NamespaceConnection = "urn:x-cast:com.google.cast.tp.connection"
	NamespaceHeartbeat  = "urn:x-cast:com.google.cast.tp.heartbeat"
	NamespaceReceiver   = "urn:x-cast:com.google.cast.receiver"
	NamespaceMedia      = "urn:x-cast:com.google.cast.media"
	NamespaceWebRTC     = "urn:x-cast:com.google.cast.webrtc"
	NamespaceRemoting   = "urn:x-cast:com.google.cast.remoting"
	NamespaceDebug      = "urn:x-cast:com.google.cast.debugoverlay"
)

// defaultAppID is the Default Media Receiver every generic sender targets.
const defaultAppID = "CC1AD845"

// supportedMediaCommands is the fixed capability bitmask advertised in
// every media status (pause/seek/volume/mute/skip bits).
const supportedMediaCommands = 0x7F

// Inbound payload variants, one per namespace. The JSON inside payloadUtf8
// is schemaless at the protobuf layer; each dispatcher decodes the concrete
// fields it needs and falls through silently on anything unknown.

type connectionRequest struct {
	Type      string `json:"type"`
	RequestID int    `json:"requestId"`
}

type heartbeatRequest struct {
	Type string `json:"type"`
}

type receiverRequest struct {
	Type      string `json:"type"`
	RequestID int    `json:"requestId"`
}

type mediaRequest struct {
	Type        string         `json:"type"`
	RequestID   int            `json:"requestId"`
	Media       *MediaInfo     `json:"media"`
	CurrentTime *float64       `json:"currentTime"`
	Volume      *volumeRequest `json:"volume"`
}

type volumeRequest struct {
	Level *float64 `json:"level"`
	Muted *bool    `json:"muted"`
}

type webrtcRequest struct {
	Type      string          `json:"type"`
	SeqNum    int             `json:"seqNum"`
	Offer     *sdpBody        `json:"offer"`
	Candidate json.RawMessage `json:"candidate"`
}

type sdpBody struct {
	SDP string `json:"sdp"`
}

type remotingRequest struct {
	Type      string `json:"type"`
	RequestID int    `json:"requestId"`
}

// Reply payloads.

type connectedReply struct {
	Type      string `json:"type"`
	RequestID int    `json:"requestId"`
}

type pongReply struct {
	Type string `json:"type"`
}

type receiverStatusReply struct {
	Type      string         `json:"type"`
	RequestID int            `json:"requestId"`
	Status    ReceiverStatus `json:"status"`
}

type mediaStatusReply struct {
	Type      string        `json:"type"`
	RequestID int           `json:"requestId"`
	Status    []MediaStatus `json:"status"`
}

type webrtcAnswerReply struct {
	Type   string  `json:"type"`
	SeqNum int     `json:"seqNum"`
	Answer sdpBody `json:"answer"`
}

type webrtcCandidateReply struct {
	Type      string          `json:"type"`
	SeqNum    int             `json:"seqNum"`
	Candidate json.RawMessage `json:"candidate"`
}

type remotingReply struct {
	Type      string `json:"type"`
	RequestID int    `json:"requestId"`
}

// ReceiverStatus describes the fictitious running application presented to
// senders: the Default Media Receiver with a stable session and transport id.
type ReceiverStatus struct {
	Applications []Application `json:"applications"`
	Volume       Volume        `json:"volume"`
}

// Application is one entry of ReceiverStatus.Applications.
type Application struct {
	AppID        string          `json:"appId"`
	DisplayName  string          `json:"displayName"`
	IsIdleScreen bool            `json:"isIdleScreen"`
	SessionID    string          `json:"sessionId"`
	StatusText   string          `json:"statusText"`
	TransportID  string          `json:"transportId"`
	Namespaces   []NamespaceName `json:"namespaces"`
}

// NamespaceName wraps a namespace URN in the {"name": ...} shape senders expect.
type NamespaceName struct {
	Name string `json:"name"`
}

// Volume is the receiver/media volume block.
type Volume struct {
	ControlType  string  `json:"controlType"`
	Level        float64 `json:"level"`
	Muted        bool    `json:"muted"`
	StepInterval float64 `json:"stepInterval"`
}

// MediaInfo describes the loaded media item.
type MediaInfo struct {
	ContentID   string `json:"contentId"`
	ContentType string `json:"contentType"`
	StreamType  string `json:"streamType"`
}

// MediaStatus is the sole element of every MEDIA_STATUS status array.
type MediaStatus struct {
	MediaSessionID         int        `json:"mediaSessionId"`
	PlaybackRate           float64    `json:"playbackRate"`
	PlayerState            string     `json:"playerState"`
	CurrentTime            float64    `json:"currentTime"`
	SupportedMediaCommands int        `json:"supportedMediaCommands"`
	Volume                 Volume     `json:"volume"`
	Media                  *MediaInfo `json:"media,omitempty"`
}

// Player states reported in media status entries.
const (
	PlayerStateIdle      = "IDLE"
	PlayerStatePlaying   = "PLAYING"
	PlayerStatePaused    = "PAUSED"
	PlayerStateBuffering = "BUFFERING"
)

func defaultVolume() Volume {
	return Volume{
		ControlType:  "attenuation",
		Level:        1.0,
		Muted:        false,
		StepInterval: 0.05,
	}
}
