package discovery

import (
	"fmt"
	"strings"

	"github.com/libp2p/zeroconf/v2"
)

// MDNSConfig holds the _googlecast._tcp advertisement settings.
type MDNSConfig struct {
	FriendlyName string
	DeviceID     string // UUID string; dashes are stripped for the id record
	CastPort     int
}

// MDNSAdvertiser publishes the googlecast service record senders browse for.
type MDNSAdvertiser struct {
	cfg    MDNSConfig
	server *zeroconf.Server
}

// NewMDNSAdvertiser creates a new, unstarted advertiser.
func NewMDNSAdvertiser(cfg MDNSConfig) *MDNSAdvertiser {
	return &MDNSAdvertiser{cfg: cfg}
}

// Start registers the service on all multicast-capable interfaces.
func (a *MDNSAdvertiser) Start() error {
	id := strings.ReplaceAll(a.cfg.DeviceID, "-", "")
	txt := []string{
		"id=" + id,
		"fn=" + a.cfg.FriendlyName,
		"md=Fauxcast",
		"rs=",
		"st=0",
		"ca=4101",
		"ve=05",
	}

	instance := a.cfg.FriendlyName + "-" + id
	server, err := zeroconf.Register(instance, "_googlecast._tcp", "local.", a.cfg.CastPort, txt, nil)
	if err != nil {
		return fmt.Errorf("discovery: mdns register: %w", err)
	}
	a.server = server

	log.Info("mdns advertisement started", "instance", instance, "port", a.cfg.CastPort)
	return nil
}

// Close withdraws the advertisement.
func (a *MDNSAdvertiser) Close() {
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}
