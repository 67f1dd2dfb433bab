// Package discovery advertises the bridge on the local network: a DIAL
// device-description HTTP endpoint and an mDNS _googlecast._tcp record.
// The protocol core never depends on this package being up.
package discovery

import (
	"encoding/xml"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/fauxcast/fauxcast/internal/logging"
)

var log = logging.L("discovery")

// DialConfig holds the DIAL HTTP server settings.
type DialConfig struct {
	ListenAddr   string
	FriendlyName string
	// UDN is the unique device name, normally derived from the device id.
	UDN string
}

func (c *DialConfig) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8008"
	}
	if c.FriendlyName == "" {
		c.FriendlyName = "Fauxcast"
	}
}

// DialServer serves the UPnP device description senders fetch before
// opening the Cast channel.
type DialServer struct {
	cfg DialConfig

	mu  sync.Mutex
	ln  net.Listener
	srv *http.Server
}

// NewDialServer creates a new, unstarted DIAL server.
func NewDialServer(cfg DialConfig) *DialServer {
	cfg.applyDefaults()
	return &DialServer{cfg: cfg}
}

// Start binds the HTTP listener.
func (d *DialServer) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ssdp/device-desc.xml", d.handleDeviceDesc)
	mux.HandleFunc("/apps/ChromeCast", d.handleAppStatus)

	ln, err := net.Listen("tcp", d.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("discovery: listen %s: %w", d.cfg.ListenAddr, err)
	}

	d.mu.Lock()
	d.ln = ln
	d.srv = &http.Server{Handler: mux}
	srv := d.srv
	d.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("dial serve error", logging.KeyError, err)
		}
	}()

	log.Info("dial server started", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address (nil if not started).
func (d *DialServer) Addr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ln == nil {
		return nil
	}
	return d.ln.Addr()
}

// Close shuts the HTTP server down.
func (d *DialServer) Close() error {
	d.mu.Lock()
	srv := d.srv
	d.srv = nil
	d.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Close()
}

type deviceDesc struct {
	XMLName     xml.Name        `xml:"root"`
	XMLNS       string          `xml:"xmlns,attr"`
	SpecVersion specVersion     `xml:"specVersion"`
	Device      deviceDescInner `xml:"device"`
}

type specVersion struct {
	Major int `xml:"major"`
	Minor int `xml:"minor"`
}

type deviceDescInner struct {
	DeviceType   string `xml:"deviceType"`
	FriendlyName string `xml:"friendlyName"`
	Manufacturer string `xml:"manufacturer"`
	ModelName    string `xml:"modelName"`
	UDN          string `xml:"UDN"`
}

func (d *DialServer) handleDeviceDesc(w http.ResponseWriter, r *http.Request) {
	desc := deviceDesc{
		XMLNS:       "urn:schemas-upnp-org:device-1-0",
		SpecVersion: specVersion{Major: 1, Minor: 0},
		Device: deviceDescInner{
			DeviceType:   "urn:dial-multiscreen-org:device:dial:1",
			FriendlyName: d.cfg.FriendlyName,
			Manufacturer: "Fauxcast",
			ModelName:    "Eureka Dongle",
			UDN:          "uuid:" + d.cfg.UDN,
		},
	}

	body, err := xml.Marshal(desc)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Application-URL", fmt.Sprintf("http://%s/apps", r.Host))
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(body)
}

func (d *DialServer) handleAppStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/xml")
	_, _ = fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<service xmlns="urn:dial-multiscreen-org:schemas:dial">
  <name>ChromeCast</name>
  <options allowStop="true"/>
  <state>running</state>
</service>
`)
}
