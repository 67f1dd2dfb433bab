package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fauxcast/fauxcast/internal/bridge"
	"github.com/fauxcast/fauxcast/internal/config"
	"github.com/fauxcast/fauxcast/internal/discovery"
	"github.com/fauxcast/fauxcast/internal/logging"
)

var (
	version      = "0.1.0"
	cfgFile      string
	friendlyName string
)

var rootCmd = &cobra.Command{
	Use:   "fauxcast",
	Short: "Chromecast protocol bridge",
	Long:  `Fauxcast - makes a plain display appear as a Chromecast receiver on the local network`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bridge",
	Run: func(cmd *cobra.Command, args []string) {
		runBridge()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Fauxcast v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/fauxcast/fauxcast.yaml)")
	rootCmd.PersistentFlags().StringVar(&friendlyName, "name", "", "friendly name advertised to senders")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runBridge() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if friendlyName != "" {
		cfg.FriendlyName = friendlyName
	}

	logging.Init(cfg.LogFormat, cfg.LogLevel, nil)
	log := logging.L("main")

	for _, verr := range cfg.Validate() {
		log.Warn("config problem", logging.KeyError, verr)
	}

	b := bridge.New(cfg)
	if err := b.Start(); err != nil {
		log.Error("startup failed", logging.KeyError, err)
		os.Exit(1)
	}

	var dial *discovery.DialServer
	var mdns *discovery.MDNSAdvertiser
	if cfg.EnableDiscovery {
		deviceID := uuid.NewString()

		dial = discovery.NewDialServer(discovery.DialConfig{
			ListenAddr:   fmt.Sprintf(":%d", cfg.DialPort),
			FriendlyName: cfg.FriendlyName,
			UDN:          deviceID,
		})
		if err := dial.Start(); err != nil {
			log.Warn("dial server unavailable", logging.KeyError, err)
			dial = nil
		}

		mdns = discovery.NewMDNSAdvertiser(discovery.MDNSConfig{
			FriendlyName: cfg.FriendlyName,
			DeviceID:     deviceID,
			CastPort:     cfg.CastPort,
		})
		if err := mdns.Start(); err != nil {
			log.Warn("mdns advertisement unavailable", logging.KeyError, err)
			mdns = nil
		}
	}

	log.Info("fauxcast running", "version", version, "name", cfg.FriendlyName,
		"castPort", cfg.CastPort, "displayPort", cfg.DisplayPort)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
	if mdns != nil {
		mdns.Close()
	}
	if dial != nil {
		_ = dial.Close()
	}
	b.Stop()
}
