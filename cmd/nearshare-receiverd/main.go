// Command nearshare-receiverd is the Near Share receiver daemon: it loads
// its config, starts the CDP transport listener, and serves inbound
// connections until interrupted.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/junbin-yang/nearshare-go/pkg/cryptor"
	"github.com/junbin-yang/nearshare-go/pkg/nearshare/app"
	"github.com/junbin-yang/nearshare-go/pkg/nearshare/session"
	"github.com/junbin-yang/nearshare-go/pkg/platform"
	"github.com/junbin-yang/nearshare-go/pkg/transport"
	"github.com/junbin-yang/nearshare-go/pkg/utils/config"
	log "github.com/junbin-yang/nearshare-go/pkg/utils/logger"
)

// Daemon bundles the running server and its host behind Start/Shutdown,
// mirroring how this stack's other command-line entrypoints wrap their
// manager behind an Initialize/Shutdown pair.
type Daemon struct {
	cfg    *config.Config
	host   *session.Host
	server *transport.Server
}

// NewDaemon constructs a Daemon from cfg. Call Start to begin listening.
func NewDaemon(cfg *config.Config) *Daemon {
	return &Daemon{cfg: cfg}
}

// Start generates this run's device certificate, wires the application
// factory, and binds the transport listener.
func (d *Daemon) Start() error {
	cert, err := cryptor.GenerateSelfSignedCertificate(d.cfg.DeviceName)
	if err != nil {
		return fmt.Errorf("generating device certificate: %w", err)
	}

	handler := platform.NewDiskHandler(d.cfg.Receiver.StorageDir)
	d.host = session.NewHost(handler, cert)
	app.Register(d.host.Factory)

	d.server = transport.NewServer(d.host)
	if err := d.server.Listen(d.cfg.Receiver.ListenAddr); err != nil {
		return fmt.Errorf("starting transport listener: %w", err)
	}

	log.Infof("nearshare-receiverd: listening on %s, device=%s, storage=%s",
		d.server.Addr(), d.cfg.DeviceName, d.cfg.Receiver.StorageDir)
	return nil
}

// Shutdown stops the listener and waits for in-flight connections to drain.
func (d *Daemon) Shutdown() {
	log.Info("nearshare-receiverd: shutting down")
	if d.server != nil {
		if err := d.server.Close(); err != nil {
			log.Warnf("nearshare-receiverd: closing listener: %v", err)
		}
	}
	log.Sync()
}

func main() {
	cfg := config.Parse()

	d := NewDaemon(cfg)
	if err := d.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "nearshare-receiverd: %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	d.Shutdown()
}
