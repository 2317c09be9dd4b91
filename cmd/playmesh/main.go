// Command playmesh is the CLI entry point for one peer in a playback
// group: it loads configuration, wires an instance.Instance over the
// configured transport, and optionally serves the debug status
// endpoint and the observability websocket.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	logging "github.com/ipfs/go-log/v2"

	"playmesh/internal/config"
	"playmesh/internal/coordinator"
	"playmesh/internal/debugapi"
	"playmesh/internal/instance"
	"playmesh/internal/observer"
	"playmesh/internal/output"
	"playmesh/internal/transport"
	"playmesh/internal/transport/localbus"
	"playmesh/internal/transport/meshbus"
)

var log = logging.Logger("cmd")

var appVersion = "dev"

func main() {
	cfgPath := flag.String("config", "", "path to JSON config file (defaults baked in if omitted)")
	channel := flag.String("channel", "", "override config.channel_name")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("playmesh v%s\n", appVersion)
		return
	}

	cfg := config.Default()
	var watcher *config.Watcher
	if *cfgPath != "" {
		w, err := config.NewWatcher(*cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		watcher = w
		defer watcher.Close()
		cfg = watcher.Current()
	}
	if *channel != "" {
		cfg.ChannelName = *channel
	}
	for _, w := range cfg.Validate() {
		log.Warnw("config warning", "warning", w)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bus, err := buildBus(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "start transport: %v\n", err)
		os.Exit(1)
	}
	defer bus.Close()

	selfID := coordinator.NewPeerID()
	inst := instance.New(instance.Options{
		SelfID:     selfID,
		Config:     cfg,
		Bus:        bus,
		Capability: output.NewSimulatedOutput(),
	})
	defer inst.Destroy()

	log.Infow("peer started", "selfId", selfID, "channel", cfg.ChannelName, "transport", cfg.Transport.Kind)

	if watcher != nil {
		// Hot-reload: a rewritten config file takes effect for future
		// handshakes and replication decisions without a restart.
		watcher.OnChange(func(next config.Config) {
			for _, w := range next.Validate() {
				log.Warnw("config warning", "warning", w)
			}
			inst.SetConfig(next)
			log.Infow("config reloaded", "channel", next.ChannelName)
		})
	}

	var srv *http.Server
	if cfg.Observer.Enabled {
		mux := http.NewServeMux()
		hub := observer.NewHub(selfID, inst)
		defer hub.Close()
		mux.Handle("/ws", hub)
		mux.Handle("/api/instance/status", debugapi.Handler(inst))
		srv = &http.Server{Addr: cfg.Observer.HTTPAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warnw("observer http server stopped", "err", err)
			}
		}()
		log.Infow("observer listening", "addr", cfg.Observer.HTTPAddr)
	}

	<-ctx.Done()
	if srv != nil {
		_ = srv.Close()
	}
}

func buildBus(ctx context.Context, cfg config.Config) (transport.Bus, error) {
	switch cfg.Transport.Kind {
	case "mesh":
		return meshbus.New(ctx, cfg.Transport.ListenPort, cfg.ChannelName)
	default:
		return localbus.New(cfg.ChannelName), nil
	}
}
