// Command evhttpd starts the event-driven static file and upload server.
package main

import (
	"fmt"
	"os"

	"github.com/fastpath/evhttpd/config"
	"github.com/fastpath/evhttpd/internal/authpool"
	"github.com/fastpath/evhttpd/internal/logging"
	"github.com/fastpath/evhttpd/internal/registry"
	"github.com/fastpath/evhttpd/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "evhttpd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logLevel := logging.Level(cfg.LogLevel)
	if !cfg.OpenLog {
		logLevel = logging.LevelError
	}
	sink, err := logging.NewZapSink(os.Stderr.Fd(), logLevel, cfg.LogQueueSize)
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer sink.Sync()

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolving working directory: %w", err)
	}

	reg := registry.New()
	reg.SetStaticRoot(cwd + "/resources")
	reg.SetUploadRoot(cwd + "/resources/upload/")
	reg.SetEdgeTriggered(cfg.Trigger.ConnEdgeTriggered())

	pool := authpool.NewStaticPool(cfg.SQLPoolSize)

	sink.Infof("=========================Server Init=========================")
	sink.Infof("port: %d, linger: %v", cfg.Port, cfg.OpenLinger)
	sink.Infof("actor mode: %v", cfg.Actor)
	sink.Infof("srcDir: %s", reg.StaticRoot())
	sink.Infof("timeout: %dms", cfg.TimeoutMS)

	srv, err := server.New(cfg, reg, sink, pool)
	if err != nil {
		return fmt.Errorf("constructing server: %w", err)
	}
	if err := srv.Listen(); err != nil {
		return fmt.Errorf("starting listener: %w", err)
	}

	sink.Infof("=========================Server Start=========================")
	return srv.Run()
}
