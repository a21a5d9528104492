// qorvexd is the Qorvex daemon: it owns the session manager, the IPC
// server multiplexing CLI clients over Unix-domain sockets, the stale
// session/log cleanup sweep, and the Prometheus metrics listener.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/qorvex/qorvex/internal/cleanup"
	"github.com/qorvex/qorvex/internal/ipc"
	"github.com/qorvex/qorvex/internal/metrics"
	"github.com/qorvex/qorvex/internal/qconfig"
	"github.com/qorvex/qorvex/internal/qlog"
	"github.com/qorvex/qorvex/internal/session"
	"github.com/qorvex/qorvex/internal/simctl"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0".
var Version = "dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "init":
			cmdInit()
			return
		case "--version", "-v":
			fmt.Printf("qorvexd %s\n", Version)
			return
		case "--help", "-h", "help":
			printUsage()
			return
		}
	}
	runDaemon()
}

func printUsage() {
	fmt.Printf(`Qorvex %s - iOS UI automation control plane

Usage: qorvexd [command] [options]

Commands:
  (default)    Start the daemon
  init         Create ~/.qorvex with a default config.json

Options:
  --metrics-addr <addr>   Address for the /metrics and /health listener (default ":9477")

Config precedence:
  1. QORVEX_HOME env var
  2. XDG_STATE_HOME/.qorvex
  3. ~/.qorvex (default)
`, Version)
}

func cmdInit() {
	dir := qconfig.BaseDir()
	if err := os.MkdirAll(qconfig.LogDir(), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "qorvexd init: %v\n", err)
		os.Exit(1)
	}
	if err := qconfig.Save(qconfig.Defaults()); err != nil {
		fmt.Fprintf(os.Stderr, "qorvexd init: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Initialized %s\n", dir)
}

func runDaemon() {
	metricsAddr := flag.String("metrics-addr", ":9477", "address for the /metrics and /health listener")
	flag.Parse()

	cfg, err := qconfig.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "qorvexd: load config: %v\n", err)
		os.Exit(1)
	}

	if err := qlog.Init(qconfig.LogDir()); err != nil {
		fmt.Fprintf(os.Stderr, "qorvexd: init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = qlog.Close() }()

	qlog.Println("qorvexd starting")
	qlog.Printf("data dir: %s", qconfig.BaseDir())

	if err := os.MkdirAll(qconfig.SocketDir(), 0o755); err != nil {
		qlog.Fatalf("create socket dir: %v", err)
	}

	mgr, err := session.NewManager(qconfig.BaseDir(), qconfig.LogDir())
	if err != nil {
		qlog.Fatalf("init session manager: %v", err)
	}
	mgr.SetIdleTimeout(cfg.IdleTimeout())
	defer mgr.Close()

	sim := simctl.New()
	if cfg.SimctlPath != "" {
		sim = simctl.NewWithBinary(cfg.SimctlPath)
	}

	srv := ipc.New(mgr, cfg, sim)

	cleaner := cleanup.New(cleanup.DefaultConfig(qconfig.BaseDir()))
	cleaner.Start()
	defer cleaner.Stop()

	idleStop := make(chan struct{})
	go mgr.RunIdleSweep(5*time.Minute, idleStop)
	defer close(idleStop)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	metricsServer := &http.Server{Addr: *metricsAddr, Handler: metrics.Middleware(mux)}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			qlog.Printf("metrics listener error: %v", err)
		}
	}()
	qlog.Printf("metrics listening on %s", *metricsAddr)

	ctx, cancel := context.WithCancel(context.Background())

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Serve(ctx)
	}()

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			qlog.Printf("ipc server error: %v", err)
		}
	case sig := <-shutdownChan:
		qlog.Printf("received signal %v, shutting down", sig)
		cancel()
		srv.Close()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsServer.Shutdown(shutdownCtx)

	qlog.Println("qorvexd shutdown complete")
}
