// Command multicap-worker is the long-lived per-machine agent. It exposes
// the worker RPC surface on a fixed TCP port and runs subordinate recorder
// processes on behalf of a remote master.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/multicap/multicap/internal/config"
	mclog "github.com/multicap/multicap/internal/log"
	"github.com/multicap/multicap/internal/worker"
	"github.com/multicap/multicap/internal/xrpc"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "config.yaml", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return 0
	}

	mclog.Configure(mclog.Config{Service: "multicap-worker"})
	logger := mclog.WithComponent("worker-daemon")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error().Err(err).Str("config_path", *configPath).Msg("failed to load configuration")
		return 1
	}
	mclog.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	agent := worker.NewAgent(config.Duration(cfg.Worker.GracePeriod, 2*time.Second))
	rpcServer := xrpc.NewServer()
	agent.RegisterRPC(rpcServer)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/", rpcServer)
	r.Handle("/RPC2", rpcServer)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              cfg.Worker.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("version", version).Str("listen", srv.Addr).Msg("worker agent listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server failed")
			agent.StopDevices()
			return 1
		}
	}

	// Stop child recorders before the listener: a master polling a dying
	// worker should see stopped devices, not connection errors mid-batch.
	agent.StopDevices()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server shutdown incomplete")
	}
	logger.Info().Msg("worker agent stopped")
	return 0
}
