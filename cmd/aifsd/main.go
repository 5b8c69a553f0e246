// Command aifsd runs the AIFS storage daemon: the engine behind a gRPC
// surface, with optional capability auth and a Prometheus endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aifs-project/aifs"
	"github.com/aifs-project/aifs/auth"
	"github.com/aifs-project/aifs/config"
	"github.com/aifs-project/aifs/metrics"
	"github.com/aifs-project/aifs/rpc"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "aifsd:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "", "path to the YAML config file")
		showVersion = flag.Bool("version", false, "print the version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("aifsd", aifs.Version)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	engine, err := aifs.Open(cfg.StorageDir,
		aifs.WithLogger(logger),
		aifs.WithCompressionLevel(cfg.CompressionLevel),
		aifs.WithMaxWorkers(cfg.MaxWorkers),
	)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer engine.Close()

	reg := metrics.NewRegistry()
	serverOpts := []rpc.ServerOption{
		rpc.WithServerLogger(logger),
		rpc.WithServerMetrics(reg.GRPC),
	}
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = int(cfg.RateLimitRPS)
		}
		serverOpts = append(serverOpts, rpc.WithRateLimit(cfg.RateLimitRPS, burst))
	}
	if cfg.Mode == config.ModeProduction {
		secret, err := os.ReadFile(cfg.AuthSecretFile)
		if err != nil {
			return fmt.Errorf("read auth secret: %w", err)
		}
		authorizer, err := auth.NewAuthorizer("aifs", []byte(strings.TrimSpace(string(secret))))
		if err != nil {
			return err
		}
		serverOpts = append(serverOpts, rpc.WithAuthorizer(authorizer))
	} else {
		logger.Warn("running in development mode, capability checks disabled")
	}

	server := rpc.NewServer(engine, serverOpts...)
	lis, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	var metricsSrv *http.Server
	if addr := cfg.MetricsAddr(); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", reg.Handler())
		metricsSrv = &http.Server{Addr: addr, Handler: mux}
		go func() {
			logger.Info("metrics endpoint", "addr", addr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(lis) }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return err
	}

	server.GracefulStop()
	if metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(ctx)
	}
	return engine.Close()
}

func newLogger(cfg config.Config) *aifs.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if cfg.Mode == config.ModeProduction {
		return aifs.NewJSONLogger(level)
	}
	return aifs.NewTextLogger(level)
}
