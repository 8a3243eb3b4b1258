package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/windrose-labs/conductor/internal/adapter/queue"
	"github.com/windrose-labs/conductor/internal/config"
	"github.com/windrose-labs/conductor/internal/gate"
	"github.com/windrose-labs/conductor/internal/logging"
	"github.com/windrose-labs/conductor/internal/metrics"
	"github.com/windrose-labs/conductor/internal/override"
	"github.com/windrose-labs/conductor/internal/policy"
	"github.com/windrose-labs/conductor/internal/service"
	"github.com/windrose-labs/conductor/internal/store"
	"github.com/windrose-labs/conductor/internal/stream"
	transporthttp "github.com/windrose-labs/conductor/internal/transport/http"
	v1 "github.com/windrose-labs/conductor/internal/transport/http/v1"
)

func main() {
	// A .env file never overrides variables already set in the shell.
	_ = godotenv.Load()

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting conductor",
		zap.Int("http_port", cfg.Server.HTTPPort),
		zap.Int("internal_port", cfg.Server.InternalPort),
		zap.String("database", cfg.Database.DSN))

	st, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()

	// Background context for the long-running loops: dispatcher fan-out,
	// the invocation sweeper, and the policy file watcher.
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var embedded *natsserver.Server
	natsURL := cfg.Nats.URL
	if cfg.Nats.Embedded {
		opts := &natsserver.Options{
			Host:     "127.0.0.1",
			Port:     -1,
			NoSigs:   true,
			StoreDir: cfg.Nats.StoreDir,
		}
		embedded, err = natsserver.NewServer(opts)
		if err != nil {
			logger.Fatal("failed to create embedded nats server", zap.Error(err))
		}
		go embedded.Start()
		if !embedded.ReadyForConnections(5 * time.Second) {
			logger.Fatal("embedded nats server not ready")
		}
		natsURL = embedded.ClientURL()
		logger.Info("embedded nats server started", zap.String("url", natsURL))
	}

	nc, err := nats.Connect(natsURL)
	if err != nil {
		logger.Fatal("failed to connect to nats", zap.String("url", natsURL), zap.Error(err))
	}
	defer nc.Close()

	m := metrics.New(prometheus.DefaultRegisterer)

	var rego *policy.RegoEngine
	if cfg.Policy.RegoPath != "" {
		rego, err = policy.NewRegoEngine(runCtx, cfg.Policy.RegoPath, logger)
		if err != nil {
			logger.Fatal("failed to load rego policy",
				zap.String("path", cfg.Policy.RegoPath), zap.Error(err))
		}
		if cfg.Policy.Watch {
			go func() {
				if err := rego.Watch(runCtx); err != nil {
					logger.Warn("policy watcher stopped", zap.Error(err))
				}
			}()
		}
	}
	evaluator := policy.NewEvaluator(policy.DefaultRules(), rego, logger)

	publisher := stream.NewPublisher(st, nc, logger, m)
	dispatcher := stream.NewDispatcher(nc, cfg.Stream.ConnBuffer, logger, m)
	go dispatcher.Run(runCtx)
	replayer := stream.NewReplayer(st, cfg.Stream.ReplayLimit, cfg.Stream.ReplayMaxAge)

	svc := service.New(st, publisher,
		gate.NewRegistry(st, gate.StaticMergeChecker{Status: gate.MergeStatusOpen}),
		evaluator,
		override.NewResolver(st),
		queue.NewClient(nc), cfg, logger, m)
	go svc.RunInvocationSweeper(runCtx)

	streams := v1.NewStreamHandler(dispatcher, replayer, cfg.Stream.Heartbeat, logger, m)
	externalServer := transporthttp.NewExternalServer(svc, streams)
	internalServer := transporthttp.NewInternalServer(svc)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.HTTPPort)
		if err := externalServer.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("external server failed", zap.Error(err))
		}
	}()
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.InternalPort)
		if err := internalServer.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("internal server failed", zap.Error(err))
		}
	}()

	logger.Info("external api started", zap.Int("port", cfg.Server.HTTPPort))
	logger.Info("internal api started", zap.Int("port", cfg.Server.InternalPort))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down conductor")
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	if err := externalServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("external server shutdown", zap.Error(err))
	}
	if err := internalServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("internal server shutdown", zap.Error(err))
	}
	if embedded != nil {
		embedded.Shutdown()
		embedded.WaitForShutdown()
	}

	logger.Info("conductor stopped")
}
