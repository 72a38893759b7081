package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"emc/internal/archive"
	"emc/internal/coordinator"
	"emc/internal/events"
	"emc/internal/gate"
	"emc/internal/marker"
	"emc/internal/realtime"
	"emc/internal/sandbox"
	"emc/internal/status"
	"emc/internal/submission"
	"emc/pkg/utils/logger"
)

const defaultConfigPath = "configs/emc_server.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := archive.NewStore(appCfg.Storage.Root)
	if err != nil {
		logger.Error(context.Background(), "init archive store failed", zap.Error(err))
		return
	}

	repo, err := submission.NewMySQLRepository(appCfg.Database.toMySQLConfig())
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = repo.Close()
	}()

	statuses, err := status.NewCache(status.Config{
		Addr:         appCfg.Redis.Addr,
		Password:     appCfg.Redis.Password,
		DB:           appCfg.Redis.DB,
		DialTimeout:  appCfg.Redis.DialTimeout,
		ReadTimeout:  appCfg.Redis.ReadTimeout,
		WriteTimeout: appCfg.Redis.WriteTimeout,
		PoolSize:     appCfg.Redis.PoolSize,
		TTL:          appCfg.Redis.StatusTTL,
	})
	if err != nil {
		logger.Error(context.Background(), "init status cache failed", zap.Error(err))
		return
	}
	defer func() {
		_ = statuses.Close()
	}()

	var fetcher *archive.Fetcher
	if appCfg.Storage.MinIO.Endpoint != "" {
		source, err := archive.NewMinIOSource(appCfg.Storage.MinIO)
		if err != nil {
			logger.Error(context.Background(), "init minio failed", zap.Error(err))
			return
		}
		fetcher, err = archive.NewFetcher(source, appCfg.Storage.MinIO.Bucket)
		if err != nil {
			logger.Error(context.Background(), "init archive fetcher failed", zap.Error(err))
			return
		}
	}

	bus := realtime.NewBus()
	directory, err := realtime.NewSQLDirectory(repo.DB())
	if err != nil {
		logger.Error(context.Background(), "init role directory failed", zap.Error(err))
		return
	}
	verifier := realtime.NewTokenVerifier(appCfg.Auth.JWTSecret, appCfg.Auth.Issuer)
	mux := realtime.NewMux(bus, realtime.NewAuthorizer(directory), verifier)

	publisher := &events.Fanout{Primary: realtime.NewEventPublisher(bus)}
	if len(appCfg.Kafka.Brokers) > 0 {
		mirror, err := events.NewKafkaMirror(appCfg.Kafka.Brokers, appCfg.Kafka.ClientID)
		if err != nil {
			logger.Error(context.Background(), "init kafka mirror failed", zap.Error(err))
			return
		}
		defer func() {
			_ = mirror.Close()
		}()
		publisher.Mirrors = append(publisher.Mirrors, mirror)
	}

	engine, err := sandbox.NewEngine(sandbox.Config{
		StdoutMaxBytes:    appCfg.Runner.StdoutMaxBytes,
		KillGraceMs:       appCfg.Runner.KillGraceMs,
		DisableNamespaces: appCfg.Runner.DisableNamespaces,
	})
	if err != nil {
		logger.Error(context.Background(), "init sandbox engine failed", zap.Error(err))
		return
	}
	runGate, err := gate.New(appCfg.Runner.MaxConcurrent)
	if err != nil {
		logger.Error(context.Background(), "init run gate failed", zap.Error(err))
		return
	}
	mk, err := marker.NewMarker(store)
	if err != nil {
		logger.Error(context.Background(), "init marker failed", zap.Error(err))
		return
	}
	coord, err := coordinator.New(coordinator.Options{
		Store:     store,
		Engine:    engine,
		Gate:      runGate,
		Marker:    mk,
		Repo:      repo,
		Statuses:  statuses,
		Publisher: publisher,
	})
	if err != nil {
		logger.Error(context.Background(), "init coordinator failed", zap.Error(err))
		return
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	runGate.Register(registry)
	coord.Register(registry)

	handler := &api{coord: coord, repo: repo, statuses: statuses, store: store, fetcher: fetcher}
	router := buildRouter(handler, mux, registry)
	httpServer := &http.Server{
		Handler:      router,
		ReadTimeout:  appCfg.Server.ReadTimeout,
		WriteTimeout: appCfg.Server.WriteTimeout,
		IdleTimeout:  appCfg.Server.IdleTimeout,
	}

	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "emc http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
}
