package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/asergenalkan/vercelclone/internal/app/migrate"
	"github.com/asergenalkan/vercelclone/internal/docker"
	"github.com/asergenalkan/vercelclone/internal/httpapi"
	"github.com/asergenalkan/vercelclone/internal/hub"
	"github.com/asergenalkan/vercelclone/internal/lifecycle"
	"github.com/asergenalkan/vercelclone/internal/queue"
	"github.com/asergenalkan/vercelclone/internal/repository/postgres"
	"github.com/asergenalkan/vercelclone/pkg/config"
	"github.com/asergenalkan/vercelclone/pkg/logger"
)

func main() {
	cfg := config.LoadGatewayConfig()
	log := logger.New("gateway", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)

	jobQueue, err := queue.NewRedisQueue(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer jobQueue.Close()

	dockerClient, err := docker.New(cfg.DockerHost)
	if err != nil {
		log.Error("failed to create docker client", "error", err)
		os.Exit(1)
	}
	defer dockerClient.Close()
	if err := dockerClient.Ping(ctx); err != nil {
		log.Error("docker ping failed", "error", err)
		os.Exit(1)
	}

	ports, err := lifecycle.NewRangeAllocator(cfg.PortRangeStart, cfg.PortRangeEnd, dockerClient.UsedPorts)
	if err != nil {
		log.Error("invalid port range", "error", err)
		os.Exit(1)
	}
	manager := lifecycle.NewManager(dockerClient, repo, repo, ports, lifecycle.Config{
		DomainSuffix:     cfg.DomainSuffix,
		Registry:         cfg.Registry,
		StopGrace:        cfg.StopGrace,
		EnvEncryptionKey: cfg.EnvEncryptionKey,
	}, log)

	logHub := hub.New(httpapi.NewRepoSnapshotLoader(repo), log, cfg.SubscribeBuffer)
	defer logHub.Stop()

	router := httpapi.NewRouter(log, jobQueue, repo, repo, manager, logHub, cfg.WorkerToken, pool.Ping, jobQueue.Ping)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("gateway server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("gateway server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
