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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/asergenalkan/vercelclone/internal/docker"
	"github.com/asergenalkan/vercelclone/internal/hub"
	"github.com/asergenalkan/vercelclone/internal/lifecycle"
	"github.com/asergenalkan/vercelclone/internal/queue"
	"github.com/asergenalkan/vercelclone/internal/repository/postgres"
	"github.com/asergenalkan/vercelclone/internal/worker"
	"github.com/asergenalkan/vercelclone/internal/workspace"
	"github.com/asergenalkan/vercelclone/pkg/config"
	"github.com/asergenalkan/vercelclone/pkg/logger"
)

func main() {
	cfg := config.LoadWorkerConfig()
	log := logger.New("worker", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
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

	workspaceManager, err := workspace.New(cfg.Workdir)
	if err != nil {
		log.Error("workspace init failed", "error", err, "workdir", cfg.Workdir)
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
		AppPort:          cfg.AppPort,
		StopGrace:        cfg.StopGrace,
		ImageRetention:   cfg.ImageRetention,
		EnvEncryptionKey: cfg.EnvEncryptionKey,
	}, log)

	publisher := hub.NewPublisher(cfg.GatewayWSURL, cfg.WorkerToken, cfg.PublishBuffer, log)
	defer publisher.Close()

	pipeline := worker.NewPipeline(
		repo,
		repo,
		repo,
		workspaceManager,
		worker.ExecCloner{},
		dockerClient,
		manager,
		worker.RunShell,
		publisher,
		jobQueue,
		worker.Config{
			Registry:         cfg.Registry,
			GitTimeout:       cfg.GitTimeout,
			InstallTimeout:   cfg.InstallTimeout,
			BuildTimeout:     cfg.BuildTimeout,
			ImageTimeout:     cfg.ImageTimeout,
			OutputLimitBytes: cfg.OutputLimitBytes,
			EnvEncryptionKey: cfg.EnvEncryptionKey,
		},
		log,
	)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "addr", cfg.MetricsAddr, "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	log.Info("worker started", "workdir", cfg.Workdir, "registry", cfg.Registry)
	for {
		job, err := jobQueue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				break
			}
			log.Error("dequeue failed", "error", err)
			time.Sleep(time.Second)
			continue
		}

		if runErr := pipeline.Run(ctx, job); runErr != nil {
			if err := jobQueue.Fail(context.Background(), job.ID, runErr.Error()); err != nil {
				log.Error("record job failure", "job_id", job.ID, "error", err)
			}
		} else {
			if err := jobQueue.Complete(context.Background(), job.ID); err != nil {
				log.Error("record job completion", "job_id", job.ID, "error", err)
			}
			// Retention runs off the build path; a failure only costs disk.
			go func(projectID string) {
				cleanupCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
				defer cancel()
				if err := manager.CleanupOldImages(cleanupCtx, projectID); err != nil {
					log.Warn("image retention cleanup failed", "project_id", projectID, "error", err)
				}
			}(job.ProjectID)
		}
	}

	log.Info("worker stopped")
}
