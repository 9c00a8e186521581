package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"gymops/internal/attendance"
	"gymops/internal/config"
	"gymops/internal/faceclient"
	"gymops/internal/lock"
	"gymops/internal/logger"
	"gymops/internal/queue"
	"gymops/internal/store"
	"gymops/internal/worker"
)

// Worker consumes committed attendance records and marks class enrollments attended.
func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not read .env", "err", err)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config failed", "err", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Env).With("component", "worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend == "memory" {
		log.Error("QUEUE_BACKEND=memory runs the worker inside the API; nothing to do")
		os.Exit(1)
	}

	loc, err := cfg.Location()
	if err != nil {
		log.Error("timezone", "err", err)
		os.Exit(1)
	}

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient, err := store.NewRedis(cfg.RedisAddr)
	if err != nil {
		log.Error("redis config", "err", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	repo := attendance.NewRepository(db.Client)
	att := attendance.NewService(attendance.NewEngine(attendance.DefaultPolicy(), log), repo, repo, lock.NewMemory(), attendance.Options{
		Location: loc,
		Logger:   log,
	})
	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip, cfg.FaceMatchThreshold)
	if !cfg.FaceSkip {
		if err := face.Health(ctx); err != nil {
			log.Warn("face service not available", "err", err)
		} else {
			log.Info("face service connected")
		}
	}

	w := &worker.Worker{
		Queue:       queue.NewRedisQueue(redisClient.Client, queue.DefaultKey),
		Handler:     att,
		Log:         log,
		Face:        face,
		HealthEvery: time.Minute,
	}
	if err := w.Run(ctx); err != nil {
		log.Error("worker failed", "err", err)
		os.Exit(1)
	}
}
