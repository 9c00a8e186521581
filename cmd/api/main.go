package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gymops/internal/attendance"
	"gymops/internal/auth"
	"gymops/internal/config"
	"gymops/internal/faceclient"
	"gymops/internal/handler"
	"gymops/internal/httpmiddleware"
	"gymops/internal/live"
	"gymops/internal/lock"
	"gymops/internal/logger"
	"gymops/internal/queue"
	"gymops/internal/schedule"
	"gymops/internal/store"
	"gymops/internal/worker"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not read .env", "err", err)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config failed", "err", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Env)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("http server failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.App, log *slog.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		log.Info("migrations applied")
	}

	redisClient, err := store.NewRedis(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	var locker lock.Locker = lock.NewMemory()
	if cfg.LockBackend == "redis" {
		locker = lock.NewRedis(redisClient.Client, cfg.LockTTL)
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	}

	var limiter httpmiddleware.Limiter = httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	if cfg.RateLimitBackend == "redis" {
		limiter = httpmiddleware.NewRedisWindow(redisClient.Client, cfg.RateLimitPerMin)
	}

	hub := live.NewHub(log)
	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip, cfg.FaceMatchThreshold)
	repo := attendance.NewRepository(db.Client)
	engine := attendance.NewEngine(attendance.Policy{
		DedupWindow: cfg.DedupWindow,
		MinVisit:    cfg.MinVisit,
		SessionLead: cfg.SessionLead,
	}, log)
	p := engine.Policy()
	log.Info("attendance policy", "dedup_window", p.DedupWindow, "min_visit", p.MinVisit, "session_lead", p.SessionLead, "timezone", loc.String())
	att := attendance.NewService(engine, repo, repo, locker, attendance.Options{
		Location:  loc,
		Publisher: q,
		Live:      hub,
		Face:      face,
		Logger:    log,
	})
	bookings := schedule.NewService(schedule.NewRepository(db.X), locker, log)

	// With the in-memory queue nobody else can drain it, so the API runs
	// the worker loop itself.
	if cfg.QueueBackend == "memory" {
		w := &worker.Worker{Queue: q, Handler: att, Log: log.With("component", "worker")}
		go func() {
			if err := w.Run(ctx); err != nil {
				log.Error("in-process worker stopped", "err", err)
			}
		}()
	}

	h := handler.New(handler.Config{
		Attendance: att,
		Bookings:   bookings,
		Tokens:     auth.NewRepository(db.Client),
		Signer:     auth.NewSigner(cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL),
		Live:       hub,
		AdminKey:   cfg.AdminKey,
		Health: map[string]handler.HealthCheck{
			"db":    db.Healthy,
			"redis": redisClient.Healthy,
		},
		Logger: log,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AddAllowHeaders("Authorization", "X-Admin-Key")
	corsCfg.MaxAge = 24 * time.Hour
	r.Use(cors.New(corsCfg))
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	h.Register(r, httpmiddleware.RateLimit(limiter, log))

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", "err", err)
	}
	log.Info("server exited")
	return nil
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
