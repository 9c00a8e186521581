package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"gymops/internal/attendance"
	"gymops/internal/auth"
	"gymops/internal/schedule"
)

// Attendance is the attendance service as the HTTP layer sees it.
type Attendance interface {
	Identify(ctx context.Context, faceID, imageURL string) (string, error)
	Log(ctx context.Context, ev attendance.Event) (attendance.Decision, error)
	Today(ctx context.Context) (attendance.Summary, error)
	DayRecords(ctx context.Context, day time.Time) ([]attendance.Record, error)
	MemberHistory(ctx context.Context, memberID string, first, last time.Time) ([]attendance.Record, error)
	Location() *time.Location
}

// Bookings is the trainer schedule service.
type Bookings interface {
	Check(ctx context.Context, c schedule.Candidate) (schedule.ConflictResult, error)
	Book(ctx context.Context, c schedule.Candidate) (schedule.Booking, error)
	Get(ctx context.Context, id string) (schedule.Booking, error)
	Cancel(ctx context.Context, id string) (schedule.Booking, error)
	Complete(ctx context.Context, id string) (schedule.Booking, error)
	ListDay(ctx context.Context, trainerID, date string) ([]schedule.Booking, error)
}

// Tokens persists kiosks and refresh tokens.
type Tokens interface {
	RegisterKiosk(ctx context.Context, kioskID string) error
	SaveRefreshToken(ctx context.Context, subject, token string, expiresAt time.Time) error
	ConsumeRefreshToken(ctx context.Context, subject, token string) error
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

type Handler struct {
	att      Attendance
	bookings Bookings
	tokens   Tokens
	signer   *auth.Signer
	live     http.Handler
	adminKey string
	health   map[string]HealthCheck
	log      *slog.Logger
}

// Config bundles the handler's collaborators. Live and Health are optional.
type Config struct {
	Attendance Attendance
	Bookings   Bookings
	Tokens     Tokens
	Signer     *auth.Signer
	Live       http.Handler
	AdminKey   string
	Health     map[string]HealthCheck
	Logger     *slog.Logger
}

func New(cfg Config) *Handler {
	registerValidators()
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		att:      cfg.Attendance,
		bookings: cfg.Bookings,
		tokens:   cfg.Tokens,
		signer:   cfg.Signer,
		live:     cfg.Live,
		adminKey: cfg.AdminKey,
		health:   cfg.Health,
		log:      log,
	}
}

// Register mounts every route on r. limit runs after authentication so
// authenticated callers are limited per token subject.
func (h *Handler) Register(r gin.IRouter, limit gin.HandlerFunc) {
	if limit == nil {
		limit = func(c *gin.Context) { c.Next() }
	}
	r.GET("/healthz", h.Healthz)

	v1 := r.Group("/v1")
	v1.POST("/kiosks/register", limit, h.RegisterKiosk)
	v1.POST("/auth/token", limit, h.IssueToken)
	v1.POST("/auth/refresh", limit, h.Refresh)

	authed := v1.Group("", auth.Bearer(h.signer), limit)

	kiosk := authed.Group("/attendance", auth.RequireRole(auth.RoleKiosk))
	kiosk.POST("/events", h.LogAttendance)

	admin := authed.Group("/attendance", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/today", h.Today)
	admin.GET("/export", h.Export)
	admin.GET("/members/:id", h.MemberHistory)
	if h.live != nil {
		admin.GET("/live", gin.WrapH(h.live))
	}

	staff := authed.Group("/bookings", auth.RequireRole(auth.RoleAdmin, auth.RoleTrainer))
	staff.GET("", h.ListBookings)
	staff.POST("", h.CreateBooking)
	staff.POST("/check", h.CheckBooking)
	staff.POST("/:id/cancel", h.CancelBooking)
	staff.POST("/:id/complete", h.CompleteBooking)
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.health {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}
