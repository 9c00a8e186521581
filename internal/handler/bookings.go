package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"gymops/internal/auth"
	"gymops/internal/schedule"
)

// ---------- Bookings ----------

type bookingRequest struct {
	TrainerID string  `json:"trainer_id" binding:"required"`
	MemberID  *string `json:"member_id"`
	ClassName string  `json:"class_name" binding:"max=200"`
	Date      string  `json:"date" binding:"required,datetime=2006-01-02"`
	StartTime string  `json:"start_time" binding:"required,clock"`
	EndTime   string  `json:"end_time" binding:"required,clock"`
}

func (r bookingRequest) candidate() schedule.Candidate {
	return schedule.Candidate{
		TrainerID: r.TrainerID,
		MemberID:  r.MemberID,
		ClassName: r.ClassName,
		Date:      r.Date,
		StartTime: r.StartTime,
		EndTime:   r.EndTime,
	}
}

// bindBooking decodes the request and keeps trainers to their own schedule.
func bindBooking(c *gin.Context) (bookingRequest, bool) {
	var req bookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return req, false
	}
	if claims, ok := auth.ClaimsFrom(c); ok && claims.Role == auth.RoleTrainer && claims.Subject != req.TrainerID {
		c.JSON(http.StatusForbidden, gin.H{"error": "trainers can only manage their own schedule"})
		return req, false
	}
	return req, true
}

// CreateBooking commits a booking or answers 409 with the clashing one.
func (h *Handler) CreateBooking(c *gin.Context) {
	req, ok := bindBooking(c)
	if !ok {
		return
	}
	b, err := h.bookings.Book(c.Request.Context(), req.candidate())
	if err != nil {
		h.bookingError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

// CheckBooking runs the conflict guard without writing.
func (h *Handler) CheckBooking(c *gin.Context) {
	req, ok := bindBooking(c)
	if !ok {
		return
	}
	res, err := h.bookings.Check(c.Request.Context(), req.candidate())
	if err != nil {
		h.bookingError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ownsBooking keeps trainers from changing another trainer's booking.
func (h *Handler) ownsBooking(c *gin.Context) bool {
	claims, ok := auth.ClaimsFrom(c)
	if !ok || claims.Role != auth.RoleTrainer {
		return true
	}
	b, err := h.bookings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.bookingError(c, err)
		return false
	}
	if b.TrainerID != claims.Subject {
		c.JSON(http.StatusForbidden, gin.H{"error": "trainers can only manage their own schedule"})
		return false
	}
	return true
}

func (h *Handler) CancelBooking(c *gin.Context) {
	if !h.ownsBooking(c) {
		return
	}
	b, err := h.bookings.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.bookingError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *Handler) CompleteBooking(c *gin.Context) {
	if !h.ownsBooking(c) {
		return
	}
	b, err := h.bookings.Complete(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.bookingError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// ListBookings returns ?trainer_id= bookings on ?date=.
func (h *Handler) ListBookings(c *gin.Context) {
	trainerID := c.Query("trainer_id")
	if claims, ok := auth.ClaimsFrom(c); ok && claims.Role == auth.RoleTrainer {
		if trainerID == "" {
			trainerID = claims.Subject
		}
		if trainerID != claims.Subject {
			c.JSON(http.StatusForbidden, gin.H{"error": "trainers can only manage their own schedule"})
			return
		}
	}
	list, err := h.bookings.ListDay(c.Request.Context(), trainerID, c.Query("date"))
	if err != nil {
		h.bookingError(c, err)
		return
	}
	if list == nil {
		list = []schedule.Booking{}
	}
	c.JSON(http.StatusOK, gin.H{"bookings": list})
}

func (h *Handler) bookingError(c *gin.Context, err error) {
	var conflict *schedule.ConflictError
	switch {
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": conflict.Error(), "conflict": conflict.Existing})
	case errors.Is(err, schedule.ErrInvalidRange), errors.Is(err, schedule.ErrTrainerRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, schedule.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "booking not found"})
	case errors.Is(err, schedule.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.log.Error("booking request failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "booking request failed"})
	}
}
