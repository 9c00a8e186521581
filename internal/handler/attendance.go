package handler

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"gymops/internal/attendance"
	"gymops/internal/report"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ---------- Attendance ----------

type attendanceRequest struct {
	FaceID       string `json:"face_id" binding:"required_without=ImageURL"`
	ImageURL     string `json:"image_url" binding:"omitempty,url"`
	AttendedType string `json:"attended_type" binding:"omitempty,oneof=gym combative both"`
	ClassID      string `json:"class_id"`
}

// LogAttendance identifies the member behind a kiosk event and returns the
// engine's decision. A requires_selection answer is re-submitted with
// attended_type (and optionally class_id) set.
func (h *Handler) LogAttendance(c *gin.Context) {
	var req attendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	memberID, err := h.att.Identify(ctx, req.FaceID, req.ImageURL)
	if err != nil {
		h.attendanceError(c, err)
		return
	}

	ev := attendance.Event{MemberID: memberID}
	if req.AttendedType != "" {
		ev.Choice = &attendance.Choice{Type: attendance.AttendedType(req.AttendedType), ClassID: req.ClassID}
	}
	dec, err := h.att.Log(ctx, ev)
	if err != nil {
		h.attendanceError(c, err)
		return
	}

	status := http.StatusOK
	if _, ok := dec.(attendance.Commit); ok {
		status = http.StatusCreated
	}
	c.JSON(status, decisionBody(dec))
}

func decisionBody(dec attendance.Decision) gin.H {
	body := gin.H{"decision": dec.Kind()}
	switch d := dec.(type) {
	case attendance.Commit:
		body["record"] = d.Record
		body["anomaly"] = d.Anomaly
	case attendance.RequiresSelection:
		body["options"] = d.Options
		body["sessions"] = d.Sessions
	case attendance.AlreadyLoggedIn:
		body["since"] = d.Since
		body["elapsed_seconds"] = int64(d.Elapsed / time.Second)
		body["message"] = "already logged in"
	case attendance.NoOp:
		body["last"] = d.Last
	}
	return body
}

func (h *Handler) attendanceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, attendance.ErrNoMatch):
		c.JSON(http.StatusNotFound, gin.H{"error": "member not found"})
	case errors.Is(err, attendance.ErrInvalidChoice), errors.Is(err, attendance.ErrMemberRequired),
		errors.Is(err, attendance.ErrInvalidPeriod):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrStale):
		c.JSON(http.StatusConflict, gin.H{"error": "attendance changed concurrently, retry"})
	default:
		h.log.Error("attendance event failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "attendance event failed"})
	}
}

// Today returns the front desk summary of the current day.
func (h *Handler) Today(c *gin.Context) {
	sum, err := h.att.Today(c.Request.Context())
	if err != nil {
		h.log.Error("today summary failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

// MemberHistory lists one member's records between ?start= and ?end=
// (YYYY-MM-DD, inclusive). end defaults to start.
func (h *Handler) MemberHistory(c *gin.Context) {
	loc := h.att.Location()
	start, err := time.ParseInLocation(time.DateOnly, c.Query("start"), loc)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start must be YYYY-MM-DD"})
		return
	}
	end := start
	if v := c.Query("end"); v != "" {
		if end, err = time.ParseInLocation(time.DateOnly, v, loc); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end must be YYYY-MM-DD"})
			return
		}
	}

	memberID := c.Param("id")
	records, err := h.att.MemberHistory(c.Request.Context(), memberID, start, end)
	if err != nil {
		h.attendanceError(c, err)
		return
	}
	if records == nil {
		records = []attendance.Record{}
	}
	c.JSON(http.StatusOK, gin.H{
		"member_id": memberID,
		"start":     start.Format(time.DateOnly),
		"end":       end.Format(time.DateOnly),
		"records":   records,
	})
}

// Export streams the records of ?date= (default today) as an XLSX workbook.
func (h *Handler) Export(c *gin.Context) {
	loc := h.att.Location()
	day := time.Now().In(loc)
	if v := c.Query("date"); v != "" {
		parsed, err := time.ParseInLocation(time.DateOnly, v, loc)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		day = parsed
	}

	records, err := h.att.DayRecords(c.Request.Context(), day)
	if err != nil {
		h.log.Error("export records failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}
	var buf bytes.Buffer
	if err := report.AttendanceDay(&buf, day, records, loc); err != nil {
		h.log.Error("render workbook failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}
	name := fmt.Sprintf("attendance-%s.xlsx", day.Format(time.DateOnly))
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}
