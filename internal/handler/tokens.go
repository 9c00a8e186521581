package handler

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"gymops/internal/auth"
)

// ---------- Kiosks & tokens ----------

type registerKioskRequest struct {
	KioskID string `json:"kiosk_id" binding:"required,max=128"`
}

// RegisterKiosk upserts a kiosk device and hands it a token pair. When an
// admin key is configured the request must carry it in X-Admin-Key.
func (h *Handler) RegisterKiosk(c *gin.Context) {
	if h.adminKey != "" && !h.adminKeyMatches(c) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "admin key required"})
		return
	}
	var req registerKioskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.tokens.RegisterKiosk(c.Request.Context(), req.KioskID); err != nil {
		h.log.Error("register kiosk failed", "kiosk_id", req.KioskID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "register kiosk failed"})
		return
	}
	h.issue(c, req.KioskID, auth.RoleKiosk, http.StatusCreated)
}

type tokenRequest struct {
	Subject string `json:"subject" binding:"required,max=128"`
	Role    string `json:"role" binding:"required,oneof=admin trainer"`
}

// IssueToken hands out admin and trainer tokens to holders of the admin key.
func (h *Handler) IssueToken(c *gin.Context) {
	if h.adminKey == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "admin key not configured"})
		return
	}
	if !h.adminKeyMatches(c) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "admin key required"})
		return
	}
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.issue(c, req.Subject, req.Role, http.StatusCreated)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Refresh exchanges a stored refresh token for a new pair. Each refresh token
// is accepted once.
func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, err := h.signer.ParseRefresh(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	if err := h.tokens.ConsumeRefreshToken(c.Request.Context(), claims.Subject, req.RefreshToken); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "refresh token revoked"})
		return
	}
	h.issue(c, claims.Subject, claims.Role, http.StatusOK)
}

func (h *Handler) issue(c *gin.Context, subject, role string, status int) {
	tokens, err := h.signer.Issue(subject, role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	if err := h.tokens.SaveRefreshToken(c.Request.Context(), subject, tokens.RefreshToken, tokens.RefreshExp); err != nil {
		h.log.Warn("save refresh token failed", "subject", subject, "err", err)
	}
	c.JSON(status, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
		"role":          role,
	})
}

func (h *Handler) adminKeyMatches(c *gin.Context) bool {
	got := c.GetHeader("X-Admin-Key")
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.adminKey)) == 1
}
