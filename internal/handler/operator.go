package handler

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"keywatch-server/internal/auth"
	"keywatch-server/internal/middleware"
	"keywatch-server/internal/session"
)

// OperatorHandler is the command front-end: operators exchange the master
// secret for a JWT and drive session start/stop/list with it.
type OperatorHandler struct {
	Manager      *session.Manager
	MasterSecret string
	TokenConfig  auth.TokenConfig
	LoginLimiter *middleware.RateLimiter
}

type loginBody struct {
	Secret string `json:"secret" binding:"required"`
}

type startBody struct {
	SteamID string `json:"steamid" binding:"required"`
}

func (h *OperatorHandler) Auth(c *gin.Context) {
	if h.LoginLimiter != nil && !h.LoginLimiter.Allow(c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
		return
	}

	var body loginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(body.Secret), []byte(h.MasterSecret)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	token, err := auth.CreateToken("operator", h.TokenConfig)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (h *OperatorHandler) Start(c *gin.Context) {
	var body startBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	sess, created, err := h.Manager.Start(c.Request.Context(), body.SteamID)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidSteamID):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid SteamID"})
		case errors.Is(err, session.ErrCapacity):
			c.JSON(http.StatusConflict, gin.H{"error": "Maximum session count reached"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		}
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"created": created,
		"session": gin.H{
			"steamId":   sess.ID2,
			"online":    sess.Online,
			"startedAt": sess.StartedAt,
			"viewUrl":   h.Manager.ViewURL(sess.Token),
		},
	})
}

func (h *OperatorHandler) Stop(c *gin.Context) {
	deleted, err := h.Manager.Stop(c.Request.Context(), c.Param("steamid"))
	if err != nil {
		if errors.Is(err, session.ErrInvalidSteamID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid SteamID"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *OperatorHandler) List(c *gin.Context) {
	summaries, err := h.Manager.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}

	resp := make([]gin.H, 0, len(summaries))
	for _, s := range summaries {
		resp = append(resp, gin.H{
			"steamId": s.ID2,
			"online":  s.Online,
			"viewUrl": h.Manager.ViewURL(s.Token),
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": resp})
}

// Active lists live session ids. Unauthenticated, mirrors the capture
// clients' polling endpoint.
func (h *OperatorHandler) Active(c *gin.Context) {
	ids, err := h.Manager.ActiveIDs(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}
	c.JSON(http.StatusOK, ids)
}
