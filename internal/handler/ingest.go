package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"keywatch-server/internal/store"
	"keywatch-server/internal/telemetry"
)

// IngestHandler accepts telemetry writes. The shared-secret check happens
// in middleware before any of these run.
type IngestHandler struct {
	Telemetry *telemetry.Service
}

type keyBody struct {
	SteamID string `json:"steamid" binding:"required"`
	Key     string `json:"key" binding:"required,max=50"`
}

type presenceBody struct {
	SteamID string `json:"steamid" binding:"required"`
	Event   string `json:"event" binding:"required"`
}

type clickBody struct {
	SteamID string `json:"steamid" binding:"required"`
	Click   *struct {
		X *float64 `json:"x" binding:"required"`
		Y *float64 `json:"y" binding:"required"`
		W *int     `json:"w" binding:"required"`
		H *int     `json:"h" binding:"required"`
	} `json:"click" binding:"required"`
}

func (h *IngestHandler) Key(c *gin.Context) {
	var body keyBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	err := h.Telemetry.RecordKey(c.Request.Context(), body.SteamID, body.Key)
	if err != nil {
		writeIngestError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *IngestHandler) Presence(c *gin.Context) {
	var body presenceBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	kind, ok := telemetry.ParsePresenceKind(body.Event)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	err := h.Telemetry.RecordPresence(c.Request.Context(), body.SteamID, kind)
	if err != nil {
		writeIngestError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *IngestHandler) Click(c *gin.Context) {
	var body clickBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	err := h.Telemetry.RecordClick(c.Request.Context(), body.SteamID, *body.Click.X, *body.Click.Y, *body.Click.W, *body.Click.H)
	if err != nil {
		writeIngestError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func writeIngestError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, telemetry.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
	case errors.Is(err, store.ErrQuotaExceeded):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Quota exceeded"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}
