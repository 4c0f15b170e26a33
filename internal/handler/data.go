package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"keywatch-server/internal/category"
	"keywatch-server/internal/store"
	"keywatch-server/internal/view"
)

// DataHandler serves the token-gated read side. Possession of the token is
// the only access control.
type DataHandler struct {
	Gateway *view.Gateway
}

func (h *DataHandler) Get(c *gin.Context) {
	data, err := h.Gateway.Data(c.Request.Context(), c.Param("token"))
	if err != nil {
		writeDataError(c, err)
		return
	}

	cat, ok := category.Parse(c.Query("category"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid category"})
		return
	}
	data.Logs = view.FilterKeys(data.Logs, cat)
	c.JSON(http.StatusOK, data)
}

func (h *DataHandler) Export(c *gin.Context) {
	data, err := h.Gateway.Data(c.Request.Context(), c.Param("token"))
	if err != nil {
		writeDataError(c, err)
		return
	}

	var csv, filename string
	switch c.DefaultQuery("list", "keys") {
	case "keys":
		cat, ok := category.Parse(c.Query("category"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid category"})
			return
		}
		csv = view.KeysCSV(view.FilterKeys(data.Logs, cat))
		filename = "logs.csv"
	case "clicks":
		csv = view.ClicksCSV(data.Clicks)
		filename = "clicks.csv"
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid list"})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(csv))
}

func writeDataError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Invalid token"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
}
