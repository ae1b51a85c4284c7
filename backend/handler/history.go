package handler

import (
	"net/http"

	"github.com/AnTengye/compliancecheck/backend/middleware"
	"github.com/AnTengye/compliancecheck/backend/pkg/logger"
	"github.com/AnTengye/compliancecheck/backend/service"
	"github.com/gin-gonic/gin"
)

// HistoryHandler exposes the tenant's analysis history. A nil repository
// means history is disabled and every route answers 503.
type HistoryHandler struct {
	repo *service.HistoryRepository
}

func NewHistoryHandler(repo *service.HistoryRepository) *HistoryHandler {
	return &HistoryHandler{repo: repo}
}

func (h *HistoryHandler) available(c *gin.Context) bool {
	if h.repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "History is not enabled"})
		return false
	}
	return true
}

// List returns the tenant's analyses, newest first.
func (h *HistoryHandler) List(c *gin.Context) {
	if !h.available(c) {
		return
	}
	entries, err := h.repo.List(c.Request.Context(), middleware.GetTenant(c))
	if err != nil {
		logger.Error(c.Request.Context(), "failed to list history", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}

// Stats returns aggregate numbers over the tenant's history.
func (h *HistoryHandler) Stats(c *gin.Context) {
	if !h.available(c) {
		return
	}
	stats, err := h.repo.Stats(c.Request.Context(), middleware.GetTenant(c))
	if err != nil {
		logger.Error(c.Request.Context(), "failed to compute history stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load history"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Clear deletes the tenant's history.
func (h *HistoryHandler) Clear(c *gin.Context) {
	if !h.available(c) {
		return
	}
	n, err := h.repo.Clear(c.Request.Context(), middleware.GetTenant(c))
	if err != nil {
		logger.Error(c.Request.Context(), "failed to clear history", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear history"})
		return
	}
	logger.Info(c.Request.Context(), "history cleared", "deleted", n)
	c.JSON(http.StatusOK, gin.H{"message": "History cleared", "deleted": n})
}
