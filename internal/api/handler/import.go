package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasper/vidmeta/internal/domain"
	"github.com/kasper/vidmeta/internal/service"
	"gorm.io/gorm"
)

// ImportHandler handles import submission and progress endpoints.
type ImportHandler struct {
	imports *service.ImportService
}

// NewImportHandler creates a new import handler.
func NewImportHandler(imports *service.ImportService) *ImportHandler {
	return &ImportHandler{imports: imports}
}

type submitRequest struct {
	Provider           string   `json:"provider" binding:"required"`
	ExternalIDs        []string `json:"external_ids"`
	ExternalPlaylistID string   `json:"external_playlist_id"`
	Forced             bool     `json:"forced"`
}

// Submit handles POST /api/v1/imports. The requester identity arrives in the
// X-Requester header; authentication happens upstream of this service.
func (h *ImportHandler) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	requester := c.GetHeader("X-Requester")
	sub, err := h.imports.Submit(c.Request.Context(), service.SubmitRequest{
		Requester:          requester,
		Provider:           domain.Provider(req.Provider),
		ExternalIDs:        req.ExternalIDs,
		ExternalPlaylistID: req.ExternalPlaylistID,
		Forced:             req.Forced,
	})
	if err != nil {
		var verr *service.ValidationError
		switch {
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
		case errors.Is(err, service.ErrRateLimited):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to accept import: " + err.Error()})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"submission_id": sub.SubmissionID,
		"provider":      sub.Provider,
		"status":        sub.Status,
		"forced":        sub.Forced,
		"queued_at":     sub.QueuedAt,
	})
}

// GetProgress handles GET /api/v1/imports/:id.
func (h *ImportHandler) GetProgress(c *gin.Context) {
	sub, err := h.imports.GetProgress(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Submission not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load submission: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"submission_id":        sub.SubmissionID,
		"requester":            sub.Requester,
		"provider":             sub.Provider,
		"external_ids":         sub.ExternalIDs,
		"external_playlist_id": sub.ExternalPlaylistID,
		"forced":               sub.Forced,
		"status":               sub.Status,
		"total_requested":      sub.TotalRequested,
		"accepted_count":       sub.AcceptedCount,
		"skipped_duplicates":   sub.SkippedDuplicates,
		"succeeded_count":      sub.SucceededCount,
		"failed_count":         sub.FailedCount,
		"progress_percent":     sub.ProgressPercent(),
		"error_message":        sub.ErrorMessage,
		"queued_at":            sub.QueuedAt,
		"started_at":           sub.StartedAt,
		"finished_at":          sub.FinishedAt,
	})
}
