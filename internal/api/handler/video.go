package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasper/vidmeta/internal/domain"
	"github.com/kasper/vidmeta/internal/repository"
	"github.com/kasper/vidmeta/internal/service"
	"gorm.io/gorm"
)

// VideoHandler handles the read side of the imported catalog.
type VideoHandler struct {
	videos *service.VideoService
}

// NewVideoHandler creates a new video handler.
func NewVideoHandler(videos *service.VideoService) *VideoHandler {
	return &VideoHandler{videos: videos}
}

// List handles GET /api/v1/videos with optional provider, published date
// range, and duration filters.
func (h *VideoHandler) List(c *gin.Context) {
	filter := repository.VideoFilter{}

	if p := c.Query("provider"); p != "" {
		provider := domain.Provider(p)
		if !provider.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown provider: " + p})
			return
		}
		filter.Provider = provider
	}
	if from := c.Query("published_from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "published_from must be RFC3339"})
			return
		}
		filter.PublishedFrom = t
	}
	if to := c.Query("published_to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "published_to must be RFC3339"})
			return
		}
		filter.PublishedTo = t
	}
	filter.MinDurationMillis, _ = strconv.ParseInt(c.Query("min_duration_millis"), 10, 64)
	filter.MaxDurationMillis, _ = strconv.ParseInt(c.Query("max_duration_millis"), 10, 64)

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	videos, total, err := h.videos.Search(c.Request.Context(), filter, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list videos: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"videos": videos,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// Get handles GET /api/v1/videos/:id.
func (h *VideoHandler) Get(c *gin.Context) {
	video, err := h.videos.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Video not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load video: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, video)
}

// Stats handles GET /api/v1/videos/stats.
func (h *VideoHandler) Stats(c *gin.Context) {
	stats, err := h.videos.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get stats: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"providers": stats,
		"total":     len(stats),
	})
}
