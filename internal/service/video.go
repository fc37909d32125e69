package service

import (
	"context"

	"github.com/kasper/vidmeta/internal/domain"
	"github.com/kasper/vidmeta/internal/repository"
)

// VideoService exposes the read side of the imported catalog.
type VideoService struct {
	videos *repository.VideoRepository
}

// NewVideoService creates a VideoService.
func NewVideoService(videos *repository.VideoRepository) *VideoService {
	return &VideoService{videos: videos}
}

// Get returns one video by id.
func (s *VideoService) Get(ctx context.Context, id string) (*domain.Video, error) {
	return s.videos.GetByID(ctx, id)
}

// Search lists videos matching the filter with pagination.
func (s *VideoService) Search(ctx context.Context, filter repository.VideoFilter, limit, offset int) ([]domain.Video, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.videos.List(ctx, filter, limit, offset)
}

// Stats returns per-provider counts and average durations.
func (s *VideoService) Stats(ctx context.Context) ([]domain.ProviderStats, error) {
	return s.videos.StatsPerProvider(ctx)
}
