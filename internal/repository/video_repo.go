package repository

import (
	"context"
	"time"

	"github.com/kasper/vidmeta/internal/domain"
	"gorm.io/gorm"
)

// VideoRepository handles video metadata persistence.
type VideoRepository struct {
	db *gorm.DB
}

// NewVideoRepository creates a new VideoRepository bound to db.
func NewVideoRepository(db *gorm.DB) *VideoRepository {
	return &VideoRepository{db: db}
}

// Create inserts a new video record.
func (r *VideoRepository) Create(ctx context.Context, video *domain.Video) error {
	return r.db.WithContext(ctx).Create(video).Error
}

// GetByID retrieves a video by its ID.
func (r *VideoRepository) GetByID(ctx context.Context, id string) (*domain.Video, error) {
	var video domain.Video
	if err := r.db.WithContext(ctx).First(&video, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &video, nil
}

// ExistsByProviderAndExternalID checks whether a video was already imported
// for the given (provider, externalID) pair.
func (r *VideoRepository) ExistsByProviderAndExternalID(ctx context.Context, provider domain.Provider, externalID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Video{}).
		Where("provider = ? AND external_id = ?", provider, externalID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// VideoFilter narrows List results. Zero values mean "no constraint".
type VideoFilter struct {
	Provider          domain.Provider
	PublishedFrom     time.Time
	PublishedTo       time.Time
	MinDurationMillis int64
	MaxDurationMillis int64
}

// List retrieves videos matching the filter with pagination, newest first.
func (r *VideoRepository) List(ctx context.Context, filter VideoFilter, limit, offset int) ([]domain.Video, int64, error) {
	query := r.db.WithContext(ctx).Model(&domain.Video{})

	if filter.Provider != "" {
		query = query.Where("provider = ?", filter.Provider)
	}
	if !filter.PublishedFrom.IsZero() {
		query = query.Where("published_at >= ?", filter.PublishedFrom)
	}
	if !filter.PublishedTo.IsZero() {
		query = query.Where("published_at < ?", filter.PublishedTo)
	}
	if filter.MinDurationMillis > 0 {
		query = query.Where("duration_millis >= ?", filter.MinDurationMillis)
	}
	if filter.MaxDurationMillis > 0 {
		query = query.Where("duration_millis <= ?", filter.MaxDurationMillis)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var videos []domain.Video
	if err := query.
		Limit(limit).
		Offset(offset).
		Order("published_at DESC").
		Find(&videos).Error; err != nil {
		return nil, 0, err
	}
	return videos, total, nil
}

// StatsPerProvider returns video count and average duration per provider.
func (r *VideoRepository) StatsPerProvider(ctx context.Context) ([]domain.ProviderStats, error) {
	var stats []domain.ProviderStats
	if err := r.db.WithContext(ctx).Model(&domain.Video{}).
		Select("provider, COUNT(*) AS video_count, CAST(COALESCE(AVG(duration_millis), 0) AS INTEGER) AS avg_duration_millis").
		Group("provider").
		Scan(&stats).Error; err != nil {
		return nil, err
	}
	return stats, nil
}
