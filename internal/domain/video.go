package domain

import "time"

// Provider identifies the external system a video originates from.
type Provider string

const (
	ProviderYouTube  Provider = "YOUTUBE"
	ProviderVimeo    Provider = "VIMEO"
	ProviderInternal Provider = "INTERNAL"
	ProviderOther    Provider = "OTHER"
)

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderYouTube, ProviderVimeo, ProviderInternal, ProviderOther:
		return true
	}
	return false
}

// Video represents a single video metadata record ingested from a provider.
// Uniqueness is enforced on (provider, external_id) to prevent duplicate imports.
type Video struct {
	ID             string    `gorm:"type:text;primaryKey" json:"id"`
	Provider       Provider  `gorm:"type:text;not null;index:idx_videos_provider_external,unique" json:"provider"`
	ExternalID     string    `gorm:"type:text;not null;index:idx_videos_provider_external,unique" json:"external_id"`
	Title          string    `gorm:"type:text;not null" json:"title"`
	Description    string    `gorm:"type:text" json:"description,omitempty"`
	DurationMillis int64     `gorm:"not null;default:0" json:"duration_millis"`
	PublishedAt    time.Time `json:"published_at"`
	ImportedBy     string    `gorm:"type:text;index" json:"imported_by"`
	ImportedAt     time.Time `json:"imported_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName returns the database table name for Video.
func (Video) TableName() string {
	return "videos"
}

// ProviderStats aggregates video counts and durations per provider.
type ProviderStats struct {
	Provider          Provider `json:"provider"`
	VideoCount        int64    `json:"video_count"`
	AvgDurationMillis int64    `json:"avg_duration_millis"`
}
