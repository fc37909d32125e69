package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// SubmissionStatus represents the lifecycle state of an import submission.
// QUEUED and RUNNING are transient; the remaining states are terminal.
type SubmissionStatus string

const (
	SubmissionQueued         SubmissionStatus = "QUEUED"
	SubmissionRunning        SubmissionStatus = "RUNNING"
	SubmissionPartialSuccess SubmissionStatus = "PARTIAL_SUCCESS"
	SubmissionCompleted      SubmissionStatus = "COMPLETED"
	SubmissionFailed         SubmissionStatus = "FAILED"
)

// Terminal reports whether the status is a final state.
func (s SubmissionStatus) Terminal() bool {
	switch s {
	case SubmissionPartialSuccess, SubmissionCompleted, SubmissionFailed:
		return true
	}
	return false
}

// CanTransition reports whether a forward transition from s to next is legal.
// Terminal states accept no transitions; status never regresses.
func (s SubmissionStatus) CanTransition(next SubmissionStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case SubmissionQueued:
		return next == SubmissionRunning || next == SubmissionFailed
	case SubmissionRunning:
		return next.Terminal()
	}
	return false
}

// StringArray stores a string slice as JSON text in the database.
type StringArray []string

// Value implements driver.Valuer.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// ImportSubmission is the durable record of one requested import.
// Created QUEUED by the submission API; mutated only by the orchestrator
// afterwards; never deleted by this subsystem.
type ImportSubmission struct {
	ID                 string           `gorm:"type:text;primaryKey" json:"-"`
	SubmissionID       string           `gorm:"type:text;not null;uniqueIndex:idx_submissions_submission_id" json:"submission_id"`
	Requester          string           `gorm:"type:text;not null;index" json:"requester"`
	Provider           Provider         `gorm:"type:text;not null" json:"provider"`
	ExternalIDs        StringArray      `gorm:"type:text" json:"external_ids"`
	ExternalPlaylistID string           `gorm:"type:text" json:"external_playlist_id,omitempty"`
	Forced             bool             `gorm:"default:false" json:"forced"`
	Status             SubmissionStatus `gorm:"type:text;default:QUEUED;index" json:"status"`

	// Statistics counters. Updated only through atomic per-field
	// increments; succeeded + failed + skipped never exceeds total.
	TotalRequested    int `gorm:"default:0" json:"total_requested"`
	AcceptedCount     int `gorm:"default:0" json:"accepted_count"`
	SkippedDuplicates int `gorm:"default:0" json:"skipped_duplicates"`
	SucceededCount    int `gorm:"default:0" json:"succeeded_count"`
	FailedCount       int `gorm:"default:0" json:"failed_count"`

	ErrorMessage string     `gorm:"type:text" json:"error_message,omitempty"`
	QueuedAt     time.Time  `json:"queued_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TableName returns the database table name for ImportSubmission.
func (ImportSubmission) TableName() string {
	return "import_submissions"
}

// ProgressPercent derives completion as (succeeded+skipped)*100/total, capped at 100.
func (s *ImportSubmission) ProgressPercent() int {
	if s.TotalRequested <= 0 {
		return 0
	}
	p := (s.SucceededCount + s.SkippedDuplicates) * 100 / s.TotalRequested
	if p > 100 {
		p = 100
	}
	return p
}
