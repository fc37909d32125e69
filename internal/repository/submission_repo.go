package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/kasper/vidmeta/internal/domain"
	"gorm.io/gorm"
)

// SubmissionRepository handles import submission persistence.
//
// Counter mutations go through single-statement increments
// (column = column + 1) so that concurrent pipeline stages never
// overwrite each other's progress.
type SubmissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository creates a new SubmissionRepository bound to db.
func NewSubmissionRepository(db *gorm.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// Create inserts a new submission record.
func (r *SubmissionRepository) Create(ctx context.Context, sub *domain.ImportSubmission) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

// GetBySubmissionID retrieves a submission by its public submission id.
func (r *SubmissionRepository) GetBySubmissionID(ctx context.Context, submissionID string) (*domain.ImportSubmission, error) {
	var sub domain.ImportSubmission
	if err := r.db.WithContext(ctx).First(&sub, "submission_id = ?", submissionID).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// MarkRunning transitions a QUEUED submission to RUNNING and stamps started_at.
// The WHERE guard keeps the transition forward-only.
func (r *SubmissionRepository) MarkRunning(ctx context.Context, submissionID string, startedAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&domain.ImportSubmission{}).
		Where("submission_id = ? AND status = ?", submissionID, domain.SubmissionQueued).
		Updates(map[string]interface{}{
			"status":     domain.SubmissionRunning,
			"started_at": startedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("submission %s is not in QUEUED state", submissionID)
	}
	return nil
}

// Finalize moves a non-terminal submission to a terminal status and stamps
// finished_at. errMsg may be empty. Already-terminal rows are left untouched.
func (r *SubmissionRepository) Finalize(ctx context.Context, submissionID string, status domain.SubmissionStatus, errMsg string, finishedAt time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}
	updates := map[string]interface{}{
		"status":      status,
		"finished_at": finishedAt,
	}
	if errMsg != "" {
		updates["error_message"] = errMsg
	}
	return r.db.WithContext(ctx).Model(&domain.ImportSubmission{}).
		Where("submission_id = ? AND status IN ?", submissionID,
			[]domain.SubmissionStatus{domain.SubmissionQueued, domain.SubmissionRunning}).
		Updates(updates).Error
}

// SetCounts records the resolved id counts once the orchestrator knows them
// (after optional playlist resolution).
func (r *SubmissionRepository) SetCounts(ctx context.Context, submissionID string, totalRequested, accepted int) error {
	return r.db.WithContext(ctx).Model(&domain.ImportSubmission{}).
		Where("submission_id = ?", submissionID).
		Updates(map[string]interface{}{
			"total_requested": totalRequested,
			"accepted_count":  accepted,
		}).Error
}

// IncrementSucceeded atomically adds one to succeeded_count.
func (r *SubmissionRepository) IncrementSucceeded(ctx context.Context, submissionID string) error {
	return r.increment(ctx, submissionID, "succeeded_count", "")
}

// IncrementSkipped atomically adds one to skipped_duplicates.
func (r *SubmissionRepository) IncrementSkipped(ctx context.Context, submissionID string) error {
	return r.increment(ctx, submissionID, "skipped_duplicates", "")
}

// IncrementFailed atomically adds one to failed_count and records the error
// message. The most recent failure wins.
func (r *SubmissionRepository) IncrementFailed(ctx context.Context, submissionID, errMsg string) error {
	return r.increment(ctx, submissionID, "failed_count", errMsg)
}

func (r *SubmissionRepository) increment(ctx context.Context, submissionID, column, errMsg string) error {
	updates := map[string]interface{}{
		column: gorm.Expr(column+" + ?", 1),
	}
	if errMsg != "" {
		updates["error_message"] = errMsg
	}
	return r.db.WithContext(ctx).Model(&domain.ImportSubmission{}).
		Where("submission_id = ?", submissionID).
		Updates(updates).Error
}
