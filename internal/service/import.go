package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kasper/vidmeta/internal/config"
	"github.com/kasper/vidmeta/internal/domain"
	"github.com/kasper/vidmeta/internal/logger"
	"github.com/kasper/vidmeta/internal/ratelimit"
)

// ErrRateLimited is returned when a rate bucket denies the submission.
var ErrRateLimited = errors.New("import rate limit exceeded")

// ValidationError reports a rejected submission request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// SubmitRequest is an accepted import request from the API layer.
type SubmitRequest struct {
	Requester          string
	Provider           domain.Provider
	ExternalIDs        []string
	ExternalPlaylistID string
	Forced             bool
}

// Submitter hands accepted submissions to the worker pool.
type Submitter interface {
	Submit(submissionID string) (<-chan struct{}, error)
}

// ImportService accepts import requests, applies the submission-time rate
// buckets, persists the QUEUED record, and dispatches the run.
type ImportService struct {
	submissions SubmissionStore
	limiter     RateLimiter
	dispatcher  Submitter
	logger      *logger.Logger
	rates       *config.RateLimitConfig
	nowFn       func() time.Time
}

// NewImportService wires the submission path.
func NewImportService(
	submissions SubmissionStore,
	limiter RateLimiter,
	dispatcher Submitter,
	log *logger.Logger,
	rates *config.RateLimitConfig,
) *ImportService {
	return &ImportService{
		submissions: submissions,
		limiter:     limiter,
		dispatcher:  dispatcher,
		logger:      log,
		rates:       rates,
		nowFn:       time.Now,
	}
}

func (s *ImportService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// Submit validates and accepts an import request. The returned submission is
// QUEUED; progress is observed through GetProgress. A full worker queue does
// not fail the call: the submission is finalized FAILED and still returned.
func (s *ImportService) Submit(ctx context.Context, req SubmitRequest) (*domain.ImportSubmission, error) {
	if err := validateSubmit(&req); err != nil {
		return nil, err
	}

	if err := s.checkRate(ctx, ratelimit.GlobalKey(), &s.rates.Global); err != nil {
		return nil, err
	}
	if err := s.checkRate(ctx, ratelimit.UserKey(req.Requester), &s.rates.PerUser); err != nil {
		return nil, err
	}

	now := s.nowFn()
	sub := &domain.ImportSubmission{
		ID:                 uuid.New().String(),
		SubmissionID:       uuid.New().String(),
		Requester:          req.Requester,
		Provider:           req.Provider,
		ExternalIDs:        req.ExternalIDs,
		ExternalPlaylistID: req.ExternalPlaylistID,
		Forced:             req.Forced,
		Status:             domain.SubmissionQueued,
		TotalRequested:     len(req.ExternalIDs),
		QueuedAt:           now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.submissions.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to record submission: %w", err)
	}

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldSubmissionID: sub.SubmissionID,
		logger.FieldRequester:    sub.Requester,
		logger.FieldProvider:     string(sub.Provider),
		logger.FieldCount:        len(sub.ExternalIDs),
	}).Info("Import submission accepted")

	if _, err := s.dispatcher.Submit(sub.SubmissionID); err != nil {
		// Capacity rejection is recorded on the submission, not thrown:
		// the caller still gets the id and reads the outcome via progress.
		msg := "rejected at capacity: " + err.Error()
		if ferr := s.submissions.Finalize(ctx, sub.SubmissionID, domain.SubmissionFailed, msg, s.nowFn()); ferr != nil {
			s.log(ctx).WithError(ferr).Error("Failed to finalize capacity-rejected submission")
		}
		sub.Status = domain.SubmissionFailed
		sub.ErrorMessage = msg
	}
	return sub, nil
}

func (s *ImportService) checkRate(ctx context.Context, key string, bucket *config.BucketConfig) error {
	res, err := s.limiter.TryConsume(ctx, key, ratelimit.Request{
		Tokens:       1,
		Capacity:     bucket.Capacity,
		RefillTokens: bucket.RefillTokens,
		RefillPeriod: bucket.RefillPeriod,
	})
	if err != nil {
		return fmt.Errorf("%w: limiter unavailable: %v", ErrRateLimited, err)
	}
	if !res.Allowed {
		return fmt.Errorf("%w: retry after %s", ErrRateLimited, res.ResetAt.Format(time.RFC3339))
	}
	return nil
}

// GetProgress returns the current submission projection.
func (s *ImportService) GetProgress(ctx context.Context, submissionID string) (*domain.ImportSubmission, error) {
	return s.submissions.GetBySubmissionID(ctx, submissionID)
}

func validateSubmit(req *SubmitRequest) error {
	req.Requester = strings.TrimSpace(req.Requester)
	if req.Requester == "" {
		return &ValidationError{Field: "requester", Reason: "must not be empty"}
	}
	if !req.Provider.Valid() {
		return &ValidationError{Field: "provider", Reason: fmt.Sprintf("unknown provider %q", req.Provider)}
	}

	ids := make([]string, 0, len(req.ExternalIDs))
	for _, id := range req.ExternalIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return &ValidationError{Field: "external_ids", Reason: "ids must not be blank"}
		}
		ids = append(ids, id)
	}
	req.ExternalIDs = ids
	req.ExternalPlaylistID = strings.TrimSpace(req.ExternalPlaylistID)

	if len(req.ExternalIDs) == 0 && req.ExternalPlaylistID == "" {
		return &ValidationError{Field: "external_ids", Reason: "either external_ids or external_playlist_id is required"}
	}
	return nil
}
