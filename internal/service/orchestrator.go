package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kasper/vidmeta/internal/config"
	"github.com/kasper/vidmeta/internal/domain"
	"github.com/kasper/vidmeta/internal/lock"
	"github.com/kasper/vidmeta/internal/logger"
	"github.com/kasper/vidmeta/internal/provider"
	"github.com/kasper/vidmeta/internal/ratelimit"
	"gorm.io/gorm"
)

// SubmissionStore is the persistence surface the orchestrator needs.
type SubmissionStore interface {
	Create(ctx context.Context, sub *domain.ImportSubmission) error
	GetBySubmissionID(ctx context.Context, submissionID string) (*domain.ImportSubmission, error)
	MarkRunning(ctx context.Context, submissionID string, startedAt time.Time) error
	Finalize(ctx context.Context, submissionID string, status domain.SubmissionStatus, errMsg string, finishedAt time.Time) error
	SetCounts(ctx context.Context, submissionID string, totalRequested, accepted int) error
	IncrementSucceeded(ctx context.Context, submissionID string) error
	IncrementSkipped(ctx context.Context, submissionID string) error
	IncrementFailed(ctx context.Context, submissionID, errMsg string) error
}

// VideoStore persists imported metadata records.
type VideoStore interface {
	Create(ctx context.Context, video *domain.Video) error
	ExistsByProviderAndExternalID(ctx context.Context, p domain.Provider, externalID string) (bool, error)
}

// RateLimiter is the shared token bucket surface.
type RateLimiter interface {
	TryConsume(ctx context.Context, key string, req ratelimit.Request) (ratelimit.Result, error)
}

// JobLocker serializes runs of the same logical import job. TryLock returns
// a holder token that Unlock requires, so a run that overran the lock TTL
// cannot release a later acquisition of the same name.
type JobLocker interface {
	TryLock(ctx context.Context, name string) (token string, acquired bool, err error)
	Unlock(ctx context.Context, name, token string) error
}

// DuplicateCache suppresses re-fetching recently imported ids.
type DuplicateCache interface {
	Seen(ctx context.Context, p, externalID string) (bool, error)
	Mark(ctx context.Context, p, externalID string) error
}

// ClientRegistry resolves the metadata client for a provider.
type ClientRegistry interface {
	Lookup(p domain.Provider) (provider.Client, error)
}

// Orchestrator drives one import submission through locking, playlist
// resolution, rate-checked concurrent fetching, persistence, and the final
// status decision. It never returns errors to the submitter: everything
// terminal lands in the submission record and the error sink.
type Orchestrator struct {
	submissions SubmissionStore
	videos      VideoStore
	limiter     RateLimiter
	locker      JobLocker
	cache       DuplicateCache
	registry    ClientRegistry
	sink        *ErrorSink
	logger      *logger.Logger

	fanOut       int
	fetchTimeout time.Duration
	runTimeout   time.Duration
	perUser      config.BucketConfig
	nowFn        func() time.Time
}

// NewOrchestrator wires the pipeline dependencies.
func NewOrchestrator(
	submissions SubmissionStore,
	videos VideoStore,
	limiter RateLimiter,
	locker JobLocker,
	cache DuplicateCache,
	registry ClientRegistry,
	sink *ErrorSink,
	log *logger.Logger,
	importCfg *config.ImportConfig,
	perUser config.BucketConfig,
) *Orchestrator {
	fanOut := importCfg.FanOut
	if fanOut < 1 {
		fanOut = 1
	}
	return &Orchestrator{
		submissions:  submissions,
		videos:       videos,
		limiter:      limiter,
		locker:       locker,
		cache:        cache,
		registry:     registry,
		sink:         sink,
		logger:       log,
		fanOut:       fanOut,
		fetchTimeout: importCfg.FetchTimeout,
		runTimeout:   importCfg.RunTimeout,
		perUser:      perUser,
		nowFn:        time.Now,
	}
}

func (o *Orchestrator) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return o.logger
}

type itemOutcome int

const (
	itemSucceeded itemOutcome = iota
	itemSkipped
	itemFailed
)

type itemResult struct {
	externalID string
	outcome    itemOutcome
	err        error
}

// Run executes one submission to completion.
func (o *Orchestrator) Run(ctx context.Context, submissionID string) {
	if o.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.runTimeout)
		defer cancel()
	}

	sub, err := o.submissions.GetBySubmissionID(ctx, submissionID)
	if err != nil {
		o.sink.Publish(ErrorEvent{SubmissionID: submissionID, Stage: "load", Err: err})
		return
	}

	jobKey := jobFingerprint(sub)
	lockToken, acquired, err := o.locker.TryLock(ctx, jobKey)
	if err != nil {
		o.fail(ctx, sub, "lock", fmt.Errorf("import coordination unavailable: %w", err))
		return
	}
	if !acquired {
		o.fail(ctx, sub, "lock", errors.New("an identical import is already running"))
		return
	}
	defer func() {
		// Release on every path; lost locks expire via TTL anyway.
		if err := o.locker.Unlock(context.WithoutCancel(ctx), jobKey, lockToken); err != nil {
			o.log(ctx).WithError(err).Warn("Failed to release import job lock")
		}
	}()

	if err := o.submissions.MarkRunning(ctx, sub.SubmissionID, o.nowFn()); err != nil {
		o.fail(ctx, sub, "transition", err)
		return
	}

	client, err := o.registry.Lookup(sub.Provider)
	if err != nil {
		o.fail(ctx, sub, "provider", err)
		return
	}

	ids, err := o.resolveIDs(ctx, sub, client)
	if err != nil {
		o.fail(ctx, sub, "playlist", err)
		return
	}

	total := len(ids)
	ids = dedupeIDs(ids)
	if err := o.submissions.SetCounts(ctx, sub.SubmissionID, total, len(ids)); err != nil {
		o.fail(ctx, sub, "counts", err)
		return
	}

	o.log(ctx).WithFields(logger.Fields{
		logger.FieldSubmissionID: sub.SubmissionID,
		logger.FieldProvider:     string(sub.Provider),
		logger.FieldCount:        len(ids),
	}).Info("Starting import run")

	var succeeded, skipped, failed int
	var lastErr error
	start := o.nowFn()

	idsChan := make(chan string, o.fanOut)
	resultsChan := make(chan itemResult, o.fanOut)

	var wg sync.WaitGroup
	for i := 0; i < o.fanOut; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range idsChan {
				resultsChan <- o.processOne(ctx, sub, client, id)
			}
		}()
	}

	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for res := range resultsChan {
			switch res.outcome {
			case itemSucceeded:
				succeeded++
				if err := o.submissions.IncrementSucceeded(ctx, sub.SubmissionID); err != nil {
					o.log(ctx).WithError(err).Error("Failed to record success")
				}
			case itemSkipped:
				skipped++
				if err := o.submissions.IncrementSkipped(ctx, sub.SubmissionID); err != nil {
					o.log(ctx).WithError(err).Error("Failed to record skip")
				}
			case itemFailed:
				failed++
				lastErr = res.err
				if err := o.submissions.IncrementFailed(ctx, sub.SubmissionID, res.err.Error()); err != nil {
					o.log(ctx).WithError(err).Error("Failed to record failure")
				}
				o.log(ctx).WithFields(logger.Fields{
					logger.FieldSubmissionID: sub.SubmissionID,
					"external_id":            res.externalID,
				}).WithError(res.err).Warn("Import item failed")
			}
		}
	}()

	for _, id := range ids {
		select {
		case idsChan <- id:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(idsChan)
	wg.Wait()
	close(resultsChan)
	<-collected

	status, errMsg := finalStatus(succeeded, skipped, failed, lastErr)
	if ctx.Err() != nil && status != domain.SubmissionCompleted {
		errMsg = "import run timed out: " + errMsg
	}
	finCtx := context.WithoutCancel(ctx)
	if err := o.submissions.Finalize(finCtx, sub.SubmissionID, status, errMsg, o.nowFn()); err != nil {
		o.sink.Publish(ErrorEvent{SubmissionID: sub.SubmissionID, Requester: sub.Requester, Stage: "finalize", Err: err})
	}
	if status == domain.SubmissionFailed && lastErr != nil {
		o.sink.Publish(ErrorEvent{SubmissionID: sub.SubmissionID, Requester: sub.Requester, Stage: "run", Err: lastErr})
	}

	o.log(ctx).WithFields(logger.Fields{
		logger.FieldSubmissionID: sub.SubmissionID,
		logger.FieldStatus:       string(status),
		"succeeded":              succeeded,
		"skipped":                skipped,
		"failed":                 failed,
		logger.FieldDurationMs:   o.nowFn().Sub(start).Milliseconds(),
	}).Info("Import run finished")
}

// jobFingerprint derives the advisory lock name for a submission's logical job.
func jobFingerprint(sub *domain.ImportSubmission) string {
	return lock.Fingerprint(string(sub.Provider), sub.ExternalPlaylistID, sub.Requester, sub.ExternalIDs)
}

// resolveIDs expands the playlist (when set) and appends explicit ids.
func (o *Orchestrator) resolveIDs(ctx context.Context, sub *domain.ImportSubmission, client provider.Client) ([]string, error) {
	ids := append([]string(nil), sub.ExternalIDs...)
	if sub.ExternalPlaylistID == "" {
		return ids, nil
	}

	resolver, ok := client.(provider.PlaylistResolver)
	if !ok {
		return nil, fmt.Errorf("provider %s does not support playlist imports", sub.Provider)
	}
	playlistIDs, err := resolver.ResolvePlaylist(ctx, sub.ExternalPlaylistID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve playlist %s: %w", sub.ExternalPlaylistID, err)
	}
	return append(ids, playlistIDs...), nil
}

// processOne runs the per-id pipeline: rate check, duplicate checks, fetch,
// persist, cache mark.
func (o *Orchestrator) processOne(ctx context.Context, sub *domain.ImportSubmission, client provider.Client, externalID string) itemResult {
	res := itemResult{externalID: externalID}
	p := string(sub.Provider)

	rate, err := o.limiter.TryConsume(ctx, ratelimit.UserKey(sub.Requester), ratelimit.Request{
		Tokens:       1,
		Capacity:     o.perUser.Capacity,
		RefillTokens: o.perUser.RefillTokens,
		RefillPeriod: o.perUser.RefillPeriod,
	})
	if err != nil || !rate.Allowed {
		res.outcome = itemFailed
		res.err = fmt.Errorf("rate limited for requester %s", sub.Requester)
		if err != nil {
			res.err = fmt.Errorf("rate limiter unavailable: %w", err)
		}
		return res
	}

	if !sub.Forced {
		if seen, _ := o.cache.Seen(ctx, p, externalID); seen {
			res.outcome = itemSkipped
			return res
		}
		exists, err := o.videos.ExistsByProviderAndExternalID(ctx, sub.Provider, externalID)
		if err != nil {
			res.outcome = itemFailed
			res.err = fmt.Errorf("failed to check existing video: %w", err)
			return res
		}
		if exists {
			if err := o.cache.Mark(ctx, p, externalID); err != nil {
				o.log(ctx).WithError(err).Warn("Failed to mark duplicate cache")
			}
			res.outcome = itemSkipped
			return res
		}
	}

	fetchCtx := ctx
	if o.fetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, o.fetchTimeout)
		defer cancel()
	}
	meta, err := client.FetchMetadata(fetchCtx, externalID)
	if err != nil {
		res.outcome = itemFailed
		res.err = fmt.Errorf("fetch %s/%s: %w", p, externalID, err)
		return res
	}

	now := o.nowFn()
	video := &domain.Video{
		ID:             uuid.New().String(),
		Provider:       sub.Provider,
		ExternalID:     externalID,
		Title:          meta.Title,
		Description:    meta.Description,
		DurationMillis: meta.DurationMillis,
		PublishedAt:    meta.PublishedAt,
		ImportedBy:     sub.Requester,
		ImportedAt:     now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := o.videos.Create(ctx, video); err != nil {
		// A concurrent import winning the insert race is a skip, not a failure.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			res.outcome = itemSkipped
			return res
		}
		res.outcome = itemFailed
		res.err = fmt.Errorf("persist %s/%s: %w", p, externalID, err)
		return res
	}

	if err := o.cache.Mark(ctx, p, externalID); err != nil {
		o.log(ctx).WithError(err).Warn("Failed to mark duplicate cache")
	}

	res.outcome = itemSucceeded
	return res
}

// fail moves the submission to FAILED before any item ran.
func (o *Orchestrator) fail(ctx context.Context, sub *domain.ImportSubmission, stage string, cause error) {
	finCtx := context.WithoutCancel(ctx)
	if err := o.submissions.Finalize(finCtx, sub.SubmissionID, domain.SubmissionFailed, cause.Error(), o.nowFn()); err != nil {
		o.log(ctx).WithError(err).Error("Failed to finalize submission")
	}
	o.sink.Publish(ErrorEvent{SubmissionID: sub.SubmissionID, Requester: sub.Requester, Stage: stage, Err: cause})
}

// finalStatus applies the terminal status rules over the run tallies.
func finalStatus(succeeded, skipped, failed int, lastErr error) (domain.SubmissionStatus, string) {
	switch {
	case failed == 0:
		return domain.SubmissionCompleted, ""
	case succeeded == 0:
		return domain.SubmissionFailed, errString(lastErr)
	default:
		return domain.SubmissionPartialSuccess, errString(lastErr)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
