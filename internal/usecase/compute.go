package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/aiscore/internal/inference"
	"github.com/example/aiscore/internal/logging"
	"github.com/example/aiscore/internal/metrics"
	"github.com/example/aiscore/internal/repository"
)

// Error reasons recorded on predictions.
const (
	ReasonBlobFetchFailed      = "blob fetch failed"
	ReasonInvalidResponse      = "invalid inference response"
	ReasonRejected             = "inference rejected input"
	ReasonInferenceUnavailable = "inference unavailable"
)

// ComputeOptions tunes the worker.
type ComputeOptions struct {
	Prefix           string
	ModelVersion     string
	InferenceTimeout time.Duration
	RetryBudget      int
	AllowReprocess   bool
}

// ComputeUseCase turns a blob notification into a terminal prediction.
// Handle may run concurrently for the same key; the conditional transition
// in the repository picks a single winner.
type ComputeUseCase struct {
	retrier
	repo      JobRepository
	blobs     BlobStore
	scorer    inference.Client
	cache     Cache
	metrics   *metrics.Metrics
	opts      ComputeOptions
	lookupTry int
	lookupGap time.Duration
}

// NewComputeUseCase constructs the compute worker.
func NewComputeUseCase(repo JobRepository, blobs BlobStore, scorer inference.Client, cache Cache, m *metrics.Metrics, opts ComputeOptions, logger *zap.Logger) *ComputeUseCase {
	if opts.RetryBudget < 1 {
		opts.RetryBudget = 1
	}
	return &ComputeUseCase{
		retrier:   newRetrier(logger.Named("compute_usecase")),
		repo:      repo,
		blobs:     blobs,
		scorer:    scorer,
		cache:     cache,
		metrics:   m,
		opts:      opts,
		lookupTry: 3,
		lookupGap: 100 * time.Millisecond,
	}
}

// Handle processes one delivery. A nil error or a non-retryable error means
// the delivery is finished; errors matching ErrRetryable ask for redelivery.
func (uc *ComputeUseCase) Handle(ctx context.Context, n Notification) error {
	const op = "compute.handle"
	opLogger := logging.WithOperation(uc.logger, op, n.BlobKey)

	if n.BlobKey == "" {
		return validationError(op, "notification has no blob key")
	}
	if !strings.HasPrefix(n.BlobKey, uc.opts.Prefix) {
		opLogger.Debug("ignoring key outside asset prefix")
		return nil
	}

	job, err := uc.lookup(ctx, n.BlobKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return uc.retryOrGiveUp(ctx, op, n.BlobKey, nil, "job_not_found", err)
		}
		return err
	}

	from := []repository.PredictionStatus{repository.StatusPending}
	status := job.Prediction.Status
	switch {
	case status == repository.StatusPending:
	case status == repository.StatusError && uc.opts.AllowReprocess:
		from = append(from, repository.StatusError)
	default:
		uc.metrics.DuplicatesDiscarded.Inc()
		opLogger.Info("prediction already terminal; skipping", zap.Uint("job_id", job.ID), zap.String("status", string(status)))
		return nil
	}

	data, err := uc.blobs.Get(ctx, n.BlobKey)
	if err != nil {
		opLogger.Error("blob fetch failed", zap.Uint("job_id", job.ID), zap.Error(err))
		return uc.recordError(ctx, job, ReasonBlobFetchFailed)
	}

	scoreCtx, cancel := context.WithTimeout(ctx, uc.opts.InferenceTimeout)
	started := time.Now()
	result, err := uc.scorer.Predict(scoreCtx, data)
	cancel()
	uc.metrics.InferenceDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled) && ctx.Err() != nil:
			return newError(ErrRetryable, op, err)
		case inference.Retryable(err):
			return uc.retryOrGiveUp(ctx, op, n.BlobKey, job, "inference_unavailable", err)
		case errors.Is(err, inference.ErrRejected):
			opLogger.Warn("inference rejected input", zap.Uint("job_id", job.ID), zap.Error(err))
			return uc.recordError(ctx, job, ReasonRejected)
		default:
			opLogger.Warn("invalid inference response", zap.Uint("job_id", job.ID), zap.Error(err))
			return uc.recordError(ctx, job, ReasonInvalidResponse)
		}
	}

	score := Score(result.ProbabilityReal)
	won, err := uc.repo.TransitionPrediction(ctx, job.ID, repository.Transition{
		From:         from,
		To:           repository.StatusComplete,
		Score:        score,
		ModelVersion: uc.opts.ModelVersion,
	})
	if err != nil {
		opLogger.Error("failed to commit score", zap.Uint("job_id", job.ID), zap.Error(err))
		return newError(ErrRetryable, op, newError(ErrUpstream, op, err))
	}
	if !won {
		uc.metrics.DuplicatesDiscarded.Inc()
		opLogger.Info("lost completion race; discarding score", zap.Uint("job_id", job.ID))
		return nil
	}

	uc.metrics.PredictionsComplete.Inc()
	uc.clearAttempts(ctx, n.BlobKey)
	opLogger.Info("prediction complete", zap.Uint("job_id", job.ID), zap.Float64("score", score))
	return nil
}

// Score converts the endpoint's probability of "real" into the percentage
// likelihood of the image being AI generated.
func Score(probabilityReal float64) float64 {
	return 100 * (1 - probabilityReal)
}

// lookup resolves the blob key, backing off while the job is not visible yet.
func (uc *ComputeUseCase) lookup(ctx context.Context, blobKey string) (*repository.Job, error) {
	const op = "compute.lookup"
	gap := uc.lookupGap
	for attempt := 0; ; attempt++ {
		job, err := uc.repo.FindJobByBlobKey(ctx, blobKey)
		if err == nil {
			if job.Prediction == nil {
				return nil, newError(ErrUpstream, op, errors.New("job has no prediction row"))
			}
			return job, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, newError(ErrRetryable, op, newError(ErrUpstream, op, err))
		}
		if attempt+1 >= uc.lookupTry {
			return nil, newError(ErrNotFound, op, err)
		}
		if err := sleep(ctx, gap); err != nil {
			return nil, newError(ErrRetryable, op, err)
		}
		gap *= 2
	}
}

// retryOrGiveUp counts a retryable failure against the key's budget. While
// budget remains the prediction is left untouched and ErrRetryable is
// returned. Once spent, a known job is moved to error; an unknown key is
// dropped.
func (uc *ComputeUseCase) retryOrGiveUp(ctx context.Context, op, blobKey string, job *repository.Job, cause string, failure error) error {
	opLogger := logging.WithOperation(uc.logger, op, blobKey)
	uc.metrics.RetryableFailures.WithLabelValues(cause).Inc()

	var attempts int64
	err := uc.withRedisRetry(ctx, blobKey, "cache.incr.attempts", func() error {
		n, err := uc.cache.Incr(ctx, attemptsKey(blobKey), 24*time.Hour)
		attempts = n
		return err
	})
	if err != nil {
		opLogger.Warn("failed to count attempt", zap.Error(err))
		return newError(ErrRetryable, op, failure)
	}

	if attempts < int64(uc.opts.RetryBudget) {
		opLogger.Warn("retryable failure", zap.String("cause", cause), zap.Int64("attempt", attempts), zap.Error(failure))
		return newError(ErrRetryable, op, failure)
	}

	opLogger.Error("retry budget exhausted", zap.String("cause", cause), zap.Int64("attempt", attempts), zap.Error(failure))
	if job == nil {
		return newError(ErrNotFound, op, failure)
	}
	if err := uc.recordError(ctx, job, ReasonInferenceUnavailable); err != nil {
		return err
	}
	uc.clearAttempts(ctx, blobKey)
	return nil
}

// recordError moves a pending prediction to error. Losing the race to
// another writer is not a failure.
func (uc *ComputeUseCase) recordError(ctx context.Context, job *repository.Job, reason string) error {
	const op = "compute.record_error"
	won, err := uc.repo.TransitionPrediction(ctx, job.ID, repository.Transition{
		From:        []repository.PredictionStatus{repository.StatusPending},
		To:          repository.StatusError,
		ErrorReason: reason,
	})
	if err != nil {
		uc.logger.Error("failed to record error status", zap.Uint("job_id", job.ID), zap.String("reason", reason), zap.Error(err))
		return newError(ErrRetryable, op, newError(ErrUpstream, op, err))
	}
	if !won {
		uc.metrics.DuplicatesDiscarded.Inc()
		return nil
	}
	uc.metrics.PredictionsErrored.WithLabelValues(reason).Inc()
	return nil
}

func (uc *ComputeUseCase) clearAttempts(ctx context.Context, blobKey string) {
	if err := uc.cache.Del(ctx, attemptsKey(blobKey)); err != nil {
		uc.logger.Debug("failed to clear attempt counter", zap.String("blob_key", blobKey), zap.Error(err))
	}
}
