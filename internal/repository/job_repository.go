package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/aiscore/internal/logging"
)

// ErrNotFound is returned when no job matches the lookup.
var ErrNotFound = errors.New("job not found")

// JobRepository provides persistence APIs for jobs and their predictions.
type JobRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewJobRepository creates a new repository instance.
func NewJobRepository(db *gorm.DB, logger *zap.Logger) *JobRepository {
	return &JobRepository{
		db:             db,
		logger:         logger.Named("job_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *JobRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&Job{}, &Prediction{})
}

// CreateJob commits the job and its pending prediction in one transaction.
// It is not retried: a lost commit acknowledgement must not produce a second job.
func (r *JobRepository) CreateJob(ctx context.Context, job *Job) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Prediction").Create(job).Error; err != nil {
			return err
		}
		prediction := &Prediction{JobID: job.ID, Status: StatusPending}
		if err := tx.Create(prediction).Error; err != nil {
			return err
		}
		job.Prediction = prediction
		return nil
	})
	if err != nil {
		wrapped := logging.NewOperationError("repository.create_job", job.BlobKey, err)
		r.logger.Error("failed to create job", zap.Error(wrapped))
		return wrapped
	}
	return nil
}

// FindJobByID loads a job together with its prediction.
func (r *JobRepository) FindJobByID(ctx context.Context, id uint) (*Job, error) {
	var job Job
	err := r.executeWithRetry(ctx, "repository.find_job_by_id", fmt.Sprint(id), func() error {
		return r.db.WithContext(ctx).Preload("Prediction").First(&job, "id = ?", id).Error
	})
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &job, nil
}

// FindJobByBlobKey resolves an event key to its job and prediction.
func (r *JobRepository) FindJobByBlobKey(ctx context.Context, blobKey string) (*Job, error) {
	var job Job
	err := r.executeWithRetry(ctx, "repository.find_job_by_blob_key", blobKey, func() error {
		return r.db.WithContext(ctx).Preload("Prediction").First(&job, "blob_key = ?", blobKey).Error
	})
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &job, nil
}

// FindDuplicatesByHash lists other jobs whose content hashes match.
func (r *JobRepository) FindDuplicatesByHash(ctx context.Context, hash string, excludeID uint) ([]*Job, error) {
	var jobs []*Job
	err := r.executeWithRetry(ctx, "repository.find_duplicates_by_hash", fmt.Sprint(excludeID), func() error {
		return r.db.WithContext(ctx).
			Preload("Prediction").
			Where("sha1_hash = ? AND id <> ?", hash, excludeID).
			Order("id").
			Find(&jobs).Error
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// TransitionPrediction applies t only if the row's status is still one of
// t.From. It reports false, with no error, when another writer got there first.
func (r *JobRepository) TransitionPrediction(ctx context.Context, jobID uint, t Transition) (bool, error) {
	if len(t.From) == 0 {
		return false, fmt.Errorf("transition to %s has no source states", t.To)
	}

	updates := map[string]interface{}{
		"status":     t.To,
		"updated_at": time.Now().UTC(),
	}
	switch t.To {
	case StatusComplete:
		updates["score"] = t.Score
		updates["model_version"] = t.ModelVersion
		updates["error_reason"] = ""
	case StatusError:
		updates["error_reason"] = t.ErrorReason
	}

	var affected int64
	err := r.executeWithRetry(ctx, "repository.transition_prediction", fmt.Sprint(jobID), func() error {
		res := r.db.WithContext(ctx).
			Model(&Prediction{}).
			Where("job_id = ? AND status IN ?", jobID, t.From).
			Updates(updates)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// AggregateMetrics rolls predictions up by status.
func (r *JobRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	type row struct {
		Status   PredictionStatus
		Count    int64
		AvgScore *float64
	}
	var rows []row
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		rows = rows[:0]
		return r.db.WithContext(ctx).
			Model(&Prediction{}).
			Select("status, COUNT(*) AS count, AVG(score) AS avg_score").
			Group("status").
			Scan(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	agg := &MetricsAggregation{}
	for _, rw := range rows {
		agg.TotalCount += rw.Count
		switch rw.Status {
		case StatusPending:
			agg.PendingCount = rw.Count
		case StatusComplete:
			agg.CompleteCount = rw.Count
			if rw.AvgScore != nil {
				agg.AverageScore = *rw.AvgScore
			}
		case StatusError:
			agg.ErrorCount = rw.Count
		}
	}
	return agg, nil
}

func (r *JobRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if errors.Is(err, gorm.ErrRecordNotFound) {
			return logging.NewOperationError(operation, requestID, err)
		}

		if !IsTransient(err) || attempt == attempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewRetryError(operation, requestID, attempt+1, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewRetryError(operation, requestID, attempts, err)
}

func translateNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// IsTransient reports whether err looks like a timeout or temporary network fault.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
