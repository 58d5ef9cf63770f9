package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/aiscore/internal/logging"
	"github.com/example/aiscore/internal/repository"
)

// Snapshot is the state of a job at query time. Score and ModelVersion are
// set only when complete, ErrorReason only on error, Asset only when complete.
type Snapshot struct {
	JobID        uint                        `json:"job_id"`
	FileName     string                      `json:"file_name"`
	ByteSize     int64                       `json:"byte_size"`
	TimeUploaded time.Time                   `json:"time_uploaded"`
	Status       repository.PredictionStatus `json:"status"`
	Score        *float64                    `json:"score,omitempty"`
	ModelVersion string                      `json:"model_version,omitempty"`
	ErrorReason  string                      `json:"error_reason,omitempty"`
	BlobKey      string                      `json:"blob_key"`
	Asset        []byte                      `json:"-"`
}

// DuplicateReport lists jobs whose uploaded bytes match the requested job.
type DuplicateReport struct {
	Request    *Snapshot
	Duplicates []*Snapshot
}

// QueryUseCase answers status polls. It never writes to the data store.
type QueryUseCase struct {
	retrier
	repo     JobRepository
	blobs    BlobStore
	cache    Cache
	cacheTTL time.Duration
}

// NewQueryUseCase constructs the status query service.
func NewQueryUseCase(repo JobRepository, blobs BlobStore, cache Cache, logger *zap.Logger) *QueryUseCase {
	return &QueryUseCase{
		retrier:  newRetrier(logger.Named("query_usecase")),
		repo:     repo,
		blobs:    blobs,
		cache:    cache,
		cacheTTL: 10 * time.Minute,
	}
}

// Query returns the current snapshot of a job, fetching the asset once the
// prediction is complete.
func (uc *QueryUseCase) Query(ctx context.Context, jobID uint) (*Snapshot, error) {
	const op = "query.query"
	requestID := strconv.FormatUint(uint64(jobID), 10)
	opLogger := logging.WithOperation(uc.logger, op, requestID)

	snap, cached := uc.cachedSnapshot(ctx, jobID)
	if !cached {
		job, err := uc.repo.FindJobByID(ctx, jobID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, newError(ErrNotFound, op, err)
			}
			opLogger.Error("failed to load job", zap.Error(err))
			return nil, newError(ErrUpstream, op, err)
		}
		snap = snapshotOf(job)
		// error can still move to complete under the reprocess policy
		if snap.Status == repository.StatusComplete {
			uc.storeSnapshot(ctx, snap)
		}
	}

	if snap.Status != repository.StatusComplete {
		return snap, nil
	}

	data, err := uc.blobs.Get(ctx, snap.BlobKey)
	if err != nil {
		opLogger.Error("failed to fetch asset for complete job", zap.Error(err))
		return nil, newError(ErrUpstream, op, err)
	}
	snap.Asset = data
	return snap, nil
}

// GetDuplicateReport builds a duplicate detection report for a job.
func (uc *QueryUseCase) GetDuplicateReport(ctx context.Context, jobID uint) (*DuplicateReport, error) {
	const op = "query.duplicates"
	job, err := uc.repo.FindJobByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(ErrNotFound, op, err)
		}
		return nil, newError(ErrUpstream, op, err)
	}

	duplicates, err := uc.repo.FindDuplicatesByHash(ctx, job.SHA1Hash, job.ID)
	if err != nil {
		return nil, newError(ErrUpstream, op, err)
	}

	report := &DuplicateReport{Request: snapshotOf(job)}
	for _, d := range duplicates {
		report.Duplicates = append(report.Duplicates, snapshotOf(d))
	}
	return report, nil
}

func snapshotOf(job *repository.Job) *Snapshot {
	snap := &Snapshot{
		JobID:        job.ID,
		FileName:     job.OriginalFilename,
		ByteSize:     job.ByteSize,
		TimeUploaded: job.CreatedAt.UTC(),
		BlobKey:      job.BlobKey,
		Status:       repository.StatusPending,
	}
	p := job.Prediction
	if p == nil {
		return snap
	}
	snap.Status = p.Status
	switch p.Status {
	case repository.StatusComplete:
		snap.Score = p.Score
		snap.ModelVersion = p.ModelVersion
	case repository.StatusError:
		snap.ErrorReason = p.ErrorReason
	}
	return snap
}

// cachedSnapshot reads a complete snapshot. Cache trouble is logged and
// treated as a miss.
func (uc *QueryUseCase) cachedSnapshot(ctx context.Context, jobID uint) (*Snapshot, bool) {
	requestID := strconv.FormatUint(uint64(jobID), 10)
	var raw string
	err := uc.withRedisRetry(ctx, requestID, "cache.get.snapshot", func() error {
		v, err := uc.cache.Get(ctx, snapshotKey(jobID))
		raw = v
		return err
	})
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.WithOperation(uc.logger, "query.query", requestID).Warn("failed to read cache", zap.Error(err))
		}
		return nil, false
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil || snap.Status != repository.StatusComplete {
		logging.WithOperation(uc.logger, "query.query", requestID).Warn("discarding unusable cached snapshot", zap.Error(err))
		return nil, false
	}
	return &snap, true
}

func (uc *QueryUseCase) storeSnapshot(ctx context.Context, snap *Snapshot) {
	requestID := strconv.FormatUint(uint64(snap.JobID), 10)
	serialized, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.snapshot", func() error {
		return uc.cache.Set(ctx, snapshotKey(snap.JobID), string(serialized), uc.cacheTTL)
	}); err != nil {
		logging.WithOperation(uc.logger, "query.query", requestID).Warn("failed to cache snapshot", zap.Error(err))
	}
}
