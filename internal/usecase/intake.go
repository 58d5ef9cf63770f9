package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/aiscore/internal/logging"
	"github.com/example/aiscore/internal/metrics"
	"github.com/example/aiscore/internal/repository"
)

// allowedContentTypes is the extension allow-list and the content type
// each extension is stored with.
var allowedContentTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

// ContentTypeFor returns the declared content type for filename's extension.
func ContentTypeFor(filename string) (string, bool) {
	ct, ok := allowedContentTypes[strings.ToLower(filepath.Ext(filename))]
	return ct, ok
}

// JobRepository defines the persistence operations needed by the use cases.
type JobRepository interface {
	CreateJob(ctx context.Context, job *repository.Job) error
	FindJobByID(ctx context.Context, id uint) (*repository.Job, error)
	FindJobByBlobKey(ctx context.Context, blobKey string) (*repository.Job, error)
	FindDuplicatesByHash(ctx context.Context, hash string, excludeID uint) ([]*repository.Job, error)
	TransitionPrediction(ctx context.Context, jobID uint, t repository.Transition) (bool, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// BlobStore is the asset storage used by intake, the worker and queries.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Notification is the only part of a storage event the worker depends on.
type Notification struct {
	BlobKey string `json:"blob_key"`
}

// Publisher announces that a blob has become visible.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// IntakeUseCase admits uploads.
type IntakeUseCase struct {
	repo      JobRepository
	blobs     BlobStore
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	prefix    string
	newKeyID  func() string
}

// NewIntakeUseCase constructs the intake service. publisher may be nil when
// the bucket itself emits notifications.
func NewIntakeUseCase(repo JobRepository, blobs BlobStore, publisher Publisher, m *metrics.Metrics, prefix string, logger *zap.Logger) *IntakeUseCase {
	return &IntakeUseCase{
		repo:      repo,
		blobs:     blobs,
		publisher: publisher,
		metrics:   m,
		logger:    logger.Named("intake_usecase"),
		prefix:    prefix,
		newKeyID:  uuid.NewString,
	}
}

// Submit validates the upload, commits the job and its pending prediction,
// and only then writes the bytes under the pre-allocated blob key.
func (uc *IntakeUseCase) Submit(ctx context.Context, filename string, data []byte) (uint, error) {
	const op = "intake.submit"

	if strings.TrimSpace(filename) == "" {
		return 0, validationError(op, "filename is required")
	}
	if len(data) == 0 {
		return 0, validationError(op, "data is required")
	}
	ext := strings.ToLower(filepath.Ext(filename))
	contentType, ok := allowedContentTypes[ext]
	if !ok {
		return 0, validationError(op, "unsupported file extension %q", filepath.Ext(filename))
	}

	blobKey := uc.prefix + uc.newKeyID() + ext
	opLogger := logging.WithOperation(uc.logger, op, blobKey)

	hash := sha1.Sum(data)
	job := &repository.Job{
		OriginalFilename: filename,
		ByteSize:         int64(len(data)),
		BlobKey:          blobKey,
		ContentType:      contentType,
		SHA1Hash:         hex.EncodeToString(hash[:]),
	}
	if err := uc.repo.CreateJob(ctx, job); err != nil {
		uc.metrics.IntakeFailures.WithLabelValues("metadata").Inc()
		opLogger.Error("failed to commit job", zap.Error(err))
		return 0, newError(ErrUpstream, op, err)
	}

	if err := uc.blobs.Put(ctx, blobKey, data, contentType); err != nil {
		uc.metrics.IntakeFailures.WithLabelValues("blob").Inc()
		opLogger.Error("failed to write blob; job stays pending", zap.Uint("job_id", job.ID), zap.Error(err))
		return 0, newError(ErrUpstream, op, err)
	}

	if uc.publisher != nil {
		if err := uc.publisher.Publish(ctx, Notification{BlobKey: blobKey}); err != nil {
			uc.metrics.IntakeFailures.WithLabelValues("publish").Inc()
			opLogger.Warn("failed to publish blob notification", zap.Uint("job_id", job.ID), zap.Error(err))
		}
	}

	uc.metrics.JobsSubmitted.Inc()
	opLogger.Info("job submitted", zap.Uint("job_id", job.ID), zap.Int64("byte_size", job.ByteSize))
	return job.ID, nil
}
