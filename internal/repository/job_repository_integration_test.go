package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/aiscore/internal/repository"
)

func setupRepository(t *testing.T) *repository.JobRepository {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("aiscore_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(gormpostgres.Open(connStr), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)

	repo := repository.NewJobRepository(db, zap.NewNop())
	require.NoError(t, repo.AutoMigrate(ctx))
	return repo
}

func newJob(key string) *repository.Job {
	return &repository.Job{
		OriginalFilename: "sample.jpg",
		ByteSize:         3,
		BlobKey:          key,
		ContentType:      "image/jpeg",
		SHA1Hash:         "da39a3ee5e6b4b0d3255bfef95601890afd80709",
	}
}

func TestCreateJob_CreatesPendingPrediction(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	repo := setupRepository(t)
	ctx := context.Background()

	job := newJob("inputImages/a.jpg")
	require.NoError(t, repo.CreateJob(ctx, job))
	require.NotZero(t, job.ID)

	found, err := repo.FindJobByID(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, found.Prediction)
	assert.Equal(t, repository.StatusPending, found.Prediction.Status)
	assert.Nil(t, found.Prediction.Score)

	byKey, err := repo.FindJobByBlobKey(ctx, "inputImages/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, job.ID, byKey.ID)
}

func TestCreateJob_DuplicateBlobKeyLeavesNoPartialRows(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	repo := setupRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateJob(ctx, newJob("inputImages/dup.jpg")))
	require.Error(t, repo.CreateJob(ctx, newJob("inputImages/dup.jpg")))

	agg, err := repo.AggregateMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), agg.TotalCount)
}

func TestFindJob_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	repo := setupRepository(t)

	_, err := repo.FindJobByID(context.Background(), 999)
	assert.True(t, errors.Is(err, repository.ErrNotFound))

	_, err = repo.FindJobByBlobKey(context.Background(), "inputImages/missing.png")
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestTransitionPrediction_FirstCommitterWins(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	repo := setupRepository(t)
	ctx := context.Background()

	job := newJob("inputImages/race.png")
	require.NoError(t, repo.CreateJob(ctx, job))

	const writers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []float64
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(score float64) {
			defer wg.Done()
			ok, err := repo.TransitionPrediction(ctx, job.ID, repository.Transition{
				From:         []repository.PredictionStatus{repository.StatusPending},
				To:           repository.StatusComplete,
				Score:        score,
				ModelVersion: "artifact-v6",
			})
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins = append(wins, score)
				mu.Unlock()
			}
		}(float64(i * 10))
	}
	wg.Wait()

	require.Len(t, wins, 1)
	found, err := repo.FindJobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusComplete, found.Prediction.Status)
	require.NotNil(t, found.Prediction.Score)
	assert.Equal(t, wins[0], *found.Prediction.Score)
}

func TestTransitionPrediction_TerminalStatesAbsorb(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	repo := setupRepository(t)
	ctx := context.Background()

	job := newJob("inputImages/err.png")
	require.NoError(t, repo.CreateJob(ctx, job))

	ok, err := repo.TransitionPrediction(ctx, job.ID, repository.Transition{
		From:        []repository.PredictionStatus{repository.StatusPending},
		To:          repository.StatusError,
		ErrorReason: "blob fetch failed",
	})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.TransitionPrediction(ctx, job.ID, repository.Transition{
		From:  []repository.PredictionStatus{repository.StatusPending},
		To:    repository.StatusComplete,
		Score: 10,
	})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.TransitionPrediction(ctx, job.ID, repository.Transition{
		From:  []repository.PredictionStatus{repository.StatusPending, repository.StatusError},
		To:    repository.StatusComplete,
		Score: 10,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	found, err := repo.FindJobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusComplete, found.Prediction.Status)
	assert.Empty(t, found.Prediction.ErrorReason)
}

func TestFindDuplicatesByHash(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	repo := setupRepository(t)
	ctx := context.Background()

	first := newJob("inputImages/1.png")
	second := newJob("inputImages/2.png")
	other := newJob("inputImages/3.png")
	other.SHA1Hash = "ffffffffffffffffffffffffffffffffffffffff"
	for _, j := range []*repository.Job{first, second, other} {
		require.NoError(t, repo.CreateJob(ctx, j))
	}

	dups, err := repo.FindDuplicatesByHash(ctx, first.SHA1Hash, first.ID)
	require.NoError(t, err)
	require.Len(t, dups, 1)
	assert.Equal(t, second.ID, dups[0].ID)
}
