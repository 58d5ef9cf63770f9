package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/example/aiscore/internal/inference"
	"github.com/example/aiscore/internal/repository"
)

// memoryRepository mimics the conditional update semantics of the
// postgres repository.
type memoryRepository struct {
	mu        sync.Mutex
	nextID    uint
	jobs      map[uint]*repository.Job
	createErr error
	findErr   error
	writes    int
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{jobs: map[uint]*repository.Job{}}
}

func (m *memoryRepository) CreateJob(ctx context.Context, job *repository.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.writes++
	m.nextID++
	job.ID = m.nextID
	job.CreatedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	job.Prediction = &repository.Prediction{JobID: job.ID, Status: repository.StatusPending}
	stored := *job
	pred := *job.Prediction
	stored.Prediction = &pred
	m.jobs[job.ID] = &stored
	return nil
}

func (m *memoryRepository) copyOf(job *repository.Job) *repository.Job {
	out := *job
	pred := *job.Prediction
	if pred.Score != nil {
		score := *pred.Score
		pred.Score = &score
	}
	out.Prediction = &pred
	return &out
}

func (m *memoryRepository) FindJobByID(ctx context.Context, id uint) (*repository.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	job, ok := m.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return m.copyOf(job), nil
}

func (m *memoryRepository) FindJobByBlobKey(ctx context.Context, blobKey string) (*repository.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, job := range m.jobs {
		if job.BlobKey == blobKey {
			return m.copyOf(job), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memoryRepository) FindDuplicatesByHash(ctx context.Context, hash string, excludeID uint) ([]*repository.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.Job
	for id := uint(1); id <= m.nextID; id++ {
		job, ok := m.jobs[id]
		if ok && id != excludeID && job.SHA1Hash == hash {
			out = append(out, m.copyOf(job))
		}
	}
	return out, nil
}

func (m *memoryRepository) TransitionPrediction(ctx context.Context, jobID uint, t repository.Transition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return false, nil
	}
	p := job.Prediction
	matched := false
	for _, from := range t.From {
		if p.Status == from {
			matched = true
		}
	}
	if !matched {
		return false, nil
	}
	m.writes++
	p.Status = t.To
	switch t.To {
	case repository.StatusComplete:
		score := t.Score
		p.Score = &score
		p.ModelVersion = t.ModelVersion
		p.ErrorReason = ""
	case repository.StatusError:
		p.ErrorReason = t.ErrorReason
	}
	return true, nil
}

func (m *memoryRepository) AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agg := &repository.MetricsAggregation{}
	var sum float64
	for _, job := range m.jobs {
		agg.TotalCount++
		switch job.Prediction.Status {
		case repository.StatusPending:
			agg.PendingCount++
		case repository.StatusComplete:
			agg.CompleteCount++
			sum += *job.Prediction.Score
		case repository.StatusError:
			agg.ErrorCount++
		}
	}
	if agg.CompleteCount > 0 {
		agg.AverageScore = sum / float64(agg.CompleteCount)
	}
	return agg, nil
}

func (m *memoryRepository) status(id uint) repository.PredictionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id].Prediction.Status
}

type memoryBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	putErr  error
	getErr  error
	puts    int
}

func newMemoryBlobStore() *memoryBlobStore {
	return &memoryBlobStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (b *memoryBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.putErr != nil {
		return b.putErr
	}
	b.puts++
	b.objects[key] = append([]byte(nil), data...)
	b.types[key] = contentType
	return nil
}

func (b *memoryBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.getErr != nil {
		return nil, b.getErr
	}
	data, ok := b.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return append([]byte(nil), data...), nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (p *recordingPublisher) Publish(ctx context.Context, n Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, n)
	return nil
}

// scriptedScorer returns the next scripted response on each call.
type scriptedScorer struct {
	mu        sync.Mutex
	responses []scorerResponse
	calls     int
}

type scorerResponse struct {
	probability float64
	err         error
}

func (s *scriptedScorer) Predict(ctx context.Context, image []byte) (*inference.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp := s.responses[len(s.responses)-1]
	if s.calls < len(s.responses) {
		resp = s.responses[s.calls]
	}
	s.calls++
	if resp.err != nil {
		return nil, resp.err
	}
	return &inference.Result{ProbabilityReal: resp.probability}, nil
}

type memoryCache struct {
	mu       sync.Mutex
	values   map[string]string
	counters map[string]int64
	getErr   error
	incrErr  error
	sets     int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: map[string]string{}, counters: map[string]int64{}}
}

func (c *memoryCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.values[key] = value.(string)
	return nil
}

func (c *memoryCache) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return "", c.getErr
	}
	v, ok := c.values[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (c *memoryCache) Incr(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.incrErr != nil {
		return 0, c.incrErr
	}
	c.counters[key]++
	return c.counters[key], nil
}

func (c *memoryCache) Del(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counters, key)
	delete(c.values, key)
	return nil
}
