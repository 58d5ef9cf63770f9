package repository

import "time"

// PredictionStatus is the lifecycle state of a Prediction row.
type PredictionStatus string

const (
	StatusPending  PredictionStatus = "pending"
	StatusComplete PredictionStatus = "complete"
	StatusError    PredictionStatus = "error"
)

// Terminal reports whether the status absorbs further transitions.
func (s PredictionStatus) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// Job is one submitted asset. Rows are immutable after creation.
type Job struct {
	ID               uint      `gorm:"primaryKey"`
	CreatedAt        time.Time `gorm:"column:created_at"`
	OriginalFilename string    `gorm:"column:original_filename;size:255"`
	ByteSize         int64     `gorm:"column:byte_size"`
	BlobKey          string    `gorm:"column:blob_key;uniqueIndex;size:512"`
	ContentType      string    `gorm:"column:content_type;size:64"`
	SHA1Hash         string    `gorm:"column:sha1_hash;index;size:40"`

	Prediction *Prediction `gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE"`
}

// TableName overrides the default table name.
func (Job) TableName() string {
	return "jobs"
}

// Prediction holds the scoring state of a Job, 1:1 on job_id.
type Prediction struct {
	JobID        uint             `gorm:"column:job_id;primaryKey;autoIncrement:false"`
	Status       PredictionStatus `gorm:"column:status;size:16;index;not null"`
	Score        *float64         `gorm:"column:score"`
	ModelVersion string           `gorm:"column:model_version;size:64"`
	ErrorReason  string           `gorm:"column:error_reason;type:text"`
	UpdatedAt    time.Time        `gorm:"column:updated_at"`
}

// TableName overrides the default table name.
func (Prediction) TableName() string {
	return "predictions"
}

// Transition describes a conditional status change. Score and ModelVersion
// are written only when moving into complete, ErrorReason only into error.
type Transition struct {
	From         []PredictionStatus
	To           PredictionStatus
	Score        float64
	ModelVersion string
	ErrorReason  string
}

// MetricsAggregation is the raw roll-up used by the stats endpoint.
type MetricsAggregation struct {
	TotalCount    int64
	PendingCount  int64
	CompleteCount int64
	ErrorCount    int64
	AverageScore  float64
}
