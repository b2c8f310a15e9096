package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ModelQueued   string = "QUEUED"
	ModelFetching string = "FETCHING"
	ModelReady    string = "READY"
	ModelFailed   string = "FAILED"
)

type Model struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name   string `gorm:"uniqueIndex;not null"`
	Type   string `gorm:"size:20;not null"`
	Status string `gorm:"size:20;not null"`

	// Remote location the artifact is fetched from. Empty for models
	// placed in the model bucket out of band.
	ArtifactURL string

	CreationTime   time.Time
	CompletionTime sql.NullTime
}

const (
	JobQueued    string = "QUEUED"
	JobRunning   string = "RUNNING"
	JobCompleted string = "COMPLETED"
	JobFailed    string = "FAILED"
)

type ClassificationJob struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	ModelId uuid.UUID `gorm:"type:uuid"`
	Model   *Model    `gorm:"foreignKey:ModelId"`

	Status string `gorm:"size:20;not null"`

	// Object key of the submitted alert batch in the upload bucket.
	BatchKey string

	AlertCount      int `gorm:"default:0"`
	ClassifiedCount int `gorm:"default:0"`
	SkippedCount    int `gorm:"default:0"`

	CreationTime   time.Time
	CompletionTime sql.NullTime

	Predictions []AlertPrediction `gorm:"foreignKey:JobId;constraint:OnDelete:CASCADE"`
	Errors      []JobError        `gorm:"foreignKey:JobId;constraint:OnDelete:CASCADE"`
}

type AlertPrediction struct {
	JobId    uuid.UUID `gorm:"type:uuid;primaryKey"`
	ObjectId int64     `gorm:"primaryKey"`

	Probabilities datatypes.JSON `gorm:"not null"` // {"class": prob, …}
	TopClass      string
	TopProb       float64
	Skipped       bool `gorm:"default:false"`
}

type JobError struct {
	JobId     uuid.UUID `gorm:"type:uuid;primaryKey"`
	ErrorId   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Error     string
	Timestamp time.Time
}
