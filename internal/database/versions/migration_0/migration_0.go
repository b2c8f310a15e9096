package migration_0

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Schema snapshot at migration 0. The structs are copied here so later
// schema changes do not rewrite history.

type Model struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name   string `gorm:"uniqueIndex;not null"`
	Type   string `gorm:"size:20;not null"`
	Status string `gorm:"size:20;not null"`

	ArtifactURL string

	CreationTime   time.Time
	CompletionTime sql.NullTime
}

type ClassificationJob struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	ModelId uuid.UUID `gorm:"type:uuid"`
	Model   *Model    `gorm:"foreignKey:ModelId"`

	Status string `gorm:"size:20;not null"`

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

	Probabilities datatypes.JSON `gorm:"not null"`
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

func Migration(txn *gorm.DB) error {
	return txn.AutoMigrate(
		&Model{}, &ClassificationJob{}, &AlertPrediction{}, &JobError{},
	)
}
