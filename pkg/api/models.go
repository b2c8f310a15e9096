package api

import (
	"time"

	"github.com/google/uuid"
)

// AlertBatch is a columnar slice of alerts: one entry per object, each light
// curve a variable length series. Time, Flux, FluxErr, Magnitude, MagnitudeErr,
// Band and FilterId are per-observation columns; Xmatch, Roid and
// FirstDetection are per-object scalars from the alert metadata.
//
// The broad classifier reads Time/Flux/FluxErr/Band, the fine-grained
// classifier reads Time/Magnitude/MagnitudeErr/FilterId plus the scalar
// columns. Columns a classifier does not use may be left nil.
type AlertBatch struct {
	ObjectId []int64 `json:"object_id"`

	Time    [][]float64 `json:"time"`
	Flux    [][]float64 `json:"flux,omitempty"`
	FluxErr [][]float64 `json:"flux_err,omitempty"`

	Magnitude    [][]float64 `json:"magnitude,omitempty"`
	MagnitudeErr [][]float64 `json:"magnitude_err,omitempty"`

	Band     [][]string `json:"band,omitempty"`
	FilterId [][]int64  `json:"filter_id,omitempty"`

	Xmatch         []string  `json:"xmatch,omitempty"`
	Roid           []int64   `json:"roid,omitempty"`
	FirstDetection []float64 `json:"first_detection,omitempty"`
}

// Len returns the number of objects in the batch.
func (b *AlertBatch) Len() int {
	return len(b.ObjectId)
}

// Prediction holds class probabilities for a single object. Skipped objects
// carry SentinelProb for every class and an empty TopClass.
type Prediction struct {
	ObjectId      int64              `json:"object_id"`
	Probabilities map[string]float32 `json:"probabilities"`
	TopClass      string             `json:"top_class,omitempty"`
	TopProb       float32            `json:"top_prob"`
	Skipped       bool               `json:"skipped,omitempty"`
}

type Model struct {
	Id     uuid.UUID
	Name   string
	Type   string
	Status string
}

type CreateModelRequest struct {
	Name        string
	Type        string
	ArtifactURL string
}

type CreateModelResponse struct {
	ModelId uuid.UUID
}

type CreateJobRequest struct {
	ModelId uuid.UUID
	Batch   AlertBatch
}

type CreateJobResponse struct {
	JobId uuid.UUID
}

type Job struct {
	Id    uuid.UUID
	Model Model

	Status string

	AlertCount      int
	ClassifiedCount int
	SkippedCount    int

	CreationTime   time.Time
	CompletionTime *time.Time `json:"CompletionTime,omitempty"`

	Errors []string `json:"Errors,omitempty"`
}

type PredictionsRequest struct {
	Query  string `schema:"query"`
	Offset int    `schema:"offset"`
	Limit  int    `schema:"limit"`
}

type PredictionsResponse struct {
	Predictions []Prediction
	Total       int
}
