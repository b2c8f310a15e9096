package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	ClassifyQueue   = "classify_queue"
	ModelFetchQueue = "model_fetch_queue"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

type ClassifyTaskPayload struct {
	JobId uuid.UUID
}

type ModelFetchPayload struct {
	ModelId uuid.UUID
}

type Publisher interface {
	PublishClassifyTask(ctx context.Context, payload ClassifyTaskPayload) error

	PublishModelFetchTask(ctx context.Context, payload ModelFetchPayload) error

	Close()
}

type Reciever interface {
	Tasks() <-chan Task

	Close()
}
