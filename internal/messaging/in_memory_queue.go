package messaging

import (
	"context"
	"encoding/json"
)

type inMemoryTask struct {
	queue   string
	payload []byte
}

func (t *inMemoryTask) Type() string {
	return t.queue
}

func (t *inMemoryTask) Payload() []byte {
	return t.payload
}

func (t *inMemoryTask) Ack() error {
	return nil
}

func (t *inMemoryTask) Nack() error {
	return nil
}

func (t *inMemoryTask) Reject() error {
	return nil
}

// InMemoryQueue is a channel-backed Publisher and Reciever for single
// process deployments, where the api and worker run side by side and a
// broker would be overkill.
type InMemoryQueue struct {
	tasks chan Task
}

var (
	_ Publisher = (*InMemoryQueue)(nil)
	_ Reciever  = (*InMemoryQueue)(nil)
)

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		tasks: make(chan Task, 100),
	}
}

func (q *InMemoryQueue) enqueue(queue string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	q.tasks <- &inMemoryTask{queue: queue, payload: data}
	return nil
}

func (q *InMemoryQueue) PublishClassifyTask(ctx context.Context, payload ClassifyTaskPayload) error {
	return q.enqueue(ClassifyQueue, payload)
}

func (q *InMemoryQueue) PublishModelFetchTask(ctx context.Context, payload ModelFetchPayload) error {
	return q.enqueue(ModelFetchQueue, payload)
}

func (q *InMemoryQueue) Tasks() <-chan Task {
	return q.tasks
}

func (q *InMemoryQueue) Close() {
	if q.tasks != nil {
		close(q.tasks)
		q.tasks = nil
	}
}
