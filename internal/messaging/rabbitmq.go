package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// dialWithRetry attempts the broker connection a fixed number of times so
// that workers survive the broker coming up after them.
func dialWithRetry(url string) (*amqp.Connection, error) {
	var lastErr error
	for attempt := 1; attempt <= MaxConnectRetry; attempt++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			slog.Info("connected to rabbitmq", "attempt", attempt)
			return conn, nil
		}
		lastErr = err
		slog.Warn("rabbitmq dial failed", "attempt", attempt, "max_attempts", MaxConnectRetry, "error", err)
		time.Sleep(RetryDelay)
	}
	return nil, fmt.Errorf("could not reach rabbitmq after %d attempts: %w", MaxConnectRetry, lastErr)
}

// declareTaskQueues declares the durable queues both sides depend on, so it
// does not matter whether a publisher or a worker starts first.
func declareTaskQueues(channel *amqp.Channel) error {
	for _, queue := range []string{ClassifyQueue, ModelFetchQueue} {
		if _, err := channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", queue, err)
		}
	}
	return nil
}

type RabbitMQPublisher struct {
	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	url     string
	once    sync.Once
}

var _ Publisher = (*RabbitMQPublisher)(nil)

func NewRabbitMQPublisher(rabbitMQURL string) (*RabbitMQPublisher, error) {
	p := &RabbitMQPublisher{url: rabbitMQURL}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *RabbitMQPublisher) connect() error {
	conn, err := dialWithRetry(p.url)
	if err != nil {
		return err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	if err := declareTaskQueues(channel); err != nil {
		conn.Close()
		return err
	}

	p.conn = conn
	p.channel = channel

	go p.reconnectOnClose()

	return nil
}

func (p *RabbitMQPublisher) reconnectOnClose() {
	notify := p.channel.NotifyClose(make(chan *amqp.Error))

	err, ok := <-notify
	if !ok {
		// Graceful close just closes the notify channel.
		return
	}

	slog.Warn("rabbitmq publisher channel closed, reconnecting", "error", err)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.conn, p.channel = nil, nil
	for p.connect() != nil {
		time.Sleep(RetryDelay * 10)
	}
	slog.Info("rabbitmq publisher reconnected")
}

func (p *RabbitMQPublisher) publish(ctx context.Context, queue string, payload any) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.channel == nil || p.channel.IsClosed() {
		return fmt.Errorf("rabbitmq connection is closed")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", queue, err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	}
	if err := p.channel.PublishWithContext(ctx, "", queue, false, false, msg); err != nil {
		slog.Error("failed to publish task", "queue", queue, "error", err)
		return fmt.Errorf("failed to publish %s: %w", queue, err)
	}

	return nil
}

func (p *RabbitMQPublisher) PublishClassifyTask(ctx context.Context, payload ClassifyTaskPayload) error {
	return p.publish(ctx, ClassifyQueue, payload)
}

func (p *RabbitMQPublisher) PublishModelFetchTask(ctx context.Context, payload ModelFetchPayload) error {
	return p.publish(ctx, ModelFetchQueue, payload)
}

func (p *RabbitMQPublisher) Close() {
	p.once.Do(func() {
		if err := p.conn.Close(); err != nil {
			slog.Error("error closing rabbitmq connection", "error", err)
		}
	})
}

// RabbitMQTask adapts an amqp delivery to the Task interface. The routing
// key doubles as the task type since tasks are published straight to queues.
type RabbitMQTask struct {
	delivery amqp.Delivery
}

func (t *RabbitMQTask) Type() string {
	return t.delivery.RoutingKey
}

func (t *RabbitMQTask) Payload() []byte {
	return t.delivery.Body
}

func (t *RabbitMQTask) Ack() error {
	return t.delivery.Ack(false)
}

func (t *RabbitMQTask) Nack() error {
	return t.delivery.Nack(false, false)
}

func (t *RabbitMQTask) Reject() error {
	return t.delivery.Reject(false)
}

type RabbitMQReceiver struct {
	tasks chan Task
	url   string
	stop  chan struct{}

	// Tracks the forwarding goroutines so the task channel can be closed
	// once they all exit on shutdown.
	forwarders sync.WaitGroup
}

var _ Reciever = (*RabbitMQReceiver)(nil)

func NewRabbitMQReceiver(rabbitMQURL string) (*RabbitMQReceiver, error) {
	r := &RabbitMQReceiver{
		tasks: make(chan Task),
		url:   rabbitMQURL,
		stop:  make(chan struct{}),
	}
	if err := r.startConsuming(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RabbitMQReceiver) startConsuming() error {
	conn, err := dialWithRetry(r.url)
	if err != nil {
		return err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	// One unacked message per worker at a time, so a slow classification
	// job does not buffer tasks away from idle workers.
	if err := channel.Qos(1, 0, false); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set channel qos: %w", err)
	}

	if err := declareTaskQueues(channel); err != nil {
		conn.Close()
		return err
	}

	for _, queue := range []string{ClassifyQueue, ModelFetchQueue} {
		deliveries, err := channel.Consume(queue, "", false, false, false, false, nil)
		if err != nil {
			conn.Close()
			return fmt.Errorf("failed to consume from queue %s: %w", queue, err)
		}
		r.forwarders.Add(1)
		go r.forward(deliveries)
	}

	go r.reconnectOnClose(conn, channel)

	return nil
}

func (r *RabbitMQReceiver) forward(deliveries <-chan amqp.Delivery) {
	defer r.forwarders.Done()
	for d := range deliveries {
		r.tasks <- &RabbitMQTask{delivery: d}
	}
}

func (r *RabbitMQReceiver) reconnectOnClose(conn *amqp.Connection, channel *amqp.Channel) {
	notify := channel.NotifyClose(make(chan *amqp.Error))

	select {
	case err, ok := <-notify:
		if !ok {
			return
		}
		slog.Warn("rabbitmq consumer channel closed, reconnecting", "error", err)
		for r.startConsuming() != nil {
			time.Sleep(RetryDelay * 10)
		}
		slog.Info("rabbitmq consumer restarted")
	case <-r.stop:
		if err := conn.Close(); err != nil {
			slog.Error("error closing rabbitmq connection", "error", err)
		}
		// Closing the connection ends the delivery streams; once the
		// forwarders drain, consumers see the end of the task channel.
		r.forwarders.Wait()
		close(r.tasks)
	}
}

func (r *RabbitMQReceiver) Tasks() <-chan Task {
	return r.tasks
}

func (r *RabbitMQReceiver) Close() {
	close(r.stop)
}
