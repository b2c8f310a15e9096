package integrationtests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"alert-classifier/internal/core"
	"alert-classifier/internal/database"
	"alert-classifier/internal/messaging"
	"alert-classifier/pkg/api"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/minio"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"
)

const (
	minioUsername = "admin"
	minioPassword = "password"
)

func setupMinioContainer(t *testing.T, ctx context.Context) string {
	minioContainer, err := minio.Run(
		ctx,
		"minio/minio:RELEASE.2024-01-16T16-07-38Z",
		minio.WithUsername(minioUsername),
		minio.WithPassword(minioPassword),
	)
	require.NoError(t, err, "Failed to start MinIO container")

	t.Cleanup(func() {
		err := minioContainer.Terminate(context.Background())
		require.NoError(t, err, "Failed to terminate MinIO container")
	})

	connStr, err := minioContainer.ConnectionString(ctx)
	require.NoError(t, err, "Failed to get MinIO connection string")

	return "http://" + connStr
}

func setupPostgresContainer(t *testing.T, ctx context.Context) string {
	dbName, dbUser, dbPassword := "test_db", "test_user", "test_password"

	postgresContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	t.Cleanup(func() {
		err := postgresContainer.Terminate(context.Background())
		require.NoError(t, err, "Failed to terminate PostgreSQL container")
	})

	connStr, err := postgresContainer.ConnectionString(ctx)
	require.NoError(t, err, "Failed to get PostgreSQL connection string")

	return connStr
}

func setupRabbitMQContainer(t *testing.T, ctx context.Context) (messaging.Publisher, messaging.Reciever) {
	rabbitmqContainer, err := rabbitmq.Run(ctx, "rabbitmq:3.11-management")
	require.NoError(t, err, "Failed to start RabbitMQ container")

	t.Cleanup(func() {
		err := rabbitmqContainer.Terminate(context.Background())
		require.NoError(t, err, "Failed to terminate RabbitMQ container")
	})

	connStr, err := rabbitmqContainer.AmqpURL(ctx)
	require.NoError(t, err, "Failed to get RabbitMQ AMQP URL")

	publisher, err := messaging.NewRabbitMQPublisher(connStr)
	require.NoError(t, err)
	t.Cleanup(publisher.Close)

	reciever, err := messaging.NewRabbitMQReceiver(connStr)
	require.NoError(t, err)

	return publisher, reciever
}

func createDB(t *testing.T) *gorm.DB {
	uri := setupPostgresContainer(t, context.Background())
	db, err := database.NewDatabase(uri)
	require.NoError(t, err)

	return db
}

func httpRequest(api http.Handler, method, endpoint string, payload any, dest any) error {
	var body io.Reader
	if payload != nil {
		requestBody, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(requestBody)
	}

	req := httptest.NewRequest(method, endpoint, body)
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	api.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		return fmt.Errorf("expected status code 200, got %d: %v", rr.Code, rr.Body.String())
	}

	if dest != nil {
		if err := json.Unmarshal(rr.Body.Bytes(), dest); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}

// serveModelArtifacts starts an HTTP server that serves a minimal model
// artifact directory, standing in for a model hub.
func serveModelArtifacts(t *testing.T, classes []string) string {
	metadata, err := json.Marshal(map[string]any{"classes": classes})
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/model.onnx":
			w.Write([]byte("not a real model")) //nolint:errcheck
		case "/metadata.json":
			w.Write(metadata) //nolint:errcheck
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)

	return server.URL
}

// evenIdClassifier labels objects with even ids as the first class and skips
// the rest. It stands in for an ONNX session so workflow tests do not need
// the runtime library.
type evenIdClassifier struct {
	classes []string
}

func (m *evenIdClassifier) Classify(ctx context.Context, batch *api.AlertBatch) ([]api.Prediction, error) {
	preds := make([]api.Prediction, batch.Len())
	for i, id := range batch.ObjectId {
		probs := make(map[string]float32, len(m.classes))
		if id%2 != 0 {
			for _, c := range m.classes {
				probs[c] = -1
			}
			preds[i] = api.Prediction{ObjectId: id, Probabilities: probs, TopProb: -1, Skipped: true}
			continue
		}
		for j, c := range m.classes {
			if j == 0 {
				probs[c] = 0.9
			} else {
				probs[c] = 0.1 / float32(len(m.classes)-1)
			}
		}
		preds[i] = api.Prediction{ObjectId: id, Probabilities: probs, TopClass: m.classes[0], TopProb: 0.9}
	}
	return preds, nil
}

func (m *evenIdClassifier) Classes() []string { return m.classes }

func (m *evenIdClassifier) Release() {}

// testLoaders loads the stub classifier for either model type, reading the
// class list from the fetched metadata.json like the real loaders do.
func testLoaders(classes []string) map[core.ModelType]core.ModelLoader {
	loader := func(modelDir string) (core.Classifier, error) {
		return &evenIdClassifier{classes: classes}, nil
	}
	return map[core.ModelType]core.ModelLoader{
		core.CatsBroad: loader,
		core.T2Fine:    loader,
	}
}
