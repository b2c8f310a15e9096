package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	backend "alert-classifier/internal/api"
	"alert-classifier/internal/database"
	"alert-classifier/internal/messaging"
	"alert-classifier/internal/storage"
	"alert-classifier/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testUploadBucket = "uploads"

func createDB(t *testing.T, create ...any) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, database.GetMigrator(db).Migrate())

	for _, c := range create {
		require.NoError(t, db.Create(c).Error)
	}

	return db
}

func createRouter(t *testing.T, db *gorm.DB, queue messaging.Publisher) (chi.Router, *storage.LocalObjectStore) {
	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.CreateBucket(context.Background(), testUploadBucket))

	service := backend.NewBackendService(db, store, queue, testUploadBucket)
	router := chi.NewRouter()
	service.AddRoutes(router)

	return router, store
}

func TestHealth(t *testing.T) {
	router, _ := createRouter(t, createDB(t), messaging.NewInMemoryQueue())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateModel(t *testing.T) {
	db := createDB(t)
	queue := messaging.NewInMemoryQueue()
	router, _ := createRouter(t, db, queue)

	payload := api.CreateModelRequest{Name: "broad-model", Type: "cats", ArtifactURL: "https://models.example.com/cats"}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/models", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var response api.CreateModelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))

	var model database.Model
	require.NoError(t, db.First(&model, "id = ?", response.ModelId).Error)
	assert.Equal(t, "broad-model", model.Name)
	assert.Equal(t, "cats", model.Type)
	assert.Equal(t, database.ModelQueued, model.Status)

	// A fetch task is queued for the new model.
	task := <-queue.Tasks()
	assert.Equal(t, messaging.ModelFetchQueue, task.Type())
	var fetch messaging.ModelFetchPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &fetch))
	assert.Equal(t, response.ModelId, fetch.ModelId)
}

func TestCreateModel_Invalid(t *testing.T) {
	router, _ := createRouter(t, createDB(t), messaging.NewInMemoryQueue())

	cases := []struct {
		payload api.CreateModelRequest
		code    int
	}{
		{api.CreateModelRequest{Name: "bad name!", Type: "cats", ArtifactURL: "https://example.com/m"}, http.StatusBadRequest},
		{api.CreateModelRequest{Name: "ok-name", Type: "resnet", ArtifactURL: "https://example.com/m"}, http.StatusUnprocessableEntity},
		{api.CreateModelRequest{Name: "ok-name", Type: "t2", ArtifactURL: ""}, http.StatusUnprocessableEntity},
	}
	for _, c := range cases {
		body, err := json.Marshal(c.payload)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/models", bytes.NewReader(body))
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, c.code, rec.Code)
	}
}

func TestListModels(t *testing.T) {
	id1, id2 := uuid.New(), uuid.New()
	db := createDB(t,
		&database.Model{Id: id1, Name: "Model1", Type: "cats", Status: database.ModelReady, CreationTime: time.Now()},
		&database.Model{Id: id2, Name: "Model2", Type: "t2", Status: database.ModelQueued, CreationTime: time.Now()},
	)

	router, _ := createRouter(t, db, messaging.NewInMemoryQueue())

	req := httptest.NewRequest(http.MethodGet, "/models", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var response []api.Model
	err := json.Unmarshal(rec.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.ElementsMatch(t, []api.Model{
		{Id: id1, Name: "Model1", Type: "cats", Status: database.ModelReady},
		{Id: id2, Name: "Model2", Type: "t2", Status: database.ModelQueued},
	}, response)
}

func TestGetModel(t *testing.T) {
	modelId := uuid.New()
	db := createDB(t,
		&database.Model{Id: uuid.New(), Name: "Model1", Type: "cats", Status: database.ModelReady},
		&database.Model{Id: modelId, Name: "Model2", Type: "t2", Status: database.ModelFetching},
	)

	router, _ := createRouter(t, db, messaging.NewInMemoryQueue())

	req := httptest.NewRequest(http.MethodGet, "/models/"+modelId.String(), nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var response api.Model
	err := json.Unmarshal(rec.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, api.Model{Id: modelId, Name: "Model2", Type: "t2", Status: database.ModelFetching}, response)

	req = httptest.NewRequest(http.MethodGet, "/models/"+uuid.NewString(), nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitJob(t *testing.T) {
	modelId := uuid.New()
	db := createDB(t,
		&database.Model{Id: modelId, Name: "broad", Type: "cats", Status: database.ModelReady},
	)
	queue := messaging.NewInMemoryQueue()
	router, store := createRouter(t, db, queue)

	payload := api.CreateJobRequest{
		ModelId: modelId,
		Batch: api.AlertBatch{
			ObjectId: []int64{1, 2},
			Time:     [][]float64{{60000, 60001}, {60000}},
		},
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var response api.CreateJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))

	var job database.ClassificationJob
	require.NoError(t, db.First(&job, "id = ?", response.JobId).Error)
	assert.Equal(t, database.JobQueued, job.Status)
	assert.Equal(t, modelId, job.ModelId)
	assert.Equal(t, 2, job.AlertCount)

	// The batch is persisted in the upload bucket for the worker.
	data, err := store.GetObject(context.Background(), testUploadBucket, job.BatchKey)
	require.NoError(t, err)
	var stored api.AlertBatch
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Equal(t, payload.Batch.ObjectId, stored.ObjectId)

	task := <-queue.Tasks()
	assert.Equal(t, messaging.ClassifyQueue, task.Type())
	var classify messaging.ClassifyTaskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &classify))
	assert.Equal(t, response.JobId, classify.JobId)
}

func TestSubmitJob_ModelNotReady(t *testing.T) {
	modelId := uuid.New()
	db := createDB(t,
		&database.Model{Id: modelId, Name: "broad", Type: "cats", Status: database.ModelFetching},
	)
	router, _ := createRouter(t, db, messaging.NewInMemoryQueue())

	payload := api.CreateJobRequest{
		ModelId: modelId,
		Batch:   api.AlertBatch{ObjectId: []int64{1}, Time: [][]float64{{60000}}},
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSubmitJob_EmptyBatch(t *testing.T) {
	modelId := uuid.New()
	db := createDB(t,
		&database.Model{Id: modelId, Name: "broad", Type: "cats", Status: database.ModelReady},
	)
	router, _ := createRouter(t, db, messaging.NewInMemoryQueue())

	payload := api.CreateJobRequest{ModelId: modelId}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGetJob(t *testing.T) {
	modelId, jobId := uuid.New(), uuid.New()
	db := createDB(t,
		&database.Model{Id: modelId, Name: "broad", Type: "cats", Status: database.ModelReady},
		&database.ClassificationJob{
			Id: jobId, ModelId: modelId, Status: database.JobCompleted,
			AlertCount: 10, ClassifiedCount: 8, SkippedCount: 2,
		},
	)
	router, _ := createRouter(t, db, messaging.NewInMemoryQueue())

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+jobId.String(), nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var response api.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))

	assert.Equal(t, jobId, response.Id)
	assert.Equal(t, database.JobCompleted, response.Status)
	assert.Equal(t, 10, response.AlertCount)
	assert.Equal(t, 8, response.ClassifiedCount)
	assert.Equal(t, 2, response.SkippedCount)
	assert.Equal(t, api.Model{Id: modelId, Name: "broad", Type: "cats", Status: database.ModelReady}, response.Model)
}

func predictionRow(t *testing.T, jobId uuid.UUID, objectId int64, probs map[string]float32, skipped bool) *database.AlertPrediction {
	data, err := json.Marshal(probs)
	require.NoError(t, err)

	top, topProb := "", float32(0)
	for c, p := range probs {
		if top == "" || p > topProb {
			top, topProb = c, p
		}
	}
	if skipped {
		top, topProb = "", -1
	}

	return &database.AlertPrediction{
		JobId:         jobId,
		ObjectId:      objectId,
		Probabilities: datatypes.JSON(data),
		TopClass:      top,
		TopProb:       float64(topProb),
		Skipped:       skipped,
	}
}

func TestGetPredictions(t *testing.T) {
	modelId, jobId := uuid.New(), uuid.New()
	db := createDB(t,
		&database.Model{Id: modelId, Name: "broad", Type: "cats", Status: database.ModelReady},
		&database.ClassificationJob{Id: jobId, ModelId: modelId, Status: database.JobCompleted},
		predictionRow(t, jobId, 1, map[string]float32{"SN-like": 0.8, "Fast": 0.2}, false),
		predictionRow(t, jobId, 2, map[string]float32{"SN-like": 0.3, "Fast": 0.7}, false),
		predictionRow(t, jobId, 3, map[string]float32{"SN-like": -1, "Fast": -1}, true),
	)
	router, _ := createRouter(t, db, messaging.NewInMemoryQueue())

	getPredictions := func(query url.Values) api.PredictionsResponse {
		req := httptest.NewRequest(http.MethodGet, "/jobs/"+jobId.String()+"/predictions?"+query.Encode(), nil)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var response api.PredictionsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
		return response
	}

	t.Run("All", func(t *testing.T) {
		response := getPredictions(url.Values{})
		assert.Equal(t, 3, response.Total)
		require.Len(t, response.Predictions, 3)
		assert.Equal(t, int64(1), response.Predictions[0].ObjectId)
		assert.Equal(t, "SN-like", response.Predictions[0].TopClass)
		assert.True(t, response.Predictions[2].Skipped)
	})

	t.Run("Query", func(t *testing.T) {
		response := getPredictions(url.Values{"query": {`PROB("SN-like") > 0.5`}})
		assert.Equal(t, 1, response.Total)
		require.Len(t, response.Predictions, 1)
		assert.Equal(t, int64(1), response.Predictions[0].ObjectId)
	})

	t.Run("QueryClass", func(t *testing.T) {
		response := getPredictions(url.Values{"query": {`CLASS = "Fast"`}})
		assert.Equal(t, 1, response.Total)
		require.Len(t, response.Predictions, 1)
		assert.Equal(t, int64(2), response.Predictions[0].ObjectId)
	})

	t.Run("Pagination", func(t *testing.T) {
		response := getPredictions(url.Values{"offset": {"1"}, "limit": {"1"}})
		assert.Equal(t, 3, response.Total)
		require.Len(t, response.Predictions, 1)
		assert.Equal(t, int64(2), response.Predictions[0].ObjectId)
	})

	t.Run("NegativeOffset", func(t *testing.T) {
		response := getPredictions(url.Values{"offset": {"-1"}})
		assert.Equal(t, 3, response.Total)
		require.Len(t, response.Predictions, 3)
		assert.Equal(t, int64(1), response.Predictions[0].ObjectId)
	})

	t.Run("InvalidQuery", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/jobs/"+jobId.String()+"/predictions?query="+url.QueryEscape("PROB("), nil)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
