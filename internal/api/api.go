package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"alert-classifier/internal/core"
	"alert-classifier/internal/database"
	"alert-classifier/internal/messaging"
	"alert-classifier/internal/storage"
	"alert-classifier/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const defaultPredictionsLimit = 100

type BackendService struct {
	db        *gorm.DB
	store     storage.ObjectStore
	publisher messaging.Publisher

	uploadBucket string
}

func NewBackendService(db *gorm.DB, store storage.ObjectStore, publisher messaging.Publisher, uploadBucket string) *BackendService {
	return &BackendService{db: db, store: store, publisher: publisher, uploadBucket: uploadBucket}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Route("/models", func(r chi.Router) {
		r.Post("/", RestHandler(s.CreateModel))
		r.Get("/", RestHandler(s.ListModels))
		r.Get("/{model_id}", RestHandler(s.GetModel))
	})
	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", RestHandler(s.SubmitJob))
		r.Get("/{job_id}", RestHandler(s.GetJob))
		r.Get("/{job_id}/predictions", RestHandler(s.GetPredictions))
	})
}

func (s *BackendService) CreateModel(r *http.Request) (any, error) {
	req, err := ParseRequest[api.CreateModelRequest](r)
	if err != nil {
		return nil, err
	}

	if err := validateName(req.Name); err != nil {
		return nil, err
	}
	switch core.ModelType(req.Type) {
	case core.CatsBroad, core.T2Fine:
	default:
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "unknown model type '%s'", req.Type)
	}
	if !strings.HasPrefix(req.ArtifactURL, "http://") && !strings.HasPrefix(req.ArtifactURL, "https://") {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "artifact_url is required and must be an http(s) url")
	}

	ctx := r.Context()

	model := &database.Model{
		Id:           uuid.New(),
		Name:         req.Name,
		Type:         req.Type,
		Status:       database.ModelQueued,
		ArtifactURL:  req.ArtifactURL,
		CreationTime: time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		slog.Error("error creating model", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create model entry")
	}

	if err := s.publisher.PublishModelFetchTask(ctx, messaging.ModelFetchPayload{ModelId: model.Id}); err != nil {
		slog.Error("error publishing model fetch task", "model_id", model.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue model fetch task")
	}

	slog.Info("registered model", "model_id", model.Id, "type", model.Type)
	return api.CreateModelResponse{ModelId: model.Id}, nil
}

func (s *BackendService) ListModels(r *http.Request) (any, error) {
	var models []database.Model
	if err := s.db.WithContext(r.Context()).Find(&models).Error; err != nil {
		slog.Error("error listing models", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving model records")
	}

	out := make([]api.Model, len(models))
	for i, m := range models {
		out[i] = api.Model{Id: m.Id, Name: m.Name, Type: m.Type, Status: m.Status}
	}
	return out, nil
}

func (s *BackendService) GetModel(r *http.Request) (any, error) {
	modelId, err := URLParamUUID(r, "model_id")
	if err != nil {
		return nil, err
	}

	var model database.Model
	if err := s.db.WithContext(r.Context()).First(&model, "id = ?", modelId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "model not found")
		}
		slog.Error("error getting model", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving model record")
	}

	return api.Model{Id: model.Id, Name: model.Name, Type: model.Type, Status: model.Status}, nil
}

func (s *BackendService) SubmitJob(r *http.Request) (any, error) {
	req, err := ParseRequest[api.CreateJobRequest](r)
	if err != nil {
		return nil, err
	}

	if req.Batch.Len() == 0 {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "batch must contain at least one object")
	}
	if len(req.Batch.Time) != req.Batch.Len() {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "batch time column must match object_id length")
	}

	ctx := r.Context()

	var model database.Model
	if err := s.db.WithContext(ctx).First(&model, "id = ?", req.ModelId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "model not found")
		}
		slog.Error("error getting model", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving model record")
	}
	if model.Status != database.ModelReady {
		return nil, CodedErrorf(http.StatusConflict, "model '%s' is not ready (status %s)", model.Name, model.Status)
	}

	jobId := uuid.New()
	batchKey := "batches/" + jobId.String() + ".json"

	data, err := json.Marshal(req.Batch)
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to serialize batch")
	}
	if err := s.store.PutObject(ctx, s.uploadBucket, batchKey, bytes.NewReader(data)); err != nil {
		slog.Error("error storing alert batch", "job_id", jobId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to store alert batch")
	}

	job := &database.ClassificationJob{
		Id:           jobId,
		ModelId:      model.Id,
		Status:       database.JobQueued,
		BatchKey:     batchKey,
		AlertCount:   req.Batch.Len(),
		CreationTime: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		slog.Error("error creating job", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create job entry")
	}

	if err := s.publisher.PublishClassifyTask(ctx, messaging.ClassifyTaskPayload{JobId: jobId}); err != nil {
		slog.Error("error publishing classify task", "job_id", jobId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue classify task")
	}

	slog.Info("submitted classification job", "job_id", jobId, "model_id", model.Id, "alerts", req.Batch.Len())
	return api.CreateJobResponse{JobId: jobId}, nil
}

func (s *BackendService) GetJob(r *http.Request) (any, error) {
	jobId, err := URLParamUUID(r, "job_id")
	if err != nil {
		return nil, err
	}

	var job database.ClassificationJob
	if err := s.db.WithContext(r.Context()).Preload("Model").Preload("Errors").First(&job, "id = ?", jobId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "job not found")
		}
		slog.Error("error getting job", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving job record")
	}

	out := api.Job{
		Id:              job.Id,
		Status:          job.Status,
		AlertCount:      job.AlertCount,
		ClassifiedCount: job.ClassifiedCount,
		SkippedCount:    job.SkippedCount,
		CreationTime:    job.CreationTime,
	}
	if job.Model != nil {
		out.Model = api.Model{Id: job.Model.Id, Name: job.Model.Name, Type: job.Model.Type, Status: job.Model.Status}
	}
	if job.CompletionTime.Valid {
		t := job.CompletionTime.Time
		out.CompletionTime = &t
	}
	for _, jobErr := range job.Errors {
		out.Errors = append(out.Errors, jobErr.Error)
	}

	return out, nil
}

func (s *BackendService) GetPredictions(r *http.Request) (any, error) {
	jobId, err := URLParamUUID(r, "job_id")
	if err != nil {
		return nil, err
	}

	params, err := ParseRequestQueryParams[api.PredictionsRequest](r)
	if err != nil {
		return nil, err
	}
	if params.Limit <= 0 {
		params.Limit = defaultPredictionsLimit
	}
	if params.Offset < 0 {
		params.Offset = 0
	}

	var filter core.Filter
	if params.Query != "" {
		filter, err = core.ParseQuery(params.Query)
		if err != nil {
			return nil, CodedErrorf(http.StatusBadRequest, "invalid query: %v", err)
		}
	}

	var rows []database.AlertPrediction
	if err := s.db.WithContext(r.Context()).Where("job_id = ?", jobId).Order("object_id").Find(&rows).Error; err != nil {
		slog.Error("error getting predictions", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving predictions")
	}

	var matched []api.Prediction
	for _, row := range rows {
		var probs map[string]float32
		if err := json.Unmarshal(row.Probabilities, &probs); err != nil {
			slog.Error("error parsing stored probabilities", "job_id", jobId, "object_id", row.ObjectId, "error", err)
			continue
		}

		pred := api.Prediction{
			ObjectId:      row.ObjectId,
			Probabilities: probs,
			TopClass:      row.TopClass,
			TopProb:       float32(row.TopProb),
			Skipped:       row.Skipped,
		}
		if filter != nil && !filter.Matches(pred) {
			continue
		}
		matched = append(matched, pred)
	}

	total := len(matched)
	if params.Offset > len(matched) {
		matched = nil
	} else {
		matched = matched[params.Offset:]
	}
	if len(matched) > params.Limit {
		matched = matched[:params.Limit]
	}

	return api.PredictionsResponse{Predictions: matched, Total: total}, nil
}
