package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"alert-classifier/internal/database"
	"alert-classifier/internal/messaging"
	"alert-classifier/internal/storage"
	"alert-classifier/pkg/api"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const predictionInsertBatchSize = 500

type TaskProcessor struct {
	db       *gorm.DB
	store    storage.ObjectStore
	hub      *storage.ModelHub
	reciever messaging.Reciever

	models        *ModelCache
	localModelDir string
	modelBucket   string
	uploadBucket  string

	workers sync.WaitGroup
}

func NewTaskProcessor(db *gorm.DB, store storage.ObjectStore, reciever messaging.Reciever, localModelDir, modelBucket, uploadBucket string, loaders map[ModelType]ModelLoader) *TaskProcessor {
	return &TaskProcessor{
		db:            db,
		store:         store,
		hub:           storage.NewModelHub(store),
		reciever:      reciever,
		models:        NewModelCache(loaders),
		localModelDir: localModelDir,
		modelBucket:   modelBucket,
		uploadBucket:  uploadBucket,
	}
}

func (proc *TaskProcessor) Start() {
	slog.Info("starting task processor")

	proc.workers.Add(1)
	defer proc.workers.Done()

	for task := range proc.reciever.Tasks() {
		proc.ProcessTask(task)
	}
}

// Stop closes the receiver and waits for in-flight tasks to finish before
// releasing the loaded models.
func (proc *TaskProcessor) Stop() {
	slog.Info("stopping task processor")

	proc.reciever.Close()
	proc.workers.Wait()
	proc.models.Release()
}

func (proc *TaskProcessor) ProcessTask(task messaging.Task) {
	ctx := context.Background()

	var err error
	switch task.Type() {

	case messaging.ClassifyQueue:
		var payload messaging.ClassifyTaskPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling classify task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processClassifyTask(ctx, payload)

	case messaging.ModelFetchQueue:
		var payload messaging.ModelFetchPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling model fetch task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processModelFetchTask(ctx, payload)

	default:
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil { // reject unknown message type
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	if err != nil {
		slog.Error("error processing task", "queue", task.Type(), "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error reporting processing failure on message from queue", "error", err)
		}
	} else {
		slog.Info("successfully processed task", "queue", task.Type())
		if err := task.Ack(); err != nil {
			slog.Error("error acknowledging message from queue", "error", err)
		}
	}
}

func (proc *TaskProcessor) processModelFetchTask(ctx context.Context, payload messaging.ModelFetchPayload) error {
	var model database.Model
	if err := proc.db.WithContext(ctx).First(&model, "id = ?", payload.ModelId).Error; err != nil {
		return fmt.Errorf("failed to load model %v: %w", payload.ModelId, err)
	}

	if err := database.UpdateModelStatus(ctx, proc.db, model.Id, database.ModelFetching); err != nil {
		return err
	}

	if err := proc.hub.FetchModel(ctx, model.ArtifactURL, proc.modelBucket, model.Id.String()); err != nil {
		database.UpdateModelStatus(ctx, proc.db, model.Id, database.ModelFailed) //nolint:errcheck
		return fmt.Errorf("failed to fetch model artifact: %w", err)
	}

	return database.UpdateModelStatus(ctx, proc.db, model.Id, database.ModelReady)
}

func (proc *TaskProcessor) processClassifyTask(ctx context.Context, payload messaging.ClassifyTaskPayload) error {
	var job database.ClassificationJob
	if err := proc.db.WithContext(ctx).Preload("Model").First(&job, "id = ?", payload.JobId).Error; err != nil {
		return fmt.Errorf("failed to load job %v: %w", payload.JobId, err)
	}

	if err := database.UpdateJobStatus(ctx, proc.db, job.Id, database.JobRunning); err != nil {
		return err
	}

	if err := proc.runClassifyJob(ctx, &job); err != nil {
		database.SaveJobError(ctx, proc.db, job.Id, err.Error())
		database.UpdateJobStatus(ctx, proc.db, job.Id, database.JobFailed) //nolint:errcheck
		return err
	}

	return database.UpdateJobStatus(ctx, proc.db, job.Id, database.JobCompleted)
}

func (proc *TaskProcessor) runClassifyJob(ctx context.Context, job *database.ClassificationJob) error {
	if job.Model == nil {
		return fmt.Errorf("job %v has no model", job.Id)
	}

	data, err := proc.store.GetObject(ctx, proc.uploadBucket, job.BatchKey)
	if err != nil {
		return fmt.Errorf("failed to load alert batch: %w", err)
	}

	var batch api.AlertBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return fmt.Errorf("failed to parse alert batch: %w", err)
	}

	model, err := proc.getModel(ctx, ModelType(job.Model.Type), job.ModelId)
	if err != nil {
		return err
	}

	preds, err := model.Classify(ctx, &batch)
	if err != nil {
		return fmt.Errorf("classification failed: %w", err)
	}

	rows := make([]database.AlertPrediction, len(preds))
	classified, skipped := 0, 0
	for i, pred := range preds {
		probs, err := json.Marshal(pred.Probabilities)
		if err != nil {
			return fmt.Errorf("failed to serialize probabilities: %w", err)
		}
		rows[i] = database.AlertPrediction{
			JobId:         job.Id,
			ObjectId:      pred.ObjectId,
			Probabilities: datatypes.JSON(probs),
			TopClass:      pred.TopClass,
			TopProb:       float64(pred.TopProb),
			Skipped:       pred.Skipped,
		}
		if pred.Skipped {
			skipped++
		} else {
			classified++
		}
	}

	if len(rows) > 0 {
		if err := proc.db.WithContext(ctx).CreateInBatches(rows, predictionInsertBatchSize).Error; err != nil {
			return fmt.Errorf("failed to save predictions: %w", err)
		}
	}

	updates := map[string]any{
		"alert_count":      batch.Len(),
		"classified_count": classified,
		"skipped_count":    skipped,
	}
	if err := proc.db.WithContext(ctx).Model(&database.ClassificationJob{Id: job.Id}).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update job counts: %w", err)
	}

	slog.Info("classified alert batch", "job_id", job.Id, "alerts", batch.Len(), "classified", classified, "skipped", skipped)
	return nil
}

// getModel materializes the model artifact in the local cache dir if needed
// and returns the loaded classifier.
func (proc *TaskProcessor) getModel(ctx context.Context, modelType ModelType, modelId uuid.UUID) (Classifier, error) {
	localDir := filepath.Join(proc.localModelDir, modelId.String())

	if _, err := os.Stat(localDir); os.IsNotExist(err) {
		if err := proc.store.DownloadDir(ctx, proc.modelBucket, modelId.String(), localDir, true); err != nil {
			return nil, fmt.Errorf("failed to download model artifact: %w", err)
		}
	}

	return proc.models.Get(modelType, localDir)
}
