package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"alert-classifier/internal/database"
	"alert-classifier/internal/storage"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

// InitializeLocalModel registers a model whose artifact directory already
// exists on disk, uploading it to the model bucket and marking it READY so
// jobs can be submitted against it without a remote fetch.
func InitializeLocalModel(ctx context.Context, db *gorm.DB, store storage.ObjectStore, bucket, name, modelType, localDir string) error {
	var model database.Model
	err := db.Where("name = ?", name).First(&model).Error

	isNew := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !isNew {
		return fmt.Errorf("error querying model: %w", err)
	}

	if isNew {
		model.Id = uuid.New()
		model.Name = name
		model.Type = modelType
		model.Status = database.ModelReady
		model.CreationTime = time.Now().UTC()

		if err := db.Create(&model).Error; err != nil {
			return fmt.Errorf("failed to create model record: %w", err)
		}
	}

	info, err := os.Stat(localDir)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("local model dir does not exist, skipping upload", "dir", localDir)
			return nil
		}
		return fmt.Errorf("failed to stat local model dir %s: %w", localDir, err)
	}
	if !info.IsDir() {
		slog.Warn("local model path exists but is not a directory, skipping upload", "path", localDir)
		return nil
	}

	objs, err := store.ListObjects(ctx, bucket, model.Id.String()+"/")
	if err != nil {
		slog.Error("failed to list stored objects for model", "model_id", model.Id, "error", err)
	} else if len(objs) > 0 {
		slog.Info("model already uploaded, skipping upload", "model_id", model.Id)
		return nil
	}

	entries, err := os.ReadDir(localDir)
	if err != nil {
		return fmt.Errorf("failed to read local model dir %s: %w", localDir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		f, err := os.Open(filepath.Join(localDir, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to open model artifact %s: %w", entry.Name(), err)
		}
		err = store.PutObject(ctx, bucket, model.Id.String()+"/"+entry.Name(), f)
		f.Close()
		if err != nil {
			database.UpdateModelStatus(ctx, db, model.Id, database.ModelFailed) //nolint:errcheck
			return fmt.Errorf("error uploading model artifact %s: %w", entry.Name(), err)
		}
	}

	slog.Info("successfully uploaded model artifacts", "model_id", model.Id, "name", name)
	return nil
}
