package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"alert-classifier/cmd"
	"alert-classifier/internal/api"
	"alert-classifier/internal/core"
	"alert-classifier/internal/database"
	"alert-classifier/internal/messaging"
	"alert-classifier/internal/storage"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type Config struct {
	Root             string `env:"ROOT" envDefault:"./alert-classifier"`
	Port             int    `env:"PORT" envDefault:"3001"`
	CatsModelDir     string `env:"CATS_MODEL_DIR" envDefault:""`
	T2ModelDir       string `env:"T2_MODEL_DIR" envDefault:""`
	OnnxRuntimeDylib string `env:"ONNX_RUNTIME_DYLIB"`
}

const (
	modelBucket  = "models"
	uploadBucket = "uploads"
)

func createDatabase(root string) *gorm.DB {
	path := filepath.Join(root, "db", "alert-classifier.db")
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := database.GetMigrator(db).Migrate(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	return db
}

// createQueue republishes tasks that were still queued when the process last
// stopped, since the in-memory queue does not survive restarts.
func createQueue(db *gorm.DB) *messaging.InMemoryQueue {
	var jobs []database.ClassificationJob
	if err := db.Where("status = ?", database.JobQueued).Find(&jobs).Error; err != nil {
		log.Fatalf("Failed to fetch tasks from database: %v", err)
	}

	var models []database.Model
	if err := db.Where("status = ? AND artifact_url <> ''", database.ModelQueued).Find(&models).Error; err != nil {
		log.Fatalf("Failed to fetch models from database: %v", err)
	}

	queue := messaging.NewInMemoryQueue()

	for _, model := range models {
		if err := queue.PublishModelFetchTask(context.Background(), messaging.ModelFetchPayload{
			ModelId: model.Id,
		}); err != nil {
			log.Fatalf("Failed to publish model fetch task: %v", err)
		}
	}

	for _, job := range jobs {
		if err := queue.PublishClassifyTask(context.Background(), messaging.ClassifyTaskPayload{
			JobId: job.Id,
		}); err != nil {
			log.Fatalf("Failed to publish classify task: %v", err)
		}
	}

	return queue
}

func createServer(db *gorm.DB, store storage.ObjectStore, queue messaging.Publisher, port int) *http.Server {
	r := chi.NewRouter()

	// Middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300, // Cache preflight response for 5 minutes
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)                    // Log requests
	r.Use(middleware.Recoverer)                 // Recover from panics
	r.Use(middleware.Timeout(60 * time.Second)) // Set request timeout

	apiHandler := api.NewBackendService(db, store, queue, uploadBucket)

	r.Route("/api/v1", func(r chi.Router) {
		apiHandler.AddRoutes(r)
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	if cfg.OnnxRuntimeDylib == "" {
		log.Fatalf("ONNX_RUNTIME_DYLIB must be set")
	}
	if err := core.InitOnnxRuntime(cfg.OnnxRuntimeDylib); err != nil {
		log.Fatalf("could not init ONNX Runtime: %v", err)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := os.MkdirAll(cfg.Root, os.ModePerm); err != nil {
		log.Fatalf("error creating root directory: %v", err)
	}

	slog.Info("starting backend", "root", cfg.Root, "port", cfg.Port, "cats_model_dir", cfg.CatsModelDir, "t2_model_dir", cfg.T2ModelDir)

	db := createDatabase(cfg.Root)

	store, err := storage.NewLocalObjectStore(filepath.Join(cfg.Root, "storage"))
	if err != nil {
		log.Fatalf("Failed to create object store: %v", err)
	}
	for _, bucket := range []string{modelBucket, uploadBucket} {
		if err := store.CreateBucket(context.Background(), bucket); err != nil {
			log.Fatalf("Failed to create bucket %s: %v", bucket, err)
		}
	}

	if cfg.CatsModelDir != "" {
		if err := cmd.InitializeLocalModel(context.Background(), db, store, modelBucket, "cats-broad", string(core.CatsBroad), cfg.CatsModelDir); err != nil {
			log.Fatalf("Failed to init broad classifier model: %v", err)
		}
	}
	if cfg.T2ModelDir != "" {
		if err := cmd.InitializeLocalModel(context.Background(), db, store, modelBucket, "t2-fine", string(core.T2Fine), cfg.T2ModelDir); err != nil {
			log.Fatalf("Failed to init fine-grained classifier model: %v", err)
		}
	}

	queue := createQueue(db)

	worker := core.NewTaskProcessor(db, store, queue, filepath.Join(cfg.Root, "models"), modelBucket, uploadBucket, core.NewModelLoaders())

	server := createServer(db, store, queue, cfg.Port)

	slog.Info("starting worker")
	go worker.Start()

	// Goroutine for graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}

		slog.Info("shutting down worker")
		worker.Stop()
	}()

	slog.Info("server started", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v\n", cfg.Port, err)
	}

	slog.Info("server stopped")
}
