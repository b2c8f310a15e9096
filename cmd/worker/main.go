package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"alert-classifier/internal/config"
	"alert-classifier/internal/core"
	"alert-classifier/internal/database"
	"alert-classifier/internal/messaging"
	"alert-classifier/internal/storage"
)

func main() {
	log.Println("Starting Worker Process...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if cfg.OnnxRuntimeLib == "" {
		log.Fatalf("ONNX_RUNTIME_LIB must be set")
	}
	if err := core.InitOnnxRuntime(cfg.OnnxRuntimeLib); err != nil {
		log.Fatalf("could not init ONNX Runtime: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	store, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
		Endpoint:        cfg.S3EndpointURL,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	})
	if err != nil {
		log.Fatalf("Worker: Failed to create object store: %v", err)
	}
	if err := store.CreateBucket(context.Background(), cfg.ModelBucketName); err != nil {
		log.Fatalf("Worker: Failed to create model bucket: %v", err)
	}

	reciever, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Worker: Failed to connect to RabbitMQ: %v", err)
	}

	processor := core.NewTaskProcessor(db, store, reciever, cfg.LocalModelDir, cfg.ModelBucketName, cfg.UploadBucketName, core.NewModelLoaders())

	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			processor.Start()
		}()
	}

	log.Println("Worker started. Waiting for tasks. Press Ctrl+C to exit.")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutdown signal received, waiting for workers to finish...")

	processor.Stop()
	wg.Wait()

	log.Println("Worker process stopped.")
}
