package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"DetectionWeb/internal/config"
	"DetectionWeb/pkg/log"
	"DetectionWeb/pkg/redis"
	websocketPkg "DetectionWeb/pkg/websocket"
	"DetectionWeb/pkg/yolo"
)

func main() {
	logger := log.NewLogger()
	config.LoadEnv(logger)

	validator := config.NewValidator()
	cfg, err := config.LoadConfig(validator)
	if err != nil {
		logger.Fatalf("Error loading configuration: %v", err)
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		logger.Fatalf("Error creating upload directory: %v", err)
	}

	// The weights are required whichever engine serves them.
	if err := yolo.CheckModel(cfg.ModelPath); err != nil {
		logger.Fatalf("Error loading model: %v", err)
	}

	classNames, err := yolo.LoadClassNames(cfg.ClassesPath)
	if err != nil {
		logger.Fatalf("Error loading class names: %v", err)
	}
	if classNames == nil {
		logger.Infof("No class names file at %s, using names embedded in the model", cfg.ClassesPath)
	}

	var detector yolo.IDetector
	switch cfg.DetectorEngine {
	case config.EngineRemote:
		detector, err = websocketPkg.NewRemoteDetector(websocketPkg.Config{URL: cfg.InferenceWSURL}, logger)
	default:
		detector, err = yolo.New(yolo.Config{
			ModelPath:         cfg.ModelPath,
			SharedLibraryPath: cfg.OnnxRuntimeLib,
			MaxDetections:     yolo.DefaultMaxDetections,
		}, logger)
	}
	if err != nil {
		logger.Fatalf("Error loading detector: %v", err)
	}

	cache := redis.New(redis.Config{
		Address:  cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		TTL:      cfg.CacheTTL,
	}, logger)

	fiberApp := config.NewFiber(logger, cfg)

	server, err := config.NewServer(
		config.WithFiber(fiberApp),
		config.WithConfig(cfg),
		config.WithLogger(logger),
		config.WithValidator(validator),
		config.WithDetector(detector, classNames),
		config.WithCache(cache),
		config.WithDownloader(),
		config.WithMiddleware(),
		config.WithUtils(),
	)
	if err != nil {
		logger.Fatal(err)
	}

	server.RegisterHandler()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Run(); err != nil {
			logger.Fatalf("Error starting server: %v", err)
		}
	}()

	logger.Infof("Server started on port %s", cfg.Port)

	<-sigChan
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Error during shutdown: %v", err)
	}
}
