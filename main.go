package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/spf13/afero"

	"kulit/internal/config"
	"kulit/internal/detection"
	"kulit/internal/handlers"
	"kulit/internal/repositories"
	"kulit/internal/services"
	"kulit/pkg/rabbitmq"

	"github.com/spf13/viper"
)

func main() {
	// --- Configuration ---
	cfg, err := config.Load(viper.New())
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	app, cleanup, err := newApp(cfg, afero.NewOsFs())
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer cleanup()

	// --- Start HTTP Server ---
	log.Printf("Starting server on port %s", cfg.AppPort)

	// Graceful shutdown handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := app.Listen(cfg.AppPort); err != nil {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-quit
	log.Println("Shutting down server...")

	if err := app.Shutdown(); err != nil {
		log.Printf("Error during Fiber shutdown: %v", err)
	}
	log.Println("Server gracefully stopped")
}

// newApp wires the store, the detection engine, the optional event broker
// and the HTTP routes. The returned cleanup releases the connections.
func newApp(cfg *config.Config, fs afero.Fs) (*fiber.App, func(), error) {
	// --- Database ---
	db, err := repositories.OpenDatabase(cfg.DBDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	closers := []func(){func() {
		if err := sqlDB.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	store := repositories.NewCredentialStore(db, fs)
	if !store.InitializeSchema() {
		cleanup()
		return nil, nil, fmt.Errorf("failed to initialize database schema")
	}
	if err := fs.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to create history directory %s: %w", cfg.HistoryDir, err)
	}

	// --- Detection engine ---
	// A missing model keeps the server up; detections then answer 503.
	engine := detection.NewEngine(fs, detection.NewRemoteLoader(fs, cfg.InferenceURL, nil))
	engine.Initialize(cfg.ModelPath)

	// --- Events ---
	var publisher services.EventPublisher
	if cfg.RabbitMQURL != "" {
		mqClient, err := rabbitmq.NewClient(rabbitmq.Config{URL: cfg.RabbitMQURL})
		if err != nil {
			log.Printf("Activity events disabled: %v", err)
		} else {
			publisher = mqClient
			closers = append(closers, func() {
				if err := mqClient.Close(); err != nil {
					log.Printf("Error closing RabbitMQ client: %v", err)
				}
			})
			if err := mqClient.ConsumeActivity(rabbitmq.LogActivity); err != nil {
				log.Printf("Failed to start RabbitMQ consumer: %v", err)
			}
		}
	}

	// --- Services ---
	authService := services.NewAuthService(store, cfg.JWTSecret, cfg.TokenTTL, publisher)
	detectionService := services.NewDetectionService(store, engine, fs, services.DetectionConfig{
		HistoryDir:       cfg.HistoryDir,
		MaxUploadBytes:   cfg.MaxUploadBytes,
		DefaultThreshold: cfg.ConfidenceThreshold,
	}, publisher)

	if cfg.RetentionDays > 0 {
		log.Printf("Removing detections older than %d days", cfg.RetentionDays)
		if !detectionService.Sweep(cfg.RetentionDays) {
			log.Printf("Warning: retention sweep failed")
		}
	}

	// --- Fiber ---
	app := fiber.New(fiber.Config{
		// Leave room for the multipart envelope around the largest accepted image.
		BodyLimit: int(cfg.MaxUploadBytes) + 1<<20,
	})
	app.Use(logger.New())
	handlers.RegisterRoutes(app, authService, detectionService)

	return app, cleanup, nil
}
