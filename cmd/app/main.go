package main

import (
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	permissions "github.com/saeedvir/go-permissions"
	"github.com/saeedvir/go-permissions/internal/config"
	"github.com/saeedvir/go-permissions/internal/db"
	"github.com/saeedvir/go-permissions/internal/logging"
	"github.com/saeedvir/go-permissions/internal/routes"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, logFile, err := logging.New(cfg.LogFile)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logFile.Close()

	gormDB, err := db.NewPostgres(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize PostgreSQL", zap.Error(err))
	}
	logger.Info("Successfully connected to PostgreSQL database")
	defer db.ClosePostgres(gormDB)

	redisDB, err := db.NewRedisClient(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize Redis", zap.Error(err))
	}
	logger.Info("Successfully connected to Redis")
	defer redisDB.Close()

	opts, err := permissions.LoadOptions()
	if err != nil {
		logger.Fatal("Failed to load permission options", zap.Error(err))
	}

	svc, err := permissions.New(permissions.Config{
		DB:          gormDB,
		Redis:       redisDB,
		Options:     opts,
		Logger:      logger,
		AutoMigrate: true,
	})
	if err != nil {
		logger.Fatal("Failed to initialize permission service", zap.Error(err))
	}

	app := fiber.New()
	app.Use(logging.FiberMiddleware(logFile))

	routes.Setup(app, svc)

	addr := fmt.Sprintf(":%d", cfg.AppPort)
	logger.Info("Server started", zap.Int("port", cfg.AppPort))
	log.Fatal(app.Listen(addr))
}
