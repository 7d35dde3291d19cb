package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"hls-offline/internal/config"
	"hls-offline/internal/downloader"
	"hls-offline/internal/hls"
	apphttp "hls-offline/internal/http"
	"hls-offline/internal/repository/sqlite"
	"hls-offline/internal/service"
	"hls-offline/internal/storage"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	logger.SetLevel(cfg.LogLevel())
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := sqlite.Migrate(ctx, db); err != nil {
		logger.Fatalf("migrate database: %v", err)
	}

	jobService := service.NewJobService(sqlite.NewJobRepository(db), sqlite.NewJobSegmentRepository(db))
	settingsService := service.NewSettingsService(sqlite.NewSettingsRepository(db))
	userService := service.NewUserService(sqlite.NewUserRepository(db), cfg.Auth.RegisterPassword)
	tokenService := service.NewTokenService(cfg.Auth.JWTSecret, cfg.TokenTTL())

	var storageSvc storage.Service
	if cfg.Storage.Bucket != "" {
		storageSvc, err = buildStorage(ctx, cfg, logger)
		if err != nil {
			logger.Fatalf("setup storage: %v", err)
		}
	}

	fs := storage.NewLocalFS()
	fetcher := hls.NewFetcher(hls.FetcherConfig{
		Client:         &http.Client{},
		UserAgent:      cfg.Download.UserAgent,
		RequestTimeout: cfg.Download.RequestTimeout,
	})
	orchestrator := downloader.NewOrchestrator(downloader.OrchestratorConfig{
		BatchSize: cfg.Download.BatchSize,
		Logger:    logger,
	}, fetcher, fs, settingsService)

	manager := downloader.NewManager(downloader.Config{
		DownloadRoot:   cfg.Download.DataDir,
		MaxConcurrent:  cfg.Download.MaxConcurrent,
		StatusInterval: 2 * time.Second,
		Upload:         cfg.Download.Upload,
		UploadOptions: storage.UploadOptions{
			Bucket:    cfg.Storage.Bucket,
			KeyPrefix: cfg.Storage.KeyPrefix,
		},
		FS:     fs,
		Logger: logger,
	}, orchestrator, jobService, storageSvc)

	if err := manager.Start(ctx); err != nil {
		logger.Fatalf("start manager: %v", err)
	}
	if err := manager.Resume(ctx); err != nil {
		logger.Warnf("resume jobs: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	apphttp.NewHandler(apphttp.Deps{
		Jobs:     jobService,
		Settings: settingsService,
		Users:    userService,
		Tokens:   tokenService,
		Manager:  manager,
		FS:       fs,
		Storage:  storageSvc,
		Bucket:   cfg.Storage.Bucket,
		DataRoot: cfg.Download.DataDir,
		Logger:   logger,
	}).RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	manager.Shutdown()

	logger.Info("bye")
}

func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("using s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client), nil
}
