package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"streamwatch/internal/config"
	"streamwatch/internal/downloader"
	"streamwatch/internal/engine"
	"streamwatch/internal/gate"
	apphttp "streamwatch/internal/http"
	"streamwatch/internal/recovery"
	"streamwatch/internal/repository/sqlite"
	"streamwatch/internal/service"
	"streamwatch/internal/session"
	"streamwatch/internal/storage"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		logger.Fatalf("auth jwt secret is required")
	}
	if strings.TrimSpace(cfg.Auth.RegisterPassword) == "" {
		logger.Fatalf("auth registration password is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	userRepo := sqlite.NewUserRepository(db)
	progressRepo := sqlite.NewWatchProgressRepository(db)
	downloadRepo := sqlite.NewDownloadRepository(db)

	if err := userRepo.Init(ctx); err != nil {
		logger.Fatalf("init user repository: %v", err)
	}
	if err := progressRepo.Init(ctx); err != nil {
		logger.Fatalf("init progress repository: %v", err)
	}
	if err := downloadRepo.Init(ctx); err != nil {
		logger.Fatalf("init download repository: %v", err)
	}

	userService := service.NewUserService(userRepo, cfg.Auth.RegisterPassword)
	progressService := service.NewProgressService(progressRepo, cfg.Playback.ResumeMinSeconds, cfg.Progress.CompletedPercent)

	var client engine.Client
	var embedded *downloader.Engine

	switch cfg.Engine.Mode {
	case config.EngineModeEmbedded:
		archive, err := buildArchive(ctx, cfg, logger)
		if err != nil {
			logger.Fatalf("setup archive storage: %v", err)
		}
		embedded = downloader.New(downloader.Config{
			DataDir:               cfg.Engine.DataDir,
			ListenPort:            cfg.Engine.ListenPort,
			DisableDHT:            cfg.Engine.DisableDHT,
			DisablePortForwarding: cfg.Engine.DisablePortForwarding,
			Seed:                  cfg.Engine.Seed,
			StatusInterval:        cfg.Engine.StatusInterval,
			TrackerList:           cfg.Engine.Trackers,
			ArchiveBucket:         cfg.Storage.Bucket,
			ArchivePrefix:         cfg.Storage.KeyPrefix,
			PresignTTL:            time.Duration(cfg.Storage.PresignTTLMinutes) * time.Minute,
			Logger:                logger,
		}, downloadRepo, archive)
		if err := embedded.Start(ctx); err != nil {
			logger.Fatalf("start download engine: %v", err)
		}
		client = embedded
	case config.EngineModeRemote:
		if strings.TrimSpace(cfg.Engine.BaseURL) == "" {
			logger.Fatalf("engine base url is required in remote mode")
		}
		client = engine.NewRemoteClient(cfg.Engine.BaseURL, cfg.Engine.APIToken)
		logger.Infof("using remote engine at %s", cfg.Engine.BaseURL)
	default:
		logger.Fatalf("unknown engine mode %q", cfg.Engine.Mode)
	}

	sessions := session.NewManager(client, progressService, session.Options{
		Gate: gate.Options{
			MinReadyProgress: cfg.Playback.MinReadyProgress,
			PollInterval:     cfg.Playback.PollInterval,
			InfoRetries:      cfg.Playback.InfoRetries,
		},
		Recovery: recovery.Options{
			RetryDelay: cfg.Recovery.RetryDelay,
			MaxRetries: cfg.Recovery.MaxRetries,
		},
		SaveInterval:   cfg.Progress.SaveInterval,
		SaveDebounce:   cfg.Progress.Debounce,
		MinSaveSeconds: cfg.Progress.MinSeconds,
		ResumeTimeout:  cfg.Playback.ResumeTimeout,
	}, cfg.Session.IdleTimeout, logger)
	sessions.Start(ctx)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(
		userService,
		progressService,
		client,
		embedded,
		sessions,
		cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute,
		logger,
	)
	handler.RegisterRoutes(router)

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
	// sessions first so their final saves land before the engine goes away
	sessions.Shutdown()
	if embedded != nil {
		embedded.Shutdown()
	}

	logger.Info("bye")
}

// buildArchive wires the S3 client for archive offload. Without a bucket the
// engine keeps finished downloads on local disk.
func buildArchive(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Archive, error) {
	if cfg.Storage.Bucket == "" {
		logger.Info("no archive bucket configured, finished downloads stay local")
		return nil, nil
	}

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

	s3client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("archiving to s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Archive(s3client), nil
}
