package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/roadwatch/internal/artifact"
	"github.com/example/roadwatch/internal/config"
	"github.com/example/roadwatch/internal/handlers"
	"github.com/example/roadwatch/internal/hub"
	"github.com/example/roadwatch/internal/imaging"
	"github.com/example/roadwatch/internal/logging"
	"github.com/example/roadwatch/internal/measure"
	"github.com/example/roadwatch/internal/repository"
	"github.com/example/roadwatch/internal/segmentation"
	"github.com/example/roadwatch/internal/severity"
	"github.com/example/roadwatch/internal/usecase"
)

func main() {
	cfg := config.Load()

	logger, err := logging.NewLogger(cfg.Debug)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	initCtx, initCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer initCancel()

	db := initDatabase(cfg, logger)
	repo := repository.NewPotholeRepository(db, logger)
	if err := repo.AutoMigrate(initCtx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	var cache usecase.Cache
	if cfg.RedisAddr != "" {
		redisCtx, redisCancel := context.WithTimeout(initCtx, 5*time.Second)
		cache = usecase.NewRedisCache(initRedis(redisCtx, cfg.RedisAddr, logger))
		redisCancel()
	} else {
		logger.Info("redis not configured, record caching disabled")
	}

	artifacts, err := artifact.NewStore(cfg.UploadDir, logger)
	if err != nil {
		logger.Fatal("failed to prepare artifact store", zap.Error(err))
	}

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	loader := initSegmenter(cfg, logger)
	loader.Start(appCtx)

	broadcaster := hub.NewHub(logger)
	go broadcaster.Run(appCtx.Done())

	uc := usecase.NewDetectionUseCase(usecase.Deps{
		Decoder:             imaging.NewDecoder(cfg.MaxUploadBytes, cfg.MaxImageSide),
		Models:              loader,
		Estimator:           measure.NewEstimator(calibrationFromConfig(cfg)),
		Thresholds:          thresholdsFromConfig(cfg),
		AcceptanceThreshold: cfg.AcceptanceThreshold,
		Store:               repo,
		Artifacts:           artifacts,
		Cache:               cache,
		Publisher:           broadcaster,
		Logger:              logger,
	})

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	r.Use(cors.Default())
	r.MaxMultipartMemory = cfg.MaxUploadBytes

	handlers.RegisterRoutes(r, handlers.Options{
		Service:       uc,
		Models:        loader,
		Artifacts:     artifacts,
		Hub:           broadcaster,
		MaxUploadSize: cfg.MaxUploadBytes,
		DetectTimeout: cfg.DetectTimeout,
	})

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: r,
	}

	logger.Info("roadwatch API listening", zap.String("addr", cfg.Addr))
	if err := serveHTTPServer(server, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initDatabase(cfg *config.Config, zapLogger *zap.Logger) *gorm.DB {
	gormMode := gormlogger.Warn
	if cfg.Debug {
		gormMode = gormlogger.Info
	}
	db, err := gorm.Open(sqlite.Open(cfg.DatabasePath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormMode),
	})
	if err != nil {
		zapLogger.Fatal("failed to open database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	// sqlite serializes writers; one open connection avoids lock contention.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func initSegmenter(cfg *config.Config, logger *zap.Logger) *segmentation.Loader {
	if cfg.SegmenterAddr != "" {
		remote := segmentation.NewRemoteSegmenter(cfg.SegmenterAddr, logger)
		logger.Info("using segmentation sidecar", zap.String("addr", cfg.SegmenterAddr))
		return segmentation.NewLoader(remote.Build, logger)
	}
	logger.Info("no sidecar configured, using built-in segmenter")
	return segmentation.NewLoader(segmentation.BuildLocal, logger)
}

func calibrationFromConfig(cfg *config.Config) measure.Calibration {
	return measure.Calibration{
		PixelsPerMeter: cfg.PixelsPerMeter,
		MinDepthM:      cfg.MinDepthM,
		DepthGain:      cfg.DepthGain,
		MaxDepthM:      cfg.MaxDepthM,
		ContrastFloor:  cfg.ContrastFloor,
	}
}

func thresholdsFromConfig(cfg *config.Config) severity.Thresholds {
	return severity.Thresholds{
		LowAreaM2:    cfg.LowAreaM2,
		HighAreaM2:   cfg.HighAreaM2,
		DangerDepthM: cfg.DangerDepthM,
	}
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
