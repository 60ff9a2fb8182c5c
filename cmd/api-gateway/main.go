package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "github.com/noah-isme/filevault-api/api/swagger"
	"github.com/noah-isme/filevault-api/internal/handler"
	"github.com/noah-isme/filevault-api/internal/repository"
	"github.com/noah-isme/filevault-api/internal/service"
	"github.com/noah-isme/filevault-api/pkg/cache"
	"github.com/noah-isme/filevault-api/pkg/config"
	"github.com/noah-isme/filevault-api/pkg/database"
	"github.com/noah-isme/filevault-api/pkg/export"
	"github.com/noah-isme/filevault-api/pkg/logger"
	"github.com/noah-isme/filevault-api/pkg/storage"
)

// @title FileVault API
// @version 1.0.0
// @description Multi-tenant file storage with a three-tier quota ledger
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close() //nolint:errcheck

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db.DB); err != nil {
			return err
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, continuing without cache", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close() //nolint:errcheck
		}
	}

	store, err := newObjectStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	app := buildApp(cfg, logr, db, redisClient, store)
	router := newRouter(cfg, logr, app)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Sweeper.Enabled {
		app.sweeper.Start(ctx)
		defer app.sweeper.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env), zap.String("storage", store.Provider()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		logr.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newObjectStore selects the provider named in configuration.
func newObjectStore(ctx context.Context, cfg config.StorageConfig) (storage.ObjectStore, error) {
	switch cfg.Provider {
	case config.StorageProviderS3:
		return storage.NewS3Store(ctx, storage.S3Options{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			Bucket:       cfg.S3Bucket,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
		})
	case config.StorageProviderLocal, "":
		signer := storage.NewSignedURLSigner(cfg.SignedURLSecret, cfg.UploadURLTTL)
		return storage.NewLocalStore(cfg.LocalDir, cfg.PublicBaseURL, signer)
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
}

type app struct {
	db        *sqlx.DB
	redis     *redis.Client
	store     storage.ObjectStore
	metrics   *service.MetricsService
	auth      *service.AuthService
	ledger    *service.LedgerService
	uploads   *service.UploadService
	reports   *service.ReportService
	sweeper   *service.SweeperService
	directory *service.DirectoryService
}

func buildApp(cfg *config.Config, logr *zap.Logger, db *sqlx.DB, redisClient *redis.Client, store storage.ObjectStore) *app {
	validate := validator.New()
	metrics := service.NewMetricsService()

	users := repository.NewUserRepository(db)
	companies := repository.NewCompanyRepository(db)
	files := repository.NewFileRepository(db)
	usage := repository.NewUsageRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)

	var cacheSvc *service.CacheService
	if redisClient != nil {
		cacheSvc = service.NewCacheService(repository.NewCacheRepository(redisClient, logr), metrics, cfg.Redis.QuotaTTL, logr, true)
	}

	policy := service.NewQuotaPolicy(
		service.PlanLimitsFromConfig(cfg.Plans.Free),
		service.PlanLimitsFromConfig(cfg.Plans.Pro),
	)

	ledger := service.NewLedgerService(ledgerRepo, users, companies, usage, policy, store, cacheSvc, logr, service.LedgerConfig{
		SnapshotTTL: cfg.Redis.QuotaTTL,
	})
	uploads := service.NewUploadService(files, users, ledger, policy, store, validate, metrics, logr, service.UploadConfig{
		KeyFolder:          cfg.Uploads.KeyFolder,
		MultipartThreshold: cfg.Uploads.MultipartThreshold,
		ChunkSize:          cfg.Uploads.ChunkSize,
		UploadURLTTL:       cfg.Storage.UploadURLTTL,
		PartURLTTL:         cfg.Storage.PartURLTTL,
		DownloadURLTTL:     cfg.Storage.DownloadURLTTL,
		StaleAfter:         cfg.Sweeper.StaleAfter,
	})
	reports := service.NewReportService(ledger, export.NewCSVExporter(), export.NewPDFExporter(), validate, logr)
	sweeper := service.NewSweeperService(files, store, ledger, cacheSvc, metrics, logr, service.SweeperConfig{
		Interval:       cfg.Sweeper.Interval,
		StaleAfter:     cfg.Sweeper.StaleAfter,
		Retention:      cfg.Sweeper.Retention,
		BatchSize:      cfg.Sweeper.BatchSize,
		FixAllocations: cfg.Sweeper.FixAllocations,
		LockKey:        cfg.Sweeper.LockKey,
	})
	directory := service.NewDirectoryService(ledgerRepo, users, companies, validate, logr)
	auth := service.NewAuthService(users, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})

	return &app{
		db:        db,
		redis:     redisClient,
		store:     store,
		metrics:   metrics,
		auth:      auth,
		ledger:    ledger,
		uploads:   uploads,
		reports:   reports,
		sweeper:   sweeper,
		directory: directory,
	}
}

func (a *app) readinessChecks() map[string]handler.ReadinessCheck {
	checks := map[string]handler.ReadinessCheck{
		"database": func(ctx context.Context) error { return a.db.PingContext(ctx) },
	}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}
	return checks
}
