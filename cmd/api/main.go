package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/bryanwahyu/datalyst/internal/application"
	appanalysis "github.com/bryanwahyu/datalyst/internal/application/analysis"
	appchat "github.com/bryanwahyu/datalyst/internal/application/chat"
	"github.com/bryanwahyu/datalyst/internal/application/cleansing"
	"github.com/bryanwahyu/datalyst/internal/application/codegen"
	appdict "github.com/bryanwahyu/datalyst/internal/application/dictionary"
	"github.com/bryanwahyu/datalyst/internal/application/insights"
	"github.com/bryanwahyu/datalyst/internal/application/reflection"
	"github.com/bryanwahyu/datalyst/internal/config"
	"github.com/bryanwahyu/datalyst/internal/domain/analysis"
	"github.com/bryanwahyu/datalyst/internal/domain/attempts"
	einoai "github.com/bryanwahyu/datalyst/internal/infra/ai/eino"
	openaiai "github.com/bryanwahyu/datalyst/internal/infra/ai/openai"
	mysqlp "github.com/bryanwahyu/datalyst/internal/infra/db/mysql"
	"github.com/bryanwahyu/datalyst/internal/infra/db/postgres"
	"github.com/bryanwahyu/datalyst/internal/infra/db/sqlite"
	"github.com/bryanwahyu/datalyst/internal/infra/executor/docker"
	"github.com/bryanwahyu/datalyst/internal/infra/httpserver"
	"github.com/bryanwahyu/datalyst/internal/infra/memory"
	minioStore "github.com/bryanwahyu/datalyst/internal/infra/storage"
	"github.com/bryanwahyu/datalyst/internal/logging"
	"github.com/bryanwahyu/datalyst/internal/middleware"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	ctx := context.Background()
	clock := application.SystemClock{}

	completer, err := newCompleter(ctx, cfg)
	if err != nil {
		logger.Fatal("llm init error", zap.Error(err))
	}

	audit, db, err := openAuditLog(ctx, cfg)
	if err != nil {
		logger.Fatal("database init error", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	if db != nil {
		defer db.Close()
	}

	var artifacts analysis.ArtifactStore
	if cfg.Minio.Enabled {
		store, err := minioStore.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			logger.Fatal("minio init error", zap.Error(err))
		}
		artifacts = store.WithPrefix(cfg.Minio.Prefix)
	}

	sandbox := docker.NewSandbox(docker.Options{
		Binary:  cfg.Sandbox.DockerBinary,
		Image:   cfg.Sandbox.Image,
		WorkDir: cfg.Sandbox.WorkDir,
		Memory:  cfg.Sandbox.Memory,
		CPUs:    cfg.Sandbox.CPUs,
		Network: cfg.Sandbox.Network,
	}, logger.Named("sandbox"))

	opts := []reflection.Option{
		reflection.WithClock(clock),
		reflection.WithLogger(logger.Named("reflection")),
		reflection.WithObserver(middleware.EngineObserver{}),
		reflection.WithAttemptTimeout(cfg.Reflection.AttemptTimeout),
	}
	if audit != nil {
		opts = append(opts, reflection.WithRecorder(audit))
	}
	engine := reflection.New(codegen.NewClient(completer), sandbox, cfg.Reflection.MaxAttempts, opts...)

	svc := appchat.NewService(appchat.Deps{
		Store:        memory.NewSessionStore(clock),
		Cleanser:     cleansing.NewService(logger.Named("cleansing")),
		Dictionaries: appdict.NewService(completer, engine, logger.Named("dictionary")),
		Analyst:      appanalysis.NewService(engine, artifacts, logger.Named("analysis")),
		Insights:     insights.NewService(completer, engine),
		Completer:    completer,
		Clock:        clock,
		Logger:       logger.Named("chat"),
	})

	health := map[string]middleware.HealthChecker{
		"sandbox":    middleware.CheckerFunc(sandbox.Ping),
		"llm_config": middleware.CheckerFunc(func(context.Context) error { return cfg.CheckLLM() }),
	}
	if p, ok := completer.(interface{ Ping(context.Context) error }); ok {
		health["llm"] = middleware.CheckerFunc(p.Ping)
	}
	if db != nil {
		health["database"] = &middleware.DatabaseHealthChecker{DB: db}
	}
	handler := httpserver.NewRouter(svc, httpserver.Options{
		CORSOrigins: cfg.Server.CORSOrigins,
		RateLimiter: middleware.NewRateLimiter(cfg.Server.RateLimit.Capacity, cfg.Server.RateLimit.RefillPerSecond),
		Attempts:    audit,
		Health:      health,
		Logger:      logger.Named("http"),
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // a chat turn spans several LLM calls and sandbox runs
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening",
			zap.String("addr", addr),
			zap.String("llm_provider", cfg.LLM.Provider),
			zap.String("model", cfg.LLM.Model),
			zap.Int("max_attempts", engine.MaxAttempts()),
			zap.String("database", cfg.Database.Driver),
			zap.Bool("minio", cfg.Minio.Enabled),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down server")

	ctx2, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}

func newCompleter(ctx context.Context, cfg *config.Config) (analysis.Completer, error) {
	switch cfg.LLM.Provider {
	case "eino":
		return einoai.NewOpenAI(ctx, cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model, 0)
	default:
		return openaiai.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.MaxTokens), nil
	}
}

// migrator is implemented by every attempt repository.
type migrator interface {
	attempts.Repository
	Migrate(ctx context.Context) error
}

// openAuditLog connects the configured attempt audit database. It returns
// nil values when the driver is "none".
func openAuditLog(ctx context.Context, cfg *config.Config) (attempts.Repository, *sql.DB, error) {
	var (
		repo migrator
		db   *sql.DB
	)
	switch cfg.Database.Driver {
	case "mysql":
		conn, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, nil, err
		}
		repo, db = mysqlp.NewAttemptRepository(conn), conn
	case "postgres":
		conn, err := postgres.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, nil, err
		}
		repo, db = postgres.NewAttemptRepository(conn), conn.DB
	case "sqlite":
		conn, err := sqlite.Connect(ctx, cfg.SQLitePath())
		if err != nil {
			return nil, nil, err
		}
		repo, db = sqlite.NewAttemptRepository(conn), conn.DB
	default:
		return nil, nil, nil
	}
	if err := repo.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return repo, db, nil
}
