package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/docchat/internal/authn"
	"github.com/xxxsen/docchat/internal/config"
	"github.com/xxxsen/docchat/internal/handler"
	"github.com/xxxsen/docchat/internal/job"
	"github.com/xxxsen/docchat/internal/metrics"
	"github.com/xxxsen/docchat/internal/middleware"
	"github.com/xxxsen/docchat/internal/model"
	"github.com/xxxsen/docchat/internal/queue"
	"github.com/xxxsen/docchat/internal/ratelimit"
	"github.com/xxxsen/docchat/internal/repo"
	"github.com/xxxsen/docchat/internal/schedule"
	"github.com/xxxsen/docchat/internal/service"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "docchat",
		Short: "docchat backend server",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run docchat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return runServer(ctx, a)
		},
	}

	var (
		batchSize int
		dryRun    bool
	)
	migrateCmd := &cobra.Command{
		Use:   "migrate-auth",
		Short: "move clerk accounts to supabase auth",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			report, err := a.migration.Run(ctx, batchSize, dryRun)
			if err != nil {
				return fmt.Errorf("migrate auth: %w", err)
			}
			return printJSON(cmd, report)
		},
	}
	migrateCmd.Flags().IntVar(&batchSize, "batch-size", 50, "users per batch")
	migrateCmd.Flags().BoolVar(&dryRun, "dry-run", false, "list pending users without migrating")

	var (
		reindexUser   string
		reindexFailed bool
	)
	reindexCmd := &cobra.Command{
		Use:   "reindex",
		Short: "re-extract and re-embed documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return reindex(ctx, cmd, a, reindexUser, reindexFailed)
		},
	}
	reindexCmd.Flags().StringVar(&reindexUser, "user", "", "only documents of this user id")
	reindexCmd.Flags().BoolVar(&reindexFailed, "failed-only", false, "only documents that failed ingestion")

	rootCmd.AddCommand(runCmd, migrateCmd, reindexCmd)
	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", path))
	return cfg, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// reindex collects the target ids first so status changes made while
// processing do not shift the listing.
func reindex(ctx context.Context, cmd *cobra.Command, a *app, userID string, failedOnly bool) error {
	var ids []string
	switch {
	case userID != "":
		docs, err := a.docs.ListAllByUser(ctx, userID)
		if err != nil {
			return err
		}
		for _, d := range docs {
			if !failedOnly || d.Status == model.DocumentStatusFailed {
				ids = append(ids, d.ID)
			}
		}
	default:
		statuses := []model.DocumentStatus{model.DocumentStatusFailed}
		if !failedOnly {
			statuses = append(statuses, model.DocumentStatusCompleted)
		}
		for _, status := range statuses {
			for offset := uint(0); ; offset += 200 {
				docs, err := a.docs.ListByStatus(ctx, status, offset, 200)
				if err != nil {
					return err
				}
				for _, d := range docs {
					ids = append(ids, d.ID)
				}
				if len(docs) < 200 {
					break
				}
			}
		}
	}
	log := logutil.GetLogger(ctx)
	failed := 0
	for i, id := range ids {
		if err := a.ingest.Process(ctx, id); err != nil {
			failed++
			log.Warn("reindex document failed", zap.String("document_id", id), zap.Error(err))
		}
		if (i+1)%50 == 0 {
			log.Info("reindex progress", zap.Int("done", i+1), zap.Int("total", len(ids)))
		}
	}
	return printJSON(cmd, map[string]int{"total": len(ids), "failed": failed})
}

func buildLimiters(a *app) (handler.Limiters, error) {
	rl := a.cfg.RateLimit
	var (
		out handler.Limiters
		err error
	)
	if out.Default, err = ratelimit.New(rl.Backend, a.redis, "default", rl.Default); err != nil {
		return out, err
	}
	if out.Chat, err = ratelimit.New(rl.Backend, a.redis, "chat", rl.Chat); err != nil {
		return out, err
	}
	if out.Upload, err = ratelimit.New(rl.Backend, a.redis, "upload", rl.Upload); err != nil {
		return out, err
	}
	return out, nil
}

func buildVerifiers(ctx context.Context, cfg config.AuthConfig) ([]authn.Verifier, error) {
	verifiers := []authn.Verifier{authn.NewSupabaseVerifier(cfg.Supabase.JWTSecret, cfg.Supabase.Audience)}
	if cfg.Clerk.Enabled {
		clerk, err := authn.NewClerkVerifier(ctx, cfg.Clerk.JWKSURL, cfg.Clerk.AuthorizedParties)
		if err != nil {
			return nil, fmt.Errorf("init clerk verifier: %w", err)
		}
		verifiers = append(verifiers, clerk)
	}
	return verifiers, nil
}

func startJobs(ctx context.Context, a *app) (*schedule.CronScheduler, error) {
	jobsCfg := a.cfg.Jobs
	scheduler := schedule.NewCronScheduler()
	entries := []struct {
		job  schedule.Job
		spec string
	}{
		{job.NewEmbeddingCacheCleanupJob(a.embedCache, a.cfg.AI.EmbedCache.MaxAgeDays), jobsCfg.CacheCleanupSpec},
		{job.NewIngestRecoveryJob(a.documents, a.ingest, time.Duration(jobsCfg.StuckIngestMinutes)*time.Minute), jobsCfg.RecoverSpec},
		{job.NewInvitationExpiryJob(a.invitations), jobsCfg.InviteExpireSpec},
		{job.NewDocumentPurgeJob(a.documents, jobsCfg.PurgeAfterDays), jobsCfg.PurgeSpec},
	}
	for _, e := range entries {
		if err := scheduler.AddJob(e.job, e.spec); err != nil {
			return nil, err
		}
	}
	scheduler.Start(ctx)
	return scheduler, nil
}

func runServer(ctx context.Context, a *app) error {
	cfg := a.cfg
	log := logutil.GetLogger(ctx)
	log.Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("file_store", cfg.FileStore.Type),
		zap.String("vector_store", cfg.VectorStore.Type),
		zap.String("rate_limit", cfg.RateLimit.Backend),
	)

	if a.amqp != nil {
		consumer := queue.NewConsumer(a.amqp, cfg.Queue.IngestQueue, cfg.Queue.Workers, a.ingest.HandleTask)
		if err := consumer.Start(ctx); err != nil {
			return fmt.Errorf("start ingest consumer: %w", err)
		}
		defer consumer.Close()
	}

	verifiers, err := buildVerifiers(ctx, cfg.Auth)
	if err != nil {
		return err
	}
	limiters, err := buildLimiters(a)
	if err != nil {
		return fmt.Errorf("init rate limiter: %w", err)
	}
	scheduler, err := startJobs(ctx, a)
	if err != nil {
		return err
	}
	defer scheduler.Stop()

	users := service.NewUserService(a.users)
	checks := map[string]handler.HealthCheck{"postgres": a.db.PingContext}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}
	deps := handler.RouterDeps{
		Account:     handler.NewAccountHandler(users, a.gdpr),
		Documents:   handler.NewDocumentHandler(a.documents, int64(cfg.Upload.MaxSizeMB)*1024*1024),
		Search:      handler.NewSearchHandler(a.searcher, cfg.Chat.MaxPerDocument),
		Chat:        handler.NewChatHandler(a.chatService()),
		Invitations: handler.NewInvitationHandler(a.invitations),
		Admin: handler.NewAdminHandler(handler.AdminDeps{
			Admin:     service.NewAdminService(repo.NewStatsRepo(a.db), repo.NewInvitationRepo(a.db)),
			Users:     users,
			Documents: a.documents,
			Migration: a.migration,
			GDPR:      a.gdpr,
		}),
		Health:    handler.NewHealthHandler(checks),
		Resolver:  a.auth,
		Verifiers: verifiers,
		Limiters:  limiters,
	}

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	engine, err := webapi.NewEngine(
		"/api/v1",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSOrigins),
			metrics.Middleware(),
			gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/api/v1/chat/ask"})),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	log.Info("http server listening", zap.String("addr", addr))

	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("server stopping...")
	return nil
}
