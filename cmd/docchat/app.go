package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docchat/internal/ai"
	"github.com/xxxsen/docchat/internal/authn"
	"github.com/xxxsen/docchat/internal/cache"
	"github.com/xxxsen/docchat/internal/config"
	"github.com/xxxsen/docchat/internal/db"
	"github.com/xxxsen/docchat/internal/embedcache"
	"github.com/xxxsen/docchat/internal/extract"
	"github.com/xxxsen/docchat/internal/filestore"
	"github.com/xxxsen/docchat/internal/pkg/redisutil"
	"github.com/xxxsen/docchat/internal/queue"
	"github.com/xxxsen/docchat/internal/repo"
	"github.com/xxxsen/docchat/internal/search"
	"github.com/xxxsen/docchat/internal/service"
	"github.com/xxxsen/docchat/internal/vectorstore"
)

type clerkDirectory interface {
	GetUser(ctx context.Context, clerkID string) (*authn.ClerkUser, error)
}

type supabaseAccounts interface {
	CreateUser(ctx context.Context, params authn.CreateUserParams) (*authn.SupabaseUser, error)
	FindUserByEmail(ctx context.Context, email string) (*authn.SupabaseUser, error)
	DeleteUser(ctx context.Context, id string) error
	InviteUser(ctx context.Context, email, redirectTo string, data map[string]interface{}) (*authn.SupabaseUser, error)
}

// app holds every long lived component shared by the commands.
type app struct {
	cfg     *config.Config
	db      *sql.DB
	redis   *redis.Client
	amqp    *amqp.Connection
	ai      *ai.Manager
	files   filestore.Store
	vectors vectorstore.Store

	users       *repo.UserRepo
	docs        *repo.DocumentRepo
	chunks      *repo.ChunkRepo
	embedCache  *repo.EmbeddingCacheRepo
	clerk       clerkDirectory
	supabase    supabaseAccounts
	counter     ai.TokenCounter
	ingest      *service.IngestService
	documents   *service.DocumentService
	auth        *service.AuthService
	migration   *service.AuthMigrationService
	searcher    *search.Searcher
	invitations *service.InvitationService
	gdpr        *service.GDPRService
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := logutil.GetLogger(ctx)
	sqlDB, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.ApplyMigrations(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	a := &app{cfg: cfg, db: sqlDB}

	if cfg.Redis.Addr != "" {
		client, err := redisutil.New(ctx, cfg.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = client
		logger.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
	}

	if a.files, err = filestore.New(cfg.FileStore); err != nil {
		a.Close()
		return nil, fmt.Errorf("init file store: %w", err)
	}
	if a.vectors, err = vectorstore.New(cfg.VectorStore, vectorstore.Deps{DB: sqlDB}); err != nil {
		a.Close()
		return nil, fmt.Errorf("init vector store: %w", err)
	}

	a.users = repo.NewUserRepo(sqlDB)
	a.docs = repo.NewDocumentRepo(sqlDB)
	a.chunks = repo.NewChunkRepo(sqlDB)
	a.embedCache = repo.NewEmbeddingCacheRepo(sqlDB)

	if a.ai, err = buildAI(cfg.AI, a.embedCache); err != nil {
		a.Close()
		return nil, err
	}
	a.counter = ai.NewTokenCounter(cfg.AI.TokenModel)

	if cfg.Auth.Clerk.SecretKey != "" {
		a.clerk = authn.NewClerkClient(cfg.Auth.Clerk.APIURL, cfg.Auth.Clerk.SecretKey)
	}
	if cfg.Auth.Supabase.URL != "" && cfg.Auth.Supabase.ServiceRoleKey != "" {
		a.supabase = authn.NewSupabaseAdmin(cfg.Auth.Supabase.URL, cfg.Auth.Supabase.ServiceRoleKey)
	}

	a.ingest = service.NewIngestService(a.docs, a.chunks, a.files, a.vectors,
		extract.New(a.ai.OCR()), ai.NewChunker(a.counter, 0, -1), a.ai)
	if cfg.Queue.AMQPURL != "" {
		conn, err := queue.Connect(ctx, cfg.Queue.AMQPURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.amqp = conn
		a.ingest.WithPublisher(queue.NewPublisher(conn, cfg.Queue.IngestQueue))
		logger.Info("ingest queue connected", zap.String("queue", cfg.Queue.IngestQueue))
	}
	maxUpload := int64(cfg.Upload.MaxSizeMB) * 1024 * 1024
	a.documents = service.NewDocumentService(a.docs, a.chunks, a.files, a.vectors, a.ingest, maxUpload)
	a.auth = service.NewAuthService(a.users, cfg.Auth)
	a.migration = service.NewAuthMigrationService(a.users, repo.NewAuthMigrationRepo(sqlDB), a.clerk, a.supabase)
	a.searcher = search.NewSearcher(a.ai, a.vectors, a.chunks)
	a.invitations = service.NewInvitationService(repo.NewInvitationRepo(sqlDB), a.users, a.auth,
		service.NewEmailSender(cfg.Mail), a.supabase, cfg.PublicURL, cfg.Auth.InviteTTLDays)
	a.gdpr = service.NewGDPRService(sqlDB, a.files, a.vectors, a.supabase)
	return a, nil
}

func (a *app) answerCache() cache.Cache {
	ttl := time.Duration(a.cfg.Chat.CacheTTLMin) * time.Minute
	return cache.New(a.redis, "docchat:answer:", 2000, ttl)
}

func (a *app) chatService() *service.ChatService {
	return service.NewChatService(
		repo.NewChatSessionRepo(a.db),
		repo.NewConversationRepo(a.db),
		a.docs,
		a.searcher,
		a.ai,
		a.answerCache(),
		a.counter,
		a.cfg.Chat,
	)
}

func (a *app) Close() {
	if a.amqp != nil {
		_ = a.amqp.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

// buildAI wires the provider chains. Embeddings go through the LRU and
// then the database cache before reaching the provider.
func buildAI(cfg config.AIConfig, store embedcache.Store) (*ai.Manager, error) {
	generators := make([]ai.GeneratorEntry, 0, len(cfg.Generators))
	for _, item := range cfg.Generators {
		p, err := ai.NewProvider(item.Provider, item.Data)
		if err != nil {
			return nil, fmt.Errorf("init generator %s: %w", entryName(item), err)
		}
		generators = append(generators, ai.GeneratorEntry{Name: entryName(item), Generator: ai.NewGenerator(p, item.Model)})
	}
	embedders := make([]ai.EmbedderEntry, 0, len(cfg.Embedders))
	for _, item := range cfg.Embedders {
		p, err := ai.NewProvider(item.Provider, item.Data)
		if err != nil {
			return nil, fmt.Errorf("init embedder %s: %w", entryName(item), err)
		}
		embedders = append(embedders, ai.EmbedderEntry{Name: entryName(item), Embedder: ai.NewEmbedder(p, item.Model)})
	}
	embedder := ai.NewGroupEmbedder(embedders)
	if cfg.EmbedCache.UseDB {
		embedder = embedcache.WrapDBCacheToEmbedder(embedder, store)
	}
	if cfg.EmbedCache.LRUSize > 0 {
		embedder = embedcache.WrapLruCacheToEmbedder(embedder, cfg.EmbedCache.LRUSize,
			time.Duration(cfg.EmbedCache.LRUTTLMin)*time.Minute)
	}
	var reader ai.IOCR
	if cfg.OCR != nil {
		p, err := ai.NewProvider(cfg.OCR.Provider, cfg.OCR.Data)
		if err != nil {
			return nil, fmt.Errorf("init ocr provider: %w", err)
		}
		if reader, err = ai.NewOCR(p, cfg.OCR.Model); err != nil {
			return nil, err
		}
	}
	return ai.NewManager(ai.NewGroupGenerator(generators), embedder, reader, ai.ManagerConfig{
		Timeout:       cfg.Timeout,
		MaxInputChars: cfg.MaxInputChars,
	}), nil
}

func entryName(item config.AIProviderConfig) string {
	if item.Name != "" {
		return item.Name
	}
	return item.Provider + ":" + item.Model
}
