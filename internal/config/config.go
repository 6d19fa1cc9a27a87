package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port        int              `json:"port"`
	PublicURL   string           `json:"public_url"`
	LogConfig   logger.LogConfig `json:"log_config"`
	Database    DatabaseConfig   `json:"database"`
	Redis       RedisConfig      `json:"redis"`
	Queue       QueueConfig      `json:"queue"`
	FileStore   FileStoreConfig  `json:"file_store"`
	VectorStore VectorConfig     `json:"vector_store"`
	AI          AIConfig         `json:"ai"`
	Auth        AuthConfig       `json:"auth"`
	Mail        MailConfig       `json:"mail"`
	RateLimit   RateLimitConfig  `json:"rate_limit"`
	Upload      UploadConfig     `json:"upload"`
	Chat        ChatConfig       `json:"chat"`
	Jobs        JobsConfig       `json:"jobs"`
	CORSOrigins []string         `json:"cors_origins"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type QueueConfig struct {
	AMQPURL     string `json:"amqp_url"`
	IngestQueue string `json:"ingest_queue"`
	Workers     int    `json:"workers"`
}

type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type VectorConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type AIProviderConfig struct {
	Name     string      `json:"name"`
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	Data     interface{} `json:"data"`
}

type AIConfig struct {
	Generators    []AIProviderConfig `json:"generators"`
	Embedders     []AIProviderConfig `json:"embedders"`
	OCR           *AIProviderConfig  `json:"ocr"`
	Timeout       int                `json:"timeout"`
	MaxInputChars int                `json:"max_input_chars"`
	EmbedCache    EmbedCacheConfig   `json:"embed_cache"`
	TokenModel    string             `json:"token_model"`
}

type EmbedCacheConfig struct {
	LRUSize    int  `json:"lru_size"`
	LRUTTLMin  int  `json:"lru_ttl_min"`
	UseDB      bool `json:"use_db"`
	MaxAgeDays int  `json:"max_age_days"`
}

type AuthConfig struct {
	AllowRegister bool           `json:"allow_register"`
	AdminEmails   []string       `json:"admin_emails"`
	Supabase      SupabaseConfig `json:"supabase"`
	Clerk         ClerkConfig    `json:"clerk"`
	InviteTTLDays int            `json:"invite_ttl_days"`
}

type SupabaseConfig struct {
	URL            string `json:"url"`
	JWTSecret      string `json:"jwt_secret"`
	ServiceRoleKey string `json:"service_role_key"`
	Audience       string `json:"audience"`
}

type ClerkConfig struct {
	Enabled           bool     `json:"enabled"`
	JWKSURL           string   `json:"jwks_url"`
	SecretKey         string   `json:"secret_key"`
	APIURL            string   `json:"api_url"`
	AuthorizedParties []string `json:"authorized_parties"`
}

type MailConfig struct {
	Type     string `json:"type"`
	From     string `json:"from"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	APIKey   string `json:"api_key"`
}

type RateLimitRule struct {
	Limit         int `json:"limit"`
	WindowSeconds int `json:"window_seconds"`
}

type RateLimitConfig struct {
	Backend string        `json:"backend"`
	Default RateLimitRule `json:"default"`
	Chat    RateLimitRule `json:"chat"`
	Upload  RateLimitRule `json:"upload"`
}

type UploadConfig struct {
	MaxSizeMB int `json:"max_size_mb"`
}

type ChatConfig struct {
	TopK           int `json:"top_k"`
	MaxPerDocument int `json:"max_per_document"`
	HistoryTurns   int `json:"history_turns"`
	ContextTokens  int `json:"context_tokens"`
	CacheTTLMin    int `json:"cache_ttl_min"`
}

type JobsConfig struct {
	StuckIngestMinutes int    `json:"stuck_ingest_minutes"`
	PurgeAfterDays     int    `json:"purge_after_days"`
	CacheCleanupSpec   string `json:"cache_cleanup_spec"`
	RecoverSpec        string `json:"recover_spec"`
	InviteExpireSpec   string `json:"invite_expire_spec"`
	PurgeSpec          string `json:"purge_spec"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) normalize() error {
	if cfg.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if cfg.Database.DSN == "" && cfg.Database.Host == "" {
		return fmt.Errorf("database.dsn or database.host is required")
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Auth.Supabase.JWTSecret == "" {
		return fmt.Errorf("auth.supabase.jwt_secret is required")
	}
	if cfg.Auth.Supabase.Audience == "" {
		cfg.Auth.Supabase.Audience = "authenticated"
	}
	if cfg.Auth.Clerk.Enabled && cfg.Auth.Clerk.JWKSURL == "" {
		return fmt.Errorf("auth.clerk.jwks_url is required when clerk is enabled")
	}
	if cfg.Auth.Clerk.APIURL == "" {
		cfg.Auth.Clerk.APIURL = "https://api.clerk.com/v1"
	}
	if cfg.Auth.InviteTTLDays <= 0 {
		cfg.Auth.InviteTTLDays = 7
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.FileStore.Type == "" {
		cfg.FileStore.Type = "local"
	}
	switch cfg.FileStore.Type {
	case "local", "s3":
	default:
		return fmt.Errorf("file_store.type must be local or s3")
	}
	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "pgvector"
	}
	switch cfg.VectorStore.Type {
	case "pinecone", "pgvector":
	default:
		return fmt.Errorf("vector_store.type must be pinecone or pgvector")
	}
	if len(cfg.AI.Embedders) == 0 {
		return fmt.Errorf("ai.embedders requires at least one entry")
	}
	if len(cfg.AI.Generators) == 0 {
		return fmt.Errorf("ai.generators requires at least one entry")
	}
	if cfg.AI.Timeout <= 0 {
		cfg.AI.Timeout = 60
	}
	if cfg.AI.TokenModel == "" {
		cfg.AI.TokenModel = "gpt-4o-mini"
	}
	if cfg.AI.EmbedCache.MaxAgeDays <= 0 {
		cfg.AI.EmbedCache.MaxAgeDays = 30
	}
	cfg.RateLimit.Backend = strings.ToLower(strings.TrimSpace(cfg.RateLimit.Backend))
	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = "memory"
	}
	if cfg.RateLimit.Backend == "redis" && cfg.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required for redis rate limiting")
	}
	applyRule(&cfg.RateLimit.Default, 120, 60)
	applyRule(&cfg.RateLimit.Chat, 20, 60)
	applyRule(&cfg.RateLimit.Upload, 10, 60)
	if cfg.Upload.MaxSizeMB <= 0 {
		cfg.Upload.MaxSizeMB = 20
	}
	if cfg.Chat.TopK <= 0 {
		cfg.Chat.TopK = 8
	}
	if cfg.Chat.MaxPerDocument <= 0 {
		cfg.Chat.MaxPerDocument = 3
	}
	if cfg.Chat.HistoryTurns <= 0 {
		cfg.Chat.HistoryTurns = 6
	}
	if cfg.Chat.ContextTokens <= 0 {
		cfg.Chat.ContextTokens = 6000
	}
	if cfg.Chat.CacheTTLMin <= 0 {
		cfg.Chat.CacheTTLMin = 10
	}
	if cfg.Queue.IngestQueue == "" {
		cfg.Queue.IngestQueue = "docchat.ingest"
	}
	if cfg.Queue.Workers <= 0 {
		cfg.Queue.Workers = 2
	}
	if cfg.Jobs.StuckIngestMinutes <= 0 {
		cfg.Jobs.StuckIngestMinutes = 30
	}
	if cfg.Jobs.PurgeAfterDays <= 0 {
		cfg.Jobs.PurgeAfterDays = 30
	}
	if cfg.Jobs.CacheCleanupSpec == "" {
		cfg.Jobs.CacheCleanupSpec = "0 3 * * *"
	}
	if cfg.Jobs.RecoverSpec == "" {
		cfg.Jobs.RecoverSpec = "*/10 * * * *"
	}
	if cfg.Jobs.InviteExpireSpec == "" {
		cfg.Jobs.InviteExpireSpec = "0 * * * *"
	}
	if cfg.Jobs.PurgeSpec == "" {
		cfg.Jobs.PurgeSpec = "30 3 * * *"
	}
	return nil
}

func applyRule(rule *RateLimitRule, limit, window int) {
	if rule.Limit <= 0 {
		rule.Limit = limit
	}
	if rule.WindowSeconds <= 0 {
		rule.WindowSeconds = window
	}
}
