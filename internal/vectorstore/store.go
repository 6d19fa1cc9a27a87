package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xxxsen/docchat/internal/config"
	"github.com/xxxsen/docchat/internal/pkg/retry"
)

// ErrNotFound reports a namespace or index the backend does not know. Deletes
// treat it as already done.
var ErrNotFound = errors.New("vector namespace not found")

// IgnoreNotFound drops ErrNotFound so deletes stay idempotent.
func IgnoreNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// Record is one chunk embedding. Namespaces isolate tenants.
type Record struct {
	ID         string
	DocumentID string
	Position   int
	Values     []float32
}

type Match struct {
	ID         string
	DocumentID string
	Position   int
	Score      float64
}

type Store interface {
	Name() string
	Upsert(ctx context.Context, namespace string, records []Record) error
	// Query returns up to topK nearest records. An empty documentIDs
	// searches the whole namespace.
	Query(ctx context.Context, namespace string, vector []float32, topK int, documentIDs []string) ([]Match, error)
	DeleteByIDs(ctx context.Context, namespace string, ids []string) error
	DeleteNamespace(ctx context.Context, namespace string) error
}

// Deps carries shared resources a backend may need.
type Deps struct {
	DB *sql.DB
}

type Factory func(args interface{}, deps Deps) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

// New builds the configured backend with retried writes.
func New(cfg config.VectorConfig, deps Deps) (Store, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported vector store type: %s", cfg.Type)
	}
	store, err := factory(cfg.Data, deps)
	if err != nil {
		return nil, err
	}
	return WithRetry(store, retry.Default), nil
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode vector store config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode vector store config: %w", err)
	}
	return nil
}

type retryStore struct {
	Store
	policy retry.Policy
}

// WithRetry retries writes and deletes with exponential backoff. Queries
// are not retried; hybrid search degrades instead.
func WithRetry(s Store, p retry.Policy) Store {
	return &retryStore{Store: s, policy: p}
}

func (s *retryStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	return retry.Do(ctx, s.Name()+".upsert", s.policy, func() error {
		return s.Store.Upsert(ctx, namespace, records)
	})
}

func (s *retryStore) DeleteByIDs(ctx context.Context, namespace string, ids []string) error {
	return retry.Do(ctx, s.Name()+".delete", s.policy, func() error {
		return s.Store.DeleteByIDs(ctx, namespace, ids)
	})
}

func (s *retryStore) DeleteNamespace(ctx context.Context, namespace string) error {
	return retry.Do(ctx, s.Name()+".delete_namespace", s.policy, func() error {
		return s.Store.DeleteNamespace(ctx, namespace)
	})
}
