package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/xxxsen/docchat/internal/config"
	"github.com/xxxsen/docchat/internal/pkg/retry"
)

var ErrNotFound = errors.New("file not found")

type Store interface {
	Type() string
	Save(ctx context.Context, key string, r io.ReadSeeker, size int64) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

type Factory func(args interface{}) (Store, error)

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

// New builds the configured store with retried writes.
func New(cfg config.FileStoreConfig) (Store, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	if key == "" {
		return nil, fmt.Errorf("file_store.type is required")
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported file store type: %s", cfg.Type)
	}
	store, err := factory(cfg.Data)
	if err != nil {
		return nil, err
	}
	return WithRetry(store, retry.Default), nil
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("store config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode store config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode store config: %w", err)
	}
	return nil
}

type retryStore struct {
	Store
	policy retry.Policy
}

// WithRetry retries Save and Delete. The reader is rewound before each attempt.
func WithRetry(s Store, p retry.Policy) Store {
	return &retryStore{Store: s, policy: p}
}

func (s *retryStore) Save(ctx context.Context, key string, r io.ReadSeeker, size int64) error {
	return retry.Do(ctx, "filestore.save", s.policy, func() error {
		if _, err := r.Seek(0, io.SeekStart); err != nil {
			return retry.Permanent(err)
		}
		return s.Store.Save(ctx, key, r, size)
	})
}

func (s *retryStore) Delete(ctx context.Context, key string) error {
	return retry.Do(ctx, "filestore.delete", s.policy, func() error {
		err := s.Store.Delete(ctx, key)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	})
}
