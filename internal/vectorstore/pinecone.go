package vectorstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xxxsen/docchat/internal/pkg/retry"
)

const pineconeUpsertBatch = 100

type pineconeConfig struct {
	APIKey    string `json:"api_key"`
	Host      string `json:"host"`
	IndexName string `json:"index_name"`
	IndexHost string `json:"index_host"`
}

type pineconeStore struct {
	client    *pinecone.Client
	indexName string

	mu        sync.Mutex
	indexHost string
}

func init() {
	Register("pinecone", createPineconeStore)
}

func createPineconeStore(args interface{}, _ Deps) (Store, error) {
	cfg := &pineconeConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("pinecone api_key is required")
	}
	if cfg.IndexName == "" && cfg.IndexHost == "" {
		return nil, fmt.Errorf("pinecone index_name or index_host is required")
	}
	params := pinecone.NewClientParams{ApiKey: cfg.APIKey}
	if cfg.Host != "" {
		params.Host = cfg.Host
	}
	client, err := pinecone.NewClient(params)
	if err != nil {
		return nil, fmt.Errorf("create pinecone client: %w", err)
	}
	return &pineconeStore{client: client, indexName: cfg.IndexName, indexHost: cfg.IndexHost}, nil
}

func (s *pineconeStore) Name() string {
	return "pinecone"
}

// conn opens a namespace scoped connection, resolving the index host once.
func (s *pineconeStore) conn(ctx context.Context, namespace string) (*pinecone.IndexConnection, error) {
	s.mu.Lock()
	host := s.indexHost
	s.mu.Unlock()
	if host == "" {
		index, err := s.client.DescribeIndex(ctx, s.indexName)
		if err != nil {
			return nil, fmt.Errorf("describe index %s: %w", s.indexName, err)
		}
		host = index.Host
		s.mu.Lock()
		s.indexHost = host
		s.mu.Unlock()
	}
	conn, err := s.client.Index(pinecone.NewIndexConnParams{Host: host, Namespace: namespace})
	if err != nil {
		return nil, fmt.Errorf("connect index: %w", err)
	}
	return conn, nil
}

func (s *pineconeStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	conn, err := s.conn(ctx, namespace)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()
	vectors := make([]*pinecone.Vector, 0, len(records))
	for _, rec := range records {
		meta, err := structpb.NewStruct(map[string]interface{}{
			"document_id": rec.DocumentID,
			"position":    float64(rec.Position),
		})
		if err != nil {
			return fmt.Errorf("build metadata: %w", err)
		}
		vectors = append(vectors, &pinecone.Vector{Id: rec.ID, Values: rec.Values, Metadata: meta})
	}
	for start := 0; start < len(vectors); start += pineconeUpsertBatch {
		end := start + pineconeUpsertBatch
		if end > len(vectors) {
			end = len(vectors)
		}
		if _, err := conn.UpsertVectors(ctx, vectors[start:end]); err != nil {
			return fmt.Errorf("upsert vectors: %w", err)
		}
	}
	return nil
}

func documentFilter(documentIDs []string) (*pinecone.MetadataFilter, error) {
	if len(documentIDs) == 0 {
		return nil, nil
	}
	ids := make([]interface{}, 0, len(documentIDs))
	for _, id := range documentIDs {
		ids = append(ids, id)
	}
	return structpb.NewStruct(map[string]interface{}{
		"document_id": map[string]interface{}{"$in": ids},
	})
}

func (s *pineconeStore) Query(ctx context.Context, namespace string, vector []float32, topK int, documentIDs []string) ([]Match, error) {
	conn, err := s.conn(ctx, namespace)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()
	filter, err := documentFilter(documentIDs)
	if err != nil {
		return nil, fmt.Errorf("build filter: %w", err)
	}
	resp, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vector,
		TopK:            uint32(topK),
		MetadataFilter:  filter,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("query pinecone: %w", err)
	}
	matches := make([]Match, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		if m == nil || m.Vector == nil {
			continue
		}
		match := Match{ID: m.Vector.Id, Score: float64(m.Score)}
		if m.Vector.Metadata != nil {
			fields := m.Vector.Metadata.AsMap()
			if v, ok := fields["document_id"].(string); ok {
				match.DocumentID = v
			}
			if v, ok := fields["position"].(float64); ok {
				match.Position = int(v)
			}
		}
		matches = append(matches, match)
	}
	return matches, nil
}

func (s *pineconeStore) DeleteByIDs(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	conn, err := s.conn(ctx, namespace)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()
	if err := conn.DeleteVectorsById(ctx, ids); err != nil {
		return deleteError("delete vectors", err)
	}
	return nil
}

func (s *pineconeStore) DeleteNamespace(ctx context.Context, namespace string) error {
	conn, err := s.conn(ctx, namespace)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()
	if err := conn.DeleteAllVectorsInNamespace(ctx); err != nil {
		return deleteError("delete namespace", err)
	}
	return nil
}

// deleteError maps a gRPC NotFound to ErrNotFound. Pinecone answers that way
// for a namespace that never received an upsert, and retrying cannot help.
func deleteError(op string, err error) error {
	if status.Code(err) == codes.NotFound {
		return retry.Permanent(fmt.Errorf("%s: %w: %v", op, ErrNotFound, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}
