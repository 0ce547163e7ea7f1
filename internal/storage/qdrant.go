package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// collectionPrefix namespaces every Qdrant collection and alias this
// service owns.
const collectionPrefix = "aihelper_"

const upsertBatchSize = 100

// QdrantConfig configures a QdrantStorage.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	Logger *zap.Logger
}

// QdrantStorage wraps the Qdrant client with connection management and health checks.
//
// Each index run creates a fresh physical collection and then points the
// project's alias at it in a single UpdateAliases call, so searches never
// see a half-written index. Older generations are dropped afterwards.
type QdrantStorage struct {
	client *qdrant.Client
	host   string
	port   int
	logger *zap.Logger
}

var _ VectorStore = (*QdrantStorage)(nil)

// NewQdrantStorage creates a new Qdrant client with health validation.
// It performs health check with retry on startup and fails fast if Qdrant is unreachable.
func NewQdrantStorage(ctx context.Context, cfg QdrantConfig) (*QdrantStorage, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &QdrantStorage{client: client, host: cfg.Host, port: cfg.Port, logger: logger}

	if err := s.healthCheckWithRetry(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}
	return s, nil
}

func newBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return backoff.WithContext(b, ctx)
}

// healthCheckWithRetry performs health check with exponential backoff.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func (s *QdrantStorage) healthCheckWithRetry(ctx context.Context) error {
	return backoff.Retry(func() error { return s.Health(ctx) }, newBackoff(ctx))
}

// Health performs a single health check against Qdrant.
func (s *QdrantStorage) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// Close closes the Qdrant client connection.
func (s *QdrantStorage) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// aliasName is the stable name searches go through.
func aliasName(projectID string) string {
	return collectionPrefix + projectID
}

// generationName names a new physical collection for projectID.
func generationName(projectID string) string {
	return aliasName(projectID) + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// mapErr translates gRPC NotFound into ErrCollectionNotFound.
func mapErr(err error, projectID, op string) error {
	if status.Code(err) == codes.NotFound || strings.Contains(err.Error(), "doesn't exist") {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, projectID)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// UpsertCollection writes chunks to a new physical collection and swaps the
// project alias onto it.
func (s *QdrantStorage) UpsertCollection(ctx context.Context, projectID string, chunks []*Chunk) error {
	dim, err := validateChunks(chunks)
	if err != nil {
		return err
	}

	alias := aliasName(projectID)
	physical := generationName(projectID)

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: physical,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	if err := s.fill(ctx, physical, projectID, chunks); err != nil {
		s.dropQuietly(physical)
		return err
	}

	ops := []*qdrant.AliasOperations{qdrant.NewAliasCreate(alias, physical)}
	if s.aliasExists(ctx, alias) {
		ops = append([]*qdrant.AliasOperations{qdrant.NewAliasDelete(alias)}, ops...)
	}
	if err := s.client.UpdateAliases(ctx, ops); err != nil {
		s.dropQuietly(physical)
		return fmt.Errorf("failed to swap alias: %w", err)
	}

	s.dropGenerations(ctx, projectID, physical)
	return nil
}

// fill creates the path index and upserts chunks in batches of 100.
func (s *QdrantStorage) fill(ctx context.Context, collection, projectID string, chunks []*Chunk) error {
	_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: collection,
		FieldName:      "path",
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("failed to create path index: %w", err)
	}

	for i := 0; i < len(chunks); i += upsertBatchSize {
		end := min(i+upsertBatchSize, len(chunks))

		points := make([]*qdrant.PointStruct, 0, end-i)
		for _, c := range chunks[i:end] {
			id := c.ID
			if id == "" {
				id = ChunkID(projectID, c.Path)
			}
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(id),
				Vectors: qdrant.NewVectors(c.Embedding...),
				Payload: qdrant.NewValueMap(map[string]any{
					"project_id": projectID,
					"path":       c.Path,
					"module":     c.Module,
					"sub_module": c.SubModule,
					"content":    c.Content,
					"ordinal":    c.Ordinal,
					"size_bytes": ChunkSize(c),
				}),
			})
		}

		if err := s.upsertWithRetry(ctx, collection, points); err != nil {
			return fmt.Errorf("failed to upsert batch %d-%d: %w", i, end, err)
		}
	}
	return nil
}

// upsertWithRetry performs upsert operation with exponential backoff retry.
func (s *QdrantStorage) upsertWithRetry(ctx context.Context, collection string, points []*qdrant.PointStruct) error {
	operation := func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	}
	return backoff.Retry(operation, newBackoff(ctx))
}

func (s *QdrantStorage) aliasExists(ctx context.Context, alias string) bool {
	aliases, err := s.client.ListAliases(ctx)
	if err != nil {
		return false
	}
	for _, a := range aliases {
		if a.GetAliasName() == alias {
			return true
		}
	}
	return false
}

// dropGenerations deletes every physical collection of the project except keep.
// An empty keep drops them all.
func (s *QdrantStorage) dropGenerations(ctx context.Context, projectID, keep string) {
	names, err := s.client.ListCollections(ctx)
	if err != nil {
		s.logger.Warn("list collections for cleanup", zap.String("project", projectID), zap.Error(err))
		return
	}
	prefix := aliasName(projectID) + "_"
	for _, name := range names {
		if name == keep || !strings.HasPrefix(name, prefix) {
			continue
		}
		if err := s.client.DeleteCollection(ctx, name); err != nil {
			s.logger.Warn("drop old generation", zap.String("collection", name), zap.Error(err))
		}
	}
}

func (s *QdrantStorage) dropQuietly(collection string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.client.DeleteCollection(ctx, collection); err != nil {
		s.logger.Warn("drop unpublished collection", zap.String("collection", collection), zap.Error(err))
	}
}

// Query performs vector similarity search through the project alias.
func (s *QdrantStorage) Query(ctx context.Context, projectID string, vector []float32, topK int) ([]*ScoredChunk, error) {
	if topK <= 0 {
		return []*ScoredChunk{}, nil
	}

	limit := topK + tieSlack
	for {
		scored, err := s.query(ctx, projectID, vector, limit)
		if err != nil {
			return nil, err
		}
		if !tieCut(scored, topK, limit) {
			// Qdrant does not promise an order among equal scores.
			sortScored(scored)
			return truncate(scored, topK), nil
		}
		limit *= 2
	}
}

// tieSlack is the number of extra points fetched so equal scores at the
// topK boundary can be ordered by ordinal.
const tieSlack = 8

// tieCut reports whether a full page of limit results may have cut off
// points scoring the same as the topK-th one.
func tieCut(scored []*ScoredChunk, topK, limit int) bool {
	if len(scored) < limit || len(scored) <= topK {
		return false
	}
	return scored[len(scored)-1].Score == scored[topK-1].Score
}

func (s *QdrantStorage) query(ctx context.Context, projectID string, vector []float32, limit int) ([]*ScoredChunk, error) {
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: aliasName(projectID),
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, mapErr(err, projectID, "search chunks")
	}

	scored := make([]*ScoredChunk, 0, len(results))
	for _, result := range results {
		scored = append(scored, &ScoredChunk{
			Chunk: chunkFromPayload(projectID, result.GetId().GetUuid(), result.GetPayload()),
			Score: float64(result.GetScore()),
		})
	}
	return scored, nil
}

func chunkFromPayload(projectID, id string, payload map[string]*qdrant.Value) *Chunk {
	return &Chunk{
		ID:        id,
		ProjectID: projectID,
		Path:      payload["path"].GetStringValue(),
		Module:    payload["module"].GetStringValue(),
		SubModule: payload["sub_module"].GetStringValue(),
		Content:   payload["content"].GetStringValue(),
		Ordinal:   int(payload["ordinal"].GetIntegerValue()),
	}
}

// DeleteCollection removes the alias and every generation of the project.
func (s *QdrantStorage) DeleteCollection(ctx context.Context, projectID string) error {
	alias := aliasName(projectID)
	if s.aliasExists(ctx, alias) {
		if err := s.client.UpdateAliases(ctx, []*qdrant.AliasOperations{qdrant.NewAliasDelete(alias)}); err != nil {
			return fmt.Errorf("failed to delete alias: %w", err)
		}
	}
	s.dropGenerations(ctx, projectID, "")
	return nil
}

// GetChunk retrieves the chunk stored for path.
func (s *QdrantStorage) GetChunk(ctx context.Context, projectID, path string) (*Chunk, error) {
	results, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: aliasName(projectID),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("path", path)},
		},
		Limit:       qdrant.PtrOf(uint32(1)),
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, mapErr(err, projectID, "query chunk by path")
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrChunkNotFound, path)
	}
	return chunkFromPayload(projectID, results[0].GetId().GetUuid(), results[0].GetPayload()), nil
}

// ListPaths returns all indexed paths using the Scroll API.
func (s *QdrantStorage) ListPaths(ctx context.Context, projectID string) ([]string, error) {
	var paths []string
	var offset *qdrant.PointId
	batchSize := uint32(100)

	for {
		results, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: aliasName(projectID),
			Limit:          qdrant.PtrOf(batchSize),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayloadInclude("path"),
		})
		if err != nil {
			return nil, mapErr(err, projectID, "scroll chunks")
		}

		for _, result := range results {
			if p := result.GetPayload()["path"].GetStringValue(); p != "" {
				paths = append(paths, p)
			}
		}

		if uint32(len(results)) < batchSize {
			break
		}
		offset = results[len(results)-1].GetId()
	}

	sort.Strings(paths)
	return paths, nil
}

// CollectionInfo counts points and reads the vector size of the aliased collection.
func (s *QdrantStorage) CollectionInfo(ctx context.Context, projectID string) (*CollectionInfo, error) {
	alias := aliasName(projectID)

	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: alias,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return nil, mapErr(err, projectID, "count points")
	}

	info := &CollectionInfo{ProjectID: projectID, ChunkCount: int(count)}
	if ci, err := s.client.GetCollectionInfo(ctx, alias); err == nil {
		info.Dimension = int(ci.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize())
	}
	return info, nil
}
