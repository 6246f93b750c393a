// Package qdrant adapts the teacher's qdrantVector backend into the
// ContentChunk/RegulatoryNode vector-index shape named by the alternate
// VECTOR_BACKEND=qdrant deployment option.
package qdrant

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// PayloadOriginalIDField stores a chunk/node's real id when it is not
// itself a UUID, since Qdrant point ids must be UUIDs or positive integers.
const PayloadOriginalIDField = "_original_id"

// Index is a tenant-agnostic nearest-neighbor index over one Qdrant
// collection; callers are responsible for tenant scoping via payload
// filters (every point stores "tenant_id" in its metadata).
type Index struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// Hit is one nearest-neighbor match with its original (non-UUID) id and
// payload metadata restored.
type Hit struct {
	ID       string
	Score    float64
	Metadata map[string]string
}

// Open connects to Qdrant at dsn, a URL such as http://host[:port] (https
// enables TLS; default gRPC port 6334; "?api_key=" query param for auth;
// a bare host[:port] without a scheme is not parsed as a host) and ensures
// the named collection
// exists with the given vector dimension and cosine distance.
func Open(ctx context.Context, dsn, collection string, dimensions int) (*Index, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("qdrant requires dimensions > 0")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant dsn: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	idx := &Index{client: client, collection: collection, dimension: dimensions}
	if err := idx.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) ensureCollection(ctx context.Context) error {
	exists, err := idx.client.CollectionExists(ctx, idx.collection)
	if err != nil {
		return fmt.Errorf("check qdrant collection: %w", err)
	}
	if exists {
		return nil
	}
	return idx.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: idx.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(idx.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

func pointIDFor(id string) (string, bool) {
	if _, err := uuid.Parse(id); err == nil {
		return id, false
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String(), true
}

// Upsert stores one embedding with its metadata, keyed by id (which need
// not itself be a UUID).
func (idx *Index) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error {
	pointID, remapped := pointIDFor(id)
	payload := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		payload[k] = v
	}
	if remapped {
		payload[PayloadOriginalIDField] = id
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	_, err := idx.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: idx.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(pointID),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	return err
}

// Delete removes the point for id, if present.
func (idx *Index) Delete(ctx context.Context, id string) error {
	pointID, _ := pointIDFor(id)
	_, err := idx.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: idx.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(pointID)),
	})
	return err
}

// DeleteWhere removes every point whose metadata matches all of filter,
// used to cascade-delete a source document's chunk vectors.
func (idx *Index) DeleteWhere(ctx context.Context, filter map[string]string) error {
	if len(filter) == 0 {
		return nil
	}
	must := make([]*qdrant.Condition, 0, len(filter))
	for k, v := range filter {
		must = append(must, qdrant.NewMatch(k, v))
	}
	_, err := idx.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: idx.collection,
		Points:         qdrant.NewPointsSelectorFilter(&qdrant.Filter{Must: must}),
	})
	return err
}

// Search returns the k nearest points to vector, optionally narrowed by an
// exact-match payload filter (e.g. {"tenant_id": "...", "collection_id": "..."}).
func (idx *Index) Search(ctx context.Context, vector []float32, k int, filter map[string]string) ([]Hit, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	var queryFilter *qdrant.Filter
	if len(filter) > 0 {
		must := make([]*qdrant.Condition, 0, len(filter))
		for k, v := range filter {
			must = append(must, qdrant.NewMatch(k, v))
		}
		queryFilter = &qdrant.Filter{Must: must}
	}
	limit := uint64(k)
	results, err := idx.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: idx.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         queryFilter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		id := r.Id.GetUuid()
		if id == "" {
			id = r.Id.String()
		}
		metadata := make(map[string]string)
		if r.Payload != nil {
			for k, v := range r.Payload {
				if k == PayloadOriginalIDField {
					id = v.GetStringValue()
					continue
				}
				metadata[k] = v.GetStringValue()
			}
		}
		hits = append(hits, Hit{ID: id, Score: float64(r.Score), Metadata: metadata})
	}
	return hits, nil
}

// Close releases the underlying gRPC connection.
func (idx *Index) Close() error { return idx.client.Close() }
