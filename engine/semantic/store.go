// Package semantic owns all Qdrant operations. One Store instance wraps one
// collection; the engine runs two of them, one per corpus.
package semantic

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/acessolabs/lai-engine/engine/domain"
)

// pointsAPI is the slice of pb.PointsClient the store uses.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Get(ctx context.Context, in *pb.GetPoints, opts ...grpc.CallOption) (*pb.GetResponse, error)
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

// collectionsAPI is the slice of pb.CollectionsClient the store uses.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Store provides vector operations on a single Qdrant collection.
type Store struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
}

// New creates a Store connected to Qdrant at the given gRPC address.
func New(addr string, collection string) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// NewWithClients creates a Store over existing clients. Used by tests and by
// callers sharing one gRPC connection across both corpora.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string) *Store {
	return &Store{points: points, collections: collections, collection: collection}
}

// Close closes the underlying gRPC connection, if the store owns one.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Collection returns the collection name this store wraps.
func (s *Store) Collection() string { return s.collection }

// EnsureCollection creates the collection (cosine distance) if absent.
func (s *Store) EnsureCollection(ctx context.Context, dims int) error {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == s.collection {
			return nil
		}
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", s.collection, err)
	}
	return nil
}

// Upsert stores records into the collection. Called by the ingest utility.
func (s *Store) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		points[i] = &pb.PointStruct{
			Id:      numID(r.ID),
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: r.Vector}}},
			Payload: toPayload(r.Payload),
		}
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(records), err)
	}
	return nil
}

// Get fetches one point by id, vector included. Returns domain.ErrNotFound
// when the id does not exist.
func (s *Store) Get(ctx context.Context, id uint64) (Point, error) {
	resp, err := s.points.Get(ctx, &pb.GetPoints{
		CollectionName: s.collection,
		Ids:            []*pb.PointId{numID(id)},
		WithPayload:    enablePayload(),
		WithVectors:    enableVectors(),
	})
	if err != nil {
		return Point{}, fmt.Errorf("semantic: get %d: %w", id, err)
	}
	if len(resp.GetResult()) == 0 {
		return Point{}, fmt.Errorf("semantic: point %d: %w", id, domain.ErrNotFound)
	}
	return retrievedPoint(resp.GetResult()[0]), nil
}

// GetByField fetches the single point whose payload field matches value
// exactly. Used for the requests' secondary protocol key. Returns
// domain.ErrNotFound on a miss.
func (s *Store) GetByField(ctx context.Context, key, value string) (Point, error) {
	limit := uint32(1)
	resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
		CollectionName: s.collection,
		Filter:         &pb.Filter{Must: []*pb.Condition{fieldMatch(key, value)}},
		Limit:          &limit,
		WithPayload:    enablePayload(),
		WithVectors:    enableVectors(),
	})
	if err != nil {
		return Point{}, fmt.Errorf("semantic: scroll %s=%s: %w", key, value, err)
	}
	if len(resp.GetResult()) == 0 {
		return Point{}, fmt.Errorf("semantic: %s %s: %w", key, value, domain.ErrNotFound)
	}
	return retrievedPoint(resp.GetResult()[0]), nil
}

// ListByField returns up to limit points whose payload field matches value
// exactly, without similarity ranking. Used to enumerate the appeals linked
// to one request protocol. An empty result is not an error.
func (s *Store) ListByField(ctx context.Context, key, value string, limit int) ([]Point, error) {
	if limit <= 0 {
		limit = domain.DefaultTopK
	}
	l := uint32(limit)
	resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
		CollectionName: s.collection,
		Filter:         &pb.Filter{Must: []*pb.Condition{fieldMatch(key, value)}},
		Limit:          &l,
		WithPayload:    enablePayload(),
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: list %s=%s: %w", key, value, err)
	}
	out := make([]Point, len(resp.GetResult()))
	for i, p := range resp.GetResult() {
		out[i] = retrievedPoint(p)
	}
	return out, nil
}

// Search performs k-NN cosine search. At most TopK hits at or above MinScore
// come back, best first. An empty result is not an error.
func (s *Store) Search(ctx context.Context, vector []float32, params SearchParams) ([]ScoredPoint, error) {
	if params.TopK <= 0 {
		params.TopK = domain.DefaultTopK
	}

	req := &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Limit:          uint64(params.TopK),
		WithPayload:    enablePayload(),
	}
	if params.MinScore > 0 {
		threshold := params.MinScore
		req.ScoreThreshold = &threshold
	}

	var must []*pb.Condition
	for k, v := range params.Filter {
		must = append(must, fieldMatch(k, v))
	}
	var mustNot []*pb.Condition
	if len(params.ExcludeIDs) > 0 {
		ids := make([]*pb.PointId, len(params.ExcludeIDs))
		for i, id := range params.ExcludeIDs {
			ids[i] = numID(id)
		}
		mustNot = append(mustNot, &pb.Condition{
			ConditionOneOf: &pb.Condition_HasId{HasId: &pb.HasIdCondition{HasId: ids}},
		})
	}
	if len(must) > 0 || len(mustNot) > 0 {
		req.Filter = &pb.Filter{Must: must, MustNot: mustNot}
	}

	resp, err := s.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	hits := make([]ScoredPoint, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		hits[i] = ScoredPoint{
			ID:      r.GetId().GetNum(),
			Score:   r.GetScore(),
			Payload: stringPayload(r.GetPayload()),
		}
	}
	return hits, nil
}

// DistinctField scrolls the whole collection and returns the distinct
// non-empty values of one payload field, e.g. the deciding bodies.
func (s *Store) DistinctField(ctx context.Context, key string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string

	limit := uint32(256)
	var offset *pb.PointId
	for {
		resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: s.collection,
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    enablePayload(),
		})
		if err != nil {
			return nil, fmt.Errorf("semantic: scroll %s: %w", key, err)
		}
		for _, p := range resp.GetResult() {
			v := p.GetPayload()[key].GetStringValue()
			if v == "" {
				continue
			}
			if _, ok := seen[v]; !ok {
				seen[v] = struct{}{}
				out = append(out, v)
			}
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			break
		}
	}
	return out, nil
}

// --- proto helpers ---

func numID(id uint64) *pb.PointId {
	return &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: id}}
}

func enablePayload() *pb.WithPayloadSelector {
	return &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}}
}

func enableVectors() *pb.WithVectorsSelector {
	return &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func toPayload(in map[string]any) map[string]*pb.Value {
	payload := make(map[string]*pb.Value, len(in))
	for k, val := range in {
		switch tv := val.(type) {
		case string:
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
		case int:
			payload[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
		case int64:
			payload[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
		case float64:
			payload[k] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
		case bool:
			payload[k] = &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
		default:
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
		}
	}
	return payload
}

func stringPayload(in map[string]*pb.Value) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch kind := v.GetKind().(type) {
		case *pb.Value_StringValue:
			out[k] = kind.StringValue
		case *pb.Value_IntegerValue:
			out[k] = fmt.Sprintf("%d", kind.IntegerValue)
		case *pb.Value_DoubleValue:
			out[k] = fmt.Sprintf("%g", kind.DoubleValue)
		case *pb.Value_BoolValue:
			out[k] = fmt.Sprintf("%t", kind.BoolValue)
		}
	}
	return out
}

func retrievedPoint(r *pb.RetrievedPoint) Point {
	return Point{
		ID:      r.GetId().GetNum(),
		Vector:  r.GetVectors().GetVector().GetData(),
		Payload: stringPayload(r.GetPayload()),
	}
}
