package semantic

import (
	"context"
	"errors"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/acessolabs/lai-engine/engine/domain"
)

// --- Mocks ---

type mockPoints struct {
	upsertResp *pb.PointsOperationResponse
	upsertErr  error
	getResp    *pb.GetResponse
	getErr     error
	scrollResp []*pb.ScrollResponse
	scrollErr  error
	scrollCall int
	searchResp *pb.SearchResponse
	searchErr  error
	lastSearch *pb.SearchPoints
	lastScroll *pb.ScrollPoints
}

func (m *mockPoints) Upsert(_ context.Context, _ *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	return m.upsertResp, m.upsertErr
}
func (m *mockPoints) Get(_ context.Context, _ *pb.GetPoints, _ ...grpc.CallOption) (*pb.GetResponse, error) {
	return m.getResp, m.getErr
}
func (m *mockPoints) Scroll(_ context.Context, in *pb.ScrollPoints, _ ...grpc.CallOption) (*pb.ScrollResponse, error) {
	m.lastScroll = in
	if m.scrollErr != nil {
		return nil, m.scrollErr
	}
	resp := m.scrollResp[m.scrollCall]
	m.scrollCall++
	return resp, nil
}
func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.lastSearch = in
	return m.searchResp, m.searchErr
}

type mockCollections struct {
	listResp   *pb.ListCollectionsResponse
	listErr    error
	createResp *pb.CollectionOperationResponse
	createErr  error
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	return m.listResp, m.listErr
}
func (m *mockCollections) Create(_ context.Context, _ *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	return m.createResp, m.createErr
}

func strVal(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

// --- Tests ---

func TestNewWithClients(t *testing.T) {
	st := NewWithClients(&mockPoints{}, &mockCollections{}, "appeals")
	if st == nil {
		t.Fatal("expected non-nil store")
	}
	if st.Collection() != "appeals" {
		t.Errorf("unexpected collection: %s", st.Collection())
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestEnsureCollection_AlreadyExists(t *testing.T) {
	cols := &mockCollections{
		listResp: &pb.ListCollectionsResponse{
			Collections: []*pb.CollectionDescription{{Name: "requests"}},
		},
	}
	st := NewWithClients(&mockPoints{}, cols, "requests")
	if err := st.EnsureCollection(context.Background(), 768); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnsureCollection_Creates(t *testing.T) {
	cols := &mockCollections{
		listResp:   &pb.ListCollectionsResponse{Collections: []*pb.CollectionDescription{}},
		createResp: &pb.CollectionOperationResponse{Result: true},
	}
	st := NewWithClients(&mockPoints{}, cols, "requests")
	if err := st.EnsureCollection(context.Background(), 768); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnsureCollection_ListError(t *testing.T) {
	cols := &mockCollections{listErr: errors.New("rpc fail")}
	st := NewWithClients(&mockPoints{}, cols, "requests")
	if err := st.EnsureCollection(context.Background(), 768); err == nil {
		t.Fatal("expected error")
	}
}

func TestUpsert_Empty(t *testing.T) {
	st := NewWithClients(&mockPoints{upsertErr: errors.New("must not be called")}, &mockCollections{}, "requests")
	if err := st.Upsert(context.Background(), nil); err != nil {
		t.Fatalf("empty upsert must be a no-op: %v", err)
	}
}

func TestUpsert_Error(t *testing.T) {
	st := NewWithClients(&mockPoints{upsertErr: errors.New("down")}, &mockCollections{}, "requests")
	err := st.Upsert(context.Background(), []Record{{ID: 1, Vector: []float32{0.1}}})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestGet_Found(t *testing.T) {
	pts := &mockPoints{
		getResp: &pb.GetResponse{Result: []*pb.RetrievedPoint{{
			Id:      numID(7),
			Payload: map[string]*pb.Value{"decision": strVal("Denied")},
		}}},
	}
	st := NewWithClients(pts, &mockCollections{}, "appeals")
	p, err := st.Get(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID != 7 || p.Payload["decision"] != "Denied" {
		t.Errorf("unexpected point: %+v", p)
	}
}

func TestGet_NotFound(t *testing.T) {
	pts := &mockPoints{getResp: &pb.GetResponse{}}
	st := NewWithClients(pts, &mockCollections{}, "appeals")
	_, err := st.Get(context.Background(), 99)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetByField_Found(t *testing.T) {
	pts := &mockPoints{
		scrollResp: []*pb.ScrollResponse{{Result: []*pb.RetrievedPoint{{
			Id:      numID(3),
			Payload: map[string]*pb.Value{"protocol": strVal("60110003084201855")},
		}}}},
	}
	st := NewWithClients(pts, &mockCollections{}, "requests")
	p, err := st.GetByField(context.Background(), "protocol", "60110003084201855")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Payload["protocol"] != "60110003084201855" {
		t.Errorf("unexpected payload: %v", p.Payload)
	}
	if p.ID != 3 {
		t.Errorf("unexpected id: %d", p.ID)
	}
}

func TestGetByField_NotFound(t *testing.T) {
	pts := &mockPoints{scrollResp: []*pb.ScrollResponse{{}}}
	st := NewWithClients(pts, &mockCollections{}, "requests")
	_, err := st.GetByField(context.Background(), "protocol", "60110003084201855")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSearch_MapsHitsAndParams(t *testing.T) {
	pts := &mockPoints{
		searchResp: &pb.SearchResponse{Result: []*pb.ScoredPoint{
			{Id: numID(1), Score: 0.92, Payload: map[string]*pb.Value{"instance": strVal("CGU")}},
			{Id: numID(2), Score: 0.85},
		}},
	}
	st := NewWithClients(pts, &mockCollections{}, "appeals")

	hits, err := st.Search(context.Background(), []float32{0.1, 0.2}, SearchParams{
		TopK:       5,
		MinScore:   0.5,
		Filter:     map[string]string{"instance": "CGU"},
		ExcludeIDs: []uint64{1},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ID != 1 || hits[0].Score != 0.92 || hits[0].Payload["instance"] != "CGU" {
		t.Errorf("unexpected first hit: %+v", hits[0])
	}

	req := pts.lastSearch
	if req.GetLimit() != 5 {
		t.Errorf("limit not forwarded: %d", req.GetLimit())
	}
	if req.GetScoreThreshold() != 0.5 {
		t.Errorf("score threshold not forwarded: %v", req.GetScoreThreshold())
	}
	if len(req.GetFilter().GetMust()) != 1 {
		t.Errorf("instance filter missing: %v", req.GetFilter())
	}
	if len(req.GetFilter().GetMustNot()) != 1 {
		t.Errorf("self exclusion missing: %v", req.GetFilter())
	}
}

func TestSearch_EmptyIsNotError(t *testing.T) {
	pts := &mockPoints{searchResp: &pb.SearchResponse{}}
	st := NewWithClients(pts, &mockCollections{}, "appeals")
	hits, err := st.Search(context.Background(), []float32{0.1}, SearchParams{TopK: 3, MinScore: 0.99})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits, got %d", len(hits))
	}
}

func TestSearch_DefaultTopK(t *testing.T) {
	pts := &mockPoints{searchResp: &pb.SearchResponse{}}
	st := NewWithClients(pts, &mockCollections{}, "appeals")
	if _, err := st.Search(context.Background(), []float32{0.1}, SearchParams{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pts.lastSearch.GetLimit() != uint64(domain.DefaultTopK) {
		t.Errorf("expected default limit, got %d", pts.lastSearch.GetLimit())
	}
}

func TestSearch_Error(t *testing.T) {
	pts := &mockPoints{searchErr: errors.New("qdrant down")}
	st := NewWithClients(pts, &mockCollections{}, "appeals")
	if _, err := st.Search(context.Background(), []float32{0.1}, SearchParams{TopK: 3}); err == nil {
		t.Fatal("expected error")
	}
}

func TestDistinctField_FollowsPages(t *testing.T) {
	pts := &mockPoints{
		scrollResp: []*pb.ScrollResponse{
			{
				Result: []*pb.RetrievedPoint{
					{Id: numID(1), Payload: map[string]*pb.Value{"instance": strVal("CGU")}},
					{Id: numID(2), Payload: map[string]*pb.Value{"instance": strVal("ANATEL")}},
				},
				NextPageOffset: numID(3),
			},
			{
				Result: []*pb.RetrievedPoint{
					{Id: numID(3), Payload: map[string]*pb.Value{"instance": strVal("CGU")}},
					{Id: numID(4)},
				},
			},
		},
	}
	st := NewWithClients(pts, &mockCollections{}, "appeals")
	vals, err := st.DistinctField(context.Background(), "instance")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vals) != 2 || vals[0] != "CGU" || vals[1] != "ANATEL" {
		t.Errorf("unexpected values: %v", vals)
	}
	if pts.scrollCall != 2 {
		t.Errorf("expected 2 scroll pages, got %d", pts.scrollCall)
	}
}
