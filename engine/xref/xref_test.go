package xref

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/acessolabs/lai-engine/engine/domain"
	"github.com/acessolabs/lai-engine/engine/semantic"
)

type fakeEmbedder struct{ err error }

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text))}, nil
}

type fakeRequests struct {
	hits       []domain.RetrievalHit
	err        error
	lastParams semantic.SearchParams
}

func (f *fakeRequests) Search(_ context.Context, _ []float32, params semantic.SearchParams) ([]domain.RetrievalHit, error) {
	f.lastParams = params
	return f.hits, f.err
}

type fakeAppeals struct {
	mu        sync.Mutex
	byProto   map[string][]domain.Appeal
	byID      map[uint64]domain.Appeal
	semHits   []domain.RetrievalHit
	listErr   error
	listCalls []string
	getCalls  []uint64
}

func (f *fakeAppeals) Get(_ context.Context, id uint64) (domain.Appeal, []float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls = append(f.getCalls, id)
	a, ok := f.byID[id]
	if !ok {
		return domain.Appeal{}, nil, domain.ErrNotFound
	}
	return a, nil, nil
}

func (f *fakeAppeals) Search(context.Context, []float32, semantic.SearchParams) ([]domain.RetrievalHit, error) {
	return f.semHits, nil
}

func (f *fakeAppeals) ListByProtocol(_ context.Context, protocol string, _ int) ([]domain.Appeal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls = append(f.listCalls, protocol)
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.byProto[protocol], nil
}

type fakeGraph struct {
	linked map[string]bool
	ids    map[string][]uint64
	err    error
	idsErr error
}

func (f *fakeGraph) LinkedProtocols(context.Context, []string) (map[string]bool, error) {
	return f.linked, f.err
}

func (f *fakeGraph) AppealsFor(_ context.Context, protocol string) ([]uint64, error) {
	if f.idsErr != nil {
		return nil, f.idsErr
	}
	return f.ids[protocol], nil
}

func reqHit(id uint64, protocol string, score float32) domain.RetrievalHit {
	return domain.RetrievalHit{
		Record: domain.Request{ID: id, Protocol: protocol, Summary: "s", Detail: "d"},
		Score:  score,
	}
}

func TestJoinExplicitLinks(t *testing.T) {
	reqs := &fakeRequests{hits: []domain.RetrievalHit{
		reqHit(1, "11111111111111", 0.9),
		reqHit(2, "22222222222222", 0.8),
	}}
	apps := &fakeAppeals{byProto: map[string][]domain.Appeal{
		"11111111111111": {{ID: 100, Decision: domain.DecisionDenied}},
		"22222222222222": {{ID: 200, Decision: domain.DecisionGranted}},
	}}
	j := New(&fakeEmbedder{}, reqs, apps, nil, Options{}, nil)

	hits, err := j.Join(context.Background(), domain.Query{Text: "merenda", TopK: 5})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %d, want 2", len(hits))
	}
	if hits[0].Request.ID != 1 || hits[0].Rank != 1 {
		t.Errorf("top hit = %+v", hits[0])
	}
	if !hits[0].Explicit || hits[0].Combined != 0.9 {
		t.Errorf("explicit link should keep the request score: %+v", hits[0])
	}
	if hits[0].Appeals[0].Appeal.ID != 100 {
		t.Errorf("linked appeal = %+v", hits[0].Appeals)
	}
}

func TestJoinOversizesCandidateSearch(t *testing.T) {
	reqs := &fakeRequests{}
	j := New(&fakeEmbedder{}, reqs, &fakeAppeals{}, nil, Options{}, nil)

	if _, err := j.Join(context.Background(), domain.Query{Text: "x", TopK: 5}); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if reqs.lastParams.TopK != 25 {
		t.Errorf("candidate TopK = %d, want 25", reqs.lastParams.TopK)
	}
	if reqs.lastParams.MinScore != 0.30 {
		t.Errorf("candidate MinScore = %v, want 0.30", reqs.lastParams.MinScore)
	}
}

func TestJoinDropsUnlinkedCandidates(t *testing.T) {
	reqs := &fakeRequests{hits: []domain.RetrievalHit{reqHit(1, "11111111111111", 0.9)}}
	apps := &fakeAppeals{} // no explicit links, no semantic fallback hits
	j := New(&fakeEmbedder{}, reqs, apps, nil, Options{}, nil)

	hits, err := j.Join(context.Background(), domain.Query{Text: "x", TopK: 5})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("hits = %v, want empty", hits)
	}
}

func TestJoinSemanticFallback(t *testing.T) {
	reqs := &fakeRequests{hits: []domain.RetrievalHit{reqHit(1, "11111111111111", 0.8)}}
	apps := &fakeAppeals{
		semHits: []domain.RetrievalHit{
			{Record: domain.Appeal{ID: 300, Decision: domain.DecisionMoot}, Score: 0.6},
		},
	}
	j := New(&fakeEmbedder{}, reqs, apps, nil, Options{}, nil)

	hits, err := j.Join(context.Background(), domain.Query{Text: "x", TopK: 5})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("hits = %d, want 1", len(hits))
	}
	h := hits[0]
	if h.Explicit {
		t.Error("fallback hit marked explicit")
	}
	if h.Appeals[0].Appeal.ID != 300 || h.Appeals[0].Score != 0.6 {
		t.Errorf("fallback appeal = %+v", h.Appeals[0])
	}
	if want := float32((0.8 + 0.6) / 2); h.Combined != want {
		t.Errorf("Combined = %v, want %v", h.Combined, want)
	}
}

func TestJoinGraphSkipsRuledOutProtocols(t *testing.T) {
	reqs := &fakeRequests{hits: []domain.RetrievalHit{
		reqHit(1, "11111111111111", 0.9),
		reqHit(2, "22222222222222", 0.8),
	}}
	apps := &fakeAppeals{byProto: map[string][]domain.Appeal{
		"11111111111111": {{ID: 100}},
	}}
	graph := &fakeGraph{linked: map[string]bool{"11111111111111": true}}
	j := New(&fakeEmbedder{}, reqs, apps, graph, Options{Workers: 1}, nil)

	hits, err := j.Join(context.Background(), domain.Query{Text: "x", TopK: 5})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if len(hits) != 1 || hits[0].Request.ID != 1 {
		t.Errorf("hits = %+v", hits)
	}
	for _, p := range apps.listCalls {
		if p == "22222222222222" {
			t.Error("payload scan ran for a protocol the graph ruled out")
		}
	}
}

func TestJoinGraphResolvesAppealsByID(t *testing.T) {
	reqs := &fakeRequests{hits: []domain.RetrievalHit{reqHit(1, "11111111111111", 0.9)}}
	apps := &fakeAppeals{byID: map[uint64]domain.Appeal{
		100: {ID: 100, Decision: domain.DecisionDenied},
		101: {ID: 101, Decision: domain.DecisionGranted},
	}}
	graph := &fakeGraph{
		linked: map[string]bool{"11111111111111": true},
		ids:    map[string][]uint64{"11111111111111": {100, 101}},
	}
	j := New(&fakeEmbedder{}, reqs, apps, graph, Options{Workers: 1}, nil)

	hits, err := j.Join(context.Background(), domain.Query{Text: "x", TopK: 5})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if len(hits) != 1 || !hits[0].Explicit || len(hits[0].Appeals) != 2 {
		t.Fatalf("hits = %+v", hits)
	}
	if len(apps.getCalls) != 2 {
		t.Errorf("getCalls = %v, want the two graph ids", apps.getCalls)
	}
	if len(apps.listCalls) != 0 {
		t.Errorf("payload scan ran despite graph ids: %v", apps.listCalls)
	}
}

func TestJoinGraphIDFailureScansPayloads(t *testing.T) {
	reqs := &fakeRequests{hits: []domain.RetrievalHit{reqHit(1, "11111111111111", 0.9)}}
	apps := &fakeAppeals{byProto: map[string][]domain.Appeal{
		"11111111111111": {{ID: 100}},
	}}
	graph := &fakeGraph{
		linked: map[string]bool{"11111111111111": true},
		idsErr: errors.New("neo4j down"),
	}
	j := New(&fakeEmbedder{}, reqs, apps, graph, Options{Workers: 1}, nil)

	hits, err := j.Join(context.Background(), domain.Query{Text: "x", TopK: 5})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if len(hits) != 1 || hits[0].Appeals[0].Appeal.ID != 100 {
		t.Fatalf("hits = %+v, want payload-resolved appeal", hits)
	}
}

func TestJoinGraphFailureFallsBackToPayloads(t *testing.T) {
	reqs := &fakeRequests{hits: []domain.RetrievalHit{reqHit(1, "11111111111111", 0.9)}}
	apps := &fakeAppeals{byProto: map[string][]domain.Appeal{
		"11111111111111": {{ID: 100}},
	}}
	graph := &fakeGraph{err: errors.New("neo4j down")}
	j := New(&fakeEmbedder{}, reqs, apps, graph, Options{}, nil)

	hits, err := j.Join(context.Background(), domain.Query{Text: "x", TopK: 5})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("hits = %d, want 1 via payload resolution", len(hits))
	}
}

func TestJoinTruncatesToTopK(t *testing.T) {
	var candidates []domain.RetrievalHit
	byProto := map[string][]domain.Appeal{}
	protos := []string{
		"11111111111111", "22222222222222", "33333333333333", "44444444444444",
	}
	for i, p := range protos {
		candidates = append(candidates, reqHit(uint64(i+1), p, float32(0.9)-float32(i)*0.1))
		byProto[p] = []domain.Appeal{{ID: uint64(1000 + i)}}
	}
	j := New(&fakeEmbedder{}, &fakeRequests{hits: candidates}, &fakeAppeals{byProto: byProto}, nil, Options{}, nil)

	hits, err := j.Join(context.Background(), domain.Query{Text: "x", TopK: 2})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %d, want 2", len(hits))
	}
	if hits[0].Rank != 1 || hits[1].Rank != 2 {
		t.Errorf("ranks = %d, %d", hits[0].Rank, hits[1].Rank)
	}
	if hits[0].Combined < hits[1].Combined {
		t.Error("hits not sorted by combined score")
	}
}

func TestJoinDefaultsZeroTopK(t *testing.T) {
	reqs := &fakeRequests{hits: []domain.RetrievalHit{reqHit(1, "11111111111111", 0.9)}}
	apps := &fakeAppeals{byProto: map[string][]domain.Appeal{
		"11111111111111": {{ID: 100}},
	}}
	j := New(&fakeEmbedder{}, reqs, apps, nil, Options{}, nil)

	hits, err := j.Join(context.Background(), domain.Query{Text: "x"})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("hits = %d, zero TopK must not truncate everything", len(hits))
	}
	if want := domain.DefaultTopK * 5; reqs.lastParams.TopK != want {
		t.Errorf("candidate TopK = %d, want %d", reqs.lastParams.TopK, want)
	}
}

func TestJoinEmbedError(t *testing.T) {
	embErr := errors.New("gateway down")
	j := New(&fakeEmbedder{err: embErr}, &fakeRequests{}, &fakeAppeals{}, nil, Options{}, nil)

	_, err := j.Join(context.Background(), domain.Query{Text: "x", TopK: 5})
	if !errors.Is(err, embErr) {
		t.Fatalf("err = %v, want wrapped embed error", err)
	}
}

func TestDecisions(t *testing.T) {
	hits := []JoinedHit{
		{Appeals: []LinkedAppeal{
			{Appeal: domain.Appeal{ID: 1, Decision: domain.DecisionDenied}},
			{Appeal: domain.Appeal{ID: 2, Decision: domain.DecisionGranted}},
		}},
		{Appeals: []LinkedAppeal{
			{Appeal: domain.Appeal{ID: 3, Decision: domain.DecisionDenied}},
		}},
	}
	sample := Decisions(hits)
	if len(sample) != 3 {
		t.Fatalf("sample = %d, want 3", len(sample))
	}
}
