// Package corpus instantiates the generic vector store over the two record
// variants. RequestIndex and AppealIndex own the payload schema of their
// collections; nothing outside this package touches raw payloads.
package corpus

import (
	"context"
	"strconv"
	"time"

	"github.com/acessolabs/lai-engine/engine/domain"
	"github.com/acessolabs/lai-engine/engine/semantic"
)

// Payload field names shared with the ingest utility.
const (
	fieldProtocol    = "protocol"
	fieldSummary     = "summary"
	fieldDetail      = "detail"
	fieldResponse    = "response"
	fieldAgency      = "agency"
	fieldFiledAt     = "filed_at"
	fieldKind        = "kind"
	fieldDescription = "description"
	fieldDecision    = "decision"
	fieldInstance    = "instance"
)

// InstanceFilter builds a search filter restricting appeal hits to one
// appellate instance. An empty instance means no filter.
func InstanceFilter(instance string) map[string]string {
	if instance == "" {
		return nil
	}
	return map[string]string{fieldInstance: instance}
}

// Store is the slice of semantic.Store the indexes use.
type Store interface {
	Get(ctx context.Context, id uint64) (semantic.Point, error)
	GetByField(ctx context.Context, key, value string) (semantic.Point, error)
	ListByField(ctx context.Context, key, value string, limit int) ([]semantic.Point, error)
	Search(ctx context.Context, vector []float32, params semantic.SearchParams) ([]semantic.ScoredPoint, error)
	Upsert(ctx context.Context, records []semantic.Record) error
	DistinctField(ctx context.Context, key string) ([]string, error)
}

// RequestIndex is the Requests corpus.
type RequestIndex struct {
	store Store
}

// NewRequestIndex wraps a store holding request points.
func NewRequestIndex(store Store) *RequestIndex { return &RequestIndex{store: store} }

// GetByProtocol fetches a request by its external protocol, vector included
// so callers can run self-seeded similarity searches.
func (x *RequestIndex) GetByProtocol(ctx context.Context, protocol string) (domain.Request, []float32, error) {
	p, err := x.store.GetByField(ctx, fieldProtocol, protocol)
	if err != nil {
		return domain.Request{}, nil, err
	}
	return requestFromPayload(p.ID, p.Payload), p.Vector, nil
}

// Search runs a similarity search and decodes the hits into Request records,
// ranked from 1.
func (x *RequestIndex) Search(ctx context.Context, vector []float32, params semantic.SearchParams) ([]domain.RetrievalHit, error) {
	scored, err := x.store.Search(ctx, vector, params)
	if err != nil {
		return nil, err
	}
	hits := make([]domain.RetrievalHit, len(scored))
	for i, s := range scored {
		hits[i] = domain.RetrievalHit{
			Record: requestFromPayload(s.ID, s.Payload),
			Score:  s.Score,
			Rank:   i + 1,
		}
	}
	return hits, nil
}

// Put upserts requests with their embeddings. Ingest-side only; indexed
// records are never rewritten by the query path.
func (x *RequestIndex) Put(ctx context.Context, reqs []domain.Request, vectors [][]float32) error {
	records := make([]semantic.Record, len(reqs))
	for i, r := range reqs {
		records[i] = semantic.Record{ID: r.ID, Vector: vectors[i], Payload: requestPayload(r)}
	}
	return x.store.Upsert(ctx, records)
}

// AppealIndex is the Appeals corpus.
type AppealIndex struct {
	store Store
}

// NewAppealIndex wraps a store holding appeal points.
func NewAppealIndex(store Store) *AppealIndex { return &AppealIndex{store: store} }

// Get fetches an appeal by id, vector included.
func (x *AppealIndex) Get(ctx context.Context, id uint64) (domain.Appeal, []float32, error) {
	p, err := x.store.Get(ctx, id)
	if err != nil {
		return domain.Appeal{}, nil, err
	}
	return appealFromPayload(p.ID, p.Payload), p.Vector, nil
}

// Search runs a similarity search and decodes the hits into Appeal records.
func (x *AppealIndex) Search(ctx context.Context, vector []float32, params semantic.SearchParams) ([]domain.RetrievalHit, error) {
	scored, err := x.store.Search(ctx, vector, params)
	if err != nil {
		return nil, err
	}
	hits := make([]domain.RetrievalHit, len(scored))
	for i, s := range scored {
		hits[i] = domain.RetrievalHit{
			Record: appealFromPayload(s.ID, s.Payload),
			Score:  s.Score,
			Rank:   i + 1,
		}
	}
	return hits, nil
}

// ListByProtocol returns the appeals explicitly linked to a request protocol.
func (x *AppealIndex) ListByProtocol(ctx context.Context, protocol string, limit int) ([]domain.Appeal, error) {
	points, err := x.store.ListByField(ctx, fieldProtocol, protocol, limit)
	if err != nil {
		return nil, err
	}
	appeals := make([]domain.Appeal, len(points))
	for i, p := range points {
		appeals[i] = appealFromPayload(p.ID, p.Payload)
	}
	return appeals, nil
}

// Instances enumerates the distinct deciding bodies present in the corpus.
func (x *AppealIndex) Instances(ctx context.Context) ([]string, error) {
	return x.store.DistinctField(ctx, fieldInstance)
}

// Put upserts appeals with their embeddings.
func (x *AppealIndex) Put(ctx context.Context, appeals []domain.Appeal, vectors [][]float32) error {
	records := make([]semantic.Record, len(appeals))
	for i, a := range appeals {
		records[i] = semantic.Record{ID: a.ID, Vector: vectors[i], Payload: appealPayload(a)}
	}
	return x.store.Upsert(ctx, records)
}

// --- payload codecs ---

func requestPayload(r domain.Request) map[string]any {
	p := map[string]any{
		fieldProtocol: r.Protocol,
		fieldSummary:  r.Summary,
		fieldDetail:   r.Detail,
		fieldResponse: r.Response,
		fieldAgency:   r.Agency,
	}
	if !r.FiledAt.IsZero() {
		p[fieldFiledAt] = r.FiledAt.Format(time.RFC3339)
	}
	return p
}

func requestFromPayload(id uint64, p map[string]string) domain.Request {
	r := domain.Request{
		ID:       id,
		Protocol: p[fieldProtocol],
		Summary:  p[fieldSummary],
		Detail:   p[fieldDetail],
		Response: p[fieldResponse],
		Agency:   p[fieldAgency],
	}
	if ts := p[fieldFiledAt]; ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			r.FiledAt = t
		}
	}
	return r
}

func appealPayload(a domain.Appeal) map[string]any {
	return map[string]any{
		fieldProtocol:    a.Protocol,
		fieldKind:        a.Kind,
		fieldDescription: a.Description,
		fieldResponse:    a.Response,
		fieldDecision:    string(a.Decision),
		fieldInstance:    a.Instance,
	}
}

func appealFromPayload(id uint64, p map[string]string) domain.Appeal {
	a := domain.Appeal{
		ID:          id,
		Protocol:    p[fieldProtocol],
		Kind:        p[fieldKind],
		Description: p[fieldDescription],
		Response:    p[fieldResponse],
		Instance:    p[fieldInstance],
	}
	if d := domain.Decision(p[fieldDecision]); domain.ValidDecisions[d] {
		a.Decision = d
	} else {
		a.Decision = domain.DecisionNotKnown
	}
	return a
}

// ParseAppealID parses a textual appeal identifier into the point id form.
func ParseAppealID(s string) (uint64, bool) {
	id, err := strconv.ParseUint(s, 10, 64)
	return id, err == nil
}
