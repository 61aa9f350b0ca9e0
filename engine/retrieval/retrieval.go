// Package retrieval embeds queries and executes the direct retrieval
// strategies over the two corpora. Cross-corpus joins live in engine/xref.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/acessolabs/lai-engine/engine/corpus"
	"github.com/acessolabs/lai-engine/engine/domain"
	"github.com/acessolabs/lai-engine/engine/semantic"
)

// Embedder turns text into a query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// RequestSearcher is the slice of corpus.RequestIndex the retriever uses.
type RequestSearcher interface {
	GetByProtocol(ctx context.Context, protocol string) (domain.Request, []float32, error)
	Search(ctx context.Context, vector []float32, params semantic.SearchParams) ([]domain.RetrievalHit, error)
}

// AppealSearcher is the slice of corpus.AppealIndex the retriever uses.
type AppealSearcher interface {
	Get(ctx context.Context, id uint64) (domain.Appeal, []float32, error)
	Search(ctx context.Context, vector []float32, params semantic.SearchParams) ([]domain.RetrievalHit, error)
}

// Retriever executes retrieval strategies against the corpora.
type Retriever struct {
	embed   Embedder
	reqs    RequestSearcher
	appeals AppealSearcher
	log     *slog.Logger
}

// New wires a retriever over the two corpus indexes.
func New(embed Embedder, reqs RequestSearcher, appeals AppealSearcher, log *slog.Logger) *Retriever {
	if log == nil {
		log = slog.Default()
	}
	return &Retriever{embed: embed, reqs: reqs, appeals: appeals, log: log}
}

// SemanticSearch embeds the query text and runs a ranked similarity search
// over the target corpus. An empty hit list is a valid answer, not an error.
// The instance filter only applies to the appeals corpus.
func (r *Retriever) SemanticSearch(ctx context.Context, q domain.Query, target domain.Corpus) ([]domain.RetrievalHit, error) {
	vec, err := r.embed.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}

	params := semantic.SearchParams{TopK: q.TopK, MinScore: q.MinScore}
	if target == domain.CorpusAppeals {
		params.Filter = corpus.InstanceFilter(q.Instance)
		return r.appeals.Search(ctx, vec, params)
	}
	return r.reqs.Search(ctx, vec, params)
}

// ProtocolLookup fetches a request by protocol and runs a self-seeded
// search for similar requests using its stored vector, excluding the
// request itself from the hits. A missing protocol is ErrNotFound.
func (r *Retriever) ProtocolLookup(ctx context.Context, protocol string, topK int) (domain.Request, []domain.RetrievalHit, error) {
	req, vec, err := r.reqs.GetByProtocol(ctx, protocol)
	if err != nil {
		return domain.Request{}, nil, err
	}

	hits, err := r.reqs.Search(ctx, vec, semantic.SearchParams{
		TopK:       topK,
		ExcludeIDs: []uint64{req.ID},
	})
	if err != nil {
		// The anchor record is the answer; similar hits are best effort.
		r.log.Warn("similar-request search failed", "protocol", protocol, "err", err)
		return req, nil, nil
	}
	return req, hits, nil
}

// AppealLookup fetches an appeal by id and runs a self-seeded search for
// similar appeals, excluding the appeal itself and restricted to instance
// when one is given. A missing id is ErrNotFound.
func (r *Retriever) AppealLookup(ctx context.Context, id uint64, topK int, instance string) (domain.Appeal, []domain.RetrievalHit, error) {
	appeal, vec, err := r.appeals.Get(ctx, id)
	if err != nil {
		return domain.Appeal{}, nil, err
	}

	hits, err := r.appeals.Search(ctx, vec, semantic.SearchParams{
		TopK:       topK,
		Filter:     corpus.InstanceFilter(instance),
		ExcludeIDs: []uint64{appeal.ID},
	})
	if err != nil {
		r.log.Warn("similar-appeal search failed", "appeal_id", id, "err", err)
		return appeal, nil, nil
	}
	return appeal, hits, nil
}

// SimilarAppeals embeds a text and returns ranked appeal hits. Used by the
// prediction flow to build a decision sample from descriptive text.
func (r *Retriever) SimilarAppeals(ctx context.Context, text string, topK int, minScore float32, instance string) ([]domain.RetrievalHit, error) {
	vec, err := r.embed.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}
	return r.appeals.Search(ctx, vec, semantic.SearchParams{
		TopK:     topK,
		MinScore: minScore,
		Filter:   corpus.InstanceFilter(instance),
	})
}
