// Package xref joins the Requests and Appeals corpora: it finds requests
// similar to a query, then resolves the appeals filed against each one.
//
// The join runs in two phases. Phase one over-fetches request candidates
// with a moderate score threshold. Phase two resolves links per candidate,
// explicit links first (the Neo4j graph when available, otherwise the
// protocol field on appeal payloads), falling back to a strict semantic
// match of the candidate's text against the appeals corpus.
package xref

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/acessolabs/lai-engine/engine/corpus"
	"github.com/acessolabs/lai-engine/engine/domain"
	"github.com/acessolabs/lai-engine/engine/semantic"
	"github.com/acessolabs/lai-engine/pkg/fn"
)

// Embedder turns text into a query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// RequestSearcher is the slice of corpus.RequestIndex the joiner uses.
type RequestSearcher interface {
	Search(ctx context.Context, vector []float32, params semantic.SearchParams) ([]domain.RetrievalHit, error)
}

// AppealResolver is the slice of corpus.AppealIndex the joiner uses.
type AppealResolver interface {
	Get(ctx context.Context, id uint64) (domain.Appeal, []float32, error)
	Search(ctx context.Context, vector []float32, params semantic.SearchParams) ([]domain.RetrievalHit, error)
	ListByProtocol(ctx context.Context, protocol string, limit int) ([]domain.Appeal, error)
}

// LinkGraph answers which request protocols carry explicit appeal links and
// which appeals each one links to. Optional; a nil graph routes every
// candidate through payload resolution.
type LinkGraph interface {
	LinkedProtocols(ctx context.Context, protocols []string) (map[string]bool, error)
	AppealsFor(ctx context.Context, protocol string) ([]uint64, error)
}

// LinkedAppeal is an appeal attached to a joined request, with the
// similarity score that attached it (1 for explicit links).
type LinkedAppeal struct {
	Appeal domain.Appeal `json:"appeal"`
	Score  float32       `json:"score"`
}

// JoinedHit is a request candidate together with its resolved appeals.
type JoinedHit struct {
	Request  domain.Request `json:"request"`
	Score    float32        `json:"score"` // request-query similarity
	Appeals  []LinkedAppeal `json:"appeals"`
	Explicit bool           `json:"explicit"` // appeals found via links, not semantics
	Combined float32        `json:"combined"`
	Rank     int            `json:"rank"`
}

// Options tune the join. Zero values take the defaults below.
type Options struct {
	// Multiplier oversizes the phase-one candidate search relative to TopK.
	Multiplier int
	// CandidateScore is the moderate phase-one threshold.
	CandidateScore float32
	// FallbackScore is the strict threshold for semantic link fallback.
	FallbackScore float32
	// Workers bounds the phase-two fan-out.
	Workers int
	// FallbackTopK bounds appeals attached per candidate by the fallback.
	FallbackTopK int
	// MaxLinked bounds appeals attached per candidate by explicit links.
	MaxLinked int
}

// DefaultOptions returns the tuned production defaults.
func DefaultOptions() Options {
	return Options{
		Multiplier:     5,
		CandidateScore: 0.30,
		FallbackScore:  0.55,
		Workers:        4,
		FallbackTopK:   3,
		MaxLinked:      10,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Multiplier <= 0 {
		o.Multiplier = d.Multiplier
	}
	if o.CandidateScore <= 0 {
		o.CandidateScore = d.CandidateScore
	}
	if o.FallbackScore <= 0 {
		o.FallbackScore = d.FallbackScore
	}
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.FallbackTopK <= 0 {
		o.FallbackTopK = d.FallbackTopK
	}
	if o.MaxLinked <= 0 {
		o.MaxLinked = d.MaxLinked
	}
	return o
}

// Joiner executes cross-corpus joins.
type Joiner struct {
	embed   Embedder
	reqs    RequestSearcher
	appeals AppealResolver
	graph   LinkGraph // may be nil
	opts    Options
	log     *slog.Logger
}

// New wires a joiner. graph may be nil when no link store is configured.
func New(embed Embedder, reqs RequestSearcher, appeals AppealResolver, graph LinkGraph, opts Options, log *slog.Logger) *Joiner {
	if log == nil {
		log = slog.Default()
	}
	return &Joiner{embed: embed, reqs: reqs, appeals: appeals, graph: graph, opts: opts.withDefaults(), log: log}
}

// Join answers "which requests similar to this query ended up with appeals,
// and how were those decided". Candidates with no resolvable appeals are
// dropped. An empty result is a valid answer, not an error.
func (j *Joiner) Join(ctx context.Context, q domain.Query) ([]JoinedHit, error) {
	if q.TopK <= 0 {
		q.TopK = domain.DefaultTopK
	}
	vec, err := j.embed.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("xref: embed query: %w", err)
	}

	candidates, err := j.reqs.Search(ctx, vec, semantic.SearchParams{
		TopK:     q.TopK * j.opts.Multiplier,
		MinScore: j.opts.CandidateScore,
	})
	if err != nil {
		return nil, fmt.Errorf("xref: candidate search: %w", err)
	}
	if len(candidates) == 0 {
		return []JoinedHit{}, nil
	}

	linked := j.linkedSet(ctx, candidates)

	results := fn.ParMapResult(candidates, j.opts.Workers, func(hit domain.RetrievalHit) fn.Result[JoinedHit] {
		return fn.FromPair(j.resolve(ctx, hit, linked, q.Instance))
	})

	var joined []JoinedHit
	for _, res := range results {
		h, err := res.Unwrap()
		if err != nil {
			// One failed candidate does not sink the join.
			j.log.Warn("candidate resolution failed", "err", err)
			continue
		}
		if len(h.Appeals) > 0 {
			joined = append(joined, h)
		}
	}

	sort.SliceStable(joined, func(a, b int) bool {
		return joined[a].Combined > joined[b].Combined
	})
	if len(joined) > q.TopK {
		joined = joined[:q.TopK]
	}
	for i := range joined {
		joined[i].Rank = i + 1
	}
	return joined, nil
}

// linkedSet consults the graph for the whole candidate batch. A nil or
// failing graph returns nil, which routes every candidate through payload
// resolution.
func (j *Joiner) linkedSet(ctx context.Context, candidates []domain.RetrievalHit) map[string]bool {
	if j.graph == nil {
		return nil
	}
	protocols := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if req, ok := c.Record.(domain.Request); ok && req.Protocol != "" {
			protocols = append(protocols, req.Protocol)
		}
	}
	linked, err := j.graph.LinkedProtocols(ctx, protocols)
	if err != nil {
		j.log.Warn("link graph unavailable, using payload resolution", "err", err)
		return nil
	}
	return linked
}

func (j *Joiner) resolve(ctx context.Context, hit domain.RetrievalHit, linked map[string]bool, instance string) (JoinedHit, error) {
	req, ok := hit.Record.(domain.Request)
	if !ok {
		return JoinedHit{}, fmt.Errorf("xref: non-request candidate %q", hit.Record.Key())
	}
	out := JoinedHit{Request: req, Score: hit.Score}

	// Explicit links. When the graph answered, skip the payload scan for
	// protocols it ruled out.
	if req.Protocol != "" && (linked == nil || linked[req.Protocol]) {
		appeals, err := j.linkedAppeals(ctx, req.Protocol, linked != nil)
		if err != nil {
			return JoinedHit{}, fmt.Errorf("xref: appeals for %s: %w", req.Protocol, err)
		}
		if len(appeals) > 0 {
			out.Explicit = true
			out.Combined = hit.Score
			for _, a := range appeals {
				out.Appeals = append(out.Appeals, LinkedAppeal{Appeal: a, Score: 1})
			}
			return out, nil
		}
	}

	// Strict semantic fallback: match the candidate's own text against the
	// appeals corpus.
	avec, err := j.embed.Embed(ctx, req.Text())
	if err != nil {
		return JoinedHit{}, fmt.Errorf("xref: embed candidate %s: %w", req.Protocol, err)
	}
	hits, err := j.appeals.Search(ctx, avec, semantic.SearchParams{
		TopK:     j.opts.FallbackTopK,
		MinScore: j.opts.FallbackScore,
		Filter:   corpus.InstanceFilter(instance),
	})
	if err != nil {
		return JoinedHit{}, fmt.Errorf("xref: fallback search for %s: %w", req.Protocol, err)
	}

	var best float32
	for _, ah := range hits {
		appeal, ok := ah.Record.(domain.Appeal)
		if !ok {
			continue
		}
		out.Appeals = append(out.Appeals, LinkedAppeal{Appeal: appeal, Score: ah.Score})
		if ah.Score > best {
			best = ah.Score
		}
	}
	// Semantically inferred links carry less certainty than explicit ones,
	// so the combined score mixes in the link strength.
	out.Combined = (hit.Score + best) / 2
	return out, nil
}

// linkedAppeals resolves a candidate's explicitly linked appeals. When the
// graph confirmed the protocol, its appeal ids turn the resolution into
// point lookups; otherwise, or when the graph path comes up short, the
// appeal payloads are scanned by protocol.
func (j *Joiner) linkedAppeals(ctx context.Context, protocol string, graphConfirmed bool) ([]domain.Appeal, error) {
	if graphConfirmed {
		if appeals, ok := j.graphAppeals(ctx, protocol); ok {
			return appeals, nil
		}
	}
	return j.appeals.ListByProtocol(ctx, protocol, j.opts.MaxLinked)
}

// graphAppeals fetches a protocol's appeals through graph ids and point
// lookups. ok is false when the graph has no ids or a lookup fails, in
// which case the payload scan takes over.
func (j *Joiner) graphAppeals(ctx context.Context, protocol string) ([]domain.Appeal, bool) {
	ids, err := j.graph.AppealsFor(ctx, protocol)
	if err != nil {
		j.log.Warn("graph appeal ids unavailable, scanning payloads", "protocol", protocol, "err", err)
		return nil, false
	}
	if len(ids) == 0 {
		return nil, false
	}
	if len(ids) > j.opts.MaxLinked {
		ids = ids[:j.opts.MaxLinked]
	}
	appeals := make([]domain.Appeal, 0, len(ids))
	for _, id := range ids {
		a, _, err := j.appeals.Get(ctx, id)
		if err != nil {
			j.log.Warn("linked appeal fetch failed, scanning payloads", "protocol", protocol, "appeal_id", id, "err", err)
			return nil, false
		}
		appeals = append(appeals, a)
	}
	return appeals, true
}

// Decisions flattens the appeals of a join result into a sample for the
// outcome aggregator.
func Decisions(hits []JoinedHit) []domain.Appeal {
	var out []domain.Appeal
	for _, h := range hits {
		for _, la := range h.Appeals {
			out = append(out, la.Appeal)
		}
	}
	return out
}
