// Package answer orchestrates the full pipeline: validate, classify,
// retrieve (joining across corpora when needed), aggregate outcomes,
// assemble a grounded prompt, and call the generator. Generation is
// optional; when it fails the evidence path still succeeds and the result
// is marked partial.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/acessolabs/lai-engine/engine/domain"
	"github.com/acessolabs/lai-engine/engine/prompt"
	"github.com/acessolabs/lai-engine/engine/router"
	"github.com/acessolabs/lai-engine/engine/session"
	"github.com/acessolabs/lai-engine/engine/verdict"
	"github.com/acessolabs/lai-engine/engine/xref"
	"github.com/acessolabs/lai-engine/pkg/metrics"
)

// Retriever executes the direct retrieval strategies.
type Retriever interface {
	SemanticSearch(ctx context.Context, q domain.Query, target domain.Corpus) ([]domain.RetrievalHit, error)
	ProtocolLookup(ctx context.Context, protocol string, topK int) (domain.Request, []domain.RetrievalHit, error)
	AppealLookup(ctx context.Context, id uint64, topK int, instance string) (domain.Appeal, []domain.RetrievalHit, error)
	SimilarAppeals(ctx context.Context, text string, topK int, minScore float32, instance string) ([]domain.RetrievalHit, error)
}

// Joiner executes cross-corpus joins.
type Joiner interface {
	Join(ctx context.Context, q domain.Query) ([]xref.JoinedHit, error)
}

// Generator phrases the final answer. Optional collaborator.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Options configures the service.
type Options struct {
	// Budget bounds the assembled prompt.
	Budget prompt.Budget
	// RetrievalTimeout bounds the retrieval phase of each query.
	RetrievalTimeout time.Duration
	// GenerationTimeout bounds the generation call.
	GenerationTimeout time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Budget:            prompt.DefaultBudget(),
		RetrievalTimeout:  10 * time.Second,
		GenerationTimeout: 60 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Budget.MaxChars <= 0 {
		o.Budget.MaxChars = d.Budget.MaxChars
	}
	if o.Budget.MaxExcerpt <= 0 {
		o.Budget.MaxExcerpt = d.Budget.MaxExcerpt
	}
	if o.RetrievalTimeout <= 0 {
		o.RetrievalTimeout = d.RetrievalTimeout
	}
	if o.GenerationTimeout <= 0 {
		o.GenerationTimeout = d.GenerationTimeout
	}
	return o
}

// Service answers questions over the two corpora.
type Service struct {
	retriever Retriever
	joiner    Joiner
	generator Generator
	sessions  *session.Store
	opts      Options
	log       *slog.Logger

	queries     *metrics.Counter
	partials    *metrics.Counter
	answerTime  *metrics.Histogram
	byIntent    func(intent string) *metrics.Counter
	predictions *metrics.Counter
}

// New wires the service. generator may be nil for retrieval-only
// deployments; reg may be nil to disable metrics.
func New(retriever Retriever, joiner Joiner, generator Generator, sessions *session.Store, opts Options, reg *metrics.Registry, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if sessions == nil {
		sessions = session.NewStore(0)
	}
	opts = opts.withDefaults()
	if reg == nil {
		reg = metrics.New()
	}
	return &Service{
		retriever:   retriever,
		joiner:      joiner,
		generator:   generator,
		sessions:    sessions,
		opts:        opts,
		log:         log,
		queries:     reg.Counter("answer_queries_total", "Queries answered"),
		partials:    reg.Counter("answer_partial_total", "Queries answered without generated text"),
		answerTime:  reg.Histogram("answer_seconds", "End-to-end answer latency", nil),
		predictions: reg.Counter("answer_predictions_total", "Outcome predictions computed"),
		byIntent: func(intent string) *metrics.Counter {
			return reg.Counter(metrics.WithLabels("answer_intent_total", "intent", intent), "Queries by classified intent")
		},
	}
}

// Evidence is one rendered citation returned to the caller.
type Evidence struct {
	Label string  `json:"label"`
	Text  string  `json:"text"`
	Score float32 `json:"score"`
}

// Result is the answer to one query.
type Result struct {
	Intent   string                `json:"intent"`
	Answer   string                `json:"answer,omitempty"`
	Partial  bool                  `json:"partial"`
	Evidence []Evidence            `json:"evidence"`
	Stats    *domain.DecisionStats `json:"decision_stats,omitempty"`
}

// Ask answers a question. sessionID may be empty for stateless queries;
// queries within one session are serialized so history stays ordered.
func (s *Service) Ask(ctx context.Context, sessionID string, q domain.Query) (*Result, error) {
	start := time.Now()
	q = domain.NormalizeQuery(q)
	if err := domain.ValidateQuery(q); err != nil {
		return nil, err
	}

	var history []domain.ConversationTurn
	var sess *session.Session
	if sessionID != "" {
		sess = s.sessions.Get(sessionID)
		if err := sess.Acquire(ctx); err != nil {
			return nil, fmt.Errorf("answer: session busy: %w", err)
		}
		defer sess.Release()
		history = sess.History()
	}

	intent := router.Classify(q.Text)
	s.log.Info("query classified", "intent", intent.Kind.String(), "top_k", q.TopK)
	s.queries.Inc()
	s.byIntent(intent.Kind.String()).Inc()

	citations, stats, err := s.retrieve(ctx, q, intent)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Intent:   intent.Kind.String(),
		Evidence: toEvidence(citations),
		Stats:    stats,
	}

	res.Answer, res.Partial = s.phrase(ctx, q.Text, history, citations)
	if res.Partial {
		s.partials.Inc()
	}

	if sess != nil {
		sess.Append(domain.RoleUser, q.Text)
		if res.Answer != "" {
			sess.Append(domain.RoleAssistant, res.Answer)
		}
	}

	s.answerTime.Since(start)
	return res, nil
}

// retrieve runs the strategy picked by the router and renders citations.
func (s *Service) retrieve(ctx context.Context, q domain.Query, intent domain.Intent) ([]prompt.Citation, *domain.DecisionStats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.RetrievalTimeout)
	defer cancel()

	maxExcerpt := s.opts.Budget.MaxExcerpt
	switch intent.Kind {
	case domain.KindProtocolLookup:
		req, similar, err := s.retriever.ProtocolLookup(ctx, intent.Protocol, q.TopK)
		if err != nil {
			return nil, nil, err
		}
		citations := []prompt.Citation{prompt.RequestCitation(req, 1, nil, maxExcerpt)}
		return append(citations, prompt.HitCitations(similar, maxExcerpt)...), nil, nil

	case domain.KindAppealLookup:
		appeal, similar, err := s.retriever.AppealLookup(ctx, intent.AppealID, q.TopK, q.Instance)
		if err != nil {
			return nil, nil, err
		}
		citations := []prompt.Citation{prompt.AppealCitation(appeal, 1, maxExcerpt)}
		citations = append(citations, prompt.HitCitations(similar, maxExcerpt)...)
		return citations, s.statsFromHits(similar), nil

	case domain.KindCrossReference:
		joined, err := s.joiner.Join(ctx, q)
		if err != nil {
			return nil, nil, err
		}
		var stats *domain.DecisionStats
		if agg, err := verdict.Aggregate(xref.Decisions(joined)); err == nil {
			stats = &agg
			s.predictions.Inc()
		}
		return prompt.JoinCitations(joined, maxExcerpt), stats, nil

	default:
		hits, err := s.retriever.SemanticSearch(ctx, q, intent.Corpus)
		if err != nil {
			return nil, nil, err
		}
		var stats *domain.DecisionStats
		if intent.Corpus == domain.CorpusAppeals {
			stats = s.statsFromHits(hits)
		}
		return prompt.HitCitations(hits, maxExcerpt), stats, nil
	}
}

// statsFromHits aggregates appeal hits into stats; too little evidence
// means no stats, not a failed query.
func (s *Service) statsFromHits(hits []domain.RetrievalHit) *domain.DecisionStats {
	var appeals []domain.Appeal
	for _, h := range hits {
		if a, ok := h.Record.(domain.Appeal); ok {
			appeals = append(appeals, a)
		}
	}
	agg, err := verdict.Aggregate(appeals)
	if err != nil {
		return nil
	}
	s.predictions.Inc()
	return &agg
}

// phrase calls the generator over the assembled prompt. A nil generator or
// a generation failure yields a partial result.
func (s *Service) phrase(ctx context.Context, question string, history []domain.ConversationTurn, citations []prompt.Citation) (string, bool) {
	if s.generator == nil {
		return "", true
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.GenerationTimeout)
	defer cancel()

	text, err := s.generator.Generate(ctx, prompt.Build(question, history, citations, s.opts.Budget))
	if err != nil {
		s.log.Warn("generation failed, returning evidence only", "err", err)
		return "", true
	}
	return text, false
}

// Predict computes outcome statistics for appeals similar to the given
// descriptive text. Requires evidence: zero similar appeals is
// ErrInsufficientEvidence.
func (s *Service) Predict(ctx context.Context, q domain.Query) (domain.DecisionStats, error) {
	q = domain.NormalizeQuery(q)
	if err := domain.ValidateQuery(q); err != nil {
		return domain.DecisionStats{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.RetrievalTimeout)
	defer cancel()

	hits, err := s.retriever.SimilarAppeals(ctx, q.Text, q.TopK, q.MinScore, q.Instance)
	if err != nil {
		return domain.DecisionStats{}, err
	}

	var appeals []domain.Appeal
	for _, h := range hits {
		if a, ok := h.Record.(domain.Appeal); ok {
			appeals = append(appeals, a)
		}
	}
	stats, err := verdict.Aggregate(appeals)
	if err != nil {
		return domain.DecisionStats{}, err
	}
	s.predictions.Inc()
	return stats, nil
}

// DraftResult is a prediction plus an optional generated decision draft.
type DraftResult struct {
	Stats   domain.DecisionStats `json:"decision_stats"`
	Draft   string               `json:"draft,omitempty"`
	Partial bool                 `json:"partial"`
	Similar []Evidence           `json:"similar"`
}

// Draft predicts the outcome for an appeal text and asks the generator for
// a decision draft grounded on the most similar precedent cases. The
// prediction succeeds even when generation is unavailable.
func (s *Service) Draft(ctx context.Context, q domain.Query) (*DraftResult, error) {
	q = domain.NormalizeQuery(q)
	if err := domain.ValidateQuery(q); err != nil {
		return nil, err
	}

	retrCtx, cancel := context.WithTimeout(ctx, s.opts.RetrievalTimeout)
	defer cancel()
	hits, err := s.retriever.SimilarAppeals(retrCtx, q.Text, q.TopK, q.MinScore, q.Instance)
	if err != nil {
		return nil, err
	}

	var appeals []domain.Appeal
	for _, h := range hits {
		if a, ok := h.Record.(domain.Appeal); ok {
			appeals = append(appeals, a)
		}
	}
	stats, err := verdict.Aggregate(appeals)
	if err != nil {
		return nil, err
	}
	s.predictions.Inc()

	citations := prompt.HitCitations(hits, s.opts.Budget.MaxExcerpt)
	res := &DraftResult{Stats: stats, Similar: toEvidence(citations)}

	question := fmt.Sprintf(
		"Com base nos casos precedentes, redija uma minuta de decisão para o seguinte recurso (resultado mais provável: %s):\n%s",
		stats.Predicted, q.Text,
	)
	res.Draft, res.Partial = s.phrase(ctx, question, nil, citations)
	return res, nil
}

// LookupRequest returns a request by protocol plus its most similar
// requests. Missing protocols surface domain.ErrNotFound.
func (s *Service) LookupRequest(ctx context.Context, protocol string, topK int) (domain.Request, []domain.RetrievalHit, error) {
	if topK <= 0 {
		topK = domain.DefaultTopK
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.RetrievalTimeout)
	defer cancel()
	return s.retriever.ProtocolLookup(ctx, protocol, topK)
}

// LookupAppeal returns an appeal by id plus its most similar appeals,
// restricted to instance when one is given.
func (s *Service) LookupAppeal(ctx context.Context, id uint64, topK int, instance string) (domain.Appeal, []domain.RetrievalHit, error) {
	if topK <= 0 {
		topK = domain.DefaultTopK
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.RetrievalTimeout)
	defer cancel()
	return s.retriever.AppealLookup(ctx, id, topK, instance)
}

// ResetSession drops a session's conversation history.
func (s *Service) ResetSession(id string) { s.sessions.Reset(id) }

func toEvidence(citations []prompt.Citation) []Evidence {
	out := make([]Evidence, len(citations))
	for i, c := range citations {
		out[i] = Evidence{Label: c.Label, Text: c.Body, Score: c.Score}
	}
	return out
}

// IsTerminal reports whether err should not be retried by callers.
func IsTerminal(err error) bool {
	return errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrMalformedQuery)
}
