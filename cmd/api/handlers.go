package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/acessolabs/lai-engine/engine/answer"
	"github.com/acessolabs/lai-engine/engine/domain"
	"github.com/acessolabs/lai-engine/pkg/mid"
	"github.com/acessolabs/lai-engine/pkg/natsutil"
)

// answerService is the slice of answer.Service the handlers use.
type answerService interface {
	Ask(ctx context.Context, sessionID string, q domain.Query) (*answer.Result, error)
	Predict(ctx context.Context, q domain.Query) (domain.DecisionStats, error)
	Draft(ctx context.Context, q domain.Query) (*answer.DraftResult, error)
	LookupRequest(ctx context.Context, protocol string, topK int) (domain.Request, []domain.RetrievalHit, error)
	LookupAppeal(ctx context.Context, id uint64, topK int, instance string) (domain.Appeal, []domain.RetrievalHit, error)
}

// instanceLister enumerates the distinct deciding bodies.
type instanceLister interface {
	Instances(ctx context.Context) ([]string, error)
}

const auditSubject = "lai.query.answered"

// QueryAnswered is the audit event emitted after each answered query.
type QueryAnswered struct {
	RequestID string `json:"request_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Intent    string `json:"intent"`
	Evidence  int    `json:"evidence"`
	Partial   bool   `json:"partial"`
	Duration  int64  `json:"duration_ms"`
}

// auditPublisher publishes audit events off the response path.
type auditPublisher struct {
	nc  *nats.Conn
	log *slog.Logger
}

func (p *auditPublisher) publish(ctx context.Context, ev QueryAnswered) {
	if p == nil {
		return
	}
	// Fire and forget; an unreachable broker never blocks a response.
	go func() {
		if err := natsutil.Publish(ctx, p.nc, auditSubject, ev); err != nil {
			p.log.Warn("audit publish failed", "err", err)
		}
	}()
}

type server struct {
	svc       answerService
	instances instanceLister
	audit     *auditPublisher
	log       *slog.Logger
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// QueryRequest is the JSON body for POST /api/query.
type QueryRequest struct {
	Question  string  `json:"question"`
	SessionID string  `json:"session_id,omitempty"`
	TopK      int     `json:"top_k,omitempty"`
	MinScore  float32 `json:"min_score,omitempty"`
	Instance  string  `json:"instance,omitempty"`
}

func (req QueryRequest) query() domain.Query {
	return domain.Query{
		Text:     req.Question,
		TopK:     req.TopK,
		MinScore: req.MinScore,
		Instance: req.Instance,
	}
}

func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	start := time.Now()
	res, err := s.svc.Ask(r.Context(), req.SessionID, req.query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.audit.publish(r.Context(), QueryAnswered{
		RequestID: mid.RequestIDFrom(r.Context()),
		SessionID: req.SessionID,
		Intent:    res.Intent,
		Evidence:  len(res.Evidence),
		Partial:   res.Partial,
		Duration:  time.Since(start).Milliseconds(),
	})
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	stats, err := s.svc.Predict(r.Context(), req.query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *server) handleDraft(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	res, err := s.svc.Draft(r.Context(), req.query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// LookupResponse pairs a record with its similar records.
type LookupResponse struct {
	Record  any                   `json:"record"`
	Similar []domain.RetrievalHit `json:"similar"`
}

func (s *server) handleRequestLookup(w http.ResponseWriter, r *http.Request) {
	protocol := r.PathValue("protocol")
	req, similar, err := s.svc.LookupRequest(r.Context(), protocol, topKParam(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LookupResponse{Record: req, Similar: similar})
}

func (s *server) handleAppealLookup(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid appeal id"})
		return
	}

	appeal, similar, err := s.svc.LookupAppeal(r.Context(), id, topKParam(r), r.URL.Query().Get("instance"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LookupResponse{Record: appeal, Similar: similar})
}

func (s *server) handleInstances(w http.ResponseWriter, r *http.Request) {
	names, err := s.instances.Instances(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"instances": names})
}

func topKParam(r *http.Request) int {
	if v := r.URL.Query().Get("top_k"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

// writeError maps engine errors to HTTP statuses.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrMalformedQuery):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientEvidence):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrEmbeddingUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, map[string]string{"error": publicMessage(err, status)})
}

// publicMessage keeps internal detail out of 500 responses.
func publicMessage(err error, status int) string {
	if status == http.StatusInternalServerError {
		return "internal server error"
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
