// Package links stores the explicit request-to-appeal link graph in Neo4j.
// The graph is optional: when it is absent or unreachable the joiner falls
// back to secondary semantic filtering, so every operation here degrades
// rather than blocks an answer.
package links

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/acessolabs/lai-engine/engine/domain"
)

// result is the minimal interface needed from a neo4j result.
type result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
}

// runner is the minimal interface needed from a neo4j session.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (result, error)
	Close(ctx context.Context) error
}

// Store provides link-graph operations.
type Store struct {
	driver     neo4j.DriverWithContext
	newSession func(ctx context.Context) runner // for testing
}

// New creates a link store over an open Neo4j driver.
func New(driver neo4j.DriverWithContext) *Store {
	return &Store{driver: driver}
}

// neo4jSessionAdapter adapts neo4j.SessionWithContext to the runner interface.
type neo4jSessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *neo4jSessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *neo4jSessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

func (s *Store) session(ctx context.Context) runner {
	if s.newSession != nil {
		return s.newSession(ctx)
	}
	return &neo4jSessionAdapter{sess: s.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

// SaveLink records that an appeal was filed against a request. Idempotent;
// called by the ingest utility.
func (s *Store) SaveLink(ctx context.Context, protocol string, appealID uint64, decision domain.Decision) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MERGE (r:Request {protocol: $protocol})
	 MERGE (a:Appeal {id: $id})
	 SET a.decision = $decision
	 MERGE (r)-[:HAS_APPEAL]->(a)`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"protocol": protocol,
		"id":       int64(appealID),
		"decision": string(decision),
	})
	if err != nil {
		return fmt.Errorf("links: save %s -> %d: %w", protocol, appealID, err)
	}
	return nil
}

// AppealsFor returns the ids of appeals linked to a request protocol, in
// graph order. An unlinked protocol yields an empty slice.
func (s *Store) AppealsFor(ctx context.Context, protocol string) ([]uint64, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (:Request {protocol: $protocol})-[:HAS_APPEAL]->(a:Appeal)
	 RETURN a.id ORDER BY a.id`
	res, err := sess.Run(ctx, cypher, map[string]any{"protocol": protocol})
	if err != nil {
		return nil, fmt.Errorf("links: appeals for %s: %w", protocol, err)
	}

	var ids []uint64
	for res.Next(ctx) {
		rec := res.Record()
		if len(rec.Values) == 0 {
			continue
		}
		if id, ok := rec.Values[0].(int64); ok && id >= 0 {
			ids = append(ids, uint64(id))
		}
	}
	return ids, nil
}

// LinkedProtocols filters protocols down to those with at least one linked
// appeal. Used by the joiner to keep only joinable candidates in one query.
func (s *Store) LinkedProtocols(ctx context.Context, protocols []string) (map[string]bool, error) {
	if len(protocols) == 0 {
		return map[string]bool{}, nil
	}
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (r:Request)-[:HAS_APPEAL]->(:Appeal)
	 WHERE r.protocol IN $protocols
	 RETURN DISTINCT r.protocol`
	res, err := sess.Run(ctx, cypher, map[string]any{"protocols": protocols})
	if err != nil {
		return nil, fmt.Errorf("links: linked protocols: %w", err)
	}

	linked := make(map[string]bool)
	for res.Next(ctx) {
		rec := res.Record()
		if len(rec.Values) == 0 {
			continue
		}
		if p, ok := rec.Values[0].(string); ok {
			linked[p] = true
		}
	}
	return linked, nil
}
