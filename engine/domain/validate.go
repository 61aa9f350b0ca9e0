package domain

import (
	"strconv"
	"strings"
)

// Query parameter bounds. TopK of zero means "use the default".
const (
	DefaultTopK = 5
	MaxTopK     = 50
)

// ValidateQuery checks a query before any retrieval work. Failures wrap
// ErrMalformedQuery so callers can reject them with a single errors.Is.
func ValidateQuery(q Query) error {
	if strings.TrimSpace(q.Text) == "" {
		return NewValidationError("text", q.Text, ErrMalformedQuery)
	}
	if q.TopK < 0 || q.TopK > MaxTopK {
		return NewValidationError("top_k", strconv.Itoa(q.TopK), ErrMalformedQuery)
	}
	if q.MinScore < 0 || q.MinScore > 1 {
		return NewValidationError("min_score", strconv.FormatFloat(float64(q.MinScore), 'f', -1, 32), ErrMalformedQuery)
	}
	return nil
}

// NormalizeQuery returns a copy of q with defaults applied: trimmed text,
// DefaultTopK when unset, and the instance filter upper-cased the way the
// deciding bodies are indexed.
func NormalizeQuery(q Query) Query {
	q.Text = strings.TrimSpace(q.Text)
	if q.TopK == 0 {
		q.TopK = DefaultTopK
	}
	q.Instance = strings.ToUpper(strings.TrimSpace(q.Instance))
	return q
}
