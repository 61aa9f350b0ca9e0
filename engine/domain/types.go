// Package domain defines the record variants, query types, and sentinel
// errors shared across the retrieval engine. It acts as the validation gate
// at the engine's entry points.
package domain

import (
	"strconv"
	"time"
)

// Corpus identifies one of the two fixed record collections.
type Corpus string

const (
	CorpusRequests Corpus = "requests"
	CorpusAppeals  Corpus = "appeals"
)

// Decision is the closed set of appeal outcome labels.
type Decision string

const (
	DecisionGranted  Decision = "Granted"
	DecisionDenied   Decision = "Denied"
	DecisionPartial  Decision = "Partially Granted"
	DecisionNotKnown Decision = "Not Known"
	DecisionMoot     Decision = "Moot"
)

// ValidDecisions is the set of recognised outcome labels.
var ValidDecisions = map[Decision]bool{
	DecisionGranted: true, DecisionDenied: true, DecisionPartial: true,
	DecisionNotKnown: true, DecisionMoot: true,
}

// PredictionPriority is the fixed tie-break order for outcome prediction.
// Labels earlier in the list win ties, so identical inputs always produce
// the same predicted label.
var PredictionPriority = []Decision{
	DecisionDenied, DecisionGranted, DecisionPartial, DecisionNotKnown, DecisionMoot,
}

// Record is the capability set shared by both corpora's variants.
type Record interface {
	// Key returns the stable identifier of the record within its corpus:
	// the protocol for requests, the numeric id for appeals.
	Key() string
	// Text returns the content that was embedded for this record.
	Text() string
}

// Request is an original public-information request.
type Request struct {
	ID       uint64    `json:"id"`
	Protocol string    `json:"protocol"`
	Summary  string    `json:"summary"`
	Detail   string    `json:"detail"`
	Response string    `json:"response"`
	Agency   string    `json:"agency"`
	FiledAt  time.Time `json:"filed_at,omitempty"`
}

func (r Request) Key() string { return r.Protocol }

// Text joins summary and detail the way the records were embedded.
func (r Request) Text() string { return r.Summary + " <SEP> " + r.Detail }

// Appeal is an appeal filed against the handling of a request.
type Appeal struct {
	ID          uint64   `json:"id"`
	Protocol    string   `json:"protocol,omitempty"` // related request, may be empty
	Kind        string   `json:"kind"`
	Description string   `json:"description"`
	Response    string   `json:"response"`
	Decision    Decision `json:"decision"`
	Instance    string   `json:"instance"`
}

func (a Appeal) Key() string { return strconv.FormatUint(a.ID, 10) }

// Text joins kind and description the way the records were embedded.
func (a Appeal) Text() string { return a.Kind + " <SEP> " + a.Description }

// Query is a user question plus retrieval parameters.
type Query struct {
	Text     string  `json:"text"`
	TopK     int     `json:"top_k,omitempty"`
	MinScore float32 `json:"min_score,omitempty"`
	Instance string  `json:"instance,omitempty"`
}

// IntentKind is the retrieval strategy chosen for a query.
type IntentKind int

const (
	KindSemanticSearch IntentKind = iota
	KindProtocolLookup
	KindAppealLookup
	KindCrossReference
)

func (k IntentKind) String() string {
	switch k {
	case KindProtocolLookup:
		return "protocol_lookup"
	case KindAppealLookup:
		return "appeal_lookup"
	case KindCrossReference:
		return "cross_reference"
	default:
		return "semantic_search"
	}
}

// Intent is the classified strategy plus any literal identifier found.
type Intent struct {
	Kind     IntentKind
	Protocol string // set for KindProtocolLookup
	AppealID uint64 // set for KindAppealLookup
	Corpus   Corpus // target corpus for KindSemanticSearch
}

// RetrievalHit is a scored record in a ranked result list.
type RetrievalHit struct {
	Record Record  `json:"record"`
	Score  float32 `json:"score"`
	Rank   int     `json:"rank"`
}

// DecisionCount is the frequency of one decision label in a sample.
type DecisionCount struct {
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// DecisionStats is the outcome distribution over a set of retrieved appeals.
type DecisionStats struct {
	ByDecision map[Decision]DecisionCount `json:"by_decision"`
	Predicted  Decision                   `json:"predicted"`
	Sample     int                        `json:"sample"`
}

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one prior exchange in a session, ordered by time.
type ConversationTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
