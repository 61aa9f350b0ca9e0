// Package router classifies a raw question into a retrieval strategy. The
// classifier is a pure function over the text plus small pattern tables; it
// never blocks and always returns a best-effort intent.
package router

import (
	"regexp"
	"strings"

	"github.com/acessolabs/lai-engine/engine/corpus"
	"github.com/acessolabs/lai-engine/engine/domain"
)

// Request protocols are long numeric identifiers (14+ digits); appeal ids
// are short ones. Both must stand alone as a token.
var (
	protocolPattern = regexp.MustCompile(`\b\d{14,}\b`)
	appealIDPattern = regexp.MustCompile(`\b\d{4,8}\b`)
)

// appealWords marks questions about the appeals corpus. Both Portuguese and
// English forms, since the corpora carry Portuguese records but the interface
// accepts either.
var appealWords = []string{
	"recurso", "recursos", "recursal", "recorrido", "apelação", "apelacao",
	"indeferido", "deferido", "negado", "decisão", "decisao",
	"appeal", "appeals", "appealed", "denied", "granted", "decision",
	"instância", "instancia", "instance",
}

// requestWords marks questions about the requests corpus.
var requestWords = []string{
	"pedido", "pedidos", "solicitação", "solicitacao", "solicitações", "solicitacoes",
	"protocolo", "request", "requests", "protocol",
}

// crossPhrases are conjunctive phrasings that explicitly tie the two record
// types together.
var crossPhrases = []string{
	"com recurso", "com recursos", "e seus recursos", "que tiveram recurso",
	"with appeal", "with appeals", "that have appeal", "that have appeals",
	"have appeals", "and their appeals", "that were appealed",
}

// Classify maps a question to an intent, in priority order: protocol lookup,
// appeal lookup, cross-reference, semantic search. When several identifiers
// are present the first strategy in that order wins.
func Classify(text string) domain.Intent {
	lower := strings.ToLower(text)

	if protocol := protocolPattern.FindString(text); protocol != "" {
		return domain.Intent{Kind: domain.KindProtocolLookup, Protocol: protocol}
	}

	// A short numeric id counts as an appeal id only when the question also
	// carries appeal vocabulary; bare numbers stay semantic.
	if mentionsAny(lower, appealWords) {
		if tok := appealIDPattern.FindString(text); tok != "" {
			if id, ok := corpus.ParseAppealID(tok); ok {
				return domain.Intent{Kind: domain.KindAppealLookup, AppealID: id}
			}
		}
	}

	if isCrossReference(lower) {
		return domain.Intent{Kind: domain.KindCrossReference}
	}

	corpusTarget := domain.CorpusRequests
	if mentionsAny(lower, appealWords) {
		corpusTarget = domain.CorpusAppeals
	}
	return domain.Intent{Kind: domain.KindSemanticSearch, Corpus: corpusTarget}
}

// isCrossReference detects questions that require intersecting the corpora:
// either an explicit conjunctive phrase, or vocabulary from both record
// types in one question.
func isCrossReference(lower string) bool {
	for _, p := range crossPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return mentionsAny(lower, requestWords) && mentionsAny(lower, appealWords)
}

func mentionsAny(lower string, words []string) bool {
	for _, w := range words {
		if containsWord(lower, w) {
			return true
		}
	}
	return false
}

// containsWord matches w as a whole word, so "granted" does not fire on
// "integrated".
func containsWord(lower, w string) bool {
	idx := 0
	for {
		i := strings.Index(lower[idx:], w)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(w)
		if (start == 0 || isBoundary(lower[start-1])) && (end == len(lower) || isBoundary(lower[end])) {
			return true
		}
		idx = start + 1
	}
}

func isBoundary(b byte) bool {
	return !(b >= 'a' && b <= 'z' || b >= '0' && b <= '9')
}
