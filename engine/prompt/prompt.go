// Package prompt renders retrieved records into citation blocks and
// assembles the grounded prompt sent to the generation service. Assembly
// enforces a character budget so prompts stay inside the generator's
// context window regardless of how much was retrieved.
package prompt

import (
	"fmt"
	"strings"

	"github.com/acessolabs/lai-engine/engine/domain"
	"github.com/acessolabs/lai-engine/engine/xref"
)

// Instruction pins the model to the supplied documents. The closing rule
// gives it an explicit out so it does not invent answers.
const Instruction = "Você é um assistente sobre pedidos de acesso à informação (LAI) e seus recursos. " +
	"Responda usando somente os documentos fornecidos no contexto. " +
	"Cite o protocolo ou o número do recurso ao afirmar algo sobre um caso. " +
	"Se o contexto não contiver a resposta, diga exatamente: \"A informação não está disponível nos documentos fornecidos.\""

// Budget bounds the assembled prompt.
type Budget struct {
	// MaxChars bounds the whole prompt. Instruction and question are always
	// kept; history and evidence are trimmed to fit.
	MaxChars int
	// MaxExcerpt bounds each citation's body before assembly.
	MaxExcerpt int
}

// DefaultBudget fits comfortably inside an 8k-token context window.
func DefaultBudget() Budget {
	return Budget{MaxChars: 12000, MaxExcerpt: 700}
}

// Citation is one rendered evidence block.
type Citation struct {
	Label string
	Body  string
	Score float32
}

// Render formats the citation as a bracketed source block.
func (c Citation) Render() string {
	return fmt.Sprintf("[%s]\n%s", c.Label, c.Body)
}

// RequestCitation renders a request hit. linked carries the appeals known
// for the request's protocol; pass nil when no link information exists.
func RequestCitation(req domain.Request, score float32, linked []domain.Appeal, maxExcerpt int) Citation {
	var b strings.Builder
	fmt.Fprintf(&b, "Pedido %s", req.Protocol)
	if req.Agency != "" {
		fmt.Fprintf(&b, " | Órgão: %s", req.Agency)
	}
	b.WriteString("\n")
	b.WriteString(excerpt(req.Summary+". "+req.Detail, maxExcerpt))
	if req.Response != "" {
		b.WriteString("\nResposta: ")
		b.WriteString(excerpt(req.Response, maxExcerpt))
	}
	if len(linked) > 0 {
		fmt.Fprintf(&b, "\nRecursos vinculados: %d (%s)", len(linked), decisionSummary(linked))
	}
	return Citation{
		Label: fmt.Sprintf("Pedido %s", req.Protocol),
		Body:  b.String(),
		Score: score,
	}
}

// AppealCitation renders an appeal hit.
func AppealCitation(a domain.Appeal, score float32, maxExcerpt int) Citation {
	var b strings.Builder
	fmt.Fprintf(&b, "Recurso %d", a.ID)
	if a.Instance != "" {
		fmt.Fprintf(&b, " | Instância: %s", a.Instance)
	}
	if a.Decision != "" {
		fmt.Fprintf(&b, " | Decisão: %s", a.Decision)
	}
	b.WriteString("\n")
	b.WriteString(excerpt(a.Kind+". "+a.Description, maxExcerpt))
	if a.Response != "" {
		b.WriteString("\nResposta: ")
		b.WriteString(excerpt(a.Response, maxExcerpt))
	}
	return Citation{
		Label: fmt.Sprintf("Recurso %d", a.ID),
		Body:  b.String(),
		Score: score,
	}
}

// JoinCitations renders joined hits, requests first with their linked
// appeals folded in.
func JoinCitations(hits []xref.JoinedHit, maxExcerpt int) []Citation {
	out := make([]Citation, 0, len(hits))
	for _, h := range hits {
		appeals := make([]domain.Appeal, 0, len(h.Appeals))
		for _, la := range h.Appeals {
			appeals = append(appeals, la.Appeal)
		}
		out = append(out, RequestCitation(h.Request, h.Combined, appeals, maxExcerpt))
	}
	return out
}

// HitCitations renders plain retrieval hits from either corpus.
func HitCitations(hits []domain.RetrievalHit, maxExcerpt int) []Citation {
	out := make([]Citation, 0, len(hits))
	for _, h := range hits {
		switch rec := h.Record.(type) {
		case domain.Request:
			out = append(out, RequestCitation(rec, h.Score, nil, maxExcerpt))
		case domain.Appeal:
			out = append(out, AppealCitation(rec, h.Score, maxExcerpt))
		}
	}
	return out
}

// Build assembles the grounded prompt. When the budget is exceeded it drops
// the oldest history turns first, then the lowest-scoring citations. The
// instruction and the question are never dropped.
func Build(question string, history []domain.ConversationTurn, citations []Citation, b Budget) string {
	if b.MaxChars <= 0 {
		b = DefaultBudget()
	}

	fixed := len(Instruction) + len(question) + 64 // section headers
	budget := b.MaxChars - fixed

	history, citations = trim(history, citations, budget)

	var sb strings.Builder
	sb.WriteString(Instruction)
	sb.WriteString("\n\n")

	if len(citations) > 0 {
		sb.WriteString("### Contexto\n")
		for _, c := range citations {
			sb.WriteString(c.Render())
			sb.WriteString("\n\n")
		}
	}

	if len(history) > 0 {
		sb.WriteString("### Conversa\n")
		for _, t := range history {
			fmt.Fprintf(&sb, "%s: %s\n", roleLabel(t.Role), t.Content)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("### Pergunta\n")
	sb.WriteString(question)
	return sb.String()
}

// trim drops content until history plus citations fit the budget: oldest
// history turns first, then lowest-scoring citations.
func trim(history []domain.ConversationTurn, citations []Citation, budget int) ([]domain.ConversationTurn, []Citation) {
	size := func() int {
		n := 0
		for _, t := range history {
			n += len(t.Content) + 16
		}
		for _, c := range citations {
			n += len(c.Body) + len(c.Label) + 8
		}
		return n
	}

	for size() > budget && len(history) > 0 {
		history = history[1:]
	}
	for size() > budget && len(citations) > 0 {
		low := 0
		for i, c := range citations {
			if c.Score < citations[low].Score {
				low = i
			}
		}
		citations = append(citations[:low:low], citations[low+1:]...)
	}
	return history, citations
}

// decisionSummary counts linked-appeal outcomes in priority order so the
// rendering is deterministic.
func decisionSummary(appeals []domain.Appeal) string {
	counts := make(map[domain.Decision]int)
	for _, a := range appeals {
		d := a.Decision
		if !domain.ValidDecisions[d] {
			d = domain.DecisionNotKnown
		}
		counts[d]++
	}
	parts := make([]string, 0, len(counts))
	for _, d := range domain.PredictionPriority {
		if n := counts[d]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s: %d", d, n))
		}
	}
	return strings.Join(parts, ", ")
}

func roleLabel(r domain.Role) string {
	if r == domain.RoleAssistant {
		return "Assistente"
	}
	return "Usuário"
}

// excerpt truncates at a rune boundary and marks the cut.
func excerpt(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max])) + " [...]"
}
