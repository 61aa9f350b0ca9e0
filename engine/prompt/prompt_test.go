package prompt

import (
	"strings"
	"testing"

	"github.com/acessolabs/lai-engine/engine/domain"
	"github.com/acessolabs/lai-engine/engine/xref"
)

func TestRequestCitation(t *testing.T) {
	req := domain.Request{
		Protocol: "23480019876202411",
		Summary:  "Cardápio da merenda escolar",
		Detail:   "Solicito o cardápio completo.",
		Response: "Segue em anexo.",
		Agency:   "MEC",
	}
	c := RequestCitation(req, 0.9, []domain.Appeal{
		{ID: 1, Decision: domain.DecisionDenied},
		{ID: 2, Decision: domain.DecisionDenied},
	}, 700)

	if c.Label != "Pedido 23480019876202411" {
		t.Errorf("Label = %q", c.Label)
	}
	if !strings.Contains(c.Body, "Órgão: MEC") {
		t.Errorf("missing agency: %q", c.Body)
	}
	if !strings.Contains(c.Body, "Recursos vinculados: 2") {
		t.Errorf("missing link count: %q", c.Body)
	}
	if !strings.Contains(c.Body, "Denied: 2") {
		t.Errorf("missing decision summary: %q", c.Body)
	}
}

func TestAppealCitation(t *testing.T) {
	c := AppealCitation(domain.Appeal{
		ID:          4412,
		Kind:        "Recurso de 1ª instância",
		Description: "Negativa de acesso imotivada.",
		Decision:    domain.DecisionGranted,
		Instance:    "CGU",
	}, 0.8, 700)

	if c.Label != "Recurso 4412" {
		t.Errorf("Label = %q", c.Label)
	}
	if !strings.Contains(c.Body, "Decisão: Granted") || !strings.Contains(c.Body, "Instância: CGU") {
		t.Errorf("Body = %q", c.Body)
	}
}

func TestExcerptTruncation(t *testing.T) {
	long := strings.Repeat("palavra ", 200)
	got := excerpt(long, 100)
	if !strings.HasSuffix(got, "[...]") {
		t.Errorf("missing truncation marker: %q", got)
	}
	if len([]rune(got)) > 110 {
		t.Errorf("excerpt too long: %d runes", len([]rune(got)))
	}
	if excerpt("curto", 100) != "curto" {
		t.Error("short text should pass through")
	}
}

func TestBuildContainsSections(t *testing.T) {
	out := Build("qual a decisão?", []domain.ConversationTurn{
		{Role: domain.RoleUser, Content: "oi"},
		{Role: domain.RoleAssistant, Content: "olá"},
	}, []Citation{{Label: "Recurso 1", Body: "corpo", Score: 0.5}}, Budget{})

	for _, want := range []string{Instruction, "### Contexto", "[Recurso 1]", "### Conversa", "Usuário: oi", "### Pergunta", "qual a decisão?"} {
		if !strings.Contains(out, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildDropsOldestHistoryFirst(t *testing.T) {
	big := strings.Repeat("x", 400)
	history := []domain.ConversationTurn{
		{Role: domain.RoleUser, Content: "primeira " + big},
		{Role: domain.RoleUser, Content: "segunda"},
	}
	citations := []Citation{{Label: "Pedido 1", Body: "evidência", Score: 0.9}}

	out := Build("pergunta", history, citations, Budget{MaxChars: 600, MaxExcerpt: 700})
	if strings.Contains(out, "primeira") {
		t.Error("oldest turn should be dropped first")
	}
	if !strings.Contains(out, "evidência") {
		t.Error("evidence dropped before history")
	}
	if !strings.Contains(out, "pergunta") {
		t.Error("question must never be dropped")
	}
}

func TestBuildDropsLowestScoringEvidence(t *testing.T) {
	big := strings.Repeat("y", 300)
	citations := []Citation{
		{Label: "Pedido A", Body: "alta " + big, Score: 0.9},
		{Label: "Pedido B", Body: "baixa " + big, Score: 0.2},
	}

	out := Build("pergunta", nil, citations, Budget{MaxChars: 850, MaxExcerpt: 700})
	if strings.Contains(out, "baixa") {
		t.Error("lowest-scoring citation should be dropped")
	}
	if !strings.Contains(out, "alta") {
		t.Error("highest-scoring citation should survive")
	}
	if !strings.Contains(out, Instruction) {
		t.Error("instruction must never be dropped")
	}
}

func TestJoinCitations(t *testing.T) {
	hits := []xref.JoinedHit{{
		Request:  domain.Request{Protocol: "11111111111111", Summary: "s", Detail: "d"},
		Combined: 0.7,
		Appeals:  []xref.LinkedAppeal{{Appeal: domain.Appeal{ID: 9, Decision: domain.DecisionMoot}}},
	}}
	cs := JoinCitations(hits, 700)
	if len(cs) != 1 {
		t.Fatalf("citations = %d", len(cs))
	}
	if !strings.Contains(cs[0].Body, "Recursos vinculados: 1") {
		t.Errorf("Body = %q", cs[0].Body)
	}
}

func TestHitCitationsMixedCorpora(t *testing.T) {
	cs := HitCitations([]domain.RetrievalHit{
		{Record: domain.Request{Protocol: "11111111111111", Summary: "s", Detail: "d"}, Score: 0.9},
		{Record: domain.Appeal{ID: 7, Kind: "k", Description: "d"}, Score: 0.8},
	}, 700)
	if len(cs) != 2 {
		t.Fatalf("citations = %d", len(cs))
	}
	if cs[0].Label != "Pedido 11111111111111" || cs[1].Label != "Recurso 7" {
		t.Errorf("labels = %q, %q", cs[0].Label, cs[1].Label)
	}
}
