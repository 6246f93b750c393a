package fusion

import (
	"context"
	"errors"
	"testing"

	"atomicrag/internal/domain"
)

func item(id string, score float64, standard string) domain.RetrievedItem {
	return domain.RetrievedItem{ID: id, Content: "content for " + id, Score: score, SourceStandard: standard}
}

func TestFuseStreamsRespectsQuotasThenFillsSlack(t *testing.T) {
	chunks := []domain.RetrievedItem{item("c1", 1, ""), item("c2", 1, ""), item("c3", 1, ""), item("c4", 1, "")}
	graphRows := []domain.RetrievedItem{item("g1", 1, ""), item("g2", 1, "")}
	raptorRows := []domain.RetrievedItem{item("r1", 1, "")}

	out := FuseStreams(chunks, graphRows, raptorRows, 10)
	if len(out) != 7 {
		t.Fatalf("expected all 7 distinct rows once slack is filled, got %d", len(out))
	}
	if out[0].ID != "c1" || out[3].ID != "g1" {
		t.Fatalf("expected chunks-then-graph-then-raptor quota order, got %+v", out)
	}
}

func TestFuseStreamsDedupesByIdentity(t *testing.T) {
	shared := item("dup", 1, "")
	out := FuseStreams([]domain.RetrievedItem{shared}, []domain.RetrievedItem{shared}, nil, 5)
	if len(out) != 1 {
		t.Fatalf("expected duplicate row to be fused once, got %d", len(out))
	}
}

func TestApplyGravityOrdersByAuthorityAndIntent(t *testing.T) {
	low := item("low", 1, "")
	low.AuthorityLevel = domain.AuthoritySoftKnowledge
	high := item("high", 1, "")
	high.AuthorityLevel = domain.AuthorityConstitution

	items := ApplyGravity([]domain.RetrievedItem{low, high}, domain.RetrieveRequest{Query: "test"}, GravityOptions{})
	if items[0].ID != "high" {
		t.Fatalf("expected higher authority row to rank first, got %+v", items)
	}
	for _, it := range items {
		if it.ScoreSpace != domain.ScoreSpaceGravity {
			t.Fatalf("expected gravity score space, got %s", it.ScoreSpace)
		}
	}
}

func TestApplyScopePenaltyMarksAndDowngradesOutOfScope(t *testing.T) {
	inScope := item("in", 1, "iso-9001")
	outOfScope := item("out", 1, "iso-27001")

	out := ApplyScopePenalty([]domain.RetrievedItem{inScope, outOfScope}, []string{"iso-9001"}, 0.75, false)
	if len(out) != 2 {
		t.Fatalf("expected non-strict mode to keep both rows, got %d", len(out))
	}
	for _, it := range out {
		if it.ID == "out" {
			if !it.ScopePenalized {
				t.Fatal("expected out-of-scope row to be marked penalized")
			}
			if it.Score != 0.25 {
				t.Fatalf("expected score multiplied by (1-0.75), got %v", it.Score)
			}
		}
	}
}

func TestApplyScopePenaltyStrictDropsOutOfScope(t *testing.T) {
	inScope := item("in", 1, "iso-9001")
	outOfScope := item("out", 1, "iso-27001")

	out := ApplyScopePenalty([]domain.RetrievedItem{inScope, outOfScope}, []string{"iso-9001"}, 0.75, true)
	if len(out) != 1 || out[0].ID != "in" {
		t.Fatalf("expected strict mode to drop the out-of-scope row, got %+v", out)
	}
}

type stubReranker struct {
	scores map[string]float64
	err    error
}

func (s stubReranker) Rerank(ctx context.Context, query string, candidates []domain.RerankCandidate) ([]domain.RerankResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]domain.RerankResult, len(candidates))
	for i, c := range candidates {
		out[i] = domain.RerankResult{ID: c.ID, Score: s.scores[c.ID]}
	}
	return out, nil
}

func TestApplyExternalRerankReordersByCombinedScore(t *testing.T) {
	a := item("a", 1, "")
	b := item("b", 1, "")
	reranker := stubReranker{scores: map[string]float64{"a": 0.2, "b": 0.9}}

	out, err := ApplyExternalRerank(context.Background(), reranker, "query", []domain.RetrievedItem{a, b}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].ID != "b" {
		t.Fatalf("expected higher-scoring candidate first, got %+v", out)
	}
}

func TestApplyExternalRerankPropagatesErrorButKeepsOrder(t *testing.T) {
	a := item("a", 1, "")
	reranker := stubReranker{err: errors.New("upstream down")}

	out, err := ApplyExternalRerank(context.Background(), reranker, "query", []domain.RetrievedItem{a}, 10)
	if err == nil {
		t.Fatal("expected error from failing reranker")
	}
	if len(out) != 1 || out[0].ID != "a" {
		t.Fatalf("expected gravity ordering preserved on failure, got %+v", out)
	}
}

func TestScopePenalizedRatio(t *testing.T) {
	items := []domain.RetrievedItem{
		{ScopePenalized: true},
		{ScopePenalized: false},
	}
	if got := ScopePenalizedRatio(items); got != 0.5 {
		t.Fatalf("expected ratio 0.5, got %v", got)
	}
}
