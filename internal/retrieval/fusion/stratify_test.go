package fusion

import (
	"testing"

	"atomicrag/internal/domain"
)

func TestStratifyRoundRobinsAcrossStandards(t *testing.T) {
	items := []domain.RetrievedItem{
		item("a1", 3, "iso-9001"),
		item("a2", 2, "iso-9001"),
		item("a3", 1, "iso-9001"),
		item("b1", 3, "iso-27001"),
	}
	out := Stratify(items, []string{"iso-9001", "iso-27001"})
	if out[0].ID != "a1" || out[1].ID != "b1" || out[2].ID != "a2" {
		t.Fatalf("expected round-robin interleave, got %+v", idsOf(out))
	}
}

func TestStratifyPassthroughForSingleStandard(t *testing.T) {
	items := []domain.RetrievedItem{item("a", 1, "iso-9001")}
	out := Stratify(items, []string{"iso-9001"})
	if len(out) != 1 {
		t.Fatalf("expected passthrough with one standard, got %+v", out)
	}
}

func TestMultiQueryRRFMergesAndDeduplicatesByScopeKey(t *testing.T) {
	shared := item("row", 1, "")
	hits := []SubQueryHit{
		{SubQueryID: "sq0", Rank: 1, Item: shared, ScopeKey: "scope::a"},
		{SubQueryID: "sq1", Rank: 2, Item: shared, ScopeKey: "scope::a"},
		{SubQueryID: "sq1", Rank: 1, Item: item("unique", 1, ""), ScopeKey: "scope::b"},
	}
	out := MultiQueryRRF(hits, 60, 10)
	if len(out) != 2 {
		t.Fatalf("expected 2 deduplicated rows, got %d: %+v", len(out), idsOf(out))
	}
	// "row" is deduplicated by ScopeKey across both sub-queries, so its RRF
	// score accumulates both ranks and outranks the single-hit "unique" row.
	if out[0].ID != "row" {
		t.Fatalf("expected the row hit twice to score higher, got %+v", idsOf(out))
	}
}

func idsOf(items []domain.RetrievedItem) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}
