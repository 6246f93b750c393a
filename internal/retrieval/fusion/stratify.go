package fusion

import "atomicrag/internal/domain"

// Stratify round-robin balances results across requested standards so no
// single standard starves the others, applied both before and after
// external rerank (§4.9 layer 4).
func Stratify(items []domain.RetrievedItem, standards []string) []domain.RetrievedItem {
	if len(standards) < 2 {
		return items
	}
	byStandard := make(map[string][]domain.RetrievedItem, len(standards))
	var other []domain.RetrievedItem
	order := make([]string, 0, len(standards))
	seenStandard := map[string]bool{}
	for _, it := range items {
		std := it.SourceStandard
		if std == "" {
			other = append(other, it)
			continue
		}
		if !seenStandard[std] {
			seenStandard[std] = true
			order = append(order, std)
		}
		byStandard[std] = append(byStandard[std], it)
	}
	var out []domain.RetrievedItem
	for {
		progressed := false
		for _, std := range order {
			if len(byStandard[std]) == 0 {
				continue
			}
			out = append(out, byStandard[std][0])
			byStandard[std] = byStandard[std][1:]
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return append(out, other...)
}

// SubQueryHit is one ranked row from a single sub-query branch, the input to
// MultiQueryRRF.
type SubQueryHit struct {
	SubQueryID string
	Rank       int // 1-based rank within its own sub-query
	Item       domain.RetrievedItem
	ScopeKey   string // canonicalized query+standard+clause dedup key
}

// MultiQueryRRF merges N sub-query branches by
// score(row) = sum(1/(rrfK+rank_in_sub_query)), deduplicating by ScopeKey
// first and by row identity second (§4.9 Multi-query RRF).
func MultiQueryRRF(hits []SubQueryHit, rrfK int, k int) []domain.RetrievedItem {
	if rrfK <= 0 {
		rrfK = 60
	}
	type acc struct {
		item  domain.RetrievedItem
		score float64
	}
	byScopeKey := make(map[string]*acc)
	order := make([]string, 0)
	for _, h := range hits {
		key := h.ScopeKey
		if key == "" {
			key = Identity(h.Item)
		}
		a, ok := byScopeKey[key]
		if !ok {
			a = &acc{item: h.Item}
			byScopeKey[key] = a
			order = append(order, key)
		}
		a.score += 1.0 / float64(rrfK+h.Rank)
	}
	out := make([]domain.RetrievedItem, 0, len(order))
	for _, key := range order {
		a := byScopeKey[key]
		a.item.Score = a.score
		a.item.ScoreSpace = domain.ScoreSpaceGravity
		out = append(out, a.item)
	}
	sortByScoreThenID(out)
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

func sortByScoreThenID(items []domain.RetrievedItem) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0; j-- {
			a, b := items[j], items[j-1]
			if a.Score > b.Score || (a.Score == b.Score && a.ID < b.ID) {
				items[j], items[j-1] = items[j-1], items[j]
				continue
			}
			break
		}
	}
}
