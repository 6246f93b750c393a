package contract

import (
	"regexp"
	"strconv"
	"strings"

	"atomicrag/internal/domain"
)

// clauseRe recognizes the same dotted clause identifiers scope.isoClause
// does, used here to decide whether a query deserves a deep second-hop
// sub-query rather than running single-shot.
var clauseRe = regexp.MustCompile(`\b(\d{1,2}(?:\.\d{1,2}){1,3})\b`)

// BuildQueryPlan derives a QueryPlan from the request (§4.8). It is a
// deterministic heuristic, not a model call: multiple clause references or
// an explicit SubQueries list trigger a multihop plan; otherwise the plan
// is a pass-through with no extra sub-queries beyond the engine's own root
// safety branch.
func BuildQueryPlan(req domain.RetrieveRequest) domain.QueryPlan {
	if len(req.SubQueries) > 0 {
		sqs := make([]domain.PlannedSubQuery, len(req.SubQueries))
		for i, q := range req.SubQueries {
			sqs[i] = domain.PlannedSubQuery{ID: subQueryID(i), Query: q}
		}
		return domain.QueryPlan{IsMultihop: true, ExecutionMode: domain.ExecParallel, SubQueries: sqs}
	}

	clauses := clauseRe.FindAllString(req.Query, -1)
	if len(clauses) < 2 {
		return domain.QueryPlan{IsMultihop: false, ExecutionMode: domain.ExecParallel}
	}

	sqs := make([]domain.PlannedSubQuery, 0, len(clauses))
	for i := range clauses {
		sqs = append(sqs, domain.PlannedSubQuery{
			ID:     subQueryID(i),
			Query:  req.Query,
			IsDeep: true,
		})
	}
	return domain.QueryPlan{
		IsMultihop:     true,
		ExecutionMode:  domain.ExecSequential,
		SubQueries:     sqs,
		FallbackReason: "multiple clause references detected",
	}
}

func subQueryID(i int) string { return "sq" + strconv.Itoa(i) }

// CoerceQueryPlan round-trips a plan through normalization: trims
// sub-query text, drops empty sub-queries, and defaults ExecutionMode — the
// same shape used to validate that a client-submitted plan equals itself
// after normalization (§8 Round-trip).
func CoerceQueryPlan(qp domain.QueryPlan) domain.QueryPlan {
	out := qp
	out.SubQueries = nil
	for _, sq := range qp.SubQueries {
		sq.Query = strings.TrimSpace(sq.Query)
		if sq.Query == "" {
			continue
		}
		out.SubQueries = append(out.SubQueries, sq)
	}
	if out.ExecutionMode == "" {
		out.ExecutionMode = domain.ExecParallel
	}
	return out
}
