package contract

import (
	"testing"

	"atomicrag/internal/domain"
)

func TestBuildQueryPlanSingleClauseIsPassthrough(t *testing.T) {
	qp := BuildQueryPlan(domain.RetrieveRequest{Query: "what does clause 8.2.1 require?"})
	if qp.IsMultihop {
		t.Fatalf("expected a single clause reference to stay single-shot, got %+v", qp)
	}
}

func TestBuildQueryPlanMultipleClausesTriggersSequentialMultihop(t *testing.T) {
	qp := BuildQueryPlan(domain.RetrieveRequest{Query: "compare clause 8.2.1 against clause 9.1.3"})
	if !qp.IsMultihop || qp.ExecutionMode != domain.ExecSequential {
		t.Fatalf("expected sequential multihop plan, got %+v", qp)
	}
	if len(qp.SubQueries) != 2 {
		t.Fatalf("expected one sub-query per clause reference, got %d", len(qp.SubQueries))
	}
	if qp.FallbackReason == "" {
		t.Fatal("expected a fallback reason to be recorded")
	}
}

func TestBuildQueryPlanExplicitSubQueriesRunInParallel(t *testing.T) {
	qp := BuildQueryPlan(domain.RetrieveRequest{Query: "root", SubQueries: []string{"a", "b"}})
	if !qp.IsMultihop || qp.ExecutionMode != domain.ExecParallel {
		t.Fatalf("expected explicit sub-queries to run in parallel, got %+v", qp)
	}
	if len(qp.SubQueries) != 2 || qp.SubQueries[0].Query != "a" || qp.SubQueries[1].Query != "b" {
		t.Fatalf("expected sub-queries preserved in order, got %+v", qp.SubQueries)
	}
}

func TestCoerceQueryPlanDropsEmptyAndDefaultsMode(t *testing.T) {
	qp := domain.QueryPlan{SubQueries: []domain.PlannedSubQuery{{Query: "  "}, {Query: " real "}}}
	out := CoerceQueryPlan(qp)
	if out.ExecutionMode != domain.ExecParallel {
		t.Fatalf("expected default execution mode parallel, got %s", out.ExecutionMode)
	}
	if len(out.SubQueries) != 1 || out.SubQueries[0].Query != "real" {
		t.Fatalf("expected blank sub-query dropped and the other trimmed, got %+v", out.SubQueries)
	}
}

func TestCoerceQueryPlanIsIdempotent(t *testing.T) {
	qp := domain.QueryPlan{ExecutionMode: domain.ExecSequential, SubQueries: []domain.PlannedSubQuery{{Query: "x"}}}
	once := CoerceQueryPlan(qp)
	twice := CoerceQueryPlan(once)
	if len(once.SubQueries) != len(twice.SubQueries) || once.ExecutionMode != twice.ExecutionMode {
		t.Fatalf("expected CoerceQueryPlan to be idempotent, got %+v vs %+v", once, twice)
	}
}
