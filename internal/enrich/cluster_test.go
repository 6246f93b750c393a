package enrich

import "testing"

func TestClusterLeavesGroupsSimilarVectors(t *testing.T) {
	vectors := [][]float32{
		{1, 0, 0},
		{0.95, 0.05, 0},
		{0, 1, 0},
		{0.02, 0.98, 0},
	}
	clusters := clusterLeaves(vectors, 0.9, 0)
	if len(clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %d: %v", len(clusters), clusters)
	}
}

func TestClusterLeavesRespectsMaxClusterSize(t *testing.T) {
	vectors := make([][]float32, 5)
	for i := range vectors {
		vectors[i] = []float32{1, 0, 0}
	}
	clusters := clusterLeaves(vectors, 0.5, 2)
	for _, c := range clusters {
		if len(c) > 2 {
			t.Fatalf("cluster exceeded max size: %v", c)
		}
	}
	total := 0
	for _, c := range clusters {
		total += len(c)
	}
	if total != 5 {
		t.Fatalf("expected all 5 items assigned, got %d", total)
	}
}

func TestCosineIdenticalVectors(t *testing.T) {
	if got := cosine([]float32{1, 2, 3}, []float32{1, 2, 3}); got < 0.999 {
		t.Errorf("expected ~1.0, got %v", got)
	}
}

func TestCosineEmptyVectorsAreZero(t *testing.T) {
	if got := cosine(nil, []float32{1}); got != 0 {
		t.Errorf("expected 0, got %v", got)
	}
}
