// Package enrich implements the post-ingestion enrichment pipeline (§4.5):
// knowledge-graph extraction over a document's chunks and RAPTOR-style
// recursive summarization into a tree of RegulatoryNode rows. Grounded on
// the teacher's rag/ingest/index_graph.go staged-pipeline shape, generalized
// from its GitHub/web source extraction to LLM-driven entity/relation and
// summary extraction over this system's ContentChunk rows.
package enrich

import (
	"math"

	"atomicrag/internal/domain"
)

// cosine mirrors the repo/memory package's similarity helper; duplicated
// here rather than exported from repo/memory since that package is a
// storage backend, not a shared math utility, and this is the only other
// caller.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	for _, x := range a {
		na += float64(x) * float64(x)
	}
	for _, x := range b {
		nb += float64(x) * float64(x)
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / math.Sqrt(na*nb)
}

// clusterLeaves groups embedded texts by greedy cosine-similarity threshold
// clustering: each item joins the first existing cluster whose centroid it
// is close enough to, else starts a new one. This stands in for the
// reference implementation's GMM clustering step; no Gaussian-mixture or
// general clustering library is present in the curated dependency set, so
// this pass is plain Go rather than a fabricated dependency.
func clusterLeaves(vectors [][]float32, threshold float64, maxClusterSize int) [][]int {
	var clusters [][]int
	var centroids [][]float32
	for i, v := range vectors {
		best := -1
		bestScore := threshold
		for c, centroid := range centroids {
			if maxClusterSize > 0 && len(clusters[c]) >= maxClusterSize {
				continue
			}
			if score := cosine(v, centroid); score >= bestScore {
				best = c
				bestScore = score
			}
		}
		if best == -1 {
			clusters = append(clusters, []int{i})
			centroids = append(centroids, v)
			continue
		}
		clusters[best] = append(clusters[best], i)
		centroids[best] = averageVectors(vectors, clusters[best])
	}
	return clusters
}

func averageVectors(vectors [][]float32, idx []int) []float32 {
	if len(idx) == 0 {
		return nil
	}
	dims := len(vectors[idx[0]])
	sum := make([]float64, dims)
	for _, i := range idx {
		for d := 0; d < dims && d < len(vectors[i]); d++ {
			sum[d] += float64(vectors[i][d])
		}
	}
	out := make([]float32, dims)
	for d := range out {
		out[d] = float32(sum[d] / float64(len(idx)))
	}
	return out
}

// summaryInput bundles the text and identity a RAPTOR level needs, whether
// it came from a leaf ContentChunk or a child RegulatoryNode.
type summaryInput struct {
	id   string
	text string
	vec  []float32
}

func chunksToSummaryInputs(chunks []domain.ContentChunk, vectors [][]float32) []summaryInput {
	out := make([]summaryInput, len(chunks))
	for i, c := range chunks {
		out[i] = summaryInput{id: c.ID, text: c.Content, vec: vectors[i]}
	}
	return out
}
