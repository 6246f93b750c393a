package enrich

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"atomicrag/internal/domain"
	"atomicrag/internal/repo"
)

// RaptorBuilder recursively clusters and summarizes chunks into a tree of
// RegulatoryNode rows: level 1 summarizes clusters of leaf chunks, level 2
// summarizes clusters of level-1 nodes, and so on until a level produces a
// single node or MaxLevels is reached.
type RaptorBuilder struct {
	Chat     domain.Chat
	Embedder domain.Embedder
	Raptor   repo.RaptorRepository

	ClusterThreshold float64
	MaxClusterSize   int
	MaxLevels        int
}

// NewRaptorBuilder constructs a RaptorBuilder with the reference thresholds:
// a high cosine bar so clusters stay topically tight, capped cluster size so
// a single summarization call never drowns in context, and a level cap that
// keeps the tree from growing unbounded on a pathologically uniform corpus.
func NewRaptorBuilder(chat domain.Chat, embedder domain.Embedder, raptorRepo repo.RaptorRepository) *RaptorBuilder {
	return &RaptorBuilder{
		Chat:             chat,
		Embedder:         embedder,
		Raptor:           raptorRepo,
		ClusterThreshold: 0.78,
		MaxClusterSize:   8,
		MaxLevels:        3,
	}
}

// Build embeds chunk content, clusters it, summarizes each cluster, and
// persists the resulting tree, returning the number of nodes written.
func (b *RaptorBuilder) Build(ctx context.Context, tenantID, collectionID, sourceDocID string, chunks []domain.ContentChunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := b.Embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed chunks for raptor: %w", err)
	}

	level := chunksToSummaryInputs(chunks, vectors)
	childIDs := make([]string, len(chunks))
	for i, c := range chunks {
		childIDs[i] = c.ID
	}

	written := 0
	for depth := 1; depth <= b.MaxLevels && len(level) > 1; depth++ {
		clusters := clusterLeaves(vectorsOf(level), b.ClusterThreshold, b.MaxClusterSize)
		var nextLevel []summaryInput
		for _, idx := range clusters {
			inputs := make([]summaryInput, len(idx))
			children := make([]string, len(idx))
			for i, pos := range idx {
				inputs[i] = level[pos]
				children[i] = childIDs[pos]
			}
			summary, err := b.summarize(ctx, inputs)
			if err != nil {
				return written, fmt.Errorf("summarize level %d cluster: %w", depth, err)
			}
			summaryVec, err := b.Embedder.Embed(ctx, []string{summary})
			if err != nil {
				return written, fmt.Errorf("embed summary: %w", err)
			}
			node := domain.RegulatoryNode{
				ID:               uuid.NewString(),
				TenantID:         tenantID,
				CollectionID:     collectionID,
				SourceDocumentID: sourceDocID,
				Level:            depth,
				Title:            fmt.Sprintf("Summary level %d", depth),
				Content:          summary,
				Embedding:        summaryVec[0],
			}
			if depth == 1 {
				node.ChildrenIDs = children
			} else {
				node.ChildrenSummaryIDs = children
			}
			saved, err := b.Raptor.UpsertNode(ctx, node)
			if err != nil {
				return written, fmt.Errorf("persist raptor node: %w", err)
			}
			written++
			nextLevel = append(nextLevel, summaryInput{id: saved.ID, text: summary, vec: summaryVec[0]})
		}
		level = nextLevel
		childIDs = make([]string, len(nextLevel))
		for i, l := range nextLevel {
			childIDs[i] = l.id
		}
	}
	return written, nil
}

func vectorsOf(inputs []summaryInput) [][]float32 {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		out[i] = in.vec
	}
	return out
}

func (b *RaptorBuilder) summarize(ctx context.Context, inputs []summaryInput) (string, error) {
	var text string
	for _, in := range inputs {
		text += in.text + "\n\n"
	}
	messages := []domain.ChatMessage{
		{Role: "system", Content: "Summarize the following related passages into one dense paragraph that preserves every normative requirement and obligation they contain. Do not add information that is not present."},
		{Role: "user", Content: text},
	}
	resp, err := b.Chat.Complete(ctx, messages)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
