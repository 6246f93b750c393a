package ingest

import (
	"strings"
	"testing"

	"atomicrag/internal/domain"
)

func sampleDoc() ParsedDocument {
	md := "# Document Control\n\nApproved by quality manager.\n\n" +
		"# Table of Contents\n\n1. Scope\n2. Requirements\n\n" +
		"## 7.1 Scope\n\nThis standard applies to all manufacturing sites.\n\n" +
		"## 8.2.1 Corrective action\n\n" + strings.Repeat("Nonconformities must be investigated and resolved promptly. ", 80)
	doc, _ := MarkdownParser{}.Parse("std.md", []byte(md))
	return doc
}

func TestContentStrategyClassifiesRoles(t *testing.T) {
	registry := NewStrategyRegistry()
	strategy, err := registry.Resolve(domain.StrategyContent)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	chunks := strategy.BuildChunks(sampleDoc())
	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}
	var sawFrontmatter, sawTOC, sawNormative bool
	for _, c := range chunks {
		switch c.Role {
		case domain.ChunkRoleFrontmatter:
			sawFrontmatter = true
		case domain.ChunkRoleTOC:
			sawTOC = true
		case domain.ChunkRoleNormativeBody:
			sawNormative = true
			if !strings.Contains(c.Text, "7.1 Scope") && !strings.Contains(c.Text, "8.2.1 Corrective action") {
				t.Errorf("expected contextualized normative chunk to carry heading path, got %q", c.Text[:minInt(40, len(c.Text))])
			}
		}
	}
	if !sawFrontmatter || !sawTOC || !sawNormative {
		t.Fatalf("expected all three roles, got frontmatter=%v toc=%v normative=%v", sawFrontmatter, sawTOC, sawNormative)
	}
}

func TestContentStrategySplitsLongSections(t *testing.T) {
	registry := NewStrategyRegistry()
	strategy, _ := registry.Resolve(domain.StrategyContent)
	chunks := strategy.BuildChunks(sampleDoc())
	var longSectionChunks int
	for _, c := range chunks {
		if len(c.HeadingPath) > 0 && strings.Contains(c.HeadingPath[len(c.HeadingPath)-1], "8.2.1") {
			longSectionChunks++
		}
	}
	if longSectionChunks < 2 {
		t.Fatalf("expected the long section to split into multiple windows, got %d", longSectionChunks)
	}
}

func TestFastContentStrategySkipsContextPrefix(t *testing.T) {
	registry := NewStrategyRegistry()
	strategy, _ := registry.Resolve(domain.StrategyFastContent)
	chunks := strategy.BuildChunks(sampleDoc())
	for _, c := range chunks {
		if len(c.HeadingPath) > 0 && strings.HasPrefix(c.Text, strings.Join(c.HeadingPath, " > ")) {
			t.Errorf("fast_content should not contextualize chunk text, got %q", c.Text[:minInt(60, len(c.Text))])
		}
	}
}

func TestRegistryResolveUnknownStrategy(t *testing.T) {
	registry := NewStrategyRegistry()
	if _, err := registry.Resolve(domain.StrategyKey("NOT_A_STRATEGY")); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestRegistryResolveDefaultsToContent(t *testing.T) {
	registry := NewStrategyRegistry()
	strategy, err := registry.Resolve("")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, ok := strategy.(contentStrategy); !ok {
		t.Fatalf("expected contentStrategy default, got %T", strategy)
	}
}

func TestRubricStrategyKeepsOneChunkPerSection(t *testing.T) {
	md := "## Criterion A\n\nMust demonstrate competency.\n\n## Criterion B\n\nMust demonstrate oversight.\n"
	doc, _ := MarkdownParser{}.Parse("rubric.md", []byte(md))
	registry := NewStrategyRegistry()
	strategy, _ := registry.Resolve(domain.StrategyRubric)
	chunks := strategy.BuildChunks(doc)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 rubric chunks, got %d", len(chunks))
	}
}
