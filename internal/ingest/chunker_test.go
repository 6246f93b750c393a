package ingest

import (
	"strings"
	"testing"
)

func TestBuildSectionsTracksHeadingStack(t *testing.T) {
	doc, _ := MarkdownParser{}.Parse("x.md", []byte("# A\n\ntext a\n\n## A.1\n\ntext a1\n"))
	sections := buildSections(doc)
	if len(sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(sections))
	}
	if sections[0].path[len(sections[0].path)-1] != "A" {
		t.Errorf("section 0 path = %v", sections[0].path)
	}
	if got := sections[1].path; len(got) != 2 || got[1] != "A.1" {
		t.Errorf("section 1 path = %v", got)
	}
}

func TestSplitWindowRespectsMaxChars(t *testing.T) {
	text := strings.Repeat("word ", 500)
	windows := splitWindow(text, 200, 20)
	if len(windows) < 2 {
		t.Fatalf("expected multiple windows, got %d", len(windows))
	}
	for _, w := range windows {
		if len(w) > 220 {
			t.Errorf("window exceeds budget: %d chars", len(w))
		}
	}
}

func TestSplitWindowShortTextSingleWindow(t *testing.T) {
	windows := splitWindow("short text", 200, 20)
	if len(windows) != 1 || windows[0] != "short text" {
		t.Fatalf("got %v", windows)
	}
}

func TestContextualizePrefixesHeadingPath(t *testing.T) {
	got := contextualize([]string{"A", "B"}, "body")
	if !strings.HasPrefix(got, "A > B") {
		t.Errorf("got %q", got)
	}
	if got := contextualize(nil, "body"); got != "body" {
		t.Errorf("expected passthrough for empty path, got %q", got)
	}
}
