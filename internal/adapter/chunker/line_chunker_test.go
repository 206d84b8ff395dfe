package chunker

import (
	"strings"
	"testing"

	"ragchat/internal/domain"
)

func TestLineChunkerBasic(t *testing.T) {
	chunker := NewLineChunker(50, 10)

	doc := domain.Document{
		ID:   "doc1",
		Path: "/docs/guide.md",
	}

	content := `# Getting started

Install the tool with your package manager.

## Configuration

Settings live in a YAML file next to the project.
Environment variables override the file.`

	chunks, err := chunker.Chunk(doc, content)
	if err != nil {
		t.Fatal(err)
	}

	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}

	for _, chunk := range chunks {
		if chunk.ID == "" {
			t.Error("chunk has empty ID")
		}
		if chunk.DocID != "doc1" {
			t.Errorf("expected DocID 'doc1', got '%s'", chunk.DocID)
		}
		if chunk.Source != "/docs/guide.md" {
			t.Errorf("expected Source to be the document path, got '%s'", chunk.Source)
		}
		if chunk.StartLine < 1 {
			t.Errorf("invalid StartLine: %d", chunk.StartLine)
		}
		if chunk.EndLine < chunk.StartLine {
			t.Errorf("EndLine (%d) < StartLine (%d)", chunk.EndLine, chunk.StartLine)
		}
		if chunk.Text == "" {
			t.Error("chunk has empty text")
		}
	}
}

func TestLineChunkerCoversAllLines(t *testing.T) {
	chunker := NewLineChunker(10, 2)

	doc := domain.Document{ID: "doc1", Path: "/docs/file.md"}

	lines := []string{
		"Line one",
		"Line two",
		"Line three",
		"Line four",
		"Line five",
		"Line six",
		"Line seven",
		"Line eight",
	}

	chunks, err := chunker.Chunk(doc, strings.Join(lines, "\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected the content to be split, got %d chunk(s)", len(chunks))
	}

	for _, line := range lines {
		found := false
		for _, chunk := range chunks {
			if strings.Contains(chunk.Text, line) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("line '%s' not found in any chunk", line)
		}
	}
	if last := chunks[len(chunks)-1]; last.EndLine != len(lines) {
		t.Errorf("expected last chunk to end at line %d, got %d", len(lines), last.EndLine)
	}
}

func TestLineChunkerOverlap(t *testing.T) {
	chunker := NewLineChunker(2, 1)

	doc := domain.Document{ID: "doc1", Path: "/docs/file.md"}

	chunks, err := chunker.Chunk(doc, "Line1\nLine2\nLine3\nLine4\nLine5")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	for i := 0; i < len(chunks)-1; i++ {
		current := chunks[i]
		next := chunks[i+1]

		if next.StartLine > current.EndLine {
			t.Errorf("no overlap between chunk %d (ends at %d) and chunk %d (starts at %d)",
				i, current.EndLine, i+1, next.StartLine)
		}
		if next.StartLine <= current.StartLine {
			t.Errorf("chunk %d does not advance past chunk %d", i+1, i)
		}
	}
}

func TestLineChunkerEmptyContent(t *testing.T) {
	chunker := NewLineChunker(50, 10)

	chunks, err := chunker.Chunk(domain.Document{ID: "doc1", Path: "/docs/empty.md"}, "  \n\n")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected no chunks for blank content, got %d", len(chunks))
	}
}

func TestLineChunkerSingleLine(t *testing.T) {
	chunker := NewLineChunker(50, 10)

	content := "Just a single line of text"

	chunks, err := chunker.Chunk(domain.Document{ID: "doc1", Path: "/docs/single.md"}, content)
	if err != nil {
		t.Fatal(err)
	}

	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk for single line, got %d", len(chunks))
	}
	if chunks[0].Text != content {
		t.Errorf("expected chunk text to match content")
	}
	if chunks[0].StartLine != 1 || chunks[0].EndLine != 1 {
		t.Errorf("expected lines 1-1, got %d-%d", chunks[0].StartLine, chunks[0].EndLine)
	}
}

func TestLineChunkerLongLine(t *testing.T) {
	chunker := NewLineChunker(5, 0)

	content := "This is a very long line with many many words that will exceed the token limit"

	chunks, err := chunker.Chunk(domain.Document{ID: "doc1", Path: "/docs/long.md"}, content)
	if err != nil {
		t.Fatal(err)
	}

	if len(chunks) != 1 {
		t.Fatalf("expected one chunk for an oversized line, got %d", len(chunks))
	}
	if chunks[0].Text != content {
		t.Error("chunk should contain the full oversized line")
	}
}

func TestLineChunkerKeepsBlankLines(t *testing.T) {
	chunker := NewLineChunker(100, 0)

	content := "first\n\nthird"
	chunks, err := chunker.Chunk(domain.Document{ID: "doc1"}, content)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 || chunks[0].Text != content {
		t.Errorf("expected text preserved verbatim, got %+v", chunks)
	}
}

func TestChunkIDUniqueness(t *testing.T) {
	chunker := NewLineChunker(10, 2)

	content := "Line1\nLine2\nLine3\nLine4\nLine5\nLine6\nLine7\nLine8\nLine9\nLine10\nLine11\nLine12"

	chunks, err := chunker.Chunk(domain.Document{ID: "doc1", Path: "/docs/file.md"}, content)
	if err != nil {
		t.Fatal(err)
	}

	ids := make(map[string]bool)
	for _, chunk := range chunks {
		if ids[chunk.ID] {
			t.Errorf("duplicate chunk ID: %s", chunk.ID)
		}
		ids[chunk.ID] = true
	}
}

func TestCountTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"   ", 0},
		{"hello", 1},
		{"hello world", 2},
		{"one two three four five six seven eight nine ten", 13},
		{"snake_case counts-as three", 5},
	}
	for _, tc := range tests {
		if got := CountTokens(tc.text); got != tc.want {
			t.Errorf("CountTokens(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}
