package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"ragchat/internal/domain"
	"ragchat/internal/port"
)

var _ port.Chunker = (*LineChunker)(nil)

// LineChunker splits documents into line ranges of roughly maxTokens tokens,
// repeating about overlap tokens of trailing lines at the start of the next
// chunk.
type LineChunker struct {
	maxTokens int
	overlap   int
}

func NewLineChunker(maxTokens, overlap int) *LineChunker {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	if overlap < 0 {
		overlap = 0
	}
	return &LineChunker{
		maxTokens: maxTokens,
		overlap:   overlap,
	}
}

func (c *LineChunker) Chunk(doc domain.Document, content string) ([]domain.Chunk, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	lines := strings.Split(content, "\n")

	var chunks []domain.Chunk
	startLine := 0

	for startLine < len(lines) {
		endLine := startLine
		currentTokens := 0
		var chunkText strings.Builder

		for endLine < len(lines) {
			lineText := lines[endLine]
			lineTokens := CountTokens(lineText)

			// The first line is always taken, even above the budget.
			if endLine > startLine && currentTokens+lineTokens > c.maxTokens {
				break
			}

			if endLine > startLine {
				chunkText.WriteString("\n")
			}
			chunkText.WriteString(lineText)
			currentTokens += lineTokens
			endLine++
		}

		text := chunkText.String()
		if strings.TrimSpace(text) != "" {
			chunks = append(chunks, domain.Chunk{
				ID:        generateChunkID(doc.ID, startLine, endLine),
				DocID:     doc.ID,
				Source:    doc.Path,
				StartLine: startLine + 1,
				EndLine:   endLine,
				Text:      text,
			})
		}

		if endLine >= len(lines) {
			break
		}

		newStart := endLine - c.overlapLines(lines, startLine, endLine)
		if newStart <= startLine {
			newStart = startLine + 1
		}
		startLine = newStart
	}

	return chunks, nil
}

func (c *LineChunker) overlapLines(lines []string, start, end int) int {
	if c.overlap == 0 {
		return 0
	}

	n := 0
	tokens := 0
	for i := end - 1; i > start && tokens < c.overlap; i-- {
		tokens += CountTokens(lines[i])
		n++
	}
	return n
}

// CountTokens approximates the model token count of text as 1.3 tokens per
// word.
func CountTokens(text string) int {
	words := 0
	inWord := false
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			if !inWord {
				words++
				inWord = true
			}
			continue
		}
		inWord = false
	}
	return int(float64(words) * 1.3)
}

func generateChunkID(docID string, startLine, endLine int) string {
	data := fmt.Sprintf("%s:%d-%d", docID, startLine, endLine)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:8])
}
