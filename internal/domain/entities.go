package domain

import "time"

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single role-tagged entry of a chat request.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Turn is one question/answer exchange held in conversation memory.
type Turn struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"created_at"`
}

// VectorRecord is a vector written to an index.
type VectorRecord struct {
	ID       string
	Values   []float32
	Metadata map[string]string
}

// QueryRequest describes a nearest-neighbour query against an index.
type QueryRequest struct {
	Vector          []float32
	TopK            int
	IncludeMetadata bool
	IncludeValues   bool
}

// Match is a single ranked query result.
type Match struct {
	ID       string            `json:"id"`
	Score    float64           `json:"score"`
	Values   []float32         `json:"values,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// QueryResponse is the result of a query.
type QueryResponse struct {
	Matches []Match `json:"matches"`
}

// Metadata keys written alongside vectors.
const (
	MetaText      = "text"
	MetaSource    = "source"
	MetaStartLine = "start_line"
	MetaEndLine   = "end_line"
)

// Document is a piece of source text on disk.
type Document struct {
	ID      string
	Path    string
	ModTime time.Time
}

// Chunk is a contiguous line range of a document.
type Chunk struct {
	ID        string
	DocID     string
	Source    string
	StartLine int
	EndLine   int
	Text      string
}

// ScoredChunk is a retrieved chunk with its relevance score.
type ScoredChunk struct {
	Chunk Chunk
	Score float64
}

// IndexStats summarizes the contents of an index.
type IndexStats struct {
	Name      string `json:"name"`
	Vectors   int    `json:"vectors"`
	Dimension int    `json:"dimension"`
}
