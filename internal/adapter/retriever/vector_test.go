package retriever

import (
	"context"
	"errors"
	"testing"

	"ragchat/config"
	"ragchat/internal/domain"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (e *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vec
	}
	return out, nil
}
func (e *fakeEmbedder) Dimension() int    { return len(e.vec) }
func (e *fakeEmbedder) ModelName() string { return "fake" }

type recordingIndex struct {
	requests []domain.QueryRequest
	matches  []domain.Match
}

func (x *recordingIndex) Upsert(ctx context.Context, records []domain.VectorRecord) error {
	return nil
}

func (x *recordingIndex) Query(ctx context.Context, req domain.QueryRequest) (*domain.QueryResponse, error) {
	x.requests = append(x.requests, req)
	n := req.TopK
	if n > len(x.matches) {
		n = len(x.matches)
	}
	return &domain.QueryResponse{Matches: x.matches[:n]}, nil
}

func (x *recordingIndex) Stats(ctx context.Context) (domain.IndexStats, error) {
	return domain.IndexStats{Vectors: len(x.matches)}, nil
}

func testMatches() []domain.Match {
	var out []domain.Match
	vecs := [][]float32{{1, 0}, {0.99, 0.1}, {0.7, 0.7}, {0, 1}, {0.5, 0.5}, {0.2, 0.9}, {0.9, 0.3}}
	for i, v := range vecs {
		out = append(out, domain.Match{
			ID:     string(rune('a' + i)),
			Values: v,
			Metadata: map[string]string{
				domain.MetaText:      "text " + string(rune('a'+i)),
				domain.MetaSource:    "doc.md",
				domain.MetaStartLine: "3",
				domain.MetaEndLine:   "9",
			},
		})
	}
	return out
}

func TestDefaultConfigRetrieverUsesMMRParameters(t *testing.T) {
	index := &recordingIndex{matches: testMatches()}
	r, err := NewVectorRetriever(index, &fakeEmbedder{vec: []float32{1, 0}}, OptionsFromConfig(config.DefaultConfig().Retrieve))
	if err != nil {
		t.Fatal(err)
	}

	opts := r.Options()
	if opts.SearchType != "mmr" || opts.FetchK != 10 || opts.Lambda != 0.25 || opts.K != 5 {
		t.Fatalf("unexpected retriever options %+v", opts)
	}

	for i := 0; i < 3; i++ {
		chunks, err := r.Retrieve(context.Background(), "question")
		if err != nil {
			t.Fatal(err)
		}
		if len(chunks) != 5 {
			t.Errorf("expected 5 chunks, got %d", len(chunks))
		}
	}

	if len(index.requests) != 3 {
		t.Fatalf("expected one index query per invocation, got %d", len(index.requests))
	}
	for i, req := range index.requests {
		if req.TopK != 10 || !req.IncludeValues || !req.IncludeMetadata {
			t.Errorf("invocation %d: unexpected query %+v", i, req)
		}
	}
}

func TestRetrieveMapsMetadata(t *testing.T) {
	index := &recordingIndex{matches: testMatches()}
	r, err := NewVectorRetriever(index, &fakeEmbedder{vec: []float32{1, 0}}, Options{SearchType: "mmr", K: 2, FetchK: 4, Lambda: 0.25})
	if err != nil {
		t.Fatal(err)
	}

	chunks, err := r.Retrieve(context.Background(), "q")
	if err != nil {
		t.Fatal(err)
	}
	c := chunks[0].Chunk
	if c.ID != "a" || c.Text != "text a" || c.Source != "doc.md" || c.StartLine != 3 || c.EndLine != 9 {
		t.Errorf("unexpected chunk %+v", c)
	}
}

func TestSimilaritySearch(t *testing.T) {
	index := &recordingIndex{matches: testMatches()}
	r, err := NewVectorRetriever(index, &fakeEmbedder{vec: []float32{1, 0}}, Options{SearchType: "similarity", K: 3})
	if err != nil {
		t.Fatal(err)
	}

	chunks, err := r.Retrieve(context.Background(), "q")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 3 {
		t.Errorf("expected 3 chunks, got %d", len(chunks))
	}
	req := index.requests[0]
	if req.TopK != 3 || req.IncludeValues {
		t.Errorf("unexpected similarity query %+v", req)
	}
}

func TestRetrieveEmbedError(t *testing.T) {
	boom := errors.New("boom")
	r, err := NewVectorRetriever(&recordingIndex{}, &fakeEmbedder{err: boom}, Options{SearchType: "mmr", K: 1, FetchK: 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Retrieve(context.Background(), "q"); !errors.Is(err, boom) {
		t.Errorf("expected wrapped embed error, got %v", err)
	}
}

func TestNewVectorRetrieverValidation(t *testing.T) {
	idx := &recordingIndex{}
	emb := &fakeEmbedder{vec: []float32{1}}

	tests := []struct {
		name string
		opts Options
	}{
		{"unknown search type", Options{SearchType: "bm25", K: 1}},
		{"fetchK below k", Options{SearchType: "mmr", K: 5, FetchK: 2}},
		{"zero k", Options{SearchType: "similarity", K: 0}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewVectorRetriever(idx, emb, tc.opts); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := NewVectorRetriever(nil, emb, Options{SearchType: "similarity", K: 1}); err == nil {
		t.Error("expected error for nil index")
	}
}
