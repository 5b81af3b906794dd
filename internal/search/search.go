package search

import (
	"context"
	"encoding/json"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Snippet     string   `json:"snippet"`
	Emoji       string   `json:"emoji,omitempty"`
	WorkspaceID string   `json:"workspaceId"`
	AuthorID    string   `json:"authorId"`
	Tags        []string `json:"tags"`
}

// Query describes a search request scoped to one workspace.
type Query struct {
	WorkspaceID string
	Text        string
	Tags        []string
	AuthorID    string
	Limit       int
	Page        int // 1-based
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Page    int      `json:"page"`
	Pages   int      `json:"pages"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push documents into a search index.
type Indexer interface {
	IndexDocument(doc DocumentRecord) error
	DeleteDocument(id string) error
}

// DocumentRecord is the data we index for a document. Text is the flattened
// plain-text body; UpdatedAt is a unix timestamp used for recency sorting.
type DocumentRecord struct {
	ID           string   `json:"id"`
	WorkspaceID  string   `json:"workspaceId"`
	Title        string   `json:"title"`
	Text         string   `json:"text"`
	Emoji        string   `json:"emoji"`
	AuthorID     string   `json:"authorId"`
	Tags         []string `json:"tags"`
	ShowInSearch bool     `json:"showInSearch"`
	UpdatedAt    int64    `json:"updatedAt"`
}

// TextFromContent flattens a block-document JSON body into plain text by
// collecting every "text" string field, in document order.
func TextFromContent(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	var node any
	if err := json.Unmarshal(raw, &node); err != nil {
		return ""
	}
	out := make([]byte, 0, 256)
	out = collectText(node, out)
	return string(out)
}

func collectText(node any, out []byte) []byte {
	switch v := node.(type) {
	case map[string]any:
		if text, ok := v["text"].(string); ok {
			if len(out) > 0 {
				out = append(out, ' ')
			}
			out = append(out, text...)
		}
		if content, ok := v["content"].([]any); ok {
			for _, child := range content {
				out = collectText(child, out)
			}
		}
		if blocks, ok := v["blocks"].([]any); ok {
			for _, child := range blocks {
				out = collectText(child, out)
			}
		}
	case []any:
		for _, child := range v {
			out = collectText(child, out)
		}
	}
	return out
}
