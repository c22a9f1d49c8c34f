package search

import (
	"context"
	"encoding/json"
	"strings"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string `json:"id"`
	DriveID string `json:"driveId"`
	Type    string `json:"type"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// Query describes a search request. DriveIDs limits hits to drives the
// caller can read and must not be empty.
type Query struct {
	Text       string
	TenantID   string
	DriveIDs   []string
	FilterType string
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Backend string   `json:"backend"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push pages into a search index.
type Indexer interface {
	IndexPages(pages []PageRecord) error
	DeletePages(ids []string) error
}

// PageRecord is the data we index for a page.
type PageRecord struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	DriveID  string `json:"driveId"`
	ParentID string `json:"parentId,omitempty"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	Text     string `json:"text"`
}

// PlainText flattens the text nodes of a ProseMirror document.
func PlainText(content string) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	var root any
	if err := json.Unmarshal([]byte(content), &root); err != nil {
		return ""
	}
	var parts []string
	var walk func(node any)
	walk = func(node any) {
		switch v := node.(type) {
		case map[string]any:
			if text, ok := v["text"].(string); ok && strings.TrimSpace(text) != "" {
				parts = append(parts, strings.TrimSpace(text))
			}
			if children, ok := v["content"].([]any); ok {
				for _, child := range children {
					walk(child)
				}
			}
		case []any:
			for _, child := range v {
				walk(child)
			}
		}
	}
	walk(root)
	return strings.Join(parts, " ")
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
