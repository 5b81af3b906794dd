package app

import (
	"context"
	"net/http"
	"strings"

	"quill/api/internal/rbac"
	"quill/api/internal/search"
)

type SearchInput struct {
	Text     string   `json:"q"`
	Tags     []string `json:"tags"`
	AuthorID string   `json:"authorId"`
	Limit    int      `json:"limit"`
	Page     int      `json:"page"`
}

// SearchDocuments runs a relevance search scoped to one workspace the caller
// may read.
func (s *Service) SearchDocuments(ctx context.Context, session Session, workspaceID string, input SearchInput) (search.Response, error) {
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return search.Response{}, translateStoreError(err, "workspace not found")
	}
	if err := requireAccess(ws, session.UserID, rbac.ActionRead); err != nil {
		return search.Response{}, err
	}

	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "search is not configured", nil)
	}

	limit := input.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	page := input.Page
	if page <= 0 {
		page = 1
	}

	return s.search.Search(ctx, search.Query{
		WorkspaceID: workspaceID,
		Text:        strings.TrimSpace(input.Text),
		Tags:        input.Tags,
		AuthorID:    input.AuthorID,
		Limit:       limit,
		Page:        page,
	}), nil
}
