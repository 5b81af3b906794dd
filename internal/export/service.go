package export

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"

	"quill/api/internal/history"
	"quill/api/internal/store"
)

// DocumentSource provides the document and workspace metadata to export.
type DocumentSource interface {
	GetDocument(ctx context.Context, id string) (store.Document, error)
	GetWorkspace(ctx context.Context, id string) (store.Workspace, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
}

// SnapshotSource provides historic document content by version hash.
type SnapshotSource interface {
	GetSnapshotByHash(documentID, hash string) (history.Snapshot, error)
}

// Service provides document export functionality
type Service struct {
	store     DocumentSource
	snapshots SnapshotSource
}

// NewService creates a new export service. snapshots may be nil, in which
// case only the latest version can be exported.
func NewService(store DocumentSource, snapshots SnapshotSource) *Service {
	return &Service{store: store, snapshots: snapshots}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	doc, err := s.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	ws, err := s.store.GetWorkspace(ctx, doc.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("get workspace: %w", err)
	}

	title := doc.Title
	emoji := doc.Emoji
	content := []byte(doc.Content)

	if req.Version != "" && req.Version != "latest" {
		if s.snapshots == nil {
			return nil, fmt.Errorf("%w: version history not available", ErrContentUnavailable)
		}
		snapshot, err := s.snapshots.GetSnapshotByHash(req.DocumentID, req.Version)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
		}
		title = snapshot.Title
		emoji = snapshot.Emoji
		content = []byte(snapshot.Content)
	}

	var parsed interface{}
	if len(content) > 0 {
		if err := json.Unmarshal(content, &parsed); err != nil {
			return nil, fmt.Errorf("decode content: %w", err)
		}
	}
	contentHTML := ContentToHTML(parsed)

	author := doc.LastEditedBy
	if author == "" {
		author = doc.AuthorID
	}
	if user, err := s.store.GetUserByID(ctx, author); err == nil && user.DisplayName != "" {
		author = user.DisplayName
	}

	data := TemplateData{
		Title:         title,
		Emoji:         emoji,
		ContentHTML:   template.HTML(contentHTML),
		Author:        author,
		UpdatedAt:     doc.UpdatedAt,
		WorkspaceName: ws.Name,
		Tags:          doc.Tags,
	}

	html, err := RenderDocumentHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return exportPDF(html, title)
	case FormatDOCX:
		return exportDOCX(html, title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}
