package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"quill/api/internal/export"
	"quill/api/internal/history"
	"quill/api/internal/rbac"
	"quill/api/internal/store"
	"quill/api/internal/util"
)

const maxTitleLength = 200

// maxPathDepth bounds ancestor walks; a chain longer than this means the
// tree is corrupted.
const maxPathDepth = 64

type CreateDocumentInput struct {
	Title    string          `json:"title"`
	Content  json.RawMessage `json:"content"`
	Emoji    string          `json:"emoji"`
	ParentID *string         `json:"parentId"`
	Tags     []string        `json:"tags"`
}

type UpdateContentInput struct {
	Title   string          `json:"title"`
	Content json.RawMessage `json:"content"`
}

type UpdateMetaInput struct {
	Emoji         *string  `json:"emoji"`
	IsPublic      *bool    `json:"isPublic"`
	AllowComments *bool    `json:"allowComments"`
	ShowInSearch  *bool    `json:"showInSearch"`
	Tags          []string `json:"tags"`
}

type MoveDocumentInput struct {
	ParentID *string `json:"parentId"`
	Position *int    `json:"position"`
}

type ReorderChildrenInput struct {
	ParentID   *string  `json:"parentId"`
	OrderedIDs []string `json:"orderedIds"`
}

type PathEntry struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Emoji string `json:"emoji,omitempty"`
}

type DeleteResult struct {
	DeletedIDs []string `json:"deletedIds"`
}

func validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Untitled"
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return "", errValidation("title must be at most 200 characters", map[string]any{"maxLength": maxTitleLength})
	}
	return title, nil
}

// documentWorkspace loads a live document plus its workspace and checks the
// caller may perform the action.
func (s *Service) documentWorkspace(ctx context.Context, session Session, documentID string, action rbac.Action) (store.Document, store.Workspace, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, store.Workspace{}, translateStoreError(err, "document not found")
	}
	ws, err := s.store.GetWorkspace(ctx, doc.WorkspaceID)
	if err != nil {
		return store.Document{}, store.Workspace{}, translateStoreError(err, "workspace not found")
	}
	if err := requireAccess(ws, session.UserID, action); err != nil {
		return store.Document{}, store.Workspace{}, err
	}
	return doc, ws, nil
}

// CreateDocument appends a new document to the end of its sibling list.
func (s *Service) CreateDocument(ctx context.Context, session Session, workspaceID string, input CreateDocumentInput) (store.Document, error) {
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return store.Document{}, translateStoreError(err, "workspace not found")
	}
	if err := requireAccess(ws, session.UserID, rbac.ActionWrite); err != nil {
		return store.Document{}, err
	}

	title, err := validateTitle(input.Title)
	if err != nil {
		return store.Document{}, err
	}

	doc, err := s.store.InsertDocumentAtEnd(ctx, store.Document{
		ID:                 util.NewID("doc"),
		WorkspaceID:        workspaceID,
		Title:              title,
		Content:            input.Content,
		Emoji:              input.Emoji,
		AuthorID:           session.UserID,
		ParentID:           input.ParentID,
		InheritPermissions: true,
		AllowComments:      true,
		ShowInSearch:       true,
		Tags:               input.Tags,
	})
	if err != nil {
		return store.Document{}, translateStoreError(err, "document not found")
	}

	s.ensureHistory(doc, session.UserName)
	s.indexDocument(doc)
	return doc, nil
}

// GetDocument returns a live document and bumps its view counter.
func (s *Service) GetDocument(ctx context.Context, session Session, documentID string) (store.Document, error) {
	doc, _, err := s.documentWorkspace(ctx, session, documentID, rbac.ActionRead)
	if err != nil {
		return store.Document{}, err
	}
	if err := s.store.TouchDocumentView(ctx, documentID); err != nil {
		log.Printf("documents: touch view %s: %v", documentID, err)
	}
	return doc, nil
}

// UpdateDocumentContent saves title and content. The version counter moves
// only when something actually changed; history and search follow the same
// signal.
func (s *Service) UpdateDocumentContent(ctx context.Context, session Session, documentID string, input UpdateContentInput) (store.Document, error) {
	if _, _, err := s.documentWorkspace(ctx, session, documentID, rbac.ActionWrite); err != nil {
		return store.Document{}, err
	}

	title, err := validateTitle(input.Title)
	if err != nil {
		return store.Document{}, err
	}

	updated, changed, err := s.store.UpdateDocumentContent(ctx, documentID, title, input.Content, session.UserID)
	if err != nil {
		return store.Document{}, translateStoreError(err, "document not found")
	}

	if changed {
		if s.history != nil {
			go func(doc store.Document, author string) {
				if _, err := s.history.CommitSnapshot(doc.ID, history.Snapshot{
					Title:   doc.Title,
					Emoji:   doc.Emoji,
					Content: doc.Content,
				}, author, "Save document"); err != nil {
					log.Printf("history: commit %s: %v", doc.ID, err)
				}
			}(updated, session.UserName)
		}
		s.indexDocument(updated)
	}
	return updated, nil
}

// UpdateDocumentMeta changes emoji, settings, and tags without bumping the
// version counter.
func (s *Service) UpdateDocumentMeta(ctx context.Context, session Session, documentID string, input UpdateMetaInput) (store.Document, error) {
	doc, _, err := s.documentWorkspace(ctx, session, documentID, rbac.ActionWrite)
	if err != nil {
		return store.Document{}, err
	}

	emoji := doc.Emoji
	if input.Emoji != nil {
		emoji = *input.Emoji
	}
	isPublic := doc.IsPublic
	if input.IsPublic != nil {
		isPublic = *input.IsPublic
	}
	allowComments := doc.AllowComments
	if input.AllowComments != nil {
		allowComments = *input.AllowComments
	}
	showInSearch := doc.ShowInSearch
	if input.ShowInSearch != nil {
		showInSearch = *input.ShowInSearch
	}
	tags := doc.Tags
	if input.Tags != nil {
		tags = input.Tags
	}

	updated, err := s.store.UpdateDocumentMeta(ctx, documentID, emoji, isPublic, allowComments, showInSearch, tags)
	if err != nil {
		return store.Document{}, translateStoreError(err, "document not found")
	}

	if updated.ShowInSearch {
		s.indexDocument(updated)
	} else if s.search != nil {
		s.search.DeleteDocument(updated.ID)
	}
	return updated, nil
}

// MoveDocument reparents and repositions a document. A nil position appends.
func (s *Service) MoveDocument(ctx context.Context, session Session, documentID string, input MoveDocumentInput) (store.Document, error) {
	if _, _, err := s.documentWorkspace(ctx, session, documentID, rbac.ActionWrite); err != nil {
		return store.Document{}, err
	}

	position := -1
	if input.Position != nil {
		if *input.Position < 0 {
			return store.Document{}, errValidation("position must be non-negative", nil)
		}
		position = *input.Position
	}

	moved, err := s.store.MoveDocument(ctx, documentID, input.ParentID, position)
	if err != nil {
		return store.Document{}, translateStoreError(err, "document not found")
	}
	return moved, nil
}

// ReorderChildren applies a complete new ordering to one sibling scope.
func (s *Service) ReorderChildren(ctx context.Context, session Session, workspaceID string, input ReorderChildrenInput) error {
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return translateStoreError(err, "workspace not found")
	}
	if err := requireAccess(ws, session.UserID, rbac.ActionWrite); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(input.OrderedIDs))
	for _, id := range input.OrderedIDs {
		if _, dup := seen[id]; dup {
			return errValidation("orderedIds contains duplicates", map[string]any{"documentId": id})
		}
		seen[id] = struct{}{}
	}

	if err := s.store.ReorderChildren(ctx, workspaceID, input.ParentID, input.OrderedIDs); err != nil {
		return translateStoreError(err, "workspace not found")
	}
	return nil
}

// DeleteDocument soft-deletes a document and cascades to every descendant.
// The root delete closes the sibling gap atomically; descendants are marked
// one by one with idempotent updates. An already-deleted root is accepted,
// so an interrupted cascade is re-driven by deleting the same root again.
func (s *Service) DeleteDocument(ctx context.Context, session Session, documentID string) (DeleteResult, error) {
	doc, err := s.store.GetDocumentAny(ctx, documentID)
	if err != nil {
		return DeleteResult{}, translateStoreError(err, "document not found")
	}
	ws, err := s.store.GetWorkspace(ctx, doc.WorkspaceID)
	if err != nil {
		return DeleteResult{}, translateStoreError(err, "workspace not found")
	}
	if err := requireAccess(ws, session.UserID, rbac.ActionWrite); err != nil {
		return DeleteResult{}, err
	}

	now := time.Now()
	deleted := make([]string, 0, 1)
	if !doc.IsDeleted {
		if err := s.store.SoftDeleteDocument(ctx, documentID, now); err != nil {
			return DeleteResult{}, translateStoreError(err, "document not found")
		}
		deleted = append(deleted, documentID)
	}

	stack := []string{documentID}
	for len(stack) > 0 {
		parentID := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		children, err := s.store.ListChildIDs(ctx, doc.WorkspaceID, &parentID)
		if err != nil {
			return DeleteResult{DeletedIDs: deleted}, domainError(http.StatusInternalServerError, "CASCADE_INCOMPLETE",
				fmt.Sprintf("cascade interrupted under %s, retry the delete", parentID),
				map[string]any{"documentId": parentID})
		}
		for _, childID := range children {
			if err := s.store.MarkDocumentDeleted(ctx, childID, now); err != nil {
				return DeleteResult{DeletedIDs: deleted}, domainError(http.StatusInternalServerError, "CASCADE_INCOMPLETE",
					fmt.Sprintf("cascade failed at %s, retry the delete", childID),
					map[string]any{"documentId": childID})
			}
			deleted = append(deleted, childID)
			stack = append(stack, childID)
		}
	}

	if s.search != nil {
		s.search.DeleteDocuments(deleted)
	}
	return DeleteResult{DeletedIDs: deleted}, nil
}

// DuplicateDocument copies title, content, and settings into a new document
// appended to the same sibling scope. View count and version start fresh.
func (s *Service) DuplicateDocument(ctx context.Context, session Session, documentID string) (store.Document, error) {
	doc, _, err := s.documentWorkspace(ctx, session, documentID, rbac.ActionWrite)
	if err != nil {
		return store.Document{}, err
	}

	copyTitle := doc.Title + " (Copy)"
	if utf8.RuneCountInString(copyTitle) > maxTitleLength {
		copyTitle = doc.Title
	}

	dup, err := s.store.InsertDocumentAtEnd(ctx, store.Document{
		ID:                 util.NewID("doc"),
		WorkspaceID:        doc.WorkspaceID,
		Title:              copyTitle,
		Content:            doc.Content,
		Emoji:              doc.Emoji,
		AuthorID:           session.UserID,
		ParentID:           doc.ParentID,
		InheritPermissions: doc.InheritPermissions,
		IsPublic:           doc.IsPublic,
		AllowComments:      doc.AllowComments,
		ShowInSearch:       doc.ShowInSearch,
		Tags:               doc.Tags,
	})
	if err != nil {
		return store.Document{}, translateStoreError(err, "document not found")
	}

	s.ensureHistory(dup, session.UserName)
	s.indexDocument(dup)
	return dup, nil
}

// GetPath returns the ancestor chain root-first, ending with the document
// itself. A broken chain truncates; a chain deeper than the cap reports
// corruption.
func (s *Service) GetPath(ctx context.Context, session Session, documentID string) ([]PathEntry, error) {
	doc, _, err := s.documentWorkspace(ctx, session, documentID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}

	path := []PathEntry{{ID: doc.ID, Title: doc.Title, Emoji: doc.Emoji}}
	current := doc.ParentID
	for depth := 0; current != nil; depth++ {
		if depth >= maxPathDepth {
			return nil, errInvariant("ancestor chain exceeds maximum depth", map[string]any{"documentId": documentID})
		}
		parent, err := s.store.GetDocument(ctx, *current)
		if err != nil {
			// Ancestor deleted out from under us: surface the partial path.
			break
		}
		path = append(path, PathEntry{ID: parent.ID, Title: parent.Title, Emoji: parent.Emoji})
		current = parent.ParentID
	}

	// Reverse to root-first order.
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// GetChildren lists one sibling scope in position order.
func (s *Service) GetChildren(ctx context.Context, session Session, workspaceID string, parentID *string) ([]store.Document, error) {
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, translateStoreError(err, "workspace not found")
	}
	if err := requireAccess(ws, session.UserID, rbac.ActionRead); err != nil {
		return nil, err
	}
	return s.store.ListChildren(ctx, workspaceID, parentID)
}

// GetTree returns the workspace's full live document forest, children sorted
// by position. Documents whose parent is missing surface as extra roots so a
// half-finished cascade never hides live content.
func (s *Service) GetTree(ctx context.Context, session Session, workspaceID string) ([]store.DocumentTreeNode, error) {
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, translateStoreError(err, "workspace not found")
	}
	if err := requireAccess(ws, session.UserID, rbac.ActionRead); err != nil {
		return nil, err
	}

	docs, err := s.store.ListWorkspaceDocuments(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]store.Document, len(docs))
	childIDs := make(map[string][]string, len(docs))
	roots := make([]string, 0)
	for _, doc := range docs {
		byID[doc.ID] = doc
	}
	for _, doc := range docs {
		if doc.ParentID == nil {
			roots = append(roots, doc.ID)
			continue
		}
		if _, ok := byID[*doc.ParentID]; !ok {
			roots = append(roots, doc.ID)
			continue
		}
		childIDs[*doc.ParentID] = append(childIDs[*doc.ParentID], doc.ID)
	}

	var build func(id string, depth int) (store.DocumentTreeNode, error)
	build = func(id string, depth int) (store.DocumentTreeNode, error) {
		if depth > maxPathDepth {
			return store.DocumentTreeNode{}, errInvariant("document tree exceeds maximum depth", map[string]any{"documentId": id})
		}
		node := store.DocumentTreeNode{Document: byID[id], Children: []store.DocumentTreeNode{}}
		ids := childIDs[id]
		sort.Slice(ids, func(i, j int) bool { return byID[ids[i]].Position < byID[ids[j]].Position })
		for _, childID := range ids {
			child, err := build(childID, depth+1)
			if err != nil {
				return store.DocumentTreeNode{}, err
			}
			node.Children = append(node.Children, child)
		}
		return node, nil
	}

	sort.Slice(roots, func(i, j int) bool {
		a, b := byID[roots[i]], byID[roots[j]]
		if (a.ParentID == nil) != (b.ParentID == nil) {
			return a.ParentID == nil
		}
		return a.Position < b.Position
	})

	forest := make([]store.DocumentTreeNode, 0, len(roots))
	for _, id := range roots {
		node, err := build(id, 0)
		if err != nil {
			return nil, err
		}
		forest = append(forest, node)
	}
	return forest, nil
}

// DocumentHistory returns the saved versions of a document, newest first.
func (s *Service) DocumentHistory(ctx context.Context, session Session, documentID string, limit int) ([]history.CommitInfo, error) {
	if _, _, err := s.documentWorkspace(ctx, session, documentID, rbac.ActionRead); err != nil {
		return nil, err
	}
	if s.history == nil {
		return []history.CommitInfo{}, nil
	}
	commits, err := s.history.History(documentID, limit)
	if err != nil {
		return nil, errNotFound("document history not found")
	}
	return commits, nil
}

// ExportDocument renders a document (optionally at a historic version) to
// PDF or DOCX.
func (s *Service) ExportDocument(ctx context.Context, session Session, documentID string, format export.Format, version string) (*export.Result, error) {
	if _, _, err := s.documentWorkspace(ctx, session, documentID, rbac.ActionRead); err != nil {
		return nil, err
	}
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "document export is not configured", nil)
	}

	result, err := s.exporter.Export(ctx, export.Request{
		DocumentID: documentID,
		Version:    version,
		Format:     format,
	})
	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, export.ErrContentUnavailable):
		return nil, errNotFound("document content not available for export")
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil)
	default:
		return nil, err
	}
}

// DocumentSnapshot returns document content at a historic version.
func (s *Service) DocumentSnapshot(ctx context.Context, session Session, documentID, hash string) (history.Snapshot, error) {
	if _, _, err := s.documentWorkspace(ctx, session, documentID, rbac.ActionRead); err != nil {
		return history.Snapshot{}, err
	}
	if s.history == nil {
		return history.Snapshot{}, errNotFound("version history not available")
	}
	snapshot, err := s.history.GetSnapshotByHash(documentID, hash)
	if err != nil {
		return history.Snapshot{}, errNotFound("version not found")
	}
	return snapshot, nil
}
