package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// positionBump is added to every live sibling position before final dense
// positions are assigned, so intermediate states never trip the unique
// (workspace, parent, position) index.
const positionBump = 1 << 20

const documentColumns = `id, workspace_id, title, content, emoji, author_id, parent_id, position,
	inherit_permissions, is_public, allow_comments, show_in_search, tags,
	view_count, last_viewed, version, is_deleted, deleted_at, last_edited_by, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var doc Document
	var rawTags []byte
	err := row.Scan(
		&doc.ID,
		&doc.WorkspaceID,
		&doc.Title,
		&doc.Content,
		&doc.Emoji,
		&doc.AuthorID,
		&doc.ParentID,
		&doc.Position,
		&doc.InheritPermissions,
		&doc.IsPublic,
		&doc.AllowComments,
		&doc.ShowInSearch,
		&rawTags,
		&doc.ViewCount,
		&doc.LastViewed,
		&doc.Version,
		&doc.IsDeleted,
		&doc.DeletedAt,
		&doc.LastEditedBy,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return Document{}, err
	}
	decodeTags(rawTags, &doc.Tags)
	return doc, nil
}

// GetDocument returns a live document; soft-deleted rows read as absent.
func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE id=$1 AND is_deleted=FALSE
	`, documentID))
}

// GetDocumentAny returns the document regardless of deletion state. The
// delete cascade reads through it so re-driving an interrupted cascade still
// finds its already-deleted root.
func (s *PostgresStore) GetDocumentAny(ctx context.Context, documentID string) (Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+` FROM documents WHERE id=$1
	`, documentID))
}

func (s *PostgresStore) ListChildren(ctx context.Context, workspaceID string, parentID *string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE workspace_id=$1 AND parent_id IS NOT DISTINCT FROM $2 AND is_deleted=FALSE
		ORDER BY position ASC
	`, workspaceID, parentID)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate children: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListChildIDs(ctx context.Context, workspaceID string, parentID *string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM documents
		WHERE workspace_id=$1 AND parent_id IS NOT DISTINCT FROM $2 AND is_deleted=FALSE
		ORDER BY position ASC
	`, workspaceID, parentID)
	if err != nil {
		return nil, fmt.Errorf("list child ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan child id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate child ids: %w", err)
	}
	return ids, nil
}

// InsertDocumentAtEnd creates the document appended to its sibling list.
// Position assignment happens under the workspace tree lock, so two
// concurrent creates can never compute the same slot.
func (s *PostgresStore) InsertDocumentAtEnd(ctx context.Context, doc Document) (Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, fmt.Errorf("begin insert document: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockWorkspaceTree(ctx, tx, doc.WorkspaceID); err != nil {
		return Document{}, err
	}

	if doc.ParentID != nil {
		if err := checkParentTx(ctx, tx, doc.WorkspaceID, *doc.ParentID); err != nil {
			return Document{}, err
		}
	}

	var count int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM documents
		WHERE workspace_id=$1 AND parent_id IS NOT DISTINCT FROM $2 AND is_deleted=FALSE
	`, doc.WorkspaceID, doc.ParentID).Scan(&count)
	if err != nil {
		return Document{}, fmt.Errorf("count siblings: %w", err)
	}

	tags, err := encodeTags(doc.Tags)
	if err != nil {
		return Document{}, err
	}
	content := doc.Content
	if len(content) == 0 {
		content = []byte(`{}`)
	}

	created, err := scanDocument(tx.QueryRowContext(ctx, `
		INSERT INTO documents (id, workspace_id, title, content, emoji, author_id, parent_id, position,
			inherit_permissions, is_public, allow_comments, show_in_search, tags, version, last_edited_by)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8, $9, $10, $11, $12, $13::jsonb, 1, $14)
		RETURNING `+documentColumns+`
	`, doc.ID, doc.WorkspaceID, doc.Title, string(content), doc.Emoji, doc.AuthorID, doc.ParentID, count,
		doc.InheritPermissions, doc.IsPublic, doc.AllowComments, doc.ShowInSearch, tags, doc.AuthorID))
	if err != nil {
		return Document{}, wrapRetryable(err, "insert document")
	}

	if err := tx.Commit(); err != nil {
		return Document{}, wrapRetryable(err, "commit insert document")
	}
	return created, nil
}

// MoveDocument reparents and repositions a document. newPosition -1 appends.
// Cycle detection and both sibling-list repairs run inside one transaction
// holding the workspace tree lock.
func (s *PostgresStore) MoveDocument(ctx context.Context, documentID string, newParentID *string, newPosition int) (Document, error) {
	if newPosition < -1 {
		return Document{}, ErrInvalidPosition
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, fmt.Errorf("begin move document: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	doc, err := scanDocument(tx.QueryRowContext(ctx, `
		SELECT `+documentColumns+` FROM documents WHERE id=$1 AND is_deleted=FALSE FOR UPDATE
	`, documentID))
	if err != nil {
		return Document{}, err
	}

	if err := lockWorkspaceTree(ctx, tx, doc.WorkspaceID); err != nil {
		return Document{}, err
	}

	if newParentID != nil {
		if *newParentID == documentID {
			return Document{}, ErrSelfParent
		}
		if err := checkParentTx(ctx, tx, doc.WorkspaceID, *newParentID); err != nil {
			return Document{}, err
		}
		if err := checkNoCycleTx(ctx, tx, documentID, *newParentID); err != nil {
			return Document{}, err
		}
	}

	oldIDs, err := listChildIDsTx(ctx, tx, doc.WorkspaceID, doc.ParentID)
	if err != nil {
		return Document{}, err
	}
	oldIDs = removeID(oldIDs, documentID)

	sameParent := equalParent(doc.ParentID, newParentID)
	if sameParent {
		order := insertID(oldIDs, documentID, newPosition)
		if err := resequenceSiblings(ctx, tx, doc.WorkspaceID, newParentID, order); err != nil {
			return Document{}, err
		}
	} else {
		// Park the moving row out of both scopes' dense ranges first.
		if _, err := tx.ExecContext(ctx, `
			UPDATE documents SET parent_id=$2, position=$3, updated_at=NOW() WHERE id=$1
		`, documentID, newParentID, 2*positionBump); err != nil {
			return Document{}, wrapRetryable(err, "reparent document")
		}

		if err := resequenceSiblings(ctx, tx, doc.WorkspaceID, doc.ParentID, oldIDs); err != nil {
			return Document{}, err
		}

		newIDs, err := listChildIDsTx(ctx, tx, doc.WorkspaceID, newParentID)
		if err != nil {
			return Document{}, err
		}
		newIDs = removeID(newIDs, documentID)
		order := insertID(newIDs, documentID, newPosition)
		if err := resequenceSiblings(ctx, tx, doc.WorkspaceID, newParentID, order); err != nil {
			return Document{}, err
		}
	}

	moved, err := scanDocument(tx.QueryRowContext(ctx, `
		SELECT `+documentColumns+` FROM documents WHERE id=$1
	`, documentID))
	if err != nil {
		return Document{}, fmt.Errorf("reload moved document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Document{}, wrapRetryable(err, "commit move document")
	}
	return moved, nil
}

// ReorderChildren assigns position = index over the supplied complete
// ordering. An ordering that does not exactly match the live sibling set is
// rejected with ErrSiblingSetMismatch.
func (s *PostgresStore) ReorderChildren(ctx context.Context, workspaceID string, parentID *string, orderedIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reorder: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockWorkspaceTree(ctx, tx, workspaceID); err != nil {
		return err
	}

	current, err := listChildIDsTx(ctx, tx, workspaceID, parentID)
	if err != nil {
		return err
	}
	if !sameIDSet(current, orderedIDs) {
		return ErrSiblingSetMismatch
	}

	if err := resequenceSiblings(ctx, tx, workspaceID, parentID, orderedIDs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return wrapRetryable(err, "commit reorder")
	}
	return nil
}

// SoftDeleteDocument marks one document deleted and closes the gap it leaves
// in its sibling list, atomically.
func (s *PostgresStore) SoftDeleteDocument(ctx context.Context, documentID string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete document: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	doc, err := scanDocument(tx.QueryRowContext(ctx, `
		SELECT `+documentColumns+` FROM documents WHERE id=$1 AND is_deleted=FALSE FOR UPDATE
	`, documentID))
	if err != nil {
		return err
	}

	if err := lockWorkspaceTree(ctx, tx, doc.WorkspaceID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE documents SET is_deleted=TRUE, deleted_at=$2, updated_at=NOW() WHERE id=$1
	`, documentID, now); err != nil {
		return wrapRetryable(err, "mark document deleted")
	}

	remaining, err := listChildIDsTx(ctx, tx, doc.WorkspaceID, doc.ParentID)
	if err != nil {
		return err
	}
	if err := resequenceSiblings(ctx, tx, doc.WorkspaceID, doc.ParentID, remaining); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return wrapRetryable(err, "commit delete document")
	}
	return nil
}

// MarkDocumentDeleted is the idempotent per-node step of a cascade: it never
// touches sibling positions (the whole subtree is going away) and deleting an
// already-deleted node is a no-op, so an interrupted cascade can be re-driven.
func (s *PostgresStore) MarkDocumentDeleted(ctx context.Context, documentID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET is_deleted=TRUE, deleted_at=$2, updated_at=NOW()
		WHERE id=$1 AND is_deleted=FALSE
	`, documentID, now)
	if err != nil {
		return fmt.Errorf("mark document deleted: %w", err)
	}
	return nil
}

// UpdateDocumentContent saves title/content. The version counter moves by
// exactly one when either actually changed, and not at all otherwise.
func (s *PostgresStore) UpdateDocumentContent(ctx context.Context, documentID, title string, content []byte, editedBy string) (Document, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, false, fmt.Errorf("begin update content: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if len(content) == 0 {
		content = []byte(`{}`)
	}

	var changed bool
	err = tx.QueryRowContext(ctx, `
		SELECT title IS DISTINCT FROM $2 OR content IS DISTINCT FROM $3::jsonb
		FROM documents WHERE id=$1 AND is_deleted=FALSE FOR UPDATE
	`, documentID, title, string(content)).Scan(&changed)
	if err != nil {
		return Document{}, false, err
	}

	var updated Document
	if changed {
		updated, err = scanDocument(tx.QueryRowContext(ctx, `
			UPDATE documents
			SET title=$2, content=$3::jsonb, version=version+1, last_edited_by=$4, updated_at=NOW()
			WHERE id=$1
			RETURNING `+documentColumns+`
		`, documentID, title, string(content), editedBy))
	} else {
		updated, err = scanDocument(tx.QueryRowContext(ctx, `
			SELECT `+documentColumns+` FROM documents WHERE id=$1
		`, documentID))
	}
	if err != nil {
		return Document{}, false, fmt.Errorf("update document content: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Document{}, false, wrapRetryable(err, "commit update content")
	}
	return updated, changed, nil
}

// UpdateDocumentMeta saves emoji, settings, and tags. Metadata-only: the
// version counter does not move.
func (s *PostgresStore) UpdateDocumentMeta(ctx context.Context, documentID, emoji string, isPublic, allowComments, showInSearch bool, tags []string) (Document, error) {
	encoded, err := encodeTags(tags)
	if err != nil {
		return Document{}, err
	}
	updated, err := scanDocument(s.db.QueryRowContext(ctx, `
		UPDATE documents
		SET emoji=$2, is_public=$3, allow_comments=$4, show_in_search=$5, tags=$6::jsonb, updated_at=NOW()
		WHERE id=$1 AND is_deleted=FALSE
		RETURNING `+documentColumns+`
	`, documentID, emoji, isPublic, allowComments, showInSearch, encoded))
	if err != nil {
		return Document{}, err
	}
	return updated, nil
}

func (s *PostgresStore) TouchDocumentView(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET view_count=view_count+1, last_viewed=NOW()
		WHERE id=$1 AND is_deleted=FALSE
	`, documentID)
	if err != nil {
		return fmt.Errorf("touch document view: %w", err)
	}
	return nil
}

// ListWorkspaceDocuments returns every live document in the workspace,
// ordered so parents sort before their children within a sibling scope.
func (s *PostgresStore) ListWorkspaceDocuments(ctx context.Context, workspaceID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE workspace_id=$1 AND is_deleted=FALSE
		ORDER BY parent_id NULLS FIRST, position ASC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list workspace documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workspace document: %w", err)
		}
		items = append(items, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspace documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListWorkspaceDocumentIDs(ctx context.Context, workspaceID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM documents WHERE workspace_id=$1 AND is_deleted=FALSE
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list workspace document ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan workspace document id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspace document ids: %w", err)
	}
	return ids, nil
}

// checkParentTx verifies the parent exists, is live, and belongs to the same
// workspace.
func checkParentTx(ctx context.Context, tx *sql.Tx, workspaceID, parentID string) error {
	var exists bool
	err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM documents WHERE id=$1 AND workspace_id=$2 AND is_deleted=FALSE)
	`, parentID, workspaceID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check parent: %w", err)
	}
	if !exists {
		return ErrParentNotFound
	}
	return nil
}

// checkNoCycleTx walks newParent's ancestor chain; finding documentID there
// means the move would make the document its own ancestor.
func checkNoCycleTx(ctx context.Context, tx *sql.Tx, documentID, newParentID string) error {
	current := newParentID
	for depth := 0; depth < maxTreeDepth; depth++ {
		var parent *string
		err := tx.QueryRowContext(ctx, `
			SELECT parent_id FROM documents WHERE id=$1 AND is_deleted=FALSE
		`, current).Scan(&parent)
		if errors.Is(err, sql.ErrNoRows) {
			return nil // broken chain terminates the walk
		}
		if err != nil {
			return fmt.Errorf("walk ancestors: %w", err)
		}
		if parent == nil {
			return nil
		}
		if *parent == documentID {
			return ErrCircularReference
		}
		current = *parent
	}
	return ErrStructuralInvariant
}

func listChildIDsTx(ctx context.Context, tx *sql.Tx, workspaceID string, parentID *string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM documents
		WHERE workspace_id=$1 AND parent_id IS NOT DISTINCT FROM $2 AND is_deleted=FALSE
		ORDER BY position ASC
	`, workspaceID, parentID)
	if err != nil {
		return nil, fmt.Errorf("list sibling ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan sibling id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sibling ids: %w", err)
	}
	return ids, nil
}

// resequenceSiblings rewrites one sibling scope to the dense order given.
// All rows are bumped clear of the dense range first so no intermediate
// assignment collides with the unique position index.
func resequenceSiblings(ctx context.Context, tx *sql.Tx, workspaceID string, parentID *string, orderedIDs []string) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE documents SET position = position + $3
		WHERE workspace_id=$1 AND parent_id IS NOT DISTINCT FROM $2 AND is_deleted=FALSE
	`, workspaceID, parentID, positionBump); err != nil {
		return wrapRetryable(err, "bump sibling positions")
	}
	for index, id := range orderedIDs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE documents SET position=$2, updated_at=NOW() WHERE id=$1
		`, id, index); err != nil {
			return wrapRetryable(err, "assign sibling position")
		}
	}
	return nil
}

func equalParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func removeID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, candidate := range ids {
		if candidate != id {
			out = append(out, candidate)
		}
	}
	return out
}

// insertID places id at position into ids, appending when position is -1 or
// past the end.
func insertID(ids []string, id string, position int) []string {
	if position < 0 || position > len(ids) {
		position = len(ids)
	}
	out := make([]string, 0, len(ids)+1)
	out = append(out, ids[:position]...)
	out = append(out, id)
	out = append(out, ids[position:]...)
	return out
}

func sameIDSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, id := range a {
		seen[id]++
	}
	for _, id := range b {
		seen[id]--
		if seen[id] < 0 {
			return false
		}
	}
	return true
}
