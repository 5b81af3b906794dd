package store

import (
	"context"
	"fmt"
)

// AddFavorite is idempotent: favoriting twice leaves one row.
func (s *PostgresStore) AddFavorite(ctx context.Context, documentID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_favorites (document_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (document_id, user_id) DO NOTHING
	`, documentID, userID)
	if err != nil {
		return fmt.Errorf("add favorite: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveFavorite(ctx context.Context, documentID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM document_favorites WHERE document_id=$1 AND user_id=$2
	`, documentID, userID)
	if err != nil {
		return fmt.Errorf("remove favorite: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsFavorited(ctx context.Context, documentID, userID string) (bool, error) {
	var favorited bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM document_favorites WHERE document_id=$1 AND user_id=$2)
	`, documentID, userID).Scan(&favorited)
	if err != nil {
		return false, fmt.Errorf("check favorite: %w", err)
	}
	return favorited, nil
}

// ListFavorites returns the user's favorited documents in a workspace,
// newest favorite first. Soft-deleted documents drop out without the
// favorite rows being touched, and reappear if the document is restored.
func (s *PostgresStore) ListFavorites(ctx context.Context, workspaceID, userID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.workspace_id, d.title, d.content, d.emoji, d.author_id, d.parent_id, d.position,
			d.inherit_permissions, d.is_public, d.allow_comments, d.show_in_search, d.tags,
			d.view_count, d.last_viewed, d.version, d.is_deleted, d.deleted_at, d.last_edited_by, d.created_at, d.updated_at
		FROM document_favorites f
		JOIN documents d ON d.id = f.document_id
		WHERE d.workspace_id=$1 AND f.user_id=$2 AND d.is_deleted=FALSE
		ORDER BY f.added_at DESC
	`, workspaceID, userID)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan favorite: %w", err)
		}
		items = append(items, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate favorites: %w", err)
	}
	return items, nil
}
