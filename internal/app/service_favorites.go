package app

import (
	"context"

	"quill/api/internal/rbac"
	"quill/api/internal/store"
)

// favoriteTarget loads the document and checks the caller is an actual
// workspace member. A stranger can read a public page but cannot star it.
func (s *Service) favoriteTarget(ctx context.Context, session Session, documentID string) (store.Document, error) {
	doc, ws, err := s.documentWorkspace(ctx, session, documentID, rbac.ActionRead)
	if err != nil {
		return store.Document{}, err
	}
	if err := requireMembership(ws, session.UserID); err != nil {
		return store.Document{}, err
	}
	return doc, nil
}

// Favorite stars a document for the calling user. Idempotent.
func (s *Service) Favorite(ctx context.Context, session Session, documentID string) error {
	if _, err := s.favoriteTarget(ctx, session, documentID); err != nil {
		return err
	}
	return s.store.AddFavorite(ctx, documentID, session.UserID)
}

// Unfavorite removes a star. Removing a star that is not there is fine.
func (s *Service) Unfavorite(ctx context.Context, session Session, documentID string) error {
	if _, err := s.favoriteTarget(ctx, session, documentID); err != nil {
		return err
	}
	return s.store.RemoveFavorite(ctx, documentID, session.UserID)
}

// IsFavorited reports whether the calling user has starred the document.
func (s *Service) IsFavorited(ctx context.Context, session Session, documentID string) (bool, error) {
	if _, err := s.favoriteTarget(ctx, session, documentID); err != nil {
		return false, err
	}
	return s.store.IsFavorited(ctx, documentID, session.UserID)
}

// ListFavorites returns the caller's starred documents in one workspace,
// most recently starred first. Deleted documents drop out automatically.
func (s *Service) ListFavorites(ctx context.Context, session Session, workspaceID string) ([]store.Document, error) {
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, translateStoreError(err, "workspace not found")
	}
	if err := requireMembership(ws, session.UserID); err != nil {
		return nil, err
	}
	return s.store.ListFavorites(ctx, workspaceID, session.UserID)
}
