package app

import (
	"context"
	"errors"
	"testing"
)

func TestFavoriteIsIdempotent(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	ws, owner, _, _ := seedWorkspace(t, ms)

	a := createDoc(t, svc, owner, ws.ID, "A", nil)

	for i := 0; i < 3; i++ {
		if err := svc.Favorite(context.Background(), owner, a); err != nil {
			t.Fatalf("Favorite() attempt %d error = %v", i, err)
		}
	}

	favorites, err := svc.ListFavorites(context.Background(), owner, ws.ID)
	if err != nil {
		t.Fatalf("ListFavorites() error = %v", err)
	}
	if len(favorites) != 1 {
		t.Fatalf("expected 1 favorite after repeated stars, got %d", len(favorites))
	}

	favorited, err := svc.IsFavorited(context.Background(), owner, a)
	if err != nil || !favorited {
		t.Fatalf("expected favorited=true, got %v %v", favorited, err)
	}
}

func TestUnfavoriteMissingIsOK(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	ws, owner, _, _ := seedWorkspace(t, ms)

	a := createDoc(t, svc, owner, ws.ID, "A", nil)
	if err := svc.Unfavorite(context.Background(), owner, a); err != nil {
		t.Fatalf("Unfavorite() on non-favorite error = %v", err)
	}
}

func TestFavoritesArePerUser(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	ws, owner, editor, _ := seedWorkspace(t, ms)

	a := createDoc(t, svc, owner, ws.ID, "A", nil)
	if err := svc.Favorite(context.Background(), owner, a); err != nil {
		t.Fatalf("Favorite() error = %v", err)
	}

	mine, _ := svc.ListFavorites(context.Background(), owner, ws.ID)
	theirs, _ := svc.ListFavorites(context.Background(), editor, ws.ID)
	if len(mine) != 1 || len(theirs) != 0 {
		t.Fatalf("favorites must be per-user: owner=%d editor=%d", len(mine), len(theirs))
	}
}

func TestDeletedDocumentDropsFromFavorites(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	ws, owner, _, _ := seedWorkspace(t, ms)

	a := createDoc(t, svc, owner, ws.ID, "A", nil)
	b := createDoc(t, svc, owner, ws.ID, "B", nil)
	if err := svc.Favorite(context.Background(), owner, a); err != nil {
		t.Fatalf("Favorite(a) error = %v", err)
	}
	if err := svc.Favorite(context.Background(), owner, b); err != nil {
		t.Fatalf("Favorite(b) error = %v", err)
	}

	if _, err := svc.DeleteDocument(context.Background(), owner, a); err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}

	favorites, err := svc.ListFavorites(context.Background(), owner, ws.ID)
	if err != nil {
		t.Fatalf("ListFavorites() error = %v", err)
	}
	if len(favorites) != 1 || favorites[0].ID != b {
		t.Fatalf("expected only %s to remain favorited, got %+v", b, favorites)
	}
}

func TestViewerCanFavorite(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	ws, owner, _, viewer := seedWorkspace(t, ms)

	a := createDoc(t, svc, owner, ws.ID, "A", nil)
	if err := svc.Favorite(context.Background(), viewer, a); err != nil {
		t.Fatalf("viewer Favorite() error = %v", err)
	}

	favorites, err := svc.ListFavorites(context.Background(), viewer, ws.ID)
	if err != nil {
		t.Fatalf("viewer ListFavorites() error = %v", err)
	}
	if len(favorites) != 1 || favorites[0].ID != a {
		t.Fatalf("expected viewer's favorite %s, got %+v", a, favorites)
	}
}

func TestFavoriteRequiresMembership(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	ws, owner, _, _ := seedWorkspace(t, ms)

	a := createDoc(t, svc, owner, ws.ID, "A", nil)
	outsider, _ := ms.EnsureUserByEmail(context.Background(), "outsider@example.com", "Oz")
	outside := Session{UserID: outsider.ID}

	var domainErr *DomainError
	err := svc.Favorite(context.Background(), outside, a)
	if !errors.As(err, &domainErr) || domainErr.Code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN for outsider favorite, got %v", err)
	}

	// Making the workspace public opens reads but never member-scoped state:
	// a stranger still cannot star, check, or list favorites.
	public := true
	if _, err := svc.UpdateWorkspace(context.Background(), owner, ws.ID, UpdateWorkspaceInput{IsPublic: &public}); err != nil {
		t.Fatalf("make workspace public: %v", err)
	}
	if _, err := svc.GetDocument(context.Background(), outside, a); err != nil {
		t.Fatalf("outsider read on public workspace should pass, got %v", err)
	}

	err = svc.Favorite(context.Background(), outside, a)
	if !errors.As(err, &domainErr) || domainErr.Code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN for outsider favorite on public workspace, got %v", err)
	}
	_, err = svc.IsFavorited(context.Background(), outside, a)
	if !errors.As(err, &domainErr) || domainErr.Code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN for outsider IsFavorited, got %v", err)
	}
	_, err = svc.ListFavorites(context.Background(), outside, ws.ID)
	if !errors.As(err, &domainErr) || domainErr.Code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN for outsider ListFavorites, got %v", err)
	}
}
