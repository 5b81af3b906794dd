package app

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"quill/api/internal/config"
	"quill/api/internal/store"
)

// memStore is an in-memory dataStore that keeps the same ordering and
// soft-delete semantics as the Postgres implementation, so service tests can
// exercise tree invariants without a database.
type memStore struct {
	mu         sync.Mutex
	seq        int
	users      map[string]store.User
	workspaces map[string]store.Workspace
	documents  map[string]store.Document
	favorites  map[string][]store.Favorite
	sessions   map[string]memSession
	revoked    map[string]bool
}

type memSession struct {
	userID    string
	expiresAt time.Time
}

func newMemStore() *memStore {
	return &memStore{
		users:      make(map[string]store.User),
		workspaces: make(map[string]store.Workspace),
		documents:  make(map[string]store.Document),
		favorites:  make(map[string][]store.Favorite),
		sessions:   make(map[string]memSession),
		revoked:    make(map[string]bool),
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s_%04d", prefix, m.seq)
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// liveSiblings returns live document ids under one parent, position order.
func (m *memStore) liveSiblings(workspaceID string, parentID *string) []string {
	var ids []string
	for id, doc := range m.documents {
		if doc.WorkspaceID == workspaceID && !doc.IsDeleted && sameParent(doc.ParentID, parentID) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return m.documents[ids[i]].Position < m.documents[ids[j]].Position
	})
	return ids
}

func (m *memStore) resequence(workspaceID string, parentID *string) {
	for i, id := range m.liveSiblings(workspaceID, parentID) {
		doc := m.documents[id]
		doc.Position = i
		m.documents[id] = doc
	}
}

// users and auth

func (m *memStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memStore) EnsureUserByEmail(_ context.Context, email, displayName string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	user := store.User{
		ID:          m.nextID("usr"),
		DisplayName: displayName,
		Email:       strings.ToLower(email),
		CreatedAt:   time.Now(),
	}
	m.users[user.ID] = user
	return user, nil
}

func (m *memStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[jti] = true
	return nil
}

func (m *memStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revoked[jti], nil
}

func (m *memStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[tokenHash] = memSession{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *memStore) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[tokenHash]
	if !ok || time.Now().After(session.expiresAt) {
		return store.User{}, sql.ErrNoRows
	}
	user, ok := m.users[session.userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, tokenHash)
	return nil
}

// workspaces

func (m *memStore) InsertWorkspace(_ context.Context, ws store.Workspace) (store.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ws.ID == "" {
		ws.ID = m.nextID("ws")
	}
	if ws.DefaultRole == "" {
		ws.DefaultRole = "editor"
	}
	ws.CreatedAt = time.Now()
	ws.UpdatedAt = ws.CreatedAt
	ws.Members = []store.WorkspaceMember{{
		WorkspaceID: ws.ID,
		UserID:      ws.OwnerID,
		Role:        "owner",
		JoinedAt:    ws.CreatedAt,
	}}
	m.workspaces[ws.ID] = ws
	return ws, nil
}

func (m *memStore) GetWorkspace(_ context.Context, id string) (store.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[id]
	if !ok || ws.IsDeleted {
		return store.Workspace{}, sql.ErrNoRows
	}
	return ws, nil
}

func (m *memStore) UpdateWorkspace(_ context.Context, ws store.Workspace) (store.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.workspaces[ws.ID]
	if !ok || current.IsDeleted {
		return store.Workspace{}, sql.ErrNoRows
	}
	ws.Members = current.Members
	ws.UpdatedAt = time.Now()
	m.workspaces[ws.ID] = ws
	return ws, nil
}

func (m *memStore) ListWorkspacesForUser(_ context.Context, userID string) ([]store.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Workspace
	for _, ws := range m.workspaces {
		if ws.IsDeleted {
			continue
		}
		for _, member := range ws.Members {
			if member.UserID == userID {
				out = append(out, ws)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) UpsertWorkspaceMember(_ context.Context, workspaceID, userID, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[workspaceID]
	if !ok || ws.IsDeleted {
		return sql.ErrNoRows
	}
	for i, member := range ws.Members {
		if member.UserID == userID {
			ws.Members[i].Role = role
			m.workspaces[workspaceID] = ws
			return nil
		}
	}
	ws.Members = append(ws.Members, store.WorkspaceMember{
		WorkspaceID: workspaceID,
		UserID:      userID,
		Role:        role,
		JoinedAt:    time.Now(),
	})
	m.workspaces[workspaceID] = ws
	return nil
}

func (m *memStore) RemoveWorkspaceMember(_ context.Context, workspaceID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[workspaceID]
	if !ok {
		return sql.ErrNoRows
	}
	for i, member := range ws.Members {
		if member.UserID == userID {
			ws.Members = append(ws.Members[:i], ws.Members[i+1:]...)
			m.workspaces[workspaceID] = ws
			return nil
		}
	}
	return nil
}

func (m *memStore) SoftDeleteWorkspace(_ context.Context, workspaceID string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[workspaceID]
	if !ok || ws.IsDeleted {
		return 0, sql.ErrNoRows
	}
	ws.IsDeleted = true
	ws.DeletedAt = &at
	m.workspaces[workspaceID] = ws

	count := 0
	for id, doc := range m.documents {
		if doc.WorkspaceID == workspaceID && !doc.IsDeleted {
			doc.IsDeleted = true
			doc.DeletedAt = &at
			m.documents[id] = doc
			count++
		}
	}
	return count, nil
}

func (m *memStore) CountWorkspaces(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workspaces), nil
}

// documents

func (m *memStore) GetDocument(_ context.Context, id string) (store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok || doc.IsDeleted {
		return store.Document{}, sql.ErrNoRows
	}
	return doc, nil
}

func (m *memStore) GetDocumentAny(_ context.Context, id string) (store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return store.Document{}, sql.ErrNoRows
	}
	return doc, nil
}

func (m *memStore) InsertDocumentAtEnd(_ context.Context, doc store.Document) (store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc.ParentID != nil {
		parent, ok := m.documents[*doc.ParentID]
		if !ok || parent.IsDeleted || parent.WorkspaceID != doc.WorkspaceID {
			return store.Document{}, store.ErrParentNotFound
		}
	}
	doc.Position = len(m.liveSiblings(doc.WorkspaceID, doc.ParentID))
	doc.Version = 1
	doc.CreatedAt = time.Now()
	doc.UpdatedAt = doc.CreatedAt
	m.documents[doc.ID] = doc
	return doc, nil
}

func (m *memStore) MoveDocument(_ context.Context, docID string, newParentID *string, newPosition int) (store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[docID]
	if !ok || doc.IsDeleted {
		return store.Document{}, sql.ErrNoRows
	}
	if newParentID != nil {
		if *newParentID == docID {
			return store.Document{}, store.ErrSelfParent
		}
		parent, ok := m.documents[*newParentID]
		if !ok || parent.IsDeleted || parent.WorkspaceID != doc.WorkspaceID {
			return store.Document{}, store.ErrParentNotFound
		}
		for cursor := newParentID; cursor != nil; {
			if *cursor == docID {
				return store.Document{}, store.ErrCircularReference
			}
			ancestor, ok := m.documents[*cursor]
			if !ok {
				break
			}
			cursor = ancestor.ParentID
		}
	}

	oldParent := doc.ParentID
	ids := m.liveSiblings(doc.WorkspaceID, newParentID)
	if sameParent(oldParent, newParentID) {
		ids = removeID(ids, docID)
	}
	if newPosition < 0 || newPosition > len(ids) {
		newPosition = len(ids)
	}
	ids = append(ids[:newPosition], append([]string{docID}, ids[newPosition:]...)...)

	doc.ParentID = newParentID
	doc.UpdatedAt = time.Now()
	m.documents[docID] = doc

	for i, id := range ids {
		item := m.documents[id]
		item.Position = i
		m.documents[id] = item
	}
	if !sameParent(oldParent, newParentID) {
		m.resequence(doc.WorkspaceID, oldParent)
	}
	return m.documents[docID], nil
}

func (m *memStore) ReorderChildren(_ context.Context, workspaceID string, parentID *string, orderedIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	live := m.liveSiblings(workspaceID, parentID)
	if len(live) != len(orderedIDs) {
		return store.ErrSiblingSetMismatch
	}
	liveSet := make(map[string]bool, len(live))
	for _, id := range live {
		liveSet[id] = true
	}
	for _, id := range orderedIDs {
		if !liveSet[id] {
			return store.ErrSiblingSetMismatch
		}
	}
	for i, id := range orderedIDs {
		doc := m.documents[id]
		doc.Position = i
		m.documents[id] = doc
	}
	return nil
}

func (m *memStore) SoftDeleteDocument(_ context.Context, docID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[docID]
	if !ok || doc.IsDeleted {
		return sql.ErrNoRows
	}
	doc.IsDeleted = true
	doc.DeletedAt = &at
	m.documents[docID] = doc
	m.resequence(doc.WorkspaceID, doc.ParentID)
	return nil
}

func (m *memStore) MarkDocumentDeleted(_ context.Context, docID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[docID]
	if !ok || doc.IsDeleted {
		return nil
	}
	doc.IsDeleted = true
	doc.DeletedAt = &at
	m.documents[docID] = doc
	return nil
}

func (m *memStore) ListChildren(_ context.Context, workspaceID string, parentID *string) ([]store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Document
	for _, id := range m.liveSiblings(workspaceID, parentID) {
		out = append(out, m.documents[id])
	}
	return out, nil
}

func (m *memStore) ListChildIDs(_ context.Context, workspaceID string, parentID *string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveSiblings(workspaceID, parentID), nil
}

func (m *memStore) ListWorkspaceDocuments(_ context.Context, workspaceID string) ([]store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Document
	for _, doc := range m.documents {
		if doc.WorkspaceID == workspaceID && !doc.IsDeleted {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) ListWorkspaceDocumentIDs(_ context.Context, workspaceID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id, doc := range m.documents {
		if doc.WorkspaceID == workspaceID && !doc.IsDeleted {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memStore) UpdateDocumentContent(_ context.Context, docID, title string, content []byte, editedBy string) (store.Document, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[docID]
	if !ok || doc.IsDeleted {
		return store.Document{}, false, sql.ErrNoRows
	}
	changed := doc.Title != title || !bytes.Equal(doc.Content, content)
	doc.Title = title
	doc.Content = content
	doc.LastEditedBy = editedBy
	if changed {
		doc.Version++
		doc.UpdatedAt = time.Now()
	}
	m.documents[docID] = doc
	return doc, changed, nil
}

func (m *memStore) UpdateDocumentMeta(_ context.Context, docID, emoji string, isPublic, allowComments, showInSearch bool, tags []string) (store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[docID]
	if !ok || doc.IsDeleted {
		return store.Document{}, sql.ErrNoRows
	}
	doc.Emoji = emoji
	doc.IsPublic = isPublic
	doc.AllowComments = allowComments
	doc.ShowInSearch = showInSearch
	doc.Tags = tags
	doc.UpdatedAt = time.Now()
	m.documents[docID] = doc
	return doc, nil
}

func (m *memStore) TouchDocumentView(_ context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[docID]
	if !ok {
		return nil
	}
	now := time.Now()
	doc.ViewCount++
	doc.LastViewed = &now
	m.documents[docID] = doc
	return nil
}

// favorites

func (m *memStore) AddFavorite(_ context.Context, documentID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, fav := range m.favorites[userID] {
		if fav.DocumentID == documentID {
			return nil
		}
	}
	m.favorites[userID] = append(m.favorites[userID], store.Favorite{
		DocumentID: documentID,
		UserID:     userID,
		AddedAt:    time.Now(),
	})
	return nil
}

func (m *memStore) RemoveFavorite(_ context.Context, documentID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	favs := m.favorites[userID]
	for i, fav := range favs {
		if fav.DocumentID == documentID {
			m.favorites[userID] = append(favs[:i], favs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *memStore) IsFavorited(_ context.Context, documentID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, fav := range m.favorites[userID] {
		if fav.DocumentID == documentID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) ListFavorites(_ context.Context, workspaceID, userID string) ([]store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	favs := m.favorites[userID]
	var out []store.Document
	for i := len(favs) - 1; i >= 0; i-- {
		doc, ok := m.documents[favs[i].DocumentID]
		if ok && !doc.IsDeleted && doc.WorkspaceID == workspaceID {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (m *memStore) Ping(context.Context) error { return nil }

func newTestService(ms *memStore) *Service {
	return &Service{
		cfg: config.Config{
			JWTSecret:  "test-secret",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: time.Hour,
			AppBaseURL: "http://localhost:3000",
		},
		store:    ms,
		sessions: pgSessions{store: ms},
	}
}

// seedWorkspace creates a workspace with an owner plus editor and viewer
// members, and returns sessions for each.
func seedWorkspace(t interface {
	Helper()
	Fatalf(format string, args ...any)
}, ms *memStore) (store.Workspace, Session, Session, Session) {
	t.Helper()
	ctx := context.Background()

	owner, _ := ms.EnsureUserByEmail(ctx, "owner@example.com", "Olive")
	editor, _ := ms.EnsureUserByEmail(ctx, "editor@example.com", "Eddie")
	viewer, _ := ms.EnsureUserByEmail(ctx, "viewer@example.com", "Vera")

	ws, err := ms.InsertWorkspace(ctx, store.Workspace{
		ID:                 ms.nextID("ws"),
		Name:               "Product",
		OwnerID:            owner.ID,
		AllowMemberInvites: true,
		DefaultRole:        "editor",
	})
	if err != nil {
		t.Fatalf("seed workspace: %v", err)
	}
	if err := ms.UpsertWorkspaceMember(ctx, ws.ID, editor.ID, "editor"); err != nil {
		t.Fatalf("seed editor: %v", err)
	}
	if err := ms.UpsertWorkspaceMember(ctx, ws.ID, viewer.ID, "viewer"); err != nil {
		t.Fatalf("seed viewer: %v", err)
	}

	ownerSession := Session{UserID: owner.ID, UserName: owner.DisplayName, Email: owner.Email}
	editorSession := Session{UserID: editor.ID, UserName: editor.DisplayName, Email: editor.Email}
	viewerSession := Session{UserID: viewer.ID, UserName: viewer.DisplayName, Email: viewer.Email}
	return ws, ownerSession, editorSession, viewerSession
}

func removeID(ids []string, target string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}
