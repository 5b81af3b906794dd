package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"quill/api/internal/store"
)

func newHTTPFixture(t *testing.T) (*HTTPServer, *memStore, *Service) {
	t.Helper()
	ms := newMemStore()
	svc := newTestService(ms)
	return NewHTTPServer(svc, "*"), ms, svc
}

func issueToken(t *testing.T, svc *Service, user store.User) string {
	t.Helper()
	session, err := svc.CreateSession(context.Background(), user)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	return session.Token
}

func doJSON(t *testing.T, server *HTTPServer, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	var payload map[string]any
	if rr.Body.Len() > 0 {
		_ = json.Unmarshal(rr.Body.Bytes(), &payload)
	}
	return rr, payload
}

func TestHealthEndpoint(t *testing.T) {
	server, _, _ := newHTTPFixture(t)

	rr, payload := doJSON(t, server, http.MethodGet, "/api/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if payload["ok"] != true {
		t.Fatalf("expected ok=true, got %v", payload["ok"])
	}
}

func TestReadyEndpoint(t *testing.T) {
	server, _, _ := newHTTPFixture(t)

	rr, payload := doJSON(t, server, http.MethodGet, "/api/ready", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if payload["status"] != "ready" {
		t.Fatalf("expected status=ready, got %v", payload["status"])
	}
}

func TestRequestsRequireSession(t *testing.T) {
	server, _, _ := newHTTPFixture(t)

	rr, payload := doJSON(t, server, http.MethodGet, "/api/workspaces", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected UNAUTHORIZED code, got %v", payload["code"])
	}

	rr, _ = doJSON(t, server, http.MethodGet, "/api/workspaces", "not-a-token", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rr.Code)
	}
}

func TestCORSHeaders(t *testing.T) {
	server, _, _ := newHTTPFixture(t)

	rr, _ := doJSON(t, server, http.MethodGet, "/api/health", "", nil)
	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Fatalf("expected CORS origin=*, got %q", origin)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header")
	}
}

func TestWorkspaceDocumentFlow(t *testing.T) {
	server, ms, svc := newHTTPFixture(t)

	user, _ := ms.EnsureUserByEmail(context.Background(), "flow@example.com", "Flo")
	token := issueToken(t, svc, user)

	// Create a workspace.
	rr, payload := doJSON(t, server, http.MethodPost, "/api/workspaces", token, map[string]any{"name": "Docs"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create workspace: expected 201, got %d (%s)", rr.Code, rr.Body.String())
	}
	ws := payload["workspace"].(map[string]any)
	wsID := ws["ID"].(string)

	// Create two root documents and one nested child.
	var docIDs []string
	for _, title := range []string{"First", "Second"} {
		rr, payload = doJSON(t, server, http.MethodPost, fmt.Sprintf("/api/workspaces/%s/documents", wsID), token, map[string]any{"title": title})
		if rr.Code != http.StatusCreated {
			t.Fatalf("create document %s: expected 201, got %d", title, rr.Code)
		}
		doc := payload["document"].(map[string]any)
		docIDs = append(docIDs, doc["ID"].(string))
	}
	rr, payload = doJSON(t, server, http.MethodPost, fmt.Sprintf("/api/workspaces/%s/documents", wsID), token, map[string]any{
		"title":    "Nested",
		"parentId": docIDs[0],
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create nested: expected 201, got %d", rr.Code)
	}
	nestedID := payload["document"].(map[string]any)["ID"].(string)

	// Tree shows the forest.
	rr, payload = doJSON(t, server, http.MethodGet, fmt.Sprintf("/api/workspaces/%s/documents?tree=true", wsID), token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("tree: expected 200, got %d", rr.Code)
	}
	tree := payload["tree"].([]any)
	if len(tree) != 2 {
		t.Fatalf("expected 2 roots, got %d", len(tree))
	}

	// Move the nested document to the root scope.
	rr, _ = doJSON(t, server, http.MethodPost, fmt.Sprintf("/api/documents/%s/move", nestedID), token, map[string]any{"parentId": nil})
	if rr.Code != http.StatusOK {
		t.Fatalf("move: expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}

	// Children of root scope are now three, dense.
	rr, payload = doJSON(t, server, http.MethodGet, fmt.Sprintf("/api/workspaces/%s/documents", wsID), token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("children: expected 200, got %d", rr.Code)
	}
	documents := payload["documents"].([]any)
	if len(documents) != 3 {
		t.Fatalf("expected 3 root documents, got %d", len(documents))
	}
	for i, raw := range documents {
		doc := raw.(map[string]any)
		if int(doc["Position"].(float64)) != i {
			t.Fatalf("expected dense position %d, got %v", i, doc["Position"])
		}
	}

	// Delete the first document; cascade reported in the response.
	rr, payload = doJSON(t, server, http.MethodDelete, "/api/documents/"+docIDs[0], token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", rr.Code)
	}
	deleted := payload["deletedIds"].([]any)
	if len(deleted) != 1 {
		t.Fatalf("expected 1 deleted id after child moved out, got %d", len(deleted))
	}
}

func TestFavoriteEndpoints(t *testing.T) {
	server, ms, svc := newHTTPFixture(t)

	user, _ := ms.EnsureUserByEmail(context.Background(), "star@example.com", "Stella")
	token := issueToken(t, svc, user)

	rr, payload := doJSON(t, server, http.MethodPost, "/api/workspaces", token, map[string]any{"name": "Stars"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create workspace: %d", rr.Code)
	}
	wsID := payload["workspace"].(map[string]any)["ID"].(string)

	rr, payload = doJSON(t, server, http.MethodPost, fmt.Sprintf("/api/workspaces/%s/documents", wsID), token, map[string]any{"title": "Keeper"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create document: %d", rr.Code)
	}
	docID := payload["document"].(map[string]any)["ID"].(string)

	rr, _ = doJSON(t, server, http.MethodPost, "/api/documents/"+docID+"/favorite", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("favorite: expected 200, got %d", rr.Code)
	}

	rr, payload = doJSON(t, server, http.MethodGet, fmt.Sprintf("/api/workspaces/%s/favorites", wsID), token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list favorites: expected 200, got %d", rr.Code)
	}
	favorites := payload["favorites"].([]any)
	if len(favorites) != 1 {
		t.Fatalf("expected 1 favorite, got %d", len(favorites))
	}

	rr, _ = doJSON(t, server, http.MethodDelete, "/api/documents/"+docID+"/favorite", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("unfavorite: expected 200, got %d", rr.Code)
	}

	rr, payload = doJSON(t, server, http.MethodGet, "/api/documents/"+docID+"/favorite", token, nil)
	if rr.Code != http.StatusOK || payload["favorited"] != false {
		t.Fatalf("expected favorited=false, got %d %v", rr.Code, payload["favorited"])
	}
}

func TestSessionRefreshAndLogout(t *testing.T) {
	server, ms, svc := newHTTPFixture(t)

	user, _ := ms.EnsureUserByEmail(context.Background(), "cycle@example.com", "Cy")
	session, err := svc.CreateSession(context.Background(), user)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	rr, payload := doJSON(t, server, http.MethodPost, "/api/session/refresh", "", map[string]any{"refreshToken": session.RefreshToken})
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d", rr.Code)
	}
	newToken, _ := payload["accessToken"].(string)
	if newToken == "" {
		t.Fatalf("expected new access token in refresh response")
	}

	// Old refresh token is single-use.
	rr, _ = doJSON(t, server, http.MethodPost, "/api/session/refresh", "", map[string]any{"refreshToken": session.RefreshToken})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for reused refresh token, got %d", rr.Code)
	}

	// Logout revokes the access token.
	rr, _ = doJSON(t, server, http.MethodPost, "/api/session/logout", newToken, map[string]any{})
	if rr.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", rr.Code)
	}
	rr, _ = doJSON(t, server, http.MethodGet, "/api/workspaces", newToken, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rr.Code)
	}
}

func TestSearchEndpointWithoutBackend(t *testing.T) {
	server, ms, svc := newHTTPFixture(t)

	user, _ := ms.EnsureUserByEmail(context.Background(), "seek@example.com", "Sia")
	token := issueToken(t, svc, user)

	rr, payload := doJSON(t, server, http.MethodPost, "/api/workspaces", token, map[string]any{"name": "Find"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create workspace: %d", rr.Code)
	}
	wsID := payload["workspace"].(map[string]any)["ID"].(string)

	rr, payload = doJSON(t, server, http.MethodGet, fmt.Sprintf("/api/workspaces/%s/search?q=hello", wsID), token, nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without search backend, got %d", rr.Code)
	}
	if payload["code"] != "SEARCH_UNAVAILABLE" {
		t.Fatalf("expected SEARCH_UNAVAILABLE, got %v", payload["code"])
	}
}
