package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"quill/api/internal/auth"
	"quill/api/internal/authpw"
	"quill/api/internal/config"
	"quill/api/internal/export"
	"quill/api/internal/history"
	"quill/api/internal/search"
	"quill/api/internal/store"
	"quill/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	// users and auth
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	EnsureUserByEmail(context.Context, string, string) (store.User, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error

	// workspaces
	InsertWorkspace(context.Context, store.Workspace) (store.Workspace, error)
	GetWorkspace(context.Context, string) (store.Workspace, error)
	UpdateWorkspace(context.Context, store.Workspace) (store.Workspace, error)
	ListWorkspacesForUser(context.Context, string) ([]store.Workspace, error)
	UpsertWorkspaceMember(context.Context, string, string, string) error
	RemoveWorkspaceMember(context.Context, string, string) error
	SoftDeleteWorkspace(context.Context, string, time.Time) (int, error)
	CountWorkspaces(context.Context) (int, error)

	// documents
	GetDocument(context.Context, string) (store.Document, error)
	GetDocumentAny(context.Context, string) (store.Document, error)
	InsertDocumentAtEnd(context.Context, store.Document) (store.Document, error)
	MoveDocument(context.Context, string, *string, int) (store.Document, error)
	ReorderChildren(context.Context, string, *string, []string) error
	SoftDeleteDocument(context.Context, string, time.Time) error
	MarkDocumentDeleted(context.Context, string, time.Time) error
	ListChildren(context.Context, string, *string) ([]store.Document, error)
	ListChildIDs(context.Context, string, *string) ([]string, error)
	ListWorkspaceDocuments(context.Context, string) ([]store.Document, error)
	ListWorkspaceDocumentIDs(context.Context, string) ([]string, error)
	UpdateDocumentContent(context.Context, string, string, []byte, string) (store.Document, bool, error)
	UpdateDocumentMeta(context.Context, string, string, bool, bool, bool, []string) (store.Document, error)
	TouchDocumentView(context.Context, string) error

	// favorites
	AddFavorite(context.Context, string, string) error
	RemoveFavorite(context.Context, string, string) error
	IsFavorited(context.Context, string, string) (bool, error)
	ListFavorites(context.Context, string, string) ([]store.Document, error)

	Ping(ctx context.Context) error
}

// sessionStore abstracts refresh-token storage so Redis and Postgres
// backends are interchangeable.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// pgSessions adapts the Postgres store to the sessionStore interface.
type pgSessions struct {
	store dataStore
}

func (p pgSessions) SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	return p.store.SaveRefreshSession(ctx, tokenHash, user.ID, expiresAt)
}

func (p pgSessions) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	return p.store.LookupRefreshSession(ctx, tokenHash)
}

func (p pgSessions) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	return p.store.RevokeRefreshSession(ctx, tokenHash)
}

type historyService interface {
	EnsureDocumentRepo(documentID string, initial history.Snapshot, author string) error
	CommitSnapshot(documentID string, snapshot history.Snapshot, author, message string) (history.CommitInfo, error)
	History(documentID string, limit int) ([]history.CommitInfo, error)
	GetSnapshotByHash(documentID, hash string) (history.Snapshot, error)
}

type searchService interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexDocument(doc search.DocumentRecord)
	DeleteDocument(id string)
	DeleteDocuments(ids []string)
	ReindexAllFromPG(ctx context.Context)
}

type emailService interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendWorkspaceInviteEmail(to, inviterName, workspaceName, role, workspaceURL string) error
}

type exportService interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	history  historyService
	search   searchService
	email    emailService
	exporter exportService
	authpw   *authpw.Service
}

// SetExporter attaches the document export backend. Export endpoints return
// 503 until one is attached.
func (s *Service) SetExporter(e exportService) {
	s.exporter = e
}

// SetAuthPassword attaches email/password authentication.
func (s *Service) SetAuthPassword(a *authpw.Service) {
	s.authpw = a
}

// AuthPasswordService returns the attached auth backend, or nil.
func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

// SMTPConfigured reports whether outbound email is available. Handlers use
// it to decide on the dev bypass that returns tokens in responses.
func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// SendVerificationEmail mails a verification link, best effort.
func (s *Service) SendVerificationEmail(email, displayName, token string) {
	if !s.SMTPConfigured() {
		return
	}
	url := fmt.Sprintf("%s/verify-email?token=%s", s.cfg.AppBaseURL, token)
	go func() {
		if err := s.email.SendVerificationEmail(email, displayName, url); err != nil {
			log.Printf("email: verification to %s: %v", email, err)
		}
	}()
}

// SendPasswordResetEmail mails a reset link, best effort.
func (s *Service) SendPasswordResetEmail(ctx context.Context, email, token string) {
	if !s.SMTPConfigured() || token == "" {
		return
	}
	displayName := email
	if user, err := s.store.GetUserByEmail(ctx, email); err == nil {
		displayName = user.DisplayName
	}
	url := fmt.Sprintf("%s/reset-password?token=%s", s.cfg.AppBaseURL, token)
	go func() {
		if err := s.email.SendPasswordResetEmail(email, displayName, url); err != nil {
			log.Printf("email: password reset to %s: %v", email, err)
		}
	}()
}

// New creates a service with Postgres-backed refresh sessions.
func New(cfg config.Config, dataStore *store.PostgresStore, historySvc *history.Service, searchSvc *search.Service, emailSvc emailService) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: pgSessions{store: dataStore},
		history:  historySvc,
		search:   searchSvc,
		email:    emailSvc,
	}
}

// NewWithSessionStore creates a service with an external (Redis) session store.
func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, historySvc *history.Service, searchSvc *search.Service, emailSvc emailService) *Service {
	s := New(cfg, dataStore, historySvc, searchSvc, emailSvc)
	s.sessions = sessions
	return s
}

// Bootstrap seeds a fresh instance with a starter workspace and document
// tree, then warms the search index.
func (s *Service) Bootstrap(ctx context.Context) error {
	count, err := s.store.CountWorkspaces(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		if s.search != nil {
			s.search.ReindexAllFromPG(ctx)
		}
		return nil
	}

	owner, err := s.store.EnsureUserByEmail(ctx, "avery@example.com", "Avery")
	if err != nil {
		return err
	}

	ws, err := s.store.InsertWorkspace(ctx, store.Workspace{
		ID:                 util.NewID("ws"),
		Name:               "Getting Started",
		Description:        "A tour of documents, nesting, and search.",
		Emoji:              "🚀",
		OwnerID:            owner.ID,
		AllowMemberInvites: true,
		DefaultRole:        "editor",
	})
	if err != nil {
		return err
	}

	seeds := []struct {
		Title   string
		Emoji   string
		Content string
		Tags    []string
	}{
		{
			Title:   "Welcome to Quill",
			Emoji:   "👋",
			Content: `{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"Documents nest under each other. Drag to reorder, star what matters, and search everything."}]}]}`,
			Tags:    []string{"guide"},
		},
		{
			Title:   "Team Handbook",
			Emoji:   "📖",
			Content: `{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"Keep policies and onboarding notes here."}]}]}`,
			Tags:    []string{"handbook"},
		},
	}

	var rootID string
	for i, seed := range seeds {
		doc, err := s.store.InsertDocumentAtEnd(ctx, store.Document{
			ID:                 util.NewID("doc"),
			WorkspaceID:        ws.ID,
			Title:              seed.Title,
			Content:            json.RawMessage(seed.Content),
			Emoji:              seed.Emoji,
			AuthorID:           owner.ID,
			InheritPermissions: true,
			AllowComments:      true,
			ShowInSearch:       true,
			Tags:               seed.Tags,
		})
		if err != nil {
			return err
		}
		if i == 0 {
			rootID = doc.ID
		}
		s.ensureHistory(doc, owner.DisplayName)
		s.indexDocument(doc)
	}

	child, err := s.store.InsertDocumentAtEnd(ctx, store.Document{
		ID:                 util.NewID("doc"),
		WorkspaceID:        ws.ID,
		Title:              "Nested pages",
		Content:            json.RawMessage(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"This page lives under Welcome to Quill."}]}]}`),
		AuthorID:           owner.ID,
		ParentID:           &rootID,
		InheritPermissions: true,
		AllowComments:      true,
		ShowInSearch:       true,
		Tags:               []string{"guide"},
	})
	if err != nil {
		return err
	}
	s.ensureHistory(child, owner.DisplayName)
	s.indexDocument(child)

	return s.store.AddFavorite(ctx, rootID, owner.ID)
}

func (s *Service) ensureHistory(doc store.Document, author string) {
	if s.history == nil {
		return
	}
	if err := s.history.EnsureDocumentRepo(doc.ID, history.Snapshot{
		Title:   doc.Title,
		Emoji:   doc.Emoji,
		Content: doc.Content,
	}, author); err != nil {
		log.Printf("history: ensure repo %s: %v", doc.ID, err)
	}
}

func (s *Service) indexDocument(doc store.Document) {
	if s.search == nil || !doc.ShowInSearch {
		return
	}
	s.search.IndexDocument(search.DocumentRecord{
		ID:           doc.ID,
		WorkspaceID:  doc.WorkspaceID,
		Title:        doc.Title,
		Text:         search.TextFromContent(doc.Content),
		Emoji:        doc.Emoji,
		AuthorID:     doc.AuthorID,
		Tags:         doc.Tags,
		ShowInSearch: doc.ShowInSearch,
		UpdatedAt:    doc.UpdatedAt.Unix(),
	})
}

// CreateSession issues access and refresh tokens for an authenticated user.
func (s *Service) CreateSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// Refresh rotates the refresh token and issues a new session.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// Re-read the user so rotated sessions pick up profile changes.
	if fresh, err := s.store.GetUserByID(ctx, user.ID); err == nil {
		user = fresh
	}
	return s.CreateSession(ctx, user)
}

// SessionFromToken validates an access token and loads the current user.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Email:     user.Email,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Logout revokes the access token and refresh token, best effort.
func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
