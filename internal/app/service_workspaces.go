package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"quill/api/internal/rbac"
	"quill/api/internal/store"
	"quill/api/internal/util"
)

type CreateWorkspaceInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Emoji       string `json:"emoji"`
}

type UpdateWorkspaceInput struct {
	Name               *string `json:"name"`
	Description        *string `json:"description"`
	Emoji              *string `json:"emoji"`
	IsPublic           *bool   `json:"isPublic"`
	AllowMemberInvites *bool   `json:"allowMemberInvites"`
	DefaultRole        *string `json:"defaultRole"`
}

type AddMemberInput struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

func validateWorkspaceName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errValidation("workspace name is required", nil)
	}
	if utf8.RuneCountInString(name) > 100 {
		return "", errValidation("workspace name must be at most 100 characters", nil)
	}
	return name, nil
}

// CreateWorkspace creates a workspace with the caller as owner.
func (s *Service) CreateWorkspace(ctx context.Context, session Session, input CreateWorkspaceInput) (store.Workspace, error) {
	name, err := validateWorkspaceName(input.Name)
	if err != nil {
		return store.Workspace{}, err
	}

	ws, err := s.store.InsertWorkspace(ctx, store.Workspace{
		ID:                 util.NewID("ws"),
		Name:               name,
		Description:        input.Description,
		Emoji:              input.Emoji,
		OwnerID:            session.UserID,
		AllowMemberInvites: true,
		DefaultRole:        string(rbac.RoleEditor),
	})
	if err != nil {
		return store.Workspace{}, translateStoreError(err, "workspace not found")
	}
	return ws, nil
}

// GetWorkspace loads a workspace the caller may read.
func (s *Service) GetWorkspace(ctx context.Context, session Session, workspaceID string) (store.Workspace, error) {
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return store.Workspace{}, translateStoreError(err, "workspace not found")
	}
	if err := requireAccess(ws, session.UserID, rbac.ActionRead); err != nil {
		return store.Workspace{}, err
	}
	return ws, nil
}

// ListWorkspaces returns the workspaces the caller belongs to.
func (s *Service) ListWorkspaces(ctx context.Context, session Session) ([]store.Workspace, error) {
	return s.store.ListWorkspacesForUser(ctx, session.UserID)
}

// UpdateWorkspace changes workspace settings. Admin only.
func (s *Service) UpdateWorkspace(ctx context.Context, session Session, workspaceID string, input UpdateWorkspaceInput) (store.Workspace, error) {
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return store.Workspace{}, translateStoreError(err, "workspace not found")
	}
	if err := requireAccess(ws, session.UserID, rbac.ActionAdmin); err != nil {
		return store.Workspace{}, err
	}

	if input.Name != nil {
		name, err := validateWorkspaceName(*input.Name)
		if err != nil {
			return store.Workspace{}, err
		}
		ws.Name = name
	}
	if input.Description != nil {
		ws.Description = *input.Description
	}
	if input.Emoji != nil {
		ws.Emoji = *input.Emoji
	}
	if input.IsPublic != nil {
		ws.IsPublic = *input.IsPublic
	}
	if input.AllowMemberInvites != nil {
		ws.AllowMemberInvites = *input.AllowMemberInvites
	}
	if input.DefaultRole != nil {
		role := *input.DefaultRole
		if !rbac.Valid(role) || rbac.Role(role) == rbac.RoleOwner {
			return store.Workspace{}, errValidation("defaultRole must be viewer, editor, or admin", nil)
		}
		ws.DefaultRole = role
	}

	updated, err := s.store.UpdateWorkspace(ctx, ws)
	if err != nil {
		return store.Workspace{}, translateStoreError(err, "workspace not found")
	}
	return updated, nil
}

// DeleteWorkspace soft-deletes the workspace and all of its documents in one
// transaction. Owner only.
func (s *Service) DeleteWorkspace(ctx context.Context, session Session, workspaceID string) (int, error) {
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return 0, translateStoreError(err, "workspace not found")
	}
	if !isWorkspaceOwner(ws, session.UserID) {
		return 0, errForbidden("only the workspace owner can delete it")
	}

	// Collect document ids before the delete so the search index can be
	// purged afterwards.
	docIDs, err := s.store.ListWorkspaceDocumentIDs(ctx, workspaceID)
	if err != nil {
		return 0, err
	}

	count, err := s.store.SoftDeleteWorkspace(ctx, workspaceID, time.Now())
	if err != nil {
		return 0, translateStoreError(err, "workspace not found")
	}

	if s.search != nil && len(docIDs) > 0 {
		s.search.DeleteDocuments(docIDs)
	}
	return count, nil
}

// AddMember invites a user by email. Admins may pick any role below owner;
// regular members may invite at the workspace default role when member
// invites are enabled.
func (s *Service) AddMember(ctx context.Context, session Session, workspaceID string, input AddMemberInput) (store.Workspace, error) {
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return store.Workspace{}, translateStoreError(err, "workspace not found")
	}

	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" || !strings.Contains(email, "@") {
		return store.Workspace{}, errValidation("a valid email is required", nil)
	}

	role := input.Role
	if err := requireAccess(ws, session.UserID, rbac.ActionAdmin); err != nil {
		// Not an admin: member invites must be enabled, the caller needs
		// write access, and the role is forced to the workspace default.
		if !ws.AllowMemberInvites {
			return store.Workspace{}, err
		}
		if err := requireAccess(ws, session.UserID, rbac.ActionWrite); err != nil {
			return store.Workspace{}, err
		}
		role = ws.DefaultRole
	}
	if role == "" {
		role = ws.DefaultRole
	}
	if !rbac.Valid(role) || rbac.Role(role) == rbac.RoleOwner {
		return store.Workspace{}, errValidation("role must be viewer, editor, or admin", nil)
	}

	displayName := email
	if at := strings.Index(email, "@"); at > 0 {
		displayName = email[:at]
	}
	user, err := s.store.EnsureUserByEmail(ctx, email, displayName)
	if err != nil {
		return store.Workspace{}, err
	}
	if existing, ok := memberRole(ws, user.ID); ok && existing == rbac.RoleOwner {
		return store.Workspace{}, errValidation("the owner's role cannot be changed", nil)
	}

	if err := s.store.UpsertWorkspaceMember(ctx, workspaceID, user.ID, role); err != nil {
		return store.Workspace{}, translateStoreError(err, "workspace not found")
	}

	if s.email != nil && s.email.IsConfigured() {
		go func(to, inviter, wsName, role, url string) {
			if err := s.email.SendWorkspaceInviteEmail(to, inviter, wsName, role, url); err != nil {
				log.Printf("email: workspace invite to %s: %v", to, err)
			}
		}(email, session.UserName, ws.Name, role, fmt.Sprintf("%s/workspaces/%s", s.cfg.AppBaseURL, workspaceID))
	}

	return s.store.GetWorkspace(ctx, workspaceID)
}

// UpdateMemberRole changes an existing member's role. Admin only; the owner
// role can neither be assigned nor taken away here.
func (s *Service) UpdateMemberRole(ctx context.Context, session Session, workspaceID, userID, role string) (store.Workspace, error) {
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return store.Workspace{}, translateStoreError(err, "workspace not found")
	}
	if err := requireAccess(ws, session.UserID, rbac.ActionAdmin); err != nil {
		return store.Workspace{}, err
	}

	current, ok := memberRole(ws, userID)
	if !ok {
		return store.Workspace{}, errNotFound("member not found")
	}
	if current == rbac.RoleOwner {
		return store.Workspace{}, errValidation("the owner's role cannot be changed", nil)
	}
	if !rbac.Valid(role) || rbac.Role(role) == rbac.RoleOwner {
		return store.Workspace{}, errValidation("role must be viewer, editor, or admin", nil)
	}

	if err := s.store.UpsertWorkspaceMember(ctx, workspaceID, userID, role); err != nil {
		return store.Workspace{}, translateStoreError(err, "workspace not found")
	}
	return s.store.GetWorkspace(ctx, workspaceID)
}

// RemoveMember removes a member. Admins may remove anyone but the owner;
// any member may remove themselves.
func (s *Service) RemoveMember(ctx context.Context, session Session, workspaceID, userID string) error {
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return translateStoreError(err, "workspace not found")
	}

	target, ok := memberRole(ws, userID)
	if !ok {
		return errNotFound("member not found")
	}
	if target == rbac.RoleOwner {
		return errValidation("the owner cannot be removed from the workspace", nil)
	}

	if userID != session.UserID {
		if err := requireAccess(ws, session.UserID, rbac.ActionAdmin); err != nil {
			return err
		}
	} else if _, self := memberRole(ws, session.UserID); !self {
		return errForbidden("not a member of this workspace")
	}

	return s.store.RemoveWorkspaceMember(ctx, workspaceID, userID)
}
