package app

import (
	"quill/api/internal/rbac"
	"quill/api/internal/store"
)

// memberRole returns the user's role in the workspace, or false if the user
// is not a member.
func memberRole(ws store.Workspace, userID string) (rbac.Role, bool) {
	for _, member := range ws.Members {
		if member.UserID == userID {
			return rbac.Normalize(member.Role), true
		}
	}
	return "", false
}

// requireAccess checks that the user may perform the action in the workspace.
// Non-members may read public workspaces; everything else needs a membership
// whose role grants the action.
func requireAccess(ws store.Workspace, userID string, action rbac.Action) error {
	role, ok := memberRole(ws, userID)
	if !ok {
		if action == rbac.ActionRead && ws.IsPublic {
			return nil
		}
		return errForbidden("not a member of this workspace")
	}
	if !rbac.Can(role, action) {
		return errForbidden("insufficient role for this operation")
	}
	return nil
}

// requireMembership demands an actual member record. The public-workspace
// read carve-out does not apply here: member-scoped state stays closed to
// strangers even when the pages themselves are readable.
func requireMembership(ws store.Workspace, userID string) error {
	if _, ok := memberRole(ws, userID); !ok {
		return errForbidden("not a member of this workspace")
	}
	return nil
}

// isWorkspaceOwner reports whether the user holds the owner role.
func isWorkspaceOwner(ws store.Workspace, userID string) bool {
	role, ok := memberRole(ws, userID)
	return ok && role == rbac.RoleOwner
}
