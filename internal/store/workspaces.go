package store

import (
	"context"
	"fmt"
	"time"
)

const workspaceColumns = `id, name, description, emoji, owner_id, is_public, allow_member_invites, default_role, is_deleted, deleted_at, created_at, updated_at`

func scanWorkspace(row rowScanner) (Workspace, error) {
	var ws Workspace
	err := row.Scan(
		&ws.ID,
		&ws.Name,
		&ws.Description,
		&ws.Emoji,
		&ws.OwnerID,
		&ws.IsPublic,
		&ws.AllowMemberInvites,
		&ws.DefaultRole,
		&ws.IsDeleted,
		&ws.DeletedAt,
		&ws.CreatedAt,
		&ws.UpdatedAt,
	)
	return ws, err
}

// InsertWorkspace creates the workspace and its owner membership row in one
// transaction.
func (s *PostgresStore) InsertWorkspace(ctx context.Context, ws Workspace) (Workspace, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Workspace{}, fmt.Errorf("begin insert workspace: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	created, err := scanWorkspace(tx.QueryRowContext(ctx, `
		INSERT INTO workspaces (id, name, description, emoji, owner_id, is_public, allow_member_invites, default_role)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+workspaceColumns+`
	`, ws.ID, ws.Name, ws.Description, ws.Emoji, ws.OwnerID, ws.IsPublic, ws.AllowMemberInvites, ws.DefaultRole))
	if err != nil {
		return Workspace{}, fmt.Errorf("insert workspace: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO workspace_members (workspace_id, user_id, role)
		VALUES ($1, $2, 'owner')
	`, ws.ID, ws.OwnerID); err != nil {
		return Workspace{}, fmt.Errorf("insert owner membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Workspace{}, fmt.Errorf("commit insert workspace: %w", err)
	}
	created.Members = []WorkspaceMember{{WorkspaceID: ws.ID, UserID: ws.OwnerID, Role: "owner", JoinedAt: created.CreatedAt}}
	return created, nil
}

// GetWorkspace returns a live workspace with its member list loaded.
func (s *PostgresStore) GetWorkspace(ctx context.Context, workspaceID string) (Workspace, error) {
	ws, err := scanWorkspace(s.db.QueryRowContext(ctx, `
		SELECT `+workspaceColumns+` FROM workspaces WHERE id=$1 AND is_deleted=FALSE
	`, workspaceID))
	if err != nil {
		return Workspace{}, err
	}

	ws.Members, err = s.listMembers(ctx, workspaceID)
	if err != nil {
		return Workspace{}, err
	}
	return ws, nil
}

func (s *PostgresStore) listMembers(ctx context.Context, workspaceID string) ([]WorkspaceMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.workspace_id, m.user_id, m.role, m.joined_at, u.display_name, u.email
		FROM workspace_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.workspace_id=$1
		ORDER BY m.joined_at ASC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := make([]WorkspaceMember, 0)
	for rows.Next() {
		var m WorkspaceMember
		if err := rows.Scan(&m.WorkspaceID, &m.UserID, &m.Role, &m.JoinedAt, &m.DisplayName, &m.Email); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

func (s *PostgresStore) UpdateWorkspace(ctx context.Context, ws Workspace) (Workspace, error) {
	updated, err := scanWorkspace(s.db.QueryRowContext(ctx, `
		UPDATE workspaces
		SET name=$2, description=$3, emoji=$4, is_public=$5, allow_member_invites=$6, default_role=$7, updated_at=NOW()
		WHERE id=$1 AND is_deleted=FALSE
		RETURNING `+workspaceColumns+`
	`, ws.ID, ws.Name, ws.Description, ws.Emoji, ws.IsPublic, ws.AllowMemberInvites, ws.DefaultRole))
	if err != nil {
		return Workspace{}, err
	}
	updated.Members, err = s.listMembers(ctx, ws.ID)
	if err != nil {
		return Workspace{}, err
	}
	return updated, nil
}

func (s *PostgresStore) ListWorkspacesForUser(ctx context.Context, userID string) ([]Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT w.id, w.name, w.description, w.emoji, w.owner_id, w.is_public, w.allow_member_invites,
			w.default_role, w.is_deleted, w.deleted_at, w.created_at, w.updated_at
		FROM workspaces w
		JOIN workspace_members m ON m.workspace_id = w.id
		WHERE m.user_id=$1 AND w.is_deleted=FALSE
		ORDER BY w.created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	items := make([]Workspace, 0)
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		items = append(items, ws)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspaces: %w", err)
	}
	return items, nil
}

// UpsertWorkspaceMember adds a member or changes an existing member's role.
func (s *PostgresStore) UpsertWorkspaceMember(ctx context.Context, workspaceID, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_members (workspace_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (workspace_id, user_id) DO UPDATE SET role=EXCLUDED.role
	`, workspaceID, userID, role)
	if err != nil {
		return fmt.Errorf("upsert member: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveWorkspaceMember(ctx context.Context, workspaceID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM workspace_members WHERE workspace_id=$1 AND user_id=$2
	`, workspaceID, userID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return nil
}

// SoftDeleteWorkspace marks the workspace and every live document in it
// deleted in one transaction. Returns the number of documents affected.
func (s *PostgresStore) SoftDeleteWorkspace(ctx context.Context, workspaceID string, now time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin delete workspace: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockWorkspaceTree(ctx, tx, workspaceID); err != nil {
		return 0, err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE workspaces SET is_deleted=TRUE, deleted_at=$2, updated_at=NOW()
		WHERE id=$1 AND is_deleted=FALSE
	`, workspaceID, now)
	if err != nil {
		return 0, fmt.Errorf("mark workspace deleted: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		// Already gone; nothing to cascade.
		return 0, tx.Commit()
	}

	docs, err := tx.ExecContext(ctx, `
		UPDATE documents SET is_deleted=TRUE, deleted_at=$2, updated_at=NOW()
		WHERE workspace_id=$1 AND is_deleted=FALSE
	`, workspaceID, now)
	if err != nil {
		return 0, fmt.Errorf("mark workspace documents deleted: %w", err)
	}
	count, err := docs.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted documents: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete workspace: %w", err)
	}
	return int(count), nil
}

// CountWorkspaces is used by bootstrap seeding to decide whether the instance
// is fresh.
func (s *PostgresStore) CountWorkspaces(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM workspaces`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count workspaces: %w", err)
	}
	return count, nil
}
