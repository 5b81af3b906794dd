package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	DeactivatedAt         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Workspace struct {
	ID                 string
	Name               string
	Description        string
	Emoji              string
	OwnerID            string
	IsPublic           bool
	AllowMemberInvites bool
	DefaultRole        string
	Members            []WorkspaceMember
	IsDeleted          bool
	DeletedAt          *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type WorkspaceMember struct {
	WorkspaceID string
	UserID      string
	Role        string
	JoinedAt    time.Time
	// Joined fields for API responses
	DisplayName string
	Email       string
}

type Document struct {
	ID          string
	WorkspaceID string
	Title       string
	Content     json.RawMessage
	Emoji       string
	AuthorID    string
	ParentID    *string
	Position    int

	InheritPermissions bool
	IsPublic           bool
	AllowComments      bool
	ShowInSearch       bool

	Tags       []string
	ViewCount  int
	LastViewed *time.Time

	Version      int
	IsDeleted    bool
	DeletedAt    *time.Time
	LastEditedBy string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DocumentTreeNode represents a document in the nested tree hierarchy.
type DocumentTreeNode struct {
	Document
	Children []DocumentTreeNode
}

type Favorite struct {
	DocumentID string
	UserID     string
	AddedAt    time.Time
}
