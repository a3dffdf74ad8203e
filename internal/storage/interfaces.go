// Package storage provides storage interfaces and implementations for the Quire Teams bot.
package storage

import (
	"github.com/quire-api/microsoft-teams/internal/models"
)

// TokenStore provides per-user OAuth token persistence.
//
// Rows are keyed by the Teams user id. Reads refresh the row's
// last-access time; rows unused for longer than the retention window
// are removed by a lazy sweep triggered from GetToken. Storage errors
// propagate to the caller unmasked.
type TokenStore interface {
	// PutToken upserts the token for a user, replacing both the access
	// and refresh credentials atomically. Last write wins.
	PutToken(userID string, token models.Token) error
	// GetToken retrieves the token for a user. Returns
	// models.ErrTokenNotFound if absent. A hit bumps last-access.
	GetToken(userID string) (models.Token, error)
	// DeleteToken removes the token for a user. Deleting an absent row
	// is not an error.
	DeleteToken(userID string) error
}

// LinkStore persists the project linked to a conversation.
type LinkStore interface {
	// PutLinkedProject links a project to a conversation, overwriting
	// any previous link.
	PutLinkedProject(conversationID string, project models.LinkedProject) error
	// GetLinkedProject returns the project linked to a conversation.
	// Returns models.ErrLinkedProjectNotFound if the conversation has
	// no link.
	GetLinkedProject(conversationID string) (models.LinkedProject, error)
	// DeleteLinkedProject unlinks a conversation. Idempotent.
	DeleteLinkedProject(conversationID string) error
}

// FollowStore tracks the projects a conversation follows for
// notifications. Rows carry the same addressable fields as links.
type FollowStore interface {
	// PutFollowedProject records that a conversation follows a project.
	PutFollowedProject(conversationID string, project models.LinkedProject) error
	// FollowedProjects lists the projects a conversation follows,
	// sorted by name.
	FollowedProjects(conversationID string) ([]models.LinkedProject, error)
	// DeleteFollowedProject forgets one followed project. Idempotent.
	DeleteFollowedProject(conversationID, projectOID string) error
}

// TeamStore tracks the teams the bot has been added to.
type TeamStore interface {
	// AddTeam records a team, refreshing its last-access time if it is
	// already known.
	AddTeam(teamID string) error
	// HasTeam reports whether a team is known. A hit bumps last-access.
	HasTeam(teamID string) (bool, error)
	// RemoveTeam forgets a team. Idempotent.
	RemoveTeam(teamID string) error
}

// Store combines all storage interfaces.
type Store interface {
	TokenStore
	LinkStore
	FollowStore
	TeamStore

	// Close closes the store and releases resources.
	Close() error
}
