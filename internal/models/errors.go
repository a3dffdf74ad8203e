// Package models defines the core data structures for the Quire Teams bot.
package models

import "errors"

// Common errors.
var (
	ErrTokenNotFound         = errors.New("token not found")
	ErrLinkedProjectNotFound = errors.New("linked project not found")
	ErrTeamNotFound          = errors.New("team not found")
)
