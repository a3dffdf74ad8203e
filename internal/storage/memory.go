package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/quire-api/microsoft-teams/internal/models"
)

// Compile-time check that MemoryStore implements all storage interfaces.
var _ Store = (*MemoryStore)(nil)

// MemoryStore implements the Store interface using in-memory maps.
// Useful for testing and development.
type MemoryStore struct {
	opts      Options
	tokens    map[string]*tokenRecord
	links     map[string]*linkRecord
	follows   map[string]map[string]*linkRecord
	teams     map[string]*teamRecord
	lastSweep time.Time
	mu        sync.Mutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(opts Options) *MemoryStore {
	opts.withDefaults()
	return &MemoryStore{
		opts:    opts,
		tokens:  make(map[string]*tokenRecord),
		links:   make(map[string]*linkRecord),
		follows: make(map[string]map[string]*linkRecord),
		teams:   make(map[string]*teamRecord),
	}
}

// Close releases resources. A no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// PutToken upserts the token for a user.
func (s *MemoryStore) PutToken(userID string, token models.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[userID] = &tokenRecord{Token: token, LastAccess: s.opts.Clock.Now()}
	return nil
}

// GetToken retrieves the token for a user, bumping last-access on a hit.
func (s *MemoryStore) GetToken(userID string) (models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()

	rec, ok := s.tokens[userID]
	if !ok {
		return models.Token{}, models.ErrTokenNotFound
	}

	rec.LastAccess = s.opts.Clock.Now()
	return rec.Token, nil
}

// DeleteToken removes the token for a user.
func (s *MemoryStore) DeleteToken(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tokens, userID)
	return nil
}

// sweepLocked removes stale token rows, at most once per sweep interval.
// Callers must hold s.mu.
func (s *MemoryStore) sweepLocked() {
	now := s.opts.Clock.Now()
	if now.Sub(s.lastSweep) < s.opts.SweepInterval {
		return
	}
	s.lastSweep = now

	cutoff := now.Add(-s.opts.TokenRetention)
	for id, rec := range s.tokens {
		if rec.LastAccess.Before(cutoff) {
			delete(s.tokens, id)
		}
	}
}

// PutLinkedProject links a project to a conversation.
func (s *MemoryStore) PutLinkedProject(conversationID string, project models.LinkedProject) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.links[conversationID] = &linkRecord{Project: project, LastAccess: s.opts.Clock.Now()}
	return nil
}

// GetLinkedProject returns the project linked to a conversation.
func (s *MemoryStore) GetLinkedProject(conversationID string) (models.LinkedProject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.links[conversationID]
	if !ok {
		return models.LinkedProject{}, models.ErrLinkedProjectNotFound
	}

	rec.LastAccess = s.opts.Clock.Now()
	return rec.Project, nil
}

// DeleteLinkedProject unlinks a conversation.
func (s *MemoryStore) DeleteLinkedProject(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.links, conversationID)
	return nil
}

// PutFollowedProject records that a conversation follows a project.
func (s *MemoryStore) PutFollowedProject(conversationID string, project models.LinkedProject) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.follows[conversationID] == nil {
		s.follows[conversationID] = make(map[string]*linkRecord)
	}
	s.follows[conversationID][project.OID] = &linkRecord{Project: project, LastAccess: s.opts.Clock.Now()}
	return nil
}

// FollowedProjects lists the projects a conversation follows.
func (s *MemoryStore) FollowedProjects(conversationID string) ([]models.LinkedProject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var projects []models.LinkedProject
	for _, rec := range s.follows[conversationID] {
		projects = append(projects, rec.Project)
	}
	sort.Slice(projects, func(i, j int) bool {
		return projects[i].NameText < projects[j].NameText
	})
	return projects, nil
}

// DeleteFollowedProject forgets one followed project.
func (s *MemoryStore) DeleteFollowedProject(conversationID, projectOID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.follows[conversationID], projectOID)
	return nil
}

// AddTeam records a team the bot has been added to.
func (s *MemoryStore) AddTeam(teamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.teams[teamID] = &teamRecord{LastAccess: s.opts.Clock.Now()}
	return nil
}

// HasTeam reports whether a team is known.
func (s *MemoryStore) HasTeam(teamID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.teams[teamID]
	if !ok {
		return false, nil
	}

	rec.LastAccess = s.opts.Clock.Now()
	return true, nil
}

// RemoveTeam forgets a team.
func (s *MemoryStore) RemoveTeam(teamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.teams, teamID)
	return nil
}
