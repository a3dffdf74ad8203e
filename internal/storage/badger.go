// Package storage provides persistent storage using BadgerDB.
package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/quire-api/microsoft-teams/internal/models"
	"github.com/quire-api/microsoft-teams/pkg/clock"
)

// Compile-time check that BadgerStore implements all storage interfaces.
var _ Store = (*BadgerStore)(nil)

// Prefix keys for different data types.
const (
	prefixTokens  = "token/"
	prefixLinks   = "link/"
	prefixFollows = "follow/"
	prefixTeams   = "team/"
)

// Default retention behavior for token rows.
const (
	// DefaultTokenRetention is how long an unused token row survives
	// before the sweep removes it.
	DefaultTokenRetention = 180 * 24 * time.Hour
	// DefaultSweepInterval is the minimum spacing between two sweeps.
	DefaultSweepInterval = 24 * time.Hour
)

// Options configures a store.
type Options struct {
	// TokenRetention overrides DefaultTokenRetention when non-zero.
	TokenRetention time.Duration
	// SweepInterval overrides DefaultSweepInterval when non-zero.
	SweepInterval time.Duration
	// Clock supplies the time source. Defaults to the real clock.
	Clock clock.Clock
}

func (o *Options) withDefaults() {
	if o.TokenRetention == 0 {
		o.TokenRetention = DefaultTokenRetention
	}
	if o.SweepInterval == 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
}

// tokenRecord is the stored shape of a token row.
type tokenRecord struct {
	Token      models.Token `json:"token"`
	LastAccess time.Time    `json:"last_access"`
}

// linkRecord is the stored shape of a linked-project row.
type linkRecord struct {
	Project    models.LinkedProject `json:"project"`
	LastAccess time.Time            `json:"last_access"`
}

// teamRecord is the stored shape of a team row.
type teamRecord struct {
	LastAccess time.Time `json:"last_access"`
}

// BadgerStore provides persistent storage using BadgerDB.
type BadgerStore struct {
	db        *badger.DB
	opts      Options
	mu        sync.Mutex
	lastSweep time.Time
	stopCh    chan struct{}
}

// NewStore creates a new BadgerDB store.
func NewStore(dataDir string, opts Options) (*BadgerStore, error) {
	opts.withDefaults()

	dbPath := filepath.Join(dataDir, "teamsbot.db")

	badgerOpts := badger.DefaultOptions(dbPath)
	badgerOpts.Logger = nil
	badgerOpts.SyncWrites = true
	badgerOpts.ValueLogFileSize = 64 << 20 // 64MB

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &BadgerStore{
		db:     db,
		opts:   opts,
		stopCh: make(chan struct{}),
	}

	// Start garbage collection
	go s.runGC()

	return s, nil
}

// Close closes the database and stops background goroutines.
func (s *BadgerStore) Close() error {
	close(s.stopCh)
	return s.db.Close()
}

// runGC runs periodic value-log garbage collection.
func (s *BadgerStore) runGC() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			for {
				err := s.db.RunValueLogGC(0.5)
				if err == badger.ErrNoRewrite {
					break
				}
				if err != nil {
					break
				}
			}
		}
	}
}

// Token Operations

// PutToken upserts the token for a user.
func (s *BadgerStore) PutToken(userID string, token models.Token) error {
	rec := tokenRecord{Token: token, LastAccess: s.opts.Clock.Now()}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.tokenKey(userID), data)
	})
}

// GetToken retrieves the token for a user, bumping last-access on a hit.
func (s *BadgerStore) GetToken(userID string) (models.Token, error) {
	s.maybeSweep()

	var rec tokenRecord

	err := s.db.Update(func(txn *badger.Txn) error {
		key := s.tokenKey(userID)

		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return models.ErrTokenNotFound
		}
		if err != nil {
			return err
		}

		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return err
		}

		rec.LastAccess = s.opts.Clock.Now()
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})

	if err != nil {
		return models.Token{}, err
	}

	return rec.Token, nil
}

// DeleteToken removes the token for a user.
func (s *BadgerStore) DeleteToken(userID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.tokenKey(userID))
	})
}

// maybeSweep removes token rows unused for longer than the retention
// window, at most once per sweep interval.
func (s *BadgerStore) maybeSweep() {
	now := s.opts.Clock.Now()

	s.mu.Lock()
	if now.Sub(s.lastSweep) < s.opts.SweepInterval {
		s.mu.Unlock()
		return
	}
	s.lastSweep = now
	s.mu.Unlock()

	cutoff := now.Add(-s.opts.TokenRetention)

	// Best effort: a failed sweep is retried on the next interval.
	_ = s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixTokens)

		it := txn.NewIterator(opts)
		defer it.Close()

		var stale [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()

			var rec tokenRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				continue
			}

			if rec.LastAccess.Before(cutoff) {
				stale = append(stale, item.KeyCopy(nil))
			}
		}

		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// Linked Project Operations

// PutLinkedProject links a project to a conversation.
func (s *BadgerStore) PutLinkedProject(conversationID string, project models.LinkedProject) error {
	rec := linkRecord{Project: project, LastAccess: s.opts.Clock.Now()}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.linkKey(conversationID), data)
	})
}

// GetLinkedProject returns the project linked to a conversation.
func (s *BadgerStore) GetLinkedProject(conversationID string) (models.LinkedProject, error) {
	var rec linkRecord

	err := s.db.Update(func(txn *badger.Txn) error {
		key := s.linkKey(conversationID)

		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return models.ErrLinkedProjectNotFound
		}
		if err != nil {
			return err
		}

		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return err
		}

		rec.LastAccess = s.opts.Clock.Now()
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})

	if err != nil {
		return models.LinkedProject{}, err
	}

	return rec.Project, nil
}

// DeleteLinkedProject unlinks a conversation.
func (s *BadgerStore) DeleteLinkedProject(conversationID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.linkKey(conversationID))
	})
}

// Followed Project Operations

// PutFollowedProject records that a conversation follows a project.
func (s *BadgerStore) PutFollowedProject(conversationID string, project models.LinkedProject) error {
	rec := linkRecord{Project: project, LastAccess: s.opts.Clock.Now()}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.followKey(conversationID, project.OID), data)
	})
}

// FollowedProjects lists the projects a conversation follows.
func (s *BadgerStore) FollowedProjects(conversationID string) ([]models.LinkedProject, error) {
	var projects []models.LinkedProject

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixFollows + conversationID + "/")

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec linkRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			projects = append(projects, rec.Project)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(projects, func(i, j int) bool {
		return projects[i].NameText < projects[j].NameText
	})
	return projects, nil
}

// DeleteFollowedProject forgets one followed project.
func (s *BadgerStore) DeleteFollowedProject(conversationID, projectOID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.followKey(conversationID, projectOID))
	})
}

// Team Operations

// AddTeam records a team the bot has been added to.
func (s *BadgerStore) AddTeam(teamID string) error {
	rec := teamRecord{LastAccess: s.opts.Clock.Now()}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.teamKey(teamID), data)
	})
}

// HasTeam reports whether a team is known.
func (s *BadgerStore) HasTeam(teamID string) (bool, error) {
	found := false

	err := s.db.Update(func(txn *badger.Txn) error {
		key := s.teamKey(teamID)

		_, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}

		found = true
		rec := teamRecord{LastAccess: s.opts.Clock.Now()}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})

	return found, err
}

// RemoveTeam forgets a team.
func (s *BadgerStore) RemoveTeam(teamID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.teamKey(teamID))
	})
}

// Key helpers

func (s *BadgerStore) tokenKey(userID string) []byte {
	return []byte(prefixTokens + userID)
}

func (s *BadgerStore) linkKey(conversationID string) []byte {
	return []byte(prefixLinks + conversationID)
}

func (s *BadgerStore) followKey(conversationID, projectOID string) []byte {
	return []byte(prefixFollows + conversationID + "/" + projectOID)
}

func (s *BadgerStore) teamKey(teamID string) []byte {
	return []byte(prefixTeams + teamID)
}
