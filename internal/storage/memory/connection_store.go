package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/propsrc/internal/mailbox"
)

type connectionKey struct {
	org   string
	email string
}

// ConnectionStore keeps mailbox connections keyed by (organization, email).
type ConnectionStore struct {
	mu    sync.RWMutex
	conns map[connectionKey]mailbox.Connection
}

var _ mailbox.Store = (*ConnectionStore)(nil)

// NewConnectionStore constructs an empty ConnectionStore.
func NewConnectionStore() *ConnectionStore {
	return &ConnectionStore{conns: make(map[connectionKey]mailbox.Connection)}
}

func keyFor(orgID, email string) connectionKey {
	return connectionKey{org: orgID, email: mailbox.NormalizeEmail(email)}
}

// Get returns the stored connection or mailbox.ErrNotFound.
func (s *ConnectionStore) Get(_ context.Context, orgID, email string) (mailbox.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.conns[keyFor(orgID, email)]
	if !ok {
		return mailbox.Connection{}, fmt.Errorf("connection %s/%s: %w", orgID, email, mailbox.ErrNotFound)
	}
	return conn, nil
}

// List returns an organization's connections ordered by email.
func (s *ConnectionStore) List(_ context.Context, orgID string) ([]mailbox.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []mailbox.Connection
	for key, conn := range s.conns {
		if key.org == orgID {
			out = append(out, conn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

// Upsert stores conn. An existing row keeps its ID and CreatedAt.
func (s *ConnectionStore) Upsert(_ context.Context, conn mailbox.Connection) (mailbox.Connection, error) {
	if conn.ID == "" {
		return mailbox.Connection{}, fmt.Errorf("connection id is required")
	}
	if conn.State == nil {
		return mailbox.Connection{}, fmt.Errorf("connection state is required")
	}
	conn.Email = mailbox.NormalizeEmail(conn.Email)
	key := keyFor(conn.OrganizationID, conn.Email)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.conns[key]; ok {
		conn.ID = existing.ID
		conn.CreatedAt = existing.CreatedAt
	}
	s.conns[key] = conn
	return conn, nil
}

// Delete removes the row or returns mailbox.ErrNotFound.
func (s *ConnectionStore) Delete(_ context.Context, orgID, email string) error {
	key := keyFor(orgID, email)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[key]; !ok {
		return fmt.Errorf("connection %s/%s: %w", orgID, email, mailbox.ErrNotFound)
	}
	delete(s.conns, key)
	return nil
}
