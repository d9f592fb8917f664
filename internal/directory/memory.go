package directory

import (
	"context"
	"sync"

	"github.com/digcoord/digcoord/internal/storage"
	"github.com/digcoord/digcoord/internal/types"
)

// Memory is an in-memory directory for tests and local development.
type Memory struct {
	mu          sync.RWMutex
	users       map[string]*User
	territories map[string][]string
}

var _ Service = (*Memory)(nil)

// NewMemory creates an empty in-memory directory.
func NewMemory() *Memory {
	return &Memory{
		users:       make(map[string]*User),
		territories: make(map[string][]string),
	}
}

// AddUser registers a user, optionally with coordinator territories.
func (m *Memory) AddUser(user *User, territories ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
	if len(territories) > 0 {
		m.territories[user.ID] = territories
	}
}

func (m *Memory) FindUserByID(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return user, nil
}

func (m *Memory) FindUsersByRole(_ context.Context, role types.Role, activeOnly bool, page types.Page) ([]*User, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []*User
	for _, u := range m.users {
		if u.Role == role && (!activeOnly || u.Active) {
			matched = append(matched, u)
		}
	}
	page = page.Normalize()
	start := page.Offset()
	if start > len(matched) {
		return nil, len(matched), nil
	}
	end := start + page.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], len(matched), nil
}

func (m *Memory) UserTerritories(_ context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.territories[userID]...), nil
}
