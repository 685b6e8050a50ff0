package store

import (
	"context"
	"strings"
	"sync"

	"github.com/minedeck/minedeck/internal/domain"
)

// MemoryStore is the map-backed Store used by tests and by runs that do
// not need persistence across restarts.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*domain.User
	bots  map[string]*domain.Bot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]*domain.User),
		bots:  make(map[string]*domain.Bot),
	}
}

func (s *MemoryStore) Close() error { return nil }

func copyUser(u *domain.User) *domain.User {
	c := *u
	if u.VerificationToken != nil {
		t := *u.VerificationToken
		c.VerificationToken = &t
	}
	return &c
}

func copyBot(b *domain.Bot) *domain.Bot {
	c := *b
	if b.LastConnection != nil {
		t := *b.LastConnection
		c.LastConnection = &t
	}
	if b.LastDisconnection != nil {
		t := *b.LastDisconnection
		c.LastDisconnection = &t
	}
	if b.Error != nil {
		e := *b.Error
		c.Error = &e
	}
	return &c
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

func (s *MemoryStore) findUser(match func(*domain.User) bool) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if match(u) {
			return copyUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	return s.findUser(func(u *domain.User) bool {
		return strings.EqualFold(u.Username, username)
	})
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	return s.findUser(func(u *domain.User) bool {
		return strings.EqualFold(u.Email, email)
	})
}

func (s *MemoryStore) GetUserByVerificationToken(_ context.Context, token string) (*domain.User, error) {
	return s.findUser(func(u *domain.User) bool {
		return u.VerificationToken != nil && *u.VerificationToken == token
	})
}

func (s *MemoryStore) CreateUser(_ context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = copyUser(u)
	return nil
}

func (s *MemoryStore) UpdateUser(_ context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return ErrNotFound
	}
	s.users[u.ID] = copyUser(u)
	return nil
}

func (s *MemoryStore) GetBots(_ context.Context, ownerID string) ([]*domain.Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Bot
	for _, b := range s.bots {
		if b.OwnerID == ownerID {
			out = append(out, copyBot(b))
		}
	}
	return out, nil
}

func (s *MemoryStore) GetBot(_ context.Context, id string) (*domain.Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bots[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyBot(b), nil
}

func (s *MemoryStore) CreateBot(_ context.Context, b *domain.Bot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bots[b.ID] = copyBot(b)
	return nil
}

func (s *MemoryStore) UpdateBot(_ context.Context, id string, upd BotUpdate) (*domain.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bots[id]
	if !ok {
		return nil, ErrNotFound
	}
	upd.Apply(b)
	return copyBot(b), nil
}

func (s *MemoryStore) DeleteBot(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bots[id]; !ok {
		return false, nil
	}
	delete(s.bots, id)
	return true, nil
}
