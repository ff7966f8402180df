package auth

import (
	"context"
	"sync"

	"github.com/Wyydra/ya-client/internal/core/domain"
)

// Store keeps the access token for the lifetime of a sign-in. Nothing is
// written to disk.
type Store struct {
	mu    sync.RWMutex
	token string
}

func NewStore(token string) *Store {
	return &Store{token: token}
}

func (s *Store) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", domain.ErrAuth
	}
	return s.token, nil
}

func (s *Store) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != ""
}

func (s *Store) Set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func (s *Store) Clear() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}
