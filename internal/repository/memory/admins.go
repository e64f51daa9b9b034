package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Globator25/Lokaltreu-sub000/internal/errs"
	"github.com/Globator25/Lokaltreu-sub000/internal/model"
)

// Admins implements repository.AdminRepository.
type Admins struct {
	mu      sync.RWMutex
	byEmail map[string]model.Admin
}

// NewAdmins constructs an empty admin store.
func NewAdmins() *Admins { return &Admins{byEmail: make(map[string]model.Admin)} }

// Create implements repository.AdminRepository.
func (s *Admins) Create(_ context.Context, a *model.Admin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[a.Email]; ok {
		return errs.ErrAlreadyExists
	}
	c := *a
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	s.byEmail[a.Email] = c
	return nil
}

// GetByEmail implements repository.AdminRepository.
func (s *Admins) GetByEmail(_ context.Context, email string) (*model.Admin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byEmail[email]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &a, nil
}

// Sessions implements repository.SessionRepository.
type Sessions struct {
	mu     sync.Mutex
	byID   map[string]*model.AdminSession
	byHash map[string]string
}

// NewSessions constructs an empty session store.
func NewSessions() *Sessions {
	return &Sessions{byID: make(map[string]*model.AdminSession), byHash: make(map[string]string)}
}

// Create implements repository.SessionRepository.
func (s *Sessions) Create(_ context.Context, sess *model.AdminSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[sess.ID]; ok {
		return errs.ErrAlreadyExists
	}
	if _, ok := s.byHash[sess.RefreshTokenHash]; ok {
		return errs.ErrAlreadyExists
	}
	c := *sess
	s.byID[c.ID] = &c
	s.byHash[c.RefreshTokenHash] = c.ID
	return nil
}

// GetByHash implements repository.SessionRepository.
func (s *Sessions) GetByHash(_ context.Context, tokenHash string) (*model.AdminSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byHash[tokenHash]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *s.byID[id]
	return &c, nil
}

// Revoke implements repository.SessionRepository.
func (s *Sessions) Revoke(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if !ok || sess.RevokedAt != nil {
		return errs.ErrNotFound
	}
	t := at
	sess.RevokedAt = &t
	return nil
}
