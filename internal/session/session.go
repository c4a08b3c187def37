// Package session maps opaque session IDs to the identity and GitHub
// credential of a logged-in user. Sessions live in the shared store under
// session:{id} so every instance sees them.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/sakif/github-report/internal/apperror"
	"github.com/sakif/github-report/internal/model"
	"github.com/sakif/github-report/internal/repository"
)

const keyPrefix = "session:"

// record is the stored form of a session.
type record struct {
	Login     string        `json:"login"`
	Token     *oauth2.Token `json:"token"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Store creates, resolves and deletes sessions.
type Store struct {
	kv  repository.KVStore
	ttl time.Duration
}

// NewStore creates a session store whose sessions expire after ttl.
func NewStore(kv repository.KVStore, ttl time.Duration) *Store {
	return &Store{kv: kv, ttl: ttl}
}

// Create stores id and returns a new random session ID.
func (s *Store) Create(ctx context.Context, id model.Identity) (string, error) {
	if id.SubjectID == "" || id.Credential == nil {
		return "", apperror.ValidationFailed("identity", "identity needs a login and a credential")
	}

	raw, err := json.Marshal(record{
		Login:     id.SubjectID,
		Token:     id.Credential,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("session: encoding: %w", err)
	}

	sessionID := uuid.NewString()
	if err := s.kv.Set(ctx, keyPrefix+sessionID, raw, s.ttl); err != nil {
		return "", fmt.Errorf("session: saving: %w", err)
	}
	return sessionID, nil
}

// Get resolves sessionID. An unknown, expired or malformed ID returns an
// error wrapping apperror.ErrNotFound.
func (s *Store) Get(ctx context.Context, sessionID string) (*model.Identity, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, apperror.NotFound("session", sessionID)
	}

	raw, err := s.kv.Get(ctx, keyPrefix+sessionID)
	if err != nil {
		return nil, fmt.Errorf("session: loading %s: %w", sessionID, err)
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("session: decoding %s: %w", sessionID, err)
	}
	if rec.Login == "" || rec.Token == nil {
		return nil, apperror.NotFound("session", sessionID)
	}

	return &model.Identity{SubjectID: rec.Login, Credential: rec.Token}, nil
}

// Delete removes sessionID. Deleting an unknown session is not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil
	}
	if err := s.kv.Delete(ctx, keyPrefix+sessionID); err != nil {
		return fmt.Errorf("session: deleting %s: %w", sessionID, err)
	}
	return nil
}
