// Package service holds the business logic between the HTTP handlers and
// the stores and external APIs: login sessions, user data fetching and the
// report pipeline.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"

	"github.com/sakif/github-report/internal/apperror"
	"github.com/sakif/github-report/internal/auth"
	"github.com/sakif/github-report/internal/model"
)

// SessionStore persists login sessions. *session.Store implements it.
type SessionStore interface {
	Create(ctx context.Context, id model.Identity) (string, error)
	Get(ctx context.Context, sessionID string) (*model.Identity, error)
	Delete(ctx context.Context, sessionID string) error
}

// AuthService turns OAuth tokens into sessions and session cookies back
// into identities.
//
// The cookie carries a signed JWT whose subject is the session ID; the
// GitHub token itself only ever lives in the session store.
type AuthService struct {
	sessions SessionStore
	tokens   *auth.TokenService
	source   SourceFunc
	logger   *slog.Logger
}

func NewAuthService(sessions SessionStore, tokens *auth.TokenService, source SourceFunc, logger *slog.Logger) *AuthService {
	return &AuthService{
		sessions: sessions,
		tokens:   tokens,
		source:   source,
		logger:   logger,
	}
}

// AuthResult is what the OAuth callback needs to finish the login.
type AuthResult struct {
	Viewer *model.Viewer
	Cookie string
}

// Login resolves the GitHub account behind token, opens a session for it
// and returns the signed cookie value.
func (s *AuthService) Login(ctx context.Context, token *oauth2.Token) (*AuthResult, error) {
	if token == nil || token.AccessToken == "" {
		return nil, apperror.Unauthorized("GitHub did not return an access token")
	}

	viewer, err := s.source(ctx, model.Identity{Credential: token}).Viewer(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/auth: resolving GitHub user: %w",
			apperror.Upstream("Could not reach GitHub, please try again later.", err))
	}
	if viewer.Login == "" {
		return nil, apperror.Unauthorized("GitHub returned no username")
	}

	sessionID, err := s.sessions.Create(ctx, model.Identity{SubjectID: viewer.Login, Credential: token})
	if err != nil {
		return nil, fmt.Errorf("service/auth: creating session for %s: %w", viewer.Login, err)
	}

	cookie, err := s.tokens.Generate(sessionID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: signing session for %s: %w", viewer.Login, err)
	}

	s.logger.Info("user logged in", slog.String("login", viewer.Login))
	return &AuthResult{Viewer: viewer, Cookie: cookie}, nil
}

// Authenticate resolves a session cookie to the identity it belongs to.
// Any invalid, expired or unknown cookie yields an apperror.ErrUnauthorized.
func (s *AuthService) Authenticate(ctx context.Context, cookie string) (*model.Identity, error) {
	sessionID, err := s.tokens.Validate(cookie)
	if err != nil {
		return nil, apperror.Unauthorized("Invalid session ID.")
	}

	id, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			s.logger.Error("session lookup failed", slog.String("error", err.Error()))
		}
		return nil, apperror.Unauthorized("Invalid session ID.")
	}
	return id, nil
}

// Logout deletes the session behind cookie. Invalid cookies are ignored.
func (s *AuthService) Logout(ctx context.Context, cookie string) error {
	sessionID, err := s.tokens.Validate(cookie)
	if err != nil {
		return nil
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("service/auth: %w", err)
	}
	return nil
}

// CurrentUser returns the live GitHub profile of id.
func (s *AuthService) CurrentUser(ctx context.Context, id model.Identity) (*model.Viewer, error) {
	viewer, err := s.source(ctx, id).Viewer(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching user %s: %w",
			id.SubjectID, apperror.Upstream("Could not reach GitHub, please try again later.", err))
	}
	return viewer, nil
}
