// Package handler contains the HTTP handlers of the report service.
//
// Handlers are the glue between HTTP and the service layer: they parse the
// request, call a service and write the response. Business rules live in
// internal/service.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/xid"
	"golang.org/x/oauth2"

	"github.com/sakif/github-report/internal/auth"
	"github.com/sakif/github-report/internal/model"
	"github.com/sakif/github-report/internal/service"
)

const stateCookie = "oauth_state"

// OAuthProvider performs the GitHub authorization code flow.
// *auth.GitHubProvider implements it.
type OAuthProvider interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

// Accounts is the session side of login. *service.AuthService implements it.
type Accounts interface {
	Login(ctx context.Context, token *oauth2.Token) (*service.AuthResult, error)
	Logout(ctx context.Context, cookie string) error
	CurrentUser(ctx context.Context, id model.Identity) (*model.Viewer, error)
}

// AuthHandler manages the GitHub OAuth login flow and sessions.
//
// HANDLER RESPONSIBILITIES:
//   - HandleGitHubLogin    → redirect the browser to GitHub's authorization page
//   - HandleGitHubCallback → exchange the code, open a session, set the cookie
//   - HandleLogout         → delete the session and clear the cookie
//   - HandleUser           → return the logged-in user's GitHub profile
type AuthHandler struct {
	github      OAuthProvider
	accounts    Accounts
	frontendURL string
	sessionTTL  time.Duration
	secure      bool
	logger      *slog.Logger
}

// NewAuthHandler creates an AuthHandler. After login the browser is sent to
// frontendURL. Cookies are marked Secure when secure is set.
func NewAuthHandler(
	github OAuthProvider,
	accounts Accounts,
	frontendURL string,
	sessionTTL time.Duration,
	secure bool,
	logger *slog.Logger,
) *AuthHandler {
	if frontendURL == "" {
		frontendURL = "/"
	}
	return &AuthHandler{
		github:      github,
		accounts:    accounts,
		frontendURL: frontendURL,
		sessionTTL:  sessionTTL,
		secure:      secure,
		logger:      logger,
	}
}

// HandleGitHubLogin redirects the user to GitHub's authorization page.
//
// HTTP: GET /auth/github/login
//
// The random state is kept in a short-lived HttpOnly cookie and checked on
// the callback, which proves the callback belongs to a login this server
// started.
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback completes the OAuth login flow.
//
// HTTP: GET /auth/github/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check)
//  2. Exchange the code for a GitHub token
//  3. Open a session for the GitHub user behind the token
//  4. Set the signed session cookie and redirect to the frontend
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	// --- Step 1: Validate CSRF state ---
	state, err := r.Cookie(stateCookie)
	if err != nil || state.Value == "" {
		h.logger.Warn("auth callback: missing state cookie")
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}
	if r.URL.Query().Get("state") != state.Value {
		h.logger.Warn("auth callback: state mismatch")
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}

	// Single use.
	http.SetCookie(w, &http.Cookie{
		Name:   stateCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization", slog.String("error", errParam))
		http.Redirect(w, r, h.frontendURL+"?auth=denied", http.StatusSeeOther)
		return
	}

	// --- Step 2: Exchange code for a token ---
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing OAuth code", http.StatusBadRequest)
		return
	}

	token, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("auth callback: GitHub exchange failed", slog.String("error", err.Error()))
		http.Error(w, "authentication failed", http.StatusBadGateway)
		return
	}

	// --- Step 3: Open a session ---
	res, err := h.accounts.Login(r.Context(), token)
	if err != nil {
		h.logger.Error("auth callback: login failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	// --- Step 4: Session cookie ---
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    res.Cookie,
		Path:     "/",
		MaxAge:   int(h.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.frontendURL, http.StatusSeeOther)
}

// HandleLogout deletes the session and clears the cookie.
//
// HTTP: POST /auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(auth.CookieName); err == nil && c.Value != "" {
		if err := h.accounts.Logout(r.Context(), c.Value); err != nil {
			h.logger.Error("logout: deleting session failed", slog.String("error", err.Error()))
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// HandleUser returns the logged-in user's GitHub profile.
//
// HTTP: GET /api/user
// Auth: Required
func (h *AuthHandler) HandleUser(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "Invalid session ID."})
		return
	}

	viewer, err := h.accounts.CurrentUser(r.Context(), id)
	if err != nil {
		h.logger.Error("fetching current user failed",
			slog.String("login", id.SubjectID),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, viewer)
}
