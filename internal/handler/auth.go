package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/fixjam/internal/auth"
	"github.com/sakif/fixjam/internal/model"
	"github.com/sakif/fixjam/internal/service"
)

// Authenticator is the part of service.AuthService the handlers use.
type Authenticator interface {
	Register(ctx context.Context, in service.RegisterInput) (*model.NativeAccount, error)
	Login(ctx context.Context, username, password string) (*model.NativeAccount, error)
	CompleteTwitterLogin(ctx context.Context, tok *auth.TwitterAccessToken) (*model.TwitterAccount, error)
}

// TwitterLogin is the OAuth half of auth.TwitterProvider.
type TwitterLogin interface {
	AuthURL(state, verifier string) string
	Exchange(ctx context.Context, code, verifier string) (*auth.TwitterAccessToken, error)
}

// AuthHandler serves the login flows.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister         → create a native account and log it in
//   - HandleLogin            → check native credentials, set the native claim
//   - HandleLogout           → drop the session cookie
//   - HandleTwitterLogin     → start the PKCE flow, redirect to Twitter
//   - HandleTwitterCallback  → finish the flow, set the Twitter claim
//
// Logins ADD a claim to the existing session rather than replacing it, like
// separate session keys would. Two claims at once is exactly the situation
// the identity middleware's conflict policy resolves on the next request.
//
// Facebook has no routes here: its login happens in the browser SDK and
// arrives as a signed cookie.
type AuthHandler struct {
	auth     Authenticator
	sessions *auth.SessionService
	flows    *auth.FlowStore
	twitter  TwitterLogin // nil when Twitter login is not configured
	logger   *slog.Logger
}

func NewAuthHandler(
	authn Authenticator,
	sessions *auth.SessionService,
	flows *auth.FlowStore,
	twitter TwitterLogin,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		auth:     authn,
		sessions: sessions,
		flows:    flows,
		twitter:  twitter,
		logger:   logger,
	}
}

type registerRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HandleRegister creates a native account.
//
// HTTP: POST /auth/register
// REQUEST BODY: {"username": "rachel", "password": "...", "firstName": "Rachel"}
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	account, err := h.auth.Register(r.Context(), service.RegisterInput{
		Username:  req.Username,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.setClaim(w, r, func(c *auth.SessionClaims) {
		c.NativeAccountID = account.ID
		c.TwitterAccountID = ""
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

// HandleLogin checks a username and password.
//
// HTTP: POST /auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	account, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.logger.Info("native login refused", slog.String("username", req.Username))
		writeError(w, err)
		return
	}

	if err := h.setClaim(w, r, func(c *auth.SessionClaims) {
		c.NativeAccountID = account.ID
		c.TwitterAccountID = ""
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// HandleLogout clears the session cookie.
//
// HTTP: POST /auth/logout
//
// A Facebook login survives this: its cookie belongs to the Facebook SDK
// and is cleared by the browser-side logout.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.sessions.ClearSession(w)
	w.WriteHeader(http.StatusNoContent)
}

// HandleTwitterLogin redirects to Twitter's consent screen.
//
// HTTP: GET /auth/twitter/login
func (h *AuthHandler) HandleTwitterLogin(w http.ResponseWriter, r *http.Request) {
	if h.twitter == nil {
		http.NotFound(w, r)
		return
	}
	state, verifier, err := h.flows.Begin(w, r)
	if err != nil {
		h.logger.Error("starting twitter login", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	http.Redirect(w, r, h.twitter.AuthURL(state, verifier), http.StatusTemporaryRedirect)
}

// HandleTwitterCallback completes the Twitter login.
//
// HTTP: GET /auth/twitter/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Check state against the flow cookie (CSRF) and take the verifier
//  2. Exchange code + verifier for tokens and the user's profile
//  3. Store or refresh the TwitterAccount
//  4. Replace the native claim with the Twitter claim and go home
func (h *AuthHandler) HandleTwitterCallback(w http.ResponseWriter, r *http.Request) {
	if h.twitter == nil {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()

	verifier, err := h.flows.Complete(w, r, q.Get("state"))
	if err != nil {
		h.logger.Warn("twitter callback: bad state", slog.String("error", err.Error()))
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}

	if errParam := q.Get("error"); errParam != "" {
		h.logger.Info("twitter callback: user denied authorization", slog.String("error", errParam))
		http.Redirect(w, r, "/?auth=denied", http.StatusSeeOther)
		return
	}

	code := q.Get("code")
	if code == "" {
		http.Error(w, "missing OAuth code", http.StatusBadRequest)
		return
	}

	tok, err := h.twitter.Exchange(r.Context(), code, verifier)
	if err != nil {
		h.logger.Error("twitter callback: exchange failed", slog.String("error", err.Error()))
		http.Error(w, "authentication failed", http.StatusBadGateway)
		return
	}

	account, err := h.auth.CompleteTwitterLogin(r.Context(), tok)
	if err != nil {
		h.logger.Error("twitter callback: storing account failed", slog.String("error", err.Error()))
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	if err := h.setClaim(w, r, func(c *auth.SessionClaims) {
		c.TwitterAccountID = account.ID
		c.NativeAccountID = ""
	}); err != nil {
		h.logger.Error("twitter callback: writing session failed", slog.String("error", err.Error()))
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// setClaim rewrites the session cookie. A native or Twitter login replaces
// the other kind's claim, so the session names at most one of them.
func (h *AuthHandler) setClaim(w http.ResponseWriter, r *http.Request, set func(*auth.SessionClaims)) error {
	claims := h.sessions.ReadSession(r)
	set(&claims)
	return h.sessions.WriteSession(w, claims)
}
