package auth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/rs/xid"
	"golang.org/x/oauth2"
)

const (
	flowSessionName = "fixjam_oauth"
	flowStateKey    = "state"
	flowVerifierKey = "verifier"
	flowMaxAge      = 10 * 60
)

// ErrFlowMismatch means a callback's state does not match the one issued.
var ErrFlowMismatch = errors.New("auth: oauth state mismatch")

// FlowStore keeps the OAuth state and PKCE verifier between the login
// redirect and the callback, in a signed and encrypted cookie.
//
// STATE PARAMETER:
// The callback must echo the state we issued. Comparing it with the cookie
// stops a third party from completing a login into the victim's browser.
type FlowStore struct {
	store *sessions.CookieStore
}

// NewFlowStore needs a 32- or 64-byte hash key; the same secret is also used
// (truncated) as the AES key so the verifier is not readable client-side.
func NewFlowStore(secret string, secure bool) (*FlowStore, error) {
	if len(secret) < 32 {
		return nil, errors.New("auth: flow secret must be at least 32 characters")
	}
	store := sessions.NewCookieStore([]byte(secret), []byte(secret[:32]))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   flowMaxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &FlowStore{store: store}, nil
}

// Begin starts a flow and returns the state and PKCE verifier to use.
func (f *FlowStore) Begin(w http.ResponseWriter, r *http.Request) (state, verifier string, err error) {
	sess, _ := f.store.Get(r, flowSessionName) // a stale cookie is replaced
	state = xid.New().String()
	verifier = oauth2.GenerateVerifier()
	sess.Values[flowStateKey] = state
	sess.Values[flowVerifierKey] = verifier
	if err := sess.Save(r, w); err != nil {
		return "", "", fmt.Errorf("auth: saving oauth flow: %w", err)
	}
	return state, verifier, nil
}

// Complete checks state against the stored flow, ends the flow and returns
// its verifier. A flow can be completed once.
func (f *FlowStore) Complete(w http.ResponseWriter, r *http.Request, state string) (string, error) {
	sess, err := f.store.Get(r, flowSessionName)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFlowMismatch, err)
	}
	want, _ := sess.Values[flowStateKey].(string)
	verifier, _ := sess.Values[flowVerifierKey].(string)

	sess.Options.MaxAge = -1
	if err := sess.Save(r, w); err != nil {
		return "", fmt.Errorf("auth: ending oauth flow: %w", err)
	}

	if want == "" || state != want || verifier == "" {
		return "", ErrFlowMismatch
	}
	return verifier, nil
}
