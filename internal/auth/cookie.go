package auth

import (
	"net/http"
)

// SessionCookieName is the cookie that carries the session JWT.
const SessionCookieName = "session"

// ReadSession returns the claims of the request's session cookie.
//
// A missing, expired or forged cookie yields empty claims: to the identity
// middleware that is simply a request without native or Twitter proofs.
func (s *SessionService) ReadSession(r *http.Request) SessionClaims {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return SessionClaims{}
	}
	c, err := s.Parse(cookie.Value)
	if err != nil {
		return SessionClaims{}
	}
	return c
}

// WriteSession issues c into the session cookie. Empty claims clear it.
//
// COOKIE FLAGS:
// HttpOnly keeps the token away from page scripts. SameSite=Lax still sends
// it on the top-level redirect back from the Twitter consent screen.
func (s *SessionService) WriteSession(w http.ResponseWriter, c SessionClaims) error {
	if c.Empty() {
		s.ClearSession(w)
		return nil
	}
	token, err := s.Issue(c)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// ClearSession expires the session cookie.
func (s *SessionService) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
