package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/fixjam/internal/apperror"
	"github.com/sakif/fixjam/internal/auth"
	"github.com/sakif/fixjam/internal/model"
	"github.com/sakif/fixjam/internal/service"
)

// StatusBanned is the application status for a banned identity. It sits
// outside the IANA range on purpose so clients cannot mistake it for a
// generic 4xx.
const StatusBanned = 603

// BannedBody is the whole response body sent with StatusBanned.
const BannedBody = "b&"

// SessionStore reads and rewrites the session cookie.
type SessionStore interface {
	ReadSession(r *http.Request) auth.SessionClaims
	WriteSession(w http.ResponseWriter, c auth.SessionClaims) error
}

// FacebookVerifier extracts a verified Facebook login from a request.
type FacebookVerifier interface {
	SessionFromRequest(r *http.Request) (*model.FacebookSession, error)
}

// ProofLoader turns session claims plus a Facebook login into proofs.
type ProofLoader interface {
	Proofs(ctx context.Context, claims auth.SessionClaims, fb *model.FacebookSession) (model.Proofs, error)
}

// Resolver maps proofs to an Identity.
type Resolver interface {
	Resolve(ctx context.Context, proofs model.Proofs) (*model.Identity, error)
}

// IdentityDeps wires the identity middleware. Facebook, FacebookClient and
// Twitter may be nil when that provider is not configured.
type IdentityDeps struct {
	Sessions       SessionStore
	Facebook       FacebookVerifier
	FacebookClient func(*model.FacebookSession) service.FacebookClient
	Twitter        service.TwitterClient
	Proofs         ProofLoader
	Resolver       Resolver
	Logger         *slog.Logger
}

type contextKey string

const (
	identityKey contextKey = "identity"
	clientsKey  contextKey = "clients"
)

// ResolveIdentity attaches the request's Identity and provider Clients to
// the context of every request.
//
// CONFLICT POLICY:
// A browser can carry more than one login (a Facebook cookie plus an old
// Twitter session, say). Facebook wins: its cookie is owned by the Facebook
// SDK and cannot be cleared from here, so our whole session is dropped.
// Without Facebook the Twitter login wins and the native claim is dropped.
// The rewritten session cookie is sent back and resolution runs once more;
// a second conflict is a bug and answers 500.
//
// A banned identity gets StatusBanned with body BannedBody and the handler
// chain stops.
func ResolveIdentity(deps IdentityDeps) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			claims := deps.Sessions.ReadSession(r)

			var fb *model.FacebookSession
			if deps.Facebook != nil {
				var err error
				fb, err = deps.Facebook.SessionFromRequest(r)
				if err != nil {
					deps.Logger.Debug("ignoring facebook cookie", slog.String("error", err.Error()))
					fb = nil
				}
			}

			ident, err := resolve(ctx, deps, claims, fb)
			if errors.Is(err, apperror.ErrIncompatibleIdentities) {
				if fb != nil {
					claims = auth.SessionClaims{}
				} else {
					claims.NativeAccountID = ""
				}
				if werr := deps.Sessions.WriteSession(w, claims); werr != nil {
					deps.Logger.Error("rewriting session", slog.String("error", werr.Error()))
					internalError(w)
					return
				}
				deps.Logger.Info("conflicting logins cleared", slog.Bool("facebook", fb != nil))

				ident, err = resolve(ctx, deps, claims, fb)
				if errors.Is(err, apperror.ErrIncompatibleIdentities) {
					deps.Logger.Error("identity conflict persisted after clearing session")
					internalError(w)
					return
				}
			}

			switch {
			case errors.Is(err, apperror.ErrBanned):
				deps.Logger.Info("banned identity refused", slog.String("identityID", ident.ID))
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.WriteHeader(StatusBanned)
				w.Write([]byte(BannedBody))
				return
			case err != nil:
				deps.Logger.Error("resolving identity", slog.String("error", err.Error()))
				internalError(w)
				return
			}

			clients := service.Clients{Twitter: deps.Twitter}
			if fb != nil && deps.FacebookClient != nil {
				clients.Facebook = deps.FacebookClient(fb)
			}

			if sink, ok := ctx.Value(sinkKey).(*identitySink); ok {
				sink.ident = ident
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, ident, clients)))
		})
	}
}

func resolve(ctx context.Context, deps IdentityDeps, claims auth.SessionClaims, fb *model.FacebookSession) (*model.Identity, error) {
	proofs, err := deps.Proofs.Proofs(ctx, claims, fb)
	if err != nil {
		return nil, err
	}
	return deps.Resolver.Resolve(ctx, proofs)
}

// RequireIdentity answers 401 to anonymous requests.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IdentityFromContext(r.Context()).IsAuthenticated() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"unauthorized","message":"login required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithIdentity returns a context carrying ident and clients.
func WithIdentity(ctx context.Context, ident *model.Identity, clients service.Clients) context.Context {
	ctx = context.WithValue(ctx, identityKey, ident)
	return context.WithValue(ctx, clientsKey, clients)
}

// IdentityFromContext returns the resolved Identity, or model.Anonymous when
// the middleware did not run.
func IdentityFromContext(ctx context.Context) *model.Identity {
	if ident, ok := ctx.Value(identityKey).(*model.Identity); ok && ident != nil {
		return ident
	}
	return model.Anonymous
}

// ClientsFromContext returns the provider clients bound to this request.
func ClientsFromContext(ctx context.Context) service.Clients {
	clients, _ := ctx.Value(clientsKey).(service.Clients)
	return clients
}

func internalError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	w.Write([]byte(`{"error":"internal_error","message":"An internal error occurred"}`))
}
