package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/sakif/fixjam/internal/apperror"
	"github.com/sakif/fixjam/internal/auth"
	"github.com/sakif/fixjam/internal/model"
	"github.com/sakif/fixjam/internal/repository"
)

// AuthService handles native credentials and provider logins, and turns a
// request's session claims into credential proofs.
//
//	AuthHandler (HTTP) → AuthService (rules) → AccountRepository (DB)
//	                   ↘ PasswordService (bcrypt)
//
// It does NOT set cookies; that is the handler's job.
type AuthService struct {
	accounts  repository.AccountRepository
	passwords *auth.PasswordService
	now       func() time.Time
	logger    *slog.Logger
}

func NewAuthService(accounts repository.AccountRepository, passwords *auth.PasswordService, logger *slog.Logger) *AuthService {
	return &AuthService{accounts: accounts, passwords: passwords, now: time.Now, logger: logger}
}

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.@+-]{3,150}$`)

// RegisterInput is a new native account request.
type RegisterInput struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Register creates an active native account.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*model.NativeAccount, error) {
	if !usernamePattern.MatchString(in.Username) {
		return nil, apperror.ValidationFailed("username", "3-150 letters, digits or @.+-_")
	}
	if len(in.Password) < 8 {
		return nil, apperror.ValidationFailed("password", "must be at least 8 characters")
	}
	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, apperror.ValidationFailed("password", err.Error())
	}

	account := &model.NativeAccount{
		Username:     in.Username,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Active:       true,
	}
	if err := s.accounts.CreateNativeAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("service/auth: registering %q: %w", in.Username, err)
	}
	s.logger.Info("native account registered",
		slog.String("accountID", account.ID),
		slog.String("username", account.Username),
	)
	return account, nil
}

// Login checks native credentials. Unknown users, wrong passwords and
// inactive accounts all come back as the same apperror.ErrUnauthorized.
func (s *AuthService) Login(ctx context.Context, username, password string) (*model.NativeAccount, error) {
	account, err := s.accounts.GetNativeAccountByUsername(ctx, username)
	if errors.Is(err, apperror.ErrNotFound) {
		s.passwords.VerifyNothing(password)
		return nil, apperror.Unauthorized("invalid username or password")
	}
	if err != nil {
		return nil, fmt.Errorf("service/auth: loading %q: %w", username, err)
	}

	if err := s.passwords.Verify(account.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrInvalidPassword) {
			return nil, apperror.Unauthorized("invalid username or password")
		}
		return nil, fmt.Errorf("service/auth: verifying %q: %w", username, err)
	}
	if !account.Active {
		return nil, apperror.Unauthorized("invalid username or password")
	}
	return account, nil
}

// CompleteTwitterLogin stores (or refreshes) the Twitter account behind a
// finished OAuth exchange. The profile that came with the exchange seeds the
// account's profile cache.
func (s *AuthService) CompleteTwitterLogin(ctx context.Context, tok *auth.TwitterAccessToken) (*model.TwitterAccount, error) {
	if tok == nil || tok.ScreenName == "" {
		return nil, fmt.Errorf("service/auth: twitter login without screen name")
	}
	account, err := s.accounts.UpsertTwitterAccount(ctx, tok.ScreenName, tok.Token, tok.Secret)
	if err != nil {
		return nil, fmt.Errorf("service/auth: storing twitter account %q: %w", tok.ScreenName, err)
	}

	if tok.Profile != nil {
		cache, err := account.DataCache.Store(model.ProfileField, tok.Profile, s.now())
		if err == nil {
			account.DataCache = cache
			err = s.accounts.UpdateTwitterDataCache(ctx, account.ID, cache)
		}
		if err != nil {
			s.logger.Warn("seeding twitter profile cache failed",
				slog.String("accountID", account.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Info("twitter login completed",
		slog.String("accountID", account.ID),
		slog.String("screenName", account.ScreenName),
	)
	return account, nil
}

// Proofs turns session claims and a verified Facebook login into the proof
// set of one request.
//
// A claim whose account no longer exists, or a native account that was
// deactivated, is not a proof: the request is treated as if the claim were
// absent.
func (s *AuthService) Proofs(ctx context.Context, claims auth.SessionClaims, fb *model.FacebookSession) (model.Proofs, error) {
	proofs := model.Proofs{Facebook: fb}

	if claims.NativeAccountID != "" {
		a, err := s.accounts.GetNativeAccount(ctx, claims.NativeAccountID)
		switch {
		case err == nil && a.Active:
			proofs.Native = a
		case err == nil, errors.Is(err, apperror.ErrNotFound):
		default:
			return model.Proofs{}, fmt.Errorf("service/auth: loading native account %s: %w", claims.NativeAccountID, err)
		}
	}

	if claims.TwitterAccountID != "" {
		a, err := s.accounts.GetTwitterAccount(ctx, claims.TwitterAccountID)
		switch {
		case err == nil:
			proofs.Twitter = a
		case errors.Is(err, apperror.ErrNotFound):
		default:
			return model.Proofs{}, fmt.Errorf("service/auth: loading twitter account %s: %w", claims.TwitterAccountID, err)
		}
	}
	return proofs, nil
}
