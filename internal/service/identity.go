// Package service holds the business rules of fixjam.
//
// Services sit between HTTP handlers and storage:
//
//	handler / middleware → IdentityService → repository (SQLite)
//	                     ↘ LocationService → geo.Geocoder
//
// They never touch http.Request or cookies; those stay in the handler and
// middleware packages so the rules are testable with in-memory fakes.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sakif/fixjam/internal/apperror"
	"github.com/sakif/fixjam/internal/model"
	"github.com/sakif/fixjam/internal/repository"
)

// UnknownName is shown when a provider profile cannot be fetched.
const UnknownName = "unknown"

// FacebookClient reads the Graph data of the Facebook user behind the
// current request. It is bound to that request's login.
type FacebookClient interface {
	Me(ctx context.Context) (*model.FacebookProfile, error)
	Pages(ctx context.Context, profile *model.FacebookProfile) ([]model.FacebookPage, error)
}

// TwitterClient acts as a stored Twitter account.
type TwitterClient interface {
	Profile(ctx context.Context, account *model.TwitterAccount) (*model.TwitterProfile, error)
	PostStatus(ctx context.Context, account *model.TwitterAccount, text string) (*model.TwitterStatus, error)
}

// Clients carries the external providers one request may call. A nil field
// means that provider is not reachable for this request; cached data is then
// used as long as it exists.
type Clients struct {
	Facebook FacebookClient
	Twitter  TwitterClient
}

// Locator is the part of LocationService the identity rules depend on.
type Locator interface {
	ByName(ctx context.Context, name string) (*model.Location, error)
	ByProviderPlace(ctx context.Context, placeID, placeName string) (*model.Location, error)
}

// IdentityService resolves credential proofs to one canonical Identity and
// derives per-identity data (display name, location) from provider profiles.
type IdentityService struct {
	accounts   repository.AccountRepository
	identities repository.IdentityRepository
	locations  Locator
	profileTTL time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

func NewIdentityService(
	accounts repository.AccountRepository,
	identities repository.IdentityRepository,
	locations Locator,
	profileTTL time.Duration,
	logger *slog.Logger,
) *IdentityService {
	if profileTTL <= 0 {
		profileTTL = model.DefaultProfileTTL
	}
	return &IdentityService{
		accounts:   accounts,
		identities: identities,
		locations:  locations,
		profileTTL: profileTTL,
		now:        time.Now,
		logger:     logger,
	}
}

// Resolve maps the proofs of one request to an Identity.
//
//   - no proofs: model.Anonymous
//   - two or more: apperror.ErrIncompatibleIdentities, and nothing is written
//   - one: the Identity linked to that account, created on first use
//
// A banned identity is returned together with an error matching
// apperror.ErrBanned, so callers can tell "banned" from "not logged in".
func (s *IdentityService) Resolve(ctx context.Context, proofs model.Proofs) (*model.Identity, error) {
	switch n := proofs.Count(); {
	case n == 0:
		return model.Anonymous, nil
	case n > 1:
		return nil, apperror.IncompatibleIdentities(n)
	}

	var account model.Account
	switch {
	case proofs.Native != nil:
		account = proofs.Native
	case proofs.Twitter != nil:
		account = proofs.Twitter
	case proofs.Facebook != nil:
		fb, err := s.accounts.GetOrCreateFacebookAccount(ctx, proofs.Facebook.UID)
		if err != nil {
			return nil, fmt.Errorf("service/identity: facebook account %d: %w", proofs.Facebook.UID, err)
		}
		account = fb
	}

	ident, err := s.identities.GetOrCreateIdentity(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("service/identity: resolving %s account %s: %w", account.Kind(), account.AccountID(), err)
	}
	if ident.Banned {
		return ident, apperror.Banned(ident.ID)
	}
	return ident, nil
}

// RemoteID is the provider-side key of the linked account.
func (s *IdentityService) RemoteID(ident *model.Identity) string {
	if !ident.IsAuthenticated() {
		return ""
	}
	switch a := ident.Account.(type) {
	case *model.NativeAccount:
		return a.Username
	case *model.FacebookAccount:
		return strconv.FormatInt(a.RemoteID, 10)
	case *model.TwitterAccount:
		return a.ScreenName
	}
	return ""
}

// DisplayName is the human name of ident. Provider profile fetch failures
// come back wrapped in apperror.ErrProviderFetch.
func (s *IdentityService) DisplayName(ctx context.Context, ident *model.Identity, clients Clients) (string, error) {
	if !ident.IsAuthenticated() {
		return "", apperror.Unauthorized("anonymous identity has no name")
	}
	switch a := ident.Account.(type) {
	case *model.NativeAccount:
		full := strings.TrimSpace(a.FirstName + " " + a.LastName)
		if full == "" {
			return a.Username, nil
		}
		return full, nil
	case *model.FacebookAccount:
		p, err := s.facebookProfile(ctx, a, clients.Facebook)
		if err != nil {
			return "", err
		}
		return p.Name, nil
	case *model.TwitterAccount:
		p, err := s.twitterProfile(ctx, a, clients.Twitter)
		if err != nil {
			return "", err
		}
		if p.Name == "" {
			return a.ScreenName, nil
		}
		return p.Name, nil
	}
	return "", fmt.Errorf("service/identity: unknown account type %T", ident.Account)
}

// DisplayNameOrUnknown never fails; errors are logged and shown as "unknown".
func (s *IdentityService) DisplayNameOrUnknown(ctx context.Context, ident *model.Identity, clients Clients) string {
	name, err := s.DisplayName(ctx, ident, clients)
	if err != nil {
		s.logger.Warn("display name unavailable",
			slog.String("identityID", ident.ID),
			slog.String("error", err.Error()),
		)
		return UnknownName
	}
	return name
}

// ProfileImageURL returns a small avatar URL, or "" when the provider has none.
func (s *IdentityService) ProfileImageURL(ctx context.Context, ident *model.Identity, clients Clients) (string, error) {
	if !ident.IsAuthenticated() {
		return "", nil
	}
	switch a := ident.Account.(type) {
	case *model.FacebookAccount:
		return fmt.Sprintf("https://graph.facebook.com/%d/picture?type=small", a.RemoteID), nil
	case *model.TwitterAccount:
		p, err := s.twitterProfile(ctx, a, clients.Twitter)
		if err != nil {
			return "", err
		}
		return p.ProfileImageURL, nil
	}
	return "", nil
}

// Location returns where ident lives, deriving it once from the provider
// profile and keeping it on the identity for good.
//
// Provider fetch failures and geocoding misses are "no location" (nil, nil).
func (s *IdentityService) Location(ctx context.Context, ident *model.Identity, clients Clients) (*model.Place, error) {
	if !ident.IsAuthenticated() {
		return nil, nil
	}
	if ident.Location != nil {
		return ident.Location, nil
	}

	var (
		loc *model.Location
		err error
	)
	switch a := ident.Account.(type) {
	case *model.NativeAccount:
		return nil, nil
	case *model.FacebookAccount:
		p, ferr := s.facebookProfile(ctx, a, clients.Facebook)
		if ferr != nil {
			s.logProfileMiss(ident, ferr)
			return nil, nil
		}
		if p.Location == nil || p.Location.ID == "" || p.Location.Name == "" {
			return nil, nil
		}
		loc, err = s.locations.ByProviderPlace(ctx, p.Location.ID, p.Location.Name)
	case *model.TwitterAccount:
		p, ferr := s.twitterProfile(ctx, a, clients.Twitter)
		if ferr != nil {
			s.logProfileMiss(ident, ferr)
			return nil, nil
		}
		if strings.TrimSpace(p.Location) == "" {
			return nil, nil
		}
		loc, err = s.locations.ByName(ctx, p.Location)
	default:
		return nil, fmt.Errorf("service/identity: unknown account type %T", ident.Account)
	}
	if err != nil {
		return nil, fmt.Errorf("service/identity: locating identity %s: %w", ident.ID, err)
	}
	if loc == nil {
		return nil, nil
	}

	place := loc.Place()
	if err := s.identities.SaveIdentityLocation(ctx, ident.ID, place); err != nil {
		return nil, fmt.Errorf("service/identity: saving location of %s: %w", ident.ID, err)
	}
	ident.Location = place
	return place, nil
}

// Pages lists the Facebook pages ident is connected to. The list is cached
// on the account under its own field and refetched once it is older than the
// profile TTL. Identities of other kinds have no pages.
func (s *IdentityService) Pages(ctx context.Context, ident *model.Identity, clients Clients) ([]model.FacebookPage, error) {
	a, ok := ident.Account.(*model.FacebookAccount)
	if !ident.IsAuthenticated() || !ok {
		return nil, nil
	}

	var cached []model.FacebookPage
	found, fresh := s.cachedField(a.DataCache, model.PagesField, &cached)
	if fresh {
		return cached, nil
	}
	if clients.Facebook == nil {
		if found {
			return cached, nil
		}
		return nil, apperror.ProviderFetch("facebook", fmt.Errorf("no client for account %s", a.ID))
	}

	profile, err := s.facebookProfile(ctx, a, clients.Facebook)
	if err != nil {
		return nil, err
	}
	pages, err := clients.Facebook.Pages(ctx, profile)
	if err != nil {
		return nil, apperror.ProviderFetch("facebook", err)
	}
	s.storeFacebookCache(ctx, a, model.PagesField, pages)
	return pages, nil
}

// SendStatusUpdate posts text to Twitter as ident. Only Twitter identities
// can post.
func (s *IdentityService) SendStatusUpdate(ctx context.Context, ident *model.Identity, clients Clients, text string) (*model.TwitterStatus, error) {
	a, ok := ident.Account.(*model.TwitterAccount)
	if !ident.IsAuthenticated() || !ok {
		return nil, apperror.Forbidden("status updates need a twitter login")
	}
	text = strings.TrimSpace(text)
	switch n := utf8.RuneCountInString(text); {
	case n == 0:
		return nil, apperror.ValidationFailed("status", "must not be empty")
	case n > model.MaxStatusLength:
		return nil, apperror.ValidationFailed("status", fmt.Sprintf("must be at most %d characters", model.MaxStatusLength))
	}
	if clients.Twitter == nil {
		return nil, apperror.ProviderFetch("twitter", fmt.Errorf("no client for account %s", a.ID))
	}

	status, err := clients.Twitter.PostStatus(ctx, a, text)
	if err != nil {
		return nil, apperror.ProviderFetch("twitter", err)
	}
	s.logger.Info("status posted",
		slog.String("identityID", ident.ID),
		slog.String("statusID", status.ID),
	)
	return status, nil
}

func (s *IdentityService) logProfileMiss(ident *model.Identity, err error) {
	s.logger.Warn("provider profile unavailable",
		slog.String("identityID", ident.ID),
		slog.String("kind", string(ident.Kind())),
		slog.String("error", err.Error()),
	)
}

// =========================================================================
// PROFILE CACHE
// =========================================================================

// cachedField decodes the field entry of cache into dst. It reports whether
// an entry existed and whether it is still fresh.
func (s *IdentityService) cachedField(cache model.DataCache, field string, dst any) (found, fresh bool) {
	entry, ok := cache.Lookup(field)
	if !ok || len(entry.Value) == 0 {
		return false, false
	}
	if err := json.Unmarshal(entry.Value, dst); err != nil {
		return false, false
	}
	return true, !model.IsStale(entry, s.now(), s.profileTTL)
}

func (s *IdentityService) facebookProfile(ctx context.Context, a *model.FacebookAccount, client FacebookClient) (*model.FacebookProfile, error) {
	var cached model.FacebookProfile
	found, fresh := s.cachedField(a.DataCache, model.ProfileField, &cached)
	if fresh {
		return &cached, nil
	}
	if client == nil {
		if found {
			return &cached, nil
		}
		return nil, apperror.ProviderFetch("facebook", fmt.Errorf("no client for account %s", a.ID))
	}

	p, err := client.Me(ctx)
	if err != nil {
		return nil, apperror.ProviderFetch("facebook", err)
	}
	s.storeFacebookCache(ctx, a, model.ProfileField, p)
	return p, nil
}

// storeFacebookCache keeps value on a and persists the cache. A failed write
// only costs a refetch later, so it is logged and dropped.
func (s *IdentityService) storeFacebookCache(ctx context.Context, a *model.FacebookAccount, field string, value any) {
	cache, err := a.DataCache.Store(field, value, s.now())
	if err == nil {
		a.DataCache = cache
		err = s.accounts.UpdateFacebookDataCache(ctx, a.ID, cache)
	}
	if err != nil {
		s.logger.Warn("caching facebook data failed",
			slog.String("accountID", a.ID),
			slog.String("field", field),
			slog.String("error", err.Error()),
		)
	}
}

func (s *IdentityService) twitterProfile(ctx context.Context, a *model.TwitterAccount, client TwitterClient) (*model.TwitterProfile, error) {
	var cached model.TwitterProfile
	found, fresh := s.cachedField(a.DataCache, model.ProfileField, &cached)
	if fresh {
		return &cached, nil
	}
	if client == nil {
		if found {
			return &cached, nil
		}
		return nil, apperror.ProviderFetch("twitter", fmt.Errorf("no client for account %s", a.ID))
	}

	p, err := client.Profile(ctx, a)
	if err != nil {
		return nil, apperror.ProviderFetch("twitter", err)
	}

	cache, err := a.DataCache.Store(model.ProfileField, p, s.now())
	if err == nil {
		a.DataCache = cache
		err = s.accounts.UpdateTwitterDataCache(ctx, a.ID, cache)
	}
	if err != nil {
		s.logger.Warn("caching twitter profile failed",
			slog.String("accountID", a.ID),
			slog.String("error", err.Error()),
		)
	}
	return p, nil
}

// =========================================================================
// ADMIN
// =========================================================================

// Get loads a stored identity by id.
func (s *IdentityService) Get(ctx context.Context, id string) (*model.Identity, error) {
	ident, err := s.identities.GetIdentity(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/identity: getting %s: %w", id, err)
	}
	return ident, nil
}

// SetBanned bans or unbans an identity. It takes effect on the next request.
func (s *IdentityService) SetBanned(ctx context.Context, id string, banned bool) error {
	if err := s.identities.SetIdentityBanned(ctx, id, banned); err != nil {
		return fmt.Errorf("service/identity: setting banned=%t on %s: %w", banned, id, err)
	}
	s.logger.Info("identity ban updated", slog.String("identityID", id), slog.Bool("banned", banned))
	return nil
}

func (s *IdentityService) SetAdminNotes(ctx context.Context, id, notes string) error {
	if err := s.identities.SetIdentityAdminNotes(ctx, id, notes); err != nil {
		return fmt.Errorf("service/identity: saving notes on %s: %w", id, err)
	}
	return nil
}
