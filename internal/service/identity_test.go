package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sakif/fixjam/internal/apperror"
	"github.com/sakif/fixjam/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type identityFixture struct {
	svc      *IdentityService
	store    *fakeStore
	geocoder *fakeGeocoder
	now      time.Time
}

func newIdentityFixture(t *testing.T) *identityFixture {
	t.Helper()
	store := newFakeStore()
	geocoder := newFakeGeocoder()
	locations := NewLocationService(store, geocoder, quietLogger())
	svc := NewIdentityService(store, store, locations, 24*time.Hour, quietLogger())

	f := &identityFixture{svc: svc, store: store, geocoder: geocoder, now: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}
	svc.now = func() time.Time { return f.now }
	return f
}

func fbProof(uid int64) model.Proofs {
	return model.Proofs{Facebook: &model.FacebookSession{UID: uid, Code: "code"}}
}

func (f *identityFixture) nativeAccount(t *testing.T, username, first, last string) *model.NativeAccount {
	t.Helper()
	a := &model.NativeAccount{Username: username, PasswordHash: "x", FirstName: first, LastName: last, Active: true}
	require.NoError(t, f.store.CreateNativeAccount(context.Background(), a))
	return a
}

func (f *identityFixture) twitterAccount(t *testing.T, screenName string) *model.TwitterAccount {
	t.Helper()
	a, err := f.store.UpsertTwitterAccount(context.Background(), screenName, "tok", "sec")
	require.NoError(t, err)
	return a
}

// =========================================================================
// RESOLVE
// =========================================================================

func TestResolve_NoProofsIsAnonymous(t *testing.T) {
	f := newIdentityFixture(t)

	ident, err := f.svc.Resolve(context.Background(), model.Proofs{})
	require.NoError(t, err)
	assert.Same(t, model.Anonymous, ident)
	assert.False(t, ident.IsAuthenticated())

	n, _ := f.store.CountIdentities(context.Background())
	assert.Equal(t, 0, n, "anonymous is never stored")
}

func TestResolve_FacebookIsIdempotent(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()

	first, err := f.svc.Resolve(ctx, fbProof(555))
	require.NoError(t, err)
	require.Equal(t, model.KindFacebook, first.Kind())
	assert.Equal(t, int64(555), first.Account.(*model.FacebookAccount).RemoteID)

	second, err := f.svc.Resolve(ctx, fbProof(555))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "555", f.svc.RemoteID(second))
}

func TestResolve_ConflictWritesNothing(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()
	tw := f.twitterAccount(t, "abc")

	_, err := f.svc.Resolve(ctx, model.Proofs{Facebook: &model.FacebookSession{UID: 555}, Twitter: tw})
	require.True(t, errors.Is(err, apperror.ErrIncompatibleIdentities), "got %v", err)

	n, _ := f.store.CountIdentities(ctx)
	assert.Equal(t, 0, n)
	assert.Empty(t, f.store.facebook, "no facebook account is created on conflict")

	// Dropping the twitter proof resolves to the facebook identity.
	ident, err := f.svc.Resolve(ctx, fbProof(555))
	require.NoError(t, err)
	again, err := f.svc.Resolve(ctx, fbProof(555))
	require.NoError(t, err)
	assert.Equal(t, ident.ID, again.ID)
}

func TestResolve_ThreeProofsConflict(t *testing.T) {
	f := newIdentityFixture(t)
	native := f.nativeAccount(t, "rachel", "", "")
	tw := f.twitterAccount(t, "rach")

	_, err := f.svc.Resolve(context.Background(), model.Proofs{
		Native:   native,
		Facebook: &model.FacebookSession{UID: 1},
		Twitter:  tw,
	})
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Contains(t, appErr.Message, "3 credential proofs")
}

func TestResolve_NativeAndTwitterAreDistinctIdentities(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()

	a, err := f.svc.Resolve(ctx, model.Proofs{Native: f.nativeAccount(t, "monica", "", "")})
	require.NoError(t, err)
	b, err := f.svc.Resolve(ctx, model.Proofs{Twitter: f.twitterAccount(t, "monica")})
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, model.KindNative, a.Kind())
	assert.Equal(t, model.KindTwitter, b.Kind())
}

func TestResolve_Banned(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()

	ident, err := f.svc.Resolve(ctx, fbProof(666))
	require.NoError(t, err)
	require.NoError(t, f.svc.SetBanned(ctx, ident.ID, true))

	for range 2 {
		banned, err := f.svc.Resolve(ctx, fbProof(666))
		require.True(t, errors.Is(err, apperror.ErrBanned), "got %v", err)
		require.NotNil(t, banned)
		assert.Equal(t, ident.ID, banned.ID)
		assert.False(t, errors.Is(err, apperror.ErrUnauthorized))
	}

	require.NoError(t, f.svc.SetBanned(ctx, ident.ID, false))
	_, err = f.svc.Resolve(ctx, fbProof(666))
	assert.NoError(t, err)
}

func TestResolve_StoreFailure(t *testing.T) {
	f := newIdentityFixture(t)
	f.store.identityErr = errors.New("disk full")

	_, err := f.svc.Resolve(context.Background(), fbProof(1))
	assert.ErrorContains(t, err, "disk full")
}

// =========================================================================
// DISPLAY NAME
// =========================================================================

func TestDisplayName_Native(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()

	tests := []struct {
		username, first, last string
		want                  string
	}{
		{"ross", "Ross", "Geller", "Ross Geller"},
		{"joey", "Joey", "", "Joey"},
		{"gunther", "", "", "gunther"},
	}
	for _, tt := range tests {
		ident, err := f.svc.Resolve(ctx, model.Proofs{Native: f.nativeAccount(t, tt.username, tt.first, tt.last)})
		require.NoError(t, err)
		name, err := f.svc.DisplayName(ctx, ident, Clients{})
		require.NoError(t, err)
		assert.Equal(t, tt.want, name)
	}
}

func TestDisplayName_FacebookCachesProfile(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()
	fb := &fakeFacebook{profile: &model.FacebookProfile{ID: "555", Name: "Ross Fan"}}

	ident, err := f.svc.Resolve(ctx, fbProof(555))
	require.NoError(t, err)

	name, err := f.svc.DisplayName(ctx, ident, Clients{Facebook: fb})
	require.NoError(t, err)
	assert.Equal(t, "Ross Fan", name)
	assert.Equal(t, 1, fb.calls)

	// A fresh request resolves the identity again and reads the cache.
	ident, err = f.svc.Resolve(ctx, fbProof(555))
	require.NoError(t, err)
	_, err = f.svc.DisplayName(ctx, ident, Clients{Facebook: fb})
	require.NoError(t, err)
	assert.Equal(t, 1, fb.calls, "fresh cache entries are not refetched")

	// After the TTL the profile is fetched again.
	f.now = f.now.Add(25 * time.Hour)
	fb.profile.Name = "Ross G. Fan"
	name, err = f.svc.DisplayName(ctx, ident, Clients{Facebook: fb})
	require.NoError(t, err)
	assert.Equal(t, "Ross G. Fan", name)
	assert.Equal(t, 2, fb.calls)
}

func TestDisplayNameOrUnknown_ProviderDown(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()

	ident, err := f.svc.Resolve(ctx, model.Proofs{Twitter: f.twitterAccount(t, "chandler")})
	require.NoError(t, err)

	tw := &fakeTwitter{err: errProviderDown}
	_, err = f.svc.DisplayName(ctx, ident, Clients{Twitter: tw})
	assert.True(t, errors.Is(err, apperror.ErrProviderFetch))

	assert.Equal(t, UnknownName, f.svc.DisplayNameOrUnknown(ctx, ident, Clients{Twitter: tw}))
}

func TestDisplayName_TwitterFallsBackToScreenName(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()

	ident, err := f.svc.Resolve(ctx, model.Proofs{Twitter: f.twitterAccount(t, "chandler")})
	require.NoError(t, err)

	tw := &fakeTwitter{profile: &model.TwitterProfile{ScreenName: "chandler"}}
	name, err := f.svc.DisplayName(ctx, ident, Clients{Twitter: tw})
	require.NoError(t, err)
	assert.Equal(t, "chandler", name)
}

func TestDisplayName_Anonymous(t *testing.T) {
	f := newIdentityFixture(t)
	_, err := f.svc.DisplayName(context.Background(), model.Anonymous, Clients{})
	assert.True(t, errors.Is(err, apperror.ErrUnauthorized))
}

func TestProfileImageURL(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()

	fbIdent, err := f.svc.Resolve(ctx, fbProof(555))
	require.NoError(t, err)
	url, err := f.svc.ProfileImageURL(ctx, fbIdent, Clients{})
	require.NoError(t, err)
	assert.Equal(t, "https://graph.facebook.com/555/picture?type=small", url)

	twIdent, err := f.svc.Resolve(ctx, model.Proofs{Twitter: f.twitterAccount(t, "chandler")})
	require.NoError(t, err)
	url, err = f.svc.ProfileImageURL(ctx, twIdent, Clients{Twitter: &fakeTwitter{profile: &model.TwitterProfile{ProfileImageURL: "https://img.example/c.png"}}})
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/c.png", url)

	nativeIdent, err := f.svc.Resolve(ctx, model.Proofs{Native: f.nativeAccount(t, "ross", "", "")})
	require.NoError(t, err)
	url, err = f.svc.ProfileImageURL(ctx, nativeIdent, Clients{})
	require.NoError(t, err)
	assert.Empty(t, url)
}

// =========================================================================
// LOCATION
// =========================================================================

func TestLocation_FacebookPlace(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()
	fb := &fakeFacebook{profile: &model.FacebookProfile{
		ID:       "555",
		Name:     "Ross Fan",
		Location: &model.FacebookPlace{ID: "108424279189115", Name: "New York, New York"},
	}}

	ident, err := f.svc.Resolve(ctx, fbProof(555))
	require.NoError(t, err)

	place, err := f.svc.Location(ctx, ident, Clients{Facebook: fb})
	require.NoError(t, err)
	require.NotNil(t, place)
	assert.Equal(t, "New York, New York", place.Name)
	assert.InDelta(t, 40.71427, place.Lat, 1e-9)

	stored, err := f.store.GetIdentity(ctx, ident.ID)
	require.NoError(t, err)
	assert.Equal(t, place, stored.Location)

	loc, err := f.store.FindLocationByFacebookPlace(ctx, "108424279189115")
	require.NoError(t, err)
	assert.Equal(t, "New York, New York", loc.Name)
}

func TestLocation_CachedOnIdentityForever(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()
	tw := &fakeTwitter{profile: &model.TwitterProfile{ScreenName: "chandler", Location: "Paris"}}

	ident, err := f.svc.Resolve(ctx, model.Proofs{Twitter: f.twitterAccount(t, "chandler")})
	require.NoError(t, err)

	first, err := f.svc.Location(ctx, ident, Clients{Twitter: tw})
	require.NoError(t, err)
	require.NotNil(t, first)

	// The user moves; the stored location does not follow.
	f.now = f.now.Add(30 * 24 * time.Hour)
	tw.profile.Location = "Oakland, CA"

	reloaded, err := f.store.GetIdentity(ctx, ident.ID)
	require.NoError(t, err)
	second, err := f.svc.Location(ctx, reloaded, Clients{Twitter: tw})
	require.NoError(t, err)
	assert.Equal(t, "Paris", second.Name)
	assert.Equal(t, 1, tw.calls)
	assert.Equal(t, 0, f.geocoder.calls["Oakland, CA"])
}

func TestLocation_NoneCases(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()

	native, err := f.svc.Resolve(ctx, model.Proofs{Native: f.nativeAccount(t, "ross", "", "")})
	require.NoError(t, err)
	place, err := f.svc.Location(ctx, native, Clients{})
	assert.NoError(t, err)
	assert.Nil(t, place, "native identities have no location")

	fbIdent, err := f.svc.Resolve(ctx, fbProof(555))
	require.NoError(t, err)
	place, err = f.svc.Location(ctx, fbIdent, Clients{Facebook: &fakeFacebook{profile: &model.FacebookProfile{ID: "555", Name: "No Place"}}})
	assert.NoError(t, err)
	assert.Nil(t, place, "profile without a place")

	twIdent, err := f.svc.Resolve(ctx, model.Proofs{Twitter: f.twitterAccount(t, "wanderer")})
	require.NoError(t, err)
	place, err = f.svc.Location(ctx, twIdent, Clients{Twitter: &fakeTwitter{profile: &model.TwitterProfile{Location: "Atlantis"}}})
	assert.NoError(t, err)
	assert.Nil(t, place, "geocoder has no result")

	down, err := f.svc.Resolve(ctx, model.Proofs{Twitter: f.twitterAccount(t, "offline")})
	require.NoError(t, err)
	place, err = f.svc.Location(ctx, down, Clients{Twitter: &fakeTwitter{err: errProviderDown}})
	assert.NoError(t, err)
	assert.Nil(t, place, "profile fetch failure")

	place, err = f.svc.Location(ctx, model.Anonymous, Clients{})
	assert.NoError(t, err)
	assert.Nil(t, place)
}

func TestAdminNotes(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()

	ident, err := f.svc.Resolve(ctx, fbProof(9))
	require.NoError(t, err)
	require.NoError(t, f.svc.SetAdminNotes(ctx, ident.ID, "asked for refund"))

	got, err := f.svc.Get(ctx, ident.ID)
	require.NoError(t, err)
	assert.Equal(t, "asked for refund", got.AdminNotes)

	err = f.svc.SetAdminNotes(ctx, "missing", "x")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

// =========================================================================
// PAGES AND STATUS UPDATES
// =========================================================================

func TestPages_CachedSeparatelyFromProfile(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()
	fb := &fakeFacebook{
		profile: &model.FacebookProfile{ID: "555", Name: "Ross Fan", Location: &model.FacebookPlace{ID: "108424279189115", Name: "New York, New York"}},
		pages:   []model.FacebookPage{{ID: "201", Name: "Central Perk", FanCount: 12}},
	}

	ident, err := f.svc.Resolve(ctx, fbProof(555))
	require.NoError(t, err)

	pages, err := f.svc.Pages(ctx, ident, Clients{Facebook: fb})
	require.NoError(t, err)
	assert.Equal(t, fb.pages, pages)
	assert.Equal(t, 1, fb.pageCalls)
	require.NotNil(t, fb.pagesFor)
	assert.Equal(t, "108424279189115", fb.pagesFor.Location.ID, "pages are derived from the profile")

	// A later request reads both fields from the stored cache.
	ident, err = f.svc.Resolve(ctx, fbProof(555))
	require.NoError(t, err)
	pages, err = f.svc.Pages(ctx, ident, Clients{Facebook: fb})
	require.NoError(t, err)
	assert.Len(t, pages, 1)
	assert.Equal(t, 1, fb.pageCalls)
	assert.Equal(t, 1, fb.calls)

	// Past the TTL the pages are fetched again.
	f.now = f.now.Add(25 * time.Hour)
	fb.pages = append(fb.pages, model.FacebookPage{ID: "202", Name: "Moondance Diner", FanCount: 3})
	pages, err = f.svc.Pages(ctx, ident, Clients{Facebook: fb})
	require.NoError(t, err)
	assert.Len(t, pages, 2)
	assert.Equal(t, 2, fb.pageCalls)
}

func TestPages_StaleCacheWithoutClient(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()
	fb := &fakeFacebook{
		profile: &model.FacebookProfile{ID: "555", Name: "Ross Fan"},
		pages:   []model.FacebookPage{{ID: "201", Name: "Central Perk", FanCount: 12}},
	}
	ident, err := f.svc.Resolve(ctx, fbProof(555))
	require.NoError(t, err)

	_, err = f.svc.Pages(ctx, ident, Clients{})
	assert.True(t, errors.Is(err, apperror.ErrProviderFetch), "nothing cached and no client")

	_, err = f.svc.Pages(ctx, ident, Clients{Facebook: fb})
	require.NoError(t, err)

	f.now = f.now.Add(48 * time.Hour)
	pages, err := f.svc.Pages(ctx, ident, Clients{})
	require.NoError(t, err)
	assert.Len(t, pages, 1, "stale pages are better than none")
}

func TestPages_ProviderFailure(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()
	ident, err := f.svc.Resolve(ctx, fbProof(555))
	require.NoError(t, err)

	fb := &fakeFacebook{profile: &model.FacebookProfile{ID: "555"}, pagesErr: errProviderDown}
	_, err = f.svc.Pages(ctx, ident, Clients{Facebook: fb})
	assert.True(t, errors.Is(err, apperror.ErrProviderFetch))
}

func TestPages_OtherKindsHaveNone(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()
	ident, err := f.svc.Resolve(ctx, model.Proofs{Twitter: f.twitterAccount(t, "chandler")})
	require.NoError(t, err)

	pages, err := f.svc.Pages(ctx, ident, Clients{})
	assert.NoError(t, err)
	assert.Nil(t, pages)

	pages, err = f.svc.Pages(ctx, model.Anonymous, Clients{})
	assert.NoError(t, err)
	assert.Nil(t, pages)
}

func TestSendStatusUpdate(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()
	ident, err := f.svc.Resolve(ctx, model.Proofs{Twitter: f.twitterAccount(t, "chandler")})
	require.NoError(t, err)
	tw := &fakeTwitter{}

	status, err := f.svc.SendStatusUpdate(ctx, ident, Clients{Twitter: tw}, "  fixed the sink at 5B ")
	require.NoError(t, err)
	assert.Equal(t, "status-1", status.ID)
	assert.Equal(t, []string{"fixed the sink at 5B"}, tw.posted)

	tests := []struct {
		name    string
		clients Clients
		text    string
		want    error
	}{
		{"empty", Clients{Twitter: tw}, "   ", apperror.ErrValidation},
		{"too long", Clients{Twitter: tw}, strings.Repeat("é", model.MaxStatusLength+1), apperror.ErrValidation},
		{"no client", Clients{}, "hello", apperror.ErrProviderFetch},
		{"provider down", Clients{Twitter: &fakeTwitter{postErr: errProviderDown}}, "hello", apperror.ErrProviderFetch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SendStatusUpdate(ctx, ident, tt.clients, tt.text)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
	assert.Len(t, tw.posted, 1)

	_, err = f.svc.SendStatusUpdate(ctx, ident, Clients{Twitter: tw}, strings.Repeat("é", model.MaxStatusLength))
	assert.NoError(t, err, "the limit counts characters, not bytes")
}

func TestSendStatusUpdate_NeedsTwitterLogin(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()
	ident, err := f.svc.Resolve(ctx, fbProof(555))
	require.NoError(t, err)

	_, err = f.svc.SendStatusUpdate(ctx, ident, Clients{Twitter: &fakeTwitter{}}, "hello")
	assert.True(t, errors.Is(err, apperror.ErrForbidden))

	_, err = f.svc.SendStatusUpdate(ctx, model.Anonymous, Clients{Twitter: &fakeTwitter{}}, "hello")
	assert.True(t, errors.Is(err, apperror.ErrForbidden))
}
