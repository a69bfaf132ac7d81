package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/sakif/fixjam/internal/apperror"
	"github.com/sakif/fixjam/internal/geo"
	"github.com/sakif/fixjam/internal/model"
	"github.com/sakif/fixjam/internal/repository"
)

// =========================================================================
// FAKE STORE
// =========================================================================

// fakeStore is an in-memory implementation of the account, identity and
// location repositories. Fakes (not a mock framework) keep the tests easy to
// read: you can see exactly what the store does.
type fakeStore struct {
	mu sync.Mutex

	nextID     int
	native     map[string]*model.NativeAccount
	facebook   map[string]*model.FacebookAccount
	twitter    map[string]*model.TwitterAccount
	identities map[string]*model.Identity
	identityOf map[string]string // account id → identity id
	locations  []*model.Location

	// set to a non-nil error to simulate a database failure
	identityErr error
}

var (
	_ repository.AccountRepository  = (*fakeStore)(nil)
	_ repository.IdentityRepository = (*fakeStore)(nil)
	_ repository.LocationRepository = (*fakeStore)(nil)
)

func newFakeStore() *fakeStore {
	return &fakeStore{
		native:     make(map[string]*model.NativeAccount),
		facebook:   make(map[string]*model.FacebookAccount),
		twitter:    make(map[string]*model.TwitterAccount),
		identities: make(map[string]*model.Identity),
		identityOf: make(map[string]string),
	}
}

func (f *fakeStore) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeStore) CreateNativeAccount(_ context.Context, a *model.NativeAccount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.native {
		if existing.Username == a.Username {
			return apperror.Conflict("native account", a.Username)
		}
	}
	a.ID = f.id("nat")
	copied := *a
	f.native[a.ID] = &copied
	return nil
}

func (f *fakeStore) GetNativeAccount(_ context.Context, id string) (*model.NativeAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.native[id]
	if !ok {
		return nil, apperror.NotFound("native account", id)
	}
	copied := *a
	return &copied, nil
}

func (f *fakeStore) GetNativeAccountByUsername(_ context.Context, username string) (*model.NativeAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.native {
		if a.Username == username {
			copied := *a
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("native account", username)
}

func (f *fakeStore) GetOrCreateFacebookAccount(_ context.Context, remoteID int64) (*model.FacebookAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.facebook {
		if a.RemoteID == remoteID {
			copied := *a
			return &copied, nil
		}
	}
	a := &model.FacebookAccount{ID: f.id("fb"), RemoteID: remoteID}
	f.facebook[a.ID] = a
	copied := *a
	return &copied, nil
}

func (f *fakeStore) UpdateFacebookDataCache(_ context.Context, id string, c model.DataCache) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.facebook[id]
	if !ok {
		return apperror.NotFound("facebook account", id)
	}
	a.DataCache = c
	return nil
}

func (f *fakeStore) UpsertTwitterAccount(_ context.Context, screenName, token, secret string) (*model.TwitterAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.twitter {
		if a.ScreenName == screenName {
			a.OAuthToken, a.OAuthSecret = token, secret
			copied := *a
			return &copied, nil
		}
	}
	a := &model.TwitterAccount{ID: f.id("twt"), ScreenName: screenName, OAuthToken: token, OAuthSecret: secret}
	f.twitter[a.ID] = a
	copied := *a
	return &copied, nil
}

func (f *fakeStore) GetTwitterAccount(_ context.Context, id string) (*model.TwitterAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.twitter[id]
	if !ok {
		return nil, apperror.NotFound("twitter account", id)
	}
	copied := *a
	return &copied, nil
}

func (f *fakeStore) UpdateTwitterDataCache(_ context.Context, id string, c model.DataCache) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.twitter[id]
	if !ok {
		return apperror.NotFound("twitter account", id)
	}
	a.DataCache = c
	return nil
}

func (f *fakeStore) GetOrCreateIdentity(_ context.Context, account model.Account) (*model.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.identityErr != nil {
		return nil, f.identityErr
	}
	key := string(account.Kind()) + ":" + account.AccountID()
	if id, ok := f.identityOf[key]; ok {
		copied := *f.identities[id]
		copied.Account = account
		return &copied, nil
	}
	ident := &model.Identity{ID: f.id("ident"), Account: account}
	f.identities[ident.ID] = ident
	f.identityOf[key] = ident.ID
	copied := *ident
	return &copied, nil
}

func (f *fakeStore) GetIdentity(_ context.Context, id string) (*model.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ident, ok := f.identities[id]
	if !ok {
		return nil, apperror.NotFound("identity", id)
	}
	copied := *ident
	return &copied, nil
}

func (f *fakeStore) SaveIdentityLocation(_ context.Context, id string, place *model.Place) error {
	return f.updateIdentity(id, func(i *model.Identity) { i.Location = place })
}

func (f *fakeStore) SetIdentityBanned(_ context.Context, id string, banned bool) error {
	return f.updateIdentity(id, func(i *model.Identity) { i.Banned = banned })
}

func (f *fakeStore) SetIdentityAdminNotes(_ context.Context, id, notes string) error {
	return f.updateIdentity(id, func(i *model.Identity) { i.AdminNotes = notes })
}

func (f *fakeStore) updateIdentity(id string, fn func(*model.Identity)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ident, ok := f.identities[id]
	if !ok {
		return apperror.NotFound("identity", id)
	}
	fn(ident)
	return nil
}

func (f *fakeStore) CountIdentities(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.identities), nil
}

func (f *fakeStore) FindLocationByName(_ context.Context, name string) (*model.Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.locations {
		if l.Name == name {
			copied := *l
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("location", name)
}

func (f *fakeStore) FindLocationByFacebookPlace(_ context.Context, placeID string) (*model.Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.locations {
		if l.FacebookPlaceID != nil && *l.FacebookPlaceID == placeID {
			copied := *l
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("location", placeID)
}

func (f *fakeStore) CreateLocation(_ context.Context, l *model.Location) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l.ID = f.id("loc")
	copied := *l
	f.locations = append(f.locations, &copied)
	return nil
}

func (f *fakeStore) AttachFacebookPlace(_ context.Context, locationID, placeID string) (*model.Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.locations {
		if l.FacebookPlaceID != nil && *l.FacebookPlaceID == placeID {
			copied := *l
			return &copied, nil
		}
	}
	for _, l := range f.locations {
		if l.ID == locationID && l.FacebookPlaceID == nil {
			pid := placeID
			l.FacebookPlaceID = &pid
			copied := *l
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("location", locationID)
}

func (f *fakeStore) CountLocations(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.locations), nil
}

// =========================================================================
// FAKE PROVIDERS
// =========================================================================

type fakeGeocoder struct {
	mu     sync.Mutex
	calls  map[string]int
	points map[string]geo.Point
	err    error
}

func newFakeGeocoder() *fakeGeocoder {
	return &fakeGeocoder{
		calls: make(map[string]int),
		points: map[string]geo.Point{
			"Oakland, CA":        {Name: "Oakland", Lat: 37.80437, Long: -122.2708},
			"New York, New York": {Name: "New York City", Lat: 40.71427, Long: -74.00597},
			"Paris":              {Name: "Paris", Lat: 48.85341, Long: 2.3488},
		},
	}
}

func (g *fakeGeocoder) Geocode(ctx context.Context, name string) (*geo.Point, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[name]++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g.err != nil {
		return nil, g.err
	}
	p, ok := g.points[name]
	if !ok {
		return nil, geo.ErrNoResult
	}
	return &p, nil
}

func (g *fakeGeocoder) total() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		n += c
	}
	return n
}

type fakeFacebook struct {
	profile *model.FacebookProfile
	err     error
	calls   int

	pages      []model.FacebookPage
	pagesErr   error
	pageCalls  int
	pagesFor *model.FacebookProfile
}

func (f *fakeFacebook) Me(context.Context) (*model.FacebookProfile, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	copied := *f.profile
	return &copied, nil
}

func (f *fakeFacebook) Pages(_ context.Context, profile *model.FacebookProfile) ([]model.FacebookPage, error) {
	f.pageCalls++
	f.pagesFor = profile
	if f.pagesErr != nil {
		return nil, f.pagesErr
	}
	return append([]model.FacebookPage(nil), f.pages...), nil
}

type fakeTwitter struct {
	profile *model.TwitterProfile
	err     error
	calls   int

	posted  []string
	postErr error
}

func (f *fakeTwitter) Profile(context.Context, *model.TwitterAccount) (*model.TwitterProfile, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	copied := *f.profile
	return &copied, nil
}

func (f *fakeTwitter) PostStatus(_ context.Context, _ *model.TwitterAccount, text string) (*model.TwitterStatus, error) {
	if f.postErr != nil {
		return nil, f.postErr
	}
	f.posted = append(f.posted, text)
	return &model.TwitterStatus{ID: fmt.Sprintf("status-%d", len(f.posted)), Text: text}, nil
}

var errProviderDown = errors.New("provider down")

// quietLogger drops everything below error so test output stays readable.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}
