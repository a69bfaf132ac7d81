// Package repository declares the storage interfaces of the Credential Store.
//
// Lookups return an error matching apperror.ErrNotFound when no row exists.
// GetOrCreate methods are safe against concurrent first-time creation: the
// store's unique constraints pick a winner and the loser reads the winner's
// row instead of failing.
package repository

import (
	"context"

	"github.com/sakif/fixjam/internal/model"
)

type NativeAccountRepository interface {
	CreateNativeAccount(ctx context.Context, account *model.NativeAccount) error
	GetNativeAccount(ctx context.Context, id string) (*model.NativeAccount, error)
	GetNativeAccountByUsername(ctx context.Context, username string) (*model.NativeAccount, error)
}

type FacebookAccountRepository interface {
	GetOrCreateFacebookAccount(ctx context.Context, remoteID int64) (*model.FacebookAccount, error)
	UpdateFacebookDataCache(ctx context.Context, id string, cache model.DataCache) error
}

type TwitterAccountRepository interface {
	// UpsertTwitterAccount creates the account for screenName or refreshes its
	// OAuth credentials when it already exists.
	UpsertTwitterAccount(ctx context.Context, screenName, token, secret string) (*model.TwitterAccount, error)
	GetTwitterAccount(ctx context.Context, id string) (*model.TwitterAccount, error)
	UpdateTwitterDataCache(ctx context.Context, id string, cache model.DataCache) error
}

// AccountRepository groups the three provider account stores.
type AccountRepository interface {
	NativeAccountRepository
	FacebookAccountRepository
	TwitterAccountRepository
}

type IdentityRepository interface {
	// GetOrCreateIdentity returns the Identity linked to account, creating it
	// on first use. The returned Identity has Account set.
	GetOrCreateIdentity(ctx context.Context, account model.Account) (*model.Identity, error)
	GetIdentity(ctx context.Context, id string) (*model.Identity, error)
	SaveIdentityLocation(ctx context.Context, id string, place *model.Place) error
	SetIdentityBanned(ctx context.Context, id string, banned bool) error
	SetIdentityAdminNotes(ctx context.Context, id, notes string) error
	CountIdentities(ctx context.Context) (int, error)
}

type LocationRepository interface {
	// FindLocationByName returns the first row with exactly this name.
	FindLocationByName(ctx context.Context, name string) (*model.Location, error)
	FindLocationByFacebookPlace(ctx context.Context, placeID string) (*model.Location, error)
	CreateLocation(ctx context.Context, loc *model.Location) error
	// AttachFacebookPlace sets the place id on a location that has none. When
	// another row already owns placeID, that row is returned instead.
	AttachFacebookPlace(ctx context.Context, locationID, placeID string) (*model.Location, error)
	CountLocations(ctx context.Context) (int, error)
}
