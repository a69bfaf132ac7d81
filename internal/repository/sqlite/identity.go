package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/fixjam/internal/apperror"
	"github.com/sakif/fixjam/internal/model"
	"github.com/sakif/fixjam/internal/repository"
)

var _ repository.IdentityRepository = (*DB)(nil)

// linkColumn maps an account kind to its identities column.
func linkColumn(kind model.Kind) (string, error) {
	switch kind {
	case model.KindNative:
		return "native_account_id", nil
	case model.KindFacebook:
		return "facebook_account_id", nil
	case model.KindTwitter:
		return "twitter_account_id", nil
	}
	return "", fmt.Errorf("sqlite: unknown account kind %q", kind)
}

// GetOrCreateIdentity returns the Identity linked to account.
//
// The link column is UNIQUE, so two requests creating an Identity for the
// same account race on the INSERT and the loser's row is silently dropped.
// Both then read the same winner.
func (db *DB) GetOrCreateIdentity(ctx context.Context, account model.Account) (*model.Identity, error) {
	col, err := linkColumn(account.Kind())
	if err != nil {
		return nil, err
	}

	now := time.Now()
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO identities (id, `+col+`, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(`+col+`) DO NOTHING`,
		xid.New().String(), account.AccountID(), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: creating identity for %s account %s: %w", account.Kind(), account.AccountID(), err)
	}

	row := db.conn.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE `+col+` = ?`, account.AccountID())
	ident, _, err := scanIdentity(row)
	if err != nil {
		return nil, fmt.Errorf("sqlite: reading identity for %s account %s: %w", account.Kind(), account.AccountID(), err)
	}
	ident.Account = account
	return ident, nil
}

const identityColumns = `id, native_account_id, facebook_account_id, twitter_account_id,
	location, banned, admin_notes, created_at, updated_at`

type identityLinks struct {
	native, facebook, twitter sql.NullString
}

func scanIdentity(row *sql.Row) (*model.Identity, identityLinks, error) {
	var (
		ident model.Identity
		links identityLinks
		loc   sql.NullString
	)
	err := row.Scan(&ident.ID, &links.native, &links.facebook, &links.twitter,
		&loc, &ident.Banned, &ident.AdminNotes, &ident.CreatedAt, &ident.UpdatedAt)
	if err != nil {
		return nil, links, err
	}
	if loc.Valid && loc.String != "" {
		var p model.Place
		if err := json.Unmarshal([]byte(loc.String), &p); err != nil {
			return nil, links, fmt.Errorf("decoding location: %w", err)
		}
		ident.Location = &p
	}
	return &ident, links, nil
}

// GetIdentity loads an Identity together with its linked account.
func (db *DB) GetIdentity(ctx context.Context, id string) (*model.Identity, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE id = ?`, id)
	ident, links, err := scanIdentity(row)
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("identity", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting identity %s: %w", id, err)
	}

	switch {
	case links.native.Valid:
		ident.Account, err = db.GetNativeAccount(ctx, links.native.String)
	case links.facebook.Valid:
		ident.Account, err = db.GetFacebookAccount(ctx, links.facebook.String)
	case links.twitter.Valid:
		ident.Account, err = db.GetTwitterAccount(ctx, links.twitter.String)
	default:
		return nil, fmt.Errorf("sqlite: identity %s has no linked account", id)
	}
	if err != nil {
		return nil, err
	}
	return ident, nil
}

// SaveIdentityLocation stores place by value on the identity.
func (db *DB) SaveIdentityLocation(ctx context.Context, id string, place *model.Place) error {
	var enc any
	if place != nil {
		b, err := json.Marshal(place)
		if err != nil {
			return fmt.Errorf("sqlite: encoding location for identity %s: %w", id, err)
		}
		enc = string(b)
	}
	return db.updateIdentity(ctx, id, "location", enc)
}

func (db *DB) SetIdentityBanned(ctx context.Context, id string, banned bool) error {
	return db.updateIdentity(ctx, id, "banned", banned)
}

func (db *DB) SetIdentityAdminNotes(ctx context.Context, id, notes string) error {
	return db.updateIdentity(ctx, id, "admin_notes", notes)
}

func (db *DB) updateIdentity(ctx context.Context, id, col string, value any) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE identities SET `+col+` = ?, updated_at = ? WHERE id = ?`,
		value, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating %s of identity %s: %w", col, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NotFound("identity", id)
	}
	return nil
}

func (db *DB) CountIdentities(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM identities`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: counting identities: %w", err)
	}
	return n, nil
}
