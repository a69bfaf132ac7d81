package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/fixjam/internal/apperror"
	"github.com/sakif/fixjam/internal/model"
	"github.com/sakif/fixjam/internal/repository"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var _ repository.AccountRepository = (*DB)(nil)

// isUniqueViolation reports whether err is SQLite rejecting a duplicate key.
func isUniqueViolation(err error) bool {
	var se *msqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

// =========================================================================
// NATIVE ACCOUNTS
// =========================================================================

// CreateNativeAccount inserts a username/password account.
// A taken username comes back as apperror.ErrConflict.
func (db *DB) CreateNativeAccount(ctx context.Context, a *model.NativeAccount) error {
	now := time.Now()
	a.ID = xid.New().String()
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO native_accounts
		   (id, username, password_hash, first_name, last_name, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Username, a.PasswordHash, a.FirstName, a.LastName, a.Active, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("native account", a.Username)
		}
		return fmt.Errorf("sqlite: creating native account %q: %w", a.Username, err)
	}
	return nil
}

const nativeColumns = `id, username, password_hash, first_name, last_name, active, created_at, updated_at`

func scanNative(row *sql.Row) (*model.NativeAccount, error) {
	var a model.NativeAccount
	err := row.Scan(&a.ID, &a.Username, &a.PasswordHash, &a.FirstName, &a.LastName, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (db *DB) GetNativeAccount(ctx context.Context, id string) (*model.NativeAccount, error) {
	a, err := scanNative(db.conn.QueryRowContext(ctx,
		`SELECT `+nativeColumns+` FROM native_accounts WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("native account", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting native account %s: %w", id, err)
	}
	return a, nil
}

func (db *DB) GetNativeAccountByUsername(ctx context.Context, username string) (*model.NativeAccount, error) {
	a, err := scanNative(db.conn.QueryRowContext(ctx,
		`SELECT `+nativeColumns+` FROM native_accounts WHERE username = ?`, username))
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("native account", username)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting native account by username %q: %w", username, err)
	}
	return a, nil
}

// =========================================================================
// DATA CACHE COLUMN
// =========================================================================

// The data_cache column holds model.DataCache as JSON. NULL decodes to nil.

func encodeCache(c model.DataCache) (any, error) {
	if len(c) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeCache(raw sql.NullString) (model.DataCache, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var c model.DataCache
	if err := json.Unmarshal([]byte(raw.String), &c); err != nil {
		return nil, err
	}
	return c, nil
}

func (db *DB) updateCache(ctx context.Context, table, id string, c model.DataCache) error {
	enc, err := encodeCache(c)
	if err != nil {
		return fmt.Errorf("sqlite: encoding data cache for %s %s: %w", table, id, err)
	}
	// table is one of two constants below, never caller input.
	res, err := db.conn.ExecContext(ctx,
		`UPDATE `+table+` SET data_cache = ?, updated_at = ? WHERE id = ?`,
		enc, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating data cache for %s %s: %w", table, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NotFound(table, id)
	}
	return nil
}

// =========================================================================
// FACEBOOK ACCOUNTS
// =========================================================================

// GetOrCreateFacebookAccount returns the account for remoteID, creating it on
// first login. Concurrent first logins for the same remoteID yield one row.
func (db *DB) GetOrCreateFacebookAccount(ctx context.Context, remoteID int64) (*model.FacebookAccount, error) {
	now := time.Now()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO facebook_accounts (id, remote_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(remote_id) DO NOTHING`,
		xid.New().String(), remoteID, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: creating facebook account %d: %w", remoteID, err)
	}

	a, err := db.scanFacebook(db.conn.QueryRowContext(ctx,
		`SELECT id, remote_id, data_cache, created_at, updated_at
		 FROM facebook_accounts WHERE remote_id = ?`, remoteID))
	if err != nil {
		return nil, fmt.Errorf("sqlite: reading facebook account %d: %w", remoteID, err)
	}
	return a, nil
}

// GetFacebookAccount is not part of the repository interface: services reach
// Facebook accounts through their remote id or through an Identity.
func (db *DB) GetFacebookAccount(ctx context.Context, id string) (*model.FacebookAccount, error) {
	a, err := db.scanFacebook(db.conn.QueryRowContext(ctx,
		`SELECT id, remote_id, data_cache, created_at, updated_at
		 FROM facebook_accounts WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("facebook account", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting facebook account %s: %w", id, err)
	}
	return a, nil
}

func (db *DB) scanFacebook(row *sql.Row) (*model.FacebookAccount, error) {
	var (
		a     model.FacebookAccount
		cache sql.NullString
	)
	if err := row.Scan(&a.ID, &a.RemoteID, &cache, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	c, err := decodeCache(cache)
	if err != nil {
		return nil, fmt.Errorf("decoding data cache: %w", err)
	}
	a.DataCache = c
	return &a, nil
}

func (db *DB) UpdateFacebookDataCache(ctx context.Context, id string, c model.DataCache) error {
	return db.updateCache(ctx, "facebook_accounts", id, c)
}

// =========================================================================
// TWITTER ACCOUNTS
// =========================================================================

// UpsertTwitterAccount creates the account for screenName, or refreshes the
// stored OAuth credentials when the screen name is already known.
func (db *DB) UpsertTwitterAccount(ctx context.Context, screenName, token, secret string) (*model.TwitterAccount, error) {
	now := time.Now()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO twitter_accounts (id, screen_name, oauth_token, oauth_secret, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(screen_name) DO UPDATE SET
		   oauth_token  = excluded.oauth_token,
		   oauth_secret = excluded.oauth_secret,
		   updated_at   = excluded.updated_at`,
		xid.New().String(), screenName, token, secret, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: upserting twitter account %q: %w", screenName, err)
	}

	a, err := db.scanTwitter(db.conn.QueryRowContext(ctx,
		`SELECT `+twitterColumns+` FROM twitter_accounts WHERE screen_name = ?`, screenName))
	if err != nil {
		return nil, fmt.Errorf("sqlite: reading twitter account %q: %w", screenName, err)
	}
	return a, nil
}

const twitterColumns = `id, screen_name, oauth_token, oauth_secret, data_cache, created_at, updated_at`

func (db *DB) GetTwitterAccount(ctx context.Context, id string) (*model.TwitterAccount, error) {
	a, err := db.scanTwitter(db.conn.QueryRowContext(ctx,
		`SELECT `+twitterColumns+` FROM twitter_accounts WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("twitter account", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting twitter account %s: %w", id, err)
	}
	return a, nil
}

func (db *DB) scanTwitter(row *sql.Row) (*model.TwitterAccount, error) {
	var (
		a     model.TwitterAccount
		cache sql.NullString
	)
	err := row.Scan(&a.ID, &a.ScreenName, &a.OAuthToken, &a.OAuthSecret, &cache, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c, err := decodeCache(cache)
	if err != nil {
		return nil, fmt.Errorf("decoding data cache: %w", err)
	}
	a.DataCache = c
	return &a, nil
}

func (db *DB) UpdateTwitterDataCache(ctx context.Context, id string, c model.DataCache) error {
	return db.updateCache(ctx, "twitter_accounts", id, c)
}
