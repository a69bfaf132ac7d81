package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/fixjam/internal/apperror"
	"github.com/sakif/fixjam/internal/model"
	"github.com/sakif/fixjam/internal/repository"
)

var _ repository.LocationRepository = (*DB)(nil)

const locationColumns = `id, name, lat, long, facebook_place_id, created_at, updated_at`

func scanLocation(row *sql.Row) (*model.Location, error) {
	var (
		l       model.Location
		placeID sql.NullString
	)
	if err := row.Scan(&l.ID, &l.Name, &l.Lat, &l.Long, &placeID, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	if placeID.Valid {
		l.FacebookPlaceID = &placeID.String
	}
	return &l, nil
}

// FindLocationByName returns the oldest location with exactly this name.
// Duplicate names are allowed, so the order keeps the answer stable.
func (db *DB) FindLocationByName(ctx context.Context, name string) (*model.Location, error) {
	l, err := scanLocation(db.conn.QueryRowContext(ctx,
		`SELECT `+locationColumns+` FROM locations
		 WHERE name = ?
		 ORDER BY created_at, id
		 LIMIT 1`, name))
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("location", name)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: finding location %q: %w", name, err)
	}
	return l, nil
}

func (db *DB) FindLocationByFacebookPlace(ctx context.Context, placeID string) (*model.Location, error) {
	l, err := scanLocation(db.conn.QueryRowContext(ctx,
		`SELECT `+locationColumns+` FROM locations WHERE facebook_place_id = ?`, placeID))
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("location", "facebook place "+placeID)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: finding location by facebook place %s: %w", placeID, err)
	}
	return l, nil
}

// CreateLocation inserts a geocoded location. A FacebookPlaceID that is
// already taken comes back as apperror.ErrConflict.
func (db *DB) CreateLocation(ctx context.Context, l *model.Location) error {
	now := time.Now()
	l.ID = xid.New().String()
	l.CreatedAt = now
	l.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO locations (id, name, lat, long, facebook_place_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Name, l.Lat, l.Long, l.FacebookPlaceID, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("location", l.Name)
		}
		return fmt.Errorf("sqlite: creating location %q: %w", l.Name, err)
	}
	return nil
}

// AttachFacebookPlace records placeID on a location that has no place yet.
//
// When placeID already belongs to some row (a concurrent request attached it
// first) that row is returned and locationID is left untouched.
func (db *DB) AttachFacebookPlace(ctx context.Context, locationID, placeID string) (*model.Location, error) {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE locations SET facebook_place_id = ?, updated_at = ?
		 WHERE id = ? AND facebook_place_id IS NULL`,
		placeID, time.Now(), locationID,
	)
	if err != nil && !isUniqueViolation(err) {
		return nil, fmt.Errorf("sqlite: attaching facebook place %s to location %s: %w", placeID, locationID, err)
	}
	return db.FindLocationByFacebookPlace(ctx, placeID)
}

func (db *DB) CountLocations(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM locations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: counting locations: %w", err)
	}
	return n, nil
}
