// Package provision creates the application's Postgres database and role.
//
// Every step checks the catalog first, so provisioning an already
// provisioned server changes nothing.
package provision

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sakif/fixjam/internal/apperror"
)

// Database is what to provision. Password may be empty for servers that
// trust local connections.
type Database struct {
	Name     string
	Owner    string
	Password string
}

// Result reports what Provision had to create.
type Result struct {
	CreatedRole     bool
	CreatedDatabase bool
}

// conn is the subset of *pgx.Conn used here.
type conn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres provisions over a single superuser connection. CREATE DATABASE
// cannot run inside a transaction, so nothing here opens one.
type Postgres struct {
	conn   conn
	close  func(context.Context) error
	logger *slog.Logger
}

// Connect opens a connection as an administrative user, usually postgres.
func Connect(ctx context.Context, url string, logger *slog.Logger) (*Postgres, error) {
	c, err := pgx.Connect(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("provision: connecting: %w", err)
	}
	return &Postgres{conn: c, close: c.Close, logger: logger}, nil
}

func (p *Postgres) Close(ctx context.Context) error {
	if p.close == nil {
		return nil
	}
	return p.close(ctx)
}

// Provision makes sure the role and database exist and the role has all
// privileges on the database. An existing role keeps its password.
func (p *Postgres) Provision(ctx context.Context, db Database) (Result, error) {
	var res Result
	if db.Name == "" {
		return res, apperror.ValidationFailed("name", "database name is required")
	}
	if db.Owner == "" {
		return res, apperror.ValidationFailed("owner", "database owner is required")
	}
	role := pgx.Identifier{db.Owner}.Sanitize()
	name := pgx.Identifier{db.Name}.Sanitize()

	exists, err := p.exists(ctx, "SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)", db.Owner)
	if err != nil {
		return res, fmt.Errorf("provision: checking role %s: %w", db.Owner, err)
	}
	if !exists {
		if err := p.createRole(ctx, db); err != nil {
			return res, fmt.Errorf("provision: creating role %s: %w", db.Owner, err)
		}
		res.CreatedRole = true
		p.logger.Info("created role", slog.String("role", db.Owner))
	}

	exists, err = p.exists(ctx, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", db.Name)
	if err != nil {
		return res, fmt.Errorf("provision: checking database %s: %w", db.Name, err)
	}
	if !exists {
		if _, err := p.conn.Exec(ctx, "CREATE DATABASE "+name+" OWNER "+role); err != nil {
			return res, fmt.Errorf("provision: creating database %s: %w", db.Name, err)
		}
		res.CreatedDatabase = true
		p.logger.Info("created database", slog.String("database", db.Name), slog.String("owner", db.Owner))
	}

	if _, err := p.conn.Exec(ctx, "GRANT ALL PRIVILEGES ON DATABASE "+name+" TO "+role); err != nil {
		return res, fmt.Errorf("provision: granting on %s: %w", db.Name, err)
	}
	return res, nil
}

func (p *Postgres) exists(ctx context.Context, query, arg string) (bool, error) {
	var ok bool
	if err := p.conn.QueryRow(ctx, query, arg).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// createRole builds the statement server side with format(), since DDL
// takes no bind parameters and the password needs literal quoting.
func (p *Postgres) createRole(ctx context.Context, db Database) error {
	query := "SELECT format('CREATE ROLE %I WITH LOGIN CREATEDB', $1::text)"
	args := []any{db.Owner}
	if db.Password != "" {
		query = "SELECT format('CREATE ROLE %I WITH LOGIN CREATEDB ENCRYPTED PASSWORD %L', $1::text, $2::text)"
		args = append(args, db.Password)
	}

	var stmt string
	if err := p.conn.QueryRow(ctx, query, args...).Scan(&stmt); err != nil {
		return err
	}
	_, err := p.conn.Exec(ctx, stmt)
	return err
}
