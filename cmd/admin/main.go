// Package main is the administrator's tool for identities.
//
// Usage:
//
//	admin <identity-id>                 # show the identity
//	admin -ban <identity-id>            # deny access from the next request on
//	admin -unban <identity-id>
//	admin -notes "text" <identity-id>   # replace the admin notes
//
// It opens the same SQLite database as the server (DB_PATH).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/sakif/fixjam/internal/config"
	sqliteRepo "github.com/sakif/fixjam/internal/repository/sqlite"
	"github.com/sakif/fixjam/internal/service"
)

var errUsage = errors.New("usage: admin [-ban|-unban] [-notes text] <identity-id>")

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))

	if err := run(context.Background(), cfg.Server.DBPath, os.Args[1:], os.Stdout, logger); err != nil {
		logger.Error("admin failed", slog.String("error", err.Error()))
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, dbPath string, args []string, out io.Writer, logger *slog.Logger) error {
	fs := flag.NewFlagSet("admin", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	ban := fs.Bool("ban", false, "ban the identity")
	unban := fs.Bool("unban", false, "lift a ban")
	notes := fs.String("notes", "", "replace the admin notes")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() != 1 || (*ban && *unban) {
		return errUsage
	}
	id := fs.Arg(0)

	notesSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "notes" {
			notesSet = true
		}
	})

	db, err := sqliteRepo.New(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	identities := service.NewIdentityService(db, db, nil, 0, logger)

	if *ban || *unban {
		if err := identities.SetBanned(ctx, id, *ban); err != nil {
			return err
		}
	}
	if notesSet {
		if err := identities.SetAdminNotes(ctx, id, *notes); err != nil {
			return err
		}
	}

	ident, err := identities.Get(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "id:       %s\n", ident.ID)
	fmt.Fprintf(out, "account:  %s %s\n", ident.Account.Kind(), identities.RemoteID(ident))
	fmt.Fprintf(out, "banned:   %t\n", ident.Banned)
	fmt.Fprintf(out, "notes:    %s\n", ident.AdminNotes)
	fmt.Fprintf(out, "created:  %s\n", ident.CreatedAt.Format("2006-01-02 15:04:05"))
	return nil
}
