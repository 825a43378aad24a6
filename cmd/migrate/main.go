package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"tallybook.org/internal/auth"
	"tallybook.org/internal/migrate"
	"tallybook.org/internal/obs"
	"tallybook.org/internal/store/pg"
)

const usage = "usage: migrate [flags] up|down|seed|status|bootstrap-admin"

func main() {
	flags := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	var (
		dsn       = flags.String("dsn", os.Getenv("TALLYBOOK_PG_DSN"), "PostgreSQL DSN")
		table     = flags.String("table", "", "goose version table (default schema_migrations)")
		timeout   = flags.Duration("timeout", 30*time.Second, "overall timeout")
		adminUser = flags.String("admin-user", "admin", "username for bootstrap-admin")
		adminPass = flags.String("admin-password", os.Getenv("TALLYBOOK_ADMIN_PASSWORD"), "password for bootstrap-admin")
		env       = flags.String("env", "local", "log format: local|dev|prod")
	)
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, usage)
		flags.PrintDefaults()
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	logger := obs.SetupLogger(*env)

	if *dsn == "" {
		logger.Error("missing DSN: provide via --dsn or TALLYBOOK_PG_DSN")
		os.Exit(2)
	}
	if flags.NArg() == 0 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := pg.Open(*dsn, pg.PoolConfig{MaxOpenConns: 2})
	if err != nil {
		logger.Error("open db", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	mgr := migrate.NewManager(store.DB(), migrate.WithTableName(*table), migrate.WithLogger(logger))

	cmd := flags.Arg(0)
	switch cmd {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var v int64
		v, err = mgr.Version(ctx)
		if err == nil {
			fmt.Printf("schema version %d\n", v)
		}
	case "bootstrap-admin":
		err = bootstrapAdmin(ctx, store, *adminUser, *adminPass, time.Now())
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("migrate failed", "command", cmd, "error", err)
		os.Exit(1)
	}
	logger.Info("migrate finished", "command", cmd)
}

// adminStore is the slice of pg.Store that bootstrap-admin writes through.
type adminStore interface {
	UpsertPrincipal(ctx context.Context, p auth.Principal) error
	RecordPasswordChangeCutoff(ctx context.Context, username string, at time.Time) error
}

// bootstrapAdmin creates or resets an ADMIN principal so a fresh install can
// log in. A reset is a password change, so tokens issued before it go stale.
func bootstrapAdmin(ctx context.Context, store adminStore, username, password string, now time.Time) error {
	if len(password) < 8 || len(password) > 72 {
		return errors.New("admin password must be between 8 and 72 bytes")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if err := store.UpsertPrincipal(ctx, auth.Principal{
		Username:     username,
		PasswordHash: hash,
		Enabled:      true,
		Role:         "ADMIN",
	}); err != nil {
		return fmt.Errorf("upsert admin: %w", err)
	}
	if err := store.RecordPasswordChangeCutoff(ctx, username, now.UTC().Truncate(time.Second)); err != nil {
		return fmt.Errorf("record password cutoff: %w", err)
	}
	return nil
}
