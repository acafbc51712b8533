// Command caldav-bootstrap provisions a user's home tree ahead of first
// login and optionally creates an extra calendar collection.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/calagora/caldav/internal/acl"
	"github.com/calagora/caldav/internal/config"
	"github.com/calagora/caldav/internal/directory"
	"github.com/calagora/caldav/internal/engine"
	"github.com/calagora/caldav/internal/engine/local"
	"github.com/calagora/caldav/internal/logging"
	"github.com/calagora/caldav/internal/storage"
	"github.com/calagora/caldav/internal/storage/postgres"
	"github.com/calagora/caldav/internal/storage/sqlite"
)

func main() {
	var (
		account     string
		calName     string
		displayName string
		desc        string
	)
	flag.StringVar(&account, "account", "", "User account (required)")
	flag.StringVar(&calName, "calendar", "", "Extra calendar collection name (optional)")
	flag.StringVar(&displayName, "display", "", "Display name for the extra calendar (optional)")
	flag.StringVar(&desc, "desc", "", "Description for the extra calendar (optional)")
	flag.Parse()

	if account == "" {
		fmt.Fprintln(os.Stderr, "usage: caldav-bootstrap -account <uid> [-calendar <name>] [-display <name>] [-desc <description>]")
		os.Exit(2)
	}
	if displayName == "" {
		displayName = calName
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With().Str("component", "bootstrap").Logger()

	var store storage.Store
	switch cfg.Storage.Type {
	case "postgres":
		store, err = postgres.New(cfg.Storage.PostgresURL, logger)
	case "sqlite":
		store, err = sqlite.New(cfg.Storage.SQLitePath, logger)
	default:
		err = fmt.Errorf("unknown storage type: %s", cfg.Storage.Type)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "storage init: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	dir, err := directory.NewLDAPClient(cfg.LDAP, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ldap: %v\n", err)
		os.Exit(1)
	}
	defer dir.Close()

	eng := local.New(store, dir, acl.NewLDAPACL(dir), cfg, logger)
	ctx := context.Background()

	p, err := eng.PrincipalByPath(ctx, cfg.PrincipalPrefix+"/users/"+account)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unknown account %s: %v\n", account, err)
		os.Exit(1)
	}
	if err := eng.EnsureHome(ctx, p); err != nil {
		fmt.Fprintf(os.Stderr, "provision home: %v\n", err)
		os.Exit(1)
	}

	if calName != "" {
		col := &engine.Collection{
			Path:                p.HomePath + "/" + calName,
			ParentPath:          p.HomePath,
			Name:                calName,
			DisplayName:         displayName,
			Description:         desc,
			Type:                engine.ColCalendar,
			Owner:               p.Account,
			AffectsFreeBusy:     true,
			SupportedComponents: []string{"VEVENT", "VTODO", "VJOURNAL"},
		}
		if err := eng.MakeCollection(ctx, col); err != nil {
			fmt.Fprintf(os.Stderr, "create calendar: %v\n", err)
			os.Exit(1)
		}
		logger.Info().Str("account", account).Str("calendar", calName).Msg("calendar created")
	}

	fmt.Printf("Provisioned home for %s\n", account)
}
