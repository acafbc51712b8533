package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/calagora/caldav/internal/acl"
	"github.com/calagora/caldav/internal/auth"
	"github.com/calagora/caldav/internal/config"
	"github.com/calagora/caldav/internal/dav"
	"github.com/calagora/caldav/internal/directory"
	"github.com/calagora/caldav/internal/engine/local"
	"github.com/calagora/caldav/internal/router"
	"github.com/calagora/caldav/internal/storage"
	"github.com/calagora/caldav/internal/storage/postgres"
	"github.com/calagora/caldav/internal/storage/sqlite"
)

type Server struct {
	http   *http.Server
	logger zerolog.Logger
}

func NewServer(cfg *config.Config, logger zerolog.Logger) (*Server, func(), error) {
	var store storage.Store
	var err error

	switch cfg.Storage.Type {
	case "postgres":
		store, err = postgres.New(cfg.Storage.PostgresURL, logger)
	case "sqlite":
		store, err = sqlite.New(cfg.Storage.SQLitePath, logger)
	default:
		err = errors.New("unknown storage type: " + cfg.Storage.Type)
	}
	if err != nil {
		return nil, nil, err
	}

	dir, err := directory.NewLDAPClient(cfg.LDAP, logger)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	eng := local.New(store, dir, acl.NewLDAPACL(dir), cfg, logger)
	authn := auth.NewChain(cfg, dir, logger)
	davh := dav.NewHandlers(cfg, eng, logger)
	mux := router.New(cfg, davh, authn, logger)

	srv := &Server{
		http: &http.Server{
			Addr:         cfg.HTTP.Addr,
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		logger: logger,
	}
	cleanup := func() {
		store.Close()
		dir.Close()
	}
	logger.Info().Msgf("listening on %s (storage=%s)", cfg.HTTP.Addr, cfg.Storage.Type)
	return srv, cleanup, nil
}

func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
