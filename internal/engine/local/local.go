// Package local implements the engine boundary on top of the relational
// store, the LDAP directory and group-derived ACLs.
package local

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/calagora/caldav/internal/acl"
	"github.com/calagora/caldav/internal/config"
	"github.com/calagora/caldav/internal/directory"
	"github.com/calagora/caldav/internal/engine"
	"github.com/calagora/caldav/internal/storage"
)

type Engine struct {
	store  storage.Store
	dir    directory.Directory
	acl    acl.Provider
	cfg    *config.Config
	logger zerolog.Logger
	sys    engine.SysProperties
	tz     *time.Location
}

func New(store storage.Store, dir directory.Directory, aclp acl.Provider, cfg *config.Config, logger zerolog.Logger) *Engine {
	tz, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warn().Str("tz", cfg.Timezone).Msg("unknown timezone, using UTC")
		tz = time.UTC
	}
	return &Engine{
		store:  store,
		dir:    dir,
		acl:    aclp,
		cfg:    cfg,
		logger: logger.With().Str("component", "engine").Logger(),
		tz:     tz,
		sys: engine.SysProperties{
			MaxEntitySize:      cfg.HTTP.MaxICSBytes,
			MaxAttendees:       cfg.Schedule.MaxAttendees,
			DefaultContentType: "text/calendar",
			IScheduleURI:       cfg.Schedule.ISchedulePath,
			FreeBusyURI:        cfg.Schedule.FreeBusyURI,
			WebcalURI:          cfg.Schedule.WebcalURI,
		},
	}
}

func (e *Engine) SysProperties() engine.SysProperties { return e.sys }

// Rollback is a hint on precondition failures. The store commits per
// statement, so there is nothing to unwind; we only record the event.
func (e *Engine) Rollback(ctx context.Context) {
	e.logger.Debug().Msg("request rolled back on precondition failure")
}
