// Package dav holds the HTTP method handlers of the CalDAV protocol layer.
// Each handler resolves the request path through the resolver, wraps the
// result into a typed node and performs the method against the engine.
package dav

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/calagora/caldav/internal/config"
	"github.com/calagora/caldav/internal/dav/derr"
	"github.com/calagora/caldav/internal/dav/ischedule"
	"github.com/calagora/caldav/internal/dav/notify"
	"github.com/calagora/caldav/internal/dav/report"
	"github.com/calagora/caldav/internal/dav/resolver"
	"github.com/calagora/caldav/internal/dav/sched"
	"github.com/calagora/caldav/internal/engine"
)

type Handlers struct {
	cfg      *config.Config
	eng      engine.Engine
	res      *resolver.Resolver
	reports  *report.Handler
	sched    *sched.Handler
	notify   *notify.Handler
	logger   zerolog.Logger
	basePath string
}

func NewHandlers(cfg *config.Config, eng engine.Engine, logger zerolog.Logger) *Handlers {
	res := resolver.New(eng, cfg.PrincipalPrefix)
	return &Handlers{
		cfg:      cfg,
		eng:      eng,
		res:      res,
		reports:  report.NewHandler(eng, res, cfg.HTTP.MaxXMLBytes, logger),
		sched:    sched.NewHandler(eng, res, ischedule.BodyHashVerifier{}, cfg, logger),
		notify:   notify.NewHandler(eng, logger),
		logger:   logger.With().Str("component", "dav").Logger(),
		basePath: cfg.HTTP.BasePath,
	}
}

// path strips the configured base path from the request URL.
func (h *Handlers) path(r *http.Request) string {
	p := r.URL.Path
	if h.basePath != "" && h.basePath != "/" {
		p = strings.TrimPrefix(p, h.basePath)
	}
	return resolver.Normalize(p)
}

// writeError maps a handler failure onto its HTTP status. Failures carrying
// a precondition tag get the CalDAV error body; the rest are plain text.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	de := derr.As(err)
	if de == nil {
		return
	}
	status := de.Kind.Status()
	if status >= 500 {
		h.logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
	} else {
		h.logger.Debug().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request rejected")
	}

	if de.Precondition != "" {
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(
			`<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
				`<D:error xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">` +
				`<C:` + de.Precondition + `/>` +
				`</D:error>` + "\n"))
		return
	}
	http.Error(w, de.Msg, status)
}

// mapEngineErr translates engine sentinels into protocol errors.
func mapEngineErr(err error) error {
	switch {
	case err == nil:
		return nil
	case isErr(err, engine.ErrNotFound):
		return derr.NotFound(err.Error())
	case isErr(err, engine.ErrExists):
		return derr.PreconditionFailed(err.Error())
	case isErr(err, engine.ErrNoAccess):
		return derr.Forbidden("", err.Error())
	default:
		return derr.Wrap(err)
	}
}

// HandleReport serves the three CalDAV REPORTs.
func (h *Handlers) HandleReport(w http.ResponseWriter, r *http.Request) {
	if err := h.reports.Handle(w, r, h.path(r)); err != nil {
		h.writeError(w, r, err)
	}
}

// HandlePost routes XML bodies to the notification dispatcher and calendar
// bodies to the scheduling pipeline.
func (h *Handlers) HandlePost(w http.ResponseWriter, r *http.Request) {
	ct := r.Header.Get("Content-Type")
	if strings.Contains(ct, "xml") && h.path(r) != h.cfg.Schedule.ISchedulePath {
		h.handleNotify(w, r)
		return
	}
	if err := h.sched.Post(w, r, h.path(r)); err != nil {
		h.writeError(w, r, err)
	}
}
