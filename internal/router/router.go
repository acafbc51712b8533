// Package router maps HTTP methods onto the protocol handlers and carries
// the authentication and request-logging middleware.
package router

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/calagora/caldav/internal/auth"
	"github.com/calagora/caldav/internal/config"
	"github.com/calagora/caldav/internal/dav"
	"github.com/calagora/caldav/internal/metrics"
)

type Router struct {
	cfg      *config.Config
	handlers *dav.Handlers
	auth     *auth.Chain
	logger   zerolog.Logger
}

func New(cfg *config.Config, h *dav.Handlers, authn *auth.Chain, logger zerolog.Logger) http.Handler {
	r := &Router{cfg: cfg, handlers: h, auth: authn, logger: logger}
	return r.setupRoutes()
}

func (r *Router) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/.well-known/caldav", r.handlers.HandleWellKnown)
	mux.HandleFunc("/healthz", r.handleHealth)
	if r.cfg.EnableMetrics {
		mux.Handle("/metrics", metrics.Handler())
	}

	if r.cfg.Schedule.EnableISchedule {
		// Federation traffic authenticates by message signature, not by
		// user credentials.
		mux.HandleFunc(r.cfg.Schedule.ISchedulePath, r.handleISchedule)
	}

	base := r.basePath()
	mux.HandleFunc(base, r.handleDAVRequest)
	if base != "/" {
		mux.HandleFunc(strings.TrimSuffix(base, "/"), r.handleDAVRequest)
	}

	return mux
}

func (r *Router) basePath() string {
	base := r.cfg.HTTP.BasePath
	if base == "" || base[0] != '/' {
		base = "/"
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Router) handleISchedule(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		r.handlers.HandleIScheduleGet(w, req)
	case http.MethodPost:
		r.handlers.HandlePost(w, req)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (r *Router) handleDAVRequest(w http.ResponseWriter, req *http.Request) {
	// OPTIONS is public for capability discovery.
	if req.Method == http.MethodOptions {
		r.handlers.HandleOptions(w, req)
		return
	}

	p, err := r.authenticate(req)
	if err != nil || p == nil {
		r.logAttempt(req, "", err)
		w.Header().Set("WWW-Authenticate", `Basic realm="CalDAV", charset="UTF-8"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if runAs := req.Header.Get("Run-As"); runAs != "" {
		p, err = r.assumeIdentity(req, p, runAs)
		if err != nil {
			r.logAttempt(req, runAs, err)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	req = req.WithContext(auth.WithPrincipal(req.Context(), p))
	r.routeDAVMethod(w, req)
}

// assumeIdentity swaps the principal for super-users carrying Run-As.
func (r *Router) assumeIdentity(req *http.Request, p *auth.Principal, account string) (*auth.Principal, error) {
	if !r.auth.IsSuperUser(p.UserID) {
		return nil, errors.New("run-as denied for " + p.UserID)
	}
	sub, err := r.auth.RunAs(req.Context(), account)
	if err != nil {
		return nil, err
	}
	r.logger.Info().Str("super_user", p.UserID).Str("run_as", account).Msg("identity assumed")
	return sub, nil
}

func (r *Router) routeDAVMethod(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w}

	switch req.Method {
	case "PROPFIND":
		r.handlers.HandlePropfind(rec, req)
	case "REPORT":
		r.handlers.HandleReport(rec, req)
	case http.MethodGet:
		r.handlers.HandleGet(rec, req)
	case http.MethodHead:
		r.handlers.HandleHead(rec, req)
	case http.MethodPut:
		r.handlers.HandlePut(rec, req)
	case http.MethodDelete:
		r.handlers.HandleDelete(rec, req)
	case http.MethodPost:
		r.handlers.HandlePost(rec, req)
	case "MKCALENDAR":
		r.handlers.HandleMkcalendar(rec, req)
	case "COPY":
		r.handlers.HandleCopy(rec, req)
	case "MOVE":
		r.handlers.HandleMove(rec, req)
	default:
		http.Error(rec, "method not allowed", http.StatusMethodNotAllowed)
	}

	dur := time.Since(start)
	status := statusOrDefault(rec.status)
	if r.cfg.EnableMetrics {
		metrics.ObserveRequest(req.Method, status, dur)
	}

	evt := r.logger.Info()
	if readOnlyMethod(req.Method) {
		evt = r.logger.Debug()
	}
	if p, ok := auth.PrincipalFrom(req.Context()); ok {
		evt = evt.Str("user", p.UserID)
	}
	if cid := req.Header.Get("Client-Id"); cid != "" {
		evt = evt.Str("client_id", cid)
	}
	evt.Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", status).
		Int("bytes", rec.bytes).
		Float64("duration_ms", float64(dur.Microseconds())/1000.0).
		Str("ip", realIP(req)).
		Str("user_agent", req.Header.Get("User-Agent")).
		Msg("http request")
}

func readOnlyMethod(m string) bool {
	switch m {
	case "PROPFIND", "REPORT", http.MethodGet, http.MethodHead:
		return true
	}
	return false
}

func (r *Router) authenticate(req *http.Request) (*auth.Principal, error) {
	authz := req.Header.Get("Authorization")
	lower := strings.ToLower(authz)

	// Prefer Bearer if present and enabled
	if strings.HasPrefix(lower, "bearer ") && r.auth.BearerEnabled() {
		return r.auth.BearerAuthenticate(req.Context(), strings.TrimSpace(authz[7:]))
	}

	if r.auth.BasicEnabled() {
		return r.auth.BasicAuthenticate(req.Context(), authz)
	}

	return nil, errors.New("no auth")
}

func (r *Router) logAttempt(req *http.Request, username string, authErr error) {
	authz := req.Header.Get("Authorization")
	authType := ""
	if i := strings.IndexByte(authz, ' '); i > 0 {
		authType = strings.ToLower(authz[:i])
	}

	evt := r.logger.Info().
		Bool("auth_success", false).
		Str("user", username).
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Str("ip", realIP(req)).
		Str("user_agent", req.Header.Get("User-Agent")).
		Str("auth_type", authType)
	if authErr != nil {
		evt = evt.Str("error", authErr.Error())
	}
	evt.Msg("auth attempt")
}
