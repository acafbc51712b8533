package dav

import (
	"net/http"
	"strings"

	"github.com/calagora/caldav/internal/dav/ischedule"
)

const davCompliance = "1, 3, access-control, calendar-access, calendar-schedule, calendar-auto-schedule"

var allowedMethods = []string{
	http.MethodOptions, http.MethodGet, http.MethodHead, http.MethodPut,
	http.MethodDelete, http.MethodPost, "PROPFIND", "REPORT", "MKCALENDAR",
	"COPY", "MOVE",
}

// HandleOptions advertises the supported DAV compliance classes and methods.
func (h *Handlers) HandleOptions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("DAV", davCompliance)
	w.Header().Set("Allow", strings.Join(allowedMethods, ", "))
	w.WriteHeader(http.StatusOK)
}

// HandleWellKnown redirects /.well-known/caldav to the service root.
func (h *Handlers) HandleWellKnown(w http.ResponseWriter, r *http.Request) {
	target := h.basePath
	if target == "" {
		target = "/"
	}
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}

// HandleIScheduleGet serves the iSchedule capabilities document.
func (h *Handlers) HandleIScheduleGet(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.Schedule.EnableISchedule {
		http.NotFound(w, r)
		return
	}
	if r.URL.Query().Get("action") != "capabilities" {
		http.Error(w, "unknown action", http.StatusBadRequest)
		return
	}
	caps := ischedule.DefaultCapabilities(h.cfg.HTTP.MaxICSBytes)
	if err := ischedule.WriteCapabilities(w, caps); err != nil {
		h.logger.Error().Err(err).Msg("capabilities render failed")
	}
}
