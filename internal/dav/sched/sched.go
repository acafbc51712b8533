// Package sched implements the scheduling POST pipeline: same-server CalDAV
// outbox POSTs and inbound iSchedule federation.
package sched

import (
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/calagora/caldav/internal/config"
	"github.com/calagora/caldav/internal/dav/derr"
	"github.com/calagora/caldav/internal/dav/ischedule"
	"github.com/calagora/caldav/internal/dav/resolver"
	"github.com/calagora/caldav/internal/engine"
	"github.com/calagora/caldav/pkg/ical"
)

type Handler struct {
	eng            engine.Engine
	res            *resolver.Resolver
	verifier       ischedule.Verifier
	logger         zerolog.Logger
	maxBody        int64
	principalHosts []string
	enabled        bool
	requireDKIM    bool
}

func NewHandler(eng engine.Engine, res *resolver.Resolver, verifier ischedule.Verifier, cfg *config.Config, logger zerolog.Logger) *Handler {
	if verifier == nil {
		verifier = ischedule.BodyHashVerifier{}
	}
	maxBody := cfg.HTTP.MaxICSBytes
	if maxBody <= 0 {
		maxBody = 8 << 20
	}
	return &Handler{
		eng: eng, res: res, verifier: verifier,
		principalHosts: cfg.HTTP.PublicURLs,
		maxBody:        maxBody,
		enabled:        cfg.Schedule.EnableISchedule,
		requireDKIM:    cfg.Schedule.RequireDKIM,
		logger:         logger.With().Str("component", "sched").Logger(),
	}
}

// Post dispatches a POST by request shape, most specific first: add-member,
// the SOAP web services, the iSchedule endpoint, then plain CalDAV.
func (h *Handler) Post(w http.ResponseWriter, r *http.Request, path string) error {
	if r.URL.Query().Has("add-member") {
		return derr.Forbidden("", "add-member POST is not supported")
	}
	ct := contentType(r)
	if ct == "application/soap+xml" || r.Header.Get("SOAPAction") != "" {
		return derr.Forbidden("", "SOAP web service requests are not supported")
	}
	if path == h.eng.SysProperties().IScheduleURI {
		return h.postISchedule(w, r)
	}
	return h.postCalDAV(w, r, path)
}

// postCalDAV handles a scheduling POST on an authenticated user's Outbox.
func (h *Handler) postCalDAV(w http.ResponseWriter, r *http.Request, path string) error {
	ref, err := h.res.Resolve(r.Context(), path, resolver.MustExist, resolver.WantCollection, nil)
	if err != nil {
		return err
	}
	if ref.Col == nil || ref.Col.Type != engine.ColOutbox {
		return derr.Forbidden("", "POST target is not a schedule outbox")
	}

	body, err := h.readBody(r)
	if err != nil {
		return err
	}
	ent, err := h.eng.FromIcal(r.Context(), ref.Col, body, contentType(r))
	if err != nil {
		return derr.Forbidden(derr.TagValidCalendarData, err.Error())
	}
	if err := checkMethod(ent.ScheduleMethod); err != nil {
		return err
	}

	// REQUEST-class traffic may only originate from the organizer's own
	// outbox.
	if ical.RequestClass(ent.ScheduleMethod) {
		if err := h.checkOrganizerOutbox(r, ent, path); err != nil {
			return err
		}
	}

	switch ent.Type {
	case engine.TypeFreeBusy:
		originator, err := h.callerAddress(r, ent)
		if err != nil {
			return err
		}
		if err := validateOriginator(originator, ent, false); err != nil {
			return err
		}
		return h.handleFreeBusy(w, r, ent, false)
	default:
		return derr.Forbidden("", "scheduling POST for "+ent.Type.Component()+" is not supported")
	}
}

// postISchedule handles an inbound federation POST on the iSchedule
// endpoint.
func (h *Handler) postISchedule(w http.ResponseWriter, r *http.Request) error {
	if !h.enabled {
		return derr.Forbidden("", "ischedule endpoint is disabled")
	}
	ct := contentType(r)
	if ct != "text/calendar" && ct != "application/calendar+xml" {
		return derr.Forbidden(derr.TagInvalidCalendarDataType, "unsupported content type "+ct)
	}

	msg, err := ischedule.Parse(r.Header, h.principalHosts)
	if err != nil {
		return err
	}
	if msg.Originator == "" {
		return derr.Forbidden(derr.TagOriginatorMissing, "missing Originator header")
	}
	if len(msg.Recipients) == 0 {
		return derr.Forbidden(derr.TagRecipientMissing, "missing Recipient header")
	}
	if msg.MessageID == "" {
		return derr.Forbidden(derr.TagValidSchedulingMessage, "missing iSchedule-Message-Id header")
	}

	if h.requireDKIM && msg.Signature == nil {
		return derr.Forbidden(derr.TagVerificationFailed, "unsigned message rejected by policy")
	}

	body, err := h.readBody(r)
	if err != nil {
		return err
	}
	if err := ischedule.Validate(msg, body, h.verifier, h.logger); err != nil {
		return err
	}

	obj, err := ical.ParseObject(body)
	if err != nil {
		return derr.Forbidden(derr.TagValidCalendarData, err.Error())
	}
	ent := entityFromObject(obj, body)
	ent.Recipients = msg.Recipients
	if err := checkMethod(ent.ScheduleMethod); err != nil {
		return err
	}
	if err := validateOriginator(msg.Originator, ent, true); err != nil {
		return err
	}

	h.logger.Info().
		Str("originator", msg.Originator).
		Str("method", ent.ScheduleMethod).
		Int("recipients", len(msg.Recipients)).
		Str("message_id", msg.MessageID).
		Msg("ischedule message accepted")

	switch ent.Type {
	case engine.TypeEvent, engine.TypeTask:
		return h.handleEvent(w, r, ent)
	case engine.TypeFreeBusy:
		return h.handleFreeBusy(w, r, ent, true)
	default:
		return derr.Forbidden("", "ischedule POST for "+ent.Type.Component()+" is not supported")
	}
}

// handleFreeBusy answers with one response element per recipient, inlining
// the computed free-busy reply where delivery succeeded.
func (h *Handler) handleFreeBusy(w http.ResponseWriter, r *http.Request, ent *engine.Entity, isched bool) error {
	results, err := h.eng.RequestFreeBusy(r.Context(), ent)
	if err != nil {
		return derr.Wrap(err)
	}
	return h.writeResponse(w, r, results, true, isched)
}

// handleEvent delivers the message and reports per-recipient status only;
// event responses never echo calendar data.
func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request, ent *engine.Entity) error {
	results, err := h.eng.Schedule(r.Context(), ent)
	if err != nil {
		return derr.Wrap(err)
	}
	return h.writeResponse(w, r, results, false, true)
}

// checkOrganizerOutbox verifies the component's organizer resolves to a
// principal whose outbox is the request target.
func (h *Handler) checkOrganizerOutbox(r *http.Request, ent *engine.Entity, path string) error {
	if ent.Organizer == nil || ent.Organizer.Address == "" {
		return derr.BadRequestTag(derr.TagValidCalendarData, "Missing organizer")
	}
	p, err := h.eng.PrincipalByAddress(r.Context(), ent.Organizer.Address)
	if err != nil {
		return derr.Forbidden(derr.TagOrganizerAllowed, "organizer is not a known principal")
	}
	if p.OutboxPath != resolver.Normalize(path) {
		return derr.Forbidden(derr.TagOrganizerAllowed, "organizer may only post to own outbox")
	}
	return nil
}

// callerAddress resolves the same-server originator: the component's
// organizer when present, the authenticated principal's address otherwise.
func (h *Handler) callerAddress(r *http.Request, ent *engine.Entity) (string, error) {
	if ent.Organizer != nil && ent.Organizer.Address != "" {
		return ent.Organizer.Address, nil
	}
	return "", derr.BadRequestTag(derr.TagValidCalendarData, "Missing organizer")
}

func (h *Handler) readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBody))
	if err != nil {
		return nil, derr.BadRequest("unreadable body")
	}
	_ = r.Body.Close()
	return body, nil
}

func checkMethod(method string) error {
	if method == "" {
		return derr.Forbidden(derr.TagValidCalendarData, "calendar carries no iTIP METHOD")
	}
	if !ical.ValidITIPMethod(method) {
		return derr.Forbidden(derr.TagValidCalendarData, "unknown iTIP method "+method)
	}
	return nil
}

func entityFromObject(obj *ical.Object, raw []byte) *engine.Entity {
	ent := &engine.Entity{
		UID:            obj.UID,
		Summary:        obj.Summary,
		AttendeeURIs:   obj.Attendees,
		ScheduleMethod: obj.Method,
		Start:          obj.Start,
		End:            obj.End,
		Type:           engine.EntityTypeFor(obj.Component),
		Data:           string(raw),
	}
	if obj.Organizer != nil {
		ent.Organizer = &engine.Organizer{
			CN:      obj.Organizer.CN,
			SentBy:  obj.Organizer.SentBy,
			Address: obj.Organizer.Address,
		}
	}
	return ent
}

func contentType(r *http.Request) string {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(ct))
	}
	return mt
}
