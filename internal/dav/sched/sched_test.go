package sched

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calagora/caldav/internal/config"
	"github.com/calagora/caldav/internal/dav/derr"
	"github.com/calagora/caldav/internal/dav/ischedule"
	"github.com/calagora/caldav/internal/dav/resolver"
	"github.com/calagora/caldav/internal/engine"
	"github.com/calagora/caldav/internal/engine/enginetest"
)

func testConfig() *config.Config {
	return &config.Config{
		HTTP: config.HTTPConfig{PublicURLs: []string{"https://cal.example.com"}},
		Schedule: config.ScheduleConfig{
			EnableISchedule: true,
			ISchedulePath:   "/ischedule",
		},
	}
}

func newTestHandler(t *testing.T) (*Handler, *enginetest.Fake) {
	t.Helper()
	fake := enginetest.New()
	res := resolver.New(fake, "/principals")
	h := NewHandler(fake, res, nil, testConfig(), zerolog.Nop())
	return h, fake
}

func freeBusyICS(method, organizer string, attendees ...string) string {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\nMETHOD:" + method + "\r\n")
	b.WriteString("BEGIN:VFREEBUSY\r\nUID:fb1\r\nDTSTAMP:20260101T000000Z\r\n")
	b.WriteString("DTSTART:20260601T000000Z\r\nDTEND:20260602T000000Z\r\n")
	if organizer != "" {
		b.WriteString("ORGANIZER:" + organizer + "\r\n")
	}
	for _, a := range attendees {
		b.WriteString("ATTENDEE:" + a + "\r\n")
	}
	b.WriteString("END:VFREEBUSY\r\nEND:VCALENDAR\r\n")
	return b.String()
}

func eventICS(method, organizer string, attendees ...string) string {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\nMETHOD:" + method + "\r\n")
	b.WriteString("BEGIN:VEVENT\r\nUID:ev1\r\nDTSTAMP:20260101T000000Z\r\n")
	b.WriteString("DTSTART:20260601T100000Z\r\nDTEND:20260601T110000Z\r\nSUMMARY:m\r\n")
	if organizer != "" {
		b.WriteString("ORGANIZER:" + organizer + "\r\n")
	}
	for _, a := range attendees {
		b.WriteString("ATTENDEE:" + a + "\r\n")
	}
	b.WriteString("END:VEVENT\r\nEND:VCALENDAR\r\n")
	return b.String()
}

func entity(method, organizer string, attendees ...string) *engine.Entity {
	ent := &engine.Entity{ScheduleMethod: method, AttendeeURIs: attendees}
	if organizer != "" {
		ent.Organizer = &engine.Organizer{Address: organizer}
	}
	return ent
}

// One case per row of the originator policy.
func TestValidateOriginatorTable(t *testing.T) {
	org := "mailto:org@example.com"
	att := "mailto:att@example.com"
	other := "mailto:other@example.com"

	cases := []struct {
		name       string
		originator string
		ent        *engine.Entity
		isched     bool
		wantErr    bool
		wantTag    string
	}{
		{name: "publish needs nothing", originator: other, ent: entity("PUBLISH", "")},
		{name: "refresh unconstrained originator", originator: other, ent: entity("REFRESH", org)},
		{name: "request by organizer", originator: org, ent: entity("REQUEST", org, att, other)},
		{name: "request sole-attendee fallback", originator: att, ent: entity("REQUEST", org, att)},
		{name: "request non-sole attendee rejected over ischedule", originator: att,
			ent: entity("REQUEST", org, att, other), isched: true, wantErr: true, wantTag: derr.TagValidSchedulingMessage},
		{name: "request mismatched originator", originator: other, ent: entity("REQUEST", org, att),
			wantErr: true, wantTag: derr.TagValidSchedulingMessage},
		{name: "add organizer only", originator: org, ent: entity("ADD", org, att)},
		{name: "cancel attendee has no fallback", originator: att, ent: entity("CANCEL", org, att),
			wantErr: true, wantTag: derr.TagValidSchedulingMessage},
		{name: "declinecounter organizer only", originator: org, ent: entity("DECLINECOUNTER", org, att)},
		{name: "reply by sole attendee", originator: att, ent: entity("REPLY", org, att), isched: true},
		{name: "reply multi-attendee rejected over ischedule", originator: att,
			ent: entity("REPLY", org, att, other), isched: true, wantErr: true, wantTag: derr.TagValidSchedulingMessage},
		{name: "counter by organizer rejected", originator: org, ent: entity("COUNTER", org, att),
			wantErr: true, wantTag: derr.TagValidSchedulingMessage},
		{name: "missing organizer on non-publish", originator: att, ent: entity("REPLY", "", att),
			wantErr: true, wantTag: derr.TagValidCalendarData},
		{name: "case and scheme insensitive match", originator: "ORG@EXAMPLE.COM", ent: entity("ADD", org, att)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateOriginator(tc.originator, tc.ent, tc.isched)
			if !tc.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.wantTag, derr.As(err).Precondition)
		})
	}
}

func TestMissingOrganizerIsBadRequest(t *testing.T) {
	err := validateOriginator("mailto:a@example.com", entity("REQUEST", "", "mailto:a@example.com"), false)
	require.Error(t, err)
	de := derr.As(err)
	assert.Equal(t, derr.KindBadRequest, de.Kind)
	assert.Contains(t, de.Msg, "Missing organizer")
}

func TestPostOutboxPrecondition(t *testing.T) {
	h, fake := newTestHandler(t)
	fake.AddPrincipal("fred", "fred@example.com")

	body := freeBusyICS("REQUEST", "mailto:fred@example.com", "mailto:barney@example.org")
	req := httptest.NewRequest("POST", "/user/fred/calendar", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/calendar")
	err := h.Post(httptest.NewRecorder(), req, "/user/fred/calendar")
	require.Error(t, err)
	assert.True(t, derr.Is(err, derr.KindForbidden))
}

func TestPostRejectsForeignOutbox(t *testing.T) {
	h, fake := newTestHandler(t)
	fake.AddPrincipal("fred", "fred@example.com")
	fake.AddPrincipal("barney", "barney@example.org")

	// Fred's REQUEST posted to Barney's outbox.
	body := freeBusyICS("REQUEST", "mailto:fred@example.com", "mailto:barney@example.org")
	req := httptest.NewRequest("POST", "/user/barney/Outbox", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/calendar")
	err := h.Post(httptest.NewRecorder(), req, "/user/barney/Outbox")
	require.Error(t, err)
	assert.Equal(t, derr.TagOrganizerAllowed, derr.As(err).Precondition)
}

func TestPostFreeBusyResponse(t *testing.T) {
	h, fake := newTestHandler(t)
	fake.AddPrincipal("fred", "fred@example.com")
	fake.AddPrincipal("barney", "barney@example.org")

	body := freeBusyICS("REQUEST", "mailto:fred@example.com", "mailto:barney@example.org", "mailto:nobody@example.net")
	req := httptest.NewRequest("POST", "/user/fred/Outbox", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/calendar")
	w := httptest.NewRecorder()
	require.NoError(t, h.Post(w, req, "/user/fred/Outbox"))

	out := w.Body.String()
	assert.Equal(t, 200, w.Code)
	assert.Contains(t, out, "C:schedule-response")
	assert.Contains(t, out, "mailto:barney@example.org")
	assert.Contains(t, out, "2.0;Success")
	assert.Contains(t, out, "3.7;Invalid calendar user")
	assert.Contains(t, out, "VFREEBUSY")
}

func TestPostRejectsMethodlessBody(t *testing.T) {
	h, fake := newTestHandler(t)
	fake.AddPrincipal("fred", "fred@example.com")

	body := freeBusyICS("", "mailto:fred@example.com", "mailto:barney@example.org")
	body = strings.Replace(body, "METHOD:\r\n", "", 1)
	req := httptest.NewRequest("POST", "/user/fred/Outbox", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/calendar")
	err := h.Post(httptest.NewRecorder(), req, "/user/fred/Outbox")
	require.Error(t, err)
	assert.Equal(t, derr.TagValidCalendarData, derr.As(err).Precondition)
}

func TestPostAddMemberRejected(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest("POST", "/user/fred/calendar?add-member", strings.NewReader(""))
	err := h.Post(httptest.NewRecorder(), req, "/user/fred/calendar")
	require.Error(t, err)
	assert.True(t, derr.Is(err, derr.KindForbidden))
}

func TestIScheduleMissingHeaders(t *testing.T) {
	h, _ := newTestHandler(t)
	body := eventICS("REQUEST", "mailto:org@remote.example", "mailto:fred@example.com")

	req := httptest.NewRequest("POST", "/ischedule", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/calendar")
	err := h.Post(httptest.NewRecorder(), req, "/ischedule")
	require.Error(t, err)
	assert.Equal(t, derr.TagOriginatorMissing, derr.As(err).Precondition)

	req = httptest.NewRequest("POST", "/ischedule", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/calendar")
	req.Header.Set("Originator", "mailto:org@remote.example")
	err = h.Post(httptest.NewRecorder(), req, "/ischedule")
	require.Error(t, err)
	assert.Equal(t, derr.TagRecipientMissing, derr.As(err).Precondition)
}

func TestIScheduleContentType(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest("POST", "/ischedule", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	err := h.Post(httptest.NewRecorder(), req, "/ischedule")
	require.Error(t, err)
	assert.Equal(t, derr.TagInvalidCalendarDataType, derr.As(err).Precondition)
}

// An unsigned inbound message is accepted; the sending host just stays
// unchecked.
func TestIScheduleUnsignedProceeds(t *testing.T) {
	h, fake := newTestHandler(t)
	fake.AddPrincipal("fred", "fred@example.com")

	body := eventICS("REQUEST", "mailto:org@remote.example", "mailto:fred@example.com")
	req := httptest.NewRequest("POST", "/ischedule", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/calendar")
	req.Header.Set("Originator", "mailto:org@remote.example")
	req.Header.Set("Recipient", "mailto:fred@example.com")
	req.Header.Set("iSchedule-Message-Id", "<m1@remote.example>")

	w := httptest.NewRecorder()
	require.NoError(t, h.Post(w, req, "/ischedule"))
	out := w.Body.String()
	assert.Contains(t, out, `xmlns="urn:ietf:params:xml:ns:ischedule"`)
	assert.Contains(t, out, "2.0;Success")
	// Events never echo calendar data back.
	assert.NotContains(t, out, "BEGIN:VCALENDAR")
}

func TestIScheduleFailingSignatureRejected(t *testing.T) {
	h, fake := newTestHandler(t)
	fake.AddPrincipal("fred", "fred@example.com")

	body := eventICS("REQUEST", "mailto:org@remote.example", "mailto:fred@example.com")
	req := httptest.NewRequest("POST", "/ischedule", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/calendar")
	req.Header.Set("Originator", "mailto:org@remote.example")
	req.Header.Set("Recipient", "mailto:fred@example.com")
	req.Header.Set("iSchedule-Message-Id", "<m1@remote.example>")
	req.Header.Set("DKIM-Signature",
		"v=1; a=rsa-sha256; d=remote.example; s=sel; h=originator; bh="+ischedule.BodyHash([]byte("tampered"))+"; b=sig")

	err := h.Post(httptest.NewRecorder(), req, "/ischedule")
	require.Error(t, err)
	de := derr.As(err)
	assert.Equal(t, derr.KindForbidden, de.Kind)
	assert.Equal(t, derr.TagVerificationFailed, de.Precondition)
}

func TestIScheduleGoodSignatureAccepted(t *testing.T) {
	h, fake := newTestHandler(t)
	fake.AddPrincipal("fred", "fred@example.com")

	body := eventICS("REQUEST", "mailto:org@remote.example", "mailto:fred@example.com")
	req := httptest.NewRequest("POST", "/ischedule", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/calendar")
	req.Header.Set("Originator", "mailto:org@remote.example")
	req.Header.Set("Recipient", "mailto:fred@example.com")
	req.Header.Set("iSchedule-Message-Id", "<m1@remote.example>")
	req.Header.Set("DKIM-Signature",
		"v=1; a=rsa-sha256; d=remote.example; s=sel; h=originator; bh="+ischedule.BodyHash([]byte(body))+"; b=sig")

	w := httptest.NewRecorder()
	require.NoError(t, h.Post(w, req, "/ischedule"))
	assert.Contains(t, w.Body.String(), "2.0;Success")
}

func TestIScheduleMultiAttendeeReplyRejected(t *testing.T) {
	h, fake := newTestHandler(t)
	fake.AddPrincipal("fred", "fred@example.com")

	body := eventICS("REPLY", "mailto:fred@example.com",
		"mailto:att@remote.example", "mailto:other@remote.example")
	req := httptest.NewRequest("POST", "/ischedule", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/calendar")
	req.Header.Set("Originator", "mailto:att@remote.example")
	req.Header.Set("Recipient", "mailto:fred@example.com")
	req.Header.Set("iSchedule-Message-Id", "<m2@remote.example>")

	err := h.Post(httptest.NewRecorder(), req, "/ischedule")
	require.Error(t, err)
	assert.Equal(t, derr.TagValidSchedulingMessage, derr.As(err).Precondition)
}

func TestIScheduleFreeBusy(t *testing.T) {
	h, fake := newTestHandler(t)
	fake.AddPrincipal("fred", "fred@example.com")

	body := freeBusyICS("REQUEST", "mailto:org@remote.example", "mailto:org@remote.example")
	body = strings.Replace(body, "ATTENDEE:mailto:org@remote.example\r\n",
		"ATTENDEE:mailto:fred@example.com\r\n", 1)
	req := httptest.NewRequest("POST", "/ischedule", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/calendar")
	req.Header.Set("Originator", "mailto:org@remote.example")
	req.Header.Set("Recipient", "mailto:fred@example.com")
	req.Header.Set("iSchedule-Message-Id", "<m3@remote.example>")

	w := httptest.NewRecorder()
	require.NoError(t, h.Post(w, req, "/ischedule"))
	out := w.Body.String()
	assert.Contains(t, out, "2.0;Success")
	assert.Contains(t, out, "VFREEBUSY")
}

// With the strict policy enabled an unsigned message no longer passes.
func TestIScheduleRequireDKIM(t *testing.T) {
	fake := enginetest.New()
	fake.AddPrincipal("fred", "fred@example.com")
	cfg := testConfig()
	cfg.Schedule.RequireDKIM = true
	h := NewHandler(fake, resolver.New(fake, "/principals"), nil, cfg, zerolog.Nop())

	body := eventICS("REQUEST", "mailto:org@remote.example", "mailto:fred@example.com")
	req := httptest.NewRequest("POST", "/ischedule", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/calendar")
	req.Header.Set("Originator", "mailto:org@remote.example")
	req.Header.Set("Recipient", "mailto:fred@example.com")
	req.Header.Set("iSchedule-Message-Id", "<m1@remote.example>")

	err := h.Post(httptest.NewRecorder(), req, "/ischedule")
	require.Error(t, err)
	assert.Equal(t, derr.TagVerificationFailed, derr.As(err).Precondition)
}

func TestRequestStatusTable(t *testing.T) {
	assert.Equal(t, "2.0;Success", RequestStatus(engine.DeliverOK))
	assert.Equal(t, "3.7;Invalid calendar user", RequestStatus(engine.DeliverInvalidUser))
	assert.Equal(t, "3.8;No authority", RequestStatus(engine.DeliverNoAccess))
	assert.Equal(t, "5.1;Service unavailable. Request deferred", RequestStatus(engine.DeliverDeferred))
	assert.Equal(t, "5.2;Unable to deliver", RequestStatus(engine.DeliverError))
}
