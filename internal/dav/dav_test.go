package dav

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calagora/caldav/internal/config"
	"github.com/calagora/caldav/internal/engine"
	"github.com/calagora/caldav/internal/engine/enginetest"
)

func testConfig() *config.Config {
	return &config.Config{
		PrincipalPrefix: "/principals",
		HTTP: config.HTTPConfig{
			MaxICSBytes: 1 << 20,
			MaxXMLBytes: 1 << 20,
		},
		Schedule: config.ScheduleConfig{
			EnableISchedule: true,
			ISchedulePath:   "/ischedule",
		},
	}
}

func newHandlers(t *testing.T) (*Handlers, *enginetest.Fake) {
	t.Helper()
	fake := enginetest.New()
	fake.AddPrincipal("fred", "fred@example.com")
	return NewHandlers(testConfig(), fake, zerolog.Nop()), fake
}

func icsEvent(uid string) string {
	return "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\nBEGIN:VEVENT\r\nUID:" + uid +
		"\r\nDTSTAMP:20260101T000000Z\r\nDTSTART:20260601T100000Z\r\nDTEND:20260601T110000Z\r\nSUMMARY:" + uid +
		"\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"
}

func icsMeeting(uid string) string {
	return "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\nBEGIN:VEVENT\r\nUID:" + uid +
		"\r\nDTSTAMP:20260101T000000Z\r\nDTSTART:20260601T100000Z\r\nDTEND:20260601T110000Z" +
		"\r\nORGANIZER:mailto:fred@example.com\r\nATTENDEE:mailto:wilma@example.com\r\nSUMMARY:" + uid +
		"\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"
}

func addEvent(fake *enginetest.Fake, colPath, uid string) *engine.Entity {
	start := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	return fake.AddEnt(&engine.Entity{
		UID: uid, Name: uid + ".ics", CollectionPath: colPath, Owner: "fred",
		Data: icsEvent(uid), Start: &start, End: &end,
	})
}

func TestPutCreate(t *testing.T) {
	h, fake := newHandlers(t)

	req := httptest.NewRequest("PUT", "/user/fred/calendar/meet.ics", strings.NewReader(icsEvent("meet")))
	req.Header.Set("Content-Type", "text/calendar")
	w := httptest.NewRecorder()
	h.HandlePut(w, req)

	require.Equal(t, 201, w.Code)
	assert.NotEmpty(t, w.Header().Get("ETag"))
	ent := fake.Ents["/user/fred/calendar/meet.ics"]
	require.NotNil(t, ent)
	assert.Equal(t, "meet", ent.UID)
}

// PUT addressed at the calendar collection itself stores the object under a
// UID-derived name.
func TestPutToCalendarDerivesName(t *testing.T) {
	h, fake := newHandlers(t)

	req := httptest.NewRequest("PUT", "/user/fred/calendar", strings.NewReader(icsEvent("auto")))
	req.Header.Set("Content-Type", "text/calendar")
	w := httptest.NewRecorder()
	h.HandlePut(w, req)

	require.Equal(t, 201, w.Code)
	ent := fake.Ents["/user/fred/calendar/auto.ics"]
	require.NotNil(t, ent)
	assert.Equal(t, "auto", ent.UID)
}

func TestPutToFolderRefused(t *testing.T) {
	h, _ := newHandlers(t)

	req := httptest.NewRequest("PUT", "/user/fred", strings.NewReader(icsEvent("auto")))
	req.Header.Set("Content-Type", "text/calendar")
	w := httptest.NewRecorder()
	h.HandlePut(w, req)

	assert.Equal(t, 403, w.Code)
}

func TestPutIfMatchMismatch(t *testing.T) {
	h, fake := newHandlers(t)
	addEvent(fake, "/user/fred/calendar", "meet")

	req := httptest.NewRequest("PUT", "/user/fred/calendar/meet.ics", strings.NewReader(icsEvent("meet")))
	req.Header.Set("Content-Type", "text/calendar")
	req.Header.Set("If-Match", `"stale"`)
	w := httptest.NewRecorder()
	h.HandlePut(w, req)

	assert.Equal(t, 412, w.Code)
	assert.True(t, fake.RolledBack)
}

func TestPutIfMatchCurrent(t *testing.T) {
	h, fake := newHandlers(t)
	ent := addEvent(fake, "/user/fred/calendar", "meet")

	req := httptest.NewRequest("PUT", "/user/fred/calendar/meet.ics", strings.NewReader(icsEvent("meet")))
	req.Header.Set("Content-Type", "text/calendar")
	req.Header.Set("If-Match", `"`+ent.ETag+`"`)
	w := httptest.NewRecorder()
	h.HandlePut(w, req)

	assert.Equal(t, 204, w.Code)
}

func TestPutIfNoneMatchStarOnExisting(t *testing.T) {
	h, fake := newHandlers(t)
	addEvent(fake, "/user/fred/calendar", "meet")

	req := httptest.NewRequest("PUT", "/user/fred/calendar/meet.ics", strings.NewReader(icsEvent("meet")))
	req.Header.Set("Content-Type", "text/calendar")
	req.Header.Set("If-None-Match", "*")
	w := httptest.NewRecorder()
	h.HandlePut(w, req)

	assert.Equal(t, 412, w.Code)
}

func TestPutUIDConflict(t *testing.T) {
	h, fake := newHandlers(t)
	addEvent(fake, "/user/fred/calendar", "dup")

	req := httptest.NewRequest("PUT", "/user/fred/calendar/other.ics", strings.NewReader(icsEvent("dup")))
	req.Header.Set("Content-Type", "text/calendar")
	w := httptest.NewRecorder()
	h.HandlePut(w, req)

	require.Equal(t, 403, w.Code)
	assert.Contains(t, w.Body.String(), "no-uid-conflict")
}

func TestPutRejectsUIDSwap(t *testing.T) {
	h, fake := newHandlers(t)
	addEvent(fake, "/user/fred/calendar", "meet")

	req := httptest.NewRequest("PUT", "/user/fred/calendar/meet.ics", strings.NewReader(icsEvent("another")))
	req.Header.Set("Content-Type", "text/calendar")
	w := httptest.NewRecorder()
	h.HandlePut(w, req)

	require.Equal(t, 403, w.Code)
	assert.Contains(t, w.Body.String(), "no-uid-conflict")
}

func TestPutUnsupportedContentType(t *testing.T) {
	h, _ := newHandlers(t)

	req := httptest.NewRequest("PUT", "/user/fred/calendar/meet.ics", strings.NewReader("hello"))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	h.HandlePut(w, req)

	require.Equal(t, 403, w.Code)
	assert.Contains(t, w.Body.String(), "supported-calendar-data")
}

func TestPutScheduleTagOnUpdate(t *testing.T) {
	h, _ := newHandlers(t)

	create := httptest.NewRequest("PUT", "/user/fred/calendar/mtg.ics", strings.NewReader(icsMeeting("mtg")))
	create.Header.Set("Content-Type", "text/calendar")
	w := httptest.NewRecorder()
	h.HandlePut(w, create)
	require.Equal(t, 201, w.Code)

	update := httptest.NewRequest("PUT", "/user/fred/calendar/mtg.ics", strings.NewReader(icsMeeting("mtg")))
	update.Header.Set("Content-Type", "text/calendar")
	w = httptest.NewRecorder()
	h.HandlePut(w, update)

	require.Equal(t, 204, w.Code)
	assert.NotEmpty(t, w.Header().Get("Schedule-Tag"))
}

func TestGetEntity(t *testing.T) {
	h, fake := newHandlers(t)
	ent := addEvent(fake, "/user/fred/calendar", "meet")

	req := httptest.NewRequest("GET", "/user/fred/calendar/meet.ics", nil)
	w := httptest.NewRecorder()
	h.HandleGet(w, req)

	require.Equal(t, 200, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/calendar")
	assert.Equal(t, `"`+ent.ETag+`"`, w.Header().Get("ETag"))
	assert.Contains(t, w.Body.String(), "BEGIN:VCALENDAR")
}

func TestGetNotModified(t *testing.T) {
	h, fake := newHandlers(t)
	ent := addEvent(fake, "/user/fred/calendar", "meet")

	req := httptest.NewRequest("GET", "/user/fred/calendar/meet.ics", nil)
	req.Header.Set("If-None-Match", `"`+ent.ETag+`"`)
	w := httptest.NewRecorder()
	h.HandleGet(w, req)

	assert.Equal(t, 304, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestGetCollectionRefused(t *testing.T) {
	h, _ := newHandlers(t)

	req := httptest.NewRequest("GET", "/user/fred/calendar", nil)
	w := httptest.NewRecorder()
	h.HandleGet(w, req)

	assert.Equal(t, 403, w.Code)
}

func TestGetMissing(t *testing.T) {
	h, _ := newHandlers(t)

	req := httptest.NewRequest("GET", "/user/fred/calendar/nope.ics", nil)
	w := httptest.NewRecorder()
	h.HandleGet(w, req)

	assert.Equal(t, 404, w.Code)
}

func TestDeleteEntity(t *testing.T) {
	h, fake := newHandlers(t)
	addEvent(fake, "/user/fred/calendar", "meet")

	req := httptest.NewRequest("DELETE", "/user/fred/calendar/meet.ics", nil)
	w := httptest.NewRecorder()
	h.HandleDelete(w, req)

	require.Equal(t, 204, w.Code)
	assert.NotContains(t, fake.Ents, "/user/fred/calendar/meet.ics")
}

func TestDeleteIfMatchMismatch(t *testing.T) {
	h, fake := newHandlers(t)
	addEvent(fake, "/user/fred/calendar", "meet")

	req := httptest.NewRequest("DELETE", "/user/fred/calendar/meet.ics", nil)
	req.Header.Set("If-Match", `"stale"`)
	w := httptest.NewRecorder()
	h.HandleDelete(w, req)

	assert.Equal(t, 412, w.Code)
	assert.Contains(t, fake.Ents, "/user/fred/calendar/meet.ics")
}

func TestCopyEntity(t *testing.T) {
	h, fake := newHandlers(t)
	addEvent(fake, "/user/fred/calendar", "meet")

	req := httptest.NewRequest("COPY", "/user/fred/calendar/meet.ics", nil)
	req.Header.Set("Destination", "/user/fred/calendar/copy.ics")
	w := httptest.NewRecorder()
	h.HandleCopy(w, req)

	require.Equal(t, 201, w.Code)
	assert.Contains(t, fake.Ents, "/user/fred/calendar/meet.ics")
	assert.Contains(t, fake.Ents, "/user/fred/calendar/copy.ics")
}

func TestMoveEntity(t *testing.T) {
	h, fake := newHandlers(t)
	addEvent(fake, "/user/fred/calendar", "meet")

	req := httptest.NewRequest("MOVE", "/user/fred/calendar/meet.ics", nil)
	req.Header.Set("Destination", "https://cal.example.com/user/fred/Inbox/meet.ics")
	w := httptest.NewRecorder()
	h.HandleMove(w, req)

	require.Equal(t, 201, w.Code)
	assert.NotContains(t, fake.Ents, "/user/fred/calendar/meet.ics")
	assert.Contains(t, fake.Ents, "/user/fred/Inbox/meet.ics")
}

func TestMoveOverwriteRefused(t *testing.T) {
	h, fake := newHandlers(t)
	addEvent(fake, "/user/fred/calendar", "meet")
	addEvent(fake, "/user/fred/calendar", "taken")

	req := httptest.NewRequest("MOVE", "/user/fred/calendar/meet.ics", nil)
	req.Header.Set("Destination", "/user/fred/calendar/taken.ics")
	req.Header.Set("Overwrite", "F")
	w := httptest.NewRecorder()
	h.HandleMove(w, req)

	assert.Equal(t, 412, w.Code)
	assert.Contains(t, fake.Ents, "/user/fred/calendar/meet.ics")
}

func TestCopyMissingDestination(t *testing.T) {
	h, fake := newHandlers(t)
	addEvent(fake, "/user/fred/calendar", "meet")

	req := httptest.NewRequest("COPY", "/user/fred/calendar/meet.ics", nil)
	w := httptest.NewRecorder()
	h.HandleCopy(w, req)

	assert.Equal(t, 400, w.Code)
}

func TestMkcalendar(t *testing.T) {
	h, fake := newHandlers(t)

	body := `<?xml version="1.0" encoding="utf-8"?>
<C:mkcalendar xmlns:C="urn:ietf:params:xml:ns:caldav" xmlns:D="DAV:">
  <D:set>
    <D:prop>
      <D:displayname>Projects</D:displayname>
      <C:calendar-description>project planning</C:calendar-description>
      <C:supported-calendar-component-set>
        <C:comp name="VEVENT"/>
        <C:comp name="VTODO"/>
      </C:supported-calendar-component-set>
    </D:prop>
  </D:set>
</C:mkcalendar>`

	req := httptest.NewRequest("MKCALENDAR", "/user/fred/projects", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.HandleMkcalendar(w, req)

	require.Equal(t, 201, w.Code)
	col := fake.Collections["/user/fred/projects"]
	require.NotNil(t, col)
	assert.Equal(t, engine.ColCalendar, col.Type)
	assert.Equal(t, "Projects", col.DisplayName)
	assert.Equal(t, "project planning", col.Description)
	assert.ElementsMatch(t, []string{"VEVENT", "VTODO"}, col.SupportedComponents)
}

func TestMkcalendarNoBody(t *testing.T) {
	h, fake := newHandlers(t)

	req := httptest.NewRequest("MKCALENDAR", "/user/fred/plain", nil)
	w := httptest.NewRecorder()
	h.HandleMkcalendar(w, req)

	require.Equal(t, 201, w.Code)
	require.NotNil(t, fake.Collections["/user/fred/plain"])
}

func TestMkcalendarMalformedBody(t *testing.T) {
	h, _ := newHandlers(t)

	req := httptest.NewRequest("MKCALENDAR", "/user/fred/broken", strings.NewReader("<not-xml"))
	w := httptest.NewRecorder()
	h.HandleMkcalendar(w, req)

	assert.Equal(t, 415, w.Code)
}

func TestMkcalendarExisting(t *testing.T) {
	h, _ := newHandlers(t)

	req := httptest.NewRequest("MKCALENDAR", "/user/fred/calendar", nil)
	w := httptest.NewRecorder()
	h.HandleMkcalendar(w, req)

	require.Equal(t, 403, w.Code)
	assert.Contains(t, w.Body.String(), "resource-must-be-null")
}

func TestPropfindDepthZero(t *testing.T) {
	h, _ := newHandlers(t)

	req := httptest.NewRequest("PROPFIND", "/user/fred/calendar", nil)
	req.Header.Set("Depth", "0")
	w := httptest.NewRecorder()
	h.HandlePropfind(w, req)

	require.Equal(t, 207, w.Code)
	body := w.Body.String()
	assert.Equal(t, 1, strings.Count(body, "<D:response>"))
	assert.Contains(t, body, "/user/fred/calendar")
}

func TestPropfindDepthOne(t *testing.T) {
	h, fake := newHandlers(t)
	addEvent(fake, "/user/fred/calendar", "meet")

	req := httptest.NewRequest("PROPFIND", "/user/fred", nil)
	req.Header.Set("Depth", "1")
	w := httptest.NewRecorder()
	h.HandlePropfind(w, req)

	require.Equal(t, 207, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "<D:href>/user/fred/calendar</D:href>")
	assert.Contains(t, body, "<D:href>/user/fred/Inbox</D:href>")
	assert.Contains(t, body, "<D:href>/user/fred/Outbox</D:href>")
	assert.Contains(t, body, "<D:href>/user/fred/Notifications</D:href>")
}

func TestPropfindListsEntities(t *testing.T) {
	h, fake := newHandlers(t)
	addEvent(fake, "/user/fred/calendar", "meet")

	body := `<?xml version="1.0" encoding="utf-8"?>
<D:propfind xmlns:D="DAV:"><D:prop><D:getetag/></D:prop></D:propfind>`
	req := httptest.NewRequest("PROPFIND", "/user/fred/calendar", strings.NewReader(body))
	req.Header.Set("Depth", "1")
	w := httptest.NewRecorder()
	h.HandlePropfind(w, req)

	require.Equal(t, 207, w.Code)
	out := w.Body.String()
	assert.Contains(t, out, "<D:href>/user/fred/calendar/meet.ics</D:href>")
	assert.Contains(t, out, "D:getetag")
}

// Non-calendar collections list their stored binary resources as members.
func TestPropfindListsResources(t *testing.T) {
	h, fake := newHandlers(t)
	fake.Ress["/user/fred/Notifications/note.xml"] = &engine.Resource{
		Name: "note.xml", CollectionPath: "/user/fred/Notifications",
		ContentType: "application/xml", Owner: "fred", ETag: "r1",
	}

	req := httptest.NewRequest("PROPFIND", "/user/fred/Notifications", nil)
	req.Header.Set("Depth", "1")
	w := httptest.NewRecorder()
	h.HandlePropfind(w, req)

	require.Equal(t, 207, w.Code)
	assert.Contains(t, w.Body.String(), "<D:href>/user/fred/Notifications/note.xml</D:href>")
}

func TestOptions(t *testing.T) {
	h, _ := newHandlers(t)

	req := httptest.NewRequest("OPTIONS", "/user/fred/calendar", nil)
	w := httptest.NewRecorder()
	h.HandleOptions(w, req)

	require.Equal(t, 200, w.Code)
	assert.Contains(t, w.Header().Get("DAV"), "calendar-access")
	assert.Contains(t, w.Header().Get("DAV"), "calendar-schedule")
	assert.Contains(t, w.Header().Get("Allow"), "REPORT")
	assert.Contains(t, w.Header().Get("Allow"), "MKCALENDAR")
}

func TestWellKnownRedirect(t *testing.T) {
	cfg := testConfig()
	cfg.HTTP.BasePath = "/caldav"
	fake := enginetest.New()
	h := NewHandlers(cfg, fake, zerolog.Nop())

	req := httptest.NewRequest("GET", "/.well-known/caldav", nil)
	w := httptest.NewRecorder()
	h.HandleWellKnown(w, req)

	require.Equal(t, 301, w.Code)
	assert.Equal(t, "/caldav", w.Header().Get("Location"))
}

func TestIScheduleCapabilities(t *testing.T) {
	h, _ := newHandlers(t)

	req := httptest.NewRequest("GET", "/ischedule?action=capabilities", nil)
	w := httptest.NewRecorder()
	h.HandleIScheduleGet(w, req)

	require.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), "capabilities")
	assert.NotEmpty(t, w.Header().Get("Ischedule-Version"))
}

func TestIScheduleGetUnknownAction(t *testing.T) {
	h, _ := newHandlers(t)

	req := httptest.NewRequest("GET", "/ischedule?action=bogus", nil)
	w := httptest.NewRecorder()
	h.HandleIScheduleGet(w, req)

	assert.Equal(t, 400, w.Code)
}

func TestPostRoutesNotification(t *testing.T) {
	h, fake := newHandlers(t)

	body := `<?xml version="1.0" encoding="utf-8"?>
<eventreg-registered xmlns="http://calagora.org/ns/notifications">
  <href>/user/fred/calendar/party.ics</href>
  <uid>party</uid>
  <num-tickets-requested>2</num-tickets-requested>
  <num-tickets>2</num-tickets>
  <principal-href>/principals/users/fred</principal-href>
</eventreg-registered>`

	req := httptest.NewRequest("POST", "/user/fred/Outbox", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/xml")
	w := httptest.NewRecorder()
	h.HandlePost(w, req)

	require.Equal(t, 200, w.Code)
	require.Len(t, fake.Sent, 1)
	assert.Equal(t, "/principals/users/fred", fake.Sent[0].PrincipalHref)
}

func TestPostRoutesSchedulingBody(t *testing.T) {
	h, _ := newHandlers(t)

	req := httptest.NewRequest("POST", "/user/fred/calendar", strings.NewReader(icsEvent("x")))
	req.Header.Set("Content-Type", "text/calendar")
	w := httptest.NewRecorder()
	h.HandlePost(w, req)

	// Not an outbox, so the scheduling pipeline refuses the target.
	assert.Equal(t, 403, w.Code)
}
