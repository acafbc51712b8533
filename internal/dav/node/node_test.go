package node

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calagora/caldav/internal/dav/resolver"
	"github.com/calagora/caldav/internal/engine"
	"github.com/calagora/caldav/internal/engine/enginetest"
)

const sampleICS = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\nBEGIN:VEVENT\r\nUID:ev1\r\nDTSTAMP:20260101T000000Z\r\nDTSTART:20260102T100000Z\r\nDTEND:20260102T110000Z\r\nSUMMARY:Standup\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"

func TestFactoryKinds(t *testing.T) {
	fake := enginetest.New()
	p := fake.AddPrincipal("fred", "fred@example.com")
	col := fake.Collections["/user/fred/calendar"]
	ent := fake.AddEnt(&engine.Entity{UID: "ev1", Name: "ev1.ics", CollectionPath: col.Path, Data: sampleICS})

	assert.IsType(t, &PrincipalNode{}, For(fake, resolver.PrincipalRef(p)))
	assert.IsType(t, &CollectionNode{}, For(fake, resolver.CollectionRef(col, true)))
	assert.IsType(t, &ComponentNode{}, For(fake, resolver.EntityRef(col, ent, ent.Name, true)))
	res := &engine.Resource{Name: "x", CollectionPath: "/user/fred/Notifications"}
	assert.IsType(t, &ResourceNode{}, For(fake, resolver.ResourceRef(fake.Collections["/user/fred/Notifications"], res, "x", true)))
}

func TestComponentETag(t *testing.T) {
	fake := enginetest.New()
	fake.AddPrincipal("fred", "fred@example.com")
	col := fake.Collections["/user/fred/calendar"]
	ent := fake.AddEnt(&engine.Entity{UID: "ev1", Name: "ev1.ics", CollectionPath: col.Path, ETag: "abc", Data: sampleICS})

	n := For(fake, resolver.EntityRef(col, ent, ent.Name, true))
	strong, err := n.ETagValue(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "abc", strong)
	wk, err := n.ETagValue(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "W/abc", wk)
}

// Alias collection etags must reflect the live target, not the alias row.
func TestCollectionAliasETag(t *testing.T) {
	fake := enginetest.New()
	fake.AddPrincipal("fred", "fred@example.com")
	target := fake.Collections["/user/fred/calendar"]
	target.ETag = "target-etag"
	alias := fake.AddCollection(&engine.Collection{
		Path: "/user/fred/shortcut", ParentPath: "/user/fred", Name: "shortcut",
		Type: engine.ColFolder, Owner: "fred", AliasTarget: target.Path, ETag: "alias-etag",
	})

	n := newCollectionNode(fake, resolver.CollectionRef(alias, true))
	etag, err := n.ETagValue(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "target-etag", etag)
}

// Deep resolution follows an alias chain to its end; shallow stops after one
// hop.
func TestAliasChainResolution(t *testing.T) {
	fake := enginetest.New()
	fake.AddPrincipal("fred", "fred@example.com")
	end := fake.Collections["/user/fred/calendar"]
	end.ETag = "end-etag"
	mid := fake.AddCollection(&engine.Collection{
		Path: "/user/fred/team", ParentPath: "/user/fred", Name: "team",
		Type: engine.ColFolder, Owner: "fred", AliasTarget: end.Path,
	})
	head := fake.AddCollection(&engine.Collection{
		Path: "/user/fred/shortcut", ParentPath: "/user/fred", Name: "shortcut",
		Type: engine.ColFolder, Owner: "fred", AliasTarget: mid.Path,
	})

	deep, err := fake.ResolveAlias(context.Background(), head, true)
	require.NoError(t, err)
	assert.Equal(t, end.Path, deep.Path)

	shallow, err := fake.ResolveAlias(context.Background(), head, false)
	require.NoError(t, err)
	assert.Equal(t, mid.Path, shallow.Path)

	// The collection etag dereferences through the whole chain.
	n := newCollectionNode(fake, resolver.CollectionRef(head, true))
	etag, err := n.ETagValue(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "end-etag", etag)
}

func TestMethodEmitSelection(t *testing.T) {
	fake := enginetest.New()
	fake.AddPrincipal("fred", "fred@example.com")
	inbox := fake.Collections["/user/fred/Inbox"]
	cal := fake.Collections["/user/fred/calendar"]
	data := strings.Replace(sampleICS, "VERSION:2.0\r\n", "VERSION:2.0\r\nMETHOD:REQUEST\r\n", 1)
	ent := &engine.Entity{UID: "ev1", Name: "ev1.ics", Data: data, ScheduleMethod: "REQUEST"}

	inboxNode := newComponentNode(fake, resolver.EntityRef(inbox, ent, ent.Name, true))
	var buf bytes.Buffer
	require.NoError(t, inboxNode.WriteContent(context.Background(), &buf, "text/calendar"))
	assert.Contains(t, buf.String(), "METHOD:REQUEST")

	calNode := newComponentNode(fake, resolver.EntityRef(cal, ent, ent.Name, true))
	buf.Reset()
	require.NoError(t, calNode.WriteContent(context.Background(), &buf, "text/calendar"))
	assert.NotContains(t, buf.String(), "METHOD:")
}

func TestPropertyGeneration(t *testing.T) {
	fake := enginetest.New()
	fake.AddPrincipal("fred", "fred@example.com")
	col := fake.Collections["/user/fred/calendar"]

	n := For(fake, resolver.CollectionRef(col, true))
	v, err := n.GeneratePropertyValue(context.Background(), dav("resourcetype"), false)
	require.NoError(t, err)
	assert.Equal(t, "<D:collection/><C:calendar/>", v.MustGet())

	v, err = n.GeneratePropertyValue(context.Background(), caldav("supported-calendar-component-set"), false)
	require.NoError(t, err)
	assert.Contains(t, v.MustGet(), `<C:comp name="VEVENT"/>`)

	// Unknown property is None, not an error.
	v, err = n.GeneratePropertyValue(context.Background(), dav("no-such-prop"), false)
	require.NoError(t, err)
	assert.True(t, v.IsAbsent())
}

func TestCalendarDataExcludedFromAllProp(t *testing.T) {
	fake := enginetest.New()
	fake.AddPrincipal("fred", "fred@example.com")
	col := fake.Collections["/user/fred/calendar"]
	ent := fake.AddEnt(&engine.Entity{UID: "ev1", Name: "ev1.ics", CollectionPath: col.Path, Data: sampleICS})
	n := newComponentNode(fake, resolver.EntityRef(col, ent, ent.Name, true))

	v, err := n.GeneratePropertyValue(context.Background(), caldav("calendar-data"), true)
	require.NoError(t, err)
	assert.True(t, v.IsAbsent())

	v, err = n.GeneratePropertyValue(context.Background(), caldav("calendar-data"), false)
	require.NoError(t, err)
	assert.Contains(t, v.MustGet(), "UID:ev1")
}

func TestPrincipalProps(t *testing.T) {
	fake := enginetest.New()
	p := fake.AddPrincipal("fred", "fred@example.com")
	n := For(fake, resolver.PrincipalRef(p))

	v, err := n.GeneratePropertyValue(context.Background(), caldav("calendar-home-set"), false)
	require.NoError(t, err)
	assert.Equal(t, "<D:href>/user/fred</D:href>", v.MustGet())

	v, err = n.GeneratePropertyValue(context.Background(), caldav("calendar-user-address-set"), false)
	require.NoError(t, err)
	assert.Equal(t, "<D:href>mailto:fred@example.com</D:href>", v.MustGet())
}

func TestCurrentAccessCached(t *testing.T) {
	fake := enginetest.New()
	fake.AddPrincipal("fred", "fred@example.com")
	col := fake.Collections["/user/fred/calendar"]
	n := For(fake, resolver.CollectionRef(col, true))

	a, err := n.CurrentAccess(context.Background())
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.True(t, a.Allowed)

	// Deny afterwards; the cached result must win.
	fake.Denied[col.Path] = true
	b, err := n.CurrentAccess(context.Background())
	require.NoError(t, err)
	assert.Same(t, a, b)
}
