package ical

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(s string) time.Time {
	t, err := time.Parse(utcStamp, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestBusyIntervalsClipsToRange(t *testing.T) {
	re := NewRecurrenceExpander(nil)
	events := []*Event{{
		UID:   "long",
		Start: ts("20260601T080000Z"),
		End:   ts("20260601T200000Z"),
	}}

	busy := re.BusyIntervals(events, ts("20260601T100000Z"), ts("20260601T120000Z"))
	require.Len(t, busy, 1)
	assert.Equal(t, ts("20260601T100000Z"), busy[0].S)
	assert.Equal(t, ts("20260601T120000Z"), busy[0].E)
}

func TestBusyIntervalsSkipsTransparent(t *testing.T) {
	re := NewRecurrenceExpander(nil)
	events := []*Event{{
		UID:         "ooo",
		Start:       ts("20260601T100000Z"),
		End:         ts("20260601T110000Z"),
		Transparent: true,
	}}

	busy := re.BusyIntervals(events, ts("20260601T000000Z"), ts("20260602T000000Z"))
	assert.Empty(t, busy)
}

func TestBusyIntervalsOutsideRange(t *testing.T) {
	re := NewRecurrenceExpander(nil)
	events := []*Event{{
		UID:   "past",
		Start: ts("20260101T100000Z"),
		End:   ts("20260101T110000Z"),
	}}

	busy := re.BusyIntervals(events, ts("20260601T000000Z"), ts("20260602T000000Z"))
	assert.Empty(t, busy)
}

func TestBusyIntervalsDailyRule(t *testing.T) {
	re := NewRecurrenceExpander(nil)
	events := []*Event{{
		UID:         "standup",
		Start:       ts("20260601T100000Z"),
		End:         ts("20260601T110000Z"),
		Duration:    time.Hour,
		IsRecurring: true,
		RRule:       "FREQ=DAILY;COUNT=5",
	}}

	busy := re.BusyIntervals(events, ts("20260602T000000Z"), ts("20260604T000000Z"))
	require.Len(t, busy, 2)
	assert.Equal(t, ts("20260602T100000Z"), busy[0].S)
	assert.Equal(t, ts("20260602T110000Z"), busy[0].E)
	assert.Equal(t, ts("20260603T100000Z"), busy[1].S)
}

func TestBusyIntervalsExDate(t *testing.T) {
	re := NewRecurrenceExpander(nil)
	events := []*Event{{
		UID:         "standup",
		Start:       ts("20260601T100000Z"),
		End:         ts("20260601T110000Z"),
		Duration:    time.Hour,
		IsRecurring: true,
		RRule:       "FREQ=DAILY;COUNT=3",
		ExDates:     []time.Time{ts("20260602T100000Z")},
	}}

	busy := re.BusyIntervals(events, ts("20260601T000000Z"), ts("20260604T000000Z"))
	require.Len(t, busy, 2)
	assert.Equal(t, ts("20260601T100000Z"), busy[0].S)
	assert.Equal(t, ts("20260603T100000Z"), busy[1].S)
}

func TestBusyIntervalsMergesOverlap(t *testing.T) {
	re := NewRecurrenceExpander(nil)
	events := []*Event{
		{UID: "a", Start: ts("20260601T100000Z"), End: ts("20260601T113000Z")},
		{UID: "b", Start: ts("20260601T110000Z"), End: ts("20260601T120000Z")},
	}

	busy := re.BusyIntervals(events, ts("20260601T000000Z"), ts("20260602T000000Z"))
	require.Len(t, busy, 1)
	assert.Equal(t, ts("20260601T100000Z"), busy[0].S)
	assert.Equal(t, ts("20260601T120000Z"), busy[0].E)
}

func TestMergeIntervals(t *testing.T) {
	in := []Interval{
		{S: ts("20260601T130000Z"), E: ts("20260601T140000Z")},
		{S: ts("20260601T100000Z"), E: ts("20260601T110000Z")},
		{S: ts("20260601T103000Z"), E: ts("20260601T120000Z")},
	}

	out := MergeIntervals(in)
	require.Len(t, out, 2)
	assert.Equal(t, ts("20260601T100000Z"), out[0].S)
	assert.Equal(t, ts("20260601T120000Z"), out[0].E)
	assert.Equal(t, ts("20260601T130000Z"), out[1].S)
}

func TestParseEventsRecurrenceFields(t *testing.T) {
	data := []byte("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\n" +
		"BEGIN:VEVENT\r\nUID:standup\r\nDTSTAMP:20260101T000000Z\r\n" +
		"DTSTART:20260601T100000Z\r\nDTEND:20260601T110000Z\r\n" +
		"RRULE:FREQ=DAILY;COUNT=3\r\nEXDATE:20260602T100000Z\r\n" +
		"TRANSP:OPAQUE\r\nSUMMARY:Standup\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n")

	events, err := ParseEvents(data)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.True(t, ev.IsRecurring)
	assert.Equal(t, "FREQ=DAILY;COUNT=3", ev.RRule)
	assert.Equal(t, time.Hour, ev.Duration)
	require.Len(t, ev.ExDates, 1)
	assert.Equal(t, ts("20260602T100000Z"), ev.ExDates[0])
	assert.False(t, ev.Transparent)
}
