package ics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func weeklyEvent() Event {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	return Event{
		UID:      "weekly",
		Name:     "Weekly Meeting",
		Start:    start,
		End:      start.Add(time.Hour),
		HasEnd:   true,
		RawRRule: "FREQ=WEEKLY;COUNT=4",
	}
}

func window() ExpandConfig {
	return ExpandConfig{
		RangeStart: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestExpandRecurring_Weekly(t *testing.T) {
	feed := &Feed{Name: "Test", Events: []Event{weeklyEvent()}}

	out, err := ExpandRecurring(feed, window())
	require.NoError(t, err)
	require.Len(t, out.Events, 4)

	first := out.Events[0]
	assert.Equal(t, "weekly-20260302T100000Z", first.UID)
	assert.True(t, first.Start.Equal(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)))
	assert.True(t, first.End.Equal(time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)))
	assert.Empty(t, first.RawRRule)

	second := out.Events[1]
	assert.Equal(t, "weekly-20260309T100000Z", second.UID)
	assert.True(t, second.Start.Equal(time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)))
}

func TestExpandRecurring_ExDateRemovesOccurrence(t *testing.T) {
	ev := weeklyEvent()
	ev.ExDates = []time.Time{time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)}
	feed := &Feed{Events: []Event{ev}}

	out, err := ExpandRecurring(feed, window())
	require.NoError(t, err)
	require.Len(t, out.Events, 3)
	for _, occ := range out.Events {
		assert.NotEqual(t, "weekly-20260309T100000Z", occ.UID)
	}
}

func TestExpandRecurring_NonRecurringPassesThrough(t *testing.T) {
	plain := Event{
		UID:   "plain",
		Start: time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC),
	}
	feed := &Feed{Events: []Event{plain}}

	// Even outside the window, non-recurring events are untouched.
	out, err := ExpandRecurring(feed, window())
	require.NoError(t, err)
	require.Len(t, out.Events, 1)
	assert.Equal(t, "plain", out.Events[0].UID)
}

func TestExpandRecurring_BadRRuleKeepsBaseEvent(t *testing.T) {
	ev := weeklyEvent()
	ev.RawRRule = "FREQ=NONSENSE"
	feed := &Feed{Events: []Event{ev}}

	out, err := ExpandRecurring(feed, window())
	require.NoError(t, err)
	require.Len(t, out.Events, 1)
	assert.Equal(t, "weekly", out.Events[0].UID)
	assert.Equal(t, "FREQ=NONSENSE", out.Events[0].RawRRule)
}

func TestExpandRecurring_WindowLimitsOccurrences(t *testing.T) {
	ev := weeklyEvent()
	ev.RawRRule = "FREQ=WEEKLY" // unbounded
	feed := &Feed{Events: []Event{ev}}

	cfg := window()
	cfg.RangeEnd = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	out, err := ExpandRecurring(feed, cfg)
	require.NoError(t, err)
	assert.Len(t, out.Events, 2) // Mar 2 and Mar 9
}

func TestExpandRecurring_AllDayOccurrences(t *testing.T) {
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	ev := Event{
		UID:      "holiday",
		Start:    start,
		End:      start.Add(24 * time.Hour),
		HasEnd:   true,
		AllDay:   true,
		RawRRule: "FREQ=WEEKLY;COUNT=2",
	}
	feed := &Feed{Events: []Event{ev}}

	out, err := ExpandRecurring(feed, window())
	require.NoError(t, err)
	require.Len(t, out.Events, 2)

	occ := out.Events[0]
	assert.True(t, occ.AllDay)
	assert.Equal(t, 0, occ.Start.Hour())
	assert.True(t, occ.End.Equal(occ.Start.Add(24*time.Hour)))
}

func TestExpandRecurring_InvalidWindow(t *testing.T) {
	feed := &Feed{Events: []Event{weeklyEvent()}}
	cfg := ExpandConfig{
		RangeStart: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}

	_, err := ExpandRecurring(feed, cfg)
	assert.Error(t, err)
}
