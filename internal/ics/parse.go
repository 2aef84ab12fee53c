package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "icalsync/internal/log"
)

// Event is the normalized representation of a VEVENT as produced by the
// feed parser. It is the read-only input of one reconciliation pass.
type Event struct {
	UID string `json:"uid"`

	Name        string `json:"name"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Organizer   string `json:"organizer"`

	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	HasEnd bool      `json:"has_end"`
	AllDay bool      `json:"all_day"`

	// RawRRule / ExDates carry recurrence data for optional expansion
	// (see expand.go). They are not part of the mapped field set.
	RawRRule string      `json:"rrule,omitempty"`
	ExDates  []time.Time `json:"exdates,omitempty"`
}

// Feed is one parsed calendar feed: its display name (X-WR-CALNAME, may
// be empty) and its events in feed order.
type Feed struct {
	Name   string
	Events []Event
}

// ParseFeed parses a single ICS payload into a Feed.
//
//   - It relies on the underlying library's VTIMEZONE/TZID handling to
//     construct proper time.Time values (with Location set).
//   - It detects all-day events by inspecting the DTSTART value format.
//   - A VEVENT without a UID is skipped with a log entry; one malformed
//     event must not abort the whole feed.
func ParseFeed(body []byte) (*Feed, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	feed := &Feed{
		Name:   calendarName(cal),
		Events: make([]Event, 0),
	}

	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(comp)
		if perr != nil {
			appLog.Error("ics vevent parse failed", perr)
			continue
		}
		feed.Events = append(feed.Events, ev)
	}

	appLog.Debug("ics parse completed", "calendar", feed.Name, "event_count", len(feed.Events))
	return feed, nil
}

// calendarName extracts the feed display name from X-WR-CALNAME.
func calendarName(cal *ical.Calendar) string {
	for _, prop := range cal.CalendarProperties {
		if strings.EqualFold(prop.IANAToken, "X-WR-CALNAME") {
			return prop.Value
		}
	}
	return ""
}

func parseVEvent(ve *ical.VEvent) (Event, error) {
	var out Event

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Name = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyOrganizer); p != nil {
		out.Organizer = organizerName(p)
	}

	// DTSTART / DTEND. We use the library's helpers for timezone logic.
	start, err := ve.GetStartAt()
	if err != nil {
		return out, errors.New("missing or invalid DTSTART")
	}
	out.Start = start

	if end, err := ve.GetEndAt(); err == nil && !end.IsZero() {
		out.End = end
		out.HasEnd = true
	}

	// Detect all-day: VALUE=DATE parameter or a date-only DTSTART value.
	if dtStartProp := ve.GetProperty(ical.ComponentPropertyDtStart); dtStartProp != nil {
		val := dtStartProp.Value
		if params := dtStartProp.ICalParameters; params != nil {
			if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
				out.AllDay = true
			}
		}
		if !strings.Contains(val, "T") {
			out.AllDay = true
		}
	}

	// RRULE (we only keep raw string here; expansion is in expand.go).
	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.RawRRule = rruleProp.Value
	}

	// EXDATE (can appear multiple times, comma-separated values).
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	return out, nil
}

// organizerName prefers the CN parameter and falls back to the raw value
// with any mailto: scheme stripped.
func organizerName(p *ical.IANAProperty) string {
	if params := p.ICalParameters; params != nil {
		if cn, ok := params["CN"]; ok && len(cn) > 0 && cn[0] != "" {
			return strings.Trim(cn[0], `"`)
		}
	}
	return strings.TrimPrefix(p.Value, "mailto:")
}

// parseICSTime parses a basic ICS date/date-time string into time.Time.
// Used for EXDATE values where full parameter context is not needed.
func parseICSTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		const layout = "20060102T150405Z"
		return time.Parse(layout, v)
	}

	// Local date-time, e.g., 20250101T090000
	if strings.Contains(v, "T") {
		const layout = "20060102T150405"
		return time.ParseInLocation(layout, v, time.Local)
	}

	// Date-only (all-day), e.g., 20250101
	const layoutDate = "20060102"
	return time.ParseInLocation(layoutDate, v, time.Local)
}
