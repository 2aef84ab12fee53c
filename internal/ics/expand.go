package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "icalsync/internal/log"
)

const defaultMaxOccurrencesPerEvent = 1000

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// RangeStart / RangeEnd define the inclusive time window for occurrences.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent is a safety cap to avoid extremely large
	// expansions. If zero, defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// ExpandRecurring replaces every recurring event in the feed with its
// concrete occurrences inside the configured window. Each occurrence gets
// a derived uid of the form "<uid>-<startUTC>" so that the uid-keyed
// correlation model keeps working: an occurrence that falls out of the
// window on a later pass simply disappears from the feed and is pruned
// like any other removed event.
//
// Non-recurring events pass through unchanged regardless of the window.
// A recurring event whose RRULE cannot be parsed also passes through
// unchanged, so a malformed rule degrades to mirroring the base event.
func ExpandRecurring(feed *Feed, cfg ExpandConfig) (*Feed, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	out := &Feed{
		Name:   feed.Name,
		Events: make([]Event, 0, len(feed.Events)),
	}

	for _, ev := range feed.Events {
		if ev.RawRRule == "" {
			out.Events = append(out.Events, ev)
			continue
		}

		occurrences, err := expandEvent(ev, cfg)
		if err != nil {
			appLog.Error("expand: failed to parse RRULE, keeping base event", err, "uid", ev.UID, "rrule", ev.RawRRule)
			out.Events = append(out.Events, ev)
			continue
		}
		out.Events = append(out.Events, occurrences...)
	}

	return out, nil
}

func expandEvent(ev Event, cfg ExpandConfig) ([]Event, error) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		return nil, err
	}

	// Ensure Dtstart is set to the event's DTSTART.
	r.DTStart(ev.Start)

	// Build a set so we can apply EXDATE.
	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		// Best effort: align EXDATE location with the event's start.
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Adjust range into the event's original location for Between().
	rangeStart := cfg.RangeStart.In(ev.Start.Location())
	rangeEnd := cfg.RangeEnd.In(ev.Start.Location())

	occTimes := set.Between(rangeStart, rangeEnd, true)
	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		appLog.Warn("expand: truncated occurrences for UID", "uid", ev.UID, "cap", cfg.MaxOccurrencesPerEvent)
	}

	out := make([]Event, 0, len(occTimes))
	for _, occStart := range occTimes {
		occ := ev
		occ.RawRRule = ""
		occ.ExDates = nil
		occ.UID = occurrenceUID(ev.UID, occStart)

		if ev.AllDay {
			// All-day: [date 00:00, next day 00:00) in the event's timezone.
			date := time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
			occ.Start = date
			occ.End = date.Add(24 * time.Hour)
			occ.HasEnd = ev.HasEnd
		} else {
			occ.Start = occStart
			if ev.HasEnd {
				// Preserve original duration.
				occ.End = occStart.Add(ev.End.Sub(ev.Start))
			}
		}

		out = append(out, occ)
	}

	return out, nil
}

// occurrenceUID derives a stable per-occurrence uid from the base uid and
// the occurrence start time in UTC.
func occurrenceUID(uid string, start time.Time) string {
	return uid + "-" + start.UTC().Format("20060102T150405Z")
}
