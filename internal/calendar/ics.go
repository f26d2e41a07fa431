// Package calendar imports lesson slots from an external ICS feed.
package calendar

import (
	"sort"
	"strings"
	"time"
)

// Event is one VEVENT reduced to the fields the importer cares about.
type Event struct {
	Start   time.Time
	End     time.Time
	Summary string
}

// ParseEvents extracts VEVENT blocks (DTSTART, DTEND, SUMMARY) from an
// ICS document. Events missing either timestamp, or with timestamps in
// a shape parseTimestamp does not know, are skipped. The result is
// sorted by start time.
func ParseEvents(ics string, loc *time.Location) []Event {
	events := make([]Event, 0)
	cur := make(map[string]string)
	inEvent := false
	lastKey := ""

	flush := func() {
		ds, okS := cur["DTSTART"]
		de, okE := cur["DTEND"]
		if !okS || !okE {
			return
		}
		summary := cur["SUMMARY"]
		if summary == "" {
			summary = "Unassigned"
		}
		start, err := parseTimestamp(ds, loc)
		if err != nil {
			return
		}
		end, err := parseTimestamp(de, loc)
		if err != nil {
			return
		}
		events = append(events, Event{Start: start, End: end, Summary: summary})
	}

	for _, raw := range strings.Split(ics, "\n") {
		// Folded continuation lines start with a space or tab.
		folded := strings.HasPrefix(raw, " ") || strings.HasPrefix(raw, "\t")
		line := strings.TrimSpace(raw)

		if line == "BEGIN:VEVENT" {
			inEvent = true
			cur = make(map[string]string)
			lastKey = ""
			continue
		}
		if line == "END:VEVENT" {
			if inEvent {
				flush()
			}
			inEvent = false
			continue
		}
		if !inEvent {
			continue
		}

		if folded {
			if lastKey != "" {
				cur[lastKey] += line
			}
			continue
		}

		// Split KEY[;PARAM=...]:VALUE, dropping parameters like
		// DTSTART;TZID=Europe/London.
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := line[:idx]
		value := line[idx+1:]
		if semi := strings.Index(key, ";"); semi >= 0 {
			key = key[:semi]
		}
		cur[key] = value
		lastKey = key
	}

	sort.Slice(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	return events
}

// parseTimestamp accepts the common ICS date/time shapes:
//
//	20251108T140000Z   (UTC)
//	20251108T140000    (feed timezone)
//	20251108T1400      (no seconds)
//	20251108           (all-day, midnight in feed timezone)
func parseTimestamp(s string, loc *time.Location) (time.Time, error) {
	raw := strings.TrimSpace(s)
	tsLoc := loc
	if strings.HasSuffix(raw, "Z") {
		raw = strings.TrimSuffix(raw, "Z")
		tsLoc = time.UTC
	}

	layouts := []string{
		"20060102T150405",
		"20060102T1504",
		"20060102", // all-day
	}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.ParseInLocation(layout, raw, tsLoc)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
