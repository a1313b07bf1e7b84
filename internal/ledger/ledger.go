// Package ledger holds the per-day record of time spent in each application
// and its on-disk JSON representation.
package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/goodtune/tracktime/internal/hms"
)

// DateLayout is the date format used in ledger file names and on the CLI.
const DateLayout = "2006-01-02"

// Ledger is one calendar day of accumulated per-app durations.
type Ledger struct {
	Year  int
	Month int
	Day   int
	Apps  map[string]int64 // seconds
}

// Entry is a single app total.
type Entry struct {
	App     string
	Seconds int64
}

// New returns an empty ledger for the calendar day of date.
func New(date time.Time) *Ledger {
	return &Ledger{
		Year:  date.Year(),
		Month: int(date.Month()),
		Day:   date.Day(),
		Apps:  make(map[string]int64),
	}
}

// ParseDate parses a YYYY-MM-DD string in the local time zone.
func ParseDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", s, err)
	}
	return d, nil
}

// Date returns midnight local time of the ledger's day.
func (l *Ledger) Date() time.Time {
	return time.Date(l.Year, time.Month(l.Month), l.Day, 0, 0, 0, 0, time.Local)
}

// DateString returns the ledger's day as YYYY-MM-DD.
func (l *Ledger) DateString() string {
	return l.Date().Format(DateLayout)
}

// SameDay reports whether t falls on the ledger's calendar day.
func (l *Ledger) SameDay(t time.Time) bool {
	return t.Year() == l.Year && int(t.Month()) == l.Month && t.Day() == l.Day
}

// Add attributes seconds to app. Non-positive values still register the app.
func (l *Ledger) Add(app string, seconds int64) {
	if l.Apps == nil {
		l.Apps = make(map[string]int64)
	}
	if seconds < 0 {
		seconds = 0
	}
	l.Apps[app] += seconds
}

// Total returns the sum of all app durations.
func (l *Ledger) Total() int64 {
	var total int64
	for _, s := range l.Apps {
		total += s
	}
	return total
}

// Clone returns a deep copy.
func (l *Ledger) Clone() *Ledger {
	c := *l
	c.Apps = make(map[string]int64, len(l.Apps))
	for k, v := range l.Apps {
		c.Apps[k] = v
	}
	return &c
}

// Entries returns the app totals ordered by descending duration, then name.
func (l *Ledger) Entries() []Entry {
	return SortedEntries(l.Apps)
}

// SortedEntries orders a totals map by descending duration, then name.
func SortedEntries(apps map[string]int64) []Entry {
	entries := make([]Entry, 0, len(apps))
	for app, secs := range apps {
		entries = append(entries, Entry{App: app, Seconds: secs})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Seconds != entries[j].Seconds {
			return entries[i].Seconds > entries[j].Seconds
		}
		return entries[i].App < entries[j].App
	})
	return entries
}

// EncodeApps renders totals as a JSON object of HH:MM:SS strings, keys in
// descending-duration order.
func EncodeApps(apps map[string]int64) (json.RawMessage, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range SortedEntries(apps) {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.App)
		if err != nil {
			return nil, fmt.Errorf("encode app name: %w", err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteByte('"')
		buf.WriteString(hms.FromSeconds(e.Seconds))
		buf.WriteByte('"')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// listEntry is the older record shape some copies of the file still carry.
type listEntry struct {
	App  string `json:"app"`
	Time string `json:"time"`
}

// DecodeApps parses the apps field. Both the mapping form and the legacy
// list-of-records form are accepted; the result is always a mapping.
func DecodeApps(raw json.RawMessage) (map[string]int64, error) {
	apps := make(map[string]int64)
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return apps, nil
	}

	if raw[0] == '[' {
		var list []listEntry
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decode apps list: %w", err)
		}
		for _, item := range list {
			secs, err := hms.ToSeconds(item.Time)
			if err != nil {
				return nil, fmt.Errorf("app %q: %w", item.App, err)
			}
			apps[item.App] += secs
		}
		return apps, nil
	}

	var mapping map[string]string
	if err := json.Unmarshal(raw, &mapping); err != nil {
		return nil, fmt.Errorf("decode apps: %w", err)
	}
	for app, value := range mapping {
		secs, err := hms.ToSeconds(value)
		if err != nil {
			return nil, fmt.Errorf("app %q: %w", app, err)
		}
		apps[app] = secs
	}
	return apps, nil
}

type document struct {
	Year  int             `json:"year"`
	Month int             `json:"month"`
	Day   int             `json:"day"`
	Apps  json.RawMessage `json:"apps"`
}

// Parse decodes a ledger file body.
func Parse(body []byte) (*Ledger, error) {
	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse ledger: %w", err)
	}
	apps, err := DecodeApps(doc.Apps)
	if err != nil {
		return nil, fmt.Errorf("parse ledger: %w", err)
	}
	return &Ledger{Year: doc.Year, Month: doc.Month, Day: doc.Day, Apps: apps}, nil
}

// Marshal renders the ledger as a standalone file body.
func Marshal(l *Ledger) ([]byte, error) {
	apps, err := EncodeApps(l.Apps)
	if err != nil {
		return nil, err
	}
	doc := map[string]json.RawMessage{"apps": apps}
	if err := setDateFields(doc, l, true); err != nil {
		return nil, err
	}
	return marshalDocument(doc)
}

func marshalDocument(doc map[string]json.RawMessage) ([]byte, error) {
	body, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("marshal ledger: %w", err)
	}
	return append(body, '\n'), nil
}

// setDateFields fills year/month/day. Existing values are left alone unless
// overwrite is set.
func setDateFields(doc map[string]json.RawMessage, l *Ledger, overwrite bool) error {
	fields := map[string]int{"year": l.Year, "month": l.Month, "day": l.Day}
	for key, value := range fields {
		if _, ok := doc[key]; ok && !overwrite {
			continue
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", key, err)
		}
		doc[key] = raw
	}
	return nil
}
