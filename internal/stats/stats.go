package stats

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/parlance-app/backend/internal/airtable"
)

// DateLayout is the day format used in summaries and query parameters.
const DateLayout = "2006-01-02"

// Source lists records from the secondary store.
type Source interface {
	List(ctx context.Context, table string, opts airtable.ListOptions) ([]airtable.Record, error)
}

// Count is one bucket of a summary.
type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Summary aggregates the records of one window.
type Summary struct {
	From    string  `json:"from"`
	To      string  `json:"to"`
	Total   int     `json:"total"`
	ByDay   []Count `json:"byDay"`
	ByGroup []Count `json:"byGroup"`
	// Skipped counts records whose date field is missing or unparsable.
	Skipped int `json:"skipped"`
}

// Service computes dashboard statistics over one table.
type Service struct {
	Source     Source
	Table      string
	DateField  string
	GroupField string
}

// Summary returns counts for records whose date falls in [from, to).
func (s *Service) Summary(ctx context.Context, from, to time.Time) (*Summary, error) {
	if !from.Before(to) {
		return nil, errors.New("stats: window start must be before its end")
	}

	fields := []string{s.DateField}
	if s.GroupField != "" {
		fields = append(fields, s.GroupField)
	}
	records, err := s.Source.List(ctx, s.Table, airtable.ListOptions{Fields: fields})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.Table, err)
	}

	return Summarize(records, s.DateField, s.GroupField, from, to), nil
}

// Summarize aggregates records in memory. Days are reported in UTC.
func Summarize(records []airtable.Record, dateField, groupField string, from, to time.Time) *Summary {
	out := &Summary{
		From: from.UTC().Format(DateLayout),
		To:   to.UTC().Format(DateLayout),
	}

	days := map[string]int{}
	groups := map[string]int{}
	for _, rec := range records {
		at, ok := parseDate(rec.Fields[dateField])
		if !ok {
			out.Skipped++
			continue
		}
		if at.Before(from) || !at.Before(to) {
			continue
		}

		out.Total++
		days[at.UTC().Format(DateLayout)]++
		if groupField != "" {
			groups[groupKey(rec.Fields[groupField])]++
		}
	}

	out.ByDay = sorted(days, func(a, b Count) bool { return a.Key < b.Key })
	out.ByGroup = sorted(groups, func(a, b Count) bool {
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Key < b.Key
	})
	return out
}

// ParseWindow parses YYYY-MM-DD bounds. Missing bounds default to the 30
// days ending today; to is inclusive of its whole day.
func ParseWindow(fromStr, toStr string, now time.Time) (time.Time, time.Time, error) {
	today := now.UTC().Truncate(24 * time.Hour)

	to := today.AddDate(0, 0, 1)
	if toStr != "" {
		d, err := time.Parse(DateLayout, toStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid to date %q", toStr)
		}
		to = d.AddDate(0, 0, 1)
	}

	from := to.AddDate(0, 0, -30)
	if fromStr != "" {
		d, err := time.Parse(DateLayout, fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid from date %q", fromStr)
		}
		from = d
	}

	if !from.Before(to) {
		return time.Time{}, time.Time{}, errors.New("from must not be after to")
	}
	return from, to, nil
}

var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, DateLayout}

func parseDate(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func groupKey(v any) string {
	switch x := v.(type) {
	case nil:
		return "(none)"
	case string:
		if strings.TrimSpace(x) == "" {
			return "(none)"
		}
		return x
	case []any:
		parts := make([]string, 0, len(x))
		for _, p := range x {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(x)
	}
}

func sorted(m map[string]int, less func(a, b Count) bool) []Count {
	out := make([]Count, 0, len(m))
	for k, n := range m {
		out = append(out, Count{Key: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}
