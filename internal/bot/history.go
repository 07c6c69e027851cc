package bot

import (
	"strings"
	"time"

	"github.com/gbionescu/reddit-moderator-bot/internal/platform"
)

// HistoryRetention is how long seen reports and modlog entries are
// remembered. Reports on items older than this are ignored.
const HistoryRetention = 7 * 24 * time.Hour

// anonymousReporter keys user reports, which carry no reporter name.
const anonymousReporter = "*user*"

// newModlogEntry records e in the modlog history and reports whether it was
// unseen. Entries past the retention window are pruned on the way.
func (m *Manager) newModlogEntry(e platform.ModlogEntry) bool {
	now := m.now()
	fresh := false
	err := m.modlogDoc.Update(func(data map[string]any) error {
		prune(data, now)
		if _, ok := data[e.ID]; ok {
			return nil
		}
		data[e.ID] = now.Unix()
		fresh = true
		return nil
	})
	if err != nil {
		m.log.Errorw("could not record modlog entry", "id", e.ID, "error", err)
	}
	return fresh
}

// newReportLines records the report lines of r and returns the ones not
// seen before. Items created more than a week ago yield nothing.
func (m *Manager) newReportLines(r platform.Report) []platform.ReportLine {
	now := m.now()
	if !r.Created.IsZero() && now.Sub(r.Created) > HistoryRetention {
		return nil
	}

	lines := make([]platform.ReportLine, 0, len(r.ModReports)+len(r.UserReports))
	lines = append(lines, r.ModReports...)
	lines = append(lines, r.UserReports...)

	var fresh []platform.ReportLine
	err := m.reportsDoc.Update(func(data map[string]any) error {
		prune(data, now)
		for _, l := range lines {
			k := reportKey(r.Fullname, l)
			if _, ok := data[k]; ok {
				continue
			}
			data[k] = now.Unix()
			fresh = append(fresh, l)
		}
		return nil
	})
	if err != nil {
		m.log.Errorw("could not record reports", "item", r.Fullname, "error", err)
	}
	return fresh
}

func reportKey(fullname string, l platform.ReportLine) string {
	reporter := l.Reporter
	if reporter == "" {
		reporter = anonymousReporter
	}
	return strings.Join([]string{fullname, strings.ToLower(reporter), l.Reason}, "|")
}

// prune drops entries first seen more than HistoryRetention before now.
func prune(data map[string]any, now time.Time) {
	cutoff := now.Add(-HistoryRetention).Unix()
	for k, v := range data {
		if ts, ok := unixSeconds(v); ok && ts < cutoff {
			delete(data, k)
		}
	}
}

func unixSeconds(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}
