package period

import (
	"fmt"
	"time"
)

const keyLayout = "2006-01"

// Period is a half-open UTC interval [Start, End) aligned to calendar months.
type Period struct {
	Start time.Time `json:"periodStart"`
	End   time.Time `json:"periodEnd"`
}

// MonthRangeUTC returns the period for the given year and month. Months outside
// 1..12 roll over into neighbouring years (0 is December of the previous year).
func MonthRangeUTC(year, month int) Period {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return Period{Start: start, End: start.AddDate(0, 1, 0)}
}

// CurrentMonthRangeUTC returns the month containing now.
func CurrentMonthRangeUTC(now time.Time) Period {
	u := now.UTC()
	return MonthRangeUTC(u.Year(), int(u.Month()))
}

// Trailing returns the n months immediately preceding the current one,
// most recent first. The current month is not included.
func Trailing(now time.Time, n int) []Period {
	if n <= 0 {
		return nil
	}
	u := now.UTC()
	out := make([]Period, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, MonthRangeUTC(u.Year(), int(u.Month())-i))
	}
	return out
}

// Previous returns the month before now, the default target of a payout run.
func Previous(now time.Time) Period {
	return Trailing(now, 1)[0]
}

// Contains reports whether t falls in [Start, End).
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

func (p Period) StartMs() int64 { return p.Start.UnixMilli() }
func (p Period) EndMs() int64   { return p.End.UnixMilli() }

func (p Period) Year() int  { return p.Start.Year() }
func (p Period) Month() int { return int(p.Start.Month()) }

// Key formats the period as "YYYY-MM".
func (p Period) Key() string {
	return p.Start.Format(keyLayout)
}

func (p Period) String() string {
	return fmt.Sprintf("%s [%s, %s)", p.Key(), p.Start.Format(time.RFC3339), p.End.Format(time.RFC3339))
}

// KeyForMillis returns the "YYYY-MM" key of the UTC month containing ms.
func KeyForMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(keyLayout)
}

// ParseKey parses a "YYYY-MM" key back into its period.
func ParseKey(key string) (Period, error) {
	t, err := time.ParseInLocation(keyLayout, key, time.UTC)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period key %q: %w", key, err)
	}
	return MonthRangeUTC(t.Year(), int(t.Month())), nil
}
