package models

import "time"

// Period names a fixed accounting window.
type Period string

// Supported limit periods.
const (
	PeriodMinute Period = "minute"
	PeriodHour   Period = "hour"
	PeriodDay    Period = "day"
	PeriodWeek   Period = "week"
	PeriodMonth  Period = "month"
)

// Periods lists every period from the shortest window to the longest.
var Periods = []Period{PeriodMinute, PeriodHour, PeriodDay, PeriodWeek, PeriodMonth}

// RequestLimits caps the number of forwarded requests per period.
type RequestLimits struct {
	RequestsPerMinute *int64 `json:"requests_per_minute,omitempty"`
	RequestsPerHour   *int64 `json:"requests_per_hour,omitempty"`
	RequestsPerDay    *int64 `json:"requests_per_day,omitempty"`
	RequestsPerWeek   *int64 `json:"requests_per_week,omitempty"`
	RequestsPerMonth  *int64 `json:"requests_per_month,omitempty"`
}

// ByPeriod returns the configured limits keyed by period. Unset periods are omitted.
func (l RequestLimits) ByPeriod() map[Period]int64 {
	return collectLimits(l.RequestsPerMinute, l.RequestsPerHour, l.RequestsPerDay, l.RequestsPerWeek, l.RequestsPerMonth)
}

// TokenLimits caps the number of consumed tokens per period.
type TokenLimits struct {
	TokensPerMinute *int64 `json:"tokens_per_minute,omitempty"`
	TokensPerHour   *int64 `json:"tokens_per_hour,omitempty"`
	TokensPerDay    *int64 `json:"tokens_per_day,omitempty"`
	TokensPerWeek   *int64 `json:"tokens_per_week,omitempty"`
	TokensPerMonth  *int64 `json:"tokens_per_month,omitempty"`
}

// ByPeriod returns the configured limits keyed by period. Unset periods are omitted.
func (l TokenLimits) ByPeriod() map[Period]int64 {
	return collectLimits(l.TokensPerMinute, l.TokensPerHour, l.TokensPerDay, l.TokensPerWeek, l.TokensPerMonth)
}

func collectLimits(minute, hour, day, week, month *int64) map[Period]int64 {
	out := make(map[Period]int64, 5)
	for i, v := range []*int64{minute, hour, day, week, month} {
		if v == nil || *v < 0 {
			continue
		}
		out[Periods[i]] = *v
	}
	return out
}

// BucketStart returns the UTC start of the window containing now.
// Weeks start on Monday.
func (p Period) BucketStart(now time.Time) time.Time {
	now = now.UTC()
	switch p {
	case PeriodMinute:
		return now.Truncate(time.Minute)
	case PeriodHour:
		return now.Truncate(time.Hour)
	case PeriodDay:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case PeriodWeek:
		day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case PeriodMonth:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return now
	}
}

// BucketEnd returns the UTC end (exclusive) of the window containing now.
func (p Period) BucketEnd(now time.Time) time.Time {
	start := p.BucketStart(now)
	switch p {
	case PeriodMinute:
		return start.Add(time.Minute)
	case PeriodHour:
		return start.Add(time.Hour)
	case PeriodDay:
		return start.AddDate(0, 0, 1)
	case PeriodWeek:
		return start.AddDate(0, 0, 7)
	case PeriodMonth:
		return start.AddDate(0, 1, 0)
	default:
		return start
	}
}
