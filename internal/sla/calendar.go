package sla

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// DB is a minimal interface to allow mocking in tests.
type DB interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Hours is a single weekday's working window in seconds from midnight.
type Hours struct {
	StartSec int
	EndSec   int
}

// Holiday blocks a calendar day. Recurring holidays match their month/day
// in every year regardless of the stored year.
type Holiday struct {
	Date      time.Time
	Recurring bool
}

// Calendar is an organization's business-hours profile: timezone, per-weekday
// working windows and holidays. Weekdays without an entry are closed.
type Calendar struct {
	Location *time.Location
	Hours    map[time.Weekday]Hours
	Holidays []Holiday
}

// LoadCalendar reads the business-hours profile for an organization. Returns
// ErrNoCalendar if the organization has no profile configured.
func LoadCalendar(ctx context.Context, db DB, orgID string) (*Calendar, error) {
	var profileID, tz string
	err := db.QueryRow(ctx, `select id::text, timezone from business_hours_profiles where organization_id=$1`, orgID).Scan(&profileID, &tz)
	if err == pgx.ErrNoRows {
		return nil, ErrNoCalendar
	}
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, err
	}
	cal := &Calendar{
		Location: loc,
		Hours:    make(map[time.Weekday]Hours),
	}
	rows, err := db.Query(ctx, `select dow, start_sec, end_sec from business_hours where profile_id=$1`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var dow, start, end int
		if err := rows.Scan(&dow, &start, &end); err == nil {
			cal.Hours[time.Weekday(dow)] = Hours{StartSec: start, EndSec: end}
		}
	}
	hrows, err := db.Query(ctx, `select date, recurring from holidays where profile_id=$1`, profileID)
	if err != nil {
		return nil, err
	}
	defer hrows.Close()
	for hrows.Next() {
		var d time.Time
		var rec bool
		if err := hrows.Scan(&d, &rec); err == nil {
			day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
			cal.Holidays = append(cal.Holidays, Holiday{Date: day, Recurring: rec})
		}
	}
	return cal, nil
}

// IsWorkingInstant reports whether t falls inside the profile's working
// window for its weekday. Both window ends are inclusive.
func (c *Calendar) IsWorkingInstant(t time.Time) bool {
	lt := t.In(c.Location)
	hrs, ok := c.Hours[lt.Weekday()]
	if !ok {
		return false
	}
	sec := lt.Hour()*3600 + lt.Minute()*60 + lt.Second()
	return sec >= hrs.StartSec && sec <= hrs.EndSec
}

// IsHoliday reports whether t's calendar day is blocked: an exact match on a
// non-recurring holiday, or a month/day match on any recurring one.
func (c *Calendar) IsHoliday(t time.Time) bool {
	lt := t.In(c.Location)
	for _, h := range c.Holidays {
		if h.Recurring {
			if h.Date.Month() == lt.Month() && h.Date.Day() == lt.Day() {
				return true
			}
			continue
		}
		if h.Date.Year() == lt.Year() && h.Date.Month() == lt.Month() && h.Date.Day() == lt.Day() {
			return true
		}
	}
	return false
}

// BusinessDuration returns the working time between start and end according
// to the profile's actual per-day windows and holidays.
func (c *Calendar) BusinessDuration(start, end time.Time) time.Duration {
	if end.Before(start) {
		start, end = end, start
	}
	start = start.In(c.Location)
	end = end.In(c.Location)
	total := time.Duration(0)
	cur := start
	for cur.Before(end) {
		dayStart := time.Date(cur.Year(), cur.Month(), cur.Day(), 0, 0, 0, 0, c.Location)
		dayEnd := dayStart.Add(24 * time.Hour)
		if c.IsHoliday(dayStart) {
			cur = dayEnd
			continue
		}
		hrs, ok := c.Hours[dayStart.Weekday()]
		if !ok {
			cur = dayEnd
			continue
		}
		bhStart := dayStart.Add(time.Duration(hrs.StartSec) * time.Second)
		bhEnd := dayStart.Add(time.Duration(hrs.EndSec) * time.Second)
		if cur.Before(bhStart) {
			cur = bhStart
		}
		if cur.After(bhEnd) {
			cur = dayEnd
			continue
		}
		e := minTime(end, bhEnd)
		if e.After(cur) {
			total += e.Sub(cur)
		}
		cur = e
		if cur.Equal(bhEnd) {
			cur = dayEnd
		}
	}
	return total
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
