package sla

import "time"

// Deadline math uses a fixed 09:00-17:00 Monday-Friday working day rather
// than the profile's per-weekday windows. The profile only contributes its
// timezone here. Holidays are likewise not consulted in the day-advance
// loop. Both are known simplifications kept behind the Calendar type so a
// profile-aware calculator can replace them without touching the clock.
const (
	workStartHour = 9
	workEndHour   = 17
	workDayHours  = workEndHour - workStartHour
)

// AddDuration returns the instant `hours` working hours after start. With
// businessHoursOnly false it is plain wall-clock addition. The result is
// deterministic and applying a zero-hour add twice yields the same instant.
func (c *Calendar) AddDuration(start time.Time, hours int, businessHoursOnly bool) time.Time {
	if !businessHoursOnly {
		return start.Add(time.Duration(hours) * time.Hour)
	}
	loc := time.UTC
	if c != nil && c.Location != nil {
		loc = c.Location
	}
	t := rollToWindow(start.In(loc))

	days := hours / workDayHours
	rem := hours % workDayHours
	for i := 0; i < days; i++ {
		t = nextWeekday(t)
	}
	t = t.Add(time.Duration(rem) * time.Hour)

	// Remainder past the end of day rolls into the next working morning.
	for {
		dayEnd := time.Date(t.Year(), t.Month(), t.Day(), workEndHour, 0, 0, 0, t.Location())
		excess := t.Sub(dayEnd)
		if excess <= 0 {
			break
		}
		t = nextWeekday(dayEnd)
		t = time.Date(t.Year(), t.Month(), t.Day(), workStartHour, 0, 0, 0, t.Location()).Add(excess)
	}
	return t.In(start.Location())
}

// rollToWindow advances an out-of-window instant to the next working-day
// start, preserving the sub-hour offset. In-window instants pass through.
func rollToWindow(t time.Time) time.Time {
	rolled := t.Hour() >= workEndHour
	if rolled {
		t = t.AddDate(0, 0, 1)
	}
	for isWeekend(t) {
		t = t.AddDate(0, 0, 1)
		rolled = true
	}
	if rolled || t.Hour() < workStartHour {
		t = time.Date(t.Year(), t.Month(), t.Day(), workStartHour, t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	}
	return t
}

// nextWeekday moves one day forward, then past any weekend.
func nextWeekday(t time.Time) time.Time {
	t = t.AddDate(0, 0, 1)
	for isWeekend(t) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

func isWeekend(t time.Time) bool {
	return t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
}

// BusinessHoursElapsed estimates the working hours between start and end
// against the fixed 9-17 weekday window. It is a coarse estimator for
// percentage-to-breach display, not the exact inverse of AddDuration:
// boundary days are clipped to the window, in-between weekdays credit a
// full day, weekends credit nothing.
func (c *Calendar) BusinessHoursElapsed(start, end time.Time) float64 {
	loc := time.UTC
	if c != nil && c.Location != nil {
		loc = c.Location
	}
	s := start.In(loc)
	e := end.In(loc)
	if !e.After(s) {
		return 0
	}
	sDay := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, loc)
	eDay := time.Date(e.Year(), e.Month(), e.Day(), 0, 0, 0, 0, loc)

	if sDay.Equal(eDay) {
		if isWeekend(s) {
			return 0
		}
		return clippedHours(s, e, sDay)
	}

	total := 0.0
	if !isWeekend(s) {
		total += clippedHours(s, sDay.Add(workEndHour*time.Hour), sDay)
	}
	for d := sDay.AddDate(0, 0, 1); d.Before(eDay); d = d.AddDate(0, 0, 1) {
		if !isWeekend(d) {
			total += workDayHours
		}
	}
	if !isWeekend(e) {
		total += clippedHours(eDay.Add(workStartHour*time.Hour), e, eDay)
	}
	return total
}

// clippedHours returns the span of [from,to] intersected with day's 9-17
// window, in hours.
func clippedHours(from, to time.Time, day time.Time) float64 {
	winStart := day.Add(workStartHour * time.Hour)
	winEnd := day.Add(workEndHour * time.Hour)
	if from.Before(winStart) {
		from = winStart
	}
	if to.After(winEnd) {
		to = winEnd
	}
	if !to.After(from) {
		return 0
	}
	return to.Sub(from).Hours()
}
