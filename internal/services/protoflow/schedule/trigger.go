package schedule

import "time"

// Trigger decides whether an event is due at now given its last firing.
// last is the zero time until the event first fires.
type Trigger interface {
	Due(now, last time.Time) bool
}

// TriggerFunc adapts a function to Trigger.
type TriggerFunc func(now, last time.Time) bool

func (f TriggerFunc) Due(now, last time.Time) bool { return f(now, last) }

// Calendar fires once per qualifying day, on the first tick strictly after
// At on a day in Days. Dates are compared in now's location.
type Calendar struct {
	At   time.Duration
	Days Days
}

func (c Calendar) Due(now, last time.Time) bool {
	if !c.Days.Has(now.Weekday()) {
		return false
	}
	if timeOfDay(now) <= c.At {
		return false
	}
	return last.IsZero() || dateBefore(last.In(now.Location()), now)
}

// Interval fires every Every once Start+Every has passed.
type Interval struct {
	Start time.Time
	Every time.Duration
}

func (i Interval) Due(now, last time.Time) bool {
	if !now.After(i.Start.Add(i.Every)) {
		return false
	}
	return last.IsZero() || now.Sub(last) >= i.Every
}

// timeOfDay is the wall-clock time since midnight, so DST shifts do not
// move a trigger.
func timeOfDay(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second + time.Duration(t.Nanosecond())
}

func dateBefore(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	if ay != by {
		return ay < by
	}
	if am != bm {
		return am < bm
	}
	return ad < bd
}
