package schedule

import (
	"fmt"
	"strings"
	"time"
)

// Days is a weekday bitmask; bit n is time.Weekday(n).
type Days uint8

const (
	Sunday Days = 1 << iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday

	Weekdays = Monday | Tuesday | Wednesday | Thursday | Friday
	Weekend  = Saturday | Sunday
	All      = Weekdays | Weekend
)

// DayOf returns the mask bit of w.
func DayOf(w time.Weekday) Days {
	return 1 << uint(w)
}

// Has reports whether w is in the mask.
func (d Days) Has(w time.Weekday) bool {
	return d&DayOf(w) != 0
}

var dayNames = map[string]Days{
	"sun": Sunday, "sunday": Sunday,
	"mon": Monday, "monday": Monday,
	"tue": Tuesday, "tuesday": Tuesday,
	"wed": Wednesday, "wednesday": Wednesday,
	"thu": Thursday, "thursday": Thursday,
	"fri": Friday, "friday": Friday,
	"sat": Saturday, "saturday": Saturday,
	"weekdays": Weekdays,
	"weekend":  Weekend,
	"all":      All,
	"daily":    All,
}

// ParseDays reads a comma separated list such as "weekdays" or "mon,wed,sun".
func ParseDays(value string) (Days, error) {
	var days Days
	for _, part := range strings.Split(value, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		d, ok := dayNames[part]
		if !ok {
			return 0, fmt.Errorf("unknown day %q", part)
		}
		days |= d
	}
	if days == 0 {
		return 0, fmt.Errorf("no days in %q", value)
	}
	return days, nil
}

// ParseClock reads "HH:MM" or "HH:MM:SS" as an offset from midnight.
func ParseClock(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", value)
}
