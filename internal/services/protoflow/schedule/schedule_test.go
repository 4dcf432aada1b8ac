package schedule

import (
	"testing"
	"time"
)

func at(value string) time.Time {
	t, err := time.ParseInLocation("2006-01-02T15:04", value, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func TestCalendarFiresOncePerDay(t *testing.T) {
	trigger := Calendar{At: 7*time.Hour + 20*time.Minute, Days: Weekdays}
	now := at("2024-01-08T07:25") // Monday

	if !trigger.Due(now, time.Time{}) {
		t.Fatal("expected first evaluation after 07:20 on a weekday to be due")
	}
	for _, later := range []string{"2024-01-08T07:26", "2024-01-08T12:00", "2024-01-08T23:59"} {
		if trigger.Due(at(later), now) {
			t.Fatalf("expected %s not due after firing today", later)
		}
	}
	if !trigger.Due(at("2024-01-09T07:21"), now) {
		t.Fatal("expected next weekday to be due")
	}
}

func TestCalendarRequiresStrictlyAfterAndMaskedDay(t *testing.T) {
	trigger := Calendar{At: 8 * time.Hour, Days: Monday}

	if trigger.Due(at("2024-01-08T08:00"), time.Time{}) {
		t.Fatal("exact target time must not be due")
	}
	if trigger.Due(at("2024-01-08T07:59"), time.Time{}) {
		t.Fatal("before target time must not be due")
	}
	if trigger.Due(at("2024-01-09T09:00"), time.Time{}) {
		t.Fatal("Tuesday is not in the mask")
	}
}

func TestCalendarComparesWholeDates(t *testing.T) {
	trigger := Calendar{At: time.Hour, Days: All}
	last := at("2024-01-08T02:00")

	// Same day-of-month one month later is a different date.
	if !trigger.Due(at("2024-02-08T02:00"), last) {
		t.Fatal("expected a later month with the same day number to be due")
	}
}

func TestCalendarUsesWallClockOnDSTDays(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("load location: %v", err)
	}
	trigger := Calendar{At: 7*time.Hour + 20*time.Minute, Days: All}

	// Clocks fell back at 02:00, so 06:30 is 7h30m after midnight.
	if trigger.Due(time.Date(2024, 11, 3, 6, 30, 0, 0, loc), time.Time{}) {
		t.Fatal("expected 06:30 on a fall-back day not to be due")
	}
	if !trigger.Due(time.Date(2024, 11, 3, 7, 25, 0, 0, loc), time.Time{}) {
		t.Fatal("expected 07:25 on a fall-back day to be due")
	}
	// Clocks sprang forward at 02:00, so 07:25 is 6h25m after midnight.
	if !trigger.Due(time.Date(2024, 3, 10, 7, 25, 0, 0, loc), time.Time{}) {
		t.Fatal("expected 07:25 on a spring-forward day to be due")
	}
}

func TestSchedulerCalendarAcrossMonday(t *testing.T) {
	s := New(nil)
	var fired []time.Time
	s.Register("", Calendar{At: 8 * time.Hour, Days: Monday}, func(now time.Time) {
		fired = append(fired, now)
	})

	start := at("2024-01-07T00:00") // Sunday
	for now := start; now.Before(start.Add(72 * time.Hour)); now = now.Add(time.Minute) {
		s.Tick(now)
	}

	if len(fired) != 1 {
		t.Fatalf("expected exactly one firing, got %d: %v", len(fired), fired)
	}
	if want := at("2024-01-08T08:01"); !fired[0].Equal(want) {
		t.Fatalf("expected firing at %s, got %s", want, fired[0])
	}
}

func TestIntervalTrigger(t *testing.T) {
	start := at("2024-01-08T10:00")
	trigger := Interval{Start: start, Every: 10 * time.Minute}

	if trigger.Due(start.Add(10*time.Minute), time.Time{}) {
		t.Fatal("start+interval itself is not yet due")
	}
	first := start.Add(10*time.Minute + time.Second)
	if !trigger.Due(first, time.Time{}) {
		t.Fatal("expected due after start+interval")
	}
	if trigger.Due(first.Add(9*time.Minute), first) {
		t.Fatal("expected not due before a full interval")
	}
	if !trigger.Due(first.Add(10*time.Minute), first) {
		t.Fatal("expected due after a full interval")
	}
}

func TestUnregisterInsideOwnCallback(t *testing.T) {
	s := New(nil)
	calls := 0
	var event *Event
	event = s.Register("", TriggerFunc(func(time.Time, time.Time) bool { return true }), func(time.Time) {
		calls++
		s.Unregister(event)
	})
	other := 0
	s.Register("", TriggerFunc(func(time.Time, time.Time) bool { return true }), func(time.Time) { other++ })

	now := at("2024-01-08T10:00")
	s.Tick(now)
	s.Tick(now.Add(time.Second))

	if calls != 1 {
		t.Fatalf("expected self-unregistering event to fire once, got %d", calls)
	}
	if other != 2 {
		t.Fatalf("expected sibling event to keep firing, got %d", other)
	}
	if event.Active() {
		t.Fatal("expected event inactive")
	}
	if s.Len() != 1 {
		t.Fatalf("expected one live event, got %d", s.Len())
	}
}

func TestEventsRegisteredDuringTickWaitForNextTick(t *testing.T) {
	s := New(nil)
	always := TriggerFunc(func(time.Time, time.Time) bool { return true })
	inner := 0
	registered := false
	s.Register("", always, func(time.Time) {
		if !registered {
			registered = true
			s.Register("", always, func(time.Time) { inner++ })
		}
	})

	now := at("2024-01-08T10:00")
	s.Tick(now)
	if inner != 0 {
		t.Fatal("new event must not fire in the tick that registered it")
	}
	s.Tick(now.Add(time.Second))
	if inner != 1 {
		t.Fatalf("expected new event to fire on next tick, got %d", inner)
	}
}

func TestUnregisterOwnerDropsEventsAndHooks(t *testing.T) {
	s := New(nil)
	always := TriggerFunc(func(time.Time, time.Time) bool { return true })
	fired := 0
	s.Register("inst-1", always, func(time.Time) { fired++ })
	s.OnLifecycle("inst-1", Opened, "", func(LifecycleEvent) { fired++ })
	s.Register("inst-2", always, func(time.Time) {})

	if n := s.UnregisterOwner("inst-1"); n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	s.Tick(at("2024-01-08T10:00"))
	s.Emit(LifecycleEvent{Kind: Opened, InstanceID: "x"})
	if fired != 0 {
		t.Fatalf("expected no callbacks from removed owner, got %d", fired)
	}
	if s.Len() != 1 {
		t.Fatalf("expected one event left, got %d", s.Len())
	}
}

func TestEmitFiltersByKindAndType(t *testing.T) {
	s := New(nil)
	var got []string
	s.OnLifecycle("", Opened, "FocusProtocol", func(ev LifecycleEvent) { got = append(got, "focus:"+ev.InstanceID) })
	s.OnLifecycle("", Closed, "", func(ev LifecycleEvent) { got = append(got, "closed:"+ev.InstanceID) })

	s.Emit(LifecycleEvent{Kind: Opened, InstanceID: "a", TypeName: "FocusProtocol"})
	s.Emit(LifecycleEvent{Kind: Opened, InstanceID: "b", TypeName: "CaptureProtocol"})
	s.Emit(LifecycleEvent{Kind: Closed, InstanceID: "c", TypeName: "CaptureProtocol"})

	if len(got) != 2 || got[0] != "focus:a" || got[1] != "closed:c" {
		t.Fatalf("unexpected deliveries %v", got)
	}
}

func TestPanickingCallbackDoesNotStopTick(t *testing.T) {
	s := New(nil)
	always := TriggerFunc(func(time.Time, time.Time) bool { return true })
	s.Register("", always, func(time.Time) { panic("plugin bug") })
	ran := false
	s.Register("", always, func(time.Time) { ran = true })

	if fired := s.Tick(at("2024-01-08T10:00")); fired != 2 {
		t.Fatalf("expected both events counted, got %d", fired)
	}
	if !ran {
		t.Fatal("expected second event to run")
	}
}

func TestParseDaysAndClock(t *testing.T) {
	days, err := ParseDays("mon, wed,weekend")
	if err != nil {
		t.Fatalf("parse days: %v", err)
	}
	if days != Monday|Wednesday|Saturday|Sunday {
		t.Fatalf("unexpected mask %07b", days)
	}
	if _, err := ParseDays("someday"); err == nil {
		t.Fatal("expected unknown day error")
	}
	if _, err := ParseDays(" , "); err == nil {
		t.Fatal("expected empty mask error")
	}

	clock, err := ParseClock("22:30")
	if err != nil || clock != 22*time.Hour+30*time.Minute {
		t.Fatalf("unexpected clock %s %v", clock, err)
	}
	if _, err := ParseClock("25:00"); err == nil {
		t.Fatal("expected invalid clock error")
	}
	if !All.Has(time.Saturday) || Weekdays.Has(time.Sunday) {
		t.Fatal("unexpected composite masks")
	}
}
