// Package schedule computes the next eligible run time for a recurrence rule.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/studio"
)

const defaultAnchor = "09:00"

// NextRun returns the smallest timestamp strictly greater than now that
// matches the schedule's anchor in its configured time zone. The result is
// always in UTC. The computation is pure: callers pass now explicitly.
//
// Invalid kind/anchor combinations return a *studio.ConfigError; callers are
// expected to disable the schedule rather than retry.
func NextRun(sched studio.Schedule, now time.Time) (time.Time, error) {
	loc, err := location(sched.Timezone)
	if err != nil {
		return time.Time{}, err
	}
	hour, minute, err := parseAnchor(sched.AnchorTime)
	if err != nil {
		return time.Time{}, err
	}

	// Normalizing through the zone and back to UTC keeps DST transitions
	// correct: time.Date resolves wall-clock times in loc.
	local := now.In(loc)

	var next time.Time
	switch sched.Kind {
	case studio.ScheduleHourly:
		next = nextHourly(local, minute)
	case studio.ScheduleDaily:
		next = nextDaily(local, hour, minute)
	case studio.ScheduleWeekly:
		next, err = nextWeekly(local, sched.DayOfWeek, hour, minute)
	case studio.ScheduleMonthly:
		next, err = nextMonthly(local, sched.DayOfMonth, hour, minute)
	default:
		return time.Time{}, studio.NewConfigError("kind", fmt.Sprintf("unknown schedule kind %q", sched.Kind))
	}
	if err != nil {
		return time.Time{}, err
	}
	return next.UTC(), nil
}

func location(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, studio.NewConfigError("timezone", fmt.Sprintf("unknown time zone %q", name))
	}
	return loc, nil
}

func parseAnchor(anchor string) (hour, minute int, err error) {
	if anchor == "" {
		anchor = defaultAnchor
	}
	parts := strings.Split(anchor, ":")
	if len(parts) != 2 {
		return 0, 0, studio.NewConfigError("anchor_time", "must be in HH:MM format")
	}
	hour, herr := strconv.Atoi(parts[0])
	minute, merr := strconv.Atoi(parts[1])
	if herr != nil || merr != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, studio.NewConfigError("anchor_time", "must be in HH:MM format")
	}
	return hour, minute, nil
}

func nextHourly(local time.Time, minute int) time.Time {
	next := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), minute, 0, 0, local.Location())
	if !next.After(local) {
		next = next.Add(time.Hour)
	}
	return next
}

func nextDaily(local time.Time, hour, minute int) time.Time {
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, local.Location())
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// nextWeekly uses 0=Monday through 6=Sunday for dayOfWeek.
func nextWeekly(local time.Time, dayOfWeek *int, hour, minute int) (time.Time, error) {
	target := 0
	if dayOfWeek != nil {
		target = *dayOfWeek
	}
	if target < 0 || target > 6 {
		return time.Time{}, studio.NewConfigError("day_of_week", "must be between 0 (Monday) and 6 (Sunday)")
	}
	// time.Weekday counts Sunday=0; shift so Monday=0.
	current := (int(local.Weekday()) + 6) % 7
	daysAhead := target - current
	atAnchor := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, local.Location())
	if daysAhead < 0 || (daysAhead == 0 && !atAnchor.After(local)) {
		daysAhead += 7
	}
	return atAnchor.AddDate(0, 0, daysAhead), nil
}

func nextMonthly(local time.Time, dayOfMonth *int, hour, minute int) (time.Time, error) {
	target := 1
	if dayOfMonth != nil {
		target = *dayOfMonth
	}
	// Capped at 28 so every month has the day.
	if target < 1 || target > 28 {
		return time.Time{}, studio.NewConfigError("day_of_month", "must be between 1 and 28")
	}
	next := time.Date(local.Year(), local.Month(), target, hour, minute, 0, 0, local.Location())
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), target, hour, minute, 0, 0, local.Location()).AddDate(0, 1, 0)
	}
	return next, nil
}

// Validate checks a schedule specification without computing anything. It is
// used by the upsert path so bad specs are rejected before being persisted.
func Validate(sched studio.Schedule) error {
	_, err := NextRun(sched, time.Now())
	return err
}
