package occurrences

import (
	"iter"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/jakechorley/seasonal-allocation/pkg/core/model"
	"github.com/jakechorley/seasonal-allocation/pkg/core/timewindow"
)

var rruleWeekdays = [...]rrule.Weekday{
	timewindow.Monday:    rrule.MO,
	timewindow.Tuesday:   rrule.TU,
	timewindow.Wednesday: rrule.WE,
	timewindow.Thursday:  rrule.TH,
	timewindow.Friday:    rrule.FR,
	timewindow.Saturday:  rrule.SA,
	timewindow.Sunday:    rrule.SU,
}

// WeeklyRule builds the weekly recurrence for day within period, in loc.
// Start and End are taken as calendar dates; both are inclusive.
func WeeklyRule(day timewindow.Weekday, period model.Period, loc *time.Location) (*rrule.RRule, error) {
	if !day.IsValid() {
		return nil, &timewindow.ValidationError{Window: timewindow.Window{Day: day}, Reason: "weekday out of range"}
	}
	return rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Dtstart:   dateIn(period.Start, loc),
		Until:     dateIn(period.End, loc),
		Byweekday: []rrule.Weekday{rruleWeekdays[day]},
	})
}

// Dates yields the first date on or after period.Start falling on day, then every 7 days,
// up to and including the last one on or before period.End. Each yielded value is midnight
// of the date in loc.
//
// The sequence is finite and restartable: every range over it starts from the beginning.
// An invalid weekday or a period that ends before it starts yields nothing.
func Dates(day timewindow.Weekday, period model.Period, loc *time.Location) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		if dateIn(period.End, loc).Before(dateIn(period.Start, loc)) {
			return
		}
		rule, err := WeeklyRule(day, period, loc)
		if err != nil {
			return
		}
		next := rule.Iterator()
		for {
			date, ok := next()
			if !ok {
				return
			}
			if !yield(date) {
				return
			}
		}
	}
}

// Project places window on date, returning the concrete [begin, end) instants.
// A window ending at the midnight sentinel ends at 00:00 of the following day.
func Project(date time.Time, window timewindow.Window, loc *time.Location) (time.Time, time.Time) {
	day := dateIn(date, loc)
	begin := window.Begin.On(day)
	if window.End == timewindow.Midnight {
		return begin, day.AddDate(0, 0, 1)
	}
	return begin, window.End.On(day)
}

func dateIn(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
