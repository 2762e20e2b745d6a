package timewindow

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// MinutesPerDay is the effective end of a window whose end is the midnight sentinel
const MinutesPerDay = 24 * 60

// Weekday is a day of the week with Monday as the first day (Monday=0 ... Sunday=6)
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var weekdayNames = [...]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// IsValid returns true if the weekday is in the Monday..Sunday range
func (d Weekday) IsValid() bool {
	return d >= Monday && d <= Sunday
}

func (d Weekday) String() string {
	if !d.IsValid() {
		return fmt.Sprintf("Weekday(%d)", int(d))
	}
	return weekdayNames[d]
}

// Time converts the weekday to the standard library's Sunday-first weekday
func (d Weekday) Time() time.Weekday {
	return time.Weekday((int(d) + 1) % 7)
}

// FromTime converts a standard library weekday to a Monday-first Weekday
func FromTime(d time.Weekday) Weekday {
	return Weekday((int(d) + 6) % 7)
}

// ParseWeekday parses a three letter weekday abbreviation (case-insensitive)
func ParseWeekday(s string) (Weekday, error) {
	for i, name := range weekdayNames {
		if strings.EqualFold(name, s) {
			return Weekday(i), nil
		}
	}
	return 0, fmt.Errorf("invalid weekday %q", s)
}

// TimeOfDay is a wall clock time expressed as minutes since midnight
type TimeOfDay int

// Midnight is 00:00. Used as a window end it means "runs to the end of the day".
const Midnight TimeOfDay = 0

// NewTimeOfDay builds a TimeOfDay from hours and minutes
func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay parses a "HH:MM" (or "HH:MM:SS", seconds ignored) time
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	layout := "15:04"
	if strings.Count(s, ":") == 2 {
		layout = "15:04:05"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return NewTimeOfDay(t.Hour(), t.Minute()), nil
}

// Hour returns the hour component
func (t TimeOfDay) Hour() int {
	return int(t) / 60
}

// Minute returns the minute component
func (t TimeOfDay) Minute() int {
	return int(t) % 60
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// On projects the time of day onto the given date in the date's location
func (t TimeOfDay) On(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, date.Location())
}

// Window is a half-open interval [Begin, End) on a weekday.
// An End of Midnight is the end-of-day sentinel and is never earlier than any other end.
type Window struct {
	Day   Weekday
	Begin TimeOfDay
	End   TimeOfDay
}

// New builds a Window
func New(day Weekday, begin, end TimeOfDay) Window {
	return Window{Day: day, Begin: begin, End: end}
}

// EffectiveEnd returns End in minutes, mapping the midnight sentinel to 24:00
func (w Window) EffectiveEnd() int {
	if w.End == Midnight {
		return MinutesPerDay
	}
	return int(w.End)
}

// Duration returns the length of the window
func (w Window) Duration() time.Duration {
	return time.Duration(w.EffectiveEnd()-int(w.Begin)) * time.Minute
}

// IsEmpty returns true if the window has no measure
func (w Window) IsEmpty() bool {
	return w.EffectiveEnd() <= int(w.Begin)
}

// Validate checks the weekday and that Begin < End (unless End is the midnight sentinel)
func (w Window) Validate() error {
	if !w.Day.IsValid() {
		return &ValidationError{Window: w, Reason: "weekday out of range"}
	}
	if w.Begin < 0 || int(w.Begin) >= MinutesPerDay || w.End < 0 || int(w.End) >= MinutesPerDay {
		return &ValidationError{Window: w, Reason: "time of day out of range"}
	}
	if w.IsEmpty() {
		return &ValidationError{Window: w, Reason: "begin must be before end"}
	}
	return nil
}

func (w Window) String() string {
	return fmt.Sprintf("%s %s-%s", w.Day, w.Begin, w.End)
}

// ValidationError is returned for a malformed window
type ValidationError struct {
	Window Window
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid window %s: %s", e.Window, e.Reason)
}

// Overlaps returns true if a and b are on the same weekday and intersect with non-zero measure
func Overlaps(a, b Window) bool {
	if a.Day != b.Day || a.IsEmpty() || b.IsEmpty() {
		return false
	}
	return int(a.Begin) < b.EffectiveEnd() && int(b.Begin) < a.EffectiveEnd()
}

// Contains returns true if inner lies entirely within outer on the same weekday
func Contains(outer, inner Window) bool {
	if outer.Day != inner.Day {
		return false
	}
	return inner.Begin >= outer.Begin && inner.EffectiveEnd() <= outer.EffectiveEnd()
}

// Union merges overlapping and adjacent windows per weekday.
// The result is sorted by weekday then begin time and contains no empty windows.
func Union(windows []Window) []Window {
	sorted := make([]Window, 0, len(windows))
	for _, w := range windows {
		if !w.IsEmpty() {
			sorted = append(sorted, w)
		}
	}
	SortNatural(sorted)

	merged := make([]Window, 0, len(sorted))
	for _, w := range sorted {
		if n := len(merged); n > 0 {
			last := &merged[n-1]
			if last.Day == w.Day && int(w.Begin) <= last.EffectiveEnd() {
				if w.EffectiveEnd() > last.EffectiveEnd() {
					last.End = w.End
				}
				continue
			}
		}
		merged = append(merged, w)
	}
	return merged
}

// Subtract removes b from a, returning zero, one or two remaining windows
func Subtract(a, b Window) []Window {
	if !Overlaps(a, b) {
		if a.IsEmpty() {
			return nil
		}
		return []Window{a}
	}

	var result []Window
	if b.Begin > a.Begin {
		result = append(result, Window{Day: a.Day, Begin: a.Begin, End: b.Begin})
	}
	if b.EffectiveEnd() < a.EffectiveEnd() {
		result = append(result, Window{Day: a.Day, Begin: TimeOfDay(b.EffectiveEnd()), End: a.End})
	}
	return result
}

// Split cuts w into windows of the given length whose begin times advance by step.
// No placement extends beyond w, and the last one always ends with w even when step does not
// divide the slack. A non-positive length returns w unchanged; a window shorter than length
// yields nothing.
func Split(w Window, length, step time.Duration) []Window {
	lengthMin := int(length / time.Minute)
	if lengthMin <= 0 || lengthMin >= w.EffectiveEnd()-int(w.Begin) {
		if lengthMin > w.EffectiveEnd()-int(w.Begin) {
			return nil
		}
		return []Window{w}
	}
	stepMin := int(step / time.Minute)
	if stepMin <= 0 {
		stepMin = lengthMin
	}

	placement := func(begin int) Window {
		end := begin + lengthMin
		if end == MinutesPerDay {
			end = int(Midnight)
		}
		return Window{Day: w.Day, Begin: TimeOfDay(begin), End: TimeOfDay(end)}
	}

	var result []Window
	last := int(w.Begin)
	for begin := int(w.Begin); begin+lengthMin <= w.EffectiveEnd(); begin += stepMin {
		result = append(result, placement(begin))
		last = begin
	}
	// Flush to the end of w
	if flush := w.EffectiveEnd() - lengthMin; flush > last {
		result = append(result, placement(flush))
	}
	return result
}

// SortNatural sorts windows by weekday, then begin, then effective end
func SortNatural(windows []Window) {
	slices.SortStableFunc(windows, CompareNatural)
}

// CompareNatural orders windows by weekday, then begin, then effective end
func CompareNatural(a, b Window) int {
	if a.Day != b.Day {
		return int(a.Day) - int(b.Day)
	}
	if a.Begin != b.Begin {
		return int(a.Begin) - int(b.Begin)
	}
	return a.EffectiveEnd() - b.EffectiveEnd()
}
