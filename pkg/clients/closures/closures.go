package closures

import (
	"context"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/jakechorley/seasonal-allocation/internal/config"
	"github.com/jakechorley/seasonal-allocation/pkg/core/occurrences"
	"github.com/jakechorley/seasonal-allocation/pkg/core/timewindow"
)

const defaultDuration = 24 * time.Hour

// Rule closes units for Duration starting at every occurrence of an RRULE
type Rule struct {
	Name     string
	rule     *rrule.RRule
	units    map[string]struct{}
	duration time.Duration
}

// NewRule parses spec in loc. Without a DTSTART the rule is anchored at 2000-01-01 00:00,
// so occurrences fall at midnight unless BYHOUR/BYMINUTE say otherwise.
// An empty units list applies the rule to every unit.
func NewRule(name, spec string, units []string, duration time.Duration, loc *time.Location) (*Rule, error) {
	if loc == nil {
		loc = time.UTC
	}
	opt, err := rrule.StrToROptionInLocation(spec, loc)
	if err != nil {
		return nil, fmt.Errorf("invalid blackout rule %q: %w", name, err)
	}
	if opt.Dtstart.IsZero() {
		opt.Dtstart = time.Date(2000, 1, 1, 0, 0, 0, 0, loc)
	}
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("invalid blackout rule %q: %w", name, err)
	}

	if duration <= 0 {
		duration = defaultDuration
	}

	var set map[string]struct{}
	if len(units) > 0 {
		set = make(map[string]struct{}, len(units))
		for _, u := range units {
			set[u] = struct{}{}
		}
	}

	return &Rule{Name: name, rule: r, units: set, duration: duration}, nil
}

// Applies reports whether the rule covers unitID
func (r *Rule) Applies(unitID string) bool {
	if r.units == nil {
		return true
	}
	_, ok := r.units[unitID]
	return ok
}

// Closes reports whether any closure of the rule intersects [begin, end)
func (r *Rule) Closes(begin, end time.Time) bool {
	// An occurrence o closes [o, o+duration), which intersects iff begin-duration < o < end
	return len(r.rule.Between(begin.Add(-r.duration), end, false)) > 0
}

// Calendar answers closure queries from a fixed set of rules
type Calendar struct {
	rules []*Rule
	loc   *time.Location
}

// NewCalendar returns a calendar projecting windows in loc
func NewCalendar(loc *time.Location, rules ...*Rule) *Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return &Calendar{rules: rules, loc: loc}
}

// FromConfig builds a calendar from the configured blackout rules
func FromConfig(rules []config.BlackoutRule, loc *time.Location) (*Calendar, error) {
	parsed := make([]*Rule, 0, len(rules))
	for _, br := range rules {
		r, err := NewRule(br.Name, br.RRule, br.Units, br.Duration, loc)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, r)
	}
	return NewCalendar(loc, parsed...), nil
}

// Len returns the number of rules
func (c *Calendar) Len() int {
	return len(c.rules)
}

// IsClosed reports whether any rule covering unitID closes the window on date
func (c *Calendar) IsClosed(ctx context.Context, unitID string, date time.Time, window timewindow.Window) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	begin, end := occurrences.Project(date, window, c.loc)
	for _, r := range c.rules {
		if r.Applies(unitID) && r.Closes(begin, end) {
			return true, nil
		}
	}
	return false, nil
}

// Composite reports a date closed when any of its oracles does
type Composite []occurrences.ClosureOracle

// IsClosed asks each oracle in order and stops at the first closure or error
func (c Composite) IsClosed(ctx context.Context, unitID string, date time.Time, window timewindow.Window) (bool, error) {
	for _, oracle := range c {
		closed, err := oracle.IsClosed(ctx, unitID, date, window)
		if err != nil {
			return false, err
		}
		if closed {
			return true, nil
		}
	}
	return false, nil
}
