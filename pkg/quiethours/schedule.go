package quiethours

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const minutesPerDay = 24 * 60

// Period is a daily do-not-disturb window in the schedule's timezone.
// When End is not after Start the window runs overnight into the next day.
// Days names the days the window starts on; empty means every day.
type Period struct {
	Days  []string `yaml:"days" validate:"dive,oneof=mon tue wed thu fri sat sun"`
	Start string   `yaml:"start" validate:"required,datetime=15:04"`
	End   string   `yaml:"end" validate:"required,datetime=15:04"`
}

// Schedule is one user's quiet hours
type Schedule struct {
	Timezone string   `yaml:"timezone" validate:"omitempty,timezone"`
	Disabled bool     `yaml:"disabled"`
	Periods  []Period `yaml:"periods" validate:"dive"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

type window struct {
	days   [7]bool
	start  int // minutes since midnight
	length int // minutes
}

type compiled struct {
	loc     *time.Location
	windows []window
}

func compile(s Schedule) (*compiled, error) {
	periods := make([]Period, len(s.Periods))
	for i, p := range s.Periods {
		p.Days = append([]string(nil), p.Days...)
		for j, d := range p.Days {
			p.Days[j] = strings.ToLower(d)
		}
		periods[i] = p
	}
	s.Periods = periods

	if err := validate.Struct(s); err != nil {
		return nil, errors.Join(ErrInvalidSchedule, err)
	}

	loc := time.UTC
	if s.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(s.Timezone); err != nil {
			return nil, errors.Join(ErrInvalidSchedule, err)
		}
	}

	c := &compiled{loc: loc}
	if s.Disabled {
		return c, nil
	}
	for _, p := range s.Periods {
		start, _ := clockMinutes(p.Start)
		end, _ := clockMinutes(p.End)
		length := (end - start + minutesPerDay) % minutesPerDay
		if length == 0 {
			return nil, fmt.Errorf("%w: period %s-%s is empty", ErrInvalidSchedule, p.Start, p.End)
		}

		w := window{start: start, length: length}
		if len(p.Days) == 0 {
			w.days = [7]bool{true, true, true, true, true, true, true}
		}
		for _, d := range p.Days {
			w.days[weekdays[d]] = true
		}
		c.windows = append(c.windows, w)
	}
	return c, nil
}

func clockMinutes(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// activeUntil returns the end of the window covering t, or false when t is
// outside every window
func (c *compiled) activeUntil(t time.Time) (time.Time, bool) {
	local := t.In(c.loc)
	y, m, d := local.Date()

	var (
		end   time.Time
		found bool
	)
	// A window covering t started today or, for overnight windows, yesterday
	for offset := -1; offset <= 0; offset++ {
		day := time.Date(y, m, d+offset, 0, 0, 0, 0, c.loc)
		for _, w := range c.windows {
			if !w.days[day.Weekday()] {
				continue
			}
			from := time.Date(day.Year(), day.Month(), day.Day(), w.start/60, w.start%60, 0, 0, c.loc)
			to := from.Add(time.Duration(w.length) * time.Minute)
			if !t.Before(from) && t.Before(to) && to.After(end) {
				end, found = to, true
			}
		}
	}
	return end, found
}

// nextAllowed follows back-to-back windows until t falls outside all of them
func (c *compiled) nextAllowed(t time.Time) time.Time {
	for range 8 {
		end, ok := c.activeUntil(t)
		if !ok {
			return t
		}
		t = end
	}
	return t
}
