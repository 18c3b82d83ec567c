package market

import (
	"fmt"
	"time"

	"github.com/yih5025/investment-assistant-backend-sub000/pkg/config"
)

// Market states reported by the status surface.
const (
	StateOpen   = "open"
	StateClosed = "closed"
)

// Calendar answers session questions for one trading venue. It is immutable
// after construction and safe for concurrent use.
type Calendar struct {
	name       string
	alwaysOpen bool
	loc        *time.Location
	openH      int
	openM      int
	closeH     int
	closeM     int
	holidays   map[string]struct{} // venue-local "2006-01-02"

	closeGrace     time.Duration
	extendedSearch time.Duration
}

// NewCalendar builds a Calendar from venue configuration.
func NewCalendar(name string, cfg config.VenueConfig) (*Calendar, error) {
	if cfg.AlwaysOpen {
		return &Calendar{name: name, alwaysOpen: true, loc: time.UTC}, nil
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("venue %q: loading timezone %q: %w", name, cfg.Timezone, err)
	}

	open, err := time.Parse("15:04", cfg.Open)
	if err != nil {
		return nil, fmt.Errorf("venue %q: parsing open time %q: %w", name, cfg.Open, err)
	}
	closeAt, err := time.Parse("15:04", cfg.Close)
	if err != nil {
		return nil, fmt.Errorf("venue %q: parsing close time %q: %w", name, cfg.Close, err)
	}

	holidays := make(map[string]struct{}, len(cfg.Holidays))
	for _, h := range cfg.Holidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return nil, fmt.Errorf("venue %q: parsing holiday %q: %w", name, h, err)
		}
		holidays[h] = struct{}{}
	}

	return &Calendar{
		name:           name,
		loc:            loc,
		openH:          open.Hour(),
		openM:          open.Minute(),
		closeH:         closeAt.Hour(),
		closeM:         closeAt.Minute(),
		holidays:       holidays,
		closeGrace:     cfg.CloseGrace,
		extendedSearch: cfg.ExtendedSearch,
	}, nil
}

// Name returns the venue name.
func (c *Calendar) Name() string { return c.name }

// AlwaysOpen reports whether this venue trades around the clock.
func (c *Calendar) AlwaysOpen() bool { return c.alwaysOpen }

// IsOpen reports whether the venue's regular session is in progress at the
// given instant. Both the open and close minutes count as open.
func (c *Calendar) IsOpen(at time.Time) bool {
	if c.alwaysOpen {
		return true
	}

	local := at.In(c.loc)
	if !c.isTradingDay(local) {
		return false
	}

	minutes := local.Hour()*60 + local.Minute()
	return minutes >= c.openH*60+c.openM && minutes <= c.closeH*60+c.closeM
}

// State returns the session state string for the given instant.
func (c *Calendar) State(at time.Time) string {
	if c.IsOpen(at) {
		return StateOpen
	}
	return StateClosed
}

// LastTradingDay returns the most recent trading day strictly before asOf's
// venue-local date, skipping weekends and holidays.
func (c *Calendar) LastTradingDay(asOf time.Time) time.Time {
	local := asOf.In(c.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	for {
		day = day.AddDate(0, 0, -1)
		if c.isTradingDay(day) {
			return day
		}
	}
}

// CloseInstant returns the instant the regular session closes on the given
// venue-local day.
func (c *Calendar) CloseInstant(day time.Time) time.Time {
	local := day.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), c.closeH, c.closeM, 0, 0, c.loc)
}

// CloseWindow returns the time range in which a closing print for the given
// trading day is expected: [close, close+grace). Widen shifts the lower bound
// back for the retry pass.
func (c *Calendar) CloseWindow(day time.Time, widen bool) (from, to time.Time) {
	closeAt := c.CloseInstant(day)
	from = closeAt
	if widen {
		from = from.Add(-c.extendedSearch)
	}
	return from, closeAt.Add(c.closeGrace)
}

func (c *Calendar) isTradingDay(local time.Time) bool {
	wd := local.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	_, holiday := c.holidays[local.Format("2006-01-02")]
	return !holiday
}
