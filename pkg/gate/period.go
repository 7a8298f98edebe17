package gate

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// PeriodKind enumerates the supported spacing requirements.
type PeriodKind int

const (
	// PeriodAny places no constraint on spacing between successful runs.
	PeriodAny PeriodKind = iota
	// PeriodTwiceADay allows a run every 12 hours.
	PeriodTwiceADay
	// PeriodOnceADay allows a run every 24 hours.
	PeriodOnceADay
	// PeriodOnceAWeek allows a run every 7 days.
	PeriodOnceAWeek
	// PeriodDays allows a run every Count days.
	PeriodDays
	// PeriodHours allows a run every Count hours.
	PeriodHours
	// PeriodMinutes allows a run every Count minutes.
	PeriodMinutes
	// PeriodSeconds allows a run every Count seconds.
	PeriodSeconds
)

const (
	Day  = 24 * time.Hour
	Week = 7 * Day
)

// Period is the minimum time that must elapse after a successful run before the next one.
// The zero value is PeriodAny.
type Period struct {
	Kind PeriodKind

	// Count is the multiplier for the parameterized kinds and must be positive for them.
	// It is ignored for the fixed kinds.
	Count int
}

// Fixed periods.
var (
	Unconstrained = Period{Kind: PeriodAny}
	TwiceADay     = Period{Kind: PeriodTwiceADay}
	OnceADay      = Period{Kind: PeriodOnceADay}
	OnceAWeek     = Period{Kind: PeriodOnceAWeek}
)

// EveryDays returns a period of n days.
func EveryDays(n int) Period { return Period{Kind: PeriodDays, Count: n} }

// EveryHours returns a period of n hours.
func EveryHours(n int) Period { return Period{Kind: PeriodHours, Count: n} }

// EveryMinutes returns a period of n minutes.
func EveryMinutes(n int) Period { return Period{Kind: PeriodMinutes, Count: n} }

// EverySeconds returns a period of n seconds.
func EverySeconds(n int) Period { return Period{Kind: PeriodSeconds, Count: n} }

// Validate rejects unknown kinds, non-positive counts and counts whose duration overflows.
func (p Period) Validate() error {
	switch p.Kind {
	case PeriodAny, PeriodTwiceADay, PeriodOnceADay, PeriodOnceAWeek:
		return nil
	case PeriodDays, PeriodHours, PeriodMinutes, PeriodSeconds:
		if p.Count <= 0 {
			return fmt.Errorf("%w: count must be positive, got %d", ErrInvalidPeriod, p.Count)
		}
		if limit := int64(math.MaxInt64 / p.unit()); int64(p.Count) > limit {
			return fmt.Errorf("%w: count %d exceeds %d", ErrInvalidPeriod, p.Count, limit)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidPeriod, p.Kind)
	}
}

// unit is the length of one Count for the parameterized kinds, and the whole period otherwise.
func (p Period) unit() time.Duration {
	switch p.Kind {
	case PeriodTwiceADay:
		return Day / 2
	case PeriodOnceADay, PeriodDays:
		return Day
	case PeriodOnceAWeek:
		return Week
	case PeriodHours:
		return time.Hour
	case PeriodMinutes:
		return time.Minute
	case PeriodSeconds:
		return time.Second
	default:
		return 0
	}
}

// Duration returns the spacing the period requires. PeriodAny maps to zero.
// The result is only meaningful for a period that passes Validate.
func (p Period) Duration() time.Duration {
	switch p.Kind {
	case PeriodDays, PeriodHours, PeriodMinutes, PeriodSeconds:
		return p.unit() * time.Duration(p.Count)
	default:
		return p.unit()
	}
}

func (p Period) String() string {
	switch p.Kind {
	case PeriodAny:
		return "any"
	case PeriodTwiceADay:
		return "twice-a-day"
	case PeriodOnceADay:
		return "daily"
	case PeriodOnceAWeek:
		return "weekly"
	case PeriodDays:
		return strconv.Itoa(p.Count) + "d"
	case PeriodHours:
		return strconv.Itoa(p.Count) + "h"
	case PeriodMinutes:
		return strconv.Itoa(p.Count) + "m"
	case PeriodSeconds:
		return strconv.Itoa(p.Count) + "s"
	default:
		return fmt.Sprintf("period(%d)", p.Kind)
	}
}

// ParsePeriod reads the textual form used in job files and on the command line:
// "any", "twice-a-day", "daily", "weekly" or a positive count followed by d, h, m or s.
// The empty string is "any".
func ParsePeriod(s string) (Period, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "", "any":
		return Unconstrained, nil
	case "twice-a-day":
		return TwiceADay, nil
	case "daily":
		return OnceADay, nil
	case "weekly":
		return OnceAWeek, nil
	}

	if len(s) < 2 {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}

	var p Period
	switch s[len(s)-1] {
	case 'd':
		p = EveryDays(n)
	case 'h':
		p = EveryHours(n)
	case 'm':
		p = EveryMinutes(n)
	case 's':
		p = EverySeconds(n)
	default:
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}
