package acquisition

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ParisLocation is the zone SGE dates are expressed in.
var ParisLocation = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		panic(fmt.Errorf("failed to load paris location: %w", err))
	}
	return loc
}()

// ErrMalformedTimestamp is returned by Normalize for text that isn't a valid
// date or local date-time.
var ErrMalformedTimestamp = errors.New("malformed timestamp")

// ambiguousShift is removed from the UTC reading of a local time that occurs
// twice on a fall-back day. It is lossy: both occurrences map to the same
// instant.
const ambiguousShift = 3600

var (
	offsetLayouts = []string{time.RFC3339, "2006-01-02T15:04Z07:00"}
	// a fractional second is accepted after the seconds field
	localLayouts = []string{"2006-01-02T15:04:05", "2006-01-02T15:04", time.DateOnly}
)

// Normalize converts a date or date-time from loc to UTC epoch seconds. Text
// carrying an explicit offset is converted directly. A nil loc means Paris.
func Normalize(text string, loc *time.Location) (int64, error) {
	text = strings.TrimSpace(text)
	if loc == nil {
		loc = ParisLocation
	}

	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t.Unix(), nil
		}
	}
	for _, layout := range localLayouts {
		naive, err := time.Parse(layout, text)
		if err != nil {
			continue
		}
		return localize(naive, loc, text)
	}
	return 0, fmt.Errorf("%w: %q", ErrMalformedTimestamp, text)
}

// localize finds the instants whose wall clock in loc reads naive. naive is
// a UTC time carrying the wall clock.
func localize(naive time.Time, loc *time.Location, text string) (int64, error) {
	var found []int64
	for _, probe := range []time.Time{naive.Add(-12 * time.Hour), naive.Add(12 * time.Hour)} {
		_, offset := probe.In(loc).Zone()
		instant := naive.Add(-time.Duration(offset) * time.Second)
		if !wallClock(instant.In(loc)).Equal(naive) {
			continue
		}
		if len(found) == 0 || found[0] != instant.Unix() {
			found = append(found, instant.Unix())
		}
	}
	switch len(found) {
	case 0:
		return 0, fmt.Errorf("%w: %q does not exist in %s", ErrMalformedTimestamp, text, loc)
	case 1:
		return found[0], nil
	default:
		return naive.Unix() - ambiguousShift, nil
	}
}

func wallClock(t time.Time) time.Time {
	y, mo, d := t.Date()
	h, mi, s := t.Clock()
	return time.Date(y, mo, d, h, mi, s, t.Nanosecond(), time.UTC)
}

// dateOf truncates t to midnight of its day in loc.
func dateOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// subMonths moves d back by months, clamping the day to the end of the
// target month.
func subMonths(d time.Time, months int) time.Time {
	y, m, day := d.Date()
	first := time.Date(y, m-time.Month(months), 1, 0, 0, 0, 0, d.Location())
	if last := first.AddDate(0, 1, -1).Day(); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, d.Location())
}
