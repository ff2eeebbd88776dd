package service

import (
	"fmt"
	"strings"
	"time"
)

// OperatingHours is an optional daily access window. The zero value is
// unrestricted. A window whose close precedes its open spans midnight.
type OperatingHours struct {
	Open  time.Duration // offset from local midnight
	Close time.Duration
	Set   bool
}

// ParseOperatingHours parses an "HH:MM" pair. Two empty strings yield the
// unrestricted window.
func ParseOperatingHours(openAt, closeAt string) (OperatingHours, error) {
	openAt, closeAt = strings.TrimSpace(openAt), strings.TrimSpace(closeAt)
	if openAt == "" && closeAt == "" {
		return OperatingHours{}, nil
	}
	o, err := parseClock(openAt)
	if err != nil {
		return OperatingHours{}, fmt.Errorf("operating hours open: %w", err)
	}
	c, err := parseClock(closeAt)
	if err != nil {
		return OperatingHours{}, fmt.Errorf("operating hours close: %w", err)
	}
	return OperatingHours{Open: o, Close: c, Set: true}, nil
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%q is not HH:MM", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Contains reports whether t, in loc, falls inside the window.
func (h OperatingHours) Contains(t time.Time, loc *time.Location) bool {
	if !h.Set || h.Open == h.Close {
		return true
	}
	if loc != nil {
		t = t.In(loc)
	}
	tod := time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second
	if h.Open < h.Close {
		return tod >= h.Open && tod < h.Close
	}
	return tod >= h.Open || tod < h.Close
}

func (h OperatingHours) String() string {
	if !h.Set {
		return "unrestricted"
	}
	f := func(d time.Duration) string {
		return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
	}
	return f(h.Open) + "-" + f(h.Close)
}
