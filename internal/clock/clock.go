// Package clock defines what one simulation tick means in simulated time.
package clock

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind selects how a tick maps onto simulated time.
type Kind uint8

const (
	RealTime Kind = iota
	Seconds
	Days
	Years
)

const (
	secondsPerDay  = 86_400
	secondsPerYear = 31_557_600
	// MaxYears caps a Years scale so the resulting duration stays well
	// inside time.Duration. Seconds and Days scales share the same ceiling.
	MaxYears   = 10
	MaxSeconds = MaxYears * secondsPerYear
	MaxDays    = MaxSeconds / secondsPerDay
)

// TickScale is the wall/sim-time meaning of a tick.
type TickScale struct {
	Kind Kind
	N    uint64
}

// Advance returns the simulated duration of one tick. frame is the real
// frame delta and is only used by RealTime.
func (s TickScale) Advance(frame time.Duration) time.Duration {
	switch s.Kind {
	case Seconds:
		return time.Duration(min(s.N, MaxSeconds)) * time.Second
	case Days:
		return time.Duration(min(s.N, MaxDays)) * secondsPerDay * time.Second
	case Years:
		n := min(s.N, MaxYears)
		return time.Duration(n) * secondsPerYear * time.Second
	}
	return frame
}

// IsPaused reports true only for RealTime. It flags the live, interactive
// scale rather than a literal pause.
func (s TickScale) IsPaused() bool {
	return s.Kind == RealTime
}

func (s TickScale) String() string {
	switch s.Kind {
	case Seconds:
		return fmt.Sprintf("seconds:%d", s.N)
	case Days:
		return fmt.Sprintf("days:%d", s.N)
	case Years:
		return fmt.Sprintf("years:%d", s.N)
	}
	return "realtime"
}

// ParseScale parses "realtime", "seconds:N", "days:N" or "years:N".
// Counts above MaxSeconds, MaxDays and MaxYears are clamped.
func ParseScale(s string) (TickScale, error) {
	kind, arg, hasArg := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")
	if kind == "realtime" || kind == "" {
		if hasArg {
			return TickScale{}, fmt.Errorf("scale %q: realtime takes no argument", s)
		}
		return TickScale{Kind: RealTime}, nil
	}
	if !hasArg {
		return TickScale{}, fmt.Errorf("scale %q: missing count", s)
	}
	n, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return TickScale{}, fmt.Errorf("scale %q: %w", s, err)
	}
	switch kind {
	case "seconds":
		return TickScale{Kind: Seconds, N: min(n, MaxSeconds)}, nil
	case "days":
		return TickScale{Kind: Days, N: min(n, MaxDays)}, nil
	case "years":
		return TickScale{Kind: Years, N: min(n, MaxYears)}, nil
	}
	return TickScale{}, fmt.Errorf("scale %q: unknown kind %q", s, kind)
}

// Clock holds the running simulated date.
type Clock struct {
	Scale TickScale
	Frame time.Duration
	Now   time.Time
}

// New returns a clock starting at start.
func New(scale TickScale, frame time.Duration, start time.Time) *Clock {
	return &Clock{Scale: scale, Frame: frame, Now: start.UTC()}
}

// AdvanceTime moves the simulated date forward by one tick and returns it.
func (c *Clock) AdvanceTime() time.Time {
	c.Now = c.Now.Add(c.Scale.Advance(c.Frame))
	return c.Now
}
