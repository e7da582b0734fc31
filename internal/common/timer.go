// Package common provides small shared helpers.
package common

import (
	"log/slog"
	"strings"
	"time"
)

// Lap is one measured segment of a Stopwatch.
type Lap struct {
	Name     string
	Duration time.Duration
}

// Stopwatch measures consecutive segments of work, such as the phases of a
// page. It is not safe for concurrent use.
type Stopwatch struct {
	start time.Time
	last  time.Time
	laps  []Lap
	now   func() time.Time
}

// NewStopwatch starts a stopwatch.
func NewStopwatch() *Stopwatch {
	return newStopwatch(time.Now)
}

func newStopwatch(now func() time.Time) *Stopwatch {
	t := now()
	return &Stopwatch{start: t, last: t, now: now}
}

// Lap ends the current segment under name and returns its duration.
func (s *Stopwatch) Lap(name string) time.Duration {
	t := s.now()
	d := t.Sub(s.last)
	s.last = t
	s.laps = append(s.laps, Lap{Name: name, Duration: d})
	return d
}

// Laps returns the recorded segments in order.
func (s *Stopwatch) Laps() []Lap {
	return append([]Lap(nil), s.laps...)
}

// Total is the time from start to the last lap.
func (s *Stopwatch) Total() time.Duration {
	return s.last.Sub(s.start)
}

// LogValue groups the laps under their names.
func (s *Stopwatch) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, len(s.laps)+1)
	for _, l := range s.laps {
		attrs = append(attrs, slog.Duration(l.Name, l.Duration))
	}
	attrs = append(attrs, slog.Duration("total", s.Total()))
	return slog.GroupValue(attrs...)
}

// String formats the laps as "name=duration" pairs.
func (s *Stopwatch) String() string {
	parts := make([]string, 0, len(s.laps))
	for _, l := range s.laps {
		parts = append(parts, l.Name+"="+l.Duration.String())
	}
	return strings.Join(parts, " ")
}
