// Package lifecycle manages the two index generations: which one serves
// reads, rebuilding the other in the background and swapping them, and
// reconciling the live generation against the prison system.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Generation is one of the two physical indexes.
type Generation string

const (
	GenerationA Generation = "A"
	GenerationB Generation = "B"
)

// Other returns the generation that is not g.
func (g Generation) Other() Generation {
	if g == GenerationA {
		return GenerationB
	}
	return GenerationA
}

// IndexName returns the physical index name of g under prefix.
func IndexName(prefix string, g Generation) string {
	return fmt.Sprintf("%s-%s", prefix, strings.ToLower(string(g)))
}

// State summarises the rebuild flags.
type State string

const (
	Idle       State = "IDLE"
	Rebuilding State = "REBUILDING"
	Error      State = "ERROR"
)

// Status is the singleton status row. Read it once per request and pass it
// down, so one request never straddles a swap.
type Status struct {
	Current    Generation `json:"currentIndex"`
	InProgress bool       `json:"inProgress"`
	InError    bool       `json:"inError"`
	// Populating is set while the rebuild queue is still being filled from
	// the prison system. A rebuild cannot complete until it clears.
	Populating     bool       `json:"populating"`
	StartIndexTime *time.Time `json:"startIndexTime,omitempty"`
	EndIndexTime   *time.Time `json:"endIndexTime,omitempty"`
	Version        int64      `json:"version"`
}

func (s Status) State() State {
	switch {
	case s.InError:
		return Error
	case s.InProgress:
		return Rebuilding
	default:
		return Idle
	}
}

// Building returns the generation being rebuilt, if any.
func (s Status) Building() (Generation, bool) {
	if s.State() != Rebuilding {
		return "", false
	}
	return s.Current.Other(), true
}

// CurrentIndex names the index serving reads.
func (s Status) CurrentIndex(prefix string) string {
	return IndexName(prefix, s.Current)
}

// WriteIndexes names every index a change must be written to: the current
// one and, during a rebuild, the one being built.
func (s Status) WriteIndexes(prefix string) []string {
	out := []string{s.CurrentIndex(prefix)}
	if g, ok := s.Building(); ok {
		out = append(out, IndexName(prefix, g))
	}
	return out
}

// StatusStore persists the status row. Every Mark method is a single
// compare-and-set and reports whether it applied.
type StatusStore interface {
	Get(ctx context.Context) (Status, error)
	// MarkStarted applies only when idle. populating seeds the Populating
	// flag in the same write.
	MarkStarted(ctx context.Context, at time.Time, populating bool) (bool, error)
	// MarkPopulating sets the Populating flag; it applies only while
	// rebuilding.
	MarkPopulating(ctx context.Context, populating bool) (bool, error)
	// MarkCompleted flips the current generation; it applies only while
	// rebuilding and not populating.
	MarkCompleted(ctx context.Context, at time.Time) (bool, error)
	// MarkCancelled always applies and clears the error and populating flags.
	MarkCancelled(ctx context.Context, at time.Time) error
	// MarkError applies only while rebuilding and clears populating.
	MarkError(ctx context.Context, at time.Time) (bool, error)
}
