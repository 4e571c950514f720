// Package schedule parses the time specification of scheduled triggers.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	ErrMissingSchedule = errors.New("scheduled trigger requires cron or at")
	ErrAmbiguous       = errors.New("scheduled trigger accepts only one of cron or at")
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Once fires a single time at At.
type Once struct {
	At time.Time
}

// Next implements cron.Schedule.
func (o Once) Next(t time.Time) time.Time {
	if t.Before(o.At) {
		return o.At
	}

	return time.Time{}
}

// ParseCron parses a standard five-field cron expression or a descriptor such as "@daily".
func ParseCron(expr string) (cron.Schedule, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression '%s': %w", expr, err)
	}

	return sched, nil
}

// Parse reads a scheduled trigger config: either {"cron": "..."} or {"at": RFC3339}.
func Parse(config map[string]any) (cron.Schedule, error) {
	expr, hasCron := config["cron"].(string)
	at, hasAt := config["at"].(string)

	switch {
	case hasCron && hasAt:
		return nil, ErrAmbiguous
	case hasCron:
		return ParseCron(expr)
	case hasAt:
		when, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return nil, fmt.Errorf("invalid at time '%s': %w", at, err)
		}

		return Once{At: when}, nil
	default:
		return nil, ErrMissingSchedule
	}
}
