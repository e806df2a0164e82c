// Package schedule parses and evaluates the recurrence rules attached to
// job catalog definitions.
package schedule

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

const (
	KindCron     = "cron"
	KindInterval = "interval"
	KindOnce     = "once"
)

// Rule is the canonical JSON form stored on a job definition.
type Rule struct {
	Kind       string `json:"kind"`
	CronExpr   string `json:"cron_expr,omitempty"`
	IntervalMs int64  `json:"interval_ms,omitempty"`
	AtMs       int64  `json:"at_ms,omitempty"`
}

func Parse(raw string) (*Rule, error) {
	var r Rule
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Next returns the first run strictly after from, or nil when the rule
// never fires again.
func Next(raw string, from time.Time) *time.Time {
	r, err := Parse(raw)
	if err != nil {
		return nil
	}

	var next time.Time
	switch r.Kind {
	case KindCron:
		t, err := gronx.NextTickAfter(r.CronExpr, from, false)
		if err != nil {
			return nil
		}
		next = t
	case KindInterval:
		if r.IntervalMs <= 0 {
			return nil
		}
		next = from.Add(time.Duration(r.IntervalMs) * time.Millisecond)
	case KindOnce:
		t := time.UnixMilli(r.AtMs)
		if !t.After(from) {
			return nil
		}
		next = t
	default:
		return nil
	}
	return &next
}

// Describe renders a rule for listings ("Every 5 minutes", "0 9 * * *").
func Describe(raw string) string {
	r, err := Parse(raw)
	if err != nil {
		return raw
	}

	switch r.Kind {
	case KindCron:
		return r.CronExpr
	case KindInterval:
		d := time.Duration(r.IntervalMs) * time.Millisecond
		switch {
		case d >= time.Hour && d%time.Hour == 0:
			return plural(int(d.Hours()), "hour")
		case d >= time.Minute && d%time.Minute == 0:
			return plural(int(d.Minutes()), "minute")
		default:
			return plural(int(d.Seconds()), "second")
		}
	case KindOnce:
		return "Once at " + time.UnixMilli(r.AtMs).UTC().Format("Jan 2 15:04 MST")
	default:
		return raw
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "Every " + unit
	}
	return fmt.Sprintf("Every %d %ss", n, unit)
}

// Normalize accepts a JSON rule, a plain cron expression, a Go duration
// ("15m") or an RFC 3339 timestamp and returns the canonical JSON rule.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty schedule")
	}

	var r Rule
	if err := json.Unmarshal([]byte(raw), &r); err == nil && r.Kind != "" {
		if err := r.validate(); err != nil {
			return "", err
		}
		return raw, nil
	}

	switch {
	case gronx.New().IsValid(raw):
		r = Rule{Kind: KindCron, CronExpr: raw}
	default:
		if d, err := time.ParseDuration(raw); err == nil {
			r = Rule{Kind: KindInterval, IntervalMs: d.Milliseconds()}
		} else if t, err := time.Parse(time.RFC3339, raw); err == nil {
			r = Rule{Kind: KindOnce, AtMs: t.UnixMilli()}
		} else {
			return "", fmt.Errorf("invalid schedule: %s", raw)
		}
		if err := r.validate(); err != nil {
			return "", err
		}
	}

	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (r Rule) validate() error {
	switch r.Kind {
	case KindCron:
		if !gronx.New().IsValid(r.CronExpr) {
			return fmt.Errorf("invalid cron expression: %s", r.CronExpr)
		}
	case KindInterval:
		if r.IntervalMs < 1000 {
			return fmt.Errorf("interval must be at least one second")
		}
	case KindOnce:
		if r.AtMs <= 0 {
			return fmt.Errorf("at_ms must be positive")
		}
	default:
		return fmt.Errorf("unknown schedule kind: %s", r.Kind)
	}
	return nil
}
