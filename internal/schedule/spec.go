package schedule

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Spec is a parsed cadence. Exactly one of Cron/Every is set.
//
// Accepted forms:
//   - Cron (robfig/cron, seconds field optional): "*/5 * * * *", "@daily", "@every 15m"
//   - Fixed interval as a Go duration: "15m", "2h30m"
//   - Fixed interval as HH:MM: "00:50" (50 minutes), "02:30" (2h30m)
//
// Explicit prefixes force a branch: "cron:<expr>", "interval:<d>", "every:<d>".
type Spec struct {
	Cron  string
	Every time.Duration
}

// Normalized returns the spec as a cron-compatible string.
func (s Spec) Normalized() string {
	if s.Every > 0 {
		return "@every " + s.Every.String()
	}
	return s.Cron
}

var hhmmRE = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)

func ParseSpec(raw string) (Spec, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return Spec{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(v)
	switch {
	case strings.HasPrefix(low, "cron:"):
		expr := strings.TrimSpace(v[len("cron:"):])
		if expr == "" {
			return Spec{}, fmt.Errorf("cron expression required after %q", "cron:")
		}
		return Spec{Cron: expr}, nil
	case strings.HasPrefix(low, "interval:"):
		return intervalSpec(v[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return intervalSpec(v[len("every:"):])
	}

	// Whitespace or a @-descriptor means cron syntax.
	if strings.ContainsAny(v, " \t") || strings.HasPrefix(v, "@") {
		return Spec{Cron: v}, nil
	}

	if hhmmRE.MatchString(v) {
		d, err := parseHHMM(v)
		if err != nil {
			return Spec{}, err
		}
		return Spec{Every: d}, nil
	}

	if d, err := time.ParseDuration(v); err == nil {
		if d <= 0 {
			return Spec{}, fmt.Errorf("interval must be > 0")
		}
		return Spec{Every: d}, nil
	}

	return Spec{}, fmt.Errorf(
		"invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '02:30', or a duration like '15m')", raw)
}

func intervalSpec(v string) (Spec, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return Spec{}, fmt.Errorf("interval required")
	}
	if hhmmRE.MatchString(v) {
		d, err := parseHHMM(v)
		if err != nil {
			return Spec{}, err
		}
		return Spec{Every: d}, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid interval %q (use HH:MM or a duration like '15m')", v)
	}
	if d <= 0 {
		return Spec{}, fmt.Errorf("interval must be > 0")
	}
	return Spec{Every: d}, nil
}

// parseHHMM reads HH:MM as a duration: hours may exceed 24, minutes are 0..59.
func parseHHMM(v string) (time.Duration, error) {
	m := hhmmRE.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	var hh int
	for i := 0; i < len(m[1]); i++ {
		hh = hh*10 + int(m[1][i]-'0')
	}
	mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}
