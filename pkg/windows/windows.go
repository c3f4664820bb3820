package windows

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Evaluator decides whether a recovery may start at a given instant.
// Expressions have the form "[days] HH:MM-HH:MM" where days is "*", a
// comma-separated list, or a range such as "mon-fri". Ranges that end at or
// before their start wrap past midnight.
type Evaluator struct {
	allow windowSet
	deny  windowSet
}

// Decision explains one evaluation. When an allow list is configured,
// recovery is only permitted inside a matching allow window; deny windows
// take precedence either way.
type Decision struct {
	Allowed    bool
	Expression string
}

type windowSet []span

// span is a half-open [from, to) interval in minutes since Sunday 00:00.
type span struct {
	from int
	to   int
	expr string
}

const (
	minutesPerDay  = 24 * 60
	minutesPerWeek = 7 * minutesPerDay
)

// NewEvaluator parses the configured allow and deny expressions. It returns
// nil when both lists are empty so callers can skip the gate entirely.
func NewEvaluator(allow, deny []string) (*Evaluator, error) {
	eval := &Evaluator{}
	var err error
	if eval.deny, err = parseSet("windows.deny", deny); err != nil {
		return nil, err
	}
	if eval.allow, err = parseSet("windows.allow", allow); err != nil {
		return nil, err
	}
	if len(eval.allow) == 0 && len(eval.deny) == 0 {
		return nil, nil
	}
	return eval, nil
}

// Evaluate reports whether recovery may run at t.
func (e *Evaluator) Evaluate(t time.Time) Decision {
	if e == nil {
		return Decision{Allowed: true}
	}
	minute := int(t.Weekday())*minutesPerDay + t.Hour()*60 + t.Minute()

	if s, ok := e.deny.match(minute); ok {
		return Decision{Allowed: false, Expression: s.expr}
	}
	if len(e.allow) == 0 {
		return Decision{Allowed: true}
	}
	if s, ok := e.allow.match(minute); ok {
		return Decision{Allowed: true, Expression: s.expr}
	}
	return Decision{Allowed: false}
}

func (set windowSet) match(minute int) (span, bool) {
	for _, s := range set {
		if minute >= s.from && minute < s.to {
			return s, true
		}
	}
	return span{}, false
}

func parseSet(label string, exprs []string) (windowSet, error) {
	var set windowSet
	for i, expr := range exprs {
		spans, err := parseExpression(expr)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", label, i, err)
		}
		set = append(set, spans...)
	}
	return set, nil
}

func parseExpression(expr string) ([]span, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return nil, fmt.Errorf("expression must not be empty")
	}

	fields := strings.Fields(trimmed)
	daySpec := "*"
	timeSpec := fields[len(fields)-1]
	if len(fields) > 1 {
		daySpec = strings.Join(fields[:len(fields)-1], "")
	}

	from, to, err := parseTimeRange(timeSpec)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", trimmed, err)
	}
	days, err := parseDays(daySpec)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", trimmed, err)
	}

	spans := make([]span, 0, len(days))
	for _, day := range days {
		start := int(day)*minutesPerDay + from
		end := int(day)*minutesPerDay + to
		if to <= from {
			end += minutesPerDay
		}
		if end > minutesPerWeek {
			spans = append(spans,
				span{from: start, to: minutesPerWeek, expr: trimmed},
				span{from: 0, to: end - minutesPerWeek, expr: trimmed})
			continue
		}
		spans = append(spans, span{from: start, to: end, expr: trimmed})
	}
	return spans, nil
}

func parseTimeRange(spec string) (int, int, error) {
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("time range %q must look like HH:MM-HH:MM", spec)
	}
	from, err := parseClock(parts[0])
	if err != nil {
		return 0, 0, err
	}
	to, err := parseClock(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return from, to, nil
}

func parseClock(value string) (int, error) {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q (expected HH:MM)", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("hour out of range in %q", value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("minute out of range in %q", value)
	}
	return hour*60 + minute, nil
}

func parseDays(spec string) ([]time.Weekday, error) {
	if spec == "*" {
		all := make([]time.Weekday, 7)
		for i := range all {
			all[i] = time.Weekday(i)
		}
		return all, nil
	}

	seen := make(map[time.Weekday]struct{})
	var days []time.Weekday
	add := func(d time.Weekday) {
		if _, ok := seen[d]; !ok {
			seen[d] = struct{}{}
			days = append(days, d)
		}
	}

	for _, part := range strings.Split(strings.ToLower(spec), ",") {
		part = strings.TrimSpace(part)
		if from, to, ok := strings.Cut(part, "-"); ok {
			start, err := weekday(from)
			if err != nil {
				return nil, err
			}
			end, err := weekday(to)
			if err != nil {
				return nil, err
			}
			for d := start; ; d = (d + 1) % 7 {
				add(d)
				if d == end {
					break
				}
			}
			continue
		}
		d, err := weekday(part)
		if err != nil {
			return nil, err
		}
		add(d)
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("day specification %q resolved to no days", spec)
	}
	return days, nil
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday,
	"wed": time.Wednesday, "thu": time.Thursday, "fri": time.Friday,
	"sat": time.Saturday,
}

func weekday(name string) (time.Weekday, error) {
	key := strings.TrimSpace(strings.ToLower(name))
	if len(key) > 3 {
		key = key[:3]
	}
	if d, ok := weekdayNames[key]; ok {
		return d, nil
	}
	return time.Sunday, fmt.Errorf("unknown day %q", name)
}
