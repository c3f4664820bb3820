package windows

import (
	"testing"
	"time"
)

// 2026-08-24 is a Monday.
func at(day, hour, minute int) time.Time {
	return time.Date(2026, time.August, 23+day, hour, minute, 0, 0, time.UTC)
}

func TestNewEvaluatorNilWhenUnconfigured(t *testing.T) {
	eval, err := NewEvaluator(nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eval != nil {
		t.Fatal("expected nil evaluator when no windows are configured")
	}
	// A nil evaluator still answers, and always allows.
	if !eval.Evaluate(at(1, 12, 0)).Allowed {
		t.Fatal("nil evaluator must allow")
	}
}

func TestDenyWindowBlocks(t *testing.T) {
	eval, err := NewEvaluator(nil, []string{"mon-fri 09:00-17:00"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if d := eval.Evaluate(at(1, 10, 30)); d.Allowed {
		t.Fatal("Monday 10:30 falls in the deny window")
	} else if d.Expression != "mon-fri 09:00-17:00" {
		t.Fatalf("unexpected matched expression %q", d.Expression)
	}
	if d := eval.Evaluate(at(1, 17, 0)); !d.Allowed {
		t.Fatal("window end is exclusive; 17:00 must be allowed")
	}
	if d := eval.Evaluate(at(0, 10, 30)); !d.Allowed {
		t.Fatal("Sunday is outside mon-fri")
	}
}

func TestAllowListRestricts(t *testing.T) {
	eval, err := NewEvaluator([]string{"sat,sun 00:00-23:59"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !eval.Evaluate(at(0, 3, 0)).Allowed {
		t.Fatal("Sunday 03:00 is inside the allow window")
	}
	if eval.Evaluate(at(2, 3, 0)).Allowed {
		t.Fatal("Tuesday is outside every allow window")
	}
}

func TestDenyBeatsAllow(t *testing.T) {
	eval, err := NewEvaluator([]string{"* 00:00-23:59"}, []string{"wed 12:00-13:00"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if eval.Evaluate(at(3, 12, 30)).Allowed {
		t.Fatal("deny windows take precedence over allow windows")
	}
	if !eval.Evaluate(at(3, 13, 30)).Allowed {
		t.Fatal("outside the deny window the allow list applies")
	}
}

func TestMidnightWrap(t *testing.T) {
	eval, err := NewEvaluator(nil, []string{"mon 22:00-04:00"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if eval.Evaluate(at(1, 23, 0)).Allowed {
		t.Fatal("Monday 23:00 is inside the wrapped deny window")
	}
	if eval.Evaluate(at(2, 2, 0)).Allowed {
		t.Fatal("Tuesday 02:00 is still inside the wrapped deny window")
	}
	if !eval.Evaluate(at(2, 5, 0)).Allowed {
		t.Fatal("Tuesday 05:00 is past the wrapped deny window")
	}
}

func TestSaturdayWrapCrossesWeekBoundary(t *testing.T) {
	eval, err := NewEvaluator(nil, []string{"sat 23:00-01:00"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if eval.Evaluate(at(6, 23, 30)).Allowed {
		t.Fatal("Saturday 23:30 is inside the deny window")
	}
	if eval.Evaluate(at(0, 0, 30)).Allowed {
		t.Fatal("Sunday 00:30 is inside the week-wrapped deny window")
	}
	if !eval.Evaluate(at(0, 1, 30)).Allowed {
		t.Fatal("Sunday 01:30 is outside the deny window")
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name  string
		allow []string
		deny  []string
	}{
		{name: "empty expression", deny: []string{"  "}},
		{name: "missing range", deny: []string{"mon 12:00"}},
		{name: "bad hour", deny: []string{"25:00-26:00"}},
		{name: "bad minute", allow: []string{"12:61-13:00"}},
		{name: "unknown day", allow: []string{"funday 12:00-13:00"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewEvaluator(tc.allow, tc.deny); err == nil {
				t.Fatalf("expected parse error for %v / %v", tc.allow, tc.deny)
			}
		})
	}
}
