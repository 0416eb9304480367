package routing

import (
	"regexp"
	"testing"
	"time"

	"github.com/rustalk/sbc/internal/clock"
)

func mustRegexp(t *testing.T, pattern string) *regexp.Regexp {
	t.Helper()
	re, err := regexp.Compile(pattern)
	if err != nil {
		t.Fatalf("compiling pattern %q: %v", pattern, err)
	}
	return re
}

func TestEvaluatePriorityOrdering(t *testing.T) {
	e := NewEngine()
	e.AddRule(Rule{
		Name: "fallback", Pattern: mustRegexp(t, `^\d+$`),
		Destination: Destination{Kind: DestinationVoicemail, Value: "general"},
		Action:      Accept, Priority: 100, Enabled: true,
	})
	e.AddRule(Rule{
		Name: "sales-line", Pattern: mustRegexp(t, `^2000$`),
		Destination: Destination{Kind: DestinationExtension, Value: "2000"},
		Action:      Accept, Priority: 10, Enabled: true,
	})

	res, err := e.Evaluate("", "2000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Rule.Name != "sales-line" {
		t.Fatalf("expected the higher-priority rule to win, got %q", res.Rule.Name)
	}
}

func TestEvaluateContinueOnMatchLetsLaterRuleOverride(t *testing.T) {
	e := NewEngine()
	e.AddRule(Rule{
		Name: "default-group", Pattern: mustRegexp(t, `^\d+$`),
		Destination: Destination{Kind: DestinationRingGroup, Value: "support"},
		Action:      Continue, Priority: 10, Enabled: true, ContinueOnMatch: true,
	})
	e.AddRule(Rule{
		Name: "specific-ext", Pattern: mustRegexp(t, `^4242$`),
		Destination: Destination{Kind: DestinationExtension, Value: "4242"},
		Action:      Accept, Priority: 20, Enabled: true,
	})

	res, err := e.Evaluate("", "4242")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Rule.Name != "specific-ext" {
		t.Fatalf("expected later accept rule to override continue candidate, got %q", res.Rule.Name)
	}
}

func TestEvaluateContinueOnMatchWithNoOverrideYieldsNoRoute(t *testing.T) {
	e := NewEngine()
	e.AddRule(Rule{
		Name: "default-group", Pattern: mustRegexp(t, `^\d+$`),
		Destination: Destination{Kind: DestinationRingGroup, Value: "support"},
		Action:      Continue, Priority: 10, Enabled: true, ContinueOnMatch: true,
	})
	e.AddRule(Rule{
		Name: "specific-ext", Pattern: mustRegexp(t, `^4242$`),
		Destination: Destination{Kind: DestinationExtension, Value: "4242"},
		Action:      Accept, Priority: 20, Enabled: true,
	})

	_, err := e.Evaluate("", "9999")
	if err != ErrNoRoute {
		t.Fatalf("expected ErrNoRoute when only a ContinueOnMatch rule matches, got %v", err)
	}
}

func TestEvaluateContinueFalseStopsImmediately(t *testing.T) {
	e := NewEngine()
	e.AddRule(Rule{
		Name: "catch-all", Pattern: mustRegexp(t, `^\d+$`),
		Destination: Destination{Kind: DestinationRingGroup, Value: "support"},
		Action:      Continue, Priority: 10, Enabled: true, ContinueOnMatch: false,
	})
	e.AddRule(Rule{
		Name: "specific-ext", Pattern: mustRegexp(t, `^4242$`),
		Destination: Destination{Kind: DestinationExtension, Value: "4242"},
		Action:      Accept, Priority: 20, Enabled: true,
	})

	res, err := e.Evaluate("", "4242")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Rule.Name != "catch-all" {
		t.Fatalf("expected evaluation to stop at the first matching rule when ContinueOnMatch is false, got %q", res.Rule.Name)
	}
}

func TestEvaluateRejectAction(t *testing.T) {
	e := NewEngine()
	e.AddRule(Rule{
		Name: "block-premium", Pattern: mustRegexp(t, `^1900\d+$`),
		Action: Reject, Priority: 10, Enabled: true,
	})

	_, err := e.Evaluate("", "19005551234")
	if err == nil {
		t.Fatal("expected reject rule to produce an error")
	}
}

func TestEvaluateMultipleConditionsAllMustHold(t *testing.T) {
	e := NewEngine()
	e.AddRule(Rule{
		Name: "business-hours", Pattern: mustRegexp(t, `^\d+$`),
		Destination: Destination{Kind: DestinationExtension, Value: "100"},
		Action:      Accept, Priority: 10, Enabled: true,
		Conditions: []Condition{
			DayOfWeek{Days: []int{1, 2, 3, 4, 5}},
			TimeOfDay{Start: 9 * time.Hour, End: 17 * time.Hour},
		},
	})

	// Monday at 10:00 — both conditions hold.
	e.Clock = clock.Fixed(time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC))
	if _, err := e.Evaluate("", "100"); err != nil {
		t.Fatalf("expected match during business hours on a weekday, got %v", err)
	}

	// Saturday at 10:00 — day condition fails.
	e.Clock = clock.Fixed(time.Date(2026, 2, 7, 10, 0, 0, 0, time.UTC))
	if _, err := e.Evaluate("", "100"); err != ErrNoRoute {
		t.Fatalf("expected ErrNoRoute on a weekend, got %v", err)
	}
}

func TestTimeOfDayWrapsPastMidnight(t *testing.T) {
	c := TimeOfDay{Start: 22 * time.Hour, End: 6 * time.Hour}
	late := EvalContext{Now: time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)}
	early := EvalContext{Now: time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)}
	midday := EvalContext{Now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}

	if !c.matches(late) {
		t.Fatal("expected 23:00 to be inside a wrapped 22:00-06:00 window")
	}
	if !c.matches(early) {
		t.Fatal("expected 03:00 to be inside a wrapped 22:00-06:00 window")
	}
	if c.matches(midday) {
		t.Fatal("expected 12:00 to be outside a wrapped 22:00-06:00 window")
	}
}

func TestDateRangeInclusive(t *testing.T) {
	c := DateRange{
		Start: time.Date(2026, 12, 24, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 12, 26, 0, 0, 0, 0, time.UTC),
	}
	if !c.matches(EvalContext{Now: time.Date(2026, 12, 24, 8, 0, 0, 0, time.UTC)}) {
		t.Fatal("expected the start date to be included")
	}
	if !c.matches(EvalContext{Now: time.Date(2026, 12, 26, 23, 0, 0, 0, time.UTC)}) {
		t.Fatal("expected the end date to be included")
	}
	if c.matches(EvalContext{Now: time.Date(2026, 12, 27, 0, 0, 0, 0, time.UTC)}) {
		t.Fatal("expected the day after the range to be excluded")
	}
}

func TestCallerIDPatternNegate(t *testing.T) {
	c := CallerIDPattern{Pattern: mustRegexp(t, `^\+1900`), Negate: true}
	if c.matches(EvalContext{CallerID: "+19005551234"}) {
		t.Fatal("expected negated pattern to reject a matching caller id")
	}
	if !c.matches(EvalContext{CallerID: "+14155551234"}) {
		t.Fatal("expected negated pattern to accept a non-matching caller id")
	}
}

func TestEvaluateDisabledRuleIsSkipped(t *testing.T) {
	e := NewEngine()
	e.AddRule(Rule{
		Name: "disabled", Pattern: mustRegexp(t, `^100$`),
		Destination: Destination{Kind: DestinationExtension, Value: "100"},
		Action:      Accept, Priority: 10, Enabled: false,
	})

	if _, err := e.Evaluate("", "100"); err != ErrNoRoute {
		t.Fatalf("expected ErrNoRoute for a disabled rule, got %v", err)
	}
}
