// Package routing implements the priority-ordered, condition-based call
// routing engine: a route rule matches a destination pattern and,
// optionally, a set of additional conditions (time-of-day, day-of-week,
// date-range, caller-ID pattern, destination pattern), and resolves to an
// action the B2BUA core applies.
package routing

import (
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/rustalk/sbc/internal/clock"
)

// Action is the disposition a matched rule applies.
type Action string

const (
	// Accept routes the call to Destination and stops evaluation.
	Accept Action = "accept"
	// Reject stops evaluation and refuses the call.
	Reject Action = "reject"
	// Continue returns Destination and stops when ContinueOnMatch is
	// false; when it is true the match is discarded and evaluation goes on
	// to lower-priority rules (see Evaluate).
	Continue Action = "continue"
)

// DestinationKind identifies what a route resolves to.
type DestinationKind string

const (
	DestinationExtension DestinationKind = "extension"
	DestinationTrunk      DestinationKind = "trunk"
	DestinationRingGroup  DestinationKind = "ring_group"
	DestinationVoicemail  DestinationKind = "voicemail"
	DestinationHangup     DestinationKind = "hangup"
	DestinationCustom     DestinationKind = "custom"
)

// Destination is the resolved target of a matched route.
type Destination struct {
	Kind  DestinationKind
	Value string
}

// Condition is implemented by every condition type a rule may carry; all
// conditions on a rule must hold for the rule to match (logical AND).
type Condition interface {
	matches(ctx EvalContext) bool
}

// EvalContext carries the facts a condition is evaluated against.
type EvalContext struct {
	Now         time.Time
	CallerID    string
	Destination string
}

// TimeOfDay restricts a rule to a clock-time window, handling windows that
// wrap past midnight (e.g. 22:00-06:00).
type TimeOfDay struct {
	Start time.Duration // offset since midnight, local to Now's location
	End   time.Duration
}

func (c TimeOfDay) matches(ctx EvalContext) bool {
	midnight := time.Date(ctx.Now.Year(), ctx.Now.Month(), ctx.Now.Day(), 0, 0, 0, 0, ctx.Now.Location())
	elapsed := ctx.Now.Sub(midnight)

	if c.Start <= c.End {
		return elapsed >= c.Start && elapsed <= c.End
	}
	// Wrapped window: in-range means at or after Start OR at or before End.
	return elapsed >= c.Start || elapsed <= c.End
}

// DayOfWeek restricts a rule to specific ISO weekdays, 1=Monday..7=Sunday.
type DayOfWeek struct {
	Days []int
}

func (c DayOfWeek) matches(ctx EvalContext) bool {
	wd := isoWeekday(ctx.Now.Weekday())
	for _, d := range c.Days {
		if d == wd {
			return true
		}
	}
	return false
}

func isoWeekday(w time.Weekday) int {
	if w == time.Sunday {
		return 7
	}
	return int(w)
}

// DateRange restricts a rule to an inclusive calendar-date window.
type DateRange struct {
	Start time.Time
	End   time.Time
}

func (c DateRange) matches(ctx EvalContext) bool {
	d := dateOnly(ctx.Now)
	return !d.Before(dateOnly(c.Start)) && !d.After(dateOnly(c.End))
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// CallerIDPattern matches (or, if Negate, requires a non-match of) the
// caller-ID against a regular expression.
type CallerIDPattern struct {
	Pattern *regexp.Regexp
	Negate  bool
}

func (c CallerIDPattern) matches(ctx EvalContext) bool {
	m := c.Pattern.MatchString(ctx.CallerID)
	if c.Negate {
		return !m
	}
	return m
}

// DestinationPattern matches (or negates) the dialed destination against a
// regular expression, independent of the rule's primary Pattern match.
type DestinationPattern struct {
	Pattern *regexp.Regexp
	Negate  bool
}

func (c DestinationPattern) matches(ctx EvalContext) bool {
	m := c.Pattern.MatchString(ctx.Destination)
	if c.Negate {
		return !m
	}
	return m
}

// Rule is a single routing rule: it matches when Pattern matches the dialed
// destination AND every entry in Conditions holds.
type Rule struct {
	ID              string
	Name            string
	Description     string
	Pattern         *regexp.Regexp
	Destination     Destination
	Action          Action
	Priority        int
	Enabled         bool
	ContinueOnMatch bool
	Conditions      []Condition
}

func (r Rule) matches(ctx EvalContext) bool {
	if !r.Pattern.MatchString(ctx.Destination) {
		return false
	}
	for _, c := range r.Conditions {
		if !c.matches(ctx) {
			return false
		}
	}
	return true
}

// ErrNoRoute is returned when no enabled rule matches and evaluation falls
// through the end of the priority-ordered rule set.
var ErrNoRoute = fmt.Errorf("routing: no matching route")

// ErrRejected is returned when a matched rule's action is Reject.
var ErrRejected = fmt.Errorf("routing: destination rejected by rule")

// Result is the outcome of a successful route evaluation.
type Result struct {
	Rule        Rule
	Destination Destination
}

// Engine holds the priority-ordered rule set and evaluates calls against it.
type Engine struct {
	Clock clock.Clock
	rules []Rule
}

// NewEngine creates an empty routing engine using the system clock.
func NewEngine() *Engine {
	return &Engine{Clock: clock.System}
}

// AddRule inserts a rule, keeping the rule set sorted by ascending priority
// (lower Priority values are evaluated first).
func (e *Engine) AddRule(r Rule) {
	e.rules = append(e.rules, r)
	sort.SliceStable(e.rules, func(i, j int) bool {
		return e.rules[i].Priority < e.rules[j].Priority
	})
}

// Rules returns the current rule set in evaluation order.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate walks enabled rules in priority order. A rule whose pattern and
// conditions all match decides the outcome: Accept and Reject stop
// evaluation immediately. Continue with ContinueOnMatch false also stops
// immediately, returning that rule's destination. Continue with
// ContinueOnMatch true discards the match entirely and keeps scanning —
// nothing about it is remembered, so if no later rule matches, evaluation
// yields ErrNoRoute rather than falling back to the discarded rule.
// ErrRejected is returned the moment a Reject-action rule matches.
func (e *Engine) Evaluate(callerID, destination string) (Result, error) {
	ctx := EvalContext{Now: e.Clock.Now(), CallerID: callerID, Destination: destination}

	for _, r := range e.rules {
		if !r.Enabled {
			continue
		}
		if !r.matches(ctx) {
			continue
		}

		switch r.Action {
		case Reject:
			return Result{}, fmt.Errorf("%w: rule %q", ErrRejected, r.Name)
		case Accept:
			return Result{Rule: r, Destination: r.Destination}, nil
		case Continue:
			if !r.ContinueOnMatch {
				return Result{Rule: r, Destination: r.Destination}, nil
			}
			// ContinueOnMatch: discard this match and keep scanning.
		}
	}

	return Result{}, ErrNoRoute
}
