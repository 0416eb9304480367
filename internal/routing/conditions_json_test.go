package routing

import (
	"testing"
	"time"
)

func TestMarshalUnmarshalConditionsRoundTrip(t *testing.T) {
	conds := []Condition{
		TimeOfDay{Start: 9 * time.Hour, End: 17 * time.Hour},
		DayOfWeek{Days: []int{1, 2, 3, 4, 5}},
		CallerIDPattern{Pattern: mustRegexp(t, `^\+1`), Negate: false},
		DestinationPattern{Pattern: mustRegexp(t, `^0`), Negate: true},
	}

	raw, err := MarshalConditions(conds)
	if err != nil {
		t.Fatalf("MarshalConditions() error: %v", err)
	}

	got, err := UnmarshalConditions(raw)
	if err != nil {
		t.Fatalf("UnmarshalConditions() error: %v", err)
	}
	if len(got) != len(conds) {
		t.Fatalf("got %d conditions, want %d", len(got), len(conds))
	}

	tod, ok := got[0].(TimeOfDay)
	if !ok || tod.Start != 9*time.Hour || tod.End != 17*time.Hour {
		t.Errorf("TimeOfDay round-trip = %+v", got[0])
	}
	dow, ok := got[1].(DayOfWeek)
	if !ok || len(dow.Days) != 5 {
		t.Errorf("DayOfWeek round-trip = %+v", got[1])
	}
	cip, ok := got[2].(CallerIDPattern)
	if !ok || cip.Pattern.String() != `^\+1` {
		t.Errorf("CallerIDPattern round-trip = %+v", got[2])
	}
	dp, ok := got[3].(DestinationPattern)
	if !ok || !dp.Negate {
		t.Errorf("DestinationPattern round-trip = %+v", got[3])
	}
}

func TestUnmarshalConditionsEmpty(t *testing.T) {
	conds, err := UnmarshalConditions("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conds != nil {
		t.Errorf("expected nil conditions for empty input, got %+v", conds)
	}
}
