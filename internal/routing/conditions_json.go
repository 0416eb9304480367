package routing

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// conditionEnvelope is the on-disk encoding for one Condition: a type tag
// plus its type-specific fields, since Condition's implementations are not
// distinguishable from a bare JSON object alone.
type conditionEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type timeOfDayJSON struct {
	StartSeconds int `json:"start_seconds"`
	EndSeconds   int `json:"end_seconds"`
}

type dayOfWeekJSON struct {
	Days []int `json:"days"`
}

type dateRangeJSON struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type callerIDPatternJSON struct {
	Pattern string `json:"pattern"`
	Negate  bool   `json:"negate"`
}

type destinationPatternJSON struct {
	Pattern string `json:"pattern"`
	Negate  bool   `json:"negate"`
}

// MarshalConditions encodes a rule's condition set as the conditions_json
// column value the A3 config overlay store persists.
func MarshalConditions(conds []Condition) (string, error) {
	envelopes := make([]conditionEnvelope, 0, len(conds))
	for _, c := range conds {
		var typ string
		var data any
		switch v := c.(type) {
		case TimeOfDay:
			typ = "time_of_day"
			data = timeOfDayJSON{StartSeconds: int(v.Start.Seconds()), EndSeconds: int(v.End.Seconds())}
		case DayOfWeek:
			typ = "day_of_week"
			data = dayOfWeekJSON{Days: v.Days}
		case DateRange:
			typ = "date_range"
			data = dateRangeJSON{Start: v.Start, End: v.End}
		case CallerIDPattern:
			typ = "caller_id_pattern"
			data = callerIDPatternJSON{Pattern: v.Pattern.String(), Negate: v.Negate}
		case DestinationPattern:
			typ = "destination_pattern"
			data = destinationPatternJSON{Pattern: v.Pattern.String(), Negate: v.Negate}
		default:
			return "", fmt.Errorf("routing: unknown condition type %T", c)
		}
		raw, err := json.Marshal(data)
		if err != nil {
			return "", fmt.Errorf("routing: encoding %s condition: %w", typ, err)
		}
		envelopes = append(envelopes, conditionEnvelope{Type: typ, Data: raw})
	}

	raw, err := json.Marshal(envelopes)
	if err != nil {
		return "", fmt.Errorf("routing: encoding conditions: %w", err)
	}
	return string(raw), nil
}

// UnmarshalConditions decodes a conditions_json column value back into the
// concrete Condition values a Rule carries.
func UnmarshalConditions(raw string) ([]Condition, error) {
	if raw == "" {
		return nil, nil
	}

	var envelopes []conditionEnvelope
	if err := json.Unmarshal([]byte(raw), &envelopes); err != nil {
		return nil, fmt.Errorf("routing: decoding conditions: %w", err)
	}

	conds := make([]Condition, 0, len(envelopes))
	for _, e := range envelopes {
		switch e.Type {
		case "time_of_day":
			var d timeOfDayJSON
			if err := json.Unmarshal(e.Data, &d); err != nil {
				return nil, fmt.Errorf("routing: decoding time_of_day condition: %w", err)
			}
			conds = append(conds, TimeOfDay{Start: time.Duration(d.StartSeconds) * time.Second, End: time.Duration(d.EndSeconds) * time.Second})
		case "day_of_week":
			var d dayOfWeekJSON
			if err := json.Unmarshal(e.Data, &d); err != nil {
				return nil, fmt.Errorf("routing: decoding day_of_week condition: %w", err)
			}
			conds = append(conds, DayOfWeek{Days: d.Days})
		case "date_range":
			var d dateRangeJSON
			if err := json.Unmarshal(e.Data, &d); err != nil {
				return nil, fmt.Errorf("routing: decoding date_range condition: %w", err)
			}
			conds = append(conds, DateRange{Start: d.Start, End: d.End})
		case "caller_id_pattern":
			var d callerIDPatternJSON
			if err := json.Unmarshal(e.Data, &d); err != nil {
				return nil, fmt.Errorf("routing: decoding caller_id_pattern condition: %w", err)
			}
			re, err := regexp.Compile(d.Pattern)
			if err != nil {
				return nil, fmt.Errorf("routing: compiling caller_id_pattern %q: %w", d.Pattern, err)
			}
			conds = append(conds, CallerIDPattern{Pattern: re, Negate: d.Negate})
		case "destination_pattern":
			var d destinationPatternJSON
			if err := json.Unmarshal(e.Data, &d); err != nil {
				return nil, fmt.Errorf("routing: decoding destination_pattern condition: %w", err)
			}
			re, err := regexp.Compile(d.Pattern)
			if err != nil {
				return nil, fmt.Errorf("routing: compiling destination_pattern %q: %w", d.Pattern, err)
			}
			conds = append(conds, DestinationPattern{Pattern: re, Negate: d.Negate})
		default:
			return nil, fmt.Errorf("routing: unknown condition type %q", e.Type)
		}
	}
	return conds, nil
}
