package registry

import (
	"fmt"
	"strings"
	"time"

	"github.com/sheetforge/sheetforge/pkg/table"
)

// Date layouts tried per ambiguity preference. The plan must declare the
// day/month preference explicitly; it is never inferred mid-run.
var dateLayouts = map[string][]string{
	"US": {
		"1/2/2006", "1-2-2006", "1/2/06",
		"2006-01-02", "2006/01/02",
		"2 Jan 2006", "2 January 2006",
		"Jan 2, 2006", "January 2, 2006",
	},
	"UK": {
		"2/1/2006", "2-1-2006", "2/1/06",
		"2006-01-02", "2006/01/02",
		"2 Jan 2006", "2 January 2006",
		"2-Jan-2006", "2-January-2006",
	},
	"ISO": {
		"2006-01-02", "2006/01/02",
		"2/1/2006", "2-1-2006",
		"2 Jan 2006", "2 January 2006",
	},
}

func parseDate(raw, preference string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	layouts, ok := dateLayouts[preference]
	if !ok {
		layouts = dateLayouts["UK"]
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

var ambiguityParam = ParamSpec{
	Name: "ambiguity_preference", Kind: ParamString, Default: "UK",
	Enum: []string{"US", "UK", "ISO"},
}

func smartDateParseSpec() *FunctionSpec {
	return &FunctionSpec{
		ID:            "SMART_DATE_PARSE",
		Summary:       "Parse a date using the plan's declared day/month preference",
		InputArity:    1,
		OutputArity:   1,
		Params:        []ParamSpec{ambiguityParam},
		Deterministic: true,
		fn: func(c Call) ([]table.Value, error) {
			in := c.Inputs[0]
			if in.IsNull() {
				return []table.Value{table.Null()}, nil
			}
			if in.Kind == table.KindDate {
				return []table.Value{in}, nil
			}
			t, ok := parseDate(in.Text(), c.Str("ambiguity_preference"))
			if !ok {
				return nil, FailParse(fmt.Sprintf("unparseable date %q", in.Text()))
			}
			return []table.Value{table.Date(t)}, nil
		},
	}
}

func formatDateSpec() *FunctionSpec {
	return &FunctionSpec{
		ID:          "FORMAT_DATE",
		Summary:     "Render a date in a target layout",
		InputArity:  1,
		OutputArity: 1,
		Params: []ParamSpec{
			{Name: "target_format", Kind: ParamString, Default: "2006-01-02"},
			ambiguityParam,
		},
		Deterministic: true,
		fn: func(c Call) ([]table.Value, error) {
			in := c.Inputs[0]
			if in.IsNull() {
				return []table.Value{table.Null()}, nil
			}
			t := in.Time
			if in.Kind != table.KindDate {
				var ok bool
				t, ok = parseDate(in.Text(), c.Str("ambiguity_preference"))
				if !ok {
					return nil, FailParse(fmt.Sprintf("unparseable date %q", in.Text()))
				}
			}
			return []table.Value{table.String(t.Format(c.Str("target_format")))}, nil
		},
	}
}

func computeDateDiffSpec() *FunctionSpec {
	return &FunctionSpec{
		ID:          "COMPUTE_DATE_DIFF",
		Summary:     "Difference between a date and a reference, in days or whole years",
		InputArity:  1,
		Variadic:    true,
		OutputArity: 1,
		Params: []ParamSpec{
			{Name: "unit", Kind: ParamString, Default: "days", Enum: []string{"days", "years"}},
			// reference_date anchors single-input calls; with two inputs the
			// second cell is the reference.
			{Name: "reference_date", Kind: ParamString},
			ambiguityParam,
		},
		Deterministic: true,
		fn: func(c Call) ([]table.Value, error) {
			in := c.Inputs[0]
			if in.IsNull() {
				return []table.Value{table.Null()}, nil
			}
			pref := c.Str("ambiguity_preference")
			d1, ok := toDate(in, pref)
			if !ok {
				return nil, FailParse(fmt.Sprintf("unparseable date %q", in.Text()))
			}

			var ref time.Time
			switch {
			case len(c.Inputs) >= 2 && !c.Inputs[1].IsNull():
				ref, ok = toDate(c.Inputs[1], pref)
				if !ok {
					return nil, FailParse(fmt.Sprintf("unparseable reference date %q", c.Inputs[1].Text()))
				}
			case c.Str("reference_date") != "":
				ref, ok = parseDate(c.Str("reference_date"), "ISO")
				if !ok {
					return nil, fmt.Errorf("%w: COMPUTE_DATE_DIFF: reference_date %q", ErrBadParams, c.Str("reference_date"))
				}
			default:
				return []table.Value{table.Null()}, nil
			}

			days := int64(ref.Sub(d1).Hours() / 24)
			if c.Str("unit") == "years" {
				// Years-elapsed policy: floor(days/365).
				return []table.Value{table.Int(days / 365)}, nil
			}
			return []table.Value{table.Int(days)}, nil
		},
	}
}

func toDate(v table.Value, preference string) (time.Time, bool) {
	if v.Kind == table.KindDate {
		return v.Time, true
	}
	return parseDate(v.Text(), preference)
}
