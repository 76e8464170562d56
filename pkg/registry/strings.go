package registry

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sheetforge/sheetforge/pkg/table"
)

func splitFullNameSpec() *FunctionSpec {
	return &FunctionSpec{
		ID:          "SPLIT_FULL_NAME",
		Summary:     "Split a full name into first, middle, and last components",
		InputArity:  1,
		OutputArity: 3,
		Params: []ParamSpec{
			{Name: "delimiter", Kind: ParamString, Default: "auto"},
			{Name: "culture", Kind: ParamString, Default: "western", Enum: []string{"western", "eastern"}},
			{Name: "handle_single_name", Kind: ParamString, Default: "first_name_only", Enum: []string{"first_name_only", "last_name_only"}},
		},
		Deterministic: true,
		fn:            splitFullName,
	}
}

func splitFullName(c Call) ([]table.Value, error) {
	empty := []table.Value{table.String(""), table.String(""), table.String("")}
	in := c.Inputs[0]
	if in.IsNull() {
		return empty, nil
	}
	raw := strings.TrimSpace(in.Text())
	if raw == "" {
		return empty, nil
	}

	delim := c.Str("delimiter")
	if delim == "auto" {
		// Comma-separated names ("Abril, Dulce") take precedence over the
		// usual space split.
		if strings.Contains(raw, ",") {
			delim = ","
		} else {
			delim = " "
		}
	}

	var parts []string
	for _, p := range strings.Split(raw, delim) {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}

	eastern := c.Str("culture") == "eastern"
	switch len(parts) {
	case 0:
		return empty, nil
	case 1:
		if c.Str("handle_single_name") == "last_name_only" {
			return []table.Value{table.String(""), table.String(""), table.String(parts[0])}, nil
		}
		return []table.Value{table.String(parts[0]), table.String(""), table.String("")}, nil
	case 2:
		if eastern {
			return []table.Value{table.String(parts[1]), table.String(""), table.String(parts[0])}, nil
		}
		return []table.Value{table.String(parts[0]), table.String(""), table.String(parts[1])}, nil
	default:
		middle := strings.Join(parts[1:len(parts)-1], " ")
		if eastern {
			return []table.Value{table.String(parts[len(parts)-1]), table.String(middle), table.String(parts[0])}, nil
		}
		return []table.Value{table.String(parts[0]), table.String(middle), table.String(parts[len(parts)-1])}, nil
	}
}

func regexExtractSpec() *FunctionSpec {
	return &FunctionSpec{
		ID:          "REGEX_EXTRACT",
		Summary:     "Extract a substring by regex pattern and capture group",
		InputArity:  1,
		OutputArity: 1,
		Params: []ParamSpec{
			{Name: "pattern", Kind: ParamString, Required: true},
			{Name: "group_index", Kind: ParamInt, Default: 0},
		},
		Deterministic: true,
		fn:            regexExtract,
	}
}

func regexExtract(c Call) ([]table.Value, error) {
	in := c.Inputs[0]
	if in.IsNull() {
		return []table.Value{table.Null()}, nil
	}
	re, err := regexp.Compile(c.Str("pattern"))
	if err != nil {
		return nil, fmt.Errorf("%w: REGEX_EXTRACT: pattern: %v", ErrBadParams, err)
	}
	group := c.Int("group_index")
	m := re.FindStringSubmatch(in.Text())
	if m == nil || group >= len(m) {
		// Per-cell failure, not per-column: other rows keep going.
		return nil, FailNoMatch(fmt.Sprintf("pattern %q", c.Str("pattern")))
	}
	return []table.Value{table.String(m[group])}, nil
}

var whitespaceRun = regexp.MustCompile(`\s+`)

func singleStringSpec(id, summary string, f func(string) string) *FunctionSpec {
	return &FunctionSpec{
		ID:            id,
		Summary:       summary,
		InputArity:    1,
		OutputArity:   1,
		Deterministic: true,
		fn: func(c Call) ([]table.Value, error) {
			in := c.Inputs[0]
			if in.IsNull() {
				return []table.Value{table.Null()}, nil
			}
			return []table.Value{table.String(f(in.Text()))}, nil
		},
	}
}

func cleanWhitespace(s string) string {
	return whitespaceRun.ReplaceAllString(strings.TrimSpace(s), " ")
}

func concatenateSpec() *FunctionSpec {
	return &FunctionSpec{
		ID:          "CONCATENATE",
		Summary:     "Join input cells with a separator, skipping nulls",
		InputArity:  1,
		Variadic:    true,
		OutputArity: 1,
		Params: []ParamSpec{
			{Name: "separator", Kind: ParamString, Default: " "},
		},
		Deterministic: true,
		fn: func(c Call) ([]table.Value, error) {
			var parts []string
			for _, in := range c.Inputs {
				if !in.IsNull() {
					parts = append(parts, strings.TrimSpace(in.Text()))
				}
			}
			return []table.Value{table.String(strings.Join(parts, c.Str("separator")))}, nil
		},
	}
}
