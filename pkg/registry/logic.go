package registry

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sheetforge/sheetforge/pkg/table"
)

func mapValuesSpec() *FunctionSpec {
	return &FunctionSpec{
		ID:          "MAP_VALUES",
		Summary:     "Map input values through a lookup dictionary",
		InputArity:  1,
		OutputArity: 1,
		Params: []ParamSpec{
			{Name: "mapping", Kind: ParamStringMap, Required: true},
			{Name: "default", Kind: ParamString},
			{Name: "case_sensitive", Kind: ParamBool, Default: false},
		},
		Deterministic: true,
		fn: func(c Call) ([]table.Value, error) {
			in := c.Inputs[0]
			if in.IsNull() {
				return []table.Value{table.Null()}, nil
			}
			mapping := c.StrMap("mapping")
			key := strings.TrimSpace(in.Text())
			if !c.Bool("case_sensitive") {
				lowered := make(map[string]string, len(mapping))
				for k, v := range mapping {
					lowered[strings.ToLower(k)] = v
				}
				mapping = lowered
				key = strings.ToLower(key)
			}
			if v, ok := mapping[key]; ok {
				return []table.Value{table.String(v)}, nil
			}
			if def, ok := c.Params["default"]; ok {
				return []table.Value{table.String(fmt.Sprint(def))}, nil
			}
			return nil, FailNoMatch(fmt.Sprintf("no mapping for %q", in.Text()))
		},
	}
}

func conditionalFillSpec() *FunctionSpec {
	return &FunctionSpec{
		ID:          "CONDITIONAL_FILL",
		Summary:     "Fill empty cells from a fallback column or a constant",
		InputArity:  1,
		OutputArity: 1,
		Params: []ParamSpec{
			{Name: "fallback_column", Kind: ParamString},
			{Name: "default", Kind: ParamString},
		},
		Deterministic: true,
		fn: func(c Call) ([]table.Value, error) {
			in := c.Inputs[0]
			if !in.IsNull() {
				return []table.Value{in}, nil
			}
			if col := c.Str("fallback_column"); col != "" {
				if v, ok := c.Row[col]; ok && !v.IsNull() {
					return []table.Value{v}, nil
				}
			}
			if def, ok := c.Params["default"]; ok {
				return []table.Value{table.String(fmt.Sprint(def))}, nil
			}
			return []table.Value{table.Null()}, nil
		},
	}
}

var gstinPattern = regexp.MustCompile(`^[0-9]{2}[A-Z]{5}[0-9]{4}[A-Z][1-9A-Z]Z[0-9A-Z]$`)

// gstinStateCodes are the GST state codes assigned by the Indian GST council.
var gstinStateCodes = map[string]string{
	"01": "Jammu and Kashmir", "02": "Himachal Pradesh", "03": "Punjab",
	"04": "Chandigarh", "05": "Uttarakhand", "06": "Haryana", "07": "Delhi",
	"08": "Rajasthan", "09": "Uttar Pradesh", "10": "Bihar", "11": "Sikkim",
	"12": "Arunachal Pradesh", "13": "Nagaland", "14": "Manipur",
	"15": "Mizoram", "16": "Tripura", "17": "Meghalaya", "18": "Assam",
	"19": "West Bengal", "20": "Jharkhand", "21": "Odisha",
	"22": "Chhattisgarh", "23": "Madhya Pradesh", "24": "Gujarat",
	"26": "Dadra and Nagar Haveli and Daman and Diu", "27": "Maharashtra",
	"29": "Karnataka", "30": "Goa", "31": "Lakshadweep", "32": "Kerala",
	"33": "Tamil Nadu", "34": "Puducherry", "35": "Andaman and Nicobar Islands",
	"36": "Telangana", "37": "Andhra Pradesh", "38": "Ladakh",
}

func validateGSTINSpec() *FunctionSpec {
	return &FunctionSpec{
		ID:            "VALIDATE_GSTIN",
		Summary:       "Validate a GSTIN and expand it into value, validity, and state",
		InputArity:    1,
		OutputArity:   3,
		Deterministic: true,
		fn: func(c Call) ([]table.Value, error) {
			in := c.Inputs[0]
			if in.IsNull() {
				return []table.Value{table.Null(), table.Bool(false), table.Null()}, nil
			}
			gstin := strings.ToUpper(strings.TrimSpace(in.Text()))
			if !gstinPattern.MatchString(gstin) {
				return []table.Value{table.String(gstin), table.Bool(false), table.Null()}, nil
			}
			state, ok := gstinStateCodes[gstin[:2]]
			if !ok {
				return []table.Value{table.String(gstin), table.Bool(false), table.Null()}, nil
			}
			return []table.Value{table.String(gstin), table.Bool(true), table.String(state)}, nil
		},
	}
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

func validateEmailSpec() *FunctionSpec {
	return &FunctionSpec{
		ID:            "VALIDATE_EMAIL",
		Summary:       "Lowercase an email address and flag whether it is well-formed",
		InputArity:    1,
		OutputArity:   2,
		Deterministic: true,
		fn: func(c Call) ([]table.Value, error) {
			in := c.Inputs[0]
			if in.IsNull() {
				return []table.Value{table.Null(), table.Bool(false)}, nil
			}
			email := strings.ToLower(strings.TrimSpace(in.Text()))
			return []table.Value{table.String(email), table.Bool(emailPattern.MatchString(email))}, nil
		},
	}
}
