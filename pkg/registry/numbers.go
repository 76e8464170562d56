package registry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sheetforge/sheetforge/pkg/table"
)

// currencySymbols are stripped before decimal parsing, longest first so that
// "Rs." is removed before "Rs".
var currencySymbols = []string{"Rs.", "INR", "USD", "EUR", "Rs", "$", "€", "£", "¥", "₹"}

func normalizeCurrencySpec() *FunctionSpec {
	return &FunctionSpec{
		ID:            "NORMALIZE_CURRENCY",
		Summary:       "Strip currency symbols and normalize to a decimal number",
		InputArity:    1,
		OutputArity:   1,
		Deterministic: true,
		fn: func(c Call) ([]table.Value, error) {
			in := c.Inputs[0]
			if in.IsNull() {
				return []table.Value{table.Null()}, nil
			}
			if in.Kind == table.KindFloat || in.Kind == table.KindInt {
				return []table.Value{in}, nil
			}
			s := strings.TrimSpace(in.Text())
			for _, sym := range currencySymbols {
				s = strings.ReplaceAll(s, sym, "")
			}
			s = strings.ReplaceAll(s, ",", "")
			s = strings.ReplaceAll(s, " ", "")
			// Accounting negatives: (123.45) means -123.45.
			if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
				s = "-" + s[1:len(s)-1]
			}
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, FailParse(fmt.Sprintf("not a currency amount: %q", in.Text()))
			}
			return []table.Value{table.Float(f)}, nil
		},
	}
}

func addNumbersSpec() *FunctionSpec {
	return &FunctionSpec{
		ID:            "ADD_NUMBERS",
		Summary:       "Sum numeric input cells, nulls counted as zero",
		InputArity:    1,
		Variadic:      true,
		OutputArity:   1,
		Deterministic: true,
		fn: func(c Call) ([]table.Value, error) {
			var sum float64
			integral := true
			for _, in := range c.Inputs {
				if in.IsNull() {
					continue
				}
				switch in.Kind {
				case table.KindInt:
					sum += float64(in.Int)
				case table.KindFloat:
					sum += in.Float
					integral = false
				default:
					f, err := strconv.ParseFloat(strings.TrimSpace(in.Text()), 64)
					if err != nil {
						return nil, FailParse(fmt.Sprintf("not a number: %q", in.Text()))
					}
					sum += f
					if f != float64(int64(f)) {
						integral = false
					}
				}
			}
			if integral {
				return []table.Value{table.Int(int64(sum))}, nil
			}
			return []table.Value{table.Float(sum)}, nil
		},
	}
}

func normalizePhoneSpec() *FunctionSpec {
	return &FunctionSpec{
		ID:          "NORMALIZE_PHONE",
		Summary:     "Normalize phone numbers to E.164 for the declared region",
		InputArity:  1,
		OutputArity: 1,
		Params: []ParamSpec{
			{Name: "region", Kind: ParamString, Default: "IN"},
			{Name: "format", Kind: ParamString, Default: "E.164", Enum: []string{"E.164", "NATIONAL"}},
		},
		Deterministic: true,
		fn:            normalizePhone,
	}
}

// regionPrefixes maps ISO region codes to dial prefixes and national number
// lengths for the simple normalization cases the pipeline handles.
var regionPrefixes = map[string]struct {
	prefix string
	digits int
}{
	"IN": {"+91", 10},
	"US": {"+1", 10},
	"GB": {"+44", 10},
}

func normalizePhone(c Call) ([]table.Value, error) {
	in := c.Inputs[0]
	if in.IsNull() {
		return []table.Value{table.Null()}, nil
	}
	raw := strings.TrimSpace(in.Text())
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	region, ok := regionPrefixes[strings.ToUpper(c.Str("region"))]
	if !ok || len(d) < 8 || len(d) > 15 {
		// Keep the original text; the quality validator flags it softly.
		return []table.Value{table.String(raw)}, nil
	}
	national := d
	dial := strings.TrimPrefix(region.prefix, "+")
	if strings.HasPrefix(d, dial) && len(d) == len(dial)+region.digits {
		national = d[len(dial):]
	}
	if len(national) != region.digits {
		return []table.Value{table.String(raw)}, nil
	}
	if c.Str("format") == "NATIONAL" {
		return []table.Value{table.String(national)}, nil
	}
	return []table.Value{table.String(region.prefix + national)}, nil
}
