package registry

import (
	"errors"
	"testing"

	"github.com/sheetforge/sheetforge/pkg/table"
)

func mustResolve(t *testing.T, r *Registry, id string) *FunctionSpec {
	t.Helper()
	spec, err := r.Resolve(id)
	if err != nil {
		t.Fatalf("Resolve(%s): %v", id, err)
	}
	return spec
}

func apply(t *testing.T, spec *FunctionSpec, params map[string]any, inputs ...table.Value) []table.Value {
	t.Helper()
	validated, err := spec.ValidateParams(params)
	if err != nil {
		t.Fatalf("%s: ValidateParams: %v", spec.ID, err)
	}
	out, err := spec.Apply(Call{Inputs: inputs, Params: validated})
	if err != nil {
		t.Fatalf("%s: Apply: %v", spec.ID, err)
	}
	return out
}

func TestResolveUnknownFunction(t *testing.T) {
	r := New()
	_, err := r.Resolve("FROBNICATE")
	if !errors.Is(err, ErrUnknownFunction) {
		t.Fatalf("expected ErrUnknownFunction, got %v", err)
	}
}

func TestResolveCaseInsensitive(t *testing.T) {
	r := New()
	if _, err := r.Resolve("split_full_name"); err != nil {
		t.Fatalf("lower-case id should resolve: %v", err)
	}
}

func TestSplitFullName(t *testing.T) {
	r := New()
	spec := mustResolve(t, r, "SPLIT_FULL_NAME")

	tests := []struct {
		name   string
		input  string
		params map[string]any
		first  string
		middle string
		last   string
	}{
		{name: "two parts", input: "Dulce Abril", first: "Dulce", last: "Abril"},
		{name: "comma reversed", input: "Abril, Dulce", first: "Dulce", last: "Abril"},
		{name: "three parts", input: "Mara Hashimoto Rios", first: "Mara", middle: "Hashimoto", last: "Rios"},
		{name: "single name default", input: "Philip", first: "Philip"},
		{
			name: "single name as surname", input: "Philip",
			params: map[string]any{"handle_single_name": "last_name_only"},
			last:   "Philip",
		},
		{
			name: "eastern order", input: "Hashimoto Mara",
			params: map[string]any{"culture": "eastern"},
			first:  "Mara", last: "Hashimoto",
		},
		{name: "extra whitespace", input: "  Dulce   Abril  ", first: "Dulce", last: "Abril"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := apply(t, spec, tt.params, table.String(tt.input))
			got := [3]string{out[0].Text(), out[1].Text(), out[2].Text()}
			want := [3]string{tt.first, tt.middle, tt.last}
			if got != want {
				t.Errorf("split %q: got %v, want %v", tt.input, got, want)
			}
		})
	}
}

func TestSplitFullNameComma(t *testing.T) {
	r := New()
	spec := mustResolve(t, r, "SPLIT_FULL_NAME")
	out := apply(t, spec, nil, table.String("Abril, Dulce"))
	if out[0].Text() != "Dulce" || out[2].Text() != "Abril" {
		t.Errorf("comma form not reversed: first=%q last=%q", out[0].Text(), out[2].Text())
	}
}

func TestConcatenateRoundTrip(t *testing.T) {
	r := New()
	split := mustResolve(t, r, "SPLIT_FULL_NAME")
	concat := mustResolve(t, r, "CONCATENATE")

	parts := apply(t, split, nil, table.String("Dulce Abril"))
	joined := apply(t, concat, nil, parts[0], parts[1], parts[2])
	if joined[0].Text() != "Dulce Abril" {
		t.Errorf("round trip: got %q, want %q", joined[0].Text(), "Dulce Abril")
	}
}

func TestRegexExtractNoMatchIsCellFailure(t *testing.T) {
	r := New()
	spec := mustResolve(t, r, "REGEX_EXTRACT")
	params, err := spec.ValidateParams(map[string]any{"pattern": `\d{6}`})
	if err != nil {
		t.Fatalf("ValidateParams: %v", err)
	}
	_, err = spec.Apply(Call{Inputs: []table.Value{table.String("no digits here")}, Params: params})
	var cf *CellFailure
	if !errors.As(err, &cf) {
		t.Fatalf("expected CellFailure, got %v", err)
	}
	if cf.Kind != table.IssueNoMatch {
		t.Errorf("kind = %s, want %s", cf.Kind, table.IssueNoMatch)
	}
}

func TestValidateParamsRejectsUnknownAndBadEnum(t *testing.T) {
	r := New()
	spec := mustResolve(t, r, "SMART_DATE_PARSE")

	if _, err := spec.ValidateParams(map[string]any{"bogus": 1}); !errors.Is(err, ErrBadParams) {
		t.Errorf("unknown param: expected ErrBadParams, got %v", err)
	}
	if _, err := spec.ValidateParams(map[string]any{"ambiguity_preference": "FR"}); !errors.Is(err, ErrBadParams) {
		t.Errorf("bad enum: expected ErrBadParams, got %v", err)
	}
}

func TestValidateParamsMissingRequired(t *testing.T) {
	r := New()
	spec := mustResolve(t, r, "REGEX_EXTRACT")
	if _, err := spec.ValidateParams(nil); !errors.Is(err, ErrBadParams) {
		t.Errorf("missing pattern: expected ErrBadParams, got %v", err)
	}
}

func TestSmartDateParsePreference(t *testing.T) {
	r := New()
	spec := mustResolve(t, r, "SMART_DATE_PARSE")

	uk := apply(t, spec, map[string]any{"ambiguity_preference": "UK"}, table.String("15/10/2017"))
	if got := uk[0].Time.Format("2006-01-02"); got != "2017-10-15" {
		t.Errorf("UK parse: got %s, want 2017-10-15", got)
	}

	us := apply(t, spec, map[string]any{"ambiguity_preference": "US"}, table.String("3/4/2021"))
	if got := us[0].Time.Format("2006-01-02"); got != "2021-03-04" {
		t.Errorf("US parse: got %s, want 2021-03-04", got)
	}
}

func TestSmartDateParseFailure(t *testing.T) {
	r := New()
	spec := mustResolve(t, r, "SMART_DATE_PARSE")
	params, _ := spec.ValidateParams(nil)
	_, err := spec.Apply(Call{Inputs: []table.Value{table.String("not a date")}, Params: params})
	var cf *CellFailure
	if !errors.As(err, &cf) || cf.Kind != table.IssueParseFailure {
		t.Fatalf("expected parse-failure CellFailure, got %v", err)
	}
}

func TestComputeDateDiffYearsFromReference(t *testing.T) {
	r := New()
	spec := mustResolve(t, r, "COMPUTE_DATE_DIFF")
	out := apply(t, spec, map[string]any{
		"unit":                 "years",
		"reference_date":       "2025-12-31",
		"ambiguity_preference": "UK",
	}, table.String("15/10/2017"))
	if out[0].Int != 8 {
		t.Errorf("years elapsed = %d, want 8", out[0].Int)
	}
}

func TestAddNumbers(t *testing.T) {
	r := New()
	spec := mustResolve(t, r, "ADD_NUMBERS")

	out := apply(t, spec, nil, table.Int(32), table.Int(8))
	if out[0].Kind != table.KindInt || out[0].Int != 40 {
		t.Errorf("32+8 = %v, want int 40", out[0])
	}

	out = apply(t, spec, nil, table.String("32"), table.Null(), table.Int(8))
	if out[0].Int != 40 {
		t.Errorf("string+null+int sum = %v, want 40", out[0])
	}
}

func TestNormalizeCurrency(t *testing.T) {
	r := New()
	spec := mustResolve(t, r, "NORMALIZE_CURRENCY")

	tests := []struct {
		input string
		want  float64
	}{
		{"$1,234.50", 1234.50},
		{"₹ 99,999", 99999},
		{"Rs. 450", 450},
		{"(250.00)", -250},
		{"EUR 12.30", 12.30},
	}
	for _, tt := range tests {
		out := apply(t, spec, nil, table.String(tt.input))
		if out[0].Float != tt.want {
			t.Errorf("normalize %q = %v, want %v", tt.input, out[0].Float, tt.want)
		}
	}

	params, _ := spec.ValidateParams(nil)
	_, err := spec.Apply(Call{Inputs: []table.Value{table.String("twelve dollars")}, Params: params})
	var cf *CellFailure
	if !errors.As(err, &cf) || cf.Kind != table.IssueParseFailure {
		t.Fatalf("expected parse failure, got %v", err)
	}
}

func TestNormalizePhoneIndia(t *testing.T) {
	r := New()
	spec := mustResolve(t, r, "NORMALIZE_PHONE")

	out := apply(t, spec, nil, table.String("98450 12345"))
	if out[0].Text() != "+919845012345" {
		t.Errorf("got %q, want +919845012345", out[0].Text())
	}
	out = apply(t, spec, nil, table.String("+91-98450-12345"))
	if out[0].Text() != "+919845012345" {
		t.Errorf("prefixed: got %q, want +919845012345", out[0].Text())
	}
}

func TestMapValues(t *testing.T) {
	r := New()
	spec := mustResolve(t, r, "MAP_VALUES")
	mapping := map[string]any{"mapping": map[string]any{"KA": "Karnataka", "MH": "Maharashtra"}}

	out := apply(t, spec, mapping, table.String("ka"))
	if out[0].Text() != "Karnataka" {
		t.Errorf("case-insensitive lookup: got %q", out[0].Text())
	}

	params, _ := spec.ValidateParams(mapping)
	_, err := spec.Apply(Call{Inputs: []table.Value{table.String("XX")}, Params: params})
	var cf *CellFailure
	if !errors.As(err, &cf) || cf.Kind != table.IssueNoMatch {
		t.Fatalf("unmapped value: expected no-match failure, got %v", err)
	}

	withDefault := map[string]any{"mapping": map[string]any{"KA": "Karnataka"}, "default": "Unknown"}
	out = apply(t, spec, withDefault, table.String("XX"))
	if out[0].Text() != "Unknown" {
		t.Errorf("default: got %q, want Unknown", out[0].Text())
	}
}

func TestConditionalFill(t *testing.T) {
	r := New()
	spec := mustResolve(t, r, "CONDITIONAL_FILL")
	params, err := spec.ValidateParams(map[string]any{"fallback_column": "billing_city", "default": "Bengaluru"})
	if err != nil {
		t.Fatalf("ValidateParams: %v", err)
	}

	row := table.Row{"billing_city": table.String("Mysuru")}
	out, err := spec.Apply(Call{Inputs: []table.Value{table.Null()}, Params: params, Row: row})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out[0].Text() != "Mysuru" {
		t.Errorf("fallback column: got %q, want Mysuru", out[0].Text())
	}

	out, err = spec.Apply(Call{Inputs: []table.Value{table.Null()}, Params: params, Row: table.Row{}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out[0].Text() != "Bengaluru" {
		t.Errorf("default: got %q, want Bengaluru", out[0].Text())
	}
}

func TestValidateGSTIN(t *testing.T) {
	r := New()
	spec := mustResolve(t, r, "VALIDATE_GSTIN")

	out := apply(t, spec, nil, table.String("29abcde1234f1z5"))
	if out[0].Text() != "29ABCDE1234F1Z5" {
		t.Errorf("value: got %q", out[0].Text())
	}
	if !out[1].Bool {
		t.Errorf("expected valid GSTIN")
	}
	if out[2].Text() != "Karnataka" {
		t.Errorf("state: got %q, want Karnataka", out[2].Text())
	}

	out = apply(t, spec, nil, table.String("not-a-gstin"))
	if out[1].Bool {
		t.Errorf("malformed GSTIN reported valid")
	}
}

func TestValidateEmail(t *testing.T) {
	r := New()
	spec := mustResolve(t, r, "VALIDATE_EMAIL")

	out := apply(t, spec, nil, table.String(" Dulce.Abril@Example.COM "))
	if out[0].Text() != "dulce.abril@example.com" || !out[1].Bool {
		t.Errorf("got %q valid=%v", out[0].Text(), out[1].Bool)
	}

	out = apply(t, spec, nil, table.String("no-at-sign"))
	if out[1].Bool {
		t.Errorf("malformed email reported valid")
	}
}

type staticGenerator struct{ reply string }

func (g staticGenerator) Generate(string) (string, error) { return g.reply, nil }

func TestAIGenerate(t *testing.T) {
	r := New(WithGenerator(staticGenerator{reply: "South"}))
	spec := mustResolve(t, r, "AI_GENERATE")
	out := apply(t, spec, map[string]any{"prompt_template": "Region for state {value}?"}, table.String("Karnataka"))
	if out[0].Text() != "South" {
		t.Errorf("got %q, want South", out[0].Text())
	}
}

func TestAIGenerateWithoutBackendFailsPerCell(t *testing.T) {
	r := New()
	spec := mustResolve(t, r, "AI_GENERATE")
	params, err := spec.ValidateParams(map[string]any{"prompt_template": "{value}"})
	if err != nil {
		t.Fatalf("ValidateParams: %v", err)
	}
	_, err = spec.Apply(Call{Inputs: []table.Value{table.String("x")}, Params: params})
	var cf *CellFailure
	if !errors.As(err, &cf) {
		t.Fatalf("expected per-cell failure, got %v", err)
	}
}

func TestArityEnforcement(t *testing.T) {
	r := New()
	spec := mustResolve(t, r, "TRIM")
	params, _ := spec.ValidateParams(nil)
	if _, err := spec.Apply(Call{Inputs: []table.Value{table.String("a"), table.String("b")}, Params: params}); !errors.Is(err, ErrBadParams) {
		t.Errorf("two inputs to unary function: expected ErrBadParams, got %v", err)
	}
}

func TestListSortedAndComplete(t *testing.T) {
	r := New()
	specs := r.List()
	if len(specs) < 18 {
		t.Fatalf("catalog has %d functions, expected at least 18", len(specs))
	}
	for i := 1; i < len(specs); i++ {
		if specs[i-1].ID >= specs[i].ID {
			t.Errorf("catalog not sorted: %s before %s", specs[i-1].ID, specs[i].ID)
		}
	}
}
