package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/sheetforge/sheetforge/pkg/plan"
	"github.com/sheetforge/sheetforge/pkg/schema"
)

// Heuristic matches source headers against the target schema's known
// spellings and emits a plan without any model call. It is tried before the
// LLM planner: sheets from well-behaved systems never need a model.
type Heuristic struct {
	// AmbiguityPreference is the day/month preference declared on date
	// steps. Defaults to UK (day-first).
	AmbiguityPreference string
}

// NewHeuristic builds a heuristic planner with day-first date handling.
func NewHeuristic() *Heuristic {
	return &Heuristic{AmbiguityPreference: "UK"}
}

// Propose implements Planner.
func (h *Heuristic) Propose(_ context.Context, analysis *Analysis, sch *schema.Schema, _ []string) (*plan.Plan, error) {
	p := plan.New(sch.Name, "heuristic")

	produced := map[string]bool{}
	matched := 0

	for _, profile := range analysis.Columns {
		target := matchColumn(sch, profile.Name)
		if target == nil {
			p.Mappings = append(p.Mappings, plan.ColumnMapping{Source: profile.Name, Action: plan.ActionDrop})
			continue
		}
		matched++

		switch {
		case target.Name == "first_name" && hasSpacedSamples(profile):
			// A first-name column whose values contain spaces is a full
			// name; split it instead of copying it.
			stepID := "split_" + slug(profile.Name)
			p.Transformations = append(p.Transformations, plan.TransformationStep{
				ID:            stepID,
				Function:      "SPLIT_FULL_NAME",
				InputColumns:  []string{profile.Name},
				OutputColumns: []string{"first_name", "middle_name", "last_name"},
			})
			p.Mappings = append(p.Mappings, plan.ColumnMapping{
				Source: profile.Name, Action: plan.ActionTransform, TransformID: stepID,
			})
			produced["first_name"] = true
			produced["last_name"] = true

		case target.Type == schema.TypeDate || (profile.LooksLikeDate && target.Type != schema.TypeString):
			stepID := "parse_" + slug(profile.Name)
			p.Transformations = append(p.Transformations, plan.TransformationStep{
				ID:            stepID,
				Function:      "SMART_DATE_PARSE",
				InputColumns:  []string{profile.Name},
				OutputColumns: []string{target.Name},
				Params:        map[string]any{"ambiguity_preference": h.preference()},
			})
			p.Mappings = append(p.Mappings, plan.ColumnMapping{
				Source: profile.Name, Action: plan.ActionTransform, TransformID: stepID,
			})
			produced[target.Name] = true

		case target.Type == schema.TypeEmail:
			stepID := "email_" + slug(profile.Name)
			p.Transformations = append(p.Transformations, plan.TransformationStep{
				ID:            stepID,
				Function:      "VALIDATE_EMAIL",
				InputColumns:  []string{profile.Name},
				OutputColumns: []string{target.Name, target.Name + "_valid"},
			})
			p.Mappings = append(p.Mappings, plan.ColumnMapping{
				Source: profile.Name, Action: plan.ActionTransform, TransformID: stepID,
			})
			produced[target.Name] = true

		case target.Type == schema.TypePhone:
			stepID := "phone_" + slug(profile.Name)
			p.Transformations = append(p.Transformations, plan.TransformationStep{
				ID:            stepID,
				Function:      "NORMALIZE_PHONE",
				InputColumns:  []string{profile.Name},
				OutputColumns: []string{target.Name},
			})
			p.Mappings = append(p.Mappings, plan.ColumnMapping{
				Source: profile.Name, Action: plan.ActionTransform, TransformID: stepID,
			})
			produced[target.Name] = true

		case target.Name == "gstin":
			stepID := "gstin_" + slug(profile.Name)
			p.Transformations = append(p.Transformations, plan.TransformationStep{
				ID:            stepID,
				Function:      "VALIDATE_GSTIN",
				InputColumns:  []string{profile.Name},
				OutputColumns: []string{"gstin", "gstin_valid", "gstin_state"},
			})
			p.Mappings = append(p.Mappings, plan.ColumnMapping{
				Source: profile.Name, Action: plan.ActionTransform, TransformID: stepID,
			})
			produced["gstin"] = true

		default:
			p.Mappings = append(p.Mappings, plan.ColumnMapping{
				Source: profile.Name, Target: target.Name, Action: plan.ActionDirect,
			})
			produced[target.Name] = true
		}
	}

	// When the sheet carries a pincode but no city or state, the postal
	// lookup fills them.
	if produced["pincode"] && sch.Column("city") != nil && sch.Column("state") != nil &&
		(!produced["city"] || !produced["state"]) {
		outputs := []string{}
		for _, name := range []string{"city", "state", "country"} {
			if sch.Column(name) != nil && !produced[name] {
				outputs = append(outputs, name)
			} else {
				// Positional binding: keep provider field order by binding
				// already-produced fields to scratch columns.
				outputs = append(outputs, "_"+name)
			}
		}
		p.Enrichments = append(p.Enrichments, plan.EnrichmentStep{
			ID:            "pincode_lookup",
			Provider:      "pincode",
			KeyColumn:     "pincode",
			OutputColumns: outputs,
			Strategy:      plan.StrategyCacheFirst,
		})
	}

	if len(analysis.Columns) > 0 {
		p.Confidence = 0.35 + 0.6*float64(matched)/float64(len(analysis.Columns))
	}
	if p.Confidence > 0.95 {
		p.Confidence = 0.95
	}
	p.Notes = fmt.Sprintf("heuristic match: %d/%d source columns", matched, len(analysis.Columns))
	return p, nil
}

func (h *Heuristic) preference() string {
	if h.AmbiguityPreference == "" {
		return "UK"
	}
	return h.AmbiguityPreference
}

// matchColumn finds the schema column whose name or known spellings match
// the source header.
func matchColumn(sch *schema.Schema, source string) *schema.Column {
	norm := normalizeHeader(source)
	for _, col := range sch.Columns {
		if normalizeHeader(col.Name) == norm {
			return col
		}
	}
	for _, col := range sch.Columns {
		for _, candidate := range col.CommonSourceNames {
			if normalizeHeader(candidate) == norm {
				return col
			}
		}
	}
	return nil
}

func normalizeHeader(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

func slug(s string) string {
	return strings.ReplaceAll(normalizeHeader(s), " ", "_")
}

// hasSpacedSamples reports whether most sampled values look like multi-word
// names.
func hasSpacedSamples(p ColumnProfile) bool {
	if len(p.Samples) == 0 {
		return false
	}
	spaced := 0
	for _, s := range p.Samples {
		if strings.ContainsAny(strings.TrimSpace(s), " ,") {
			spaced++
		}
	}
	return spaced*2 > len(p.Samples)
}
