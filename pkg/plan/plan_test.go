package plan

import (
	"path/filepath"
	"testing"
)

func TestMappingActionValid(t *testing.T) {
	for _, a := range []MappingAction{ActionDirect, ActionTransform, ActionDrop} {
		if !a.Valid() {
			t.Errorf("%s should be valid", a)
		}
	}
	if MappingAction("rename").Valid() {
		t.Error("unknown action should be invalid")
	}
}

func TestEnrichmentStrategyValid(t *testing.T) {
	for _, s := range []EnrichmentStrategy{StrategyCacheFirst, StrategyAPIOnly, StrategyCacheOnly} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if EnrichmentStrategy("guess").Valid() {
		t.Error("unknown strategy should be invalid")
	}
}

func TestNewAssignsIdentity(t *testing.T) {
	p := New("generic_customer", "heuristic")
	if p.ID == "" {
		t.Error("plan should get an id")
	}
	if p.CreatedAt.IsZero() {
		t.Error("plan should be timestamped")
	}
	if p.SchemaName != "generic_customer" || p.CreatedBy != "heuristic" {
		t.Errorf("identity fields: %q created by %q", p.SchemaName, p.CreatedBy)
	}
}

func TestStepLookup(t *testing.T) {
	p := New("generic_customer", "test")
	p.Transformations = append(p.Transformations, TransformationStep{
		ID:            "t1",
		Function:      "SPLIT_FULL_NAME",
		InputColumns:  []string{"Full Name"},
		OutputColumns: []string{"first_name", "middle_name", "last_name"},
	})

	step, ok := p.Step("t1")
	if !ok || step.Function != "SPLIT_FULL_NAME" {
		t.Fatalf("Step(t1) = %+v, %v", step, ok)
	}
	if _, ok := p.Step("t2"); ok {
		t.Error("unknown step id should not resolve")
	}
}

func TestSaveAndLoadFile(t *testing.T) {
	p := New("generic_customer", "heuristic")
	p.Confidence = 0.83
	p.Mappings = []ColumnMapping{
		{Source: "Email ID", Target: "email", Action: ActionDirect},
		{Source: "Remarks", Action: ActionDrop},
	}
	p.Enrichments = []EnrichmentStep{
		{ID: "e1", Provider: "pincode", KeyColumn: "pincode", OutputColumns: []string{"city", "state"}, Strategy: StrategyCacheFirst},
	}

	path := filepath.Join(t.TempDir(), "plan.json")
	if err := p.SaveFile(path); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	back, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if back.ID != p.ID || back.Confidence != p.Confidence {
		t.Errorf("identity lost: %+v", back)
	}
	if len(back.Mappings) != 2 || back.Mappings[1].Action != ActionDrop {
		t.Errorf("mappings lost: %+v", back.Mappings)
	}
	if len(back.Enrichments) != 1 || back.Enrichments[0].Strategy != StrategyCacheFirst {
		t.Errorf("enrichments lost: %+v", back.Enrichments)
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	if _, err := Unmarshal([]byte("{not json")); err == nil {
		t.Fatal("expected error")
	}
}
