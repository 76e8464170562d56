package planner

import (
	"context"
	"fmt"

	"github.com/sheetforge/sheetforge/pkg/plan"
	"github.com/sheetforge/sheetforge/pkg/schema"
)

// Planner proposes a transformation plan for a profiled source sheet.
// Feedback carries the validator's findings from a previous rejected
// attempt, so a planner can correct itself on retry.
type Planner interface {
	Propose(ctx context.Context, analysis *Analysis, sch *schema.Schema, feedback []string) (*plan.Plan, error)
}

// Chain tries planners in order and returns the first proposal. A planner
// returning an error passes the baton to the next one; only the last
// planner's error surfaces.
type Chain []Planner

// Propose implements Planner.
func (c Chain) Propose(ctx context.Context, analysis *Analysis, sch *schema.Schema, feedback []string) (*plan.Plan, error) {
	var lastErr error
	for _, p := range c {
		proposal, err := p.Propose(ctx, analysis, sch, feedback)
		if err == nil {
			return proposal, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// MinConfidence wraps a planner and fails proposals below a confidence
// floor. In a Chain this lets a cheap planner handle the sheets it is sure
// about and hand everything else to the next planner.
type MinConfidence struct {
	Planner Planner
	Floor   float64
}

// Propose implements Planner.
func (m MinConfidence) Propose(ctx context.Context, analysis *Analysis, sch *schema.Schema, feedback []string) (*plan.Plan, error) {
	p, err := m.Planner.Propose(ctx, analysis, sch, feedback)
	if err != nil {
		return nil, err
	}
	if p.Confidence < m.Floor {
		return nil, fmt.Errorf("proposal confidence %.2f below floor %.2f", p.Confidence, m.Floor)
	}
	return p, nil
}
