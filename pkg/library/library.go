// Package library remembers transformation plans that worked. Source sheets
// are keyed by a structural signature of their headers, so the next sheet
// from the same system skips planning entirely and replays the proven plan.
package library

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sheetforge/sheetforge/pkg/plan"
	"github.com/sheetforge/sheetforge/pkg/stores"
)

// Confidence ramp bounds for remembered plans. A plan starts at the base and
// earns its way up with successful replays.
const (
	baseConfidence = 0.70
	stepConfidence = 0.05
	maxConfidence  = 0.98
)

// Signature derives the structural signature of a source sheet from its
// column headers. Header order does not matter; spelling and spacing are
// normalized so cosmetic edits keep the same signature.
func Signature(columns []string) string {
	normalized := make([]string, 0, len(columns))
	for _, c := range columns {
		c = strings.ToLower(strings.Join(strings.Fields(c), " "))
		if c != "" {
			normalized = append(normalized, c)
		}
	}
	sort.Strings(normalized)
	sum := sha256.Sum256([]byte(strings.Join(normalized, "\x00")))
	return hex.EncodeToString(sum[:])
}

// Library is the store-backed plan memory.
type Library struct {
	store stores.Store
}

// New builds a library over a store.
func New(store stores.Store) *Library {
	return &Library{store: store}
}

// Match is a remembered plan together with its earned confidence.
type Match struct {
	Plan       *plan.Plan
	Confidence float64
	Signature  string
}

// Lookup finds a remembered plan for the signature and schema. Returns nil
// with no error when nothing is remembered.
func (l *Library) Lookup(ctx context.Context, signature, schemaName string) (*Match, error) {
	rec, err := l.store.GetPattern(ctx, signature, schemaName)
	if err != nil {
		return nil, fmt.Errorf("library lookup: %w", err)
	}
	if rec == nil {
		return nil, nil
	}
	p, err := plan.Unmarshal([]byte(rec.PlanJSON))
	if err != nil {
		return nil, fmt.Errorf("library holds corrupt plan for %s: %w", signature, err)
	}
	p.CreatedBy = "library"
	p.Confidence = rampedConfidence(rec.Successes, rec.Uses)
	return &Match{Plan: p, Confidence: p.Confidence, Signature: signature}, nil
}

// Remember stores a plan that just executed successfully.
func (l *Library) Remember(ctx context.Context, signature string, p *plan.Plan) error {
	data, err := p.Marshal()
	if err != nil {
		return fmt.Errorf("library remember: %w", err)
	}
	existing, err := l.store.GetPattern(ctx, signature, p.SchemaName)
	if err != nil {
		return fmt.Errorf("library remember: %w", err)
	}
	rec := &stores.PatternRecord{
		Signature:  signature,
		SchemaName: p.SchemaName,
		PlanJSON:   string(data),
		Uses:       1,
		Successes:  1,
		LastUsedAt: time.Now().UTC(),
	}
	if existing != nil {
		rec.Uses = existing.Uses + 1
		rec.Successes = existing.Successes + 1
		rec.CreatedAt = existing.CreatedAt
	}
	if err := l.store.UpsertPattern(ctx, rec); err != nil {
		return fmt.Errorf("library remember: %w", err)
	}
	return nil
}

// RecordOutcome bumps a remembered plan's counters after a replay.
func (l *Library) RecordOutcome(ctx context.Context, signature, schemaName string, success bool) error {
	return l.store.RecordPatternUse(ctx, signature, schemaName, success)
}

// rampedConfidence converts a pattern's track record into plan confidence.
// Failures drag the ramp back down: only net successes count.
func rampedConfidence(successes, uses int) float64 {
	failures := uses - successes
	net := successes - failures
	if net < 0 {
		net = 0
	}
	c := baseConfidence + stepConfidence*float64(net)
	if c > maxConfidence {
		c = maxConfidence
	}
	return c
}
