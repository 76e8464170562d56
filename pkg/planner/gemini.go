package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/sheetforge/sheetforge/pkg/plan"
	"github.com/sheetforge/sheetforge/pkg/registry"
	"github.com/sheetforge/sheetforge/pkg/schema"
)

// GeminiConfig configures the LLM planner.
type GeminiConfig struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string
}

// Gemini proposes plans with a Gemini model constrained to a structured
// JSON response. The model only ever chooses among registered functions;
// the validator re-checks everything it emits.
type Gemini struct {
	client   *genai.Client
	model    string
	registry *registry.Registry
}

// NewGemini builds the LLM planner.
func NewGemini(ctx context.Context, cfg GeminiConfig, reg *registry.Registry) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("GEMINI_MODEL is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	return &Gemini{
		client:   client,
		model:    strings.TrimSpace(cfg.Model),
		registry: reg,
	}, nil
}

// planSchema constrains the model to the plan document shape.
var planSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"confidence": {Type: genai.TypeNumber},
		"notes":      {Type: genai.TypeString},
		"mappings": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"source":       {Type: genai.TypeString},
					"target":       {Type: genai.TypeString},
					"action":       {Type: genai.TypeString},
					"transform_id": {Type: genai.TypeString},
				},
				Required: []string{"source", "action"},
			},
		},
		"transformations": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"id":             {Type: genai.TypeString},
					"function":       {Type: genai.TypeString},
					"input_columns":  {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
					"output_columns": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
					"params":         {Type: genai.TypeObject},
				},
				Required: []string{"id", "function", "input_columns", "output_columns"},
			},
		},
		"enrichments": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"id":             {Type: genai.TypeString},
					"provider":       {Type: genai.TypeString},
					"key_column":     {Type: genai.TypeString},
					"output_columns": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
					"strategy":       {Type: genai.TypeString},
				},
				Required: []string{"id", "provider", "key_column", "output_columns"},
			},
		},
	},
	Required: []string{"confidence", "mappings"},
}

// Propose implements Planner.
func (g *Gemini) Propose(ctx context.Context, analysis *Analysis, sch *schema.Schema, feedback []string) (*plan.Plan, error) {
	prompt, err := g.buildPrompt(analysis, sch, feedback)
	if err != nil {
		return nil, err
	}

	resp, err := g.client.Models.GenerateContent(
		ctx,
		g.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			CandidateCount:   1,
			ResponseMIMEType: "application/json",
			ResponseSchema:   planSchema,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("gemini planner: %w", err)
	}

	proposal, err := plan.Unmarshal([]byte(resp.Text()))
	if err != nil {
		return nil, fmt.Errorf("gemini planner: bad plan document: %w", err)
	}
	out := plan.New(sch.Name, "llm")
	out.Confidence = proposal.Confidence
	out.Mappings = proposal.Mappings
	out.Transformations = proposal.Transformations
	out.Enrichments = proposal.Enrichments
	out.Notes = proposal.Notes
	return out, nil
}

// Generate implements the registry's AI fallback: one free-form value per
// cell. The interface carries no context, so calls use a bounded background
// context.
func (g *Gemini) Generate(prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := g.client.Models.GenerateContent(
		ctx,
		g.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{CandidateCount: 1},
	)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

func (g *Gemini) buildPrompt(analysis *Analysis, sch *schema.Schema, feedback []string) (string, error) {
	profile, err := json.MarshalIndent(analysis, "", "  ")
	if err != nil {
		return "", err
	}
	target, err := json.MarshalIndent(sch, "", "  ")
	if err != nil {
		return "", err
	}

	var catalog strings.Builder
	for _, spec := range g.registry.List() {
		fmt.Fprintf(&catalog, "- %s (%d in, %d out): %s\n", spec.ID, spec.InputArity, spec.OutputArity, spec.Summary)
		for _, p := range spec.Params {
			fmt.Fprintf(&catalog, "    param %s (%s", p.Name, p.Kind)
			if p.Required {
				catalog.WriteString(", required")
			}
			if len(p.Enum) > 0 {
				fmt.Fprintf(&catalog, ", one of %s", strings.Join(p.Enum, "|"))
			}
			catalog.WriteString(")\n")
		}
	}

	var b strings.Builder
	b.WriteString(`You are a spreadsheet transformation planner. Map the profiled source sheet onto the target schema using ONLY the functions in the catalog below.

Rules:
- Every source column gets exactly one mapping: direct, transform, or drop.
- A transform mapping names the step (transform_id) that consumes the column.
- Steps run in list order; a step may read columns produced by earlier steps.
- Bind exactly as many output_columns as the function's declared output count.
- Date-parsing steps must declare ambiguity_preference explicitly.
- The only enrichment provider is "pincode" (key: six-digit Indian pincode; outputs: city, state, country).
- Set confidence in [0,1] honestly: lower it when header meanings are guesses.

Function catalog:
`)
	b.WriteString(catalog.String())
	b.WriteString("\nTarget schema:\n")
	b.Write(target)
	b.WriteString("\n\nSource profile:\n")
	b.Write(profile)
	if len(feedback) > 0 {
		b.WriteString("\n\nYour previous plan was rejected. Fix these findings:\n")
		for _, f := range feedback {
			b.WriteString("- " + f + "\n")
		}
	}
	return b.String(), nil
}
