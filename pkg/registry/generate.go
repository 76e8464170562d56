package registry

import (
	"fmt"
	"strings"

	"github.com/sheetforge/sheetforge/pkg/table"
)

// aiGenerateSpec is the only non-deterministic function in the catalog. It
// renders a prompt template per cell and asks the configured generator for a
// value. With no generator wired the call fails per cell rather than
// aborting the step.
func aiGenerateSpec(g Generator) *FunctionSpec {
	return &FunctionSpec{
		ID:          "AI_GENERATE",
		Summary:     "Generate a value per cell from a prompt template via the configured model",
		InputArity:  1,
		OutputArity: 1,
		Params: []ParamSpec{
			{Name: "prompt_template", Kind: ParamString, Required: true},
		},
		Deterministic: false,
		fn: func(c Call) ([]table.Value, error) {
			in := c.Inputs[0]
			if g == nil {
				return nil, FailParse("AI_GENERATE: no generator configured")
			}
			prompt := strings.ReplaceAll(c.Str("prompt_template"), "{value}", in.Text())
			for col, v := range c.Row {
				prompt = strings.ReplaceAll(prompt, "{"+col+"}", v.Text())
			}
			out, err := g.Generate(prompt)
			if err != nil {
				return nil, FailParse(fmt.Sprintf("AI_GENERATE: %v", err))
			}
			return []table.Value{table.String(strings.TrimSpace(out))}, nil
		},
	}
}
