package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func (s *LiteServer) registerPrompts() {
	s.mcpServer.AddPrompt(&mcp.Prompt{
		Name:        "ckd_staging",
		Title:       "Feline CKD staging workflow",
		Description: "Walks through IRIS staging of one cat with the staging tools",
		Arguments: []*mcp.PromptArgument{
			{Name: "creatinine", Description: "serum creatinine in mg/dL"},
			{Name: "sdma", Description: "SDMA in µg/dL"},
			{Name: "upc", Description: "urine protein to creatinine ratio"},
			{Name: "pressure", Description: "systolic blood pressure in mmHg"},
			{Name: "question", Description: "clinical question to answer"},
		},
	}, s.stagingPrompt)
}

func (s *LiteServer) stagingPrompt(_ context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	args := req.Params.Arguments
	if args["creatinine"] == "" && args["sdma"] == "" {
		return nil, fmt.Errorf("creatinine or sdma is required")
	}

	var b strings.Builder
	b.WriteString("Stage this cat's chronic kidney disease by the IRIS guidelines.\n\nLaboratory values:\n")
	for _, field := range []struct{ key, label string }{
		{"creatinine", "Creatinine (mg/dL)"},
		{"sdma", "SDMA (µg/dL)"},
		{"upc", "UPC"},
		{"pressure", "Systolic pressure (mmHg)"},
	} {
		if v := args[field.key]; v != "" {
			fmt.Fprintf(&b, "- %s: %s\n", field.label, v)
		}
	}
	b.WriteString(`
Call the consult tool with these values. If creatinine and SDMA disagree by two
stages or more, report the values as inconsistent and recommend repeating the
tests instead of giving a stage. Quote the stage, sub-stages, confidence and
treatment plan exactly as returned.`)
	if q := strings.TrimSpace(args["question"]); q != "" {
		fmt.Fprintf(&b, "\n\nAlso answer: %s", q)
	}

	return &mcp.GetPromptResult{
		Description: "IRIS staging workflow",
		Messages: []*mcp.PromptMessage{{
			Role:    "user",
			Content: &mcp.TextContent{Text: b.String()},
		}},
	}, nil
}
