package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/iris-ckd-mcp-server/internal/audit"
	"github.com/iris-ckd-mcp-server/internal/domain"
)

// MarkersInput carries the two kidney function markers.
type MarkersInput struct {
	Creatinine *float64 `json:"creatinine,omitempty" jsonschema:"serum creatinine in mg/dL"`
	SDMA       *float64 `json:"sdma,omitempty" jsonschema:"symmetric dimethylarginine in µg/dL"`
}

// SubstagesInput carries the sub-staging measurements.
type SubstagesInput struct {
	UPC      *float64 `json:"upc,omitempty" jsonschema:"urine protein to creatinine ratio"`
	Pressure *float64 `json:"pressure,omitempty" jsonschema:"systolic blood pressure in mmHg"`
}

// ValidateInput asks the rule validator to judge a proposed stage.
type ValidateInput struct {
	Creatinine     *float64 `json:"creatinine,omitempty" jsonschema:"serum creatinine in mg/dL"`
	SDMA           *float64 `json:"sdma,omitempty" jsonschema:"symmetric dimethylarginine in µg/dL"`
	CandidateStage string   `json:"candidate_stage,omitempty" jsonschema:"proposed stage, IRIS1 to IRIS4"`
	Abstained      bool     `json:"abstained,omitempty" jsonschema:"set when the proposer declined to give a stage"`
}

// ConsultInput is a full clinical form.
type ConsultInput struct {
	Name          string   `json:"name,omitempty" jsonschema:"patient name"`
	Breed         string   `json:"breed,omitempty"`
	Sex           string   `json:"sex,omitempty" jsonschema:"M or F"`
	Age           *float64 `json:"age,omitempty" jsonschema:"age in years"`
	Weight        *float64 `json:"weight,omitempty" jsonschema:"body weight in kg"`
	Creatinine    *float64 `json:"creatinine,omitempty" jsonschema:"serum creatinine in mg/dL"`
	SDMA          *float64 `json:"sdma,omitempty" jsonschema:"symmetric dimethylarginine in µg/dL"`
	UPC           *float64 `json:"upc,omitempty" jsonschema:"urine protein to creatinine ratio"`
	Pressure      *float64 `json:"pressure,omitempty" jsonschema:"systolic blood pressure in mmHg"`
	Symptoms      string   `json:"symptoms,omitempty"`
	Comorbidities string   `json:"comorbidities,omitempty"`
	Question      string   `json:"question,omitempty" jsonschema:"free text clinical question"`
}

// SimilarInput looks up past consultations near a pair of marker values.
type SimilarInput struct {
	Creatinine float64 `json:"creatinine" jsonschema:"serum creatinine in mg/dL"`
	SDMA       float64 `json:"sdma" jsonschema:"symmetric dimethylarginine in µg/dL"`
	Tolerance  float64 `json:"tolerance,omitempty" jsonschema:"relative tolerance, default 0.3"`
	Limit      int     `json:"limit,omitempty" jsonschema:"maximum records, default 10"`
}

func (s *LiteServer) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "classify_stage",
		Description: "Stage feline chronic kidney disease (IRIS 1-4) from creatinine and SDMA",
	}, s.classifyStage)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "classify_substages",
		Description: "Proteinuria and hypertension IRIS sub-stages from UPC and systolic pressure",
	}, s.classifySubstages)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "validate_stage",
		Description: "Check a proposed IRIS stage against the creatinine and SDMA rules",
	}, s.validateStage)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "consult",
		Description: "Run a full staging consultation: stage, sub-stages, validation, literature and treatment plan",
	}, s.consult)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "audit_stats",
		Description: "Aggregate statistics over past consultations",
	}, s.auditStats)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "audit_similar",
		Description: "Past consultations with creatinine and SDMA close to the given values",
	}, s.auditSimilar)

	s.logger.WithField("tool_count", 6).Debug("Registered MCP tools")
}

func (s *LiteServer) classifyStage(_ context.Context, _ *mcp.CallToolRequest, in MarkersInput) (*mcp.CallToolResult, any, error) {
	if err := domain.CheckMarkers(in.Creatinine, in.SDMA, nil, nil); err != nil {
		return nil, nil, err
	}
	return jsonResult(s.service.ClassifyStage(in.Creatinine, in.SDMA))
}

func (s *LiteServer) classifySubstages(_ context.Context, _ *mcp.CallToolRequest, in SubstagesInput) (*mcp.CallToolResult, any, error) {
	if err := domain.CheckMarkers(nil, nil, in.UPC, in.Pressure); err != nil {
		return nil, nil, err
	}
	return jsonResult(s.service.ClassifySubstages(in.UPC, in.Pressure))
}

func (s *LiteServer) validateStage(_ context.Context, _ *mcp.CallToolRequest, in ValidateInput) (*mcp.CallToolResult, any, error) {
	if err := domain.CheckMarkers(in.Creatinine, in.SDMA, nil, nil); err != nil {
		return nil, nil, err
	}
	var candidate *domain.IRISStage
	if in.CandidateStage != "" {
		stage, err := domain.ParseIRISStage(in.CandidateStage)
		if err != nil {
			return nil, nil, err
		}
		candidate = &stage
	}
	return jsonResult(s.service.ValidateStage(in.Creatinine, in.SDMA, candidate, in.Abstained))
}

func (s *LiteServer) consult(ctx context.Context, _ *mcp.CallToolRequest, in ConsultInput) (*mcp.CallToolResult, any, error) {
	resp, err := s.service.Consult(ctx, in.request())
	if err != nil {
		return nil, nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"consultation_id": resp.Result.ConsultationID,
		"case":            int(resp.Result.Case),
	}).Debug("consult tool completed")

	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: resp.Text}},
		StructuredContent: resp,
	}, nil, nil
}

func (s *LiteServer) auditStats(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	stats, err := s.auditStore.Stats(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to aggregate audit records: %w", err)
	}
	return jsonResult(stats)
}

func (s *LiteServer) auditSimilar(ctx context.Context, _ *mcp.CallToolRequest, in SimilarInput) (*mcp.CallToolResult, any, error) {
	if in.Creatinine <= 0 || in.SDMA <= 0 {
		return nil, nil, fmt.Errorf("creatinine and sdma must be positive")
	}
	tolerance := in.Tolerance
	if tolerance <= 0 {
		tolerance = audit.DefaultSimilarityTolerance
	}
	limit := in.Limit
	if limit <= 0 {
		limit = 10
	}

	records, err := s.auditStore.Similar(ctx, in.Creatinine, in.SDMA, tolerance, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query similar cases: %w", err)
	}
	if records == nil {
		records = []*domain.AuditRecord{}
	}
	return jsonResult(struct {
		Records   []*domain.AuditRecord `json:"records"`
		Tolerance float64               `json:"tolerance"`
	}{records, tolerance})
}

// request converts the tool arguments into the form the input parser expects.
func (in ConsultInput) request() domain.ConsultationRequest {
	return domain.ConsultationRequest{
		Form: domain.RawForm{
			Name:          in.Name,
			Breed:         in.Breed,
			Sex:           in.Sex,
			Age:           labValue(in.Age),
			Weight:        labValue(in.Weight),
			Creatinine:    labValue(in.Creatinine),
			SDMA:          labValue(in.SDMA),
			UPC:           labValue(in.UPC),
			Pressure:      labValue(in.Pressure),
			Symptoms:      in.Symptoms,
			Comorbidities: in.Comorbidities,
		},
		Question: in.Question,
	}
}

func labValue(f *float64) domain.LabValue {
	if f == nil {
		return ""
	}
	return domain.LabValue(strconv.FormatFloat(*f, 'f', -1, 64))
}

// jsonResult returns v both as indented text and as structured content.
func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: string(data)}},
		StructuredContent: json.RawMessage(data),
	}, nil, nil
}
