package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/iris-ckd-mcp-server/internal/domain"
	"github.com/iris-ckd-mcp-server/internal/service"
)

// Resource URIs
const (
	stagingTableURI   = "iris://staging/table"
	treatmentTemplate = "iris://treatment/{stage}"
	treatmentPrefix   = "iris://treatment/"
)

// stagingTableEntry is one row of the published staging table.
type stagingTableEntry struct {
	Stage       domain.IRISStage `json:"stage"`
	Description string           `json:"description"`
	Creatinine  string           `json:"creatinine_mg_dl"`
	SDMA        string           `json:"sdma_ug_dl"`
}

type stagingTable struct {
	Stages        []stagingTableEntry `json:"stages"`
	Proteinuria   map[string]string   `json:"proteinuria_upc"`
	Hypertension  map[string]string   `json:"hypertension_mmhg"`
	Discrepancies string              `json:"discrepancies"`
}

func (s *LiteServer) registerResources() {
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         stagingTableURI,
		Name:        "iris_staging_table",
		Title:       "IRIS staging table",
		Description: "Creatinine and SDMA bands for IRIS stages 1-4 with sub-stage thresholds",
		MIMEType:    "application/json",
	}, s.readStagingTable)

	s.mcpServer.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: treatmentTemplate,
		Name:        "iris_treatment_plan",
		Title:       "Treatment plan by stage",
		Description: "Recommended management for one IRIS stage, e.g. iris://treatment/IRIS3",
		MIMEType:    "application/json",
	}, s.readTreatmentPlan)
}

func (s *LiteServer) readStagingTable(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	table := stagingTable{
		Proteinuria: map[string]string{
			string(domain.AP0): "< 0.2",
			string(domain.AP1): "0.2 - 0.4",
			string(domain.AP2): "> 0.4",
		},
		Hypertension: map[string]string{
			string(domain.HT0): "< 140",
			string(domain.HT1): "140 - 159",
			string(domain.HT2): "160 - 179",
			string(domain.HT3): ">= 180",
		},
		Discrepancies: "A one stage difference between creatinine and SDMA is resolved to the higher stage; two or more is not staged.",
	}
	for _, band := range service.Bands {
		table.Stages = append(table.Stages, stagingTableEntry{
			Stage:       band.Stage,
			Description: band.Stage.Description(),
			Creatinine:  band.CreatinineRange,
			SDMA:        band.SDMARange,
		})
	}
	return jsonResource(req.Params.URI, table)
}

func (s *LiteServer) readTreatmentPlan(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	stage, err := domain.ParseIRISStage(strings.TrimPrefix(uri, treatmentPrefix))
	if err != nil {
		return nil, mcp.ResourceNotFoundError(uri)
	}
	return jsonResource(uri, map[string]interface{}{
		"stage":          stage,
		"description":    stage.Description(),
		"treatment_plan": service.TreatmentPlan(&stage),
	})
}

func jsonResource(uri string, v interface{}) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode resource: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}
