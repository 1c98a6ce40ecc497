package domain

import (
	"context"
	"time"
)

// EvidenceRetriever looks up literature passages for a consultation.
// Zero passages is a normal result, not an error.
type EvidenceRetriever interface {
	Available() bool
	Search(ctx context.Context, query string) (*EvidenceResult, error)
}

// EvidenceCache stores retrieval results keyed by query.
type EvidenceCache interface {
	Get(ctx context.Context, query string) (*EvidenceResult, bool, error)
	Set(ctx context.Context, query string, result *EvidenceResult) error
}

// PassageReader asks a language model which stage the retrieved passages
// support for the queried patient. The answer is free text.
type PassageReader interface {
	Answer(ctx context.Context, query string, passages []string) (string, error)
}

// AuditRecord is one persisted consultation. Only Case 1 and Case 2 results
// are recorded.
type AuditRecord struct {
	ID             int64      `json:"id,omitempty"`
	ConsultationID string     `json:"consultation_id"`
	Timestamp      time.Time  `json:"timestamp"`
	Creatinine     *float64   `json:"creatinine"`
	SDMA           *float64   `json:"sdma"`
	CandidateStage *IRISStage `json:"candidate_stage"`
	ReferenceStage *IRISStage `json:"reference_stage"` // literature or rule derived
	FinalStage     *IRISStage `json:"final_stage"`
	Validation     *bool      `json:"validation"`
	Case           Case       `json:"case"`
	Confidence     Confidence `json:"confidence"`
	Question       string     `json:"question"`
	Answer         string     `json:"answer"`
	EvidenceDocs   int        `json:"evidence_docs"`
	RuleApplied    string     `json:"rule_applied"`
	Elderly        bool       `json:"elderly"`
	SubstageAP     string     `json:"subestage_ap,omitempty"`
	SubstageHT     string     `json:"subestage_ht,omitempty"`
}

// AuditLog is the append-only consultation journal.
type AuditLog interface {
	Append(ctx context.Context, record *AuditRecord) error
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	GetRetrievalConfig() *RetrievalConfig
	GetLLMConfig() LLMConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
