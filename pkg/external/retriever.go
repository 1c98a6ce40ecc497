package external

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/iris-ckd-mcp-server/internal/domain"
)

// felineCKDTerm restricts PubMed to feline chronic kidney disease staging.
// The lab values in the consultation query only reach the passage reader.
const felineCKDTerm = `(cats[MeSH Terms] OR feline[tiab]) AND ` +
	`("renal insufficiency, chronic"[MeSH Terms] OR "chronic kidney disease"[tiab]) AND ` +
	`(IRIS[tiab] OR SDMA[tiab] OR creatinine[tiab])`

const maxPassageLength = 2000

// LiteratureRetriever implements domain.EvidenceRetriever on top of PubMed.
// Passages are article abstracts. When a reader is configured it is asked
// which stage the passages support and its answer becomes the stage hint.
type LiteratureRetriever struct {
	client *PubMedClient
	reader domain.PassageReader
	logger *logrus.Logger
}

// NewLiteratureRetriever creates a retriever. reader may be nil, in which
// case results never carry a stage hint.
func NewLiteratureRetriever(client *PubMedClient, reader domain.PassageReader, logger *logrus.Logger) *LiteratureRetriever {
	return &LiteratureRetriever{
		client: client,
		reader: reader,
		logger: logger,
	}
}

// Available reports whether a PubMed client is configured.
func (r *LiteratureRetriever) Available() bool {
	return r != nil && r.client != nil
}

// Search looks up abstracts for the consultation query.
func (r *LiteratureRetriever) Search(ctx context.Context, query string) (*domain.EvidenceResult, error) {
	articles, err := r.client.Search(ctx, felineCKDTerm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCollaboratorUnavailable, err)
	}

	result := &domain.EvidenceResult{Query: query}
	for _, a := range articles {
		if a.Abstract == "" {
			continue
		}
		result.Passages = append(result.Passages, truncatePassage(a.Title+". "+a.Abstract))
		result.Sources = append(result.Sources, a.Citation())
	}

	if len(result.Passages) == 0 || r.reader == nil {
		return result, nil
	}

	answer, err := r.reader.Answer(ctx, query, result.Passages)
	if err != nil {
		r.logger.WithError(err).Warn("Passage reader failed; returning passages without a stage hint")
		return result, nil
	}
	result.Summary = answer
	result.StageHint = ExtractStageHint(answer)

	r.logger.WithFields(logrus.Fields{
		"passages":   len(result.Passages),
		"stage_hint": result.StageHint != nil,
	}).Debug("Literature retrieval completed")

	return result, nil
}

func truncatePassage(s string) string {
	runes := []rune(s)
	if len(runes) <= maxPassageLength {
		return s
	}
	return string(runes[:maxPassageLength])
}

// NoopRetriever is used when retrieval is disabled.
type NoopRetriever struct{}

// Available always reports false.
func (NoopRetriever) Available() bool { return false }

// Search returns an empty result.
func (NoopRetriever) Search(_ context.Context, query string) (*domain.EvidenceResult, error) {
	return &domain.EvidenceResult{Query: query}, nil
}
