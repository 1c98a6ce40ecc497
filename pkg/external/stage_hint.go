package external

import (
	"regexp"
	"strings"

	"github.com/iris-ckd-mcp-server/internal/domain"
)

// Ordered from most to least specific; the first match wins.
var stageHintPatterns = []*regexp.Regexp{
	regexp.MustCompile(`IRIS\s*STAGE\s*([1-4])\b`),
	regexp.MustCompile(`IRIS\s*([1-4])\b`),
	regexp.MustCompile(`\bSTAGE\s*([1-4])\b`),
}

// ExtractStageHint pulls an IRIS stage out of free text such as a model
// answer. It returns nil when the text names no stage, which is also how an
// abstaining answer ("not sufficient context") reads.
func ExtractStageHint(text string) *domain.IRISStage {
	upper := strings.ToUpper(text)
	for _, pattern := range stageHintPatterns {
		m := pattern.FindStringSubmatch(upper)
		if m == nil {
			continue
		}
		stage, err := domain.ParseIRISStage(m[1])
		if err != nil {
			continue
		}
		return &stage
	}
	return nil
}
