package diagnosis

import "strings"

var (
	certaintyIndicators   = []string{"definitely", "clearly", "obviously", "certainly", "confirmed"}
	uncertaintyIndicators = []string{"possibly", "might", "maybe", "unclear", "uncertain"}
)

// scoreConfidence combines knowledge-base support, infrastructure state
// completeness, and certainty language in the analysis text:
//
//	confidence = 0.4*kb + 0.3*state + 0.3*certainty
func scoreConfidence(matches []KnowledgeMatch, state map[string]interface{}, analysisText string) float64 {
	kbScore := 0.3
	if len(matches) > 0 {
		var total float64
		for _, m := range matches {
			total += m.Relevance
		}
		avgRelevance := total / float64(len(matches))
		matchFactor := float64(len(matches)) / 3
		if matchFactor > 1 {
			matchFactor = 1
		}
		kbScore = avgRelevance*0.7 + matchFactor*0.3
	}

	requiredFields := []string{"resource_type", "current_size", "affected_metric"}
	present := 0
	for _, field := range requiredFields {
		if v, ok := state[field]; ok && v != nil && v != "" {
			present++
		}
	}
	stateScore := float64(present) / float64(len(requiredFields))

	lower := strings.ToLower(analysisText)
	certain, uncertain := 0, 0
	for _, word := range certaintyIndicators {
		if strings.Contains(lower, word) {
			certain++
		}
	}
	for _, word := range uncertaintyIndicators {
		if strings.Contains(lower, word) {
			uncertain++
		}
	}
	aiScore := 0.6
	if certain+uncertain > 0 {
		aiScore = float64(certain) / float64(certain+uncertain)
	}

	confidence := 0.4*kbScore + 0.3*stateScore + 0.3*aiScore
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}
