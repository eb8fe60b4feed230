// Package diagnosis produces root-cause analyses and remediation plans
// for detected incidents.
package diagnosis

import (
	"context"
	"strings"

	"github.com/catherinevee/remedymgr/internal/models"
)

// Provider analyses incidents and proposes remediations. Implementations
// may be slow; every method takes a context and must honor its deadline.
type Provider interface {
	Diagnose(ctx context.Context, incident *models.Incident) (*models.Diagnosis, error)
	Plan(ctx context.Context, diagnosis *models.Diagnosis) (*models.RemediationPlan, error)
	GenerateChangeDocument(ctx context.Context, plan *models.RemediationPlan) (string, error)
}

// Sanitize strips markdown fences and language markers from a generated
// change document, returning the bare configuration text.
func Sanitize(doc string) string {
	doc = strings.TrimSpace(doc)
	if !strings.Contains(doc, "```") {
		return doc
	}

	parts := strings.Split(doc, "```")
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		lower := strings.ToLower(trimmed)
		if strings.HasPrefix(lower, "hcl") || strings.HasPrefix(lower, "terraform") {
			idx := strings.IndexByte(trimmed, '\n')
			if idx < 0 {
				continue
			}
			return strings.TrimSpace(trimmed[idx+1:])
		}
		if strings.Contains(trimmed, "resource ") || strings.Contains(trimmed, "provider ") {
			return trimmed
		}
	}
	return strings.TrimSpace(strings.ReplaceAll(doc, "```", ""))
}
