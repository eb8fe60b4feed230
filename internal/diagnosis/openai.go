package diagnosis

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/catherinevee/remedymgr/internal/errors"
	"github.com/catherinevee/remedymgr/internal/logger"
	"github.com/catherinevee/remedymgr/internal/models"
)

const systemPrompt = "You are an infrastructure remediation assistant. " +
	"You analyse monitoring incidents on DigitalOcean resources and propose " +
	"terraform-based fixes. Be specific and conservative."

// OpenAIProvider diagnoses incidents with a chat-completion model,
// falling back to the rule table when the API is unavailable.
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	temperature float32
	limiter     *rate.Limiter
	kb          *KnowledgeBase
	fallback    *RuleProvider
	log         logger.Logger
}

// OpenAIOptions configures an OpenAIProvider.
type OpenAIOptions struct {
	APIKey         string
	Model          string
	Temperature    float64
	RequestsPerMin int
	KnowledgeBase  *KnowledgeBase
	Fallback       *RuleProvider
}

// NewOpenAIProvider builds a provider from opts. The API key is
// required; everything else has defaults.
func NewOpenAIProvider(opts OpenAIOptions) (*OpenAIProvider, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if opts.Model == "" {
		opts.Model = "gpt-4o-mini"
	}
	if opts.RequestsPerMin <= 0 {
		opts.RequestsPerMin = 20
	}
	if opts.KnowledgeBase == nil {
		opts.KnowledgeBase = &KnowledgeBase{}
	}

	return &OpenAIProvider{
		client:      openai.NewClient(opts.APIKey),
		model:       opts.Model,
		temperature: float32(opts.Temperature),
		limiter:     rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMin)/60), 1),
		kb:          opts.KnowledgeBase,
		fallback:    opts.Fallback,
		log:         logger.New("diagnosis.openai"),
	}, nil
}

// Diagnose asks the model for a structured root-cause analysis and
// scores its confidence against knowledge-base support and state
// completeness.
func (p *OpenAIProvider) Diagnose(ctx context.Context, incident *models.Incident) (*models.Diagnosis, error) {
	matches := p.kb.Match(describeIncident(incident))

	state := map[string]interface{}{
		"resource_type":   string(incident.ResourceType),
		"affected_metric": string(incident.Metric),
	}
	if size, ok := incident.Metadata["size"]; ok {
		state["current_size"] = size
	}

	text, err := p.complete(ctx, buildDiagnosisPrompt(incident, matches, state))
	if err != nil {
		if p.fallback != nil {
			p.log.Warn("Model call failed, using rule fallback",
				logger.String("incident_id", incident.ID), logger.Err(err))
			return p.fallback.Diagnose(ctx, incident)
		}
		return nil, err
	}

	parsed := parseDiagnosisText(text)

	d := models.NewDiagnosis(incident.ID)
	d.RootCause = parsed.rootCause
	d.RootCauseCategory = parsed.category
	d.Reasoning = parsed.reasoning
	d.Recommendations = parsed.recommendations
	d.Confidence = scoreConfidence(matches, state, text)
	d.Metadata["resource_id"] = incident.ResourceID
	d.Metadata["resource_name"] = incident.ResourceName
	d.Metadata["provider"] = "openai"
	d.Metadata["model"] = p.model

	for _, m := range matches {
		d.Evidence = append(d.Evidence, fmt.Sprintf("knowledge base: %s (relevance %.2f)", m.Source, m.Relevance))
	}

	cost, duration := estimateRemediation(incident.Metric)
	d.EstimatedCost = &cost
	d.EstimatedDuration = &duration

	p.log.Info("Diagnosis complete",
		logger.String("incident_id", incident.ID),
		logger.String("root_cause", d.RootCause),
		logger.Float64("confidence", d.Confidence),
	)
	return d, nil
}

// Plan asks the model for a remediation plan and extracts the action,
// parameters, and approval requirement from the response.
func (p *OpenAIProvider) Plan(ctx context.Context, diagnosis *models.Diagnosis) (*models.RemediationPlan, error) {
	prompt := fmt.Sprintf(`Based on this diagnosis:

Root Cause: %s
Category: %s
Confidence: %.2f
Recommendations: %s

Generate a detailed remediation plan with:
1. Specific action to take
2. Safety checks required
3. Rollback plan
4. Terraform configuration (if applicable)

Be specific and actionable.`,
		diagnosis.RootCause, diagnosis.RootCauseCategory, diagnosis.Confidence,
		strings.Join(diagnosis.Recommendations, ", "))

	planText, err := p.complete(ctx, prompt)
	if err != nil {
		if p.fallback != nil {
			return p.fallback.Plan(ctx, diagnosis)
		}
		return nil, err
	}

	action := determineAction(diagnosis.RootCauseCategory, planText)

	plan := models.NewRemediationPlan(diagnosis.ID, diagnosis.IncidentID)
	plan.Action = action
	plan.Description = truncate(planText, 500)
	plan.Parameters = extractParameters(planText, diagnosis)
	plan.SafetyChecks = defaultSafetyChecks()
	plan.Rollback = defaultRollback()
	plan.EstimatedCost = diagnosis.EstimatedCost
	plan.EstimatedDuration = diagnosis.EstimatedDuration

	fillActionDefaults(plan)

	plan.RequiresApproval = (diagnosis.EstimatedCost != nil && *diagnosis.EstimatedCost > 50.0) ||
		action == models.ActionUpdateFirewall

	return plan, nil
}

// GenerateChangeDocument asks the model for a terraform document and
// sanitizes the response, falling back to the built-in templates.
func (p *OpenAIProvider) GenerateChangeDocument(ctx context.Context, plan *models.RemediationPlan) (string, error) {
	prompt := fmt.Sprintf(`Generate a complete Terraform configuration for this remediation action:

Action: %s
Parameters: %v

Output only the Terraform configuration, no commentary.`, plan.Action, plan.Parameters)

	text, err := p.complete(ctx, prompt)
	if err != nil {
		if p.fallback != nil {
			return p.fallback.GenerateChangeDocument(ctx, plan)
		}
		return "", err
	}

	doc := Sanitize(text)
	if doc == "" {
		doc = renderChangeDocument(plan)
	}
	return doc, nil
}

func (p *OpenAIProvider) complete(ctx context.Context, prompt string) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", errors.NewTransient("rate_limit_wait", err)
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: p.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", errors.NewTransient("chat_completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New(errors.ErrorTypeTransient, "chat_completion", "model returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func buildDiagnosisPrompt(incident *models.Incident, matches []KnowledgeMatch, state map[string]interface{}) string {
	var kbContext strings.Builder
	if len(matches) == 0 {
		kbContext.WriteString("No similar past incidents found.")
	} else {
		for i, m := range matches {
			fmt.Fprintf(&kbContext, "Knowledge Base Entry %d:\n%s\n\n", i+1, m.Content)
		}
	}

	var stateLines strings.Builder
	for key, value := range state {
		fmt.Fprintf(&stateLines, "- %s: %v\n", key, value)
	}

	return fmt.Sprintf(`Analyze this infrastructure incident and provide a detailed diagnosis:

INCIDENT DETAILS:
- Resource: %s (%s)
- Metric: %s
- Current Value: %.2f%%
- Threshold: %.2f%%
- Severity: %s
- Description: %s

CURRENT INFRASTRUCTURE STATE:
%s
KNOWLEDGE BASE CONTEXT:
%s

Provide your diagnosis in this format:

ROOT CAUSE: [One sentence describing the root cause]
CATEGORY: [capacity/performance/configuration/security/other]
REASONING: [Detailed explanation of how you reached this conclusion]
RECOMMENDATIONS: [Numbered list of 2-3 specific actionable recommendations]`,
		incident.ResourceName, incident.ResourceType, incident.Metric,
		incident.CurrentValue, incident.ThresholdValue, incident.Severity,
		incident.Description, stateLines.String(), kbContext.String())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
