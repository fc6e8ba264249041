package analysis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/BoweryJG/clearverify-patient/pkg/anthropic"
)

// Advisor proposes CSS selectors for login fields the catalog missed.
// Suggestions are keyed by catalog field name.
type Advisor interface {
	SuggestSelectors(ctx context.Context, pageURL, formHTML string) (map[string]string, error)
}

const advisorSystemPrompt = `You locate login form fields on insurance member portals.
Given the HTML of a login page, answer with a single JSON object mapping field
names to one CSS selector each. Allowed field names: username, password,
submit, dob, memberId, ssn, zipCode, continueBtn. Omit fields the page does not
have. Prefer id selectors, then name attributes. Answer with JSON only.`

// LLMAdvisor asks Claude for login selectors.
type LLMAdvisor struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewLLMAdvisor creates an advisor that sends requests through client.
func NewLLMAdvisor(client anthropic.Client, model string, maxTokens int64) *LLMAdvisor {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &LLMAdvisor{client: client, model: model, maxTokens: maxTokens}
}

func (a *LLMAdvisor) SuggestSelectors(ctx context.Context, pageURL, formHTML string) (map[string]string, error) {
	temp := 0.0
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		System:      anthropic.BuildCachedSystemBlocks(advisorSystemPrompt),
		Temperature: &temp,
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: fmt.Sprintf("Portal URL: %s\n\nHTML:\n%s", pageURL, formHTML),
		}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "analysis: advisor request")
	}
	resp.Usage.LogCost(a.model, "selector_advice")

	var suggested map[string]string
	if err := json.Unmarshal([]byte(anthropic.CleanJSON(anthropic.Text(resp))), &suggested); err != nil {
		return nil, eris.Wrap(err, "analysis: parse advisor answer")
	}
	return suggested, nil
}
