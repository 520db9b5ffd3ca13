package activities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/fraware/self-healing-ci/pkg/selfheal"
)

// AnthropicDiagnoser is the reference Diagnoser implementation: it hands
// the assembled FailureReport to a Claude model and parses the model's
// JSON reply into a DiagnoserResponse. This is the one collaborator the
// specification treats as "LLM-backed" (§1); every other activity client
// in this package talks to a conventional RPC endpoint instead.
type AnthropicDiagnoser struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicDiagnoser builds a Diagnoser backed by the Anthropic API.
func NewAnthropicDiagnoser(apiKey string, model anthropic.Model) *AnthropicDiagnoser {
	return &AnthropicDiagnoser{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (d *AnthropicDiagnoser) Diagnose(ctx context.Context, req selfheal.DiagnoserRequest) (selfheal.DiagnoserResponse, error) {
	prompt, err := buildDiagnoserPrompt(req)
	if err != nil {
		return selfheal.DiagnoserResponse{}, selfheal.New(selfheal.KindInternal, "failed to build diagnoser prompt", err)
	}

	msg, err := d.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     d.model,
		MaxTokens: 2048,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return selfheal.DiagnoserResponse{}, classifyAnthropicErr(err)
	}

	var resp selfheal.DiagnoserResponse
	text := concatTextBlocks(msg)
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return selfheal.DiagnoserResponse{}, selfheal.New(selfheal.KindInvalidInput, "diagnoser reply was not valid JSON", err)
	}
	if err := ValidateDiagnoserResponse(resp); err != nil {
		return selfheal.DiagnoserResponse{}, err
	}
	return resp, nil
}

func buildDiagnoserPrompt(req selfheal.DiagnoserRequest) (string, error) {
	reportJSON, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`You are triaging a failing continuous-integration run. Given the failure report and any prior attempts below, respond with ONLY a JSON object matching {"rootCause": one of DEP_UPGRADE|API_CHANGE|FLAKY_TEST|CONFIG_ERROR|ENV_ISSUE|PERMISSION_ERROR|TIMEOUT|UNKNOWN, "confidence": number 0-1, "patch": optional unified diff string, "explanation": string, "suggestedActions": optional string array, "estimatedFixMinutes": optional int}.

%s`, reportJSON), nil
}

func concatTextBlocks(msg *anthropic.Message) string {
	var out string
	for _, block := range msg.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out
}

func classifyAnthropicErr(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429:
			return selfheal.New(selfheal.KindRateLimited, "anthropic rate limited", err)
		case 500, 502, 503, 504:
			return selfheal.New(selfheal.KindTransient, "anthropic server error", err)
		default:
			return selfheal.New(selfheal.KindInvalidInput, "anthropic request rejected", err)
		}
	}
	return selfheal.New(selfheal.KindTransient, "anthropic call failed", err)
}
