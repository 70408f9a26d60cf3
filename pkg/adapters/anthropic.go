package adapters

import (
	"context"
	"encoding/base64"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"
)

// AnthropicJudge scores rendered diagrams and refines prompts through the
// messages API. Anthropic models do not generate images, so there is no
// matching Generator here.
type AnthropicJudge struct {
	messages *sdk.MessageService
	model    sdk.Model
}

var (
	_ Evaluator = (*AnthropicJudge)(nil)
	_ Refiner   = (*AnthropicJudge)(nil)
)

func NewAnthropicJudge(apiKey string, model string) (*AnthropicJudge, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: missing api key")
	}
	if model == "" {
		model = string(sdk.ModelClaudeSonnet4_0)
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicJudge{messages: &client.Messages, model: sdk.Model(model)}, nil
}

func (j *AnthropicJudge) Evaluate(ctx context.Context, artifact GeneratedArtifact, evalCtx EvalContext) (*Evaluation, error) {
	b64 := base64.StdEncoding.EncodeToString(artifact.Data)
	msg, err := j.messages.New(ctx, sdk.MessageNewParams{
		Model:     j.model,
		MaxTokens: 1024,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(
				sdk.NewImageBlockBase64(artifact.MediaType, b64),
				sdk.NewTextBlock(judgeInstructions(evalCtx)),
			),
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "anthropic: evaluate artifact")
	}
	text := concatTextBlocks(msg)
	if text == "" {
		return nil, errors.New("anthropic: empty evaluation response")
	}
	return parseJudgeVerdict(text, evalCtx.Rubric.ScaleMax)
}

func (j *AnthropicJudge) Refine(ctx context.Context, history []TurnSummary, currentPrompt string, latestFeedback string) (*Refinement, error) {
	msg, err := j.messages.New(ctx, sdk.MessageNewParams{
		Model:     j.model,
		MaxTokens: 1024,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(
				sdk.NewTextBlock(refinerInstructions(history, currentPrompt, latestFeedback)),
			),
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "anthropic: refine prompt")
	}
	text := concatTextBlocks(msg)
	if text == "" {
		return nil, errors.New("anthropic: empty refinement response")
	}
	return parseRefinerAnswer(text)
}

func concatTextBlocks(msg *sdk.Message) string {
	var out string
	for _, block := range msg.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out
}
