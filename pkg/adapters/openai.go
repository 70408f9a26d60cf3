package adapters

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIGenerator renders diagram images through the images API.
type OpenAIGenerator struct {
	client *openai.Client
}

// OpenAIJudge scores rendered diagrams through a multimodal chat model and
// doubles as a text-only refiner.
type OpenAIJudge struct {
	client *openai.Client
	model  string
}

var (
	_ Generator = (*OpenAIGenerator)(nil)
	_ Evaluator = (*OpenAIJudge)(nil)
	_ Refiner   = (*OpenAIJudge)(nil)
)

func NewOpenAIGenerator(apiKey string) (*OpenAIGenerator, error) {
	if apiKey == "" {
		return nil, errors.New("openai: missing api key")
	}
	return &OpenAIGenerator{client: openai.NewClient(apiKey)}, nil
}

func NewOpenAIJudge(apiKey string, model string) (*OpenAIJudge, error) {
	if apiKey == "" {
		return nil, errors.New("openai: missing api key")
	}
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAIJudge{client: openai.NewClient(apiKey), model: model}, nil
}

func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string, assets []Asset, settings GenerationSettings) (*GenerateResult, error) {
	model := settings.Model
	if model == "" {
		model = openai.CreateImageModelDallE3
	}
	size := settings.Size
	if size == "" {
		size = openai.CreateImageSize1024x1024
	}
	n := settings.VariantCount
	if n < 1 {
		n = 1
	}

	fullPrompt := prompt
	for _, a := range assets {
		// The images API accepts no attachments, so reference assets are
		// folded into the prompt by name.
		fullPrompt += fmt.Sprintf("\nIncorporate the reference asset %q.", a.Name)
	}

	// DALL-E 3 rejects n > 1, so variants come from repeated requests.
	artifacts := make([]GeneratedArtifact, 0, n)
	for i := 0; i < n; i++ {
		log.Debug().Str("model", model).Int("variant", i).Msg("openai: requesting image")
		resp, err := g.client.CreateImage(ctx, openai.ImageRequest{
			Prompt:         fullPrompt,
			Model:          model,
			N:              1,
			Size:           size,
			Quality:        settings.Quality,
			ResponseFormat: openai.CreateImageResponseFormatB64JSON,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "openai: create image variant %d", i)
		}
		for _, d := range resp.Data {
			data, err := base64.StdEncoding.DecodeString(d.B64JSON)
			if err != nil {
				return nil, errors.Wrap(err, "openai: decode image payload")
			}
			artifacts = append(artifacts, GeneratedArtifact{
				Data:      data,
				MediaType: "image/png",
			})
		}
	}
	if len(artifacts) == 0 {
		return nil, errors.Wrap(ErrNoArtifact, "openai: empty image response")
	}
	return &GenerateResult{
		Artifacts: artifacts,
		Metadata:  map[string]any{"model": model, "size": size},
	}, nil
}

func (j *OpenAIJudge) Evaluate(ctx context.Context, artifact GeneratedArtifact, evalCtx EvalContext) (*Evaluation, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s",
		artifact.MediaType, base64.StdEncoding.EncodeToString(artifact.Data))

	resp, err := j.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: j.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: judgeInstructions(evalCtx),
					},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: dataURL},
					},
				},
			},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "openai: evaluate artifact")
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty evaluation response")
	}
	return parseJudgeVerdict(resp.Choices[0].Message.Content, evalCtx.Rubric.ScaleMax)
}

func (j *OpenAIJudge) Refine(ctx context.Context, history []TurnSummary, currentPrompt string, latestFeedback string) (*Refinement, error) {
	resp, err := j.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: j.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: refinerInstructions(history, currentPrompt, latestFeedback),
			},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "openai: refine prompt")
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty refinement response")
	}
	return parseRefinerAnswer(resp.Choices[0].Message.Content)
}
