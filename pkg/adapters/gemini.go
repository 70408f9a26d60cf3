package adapters

import (
	"context"
	"strings"

	genai "github.com/google/generative-ai-go/genai"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// GeminiGenerator renders diagram images through an image-capable Gemini
// model. Image parts come back inline as blobs on the candidate content.
type GeminiGenerator struct {
	client *genai.Client
}

var _ Generator = (*GeminiGenerator)(nil)

func NewGeminiGenerator(ctx context.Context, apiKey string) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: missing api key")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrap(err, "gemini: create client")
	}
	return &GeminiGenerator{client: client}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, prompt string, assets []Asset, settings GenerationSettings) (*GenerateResult, error) {
	modelName := settings.Model
	if modelName == "" {
		modelName = "gemini-2.0-flash-exp-image-generation"
	}
	model := g.client.GenerativeModel(modelName)

	parts := []genai.Part{genai.Text(prompt)}
	for _, a := range assets {
		parts = append(parts, genai.Blob{MIMEType: a.MediaType, Data: a.Data})
	}

	n := settings.VariantCount
	if n < 1 {
		n = 1
	}
	result := &GenerateResult{Metadata: map[string]any{"model": modelName}}
	var responseText strings.Builder
	for i := 0; i < n; i++ {
		log.Debug().Str("model", modelName).Int("variant", i).Msg("gemini: requesting image")
		resp, err := model.GenerateContent(ctx, parts...)
		if err != nil {
			return nil, errors.Wrapf(err, "gemini: generate variant %d", i)
		}
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				switch p := part.(type) {
				case genai.Blob:
					result.Artifacts = append(result.Artifacts, GeneratedArtifact{
						Data:      p.Data,
						MediaType: p.MIMEType,
					})
				case genai.Text:
					responseText.WriteString(string(p))
				}
			}
		}
	}
	if len(result.Artifacts) == 0 {
		return nil, errors.Wrap(ErrNoArtifact, "gemini: response carried no image parts")
	}
	result.ResponseText = responseText.String()
	return result, nil
}

func (g *GeminiGenerator) Close() error {
	return g.client.Close()
}
