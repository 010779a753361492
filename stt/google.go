package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"basedbot/audio"
)

const defaultGeminiModel = "gemini-1.5-flash"

// generator is the part of *genai.GenerativeModel the recognizer uses.
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type GoogleRecognizer struct {
	client *genai.Client
	model  generator
	prompt string
}

func NewGoogle(
	ctx context.Context,
	apiKey, modelName, language, hint string,
) (*GoogleRecognizer, error) {
	if apiKey == "" {
		return nil, &ServiceError{Engine: Google, Err: errors.New("no API key")}
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, &ServiceError{Engine: Google, Err: fmt.Errorf("create client: %w", err)}
	}

	if modelName == "" {
		modelName = defaultGeminiModel
	}
	return &GoogleRecognizer{
		client: client,
		model:  setupGenerativeModel(client, modelName),
		prompt: transcriptionPrompt(language, hint),
	}, nil
}

func setupGenerativeModel(client *genai.Client, name string) *genai.GenerativeModel {
	model := client.GenerativeModel(name)
	model.GenerationConfig.SetMaxOutputTokens(256)
	model.GenerationConfig.SetTemperature(0)
	model.SafetySettings = []*genai.SafetySetting{
		{
			Category:  genai.HarmCategoryHarassment,
			Threshold: genai.HarmBlockNone,
		},
		{
			Category:  genai.HarmCategoryHateSpeech,
			Threshold: genai.HarmBlockNone,
		},
	}
	return model
}

func transcriptionPrompt(language, hint string) string {
	var sb strings.Builder
	sb.WriteString("Transcribe the speech in this voice chat clip word for word.")
	if language != "" && language != "auto" {
		fmt.Fprintf(&sb, " The language is %q.", language)
	}
	if hint != "" {
		fmt.Fprintf(&sb, " The speaker may say %q.", hint)
	}
	sb.WriteString(" Reply with the transcript only. If nobody speaks, reply <none>.")
	return sb.String()
}

func (g *GoogleRecognizer) Transcribe(ctx context.Context, pcm []float32) (string, error) {
	if len(pcm) == 0 {
		return "", ErrNoSpeech
	}

	wav, err := audio.EncodeWAV(pcm)
	if err != nil {
		return "", fmt.Errorf("encode utterance: %w", err)
	}

	resp, err := g.model.GenerateContent(
		ctx,
		genai.Text(g.prompt),
		genai.Blob{MIMEType: "audio/wav", Data: wav},
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &ServiceError{Engine: Google, Err: err}
	}

	text := normalize(getResponseText(resp))
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}

func getResponseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var text strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}

func (g *GoogleRecognizer) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}
