package assist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	DefaultGeminiModel   = "gemini-1.5-flash"
)

// ErrEmptyCompletion is returned when the model produced no text.
var ErrEmptyCompletion = errors.New("model returned no text")

// Provider turns a prompt into model output.
type Provider interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Model() string
}

// Gemini calls the generateContent REST endpoint.
type Gemini struct {
	http  *resty.Client
	model string
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

type geminiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// NewGemini returns a Gemini provider. Empty baseURL or model select the
// defaults.
func NewGemini(apiKey, model, baseURL string) *Gemini {
	if baseURL == "" {
		baseURL = DefaultGeminiBaseURL
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("x-goog-api-key", apiKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(30 * time.Second)
	return &Gemini{http: client, model: model}
}

// Model returns the configured model name.
func (g *Gemini) Model() string { return g.model }

// Generate sends prompt and returns the concatenated text of the first
// candidate.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, span := otel.Tracer("textly-chat/assist").Start(ctx, "gemini.generateContent")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", g.model), attribute.Int("llm.prompt_chars", len(prompt)))

	var out geminiResponse
	var apiErr geminiError
	resp, err := g.http.R().
		SetContext(ctx).
		SetPathParam("model", g.model).
		SetBody(geminiRequest{Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}}}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/v1beta/models/{model}:generateContent")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return "", fmt.Errorf("gemini request: %w", err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode()))
	if resp.IsError() {
		err := fmt.Errorf("gemini status %d: %s", resp.StatusCode(), apiErr.Error.Message)
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider error")
		return "", err
	}

	var b strings.Builder
	if len(out.Candidates) > 0 {
		for _, part := range out.Candidates[0].Content.Parts {
			b.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		span.SetStatus(codes.Error, "empty completion")
		return "", ErrEmptyCompletion
	}
	return text, nil
}
