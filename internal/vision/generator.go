package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sammcj/pdf-ocr-compare/internal/extract"
	"github.com/sammcj/pdf-ocr-compare/internal/telemetry"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Defaults for the OpenAI compatible generator
const (
	DefaultMaxTokens   = 16384
	DefaultTemperature = 0.0
	DefaultTimeout     = 240 * time.Second
	DefaultImageDetail = "high"
)

// Request is one document sent to the model
type Request struct {
	Prompt   string
	MimeType string
	Filename string
	Data     []byte

	// Base64 is used as is when set, otherwise Data is encoded
	Base64 string
}

func (r Request) dataURL() string {
	encoded := r.Base64
	if encoded == "" {
		encoded = base64.StdEncoding.EncodeToString(r.Data)
	}
	return "data:" + r.MimeType + ";base64," + encoded
}

// Generator sends a prompt plus an inline document to a generative model and
// returns its raw text response
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// OpenAIConfig configures an OpenAI compatible chat completions endpoint
type OpenAIConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	ImageDetail string        `yaml:"image_detail"`
}

// Configured reports whether the endpoint can be called
func (c OpenAIConfig) Configured() bool {
	return c.APIKey != "" && c.Model != ""
}

// OpenAIGenerator calls chat completions with a text part and a file or image part
type OpenAIGenerator struct {
	client      openai.Client
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	detail      string
	logger      *logrus.Logger
}

// NewOpenAIGenerator creates a generator. httpClient may be nil.
// The SDK's own retries are disabled; one request is made per extraction.
func NewOpenAIGenerator(cfg OpenAIConfig, httpClient *http.Client, logger *logrus.Logger) (*OpenAIGenerator, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("%w: vision model and API key are required", extract.ErrProviderNotConfigured)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ImageDetail == "" {
		cfg.ImageDetail = DefaultImageDetail
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}

	logger.WithFields(logrus.Fields{
		"base_url": cfg.BaseURL,
		"model":    cfg.Model,
		"api_key":  telemetry.RedactSecret(cfg.APIKey),
	}).Debug("Vision model client initialised")

	return &OpenAIGenerator{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		detail:      cfg.ImageDetail,
		logger:      logger,
	}, nil
}

// Generate sends one chat completion request and returns the first choice verbatim
func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (string, error) {
	part, err := g.documentPart(req)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	ctx, span := telemetry.StartStageSpan(ctx, "generate", attribute.String(telemetry.AttrLLMModel, g.model))

	response, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: g.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(req.Prompt),
				part,
			}),
		},
		MaxTokens:   openai.Int(int64(g.maxTokens)),
		Temperature: openai.Float(g.temperature),
	})
	if err != nil {
		telemetry.EndStageSpan(span, err)
		return "", fmt.Errorf("vision model request failed: %w", err)
	}

	if len(response.Choices) == 0 {
		err := errors.New("no response choices returned from vision model")
		telemetry.EndStageSpan(span, err)
		return "", err
	}

	choice := response.Choices[0]
	span.SetAttributes(
		attribute.Int64(telemetry.AttrLLMInputTokens, response.Usage.PromptTokens),
		attribute.Int64(telemetry.AttrLLMOutputTokens, response.Usage.CompletionTokens),
		attribute.String(telemetry.AttrLLMFinishReason, choice.FinishReason),
	)
	telemetry.EndStageSpan(span, nil)

	fields := logrus.Fields{
		"model":         g.model,
		"input_tokens":  response.Usage.PromptTokens,
		"output_tokens": response.Usage.CompletionTokens,
		"finish_reason": choice.FinishReason,
	}
	if choice.FinishReason == "length" {
		g.logger.WithFields(fields).Warn("Vision model response was truncated at the token limit")
	} else {
		g.logger.WithFields(fields).Debug("Vision model responded")
	}

	return choice.Message.Content, nil
}

func (g *OpenAIGenerator) documentPart(req Request) (openai.ChatCompletionContentPartUnionParam, error) {
	switch req.MimeType {
	case extract.MimeTypePDF:
		filename := req.Filename
		if filename == "" {
			filename = "document.pdf"
		}
		return openai.FileContentPart(openai.ChatCompletionContentPartFileFileParam{
			FileData: openai.String(req.dataURL()),
			Filename: openai.String(filename),
		}), nil
	case extract.MimeTypePNG, extract.MimeTypeJPEG:
		return openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL:    req.dataURL(),
			Detail: g.detail,
		}), nil
	}
	return openai.ChatCompletionContentPartUnionParam{}, fmt.Errorf("%w: %s", extract.ErrUnsupportedMimeType, req.MimeType)
}
