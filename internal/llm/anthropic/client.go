// Package anthropic is a Messages API backend for llm.Client.
package anthropic

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joseph-ayodele/thermo-extraction/internal/llm"
)

const DefaultModel = "claude-sonnet-4-5-20250929"

// Config for the Anthropic client. An empty BaseURL uses the public API.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

type Client struct {
	cfg    Config
	api    sdk.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Minute
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{cfg: cfg, api: sdk.NewClient(opts...), logger: logger}
}

func (c *Client) Model() string { return c.cfg.Model }

// Complete sends one user turn with the attachments first and the prompt last.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	start := time.Now()
	blocks := make([]sdk.ContentBlockParamUnion, 0, len(req.Attachments)+1)
	for _, a := range req.Attachments {
		data := base64.StdEncoding.EncodeToString(a.Data)
		if a.MIMEType == "application/pdf" {
			blocks = append(blocks, sdk.NewDocumentBlock(sdk.Base64PDFSourceParam{Data: data}))
			continue
		}
		blocks = append(blocks, sdk.NewImageBlockBase64(a.MIMEType, data))
	}
	blocks = append(blocks, sdk.NewTextBlock(req.Prompt))

	params := sdk.MessageNewParams{
		Model:       sdk.Model(c.cfg.Model),
		MaxTokens:   int64(req.MaxTokens),
		Temperature: sdk.Float(float64(req.Temperature)),
		Messages:    []sdk.MessageParam{sdk.NewUserMessage(blocks...)},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	msg, err := c.api.Messages.New(ctx, params)
	if err != nil {
		c.logger.Error("llm.anthropic.http_error", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		var apiErr *sdk.Error
		if errors.As(err, &apiErr) {
			return llm.Response{}, fmt.Errorf("anthropic: %w", &llm.StatusError{Status: apiErr.StatusCode, Body: apiErr.RawJSON()})
		}
		return llm.Response{}, fmt.Errorf("anthropic: %w", err)
	}

	var text strings.Builder
	for _, blk := range msg.Content {
		if blk.Type == "text" {
			text.WriteString(blk.Text)
		}
	}
	if text.Len() == 0 {
		return llm.Response{}, fmt.Errorf("no text content in anthropic response")
	}
	model := string(msg.Model)
	if model == "" {
		model = c.cfg.Model
	}
	c.logger.Info("llm.anthropic.ok",
		"model", model,
		"input_tokens", msg.Usage.InputTokens,
		"output_tokens", msg.Usage.OutputTokens,
		"stop_reason", msg.StopReason,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return llm.Response{
		Text:  text.String(),
		Model: model,
		Usage: llm.Usage{InputTokens: msg.Usage.InputTokens, OutputTokens: msg.Usage.OutputTokens},
	}, nil
}
