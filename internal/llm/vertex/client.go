// Package vertex is a Vertex AI Gemini backend for llm.Client.
package vertex

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"

	"github.com/joseph-ayodele/thermo-extraction/internal/llm"
)

const DefaultModel = "gemini-2.5-pro"

type Client struct {
	base   *genai.Client
	model  string
	logger *slog.Logger
}

// NewClient dials Vertex AI with application default credentials.
func NewClient(ctx context.Context, projectID, region, model string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if model == "" {
		model = DefaultModel
	}
	base, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	return &Client{base: base, model: model, logger: logger}, nil
}

func (c *Client) Close() error { return c.base.Close() }

func (c *Client) Model() string { return c.model }

// Complete builds a model handle per call since system instruction and
// generation settings differ between stages.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	start := time.Now()
	m := c.base.GenerativeModel(c.model)
	if req.System != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	m.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](req.Temperature),
	}
	if req.MaxTokens > 0 {
		m.SetMaxOutputTokens(int32(req.MaxTokens))
	}

	parts := make([]genai.Part, 0, len(req.Attachments)+1)
	for _, a := range req.Attachments {
		parts = append(parts, genai.Blob{MIMEType: a.MIMEType, Data: a.Data})
	}
	parts = append(parts, genai.Text(req.Prompt))

	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		c.logger.Error("llm.vertex.generate_error", "model", c.model, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return llm.Response{}, fmt.Errorf("vertex generate: %w", err)
	}

	text := extractText(resp)
	if text == "" {
		return llm.Response{}, fmt.Errorf("no text content in vertex response")
	}
	var usage llm.Usage
	if resp.UsageMetadata != nil {
		usage.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	}
	c.logger.Info("llm.vertex.ok",
		"model", c.model,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return llm.Response{Text: text, Model: c.model, Usage: usage}, nil
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}
