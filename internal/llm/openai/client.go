package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/thermo-extraction/internal/llm"
)

// Complete implements llm.Client over chat/completions. Images are sent as
// data URLs, PDFs as inline file parts.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.logger.Info("llm.openai.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"prompt_len", len(req.Prompt),
		"attachments", len(req.Attachments),
	)

	parts := make([]map[string]any, 0, len(req.Attachments)+1)
	for i, a := range req.Attachments {
		dataURL := "data:" + a.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
		if strings.HasPrefix(a.MIMEType, "image/") {
			parts = append(parts, map[string]any{
				"type":      "image_url",
				"image_url": map[string]any{"url": dataURL},
			})
			continue
		}
		parts = append(parts, map[string]any{
			"type": "file",
			"file": map[string]any{"filename": fmt.Sprintf("attachment-%d.pdf", i+1), "file_data": dataURL},
		})
	}
	parts = append(parts, map[string]any{"type": "text", "text": req.Prompt})

	messages := make([]map[string]any, 0, 2)
	if req.System != "" {
		messages = append(messages, map[string]any{"role": "system", "content": req.System})
	}
	messages = append(messages, map[string]any{"role": "user", "content": parts})

	body := map[string]any{
		"model":                 c.cfg.Model,
		"temperature":           req.Temperature,
		"max_completion_tokens": req.MaxTokens,
		"messages":              messages,
	}
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, _, httpErr := llm.SendJSON(ctx, c.http, endpoint, body, headers, c.logger)
	if httpErr != nil {
		c.logger.Error("llm.openai.http_error",
			"req_id", rid, "error", httpErr,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.Response{}, fmt.Errorf("openai: %w", httpErr)
	}

	var cc struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int64 `json:"prompt_tokens"`
			CompletionTokens int64 `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.logger.Error("llm.openai.decode_error",
			"req_id", rid, "error", err, "raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.Response{}, fmt.Errorf("decode openai response: %w", err)
	}
	if len(cc.Choices) == 0 {
		c.logger.Error("llm.openai.no_choices",
			"req_id", rid, "raw", string(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.Response{}, fmt.Errorf("no choices in openai response")
	}

	model := cc.Model
	if model == "" {
		model = c.cfg.Model
	}
	c.logger.Info("llm.openai.ok",
		"req_id", rid,
		"model", model,
		"input_tokens", cc.Usage.PromptTokens,
		"output_tokens", cc.Usage.CompletionTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return llm.Response{
		Text:  strings.TrimSpace(cc.Choices[0].Message.Content),
		Model: model,
		Usage: llm.Usage{InputTokens: cc.Usage.PromptTokens, OutputTokens: cc.Usage.CompletionTokens},
	}, nil
}
