package openrouter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/vipul43/invoice-worker/internal/common"
	"github.com/vipul43/invoice-worker/internal/extraction"
)

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	DefaultModel   = "openai/gpt-4o-mini"
)

// maxDocumentBytes caps the text sent to the model; long statements are
// truncated rather than rejected.
const maxDocumentBytes = 60000

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client extracts invoices through an OpenAI-compatible chat completions API.
type Client struct {
	api   *openai.Client
	model string
	log   *logrus.Logger
}

var _ extraction.Extractor = (*Client)(nil)

func NewClient(cfg Config, log *logrus.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second // free models are slow
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = cfg.BaseURL
	apiCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Client{
		api:   openai.NewClientWithConfig(apiCfg),
		model: cfg.Model,
		log:   log,
	}
}

// Extract sends the document text with prompt as the system message and
// parses the reply into a candidate.
func (c *Client) Extract(ctx context.Context, documentText, prompt string) (*extraction.Candidate, error) {
	rid := uuid.New().String()
	start := time.Now()
	entry := c.log.WithFields(logrus.Fields{
		"req_id":   rid,
		"model":    c.model,
		"text_len": len(documentText),
	})
	entry.Debug("extraction request started")

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
			{Role: openai.ChatMessageRoleUser, Content: buildUserMessage(documentText)},
		},
	})
	if err != nil {
		entry.WithError(err).WithField("elapsed_ms", time.Since(start).Milliseconds()).Error("extraction request failed")
		return nil, common.NewAppError(common.CodeExtraction, describeRequestError(err), err)
	}

	if len(resp.Choices) == 0 {
		entry.Error("extraction response has no choices")
		return nil, common.Errorf(common.CodeMalformedExtraction, "no choices in response")
	}

	cand, err := extraction.ParseCandidate(resp.Choices[0].Message.Content)
	if err != nil {
		entry.WithError(err).Warn("extraction response could not be parsed")
		return nil, err
	}

	entry.WithFields(logrus.Fields{
		"elapsed_ms":   time.Since(start).Milliseconds(),
		"total_tokens": resp.Usage.TotalTokens,
		"line_items":   len(cand.LineItems),
	}).Info("extraction request completed")

	return cand, nil
}

func buildUserMessage(text string) string {
	if len(text) > maxDocumentBytes {
		cut := maxDocumentBytes
		// never split a multi-byte rune
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return "Extract the invoice JSON from this document:\n\n" + text
}

func describeRequestError(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("provider returned status %d", apiErr.HTTPStatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "provider call timed out"
	}
	return "provider call failed"
}
