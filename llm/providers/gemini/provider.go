package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/sgaflow/internal/tlsutil"
	"github.com/BaSui01/sgaflow/types"
	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultModel   = "gemini-2.0-flash"
)

// Config configures the generateContent client.
type Config struct {
	APIKey          string
	BaseURL         string
	Model           string
	Timeout         time.Duration
	Temperature     float32
	TopP            float32
	TopK            int
	MaxOutputTokens int
}

// InlineData is a binary attachment sent alongside the prompt.
type InlineData struct {
	MimeType string
	Data     []byte
}

// Client calls the Gemini generateContent REST endpoint.
// Gemini specifics:
// 1. x-goog-api-key header authentication
// 2. binary input travels as base64 inlineData parts in the same request
type Client struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewClient creates a Gemini client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}

	return &Client{
		cfg:    cfg,
		client: tlsutil.HTTPClient(timeout),
		logger: logger.With(zap.String("component", "gemini")),
	}
}

// Name returns the provider name.
func (c *Client) Name() string { return "gemini" }

// Model returns the configured model id.
func (c *Client) Model() string { return c.cfg.Model }

// Gemini wire structures
type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64 encoded
}

type geminiGenerationConfig struct {
	Temperature     float32 `json:"temperature,omitempty"`
	TopP            float32 `json:"topP,omitempty"`
	TopK            int     `json:"topK,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
	Index        int           `json:"index"`
}

type geminiPromptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiResponse struct {
	Candidates     []geminiCandidate     `json:"candidates"`
	PromptFeedback *geminiPromptFeedback `json:"promptFeedback,omitempty"`
	UsageMetadata  *geminiUsageMetadata  `json:"usageMetadata,omitempty"`
	ModelVersion   string                `json:"modelVersion,omitempty"`
}

type geminiErrorResp struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (c *Client) buildHeaders(req *http.Request) {
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
}

func (c *Client) generationConfig() *geminiGenerationConfig {
	if c.cfg.Temperature == 0 && c.cfg.TopP == 0 && c.cfg.TopK == 0 && c.cfg.MaxOutputTokens == 0 {
		return nil
	}
	return &geminiGenerationConfig{
		Temperature:     c.cfg.Temperature,
		TopP:            c.cfg.TopP,
		TopK:            c.cfg.TopK,
		MaxOutputTokens: c.cfg.MaxOutputTokens,
	}
}

// GenerateContent sends one user turn made of the prompt text followed by the
// attachments and returns the concatenated text of the first candidate.
// Failures are *types.Error with code INFERENCE_ERROR.
func (c *Client) GenerateContent(ctx context.Context, prompt string, attachments ...InlineData) (string, error) {
	parts := make([]geminiPart, 0, len(attachments)+1)
	parts = append(parts, geminiPart{Text: prompt})
	for _, a := range attachments {
		parts = append(parts, geminiPart{
			InlineData: &geminiInlineData{
				MimeType: a.MimeType,
				Data:     base64.StdEncoding.EncodeToString(a.Data),
			},
		})
	}

	body := geminiRequest{
		Contents:         []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: c.generationConfig(),
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", types.NewError(types.ErrInference, "failed to encode gemini request").WithCause(err)
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.Model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", types.NewError(types.ErrInference, "failed to create gemini request").WithCause(err)
	}
	c.buildHeaders(httpReq)

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", types.NewError(types.ErrInference, "gemini request failed").
			WithCause(err).
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readGeminiErrMsg(resp.Body)
		return "", mapGeminiError(resp.StatusCode, msg)
	}

	var gr geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return "", types.NewError(types.ErrInference, "failed to decode gemini response").
			WithCause(err).
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true)
	}

	text, err := firstCandidateText(gr)
	if err != nil {
		return "", err
	}

	fields := []zap.Field{
		zap.String("model", c.cfg.Model),
		zap.Int("attachments", len(attachments)),
		zap.Duration("latency", time.Since(start)),
	}
	if gr.UsageMetadata != nil {
		fields = append(fields, zap.Int("total_tokens", gr.UsageMetadata.TotalTokenCount))
	}
	if jobID, ok := types.JobID(ctx); ok {
		fields = append(fields, zap.String("job_id", jobID))
	}
	c.logger.Debug("generateContent completed", fields...)

	return text, nil
}

func firstCandidateText(gr geminiResponse) (string, error) {
	if len(gr.Candidates) == 0 {
		msg := "gemini returned no candidates"
		if gr.PromptFeedback != nil && gr.PromptFeedback.BlockReason != "" {
			msg = fmt.Sprintf("gemini blocked the prompt: %s", gr.PromptFeedback.BlockReason)
		}
		return "", types.NewError(types.ErrInference, msg)
	}

	var sb strings.Builder
	for _, part := range gr.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	if sb.Len() == 0 {
		reason := gr.Candidates[0].FinishReason
		if reason == "" {
			reason = "empty content"
		}
		return "", types.NewError(types.ErrInference, fmt.Sprintf("gemini returned no text (%s)", reason))
	}
	return sb.String(), nil
}

func readGeminiErrMsg(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}
	var errResp geminiErrorResp
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Status != "" {
			return fmt.Sprintf("%s (status: %s)", errResp.Error.Message, errResp.Error.Status)
		}
		return errResp.Error.Message
	}
	return strings.TrimSpace(string(data))
}

// mapGeminiError maps an HTTP failure onto INFERENCE_ERROR, keeping the
// upstream status and whether a later attempt could succeed.
func mapGeminiError(status int, msg string) *types.Error {
	var prefix string
	retryable := false
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		prefix = "gemini rejected the credentials"
	case status == http.StatusTooManyRequests:
		prefix = "gemini rate limit exceeded"
		retryable = true
	case status == http.StatusBadRequest:
		prefix = "gemini rejected the request"
	case status >= 500:
		prefix = "gemini service error"
		retryable = true
	default:
		prefix = "gemini request failed"
	}
	if msg != "" {
		prefix = prefix + ": " + msg
	}
	return types.NewError(types.ErrInference, prefix).
		WithHTTPStatus(status).
		WithRetryable(retryable)
}
