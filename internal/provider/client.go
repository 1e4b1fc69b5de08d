// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Configuration constants shared by all provider adapters.
const (
	// DefaultTimeout is the default timeout for chat requests.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxTokens caps the assistant response length.
	DefaultMaxTokens = 4000

	// DefaultTemperature is the default sampling temperature.
	DefaultTemperature = 0.7

	// MaxResponseSize is the maximum allowed response body size.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB limit

	// anthropicVersion is the required anthropic-version header value.
	anthropicVersion = "2023-06-01"
)

// System prompts sent alongside the conversation. Matches what the widget has
// always sent per backend.
const (
	googleSystemPrompt = "You are Gemini, an AI assistant. Please format your response in lightweight markdown (no HTML tags)."
	claudeSystemPrompt = "You are Claude, an AI assistant. Please format your response in lightweight markdown (no HTML tags)."
)

// sharedHTTPClient is used for all provider requests.
// Connection pooling reduces TCP handshake overhead across turns.
var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
	Timeout: DefaultTimeout,
}

// Error variables for the adapter layer.
var (
	// ErrUnknownProvider indicates an unsupported provider id.
	ErrUnknownProvider = errors.New("unsupported LLM provider selected")

	// ErrMalformedResponse indicates a 2xx response whose body lacks the
	// expected success-path fields.
	ErrMalformedResponse = errors.New("malformed provider response")
)

// HTTPError is a non-2xx response from a provider endpoint.
type HTTPError struct {
	Provider   string
	Status     int
	StatusText string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP error [%d] %s", e.Status, e.StatusText)
}

// Attachments records which non-conversational content was included with an
// outgoing message.
type Attachments struct {
	MetaPrompt bool     `json:"metaPrompt"`
	Posts      []string `json:"posts,omitempty"`
	CodeFiles  []string `json:"codeFiles,omitempty"`
}

// Message is a provider-neutral chat message.
type Message struct {
	Role        string       `json:"role"` // "user" or "assistant"
	Content     string       `json:"content"`
	Timestamp   int64        `json:"timestamp,omitempty"`
	Attachments *Attachments `json:"attachments,omitempty"`
}

// NewUserMessage creates a user message stamped with the current time.
func NewUserMessage(content string) Message {
	return Message{Role: "user", Content: content, Timestamp: time.Now().UnixMilli()}
}

// NewAssistantMessage creates an assistant message stamped with the current time.
func NewAssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content, Timestamp: time.Now().UnixMilli()}
}

// ChatResult is the unified outcome of one chat turn.
type ChatResult struct {
	AssistantMessage string
	TotalTokenCount  int
}

// =============================================================================
// CLIENT
// =============================================================================

// Client dispatches chat requests to the selected provider adapter.
type Client struct {
	httpClient  *http.Client
	baseURLs    map[string]string // provider id -> override, for tests
	maxTokens   int
	temperature float64
}

// NewClient creates a provider client with default limits.
func NewClient() *Client {
	return &Client{
		httpClient:  sharedHTTPClient,
		baseURLs:    make(map[string]string),
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
	}
}

// WithBaseURL overrides the endpoint for one provider.
func (c *Client) WithBaseURL(providerID, url string) *Client {
	c.baseURLs[providerID] = strings.TrimSuffix(url, "/")
	return c
}

// WithLimits sets the max-tokens and temperature sent on each request.
func (c *Client) WithLimits(maxTokens int, temperature float64) *Client {
	if maxTokens > 0 {
		c.maxTokens = maxTokens
	}
	if temperature >= 0 {
		c.temperature = temperature
	}
	return c
}

// WithHTTPClient replaces the HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// baseURL returns the effective endpoint base for a provider.
func (c *Client) baseURL(p Provider) string {
	if override, ok := c.baseURLs[p.ID]; ok {
		// The Google base URL carries a trailing slash the model id is
		// appended to; restore it on overrides.
		if p.ID == Google {
			return override + "/"
		}
		return override
	}
	return p.APIBaseURL
}

// SendChat performs one chat-completion turn against the selected provider.
//
// messages is the full ordered conversation including the new user message.
// The adapter maps roles and envelope per provider and parses the response
// into a unified ChatResult. Token counts are best-effort: providers that do
// not report usage yield zero.
func (c *Client) SendChat(ctx context.Context, apiKey, providerID, modelID string, messages []Message) (*ChatResult, error) {
	p, ok := Lookup(providerID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, providerID)
	}

	switch providerID {
	case Google:
		return c.callGemini(ctx, apiKey, modelID, p, messages)
	case OpenAI:
		return c.callOpenAI(ctx, apiKey, modelID, p, messages)
	case Anthropic:
		return c.callClaude(ctx, apiKey, modelID, p, messages)
	case OpenRouter:
		return c.callOpenRouter(ctx, apiKey, modelID, p, messages)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, providerID)
	}
}

// =============================================================================
// GOOGLE (GEMINI)
// =============================================================================

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction geminiContent   `json:"system_instruction"`
	Contents          []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		TotalTokenCount int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// callGemini sends a generateContent request. Auth is a query-string key and
// the assistant role is labeled "model".
func (c *Client) callGemini(ctx context.Context, apiKey, modelID string, p Provider, messages []Message) (*ChatResult, error) {
	url := fmt.Sprintf("%s%s:generateContent?key=%s", c.baseURL(p), modelID, apiKey)

	contents := make([]geminiContent, 0, len(messages))
	for _, m := range messages {
		role := "model"
		if m.Role == "user" {
			role = "user"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}

	body := geminiRequest{
		SystemInstruction: geminiContent{Parts: []geminiPart{{Text: googleSystemPrompt}}},
		Contents:          contents,
	}

	data, err := c.post(ctx, p.ID, url, nil, body)
	if err != nil {
		return nil, err
	}

	var resp geminiResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, p.Name, err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMalformedResponse, p.Name)
	}

	return &ChatResult{
		AssistantMessage: resp.Candidates[0].Content.Parts[0].Text,
		TotalTokenCount:  resp.UsageMetadata.TotalTokenCount,
	}, nil
}

// =============================================================================
// OPENAI
// =============================================================================

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type openAIResponse struct {
	Choices []struct {
		Message *wireMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// wireMessages maps the conversation onto user/assistant role labels.
func wireMessages(messages []Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		role := "assistant"
		if m.Role == "user" {
			role = "user"
		}
		out = append(out, wireMessage{Role: role, Content: m.Content})
	}
	return out
}

func (c *Client) callOpenAI(ctx context.Context, apiKey, modelID string, p Provider, messages []Message) (*ChatResult, error) {
	body := openAIRequest{
		Model:       modelID,
		Messages:    wireMessages(messages),
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}

	headers := map[string]string{"Authorization": "Bearer " + apiKey}
	data, err := c.post(ctx, p.ID, c.baseURL(p), headers, body)
	if err != nil {
		return nil, err
	}

	var resp openAIResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, p.Name, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedResponse, p.Name)
	}

	return &ChatResult{
		AssistantMessage: resp.Choices[0].Message.Content,
		TotalTokenCount:  resp.Usage.TotalTokens,
	}, nil
}

// =============================================================================
// ANTHROPIC (CLAUDE)
// =============================================================================

type claudeRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	System      string        `json:"system"`
	Messages    []wireMessage `json:"messages"`
}

type claudeResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// callClaude sends a messages request. Auth is the x-api-key header plus the
// version header; usage reports output tokens only.
func (c *Client) callClaude(ctx context.Context, apiKey, modelID string, p Provider, messages []Message) (*ChatResult, error) {
	body := claudeRequest{
		Model:       modelID,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		System:      claudeSystemPrompt,
		Messages:    wireMessages(messages),
	}

	headers := map[string]string{
		"x-api-key":         apiKey,
		"anthropic-version": anthropicVersion,
		"anthropic-dangerous-direct-browser-access": "true",
	}
	data, err := c.post(ctx, p.ID, c.baseURL(p), headers, body)
	if err != nil {
		return nil, err
	}

	var resp claudeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, p.Name, err)
	}
	if len(resp.Content) == 0 || resp.Content[0].Text == "" {
		return nil, fmt.Errorf("%w: %s", ErrMalformedResponse, p.Name)
	}

	return &ChatResult{
		AssistantMessage: resp.Content[0].Text,
		TotalTokenCount:  resp.Usage.OutputTokens,
	}, nil
}

// =============================================================================
// OPENROUTER
// =============================================================================

type openRouterRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
}

func (c *Client) callOpenRouter(ctx context.Context, apiKey, modelID string, p Provider, messages []Message) (*ChatResult, error) {
	url := c.baseURL(p) + "/chat/completions"
	body := openRouterRequest{
		Model:    modelID,
		Messages: wireMessages(messages),
	}

	headers := map[string]string{"Authorization": "Bearer " + apiKey}
	data, err := c.post(ctx, p.ID, url, headers, body)
	if err != nil {
		return nil, err
	}

	// OpenRouter mirrors the OpenAI response shape.
	var resp openAIResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, p.Name, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedResponse, p.Name)
	}

	return &ChatResult{
		AssistantMessage: resp.Choices[0].Message.Content,
		TotalTokenCount:  resp.Usage.TotalTokens,
	}, nil
}

// =============================================================================
// DYNAMIC MODEL CATALOG
// =============================================================================

type modelsResponse struct {
	Data []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"data"`
}

// FetchOpenRouterModels retrieves the OpenRouter model catalog. The endpoint
// requires no auth. Caching is the caller's concern.
func (c *Client) FetchOpenRouterModels(ctx context.Context) ([]ModelInfo, error) {
	p, _ := Lookup(OpenRouter)
	url := c.baseURL(p) + "/models"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	data, err := c.do(p.ID, req)
	if err != nil {
		return nil, err
	}

	var resp modelsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, p.Name, err)
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedResponse, p.Name)
	}

	models := make([]ModelInfo, 0, len(resp.Data))
	for _, m := range resp.Data {
		models = append(models, ModelInfo{ID: m.ID, Name: m.Name})
	}
	return models, nil
}

// =============================================================================
// HTTP PLUMBING
// =============================================================================

// post marshals body and performs a JSON POST with the given extra headers.
func (c *Client) post(ctx context.Context, providerID, url string, headers map[string]string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return c.do(providerID, req)
}

// do executes the request and returns the body of a 2xx response.
// Non-2xx responses become *HTTPError carrying the status and status text.
func (c *Client) do(providerID string, req *http.Request) ([]byte, error) {
	logRequest(providerID, req)
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	logResponse(providerID, resp, time.Since(start))

	body, err := readResponse(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{
			Provider:   providerID,
			Status:     resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
		}
	}
	return body, nil
}

// readResponse reads the response body with a size limit.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// logRequest logs an API request without exposing sensitive data.
// Headers may carry auth and bodies carry conversation content; neither is logged.
func logRequest(providerID string, req *http.Request) {
	log.Printf("provider %s: %s %s", providerID, req.Method, req.URL.Path)
}

// logResponse logs status code and duration only.
func logResponse(providerID string, resp *http.Response, d time.Duration) {
	log.Printf("provider %s: %d (%v)", providerID, resp.StatusCode, d)
}
