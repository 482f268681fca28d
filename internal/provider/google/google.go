// Package google implements the Google Gemini vendor adapter, translating
// between the internal OpenAI-shaped intermediate and the generateContent
// family of endpoints.
package google

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/llmux/internal/provider"
	"github.com/blueberrycongee/llmux/pkg/types"
)

const (
	ProviderName      = "google"
	DefaultBaseURL    = "https://generativelanguage.googleapis.com"
	DefaultAPIVersion = "v1beta"
)

// Provider implements the Google Gemini API adapter.
type Provider struct {
	apiKey     string
	baseURL    string
	apiVersion string
	client     *http.Client
}

// New creates a new Google provider instance.
func New(cfg provider.ProviderConfig) (provider.Provider, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	return &Provider{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		apiVersion: DefaultAPIVersion,
		client:     &http.Client{},
	}, nil
}

func (p *Provider) Name() string { return ProviderName }

func (p *Provider) SupportsEmbedding() bool { return false }
func (p *Provider) SupportsImages() bool    { return true }

type geminiRequest struct {
	Contents          []geminiContent   `json:"contents"`
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
	Tools             []geminiTool      `json:"tools,omitempty"`
	ToolConfig        *toolConfig       `json:"toolConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text         string            `json:"text,omitempty"`
	FunctionCall *functionCall     `json:"functionCall,omitempty"`
	FunctionResp *functionResponse `json:"functionResponse,omitempty"`
}

type functionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type functionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type generationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"topP,omitempty"`
	MaxOutputTokens  int      `json:"maxOutputTokens,omitempty"`
	StopSequences    []string `json:"stopSequences,omitempty"`
	CandidateCount   int      `json:"candidateCount,omitempty"`
	ResponseMimeType string   `json:"responseMimeType,omitempty"`
}

type geminiTool struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations,omitempty"`
}

type functionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type toolConfig struct {
	FunctionCallingConfig *functionCallingConfig `json:"functionCallingConfig,omitempty"`
}

type functionCallingConfig struct {
	Mode                 string   `json:"mode,omitempty"`
	AllowedFunctionNames []string `json:"allowedFunctionNames,omitempty"`
}

type geminiResponse struct {
	Candidates    []candidate    `json:"candidates"`
	UsageMetadata *usageMetadata `json:"usageMetadata,omitempty"`
}

type candidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
	Index        int           `json:"index"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// BuildChatRequest builds a generateContent (or streamGenerateContent,
// when the request is streaming) call against vendorModel.
func (p *Provider) BuildChatRequest(ctx context.Context, req *types.ChatRequest, vendorModel string) (*http.Request, error) {
	geminiReq, err := p.transformRequest(req)
	if err != nil {
		return nil, fmt.Errorf("transform request: %w", err)
	}

	body, err := json.Marshal(geminiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	action := "generateContent"
	query := ""
	if req.Stream {
		action = "streamGenerateContent"
		query = "?alt=sse"
	}
	url := fmt.Sprintf("%s/%s/models/%s:%s%s", p.baseURL, p.apiVersion, vendorModel, action, query)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.apiKey)

	return httpReq, nil
}

func (p *Provider) transformRequest(req *types.ChatRequest) (*geminiRequest, error) {
	geminiReq := &geminiRequest{GenerationConfig: &generationConfig{}}

	if req.MaxTokens > 0 {
		geminiReq.GenerationConfig.MaxOutputTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		geminiReq.GenerationConfig.Temperature = req.Temperature
	}
	if req.TopP != nil {
		geminiReq.GenerationConfig.TopP = req.TopP
	}
	if req.N > 0 {
		geminiReq.GenerationConfig.CandidateCount = req.N
	}
	if len(req.Stop) > 0 {
		geminiReq.GenerationConfig.StopSequences = req.Stop
	}
	if req.ResponseFormat != nil && req.ResponseFormat.Type == "json_object" {
		geminiReq.GenerationConfig.ResponseMimeType = "application/json"
	}

	contents, systemInstruction, err := p.transformMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	geminiReq.Contents = contents
	geminiReq.SystemInstruction = systemInstruction

	if len(req.Tools) > 0 {
		geminiReq.Tools = p.transformTools(req.Tools)
	}
	if len(req.ToolChoice) > 0 {
		if tc, err := p.transformToolChoice(req.ToolChoice); err == nil && tc != nil {
			geminiReq.ToolConfig = tc
		}
	}

	return geminiReq, nil
}

// transformMessages maps assistant -> model and concatenates system
// messages into a single systemInstruction part.
func (p *Provider) transformMessages(messages []types.ChatMessage) ([]geminiContent, *geminiContent, error) {
	var contents []geminiContent
	var systemParts []string

	for _, msg := range messages {
		role := msg.Role

		if role == "system" {
			var content string
			if err := json.Unmarshal(msg.Content, &content); err == nil {
				systemParts = append(systemParts, content)
			}
			continue
		}

		geminiRole := role
		if role == "assistant" {
			geminiRole = "model"
		}

		if role == "assistant" && len(msg.ToolCalls) > 0 {
			var parts []geminiPart
			for _, tc := range msg.ToolCalls {
				var args map[string]any
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
					args = make(map[string]any)
				}
				parts = append(parts, geminiPart{FunctionCall: &functionCall{Name: tc.Function.Name, Args: args}})
			}
			contents = append(contents, geminiContent{Role: geminiRole, Parts: parts})
			continue
		}

		if role == "tool" {
			var content string
			if err := json.Unmarshal(msg.Content, &content); err != nil {
				content = string(msg.Content)
			}
			contents = append(contents, geminiContent{
				Role:  "function",
				Parts: []geminiPart{{FunctionResp: &functionResponse{Name: msg.ToolCallID, Response: map[string]any{"result": content}}}},
			})
			continue
		}

		var content string
		if err := json.Unmarshal(msg.Content, &content); err != nil {
			var contentArr []map[string]any
			if err := json.Unmarshal(msg.Content, &contentArr); err != nil {
				return nil, nil, fmt.Errorf("invalid message content format")
			}
			var parts []geminiPart
			for _, c := range contentArr {
				if c["type"] == "text" {
					if text, ok := c["text"].(string); ok {
						parts = append(parts, geminiPart{Text: text})
					}
				}
			}
			contents = append(contents, geminiContent{Role: geminiRole, Parts: parts})
		} else {
			contents = append(contents, geminiContent{Role: geminiRole, Parts: []geminiPart{{Text: content}}})
		}
	}

	var systemInstruction *geminiContent
	if len(systemParts) > 0 {
		systemInstruction = &geminiContent{Parts: []geminiPart{{Text: strings.Join(systemParts, "\n\n")}}}
	}

	return contents, systemInstruction, nil
}

func (p *Provider) transformTools(tools []types.Tool) []geminiTool {
	declarations := make([]functionDeclaration, 0, len(tools))
	for _, tool := range tools {
		if tool.Type != "function" {
			continue
		}
		var params map[string]any
		if len(tool.Function.Parameters) > 0 {
			if err := json.Unmarshal(tool.Function.Parameters, &params); err != nil {
				params = make(map[string]any)
			}
		}
		declarations = append(declarations, functionDeclaration{Name: tool.Function.Name, Description: tool.Function.Description, Parameters: params})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []geminiTool{{FunctionDeclarations: declarations}}
}

func (p *Provider) transformToolChoice(raw json.RawMessage) (*toolConfig, error) {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		switch str {
		case "auto":
			return &toolConfig{FunctionCallingConfig: &functionCallingConfig{Mode: "AUTO"}}, nil
		case "required":
			return &toolConfig{FunctionCallingConfig: &functionCallingConfig{Mode: "ANY"}}, nil
		case "none":
			return &toolConfig{FunctionCallingConfig: &functionCallingConfig{Mode: "NONE"}}, nil
		}
		return nil, nil
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	if fn, ok := obj["function"].(map[string]any); ok {
		if name, ok := fn["name"].(string); ok {
			return &toolConfig{FunctionCallingConfig: &functionCallingConfig{Mode: "ANY", AllowedFunctionNames: []string{name}}}, nil
		}
	}
	return nil, nil
}

// ParseChatResponse translates a unary generateContent response, stamping
// requestedModel on the result.
func (p *Provider) ParseChatResponse(resp *http.Response, requestedModel string) (*types.ChatResponse, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var geminiResp geminiResponse
	if err := json.Unmarshal(body, &geminiResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return p.transformResponse(&geminiResp, requestedModel), nil
}

func (p *Provider) transformResponse(resp *geminiResponse, requestedModel string) *types.ChatResponse {
	choices := make([]types.Choice, 0, len(resp.Candidates))

	for i, c := range resp.Candidates {
		var textContent string
		var toolCalls []types.ToolCall

		for _, part := range c.Content.Parts {
			textContent += part.Text
			if part.FunctionCall != nil {
				argsJSON, err := json.Marshal(part.FunctionCall.Args)
				if err != nil {
					argsJSON = []byte("{}")
				}
				toolCalls = append(toolCalls, types.ToolCall{
					ID: fmt.Sprintf("call_%d", len(toolCalls)), Type: "function",
					Function: types.ToolCallFunction{Name: part.FunctionCall.Name, Arguments: string(argsJSON)},
				})
			}
		}

		message := types.ChatMessage{Role: "assistant", Content: json.RawMessage(fmt.Sprintf("%q", textContent))}
		if len(toolCalls) > 0 {
			message.ToolCalls = toolCalls
		}

		choices = append(choices, types.Choice{Index: i, Message: message, FinishReason: mapFinishReason(c.FinishReason)})
	}

	chatResp := &types.ChatResponse{Object: "chat.completion", Model: requestedModel, Choices: choices}

	if resp.UsageMetadata != nil {
		chatResp.Usage = &types.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}

	return chatResp
}

// mapFinishReason implements STOP/MAX_TOKENS/SAFETY -> stop/length/content_filter.
func mapFinishReason(reason string) string {
	switch reason {
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION":
		return "content_filter"
	default:
		return "stop"
	}
}

// ParseStreamChunk rewrites one streamGenerateContent SSE data line into an
// OpenAI chunk. Gemini returns whole JSON response objects per line rather
// than a delta-only shape, so each line maps to exactly one chunk.
func (p *Provider) ParseStreamChunk(data []byte, requestedModel string) (*types.StreamChunk, error) {
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("data:")) {
		trimmed = bytes.TrimSpace(bytes.TrimPrefix(trimmed, []byte("data:")))
	}
	if len(trimmed) == 0 {
		return nil, nil
	}

	var resp geminiResponse
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return nil, nil
	}
	if len(resp.Candidates) == 0 {
		return nil, nil
	}

	c := resp.Candidates[0]
	var textContent string
	for _, part := range c.Content.Parts {
		textContent += part.Text
	}

	chunk := &types.StreamChunk{
		Object:  "chat.completion.chunk",
		Model:   requestedModel,
		Choices: []types.StreamChoice{{Index: 0, Delta: types.StreamDelta{Content: textContent}}},
	}
	if c.FinishReason != "" {
		chunk.Choices[0].FinishReason = mapFinishReason(c.FinishReason)
	}
	return chunk, nil
}

func (p *Provider) BuildEmbeddingRequest(ctx context.Context, req *types.EmbeddingRequest, vendorModel string) (*http.Request, error) {
	return nil, fmt.Errorf("google adapter does not implement embeddings")
}

func (p *Provider) ParseEmbeddingResponse(resp *http.Response, requestedModel string) (*types.EmbeddingResponse, error) {
	return nil, fmt.Errorf("google adapter does not implement embeddings")
}

type imagenRequest struct {
	Instances  []imagenInstance  `json:"instances"`
	Parameters imagenParameters  `json:"parameters"`
}

type imagenInstance struct {
	Prompt string `json:"prompt"`
}

type imagenParameters struct {
	SampleCount int `json:"sampleCount"`
}

type imagenResponse struct {
	Predictions []imagenPrediction `json:"predictions"`
}

type imagenPrediction struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
}

// BuildImageRequest targets Imagen's predict endpoint.
func (p *Provider) BuildImageRequest(ctx context.Context, req *types.ImageRequest, vendorModel string) (*http.Request, error) {
	n := req.N
	if n <= 0 {
		n = 1
	}

	body, err := json.Marshal(imagenRequest{
		Instances:  []imagenInstance{{Prompt: req.Prompt}},
		Parameters: imagenParameters{SampleCount: n},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/models/%s:predict", p.baseURL, p.apiVersion, vendorModel)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.apiKey)
	return httpReq, nil
}

// ParseImageResponse maps Imagen's base64 predictions to the OpenAI image
// shape, echoing the original prompt back as revised_prompt.
func (p *Provider) ParseImageResponse(resp *http.Response, originalPrompt string) (*types.ImageResponse, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var imgResp imagenResponse
	if err := json.Unmarshal(body, &imgResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	data := make([]types.ImageObject, 0, len(imgResp.Predictions))
	for _, pred := range imgResp.Predictions {
		data = append(data, types.ImageObject{B64JSON: pred.BytesBase64Encoded, RevisedPrompt: originalPrompt})
	}

	return &types.ImageResponse{Data: data}, nil
}
