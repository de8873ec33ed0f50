package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"tradedesk/internal/domain"
)

const (
	generateDefaultBase  = "https://generativelanguage.googleapis.com/v1beta"
	generateDefaultModel = "gemini-2.0-flash"
	generateMaxTokens    = 4096
	generateHTTPTimeout  = 120 * time.Second
)

// GenerateAdapter implements domain.Adapter for Gemini-style generateContent
// endpoints. The wire has no message roles beyond user/model, carries
// function-call arguments as parsed objects, and has no call IDs, so this
// adapter re-marshals arguments into RawArgs and synthesizes IDs for the
// loop's correlation bookkeeping.
type GenerateAdapter struct {
	apiKey  string
	apiBase string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

type GenerateConfig struct {
	APIKey  string
	APIBase string
	Model   string
	Logger  *slog.Logger
}

// NewGenerateAdapter creates a generate-style adapter.
func NewGenerateAdapter(cfg GenerateConfig) *GenerateAdapter {
	if cfg.APIBase == "" {
		cfg.APIBase = generateDefaultBase
	}
	if cfg.Model == "" {
		cfg.Model = generateDefaultModel
	}
	return &GenerateAdapter{
		apiKey:  cfg.APIKey,
		apiBase: strings.TrimSuffix(cfg.APIBase, "/"),
		model:   cfg.Model,
		client:  SharedHTTPClient(generateHTTPTimeout),
		logger:  cfg.Logger,
	}
}

func (g *GenerateAdapter) Name() string              { return "generate" }
func (g *GenerateAdapter) Kind() domain.ProviderKind { return domain.ProviderGenerate }

type genRequest struct {
	SystemInstruction *genContent    `json:"systemInstruction,omitempty"`
	Contents          []genContent   `json:"contents"`
	Tools             []genToolBlock `json:"tools,omitempty"`
	GenerationConfig  *genGenConfig  `json:"generationConfig,omitempty"`
}

type genContent struct {
	Role  string    `json:"role,omitempty"` // "user" | "model"
	Parts []genPart `json:"parts"`
}

type genPart struct {
	Text             string           `json:"text,omitempty"`
	FunctionCall     *genFunctionCall `json:"functionCall,omitempty"`
	FunctionResponse *genFunctionResp `json:"functionResponse,omitempty"`
}

type genFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type genFunctionResp struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type genToolBlock struct {
	FunctionDeclarations []genFunctionDecl `json:"functionDeclarations"`
}

type genFunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type genGenConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type genResponse struct {
	Candidates    []genCandidate `json:"candidates"`
	UsageMetadata genUsage       `json:"usageMetadata"`
}

type genCandidate struct {
	Content      genContent `json:"content"`
	FinishReason string     `json:"finishReason"`
}

type genUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

func (g *GenerateAdapter) ResolveTurn(ctx context.Context, req domain.TurnRequest) (*domain.TurnResponse, error) {
	model := req.Model
	if model == "" {
		model = g.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = generateMaxTokens
	}

	system, contents := buildGenerateContents(req.Messages)

	body := genRequest{
		Contents: contents,
		GenerationConfig: &genGenConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: maxTokens,
		},
	}
	if system != "" {
		body.SystemInstruction = &genContent{Parts: []genPart{{Text: system}}}
	}
	// Omit tools entirely for an empty subset; the endpoint rejects an
	// empty functionDeclarations list.
	if len(req.Tools) > 0 {
		block := genToolBlock{}
		for _, t := range req.Tools {
			block.FunctionDeclarations = append(block.FunctionDeclarations, genFunctionDecl{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			})
		}
		body.Tools = []genToolBlock{block}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.apiBase, model)
	start := time.Now()
	resp, err := doWithRetry(ctx, g.client, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", g.apiKey)
		return httpReq, nil
	}, g.logger)
	if err != nil {
		return nil, fmt.Errorf("generate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("generate %d: %s", resp.StatusCode, string(respBody))
	}

	var genResp genResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(genResp.Candidates) == 0 {
		return nil, fmt.Errorf("generate: response has no candidates")
	}

	return parseGenerateCandidate(genResp.Candidates[0], genResp.UsageMetadata, time.Since(start).Milliseconds()), nil
}

// buildGenerateContents folds neutral history into the user/model content
// list. System messages become the system instruction. Tool results become
// functionResponse parts on a user content; consecutive results from one
// sweep share a single content, which is how the endpoint expects parallel
// call results back. Assistant turns that requested tools are re-echoed as
// model contents with functionCall parts.
func buildGenerateContents(msgs []domain.Message) (string, []genContent) {
	var system string
	var contents []genContent

	for _, m := range msgs {
		switch m.Role {
		case "system":
			if system == "" {
				system = m.Content
			} else {
				system += "\n\n" + m.Content
			}
		case "tool":
			part := genPart{FunctionResponse: &genFunctionResp{
				Name:     m.ToolName,
				Response: map[string]any{"content": m.Content},
			}}
			if n := len(contents); n > 0 && contents[n-1].Role == "user" && len(contents[n-1].Parts) > 0 && contents[n-1].Parts[0].FunctionResponse != nil {
				contents[n-1].Parts = append(contents[n-1].Parts, part)
			} else {
				contents = append(contents, genContent{Role: "user", Parts: []genPart{part}})
			}
		case "assistant":
			var parts []genPart
			if m.Content != "" {
				parts = append(parts, genPart{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				args := map[string]any{}
				if tc.RawArgs != "" {
					// Best effort: this is our own echo of a parsed call.
					_ = json.Unmarshal([]byte(tc.RawArgs), &args)
				}
				parts = append(parts, genPart{FunctionCall: &genFunctionCall{Name: tc.Name, Args: args}})
			}
			if len(parts) == 0 {
				parts = append(parts, genPart{Text: ""})
			}
			contents = append(contents, genContent{Role: "model", Parts: parts})
		default:
			contents = append(contents, genContent{Role: "user", Parts: []genPart{{Text: m.Content}}})
		}
	}
	return system, contents
}

// parseGenerateCandidate converts one wire candidate into the neutral
// response. Function-call args are re-marshaled into RawArgs and call IDs
// are synthesized; the wire has none.
func parseGenerateCandidate(cand genCandidate, usage genUsage, latencyMs int64) *domain.TurnResponse {
	out := &domain.TurnResponse{
		FinishReason: strings.ToLower(cand.FinishReason),
		Usage: domain.Usage{
			PromptTokens:     usage.PromptTokenCount,
			CompletionTokens: usage.CandidatesTokenCount,
			TotalTokens:      usage.TotalTokenCount,
		},
		LatencyMs: latencyMs,
	}

	var textParts []string
	for _, part := range cand.Content.Parts {
		if part.FunctionCall != nil {
			raw, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				raw = []byte("{}")
			}
			out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
				ID:      "call-" + uuid.NewString(),
				Name:    part.FunctionCall.Name,
				RawArgs: string(raw),
			})
			continue
		}
		if part.Text != "" {
			textParts = append(textParts, part.Text)
		}
	}
	out.Text = strings.Join(textParts, "")
	return out
}
