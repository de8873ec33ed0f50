package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tradedesk/internal/domain"
	"tradedesk/internal/metrics"
	"tradedesk/internal/tool"
)

const (
	defaultMaxIterations    = 5
	defaultMaxTokens        = 4096
	defaultMaxParallelTools = 4
	defaultToolTimeout      = 30 * time.Second
	defaultRateBurst        = 5
	defaultRatePerMinute    = 30.0
)

// ErrIterationLimit marks a turn that was still requesting tools when the
// iteration ceiling tripped. Callers use it to tell "the agent answered"
// apart from "the agent got stuck calling tools forever".
var ErrIterationLimit = errors.New("tool-call iteration limit exceeded")

// AdapterResolver resolves a provider adapter by kind. The provider factory
// implements it; tests substitute fakes.
type AdapterResolver interface {
	Get(kind domain.ProviderKind) (domain.Adapter, error)
}

// Runner drives one agent turn: call the model, execute any requested tools,
// feed the results back, repeat until the model answers in plain text or the
// iteration ceiling trips.
type Runner struct {
	providers        AdapterResolver
	tools            *tool.Registry
	logger           *slog.Logger
	maxIterations    int
	maxParallelTools int
	toolTimeout      time.Duration
	limiter          *RateLimiter
}

// RunnerConfig holds the dependencies and tuning parameters for turn runs.
type RunnerConfig struct {
	Providers         AdapterResolver
	Tools             *tool.Registry
	Logger            *slog.Logger
	MaxIterations     int
	MaxParallelTools  int
	ToolTimeout       time.Duration
	RequestsPerMinute float64
}

func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.MaxParallelTools <= 0 {
		cfg.MaxParallelTools = defaultMaxParallelTools
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = defaultToolTimeout
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = defaultRatePerMinute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		providers:        cfg.Providers,
		tools:            cfg.Tools,
		logger:           cfg.Logger,
		maxIterations:    cfg.MaxIterations,
		maxParallelTools: cfg.MaxParallelTools,
		toolTimeout:      cfg.ToolTimeout,
		limiter:          NewRateLimiter(defaultRateBurst, cfg.RequestsPerMinute),
	}
}

// RunTurn resolves one agent turn over the given history. The history is
// never mutated; the turn works on its own copy. Every tool execution is
// returned in the result for audit, success or not.
func (r *Runner) RunTurn(ctx context.Context, agentCfg domain.AgentConfig, history []domain.Message) (*domain.TurnResult, error) {
	adapter, err := r.providers.Get(agentCfg.Provider)
	if err != nil {
		// A missing credential degrades to a terminal textual answer so one
		// unconfigured provider cannot take down a whole round.
		r.logger.Warn("provider unavailable",
			"agent", agentCfg.ID,
			"provider", agentCfg.Provider,
			"error", err,
		)
		return &domain.TurnResult{
			FinalText: fmt.Sprintf("Provider %q is unavailable: %s", agentCfg.Provider, err),
		}, nil
	}

	maxIter := agentCfg.MaxIterations
	if maxIter <= 0 {
		maxIter = r.maxIterations
	}

	messages := make([]domain.Message, 0, len(history)+1)
	if agentCfg.SystemPrompt != "" && (len(history) == 0 || history[0].Role != "system") {
		messages = append(messages, domain.SystemMessage(agentCfg.SystemPrompt))
	}
	messages = append(messages, history...)

	filter := NewToolFilter(agentCfg.AllowedTools, nil)
	var toolDefs []domain.ToolDefinition
	if r.tools != nil {
		toolDefs = filter.FilterDefinitions(r.tools.GetDefinitions())
	}

	// Reusable semaphore for parallel tool execution.
	toolSem := make(chan struct{}, r.maxParallelTools)

	var collected []domain.ToolResult
	for iteration := 0; iteration < maxIter; iteration++ {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}

		start := time.Now()
		resp, err := adapter.ResolveTurn(ctx, domain.TurnRequest{
			Messages:    messages,
			Tools:       toolDefs,
			Model:       agentCfg.Model,
			MaxTokens:   defaultMaxTokens,
			Temperature: agentCfg.Temperature,
		})
		metrics.ProviderRequests.Inc()
		if err != nil {
			return nil, fmt.Errorf("model call for agent %s: %w", agentCfg.ID, err)
		}
		metrics.ProviderLatency.Observe(time.Since(start).Seconds())

		r.logger.Debug("agent iteration",
			"agent", agentCfg.ID,
			"iteration", iteration+1,
			"tool_calls", len(resp.ToolCalls),
		)

		// No tool calls; the answer is final.
		if !resp.HasToolCalls() {
			metrics.TurnsTotal.Inc()
			clean, draft := ExtractJournalDraft(resp.Text, agentCfg.ID)
			return &domain.TurnResult{
				FinalText:   clean,
				ToolResults: collected,
				Draft:       draft,
				Iterations:  iteration + 1,
			}, nil
		}

		// Echo the model's own tool-request turn before appending results;
		// both wire formats reject results without it.
		messages = append(messages, domain.Message{
			Role:      "assistant",
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		results := r.executeBatch(ctx, filter, resp.ToolCalls, toolSem)
		for i, tc := range resp.ToolCalls {
			messages = append(messages, domain.Message{
				Role:       "tool",
				Content:    results[i].Content,
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
			})
		}
		collected = append(collected, results...)
	}

	// The audit trail survives the failure; callers log or display what the
	// agent did before it hit the ceiling.
	return &domain.TurnResult{
		ToolResults: collected,
		Iterations:  maxIter,
	}, fmt.Errorf("agent %s: %w after %d iterations", agentCfg.ID, ErrIterationLimit, maxIter)
}

// executeBatch runs one batch of requested tool calls with bounded
// concurrency. The result slice is index-aligned with calls; the next model
// call must not start until every slot is filled, so partial batches are
// never sent.
func (r *Runner) executeBatch(ctx context.Context, filter *ToolFilter, calls []domain.ToolCall, sem chan struct{}) []domain.ToolResult {
	results := make([]domain.ToolResult, len(calls))
	var wg sync.WaitGroup

	for i, tc := range calls {
		wg.Add(1)
		go func(idx int, tc domain.ToolCall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[idx] = r.executeCall(ctx, filter, tc)
		}(i, tc)
	}
	wg.Wait()
	return results
}

// executeCall resolves one tool call to a ToolResult. Unknown tools, bad
// argument JSON, and handler errors all become error results fed back to the
// model in-band; none of them abort the loop.
func (r *Runner) executeCall(ctx context.Context, filter *ToolFilter, tc domain.ToolCall) domain.ToolResult {
	res := domain.ToolResult{ToolName: tc.Name}

	if r.tools == nil || r.tools.Get(tc.Name) == nil || !filter.IsAllowed(tc.Name) {
		res.Content = fmt.Sprintf("Error executing tool %s: tool not found", tc.Name)
		res.IsError = true
		metrics.ToolErrors.Inc()
		return res
	}

	args := make(map[string]any)
	if strings.TrimSpace(tc.RawArgs) != "" {
		if err := json.Unmarshal([]byte(tc.RawArgs), &args); err != nil {
			res.Content = fmt.Sprintf("Error executing tool %s: invalid arguments: %s", tc.Name, err)
			res.IsError = true
			metrics.ToolErrors.Inc()
			return res
		}
	}
	res.Args = args

	tctx := ctx
	if r.toolTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, r.toolTimeout)
		defer cancel()
	}

	start := time.Now()
	out, err := r.tools.Execute(tctx, tc.Name, args)
	metrics.ToolExecutionsFor(tc.Name).Inc()
	metrics.ToolLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		res.Content = fmt.Sprintf("Error executing tool %s: %s", tc.Name, err.Error())
		res.IsError = true
		metrics.ToolErrors.Inc()
		return res
	}
	res.Content = out
	return res
}
