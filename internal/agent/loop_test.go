package agent

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"tradedesk/internal/domain"
	"tradedesk/internal/tool"
)

// --- test doubles ---

// scriptedAdapter returns its scripted responses in order and records every
// request it saw. Once the script runs out it answers with a terminal text
// turn so tests never hang on the iteration loop.
type scriptedAdapter struct {
	mu        sync.Mutex
	responses []domain.TurnResponse
	requests  []domain.TurnRequest
	err       error
}

func (a *scriptedAdapter) ResolveTurn(_ context.Context, req domain.TurnRequest) (*domain.TurnResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	a.requests = append(a.requests, req)
	idx := len(a.requests) - 1
	if idx < len(a.responses) {
		resp := a.responses[idx]
		return &resp, nil
	}
	return &domain.TurnResponse{Text: "done", FinishReason: "stop"}, nil
}

func (a *scriptedAdapter) Name() string              { return "scripted" }
func (a *scriptedAdapter) Kind() domain.ProviderKind { return domain.ProviderChat }

func (a *scriptedAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.requests)
}

func (a *scriptedAdapter) request(i int) domain.TurnRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requests[i]
}

type fakeResolver struct {
	adapter domain.Adapter
	err     error
}

func (f *fakeResolver) Get(_ domain.ProviderKind) (domain.Adapter, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.adapter, nil
}

// echoTool answers with a fixed string (or error) and counts executions.
type echoTool struct {
	mu    sync.Mutex
	name  string
	out   string
	err   error
	delay time.Duration
	calls int
}

func (e *echoTool) Name() string               { return e.name }
func (e *echoTool) Description() string        { return "test tool" }
func (e *echoTool) Parameters() map[string]any { return map[string]any{"type": "object"} }

func (e *echoTool) Execute(ctx context.Context, _ map[string]any) (string, error) {
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.err != nil {
		return "", e.err
	}
	return e.out, nil
}

func (e *echoTool) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestRunner(res AdapterResolver, reg *tool.Registry) *Runner {
	return NewRunner(RunnerConfig{
		Providers: res,
		Tools:     reg,
		Logger:    testLogger(),
		// High enough that the limiter never stalls a test.
		RequestsPerMinute: 60000,
	})
}

func testAgent() domain.AgentConfig {
	return domain.AgentConfig{
		ID:           "technician",
		DisplayName:  "Technician",
		Provider:     domain.ProviderChat,
		Model:        "test-model",
		SystemPrompt: "You read charts.",
	}
}

func userHistory(text string) []domain.Message {
	return []domain.Message{domain.UserMessage(text)}
}

// --- RunTurn ---

func TestRunTurn_PlainAnswer(t *testing.T) {
	adapter := &scriptedAdapter{responses: []domain.TurnResponse{
		{Text: "US30 looks range-bound.", FinishReason: "stop"},
	}}
	runner := newTestRunner(&fakeResolver{adapter: adapter}, nil)

	res, err := runner.RunTurn(context.Background(), testAgent(), userHistory("What do you see?"))
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if res.FinalText != "US30 looks range-bound." {
		t.Fatalf("expected final text, got %q", res.FinalText)
	}
	if res.Iterations != 1 {
		t.Fatalf("expected 1 iteration, got %d", res.Iterations)
	}
	if adapter.callCount() != 1 {
		t.Fatalf("expected 1 adapter call, got %d", adapter.callCount())
	}

	req := adapter.request(0)
	if len(req.Messages) != 2 {
		t.Fatalf("expected system+user messages, got %d", len(req.Messages))
	}
	if req.Messages[0].Role != "system" || req.Messages[0].Content != "You read charts." {
		t.Fatalf("expected system prompt first, got %+v", req.Messages[0])
	}
}

func TestRunTurn_SingleToolRoundTrip(t *testing.T) {
	reg := tool.NewRegistry(testLogger())
	snap := &echoTool{name: "get_broker_snapshot", out: "equity 10000"}
	reg.Register(snap)

	adapter := &scriptedAdapter{responses: []domain.TurnResponse{
		{
			ToolCalls:    []domain.ToolCall{{ID: "call-1", Name: "get_broker_snapshot", RawArgs: "{}"}},
			FinishReason: "tool_calls",
		},
		{Text: "Equity is healthy.", FinishReason: "stop"},
	}}
	runner := newTestRunner(&fakeResolver{adapter: adapter}, reg)

	res, err := runner.RunTurn(context.Background(), testAgent(), userHistory("Check the account"))
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if res.FinalText != "Equity is healthy." {
		t.Fatalf("unexpected final text: %q", res.FinalText)
	}
	if res.Iterations != 2 {
		t.Fatalf("expected 2 iterations, got %d", res.Iterations)
	}
	if snap.callCount() != 1 {
		t.Fatalf("expected tool executed once, got %d", snap.callCount())
	}
	if len(res.ToolResults) != 1 {
		t.Fatalf("expected 1 audited tool result, got %d", len(res.ToolResults))
	}
	if res.ToolResults[0].Content != "equity 10000" || res.ToolResults[0].IsError {
		t.Fatalf("unexpected tool result: %+v", res.ToolResults[0])
	}

	// The second request must carry the assistant echo and the correlated
	// tool result.
	second := adapter.request(1)
	n := len(second.Messages)
	if n < 4 {
		t.Fatalf("expected at least 4 messages in second request, got %d", n)
	}
	echo := second.Messages[n-2]
	if echo.Role != "assistant" || len(echo.ToolCalls) != 1 {
		t.Fatalf("expected assistant tool-request echo, got %+v", echo)
	}
	toolMsg := second.Messages[n-1]
	if toolMsg.Role != "tool" || toolMsg.ToolCallID != "call-1" || toolMsg.ToolName != "get_broker_snapshot" {
		t.Fatalf("expected correlated tool message, got %+v", toolMsg)
	}
	if toolMsg.Content != "equity 10000" {
		t.Fatalf("unexpected tool message content: %q", toolMsg.Content)
	}
}

func TestRunTurn_UnknownToolContinues(t *testing.T) {
	reg := tool.NewRegistry(testLogger())

	adapter := &scriptedAdapter{responses: []domain.TurnResponse{
		{ToolCalls: []domain.ToolCall{{ID: "call-1", Name: "launch_rocket", RawArgs: "{}"}}},
		{Text: "Never mind.", FinishReason: "stop"},
	}}
	runner := newTestRunner(&fakeResolver{adapter: adapter}, reg)

	res, err := runner.RunTurn(context.Background(), testAgent(), userHistory("Do it"))
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if len(res.ToolResults) != 1 || !res.ToolResults[0].IsError {
		t.Fatalf("expected one error tool result, got %+v", res.ToolResults)
	}
	if res.ToolResults[0].Content != "Error executing tool launch_rocket: tool not found" {
		t.Fatalf("unexpected error content: %q", res.ToolResults[0].Content)
	}
	if res.FinalText != "Never mind." {
		t.Fatalf("loop should have continued to the terminal answer, got %q", res.FinalText)
	}
}

func TestRunTurn_MalformedArgsContinues(t *testing.T) {
	reg := tool.NewRegistry(testLogger())
	et := &echoTool{name: "get_recent_trades", out: "[]"}
	reg.Register(et)

	adapter := &scriptedAdapter{responses: []domain.TurnResponse{
		{ToolCalls: []domain.ToolCall{{ID: "call-1", Name: "get_recent_trades", RawArgs: `{"limit": `}}},
		{Text: "Skipping that.", FinishReason: "stop"},
	}}
	runner := newTestRunner(&fakeResolver{adapter: adapter}, reg)

	res, err := runner.RunTurn(context.Background(), testAgent(), userHistory("Trades?"))
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if len(res.ToolResults) != 1 || !res.ToolResults[0].IsError {
		t.Fatalf("expected one error tool result, got %+v", res.ToolResults)
	}
	if !strings.Contains(res.ToolResults[0].Content, "invalid arguments") {
		t.Fatalf("expected invalid-arguments error, got %q", res.ToolResults[0].Content)
	}
	if et.callCount() != 0 {
		t.Fatalf("handler must not run on malformed args, got %d calls", et.callCount())
	}
}

func TestRunTurn_HandlerErrorContinues(t *testing.T) {
	reg := tool.NewRegistry(testLogger())
	reg.Register(&echoTool{name: "get_broker_snapshot", err: errors.New("broker down")})

	adapter := &scriptedAdapter{responses: []domain.TurnResponse{
		{ToolCalls: []domain.ToolCall{{ID: "call-1", Name: "get_broker_snapshot", RawArgs: "{}"}}},
		{Text: "Broker is unreachable.", FinishReason: "stop"},
	}}
	runner := newTestRunner(&fakeResolver{adapter: adapter}, reg)

	res, err := runner.RunTurn(context.Background(), testAgent(), userHistory("Snapshot"))
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if len(res.ToolResults) != 1 || !res.ToolResults[0].IsError {
		t.Fatalf("expected one error tool result, got %+v", res.ToolResults)
	}
	if res.ToolResults[0].Content != "Error executing tool get_broker_snapshot: broker down" {
		t.Fatalf("unexpected error content: %q", res.ToolResults[0].Content)
	}
}

func TestRunTurn_IterationCeiling(t *testing.T) {
	reg := tool.NewRegistry(testLogger())
	et := &echoTool{name: "get_broker_snapshot", out: "ok"}
	reg.Register(et)

	// Always request another tool; the loop must stop after maxIterations
	// adapter calls, not answer.
	toolsForever := domain.TurnResponse{
		ToolCalls: []domain.ToolCall{{ID: "call-x", Name: "get_broker_snapshot", RawArgs: "{}"}},
	}
	adapter := &scriptedAdapter{responses: []domain.TurnResponse{
		toolsForever, toolsForever, toolsForever, toolsForever, toolsForever, toolsForever, toolsForever,
	}}
	runner := newTestRunner(&fakeResolver{adapter: adapter}, reg)

	cfg := testAgent()
	cfg.MaxIterations = 3
	res, err := runner.RunTurn(context.Background(), cfg, userHistory("Loop"))
	if !errors.Is(err, ErrIterationLimit) {
		t.Fatalf("expected ErrIterationLimit, got %v", err)
	}
	if adapter.callCount() != 3 {
		t.Fatalf("expected exactly 3 adapter calls, got %d", adapter.callCount())
	}
	if et.callCount() != 3 {
		t.Fatalf("expected 3 tool sweeps, got %d", et.callCount())
	}
	// The audit trail must survive the failure.
	if res == nil || len(res.ToolResults) != 3 {
		t.Fatalf("expected 3 audited tool results with the error, got %+v", res)
	}
	for i, tr := range res.ToolResults {
		if tr.IsError || tr.Content != "ok" {
			t.Fatalf("result %d should be a clean execution, got %+v", i, tr)
		}
	}
}

func TestRunTurn_ProviderUnavailableDegrades(t *testing.T) {
	adapter := &scriptedAdapter{}
	resolver := &fakeResolver{adapter: adapter, err: errors.New("OPENAI_API_KEY is not set")}
	runner := newTestRunner(resolver, nil)

	res, err := runner.RunTurn(context.Background(), testAgent(), userHistory("Hello"))
	if err != nil {
		t.Fatalf("missing credentials must not be an error, got %v", err)
	}
	if !strings.Contains(res.FinalText, "unavailable") || !strings.Contains(res.FinalText, "OPENAI_API_KEY") {
		t.Fatalf("expected terminal error text, got %q", res.FinalText)
	}
	if adapter.callCount() != 0 {
		t.Fatalf("expected no adapter calls, got %d", adapter.callCount())
	}
}

func TestRunTurn_AdapterErrorPropagates(t *testing.T) {
	adapter := &scriptedAdapter{err: errors.New("rate limited")}
	runner := newTestRunner(&fakeResolver{adapter: adapter}, nil)

	res, err := runner.RunTurn(context.Background(), testAgent(), userHistory("Hello"))
	if err == nil {
		t.Fatal("expected adapter error to propagate")
	}
	if res != nil {
		t.Fatalf("expected nil result, got %+v", res)
	}
	if !strings.Contains(err.Error(), "technician") {
		t.Fatalf("error should name the agent, got %v", err)
	}
}

func TestRunTurn_ParallelBatchCompletesBeforeNextCall(t *testing.T) {
	reg := tool.NewRegistry(testLogger())
	slow := &echoTool{name: "get_open_positions", out: "none", delay: 60 * time.Millisecond}
	fast := &echoTool{name: "get_broker_snapshot", out: "equity 10000"}
	reg.Register(slow)
	reg.Register(fast)

	adapter := &scriptedAdapter{responses: []domain.TurnResponse{
		{ToolCalls: []domain.ToolCall{
			{ID: "call-1", Name: "get_open_positions", RawArgs: "{}"},
			{ID: "call-2", Name: "get_broker_snapshot", RawArgs: "{}"},
		}},
		{Text: "Flat book, healthy equity.", FinishReason: "stop"},
	}}
	runner := newTestRunner(&fakeResolver{adapter: adapter}, reg)

	res, err := runner.RunTurn(context.Background(), testAgent(), userHistory("Status"))
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if len(res.ToolResults) != 2 {
		t.Fatalf("expected 2 tool results, got %d", len(res.ToolResults))
	}
	// Results stay in call order even though the slow tool finishes last.
	if res.ToolResults[0].ToolName != "get_open_positions" || res.ToolResults[1].ToolName != "get_broker_snapshot" {
		t.Fatalf("results out of call order: %+v", res.ToolResults)
	}

	// Both results must be in the second request; a partial batch would mean
	// the next call started early.
	second := adapter.request(1)
	var toolMsgs []domain.Message
	for _, m := range second.Messages {
		if m.Role == "tool" {
			toolMsgs = append(toolMsgs, m)
		}
	}
	if len(toolMsgs) != 2 {
		t.Fatalf("expected 2 tool messages in second request, got %d", len(toolMsgs))
	}
	if toolMsgs[0].ToolCallID != "call-1" || toolMsgs[1].ToolCallID != "call-2" {
		t.Fatalf("tool messages out of order: %+v", toolMsgs)
	}
}

func TestRunTurn_ToolSubsetFiltered(t *testing.T) {
	reg := tool.NewRegistry(testLogger())
	reg.Register(&echoTool{name: "get_broker_snapshot", out: "ok"})
	reg.Register(&echoTool{name: "append_journal_entry", out: "saved"})

	adapter := &scriptedAdapter{responses: []domain.TurnResponse{
		// The model tries a tool outside the agent's subset.
		{ToolCalls: []domain.ToolCall{{ID: "call-1", Name: "append_journal_entry", RawArgs: "{}"}}},
		{Text: "Understood.", FinishReason: "stop"},
	}}
	runner := newTestRunner(&fakeResolver{adapter: adapter}, reg)

	cfg := testAgent()
	cfg.AllowedTools = []string{"get_broker_snapshot"}
	res, err := runner.RunTurn(context.Background(), cfg, userHistory("Journal this"))
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	// Only the allowed definition goes out.
	first := adapter.request(0)
	if len(first.Tools) != 1 || first.Tools[0].Name != "get_broker_snapshot" {
		t.Fatalf("expected filtered tool definitions, got %+v", first.Tools)
	}
	// The out-of-subset call is refused in-band.
	if len(res.ToolResults) != 1 || !res.ToolResults[0].IsError {
		t.Fatalf("expected refused tool call, got %+v", res.ToolResults)
	}
	if !strings.Contains(res.ToolResults[0].Content, "tool not found") {
		t.Fatalf("unexpected refusal content: %q", res.ToolResults[0].Content)
	}
}

func TestRunTurn_NoRegistryOmitsTools(t *testing.T) {
	adapter := &scriptedAdapter{responses: []domain.TurnResponse{
		{Text: "Just talking.", FinishReason: "stop"},
	}}
	runner := newTestRunner(&fakeResolver{adapter: adapter}, nil)

	if _, err := runner.RunTurn(context.Background(), testAgent(), userHistory("Hi")); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if tools := adapter.request(0).Tools; len(tools) != 0 {
		t.Fatalf("expected no tool definitions, got %+v", tools)
	}
}

func TestRunTurn_DraftExtracted(t *testing.T) {
	text := "Logged the session.\n" + JournalSentinel + ` {"title": "Chop day", "summary": "Stayed flat", "sentiment": "neutral"}`
	adapter := &scriptedAdapter{responses: []domain.TurnResponse{
		{Text: text, FinishReason: "stop"},
	}}
	runner := newTestRunner(&fakeResolver{adapter: adapter}, nil)

	res, err := runner.RunTurn(context.Background(), testAgent(), userHistory("Wrap up"))
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if res.FinalText != "Logged the session." {
		t.Fatalf("expected sentinel stripped, got %q", res.FinalText)
	}
	if res.Draft == nil || res.Draft.Title != "Chop day" {
		t.Fatalf("expected extracted draft, got %+v", res.Draft)
	}
	if res.Draft.AgentID != "technician" {
		t.Fatalf("draft should carry the agent id, got %q", res.Draft.AgentID)
	}
}

func TestRunTurn_HistoryNotMutated(t *testing.T) {
	reg := tool.NewRegistry(testLogger())
	reg.Register(&echoTool{name: "get_broker_snapshot", out: "ok"})

	adapter := &scriptedAdapter{responses: []domain.TurnResponse{
		{ToolCalls: []domain.ToolCall{{ID: "call-1", Name: "get_broker_snapshot", RawArgs: "{}"}}},
		{Text: "Done.", FinishReason: "stop"},
	}}
	runner := newTestRunner(&fakeResolver{adapter: adapter}, reg)

	history := userHistory("Check")
	if _, err := runner.RunTurn(context.Background(), testAgent(), history); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if len(history) != 1 || history[0].Content != "Check" {
		t.Fatalf("caller history mutated: %+v", history)
	}
}

func TestRunTurn_SystemPromptNotDuplicated(t *testing.T) {
	adapter := &scriptedAdapter{responses: []domain.TurnResponse{
		{Text: "ok", FinishReason: "stop"},
	}}
	runner := newTestRunner(&fakeResolver{adapter: adapter}, nil)

	history := []domain.Message{
		domain.SystemMessage("Existing system prompt."),
		domain.UserMessage("Hi"),
	}
	if _, err := runner.RunTurn(context.Background(), testAgent(), history); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	req := adapter.request(0)
	systems := 0
	for _, m := range req.Messages {
		if m.Role == "system" {
			systems++
		}
	}
	if systems != 1 {
		t.Fatalf("expected exactly 1 system message, got %d", systems)
	}
	if req.Messages[0].Content != "Existing system prompt." {
		t.Fatalf("caller system prompt should win, got %q", req.Messages[0].Content)
	}
}

func TestNewRunner_Defaults(t *testing.T) {
	r := NewRunner(RunnerConfig{Providers: &fakeResolver{}})
	if r.maxIterations != defaultMaxIterations {
		t.Fatalf("expected default max iterations %d, got %d", defaultMaxIterations, r.maxIterations)
	}
	if r.maxParallelTools != defaultMaxParallelTools {
		t.Fatalf("expected default parallelism %d, got %d", defaultMaxParallelTools, r.maxParallelTools)
	}
	if r.toolTimeout != defaultToolTimeout {
		t.Fatalf("expected default tool timeout %v, got %v", defaultToolTimeout, r.toolTimeout)
	}
	if r.logger == nil || r.limiter == nil {
		t.Fatal("logger and limiter must be defaulted")
	}
}
