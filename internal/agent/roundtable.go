package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradedesk/internal/domain"
	"tradedesk/internal/metrics"
)

const defaultAgentTimeout = 120 * time.Second

// RoundTable fans one question out to every analyst persona concurrently,
// then has a moderator persona synthesize their answers into a desk view.
// If the moderator proposes a trade, the plan goes through the risk gate
// before the result is handed back.
type RoundTable struct {
	runner       *Runner
	roster       []domain.AgentConfig
	moderator    domain.AgentConfig
	desk         domain.DeskContext
	agentTimeout time.Duration
	logger       *slog.Logger
}

// RoundTableConfig configures one round-table orchestrator.
type RoundTableConfig struct {
	Runner       *Runner
	Roster       []domain.AgentConfig
	Moderator    domain.AgentConfig
	Desk         domain.DeskContext
	AgentTimeout time.Duration
	Logger       *slog.Logger
}

func NewRoundTable(cfg RoundTableConfig) *RoundTable {
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = defaultAgentTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RoundTable{
		runner:       cfg.Runner,
		roster:       cfg.Roster,
		moderator:    cfg.Moderator,
		desk:         cfg.Desk,
		agentTimeout: cfg.AgentTimeout,
		logger:       cfg.Logger,
	}
}

// Run executes one full round: concurrent roster fan-out, moderator
// synthesis, and the risk gate for any proposed plan. A failed agent fills
// its slot with an error string; only an empty roster fails the round itself.
func (rt *RoundTable) Run(ctx context.Context, question string) (*domain.RoundTableResult, error) {
	if len(rt.roster) == 0 {
		return nil, fmt.Errorf("round table has no agents")
	}

	start := time.Now()
	result := &domain.RoundTableResult{
		RoundID:  uuid.NewString(),
		Question: question,
	}

	brief := DeskBrief(ctx, rt.desk)

	// Fan out. Result slots are fixed by roster order here, not by whichever
	// network call happens to finish first.
	turns := make([]domain.AgentTurn, len(rt.roster))
	var wg sync.WaitGroup
	for i, agentCfg := range rt.roster {
		wg.Add(1)
		go func(idx int, cfg domain.AgentConfig) {
			defer wg.Done()
			turns[idx] = rt.runAgent(ctx, cfg, brief, question)
		}(i, agentCfg)
	}
	wg.Wait()
	result.AgentTurns = turns

	// The moderator goes through the same loop as everyone else, so it can
	// call tools (a final risk review, say) before committing to an answer.
	synthesis, plan := rt.moderate(ctx, question, turns)
	result.Synthesis = synthesis

	if plan != nil {
		result.ProposedPlan = plan
		if rt.desk != nil {
			verdict, err := rt.desk.RiskReview(ctx, *plan)
			if err != nil {
				rt.logger.Warn("risk review failed", "round", result.RoundID, "error", err)
			} else {
				result.Verdict = verdict
				if !verdict.Allowed {
					metrics.RiskRejections.Inc()
				}
			}
		}
	}

	result.DurationMs = time.Since(start).Milliseconds()
	metrics.RoundTablesTotal.Inc()

	rt.logger.Info("round table complete",
		"round", result.RoundID,
		"agents", len(turns),
		"has_plan", plan != nil,
		"duration_ms", result.DurationMs,
	)
	return result, nil
}

// runAgent runs one analyst with its own timeout and a fresh history seeded
// from the shared brief. Agents never see or mutate each other's history.
func (rt *RoundTable) runAgent(ctx context.Context, cfg domain.AgentConfig, brief, question string) domain.AgentTurn {
	actx, cancel := context.WithTimeout(ctx, rt.agentTimeout)
	defer cancel()

	start := time.Now()
	turn := domain.AgentTurn{AgentID: cfg.ID, DisplayName: cfg.DisplayName}

	cfg.SystemPrompt = AgentSystemPrompt(cfg)
	history := []domain.Message{domain.UserMessage(RoundTablePrompt(brief, question))}

	res, err := rt.runner.RunTurn(actx, cfg, history)
	turn.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		rt.logger.Warn("agent turn failed", "agent", cfg.ID, "error", err)
		turn.Err = err.Error()
		if res != nil {
			// Iteration-limit failures still carry their audit trail.
			turn.ToolResults = res.ToolResults
		}
		return turn
	}
	turn.Text = res.FinalText
	turn.ToolResults = res.ToolResults
	turn.Draft = res.Draft
	return turn
}

// moderate runs the synthesis pass. When the moderator itself fails, the
// panel answers are stitched together verbatim so the caller still gets
// every agent's contribution.
func (rt *RoundTable) moderate(ctx context.Context, question string, turns []domain.AgentTurn) (string, *domain.TradePlan) {
	mctx, cancel := context.WithTimeout(ctx, rt.agentTimeout)
	defer cancel()

	modCfg := rt.moderator
	modCfg.SystemPrompt = ModeratorSystemPrompt(modCfg)
	history := []domain.Message{domain.UserMessage(SynthesisPrompt(question, turns))}

	res, err := rt.runner.RunTurn(mctx, modCfg, history)
	if err != nil {
		rt.logger.Warn("moderator synthesis failed, stitching agent answers", "error", err)
		return stitchedSynthesis(turns), nil
	}

	return ExtractTradePlan(res.FinalText)
}
