package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradedesk/internal/agent"
	"tradedesk/internal/broker"
	"tradedesk/internal/config"
	"tradedesk/internal/desk"
	"tradedesk/internal/domain"
	"tradedesk/internal/journal"
	"tradedesk/internal/market"
	"tradedesk/internal/playbook"
	"tradedesk/internal/provider"
	"tradedesk/internal/risk"
	"tradedesk/internal/server"
	"tradedesk/internal/tool"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard API and the agent desk",
		Long:  "Assembles the broker, journal, playbooks, risk gate and agent roster, then serves the dashboard API until interrupted.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config (run 'tradedesk init' to create one): %w", err)
	}

	logger = newLogger(cfg.General)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := journal.NewStore(cfg.Journal.DBPath, logger)
	if err != nil {
		return fmt.Errorf("journal store: %w", err)
	}
	defer store.Close()

	library, err := playbook.Load(cfg.Playbooks.Dir, logger)
	if err != nil {
		return fmt.Errorf("playbook library: %w", err)
	}

	var feed *market.Feed
	if cfg.Market.Enabled {
		feed = market.NewFeed(market.FeedConfig{
			Seeds:    market.SeedsFor(cfg.Market.Symbols),
			Interval: time.Duration(cfg.Market.IntervalMs) * time.Millisecond,
			Logger:   logger,
		})
		go feed.Run(ctx)
	}

	venue, err := buildBroker(cfg, feed)
	if err != nil {
		return fmt.Errorf("broker: %w", err)
	}

	d := desk.New(desk.Config{
		Broker:    venue,
		Journal:   store,
		Playbooks: library,
		Risk:      risk.NewEvaluator(riskLimits(cfg)),
		Policy:    deskPolicy(cfg),
		Logger:    logger,
	})

	registry := tool.NewRegistry(logger)
	registerDeskTools(registry, d)

	runner := agent.NewRunner(agent.RunnerConfig{
		Providers:         provider.NewFactory(cfg, logger),
		Tools:             registry,
		Logger:            logger,
		MaxIterations:     cfg.Limits.MaxIterations,
		MaxParallelTools:  cfg.Limits.MaxParallelTools,
		ToolTimeout:       time.Duration(cfg.Limits.ToolTimeoutSeconds) * time.Second,
		RequestsPerMinute: float64(cfg.Limits.RequestsPerMinute),
	})

	roster := agentRoster(cfg.Agents.Roster)
	roundTable := agent.NewRoundTable(agent.RoundTableConfig{
		Runner:       runner,
		Roster:       roster,
		Moderator:    agentProfile(cfg.Agents.Moderator),
		Desk:         d,
		AgentTimeout: time.Duration(cfg.Limits.TurnTimeoutSeconds) * time.Second,
		Logger:       logger,
	})

	logger.Info("desk assembled",
		"broker", venue.Name(),
		"agents", len(roster),
		"playbooks", len(library.All()),
		"environment", cfg.Desk.Environment)

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Endpoint
	}
	srv := server.New(server.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		AuthRequired: cfg.Server.AuthRequired,
		AuthToken:    cfg.Server.AuthToken,
		Version:      version,
		MetricsPath:  metricsPath,
		TurnTimeout:  time.Duration(cfg.Limits.TurnTimeoutSeconds) * time.Second,
		Runner:       runner,
		RoundTable:   roundTable,
		Roster:       roster,
		Desk:         d,
		Journal:      store,
		Feed:         feed,
		Logger:       logger,
	})
	return srv.Start(ctx)
}

// buildBroker picks the trading venue from config. The synthetic venue fills
// against the local feed; the rest venue talks to a real execution API.
func buildBroker(cfg *config.Config, feed *market.Feed) (broker.Broker, error) {
	switch cfg.Broker.Mode {
	case "", "synthetic":
		return broker.NewSynthetic(broker.SyntheticConfig{
			Feed:      feed,
			AccountID: cfg.Desk.AccountID,
			Currency:  cfg.Desk.Currency,
			Logger:    logger,
		}), nil
	case "rest":
		return broker.NewREST(broker.RESTConfig{
			APIBase:   cfg.Broker.APIBase,
			Username:  cfg.Broker.Username,
			Password:  cfg.Broker.Password,
			AccountID: cfg.Broker.AccountID,
			Logger:    logger,
		})
	default:
		return nil, fmt.Errorf("unknown broker mode %q", cfg.Broker.Mode)
	}
}

// registerDeskTools registers the shared tool set every agent selects from.
// Per-agent visibility is narrowed by each profile's allowedTools list.
func registerDeskTools(registry *tool.Registry, d *desk.Desk) {
	registry.Register(tool.NewBrokerSnapshotTool(d))
	registry.Register(tool.NewOpenPositionsTool(d))
	registry.Register(tool.NewRecentTradesTool(d))
	registry.Register(tool.NewAppendJournalTool(d, ""))
	registry.Register(tool.NewPlaybooksTool(d))
	registry.Register(tool.NewRiskReviewTool(d))
}

func riskLimits(cfg *config.Config) domain.RiskLimits {
	return domain.RiskLimits{
		MaxRiskPerTrade: cfg.Risk.MaxRiskPerTrade,
		DailyLossCap:    cfg.Risk.DailyLossCap,
		WeeklyLossCap:   cfg.Risk.WeeklyLossCap,
		MaxTradesPerDay: cfg.Risk.MaxTradesPerDay,
	}
}

func deskPolicy(cfg *config.Config) *domain.DeskPolicy {
	if cfg.Risk.PolicyMode == "" && len(cfg.Risk.AllowedPlaybooks) == 0 {
		return nil
	}
	return &domain.DeskPolicy{
		Mode:             cfg.Risk.PolicyMode,
		AllowedPlaybooks: cfg.Risk.AllowedPlaybooks,
	}
}

func agentRoster(profiles []config.AgentProfile) []domain.AgentConfig {
	roster := make([]domain.AgentConfig, 0, len(profiles))
	for _, p := range profiles {
		roster = append(roster, agentProfile(p))
	}
	return roster
}

func agentProfile(p config.AgentProfile) domain.AgentConfig {
	return domain.AgentConfig{
		ID:            p.ID,
		DisplayName:   p.DisplayName,
		Provider:      domain.ProviderKind(p.Provider),
		Model:         p.Model,
		Temperature:   p.Temperature,
		SystemPrompt:  p.SystemPrompt,
		AllowedTools:  p.AllowedTools,
		MaxIterations: p.MaxIterations,
	}
}
