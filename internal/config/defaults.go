package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Providers: ProvidersConfig{
			Chat: ProviderConfig{
				Enabled:         true,
				APIBase:         "https://api.openai.com/v1",
				DefaultModel:    "gpt-4o-mini",
				RateLimitPerMin: 30,
			},
			Generate: ProviderConfig{
				Enabled:         true,
				APIBase:         "https://generativelanguage.googleapis.com/v1beta",
				DefaultModel:    "gemini-2.0-flash",
				RateLimitPerMin: 30,
			},
		},
		Agents: AgentsConfig{
			Roster:    defaultRoster(),
			Moderator: defaultModerator(),
		},
		Desk: DeskConfig{
			Environment: "demo",
			AccountID:   "demo-1",
			Currency:    "USD",
		},
		Risk: RiskConfig{
			MaxRiskPerTrade: 1.0,
			DailyLossCap:    3.0,
			WeeklyLossCap:   6.0,
			MaxTradesPerDay: 5,
			PolicyMode:      "advisory",
		},
		Journal: JournalConfig{
			DBPath: "~/.tradedesk/journal.db",
		},
		Playbooks: PlaybooksConfig{
			Dir: "~/.tradedesk/playbooks",
		},
		Market: MarketConfig{
			Enabled:    true,
			Symbols:    []string{"US30", "NAS100", "XAUUSD", "EURUSD"},
			IntervalMs: 1000,
		},
		Broker: BrokerConfig{
			Mode: "synthetic",
		},
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8420,
			AuthRequired: false,
		},
		Limits: LimitsConfig{
			MaxIterations:      5,
			MaxParallelTools:   4,
			RequestsPerMinute:  30,
			TurnTimeoutSeconds: 120,
			ToolTimeoutSeconds: 30,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}

func defaultRoster() []AgentProfile {
	return []AgentProfile{
		{
			ID:          "technician",
			DisplayName: "The Technician",
			Provider:    "chat",
			Temperature: 0.4,
			SystemPrompt: "You are the desk's technical analyst. Read price structure, levels, " +
				"and momentum from the data the tools give you. Be specific about entries, " +
				"stops, and invalidation. Never invent prices the tools did not report.",
			AllowedTools: []string{
				"get_broker_snapshot", "get_open_positions", "get_recent_trades", "get_playbooks",
			},
		},
		{
			ID:          "macro",
			DisplayName: "The Macro Strategist",
			Provider:    "generate",
			Temperature: 0.6,
			SystemPrompt: "You are the desk's macro strategist. Frame every question in terms of " +
				"risk sentiment, rates, and index correlation. Flag when the macro backdrop " +
				"disagrees with the requested direction.",
			AllowedTools: []string{
				"get_broker_snapshot", "get_recent_trades", "get_playbooks",
			},
		},
		{
			ID:          "risk-officer",
			DisplayName: "The Risk Officer",
			Provider:    "chat",
			Temperature: 0.2,
			SystemPrompt: "You are the desk's risk officer. Your only loyalty is capital " +
				"preservation. Check every idea against open exposure, realized losses, and " +
				"the desk's risk limits. Use the risk review tool before endorsing anything.",
			AllowedTools: []string{
				"get_broker_snapshot", "get_open_positions", "get_recent_trades",
				"run_risk_review", "append_journal_entry",
			},
		},
	}
}

func defaultModerator() AgentProfile {
	return AgentProfile{
		ID:          "desk-lead",
		DisplayName: "The Desk Lead",
		Provider:    "chat",
		Temperature: 0.3,
		SystemPrompt: "You chair the desk's round table. Weigh each analyst's view, name the " +
			"disagreements out loud, and commit to one plan or explicitly to no trade. " +
			"When you commit to a trade, state entry, stop, targets, and risk percent.",
		AllowedTools: []string{
			"get_broker_snapshot", "run_risk_review",
		},
	}
}
