package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for tradedesk.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Providers ProvidersConfig `json:"providers"`
	Agents    AgentsConfig    `json:"agents"`
	Desk      DeskConfig      `json:"desk"`
	Risk      RiskConfig      `json:"risk"`
	Journal   JournalConfig   `json:"journal"`
	Playbooks PlaybooksConfig `json:"playbooks"`
	Market    MarketConfig    `json:"market"`
	Broker    BrokerConfig    `json:"broker"`
	Server    ServerConfig    `json:"server"`
	Limits    LimitsConfig    `json:"limits"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"`
}

// ProvidersConfig holds one block per wire protocol. The chat block is any
// OpenAI-compatible chat-completions endpoint; the generate block is a
// Gemini-style generateContent endpoint.
type ProvidersConfig struct {
	Chat     ProviderConfig `json:"chat"`
	Generate ProviderConfig `json:"generate"`
}

type ProviderConfig struct {
	Enabled         bool   `json:"enabled"`
	APIBase         string `json:"apiBase,omitempty"`
	APIKey          string `json:"apiKey,omitempty"`
	DefaultModel    string `json:"defaultModel,omitempty"`
	RateLimitPerMin int    `json:"rateLimitPerMinute,omitempty"`
}

// AgentsConfig defines the persona roster and the moderator that closes a
// round table.
type AgentsConfig struct {
	Roster    []AgentProfile `json:"roster"`
	Moderator AgentProfile   `json:"moderator"`
}

// AgentProfile configures one persona on the desk.
type AgentProfile struct {
	ID            string   `json:"id"`
	DisplayName   string   `json:"displayName"`
	Provider      string   `json:"provider"` // chat | generate
	Model         string   `json:"model,omitempty"`
	Temperature   float64  `json:"temperature,omitempty"`
	SystemPrompt  string   `json:"systemPrompt,omitempty"`
	AllowedTools  []string `json:"allowedTools,omitempty"`
	MaxIterations int      `json:"maxIterations,omitempty"`
}

type DeskConfig struct {
	Environment string `json:"environment"` // demo | live
	AccountID   string `json:"accountId,omitempty"`
	Currency    string `json:"currency,omitempty"`
}

type RiskConfig struct {
	MaxRiskPerTrade  float64  `json:"maxRiskPerTrade"` // percent of equity
	DailyLossCap     float64  `json:"dailyLossCap"`
	WeeklyLossCap    float64  `json:"weeklyLossCap"`
	MaxTradesPerDay  int      `json:"maxTradesPerDay"`
	PolicyMode       string   `json:"policyMode"` // advisory | enforced
	AllowedPlaybooks []string `json:"allowedPlaybooks,omitempty"`
}

type JournalConfig struct {
	DBPath string `json:"dbPath"`
}

type PlaybooksConfig struct {
	Dir string `json:"dir"`
}

type MarketConfig struct {
	Enabled    bool     `json:"enabled"`
	Symbols    []string `json:"symbols"`
	IntervalMs int      `json:"intervalMs"`
}

type BrokerConfig struct {
	Mode      string `json:"mode"` // synthetic | rest
	APIBase   string `json:"apiBase,omitempty"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
	APIKey    string `json:"apiKey,omitempty"`
	AccountID string `json:"accountId,omitempty"`
}

type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	AuthRequired bool   `json:"authRequired"`
	AuthToken    string `json:"authToken,omitempty"`
}

// LimitsConfig bounds the orchestration engine.
type LimitsConfig struct {
	MaxIterations      int `json:"maxIterations"`      // tool-call resolution rounds per turn
	MaxParallelTools   int `json:"maxParallelTools"`   // concurrent handlers per sweep
	RequestsPerMinute  int `json:"requestsPerMinute"`  // provider call budget per runner
	TurnTimeoutSeconds int `json:"turnTimeoutSeconds"` // whole-agent-turn deadline
	ToolTimeoutSeconds int `json:"toolTimeoutSeconds"` // single handler deadline
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.tradedesk).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tradedesk"
	}
	return filepath.Join(home, ".tradedesk")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Journal.DBPath = ExpandPath(cfg.Journal.DBPath)
	cfg.Playbooks.Dir = ExpandPath(cfg.Playbooks.Dir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values. Missing provider API
// keys are deliberately not an error here: an unconfigured provider degrades
// to a textual error turn for the agents that need it, which is a runtime
// concern, not a startup one.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Server.AuthRequired && cfg.Server.AuthToken == "" {
		errs = append(errs, "server.authToken is required when server.authRequired is true")
	}

	if len(cfg.Agents.Roster) == 0 {
		errs = append(errs, "agents.roster must contain at least one agent")
	}
	seen := map[string]bool{}
	for i, a := range cfg.Agents.Roster {
		if a.ID == "" {
			errs = append(errs, fmt.Sprintf("agents.roster[%d]: id is required", i))
			continue
		}
		if seen[a.ID] {
			errs = append(errs, fmt.Sprintf("agents.roster[%d]: duplicate agent id %q", i, a.ID))
		}
		seen[a.ID] = true
		if err := validateProviderKind(a.Provider); err != "" {
			errs = append(errs, fmt.Sprintf("agents.roster[%d]: %s", i, err))
		}
		if a.Temperature < 0 || a.Temperature > 2 {
			errs = append(errs, fmt.Sprintf("agents.roster[%d]: temperature must be between 0 and 2", i))
		}
	}
	if cfg.Agents.Moderator.ID == "" {
		errs = append(errs, "agents.moderator.id is required")
	} else if err := validateProviderKind(cfg.Agents.Moderator.Provider); err != "" {
		errs = append(errs, "agents.moderator: "+err)
	}

	switch cfg.Desk.Environment {
	case "demo", "live":
		// valid
	default:
		errs = append(errs, "desk.environment must be one of: demo, live")
	}

	if cfg.Risk.MaxRiskPerTrade <= 0 {
		errs = append(errs, "risk.maxRiskPerTrade must be > 0")
	}
	if cfg.Risk.DailyLossCap < 0 || cfg.Risk.WeeklyLossCap < 0 {
		errs = append(errs, "risk.dailyLossCap and risk.weeklyLossCap must be >= 0")
	}
	if cfg.Risk.MaxTradesPerDay < 0 {
		errs = append(errs, "risk.maxTradesPerDay must be >= 0")
	}
	switch cfg.Risk.PolicyMode {
	case "advisory", "enforced":
		// valid
	default:
		errs = append(errs, "risk.policyMode must be one of: advisory, enforced")
	}

	if cfg.Market.Enabled {
		if len(cfg.Market.Symbols) == 0 {
			errs = append(errs, "market.symbols must not be empty when market is enabled")
		}
		if cfg.Market.IntervalMs < 100 {
			errs = append(errs, "market.intervalMs must be >= 100")
		}
	}

	switch cfg.Broker.Mode {
	case "synthetic":
		// no credentials needed
	case "rest":
		if cfg.Broker.APIBase == "" {
			errs = append(errs, "broker.apiBase is required for rest mode")
		}
		if cfg.Broker.Username == "" || cfg.Broker.Password == "" {
			errs = append(errs, "broker.username and broker.password are required for rest mode")
		}
	default:
		errs = append(errs, "broker.mode must be one of: synthetic, rest")
	}

	if cfg.Limits.MaxIterations < 1 || cfg.Limits.MaxIterations > 50 {
		errs = append(errs, "limits.maxIterations must be between 1 and 50")
	}
	if cfg.Limits.MaxParallelTools < 1 || cfg.Limits.MaxParallelTools > 16 {
		errs = append(errs, "limits.maxParallelTools must be between 1 and 16")
	}
	if cfg.Limits.TurnTimeoutSeconds < 1 {
		errs = append(errs, "limits.turnTimeoutSeconds must be >= 1")
	}
	if cfg.Limits.ToolTimeoutSeconds < 1 {
		errs = append(errs, "limits.toolTimeoutSeconds must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateProviderKind(kind string) string {
	switch kind {
	case "chat", "generate":
		return ""
	default:
		return fmt.Sprintf("provider must be one of: chat, generate (got %q)", kind)
	}
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
