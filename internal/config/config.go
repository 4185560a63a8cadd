package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main cvpilot configuration
type Config struct {
	// Data directory (database, artifacts, logs)
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Session lifecycle
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Turn loop policy
	Orchestrator OrchestratorConfig `json:"orchestrator" mapstructure:"orchestrator"`

	// Artifact rendering
	Artifact ArtifactConfig `json:"artifact" mapstructure:"artifact"`

	// Job posting fetcher
	JobFetch JobFetchConfig `json:"job_fetch" mapstructure:"job_fetch"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// AI configuration
	AI AIConfig `json:"ai" mapstructure:"ai"`
}

// SessionConfig holds session store settings
type SessionConfig struct {
	TTLHours         int    `json:"ttl_hours" mapstructure:"ttl_hours"`
	SweepSpec        string `json:"sweep_spec" mapstructure:"sweep_spec"` // cron expression
	MaxPropertyBytes int    `json:"max_property_bytes" mapstructure:"max_property_bytes"`
}

// OrchestratorConfig holds turn loop settings
type OrchestratorConfig struct {
	Model               string         `json:"model" mapstructure:"model"`
	Temperature         float64        `json:"temperature" mapstructure:"temperature"`
	MaxTokens           int            `json:"max_tokens" mapstructure:"max_tokens"`
	ReviewTurnLimit     int            `json:"review_turn_limit" mapstructure:"review_turn_limit"`
	StageBudgets        map[string]int `json:"stage_budgets" mapstructure:"stage_budgets"`
	AgentTimeoutSeconds int            `json:"agent_timeout_seconds" mapstructure:"agent_timeout_seconds"`
	ToolTimeoutSeconds  int            `json:"tool_timeout_seconds" mapstructure:"tool_timeout_seconds"`
	PackMaxBytes        int            `json:"pack_max_bytes" mapstructure:"pack_max_bytes"`
}

// ArtifactConfig holds artifact generation settings
type ArtifactConfig struct {
	Dir                  string `json:"dir" mapstructure:"dir"`
	RenderTimeoutSeconds int    `json:"render_timeout_seconds" mapstructure:"render_timeout_seconds"`
	CacheTTLMinutes      int    `json:"cache_ttl_minutes" mapstructure:"cache_ttl_minutes"`
}

// JobFetchConfig holds job posting fetcher settings
type JobFetchConfig struct {
	Enabled        bool `json:"enabled" mapstructure:"enabled"`
	TimeoutSeconds int  `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	MaxTextBytes   int  `json:"max_text_bytes" mapstructure:"max_text_bytes"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// AIConfig holds AI provider configuration
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
}

// AIProfile represents an AI provider profile
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			TTLHours:         24,
			SweepSpec:        "@every 15m",
			MaxPropertyBytes: 8192,
		},
		Orchestrator: OrchestratorConfig{
			Model:               "claude-sonnet-4",
			Temperature:         0.3,
			MaxTokens:           4096,
			ReviewTurnLimit:     5,
			StageBudgets:        map[string]int{},
			AgentTimeoutSeconds: 60,
			ToolTimeoutSeconds:  30,
			PackMaxBytes:        64 * 1024,
		},
		Artifact: ArtifactConfig{
			RenderTimeoutSeconds: 60,
			CacheTTLMinutes:      15,
		},
		JobFetch: JobFetchConfig{
			Enabled:        true,
			TimeoutSeconds: 30,
			MaxTextBytes:   32 * 1024,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Redaction: true,
		},
		AI: AIConfig{
			Profiles: []AIProfile{},
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.AI.Profiles) == 0 {
		return fmt.Errorf("no AI credentials configured: at least one AI profile is required")
	}

	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		if profile.Provider == "" {
			return fmt.Errorf("AI profile %s: provider is required", profile.ID)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("AI profile %s: api_key is required", profile.ID)
		}
		if profile.Provider != "anthropic" && profile.Provider != "openai" {
			return fmt.Errorf("AI profile %s: invalid provider %s (must be: anthropic, openai)", profile.ID, profile.Provider)
		}
	}

	if c.Session.TTLHours <= 0 {
		return fmt.Errorf("session ttl_hours must be positive, got %d", c.Session.TTLHours)
	}
	if c.Session.MaxPropertyBytes <= 0 {
		return fmt.Errorf("session max_property_bytes must be positive, got %d", c.Session.MaxPropertyBytes)
	}
	if c.Orchestrator.ReviewTurnLimit <= 0 {
		return fmt.Errorf("orchestrator review_turn_limit must be positive, got %d", c.Orchestrator.ReviewTurnLimit)
	}
	for stage, n := range c.Orchestrator.StageBudgets {
		if n <= 0 {
			return fmt.Errorf("orchestrator stage budget for %s must be positive, got %d", stage, n)
		}
	}
	if c.Orchestrator.Model == "" {
		return fmt.Errorf("orchestrator model is required")
	}

	return nil
}
