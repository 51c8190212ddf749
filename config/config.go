// Package config loads and validates the ConvoFlow configuration. Routing
// rules, timeouts and retry counts are deliberately configuration rather
// than constants; the defaults returned by Default mirror the values used
// throughout the documentation and tests.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Rule is one entry of the ordered routing table. A rule matches when the
// session phase is listed in Phases (or Phases is empty) and, if Keywords is
// non-empty, at least one keyword occurs in the turn text. Evaluation is
// first-match-wins.
type Rule struct {
	Agent    string   `yaml:"agent"`
	Phases   []string `yaml:"phases,omitempty"`
	Keywords []string `yaml:"keywords,omitempty"`
}

// Config is the full tunable surface of the orchestrator core.
type Config struct {
	// Routing is the ordered rule table. Inputs falling through every rule
	// resolve to DefaultAgent.
	Routing []Rule `yaml:"routing"`

	// DefaultAgent is the catch-all target, conventionally the Context agent.
	DefaultAgent string `yaml:"default_agent"`

	// CompletionKeywords end the conversation when matched; the router then
	// short-circuits dispatch with ClosingReply and the session phase
	// becomes idle.
	CompletionKeywords []string `yaml:"completion_keywords,omitempty"`

	// AgentTimeout is the default per-dispatch deadline; AgentTimeouts
	// overrides it per agent name.
	AgentTimeout  time.Duration            `yaml:"agent_timeout"`
	AgentTimeouts map[string]time.Duration `yaml:"agent_timeouts,omitempty"`

	// Retries is the number of automatic re-dispatches after a timeout or
	// agent processing error before the turn is marked failed.
	Retries int `yaml:"retries"`

	// FallbackReply is the user-visible reply for a failed turn.
	FallbackReply string `yaml:"fallback_reply"`

	// ClosingReply is returned when the router concludes the conversation.
	ClosingReply string `yaml:"closing_reply"`

	// HistoryLimit bounds the turn history retained per context.
	HistoryLimit int `yaml:"history_limit"`

	// IdleTimeout is how long a session may stay inactive before the
	// supervisor tears it down. Zero disables the reaper.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// BusBufferSize sets the per-topic queue capacity of the event bus.
	BusBufferSize int `yaml:"bus_buffer_size"`

	// StoreFailureThreshold is the number of consecutive context store
	// failures after which the supervisor stops accepting new sessions.
	StoreFailureThreshold int `yaml:"store_failure_threshold"`
}

// Default returns the baseline configuration: the four stock agents, a
// Context catch-all, one retry and conservative timeouts.
func Default() Config {
	return Config{
		Routing: []Rule{
			{Agent: "GoalSetting", Phases: []string{"morning-goal-setting"}},
			{Agent: "GoalSetting", Keywords: []string{"goal", "want to", "plan to", "achieve"}},
			{Agent: "Reflection", Phases: []string{"evening-reflection"}},
			{Agent: "Reflection", Keywords: []string{"today i", "went well", "learned", "grateful"}},
			{Agent: "Challenge", Keywords: []string{"stuck", "hard", "struggle", "can't", "difficult"}},
		},
		DefaultAgent:          "Context",
		CompletionKeywords:    []string{"goodbye", "that's all", "see you tomorrow"},
		AgentTimeout:          5 * time.Second,
		Retries:               1,
		FallbackReply:         "I couldn't process that, please try again",
		ClosingReply:          "Talk to you soon. I'll keep everything we discussed in mind.",
		HistoryLimit:          50,
		IdleTimeout:           30 * time.Minute,
		BusBufferSize:         100,
		StoreFailureThreshold: 3,
	}
}

// Duration accepts Go duration strings ("5s", "30m") in YAML documents in
// addition to plain nanosecond integers.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration node: %w", err)
	}
	*d = Duration(n)
	return nil
}

// fileConfig is the on-disk schema. It mirrors Config with Duration wrappers
// so timeouts can be written as human-readable strings.
type fileConfig struct {
	Routing               []Rule              `yaml:"routing"`
	DefaultAgent          string              `yaml:"default_agent"`
	CompletionKeywords    []string            `yaml:"completion_keywords"`
	AgentTimeout          Duration            `yaml:"agent_timeout"`
	AgentTimeouts         map[string]Duration `yaml:"agent_timeouts"`
	Retries               int                 `yaml:"retries"`
	FallbackReply         string              `yaml:"fallback_reply"`
	ClosingReply          string              `yaml:"closing_reply"`
	HistoryLimit          int                 `yaml:"history_limit"`
	IdleTimeout           Duration            `yaml:"idle_timeout"`
	BusBufferSize         int                 `yaml:"bus_buffer_size"`
	StoreFailureThreshold int                 `yaml:"store_failure_threshold"`
}

// Load reads a YAML file and merges it over the defaults, so partial files
// only need to list the values they change.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	fc := fileConfig{
		Routing:               cfg.Routing,
		DefaultAgent:          cfg.DefaultAgent,
		CompletionKeywords:    cfg.CompletionKeywords,
		AgentTimeout:          Duration(cfg.AgentTimeout),
		Retries:               cfg.Retries,
		FallbackReply:         cfg.FallbackReply,
		ClosingReply:          cfg.ClosingReply,
		HistoryLimit:          cfg.HistoryLimit,
		IdleTimeout:           Duration(cfg.IdleTimeout),
		BusBufferSize:         cfg.BusBufferSize,
		StoreFailureThreshold: cfg.StoreFailureThreshold,
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg = Config{
		Routing:               fc.Routing,
		DefaultAgent:          fc.DefaultAgent,
		CompletionKeywords:    fc.CompletionKeywords,
		AgentTimeout:          time.Duration(fc.AgentTimeout),
		Retries:               fc.Retries,
		FallbackReply:         fc.FallbackReply,
		ClosingReply:          fc.ClosingReply,
		HistoryLimit:          fc.HistoryLimit,
		IdleTimeout:           time.Duration(fc.IdleTimeout),
		BusBufferSize:         fc.BusBufferSize,
		StoreFailureThreshold: fc.StoreFailureThreshold,
	}
	if len(fc.AgentTimeouts) > 0 {
		cfg.AgentTimeouts = make(map[string]time.Duration, len(fc.AgentTimeouts))
		for k, v := range fc.AgentTimeouts {
			cfg.AgentTimeouts[k] = time.Duration(v)
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks the invariants the router and orchestrator rely on.
func (c Config) Validate() error {
	if c.DefaultAgent == "" {
		return fmt.Errorf("config: default_agent must be set so routing is total")
	}
	for i, r := range c.Routing {
		if r.Agent == "" {
			return fmt.Errorf("config: routing rule %d has no agent", i)
		}
	}
	if c.AgentTimeout <= 0 {
		return fmt.Errorf("config: agent_timeout must be positive")
	}
	if c.Retries < 0 {
		return fmt.Errorf("config: retries must not be negative")
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("config: history_limit must be positive")
	}
	return nil
}

// TimeoutFor returns the dispatch deadline for an agent, falling back to the
// default timeout.
func (c Config) TimeoutFor(agent string) time.Duration {
	if d, ok := c.AgentTimeouts[agent]; ok && d > 0 {
		return d
	}
	return c.AgentTimeout
}
