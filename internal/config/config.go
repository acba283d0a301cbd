// Package config loads the startup configuration surface: generation
// service credentials, per-persona instruction text and generation
// parameters, and global timeout/retry/round bounds.
//
// Resolution order: built-in defaults, then the YAML file (if any),
// then environment overrides. Validation failures here are the only
// errors allowed to abort the process.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"educube/internal/types"
)

// Duration wraps time.Duration so YAML values like "30s" parse directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LLMConfig configures the text-generation client.
type LLMConfig struct {
	APIKey        string   `yaml:"api_key"`
	BaseURL       string   `yaml:"base_url"`
	Model         string   `yaml:"model"`
	Timeout       Duration `yaml:"timeout"`
	MaxRetries    int      `yaml:"max_retries"`
	RetryBackoff  Duration `yaml:"retry_backoff"`
	MaxConcurrent int      `yaml:"max_concurrent"`
}

// CollaborationConfig bounds multi-persona orchestration.
type CollaborationConfig struct {
	MaxRounds       int      `yaml:"max_rounds"`
	DefaultStrategy string   `yaml:"default_strategy"`
	Deadline        Duration `yaml:"deadline"`
}

// PersonaConfig is the startup shape of one persona profile.
type PersonaConfig struct {
	Model        string  `yaml:"model"`
	Temperature  float64 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
	SystemPrompt string  `yaml:"system_prompt"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Config is the full startup configuration.
type Config struct {
	Server        ServerConfig             `yaml:"server"`
	LLM           LLMConfig                `yaml:"llm"`
	Collaboration CollaborationConfig      `yaml:"collaboration"`
	Personas      map[string]PersonaConfig `yaml:"personas"`
	Logging       LoggingConfig            `yaml:"logging"`
}

// Default returns the built-in configuration. Persona generation
// parameters follow the original tuning: the expert runs cooler with a
// larger budget, the peer runs warmest, the router is deterministic.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8000,
			AllowedOrigins: []string{"*"},
		},
		LLM: LLMConfig{
			BaseURL:       "https://api.moonshot.cn/v1",
			Model:         "kimi-k2-0711-preview",
			Timeout:       Duration(30 * time.Second),
			MaxRetries:    2,
			RetryBackoff:  Duration(500 * time.Millisecond),
			MaxConcurrent: 4,
		},
		Collaboration: CollaborationConfig{
			MaxRounds:       1,
			DefaultStrategy: string(types.StrategySequential),
			Deadline:        Duration(90 * time.Second),
		},
		Personas: map[string]PersonaConfig{
			string(types.PersonaExpert): {
				Model:       "moonshot-v1-32k",
				Temperature: 0.5,
				MaxTokens:   4000,
				SystemPrompt: "You are a senior education expert. You excel at answering " +
					"complex academic questions, explaining concepts in depth, and giving " +
					"professional guidance. Your answers should be accurate, authoritative, " +
					"and thorough.",
			},
			string(types.PersonaAssistant): {
				Model:       "moonshot-v1-8k",
				Temperature: 0.8,
				MaxTokens:   2000,
				SystemPrompt: "You are a patient teaching assistant. You excel at coaching " +
					"students through their studies, suggesting methods and practice, and " +
					"answering questions. Your answers should be friendly, easy to follow, " +
					"and targeted.",
			},
			string(types.PersonaPeer): {
				Model:       "moonshot-v1-8k",
				Temperature: 0.9,
				MaxTokens:   2000,
				SystemPrompt: "You are a study companion. You talk with the student as an " +
					"equal, sharing study experiences and insights. Your answers should be " +
					"warm, informal, and empathetic.",
			},
			string(types.PersonaRouter): {
				Model:       "moonshot-v1-8k",
				Temperature: 0,
				MaxTokens:   1000,
				SystemPrompt: "You are a routing specialist. Given the student's request and " +
					"conversation history, decide which kind of help fits best.\n\n" +
					"Categories:\n" +
					"- theory: complex academic questions, theoretical explanation, deep analysis\n" +
					"- operational: study guidance, practice coaching, method suggestions\n" +
					"- general: experience sharing, emotional support, casual peer discussion",
			},
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// Load reads the configuration file at path (if it exists), applies
// environment overrides, and validates the result. An explicit path
// that does not exist is an error; the default path is optional.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
			// Missing default file is fine; anything else must exist.
			if path != DefaultPath {
				return nil, fmt.Errorf("config file not found: %s", path)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultPath is where Load looks when no --config flag is given.
const DefaultPath = "educube.yaml"

// applyEnv overlays environment variables onto the loaded config.
// The API key is expected to arrive this way in production.
func (c *Config) applyEnv() {
	if v := os.Getenv("MOONSHOT_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("MOONSHOT_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("MOONSHOT_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("EDUCUBE_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("EDUCUBE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("EDUCUBE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// requiredPersonas must all be configured for startup to proceed.
var requiredPersonas = []types.PersonaID{
	types.PersonaExpert,
	types.PersonaAssistant,
	types.PersonaPeer,
	types.PersonaRouter,
}

// Validate checks the configuration. A failure here is fatal at
// startup; nothing else in the process is allowed to abort it.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("configuration error: missing generation API key (set MOONSHOT_API_KEY or llm.api_key)")
	}
	if c.LLM.Timeout.Std() <= 0 {
		return fmt.Errorf("configuration error: llm.timeout must be positive")
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("configuration error: llm.max_retries must not be negative")
	}
	if c.LLM.MaxConcurrent < 1 {
		return fmt.Errorf("configuration error: llm.max_concurrent must be at least 1")
	}
	if c.Collaboration.MaxRounds < 1 {
		return fmt.Errorf("configuration error: collaboration.max_rounds must be at least 1")
	}
	switch types.Strategy(c.Collaboration.DefaultStrategy) {
	case types.StrategySequential, types.StrategyParallel:
	default:
		return fmt.Errorf("configuration error: unknown collaboration.default_strategy %q", c.Collaboration.DefaultStrategy)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("configuration error: server.port %d out of range", c.Server.Port)
	}

	for _, id := range requiredPersonas {
		pc, ok := c.Personas[string(id)]
		if !ok {
			return fmt.Errorf("configuration error: missing persona profile %q", id)
		}
		if err := pc.validate(id); err != nil {
			return err
		}
	}
	return nil
}

func (pc PersonaConfig) validate(id types.PersonaID) error {
	if pc.SystemPrompt == "" {
		return fmt.Errorf("configuration error: persona %q has no system prompt", id)
	}
	if pc.Model == "" {
		return fmt.Errorf("configuration error: persona %q has no model binding", id)
	}
	if pc.Temperature < 0 || pc.Temperature > 2 {
		return fmt.Errorf("configuration error: persona %q temperature %.2f out of range [0,2]", id, pc.Temperature)
	}
	if pc.MaxTokens < 1 {
		return fmt.Errorf("configuration error: persona %q max_tokens must be positive", id)
	}
	return nil
}
