// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	LLM() LLMConfig
	Trace() TraceConfig
	Output() OutputConfig
	Agent() AgentConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserDebug(bool)

	// Output Setters
	SetOutputRoot(string)

	// Agent Setters
	SetAgentGuidanceOnly(bool)
}

// Config holds the entire application configuration.
// It uses private fields to enforce access through the Interface's getter methods.
type Config struct {
	logger  LoggerConfig
	browser BrowserConfig
	llm     LLMConfig
	trace   TraceConfig
	output  OutputConfig
	agent   AgentConfig
}

// rawConfig mirrors Config with exported fields so viper can unmarshal into it.
type rawConfig struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	LLM     LLMConfig     `mapstructure:"llm" yaml:"llm"`
	Trace   TraceConfig   `mapstructure:"trace" yaml:"trace"`
	Output  OutputConfig  `mapstructure:"output" yaml:"output"`
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig   { return c.logger }
func (c *Config) Browser() BrowserConfig { return c.browser }
func (c *Config) LLM() LLMConfig         { return c.llm }
func (c *Config) Trace() TraceConfig     { return c.trace }
func (c *Config) Output() OutputConfig   { return c.output }
func (c *Config) Agent() AgentConfig     { return c.agent }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)   { c.browser.Headless = b }
func (c *Config) SetBrowserDebug(b bool)      { c.browser.Debug = b }
func (c *Config) SetOutputRoot(p string)      { c.output.Root = p }
func (c *Config) SetAgentGuidanceOnly(b bool) { c.agent.GuidanceOnly = b }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the driven Chrome instance.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	Debug             bool          `mapstructure:"debug" yaml:"debug"`
	WindowWidth       int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight      int           `mapstructure:"window_height" yaml:"window_height"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	EvaluateTimeout   time.Duration `mapstructure:"evaluate_timeout" yaml:"evaluate_timeout"`
	SettleDelay       time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
}

// LLMConfig defines the connection to the text-understanding model.
type LLMConfig struct {
	Model             string        `mapstructure:"model" yaml:"model"`
	APIKey            string        `mapstructure:"api_key" yaml:"-"`
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout        time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature       float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	RequestsPerMinute float64       `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	MaxRetryElapsed   time.Duration `mapstructure:"max_retry_elapsed" yaml:"max_retry_elapsed"`
}

// TraceConfig configures the external run-tracing integration.
type TraceConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	APIKey  string `mapstructure:"api_key" yaml:"-"`
	Project string `mapstructure:"project" yaml:"project"`
}

// OutputConfig controls where captured artifacts land on disk.
type OutputConfig struct {
	Root string `mapstructure:"root" yaml:"root"`
}

// AgentConfig holds settings for step planning and execution.
type AgentConfig struct {
	GuidanceOnly    bool          `mapstructure:"guidance_only" yaml:"guidance_only"`
	MaxVariants     int           `mapstructure:"max_variants" yaml:"max_variants"`
	StepSettleDelay time.Duration `mapstructure:"step_settle_delay" yaml:"step_settle_delay"`
	MaxSteps        int           `mapstructure:"max_steps" yaml:"max_steps"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	cfg, err := fromViper(v)
	if err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "uiguide-cli")
	v.SetDefault("logger.log_file", "uiguide.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.evaluate_timeout", "10s")
	v.SetDefault("browser.settle_delay", "1s")
	v.SetDefault("browser.post_load_wait", "3s")

	// -- LLM --
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.endpoint", "https://generativelanguage.googleapis.com/v1beta/models")
	v.SetDefault("llm.api_timeout", "60s")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.requests_per_minute", 30)
	v.SetDefault("llm.max_retry_elapsed", "2m")

	// -- Trace --
	v.SetDefault("trace.enabled", true)
	v.SetDefault("trace.project", "agentic-ai-capture")

	// -- Output --
	v.SetDefault("output.root", "screenshots")

	// -- Agent --
	v.SetDefault("agent.guidance_only", false)
	v.SetDefault("agent.max_variants", 5)
	v.SetDefault("agent.step_settle_delay", "2s")
	v.SetDefault("agent.max_steps", 12)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data
	v.BindEnv("llm.api_key", "UIGUIDE_LLM_API_KEY", "GOOGLE_API_KEY")
	v.BindEnv("trace.api_key", "UIGUIDE_TRACE_API_KEY", "LANGSMITH_API_KEY")

	cfg, err := fromViper(v)
	if err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Manually load the keys if Unmarshal didn't pick them up.
	if cfg.llm.APIKey == "" {
		cfg.llm.APIKey = firstEnv("UIGUIDE_LLM_API_KEY", "GOOGLE_API_KEY")
	}
	if cfg.trace.APIKey == "" {
		cfg.trace.APIKey = firstEnv("UIGUIDE_TRACE_API_KEY", "LANGSMITH_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func fromViper(v *viper.Viper) (*Config, error) {
	var r rawConfig
	if err := v.Unmarshal(&r); err != nil {
		return nil, err
	}
	return &Config{
		logger:  r.Logger,
		browser: r.Browser,
		llm:     r.LLM,
		trace:   r.Trace,
		output:  r.Output,
		agent:   r.Agent,
	}, nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if val := os.Getenv(k); val != "" {
			return val
		}
	}
	return ""
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.llm.APIKey == "" {
		return fmt.Errorf("llm.api_key is required: set UIGUIDE_LLM_API_KEY or GOOGLE_API_KEY")
	}
	if c.trace.Enabled && c.trace.APIKey == "" {
		return fmt.Errorf("trace.api_key is required while tracing is enabled: set UIGUIDE_TRACE_API_KEY or LANGSMITH_API_KEY")
	}
	if c.llm.Model == "" {
		return fmt.Errorf("llm.model must not be empty")
	}
	if c.browser.NavigationTimeout <= 0 {
		return fmt.Errorf("browser.navigation_timeout must be a positive duration")
	}
	if c.output.Root == "" {
		return fmt.Errorf("output.root must not be empty")
	}
	if c.agent.MaxVariants <= 0 {
		return fmt.Errorf("agent.max_variants must be a positive integer")
	}
	if c.agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be a positive integer")
	}
	return nil
}
