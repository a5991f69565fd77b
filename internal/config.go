package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/loom/internal/importer"
	"github.com/starford/loom/internal/lineage"
	"github.com/starford/loom/internal/llm"
	"github.com/starford/loom/internal/synthesis"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Synthesis providers.
const (
	ProviderConcat = "concat"
	ProviderOpenAI = "openai"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	SQLite    SQLiteConfig      `yaml:"sqlite"`
	Auth      AuthConfig        `yaml:"auth"`
	Inbox     InboxConfig       `yaml:"inbox"`
	Synthesis SynthesisConfig   `yaml:"synthesis"`
	Lineage   LineageConfig     `yaml:"lineage"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Inbox.Validate(); err != nil {
		return err
	}
	if err := c.Synthesis.Validate(); err != nil {
		return err
	}
	return c.Lineage.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// InboxConfig controls the proposal inbox directory.
type InboxConfig struct {
	Enabled bool          `yaml:"enabled"`
	Path    string        `yaml:"path"`
	Mode    importer.Mode `yaml:"mode"`
}

// Validate validates the inbox configuration.
func (c *InboxConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = importer.ModeAtomic
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.When(c.Enabled, validation.Required)),
		validation.Field(&c.Mode, validation.In(importer.ModeAtomic, importer.ModeStreaming)),
	)
}

// SynthesisConfig selects the synthesis collaborator.
type SynthesisConfig struct {
	Provider          string       `yaml:"provider"`
	DefaultConfidence float64      `yaml:"default_confidence"`
	OpenAI            OpenAIConfig `yaml:"openai"`
}

// Validate validates the synthesis configuration.
func (c *SynthesisConfig) Validate() error {
	if c.Provider == "" {
		c.Provider = ProviderConcat
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.In(ProviderConcat, ProviderOpenAI)),
		validation.Field(&c.DefaultConfidence, validation.Min(0.0), validation.Max(1.0)),
	); err != nil {
		return err
	}
	if c.Provider == ProviderOpenAI {
		return c.OpenAI.Validate()
	}
	return nil
}

// OpenAIConfig configures an OpenAI-compatible chat completion endpoint.
type OpenAIConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// Validate validates the OpenAI configuration.
func (c *OpenAIConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.APIKey, validation.Required),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

// Client returns the llm client configuration.
func (c *OpenAIConfig) Client() llm.Config {
	return llm.Config{APIKey: c.APIKey, BaseURL: c.BaseURL, Model: c.Model, Timeout: c.Timeout}
}

// LineageConfig bounds provenance walks.
type LineageConfig struct {
	MaxDepth int `yaml:"max_depth"`
}

// Validate validates the lineage configuration.
func (c *LineageConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxDepth, validation.Min(0), validation.Max(50)),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		SQLite: SQLiteConfig{
			Path: "./loom.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Inbox: InboxConfig{
			Enabled: false,
			Path:    "./inbox",
			Mode:    importer.ModeAtomic,
		},
		Synthesis: SynthesisConfig{
			Provider:          ProviderConcat,
			DefaultConfidence: synthesis.DefaultConfidence,
			OpenAI: OpenAIConfig{
				Model:   llm.DefaultModel,
				Timeout: 60 * time.Second,
			},
		},
		Lineage: LineageConfig{
			MaxDepth: lineage.DefaultMaxDepth,
		},
	}
}
