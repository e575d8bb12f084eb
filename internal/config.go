package internal

import (
	"errors"
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/portal/internal/noteref"
	"github.com/starford/portal/internal/storage"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Workspace WorkspaceConfig   `yaml:"workspace"`
	SQLite    SQLiteConfig      `yaml:"sqlite"`
	Auth      AuthConfig        `yaml:"auth"`
	NoteRef   NoteRefConfig     `yaml:"noteref"`
	Publish   PublishConfig     `yaml:"publish"`
	Metrics   MetricsConfig     `yaml:"metrics"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Workspace.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.NoteRef.Validate(); err != nil {
		return err
	}
	return c.Publish.Validate()
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

// VaultConfig names one vault directory.
type VaultConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// Validate validates the vault configuration.
func (c VaultConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Name, validation.Required, validation.By(noSlash)),
		validation.Field(&c.Path, validation.Required),
	)
}

func noSlash(value any) error {
	s, _ := value.(string)
	for _, r := range s {
		if r == '/' || r == '\\' {
			return errors.New("must not contain a path separator")
		}
	}
	return nil
}

// WorkspaceConfig lists the vaults. Declaration order is the vault order
// used to break ties between vaults.
type WorkspaceConfig struct {
	Vaults []VaultConfig `yaml:"vaults"`
}

// Validate validates the workspace configuration.
func (c *WorkspaceConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Vaults, validation.Required),
	); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Vaults))
	for _, v := range c.Vaults {
		if seen[v.Name] {
			return fmt.Errorf("workspace: duplicate vault %q", v.Name)
		}
		seen[v.Name] = true
	}
	return nil
}

// Specs converts the vault list for storage.NewWorkspace.
func (c *WorkspaceConfig) Specs() []storage.VaultSpec {
	specs := make([]storage.VaultSpec, 0, len(c.Vaults))
	for _, v := range c.Vaults {
		specs = append(specs, storage.VaultSpec{Name: v.Name, Path: v.Path})
	}
	return specs
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

// NoteRefConfig controls reference recognition and expansion.
type NoteRefConfig struct {
	LegacyReferenceSyntax bool   `yaml:"legacy_reference_syntax"`
	InsertTitleOnEmbed    bool   `yaml:"insert_title_on_embed"`
	MaxExpansionDepth     int    `yaml:"max_expansion_depth"`
	LinkPrefix            string `yaml:"link_prefix"`
	Ambiguous             string `yaml:"ambiguous"`
}

// Validate validates the noteref configuration.
func (c *NoteRefConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxExpansionDepth, validation.Required, validation.Min(1), validation.Max(64)),
		validation.Field(&c.Ambiguous, validation.In(
			string(noteref.AmbiguityPlaceholder), string(noteref.AmbiguityFirst))),
	)
}

// Options converts the section into engine options.
func (c *NoteRefConfig) Options() noteref.Options {
	return noteref.Options{
		LegacySyntax: c.LegacyReferenceSyntax,
		InsertTitle:  c.InsertTitleOnEmbed,
		MaxDepth:     c.MaxExpansionDepth,
		LinkPrefix:   c.LinkPrefix,
		Ambiguous:    noteref.Ambiguity(c.Ambiguous),
	}
}

// PublishConfig holds defaults for publishing compiled notes.
type PublishConfig struct {
	OutputDir   string `yaml:"output_dir"`
	Concurrency int    `yaml:"concurrency"`
}

// Validate validates the publish configuration.
func (c *PublishConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Concurrency, validation.Min(0), validation.Max(256)),
	)
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	ref := noteref.DefaultOptions()
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Workspace: WorkspaceConfig{
			Vaults: []VaultConfig{{Name: "main", Path: "./vault"}},
		},
		SQLite: SQLiteConfig{
			Path: "./portal.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		NoteRef: NoteRefConfig{
			LegacyReferenceSyntax: ref.LegacySyntax,
			InsertTitleOnEmbed:    ref.InsertTitle,
			MaxExpansionDepth:     ref.MaxDepth,
			LinkPrefix:            ref.LinkPrefix,
			Ambiguous:             string(ref.Ambiguous),
		},
		Publish: PublishConfig{
			OutputDir:   "./public",
			Concurrency: 4,
		},
	}
}
