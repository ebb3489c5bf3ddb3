package internal

import (
	"fmt"
	"log/slog"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/mediacat/internal/cache"
	"github.com/starford/mediacat/internal/library"
	"github.com/starford/mediacat/internal/registry/gormstore"
	"github.com/starford/mediacat/internal/repository"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Registry RegistryConfig    `yaml:"registry"`
	Cache    CacheConfig       `yaml:"cache"`
	Mounts   []MountConfig     `yaml:"mounts"`
	Watch    WatchConfig       `yaml:"watch"`
	Auth     AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Registry.Validate(); err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	names := make(map[string]bool, len(c.Mounts))
	for i := range c.Mounts {
		m := &c.Mounts[i]
		if err := m.Validate(); err != nil {
			return fmt.Errorf("mounts[%d]: %w", i, err)
		}
		if names[m.Name] {
			return fmt.Errorf("mounts[%d]: duplicate name %q", i, m.Name)
		}
		names[m.Name] = true
	}
	if err := c.Watch.Validate(); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	return c.Auth.Validate()
}

// Library converts the configuration into catalog options.
func (c *Config) Library() library.Options {
	opts := library.Options{
		Backend:     c.Registry.Backend,
		Path:        c.Registry.Path,
		Dialect:     c.Registry.Dialect,
		DSN:         c.Registry.DSN,
		Cache:       c.Cache.Options(),
		ContentBase: c.App.ContentBase,
	}
	for _, m := range c.Mounts {
		opts.Mounts = append(opts.Mounts, library.Mount{
			Name:       m.Name,
			Kind:       m.Type,
			Path:       m.Path,
			MountPoint: m.MountPoint,
			Groupings:  m.Groupings,
		})
	}
	return opts
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
	// ContentBase prefixes content URLs handed to clients, e.g.
	// "http://192.168.1.10:8080".
	ContentBase string `yaml:"content_base"`
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

// RegistryConfig selects where nodes are stored.
//
// Backend is one of:
//   - "memory" (default): nothing survives a restart.
//   - "bolt", "sqlite": embedded database file at Path.
//   - "sql": external database; Dialect is "mysql" or "sqlite", DSN the connection string.
type RegistryConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	Dialect string `yaml:"dialect"`
	DSN     string `yaml:"dsn"`
}

// Validate validates the registry configuration.
func (c *RegistryConfig) Validate() error {
	if c.Backend == "" {
		c.Backend = library.BackendMemory
	}
	embedded := c.Backend == library.BackendBolt || c.Backend == library.BackendSQLite
	external := c.Backend == library.BackendSQL
	return validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required,
			validation.In(library.BackendMemory, library.BackendBolt, library.BackendSQLite, library.BackendSQL)),
		validation.Field(&c.Path, validation.When(embedded, validation.Required)),
		validation.Field(&c.Dialect, validation.When(external, validation.Required,
			validation.In(gormstore.DialectMySQL, gormstore.DialectSQLite))),
		validation.Field(&c.DSN, validation.When(external, validation.Required)),
	)
}

// CacheConfig tunes the node cache.
type CacheConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	MaxMultiplier int           `yaml:"max_multiplier"`
	Capacity      uint64        `yaml:"capacity"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.TTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.MaxMultiplier, validation.Required, validation.Min(1)),
	)
}

// Options returns the cache options.
func (c *CacheConfig) Options() cache.Options {
	return cache.Options{TTL: c.TTL, MaxMultiplier: c.MaxMultiplier, Capacity: c.Capacity}
}

var mountPointRe = regexp.MustCompile(`^/`)

// MountConfig describes one repository.
type MountConfig struct {
	Name       string   `yaml:"name"`
	Type       string   `yaml:"type"`
	Path       string   `yaml:"path"`
	MountPoint string   `yaml:"mount"`
	Groupings  []string `yaml:"groupings"`
}

// Validate validates the mount configuration.
func (c *MountConfig) Validate() error {
	if c.Type == "" {
		c.Type = library.KindDirectory
	}
	groupings := make([]any, 0, 4)
	for _, g := range repository.GroupingNames() {
		groupings = append(groupings, g)
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Name, validation.Required),
		validation.Field(&c.Type, validation.In(library.KindDirectory, library.KindMusic, library.KindList)),
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.MountPoint, validation.Required, validation.Match(mountPointRe).Error("must start with /")),
		validation.Field(&c.Groupings,
			validation.When(c.Type != library.KindMusic, validation.Empty.Error("only music mounts have groupings")),
			validation.Each(validation.In(groupings...))),
	)
}

// WatchConfig controls rescans on source changes.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// Validate validates the watch configuration.
func (c *WatchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.Min(time.Duration(0))),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for a home network.
//   - "token": Bearer token authentication on /api; Token must be non-empty.
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

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	def := cache.DefaultOptions()
	return &Config{
		App: ApplicationConfig{
			LogLevel:    slog.LevelInfo,
			HTTP:        HTTPConfig{Port: 8080},
			ContentBase: "http://localhost:8080",
		},
		Registry: RegistryConfig{
			Backend: library.BackendMemory,
		},
		Cache: CacheConfig{
			TTL:           def.TTL,
			MaxMultiplier: def.MaxMultiplier,
		},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: repository.DefaultDebounce,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
