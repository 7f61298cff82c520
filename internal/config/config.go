package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/conorfennell/homebase/internal/domain"
	"github.com/conorfennell/homebase/internal/parser"
	"github.com/conorfennell/homebase/internal/usage"
)

const (
	// EnvPrefix selects the environment variables read by Load. A double
	// underscore separates nesting levels: HOMEBASE_CONTROL__DB_PATH.
	EnvPrefix = "HOMEBASE_"

	// DefaultFile is read when present and no file was named explicitly.
	DefaultFile = "homebase.yaml"
)

// Config is the full application configuration shared by both binaries.
type Config struct {
	Root     string         `koanf:"root" validate:"required"`
	Log      LogConfig      `koanf:"log"`
	Control  ControlConfig  `koanf:"control"`
	Usage    UsageConfig    `koanf:"usage"`
	Ingest   IngestConfig   `koanf:"ingest"`
	Inbox    InboxConfig    `koanf:"inbox"`
	BotStore BotStoreConfig `koanf:"botstore"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

type ControlConfig struct {
	Addr      string `koanf:"addr" validate:"required"`
	DBPath    string `koanf:"db_path" validate:"required"`
	InboxPath string `koanf:"inbox_path" validate:"required"`
	GitDir    string `koanf:"git_dir"`
	Links     []Link `koanf:"links" validate:"dive"`
}

// Link is an entry on the quick links page.
type Link struct {
	Label string `koanf:"label" validate:"required"`
	Path  string `koanf:"path" validate:"required"`
}

type UsageConfig struct {
	Dir        string        `koanf:"dir" validate:"required"`
	WindowDays int           `koanf:"window_days" validate:"gte=1,lte=30"`
	MaxFiles   int           `koanf:"max_files" validate:"gte=1"`
	Pricing    usage.Pricing `koanf:"pricing"`

	// EstimateMissing fills absent totals and costs instead of counting them as zero.
	EstimateMissing bool `koanf:"estimate_missing"`
}

type IngestConfig struct {
	MaxChars  int           `koanf:"max_chars" validate:"gte=1"`
	Timeout   time.Duration `koanf:"timeout" validate:"gt=0"`
	UploadDir string        `koanf:"upload_dir" validate:"required"`
}

// InboxConfig maps each status to the INBOX.md heading labels that select it.
type InboxConfig struct {
	Labels map[string][]string `koanf:"labels" validate:"dive,keys,oneof=inbox next scheduled waiting done,endkeys,dive,required"`
}

type BotStoreConfig struct {
	Addr         string `koanf:"addr" validate:"required"`
	PackagesDir  string `koanf:"packages_dir" validate:"required"`
	InstalledDir string `koanf:"installed_dir" validate:"required"`
	PublicDir    string `koanf:"public_dir" validate:"required"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Root: ".",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Control: ControlConfig{
			Addr:      ":4567",
			DBPath:    "data/control-center.sqlite",
			InboxPath: "INBOX.md",
			GitDir:    ".",
		},
		Usage: UsageConfig{
			Dir:        "sessions",
			WindowDays: usage.DefaultWindowDays,
			MaxFiles:   usage.DefaultMaxFiles,
			Pricing:    *usage.DefaultPricing(),
		},
		Ingest: IngestConfig{
			MaxChars:  200_000,
			Timeout:   60 * time.Second,
			UploadDir: "data/uploads",
		},
		BotStore: BotStoreConfig{
			Addr:         ":4677",
			PackagesDir:  "packages",
			InstalledDir: "installed",
			PublicDir:    "public",
		},
	}
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"root":       "root",
	"log-level":  "log.level",
	"log-format": "log.format",
	"addr":       "control.addr",
	"db":         "control.db_path",
	"inbox":      "control.inbox_path",
	"usage-dir":  "usage.dir",
	"usage-days": "usage.window_days",
}

// RegisterFlags defines the command-line flags understood by Load on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.StringP("config", "c", "", "path to a YAML config file (default "+DefaultFile+" when present)")
	fs.String("root", d.Root, "directory relative paths are resolved against")
	fs.String("log-level", d.Log.Level, "log level: debug, info, warn or error")
	fs.String("log-format", d.Log.Format, "log format: text or json")
	fs.String("addr", d.Control.Addr, "control center listen address")
	fs.String("db", d.Control.DBPath, "path to the SQLite database file")
	fs.String("inbox", d.Control.InboxPath, "path to INBOX.md")
	fs.String("usage-dir", d.Usage.Dir, "directory of session usage logs")
	fs.Int("usage-days", d.Usage.WindowDays, "default usage report window in days")
}

// LoadOptions selects the sources merged by Load, lowest precedence first:
// defaults, File, environment, Flags, Overrides.
type LoadOptions struct {
	File      string
	Flags     *pflag.FlagSet
	Overrides map[string]any
}

// Load builds and validates the configuration.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	path, explicit := opts.File, opts.File != ""
	if !explicit {
		path = DefaultFile
	}
	if _, err := os.Stat(path); err == nil || explicit {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if opts.Flags != nil {
		fs := opts.Flags
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	for key, val := range opts.Overrides {
		if err := k.Set(key, val); err != nil {
			return nil, fmt.Errorf("failed to set %s: %w", key, err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.applyDefaults()
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey turns HOMEBASE_CONTROL__DB_PATH into control.db_path.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// applyDefaults fills list and map settings that stay empty after decoding.
// They are not part of Default because decoding merges element-wise into
// existing slices.
func (c *Config) applyDefaults() {
	if len(c.Inbox.Labels) == 0 {
		c.Inbox.Labels = map[string][]string{}
		for label, status := range parser.DefaultLabels() {
			c.Inbox.Labels[string(status)] = append(c.Inbox.Labels[string(status)], label)
		}
	}
	if len(c.Control.Links) == 0 {
		c.Control.Links = []Link{{Label: "INBOX.md", Path: c.Control.InboxPath}}
	}
}

func (c *Config) resolvePaths() {
	for _, p := range []*string{
		&c.Control.DBPath,
		&c.Control.InboxPath,
		&c.Control.GitDir,
		&c.Usage.Dir,
		&c.Ingest.UploadDir,
		&c.BotStore.PackagesDir,
		&c.BotStore.InstalledDir,
		&c.BotStore.PublicDir,
	} {
		*p = c.Resolve(*p)
	}
	for i := range c.Control.Links {
		c.Control.Links[i].Path = c.Resolve(c.Control.Links[i].Path)
	}
}

// Resolve joins a relative path onto Root. Absolute and empty paths are
// returned unchanged, and a leading "~/" expands to the home directory.
func (c *Config) Resolve(p string) string {
	if p == "" {
		return p
	}
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}

// LabelTable inverts Inbox.Labels into the lookup table the inbox parser takes.
func (c *Config) LabelTable() map[string]domain.Status {
	table := make(map[string]domain.Status)
	for status, labels := range c.Inbox.Labels {
		for _, label := range labels {
			table[label] = domain.Status(status)
		}
	}
	return table
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrInvalid is wrapped by every validation failure returned from Validate.
var ErrInvalid = errors.New("invalid configuration")

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}
