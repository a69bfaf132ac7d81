// Package config loads configuration for all fixjam binaries.
//
// Values come from the process environment. A .env file in the working
// directory is loaded first when present; variables already set in the
// environment win over the file. With a stage (dev, staging, production),
// .env.<stage> must exist and is loaded before .env, so its values win over
// the shared file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full configuration. Each binary validates only the parts it
// uses (ValidateServer, ValidateDeploy, ValidateProvision).
type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Server    ServerConfig
	Facebook  FacebookConfig
	Twitter   TwitterConfig
	Geonames  GeonamesConfig
	Deploy    DeployConfig
	Provision ProvisionConfig
}

type ServerConfig struct {
	Port            int           `env:"PORT"              envDefault:"8080"`
	DBPath          string        `env:"DB_PATH"           envDefault:"data/fixjam.db"`
	SessionSecret   string        `env:"SESSION_SECRET"`
	SessionTTL      time.Duration `env:"SESSION_TTL"       envDefault:"336h"`
	FlowSecret      string        `env:"FLOW_SECRET"`
	CookieSecure    bool          `env:"COOKIE_SECURE"     envDefault:"false"`
	ProfileCacheTTL time.Duration `env:"PROFILE_CACHE_TTL" envDefault:"24h"`
}

type FacebookConfig struct {
	AppID     string `env:"FACEBOOK_APP_ID"`
	AppSecret string `env:"FACEBOOK_APP_SECRET"`
	GraphURL  string `env:"FACEBOOK_GRAPH_URL" envDefault:"https://graph.facebook.com"`
}

type TwitterConfig struct {
	ClientID     string `env:"TWITTER_CLIENT_ID"`
	ClientSecret string `env:"TWITTER_CLIENT_SECRET"`
	CallbackURL  string `env:"TWITTER_CALLBACK_URL"`
	APIURL       string `env:"TWITTER_API_URL"   envDefault:"https://api.twitter.com"`
	AuthURL      string `env:"TWITTER_AUTH_URL"  envDefault:"https://twitter.com/i/oauth2/authorize"`
	TokenURL     string `env:"TWITTER_TOKEN_URL" envDefault:"https://api.twitter.com/2/oauth2/token"`
}

type GeonamesConfig struct {
	BaseURL   string        `env:"GEONAMES_URL"        envDefault:"http://api.geonames.org"`
	Username  string        `env:"GEONAMES_USERNAME"   envDefault:"demo"`
	UserAgent string        `env:"GEONAMES_USER_AGENT" envDefault:"fixjam/1.0"`
	Timeout   time.Duration `env:"GEONAMES_TIMEOUT"    envDefault:"10s"`
	Rate      float64       `env:"GEONAMES_RATE"       envDefault:"1"`
	Burst     int           `env:"GEONAMES_BURST"      envDefault:"5"`
}

// DeployConfig describes one project on one host.
type DeployConfig struct {
	Project    string `env:"DEPLOY_PROJECT"`
	ProjectDir string `env:"DEPLOY_PROJECT_DIR"`
	Repo       string `env:"DEPLOY_REPO"`
	Branch     string `env:"DEPLOY_BRANCH" envDefault:"master"`
	Remote     string `env:"DEPLOY_REMOTE" envDefault:"origin"`
	User       string `env:"DEPLOY_USER"`
	Group      string `env:"DEPLOY_GROUP"`

	// Host is "user@host[:port]". Empty means the local machine.
	Host       string        `env:"DEPLOY_HOST"`
	SSHKeyPath string        `env:"DEPLOY_SSH_KEY"`
	KnownHosts string        `env:"DEPLOY_KNOWN_HOSTS"`
	SSHTimeout time.Duration `env:"DEPLOY_SSH_TIMEOUT" envDefault:"15s"`

	AppSubdir       string   `env:"DEPLOY_APP_SUBDIR"`
	SettingsFiles   []string `env:"DEPLOY_SETTINGS_FILES"   envSeparator:","`
	PrepareCommands []string `env:"DEPLOY_PREPARE_COMMANDS" envSeparator:";"`
	CrontabPath     string   `env:"DEPLOY_CRONTAB"          envDefault:"crontab"`
	CrontabCommand  string   `env:"DEPLOY_CRONTAB_COMMAND"  envDefault:"crontab -"`
	ArchiveDir      string   `env:"DEPLOY_ARCHIVE_DIR"      envDefault:"."`

	RestartMode     string `env:"DEPLOY_RESTART"          envDefault:"shell"`
	GracefulCommand string `env:"DEPLOY_GRACEFUL_COMMAND" envDefault:"apache2ctl graceful"`
	StartCommand    string `env:"DEPLOY_START_COMMAND"    envDefault:"apache2ctl start"`
	Container       string `env:"DEPLOY_CONTAINER"`

	// Services maps a task name to "command" or "command|fallback". The
	// fallback runs only when the command exits non-zero.
	Services map[string]string `env:"DEPLOY_SERVICES" envSeparator:";" envKeyValSeparator:"=" envDefault:"nginx.reload=initctl reload nginx;nginx.restart=/etc/init.d/nginx restart;database.reload=/etc/init.d/postgresql reload;database.restart=/etc/init.d/postgresql restart|/etc/init.d/postgresql start;smtp.restart=/etc/init.d/postfix restart"`
}

// ServiceCommand is one named service task.
type ServiceCommand struct {
	Command  string
	Fallback string
}

// Service looks up a named task in DEPLOY_SERVICES.
func (d DeployConfig) Service(name string) (ServiceCommand, bool) {
	for k, v := range d.Services {
		if strings.TrimSpace(k) != name {
			continue
		}
		cmd, fallback, _ := strings.Cut(v, "|")
		return ServiceCommand{
			Command:  strings.TrimSpace(cmd),
			Fallback: strings.TrimSpace(fallback),
		}, true
	}
	return ServiceCommand{}, false
}

// ServiceNames lists the configured tasks, sorted.
func (d DeployConfig) ServiceNames() []string {
	names := make([]string, 0, len(d.Services))
	for k := range d.Services {
		names = append(names, strings.TrimSpace(k))
	}
	slices.Sort(names)
	return names
}

type ProvisionConfig struct {
	PostgresURL string `env:"PROVISION_POSTGRES_URL"`
	DBName      string `env:"PROVISION_DB_NAME"`
	DBOwner     string `env:"PROVISION_DB_OWNER"`
	DBPassword  string `env:"PROVISION_DB_PASSWORD"`
}

// Load reads .env (if any) and parses the environment.
func Load() (*Config, error) {
	return LoadStage("")
}

// LoadStage reads .env.<stage>, then .env (if any), then parses the
// environment. An empty stage skips the stage file.
func LoadStage(stage string) (*Config, error) {
	if stage != "" {
		if strings.ContainsAny(stage, `/\`) {
			return nil, fmt.Errorf("config: invalid stage %q", stage)
		}
		if err := godotenv.Load(".env." + stage); err != nil {
			return nil, fmt.Errorf("config: loading stage %s: %w", stage, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: loading .env: %w", err)
	}
	return Parse()
}

// Parse reads the environment only. Tests use it with t.Setenv.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: parsing environment: %w", err)
	}
	return &cfg, nil
}

// SlogLevel maps LOG_LEVEL to a slog level. Unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func (c *Config) ValidateServer() error {
	var errs []error
	if c.Server.SessionSecret == "" {
		errs = append(errs, errors.New("SESSION_SECRET is required"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Server.Port))
	}
	if c.Server.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.Geonames.Rate <= 0 {
		errs = append(errs, errors.New("GEONAMES_RATE must be positive"))
	}
	return joinErrors(errs)
}

func (c *Config) ValidateDeploy() error {
	d := c.Deploy
	var errs []error
	for name, v := range map[string]string{
		"DEPLOY_PROJECT":     d.Project,
		"DEPLOY_PROJECT_DIR": d.ProjectDir,
		"DEPLOY_REPO":        d.Repo,
		"DEPLOY_USER":        d.User,
		"DEPLOY_GROUP":       d.Group,
	} {
		if v == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}
	if d.Host != "" && d.SSHKeyPath == "" {
		errs = append(errs, errors.New("DEPLOY_SSH_KEY is required with DEPLOY_HOST"))
	}
	switch d.RestartMode {
	case "shell":
	case "docker":
		if d.Container == "" {
			errs = append(errs, errors.New("DEPLOY_CONTAINER is required with DEPLOY_RESTART=docker"))
		}
	default:
		errs = append(errs, fmt.Errorf("DEPLOY_RESTART %q must be shell or docker", d.RestartMode))
	}
	for _, name := range d.ServiceNames() {
		if c, _ := d.Service(name); c.Command == "" {
			errs = append(errs, fmt.Errorf("DEPLOY_SERVICES entry %q has no command", name))
		}
	}
	return joinErrors(errs)
}

func (c *Config) ValidateProvision() error {
	p := c.Provision
	var errs []error
	if p.PostgresURL == "" {
		errs = append(errs, errors.New("PROVISION_POSTGRES_URL is required"))
	}
	if p.DBName == "" {
		errs = append(errs, errors.New("PROVISION_DB_NAME is required"))
	}
	if p.DBOwner == "" {
		errs = append(errs, errors.New("PROVISION_DB_OWNER is required"))
	}
	return joinErrors(errs)
}

func joinErrors(errs []error) error {
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
