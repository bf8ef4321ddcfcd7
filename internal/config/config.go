// Package config loads the household concierge's YAML configuration
// file and applies environment-variable overrides, following the same
// Load / LoadFromEnv split the rest of this lineage uses.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/aliedrevenue/concierge/internal/domain"
)

// Config is the top-level configuration shape: version, packs, calendar,
// family, external calendars, invites, confidence, defaults, processing,
// notifications, and digests, per the configuration-file contract.
type Config struct {
	Version           int                    `yaml:"version"`
	Packs             []domain.Pack          `yaml:"packs"`
	Calendar          CalendarConfig         `yaml:"calendar"`
	Family            []domain.FamilyMember  `yaml:"family"`
	SourceAssignments []domain.SourceAssignment `yaml:"sourceAssignments"`
	ExternalCalendars []ExternalCalendar     `yaml:"externalCalendars"`
	Invites           InviteConfig           `yaml:"invites"`
	Confidence        ConfidenceConfig       `yaml:"confidence"`
	Defaults          DefaultsConfig         `yaml:"defaults"`
	Processing        ProcessingConfig       `yaml:"processing"`
	Notifications     NotificationsConfig    `yaml:"notifications"`
	Digests           DigestsConfig          `yaml:"digests"`

	// Server, Store, Bedrock, and Gmail carry secrets-adjacent settings
	// that are always environment-overridable; see LoadFromEnv.
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Bedrock BedrockConfig `yaml:"bedrock"`
	Gmail   GmailConfig   `yaml:"gmail"`

	// AgentMode and personAssignmentEnabled are environment-only; see
	// LoadFromEnv. They have no yaml tag because the config file never
	// carries them.
	AgentMode               AgentMode `yaml:"-"`
	personAssignmentEnabled bool
}

// PersonAssignmentEnabled reports whether PersonAssigner should run,
// per PERSON_ASSIGNMENT_ENABLED (default true).
func (c *Config) PersonAssignmentEnabled() bool {
	return c.personAssignmentEnabled
}

// CalendarConfig names the external calendar the core writes
// CalendarOperations against; the writer itself is out of core scope.
type CalendarConfig struct {
	CalendarID    string `yaml:"calendarId"`
	NotifyGuests  bool   `yaml:"notifyGuests"`
}

// ExternalCalendar is one additional read-only calendar the dashboard
// may merge in; the core only tracks its identity.
type ExternalCalendar struct {
	Name       string `yaml:"name"`
	CalendarID string `yaml:"calendarId"`
}

// InviteConfig controls whether and how guests are notified of
// calendar writes. sendUpdates defaults to "none".
type InviteConfig struct {
	SendUpdates string `yaml:"sendUpdates"`
}

// ConfidenceConfig holds the Orchestrator's autopilot promotion gate
// and Stage B's minimum acceptance confidence.
type ConfidenceConfig struct {
	AutoCreate float64 `yaml:"autoCreate"`
	MinAccept  float64 `yaml:"minAccept"`
}

// DefaultsConfig holds fallback values applied when a pack doesn't
// override them.
type DefaultsConfig struct {
	RelevanceThreshold float64 `yaml:"relevanceThreshold"`
	LookbackDays       int     `yaml:"lookbackDays"`
}

// ProcessingConfig bounds a single discovery run.
type ProcessingConfig struct {
	MaxEmailsPerRun int `yaml:"maxEmailsPerRun"`
	WorkerPoolSize  int `yaml:"workerPoolSize"`
	LookbackDays    int `yaml:"lookbackDays"`
}

// MaxEmailsPerRunOrDefault applies the hard-cap default of 500 messages
// when the config leaves it unset.
func (p ProcessingConfig) MaxEmailsPerRunOrDefault() int {
	if p.MaxEmailsPerRun == 0 {
		return 500
	}
	return p.MaxEmailsPerRun
}

// WorkerPoolSizeOrDefault bounds the DiscoveryEngine's worker pool:
// 4 when unset, otherwise the configured size clamped to 2-5.
func (p ProcessingConfig) WorkerPoolSizeOrDefault() int {
	switch {
	case p.WorkerPoolSize == 0:
		return 4
	case p.WorkerPoolSize < 2:
		return 2
	case p.WorkerPoolSize > 5:
		return 5
	}
	return p.WorkerPoolSize
}

// NotificationsConfig controls where pack-level failures surface.
type NotificationsConfig struct {
	FailureDigestSection string `yaml:"failureDigestSection"`
}

// DigestsConfig controls the periodic digest cadence; the digest
// template/send mechanism itself is out of core scope.
type DigestsConfig struct {
	DailyHour          int    `yaml:"dailyHour"`
	ReconciliationDay   string `yaml:"reconciliationDay"`
	TimeZone           string `yaml:"timeZone"`
}

// ServerConfig holds the dashboard HTTP API's listen settings.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the listen host, defaulting to all interfaces when
// running in a container (mirrors the lineage's ECS detection).
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if c.Host != "" {
		return c.Host
	}
	return "localhost"
}

// GetPort returns the listen port, defaulting to 8080.
func (c ServerConfig) GetPort() int {
	if c.Port == 0 {
		return 8080
	}
	return c.Port
}

// StoreConfig holds the Postgres connection string and pool sizing;
// DSN is always sourced from DATABASE_URL in practice (see LoadFromEnv).
type StoreConfig struct {
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"maxOpenConns"`
	MaxIdleConns    int    `yaml:"maxIdleConns"`
	RedisURL        string `yaml:"redisUrl"`
}

// MaxOpenConnsOrDefault returns the configured pool cap, or 10.
func (s StoreConfig) MaxOpenConnsOrDefault() int {
	if s.MaxOpenConns == 0 {
		return 10
	}
	return s.MaxOpenConns
}

// BedrockConfig holds Stage B's LLM classifier settings. Enabled is
// set by the config file's enabled field, and LoadFromEnv also turns
// it on when ANTHROPIC_API_KEY is present in the environment.
type BedrockConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Region         string `yaml:"region"`
	ModelID        string `yaml:"modelId"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

// Timeout returns Stage B's LLM call timeout, defaulting to 10s per
// the suspension-point contract.
func (c BedrockConfig) Timeout() time.Duration {
	if c.TimeoutSeconds == 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GmailConfig holds the MailSource adapter's OAuth client identity;
// the bootstrap/login flow that produces the refresh token is out of
// core scope.
type GmailConfig struct {
	ClientID     string `yaml:"clientId"`
	ClientSecret string `yaml:"clientSecret"`
	RedirectURI  string `yaml:"redirectUri"`
	RefreshToken string `yaml:"refreshToken"`
}

// MailTimeout is the 15s bound on each GetMessage and GetAttachments
// call, per the suspension-point contract.
const MailTimeout = 15 * time.Second

// ErrInvalidConfig wraps a schema validation failure at load time.
type ErrInvalidConfig struct {
	Reason string
}

func (e *ErrInvalidConfig) Error() string {
	return fmt.Sprintf("invalid configuration: %s", e.Reason)
}

// Load reads and parses the configuration file, applying defaults and
// validating the schema. Invalid config aborts with ErrInvalidConfig.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Processing.LookbackDays == 0 {
		cfg.Processing.LookbackDays = cfg.Defaults.LookbackDays
	}
	if cfg.Processing.LookbackDays == 0 {
		cfg.Processing.LookbackDays = 14
	}
	if cfg.Defaults.RelevanceThreshold == 0 {
		cfg.Defaults.RelevanceThreshold = 0.4
	}
	if cfg.Confidence.AutoCreate == 0 {
		cfg.Confidence.AutoCreate = 0.9
	}
	if cfg.Invites.SendUpdates == "" {
		cfg.Invites.SendUpdates = "none"
	}
	if cfg.Bedrock.ModelID == "" {
		cfg.Bedrock.ModelID = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}
	if cfg.Bedrock.Region == "" {
		cfg.Bedrock.Region = "us-east-1"
	}
}

// validate enforces the schema rules a missing/malformed pack config
// should fail loudly on: every pack needs at least one source, every
// category preference value must be a known Sensitivity, and every
// family member needs at least one alias to ever be matched.
func validate(cfg *Config) error {
	for _, p := range cfg.Packs {
		if len(p.Sources) == 0 {
			return &ErrInvalidConfig{Reason: fmt.Sprintf("pack %q has no sources", p.PackID)}
		}
		for cat, sens := range p.CategoryPrefs {
			switch sens {
			case domain.SensitivityConservative, domain.SensitivityBalanced,
				domain.SensitivityBroad, domain.SensitivityOff:
			default:
				return &ErrInvalidConfig{Reason: fmt.Sprintf(
					"pack %q: category %q has unknown sensitivity %q", p.PackID, cat, sens)}
			}
		}
	}
	for _, m := range cfg.Family {
		if len(m.Aliases) == 0 && len(m.GroupAliases) == 0 {
			return &ErrInvalidConfig{Reason: fmt.Sprintf("family member %q has no aliases", m.Name)}
		}
	}
	return nil
}

// Save writes cfg back to path as YAML, for the forward-only config
// edits the `audit` CLI command makes (add-domain, exclude-keyword).
// The CLI loads cfg through LoadFromEnv, so secret fields may hold
// values from the environment when Save is called; they are blanked
// here so a Save never leaks a secret into the config file.
func Save(cfg *Config, path string) error {
	clone := *cfg
	clone.Gmail = GmailConfig{}
	clone.Store.DSN = ""
	clone.Bedrock.Enabled = false

	data, err := yaml.Marshal(&clone)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadFromEnv loads the configuration file and overrides secrets and
// deployment-specific values from the environment. It loads a local
// .env file first (no error if missing) so secrets can live there in
// development and in real environment variables in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Store.RedisURL = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.Gmail.ClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.Gmail.ClientSecret = v
	}
	if v := os.Getenv("GOOGLE_REDIRECT_URI"); v != "" {
		cfg.Gmail.RedirectURI = v
	}
	if v := os.Getenv("GOOGLE_REFRESH_TOKEN"); v != "" {
		cfg.Gmail.RefreshToken = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Bedrock.Enabled = true
	}
	if v := os.Getenv("PERSON_ASSIGNMENT_ENABLED"); v != "" {
		// default true; only an explicit "false" disables it.
		cfg.personAssignmentEnabled = v != "false"
	} else {
		cfg.personAssignmentEnabled = true
	}
	if v := os.Getenv("AGENT_MODE"); v != "" {
		cfg.AgentMode = AgentMode(v)
	}
	if cfg.AgentMode == "" {
		cfg.AgentMode = AgentModeCopilot
	}

	return cfg, nil
}

// AgentMode is the Orchestrator's operating mode.
type AgentMode string

const (
	AgentModeCopilot  AgentMode = "copilot"
	AgentModeAutopilot AgentMode = "autopilot"
	AgentModeDryRun   AgentMode = "dry-run"
)
