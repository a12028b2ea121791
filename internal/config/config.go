package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Log         LogConfig         `mapstructure:"log"`
	Security    SecurityConfig    `mapstructure:"security"`
	SMTP        SMTPConfig        `mapstructure:"smtp"`
	Senders     []SenderAccount   `mapstructure:"senders"`
	Generator   GeneratorConfig   `mapstructure:"generator"`
	Campaign    CampaignConfig    `mapstructure:"campaign"`
	DeliveryLog DeliveryLogConfig `mapstructure:"delivery_log"`
	Sheets      SheetsConfig      `mapstructure:"sheets"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// DSN returns the PostgreSQL connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SecurityConfig holds operator authentication and rate limiting settings
type SecurityConfig struct {
	// OperatorPasswordHash is the argon2id hash of the dashboard operator
	// password. Leaving it empty disables API authentication.
	OperatorPasswordHash string             `mapstructure:"operator_password_hash"`
	TokenSecret          string             `mapstructure:"token_secret"`
	TokenTTL             time.Duration      `mapstructure:"token_ttl"`
	Issuer               string             `mapstructure:"issuer"`
	RateLimiting         RateLimitingConfig `mapstructure:"rate_limiting"`
}

// AuthEnabled reports whether the control API requires an operator token
func (c SecurityConfig) AuthEnabled() bool {
	return c.OperatorPasswordHash != ""
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	DefaultLimit  int           `mapstructure:"default_limit"`
	DefaultWindow time.Duration `mapstructure:"default_window"`
}

// SMTPConfig holds the outgoing mail server and the default sender account
type SMTPConfig struct {
	Host string `mapstructure:"host"`
	// Port 465 selects implicit TLS, anything else connects in plaintext and
	// must upgrade with STARTTLS unless AllowPlaintext is set.
	Port               int    `mapstructure:"port"`
	Email              string `mapstructure:"email"`
	Password           string `mapstructure:"password"`
	SenderName         string `mapstructure:"sender_name"`
	CompanyName        string `mapstructure:"company_name"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
	AllowPlaintext     bool   `mapstructure:"allow_plaintext"`
}

// SenderAccount is one selectable mailbox from the configured pool
type SenderAccount struct {
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

// GeneratorConfig holds the text generation backend settings
type GeneratorConfig struct {
	// Provider is "openai" or "bedrock"
	Provider       string        `mapstructure:"provider"`
	OpenAIAPIKey   string        `mapstructure:"openai_api_key"`
	OpenAIBaseURL  string        `mapstructure:"openai_base_url"`
	Model          string        `mapstructure:"model"`
	Temperature    float64       `mapstructure:"temperature"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	BedrockRegion  string        `mapstructure:"bedrock_region"`
	BedrockModelID string        `mapstructure:"bedrock_model_id"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// CampaignConfig holds send pacing and the campaign purpose text
type CampaignConfig struct {
	BatchSize           int           `mapstructure:"batch_size"`
	DelayBetweenBatches time.Duration `mapstructure:"delay_between_batches"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	Purpose             string        `mapstructure:"purpose"`
}

// DeliveryLogConfig selects where send outcomes are persisted
type DeliveryLogConfig struct {
	// Backend is "csv" or "postgres"
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// SheetsConfig holds the Google Sheets recipient source settings
type SheetsConfig struct {
	CredentialsJSON string `mapstructure:"credentials_json"`
	CredentialsFile string `mapstructure:"credentials_file"`
	SheetID         string `mapstructure:"sheet_id"`
	SheetName       string `mapstructure:"sheet_name"`
}

// DefaultSender returns the account built from the smtp section
func (c *Config) DefaultSender() SenderAccount {
	return SenderAccount{
		Email:    c.SMTP.Email,
		Password: c.SMTP.Password,
		Name:     c.SMTP.SenderName,
	}
}

// FindSender looks up a pooled sender account by address, case-insensitively
func (c *Config) FindSender(address string) (SenderAccount, bool) {
	for _, acc := range c.Senders {
		if strings.EqualFold(acc.Email, address) {
			return acc, true
		}
	}
	return SenderAccount{}, false
}

// Validate returns human-readable warnings for settings that are missing.
// Missing values are not fatal; the affected features fail when used.
func (c *Config) Validate() []string {
	var missing []string
	if c.SMTP.Email == "" {
		missing = append(missing, "smtp.email")
	}
	if c.SMTP.Password == "" {
		missing = append(missing, "smtp.password")
	}
	if c.Generator.Provider == "openai" && c.Generator.OpenAIAPIKey == "" {
		missing = append(missing, "generator.openai_api_key")
	}
	if c.Campaign.BatchSize <= 0 {
		missing = append(missing, "campaign.batch_size")
	}
	return missing
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from an explicit file path, falling back to
// the default search paths when path is empty.
func LoadFile(path string) (*Config, error) {
	src, err := NewSource(path)
	if err != nil {
		return nil, err
	}
	return src.Current(), nil
}

// Source holds the live configuration. Callers take a fresh snapshot with
// Current for every operation; a snapshot is never modified once published.
type Source struct {
	mu  sync.RWMutex
	v   *viper.Viper
	cfg *Config
}

// NewSource reads the configuration once and keeps the viper instance so the
// file can be re-read later.
func NewSource(path string) (*Source, error) {
	v := newViper(path)
	cfg, err := read(v)
	if err != nil {
		return nil, err
	}
	return &Source{v: v, cfg: cfg}, nil
}

// Static wraps a fixed configuration that never reloads
func Static(cfg *Config) *Source {
	return &Source{cfg: cfg}
}

// Current returns the latest configuration snapshot
func (s *Source) Current() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Reload re-reads the file and environment. On error the previous snapshot
// stays in effect and is returned alongside the error.
func (s *Source) Reload() (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.v == nil {
		return s.cfg, nil
	}
	cfg, err := read(s.v)
	if err != nil {
		return s.cfg, err
	}
	s.cfg = cfg
	return cfg, nil
}

// Watch reloads the configuration whenever its file changes and reports each
// attempt to onChange. It does nothing when no file was found.
func (s *Source) Watch(onChange func(*Config, error)) {
	if s.v == nil || s.v.ConfigFileUsed() == "" {
		return
	}
	s.v.OnConfigChange(func(fsnotify.Event) {
		cfg, err := s.Reload()
		if onChange != nil {
			onChange(cfg, err)
		}
	})
	s.v.WatchConfig()
}

func newViper(path string) *viper.Viper {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/mailpilot")
	}

	setDefaults(v)

	v.SetEnvPrefix("MAILPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func read(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5002)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "mailpilot")
	v.SetDefault("database.user", "mailpilot")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 10)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Security defaults
	v.SetDefault("security.operator_password_hash", "")
	v.SetDefault("security.token_secret", "")
	v.SetDefault("security.token_ttl", "12h")
	v.SetDefault("security.issuer", "mailpilot")
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.default_limit", 120)
	v.SetDefault("security.rate_limiting.default_window", "1m")

	// SMTP defaults
	v.SetDefault("smtp.host", "smtp.hostinger.com")
	v.SetDefault("smtp.port", 465)
	v.SetDefault("smtp.email", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.sender_name", "")
	v.SetDefault("smtp.company_name", "")
	v.SetDefault("smtp.insecure_skip_verify", false)
	v.SetDefault("smtp.allow_plaintext", false)

	// Generator defaults
	v.SetDefault("generator.provider", "openai")
	v.SetDefault("generator.openai_api_key", "")
	v.SetDefault("generator.openai_base_url", "https://api.openai.com/v1")
	v.SetDefault("generator.model", "gpt-4o-mini")
	v.SetDefault("generator.temperature", 0.7)
	v.SetDefault("generator.max_tokens", 500)
	v.SetDefault("generator.bedrock_region", "us-east-1")
	v.SetDefault("generator.bedrock_model_id", "anthropic.claude-3-haiku-20240307-v1:0")
	v.SetDefault("generator.max_attempts", 3)
	v.SetDefault("generator.retry_base_delay", "1s")
	v.SetDefault("generator.timeout", "60s")

	// Campaign defaults
	v.SetDefault("campaign.batch_size", 50)
	v.SetDefault("campaign.delay_between_batches", "60s")
	v.SetDefault("campaign.poll_interval", "1s")
	v.SetDefault("campaign.purpose", "")

	// Delivery log defaults
	v.SetDefault("delivery_log.backend", "csv")
	v.SetDefault("delivery_log.path", "send_log.csv")

	// Sheets defaults
	v.SetDefault("sheets.credentials_json", "")
	v.SetDefault("sheets.sheet_id", "")
	v.SetDefault("sheets.credentials_file", "credentials.json")
	v.SetDefault("sheets.sheet_name", "Sheet1")
}
