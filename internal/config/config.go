// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type BotConfig struct {
	Token    string  `yaml:"token"`
	Workers  int     `yaml:"workers"` // update workers; a chat always lands on the same one
	AdminIDs []int64 `yaml:"admin_ids"`
	Contact  string  `yaml:"contact"` // shown to unauthorized users
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type AdminConfig struct {
	Port      int    `yaml:"port"`
	APIKey    string `yaml:"api_key"`    // exchanged for a session token at login
	JWTSecret string `yaml:"jwt_secret"` // empty disables the /api/v1 routes
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type SecurityConfig struct {
	// AgeIdentity is an "AGE-SECRET-KEY-1..." X25519 identity used to seal secrets at rest.
	AgeIdentity string `yaml:"age_identity"`
}

// MailboxKind configures how one artifact kind is searched and extracted.
type MailboxKind struct {
	From        string   `yaml:"from"`
	Subject     string   `yaml:"subject"`
	LinkPrefix  string   `yaml:"link_prefix"`  // empty for code kinds
	AnchorAllow []string `yaml:"anchor_allow"` // optional anchor-text allowlist
	CodeDigits  int      `yaml:"code_digits"`  // 0 for link kinds
}

type MailboxConfig struct {
	Host    string                 `yaml:"host"`
	Port    int                    `yaml:"port"`
	Timeout time.Duration          `yaml:"timeout"`
	Window  time.Duration          `yaml:"window"`
	Kinds   map[string]MailboxKind `yaml:"kinds"`
}

type RemindersConfig struct {
	Thresholds []int `yaml:"thresholds"`
	ChannelID  int64 `yaml:"channel_id"` // 0 disables the day-1 broadcast
}

type SchedulerConfig struct {
	CycleCron     string        `yaml:"cycle_cron"`
	SweepInterval time.Duration `yaml:"sweep_interval"` // 0 disables the extra sweep-only worker
}

type ConversationConfig struct {
	PendingTTL time.Duration `yaml:"pending_ttl"`
}

type Config struct {
	Bot          BotConfig          `yaml:"bot"`
	Log          LogConfig          `yaml:"log"`
	Admin        AdminConfig        `yaml:"admin"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Security     SecurityConfig     `yaml:"security"`
	Mailbox      MailboxConfig      `yaml:"mailbox"`
	Reminders    RemindersConfig    `yaml:"reminders"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Conversation ConversationConfig `yaml:"conversation"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path, applies environment overrides and
// defaults, and validates the result.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

// Parse is LoadConfig without the file read.
func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)

	// Minimal validation
	if cfg.Bot.Token == "" {
		return nil, errors.New("bot.token is required")
	}
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" && !dev {
		return nil, errors.New("redis.url is required")
	}
	if len(cfg.Bot.AdminIDs) == 0 {
		return nil, errors.New("bot.admin_ids must list at least one administrator")
	}
	for _, d := range cfg.Reminders.Thresholds {
		if d <= 0 {
			return nil, fmt.Errorf("reminders.thresholds: %d is not a positive day count", d)
		}
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	setStr := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setStr(&cfg.Bot.Token, "BOT_TOKEN")
	setStr(&cfg.Database.URL, "DATABASE_URL")
	setStr(&cfg.Redis.URL, "REDIS_URL")
	setStr(&cfg.Security.AgeIdentity, "AGE_IDENTITY")
	setStr(&cfg.Admin.JWTSecret, "ADMIN_JWT_SECRET")
	setStr(&cfg.Admin.APIKey, "ADMIN_API_KEY")

	if v := strings.TrimSpace(os.Getenv("ADMIN_IDS")); v != "" {
		ids, err := parseIDList(v)
		if err != nil {
			return fmt.Errorf("ADMIN_IDS: %w", err)
		}
		cfg.Bot.AdminIDs = ids
	}
	return nil
}

func parseIDList(s string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		out = append(out, id)
	}
	return out, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Bot.Workers <= 0 {
		cfg.Bot.Workers = 8
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Admin.Port == 0 {
		cfg.Admin.Port = 8080
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	if cfg.Mailbox.Host == "" {
		cfg.Mailbox.Host = "imap.gmail.com"
	}
	if cfg.Mailbox.Port == 0 {
		cfg.Mailbox.Port = 993
	}
	if cfg.Mailbox.Timeout <= 0 {
		cfg.Mailbox.Timeout = 45 * time.Second
	}
	if cfg.Mailbox.Window <= 0 {
		cfg.Mailbox.Window = 24 * time.Hour
	}
	if cfg.Mailbox.Kinds == nil {
		cfg.Mailbox.Kinds = map[string]MailboxKind{}
	}
	for name, k := range DefaultMailboxKinds() {
		if _, ok := cfg.Mailbox.Kinds[name]; !ok {
			cfg.Mailbox.Kinds[name] = k
		}
	}

	if len(cfg.Reminders.Thresholds) == 0 {
		cfg.Reminders.Thresholds = []int{1, 2, 3}
	}
	if cfg.Scheduler.CycleCron == "" {
		cfg.Scheduler.CycleCron = "@daily"
	}
	if cfg.Conversation.PendingTTL <= 0 {
		cfg.Conversation.PendingTTL = 15 * time.Minute
	}
}

// DefaultMailboxKinds are the Netflix mail shapes the bot was built around.
func DefaultMailboxKinds() map[string]MailboxKind {
	return map[string]MailboxKind{
		"signin_code": {
			From:       "netflix.com",
			CodeDigits: 4,
		},
		"household_link": {
			From:        "netflix.com",
			LinkPrefix:  "https://www.netflix.com/account/travel/verify",
			AnchorAllow: []string{"Get Code", "Yes, This Was Me", "confirm"},
		},
		"password_reset": {
			From:        "netflix.com",
			Subject:     "reset",
			LinkPrefix:  "https://www.netflix.com/password",
			AnchorAllow: []string{"Reset password"},
		},
	}
}

// IsAdmin reports whether id is in bot.admin_ids.
func (c *Config) IsAdmin(id int64) bool {
	for _, a := range c.Bot.AdminIDs {
		if a == id {
			return true
		}
	}
	return false
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
