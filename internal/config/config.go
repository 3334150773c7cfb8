package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultPollIntervalSec = 60
	defaultIMAPPort        = 993
)

func checkFilePermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %04o; should be 0600", path, perm)
	}
	return nil
}

type Config struct {
	Server  ServerConfig `yaml:"server"`
	Mail    MailConfig   `yaml:"mail"`
	Inbox   InboxConfig  `yaml:"inbox,omitempty"`
	History HistoryConfig `yaml:"history,omitempty"`
}

type ServerConfig struct {
	Port int    `yaml:"port"`
	Mode string `yaml:"mode"` // "development" or "production"; affects startup logging only
}

// MailConfig selects the outbound transport and the addresses on both ends
// of the form pipeline: From is the sending identity, Operator receives
// form submissions.
type MailConfig struct {
	Provider string         `yaml:"provider"` // "smtp", "sendgrid", "resend"
	From     string         `yaml:"from"`
	FromName string         `yaml:"from_name,omitempty"`
	Operator string         `yaml:"operator"`
	SMTP     SMTPConfig     `yaml:"smtp,omitempty"`
	SendGrid SendGridConfig `yaml:"sendgrid,omitempty"`
	Resend   ResendConfig   `yaml:"resend,omitempty"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	UseTLS   bool   `yaml:"use_tls"`
}

type SendGridConfig struct {
	APIKey string `yaml:"api_key"`
}

type ResendConfig struct {
	APIKey string `yaml:"api_key"`
}

// InboxConfig holds IMAP settings for the inbound toll-mail monitor
type InboxConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Server          string `yaml:"server"` // e.g. "imap.gmail.com"
	Port            int    `yaml:"port"`   // e.g. 993
	Email           string `yaml:"email"`
	Password        string `yaml:"password"` // app password, not the main password
	Folder          string `yaml:"folder"`   // default "INBOX"
	PollIntervalSec int    `yaml:"poll_interval_sec"`
	MarkAsRead      bool   `yaml:"mark_as_read"` // default false: processed messages stay unread
}

type HistoryConfig struct {
	Path string `yaml:"path"`
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".tollform", "config.yaml")
}

func DefaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "history.db"
	}
	return filepath.Join(home, ".tollform", "history.db")
}

func Load(path string) (*Config, error) {
	if err := checkFilePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: %v\n", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "development"
	}
	if c.Mail.Operator == "" {
		c.Mail.Operator = c.Mail.From
	}
	if c.Inbox.Folder == "" {
		c.Inbox.Folder = "INBOX"
	}
	if c.Inbox.Port == 0 {
		c.Inbox.Port = defaultIMAPPort
	}
	if c.Inbox.PollIntervalSec == 0 {
		c.Inbox.PollIntervalSec = defaultPollIntervalSec
	}
	if c.History.Path == "" {
		c.History.Path = DefaultHistoryPath()
	}
}

// applyEnv lets secrets and address overrides come from the environment
// instead of the config file
func (c *Config) applyEnv() {
	setString(&c.Mail.SendGrid.APIKey, "SENDGRID_API_KEY")
	setString(&c.Mail.Resend.APIKey, "RESEND_API_KEY")
	setString(&c.Mail.SMTP.Password, "SMTP_PASSWORD")
	setString(&c.Mail.From, "FROM_EMAIL")
	setString(&c.Mail.Operator, "RECEIVING_EMAIL")
	setString(&c.Inbox.Email, "EMAIL_USER")
	setString(&c.Inbox.Password, "EMAIL_PASSWORD")
	setString(&c.Server.Mode, "APP_MODE")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			*dst = trimmed
		}
	}
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

func (c *Config) Validate() error {
	if c.Mail.From == "" {
		return fmt.Errorf("mail: from address is required")
	}
	if c.Mail.Operator == "" {
		return fmt.Errorf("mail: operator address is required")
	}

	switch c.Mail.Provider {
	case "smtp":
		if c.Mail.SMTP.Host == "" {
			return fmt.Errorf("mail.smtp: host is required")
		}
		if c.Mail.SMTP.Port == 0 {
			return fmt.Errorf("mail.smtp: port is required")
		}
	case "sendgrid":
		if c.Mail.SendGrid.APIKey == "" {
			return fmt.Errorf("mail.sendgrid: api_key is required")
		}
	case "resend":
		if c.Mail.Resend.APIKey == "" {
			return fmt.Errorf("mail.resend: api_key is required")
		}
	case "":
		return fmt.Errorf("mail: provider is required")
	default:
		return fmt.Errorf("mail: unknown provider %q (smtp, sendgrid, resend)", c.Mail.Provider)
	}

	return nil
}

// ValidateInbox validates inbox configuration (only called when monitoring is used)
func (c *Config) ValidateInbox() error {
	if !c.Inbox.Enabled {
		return fmt.Errorf("inbox: monitoring is not enabled in config")
	}
	if c.Inbox.Email == "" {
		return fmt.Errorf("inbox: email address is required")
	}
	if c.Inbox.Password == "" {
		return fmt.Errorf("inbox: password (app password) is required")
	}
	if c.Inbox.Server == "" {
		return fmt.Errorf("inbox: IMAP server is required")
	}
	return nil
}
