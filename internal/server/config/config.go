// Package config handles configuration for the passvault server: defaults,
// an optional JSON or YAML file, PASSVAULT_* environment variables and
// command-line flags, applied in that order.
package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/dmitrijs2005/passvault/internal/cryptox"
	"github.com/dmitrijs2005/passvault/internal/flagx"
	"github.com/dmitrijs2005/passvault/internal/server/audit"
	"github.com/dmitrijs2005/passvault/internal/server/storage"
	"golang.org/x/crypto/bcrypt"
)

const (
	SafetyEnzoic = "enzoic"
	SafetyOff    = "off"
)

// Config holds runtime settings for the passvault server.
//
// SecretKey is the pepper mixed into every per-user key. Changing it makes
// all stored secrets unreadable. When it is empty and KeyringUser is set the
// pepper is read from the OS keyring.
type Config struct {
	ListenAddr string

	StorageBackend string
	DataDir        string
	BoltPath       string
	S3Bucket       string
	S3Prefix       string
	S3Region       string
	S3BaseEndpoint string
	S3RootUser     string
	S3RootPassword string

	SecretKey      string
	KeyringService string
	KeyringUser    string
	ArgonTime      uint
	ArgonMemory    uint
	ArgonThreads   uint
	BcryptCost     int
	PasswordLength int

	SafetyChecker string
	SafetyURL     string
	SafetyAPIKey  string
	SafetyTimeout time.Duration

	AuditFile   string
	AuditDriver string
	AuditDSN    string
	AuditBuffer int

	MetricsAddr     string
	MaxConnections  int
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	LogLevel  string
	LogFormat string
}

// LoadDefaults populates Config with development defaults: filesystem
// storage under ./data, no breach check, audit to a local file.
func (c *Config) LoadDefaults() {
	c.ListenAddr = ":5555"

	c.StorageBackend = storage.KindFS
	c.DataDir = "data"
	c.BoltPath = "data/passvault.db"
	c.S3Bucket = "vault"
	c.S3Prefix = ""
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = ""
	c.S3RootUser = ""
	c.S3RootPassword = ""

	c.SecretKey = ""
	c.KeyringService = "passvault"
	c.KeyringUser = ""
	c.ArgonTime = cryptox.DefaultArgonTime
	c.ArgonMemory = cryptox.DefaultArgonMemory
	c.ArgonThreads = cryptox.DefaultArgonThreads
	c.BcryptCost = bcrypt.DefaultCost
	c.PasswordLength = cryptox.DefaultPasswordLength

	c.SafetyChecker = SafetyOff
	c.SafetyURL = ""
	c.SafetyAPIKey = ""
	c.SafetyTimeout = 5 * time.Second

	c.AuditFile = "logs/audit.log"
	c.AuditDriver = "postgres"
	c.AuditDSN = ""
	c.AuditBuffer = 1024

	c.MetricsAddr = ":9090"
	c.MaxConnections = 0
	c.IdleTimeout = 0
	c.ShutdownTimeout = 10 * time.Second

	c.LogLevel = "info"
	c.LogFormat = "json"
}

// LoadConfig builds a Config from defaults, the file named by -c/-config,
// the environment and the command line.
func LoadConfig() (*Config, error) {
	return load(os.Args[1:], os.LookupEnv)
}

func load(args []string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if path := flagx.ConfigFile(args); path != "" {
		if err := parseFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := parseEnv(cfg, lookup); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := resolveSecretKey(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if !slices.Contains([]string{storage.KindFS, storage.KindBolt, storage.KindS3, storage.KindMemory}, c.StorageBackend) {
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}
	if c.StorageBackend == storage.KindS3 && c.S3Bucket == "" {
		return fmt.Errorf("s3 storage needs a bucket")
	}
	if c.ArgonTime == 0 || c.ArgonMemory == 0 || c.ArgonThreads == 0 || c.ArgonThreads > 255 {
		return fmt.Errorf("argon2 parameters must be positive (threads at most 255)")
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.PasswordLength < 8 || c.PasswordLength > 256 {
		return fmt.Errorf("password length must be between 8 and 256")
	}
	if c.SafetyChecker != SafetyEnzoic && c.SafetyChecker != SafetyOff {
		return fmt.Errorf("unknown safety checker %q", c.SafetyChecker)
	}
	if c.SafetyTimeout <= 0 {
		return fmt.Errorf("safety timeout must be positive")
	}
	if c.AuditDSN != "" {
		if _, err := audit.DialectFor(c.AuditDriver); err != nil {
			return err
		}
	}
	if c.AuditBuffer < 0 || c.MaxConnections < 0 || c.IdleTimeout < 0 {
		return fmt.Errorf("audit buffer, max connections and idle timeout must not be negative")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// KeyDeriver builds the KDF configured by c.
func (c *Config) KeyDeriver() *cryptox.KeyDeriver {
	return &cryptox.KeyDeriver{
		Pepper:  []byte(c.SecretKey),
		Time:    uint32(c.ArgonTime),
		Memory:  uint32(c.ArgonMemory),
		Threads: uint8(c.ArgonThreads),
	}
}

// StorageOptions maps the storage settings onto storage.Options.
func (c *Config) StorageOptions() storage.Options {
	return storage.Options{
		Kind:     c.StorageBackend,
		DataDir:  c.DataDir,
		BoltPath: c.BoltPath,
		S3: storage.S3Options{
			Bucket:   c.S3Bucket,
			Prefix:   c.S3Prefix,
			Region:   c.S3Region,
			Endpoint: c.S3BaseEndpoint,
			User:     c.S3RootUser,
			Password: c.S3RootPassword,
		},
	}
}
