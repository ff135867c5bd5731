package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/passvault/internal/timex"
	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk shape of a config file. It is seeded from the
// current Config before decoding, so keys missing from the file keep their
// earlier values.
type fileConfig struct {
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`

	StorageBackend string `json:"storage_backend" yaml:"storage_backend"`
	DataDir        string `json:"data_dir" yaml:"data_dir"`
	BoltPath       string `json:"bolt_path" yaml:"bolt_path"`
	S3Bucket       string `json:"s3_bucket" yaml:"s3_bucket"`
	S3Prefix       string `json:"s3_prefix" yaml:"s3_prefix"`
	S3Region       string `json:"s3_region" yaml:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint" yaml:"s3_base_endpoint"`
	S3RootUser     string `json:"s3_root_user" yaml:"s3_root_user"`
	S3RootPassword string `json:"s3_root_password" yaml:"s3_root_password"`

	SecretKey      string `json:"secret_key" yaml:"secret_key"`
	KeyringService string `json:"keyring_service" yaml:"keyring_service"`
	KeyringUser    string `json:"keyring_user" yaml:"keyring_user"`
	ArgonTime      uint   `json:"argon_time" yaml:"argon_time"`
	ArgonMemory    uint   `json:"argon_memory" yaml:"argon_memory"`
	ArgonThreads   uint   `json:"argon_threads" yaml:"argon_threads"`
	BcryptCost     int    `json:"bcrypt_cost" yaml:"bcrypt_cost"`
	PasswordLength int    `json:"password_length" yaml:"password_length"`

	SafetyChecker string         `json:"safety_checker" yaml:"safety_checker"`
	SafetyURL     string         `json:"safety_url" yaml:"safety_url"`
	SafetyAPIKey  string         `json:"safety_api_key" yaml:"safety_api_key"`
	SafetyTimeout timex.Duration `json:"safety_timeout" yaml:"safety_timeout"`

	AuditFile   string `json:"audit_file" yaml:"audit_file"`
	AuditDriver string `json:"audit_driver" yaml:"audit_driver"`
	AuditDSN    string `json:"audit_dsn" yaml:"audit_dsn"`
	AuditBuffer int    `json:"audit_buffer" yaml:"audit_buffer"`

	MetricsAddr     string         `json:"metrics_addr" yaml:"metrics_addr"`
	MaxConnections  int            `json:"max_connections" yaml:"max_connections"`
	IdleTimeout     timex.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout timex.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`

	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format"`
}

func newFileConfig(c *Config) *fileConfig {
	return &fileConfig{
		ListenAddr:      c.ListenAddr,
		StorageBackend:  c.StorageBackend,
		DataDir:         c.DataDir,
		BoltPath:        c.BoltPath,
		S3Bucket:        c.S3Bucket,
		S3Prefix:        c.S3Prefix,
		S3Region:        c.S3Region,
		S3BaseEndpoint:  c.S3BaseEndpoint,
		S3RootUser:      c.S3RootUser,
		S3RootPassword:  c.S3RootPassword,
		SecretKey:       c.SecretKey,
		KeyringService:  c.KeyringService,
		KeyringUser:     c.KeyringUser,
		ArgonTime:       c.ArgonTime,
		ArgonMemory:     c.ArgonMemory,
		ArgonThreads:    c.ArgonThreads,
		BcryptCost:      c.BcryptCost,
		PasswordLength:  c.PasswordLength,
		SafetyChecker:   c.SafetyChecker,
		SafetyURL:       c.SafetyURL,
		SafetyAPIKey:    c.SafetyAPIKey,
		SafetyTimeout:   timex.Duration{Duration: c.SafetyTimeout},
		AuditFile:       c.AuditFile,
		AuditDriver:     c.AuditDriver,
		AuditDSN:        c.AuditDSN,
		AuditBuffer:     c.AuditBuffer,
		MetricsAddr:     c.MetricsAddr,
		MaxConnections:  c.MaxConnections,
		IdleTimeout:     timex.Duration{Duration: c.IdleTimeout},
		ShutdownTimeout: timex.Duration{Duration: c.ShutdownTimeout},
		LogLevel:        c.LogLevel,
		LogFormat:       c.LogFormat,
	}
}

func (f *fileConfig) apply(c *Config) {
	c.ListenAddr = f.ListenAddr
	c.StorageBackend = f.StorageBackend
	c.DataDir = f.DataDir
	c.BoltPath = f.BoltPath
	c.S3Bucket = f.S3Bucket
	c.S3Prefix = f.S3Prefix
	c.S3Region = f.S3Region
	c.S3BaseEndpoint = f.S3BaseEndpoint
	c.S3RootUser = f.S3RootUser
	c.S3RootPassword = f.S3RootPassword
	c.SecretKey = f.SecretKey
	c.KeyringService = f.KeyringService
	c.KeyringUser = f.KeyringUser
	c.ArgonTime = f.ArgonTime
	c.ArgonMemory = f.ArgonMemory
	c.ArgonThreads = f.ArgonThreads
	c.BcryptCost = f.BcryptCost
	c.PasswordLength = f.PasswordLength
	c.SafetyChecker = f.SafetyChecker
	c.SafetyURL = f.SafetyURL
	c.SafetyAPIKey = f.SafetyAPIKey
	c.SafetyTimeout = time.Duration(f.SafetyTimeout.Duration)
	c.AuditFile = f.AuditFile
	c.AuditDriver = f.AuditDriver
	c.AuditDSN = f.AuditDSN
	c.AuditBuffer = f.AuditBuffer
	c.MetricsAddr = f.MetricsAddr
	c.MaxConnections = f.MaxConnections
	c.IdleTimeout = time.Duration(f.IdleTimeout.Duration)
	c.ShutdownTimeout = time.Duration(f.ShutdownTimeout.Duration)
	c.LogLevel = f.LogLevel
	c.LogFormat = f.LogFormat
}

// parseFile overlays the settings found in a JSON or YAML file (chosen by
// extension, .yaml/.yml for YAML). Unknown keys are an error; an empty file
// changes nothing.
func parseFile(c *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	fc := newFileConfig(c)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(fc); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(fc); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	fc.apply(c)
	return nil
}
