package config

import (
	"flag"
	"io"

	"github.com/dmitrijs2005/passvault/internal/flagx"
)

const envPrefix = "PASSVAULT"

// newFlagSet binds every setting to a flag. The same set backs both the
// command line and the PASSVAULT_* environment (flag "idle-timeout" is
// PASSVAULT_IDLE_TIMEOUT; the short -a and -s are PASSVAULT_A and
// PASSVAULT_S).
func newFlagSet(c *Config) *flag.FlagSet {
	fs := flag.NewFlagSet("passvault", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&c.ListenAddr, "a", c.ListenAddr, "address and port to run server")

	fs.StringVar(&c.StorageBackend, "storage", c.StorageBackend, "storage backend: fs, bolt, s3 or memory")
	fs.StringVar(&c.DataDir, "data-dir", c.DataDir, "root directory of the fs backend")
	fs.StringVar(&c.BoltPath, "bolt-path", c.BoltPath, "database file of the bolt backend")
	fs.StringVar(&c.S3Bucket, "s3-bucket", c.S3Bucket, "S3 bucket")
	fs.StringVar(&c.S3Prefix, "s3-prefix", c.S3Prefix, "S3 key prefix")
	fs.StringVar(&c.S3Region, "s3-region", c.S3Region, "S3 region")
	fs.StringVar(&c.S3BaseEndpoint, "s3-endpoint", c.S3BaseEndpoint, "S3 base endpoint (e.g. http://127.0.0.1:9000)")
	fs.StringVar(&c.S3RootUser, "s3-user", c.S3RootUser, "S3 access key")
	fs.StringVar(&c.S3RootPassword, "s3-password", c.S3RootPassword, "S3 secret key")

	fs.StringVar(&c.SecretKey, "s", c.SecretKey, "secret key (KDF pepper)")
	fs.StringVar(&c.KeyringService, "keyring-service", c.KeyringService, "OS keyring service holding the secret key")
	fs.StringVar(&c.KeyringUser, "keyring-user", c.KeyringUser, "OS keyring account holding the secret key")
	fs.UintVar(&c.ArgonTime, "argon-time", c.ArgonTime, "argon2id passes")
	fs.UintVar(&c.ArgonMemory, "argon-memory", c.ArgonMemory, "argon2id memory in KiB")
	fs.UintVar(&c.ArgonThreads, "argon-threads", c.ArgonThreads, "argon2id threads")
	fs.IntVar(&c.BcryptCost, "bcrypt-cost", c.BcryptCost, "bcrypt cost of login verifiers")
	fs.IntVar(&c.PasswordLength, "password-length", c.PasswordLength, "length of generated passwords")

	fs.StringVar(&c.SafetyChecker, "safety", c.SafetyChecker, "password safety check: enzoic or off")
	fs.StringVar(&c.SafetyURL, "safety-url", c.SafetyURL, "breach check endpoint")
	fs.StringVar(&c.SafetyAPIKey, "safety-api-key", c.SafetyAPIKey, "breach check API key")
	fs.DurationVar(&c.SafetyTimeout, "safety-timeout", c.SafetyTimeout, "breach check timeout")

	fs.StringVar(&c.AuditFile, "audit-file", c.AuditFile, "audit log file, empty to disable")
	fs.StringVar(&c.AuditDriver, "audit-driver", c.AuditDriver, "audit database: postgres or sqlite")
	fs.StringVar(&c.AuditDSN, "audit-dsn", c.AuditDSN, "audit database DSN, empty to disable")
	fs.IntVar(&c.AuditBuffer, "audit-buffer", c.AuditBuffer, "audit queue length")

	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "Prometheus endpoint address, empty to disable")
	fs.IntVar(&c.MaxConnections, "max-connections", c.MaxConnections, "concurrent client limit, 0 for none")
	fs.DurationVar(&c.IdleTimeout, "idle-timeout", c.IdleTimeout, "close connections idle this long, 0 for never")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", c.ShutdownTimeout, "grace period for shutdown")

	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "json or text")

	return fs
}

func parseEnv(c *Config, lookup func(string) (string, bool)) error {
	return flagx.ApplyEnv(newFlagSet(c), envPrefix, lookup)
}

// parseFlags applies command-line flags. Arguments that are not passvault
// flags, -c/-config included, are filtered out first.
func parseFlags(c *Config, args []string) error {
	fs := newFlagSet(c)
	return fs.Parse(flagx.FilterArgs(args, flagx.Names(fs)))
}
