// Package config handles configuration for natskeeper, including defaults,
// JSON overlay, and command-line flags.
package config

import (
	"time"

	"github.com/dmitrijs2005/natskeeper/internal/nsc"
)

// Config holds runtime settings.
//
// Fields:
//   - DatabaseDriver / DatabaseDSN: record store ("pgx" or "sqlite") and its DSN.
//   - StoreDirectory / OperatorName / NSCBinary: the credential store and the tool managing it.
//   - BrokerHost / BrokerPort: broker address, used for the account token server URL
//     and for stream management.
//   - BatchSize / JobTimeout / SyncInterval: reconciliation pass limits.
//   - Resolver*: the broker's full account resolver block.
//   - LogLevel / LogFormat: slog handler settings.
//   - MetricsAddr: bind address of the /metrics endpoint, empty disables it.
//   - S3*: where `config --publish` uploads the rendered broker configuration.
type Config struct {
	DatabaseDriver      string
	DatabaseDSN         string
	StoreDirectory      string
	OperatorName        string
	NSCBinary           string
	BrokerHost          string
	BrokerPort          int
	BatchSize           int
	JobTimeout          time.Duration
	SyncInterval        time.Duration
	ResolverDir         string
	ResolverAllowDelete bool
	ResolverInterval    time.Duration
	ResolverTimeout     time.Duration
	LogLevel            string
	LogFormat           string
	MetricsAddr         string
	S3Bucket            string
	S3Key               string
	S3Region            string
	S3BaseEndpoint      string
	S3AccessKey         string
	S3SecretKey         string
}

// LoadDefaults populates Config with development defaults.
// NOTE: the S3 credentials are insecure and must be overridden.
func (c *Config) LoadDefaults() {
	resolver := nsc.DefaultResolver()

	c.DatabaseDriver = "sqlite"
	c.DatabaseDSN = "natskeeper.db"
	c.StoreDirectory = "/var/lib/natskeeper/nsc"
	c.OperatorName = "natskeeper"
	c.NSCBinary = "nsc"
	c.BrokerHost = "localhost"
	c.BrokerPort = 4222
	c.BatchSize = 50
	c.JobTimeout = 300 * time.Second
	c.SyncInterval = 5 * time.Second
	c.ResolverDir = resolver.Dir
	c.ResolverAllowDelete = resolver.AllowDelete
	c.ResolverInterval = resolver.Interval
	c.ResolverTimeout = resolver.Timeout
	c.LogLevel = "info"
	c.LogFormat = "json"
	c.MetricsAddr = ":9090"
	c.S3Bucket = "natskeeper"
	c.S3Key = "broker/nats.conf"
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = "http://127.0.0.1:9000/"
	c.S3AccessKey = "admin"
	c.S3SecretKey = "secretpassword"
}

// Resolver returns the resolver block settings.
func (c *Config) Resolver() nsc.Resolver {
	return nsc.Resolver{
		Dir:         c.ResolverDir,
		AllowDelete: c.ResolverAllowDelete,
		Interval:    c.ResolverInterval,
		Timeout:     c.ResolverTimeout,
	}
}
