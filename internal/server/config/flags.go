package config

import (
	"github.com/spf13/pflag"

	"github.com/dmitrijs2005/natskeeper/internal/flagx"
)

// ConfigFileFlag names the flag holding the JSON configuration file path.
const ConfigFileFlag = "config"

// BindFlags registers every setting on fs with the current values of config
// as defaults, plus --config/-c for the JSON file.
func BindFlags(fs *pflag.FlagSet, config *Config) {
	fs.StringP(ConfigFileFlag, "c", "", "path to a JSON config file")

	fs.StringVar(&config.DatabaseDriver, "db-driver", config.DatabaseDriver, "record store driver (pgx or sqlite)")
	fs.StringVarP(&config.DatabaseDSN, "db-dsn", "d", config.DatabaseDSN, "record store DSN")
	fs.StringVar(&config.StoreDirectory, "store-dir", config.StoreDirectory, "credential store directory")
	fs.StringVar(&config.OperatorName, "operator", config.OperatorName, "operator name")
	fs.StringVar(&config.NSCBinary, "nsc-binary", config.NSCBinary, "credential tool binary")
	fs.StringVar(&config.BrokerHost, "broker-host", config.BrokerHost, "broker host")
	fs.IntVar(&config.BrokerPort, "broker-port", config.BrokerPort, "broker port")
	fs.IntVar(&config.BatchSize, "batch-size", config.BatchSize, "records per reconciliation pass")
	fs.DurationVar(&config.JobTimeout, "job-timeout", config.JobTimeout, "time budget of one background job")
	fs.DurationVar(&config.SyncInterval, "sync-interval", config.SyncInterval, "interval of the periodic jobs")
	fs.StringVar(&config.ResolverDir, "resolver-dir", config.ResolverDir, "broker resolver directory")
	fs.BoolVar(&config.ResolverAllowDelete, "resolver-allow-delete", config.ResolverAllowDelete, "allow account deletion at the resolver")
	fs.DurationVar(&config.ResolverInterval, "resolver-interval", config.ResolverInterval, "resolver sync interval")
	fs.DurationVar(&config.ResolverTimeout, "resolver-timeout", config.ResolverTimeout, "resolver request timeout")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "debug, info, warn or error")
	fs.StringVar(&config.LogFormat, "log-format", config.LogFormat, "json or text")
	fs.StringVar(&config.MetricsAddr, "metrics-addr", config.MetricsAddr, "metrics listen address, empty disables")
	fs.StringVar(&config.S3Bucket, "s3-bucket", config.S3Bucket, "S3 bucket for the broker config")
	fs.StringVar(&config.S3Key, "s3-key", config.S3Key, "S3 object key for the broker config")
	fs.StringVar(&config.S3Region, "s3-region", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "s3-endpoint", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.S3AccessKey, "s3-access-key", config.S3AccessKey, "S3 access key")
	fs.StringVar(&config.S3SecretKey, "s3-secret-key", config.S3SecretKey, "S3 secret key")
}

// Resolve applies the JSON file named by --config, if any, underneath the
// flags set explicitly on the command line. fs must have been parsed.
func Resolve(fs *pflag.FlagSet, config *Config) error {
	path, err := fs.GetString(ConfigFileFlag)
	if err != nil || path == "" {
		return nil
	}

	explicit := flagx.Changed(fs)
	if err := parseJson(path, config); err != nil {
		return err
	}
	return flagx.Restore(fs, explicit)
}

// Load builds a Config from defaults, the optional JSON file and args.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	fs := pflag.NewFlagSet("natskeeper", pflag.ContinueOnError)
	BindFlags(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := Resolve(fs, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
