package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/natskeeper/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations use
// timex.Duration, so both "5s" and integer nanoseconds are accepted. Pointer
// fields distinguish "absent" from zero values; only present fields override.
type JsonConfig struct {
	DatabaseDriver      *string         `json:"database_driver"`
	DatabaseDSN         *string         `json:"database_dsn"`
	StoreDirectory      *string         `json:"store_directory"`
	OperatorName        *string         `json:"operator_name"`
	NSCBinary           *string         `json:"nsc_binary"`
	BrokerHost          *string         `json:"broker_host"`
	BrokerPort          *int            `json:"broker_port"`
	BatchSize           *int            `json:"batch_size"`
	JobTimeout          *timex.Duration `json:"job_timeout"`
	SyncInterval        *timex.Duration `json:"sync_interval"`
	ResolverDir         *string         `json:"resolver_dir"`
	ResolverAllowDelete *bool           `json:"resolver_allow_delete"`
	ResolverInterval    *timex.Duration `json:"resolver_interval"`
	ResolverTimeout     *timex.Duration `json:"resolver_timeout"`
	LogLevel            *string         `json:"log_level"`
	LogFormat           *string         `json:"log_format"`
	MetricsAddr         *string         `json:"metrics_addr"`
	S3Bucket            *string         `json:"s3_bucket"`
	S3Key               *string         `json:"s3_key"`
	S3Region            *string         `json:"s3_region"`
	S3BaseEndpoint      *string         `json:"s3_base_endpoint"`
	S3AccessKey         *string         `json:"s3_access_key"`
	S3SecretKey         *string         `json:"s3_secret_key"`
}

// parseJson overlays the fields present in the JSON file at path onto config.
func parseJson(path string, config *Config) error {
	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	set(&config.DatabaseDriver, c.DatabaseDriver)
	set(&config.DatabaseDSN, c.DatabaseDSN)
	set(&config.StoreDirectory, c.StoreDirectory)
	set(&config.OperatorName, c.OperatorName)
	set(&config.NSCBinary, c.NSCBinary)
	set(&config.BrokerHost, c.BrokerHost)
	set(&config.BrokerPort, c.BrokerPort)
	set(&config.BatchSize, c.BatchSize)
	setDuration(&config.JobTimeout, c.JobTimeout)
	setDuration(&config.SyncInterval, c.SyncInterval)
	set(&config.ResolverDir, c.ResolverDir)
	set(&config.ResolverAllowDelete, c.ResolverAllowDelete)
	setDuration(&config.ResolverInterval, c.ResolverInterval)
	setDuration(&config.ResolverTimeout, c.ResolverTimeout)
	set(&config.LogLevel, c.LogLevel)
	set(&config.LogFormat, c.LogFormat)
	set(&config.MetricsAddr, c.MetricsAddr)
	set(&config.S3Bucket, c.S3Bucket)
	set(&config.S3Key, c.S3Key)
	set(&config.S3Region, c.S3Region)
	set(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	set(&config.S3AccessKey, c.S3AccessKey)
	set(&config.S3SecretKey, c.S3SecretKey)
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
