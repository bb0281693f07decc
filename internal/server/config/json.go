package config

import (
	"encoding/json"
	"os"

	"github.com/peerdrop/peerdrop/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON
// unmarshalling. It uses timex.Duration for interval fields, which allows
// parsing both string values such as "90s" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON configuration
// files; after unmarshalling, its fields are copied into the runtime Config.
type JsonConfig struct {
	EndpointAddrHTTP        string         `json:"endpoint_addr_http"`
	DatabaseDSN             string         `json:"database_dsn"`
	SecretKey               string         `json:"secret_key"`
	TokenValidityDuration   timex.Duration `json:"token_validity_duration"`
	PresenceStalenessWindow timex.Duration `json:"presence_staleness_window"`
	SweepInterval           timex.Duration `json:"sweep_interval"`
	SweepBatchSize          int            `json:"sweep_batch_size"`
	DialTimeout             timex.Duration `json:"dial_timeout"`
	LiveSendTimeout         timex.Duration `json:"live_send_timeout"`
	BlobUploadTimeout       timex.Duration `json:"blob_upload_timeout"`
	S3RootUser              string         `json:"s3_root_user"`
	S3RootPassword          string         `json:"s3_root_password"`
	S3Bucket                string         `json:"s3_bucket"`
	S3Region                string         `json:"s3_region"`
	S3BaseEndpoint          string         `json:"s3_base_endpoint"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The file path is taken from the -c/-config command-line flags; if neither
// is set, no JSON file is loaded. Zero values in the file leave the current
// Config values untouched, so the file only needs the keys it overrides.
// If the file cannot be read or contains invalid JSON, the function panics.
func parseJson(config *Config) {
	jsonConfigFile := jsonConfigPath(os.Args[1:])
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	if c.EndpointAddrHTTP != "" {
		config.EndpointAddrHTTP = c.EndpointAddrHTTP
	}
	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
	if c.SecretKey != "" {
		config.SecretKey = c.SecretKey
	}
	if c.TokenValidityDuration.Duration != 0 {
		config.TokenValidityDuration = c.TokenValidityDuration.Duration
	}
	if c.PresenceStalenessWindow.Duration != 0 {
		config.PresenceStalenessWindow = c.PresenceStalenessWindow.Duration
	}
	if c.SweepInterval.Duration != 0 {
		config.SweepInterval = c.SweepInterval.Duration
	}
	if c.SweepBatchSize != 0 {
		config.SweepBatchSize = c.SweepBatchSize
	}
	if c.DialTimeout.Duration != 0 {
		config.DialTimeout = c.DialTimeout.Duration
	}
	if c.LiveSendTimeout.Duration != 0 {
		config.LiveSendTimeout = c.LiveSendTimeout.Duration
	}
	if c.BlobUploadTimeout.Duration != 0 {
		config.BlobUploadTimeout = c.BlobUploadTimeout.Duration
	}
	if c.S3RootUser != "" {
		config.S3RootUser = c.S3RootUser
	}
	if c.S3RootPassword != "" {
		config.S3RootPassword = c.S3RootPassword
	}
	if c.S3Bucket != "" {
		config.S3Bucket = c.S3Bucket
	}
	if c.S3Region != "" {
		config.S3Region = c.S3Region
	}
	if c.S3BaseEndpoint != "" {
		config.S3BaseEndpoint = c.S3BaseEndpoint
	}
}
