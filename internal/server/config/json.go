package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/crawlupload/internal/flagx"
	"github.com/dmitrijs2005/crawlupload/internal/timex"
)

// JsonConfig mirrors Config for JSON unmarshalling. Pointer fields tell an
// absent key apart from a zero value, so a partial file only overrides what
// it names. ShutdownTimeout accepts "30s" strings or integer nanoseconds.
type JsonConfig struct {
	EndpointAddrHTTP     *string         `json:"endpoint_addr_http"`
	EndpointAddrGRPC     *string         `json:"endpoint_addr_grpc"`
	DatabaseDSN          *string         `json:"database_dsn"`
	SecretKey            *string         `json:"secret_key"`
	S3RootUser           *string         `json:"s3_root_user"`
	S3RootPassword       *string         `json:"s3_root_password"`
	S3Bucket             *string         `json:"s3_bucket"`
	S3Region             *string         `json:"s3_region"`
	S3BaseEndpoint       *string         `json:"s3_base_endpoint"`
	MinUploadPartSize    *int64          `json:"min_upload_part_size"`
	MaxConcurrentUploads *int64          `json:"max_concurrent_uploads"`
	ShutdownTimeout      *timex.Duration `json:"shutdown_timeout"`
	LogFormat            *string         `json:"log_format"`
	TraceStdout          *bool           `json:"trace_stdout"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The file path comes from the -c or -config command-line flags. If neither
// is set, no JSON file is loaded. If the file cannot be read or contains
// invalid JSON, the function panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *JsonConfig) apply(config *Config) {
	setIf(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setIf(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setIf(&config.DatabaseDSN, c.DatabaseDSN)
	setIf(&config.SecretKey, c.SecretKey)
	setIf(&config.S3RootUser, c.S3RootUser)
	setIf(&config.S3RootPassword, c.S3RootPassword)
	setIf(&config.S3Bucket, c.S3Bucket)
	setIf(&config.S3Region, c.S3Region)
	setIf(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setIf(&config.MinUploadPartSize, c.MinUploadPartSize)
	setIf(&config.MaxConcurrentUploads, c.MaxConcurrentUploads)
	setIf(&config.LogFormat, c.LogFormat)
	setIf(&config.TraceStdout, c.TraceStdout)
	if c.ShutdownTimeout != nil {
		config.ShutdownTimeout = c.ShutdownTimeout.Duration
	}
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
