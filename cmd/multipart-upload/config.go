package main

import (
	"errors"
	"fmt"

	"github.com/bitrise-io/go-multipart/multipart"
	"github.com/bitrise-io/go-multipart/source"
	"github.com/bitrise-io/go-multipart/stepconf"
)

const (
	modeS3    = "s3"
	modeCache = "cache"
)

type config struct {
	Paths []string `env:"paths,required"`
	Mode  string   `env:"mode"`

	Bucket          string          `env:"bucket"`
	KeyPrefix       string          `env:"key_prefix"`
	Region          string          `env:"aws_region"`
	Endpoint        string          `env:"s3_endpoint"`
	AccessKeyID     stepconf.Secret `env:"aws_access_key_id"`
	SecretAccessKey stepconf.Secret `env:"aws_secret_access_key"`

	APIBaseURL     stepconf.Secret `env:"BITRISEIO_ABCS_API_URL"`
	APIAccessToken stepconf.Secret `env:"BITRISEIO_ABCS_ACCESS_TOKEN"`

	AllowParallelUploads bool   `env:"allow_parallel_uploads"`
	Concurrency          int    `env:"concurrency,range[0..64]"`
	PartSize             string `env:"part_size"`
	RetryAttempts        int    `env:"retry_attempts,range[0..10]"`
	Compress             bool   `env:"compress"`
	CompressionLevel     int    `env:"compression_level,range[0..19]"`

	ReportPath   string `env:"report_path"`
	ReportEnvKey string `env:"report_env_key"`
	Verbose      bool   `env:"verbose"`
}

func (c config) validate() error {
	switch c.mode() {
	case modeS3:
		if c.Bucket == "" {
			return errors.New("bucket must be set in s3 mode")
		}
		if c.Region == "" {
			return errors.New("aws_region must be set in s3 mode")
		}
	case modeCache:
		if c.APIBaseURL == "" || c.APIAccessToken == "" {
			return errors.New("the upload API URL and access token must be set in cache mode")
		}
		if c.Compress {
			return errors.New("compression is not supported in cache mode, the upload API needs the object size upfront")
		}
	default:
		return fmt.Errorf("invalid mode %q, valid modes: %s, %s", c.Mode, modeS3, modeCache)
	}

	if _, err := c.uploaderConfig().ConcurrencyLimit(); err != nil {
		return err
	}
	if _, err := c.partSize(); err != nil {
		return err
	}
	return nil
}

func (c config) mode() string {
	if c.Mode == "" {
		return modeS3
	}
	return c.Mode
}

func (c config) uploaderConfig() multipart.Config {
	cfg := multipart.DefaultConfig()
	cfg.AllowParallelUploads = c.AllowParallelUploads
	if c.Concurrency > 0 {
		cfg.Concurrency = c.Concurrency
	}
	return cfg
}

// partSize returns 0 when the part size should be picked per file.
func (c config) partSize() (int64, error) {
	if c.PartSize == "" {
		return 0, nil
	}
	return source.ParsePartSize(c.PartSize)
}
