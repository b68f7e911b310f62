package s3

import (
	"fmt"

	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Config represents the S3 archive configuration
type Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	ForcePathStyle  bool   `yaml:"force_path_style"`

	// StorageClass of uploaded snapshots, e.g. STANDARD or INTELLIGENT_TIERING.
	StorageClass string `yaml:"storage_class"`

	// MaxRetries is passed to the SDK. Archive-level retries are separate.
	MaxRetries int `yaml:"max_retries"`
}

// NewDefaultConfig returns the default archive configuration
func NewDefaultConfig() *Config {
	return &Config{
		Region:       "us-east-1",
		Prefix:       "perfmetrics",
		StorageClass: string(s3types.StorageClassStandard),
		MaxRetries:   1,
	}
}

// Validate checks required fields and the storage class.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("bucket name cannot be empty")
	}
	if c.StorageClass == "" {
		return nil
	}
	for _, sc := range s3types.StorageClass("").Values() {
		if string(sc) == c.StorageClass {
			return nil
		}
	}
	return fmt.Errorf("unknown storage class %q", c.StorageClass)
}
