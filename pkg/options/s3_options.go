package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*S3Options)(nil)

// S3Options configures the telemetry recorder. The recorder is off while
// Endpoint is empty.
type S3Options struct {
	Endpoint        string        `json:"endpoint" mapstructure:"endpoint"`
	AccessKeyID     string        `json:"access-key-id" mapstructure:"access-key-id"`
	SecretAccessKey string        `json:"secret-access-key" mapstructure:"secret-access-key"`
	UseSSL          bool          `json:"use-ssl" mapstructure:"use-ssl"`
	BucketName      string        `json:"bucket-name" mapstructure:"bucket-name"`
	Region          string        `json:"region" mapstructure:"region"`
	FlushInterval   time.Duration `json:"flush-interval" mapstructure:"flush-interval"`
	MaxBatch        int           `json:"max-batch" mapstructure:"max-batch"`
}

func NewS3Options() *S3Options {
	return &S3Options{
		UseSSL:        true,
		BucketName:    "telemetry",
		Region:        "us-east-1",
		FlushInterval: time.Minute,
		MaxBatch:      5000,
	}
}

// Enabled reports whether telemetry should be archived.
func (o *S3Options) Enabled() bool {
	return o != nil && o.Endpoint != ""
}

func (o *S3Options) Validate() []error {
	if !o.Enabled() {
		return nil
	}

	errors := []error{}

	if o.BucketName == "" {
		errors = append(errors, fmt.Errorf("--s3.bucket-name is required when --s3.endpoint is set"))
	}
	if o.FlushInterval <= 0 {
		errors = append(errors, fmt.Errorf("--s3.flush-interval must be positive"))
	}
	if o.MaxBatch <= 0 {
		errors = append(errors, fmt.Errorf("--s3.max-batch must be positive"))
	}

	return errors
}

func (o *S3Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Endpoint, "s3.endpoint", o.Endpoint, "S3 service endpoint for telemetry archives (e.g. minio.local:9000). Empty disables recording.")
	fs.StringVar(&o.AccessKeyID, "s3.access-key-id", o.AccessKeyID, "S3 access key ID")
	fs.StringVar(&o.SecretAccessKey, "s3.secret-access-key", o.SecretAccessKey, "S3 secret access key")
	fs.BoolVar(&o.UseSSL, "s3.use-ssl", o.UseSSL, "Enable SSL for S3 connection")
	fs.StringVar(&o.BucketName, "s3.bucket-name", o.BucketName, "S3 bucket name for telemetry archives")
	fs.StringVar(&o.Region, "s3.region", o.Region, "S3 region")
	fs.DurationVar(&o.FlushInterval, "s3.flush-interval", o.FlushInterval, "How often buffered telemetry is uploaded.")
	fs.IntVar(&o.MaxBatch, "s3.max-batch", o.MaxBatch, "Upload early once this many frames are buffered.")
}
