package s3client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
)

// ConfigOptions are the connection settings taken from flags and config.
type ConfigOptions struct {
	Region  string
	Profile string
	// MaxPool bounds idle connections kept per host. Zero keeps the SDK
	// default.
	MaxPool int
}

// LoadAWSConfig loads credentials from the default chain. SDK-level retries
// are disabled since Client retries on its own.
func LoadAWSConfig(ctx context.Context, opts ConfigOptions) (aws.Config, error) {
	httpClient := awshttp.NewBuildableClient()
	if opts.MaxPool > 0 {
		httpClient = httpClient.WithTransportOptions(func(tr *http.Transport) {
			tr.MaxIdleConns = opts.MaxPool
			tr.MaxIdleConnsPerHost = opts.MaxPool
		})
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithHTTPClient(httpClient),
		config.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.Profile))
	}
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	return cfg, nil
}
