// Package awsconfig loads the shared AWS configuration used by the S3 store and
// the Textract job service.
package awsconfig

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/sirupsen/logrus"
)

// Load reads AWS configuration from the environment and shared credential files.
// An empty region falls back to the SDK's own resolution (AWS_REGION, profile).
// SDK retries are disabled. It fails early if no credentials can be resolved.
func Load(ctx context.Context, region string, httpClient *http.Client, logger *logrus.Logger) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	if httpClient != nil {
		opts = append(opts, config.WithHTTPClient(httpClient))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if cfg.Region == "" {
		return aws.Config{}, fmt.Errorf("AWS region is not configured")
	}

	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("AWS credentials not available: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"region":    cfg.Region,
		"source":    creds.Source,
		"has_token": creds.SessionToken != "",
	}).Debug("AWS configuration loaded")

	return cfg, nil
}
