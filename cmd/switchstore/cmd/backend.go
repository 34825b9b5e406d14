package cmd

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jacentio/switchstore/snapshot"
	"github.com/jacentio/switchstore/snapshot/dynamo"
	"github.com/jacentio/switchstore/snapshot/sqldump"
)

// backend is a snapshot destination or source opened from a URL.
type backend interface {
	snapshot.Reader
	snapshot.Writer
	Close() error
}

type dynamoBackend struct{ *dynamo.Store }

func (dynamoBackend) Close() error { return nil }

// openBackend dispatches on the URL scheme: dynamodb://table[/name] selects
// the DynamoDB backend, everything else is handed to sqldump.
func openBackend(ctx context.Context, rawURL string) (backend, error) {
	if !strings.HasPrefix(rawURL, "dynamodb://") {
		db, err := sqldump.Open(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		return db, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid snapshot URL: %w", err)
	}
	dc := cfg.Dynamo
	if u.Host != "" {
		dc.Table = u.Host
	}
	if name := strings.Trim(u.Path, "/"); name != "" {
		dc.Name = name
	}

	client, err := newDynamoClient(ctx)
	if err != nil {
		return nil, err
	}
	logger.Debug("using dynamodb snapshot backend", "table", dc.Table, "name", dc.Name)
	return dynamoBackend{dynamo.New(client, dc)}, nil
}

func newDynamoClient(ctx context.Context) (*dynamodb.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.AWSRegion != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.AWSRegion))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.AWSEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWSEndpoint)
		}
	}), nil
}
