// Package locator opens the journal store described by a locator string.
package locator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dogmatiq/logkit/driver/aws/dynamojournal"
	"github.com/dogmatiq/logkit/driver/aws/s3journal"
	"github.com/dogmatiq/logkit/driver/memory/memoryjournal"
	"github.com/dogmatiq/logkit/driver/sql/postgres/pgjournal"
	"github.com/dogmatiq/logkit/journal"

	// Register the "pgx" database/sql driver.
	_ "github.com/jackc/pgx/v4/stdlib"
)

// PostgresDriver is the name of the database/sql driver used for PostgreSQL
// locators.
const PostgresDriver = "pgx"

// Open returns the journal store described by loc, and a closer that
// releases the resources it holds.
//
// The supported forms are:
//
//	memory:                    a new, private in-memory store
//	memory:<name>              an in-memory store shared by every locator with the same name
//	postgres://...             a PostgreSQL database (any pgx connection string)
//	dynamodb://<table>?...     a DynamoDB table
//	s3://<bucket>?...          an S3 bucket
//
// The dynamodb and s3 forms accept the "region", "endpoint", "access_key" and
// "secret_key" query parameters. The s3 form also accepts "path_style".
func Open(ctx context.Context, loc string) (journal.Store, io.Closer, error) {
	u, err := url.Parse(loc)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid locator: %w", err)
	}

	switch u.Scheme {
	case "memory":
		return openMemory(u)
	case "postgres", "postgresql":
		return openPostgres(ctx, loc)
	case "dynamodb":
		return openDynamoDB(ctx, u)
	case "s3":
		return openS3(ctx, u)
	case "":
		return nil, nil, errors.New("locator has no scheme")
	default:
		return nil, nil, fmt.Errorf("unsupported locator scheme %q", u.Scheme)
	}
}

var (
	sharedM      sync.Mutex
	sharedStores = map[string]*memoryjournal.Store{}
)

func openMemory(u *url.URL) (journal.Store, io.Closer, error) {
	name := u.Opaque
	if name == "" {
		return &memoryjournal.Store{}, nopCloser{}, nil
	}

	sharedM.Lock()
	defer sharedM.Unlock()

	s, ok := sharedStores[name]
	if !ok {
		s = &memoryjournal.Store{}
		sharedStores[name] = s
	}

	return s, nopCloser{}, nil
}

func openPostgres(ctx context.Context, loc string) (journal.Store, io.Closer, error) {
	db, err := sql.Open(PostgresDriver, loc)
	if err != nil {
		return nil, nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("unable to connect to PostgreSQL: %w", err)
	}

	if err := pgjournal.CreateSchema(ctx, db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("unable to create schema: %w", err)
	}

	return &pgjournal.Store{DB: db}, db, nil
}

func openDynamoDB(ctx context.Context, u *url.URL) (journal.Store, io.Closer, error) {
	table := u.Host
	if table == "" {
		return nil, nil, errors.New("dynamodb locator must specify a table name")
	}

	cfg, endpoint, err := awsConfig(ctx, u.Query())
	if err != nil {
		return nil, nil, err
	}

	client := dynamodb.NewFromConfig(
		cfg,
		func(opts *dynamodb.Options) {
			if endpoint != "" {
				opts.BaseEndpoint = aws.String(endpoint)
			}
		},
	)

	return dynamojournal.NewStore(client, table), nopCloser{}, nil
}

func openS3(ctx context.Context, u *url.URL) (journal.Store, io.Closer, error) {
	bucket := u.Host
	if bucket == "" {
		return nil, nil, errors.New("s3 locator must specify a bucket name")
	}

	q := u.Query()

	pathStyle := false
	if v := q.Get("path_style"); v != "" {
		var err error
		pathStyle, err = strconv.ParseBool(v)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid path_style parameter: %w", err)
		}
	}

	cfg, endpoint, err := awsConfig(ctx, q)
	if err != nil {
		return nil, nil, err
	}

	client := s3.NewFromConfig(
		cfg,
		func(opts *s3.Options) {
			if endpoint != "" {
				opts.BaseEndpoint = aws.String(endpoint)
			}
			opts.UsePathStyle = pathStyle
		},
	)

	return s3journal.NewStore(client, bucket), nopCloser{}, nil
}

// awsConfig loads the AWS configuration, overridden by the locator's query
// parameters.
func awsConfig(ctx context.Context, q url.Values) (aws.Config, string, error) {
	var options []func(*config.LoadOptions) error

	if region := q.Get("region"); region != "" {
		options = append(options, config.WithRegion(region))
	}

	key, secret := q.Get("access_key"), q.Get("secret_key")
	if (key == "") != (secret == "") {
		return aws.Config{}, "", errors.New("access_key and secret_key must be specified together")
	}

	if key != "" {
		options = append(
			options,
			config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(key, secret, ""),
			),
		)
	}

	cfg, err := config.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return aws.Config{}, "", fmt.Errorf("unable to load AWS configuration: %w", err)
	}

	return cfg, q.Get("endpoint"), nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
