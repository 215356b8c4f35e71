// Package dynamojournal provides an Amazon DynamoDB implementation of
// [journal.Store].
package dynamojournal

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dogmatiq/logkit/driver/aws/internal/awsx"
	"github.com/dogmatiq/logkit/driver/aws/internal/dynamox"
	"github.com/dogmatiq/logkit/internal/errorx"
	"github.com/dogmatiq/logkit/internal/syncx"
	"github.com/dogmatiq/logkit/journal"
	"github.com/dogmatiq/logkit/logstore"
)

// store is an implementation of [journal.Store] that persists to a DynamoDB
// table.
type store struct {
	Client    *dynamodb.Client
	Table     string
	OnRequest func(any) []func(*dynamodb.Options)

	createTableOnce syncx.SucceedOnce
}

// NewStore returns a new [journal.Store] that uses the given DynamoDB client
// to store journal entries in the given table.
//
// The table is created on first use if it does not already exist.
func NewStore(
	client *dynamodb.Client,
	table string,
	options ...Option,
) journal.Store {
	if table == "" {
		panic("table name must not be empty")
	}

	s := &store{
		Client: client,
		Table:  table,
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// Option is a functional option that changes the behavior of [NewStore].
type Option func(*store)

// WithRequestHook is an [Option] that configures fn as a pre-request hook.
//
// Before each DynamoDB API request, fn is passed a pointer to the input struct,
// e.g. [dynamodb.GetItemInput], which it may modify in-place. It may be called
// with any DynamoDB request type. The types of requests used may change in any
// version without notice.
//
// Any functions returned by fn will be applied to the request's options before
// the request is sent.
func WithRequestHook(fn func(any) []func(*dynamodb.Options)) Option {
	return func(s *store) {
		s.OnRequest = fn
	}
}

func (s *store) Define(ctx context.Context, id logstore.LogID, cfg journal.Config) (err error) {
	defer errorx.Wrap(&err, "unable to define log %d", id)

	if err := s.createTable(ctx); err != nil {
		return err
	}

	_, err = awsx.Do(
		ctx,
		s.Client.UpdateItem,
		s.OnRequest,
		&dynamodb.UpdateItemInput{
			TableName:        &s.Table,
			Key:              s.metaDataKey(id),
			UpdateExpression: aws.String(`SET #D = :D, #T = :T, #M = :M`),
			ExpressionAttributeNames: map[string]string{
				"#D": definedAttr,
				"#T": labelAttr,
				"#M": maxPayloadSizeAttr,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":D": dynamox.True,
				":T": &types.AttributeValueMemberS{Value: cfg.Label},
				":M": &types.AttributeValueMemberN{Value: strconv.Itoa(cfg.MaxPayloadSize)},
			},
		},
	)

	return classify(err)
}

func (s *store) Lookup(ctx context.Context, id logstore.LogID) (cfg journal.Config, ok bool, err error) {
	defer errorx.Wrap(&err, "unable to look up log %d", id)

	if err := s.createTable(ctx); err != nil {
		return journal.Config{}, false, err
	}

	out, err := awsx.Do(
		ctx,
		s.Client.GetItem,
		s.OnRequest,
		&dynamodb.GetItemInput{
			TableName:            &s.Table,
			Key:                  s.metaDataKey(id),
			ConsistentRead:       aws.Bool(true),
			ProjectionExpression: aws.String(`#D, #T, #M`),
			ExpressionAttributeNames: map[string]string{
				"#D": definedAttr,
				"#T": labelAttr,
				"#M": maxPayloadSizeAttr,
			},
		},
	)
	if err != nil {
		return journal.Config{}, false, classify(err)
	}

	defined, ok, err := dynamox.TryAttrAs[*types.AttributeValueMemberBOOL](out.Item, definedAttr)
	if !ok || err != nil || !defined.Value {
		return journal.Config{}, false, err
	}

	if label, ok, err := dynamox.TryAttrAs[*types.AttributeValueMemberS](out.Item, labelAttr); err != nil {
		return journal.Config{}, false, err
	} else if ok {
		cfg.Label = label.Value
	}

	if size, ok, err := dynamox.TryAttrAs[*types.AttributeValueMemberN](out.Item, maxPayloadSizeAttr); err != nil {
		return journal.Config{}, false, err
	} else if ok {
		cfg.MaxPayloadSize, err = strconv.Atoi(size.Value)
		if err != nil {
			return journal.Config{}, false, fmt.Errorf("item is corrupt: invalid %q attribute: %w", maxPayloadSizeAttr, err)
		}
	}

	return cfg, true, nil
}

func (s *store) Remove(ctx context.Context, id logstore.LogID) (err error) {
	defer errorx.Wrap(&err, "unable to remove log %d", id)

	if err := s.createTable(ctx); err != nil {
		return err
	}

	_, err = awsx.Do(
		ctx,
		s.Client.UpdateItem,
		s.OnRequest,
		&dynamodb.UpdateItemInput{
			TableName:        &s.Table,
			Key:              s.metaDataKey(id),
			UpdateExpression: aws.String(`REMOVE #D, #T, #M`),
			ExpressionAttributeNames: map[string]string{
				"#D": definedAttr,
				"#T": labelAttr,
				"#M": maxPayloadSizeAttr,
			},
		},
	)

	return classify(err)
}

func (s *store) Open(ctx context.Context, id logstore.LogID) (journal.Journal, error) {
	if err := s.createTable(ctx); err != nil {
		return nil, err
	}

	return &journ{
		id:        id,
		logID:     dynamox.Uint64(id),
		client:    s.Client,
		table:     s.Table,
		onRequest: s.OnRequest,
	}, nil
}

func (s *store) createTable(ctx context.Context) error {
	return s.createTableOnce.Do(
		func() error {
			return classify(CreateTable(ctx, s.Client, s.Table, s.OnRequest))
		},
	)
}

func (s *store) metaDataKey(id logstore.LogID) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		logIDAttr: dynamox.Uint64(id),
		lsnAttr:   metaDataLSN,
	}
}

// classify maps DynamoDB errors to the errors defined by the journal package.
func classify(err error) error {
	if awsx.IsAccessDenied(err) {
		return journal.DenyAccess(err)
	}
	return err
}
