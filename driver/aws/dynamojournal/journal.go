package dynamojournal

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dogmatiq/logkit/driver/aws/internal/awsx"
	"github.com/dogmatiq/logkit/driver/aws/internal/dynamox"
	"github.com/dogmatiq/logkit/journal"
	"github.com/dogmatiq/logkit/logstore"
)

// journ is an implementation of [journal.Journal] that persists to a DynamoDB
// table.
//
// Requests are built per call, as a journal may be used by many goroutines at
// once.
type journ struct {
	id        logstore.LogID
	logID     *types.AttributeValueMemberN
	client    *dynamodb.Client
	table     string
	onRequest func(any) []func(*dynamodb.Options)
}

func (j *journ) LogID() logstore.LogID {
	return j.id
}

func (j *journ) Bounds(ctx context.Context) (journal.Interval, error) {
	begin, err := j.loadBegin(ctx)
	if err != nil {
		return journal.Interval{}, err
	}

	end := begin

	if _, err := dynamox.QueryOne(
		ctx,
		j.client,
		j.onRequest,
		&dynamodb.QueryInput{
			TableName:              &j.table,
			KeyConditionExpression: aws.String(`#L = :L AND #N > :Z`),
			ProjectionExpression:   aws.String(`#N`),
			ExpressionAttributeNames: map[string]string{
				"#L": logIDAttr,
				"#N": lsnAttr,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":L": j.logID,
				":Z": metaDataLSN,
			},
			ScanIndexForward: aws.Bool(false),
			ConsistentRead:   aws.Bool(true),
			Limit:            aws.Int32(1),
		},
		func(_ context.Context, item map[string]types.AttributeValue) error {
			n, _, err := dynamox.Uint64As[logstore.LSN](item, lsnAttr)

			// The [begin, end) range is half-open, so the end is the LSN
			// AFTER the most recent entry.
			end = max(end, n+1)

			return err
		},
	); err != nil {
		return journal.Interval{}, fmt.Errorf("unable to query last journal entry: %w", classify(err))
	}

	return journal.Interval{Begin: begin, End: end}, nil
}

// loadBegin loads the LSN of the first retained entry from the "meta-data"
// item.
func (j *journ) loadBegin(ctx context.Context) (logstore.LSN, error) {
	out, err := awsx.Do(
		ctx,
		j.client.GetItem,
		j.onRequest,
		&dynamodb.GetItemInput{
			TableName:            &j.table,
			Key:                  j.metaDataKey(),
			ConsistentRead:       aws.Bool(true),
			ProjectionExpression: aws.String(`#B`),
			ExpressionAttributeNames: map[string]string{
				"#B": beginAttr,
			},
		},
	)
	if err != nil {
		return 0, fmt.Errorf("unable to load journal meta-data: %w", classify(err))
	}

	begin, ok, err := dynamox.Uint64As[logstore.LSN](out.Item, beginAttr)
	if !ok || err != nil {
		return logstore.LSNOldest, err
	}

	return begin, nil
}

func (j *journ) Get(ctx context.Context, n logstore.LSN) (journal.Entry, error) {
	if n == logstore.LSNInvalid {
		return journal.Entry{}, journal.RecordNotFoundError{LogID: j.id, LSN: n}
	}

	out, err := awsx.Do(
		ctx,
		j.client.GetItem,
		j.onRequest,
		&dynamodb.GetItemInput{
			TableName:      &j.table,
			Key:            j.entryKey(n),
			ConsistentRead: aws.Bool(true),
		},
	)
	if err != nil {
		return journal.Entry{}, fmt.Errorf("unable to get journal entry: %w", classify(err))
	}

	if out.Item == nil {
		return journal.Entry{}, journal.RecordNotFoundError{LogID: j.id, LSN: n}
	}

	return unmarshalEntry(out.Item)
}

func (j *journ) Range(
	ctx context.Context,
	n logstore.LSN,
	fn journal.RangeFunc,
) error {
	if n == logstore.LSNInvalid {
		return journal.RecordNotFoundError{LogID: j.id, LSN: n}
	}

	expect := n

	err := dynamox.QueryRange(
		ctx,
		j.client,
		j.onRequest,
		&dynamodb.QueryInput{
			TableName:              &j.table,
			KeyConditionExpression: aws.String(`#L = :L AND #N >= :N`),
			ExpressionAttributeNames: map[string]string{
				"#L": logIDAttr,
				"#N": lsnAttr,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":L": j.logID,
				":N": dynamox.Uint64(n),
			},
			ConsistentRead: aws.Bool(true),
		},
		func(ctx context.Context, item map[string]types.AttributeValue) (bool, error) {
			lsn, _, err := dynamox.Uint64As[logstore.LSN](item, lsnAttr)
			if err != nil {
				return false, err
			}

			if lsn != expect {
				return false, journal.RecordNotFoundError{LogID: j.id, LSN: expect}
			}
			expect++

			e, err := unmarshalEntry(item)
			if err != nil {
				return false, err
			}

			return fn(ctx, lsn, e)
		},
	)

	if journal.IsNotFound(err) {
		return err
	} else if err != nil {
		return fmt.Errorf("unable to range over journal entries: %w", classify(err))
	} else if expect == n {
		return journal.RecordNotFoundError{LogID: j.id, LSN: n}
	}

	return nil
}

func (j *journ) Append(ctx context.Context, n logstore.LSN, e journal.Entry) error {
	if n == logstore.LSNInvalid {
		panic("LSN out of range")
	}

	item := map[string]types.AttributeValue{
		logIDAttr:   j.logID,
		lsnAttr:     dynamox.Uint64(n),
		payloadAttr: &types.AttributeValueMemberB{Value: e.Payload},
	}

	if e.Payload == nil {
		item[payloadAttr] = &types.AttributeValueMemberB{Value: []byte{}}
	}

	if e.Key != "" {
		item[keyAttr] = &types.AttributeValueMemberS{Value: e.Key}
	}

	if !e.Timestamp.IsZero() {
		item[timestampAttr] = &types.AttributeValueMemberN{
			Value: strconv.FormatInt(e.Timestamp.UnixMicro(), 10),
		}
	}

	// The entry is written in a transaction alongside a check of the
	// "meta-data" item so that truncated LSNs can not be reused.
	in := &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				ConditionCheck: &types.ConditionCheck{
					TableName:           &j.table,
					Key:                 j.metaDataKey(),
					ConditionExpression: aws.String(`attribute_not_exists(#B) OR #B <= :N`),
					ExpressionAttributeNames: map[string]string{
						"#B": beginAttr,
					},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":N": dynamox.Uint64(n),
					},
				},
			},
			{
				Put: &types.Put{
					TableName:           &j.table,
					Item:                item,
					ConditionExpression: aws.String(`attribute_not_exists(#L)`),
					ExpressionAttributeNames: map[string]string{
						"#L": logIDAttr,
					},
				},
			},
		},
	}

	for {
		_, err := awsx.Do(ctx, j.client.TransactWriteItems, j.onRequest, in)

		if hasCancellationReason(err, "TransactionConflict") {
			// Another transaction is writing the same item, which is
			// resolved by trying again.
			if err := ctx.Err(); err != nil {
				return err
			}
			continue
		}

		if isConditionFailure(err) {
			return journal.ErrConflict
		} else if err != nil {
			return fmt.Errorf("unable to put journal entry: %w", classify(err))
		}

		return nil
	}
}

func (j *journ) Truncate(ctx context.Context, n logstore.LSN) error {
	out, err := awsx.Do(
		ctx,
		j.client.UpdateItem,
		j.onRequest,
		&dynamodb.UpdateItemInput{
			TableName:           &j.table,
			Key:                 j.metaDataKey(),
			UpdateExpression:    aws.String(`SET #B = :B`),
			ConditionExpression: aws.String(`attribute_not_exists(#B) OR #B < :B`),
			ExpressionAttributeNames: map[string]string{
				"#B": beginAttr,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":B": dynamox.Uint64(n),
			},
			ReturnValues: types.ReturnValueUpdatedOld,
		},
	)

	if isConditionFailure(err) {
		// The journal has already been truncated at least this far.
		return nil
	} else if err != nil {
		return fmt.Errorf("unable to update journal meta-data: %w", classify(err))
	}

	prev, ok, err := dynamox.Uint64As[logstore.LSN](out.Attributes, beginAttr)
	if err != nil {
		return err
	}
	if !ok {
		prev = logstore.LSNOldest
	}

	// The entries are no longer visible once the meta-data has been updated,
	// the deletions only reclaim space.
	for lsn := prev; lsn < n; lsn++ {
		if _, err := awsx.Do(
			ctx,
			j.client.DeleteItem,
			j.onRequest,
			&dynamodb.DeleteItemInput{
				TableName: &j.table,
				Key:       j.entryKey(lsn),
			},
		); err != nil {
			return fmt.Errorf("unable to delete journal entry: %w", classify(err))
		}
	}

	return nil
}

func (j *journ) Close() error {
	return nil
}

func (j *journ) metaDataKey() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		logIDAttr: j.logID,
		lsnAttr:   metaDataLSN,
	}
}

func (j *journ) entryKey(n logstore.LSN) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		logIDAttr: j.logID,
		lsnAttr:   dynamox.Uint64(n),
	}
}

func unmarshalEntry(item map[string]types.AttributeValue) (journal.Entry, error) {
	var e journal.Entry

	payload, err := dynamox.AttrAs[*types.AttributeValueMemberB](item, payloadAttr)
	if err != nil {
		return journal.Entry{}, err
	}
	if len(payload.Value) != 0 {
		e.Payload = payload.Value
	}

	if key, ok, err := dynamox.TryAttrAs[*types.AttributeValueMemberS](item, keyAttr); err != nil {
		return journal.Entry{}, err
	} else if ok {
		e.Key = key.Value
	}

	if ts, ok, err := dynamox.TryAttrAs[*types.AttributeValueMemberN](item, timestampAttr); err != nil {
		return journal.Entry{}, err
	} else if ok {
		micros, err := strconv.ParseInt(ts.Value, 10, 64)
		if err != nil {
			return journal.Entry{}, fmt.Errorf("item is corrupt: invalid %q attribute: %w", timestampAttr, err)
		}
		e.Timestamp = time.UnixMicro(micros).UTC()
	}

	return e, nil
}

// isConditionFailure returns true if err indicates that a condition
// expression was not satisfied, either by a single-item write or by any item
// within a transaction.
func isConditionFailure(err error) bool {
	if errors.As(err, new(*types.ConditionalCheckFailedException)) {
		return true
	}

	return hasCancellationReason(err, "ConditionalCheckFailed")
}

// hasCancellationReason returns true if err is a cancelled transaction and any
// of its items were cancelled with the given reason code.
func hasCancellationReason(err error, code string) bool {
	var tx *types.TransactionCanceledException
	if errors.As(err, &tx) {
		for _, r := range tx.CancellationReasons {
			if aws.ToString(r.Code) == code {
				return true
			}
		}
	}

	return false
}
