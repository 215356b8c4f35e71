package dynamojournal

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dogmatiq/logkit/driver/aws/internal/dynamox"
)

const (
	// logIDAttr is the name of the attribute that stores the log ID on each
	// item. Together with [lsnAttr], it forms the primary key of the table.
	logIDAttr = "L"

	// lsnAttr is the name of the attribute that stores the LSN of each entry.
	// Together with [logIDAttr], it forms the primary key of the table.
	//
	// As a special case, the "meta-data" item has an LSN of zero, which is
	// never assigned to an entry.
	lsnAttr = "N"

	// payloadAttr is the name of the attribute that stores an entry's payload.
	payloadAttr = "P"

	// keyAttr is the name of the attribute that stores an entry's key. It is
	// omitted if the key is empty.
	keyAttr = "K"

	// timestampAttr is the name of the attribute that stores an entry's
	// timestamp as microseconds since the Unix epoch. It is omitted if the
	// entry has no timestamp.
	timestampAttr = "S"

	// beginAttr is the name of the attribute on the "meta-data" item that
	// stores the LSN of the first retained entry. It is absent until the
	// journal is first truncated.
	beginAttr = "B"

	// definedAttr is the name of the attribute on the "meta-data" item that
	// indicates the log is present in the registry.
	definedAttr = "D"

	// labelAttr is the name of the attribute on the "meta-data" item that
	// stores the log's label.
	labelAttr = "T"

	// maxPayloadSizeAttr is the name of the attribute on the "meta-data" item
	// that stores the log's maximum payload size.
	maxPayloadSizeAttr = "M"
)

// metaDataLSN is the value of the [lsnAttr] attribute for the "meta-data"
// item.
var metaDataLSN = &types.AttributeValueMemberN{Value: "0"}

// CreateTable creates the DynamoDB table used by a [Store] if it does not
// already exist.
func CreateTable(
	ctx context.Context,
	client *dynamodb.Client,
	table string,
	m func(any) []func(*dynamodb.Options),
) error {
	return dynamox.CreateTableIfNotExists(
		ctx,
		client,
		table,
		m,
		dynamox.KeyAttr{
			Name:    logIDAttr,
			Type:    types.ScalarAttributeTypeN,
			KeyType: types.KeyTypeHash,
		},
		dynamox.KeyAttr{
			Name:    lsnAttr,
			Type:    types.ScalarAttributeTypeN,
			KeyType: types.KeyTypeRange,
		},
	)
}
