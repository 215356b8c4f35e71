package dynamox

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/dogmatiq/logkit/driver/aws/internal/awsx"
	"github.com/dogmatiq/logkit/internal/x/xtesting"
	"github.com/testcontainers/testcontainers-go"
	dynamotc "github.com/testcontainers/testcontainers-go/modules/dynamodb"
	"github.com/testcontainers/testcontainers-go/wait"
)

// NewTestClient returns a DynamoDB client connected to a DynamoDB Local
// container that lives as long as t.
//
// t is skipped if there is no container runtime.
func NewTestClient(t *testing.T) *dynamodb.Client {
	testcontainers.SkipIfProviderIsNotHealthy(t)

	// DynamoDB Local answers "/" with a 400, which is enough to know it's up.
	ready := wait.
		ForHTTP("/").
		WithPort("8000").
		WithStatusCodeMatcher(func(int) bool { return true })

	container, err := dynamotc.Run(
		t.Context(),
		"amazon/dynamodb-local",
		dynamotc.WithDisableTelemetry(),
		testcontainers.WithWaitStrategy(ready),
	)
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		if err := container.Terminate(xtesting.ContextForCleanup(t)); err != nil {
			t.Log(err)
		}
	})

	endpoint, err := container.ConnectionString(t.Context())
	if err != nil {
		t.Fatal(err)
	}

	return dynamodb.NewFromConfig(
		awsx.NewTestConfig(t, "logkit", "logkit"),
		func(opts *dynamodb.Options) {
			opts.BaseEndpoint = aws.String("http://" + endpoint)
		},
	)
}
