package s3x

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dogmatiq/logkit/driver/aws/internal/awsx"
	"github.com/dogmatiq/logkit/internal/x/xtesting"
	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	miniotc "github.com/testcontainers/testcontainers-go/modules/minio"
)

// NewTestClient returns an S3 client connected to a MinIO container that lives
// as long as t.
//
// t is skipped if there is no container runtime.
func NewTestClient(t *testing.T) *s3.Client {
	testcontainers.SkipIfProviderIsNotHealthy(t)

	container, err := miniotc.Run(
		t.Context(),
		"minio/minio:latest",
		miniotc.WithUsername("logkit"),
		miniotc.WithPassword(uuid.NewString()),
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

	return s3.NewFromConfig(
		awsx.NewTestConfig(t, container.Username, container.Password),
		func(opts *s3.Options) {
			opts.BaseEndpoint = aws.String("http://" + endpoint)
			opts.UsePathStyle = true
		},
	)
}
