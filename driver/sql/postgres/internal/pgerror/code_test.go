package pgerror_test

import (
	"errors"
	"fmt"
	"testing"

	. "github.com/dogmatiq/logkit/driver/sql/postgres/internal/pgerror"
	"github.com/jackc/pgconn"
)

func TestIs(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("<context>: %w", &pgconn.PgError{Code: CodeInsufficientPrivilege})

	if !Is(err, CodeUniqueViolation, CodeInsufficientPrivilege) {
		t.Fatal("expected the error to match")
	}

	if Is(err, CodeUniqueViolation) {
		t.Fatal("did not expect the error to match a different code")
	}

	if Is(errors.New("<error>"), CodeInsufficientPrivilege) {
		t.Fatal("did not expect a non-PostgreSQL error to match")
	}
}
