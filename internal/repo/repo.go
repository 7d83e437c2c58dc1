// Package repo holds the Postgres repositories. Each aggregate gets one
// interface so services can be unit-tested against in-memory fakes, and one
// implementation over *sql.DB. All serialization of concurrent mutations
// happens here, via transactions, row locks, and unique indexes; services
// never hold in-process locks over domain state.
package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/j4xie/my-prototype-logistics-sub021/internal/apperr"
)

// uniqueViolation is the Postgres error code for unique-index conflicts.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// dbErr classifies a driver error: context failures and I/O problems are
// transient, everything else keeps its tag if it already has one.
func dbErr(op string, err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.Wrap(apperr.KindTransient, op+" canceled", err)
	}
	return apperr.Wrap(apperr.KindTransient, op, err)
}

// uuidArg converts an optional uuid into a driver argument (NULL when nil).
func uuidArg(id *uuid.UUID) interface{} {
	if id == nil {
		return nil
	}
	return *id
}

// scanUUIDPtr parses a nullable uuid column.
func scanUUIDPtr(ns sql.NullString) (*uuid.UUID, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	id, err := uuid.Parse(ns.String)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
