package store

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jjudge-oj/identity/types"
	"github.com/lib/pq"
)

// ErrNotFound is returned when an update targets a record that does not
// exist or no longer matches its precondition.
var ErrNotFound = types.ErrNotFound

// ErrDuplicateUsername is returned when creating a user whose username is taken.
var ErrDuplicateUsername = types.ErrDuplicateUsername

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pgerrcode.UniqueViolation
}
