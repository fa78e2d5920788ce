package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned by getters when the row does not exist
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a write hits a unique constraint
	ErrDuplicate = errors.New("record already exists")
)

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
