package sql

import (
	"errors"
	"strings"
)

// Status codes reported on record outcomes for classified database errors.
const (
	StatusDuplicateValue      = "DUPLICATE_VALUE"
	StatusForeignKeyViolation = "FOREIGN_KEY_VIOLATION"
	StatusCheckViolation      = "CHECK_CONSTRAINT_VIOLATION"
	StatusNotFound            = "NOT_FOUND"
	StatusUnsupported         = "UNSUPPORTED_OPERATION"
	StatusDatabaseError       = "DATABASE_ERROR"
)

// errorCoder is implemented by pq.Error, pgx and modernc.org/sqlite errors.
type errorCoder interface {
	Code() string
}

// errorNumberer is implemented by mysql.MySQLError.
type errorNumberer interface {
	Number() uint16
}

// sqlStateError is implemented by pq.Error, pgx, and some MySQL drivers.
type sqlStateError interface {
	SQLState() string
}

// PostgreSQL SQLSTATE codes for constraint violations (Class 23).
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// MySQL error numbers for constraint violations.
const (
	mysqlDuplicateEntry         = 1062
	mysqlForeignKeyParent       = 1451 // Cannot delete or update a parent row
	mysqlForeignKeyChild        = 1452 // Cannot add or update a child row
	mysqlCheckConstraintViolate = 3819
)

// classify maps a driver error to an outcome status code.
func classify(err error) string {
	switch {
	case isViolation(err, pgUniqueViolation, []uint16{mysqlDuplicateEntry},
		"Error 1062",
		"violates unique constraint",
		"UNIQUE constraint failed"):
		return StatusDuplicateValue
	case isViolation(err, pgForeignKeyViolation, []uint16{mysqlForeignKeyParent, mysqlForeignKeyChild},
		"Error 1451",
		"Error 1452",
		"violates foreign key constraint",
		"FOREIGN KEY constraint failed"):
		return StatusForeignKeyViolation
	case isViolation(err, pgCheckViolation, []uint16{mysqlCheckConstraintViolate},
		"Error 3819",
		"violates check constraint",
		"CHECK constraint failed"):
		return StatusCheckViolation
	default:
		return StatusDatabaseError
	}
}

// isViolation probes the error chain for a SQLSTATE, a pq-style code, or a
// MySQL error number, falling back to string matching for drivers that
// implement none of the interfaces.
func isViolation(err error, sqlstate string, mysqlCodes []uint16, fallbacks ...string) bool {
	if err == nil {
		return false
	}
	if e, ok := asError[sqlStateError](err); ok && e.SQLState() == sqlstate {
		return true
	}
	if e, ok := asError[errorCoder](err); ok && e.Code() == sqlstate {
		return true
	}
	if e, ok := asError[errorNumberer](err); ok {
		for _, code := range mysqlCodes {
			if e.Number() == code {
				return true
			}
		}
	}
	for _, sub := range fallbacks {
		if strings.Contains(err.Error(), sub) {
			return true
		}
	}
	return false
}

// asError extracts an error implementing interface T from the error chain.
func asError[T any](err error) (T, bool) {
	var zero T
	for err != nil {
		if e, ok := err.(T); ok {
			return e, true
		}
		err = errors.Unwrap(err)
	}
	return zero, false
}
