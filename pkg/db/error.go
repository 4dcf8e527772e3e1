package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := err.Error()
	switch {
	// PostgreSQL (23505)
	case strings.Contains(msg, "duplicate key value violates unique constraint"):
		return true
	// MySQL (1062)
	case strings.Contains(msg, "Error 1062"):
		return true
	// SQLite (2067)
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return true
	}
	return false
}

// IsRetryableTxErr reports serialization failures and lock contention that
// are safe to retry as a whole transaction.
func IsRetryableTxErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	switch {
	// PostgreSQL serialization_failure (40001) / deadlock_detected (40P01)
	case strings.Contains(msg, "SQLSTATE 40001"),
		strings.Contains(msg, "SQLSTATE 40P01"),
		strings.Contains(msg, "could not serialize access"):
		return true
	// MySQL deadlock (1213) / lock wait timeout (1205)
	case strings.Contains(msg, "Error 1213"),
		strings.Contains(msg, "Error 1205"):
		return true
	// SQLite busy / locked
	case strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "SQLITE_BUSY"):
		return true
	}
	return false
}
