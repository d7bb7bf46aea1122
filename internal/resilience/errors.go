// Package resilience retries store operations that fail for transient
// reasons, such as lock contention between concurrent pipeline runs.
package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres SQLSTATEs that are safe to retry.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeUniqueViolation      = "23505" // concurrent ADD COLUMN racing on pg_attribute
	codeDuplicateColumn      = "42701"
	codeTooManyConnections   = "53300"
	codeAdminShutdown        = "57P01"
)

var transientCodes = map[string]bool{
	codeSerializationFailure: true,
	codeDeadlockDetected:     true,
	codeLockNotAvailable:     true,
	codeUniqueViolation:      true,
	codeDuplicateColumn:      true,
	codeTooManyConnections:   true,
	codeAdminShutdown:        true,
}

// TransientError marks an error as safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as transient.
func NewTransientError(err error) *TransientError {
	return &TransientError{Err: err}
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, a retryable Postgres error, a SQLite busy/locked error, or
// a network-level timeout or reset.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientCodes[pgErr.Code]
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// modernc.org/sqlite reports contention only through the message text.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"database is locked",
		"sqlite_busy",
		"database table is locked",
		"connection reset by peer",
		"broken pipe",
		"i/o timeout",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}
