package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/krittin/examscan/internal/logger"
)

// MaxRetries is the number of times to retry a database operation on SQLITE_BUSY
const MaxRetries = 5

// RetryDelay is the base delay between retries (increases exponentially)
const RetryDelay = 100 * time.Millisecond

func isBusy(err error) bool {
	s := err.Error()
	return strings.Contains(s, "SQLITE_BUSY") || strings.Contains(s, "database is locked")
}

// ExecWithRetry executes a SQL statement with retry logic for SQLITE_BUSY errors.
// Useful when multiple goroutines write to the database simultaneously.
func ExecWithRetry(db *sql.DB, query string, args ...interface{}) (sql.Result, error) {
	var result sql.Result
	var err error

	for attempt := 0; attempt < MaxRetries; attempt++ {
		result, err = db.Exec(query, args...)
		if err == nil {
			return result, nil
		}
		if !isBusy(err) {
			return nil, err
		}

		// Exponential backoff: 100ms, 200ms, 400ms, 800ms, 1600ms
		delay := RetryDelay * time.Duration(1<<attempt)
		if attempt < MaxRetries-1 {
			logger.Debugf("Database busy, retrying in %v (attempt %d/%d)", delay, attempt+1, MaxRetries)
			time.Sleep(delay)
		}
	}

	return nil, fmt.Errorf("database busy after %d retries: %w", MaxRetries, err)
}

// QueryWithRetry executes a query with retry logic for SQLITE_BUSY errors.
func QueryWithRetry(db *sql.DB, query string, args ...interface{}) (*sql.Rows, error) {
	var rows *sql.Rows
	var err error

	for attempt := 0; attempt < MaxRetries; attempt++ {
		rows, err = db.Query(query, args...)
		if err == nil {
			return rows, nil
		}
		if !isBusy(err) {
			return nil, err
		}

		delay := RetryDelay * time.Duration(1<<attempt)
		if attempt < MaxRetries-1 {
			logger.Debugf("Database busy on query, retrying in %v (attempt %d/%d)", delay, attempt+1, MaxRetries)
			time.Sleep(delay)
		}
	}

	return nil, fmt.Errorf("database busy after %d retries: %w", MaxRetries, err)
}
