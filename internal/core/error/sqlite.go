package errx

import (
	"net/http"
	"strings"
)

// IsSQLiteConflict reports whether err is SQLITE_BUSY or "database is locked".
// Both are concurrency errors on the database file rather than bad queries.
func IsSQLiteConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// WrapSQLite maps SQLite errors to AppError. Lock contention becomes 503 so
// callers can tell it apart from a broken query.
func WrapSQLite(err error) error {
	if err == nil {
		return nil
	}
	if IsSQLiteConflict(err) {
		return New(err, http.StatusServiceUnavailable, SQLiteBusyMessage)
	}
	return New(err, http.StatusInternalServerError, SQLiteErrorMessage)
}
