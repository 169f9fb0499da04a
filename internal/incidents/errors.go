package incidents

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrConflict is reported by a Store when a case number is already stored.
// Syncer never surfaces it: conflicts resolve to a replacement.
var ErrConflict = errors.New("case number already stored")

// StatementError is a fatal failure to clean or write one source row.
type StatementError struct {
	Row        int    // 1-based data row in the downloaded result
	CaseNumber string // raw case number as downloaded
	Statement  string // SQL that failed; empty when the row could not be cleaned
	Err        error
}

func (e *StatementError) Error() string {
	if e.Statement == "" {
		return fmt.Sprintf("row %d (case %s): %v", e.Row, e.CaseNumber, e.Err)
	}
	return fmt.Sprintf("row %d (case %s): %v\nstatement: %s", e.Row, e.CaseNumber, e.Err, e.Statement)
}

func (e *StatementError) Unwrap() error { return e.Err }

// sqlError carries the statement text from the store up to the syncer.
type sqlError struct {
	stmt string
	err  error
}

func (e *sqlError) Error() string { return e.err.Error() }
func (e *sqlError) Unwrap() error { return e.err }

func withStatement(stmt string, err error) error {
	if err == nil {
		return nil
	}
	return &sqlError{stmt: stmt, err: err}
}

func statementOf(err error) string {
	var se *sqlError
	if errors.As(err, &se) {
		return se.stmt
	}
	return ""
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
