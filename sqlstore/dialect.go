package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// querier is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// dialect isolates the SQL that differs between databases.
type dialect interface {
	name() string

	// placeholder returns the n-th (1-based) bind parameter.
	placeholder(n int) string

	// isForeignKeyViolation reports whether err was raised by a foreign key constraint.
	isForeignKeyViolation(err error) bool

	// cascades reports whether the foreign key on table.column is ON DELETE CASCADE.
	cascades(ctx context.Context, q querier, table, column string) (bool, error)

	// rawDelete removes every row of table with foreign key enforcement off.
	rawDelete(ctx context.Context, db *sql.DB, table string) error

	// resetSequence moves the identity sequence of table.column past its
	// highest value after rows were inserted with explicit identifiers.
	resetSequence(ctx context.Context, q querier, table, column string) error
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "sqlite", "sqlite3":
		return sqliteDialect{}, nil
	case "pgx", "postgres", "postgresql":
		return postgresDialect{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
}

// --- SQLite ---

type sqliteDialect struct{}

func (sqliteDialect) name() string { return "sqlite" }

func (sqliteDialect) placeholder(int) string { return "?" }

func (sqliteDialect) isForeignKeyViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
}

func (sqliteDialect) cascades(ctx context.Context, q querier, table, column string) (bool, error) {
	rows, err := q.QueryContext(ctx, `SELECT on_delete FROM pragma_foreign_key_list(?) WHERE "from" = ?`, table, column)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	cascade := false
	for rows.Next() {
		var rule string
		if err := rows.Scan(&rule); err != nil {
			return false, err
		}
		cascade = strings.EqualFold(rule, "CASCADE")
	}
	return cascade, rows.Err()
}

// rawDelete pins one connection so the pragma applies to the delete.
// foreign_keys cannot change inside a transaction.
func (sqliteDialect) rawDelete(ctx context.Context, db *sql.DB, table string) (err error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return err
	}
	defer func() {
		if _, perr := conn.ExecContext(context.WithoutCancel(ctx), "PRAGMA foreign_keys = ON"); perr != nil && err == nil {
			err = perr
		}
	}()

	_, err = conn.ExecContext(ctx, "DELETE FROM "+quoteIdent(table))
	return err
}

// SQLite reuses max(rowid)+1 for INTEGER PRIMARY KEY columns.
func (sqliteDialect) resetSequence(context.Context, querier, string, string) error { return nil }

// --- PostgreSQL ---

// foreignKeyViolation is SQLSTATE foreign_key_violation.
const foreignKeyViolation = "23503"

type postgresDialect struct{}

func (postgresDialect) name() string { return "postgres" }

func (postgresDialect) placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (postgresDialect) isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}

func (postgresDialect) cascades(ctx context.Context, q querier, table, column string) (bool, error) {
	rows, err := q.QueryContext(ctx, `
SELECT rc.delete_rule
FROM information_schema.referential_constraints rc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = rc.constraint_name
 AND kcu.constraint_schema = rc.constraint_schema
WHERE kcu.table_schema = current_schema()
  AND kcu.table_name = $1
  AND kcu.column_name = $2`, table, column)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	cascade := false
	for rows.Next() {
		var rule string
		if err := rows.Scan(&rule); err != nil {
			return false, err
		}
		cascade = strings.EqualFold(rule, "CASCADE")
	}
	return cascade, rows.Err()
}

// rawDelete disables constraint triggers for the transaction. Requires a
// role allowed to set session_replication_role.
func (postgresDialect) rawDelete(ctx context.Context, db *sql.DB, table string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SET LOCAL session_replication_role = replica"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+quoteIdent(table)); err != nil {
		return err
	}
	return tx.Commit()
}

func (postgresDialect) resetSequence(ctx context.Context, q querier, table, column string) error {
	var seq sql.NullString
	if err := q.QueryRowContext(ctx, "SELECT pg_get_serial_sequence($1, $2)", table, column).Scan(&seq); err != nil {
		return err
	}
	if !seq.Valid {
		return nil
	}
	query := fmt.Sprintf("SELECT setval($1, COALESCE(MAX(%[1]s), 1), MAX(%[1]s) IS NOT NULL) FROM %[2]s",
		quoteIdent(column), quoteIdent(table))
	_, err := q.ExecContext(ctx, query, seq.String)
	return err
}
