// Package sqlstore applies fixture documents to a relational database
// through database/sql.
//
// Two dialects are supported: SQLite (driver "sqlite", modernc.org/sqlite)
// and PostgreSQL (driver "pgx", github.com/jackc/pgx/v5/stdlib). Foreign key
// violations raised by a delete are reported as
// [fixture.BlockedByReference]; every other database error is returned.
//
// Hierarchical collections are cleared from their roots. When the parent
// foreign key is declared ON DELETE CASCADE the database removes the
// descendants; otherwise the store deletes them itself, deepest level first.
package sqlstore
