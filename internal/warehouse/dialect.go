package warehouse

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// dialect captures what differs between the supported databases
type dialect interface {
	driverName() string
	qualify(schema, table string) string
	createSchema(schema string) string
	gooseDialect() goose.Dialect
	placeholder(n int) string
	isConflict(err error) bool
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

type sqliteDialect struct{}

func (sqliteDialect) driverName() string { return "sqlite" }

func (sqliteDialect) qualify(schema, table string) string {
	if schema == "" {
		return quoteIdent(table)
	}
	return quoteIdent(schema + "__" + table)
}

func (sqliteDialect) createSchema(string) string { return "" }

func (sqliteDialect) gooseDialect() goose.Dialect { return goose.DialectSQLite3 }

func (sqliteDialect) placeholder(int) string { return "?" }

func (sqliteDialect) isConflict(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	// primary result codes only carry the constraint kind in the message
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type postgresDialect struct{}

func (postgresDialect) driverName() string { return "postgres" }

func (postgresDialect) qualify(schema, table string) string {
	if schema == "" {
		return quoteIdent(table)
	}
	return quoteIdent(schema) + "." + quoteIdent(table)
}

func (postgresDialect) createSchema(schema string) string {
	return "CREATE SCHEMA IF NOT EXISTS " + quoteIdent(schema)
}

func (postgresDialect) gooseDialect() goose.Dialect { return goose.DialectPostgres }

func (postgresDialect) placeholder(n int) string { return fmt.Sprintf("$%d", n) }

// uniqueViolation is the SQLSTATE of a unique or primary key violation
const uniqueViolation = "23505"

func (postgresDialect) isConflict(err error) bool {
	var pe *pq.Error
	return errors.As(err, &pe) && pe.Code == uniqueViolation
}

// keyColumns identify one observation in the target table
var keyColumns = []string{"country", "indicator", "date", "data_source"}

// columns of the target table in insert order
var columns = []string{
	"country", "indicator", "date", "year", "quarter", "value", "data_source",
	"yoy_change", "moving_average", "zscore", "growth_category", "is_anomaly", "loaded_at",
}

func insertSQL(d dialect, qualified string) string {
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = d.placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
		qualified, strings.Join(columns, ", "), strings.Join(placeholders, ", "), strings.Join(keyColumns, ", "))
}
