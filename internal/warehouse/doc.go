// Package warehouse loads gold (or silver) artifacts into a relational store.
//
// Warehouse is implemented once over database/sql with a dialect per driver:
// sqlite (modernc.org/sqlite) and postgres (github.com/lib/pq). SQLite has no
// schemas, so the schema name becomes a table prefix: economic_data.indicators
// is stored as "economic_data__indicators". The target table is created and
// upgraded by goose Go migrations, versioned per table.
//
// Loader splits the rows into ceil(N/B) batches and inserts every batch in its
// own transaction. Rows whose (country, indicator, date, data_source) key is
// already stored are skipped and counted, so a rerun over overlapping periods
// still loads its new rows. A batch rejected by another uniqueness constraint
// is recorded and the load continues; any other failure stops the load with a
// DataLoadError.
// Batches committed before the failure stay committed.
package warehouse
