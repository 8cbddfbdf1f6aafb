package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"econetl/internal/config"
	apperrors "econetl/internal/errors"
	"econetl/pkg/contracts/domain"
)

// ErrConflict marks a batch rejected by a uniqueness constraint other than
// the observation key, which is skipped instead
var ErrConflict = errors.New("warehouse: duplicate key")

// Warehouse is a relational target for layer rows
type Warehouse interface {
	// Migrate creates or upgrades schema.table
	Migrate(ctx context.Context, schema, table string) error
	// InsertBatch writes rows in a single transaction and returns how many
	// were inserted. Rows whose key already exists are skipped.
	InsertBatch(ctx context.Context, schema, table string, rows []domain.GoldRecord) (int, error)
	Close() error
}

// SQLWarehouse implements Warehouse over database/sql
type SQLWarehouse struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
	now     func() time.Time
}

// Open connects to the warehouse configured in cfg
func Open(ctx context.Context, cfg config.WarehouseConfig, logger *slog.Logger) (*SQLWarehouse, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "warehouse"), slog.String("driver", cfg.Driver))

	var (
		d       dialect
		maxOpen = cfg.MaxOpenConns
	)
	switch cfg.Driver {
	case "sqlite":
		d = sqliteDialect{}
		// a single connection keeps in-memory databases shared and serializes writers
		maxOpen = 1
		if err := ensureParentDir(cfg.DSN); err != nil {
			return nil, apperrors.NewDataLoadError("failed to prepare sqlite path", err)
		}
	case "postgres":
		d = postgresDialect{}
	default:
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("unsupported warehouse driver %q", cfg.Driver), nil)
	}

	db, err := sql.Open(d.driverName(), cfg.DSN)
	if err != nil {
		return nil, apperrors.NewDataLoadError("failed to open warehouse", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if cfg.Driver == "postgres" {
		db.SetMaxIdleConns(maxOpen)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	pingCtx := ctx
	if cfg.ConnTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnTimeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, apperrors.NewDataLoadError("failed to connect to warehouse", err)
	}

	logger.Info("warehouse_connected")
	return New(db, d, logger), nil
}

// New wraps an open database. Used directly by tests with their own *sql.DB.
func New(db *sql.DB, d dialect, logger *slog.Logger) *SQLWarehouse {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLWarehouse{db: db, dialect: d, logger: logger, now: time.Now}
}

func ensureParentDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" || strings.Contains(dsn, "mode=memory") {
		return nil
	}
	return os.MkdirAll(filepath.Dir(path), 0755)
}

// Migrate runs the versioned migrations of schema.table
func (w *SQLWarehouse) Migrate(ctx context.Context, schema, table string) error {
	return migrate(ctx, w.db, w.dialect, schema, table, w.logger)
}

// InsertBatch inserts rows in one transaction. Rows whose key is already
// stored are left untouched and not counted.
func (w *SQLWarehouse) InsertBatch(ctx context.Context, schema, table string, rows []domain.GoldRecord) (inserted int, err error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, insertSQL(w.dialect, w.dialect.qualify(schema, table)))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	loadedAt := w.now().UTC()
	for i := range rows {
		r := rows[i]
		var category interface{}
		if r.GrowthCategory != nil {
			category = string(*r.GrowthCategory)
		}
		res, execErr := stmt.ExecContext(ctx,
			r.Country,
			r.Indicator,
			r.Date.Format(domain.DateLayout),
			r.Year,
			r.Quarter,
			r.Value,
			r.DataSource,
			nullable(r.YoYChange),
			nullable(r.MovingAverage),
			nullable(r.ZScore),
			category,
			r.IsAnomaly,
			loadedAt,
		)
		if execErr != nil {
			if w.dialect.isConflict(execErr) {
				return 0, fmt.Errorf("%w: %w", ErrConflict, execErr)
			}
			return 0, execErr
		}
		n, raErr := res.RowsAffected()
		if raErr != nil {
			return 0, raErr
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// Count returns the number of rows in the target table
func (w *SQLWarehouse) Count(ctx context.Context, schema, table string) (int, error) {
	var n int
	err := w.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+w.dialect.qualify(schema, table)).Scan(&n)
	return n, err
}

// Close closes the database
func (w *SQLWarehouse) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func nullable(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

var _ Warehouse = (*SQLWarehouse)(nil)
