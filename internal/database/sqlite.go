package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/mattn/go-sqlite3"

	"okm-go/internal/database/migrations"
	"okm-go/internal/okm"
)

// SQLiteDatabase is the relational repository backend. Every node is a row
// in nodes; type specific attributes, versions, grants and the other node
// attributes live in side tables keyed by node UUID.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
	opts okm.StoreOptions
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLiteDatabase opens the database at path, applies pending migrations
// and makes sure the root folder exists.
// path can be a file path or ":memory:" for an in-memory database.
func NewSQLiteDatabase(path string, opts okm.StoreOptions) (*SQLiteDatabase, error) {
	opts, err := opts.WithDefaults()
	if err != nil {
		return nil, err
	}

	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}

	s := &SQLiteDatabase{db: db, path: path, opts: opts}
	if err := s.ensureRoot(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenConnection opens and configures a SQLite connection with the PRAGMAs
// the schema relies on.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database, and file
	// databases serialize writers anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return db, nil
}

func qb() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

// exec runs a built statement.
func exec(ctx context.Context, q querier, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building statement: %w", err)
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, dbError(err)
	}
	return res, nil
}

// queryRow runs a built single row query.
func queryRow(ctx context.Context, q querier, b sq.SelectBuilder) (*sql.Row, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	return q.QueryRowContext(ctx, query, args...), nil
}

// queryAll runs a built query and calls scan for every row. The rows are
// closed before returning so the single connection is free again.
func queryAll(ctx context.Context, q querier, b sq.SelectBuilder, scan func(*sql.Rows) error) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return dbError(err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return dbError(err)
		}
	}
	if err := rows.Err(); err != nil {
		return dbError(err)
	}
	return nil
}

// dbError maps driver failures to repository errors.
func dbError(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return fmt.Errorf("%w: %w", okm.ErrItemExists, err)
	}
	return fmt.Errorf("%w: %w", okm.ErrDatabase, err)
}

// inTx runs fn in a transaction that is rolled back unless fn succeeds.
func (s *SQLiteDatabase) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w: %w", okm.ErrDatabase, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w: %w", okm.ErrDatabase, err)
	}
	return nil
}

// ensureRoot creates the root folder on first open.
func (s *SQLiteDatabase) ensureRoot(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := s.findNode(ctx, tx, okm.RootPath)
		if err == nil {
			return nil
		}
		if !errors.Is(err, okm.ErrPathNotFound) {
			return err
		}

		root := &okm.Node{
			UUID:            s.opts.IDs.New(),
			Path:            okm.RootPath,
			Name:            okm.BaseName(okm.RootPath),
			Type:            okm.TypeFolder,
			Author:          "system",
			Created:         s.opts.Clock.Now(),
			UserPermissions: okm.Grants{},
			RolePermissions: s.opts.RootRoles.Clone(),
		}
		if err := insertNode(ctx, tx, root, ""); err != nil {
			return fmt.Errorf("creating root folder: %w", err)
		}
		s.opts.Logger.Info("repository initialized", "root", root.UUID, "path", s.path)
		return nil
	})
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo writes a consistent copy of the database to destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ okm.Repository = (*SQLiteDatabase)(nil)
var _ okm.OperationLog = (*SQLiteDatabase)(nil)
