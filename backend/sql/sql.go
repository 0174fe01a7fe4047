// Package sql provides a backend persisting records through database/sql.
// It supports insert, update and delete against PostgreSQL, MySQL and
// SQLite, derives table and column names from entity types by convention,
// and implements savepoints on top of SQL SAVEPOINT.
package sql

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-openapi/inflect"

	"github.com/syssam/unitwork/backend"
)

// Dialect names accepted by New and Open.
const (
	Postgres = "postgres"
	MySQL    = "mysql"
	SQLite   = "sqlite3"
)

// Backend executes operation batches as SQL statements. The table name of
// an entity type is its pluralized snake_case form ("OrderLine" becomes
// "order_lines"), column names are snake_case field names, and every table
// is expected to have an integer "id" primary key.
type Backend struct {
	db      *stdsql.DB
	dialect string

	mu    sync.Mutex
	tx    *stdsql.Tx
	depth int
}

// New wraps an open database handle.
func New(db *stdsql.DB, dialect string) *Backend {
	return &Backend{db: db, dialect: dialect}
}

// Open opens a database connection for the given driver name and DSN. The
// driver name doubles as the dialect.
func Open(driver, dsn string) (*Backend, error) {
	db, err := stdsql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sql: opening %s connection: %w", driver, err)
	}
	return New(db, driver), nil
}

var (
	_ backend.Backend       = (*Backend)(nil)
	_ backend.Transactional = (*Backend)(nil)
)

// DB returns the underlying database handle.
func (b *Backend) DB() *stdsql.DB { return b.db }

// conn is the statement execution surface shared by *sql.DB and *sql.Tx.
type conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (stdsql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *stdsql.Row
}

func (b *Backend) conn() conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tx != nil {
		return b.tx
	}
	return b.db
}

// Execute runs one statement per record and reports one outcome per
// record, in order. Driver errors become record failures classified by
// constraint kind; they never abort the batch at the call level.
//
// Upsert, undelete, merge and publish have no portable SQL rendition and
// report UNSUPPORTED_OPERATION per record.
func (b *Backend) Execute(ctx context.Context, entities []backend.Entity, op backend.Op, _ backend.ExecOptions) ([]backend.RecordOutcome, error) {
	outcomes := make([]backend.RecordOutcome, 0, len(entities))
	for _, e := range entities {
		var out backend.RecordOutcome
		switch op {
		case backend.OpInsert:
			out = b.insert(ctx, e)
		case backend.OpUpdate:
			out = b.update(ctx, e)
		case backend.OpDelete:
			out = b.delete(ctx, e)
		default:
			out = backend.Failure(fmt.Sprintf("operation %s is not supported by the sql backend", op), StatusUnsupported)
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

func (b *Backend) insert(ctx context.Context, e backend.Entity) backend.RecordOutcome {
	cols, args := columns(e)
	marks := make([]string, len(cols))
	for i := range cols {
		marks[i] = b.placeholder(i + 1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		tableName(e.EntityType()), strings.Join(cols, ", "), strings.Join(marks, ", "))

	if b.dialect == Postgres {
		var id any
		if err := b.conn().QueryRowContext(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
			return backend.Failure(err.Error(), classify(err))
		}
		return backend.Success(id)
	}
	res, err := b.conn().ExecContext(ctx, query, args...)
	if err != nil {
		return backend.Failure(err.Error(), classify(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return backend.Failure(err.Error(), StatusDatabaseError)
	}
	return backend.Success(id)
}

func (b *Backend) update(ctx context.Context, e backend.Entity) backend.RecordOutcome {
	cols, args := columns(e)
	if len(cols) == 0 {
		return backend.Success(e.EntityID())
	}
	sets := make([]string, len(cols))
	for i, col := range cols {
		sets[i] = fmt.Sprintf("%s = %s", col, b.placeholder(i+1))
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = %s",
		tableName(e.EntityType()), strings.Join(sets, ", "), b.placeholder(len(cols)+1))
	return b.exec(ctx, e, query, append(args, e.EntityID())...)
}

func (b *Backend) delete(ctx context.Context, e backend.Entity) backend.RecordOutcome {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = %s", tableName(e.EntityType()), b.placeholder(1))
	return b.exec(ctx, e, query, e.EntityID())
}

// exec runs a statement expected to affect exactly one row identified by
// the entity's primary key.
func (b *Backend) exec(ctx context.Context, e backend.Entity, query string, args ...any) backend.RecordOutcome {
	res, err := b.conn().ExecContext(ctx, query, args...)
	if err != nil {
		return backend.Failure(err.Error(), classify(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return backend.Failure(fmt.Sprintf("%s %v not found", e.EntityType(), e.EntityID()), StatusNotFound)
	}
	return backend.Success(e.EntityID())
}

func (b *Backend) placeholder(n int) string {
	if b.dialect == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// columns returns the entity's field names as sorted snake_case columns
// with their values aligned by index.
func columns(e backend.Entity) ([]string, []any) {
	fields := e.Fields()
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	cols := make([]string, len(names))
	args := make([]any, len(names))
	for i, name := range names {
		cols[i] = inflect.Underscore(name)
		args[i] = fields[name]
	}
	return cols, args
}

func tableName(typ string) string {
	return inflect.Pluralize(inflect.Underscore(typ))
}

// Savepoint opens a savepoint, beginning a transaction first when none is
// open. Savepoints nest; the transaction is resolved when the outermost
// one is released or rolled back.
func (b *Backend) Savepoint(ctx context.Context) (backend.Savepoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	owns := false
	if b.tx == nil {
		tx, err := b.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("sql: beginning transaction: %w", err)
		}
		b.tx = tx
		owns = true
	}
	b.depth++
	name := fmt.Sprintf("uow_sp_%d", b.depth)
	if _, err := b.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		if owns {
			_ = b.tx.Rollback()
			b.tx = nil
			b.depth = 0
		}
		return nil, fmt.Errorf("sql: creating savepoint: %w", err)
	}
	return &savepoint{b: b, name: name, owns: owns}, nil
}

type savepoint struct {
	b    *Backend
	name string
	owns bool
}

func (sp *savepoint) Rollback(ctx context.Context) error {
	sp.b.mu.Lock()
	defer sp.b.mu.Unlock()
	if _, err := sp.b.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp.name); err != nil {
		return fmt.Errorf("sql: rolling back savepoint: %w", err)
	}
	return sp.close(true)
}

func (sp *savepoint) Release(ctx context.Context) error {
	sp.b.mu.Lock()
	defer sp.b.mu.Unlock()
	if _, err := sp.b.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+sp.name); err != nil {
		return fmt.Errorf("sql: releasing savepoint: %w", err)
	}
	return sp.close(false)
}

// close resolves the owning transaction when the outermost savepoint ends.
// A rolled-back outer savepoint leaves nothing worth committing.
func (sp *savepoint) close(rolledBack bool) error {
	sp.b.depth--
	if !sp.owns {
		return nil
	}
	tx := sp.b.tx
	sp.b.tx = nil
	sp.b.depth = 0
	if rolledBack {
		if err := tx.Rollback(); err != nil {
			return fmt.Errorf("sql: rolling back transaction: %w", err)
		}
		return nil
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sql: committing transaction: %w", err)
	}
	return nil
}
