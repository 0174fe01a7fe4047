package sql

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/unitwork/backend"
)

type testEntity struct {
	typ    string
	id     any
	fields map[string]any
}

func newTestEntity(typ string, fields map[string]any) *testEntity {
	if fields == nil {
		fields = make(map[string]any)
	}
	return &testEntity{typ: typ, fields: fields}
}

func (e *testEntity) EntityType() string { return e.typ }
func (e *testEntity) EntityID() any      { return e.id }
func (e *testEntity) SetEntityID(id any) { e.id = id }
func (e *testEntity) Field(name string) (any, bool) {
	v, ok := e.fields[name]
	return v, ok
}
func (e *testEntity) SetField(name string, value any) { e.fields[name] = value }
func (e *testEntity) Fields() map[string]any          { return e.fields }

func TestPostgresInsertReturningID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	b := New(db, Postgres)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO order_lines (amount, name) VALUES ($1, $2) RETURNING id")).
		WithArgs(42, "ada").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	outcomes, err := b.Execute(context.Background(),
		[]backend.Entity{newTestEntity("OrderLine", map[string]any{"name": "ada", "amount": 42})},
		backend.OpInsert, backend.ExecOptions{})
	require.NoError(t, err)
	require.True(t, outcomes[0].Success)
	assert.Equal(t, int64(7), outcomes[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLInsertLastInsertID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	b := New(db, MySQL)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO accounts (name) VALUES (?)")).
		WithArgs("acme").
		WillReturnResult(sqlmock.NewResult(11, 1))

	outcomes, err := b.Execute(context.Background(),
		[]backend.Entity{newTestEntity("Account", map[string]any{"name": "acme"})},
		backend.OpInsert, backend.ExecOptions{})
	require.NoError(t, err)
	require.True(t, outcomes[0].Success)
	assert.Equal(t, int64(11), outcomes[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAndDelete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	b := New(db, Postgres)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts SET name = $1 WHERE id = $2")).
		WithArgs("renamed", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM accounts WHERE id = $1")).
		WithArgs(3).
		WillReturnResult(sqlmock.NewResult(0, 0))

	upd := newTestEntity("Account", map[string]any{"name": "renamed"})
	upd.SetEntityID(3)
	outcomes, err := b.Execute(context.Background(), []backend.Entity{upd}, backend.OpUpdate, backend.ExecOptions{})
	require.NoError(t, err)
	assert.True(t, outcomes[0].Success)

	// Zero affected rows is a per-record NOT_FOUND, not a call error.
	del := newTestEntity("Account", nil)
	del.SetEntityID(3)
	outcomes, err = b.Execute(context.Background(), []backend.Entity{del}, backend.OpDelete, backend.ExecOptions{})
	require.NoError(t, err)
	require.False(t, outcomes[0].Success)
	assert.Equal(t, StatusNotFound, outcomes[0].Errors[0].StatusCode)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnsupportedOperations(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	b := New(db, Postgres)

	for _, op := range []backend.Op{backend.OpUpsert, backend.OpUndelete, backend.OpMerge, backend.OpPublish} {
		outcomes, err := b.Execute(context.Background(),
			[]backend.Entity{newTestEntity("Account", nil)}, op, backend.ExecOptions{})
		require.NoError(t, err)
		require.False(t, outcomes[0].Success, op.String())
		assert.Equal(t, StatusUnsupported, outcomes[0].Errors[0].StatusCode)
	}
}

func TestSavepointLifecycle(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	b := New(db, Postgres)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("SAVEPOINT uow_sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO accounts (name) VALUES ($1) RETURNING id")).
		WithArgs("acme").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectExec("ROLLBACK TO SAVEPOINT uow_sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	sp, err := b.Savepoint(ctx)
	require.NoError(t, err)
	outcomes, err := b.Execute(ctx,
		[]backend.Entity{newTestEntity("Account", map[string]any{"name": "acme"})},
		backend.OpInsert, backend.ExecOptions{})
	require.NoError(t, err)
	require.True(t, outcomes[0].Success)
	require.NoError(t, sp.Rollback(ctx))

	// The owning transaction is gone; a new savepoint begins a new one.
	mock.ExpectBegin()
	mock.ExpectExec("SAVEPOINT uow_sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("RELEASE SAVEPOINT uow_sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	sp, err = b.Savepoint(ctx)
	require.NoError(t, err)
	require.NoError(t, sp.Release(ctx))
}

type pgError struct{ state string }

func (e *pgError) Error() string    { return "pq: constraint violation" }
func (e *pgError) SQLState() string { return e.state }

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"postgres sqlstate unique", &pgError{state: "23505"}, StatusDuplicateValue},
		{"postgres sqlstate fk", &pgError{state: "23503"}, StatusForeignKeyViolation},
		{"postgres sqlstate check", &pgError{state: "23514"}, StatusCheckViolation},
		{"postgres message", errors.New(`pq: duplicate key value violates unique constraint "accounts_name_key"`), StatusDuplicateValue},
		{"mysql message", errors.New("Error 1062: Duplicate entry 'acme' for key 'name'"), StatusDuplicateValue},
		{"mysql fk child", errors.New("Error 1452: Cannot add or update a child row"), StatusForeignKeyViolation},
		{"sqlite unique", errors.New("constraint failed: UNIQUE constraint failed: accounts.name (2067)"), StatusDuplicateValue},
		{"sqlite fk", errors.New("FOREIGN KEY constraint failed (787)"), StatusForeignKeyViolation},
		{"sqlite check", errors.New("CHECK constraint failed: accounts (275)"), StatusCheckViolation},
		{"unclassified", errors.New("driver: bad connection"), StatusDatabaseError},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, classify(tt.err))
		})
	}
}
