package migrate

import (
	"context"
	"regexp"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
)

var testFS = fstest.MapFS{
	"sql/0001_alpha.up.sql": {Data: []byte(
		"create table alpha (id text primary key);")},
	"sql/0001_alpha.down.sql": {Data: []byte(
		"drop table alpha;")},
	"sql/0002_beta.up.sql": {Data: []byte(
		"create table beta (id text primary key);\n" +
			"insert into beta(id) values ('a;b');")},
	"sql/0002_beta.down.sql": {Data: []byte(
		"drop table beta;")},
	"seeds/0001_names.sql": {Data: []byte(
		"insert into alpha(id) values ('seed') on conflict do nothing;")},
}

func newManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewManager(db, WithFS(testFS)), mock
}

func expectEnsureTables(mock sqlmock.Sqlmock) {
	mock.ExpectExec("create table if not exists schema_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestUpSkipsAppliedAndRunsPending(t *testing.T) {
	m, mock := newManager(t)
	ctx := context.Background()

	expectEnsureTables(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_alpha.up.sql"))

	// Only the second migration is pending. Its two statements run in one
	// transaction, then the bookkeeping row is written.
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("create table beta (id text primary key)")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("insert into beta(id) values ('a;b')")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_beta.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := m.Up(ctx); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownRollsBackLastApplied(t *testing.T) {
	m, mock := newManager(t)
	ctx := context.Background()

	expectEnsureTables(mock)
	mock.ExpectQuery("select name from schema_migrations order by applied_at").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).
			AddRow("0001_alpha.up.sql").
			AddRow("0002_beta.up.sql"))

	mock.ExpectBegin()
	mock.ExpectExec("drop table beta").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("delete from schema_migrations").
		WithArgs("0002_beta.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := m.Down(ctx); err != nil {
		t.Fatalf("Down: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownWithoutHistoryFails(t *testing.T) {
	m, mock := newManager(t)

	expectEnsureTables(mock)
	mock.ExpectQuery("select name from schema_migrations order by applied_at").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))

	if err := m.Down(context.Background()); err == nil {
		t.Fatal("expected an error with no applied migrations")
	}
}

func TestSeedSkipsRecordedFiles(t *testing.T) {
	m, mock := newManager(t)

	expectEnsureTables(mock)
	mock.ExpectQuery("select name from schema_seeds").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_names.sql"))

	if err := m.Seed(context.Background()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("select 1; insert into t values ('a;b'); ")
	if len(stmts) != 2 {
		t.Fatalf("got %d statements: %q", len(stmts), stmts)
	}
	if stmts[1] != " insert into t values ('a;b')" {
		t.Fatalf("quoted semicolon split: %q", stmts[1])
	}
}
