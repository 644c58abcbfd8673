package migrate

import (
	"context"
	"errors"
	"io/fs"
	"regexp"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMock(t *testing.T) (sqlmock.Sqlmock, func(...Option) *Manager) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return mock, func(opts ...Option) *Manager { return NewManager(db, opts...) }
}

func expectBookkeeping(mock sqlmock.Sqlmock) {
	mock.ExpectExec(regexp.QuoteMeta("create table if not exists schema_migrations")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("create table if not exists schema_seeds")).WillReturnResult(sqlmock.NewResult(0, 0))
}

var testSchema = fstest.MapFS{
	"0001_init.up.sql":     {Data: []byte("-- first; table\ncreate table a (x text);\ninsert into a values ('semi;colon');\n")},
	"0001_init.down.sql":   {Data: []byte("drop table a;")},
	"0002_more.up.sql":     {Data: []byte("create table b (y int);")},
	"0002_more.down.sql":   {Data: []byte("drop table b;")},
	"notes/readme.txt":     {Data: []byte("ignored")},
	"0003_broken.down.sql": {Data: []byte("select 1;")},
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	mock, newManager := newMock(t)
	m := newManager(WithMigrations(testSchema))

	expectBookkeeping(mock)
	mock.ExpectQuery(regexp.QuoteMeta("select name from schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_init.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("create table b (y int);")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("insert into schema_migrations(name, applied_at)")).
		WithArgs("0002_more.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	applied, err := m.Up(context.Background())
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if len(applied) != 1 || applied[0] != "0002_more.up.sql" {
		t.Fatalf("unexpected applied %v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpRollsBackFailedMigration(t *testing.T) {
	mock, newManager := newMock(t)
	m := newManager(WithMigrations(testSchema))

	expectBookkeeping(mock)
	mock.ExpectQuery(regexp.QuoteMeta("select name from schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("create table a (x text);")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("insert into a values ('semi;colon');")).WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	applied, err := m.Up(context.Background())
	if err == nil || !strings.Contains(err.Error(), "0001_init.up.sql") {
		t.Fatalf("expected migration error, got %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("expected nothing applied, got %v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDownRevertsLatest(t *testing.T) {
	mock, newManager := newMock(t)
	m := newManager(WithMigrations(testSchema))

	expectBookkeeping(mock)
	mock.ExpectQuery(regexp.QuoteMeta("select name from schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_init.up.sql").AddRow("0002_more.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("drop table b;")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("delete from schema_migrations where name = $1")).
		WithArgs("0002_more.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	name, err := m.Down(context.Background())
	if err != nil {
		t.Fatalf("Down: %v", err)
	}
	if name != "0002_more.up.sql" {
		t.Fatalf("unexpected rollback %q", name)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDownWithNothingApplied(t *testing.T) {
	mock, newManager := newMock(t)
	m := newManager(WithMigrations(testSchema))

	expectBookkeeping(mock)
	mock.ExpectQuery(regexp.QuoteMeta("select name from schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"name"}))

	if _, err := m.Down(context.Background()); !errors.Is(err, ErrNothingApplied) {
		t.Fatalf("expected ErrNothingApplied, got %v", err)
	}
}

func TestPendingAndSeedWithoutFiles(t *testing.T) {
	mock, newManager := newMock(t)
	m := newManager(WithMigrations(testSchema))

	expectBookkeeping(mock)
	mock.ExpectQuery(regexp.QuoteMeta("select name from schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_init.up.sql"))

	pending, err := m.Pending(context.Background())
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 || pending[0] != "0002_more.up.sql" {
		t.Fatalf("unexpected pending %v", pending)
	}

	applied, err := m.Seed(context.Background())
	if err != nil || applied != nil {
		t.Fatalf("expected no-op seed, got %v, %v", applied, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEmbeddedSchemaIsComplete(t *testing.T) {
	ups, err := collectSQL(Schema(), ".up.sql")
	if err != nil {
		t.Fatalf("collectSQL: %v", err)
	}
	for _, table := range []string{"users", "api_keys", "refresh_tokens", "audit_log"} {
		found := false
		for _, name := range ups {
			body, err := fs.ReadFile(Schema(), name)
			if err != nil {
				t.Fatalf("read %s: %v", name, err)
			}
			if strings.Contains(string(body), "create table if not exists "+table+" (") {
				found = true
			}
			down := strings.TrimSuffix(name, ".up.sql") + ".down.sql"
			if _, err := fs.Stat(Schema(), down); err != nil {
				t.Fatalf("missing %s", down)
			}
		}
		if !found {
			t.Fatalf("no migration creates %s", table)
		}
	}
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("create table x (a text default 'a;b'); -- trailing; comment\ninsert into x values ('c');")
	if len(got) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(got), got)
	}
	if strings.TrimSpace(got[0]) != "create table x (a text default 'a;b');" {
		t.Fatalf("unexpected first statement %q", got[0])
	}
	if strings.TrimSpace(got[1]) != "insert into x values ('c');" {
		t.Fatalf("unexpected second statement %q", got[1])
	}
}
