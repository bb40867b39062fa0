package operators

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/natskeeper/internal/common"
	"github.com/dmitrijs2005/natskeeper/internal/dbx"
	"github.com/dmitrijs2005/natskeeper/internal/server/models"
	"github.com/google/go-cmp/cmp"
)

var operatorColumns = []string{
	"name", "host", "port", "store_directory", "initialized",
	"operator_id", "system_account_id", "system_user_id", "operator_account_id", "operator_user_id",
}

func newRepoWithMock(t *testing.T, driver string) (*SQLRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewSQLRepository(db, dbx.NewDialect(driver)), mock, db
}

func TestGet_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t, "pgx")
	defer db.Close()

	rows := sqlmock.NewRows(operatorColumns).
		AddRow("acme", "nats", 4222, "/store", true, "OID", "AID", "UID", "OAID", "OUID")
	mock.ExpectQuery(`(?s)^SELECT\s+name,\s*host,.*FROM\s+operators\s+WHERE\s+id\s*=\s*1$`).
		WillReturnRows(rows)

	got, err := repo.Get(context.Background())
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}

	want := &models.Operator{
		Name: "acme", Host: "nats", Port: 4222, StoreDirectory: "/store", Initialized: true,
		OperatorID: "OID", SystemAccountID: "AID", SystemUserID: "UID",
		OperatorAccountID: "OAID", OperatorUserID: "OUID",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("operator mismatch (-want +got):\n%s", diff)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGet_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t, "pgx")
	defer db.Close()

	mock.ExpectQuery(`FROM\s+operators`).WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background())
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

func TestGetForUpdate_Postgres(t *testing.T) {
	repo, mock, db := newRepoWithMock(t, "pgx")
	defer db.Close()

	rows := sqlmock.NewRows(operatorColumns).
		AddRow("acme", "nats", 4222, "/store", false, "", "", "", "", "")
	mock.ExpectQuery(`(?s)FROM\s+operators\s+WHERE\s+id\s*=\s*1 FOR UPDATE$`).WillReturnRows(rows)

	if _, err := repo.GetForUpdate(context.Background()); err != nil {
		t.Fatalf("GetForUpdate error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetForUpdate_SQLiteHasNoLockClause(t *testing.T) {
	repo, mock, db := newRepoWithMock(t, "sqlite")
	defer db.Close()

	rows := sqlmock.NewRows(operatorColumns).
		AddRow("acme", "nats", 4222, "/store", false, "", "", "", "", "")
	mock.ExpectQuery(`(?s)FROM\s+operators\s+WHERE\s+id\s*=\s*1$`).WillReturnRows(rows)

	if _, err := repo.GetForUpdate(context.Background()); err != nil {
		t.Fatalf("GetForUpdate error: %v", err)
	}
}

func TestUpdate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t, "pgx")
	defer db.Close()

	op := &models.Operator{Name: "acme", Host: "nats", Port: 4222, StoreDirectory: "/store", Initialized: true, OperatorID: "OID"}
	mock.ExpectExec(`(?s)^UPDATE\s+operators\s+SET\s+name\s*=\s*\$1,.*operator_user_id\s*=\s*\$10\s+WHERE\s+id\s*=\s*1$`).
		WithArgs("acme", "nats", 4222, "/store", true, "OID", "", "", "", "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Update(context.Background(), op); err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestUpdate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t, "pgx")
	defer db.Close()

	mock.ExpectExec(`UPDATE\s+operators`).WillReturnError(errors.New("db down"))

	err := repo.Update(context.Background(), &models.Operator{})
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}
