package database_test

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/nkozyrev/mpcrawl/internal/database"
	"github.com/nkozyrev/mpcrawl/internal/domain"
)

// categoryColumns lists the columns returned by category SELECT queries.
var categoryColumns = []string{
	"id", "name", "parent_id", "marketplace_id", "mp_id", "mp_url",
	"items_in_category", "deleted", "refresh_interval_secs", "next_due_at",
	"lease_started_at", "created_at", "modified_at",
}

func newCategoryRepo(t *testing.T) (*database.CategoryRepository, sqlmock.Sqlmock, func()) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	db := sqlx.NewDb(mockDB, "postgres")
	repo := database.NewCategoryRepository(db)

	return repo, mock, func() { mockDB.Close() }
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func categoryRow(id int64, name string) []driver.Value {
	now := time.Now()
	return []driver.Value{
		id, name, nil, int64(1), nil, "https://example.com/catalog/" + name,
		0, false, int64(86400), now, nil, now, now,
	}
}

func TestCategoryRepository_ClaimDueLeaves(t *testing.T) {
	repo, mock, cleanup := newCategoryRepo(t)
	defer cleanup()

	rows := sqlmock.NewRows(categoryColumns).
		AddRow(categoryRow(10, "books")...).
		AddRow(categoryRow(11, "music")...)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE OF t SKIP LOCKED").
		WithArgs(sqlmock.AnyArg(), 2, int64(1)).
		WillReturnRows(rows)
	mock.ExpectExec("UPDATE categories SET lease_started_at = NOW()").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	cats, err := repo.ClaimDueLeaves(context.Background(), 1, 30*time.Minute, 2)
	if err != nil {
		t.Fatalf("ClaimDueLeaves() error = %v", err)
	}
	if len(cats) != 2 {
		t.Fatalf("ClaimDueLeaves() returned %d categories, want 2", len(cats))
	}
	if cats[0].ID != 10 || cats[1].ID != 11 {
		t.Errorf("ClaimDueLeaves() ids = %d, %d, want 10, 11", cats[0].ID, cats[1].ID)
	}
	if !cats[0].LeaseStartedAt.Valid {
		t.Error("ClaimDueLeaves() returned category without lease timestamp")
	}

	expectationsMet(t, mock)
}

func TestCategoryRepository_ClaimDueLeaves_Empty(t *testing.T) {
	repo, mock, cleanup := newCategoryRepo(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE OF t SKIP LOCKED").
		WillReturnRows(sqlmock.NewRows(categoryColumns))
	mock.ExpectCommit()

	cats, err := repo.ClaimDueLeaves(context.Background(), 1, 30*time.Minute, 5)
	if err != nil {
		t.Fatalf("ClaimDueLeaves() error = %v", err)
	}
	if len(cats) != 0 {
		t.Errorf("ClaimDueLeaves() returned %d categories, want 0", len(cats))
	}

	expectationsMet(t, mock)
}

func TestCategoryRepository_Release(t *testing.T) {
	repo, mock, cleanup := newCategoryRepo(t)
	defer cleanup()

	mock.ExpectExec("UPDATE categories").
		WithArgs(int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Release(context.Background(), 10); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	expectationsMet(t, mock)
}

func TestCategoryRepository_Release_NotFound(t *testing.T) {
	repo, mock, cleanup := newCategoryRepo(t)
	defer cleanup()

	mock.ExpectExec("UPDATE categories").
		WithArgs(int64(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.Release(context.Background(), 99); err == nil {
		t.Fatal("Release() expected error for unknown category, got nil")
	}

	expectationsMet(t, mock)
}

func TestCategoryRepository_Requeue(t *testing.T) {
	repo, mock, cleanup := newCategoryRepo(t)
	defer cleanup()

	mock.ExpectExec("UPDATE categories").
		WithArgs(int64(10), int64(300)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Requeue(context.Background(), 10, 5*time.Minute); err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}

	expectationsMet(t, mock)
}

func TestCategoryRepository_Upsert(t *testing.T) {
	repo, mock, cleanup := newCategoryRepo(t)
	defer cleanup()

	parentID := int64(3)
	fact := &domain.CategoryFact{
		Name:      "Books",
		MPURL:     "https://example.com/catalog/books",
		ItemCount: 120,
	}

	mock.ExpectQuery("INSERT INTO categories").
		WithArgs("Books", parentID, int64(1), int64(0),
			"https://example.com/catalog/books", 120, int64(86400)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	id, err := repo.Upsert(context.Background(), 1, fact, &parentID, 24*time.Hour)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if id != 42 {
		t.Errorf("Upsert() id = %d, want 42", id)
	}

	expectationsMet(t, mock)
}
