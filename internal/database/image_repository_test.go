package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/nkozyrev/mpcrawl/internal/database"
	"github.com/nkozyrev/mpcrawl/internal/domain"
	"github.com/nkozyrev/mpcrawl/internal/logger"
)

func newImageRepo(t *testing.T) (*database.ImageRepository, *sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	db := sqlx.NewDb(mockDB, "postgres")
	repo := database.NewImageRepository(db, logger.NewNoOp())

	return repo, db, mock, func() { mockDB.Close() }
}

func TestImageRepository_UpsertBatch(t *testing.T) {
	repo, db, mock, cleanup := newImageRepo(t)
	defer cleanup()

	mock.ExpectQuery("INSERT INTO images").
		WithArgs("https://img.example.com/a.jpg", int64(1), int64(604800),
			"https://img.example.com/b.jpg", int64(1), int64(604800)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(4)).AddRow(int64(5)))

	images := []*domain.Image{
		{MPURL: "https://img.example.com/a.jpg", MarketplaceID: 1, RefreshIntervalSecs: 604800},
		{MPURL: "https://img.example.com/b.jpg", MarketplaceID: 1, RefreshIntervalSecs: 604800},
	}
	if err := repo.UpsertBatch(context.Background(), db, images); err != nil {
		t.Fatalf("UpsertBatch() error = %v", err)
	}
	if images[0].ID != 4 || images[1].ID != 5 {
		t.Errorf("UpsertBatch() ids = %d, %d, want 4, 5", images[0].ID, images[1].ID)
	}

	expectationsMet(t, mock)
}

func TestImageRepository_StoreContent(t *testing.T) {
	repo, _, mock, cleanup := newImageRepo(t)
	defer cleanup()

	content := []byte{0xff, 0xd8, 0xff}
	mock.ExpectExec("UPDATE images").
		WithArgs(int64(4), content, "image/jpeg").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.StoreContent(context.Background(), 4, content, "image/jpeg"); err != nil {
		t.Fatalf("StoreContent() error = %v", err)
	}

	expectationsMet(t, mock)
}

func TestImageRepository_StoreContent_NotFound(t *testing.T) {
	repo, _, mock, cleanup := newImageRepo(t)
	defer cleanup()

	mock.ExpectExec("UPDATE images").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.StoreContent(context.Background(), 99, []byte{1}, "image/png"); err == nil {
		t.Fatal("StoreContent() expected error for unknown image, got nil")
	}

	expectationsMet(t, mock)
}

func TestImageRepository_Requeue(t *testing.T) {
	repo, _, mock, cleanup := newImageRepo(t)
	defer cleanup()

	mock.ExpectExec("UPDATE images").
		WithArgs(int64(4), int64(300)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Requeue(context.Background(), 4, 5*time.Minute); err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}

	expectationsMet(t, mock)
}
