package database_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/nkozyrev/mpcrawl/internal/database"
	"github.com/nkozyrev/mpcrawl/internal/domain"
	"github.com/nkozyrev/mpcrawl/internal/logger"
)

var lookupColumns = []string{"id", "name", "marketplace_id", "mp_id", "created_at", "modified_at"}

func newLookupRepo(t *testing.T) (*database.LookupRepository, sqlmock.Sqlmock, func()) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	db := sqlx.NewDb(mockDB, "postgres")
	repo := database.NewLookupRepository(db, logger.NewNoOp())

	return repo, mock, func() { mockDB.Close() }
}

func brandByID(mpID int64) *domain.Lookup {
	return &domain.Lookup{
		Name:          "Acme",
		MarketplaceID: 1,
		MPID:          sql.NullInt64{Int64: mpID, Valid: true},
	}
}

func TestLookupRepository_GetOrCreate_Existing(t *testing.T) {
	repo, mock, cleanup := newLookupRepo(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery("FROM brands").
		WithArgs(int64(1), int64(55)).
		WillReturnRows(sqlmock.NewRows(lookupColumns).
			AddRow(int64(9), "Acme", int64(1), int64(55), now, now))

	id, err := repo.GetOrCreate(context.Background(), domain.LookupBrand, brandByID(55))
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if id != 9 {
		t.Errorf("GetOrCreate() id = %d, want 9", id)
	}

	expectationsMet(t, mock)
}

func TestLookupRepository_GetOrCreate_Insert(t *testing.T) {
	repo, mock, cleanup := newLookupRepo(t)
	defer cleanup()

	mock.ExpectQuery("FROM brands").
		WithArgs(int64(1), int64(55)).
		WillReturnRows(sqlmock.NewRows(lookupColumns))
	mock.ExpectQuery("INSERT INTO brands").
		WithArgs("Acme", int64(1), int64(55)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(12)))

	id, err := repo.GetOrCreate(context.Background(), domain.LookupBrand, brandByID(55))
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if id != 12 {
		t.Errorf("GetOrCreate() id = %d, want 12", id)
	}

	expectationsMet(t, mock)
}

func TestLookupRepository_GetOrCreate_InsertRace(t *testing.T) {
	repo, mock, cleanup := newLookupRepo(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery("FROM sellers").
		WillReturnRows(sqlmock.NewRows(lookupColumns))
	// ON CONFLICT DO NOTHING yields no row when a concurrent worker won.
	mock.ExpectQuery("INSERT INTO sellers").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("FROM sellers").
		WillReturnRows(sqlmock.NewRows(lookupColumns).
			AddRow(int64(31), "shop", int64(1), nil, now, now))

	seller := &domain.Lookup{Name: "shop", MarketplaceID: 1}
	id, err := repo.GetOrCreate(context.Background(), domain.LookupSeller, seller)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if id != 31 {
		t.Errorf("GetOrCreate() id = %d, want 31", id)
	}

	expectationsMet(t, mock)
}

func TestLookupRepository_GetOrCreate_HealsDuplicates(t *testing.T) {
	repo, mock, cleanup := newLookupRepo(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery("FROM colours").
		WillReturnRows(sqlmock.NewRows(lookupColumns).
			AddRow(int64(3), "red", int64(1), int64(7), now, now).
			AddRow(int64(5), "red", int64(1), int64(7), now, now))
	mock.ExpectExec("DELETE FROM colours").
		WillReturnResult(sqlmock.NewResult(0, 1))

	colour := &domain.Lookup{
		Name:          "red",
		MarketplaceID: 1,
		MPID:          sql.NullInt64{Int64: 7, Valid: true},
	}
	id, err := repo.GetOrCreate(context.Background(), domain.LookupColour, colour)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if id != 3 {
		t.Errorf("GetOrCreate() kept id = %d, want smallest id 3", id)
	}

	expectationsMet(t, mock)
}

func TestLookupRepository_GetOrCreate_RenamesOnDrift(t *testing.T) {
	repo, mock, cleanup := newLookupRepo(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery("FROM brands").
		WillReturnRows(sqlmock.NewRows(lookupColumns).
			AddRow(int64(9), "Acme Old", int64(1), int64(55), now, now))
	mock.ExpectExec("UPDATE brands SET name").
		WithArgs(int64(9), "Acme").
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := repo.GetOrCreate(context.Background(), domain.LookupBrand, brandByID(55))
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if id != 9 {
		t.Errorf("GetOrCreate() id = %d, want 9", id)
	}

	expectationsMet(t, mock)
}
