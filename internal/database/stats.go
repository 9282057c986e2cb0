package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// FacetStats summarizes the scheduling state of one facet.
type FacetStats struct {
	Facet   string `db:"facet"`
	Total   int64  `db:"total"`
	Due     int64  `db:"due"`
	Leased  int64  `db:"leased"`
	Deleted int64  `db:"deleted"`
}

// StatsRepository reads scheduling counters for the stats command.
type StatsRepository struct {
	db *sqlx.DB
}

// NewStatsRepository creates a new stats repository.
func NewStatsRepository(db *sqlx.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

// facetStatsQuery renders one UNION arm of the stats query.
func facetStatsQuery(facet, table, due, lease string) string {
	return fmt.Sprintf(`
		SELECT '%s' AS facet,
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE deleted = FALSE AND (%s IS NULL OR %s <= NOW())) AS due,
			COUNT(*) FILTER (WHERE %s IS NOT NULL) AS leased,
			COUNT(*) FILTER (WHERE deleted = TRUE) AS deleted
		FROM %s
	`, facet, due, due, lease, table)
}

// Collect returns per-facet scheduling counters, ordered by facet name.
func (r *StatsRepository) Collect(ctx context.Context) ([]FacetStats, error) {
	query := facetStatsQuery("categories", "categories", "next_due_at", "lease_started_at") +
		" UNION ALL " +
		facetStatsQuery("item_facts", "items", "facts_next_due_at", "facts_lease_started_at") +
		" UNION ALL " +
		facetStatsQuery("item_revisions", "items", "revisions_next_due_at", "revisions_lease_started_at") +
		" UNION ALL " +
		facetStatsQuery("images", "images", "next_due_at", "lease_started_at") +
		" ORDER BY facet ASC"

	var stats []FacetStats
	if err := r.db.SelectContext(ctx, &stats, query); err != nil {
		return nil, fmt.Errorf("failed to collect facet stats: %w", err)
	}
	return stats, nil
}
