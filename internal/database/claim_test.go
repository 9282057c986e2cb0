package database

import (
	"strings"
	"testing"
	"time"
)

func TestBuildClaimSelect(t *testing.T) {
	spec := claimSpec{
		Table:   "widgets",
		Columns: "t.id, t.name",
		Due:     "next_due_at",
		Lease:   "lease_started_at",
	}

	query := buildClaimSelect(spec)

	for _, want := range []string{
		"SELECT t.id, t.name",
		"FROM widgets t",
		"t.deleted = FALSE",
		"(t.lease_started_at IS NULL OR t.lease_started_at < $1)",
		"(t.next_due_at IS NULL OR t.next_due_at <= NOW())",
		"ORDER BY t.next_due_at ASC NULLS FIRST",
		"LIMIT $2",
		"FOR UPDATE OF t SKIP LOCKED",
	} {
		if !strings.Contains(query, want) {
			t.Errorf("claim query missing %q:\n%s", want, query)
		}
	}
}

func TestBuildClaimSelect_ExtraPredicate(t *testing.T) {
	query := buildClaimSelect(itemFactsClaimSpec)

	if !strings.Contains(query, "AND t.marketplace_id = $3") {
		t.Errorf("claim query missing marketplace predicate:\n%s", query)
	}
}

func TestBuildClaimSelect_LeafOnlyCategories(t *testing.T) {
	query := buildClaimSelect(categoryClaimSpec)

	if !strings.Contains(query, "NOT EXISTS (SELECT 1 FROM categories c WHERE c.parent_id = t.id") {
		t.Errorf("category claim query missing leaf predicate:\n%s", query)
	}
}

func TestBuildClaimSelect_DownloadedImagesStayClaimable(t *testing.T) {
	query := buildClaimSelect(imageClaimSpec)

	// Images refresh on cadence after download; a predicate on the
	// stored binary would strand them outside the schedule forever.
	if strings.Contains(query, "content") {
		t.Errorf("image claim query must not filter on stored content:\n%s", query)
	}
	if !strings.Contains(query, "AND t.marketplace_id = $3") {
		t.Errorf("image claim query missing marketplace predicate:\n%s", query)
	}
}

func TestLeaseCutoff(t *testing.T) {
	cutoff := leaseCutoff(30 * time.Minute)

	want := time.Now().Add(-30 * time.Minute)
	if diff := cutoff.Sub(want); diff < -time.Second || diff > time.Second {
		t.Errorf("leaseCutoff() = %v, want about %v", cutoff, want)
	}
}
