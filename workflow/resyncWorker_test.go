package workflow

import (
	"sort"
	"testing"
	"time"

	"github.com/ecofhq/portal_backend/models"
)

func TestResyncBackoffDoublesAndCaps(t *testing.T) {
	cases := map[int]time.Duration{
		0: 2 * time.Minute,
		1: 2 * time.Minute,
		2: 4 * time.Minute,
		3: 8 * time.Minute,
		5: 32 * time.Minute,
		6: time.Hour,
		9: time.Hour,
	}
	for failures, want := range cases {
		if got := resyncBackoff(failures); got != want {
			t.Errorf("resyncBackoff(%d) = %s, want %s", failures, got, want)
		}
	}
}

func TestClampResyncBatchSize(t *testing.T) {
	cases := map[int]int{
		0:     models.ResyncBatchSizeDefault,
		-5:    models.ResyncBatchSizeDefault,
		1:     models.ResyncBatchSizeMin,
		10:    10,
		500:   500,
		5000:  5000,
		99999: models.ResyncBatchSizeMax,
	}
	for in, want := range cases {
		if got := models.ClampResyncBatchSize(in); got != want {
			t.Errorf("ClampResyncBatchSize(%d) = %d, want %d", in, got, want)
		}
	}
}

// cursorRow mirrors the (modified_at, id) ordering of a reference-data table.
type cursorRow struct {
	id         int
	modifiedAt time.Time
}

// pageAfter applies the strictly-greater cursor predicate the resync reader
// uses: rows after (cursorModifiedAt, cursorId) in (modified_at, id) order.
func pageAfter(rows []cursorRow, cursorModifiedAt *time.Time, cursorId int, limit int) []cursorRow {
	sorted := make([]cursorRow, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].modifiedAt.Equal(sorted[j].modifiedAt) {
			return sorted[i].modifiedAt.Before(sorted[j].modifiedAt)
		}
		return sorted[i].id < sorted[j].id
	})

	var page []cursorRow
	for _, row := range sorted {
		if cursorModifiedAt != nil {
			after := row.modifiedAt.After(*cursorModifiedAt) ||
				(row.modifiedAt.Equal(*cursorModifiedAt) && row.id > cursorId)
			if !after {
				continue
			}
		}
		page = append(page, row)
		if len(page) == limit {
			break
		}
	}
	return page
}

// TestCursorWalkVisitsEveryRowOnce walks the full data set page by page,
// advancing the cursor to the last row of each page, and checks the union is
// exact: no row skipped, no row emitted twice. Rows sharing one modified_at
// are the interesting case — the id tiebreaker must carry the walk through
// them.
func TestCursorWalkVisitsEveryRowOnce(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var rows []cursorRow
	for i := 1; i <= 47; i++ {
		// Buckets of rows with identical timestamps.
		rows = append(rows, cursorRow{id: i, modifiedAt: base.Add(time.Duration(i/5) * time.Minute)})
	}

	seen := map[int]int{}
	var cursorModifiedAt *time.Time
	cursorId := 0
	for pages := 0; ; pages++ {
		if pages > 100 {
			t.Fatal("cursor walk did not terminate")
		}
		page := pageAfter(rows, cursorModifiedAt, cursorId, 10)
		if len(page) == 0 {
			break
		}
		for _, row := range page {
			seen[row.id]++
		}
		last := page[len(page)-1]
		ts := last.modifiedAt
		cursorModifiedAt = &ts
		cursorId = last.id
	}

	if len(seen) != len(rows) {
		t.Fatalf("expected %d rows, saw %d", len(rows), len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("row %d emitted %d times", id, count)
		}
	}
}

// TestCursorWalkNeverMissesLateRows inserts rows with newer timestamps midway
// through the walk; strictly-greater comparison guarantees they are picked up
// by a later page.
func TestCursorWalkNeverMissesLateRows(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := []cursorRow{
		{id: 1, modifiedAt: base},
		{id: 2, modifiedAt: base.Add(time.Minute)},
	}

	page := pageAfter(rows, nil, 0, 1)
	if len(page) != 1 || page[0].id != 1 {
		t.Fatalf("unexpected first page %v", page)
	}
	cursor := page[0].modifiedAt
	cursorId := page[0].id

	// A concurrent writer touches a new row after the cursor position.
	rows = append(rows, cursorRow{id: 3, modifiedAt: base.Add(2 * time.Minute)})

	var seen []int
	for {
		page = pageAfter(rows, &cursor, cursorId, 1)
		if len(page) == 0 {
			break
		}
		seen = append(seen, page[0].id)
		cursor = page[0].modifiedAt
		cursorId = page[0].id
	}
	if len(seen) != 2 || seen[0] != 2 || seen[1] != 3 {
		t.Fatalf("late row lost, walked %v", seen)
	}
}
