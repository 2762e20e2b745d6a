package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jakechorley/seasonal-allocation/pkg/core/occurrences"
	"github.com/jakechorley/seasonal-allocation/pkg/core/timewindow"
)

// IsClosed reports whether a facility closure for the unit, or for every unit,
// intersects the window projected onto date
func (d *DB) IsClosed(ctx context.Context, unitID string, date time.Time, window timewindow.Window) (bool, error) {
	begin, end := occurrences.Project(date, window, date.Location())

	var closed bool
	err := d.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM facility_closure
			WHERE (reservation_unit_id IS NULL OR reservation_unit_id = $1)
				AND starts_at < $3
				AND ends_at > $2
		)
	`, unitID, begin.UTC(), end.UTC()).Scan(&closed)
	if err != nil {
		return false, fmt.Errorf("failed to query facility closures: %w", err)
	}
	return closed, nil
}
