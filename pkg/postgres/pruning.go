package postgres

import (
	"context"
	"fmt"
	"time"
)

// ListPrunableSeries returns series created before cutoff that own no reservations, oldest first
func (d *DB) ListPrunableSeries(ctx context.Context, cutoff time.Time) ([]string, error) {
	return d.queryIDs(ctx, `
		SELECT rr.id
		FROM recurring_reservation rr
		WHERE rr.created_at < $1
			AND NOT EXISTS (SELECT 1 FROM reservation r WHERE r.recurring_reservation_id = rr.id)
		ORDER BY rr.created_at, rr.id
	`, cutoff.UTC())
}

// DeleteSeriesIfEmpty deletes the series if it is still older than cutoff and still childless.
// It returns false when the row no longer qualifies.
func (d *DB) DeleteSeriesIfEmpty(ctx context.Context, seriesID string, cutoff time.Time) (bool, error) {
	tag, err := d.pool.Exec(ctx, `
		DELETE FROM recurring_reservation rr
		WHERE rr.id = $1
			AND rr.created_at < $2
			AND NOT EXISTS (SELECT 1 FROM reservation r WHERE r.recurring_reservation_id = rr.id)
	`, seriesID, cutoff.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to delete series %s: %w", seriesID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListExpiredStatistics returns reservation statistics created before cutoff, oldest first
func (d *DB) ListExpiredStatistics(ctx context.Context, cutoff time.Time) ([]string, error) {
	return d.queryIDs(ctx, `
		SELECT id FROM reservation_statistic
		WHERE created_at < $1
		ORDER BY created_at, id
	`, cutoff.UTC())
}

// DeleteStatistic deletes one statistic row if it is still older than cutoff
func (d *DB) DeleteStatistic(ctx context.Context, statisticID string, cutoff time.Time) (bool, error) {
	tag, err := d.pool.Exec(ctx, `
		DELETE FROM reservation_statistic WHERE id = $1 AND created_at < $2
	`, statisticID, cutoff.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to delete statistic %s: %w", statisticID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (d *DB) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ids: %w", err)
	}
	return ids, nil
}
