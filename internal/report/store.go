// Package report persists end-of-day summaries. It is the consumer of the
// rollover snapshot produced by the daily reset; ticket handling never waits
// on it.
package report

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/guichetec/backend/internal/models"
)

// Store archives daily reports in the report database.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store on the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Archive inserts a daily report. Re-archiving the same date replaces the
// earlier row, so a restart straddling midnight cannot duplicate a day.
func (s *Store) Archive(ctx context.Context, r models.DailyReport) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_reports (
			report_date, total_tickets, normal_tickets, priority_tickets,
			average_wait_minutes, issued_remote, issued_manual
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(report_date) DO UPDATE SET
			total_tickets = excluded.total_tickets,
			normal_tickets = excluded.normal_tickets,
			priority_tickets = excluded.priority_tickets,
			average_wait_minutes = excluded.average_wait_minutes,
			issued_remote = excluded.issued_remote,
			issued_manual = excluded.issued_manual`,
		r.Date, r.TotalTickets, r.ByCategory.Normal, r.ByCategory.Priority,
		r.AverageWaitMinutes, r.IssuedByOrigin.Remote, r.IssuedByOrigin.Manual,
	)
	if err != nil {
		return fmt.Errorf("failed to archive daily report: %w", err)
	}
	return nil
}

// ListReports returns all archived reports, most recent first.
func (s *Store) ListReports(ctx context.Context) ([]models.DailyReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT report_date, total_tickets, normal_tickets, priority_tickets,
		       average_wait_minutes, issued_remote, issued_manual
		FROM daily_reports
		ORDER BY report_date DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily reports: %w", err)
	}
	defer rows.Close()

	var reports []models.DailyReport
	for rows.Next() {
		var r models.DailyReport
		if err := rows.Scan(
			&r.Date, &r.TotalTickets, &r.ByCategory.Normal, &r.ByCategory.Priority,
			&r.AverageWaitMinutes, &r.IssuedByOrigin.Remote, &r.IssuedByOrigin.Manual,
		); err != nil {
			return nil, fmt.Errorf("failed to scan daily report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}
