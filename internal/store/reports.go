package store

import (
	"context"
	"database/sql"
)

// MarkGuestReport records that the guest-report sub-flow finished for
// (home, activity). Idempotent.
func (s Store) MarkGuestReport(ctx context.Context, homeID, activityID, bookingID string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO guest_reports(home_id,activity_id,booking_id,completed_at) VALUES (?,?,?,?)
		 ON CONFLICT(home_id,activity_id) DO UPDATE SET completed_at=excluded.completed_at`,
		homeID, activityID, nullable(bookingID), s.now())
	return err
}

// GuestReportDone reports whether the sub-flow completed for the pair.
func (s Store) GuestReportDone(ctx context.Context, homeID, activityID string) (bool, error) {
	var one int
	err := s.DB.QueryRowContext(ctx,
		`SELECT 1 FROM guest_reports WHERE home_id=? AND activity_id=?`, homeID, activityID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
