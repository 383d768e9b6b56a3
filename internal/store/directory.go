package store

import (
	"context"
	"database/sql"

	"fieldops/internal/domain"
)

// The directory holds the home/booking context used to enrich completion
// records. Loading it is an import step, not part of the live session.

func (s Store) UpsertHome(ctx context.Context, h domain.Home) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO homes(id,code,name,address,region) VALUES (?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET code=excluded.code, name=excluded.name, address=excluded.address, region=excluded.region`,
		h.ID, h.Code, h.Name, nullable(h.Address), nullable(h.Region))
	return err
}

func (s Store) FindHome(ctx context.Context, id string) (*domain.Home, error) {
	var h domain.Home
	var address, region sql.NullString
	err := s.DB.QueryRowContext(ctx, `SELECT id,code,name,address,region FROM homes WHERE id=?`, id).
		Scan(&h.ID, &h.Code, &h.Name, &address, &region)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	h.Address = address.String
	h.Region = region.String
	return &h, nil
}

func (s Store) ListHomes(ctx context.Context) ([]domain.Home, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id,code,name,COALESCE(address,''),COALESCE(region,'') FROM homes ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Home
	for rows.Next() {
		var h domain.Home
		if err := rows.Scan(&h.ID, &h.Code, &h.Name, &h.Address, &h.Region); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s Store) UpsertBooking(ctx context.Context, b domain.Booking) error {
	occupied := 0
	if b.Occupied {
		occupied = 1
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO bookings(id,home_id,guest_name,arrival,departure,occupied) VALUES (?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET home_id=excluded.home_id, guest_name=excluded.guest_name, arrival=excluded.arrival, departure=excluded.departure, occupied=excluded.occupied`,
		b.ID, b.HomeID, b.GuestName, b.Arrival, b.Departure, occupied)
	return err
}

func (s Store) FindBooking(ctx context.Context, id string) (*domain.Booking, error) {
	var b domain.Booking
	var occupied int
	err := s.DB.QueryRowContext(ctx, `SELECT id,home_id,guest_name,arrival,departure,occupied FROM bookings WHERE id=?`, id).
		Scan(&b.ID, &b.HomeID, &b.GuestName, &b.Arrival, &b.Departure, &occupied)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.Occupied = occupied != 0
	return &b, nil
}

func (s Store) ListBookings(ctx context.Context, homeID string) ([]domain.Booking, error) {
	query := `SELECT id,home_id,guest_name,arrival,departure,occupied FROM bookings ORDER BY arrival`
	args := []any{}
	if homeID != "" {
		query = `SELECT id,home_id,guest_name,arrival,departure,occupied FROM bookings WHERE home_id=? ORDER BY arrival`
		args = append(args, homeID)
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Booking
	for rows.Next() {
		var b domain.Booking
		var occupied int
		if err := rows.Scan(&b.ID, &b.HomeID, &b.GuestName, &b.Arrival, &b.Departure, &occupied); err != nil {
			return nil, err
		}
		b.Occupied = occupied != 0
		out = append(out, b)
	}
	return out, rows.Err()
}
