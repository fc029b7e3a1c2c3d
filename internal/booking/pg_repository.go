package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/locum-marketplace/internal/db"
	"github.com/hackgods/locum-marketplace/internal/geo"
)

const bookingColumns = `id, request_id, confirmation_id, locum_id, practice_id, branch_id,
	booking_date, start_time, end_time, starts_at, ends_at,
	location_address, location_lat, location_lon, hourly_rate, status,
	cancel_by, cancel_time, cancellation_reason, created_at, updated_at`

const penaltyColumns = `id, booking_id, cancelled_by, cancelled_party_type, charged_party_id,
	penalty_amount, penalty_hours, hourly_rate, hours_before_appointment,
	status, reason, cancellation_time, created_at`

type PgRepository struct {
	pool db.Pool
}

func NewPgRepository(pool db.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var address string
	var lat, lon *float64

	err := row.Scan(
		&b.ID,
		&b.RequestID,
		&b.ConfirmationID,
		&b.LocumID,
		&b.PracticeID,
		&b.BranchID,
		&b.BookingDate,
		&b.StartTime,
		&b.EndTime,
		&b.StartsAt,
		&b.EndsAt,
		&address,
		&lat,
		&lon,
		&b.HourlyRate,
		&b.Status,
		&b.CancelBy,
		&b.CancelTime,
		&b.CancellationReason,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}

	b.Location = geo.FromColumns(address, lat, lon)
	return &b, nil
}

func scanPenalty(row pgx.Row) (*CancellationPenalty, error) {
	var p CancellationPenalty
	err := row.Scan(
		&p.ID,
		&p.BookingID,
		&p.CancelledBy,
		&p.CancelledPartyType,
		&p.ChargedPartyID,
		&p.PenaltyAmount,
		&p.PenaltyHours,
		&p.HourlyRate,
		&p.HoursBeforeAppointment,
		&p.Status,
		&p.Reason,
		&p.CancellationTime,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// InsertTx stores a new booking using q, which is normally the transaction
// that resolved the confirmation.
func InsertTx(ctx context.Context, q db.Pool, b *Booking) error {
	address, lat, lon := b.Location.Columns()
	_, err := q.Exec(ctx, `
		INSERT INTO bookings (
			id, request_id, confirmation_id, locum_id, practice_id, branch_id,
			booking_date, start_time, end_time, starts_at, ends_at,
			location_address, location_lat, location_lon, hourly_rate, status,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $17)
	`,
		b.ID, b.RequestID, b.ConfirmationID, b.LocumID, b.PracticeID, b.BranchID,
		b.BookingDate, b.StartTime, b.EndTime, b.StartsAt, b.EndsAt,
		address, lat, lon, b.HourlyRate, b.Status,
		b.CreatedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (r *PgRepository) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	return scanBooking(row)
}

func (r *PgRepository) ListForLocum(ctx context.Context, locumID uuid.UUID) ([]Booking, error) {
	return r.listBookings(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE locum_id = $1
		ORDER BY starts_at DESC
	`, locumID)
}

func (r *PgRepository) ListForOrganisation(ctx context.Context, orgID uuid.UUID) ([]Booking, error) {
	return r.listBookings(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE practice_id = $1 OR branch_id = $1
		ORDER BY starts_at DESC
	`, orgID)
}

func (r *PgRepository) listBookings(ctx context.Context, sql string, id uuid.UUID) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, sql, id)
	if err != nil {
		return nil, fmt.Errorf("query bookings: %w", err)
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (r *PgRepository) CancelWithPenalty(
	ctx context.Context,
	bookingID uuid.UUID,
	cancelBy, reason string,
	at time.Time,
	penalty CancellationPenalty,
) (*Booking, error) {
	var updated *Booking

	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE bookings
			SET status = 'CANCELLED',
			    cancel_by = $2,
			    cancel_time = $3,
			    cancellation_reason = $4,
			    updated_at = $3
			WHERE id = $1
			  AND status = 'CONFIRMED'
			  AND starts_at > $3
			RETURNING `+bookingColumns,
			bookingID, cancelBy, at, reason,
		)
		b, err := scanBooking(row)
		if err != nil {
			if errors.Is(err, ErrBookingNotFound) {
				return ErrNotCancellable
			}
			return fmt.Errorf("cancel booking: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO cancellation_penalties (
				id, booking_id, cancelled_by, cancelled_party_type, charged_party_id,
				penalty_amount, penalty_hours, hourly_rate, hours_before_appointment,
				status, reason, cancellation_time, created_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		`,
			penalty.ID, bookingID, penalty.CancelledBy, penalty.CancelledPartyType, penalty.ChargedPartyID,
			penalty.PenaltyAmount, penalty.PenaltyHours, penalty.HourlyRate, penalty.HoursBeforeAppointment,
			penalty.Status, penalty.Reason, penalty.CancellationTime,
		)
		if err != nil {
			if db.IsUniqueViolation(err) {
				return ErrConflict
			}
			return fmt.Errorf("insert penalty: %w", err)
		}

		updated = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *PgRepository) ListPenaltiesCharged(ctx context.Context, partyID uuid.UUID) ([]CancellationPenalty, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+penaltyColumns+`
		FROM cancellation_penalties
		WHERE charged_party_id = $1
		ORDER BY cancellation_time DESC
	`, partyID)
	if err != nil {
		return nil, fmt.Errorf("query penalties: %w", err)
	}
	defer rows.Close()

	var out []CancellationPenalty
	for rows.Next() {
		p, err := scanPenalty(rows)
		if err != nil {
			return nil, fmt.Errorf("scan penalty: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
