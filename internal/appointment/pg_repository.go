package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/locum-marketplace/internal/booking"
	"github.com/hackgods/locum-marketplace/internal/db"
	"github.com/hackgods/locum-marketplace/internal/geo"
)

var (
	requestFields = []string{
		"id", "practice_id", "branch_id", "request_date", "start_time", "end_time",
		"starts_at", "ends_at", "location_address", "location_lat", "location_lon",
		"required_role", "hourly_rate", "status", "created_at", "updated_at",
	}
	responseFields = []string{
		"id", "request_id", "locum_id", "status", "responded_at", "updated_at",
	}
	confirmationFields = []string{
		"id", "confirmation_number", "request_id", "locum_id", "status",
		"practice_confirmed_at", "expires_at", "responded_at", "rejection_reason", "updated_at",
	}
	locumFields = []string{
		"id", "name", "role", "location_address", "location_lat", "location_lon", "average_rating",
	}
)

// columns renders a select list, qualified with alias when it is set.
func columns(alias string, fields []string) string {
	if alias == "" {
		return strings.Join(fields, ", ")
	}
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = alias + "." + f
	}
	return strings.Join(out, ", ")
}

type PgRepository struct {
	pool db.Pool
}

func NewPgRepository(pool db.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

// requestScan collects the columns of one appointment_requests row so it
// can be scanned alone or as part of a join.
type requestScan struct {
	req      AppointmentRequest
	address  string
	lat, lon *float64
}

func (s *requestScan) dest() []any {
	r := &s.req
	return []any{
		&r.ID, &r.PracticeID, &r.BranchID, &r.RequestDate, &r.StartTime, &r.EndTime,
		&r.StartsAt, &r.EndsAt, &s.address, &s.lat, &s.lon,
		&r.RequiredRole, &r.HourlyRate, &r.Status, &r.CreatedAt, &r.UpdatedAt,
	}
}

func (s *requestScan) finish() AppointmentRequest {
	s.req.Location = geo.FromColumns(s.address, s.lat, s.lon)
	return s.req
}

func responseDest(r *ApplicantResponse) []any {
	return []any{&r.ID, &r.RequestID, &r.LocumID, &r.Status, &r.RespondedAt, &r.UpdatedAt}
}

func confirmationDest(c *SelectionConfirmation) []any {
	return []any{
		&c.ID, &c.ConfirmationNumber, &c.RequestID, &c.LocumID, &c.Status,
		&c.PracticeConfirmedAt, &c.ExpiresAt, &c.RespondedAt, &c.RejectionReason, &c.UpdatedAt,
	}
}

func scanRequest(row pgx.Row) (*AppointmentRequest, error) {
	var s requestScan
	if err := row.Scan(s.dest()...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	req := s.finish()
	return &req, nil
}

func scanResponse(row pgx.Row) (*ApplicantResponse, error) {
	var r ApplicantResponse
	if err := row.Scan(responseDest(&r)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrResponseNotFound
		}
		return nil, err
	}
	return &r, nil
}

func scanConfirmation(row pgx.Row) (*SelectionConfirmation, error) {
	var c SelectionConfirmation
	if err := row.Scan(confirmationDest(&c)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConfirmationNotFound
		}
		return nil, err
	}
	return &c, nil
}

// Requests

func (r *PgRepository) CreateRequest(ctx context.Context, req *AppointmentRequest) error {
	address, lat, lon := req.Location.Columns()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointment_requests (`+columns("", requestFields)+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
	`,
		req.ID, req.PracticeID, req.BranchID, req.RequestDate, req.StartTime, req.EndTime,
		req.StartsAt, req.EndsAt, address, lat, lon,
		req.RequiredRole, req.HourlyRate, req.Status, req.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	req.UpdatedAt = req.CreatedAt
	return nil
}

func (r *PgRepository) GetRequest(ctx context.Context, id uuid.UUID) (*AppointmentRequest, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+columns("", requestFields)+`
		FROM appointment_requests
		WHERE id = $1
	`, id)
	return scanRequest(row)
}

func (r *PgRepository) ListOpenRequests(ctx context.Context, role Role, now time.Time) ([]AppointmentRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+columns("r", requestFields)+`
		FROM appointment_requests r
		WHERE r.status = 'OPEN'
		  AND r.required_role = $1
		  AND r.starts_at > $2
		  AND NOT EXISTS (
			SELECT 1 FROM selection_confirmations c
			WHERE c.request_id = r.id
			  AND c.status = 'PRACTICE_CONFIRMED'
			  AND c.expires_at > $2
		  )
		ORDER BY r.starts_at
	`, role, now)
	if err != nil {
		return nil, fmt.Errorf("query open requests: %w", err)
	}
	defer rows.Close()

	var out []AppointmentRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

func (r *PgRepository) ListPracticeRequests(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]RequestSummary, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointment_requests
		WHERE practice_id = $1 OR branch_id = $1
	`, ownerID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count practice requests: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+columns("r", requestFields)+`,
			(SELECT count(*) FROM applicant_responses a
			 WHERE a.request_id = r.id AND a.status = 'APPLIED'),
			(SELECT c.expires_at FROM selection_confirmations c
			 WHERE c.request_id = r.id AND c.status = 'PRACTICE_CONFIRMED')
		FROM appointment_requests r
		WHERE r.practice_id = $1 OR r.branch_id = $1
		ORDER BY r.created_at DESC
		LIMIT $2 OFFSET $3
	`, ownerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query practice requests: %w", err)
	}
	defer rows.Close()

	var out []RequestSummary
	for rows.Next() {
		var s requestScan
		var sum RequestSummary
		dest := append(s.dest(), &sum.ApplicantCount, &sum.ActiveExpiresAt)
		if err := rows.Scan(dest...); err != nil {
			return nil, 0, fmt.Errorf("scan practice request: %w", err)
		}
		sum.Request = s.finish()
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *PgRepository) CancelRequest(ctx context.Context, id uuid.UUID, now time.Time) (*AppointmentRequest, []SelectionConfirmation, error) {
	var (
		cancelled *AppointmentRequest
		expired   []SelectionConfirmation
	)

	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE appointment_requests
			SET status = 'CANCELLED',
			    updated_at = $2
			WHERE id = $1
			  AND status = 'OPEN'
			RETURNING `+columns("", requestFields),
			id, now,
		)
		req, err := scanRequest(row)
		if err != nil {
			if errors.Is(err, ErrRequestNotFound) {
				return ErrConflict
			}
			return fmt.Errorf("cancel request: %w", err)
		}

		rows, err := tx.Query(ctx, `
			UPDATE selection_confirmations
			SET status = 'EXPIRED',
			    updated_at = $2
			WHERE request_id = $1
			  AND status = 'PRACTICE_CONFIRMED'
			RETURNING `+columns("", confirmationFields),
			id, now,
		)
		if err != nil {
			return fmt.Errorf("expire confirmations: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			c, err := scanConfirmation(rows)
			if err != nil {
				return fmt.Errorf("scan confirmation: %w", err)
			}
			expired = append(expired, *c)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		cancelled = req
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return cancelled, expired, nil
}

func (r *PgRepository) GetBranchPractice(ctx context.Context, branchID uuid.UUID) (uuid.UUID, error) {
	var practiceID uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT practice_id FROM branches WHERE id = $1`, branchID).Scan(&practiceID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrBranchNotFound
		}
		return uuid.Nil, fmt.Errorf("load branch: %w", err)
	}
	return practiceID, nil
}

// Responses

func (r *PgRepository) GetLocumProfile(ctx context.Context, id uuid.UUID) (*LocumProfile, error) {
	var p LocumProfile
	var address string
	var lat, lon *float64

	err := r.pool.QueryRow(ctx, `
		SELECT `+columns("", locumFields)+`
		FROM locums
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Role, &address, &lat, &lon, &p.AverageRating)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLocumNotFound
		}
		return nil, err
	}

	p.Location = geo.FromColumns(address, lat, lon)
	return &p, nil
}

func (r *PgRepository) GetResponse(ctx context.Context, requestID, locumID uuid.UUID) (*ApplicantResponse, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+columns("", responseFields)+`
		FROM applicant_responses
		WHERE request_id = $1 AND locum_id = $2
	`, requestID, locumID)
	return scanResponse(row)
}

func (r *PgRepository) ListRespondedRequestIDs(ctx context.Context, locumID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT request_id FROM applicant_responses WHERE locum_id = $1`, locumID)
	if err != nil {
		return nil, fmt.Errorf("query responded requests: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PgRepository) CreateResponse(ctx context.Context, resp *ApplicantResponse) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO applicant_responses (`+columns("", responseFields)+`)
		VALUES ($1, $2, $3, $4, $5, $5)
	`, resp.ID, resp.RequestID, resp.LocumID, resp.Status, resp.RespondedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert response: %w", err)
	}
	resp.UpdatedAt = resp.RespondedAt
	return nil
}

func (r *PgRepository) ListApplicants(ctx context.Context, requestID uuid.UUID) ([]Applicant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+columns("a", responseFields)+`, `+columns("l", locumFields)+`
		FROM applicant_responses a
		JOIN locums l ON l.id = a.locum_id
		WHERE a.request_id = $1
		  AND a.status = 'APPLIED'
		ORDER BY a.responded_at, a.id
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("query applicants: %w", err)
	}
	defer rows.Close()

	var out []Applicant
	for rows.Next() {
		var a Applicant
		var address string
		var lat, lon *float64
		dest := append(responseDest(&a.Response),
			&a.Profile.ID, &a.Profile.Name, &a.Profile.Role, &address, &lat, &lon, &a.Profile.AverageRating)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan applicant: %w", err)
		}
		a.Profile.Location = geo.FromColumns(address, lat, lon)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PgRepository) CountApplied(ctx context.Context, requestID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM applicant_responses
		WHERE request_id = $1 AND status = 'APPLIED'
	`, requestID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count applicants: %w", err)
	}
	return n, nil
}

// Confirmations

func (r *PgRepository) GetActiveConfirmation(ctx context.Context, requestID uuid.UUID) (*SelectionConfirmation, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+columns("", confirmationFields)+`
		FROM selection_confirmations
		WHERE request_id = $1 AND status = 'PRACTICE_CONFIRMED'
	`, requestID)
	return scanConfirmation(row)
}

func (r *PgRepository) GetConfirmation(ctx context.Context, id uuid.UUID) (*SelectionConfirmation, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+columns("", confirmationFields)+`
		FROM selection_confirmations
		WHERE id = $1
	`, id)
	return scanConfirmation(row)
}

func (r *PgRepository) CreateConfirmation(ctx context.Context, c *SelectionConfirmation) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO selection_confirmations (`+columns("", confirmationFields)+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, NULL, $6)
	`, c.ID, c.ConfirmationNumber, c.RequestID, c.LocumID, c.Status, c.PracticeConfirmedAt, c.ExpiresAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert confirmation: %w", err)
	}
	c.UpdatedAt = c.PracticeConfirmedAt
	return nil
}

func withdrawResponse(ctx context.Context, tx pgx.Tx, requestID, locumID uuid.UUID, now time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE applicant_responses
		SET status = 'WITHDRAWN',
		    updated_at = $3
		WHERE request_id = $1
		  AND locum_id = $2
		  AND status = 'APPLIED'
	`, requestID, locumID, now)
	if err != nil {
		return fmt.Errorf("withdraw response: %w", err)
	}
	return nil
}

func (r *PgRepository) ExpireConfirmation(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	expired := false

	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var requestID, locumID uuid.UUID
		err := tx.QueryRow(ctx, `
			UPDATE selection_confirmations
			SET status = 'EXPIRED',
			    updated_at = $2
			WHERE id = $1
			  AND status = 'PRACTICE_CONFIRMED'
			  AND expires_at <= $2
			RETURNING request_id, locum_id
		`, id, now).Scan(&requestID, &locumID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("expire confirmation: %w", err)
		}
		expired = true
		return withdrawResponse(ctx, tx, requestID, locumID, now)
	})
	if err != nil {
		return false, err
	}
	return expired, nil
}

func (r *PgRepository) FindStaleConfirmations(ctx context.Context, now time.Time, limit int) ([]SelectionConfirmation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+columns("", confirmationFields)+`
		FROM selection_confirmations
		WHERE status = 'PRACTICE_CONFIRMED'
		  AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query stale confirmations: %w", err)
	}
	defer rows.Close()

	var out []SelectionConfirmation
	for rows.Next() {
		c, err := scanConfirmation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *PgRepository) ConfirmSelection(ctx context.Context, c *SelectionConfirmation, now time.Time, b *booking.Booking) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE selection_confirmations
			SET status = 'LOCUM_CONFIRMED',
			    responded_at = $2,
			    updated_at = $2
			WHERE id = $1
			  AND status = 'PRACTICE_CONFIRMED'
			  AND expires_at > $2
		`, c.ID, now)
		if err != nil {
			return fmt.Errorf("confirm selection: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrConflict
		}

		tag, err = tx.Exec(ctx, `
			UPDATE appointment_requests
			SET status = 'BOOKED',
			    updated_at = $2
			WHERE id = $1
			  AND status = 'OPEN'
		`, c.RequestID, now)
		if err != nil {
			return fmt.Errorf("book request: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrConflict
		}

		if _, err := tx.Exec(ctx, `
			UPDATE applicant_responses
			SET status = 'ACCEPTED',
			    updated_at = $3
			WHERE request_id = $1
			  AND locum_id = $2
		`, c.RequestID, c.LocumID, now); err != nil {
			return fmt.Errorf("accept response: %w", err)
		}

		if err := booking.InsertTx(ctx, tx, b); err != nil {
			if errors.Is(err, booking.ErrConflict) {
				return ErrConflict
			}
			return err
		}
		return nil
	})
}

func (r *PgRepository) RejectSelection(ctx context.Context, id uuid.UUID, reason string, now time.Time) (*SelectionConfirmation, error) {
	var rejected *SelectionConfirmation

	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE selection_confirmations
			SET status = 'LOCUM_REJECTED',
			    rejection_reason = $3,
			    responded_at = $2,
			    updated_at = $2
			WHERE id = $1
			  AND status = 'PRACTICE_CONFIRMED'
			  AND expires_at > $2
			RETURNING `+columns("", confirmationFields),
			id, now, reason,
		)
		c, err := scanConfirmation(row)
		if err != nil {
			if errors.Is(err, ErrConfirmationNotFound) {
				return ErrConflict
			}
			return fmt.Errorf("reject selection: %w", err)
		}
		rejected = c
		return withdrawResponse(ctx, tx, c.RequestID, c.LocumID, now)
	})
	if err != nil {
		return nil, err
	}
	return rejected, nil
}

func (r *PgRepository) ListPendingConfirmations(ctx context.Context, locumID uuid.UUID, now time.Time) ([]PendingConfirmation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+columns("c", confirmationFields)+`, `+columns("r", requestFields)+`
		FROM selection_confirmations c
		JOIN appointment_requests r ON r.id = c.request_id
		WHERE c.locum_id = $1
		  AND c.status = 'PRACTICE_CONFIRMED'
		  AND c.expires_at > $2
		ORDER BY c.expires_at
	`, locumID, now)
	if err != nil {
		return nil, fmt.Errorf("query pending confirmations: %w", err)
	}
	defer rows.Close()

	var out []PendingConfirmation
	for rows.Next() {
		var p PendingConfirmation
		var s requestScan
		if err := rows.Scan(append(confirmationDest(&p.Confirmation), s.dest()...)...); err != nil {
			return nil, fmt.Errorf("scan pending confirmation: %w", err)
		}
		p.Request = s.finish()
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PgRepository) ListApplyHistory(ctx context.Context, locumID uuid.UUID) ([]ApplyHistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+columns("a", responseFields)+`, `+columns("r", requestFields)+`,
			c.id, c.confirmation_number, c.status, c.practice_confirmed_at, c.expires_at
		FROM applicant_responses a
		JOIN appointment_requests r ON r.id = a.request_id
		LEFT JOIN selection_confirmations c
			ON c.request_id = a.request_id AND c.locum_id = a.locum_id
		WHERE a.locum_id = $1
		ORDER BY a.responded_at DESC
	`, locumID)
	if err != nil {
		return nil, fmt.Errorf("query apply history: %w", err)
	}
	defer rows.Close()

	var out []ApplyHistoryEntry
	for rows.Next() {
		var e ApplyHistoryEntry
		var s requestScan
		var (
			confID     *uuid.UUID
			confNumber *string
			confStatus *ConfirmationStatus
			selectedAt *time.Time
			expiresAt  *time.Time
		)
		dest := append(responseDest(&e.Response), s.dest()...)
		dest = append(dest, &confID, &confNumber, &confStatus, &selectedAt, &expiresAt)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan apply history: %w", err)
		}
		e.Request = s.finish()
		if confID != nil {
			e.Confirmation = &SelectionConfirmation{
				ID:                 *confID,
				ConfirmationNumber: deref(confNumber),
				RequestID:          e.Request.ID,
				LocumID:            locumID,
				Status:             deref(confStatus),
			}
			if selectedAt != nil {
				e.Confirmation.PracticeConfirmedAt = *selectedAt
			}
			if expiresAt != nil {
				e.Confirmation.ExpiresAt = *expiresAt
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// Event logging

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, request_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.RequestID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
