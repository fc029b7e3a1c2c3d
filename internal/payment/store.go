package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/locum-marketplace/internal/db"
)

var ErrCustomerNotFound = errors.New("payment customer not found")

// CustomerStore maps marketplace actors to processor customer ids.
type CustomerStore interface {
	GetCustomerID(ctx context.Context, actorID uuid.UUID) (string, error)
	// SaveCustomerID stores the mapping unless one exists and returns the
	// id that is stored afterwards.
	SaveCustomerID(ctx context.Context, actorID uuid.UUID, customerID string) (string, error)
}

type PgCustomerStore struct {
	pool db.Pool
}

func NewPgCustomerStore(pool db.Pool) *PgCustomerStore {
	return &PgCustomerStore{pool: pool}
}

func (s *PgCustomerStore) GetCustomerID(ctx context.Context, actorID uuid.UUID) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `SELECT customer_id FROM payment_customers WHERE actor_id = $1`, actorID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrCustomerNotFound
		}
		return "", fmt.Errorf("load payment customer: %w", err)
	}
	return id, nil
}

func (s *PgCustomerStore) SaveCustomerID(ctx context.Context, actorID uuid.UUID, customerID string) (string, error) {
	var stored string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO payment_customers (actor_id, customer_id)
		VALUES ($1, $2)
		ON CONFLICT (actor_id) DO UPDATE SET actor_id = EXCLUDED.actor_id
		RETURNING customer_id
	`, actorID, customerID).Scan(&stored)
	if err != nil {
		return "", fmt.Errorf("save payment customer: %w", err)
	}
	return stored, nil
}
