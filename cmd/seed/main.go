package main

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/locum-marketplace/internal/appointment"
	"github.com/hackgods/locum-marketplace/internal/config"
	"github.com/hackgods/locum-marketplace/internal/db"
	"github.com/hackgods/locum-marketplace/internal/logging"
)

const (
	practiceCount     = 40
	branchesPerCorp   = 3
	locumCount        = 300
	requestsPerOwner  = 5
	londonLat         = 51.5074
	londonLon         = -0.1278
	coordinateSpread  = 0.25
	requestBatchLimit = 500
)

type owner struct {
	practiceID uuid.UUID
	branchID   *uuid.UUID
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}
	logger := logging.New(cfg.Env).Named("seed")
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, 4)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	owners, err := seedPractices(ctx, pool, faker, logger)
	if err != nil {
		logger.Fatal("seed practices", zap.Error(err))
	}
	if err := seedLocums(ctx, pool, faker, logger); err != nil {
		logger.Fatal("seed locums", zap.Error(err))
	}
	if err := seedRequests(ctx, pool, faker, owners, cfg, logger); err != nil {
		logger.Fatal("seed requests", zap.Error(err))
	}

	logger.Info("seed complete")
}

func seedPractices(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, logger *zap.Logger) ([]owner, error) {
	logger.Info("seeding practices", zap.Int("count", practiceCount))

	var owners []owner
	err := db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		for i := 0; i < practiceCount; i++ {
			id := uuid.New()
			corporate := i%4 == 0
			name := faker.Company() + " Dental"

			if _, err := tx.Exec(ctx, `
				INSERT INTO practices (id, name, corporate) VALUES ($1, $2, $3)
			`, id, name, corporate); err != nil {
				return err
			}
			if !corporate {
				owners = append(owners, owner{practiceID: id})
				continue
			}

			for b := 0; b < branchesPerCorp; b++ {
				branchID := uuid.New()
				if _, err := tx.Exec(ctx, `
					INSERT INTO branches (id, practice_id, name) VALUES ($1, $2, $3)
				`, branchID, id, fmt.Sprintf("%s %s", name, faker.City())); err != nil {
					return err
				}
				owners = append(owners, owner{practiceID: id, branchID: &branchID})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("practices seeded", zap.Int("owners", len(owners)))
	return owners, nil
}

func seedLocums(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, logger *zap.Logger) error {
	logger.Info("seeding locums", zap.Int("count", locumCount))

	return db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		for i := 0; i < locumCount; i++ {
			role := appointment.Roles[faker.Number(0, len(appointment.Roles)-1)]
			lat, lon := jitter(faker)

			// roughly one in five locums has no rating yet
			var rating *float64
			if faker.Number(1, 5) > 1 {
				r := float64(faker.Number(250, 500)) / 100
				rating = &r
			}

			if _, err := tx.Exec(ctx, `
				INSERT INTO locums (id, name, email, role, location_address, location_lat, location_lon, average_rating)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`, uuid.New(), faker.Name(), faker.Email(), string(role), faker.Street(), lat, lon, rating); err != nil {
				return err
			}
		}
		return nil
	})
}

func seedRequests(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, owners []owner, cfg config.Config, logger *zap.Logger) error {
	loc := cfg.Location()
	today := time.Now().In(loc)
	total := 0

	err := db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		for _, o := range owners {
			for i := 0; i < requestsPerOwner && total < requestBatchLimit; i++ {
				day := today.AddDate(0, 0, faker.Number(1, 60))
				startHour := faker.Number(7, 15)
				hours := faker.Number(1, 8)
				startsAt := time.Date(day.Year(), day.Month(), day.Day(), startHour, 0, 0, 0, loc)
				endsAt := startsAt.Add(time.Duration(hours) * time.Hour)
				lat, lon := jitter(faker)
				role := appointment.Roles[faker.Number(0, len(appointment.Roles)-1)]
				rate := float64(faker.Number(18, 45))

				if _, err := tx.Exec(ctx, `
					INSERT INTO appointment_requests (
						id, practice_id, branch_id, request_date, start_time, end_time,
						starts_at, ends_at, location_address, location_lat, location_lon,
						required_role, hourly_rate, status
					) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 'OPEN')
				`,
					uuid.New(), o.practiceID, o.branchID,
					startsAt.Format("2006-01-02"), startsAt.Format("15:04"), endsAt.Format("15:04"),
					startsAt, endsAt, fmt.Sprintf("%.5f,%.5f", lat, lon), lat, lon,
					string(role), rate,
				); err != nil {
					return err
				}
				total++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info("requests seeded", zap.Int("count", total))
	return nil
}

func jitter(faker *gofakeit.Faker) (float64, float64) {
	return londonLat + faker.Float64Range(-coordinateSpread, coordinateSpread),
		londonLon + faker.Float64Range(-coordinateSpread, coordinateSpread)
}
