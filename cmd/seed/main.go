package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kinebook/booking-engine/internal/db"
)

// Dev-only data seeder: approved practitioners with paid subscriptions,
// patients with valid RUTs, and a week of open slots.
func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	practitionerIDs, err := seedPractitioners(context.Background(), pool, 20)
	if err != nil {
		log.Fatalf("seed practitioners: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 500); err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedSlots(context.Background(), pool, practitionerIDs); err != nil {
		log.Fatalf("seed slots: %v", err)
	}

	log.Println("seed complete")
}

func seedPractitioners(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d practitioners", count)

	specialties := []string{
		"Kinesiology",
		"Physiotherapy",
		"Sports Rehabilitation",
		"Respiratory Therapy",
		"Neurological Rehabilitation",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO practitioners (id, auth_uid, first_name, last_name, email, specialty,
				verification, consultation_price, home_visits, office_visits, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, 'approved', $7, $8, TRUE, now(), now())
		`, id, "seed-"+id.String(), gofakeit.FirstName(), gofakeit.LastName(), gofakeit.Email(),
			spec, int64(gofakeit.Number(15, 40))*1000, gofakeit.Bool())
		if err != nil {
			return nil, err
		}

		// A paid subscription so the practitioner can publish slots.
		_, err = tx.Exec(ctx, `
			INSERT INTO subscription_payments (id, practitioner_id, buy_order, amount, state,
				expires_at, created_at, updated_at)
			VALUES ($1, $2, $3, 4990, 'paid', now() + interval '1 month', now(), now())
		`, uuid.New(), id, fmt.Sprintf("SUB-seed%018d", i))
		if err != nil {
			return nil, err
		}

		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("practitioners seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d patients", count)

	const batchSize = 100

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, rut, first_name, last_name, email, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, now(), now())
			`, uuid.New(), fakeRUT(10000000+i), gofakeit.FirstName(), gofakeit.LastName(), gofakeit.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	return nil
}

func seedSlots(ctx context.Context, pool *pgxpool.Pool, practitionerIDs []uuid.UUID) error {
	log.Printf("seeding slots for %d practitioners", len(practitionerIDs))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	base := time.Now().Truncate(time.Hour).Add(24 * time.Hour)
	for _, pid := range practitionerIDs {
		for day := 0; day < 7; day++ {
			for hour := 9; hour < 13; hour++ {
				start := base.AddDate(0, 0, day).Add(time.Duration(hour) * time.Hour)
				_, err := tx.Exec(ctx, `
					INSERT INTO slots (id, practitioner_id, start_at, end_at, state, created_at, updated_at)
					VALUES ($1, $2, $3, $4, 'available', now(), now())
				`, uuid.New(), pid, start, start.Add(time.Hour))
				if err != nil {
					return err
				}
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("slots seeded")
	return nil
}

// fakeRUT builds a syntactically valid RUT with its mod-11 check digit.
func fakeRUT(body int) string {
	sum, factor := 0, 2
	for n := body; n > 0; n /= 10 {
		sum += (n % 10) * factor
		factor++
		if factor > 7 {
			factor = 2
		}
	}
	switch calc := 11 - (sum % 11); calc {
	case 11:
		return fmt.Sprintf("%d-0", body)
	case 10:
		return fmt.Sprintf("%d-K", body)
	default:
		return fmt.Sprintf("%d-%d", body, calc)
	}
}
