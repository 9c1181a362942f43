package main

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"classattend/internal/config"
	"classattend/internal/session"
	"classattend/internal/store"
)

// Seeds a demo dataset: one teacher, one admin, two students, a subject with
// enrollments, and a handful of scheduled sessions around the current time.
func main() {
	cfg := config.Load()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	if err := store.Migrate(db.Client); err != nil {
		log.Fatalf("migrate failed: %v", err)
	}

	ctx := context.Background()

	users := []struct {
		first, last, email, index, role string
	}{
		{"Ana", "Admin", "admin@classattend.local", "", "admin"},
		{"Tom", "Teach", "teacher@classattend.local", "", "teacher"},
		{"Stela", "Student", "stela@classattend.local", "2023/0042", "student"},
		{"Sava", "Scholar", "sava@classattend.local", "2023/0117", "student"},
	}

	ids := map[string]string{}
	for _, u := range users {
		id := uuid.NewString()
		_, err := db.Client.ExecContext(ctx, `
			INSERT INTO users (id, first_name, last_name, email, index_number, role)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
			ON CONFLICT (email) DO NOTHING
		`, id, u.first, u.last, u.email, u.index, u.role)
		if err != nil {
			log.Fatalf("seed user %s failed: %v", u.email, err)
		}
		if err := db.Client.QueryRowContext(ctx, `SELECT id FROM users WHERE email = $1`, u.email).Scan(&id); err != nil {
			log.Fatalf("lookup user %s failed: %v", u.email, err)
		}
		ids[u.email] = id
	}

	subjectID := uuid.NewString()
	_, err = db.Client.ExecContext(ctx, `
		INSERT INTO subjects (id, name, teacher_id)
		VALUES ($1, 'Distributed Systems', $2)
	`, subjectID, ids["teacher@classattend.local"])
	if err != nil {
		log.Fatalf("seed subject failed: %v", err)
	}

	for _, email := range []string{"stela@classattend.local", "sava@classattend.local"} {
		_, err = db.Client.ExecContext(ctx, `
			INSERT INTO enrollments (id, student_id, subject_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (student_id, subject_id) DO NOTHING
		`, uuid.NewString(), ids[email], subjectID)
		if err != nil {
			log.Fatalf("seed enrollment for %s failed: %v", email, err)
		}
	}

	repo := session.NewPostgresRepository(db.Client)
	now := time.Now()
	// Three past weeks plus one session starting shortly, activatable right away.
	starts := []time.Time{
		now.AddDate(0, 0, -21),
		now.AddDate(0, 0, -14),
		now.AddDate(0, 0, -7),
		now.Add(10 * time.Minute),
	}
	for _, start := range starts {
		if _, err := repo.Create(ctx, subjectID, start, start.Add(90*time.Minute)); err != nil {
			log.Fatalf("seed session failed: %v", err)
		}
	}

	log.Printf("seeded subject %s with %d sessions", subjectID, len(starts))
}
