package store

import (
	"database/sql"
	"log"
)

// Migrate applies the schema, creating missing tables and indexes.
// Statements are idempotent so startup can run this unconditionally.
func Migrate(db *sql.DB) error {
	log.Println("Running database migrations...")

	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			first_name    TEXT NOT NULL,
			last_name     TEXT NOT NULL,
			email         TEXT NOT NULL UNIQUE,
			index_number  TEXT,
			role          TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS subjects (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			teacher_id  TEXT NOT NULL REFERENCES users(id),
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS subject_teachers (
			subject_id  TEXT NOT NULL REFERENCES subjects(id),
			teacher_id  TEXT NOT NULL REFERENCES users(id),
			PRIMARY KEY (subject_id, teacher_id)
		)`,
		`CREATE TABLE IF NOT EXISTS enrollments (
			id          TEXT PRIMARY KEY,
			student_id  TEXT NOT NULL REFERENCES users(id),
			subject_id  TEXT NOT NULL REFERENCES subjects(id),
			enrolled_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (student_id, subject_id)
		)`,
		`CREATE TABLE IF NOT EXISTS class_sessions (
			id          TEXT PRIMARY KEY,
			subject_id  TEXT NOT NULL REFERENCES subjects(id),
			start_time  TIMESTAMPTZ NOT NULL,
			end_time    TIMESTAMPTZ NOT NULL,
			is_active   BOOLEAN NOT NULL DEFAULT FALSE,
			token       TEXT UNIQUE,
			expires_at  TIMESTAMPTZ,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS attendances (
			id          TEXT PRIMARY KEY,
			student_id  TEXT NOT NULL REFERENCES users(id),
			session_id  TEXT NOT NULL REFERENCES class_sessions(id),
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (student_id, session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_class_sessions_subject ON class_sessions(subject_id)`,
		`CREATE INDEX IF NOT EXISTS idx_attendances_session ON attendances(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_attendances_student ON attendances(student_id)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			log.Printf("migration failed: %v", err)
			return err
		}
	}

	log.Println("Database migrations completed successfully")
	return nil
}
