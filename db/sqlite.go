package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// PredictionRecord is one audited prediction.
type PredictionRecord struct {
	ID                int64     `json:"id"`
	Age               float64   `json:"age_at_diagnosis"`
	Stage             int       `json:"ajcc_pathologic_stage"`
	CancerCategory    string    `json:"cancer_category"`
	DiagnosisMethod   string    `json:"diagnosis_method"`
	TreatmentCategory string    `json:"treatment_category"`
	Label             int       `json:"label"`
	Outcome           string    `json:"outcome"`
	Warnings          []string  `json:"warnings,omitempty"`
	Error             string    `json:"error,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Store keeps the prediction audit trail in SQLite.
type Store struct {
	database *sql.DB
}

const schemaSQL = `
    CREATE TABLE IF NOT EXISTS predictions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        age_at_diagnosis REAL NOT NULL,
        ajcc_pathologic_stage INTEGER NOT NULL,
        cancer_category TEXT NOT NULL,
        diagnosis_method TEXT NOT NULL,
        treatment_category TEXT NOT NULL,
        label INTEGER NOT NULL,
        outcome TEXT NOT NULL,
        warnings TEXT NOT NULL DEFAULT '[]',
        error TEXT NOT NULL DEFAULT '',
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_predictions_created_at ON predictions(created_at);
    `

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "create database dir")
		}
	}
	database, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	// sqlite serialises writers anyway
	database.SetMaxOpenConns(1)

	if _, err := database.Exec(schemaSQL); err != nil {
		database.Close()
		return nil, errors.Wrap(err, "create schema")
	}
	return &Store{database: database}, nil
}

func (s *Store) Close() error {
	return s.database.Close()
}

// SavePrediction inserts rec and returns its id.
func (s *Store) SavePrediction(ctx context.Context, rec PredictionRecord) (int64, error) {
	warnings := rec.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	encoded, err := json.Marshal(warnings)
	if err != nil {
		return 0, err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	res, err := s.database.ExecContext(ctx, `
        INSERT INTO predictions (
            age_at_diagnosis, ajcc_pathologic_stage, cancer_category, diagnosis_method,
            treatment_category, label, outcome, warnings, error, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Age, rec.Stage, rec.CancerCategory, rec.DiagnosisMethod,
		rec.TreatmentCategory, rec.Label, rec.Outcome, string(encoded), rec.Error, rec.CreatedAt)
	if err != nil {
		return 0, errors.Wrap(err, "insert prediction")
	}
	return res.LastInsertId()
}

// RecentPredictions returns up to limit records, newest first.
func (s *Store) RecentPredictions(ctx context.Context, limit int) ([]PredictionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.database.QueryContext(ctx, `
        SELECT id, age_at_diagnosis, ajcc_pathologic_stage, cancer_category, diagnosis_method,
               treatment_category, label, outcome, warnings, error, created_at
        FROM predictions
        ORDER BY id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query predictions")
	}
	defer rows.Close()

	records := make([]PredictionRecord, 0)
	for rows.Next() {
		var rec PredictionRecord
		var warnings string
		if err := rows.Scan(&rec.ID, &rec.Age, &rec.Stage, &rec.CancerCategory, &rec.DiagnosisMethod,
			&rec.TreatmentCategory, &rec.Label, &rec.Outcome, &warnings, &rec.Error, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(warnings), &rec.Warnings); err != nil {
			return nil, errors.Wrapf(err, "decode warnings of prediction %d", rec.ID)
		}
		if len(rec.Warnings) == 0 {
			rec.Warnings = nil
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountByOutcome aggregates the audit trail.
func (s *Store) CountByOutcome(ctx context.Context) (map[string]int, error) {
	rows, err := s.database.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM predictions GROUP BY outcome`)
	if err != nil {
		return nil, errors.Wrap(err, "count predictions")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}
