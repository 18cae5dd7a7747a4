package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"healthrisk/inference"
)

const (
	defaultListLimit = 50
	// patientWindow is how many recent predictions feed a patient's overall risk.
	patientWindow = 3
)

// Record is one stored prediction.
type Record struct {
	ID        string          `json:"id"`
	PatientID string          `json:"patientId,omitempty"`
	Domain    string          `json:"domain"`
	Bundle    string          `json:"bundle"`
	Version   string          `json:"version"`
	RunID     string          `json:"runId,omitempty"`
	Risk      string          `json:"risk"`
	Input     json.RawMessage `json:"input"`
	Result    json.RawMessage `json:"result"`
	ElapsedMS float64         `json:"elapsedMs"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Query filters List. Empty fields match everything.
type Query struct {
	Domain    string
	PatientID string
	Limit     int
}

// PatientRisk is a patient's rollup over their latest predictions.
type PatientRisk struct {
	PatientID string   `json:"patientId"`
	Domain    string   `json:"domain,omitempty"`
	Overall   string   `json:"overall"`
	Recent    []string `json:"recent"`
}

// Store keeps prediction history in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	database, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	query := `
    CREATE TABLE IF NOT EXISTS ml_predictions (
        id TEXT PRIMARY KEY,
        domain VARCHAR(20) NOT NULL,
        bundle VARCHAR(100) NOT NULL,
        version VARCHAR(50),
        run_id VARCHAR(100),
        risk VARCHAR(20),
        input TEXT NOT NULL,
        result TEXT NOT NULL,
        elapsed_ms REAL,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_ml_predictions_domain_created
        ON ml_predictions (domain, created_at);
    `
	if _, err := database.Exec(query); err != nil {
		database.Close()
		return nil, err
	}
	if err := migratePatientID(database); err != nil {
		database.Close()
		return nil, fmt.Errorf("migrate patient_id: %w", err)
	}
	return &Store{db: database}, nil
}

// migratePatientID adds the patient_id column to databases created before it
// existed.
func migratePatientID(database *sql.DB) error {
	rows, err := database.Query(`PRAGMA table_info(ml_predictions)`)
	if err != nil {
		return err
	}
	found := false
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return err
		}
		if name == "patient_id" {
			found = true
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if !found {
		if _, err := database.Exec(`ALTER TABLE ml_predictions ADD COLUMN patient_id VARCHAR(100)`); err != nil {
			return err
		}
	}
	_, err = database.Exec(`CREATE INDEX IF NOT EXISTS idx_ml_predictions_patient_created
        ON ml_predictions (patient_id, created_at)`)
	return err
}

// Save stores a prediction
func (s *Store) Save(ctx context.Context, p *inference.Prediction) error {
	if s == nil || s.db == nil {
		return errors.New("database not initialized")
	}
	input, err := json.Marshal(p.Input)
	if err != nil {
		return fmt.Errorf("encode input: %w", err)
	}
	result, err := json.Marshal(p.Result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO ml_predictions (
            id, patient_id, domain, bundle, version, run_id, risk, input, result, elapsed_ms, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, nullable(p.PatientID), p.Domain, p.Bundle, p.Version, p.RunID, p.Risk,
		string(input), string(result),
		float64(p.Elapsed)/float64(time.Millisecond),
		p.CreatedAt.UTC(),
	)
	return err
}

// OnPrediction lets the store be registered as a prediction hook.
func (s *Store) OnPrediction(ctx context.Context, p *inference.Prediction) error {
	return s.Save(ctx, p)
}

// List returns the newest predictions first.
func (s *Store) List(ctx context.Context, q Query) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("database not initialized")
	}
	if q.Limit <= 0 {
		q.Limit = defaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT id, patient_id, domain, bundle, version, run_id, risk, input, result, elapsed_ms, created_at
        FROM ml_predictions
        WHERE (? = '' OR domain = ?) AND (? = '' OR patient_id = ?)
        ORDER BY created_at DESC
        LIMIT ?`, q.Domain, q.Domain, q.PatientID, q.PatientID, q.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var (
			r             Record
			patient       sql.NullString
			version, run  sql.NullString
			risk          sql.NullString
			input, result string
			elapsed       sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &patient, &r.Domain, &r.Bundle, &version, &run, &risk, &input, &result, &elapsed, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.PatientID = patient.String
		r.Version = version.String
		r.RunID = run.String
		r.Risk = risk.String
		r.Input = json.RawMessage(input)
		r.Result = json.RawMessage(result)
		r.ElapsedMS = elapsed.Float64
		records = append(records, r)
	}
	return records, rows.Err()
}

// CountByRisk returns how many predictions of a domain fell in each bucket.
func (s *Store) CountByRisk(ctx context.Context, domain string) (map[string]int, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("database not initialized")
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT risk, COUNT(*) FROM ml_predictions
        WHERE domain = ?
        GROUP BY risk`, domain)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			risk sql.NullString
			n    int
		)
		if err := rows.Scan(&risk, &n); err != nil {
			return nil, err
		}
		counts[risk.String] = n
	}
	return counts, rows.Err()
}

// PatientRisk rolls the patient's latest predictions into one overall risk.
// An empty domain spans both domains.
func (s *Store) PatientRisk(ctx context.Context, patientID, domain string) (*PatientRisk, error) {
	if patientID == "" {
		return nil, errors.New("patient id is required")
	}
	records, err := s.List(ctx, Query{Domain: domain, PatientID: patientID, Limit: patientWindow})
	if err != nil {
		return nil, err
	}
	recent := make([]string, 0, len(records))
	for _, r := range records {
		recent = append(recent, r.Risk)
	}
	return &PatientRisk{
		PatientID: patientID,
		Domain:    domain,
		Overall:   inference.OverallRisk(recent),
		Recent:    recent,
	}, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
