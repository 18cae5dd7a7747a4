package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthrisk/inference"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history", "predictions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func prediction(id, domain, risk string, at time.Time) *inference.Prediction {
	return &inference.Prediction{
		ID:        id,
		Domain:    domain,
		Bundle:    domain + "_lite",
		Version:   "1.0.0",
		RunID:     "run-1",
		Input:     map[string]interface{}{"age": 25.0},
		Result:    map[string]interface{}{"success": true},
		Risk:      risk,
		Elapsed:   1500 * time.Microsecond,
		CreatedAt: at,
	}
}

func TestSaveAndList(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, s.Save(ctx, prediction("a", inference.DomainMaternal, inference.RiskLow, base)))
	require.NoError(t, s.OnPrediction(ctx, prediction("b", inference.DomainPCOS, inference.RiskHigh, base.Add(time.Minute))))
	require.NoError(t, s.Save(ctx, prediction("c", inference.DomainMaternal, inference.RiskHigh, base.Add(2*time.Minute))))

	all, err := s.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)
	assert.Equal(t, "a", all[2].ID)

	maternal, err := s.List(ctx, Query{Domain: inference.DomainMaternal, Limit: 1})
	require.NoError(t, err)
	require.Len(t, maternal, 1)
	assert.Equal(t, "c", maternal[0].ID)
	assert.Equal(t, "maternal_lite", maternal[0].Bundle)
	assert.Equal(t, "run-1", maternal[0].RunID)
	assert.JSONEq(t, `{"age": 25}`, string(maternal[0].Input))
	assert.JSONEq(t, `{"success": true}`, string(maternal[0].Result))
	assert.InDelta(t, 1.5, maternal[0].ElapsedMS, 1e-9)
	assert.True(t, maternal[0].CreatedAt.Equal(base.Add(2*time.Minute)))
}

func TestCountByRisk(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Save(ctx, prediction("1", inference.DomainMaternal, inference.RiskHigh, now)))
	require.NoError(t, s.Save(ctx, prediction("2", inference.DomainMaternal, inference.RiskHigh, now)))
	require.NoError(t, s.Save(ctx, prediction("3", inference.DomainMaternal, inference.RiskLow, now)))

	counts, err := s.CountByRisk(ctx, inference.DomainMaternal)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{inference.RiskHigh: 2, inference.RiskLow: 1}, counts)
}

func TestDuplicateIDRejected(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, prediction("same", inference.DomainPCOS, inference.RiskLow, time.Now())))
	assert.Error(t, s.Save(ctx, prediction("same", inference.DomainPCOS, inference.RiskLow, time.Now())))
}

func TestNilStore(t *testing.T) {
	var s *Store
	assert.Error(t, s.Save(context.Background(), prediction("x", "pcos", "LOW", time.Now())))
	assert.NoError(t, s.Close())
}

func TestPatientRisk(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	save := func(id, patient, domain, risk string, minute int) {
		p := prediction(id, domain, risk, base.Add(time.Duration(minute)*time.Minute))
		p.PatientID = patient
		require.NoError(t, s.Save(ctx, p))
	}
	// only the newest three count, the HIGH at minute 0 falls out of the window
	save("1", "p-1", inference.DomainMaternal, inference.RiskHigh, 0)
	save("2", "p-1", inference.DomainMaternal, inference.RiskModerate, 1)
	save("3", "p-1", inference.DomainMaternal, inference.RiskHigh, 2)
	save("4", "p-1", inference.DomainMaternal, inference.RiskLow, 3)
	save("5", "p-1", inference.DomainPCOS, inference.RiskHigh, 4)
	save("6", "p-2", inference.DomainMaternal, inference.RiskHigh, 5)
	save("7", "", inference.DomainMaternal, inference.RiskHigh, 6)

	risk, err := s.PatientRisk(ctx, "p-1", inference.DomainMaternal)
	require.NoError(t, err)
	assert.Equal(t, []string{inference.RiskLow, inference.RiskHigh, inference.RiskModerate}, risk.Recent)
	assert.Equal(t, inference.RiskModerate, risk.Overall)

	risk, err = s.PatientRisk(ctx, "p-1", "")
	require.NoError(t, err)
	assert.Equal(t, []string{inference.RiskHigh, inference.RiskLow, inference.RiskHigh}, risk.Recent)
	assert.Equal(t, inference.RiskHigh, risk.Overall)

	risk, err = s.PatientRisk(ctx, "nobody", "")
	require.NoError(t, err)
	assert.Empty(t, risk.Recent)
	assert.Equal(t, inference.RiskLow, risk.Overall)

	_, err = s.PatientRisk(ctx, "", "")
	assert.Error(t, err)

	records, err := s.List(ctx, Query{PatientID: "p-2"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "6", records[0].ID)
	assert.Equal(t, "p-2", records[0].PatientID)
}

func TestOpenMigratesPatientColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	old, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = old.Exec(`
    CREATE TABLE ml_predictions (
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
    INSERT INTO ml_predictions (id, domain, bundle, input, result, created_at)
        VALUES ('legacy', 'pcos', 'pcos_lite', '{}', '{}', '2024-01-01 00:00:00');`)
	require.NoError(t, err)
	require.NoError(t, old.Close())

	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	records, err := s.List(context.Background(), Query{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "legacy", records[0].ID)
	assert.Empty(t, records[0].PatientID)

	p := prediction("new", inference.DomainPCOS, inference.RiskLow, time.Now())
	p.PatientID = "p-9"
	require.NoError(t, s.Save(context.Background(), p))

	// reopening an already migrated database is a no-op
	require.NoError(t, s.Close())
	s, err = Open(path)
	require.NoError(t, err)
	records, err = s.List(context.Background(), Query{PatientID: "p-9"})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
