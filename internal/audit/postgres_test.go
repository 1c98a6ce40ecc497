package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/iris-ckd-mcp-server/internal/database"
	"github.com/iris-ckd-mcp-server/internal/domain"
)

func setupMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	return store, mock
}

func TestRebindDollar(t *testing.T) {
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b BETWEEN $2 AND $3",
		rebindDollar("SELECT * FROM t WHERE a = ? AND b BETWEEN ? AND ?"))
	assert.Equal(t, "SELECT 1", rebindDollar("SELECT 1"))
}

func TestNewPostgresStore_NilDB(t *testing.T) {
	_, err := NewPostgresStore(nil)
	assert.Error(t, err)
}

func TestPostgresStore_AppendReturnsID(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery(`INSERT INTO audit_records .* VALUES \(\$1, .*\$17\) RETURNING id`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
	mock.ExpectClose()

	record := testRecord(2.5, 22, domain.IRIS2, domain.CaseConfirmed)
	require.NoError(t, store.Append(context.Background(), record))
	assert.Equal(t, int64(42), record.ID)

	require.NoError(t, store.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendError(t *testing.T) {
	store, mock := setupMockStore(t)
	defer store.Close()

	mock.ExpectQuery("INSERT INTO audit_records").
		WillReturnError(errors.New("connection reset"))

	err := store.Append(context.Background(), testRecord(2.5, 22, domain.IRIS2, domain.CaseConfirmed))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SimilarUsesDollarPlaceholders(t *testing.T) {
	store, mock := setupMockStore(t)
	defer store.Close()

	columns := []string{
		"id", "consultation_id", "created_at", "creatinine", "sdma",
		"candidate_stage", "reference_stage", "final_stage", "validation", "case_number",
		"confidence", "question", "answer", "evidence_docs", "rule_applied", "elderly",
		"substage_ap", "substage_ht",
	}
	rows := sqlmock.NewRows(columns).AddRow(
		int64(1), "c-1", time.Now(), 2.5, 22.0,
		"IRIS2", "IRIS2", "IRIS2", true, int64(1),
		"High", "q", "a", int64(3), "rule", false,
		"", "HT1",
	)

	mock.ExpectQuery(`WHERE creatinine BETWEEN \$1 AND \$2\s+AND sdma BETWEEN \$3 AND \$4.*LIMIT \$5`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), 5).
		WillReturnRows(rows)

	similar, err := store.Similar(context.Background(), 2.5, 22, 0, 5)
	require.NoError(t, err)
	require.Len(t, similar, 1)
	assert.Equal(t, domain.CaseConfirmed, similar[0].Case)
	assert.Equal(t, 3, similar[0].EvidenceDocs)
	assert.Equal(t, "HT1", similar[0].SubstageHT)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping PostgreSQL container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("PostgreSQL container unavailable: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	runner, err := database.NewMigrationRunner(dsn, "../../migrations", logger)
	require.NoError(t, err)
	require.NoError(t, runner.Up(ctx))
	require.NoError(t, runner.Close())

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	defer store.Close()

	for i, stage := range []domain.IRISStage{domain.IRIS2, domain.IRIS3} {
		r := testRecord(2.5+float64(i)*0.5, 22+float64(i)*4, stage, domain.CaseConfirmed)
		r.ConsultationID = fmt.Sprintf("pg-%d", i)
		require.NoError(t, store.Append(ctx, r))
		assert.NotZero(t, r.ID)
	}

	records, err := store.List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "pg-1", records[0].ConsultationID)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(2), stats.ByValidation["true"])
	assert.Equal(t, int64(2), stats.ByCase["1"])

	similar, err := store.Similar(ctx, 2.5, 22, DefaultSimilarityTolerance, 10)
	require.NoError(t, err)
	assert.Len(t, similar, 2)
}
