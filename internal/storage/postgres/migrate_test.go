package postgres

import (
	"context"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMigrationsAreOrdered(t *testing.T) {
	t.Parallel()

	migrations, err := Migrations()
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	require.Equal(t, "0001_create_crawl_jobs", migrations[0].Version)
	require.Equal(t, "0002_index_crawl_jobs_status", migrations[1].Version)
	require.Contains(t, migrations[0].SQL, "CREATE TABLE IF NOT EXISTS crawl_jobs")
	require.Contains(t, migrations[0].SQL, "CHECK (status IN")
}

func TestMigrateAppliesPendingSteps(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	exists := regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)")

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	mock.ExpectBegin()
	mock.ExpectQuery(exists).
		WithArgs("0001_create_crawl_jobs").
		WillReturnRows(mock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectQuery(exists).
		WithArgs("0002_index_crawl_jobs_status").
		WillReturnRows(mock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS crawl_jobs_status_idx").
		WillReturnResult(pgxmock.NewResult("CREATE INDEX", 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations (version)")).
		WithArgs("0002_index_crawl_jobs_status").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, Migrate(context.Background(), mock, zap.NewNop()))
	require.NoError(t, mock.ExpectationsWereMet())
}
