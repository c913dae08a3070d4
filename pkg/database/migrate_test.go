package database

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/hdpay/pkg/logger"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"002_second.up.sql":  {Data: []byte("CREATE INDEX b ON t (b);")},
		"001_first.up.sql":   {Data: []byte("CREATE TABLE t (a int);")},
		"001_first.down.sql": {Data: []byte("DROP TABLE t;")},
		"README.md":          {Data: []byte("ignored")},
	}
}

func TestPendingMigrations_SortedUpOnly(t *testing.T) {
	names, err := pendingMigrations(testMigrations())
	require.NoError(t, err)
	assert.Equal(t, []string{"001_first.up.sql", "002_second.up.sql"}, names)
}

func TestRunMigrations_AppliesNewAndSkipsApplied(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	mock.ExpectQuery("SELECT EXISTS").WithArgs("001_first.up.sql").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	mock.ExpectQuery("SELECT EXISTS").WithArgs("002_second.up.sql").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE INDEX b").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs("002_second.up.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err = RunMigrations(context.Background(), mock, testMigrations(), logger.Discard())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_SQLErrorRollsBackWithoutRetry(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("001_first.up.sql").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE t").WillReturnError(errors.New("syntax error at or near"))
	mock.ExpectRollback()

	err = RunMigrations(context.Background(), mock, testMigrations(), logger.Discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execute migration 001_first.up.sql")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsConnectionError(t *testing.T) {
	assert.True(t, isConnectionError(errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")))
	assert.False(t, isConnectionError(errors.New("relation \"orders\" does not exist")))
	assert.False(t, isConnectionError(nil))
}

func TestRetryBackoff_WithinJitter(t *testing.T) {
	for attempt, base := range []float64{1, 2, 4} {
		got := retryBackoff(attempt).Seconds()
		assert.GreaterOrEqual(t, got, base*0.75)
		assert.LessOrEqual(t, got, base*1.25)
	}
}
