package migrator_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk-rv/adpulse/internal/ch"
	"github.com/vk-rv/adpulse/internal/migrator"
)

var testClickHouseInstance *ch.ClickHouseTestInstance

func TestMain(m *testing.M) {
	testClickHouseInstance = ch.MustTestInstance()
	defer testClickHouseInstance.MustClose()

	m.Run()
}

func getTestLogger() (*slog.Logger, bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	return logger, buf
}

func TestMigrator_Up(t *testing.T) {
	t.Parallel()

	t.Run("successful migration on fresh database", func(t *testing.T) {
		t.Parallel()

		logger, _ := getTestLogger()

		dsn := testClickHouseInstance.NewDatabaseDSN(t)

		m, err := migrator.NewMigrator(dsn, logger)
		require.NoError(t, err)
		defer func() {
			sourceErr, dbErr := m.Close()
			assert.NoError(t, sourceErr)
			assert.NoError(t, dbErr)
		}()

		// First run should succeed
		err = m.Up(true)
		require.NoError(t, err)

		// Second run should be no-op
		err = m.Up(true)
		assert.NoError(t, err)
	})

	t.Run("migration with pending migrations and auto-migrate disabled", func(t *testing.T) {
		t.Parallel()

		logger, _ := getTestLogger()

		dsn := testClickHouseInstance.NewDatabaseDSN(t)

		m, err := migrator.NewMigrator(dsn, logger)
		require.NoError(t, err)
		defer func() {
			sourceErr, dbErr := m.Close()
			assert.NoError(t, sourceErr)
			assert.NoError(t, dbErr)
		}()

		err = m.Up(false)
		assert.NoError(t, err)
	})
}
