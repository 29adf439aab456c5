package migrations_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/pong/internal/migrations"
	"github.com/koopa0/system-design/pong/internal/testutils"
	"github.com/koopa0/system-design/pong/pkg/logger"
)

func TestStatus_Current(t *testing.T) {
	tests := []struct {
		name   string
		status migrations.Status
		want   bool
	}{
		{name: "empty schema", status: migrations.Status{}, want: false},
		{name: "latest", status: migrations.Status{Version: migrations.Latest}, want: true},
		{name: "latest but dirty", status: migrations.Status{Version: migrations.Latest, Dirty: true}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.Current())
		})
	}
}

func TestMigrator_ApplyAndRollback(t *testing.T) {
	testutils.SkipIfShort(t)

	dsn := testutils.StartPostgres(t)

	migrator, err := migrations.New(dsn, logger.Discard())
	require.NoError(t, err)
	defer migrator.Close()

	status, err := migrator.Status()
	require.NoError(t, err)
	assert.Equal(t, migrations.Status{}, status)

	status, err = migrator.Apply()
	require.NoError(t, err)
	assert.True(t, status.Current())

	// 重複執行不報錯
	status, err = migrator.Apply()
	require.NoError(t, err)
	assert.True(t, status.Current())

	status, err = migrator.Rollback()
	require.NoError(t, err)
	assert.Equal(t, uint(0), status.Version)

	// 空 schema 再退一版不報錯
	status, err = migrator.Rollback()
	require.NoError(t, err)
	assert.Equal(t, uint(0), status.Version)

	status, err = migrator.Apply()
	require.NoError(t, err)
	assert.Equal(t, migrations.Latest, status.Version)
}
