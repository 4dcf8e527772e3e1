package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestOperationFromSQL(t *testing.T) {
	assert.Equal(t, "SELECT", operationFromSQL(`SELECT * FROM "invoices"`))
	assert.Equal(t, "UPDATE", operationFromSQL("WITH due AS (SELECT 1) UPDATE invoices SET status = 'overdue'"))
	assert.Equal(t, "INSERT", operationFromSQL("(insert into audit_logs values (1))"))
	assert.Equal(t, "DELETE", operationFromSQL("WITH a AS (SELECT id FROM x), b AS ( SELECT ( 1 ) ) DELETE FROM y"))
	assert.Equal(t, "SELECT", operationFromSQL("with recursive tree as (select 1 union all select 2) select * from tree"))
	assert.Equal(t, "UNKNOWN", operationFromSQL("  "))
}

func TestGormTraceLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewGormLogger(zap.New(core), DefaultGormLoggerConfig(false))
	query := func() (string, int64) { return "SELECT 1", 1 }

	log.Trace(context.Background(), time.Now(), query, nil)
	assert.Zero(t, logs.Len())

	log.Trace(context.Background(), time.Now(), query, gormlogger.ErrRecordNotFound)
	assert.Zero(t, logs.Len())

	log.Trace(context.Background(), time.Now(), query, errors.New("deadlock detected"))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.ErrorLevel, logs.All()[0].Level)

	log.Trace(context.Background(), time.Now().Add(-time.Second), query, nil)
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, zapcore.WarnLevel, logs.All()[1].Level)
	assert.Equal(t, "SELECT", logs.All()[1].ContextMap()["operation"])
}

func TestGormSilentModeDropsEverything(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewGormLogger(zap.New(core), DefaultGormLoggerConfig(true)).LogMode(gormlogger.Silent)

	log.Error(context.Background(), "boom")
	log.Trace(context.Background(), time.Now(), func() (string, int64) { return "DELETE FROM x", 0 }, errors.New("boom"))
	assert.Zero(t, logs.Len())
}
