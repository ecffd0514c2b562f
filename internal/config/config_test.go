package config

import (
	"bytes"
	"log/slog"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/clashcheck/internal/engine"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"SURREALDB_URL", "SURREALDB_NAMESPACE", "CLASHCHECK_SERVER_PORT",
		"CLASHCHECK_WORKERS", "CLASHCHECK_MAX_ELEMENTS", "CLASHCHECK_MIN_CELL_SIZE",
		"CLASHCHECK_PROGRESS_INTERVAL", "CLASHCHECK_LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "ws://localhost:8000/rpc", cfg.SurrealDBURL)
	assert.Equal(t, "clashcheck", cfg.SurrealDBNamespace)
	assert.Equal(t, 8585, cfg.ServerPort)
	assert.Equal(t, runtime.NumCPU(), cfg.Workers)
	assert.Equal(t, engine.DefaultMaxElements, cfg.MaxElements)
	assert.Equal(t, 2*time.Second, cfg.ProgressInterval)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)

	require.NoError(t, cfg.EngineOptions().Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SURREALDB_NAMESPACE", "ns")
	t.Setenv("CLASHCHECK_WORKERS", "3")
	t.Setenv("CLASHCHECK_MAX_CANDIDATE_PAIRS", "1000")
	t.Setenv("CLASHCHECK_MIN_CELL_SIZE", "0.5")
	t.Setenv("CLASHCHECK_PROGRESS_INTERVAL", "250ms")
	t.Setenv("CLASHCHECK_LOG_LEVEL", "debug")

	cfg := Load()
	assert.Equal(t, "ns", cfg.DBConfig().Namespace)
	assert.Equal(t, 250*time.Millisecond, cfg.ProgressInterval)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)

	opts := cfg.EngineOptions()
	assert.Equal(t, 3, opts.Workers)
	assert.Equal(t, 1000, opts.MaxCandidatePairs)
	assert.Equal(t, 0.5, opts.MinCellSize)
	assert.Equal(t, engine.DefaultBatchSize, opts.BatchSize)
}

func TestLoadMalformedFallsBack(t *testing.T) {
	t.Setenv("CLASHCHECK_WORKERS", "many")
	t.Setenv("CLASHCHECK_GROUPING_RADIUS_FACTOR", "wide")
	t.Setenv("CLASHCHECK_SHUTDOWN_TIMEOUT", "soon")

	cfg := Load()
	assert.Equal(t, runtime.NumCPU(), cfg.Workers)
	assert.Equal(t, engine.DefaultGroupingRadiusFactor, cfg.GroupingRadiusFactor)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestZeroCeilingRejectedByEngine(t *testing.T) {
	t.Setenv("CLASHCHECK_MAX_ELEMENTS", "0")

	err := Load().EngineOptions().Validate()
	assert.ErrorIs(t, err, engine.ErrConfiguration)
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"Warning": slog.LevelWarn,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, parseLogLevel(in))
		})
	}
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("job created", "job_id", "j1")

	assert.Contains(t, stderr.String(), "job created")
	assert.Contains(t, stderr.String(), "job_id=j1")
	assert.Contains(t, file.String(), `"msg":"job created"`)
	assert.False(t, strings.Contains(file.String(), "hidden"))
}

func TestSetupLoggerFallsBackWithoutFile(t *testing.T) {
	logger, cleanup := SetupLogger(t.TempDir()+"/missing/dir/clashcheck.log", slog.LevelInfo)
	require.NotNil(t, logger)
	assert.NoError(t, cleanup())
}
