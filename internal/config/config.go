package config

import (
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/clashcheck/internal/db"
	"github.com/raphaelgruber/clashcheck/internal/engine"
	"github.com/raphaelgruber/clashcheck/internal/service"
	"github.com/raphaelgruber/clashcheck/internal/spatial"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Logging
	LogFile  string
	LogLevel slog.Level

	// Server
	ServerPort       int
	ServerURL        string // used by the CLI
	ProgressInterval time.Duration
	ShutdownTimeout  time.Duration

	// Engine
	Workers              int
	MaxElements          int
	MaxCandidatePairs    int
	MaxIndexCells        int
	CellToleranceFactor  float64
	MinCellSize          float64
	GroupingRadiusFactor float64
}

// Load reads configuration from environment variables.
// Malformed numeric values fall back to their defaults.
func Load() Config {
	return Config{
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "clashcheck"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "clashes"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		LogFile:  getEnv("CLASHCHECK_LOG_FILE", "/tmp/clashcheck.log"),
		LogLevel: parseLogLevel(getEnv("CLASHCHECK_LOG_LEVEL", "INFO")),

		ServerPort:       getEnvInt("CLASHCHECK_SERVER_PORT", 8585),
		ServerURL:        getEnv("CLASHCHECK_SERVER_URL", "http://localhost:8585"),
		ProgressInterval: getEnvDuration("CLASHCHECK_PROGRESS_INTERVAL", service.DefaultProgressInterval),
		ShutdownTimeout:  getEnvDuration("CLASHCHECK_SHUTDOWN_TIMEOUT", 30*time.Second),

		Workers:              getEnvInt("CLASHCHECK_WORKERS", runtime.NumCPU()),
		MaxElements:          getEnvInt("CLASHCHECK_MAX_ELEMENTS", engine.DefaultMaxElements),
		MaxCandidatePairs:    getEnvInt("CLASHCHECK_MAX_CANDIDATE_PAIRS", engine.DefaultMaxCandidatePairs),
		MaxIndexCells:        getEnvInt("CLASHCHECK_MAX_INDEX_CELLS", engine.DefaultMaxIndexCells),
		CellToleranceFactor:  getEnvFloat("CLASHCHECK_CELL_TOLERANCE_FACTOR", spatial.DefaultCellToleranceFactor),
		MinCellSize:          getEnvFloat("CLASHCHECK_MIN_CELL_SIZE", spatial.DefaultMinCellSize),
		GroupingRadiusFactor: getEnvFloat("CLASHCHECK_GROUPING_RADIUS_FACTOR", engine.DefaultGroupingRadiusFactor),
	}
}

// DBConfig returns the SurrealDB connection settings.
func (c Config) DBConfig() db.Config {
	return db.Config{
		URL:       c.SurrealDBURL,
		Namespace: c.SurrealDBNamespace,
		Database:  c.SurrealDBDatabase,
		Username:  c.SurrealDBUser,
		Password:  c.SurrealDBPass,
		AuthLevel: c.SurrealDBAuthLevel,
	}
}

// EngineOptions converts the engine settings. The result still needs
// engine.Options.Validate (engine.New does that).
func (c Config) EngineOptions() engine.Options {
	opts := engine.DefaultOptions()
	opts.Workers = c.Workers
	opts.MaxElements = c.MaxElements
	opts.MaxCandidatePairs = c.MaxCandidatePairs
	opts.MaxIndexCells = c.MaxIndexCells
	opts.CellToleranceFactor = c.CellToleranceFactor
	opts.MinCellSize = c.MinCellSize
	opts.GroupingRadiusFactor = c.GroupingRadiusFactor
	return opts
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultVal
	}
	return v
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultVal
	}
	return v
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultVal
	}
	return v
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
