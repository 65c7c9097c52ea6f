// Package config loads the tracker configuration from HANDTRACK_* environment
// variables, optionally seeded from .env files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/ayusman/handtrack/internal/pose"
)

// Config holds the tracker configuration.
type Config struct {
	// Frame source
	CameraDevice  int
	VideoFile     string
	SnapshotFile  string
	CaptureWidth  int
	CaptureHeight int
	FrameRate     float64

	// Pose estimation
	Backend          string
	ModelDir         string
	Multiplier       float64
	EstimatorCommand string
	ScaleFactor      float64
	FlipHorizontal   bool
	OutputStride     int

	// Drive loop extras
	MotionThreshold float64
	TrailLength     int

	// Outputs
	HTTPAddr    string
	StaticDir   string
	DataDir     string
	Record      bool
	PositionLog string
	Tray        bool

	// Logging
	LogLevel string
}

// Load reads .env files that exist (missing files are skipped) and then the
// environment. Variables already set in the environment win over .env values.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	cfg := &Config{
		CameraDevice:     getEnvAsIntOrDefault("HANDTRACK_CAMERA", 0),
		VideoFile:        getEnvOrDefault("HANDTRACK_VIDEO_FILE", ""),
		SnapshotFile:     getEnvOrDefault("HANDTRACK_SNAPSHOT_FILE", ""),
		CaptureWidth:     getEnvAsIntOrDefault("HANDTRACK_WIDTH", 1280),
		CaptureHeight:    getEnvAsIntOrDefault("HANDTRACK_HEIGHT", 720),
		FrameRate:        getEnvAsFloatOrDefault("HANDTRACK_FPS", 60),
		Backend:          getEnvOrDefault("HANDTRACK_BACKEND", pose.BackendDNN),
		ModelDir:         getEnvOrDefault("HANDTRACK_MODEL_DIR", "models"),
		Multiplier:       getEnvAsFloatOrDefault("HANDTRACK_MULTIPLIER", 0.75),
		EstimatorCommand: getEnvOrDefault("HANDTRACK_ESTIMATOR_CMD", ""),
		ScaleFactor:      getEnvAsFloatOrDefault("HANDTRACK_SCALE", 0.6),
		FlipHorizontal:   getEnvAsBoolOrDefault("HANDTRACK_FLIP", false),
		OutputStride:     getEnvAsIntOrDefault("HANDTRACK_STRIDE", 16),
		MotionThreshold:  getEnvAsFloatOrDefault("HANDTRACK_MOTION_THRESHOLD", 0),
		TrailLength:      getEnvAsIntOrDefault("HANDTRACK_TRAIL", 30),
		HTTPAddr:         getEnvOrDefault("HANDTRACK_ADDR", ":8080"),
		StaticDir:        getEnvOrDefault("HANDTRACK_WEB_DIR", ""),
		DataDir:          getEnvOrDefault("HANDTRACK_DATA_DIR", defaultDataDir()),
		Record:           getEnvAsBoolOrDefault("HANDTRACK_RECORD", true),
		PositionLog:      getEnvOrDefault("HANDTRACK_POSITION_LOG", ""),
		Tray:             getEnvAsBoolOrDefault("HANDTRACK_TRAY", false),
		LogLevel:         getEnvOrDefault("HANDTRACK_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.VideoFile != "" && c.SnapshotFile != "" {
		return fmt.Errorf("HANDTRACK_VIDEO_FILE and HANDTRACK_SNAPSHOT_FILE are mutually exclusive")
	}

	if c.VideoFile == "" && c.SnapshotFile == "" && c.CameraDevice < 0 {
		return fmt.Errorf("HANDTRACK_CAMERA must not be negative, got %d", c.CameraDevice)
	}

	if c.CaptureWidth <= 0 || c.CaptureHeight <= 0 {
		return fmt.Errorf("capture size must be positive, got %dx%d", c.CaptureWidth, c.CaptureHeight)
	}

	if c.FrameRate <= 0 || c.FrameRate > 240 {
		return fmt.Errorf("HANDTRACK_FPS must be between 0 and 240, got %g", c.FrameRate)
	}

	if err := c.PoseOptions().Validate(); err != nil {
		return err
	}

	switch c.Backend {
	case pose.BackendDNN:
		if _, err := pose.ModelPath(c.ModelDir, c.Multiplier); err != nil {
			return err
		}
	case pose.BackendProcess:
		if strings.TrimSpace(c.EstimatorCommand) == "" {
			return fmt.Errorf("HANDTRACK_ESTIMATOR_CMD is required for the %s backend", pose.BackendProcess)
		}
	case pose.BackendMock:
	default:
		return fmt.Errorf("unknown HANDTRACK_BACKEND %q", c.Backend)
	}

	if c.MotionThreshold < 0 {
		return fmt.Errorf("HANDTRACK_MOTION_THRESHOLD must not be negative, got %g", c.MotionThreshold)
	}

	if c.TrailLength < 0 {
		return fmt.Errorf("HANDTRACK_TRAIL must not be negative, got %d", c.TrailLength)
	}

	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}

	return nil
}

// PoseOptions returns the per-call inference parameters.
func (c *Config) PoseOptions() pose.Options {
	return pose.Options{
		ScaleFactor:    c.ScaleFactor,
		FlipHorizontal: c.FlipHorizontal,
		OutputStride:   c.OutputStride,
	}
}

// EstimatorConfig returns the model selection for pose.Load.
func (c *Config) EstimatorConfig() pose.Config {
	return pose.Config{
		Backend:    c.Backend,
		ModelDir:   c.ModelDir,
		Multiplier: c.Multiplier,
		Command:    strings.Fields(c.EstimatorCommand),
	}
}

// DatabasePath is the SQLite file inside DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "handtrack.db")
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid HANDTRACK_LOG_LEVEL %q", s)
	}
	return level, nil
}

func defaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".handtrack"
	}
	return filepath.Join(homeDir, ".handtrack")
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsFloatOrDefault gets environment variable as float64 or returns default
func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsBoolOrDefault gets environment variable as bool or returns default
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
