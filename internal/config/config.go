package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/wegman-software/osmgeodb/internal/proj"
)

// Config holds the settings of one import run
type Config struct {
	// Input settings
	InputFile          string
	StyleFile          string // YAML tag filter, empty for the built-in style
	TagTransformScript string // Lua script run after the tag filter

	// Database settings
	DBHost       string
	DBPort       int
	DBName       string
	DBUser       string
	DBPassword   string
	DBSchema     string
	PointTable   string
	LineTable    string
	CreateTables bool
	Projection   int // SRID of stored geometry, 4326 or 3857

	// Processing settings
	BatchSize     int // entities per COPY
	ChannelBuffer int // capacity of each inter-stage channel

	// Outputs
	IndexOutput string // parquet export of the position index, empty to skip

	// Logging and metrics
	Verbose         bool
	LogFile         string
	MetricsInterval time.Duration // zero disables system metrics
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		DBHost:          "localhost",
		DBPort:          5432,
		DBName:          "osm",
		DBUser:          "postgres",
		DBSchema:        "public",
		PointTable:      "osm_point",
		LineTable:       "osm_line",
		CreateTables:    true,
		Projection:      proj.SRID4326,
		BatchSize:       10000,
		ChannelBuffer:   64,
		MetricsInterval: 30 * time.Second,
	}
}

// ConnectionString returns a PostgreSQL connection string
func (c *Config) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBName, c.DBUser,
	)
	if c.DBPassword != "" {
		connStr += fmt.Sprintf(" password=%s", c.DBPassword)
	}
	return connStr
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.InputFile == "" {
		return errors.New("input file is required")
	}
	if c.PointTable == "" || c.LineTable == "" {
		return errors.New("point and line table names are required")
	}
	if c.PointTable == c.LineTable {
		return fmt.Errorf("point and line tables must differ, both are %q", c.PointTable)
	}
	if c.BatchSize < 1 {
		return errors.New("batch size must be at least 1")
	}
	if c.ChannelBuffer < 1 {
		return errors.New("channel buffer must be at least 1")
	}
	if c.Projection != proj.SRID4326 && c.Projection != proj.SRID3857 {
		return fmt.Errorf("unsupported projection %d (use 4326 or 3857)", c.Projection)
	}
	return nil
}
