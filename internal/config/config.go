package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// RegionD holds all configuration for the region daemon.
type RegionD struct {
	LogLevel string `yaml:"log_level"`

	Registry Registry       `yaml:"registry"`
	Database DatabaseConfig `yaml:"database"`
	Feed     Feed           `yaml:"feed"`
	Journal  Journal        `yaml:"journal"`
	Snapshot Snapshot       `yaml:"snapshot"`
}

// Registry tunes the spatial index and tick loop.
type Registry struct {
	CellSize          float64       `yaml:"cell_size"`
	MaxCellsPerRegion int           `yaml:"max_cells_per_region"`
	TickInterval      time.Duration `yaml:"tick_interval"`
	AreaRoot          string        `yaml:"area_root"`
}

// DatabaseConfig selects and configures the region store.
type DatabaseConfig struct {
	// Driver is "postgres", "sqlite" or empty to disable persistence.
	Driver string `yaml:"driver"`

	// PostgreSQL
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`

	// SQLite
	Path string `yaml:"path"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// Feed configures the websocket event feed.
type Feed struct {
	Enabled       bool          `yaml:"enabled"`
	BindAddress   string        `yaml:"bind_address"`
	Port          int           `yaml:"port"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`   // per-write deadline (default: 5s)
	ReadTimeout   time.Duration `yaml:"read_timeout"`    // idle client disconnect (default: 60s)
	SendQueueSize int           `yaml:"send_queue_size"` // per-client outbox capacity (default: 256)
}

// Addr returns the listen address.
func (f Feed) Addr() string {
	return fmt.Sprintf("%s:%d", f.BindAddress, f.Port)
}

// Journal configures the compressed event journal. Empty Dir disables it.
type Journal struct {
	Dir    string `yaml:"dir"`
	Prefix string `yaml:"prefix"`
}

// Snapshot configures the region snapshot written on shutdown and read on start.
type Snapshot struct {
	Path string `yaml:"path"`
}

// DefaultRegionD returns RegionD config with sensible defaults.
func DefaultRegionD() RegionD {
	return RegionD{
		LogLevel: "info",
		Registry: Registry{
			CellSize:          64,
			MaxCellsPerRegion: 4096,
			TickInterval:      100 * time.Millisecond,
			AreaRoot:          "Regions.Areas",
		},
		Database: DatabaseConfig{
			Driver:   DriverSQLite,
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "regiond",
			Password: "regiond",
			DBName:   "regiond",
			SSLMode:  "disable",
			Path:     "data/regions.db",
		},
		Feed: Feed{
			Enabled:       true,
			BindAddress:   "0.0.0.0",
			Port:          7780,
			WriteTimeout:  5 * time.Second,
			ReadTimeout:   60 * time.Second,
			SendQueueSize: 256,
		},
		Journal: Journal{
			Dir:    "data/journal",
			Prefix: "events",
		},
		Snapshot: Snapshot{
			Path: "data/regions.snap.zst",
		},
	}
}

// LoadRegionD loads config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadRegionD(path string) (RegionD, error) {
	cfg := DefaultRegionD()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside the daemon.
func (c RegionD) Validate() error {
	if c.Registry.CellSize <= 0 {
		return fmt.Errorf("registry.cell_size must be positive, got %v", c.Registry.CellSize)
	}
	if c.Registry.MaxCellsPerRegion <= 0 {
		return fmt.Errorf("registry.max_cells_per_region must be positive, got %d", c.Registry.MaxCellsPerRegion)
	}
	if c.Registry.TickInterval <= 0 {
		return fmt.Errorf("registry.tick_interval must be positive, got %s", c.Registry.TickInterval)
	}
	switch c.Database.Driver {
	case "", DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("database.driver %q: want %q, %q or empty", c.Database.Driver, DriverPostgres, DriverSQLite)
	}
	if c.Feed.Enabled && (c.Feed.Port <= 0 || c.Feed.Port > 65535) {
		return fmt.Errorf("feed.port %d out of range", c.Feed.Port)
	}
	return nil
}
