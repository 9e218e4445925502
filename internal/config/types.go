// Package config loads project configuration from querydeck.yaml,
// environment variables, and CLI flags.
package config

import (
	"fmt"
	"strings"

	"github.com/querydeck-io/querydeck/internal/backend"
)

// ConnectionConfig holds one named remote connection.
type ConnectionConfig struct {
	Type string `koanf:"type"` // postgres, warehouse

	// Network databases
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Database string `koanf:"database"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`

	// REST warehouses
	BaseURL string `koanf:"base_url"`
	Token   string `koanf:"token"`

	// Additional driver-specific options
	Options map[string]string `koanf:"options"`
}

// ToBackendConfig converts the connection into the backend factory config.
func (c ConnectionConfig) ToBackendConfig(name string) backend.Config {
	return backend.Config{
		Type:     c.Type,
		Name:     name,
		Host:     c.Host,
		Port:     c.Port,
		Database: c.Database,
		Username: c.User,
		Password: c.Password,
		BaseURL:  c.BaseURL,
		Token:    c.Token,
		Options:  c.Options,
	}
}

// Validate checks that the connection references a registered backend type.
func (c ConnectionConfig) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("connection type is required")
	}
	if !backend.IsRegistered(strings.ToLower(c.Type)) {
		return &backend.UnknownBackendError{
			Type:      c.Type,
			Available: backend.List(),
		}
	}
	return nil
}

// Config holds the full project configuration.
type Config struct {
	// ProjectRoot is the directory containing the config file (or the
	// working directory when none was found). Not loaded from the file.
	ProjectRoot string `koanf:"-"`

	// DatabasePath is the local analytic database file. ":memory:" for
	// a throwaway session.
	DatabasePath string `koanf:"database_path"`

	// StatePath is the SQLite state database file.
	StatePath string `koanf:"state_path"`

	// BatchSize bounds page size for paginated remote fetches.
	BatchSize int `koanf:"batch_size"`

	// Paginate enables first-page-only remote execution.
	Paginate bool `koanf:"paginate"`

	Verbose bool   `koanf:"verbose"`
	Output  string `koanf:"output"` // table, json, csv

	// Connections maps connection names to their configuration.
	Connections map[string]ConnectionConfig `koanf:"connections"`
}
