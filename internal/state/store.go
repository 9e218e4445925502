// Package state persists project state using SQLite: node definitions,
// named connections, and execution history.
package state

import (
	"time"

	"github.com/querydeck-io/querydeck/internal/backend"
)

// NodeRecord is a persisted node definition.
type NodeRecord struct {
	ID            int64
	Name          string
	QueryText     string
	ConnectionRef string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Connection is a persisted named connection. Credentials are stored
// verbatim.
type Connection struct {
	Name      string
	Type      string
	Host      string
	Port      int
	Database  string
	Username  string
	Password  string
	Path      string
	BaseURL   string
	Token     string
	CreatedAt time.Time
}

// BackendConfig converts the connection into the backend factory config.
func (c Connection) BackendConfig() backend.Config {
	return backend.Config{
		Type:     c.Type,
		Name:     c.Name,
		Host:     c.Host,
		Port:     c.Port,
		Database: c.Database,
		Username: c.Username,
		Password: c.Password,
		Path:     c.Path,
		BaseURL:  c.BaseURL,
		Token:    c.Token,
	}
}

// Execution is one recorded run or fetch.
type Execution struct {
	ID        string
	NodeID    int64
	Operation string
	Backend   string
	Status    string
	Rows      int64
	ElapsedMs int64
	Error     string
	StartedAt time.Time
}

// Execution status values.
const (
	ExecStatusSuccess = "success"
	ExecStatusFailed  = "failed"
)

// Store is the persistence interface the CLI wires against.
type Store interface {
	// Nodes
	SaveNode(n *NodeRecord) (int64, error)
	GetNode(id int64) (*NodeRecord, error)
	GetNodeByName(name string) (*NodeRecord, error)
	ListNodes() ([]*NodeRecord, error)
	UpdateNodeQuery(id int64, queryText string) error
	DeleteNode(id int64) error

	// Connections
	SaveConnection(c *Connection) error
	GetConnection(name string) (*Connection, error)
	ListConnections() ([]*Connection, error)
	DeleteConnection(name string) error

	// Execution history
	RecordExecution(nodeID int64, operation, backendID, status string, rows int64, elapsed time.Duration, errMsg string)
	ListExecutions(nodeID int64, limit int) ([]*Execution, error)

	Close() error
}
