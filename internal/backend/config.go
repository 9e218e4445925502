package backend

// Config holds the configuration for connecting to a backend.
type Config struct {
	// Type specifies the backend type (e.g. "duckdb", "postgres", "warehouse")
	Type string

	// Name is the user-facing connection name (empty for the local engine)
	Name string

	// Path is the file path for file-based engines. Use ":memory:" for
	// an in-memory database.
	Path string

	// Host is the hostname for network-based engines
	Host string

	// Port is the port number for network-based engines
	Port int

	// Database is the database name
	Database string

	// Username for authentication
	Username string

	// Password for authentication
	Password string

	// BaseURL is the API endpoint for HTTP warehouse engines
	BaseURL string

	// Token is the bearer token for HTTP warehouse engines
	Token string

	// Options contains additional driver-specific options
	Options map[string]string
}
