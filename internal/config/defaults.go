package config

// Default configuration values.
const (
	// DefaultDatabaseFile is the default local analytic database file.
	DefaultDatabaseFile = "querydeck.duckdb"

	// DefaultStateFile is the default SQLite state database file.
	DefaultStateFile = "querydeck.db"

	// DefaultBatchSize is the default page size for paginated fetches.
	DefaultBatchSize = 1000

	// DefaultOutput is the default result rendering format.
	DefaultOutput = "table"
)
