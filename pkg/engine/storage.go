package engine

import (
	"fmt"

	zsql "github.com/pbinitiative/zenpvm/internal/sql"
	"github.com/pbinitiative/zenpvm/pkg/persistence"
	"github.com/pbinitiative/zenpvm/pkg/storage"
	"github.com/pbinitiative/zenpvm/pkg/storage/inmemory"
	"github.com/pbinitiative/zenpvm/pkg/storage/sqlite"
)

const (
	DriverMemory = "memory"
	DriverSqlite = "sqlite"
)

// OpenStorage opens a storage serving the engine statements. The sqlite driver
// takes a database file path as dsn and migrates the schema.
func OpenStorage(driver string, dsn string) (storage.Storage, error) {
	registry, err := persistence.Registry()
	if err != nil {
		return nil, err
	}
	switch driver {
	case DriverMemory, "":
		return inmemory.NewStorage(registry), nil
	case DriverSqlite:
		migrations, err := zsql.GetMigrations()
		if err != nil {
			return nil, err
		}
		store, err := sqlite.Open(dsn, registry, migrations)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite storage %s: %w", dsn, err)
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown persistence driver %q", driver)
}
