package factory

import (
	"context"

	"github.com/go-go-golems/parley/pkg/store"
	"github.com/go-go-golems/parley/pkg/store/memory"
	"github.com/go-go-golems/parley/pkg/store/pebble"
	"github.com/go-go-golems/parley/pkg/store/sqlite"
	"github.com/pkg/errors"
)

// Open creates the store selected by settings.Driver (sqlite when empty).
// The caller owns the returned store and must Close it.
func Open(ctx context.Context, settings store.Settings) (store.Store, error) {
	switch settings.Driver {
	case store.DriverSQLite, "":
		return sqlite.Open(ctx, settings.Path)
	case store.DriverPebble:
		return pebble.Open(ctx, settings.Path)
	case store.DriverMemory:
		return memory.New(), nil
	default:
		return nil, errors.Wrapf(store.ErrUnknownDriver, "%q", settings.Driver)
	}
}
