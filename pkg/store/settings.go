package store

type Driver string

const (
	DriverSQLite Driver = "sqlite"
	DriverPebble Driver = "pebble"
	DriverMemory Driver = "memory"
)

type Settings struct {
	Driver Driver `mapstructure:"store-driver" yaml:"driver"`
	// Path is the sqlite file or the pebble directory.
	Path string `mapstructure:"store-path" yaml:"path"`
}

func DefaultSettings() Settings {
	return Settings{Driver: DriverSQLite, Path: "parley.db"}
}
