package store

import "fmt"

// Open creates the repository for the named driver. For sqlite, path is the
// database file; for badger, it is the data directory.
func Open(driver, path string) (Repository, error) {
	switch driver {
	case DriverSQLite:
		s, err := NewSQLite(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverBadger:
		s, err := NewBadger(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
