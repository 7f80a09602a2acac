package badgerdb

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// Open opens the embedded store. inMemory ignores path and keeps everything
// in RAM, which is what tests and throwaway dev servers use.
func Open(path string, inMemory bool) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", path, err)
	}
	return db, nil
}
