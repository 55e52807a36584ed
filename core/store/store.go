package store

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/wricardo/mcp-training/userdirectory/core/service"
)

const (
	DriverJSON   = "json"
	DriverSQLite = "sqlite"
)

var ErrUnknownDriver = errors.New("unknown store driver")

// Options selects and configures a store implementation.
type Options struct {
	Driver string
	Path   string
	// Seed is a users JSON file imported into an empty SQLite store.
	Seed string
}

// Store is a service.UserStore that owns resources which must be released.
type Store interface {
	service.UserStore
	io.Closer
}

// Open returns the store selected by opts.Driver
func Open(opts Options) (Store, error) {
	switch opts.Driver {
	case DriverJSON, "":
		return NewJSONFileStore(opts.Path)
	case DriverSQLite:
		st, err := NewSQLiteStore(opts.Path)
		if err != nil {
			return nil, err
		}
		if opts.Seed != "" {
			if err := seedSQLite(context.Background(), st, opts.Seed); err != nil {
				_ = st.Close()
				return nil, err
			}
		}
		return st, nil
	default:
		return nil, errors.Wrapf(ErrUnknownDriver, "%q", opts.Driver)
	}
}

func nextID(users []service.User) int {
	max := 0
	for _, u := range users {
		if u.ID > max {
			max = u.ID
		}
	}
	return max + 1
}

func seedSQLite(ctx context.Context, st *SQLiteStore, seed string) error {
	existing, err := st.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	data, err := os.ReadFile(seed)
	if err != nil {
		return errors.Wrap(err, "read seed file")
	}
	var users []service.User
	if err := json.Unmarshal(data, &users); err != nil {
		return errors.Wrap(err, "parse seed file")
	}
	_, err = st.Import(ctx, users)
	return err
}
