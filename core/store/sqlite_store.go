package store

import (
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/wricardo/mcp-training/userdirectory/core/service"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id      INTEGER PRIMARY KEY,
	name    TEXT NOT NULL,
	email   TEXT NOT NULL,
	address TEXT NOT NULL,
	phone   TEXT NOT NULL
);`

// SQLiteStore implements service.UserStore on a SQLite database
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dsn and applies the schema
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// One writer keeps max(id)+1 assignment race free.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply sqlite schema")
	}
	return &SQLiteStore{db: db}, nil
}

// List returns every user ordered by id
func (s *SQLiteStore) List(ctx context.Context) ([]service.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, email, address, phone FROM users ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "query users")
	}
	defer rows.Close()

	users := []service.User{}
	for rows.Next() {
		var u service.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Address, &u.Phone); err != nil {
			return nil, errors.Wrap(err, "scan user")
		}
		users = append(users, u)
	}
	return users, errors.Wrap(rows.Err(), "iterate users")
}

// Append assigns the next id to u and inserts it
func (s *SQLiteStore) Append(ctx context.Context, u service.NewUser) (service.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return service.User{}, errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	var id int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) + 1 FROM users`).Scan(&id); err != nil {
		return service.User{}, errors.Wrap(err, "next user id")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users (id, name, email, address, phone) VALUES (?, ?, ?, ?, ?)`,
		id, u.Name, u.Email, u.Address, u.Phone,
	); err != nil {
		return service.User{}, errors.Wrap(err, "insert user")
	}
	if err := tx.Commit(); err != nil {
		return service.User{}, errors.Wrap(err, "commit")
	}
	return u.WithID(id), nil
}

// Import inserts users verbatim, keeping their ids. Existing ids are skipped.
func (s *SQLiteStore) Import(ctx context.Context, users []service.User) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	n := 0
	for _, u := range users {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO users (id, name, email, address, phone) VALUES (?, ?, ?, ?, ?)`,
			u.ID, u.Name, u.Email, u.Address, u.Phone,
		)
		if err != nil {
			return 0, errors.Wrapf(err, "import user %d", u.ID)
		}
		if affected, _ := res.RowsAffected(); affected > 0 {
			n++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "commit")
	}
	return n, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
