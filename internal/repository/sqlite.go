package repository

import (
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3"

	"github.com/abrezinsky/chanpoll/internal/models"
)

// Repository is the persistent account directory: which nicknames map to
// which accounts, and what permission level each account holds. The
// gateway consults it to stamp sender identity onto incoming occurrences.
type Repository struct {
	db *sql.DB
}

// New opens (or creates) the directory database at dbPath
func New(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// SQLite works best with a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	repo := &Repository{db: db}
	if err := repo.migrate(); err != nil {
		return nil, err
	}
	return repo, nil
}

// NewWithDB wraps an existing database handle, used by tests with sqlmock
func NewWithDB(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Close closes the database connection
func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks if the database connection is alive
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			nickname TEXT UNIQUE NOT NULL,
			account TEXT NOT NULL,
			level INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_account ON accounts(account)`,
	}

	for _, m := range migrations {
		if _, err := r.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// GetAccount returns the account name and permission level for a nickname.
// Returns ErrNotFound for nicknames with no directory entry.
func (r *Repository) GetAccount(ctx context.Context, nickname string) (string, models.Level, error) {
	var account string
	var level int
	err := r.db.QueryRowContext(ctx,
		`SELECT account, level FROM accounts WHERE nickname = ?`, nickname,
	).Scan(&account, &level)
	if err == sql.ErrNoRows {
		return "", models.LevelAnyone, ErrNotFound
	}
	if err != nil {
		return "", models.LevelAnyone, err
	}
	return account, models.Level(level), nil
}

// UpsertAccount records that a nickname belongs to an account, preserving
// an existing permission level on conflict.
func (r *Repository) UpsertAccount(ctx context.Context, nickname, account string, level models.Level) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (nickname, account, level) VALUES (?, ?, ?)
		 ON CONFLICT(nickname) DO UPDATE SET account = excluded.account`,
		nickname, account, int(level))
	return err
}

// SetLevel updates the permission level for every nickname bound to the
// account. Returns ErrNotFound if the account has no entries.
func (r *Repository) SetLevel(ctx context.Context, account string, level models.Level) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET level = ? WHERE account = ?`, int(level), account)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAccount removes a nickname's directory entry.
// Returns ErrNotFound if there was none.
func (r *Repository) DeleteAccount(ctx context.Context, nickname string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM accounts WHERE nickname = ?`, nickname)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
