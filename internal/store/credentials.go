package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// CredentialStore is a durable per-app credential vault shared across
// sessions. Opens are short-lived; the upsert is atomic, so the prompt
// builder (reader) and the loop (writer) can each open their own
// connection safely.
type CredentialStore struct {
	db *sql.DB
}

// OpenCredentials creates or opens the credential database.
func OpenCredentials(path string) (*CredentialStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create credentials directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open credentials database: %w", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS app_credentials (
		package TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		password TEXT NOT NULL,
		name TEXT,
		extras_json TEXT,
		signup_completed INTEGER NOT NULL DEFAULT 0,
		login_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure credentials schema: %w", err)
	}
	return &CredentialStore{db: db}, nil
}

// Close closes the database.
func (c *CredentialStore) Close() error { return c.db.Close() }

// Has reports whether credentials exist for the package.
func (c *CredentialStore) Has(pkg string) (bool, error) {
	var one int
	err := c.db.QueryRow(`SELECT 1 FROM app_credentials WHERE package = ?`, pkg).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("credentials lookup: %w", err)
	}
	return true, nil
}

// Get returns the stored credential for the package, or nil.
func (c *CredentialStore) Get(pkg string) (*Credential, error) {
	var cr Credential
	var name, extras sql.NullString
	var signup int
	err := c.db.QueryRow(
		`SELECT package, email, password, name, extras_json, signup_completed, login_count, created_at, updated_at
		 FROM app_credentials WHERE package = ?`, pkg).
		Scan(&cr.Package, &cr.Email, &cr.Password, &name, &extras, &signup, &cr.LoginCount, &cr.CreatedAt, &cr.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credentials: %w", err)
	}
	cr.Name = name.String
	cr.ExtrasJSON = extras.String
	cr.SignupCompleted = signup != 0
	return &cr, nil
}

// Store upserts the credential row for the package. Last write wins.
func (c *CredentialStore) Store(cr Credential) error {
	now := time.Now().UTC()
	signup := 0
	if cr.SignupCompleted {
		signup = 1
	}
	_, err := c.db.Exec(
		`INSERT INTO app_credentials (package, email, password, name, extras_json, signup_completed, login_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
		 ON CONFLICT(package) DO UPDATE SET
		   email = excluded.email, password = excluded.password, name = excluded.name,
		   extras_json = excluded.extras_json, signup_completed = excluded.signup_completed,
		   updated_at = excluded.updated_at`,
		cr.Package, cr.Email, cr.Password, cr.Name, cr.ExtrasJSON, signup, now, now)
	if err != nil {
		return fmt.Errorf("store credentials: %w", err)
	}
	return nil
}

// IncrementLoginCount bumps the login counter.
func (c *CredentialStore) IncrementLoginCount(pkg string) error {
	_, err := c.db.Exec(
		`UPDATE app_credentials SET login_count = login_count + 1, updated_at = ? WHERE package = ?`,
		time.Now().UTC(), pkg)
	if err != nil {
		return fmt.Errorf("increment login count: %w", err)
	}
	return nil
}

// Delete removes the credential row.
func (c *CredentialStore) Delete(pkg string) error {
	_, err := c.db.Exec(`DELETE FROM app_credentials WHERE package = ?`, pkg)
	if err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	return nil
}

// ListAll returns every credential with passwords blanked.
func (c *CredentialStore) ListAll() ([]Credential, error) {
	rows, err := c.db.Query(
		`SELECT package, email, name, extras_json, signup_completed, login_count, created_at, updated_at
		 FROM app_credentials ORDER BY package`)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []Credential
	for rows.Next() {
		var cr Credential
		var name, extras sql.NullString
		var signup int
		if err := rows.Scan(&cr.Package, &cr.Email, &name, &extras, &signup, &cr.LoginCount, &cr.CreatedAt, &cr.UpdatedAt); err != nil {
			return nil, err
		}
		cr.Name = name.String
		cr.ExtrasJSON = extras.String
		cr.SignupCompleted = signup != 0
		out = append(out, cr)
	}
	return out, rows.Err()
}
