// Package sqlite implements goIdentity.AccountRepository on SQLite through
// the pure-Go modernc.org/sqlite driver. Email uniqueness is a UNIQUE index,
// so concurrent registrations of one email yield exactly one row.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/store/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

var _ goIdentity.AccountRepository = (*Store)(nil)

const accountColumns = `id, email, password_hash, first_name, last_name, phone, role, status,
license_number, specialization, clinic_name, created_at, updated_at, email_verified_at`

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision in UTC.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store is an account repository over one SQLite file.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// Open opens the SQLite file at path in WAL mode and applies the bundled
// migrations. Transactions begin IMMEDIATE so read-modify-write updates take
// the write lock up front.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

func (s *Store) CreateAccount(ctx context.Context, a goIdentity.Account) (goIdentity.Account, error) {
	a.Email = goIdentity.NormalizeEmail(a.Email)
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO accounts (`+accountColumns+`, is_verified, is_active)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Email, a.PasswordHash, a.FirstName, a.LastName, a.Phone,
		string(a.Role), string(a.Status),
		a.Professional.LicenseNumber, a.Professional.Specialization, a.Professional.ClinicName,
		toMillis(a.CreatedAt), toMillis(a.UpdatedAt), nullableMillis(a.EmailVerifiedAt),
		a.IsVerified(), a.IsActive(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return goIdentity.Account{}, goIdentity.ErrAccountExists
		}
		return goIdentity.Account{}, fmt.Errorf("insert account: %w", err)
	}
	return roundTrip(a), nil
}

// FindAccountByEmail matches case-insensitively; the email column is
// declared COLLATE NOCASE.
func (s *Store) FindAccountByEmail(ctx context.Context, email string) (goIdentity.Account, error) {
	row := s.sqlDB.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts WHERE email = ?", goIdentity.NormalizeEmail(email))
	return scanAccount(row.Scan)
}

func (s *Store) FindAccountByID(ctx context.Context, id string) (goIdentity.Account, error) {
	row := s.sqlDB.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = ?", id)
	return scanAccount(row.Scan)
}

// UpdateAccount reads, applies and writes back inside one IMMEDIATE
// transaction.
func (s *Store) UpdateAccount(ctx context.Context, id string, update goIdentity.AccountUpdate) (goIdentity.Account, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return goIdentity.Account{}, fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = ?", id)
	a, err := scanAccount(row.Scan)
	if err != nil {
		return goIdentity.Account{}, err
	}
	update.Apply(&a, s.now().UTC())

	_, err = tx.ExecContext(ctx, `
UPDATE accounts SET
    password_hash = ?, first_name = ?, last_name = ?, phone = ?, status = ?,
    is_verified = ?, is_active = ?,
    license_number = ?, specialization = ?, clinic_name = ?,
    updated_at = ?, email_verified_at = ?
WHERE id = ?`,
		a.PasswordHash, a.FirstName, a.LastName, a.Phone, string(a.Status),
		a.IsVerified(), a.IsActive(),
		a.Professional.LicenseNumber, a.Professional.Specialization, a.Professional.ClinicName,
		toMillis(a.UpdatedAt), nullableMillis(a.EmailVerifiedAt),
		id,
	)
	if err != nil {
		return goIdentity.Account{}, fmt.Errorf("update account: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return goIdentity.Account{}, fmt.Errorf("commit update: %w", err)
	}
	return roundTrip(a), nil
}

func (s *Store) ListAccounts(ctx context.Context, filter goIdentity.AccountFilter, page goIdentity.Page) ([]goIdentity.Account, error) {
	page = page.Normalize()
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+accountColumns+`
FROM accounts
WHERE (?1 = '' OR role = ?1)
  AND (?2 = '' OR status = ?2)
  AND (?3 = '' OR instr(email, ?3) > 0)
ORDER BY created_at, id
LIMIT ?4 OFFSET ?5`,
		string(filter.Role), string(filter.Status), strings.ToLower(filter.EmailContains),
		page.Limit, page.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	out := make([]goIdentity.Account, 0, page.Limit)
	for rows.Next() {
		a, err := scanAccount(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return out, nil
}

func (s *Store) CountAccountsByStatus(ctx context.Context) (map[goIdentity.AccountStatus]int, error) {
	counts, err := s.countBy(ctx, "status")
	if err != nil {
		return nil, err
	}
	out := make(map[goIdentity.AccountStatus]int, len(counts))
	for k, v := range counts {
		out[goIdentity.AccountStatus(k)] = v
	}
	return out, nil
}

func (s *Store) CountAccountsByRole(ctx context.Context) (map[goIdentity.Role]int, error) {
	counts, err := s.countBy(ctx, "role")
	if err != nil {
		return nil, err
	}
	out := make(map[goIdentity.Role]int, len(counts))
	for k, v := range counts {
		out[goIdentity.Role(k)] = v
	}
	return out, nil
}

// countBy groups on a fixed column name; column is never user input.
func (s *Store) countBy(ctx context.Context, column string) (map[string]int, error) {
	rows, err := s.sqlDB.QueryContext(ctx, "SELECT "+column+", COUNT(*) FROM accounts GROUP BY "+column)
	if err != nil {
		return nil, fmt.Errorf("count accounts by %s: %w", column, err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("count accounts by %s: %w", column, err)
		}
		out[key] = n
	}
	return out, rows.Err()
}

func scanAccount(scan func(dest ...any) error) (goIdentity.Account, error) {
	var (
		a                    goIdentity.Account
		role, status         string
		createdAt, updatedAt int64
		verifiedAt           sql.NullInt64
	)
	err := scan(
		&a.ID, &a.Email, &a.PasswordHash, &a.FirstName, &a.LastName, &a.Phone,
		&role, &status,
		&a.Professional.LicenseNumber, &a.Professional.Specialization, &a.Professional.ClinicName,
		&createdAt, &updatedAt, &verifiedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return goIdentity.Account{}, goIdentity.ErrAccountNotFound
		}
		return goIdentity.Account{}, fmt.Errorf("scan account: %w", err)
	}
	a.Role = goIdentity.Role(role)
	a.Status = goIdentity.AccountStatus(status)
	a.CreatedAt = fromMillis(createdAt)
	a.UpdatedAt = fromMillis(updatedAt)
	if verifiedAt.Valid {
		t := fromMillis(verifiedAt.Int64)
		a.EmailVerifiedAt = &t
	}
	return a, nil
}

// roundTrip truncates timestamps the way storage does, so returned values
// equal what a later read yields.
func roundTrip(a goIdentity.Account) goIdentity.Account {
	a.CreatedAt = fromMillis(toMillis(a.CreatedAt))
	a.UpdatedAt = fromMillis(toMillis(a.UpdatedAt))
	if a.EmailVerifiedAt != nil {
		t := fromMillis(toMillis(*a.EmailVerifiedAt))
		a.EmailVerifiedAt = &t
	}
	return a
}

func nullableMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE, sqlite3lib.SQLITE_CONSTRAINT:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
