// Package postgres implements goIdentity.AccountRepository on PostgreSQL
// through a pgx connection pool.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

var _ goIdentity.AccountRepository = (*Store)(nil)

const uniqueViolation = "23505"

const accountColumns = `id, email, password_hash, first_name, last_name, phone, role, status,
license_number, specialization, clinic_name, created_at, updated_at, email_verified_at`

// Store is an account repository on a pgx pool. The caller owns the pool.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewStore wraps pool without touching the schema.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Connect opens a pool for dsn and applies the bundled schema.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := NewStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies every bundled migration. The statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	files, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)
	for _, file := range files {
		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if _, err := s.pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks the pool.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) CreateAccount(ctx context.Context, a goIdentity.Account) (goIdentity.Account, error) {
	a.Email = goIdentity.NormalizeEmail(a.Email)
	_, err := s.pool.Exec(ctx, `
    INSERT INTO accounts (`+accountColumns+`, is_verified, is_active)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
  `,
		a.ID, a.Email, a.PasswordHash, a.FirstName, a.LastName, a.Phone,
		string(a.Role), string(a.Status),
		a.Professional.LicenseNumber, a.Professional.Specialization, a.Professional.ClinicName,
		a.CreatedAt.UTC(), a.UpdatedAt.UTC(), a.EmailVerifiedAt,
		a.IsVerified(), a.IsActive(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return goIdentity.Account{}, goIdentity.ErrAccountExists
		}
		return goIdentity.Account{}, fmt.Errorf("insert account: %w", err)
	}
	return a, nil
}

// FindAccountByEmail matches on lower(email), the expression the unique
// index is built on.
func (s *Store) FindAccountByEmail(ctx context.Context, email string) (goIdentity.Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE lower(email) = $1`, goIdentity.NormalizeEmail(email))
	return scanAccount(row)
}

func (s *Store) FindAccountByID(ctx context.Context, id string) (goIdentity.Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// UpdateAccount locks the row with SELECT ... FOR UPDATE, applies update and
// writes it back.
func (s *Store) UpdateAccount(ctx context.Context, id string, update goIdentity.AccountUpdate) (goIdentity.Account, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return goIdentity.Account{}, fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	a, err := scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return goIdentity.Account{}, err
	}
	update.Apply(&a, s.now().UTC())

	_, err = tx.Exec(ctx, `
    UPDATE accounts SET
      password_hash = $1, first_name = $2, last_name = $3, phone = $4, status = $5,
      is_verified = $6, is_active = $7,
      license_number = $8, specialization = $9, clinic_name = $10,
      updated_at = $11, email_verified_at = $12
    WHERE id = $13
  `,
		a.PasswordHash, a.FirstName, a.LastName, a.Phone, string(a.Status),
		a.IsVerified(), a.IsActive(),
		a.Professional.LicenseNumber, a.Professional.Specialization, a.Professional.ClinicName,
		a.UpdatedAt, a.EmailVerifiedAt,
		id,
	)
	if err != nil {
		return goIdentity.Account{}, fmt.Errorf("update account: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return goIdentity.Account{}, fmt.Errorf("commit update: %w", err)
	}
	return a, nil
}

func (s *Store) ListAccounts(ctx context.Context, filter goIdentity.AccountFilter, page goIdentity.Page) ([]goIdentity.Account, error) {
	page = page.Normalize()
	rows, err := s.pool.Query(ctx, `
    SELECT `+accountColumns+`
    FROM accounts
    WHERE ($1 = '' OR role = $1)
      AND ($2 = '' OR status = $2)
      AND ($3 = '' OR strpos(email, $3) > 0)
    ORDER BY created_at, id
    LIMIT $4 OFFSET $5
  `, string(filter.Role), string(filter.Status), strings.ToLower(filter.EmailContains), page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	out := make([]goIdentity.Account, 0, page.Limit)
	for rows.Next() {
		a, err := scanAccount(rows)
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
	rows, err := s.pool.Query(ctx, `SELECT `+column+`, COUNT(*) FROM accounts GROUP BY `+column)
	if err != nil {
		return nil, fmt.Errorf("count accounts by %s: %w", column, err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("count accounts by %s: %w", column, err)
		}
		out[key] = int(n)
	}
	return out, rows.Err()
}

func scanAccount(row pgx.Row) (goIdentity.Account, error) {
	var (
		a            goIdentity.Account
		role, status string
		verifiedAt   *time.Time
	)
	err := row.Scan(
		&a.ID, &a.Email, &a.PasswordHash, &a.FirstName, &a.LastName, &a.Phone,
		&role, &status,
		&a.Professional.LicenseNumber, &a.Professional.Specialization, &a.Professional.ClinicName,
		&a.CreatedAt, &a.UpdatedAt, &verifiedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return goIdentity.Account{}, goIdentity.ErrAccountNotFound
		}
		return goIdentity.Account{}, fmt.Errorf("scan account: %w", err)
	}
	a.Role = goIdentity.Role(role)
	a.Status = goIdentity.AccountStatus(status)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	if verifiedAt != nil {
		t := verifiedAt.UTC()
		a.EmailVerifiedAt = &t
	}
	return a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
